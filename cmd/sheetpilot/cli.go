// Package main defines the CLI structure using kong.
package main

// CLI defines the command-line interface.
type CLI struct {
	Run     RunCmd     `cmd:"" help:"Run an edit request against a CSV file"`
	Resume  ResumeCmd  `cmd:"" help:"Resume a suspended thread with an answer"`
	Threads ThreadsCmd `cmd:"" help:"List stored threads"`
	Replay  ReplayCmd  `cmd:"" help:"Render a thread transcript"`
	Schema  SchemaCmd  `cmd:"" help:"Describe a CSV file, optionally against a target schema"`
	Version VersionCmd `cmd:"" help:"Show version information"`
}

// RunCmd starts a fresh editing thread.
type RunCmd struct {
	File    string `arg:"" help:"CSV file to edit"`
	Request string `arg:"" help:"Natural-language edit request"`
	Config  string `help:"Config file path"`
	Schema  string `help:"Target schema YAML folded into agent prompts"`
	Watch   bool   `help:"Warn when the file changes outside the workflow"`
}

// ResumeCmd answers a suspended thread's question.
type ResumeCmd struct {
	Thread string `arg:"" help:"Thread ID from the suspended run"`
	Answer string `arg:"" help:"Answer to the pending question"`
	Config string `help:"Config file path"`
}

// ThreadsCmd lists stored threads.
type ThreadsCmd struct {
	Config string `help:"Config file path"`
}

// ReplayCmd renders a stored thread transcript.
type ReplayCmd struct {
	Thread string `arg:"" help:"Thread ID to replay"`
	Width  int    `default:"100" help:"Wrap width in columns"`
	Config string `help:"Config file path"`
}

// SchemaCmd prints the live schema of a CSV file.
type SchemaCmd struct {
	File   string `arg:"" help:"CSV file to describe"`
	Target string `help:"Target schema YAML to compare against"`
}

// VersionCmd shows version information.
type VersionCmd struct{}
