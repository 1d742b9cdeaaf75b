// Package main is the entry point for the sheetpilot CLI.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/alecthomas/kong"
	"github.com/joho/godotenv"
	"github.com/vinayprograms/agentkit/telemetry"

	"github.com/sheetpilot/sheetpilot/internal/replay"
	"github.com/sheetpilot/sheetpilot/internal/table"
)

// Build-time variables (set via ldflags)
var (
	version   = "dev"
	commit    = "unknown"
	buildTime = "unknown"
)

func init() {
	// Load .env for API keys and endpoints.
	_ = godotenv.Load()
}

func main() {
	var cli CLI
	ctx := kong.Parse(&cli,
		kong.Name("sheetpilot"),
		kong.Description("Natural-language CSV editing with clarification and verification."),
	)
	if err := ctx.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// setupTelemetry creates the exporter named in config, defaulting to noop.
func setupTelemetry(configPath string) (telemetry.Exporter, error) {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return nil, err
	}
	if cfg.Telemetry.Enabled {
		return telemetry.NewExporter(cfg.Telemetry.Protocol, cfg.Telemetry.Endpoint)
	}
	return telemetry.NewNoopExporter(), nil
}

// Run executes a fresh editing thread.
func (c *RunCmd) Run() error {
	telem, err := setupTelemetry(c.Config)
	if err != nil {
		return err
	}
	defer telem.Close()

	watchPath := ""
	if c.Watch {
		watchPath = c.File
	}
	rt, err := newRuntime(c.Config, watchPath, c.Schema)
	if err != nil {
		return err
	}
	defer rt.close()

	if _, err := rt.tables.Read(c.File); err != nil {
		return fmt.Errorf("cannot open dataset: %w", err)
	}

	resp := rt.wf.Run(context.Background(), c.File, c.Request)
	rt.reportExternalChange()
	printResponse(resp)
	return nil
}

// Run resumes a suspended thread.
func (c *ResumeCmd) Run() error {
	telem, err := setupTelemetry(c.Config)
	if err != nil {
		return err
	}
	defer telem.Close()

	rt, err := newRuntime(c.Config, "", "")
	if err != nil {
		return err
	}
	defer rt.close()

	resp, err := rt.wf.Resume(context.Background(), c.Thread, c.Answer)
	if err != nil {
		return err
	}
	printResponse(resp)
	return nil
}

// Run lists stored threads, newest first.
func (c *ThreadsCmd) Run() error {
	rt, err := newRuntime(c.Config, "", "")
	if err != nil {
		return err
	}
	defer rt.close()

	threads, err := rt.threads.List()
	if err != nil {
		return err
	}
	if len(threads) == 0 {
		fmt.Println("no threads")
		return nil
	}
	for _, t := range threads {
		fmt.Printf("%s  %-11s %-9s %s\n", t.ThreadID, t.Status, formatAge(t.UpdatedAt), t.OriginalRequest)
	}
	return nil
}

// Run renders a stored thread transcript.
func (c *ReplayCmd) Run() error {
	rt, err := newRuntime(c.Config, "", "")
	if err != nil {
		return err
	}
	defer rt.close()

	state, err := rt.threads.Load(c.Thread)
	if err != nil {
		return err
	}
	replay.New(os.Stdout, c.Width).Render(state)
	return nil
}

// Run prints the live schema of a CSV file.
func (c *SchemaCmd) Run() error {
	store := table.NewFileStore()
	tbl, err := store.Read(c.File)
	if err != nil {
		return err
	}
	fmt.Println(tbl.Describe(5))

	if c.Target != "" {
		target, err := table.LoadTargetSchema(c.Target)
		if err != nil {
			return err
		}
		fmt.Println("\nTarget schema:")
		fmt.Println(target.Describe())
		for _, col := range target.Columns {
			if col.Required && !tbl.HasColumn(col.Name) {
				fmt.Printf("missing required column: %s\n", col.Name)
			}
		}
	}
	return nil
}

// Run prints version information.
func (c *VersionCmd) Run() error {
	fmt.Printf("sheetpilot version %s (commit: %s, built: %s)\n", version, commit, buildTime)
	return nil
}
