package main

import (
	"testing"
	"time"

	"github.com/alecthomas/kong"
)

func newParser(t *testing.T, cli *CLI) *kong.Kong {
	t.Helper()
	parser, err := kong.New(cli)
	if err != nil {
		t.Fatal(err)
	}
	return parser
}

func TestRunCmd_Basic(t *testing.T) {
	var cli CLI
	parser := newParser(t, &cli)

	_, err := parser.Parse([]string{"run", "data.csv", "fill the Last Name column"})
	if err != nil {
		t.Fatal(err)
	}

	if cli.Run.File != "data.csv" {
		t.Errorf("expected file=data.csv, got %s", cli.Run.File)
	}
	if cli.Run.Request != "fill the Last Name column" {
		t.Errorf("unexpected request: %s", cli.Run.Request)
	}
	if cli.Run.Watch {
		t.Error("expected watch=false by default")
	}
}

func TestRunCmd_WatchAndConfig(t *testing.T) {
	var cli CLI
	parser := newParser(t, &cli)

	_, err := parser.Parse([]string{"run", "--watch", "--config", "custom.toml", "data.csv", "add 5 to Work Hours"})
	if err != nil {
		t.Fatal(err)
	}

	if !cli.Run.Watch {
		t.Error("expected watch=true")
	}
	if cli.Run.Config != "custom.toml" {
		t.Errorf("expected config=custom.toml, got %s", cli.Run.Config)
	}
}

func TestRunCmd_SchemaFlag(t *testing.T) {
	var cli CLI
	parser := newParser(t, &cli)

	_, err := parser.Parse([]string{"run", "--schema", "schema.yaml", "data.csv", "fill the Region column"})
	if err != nil {
		t.Fatal(err)
	}

	if cli.Run.Schema != "schema.yaml" {
		t.Errorf("expected schema=schema.yaml, got %s", cli.Run.Schema)
	}
}

func TestRunCmd_RequiresRequest(t *testing.T) {
	var cli CLI
	parser := newParser(t, &cli)

	if _, err := parser.Parse([]string{"run", "data.csv"}); err == nil {
		t.Error("expected error for missing request argument")
	}
}

func TestResumeCmd_Basic(t *testing.T) {
	var cli CLI
	parser := newParser(t, &cli)

	_, err := parser.Parse([]string{"resume", "abc-123", "use the Work Hours column"})
	if err != nil {
		t.Fatal(err)
	}

	if cli.Resume.Thread != "abc-123" {
		t.Errorf("expected thread=abc-123, got %s", cli.Resume.Thread)
	}
	if cli.Resume.Answer != "use the Work Hours column" {
		t.Errorf("unexpected answer: %s", cli.Resume.Answer)
	}
}

func TestReplayCmd_DefaultWidth(t *testing.T) {
	var cli CLI
	parser := newParser(t, &cli)

	_, err := parser.Parse([]string{"replay", "abc-123"})
	if err != nil {
		t.Fatal(err)
	}

	if cli.Replay.Width != 100 {
		t.Errorf("expected width=100, got %d", cli.Replay.Width)
	}
}

func TestReplayCmd_CustomWidth(t *testing.T) {
	var cli CLI
	parser := newParser(t, &cli)

	_, err := parser.Parse([]string{"replay", "--width", "60", "abc-123"})
	if err != nil {
		t.Fatal(err)
	}

	if cli.Replay.Width != 60 {
		t.Errorf("expected width=60, got %d", cli.Replay.Width)
	}
}

func TestSchemaCmd_WithTarget(t *testing.T) {
	var cli CLI
	parser := newParser(t, &cli)

	_, err := parser.Parse([]string{"schema", "data.csv", "--target", "schema.yaml"})
	if err != nil {
		t.Fatal(err)
	}

	if cli.Schema.File != "data.csv" {
		t.Errorf("expected file=data.csv, got %s", cli.Schema.File)
	}
	if cli.Schema.Target != "schema.yaml" {
		t.Errorf("expected target=schema.yaml, got %s", cli.Schema.Target)
	}
}

func TestFormatAge(t *testing.T) {
	cases := []struct {
		age  time.Duration
		want string
	}{
		{30 * time.Second, "just now"},
		{5 * time.Minute, "5m ago"},
		{3 * time.Hour, "3h ago"},
		{50 * time.Hour, "2d ago"},
	}
	for _, c := range cases {
		got := formatAge(time.Now().Add(-c.age))
		if got != c.want {
			t.Errorf("formatAge(%v) = %q, want %q", c.age, got, c.want)
		}
	}
}
