// Runtime wiring: config, providers, stores, and the workflow itself.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/vinayprograms/agentkit/llm"

	"github.com/sheetpilot/sheetpilot/internal/config"
	"github.com/sheetpilot/sheetpilot/internal/sandbox"
	"github.com/sheetpilot/sheetpilot/internal/session"
	"github.com/sheetpilot/sheetpilot/internal/table"
	"github.com/sheetpilot/sheetpilot/internal/workflow"
)

// runtime holds everything a command needs once setup is done.
type runtime struct {
	cfg      *config.Config
	tables   *table.FileStore
	threads  *session.FileStore
	executor *sandbox.Executor
	watcher  *table.Watcher
	wf       *workflow.Workflow
}

// newRuntime loads configuration and wires the workflow dependencies.
// watchPath is non-empty when external-change detection was requested;
// schemaPath is non-empty when a target schema should inform the agents.
func newRuntime(configPath, watchPath, schemaPath string) (*runtime, error) {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return nil, err
	}

	var schema *table.TargetSchema
	if schemaPath != "" {
		schema, err = table.LoadTargetSchema(schemaPath)
		if err != nil {
			return nil, err
		}
	}

	provider, err := buildProvider(cfg.LLM, cfg.GetAPIKey())
	if err != nil {
		return nil, fmt.Errorf("creating LLM provider: %w", err)
	}

	// The small model falls back to the main one so routing and summaries
	// always have a provider.
	small := provider
	if cfg.SmallLLM.Model != "" {
		if p, err := buildProvider(cfg.SmallLLM, cfg.GetSmallAPIKey()); err == nil {
			small = p
		}
	}

	tables := table.NewFileStore()
	executor := sandbox.NewExecutor(tables)

	threads, err := session.NewFileStore(cfg.StoragePath())
	if err != nil {
		return nil, err
	}

	rt := &runtime{
		cfg:      cfg,
		tables:   tables,
		threads:  threads,
		executor: executor,
	}

	if watchPath != "" {
		watcher, err := table.NewWatcher(watchPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "warning: file watching unavailable: %v\n", err)
		} else {
			rt.watcher = watcher
			executor.SetWatcher(watcher)
		}
	}

	rt.wf = workflow.New(workflow.Deps{
		Provider: provider,
		Small:    small,
		Executor: executor,
		Tables:   tables,
		Threads:  threads,
		Limits:   cfg.Limits,
		Schema:   schema,
	})
	return rt, nil
}

func (rt *runtime) close() {
	if rt.watcher != nil {
		rt.watcher.Close()
	}
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFile(path)
	}
	return config.LoadDefault()
}

func buildProvider(lc config.LLMConfig, apiKey string) (llm.Provider, error) {
	providerName := lc.Provider
	if providerName == "" {
		providerName = llm.InferProviderFromModel(lc.Model)
	}
	if providerName == "" && lc.Model == "" {
		return nil, fmt.Errorf("LLM model not configured")
	}

	return llm.NewProvider(llm.ProviderConfig{
		Provider:  providerName,
		Model:     lc.Model,
		APIKey:    apiKey,
		MaxTokens: lc.MaxTokens,
		BaseURL:   lc.BaseURL,
	})
}

// reportExternalChange warns when the CSV changed outside the workflow while
// a run was in flight.
func (rt *runtime) reportExternalChange() {
	if rt.watcher != nil && rt.watcher.ExternalChange() {
		fmt.Fprintln(os.Stderr, "warning: the file was modified outside this session during the run")
	}
}

// printResponse renders a workflow response for the terminal.
func printResponse(resp *workflow.Response) {
	if resp.Error != "" {
		fmt.Fprintf(os.Stderr, "error: %s\n", resp.Error)
	}
	if resp.NeedsInput {
		fmt.Printf("Question: %s\n", resp.InterruptMessage)
		fmt.Printf("\nAnswer with:\n  sheetpilot resume %s \"<answer>\"\n", resp.ThreadID)
		return
	}
	if resp.Summary != "" {
		fmt.Println(resp.Summary)
	}
	fmt.Printf("\nthread: %s\n", resp.ThreadID)
}

func formatAge(t time.Time) string {
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	}
}
