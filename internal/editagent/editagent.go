// Package editagent runs the editing loop: it turns a clarified request into
// transform code, applies it through the sandbox's mutate tool, and confirms
// the result with the read-only check tool. The loop is bounded two ways: a
// tool-result ceiling and detection of repeated identical calls. Questions
// for the user are the clarifier's job; this agent only edits.
package editagent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/vinayprograms/agentkit/llm"
	"github.com/vinayprograms/agentkit/logging"

	"github.com/sheetpilot/sheetpilot/internal/sandbox"
	"github.com/sheetpilot/sheetpilot/internal/session"
)

// Tool names the agent can call.
const (
	ToolMutate = "mutate"
	ToolCheck  = "check"
)

// Mutation records one applied mutate call for the final summary.
type Mutation struct {
	Code   string
	Result string
}

// Result is the outcome of one editing pass.
type Result struct {
	Summary      string
	Mutations    []Mutation
	Succeeded    bool
	LoopDetected bool
	HitCeiling   bool
}

// Agent drives the editing loop.
type Agent struct {
	provider       llm.Provider
	executor       *sandbox.Executor
	logger         *logging.Logger
	maxToolResults int
}

// New creates an edit agent. maxToolResults bounds tool executions per pass.
func New(provider llm.Provider, executor *sandbox.Executor, maxToolResults int) *Agent {
	return &Agent{
		provider:       provider,
		executor:       executor,
		logger:         logging.New().WithComponent("editagent"),
		maxToolResults: maxToolResults,
	}
}

const systemPrompt = `You edit a CSV dataset by writing Starlark transform code.

Tools:
- mutate(code): code must define mutate(table) which edits and returns the
  table. table is a dict: {"columns": list of strings, "rows": list of rows,
  each a list of strings}. The returned table replaces the file.
- check(code): code must define check(table); runs read-only against the
  saved file and returns the result. Use it to confirm your edit landed.

Structural rules:
- To fill a column with N values when the table has fewer than N rows, first
  append rows until there are N, then fill. Never drop values to fit.
- Appended rows leave every other column as the empty string "".
- Column names are case-sensitive in code; use them exactly as listed.
- All cells are strings. Convert when comparing numbers or dates.

Work in small steps: one mutate, then one check that verifies the specific
change. When the check confirms the edit, reply with a short summary of what
changed and stop calling tools.`

func toolDefs() []llm.ToolDef {
	codeParam := func(desc string) map[string]interface{} {
		return map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"code": map[string]interface{}{"type": "string", "description": desc},
			},
			"required": []string{"code"},
		}
	}
	return []llm.ToolDef{
		{
			Name:        ToolMutate,
			Description: "Apply transform code to the dataset and save the result.",
			Parameters:  codeParam("Starlark source defining mutate(table)."),
		},
		{
			Name:        ToolCheck,
			Description: "Run read-only code against the saved dataset.",
			Parameters:  codeParam("Starlark source defining check(table)."),
		},
	}
}

// Run executes one editing pass for the thread's effective request. The
// dataset description and any verifier feedback are folded into the prompt.
func (a *Agent) Run(ctx context.Context, state *session.State, dataset string) (*Result, error) {
	a.logger.ExecutionStart("edit pass")
	start := time.Now()

	messages := []llm.Message{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: a.buildPrompt(state, dataset)},
	}

	result := &Result{}
	toolResults := 0
	lastSig := ""
	mutated := false

	for {
		resp, err := a.provider.Chat(ctx, llm.ChatRequest{
			Messages: messages,
			Tools:    toolDefs(),
		})
		if err != nil {
			return nil, fmt.Errorf("edit agent LLM call: %w", err)
		}

		if len(resp.ToolCalls) == 0 {
			// Final answer. The pass counts as successful only when a
			// mutation was applied and confirmed.
			result.Summary = resp.Content
			result.Succeeded = mutated
			state.Append(session.SenderEdit, resp.Content)
			a.logger.ExecutionComplete("edit pass", time.Since(start), "done")
			return result, nil
		}

		call := resp.ToolCalls[0]
		messages = append(messages, llm.Message{
			Role:      "assistant",
			Content:   resp.Content,
			ToolCalls: []llm.ToolCallResponse{call},
		})

		// Two identical consecutive argument strings mean the model is stuck.
		sig := callSignature(call)
		if sig == lastSig {
			result.LoopDetected = true
			result.Summary = "Editing stopped: the same operation was attempted twice in a row without progress."
			state.Append(session.SenderEdit, result.Summary)
			a.logger.Warn("repeated identical tool call, stopping pass", nil)
			return result, nil
		}
		lastSig = sig

		output := a.execute(ctx, state, call)
		toolResults++
		messages = append(messages, llm.Message{
			Role:       "tool",
			Content:    output,
			ToolCallID: call.ID,
		})
		state.Append(session.SenderTool, output)

		if call.Name == ToolMutate && strings.HasPrefix(output, "OK:") {
			mutated = true
			code, _ := call.Args["code"].(string)
			result.Mutations = append(result.Mutations, Mutation{Code: code, Result: output})
		}

		// A clean check after an applied mutation completes the pass without
		// another model turn.
		if call.Name == ToolCheck && mutated && !strings.HasPrefix(output, "Error:") {
			result.Succeeded = true
			result.Summary = "Edit applied and confirmed. Check result: " + output
			state.Append(session.SenderEdit, result.Summary)
			a.logger.ExecutionComplete("edit pass", time.Since(start), "confirmed")
			return result, nil
		}

		if toolResults >= a.maxToolResults {
			result.HitCeiling = true
			result.Succeeded = mutated
			result.Summary = fmt.Sprintf("Editing stopped after %d tool results.", toolResults)
			state.Append(session.SenderEdit, result.Summary)
			a.logger.Warn("tool result ceiling reached", map[string]interface{}{
				"results": toolResults,
			})
			return result, nil
		}
	}
}

func (a *Agent) buildPrompt(state *session.State, dataset string) string {
	var sb strings.Builder
	sb.WriteString("Dataset:\n")
	sb.WriteString(dataset)
	sb.WriteString("\n\nRequest: ")
	sb.WriteString(state.EffectiveRequest())
	if state.VerificationFailure != "" {
		sb.WriteString("\n\nA previous attempt failed verification: ")
		sb.WriteString(state.VerificationFailure)
		sb.WriteString("\nFix the dataset so the request is fully satisfied.")
	}
	return sb.String()
}

// execute dispatches a mutate or check call to the sandbox. Unknown tools
// come back as error strings for the model to recover from.
func (a *Agent) execute(ctx context.Context, state *session.State, call llm.ToolCallResponse) string {
	code, _ := call.Args["code"].(string)
	switch call.Name {
	case ToolMutate:
		return a.executor.Mutate(ctx, state.CSVPath, code)
	case ToolCheck:
		return a.executor.Check(ctx, state.CSVPath, code)
	default:
		return fmt.Sprintf("Error: unknown tool %q", call.Name)
	}
}

func callSignature(call llm.ToolCallResponse) string {
	args, _ := json.Marshal(call.Args)
	return string(args)
}
