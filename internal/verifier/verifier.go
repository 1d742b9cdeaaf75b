// Package verifier independently judges whether the saved dataset satisfies
// the user's request. It only gets the read-only check tool, so it can
// inspect but never repair. Its verdict is accepted exclusively as JSON;
// anything else counts against the edit, not for it.
package verifier

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/vinayprograms/agentkit/llm"
	"github.com/vinayprograms/agentkit/logging"

	"github.com/sheetpilot/sheetpilot/internal/sandbox"
	"github.com/sheetpilot/sheetpilot/internal/session"
)

// Verdict statuses.
const (
	StatusPass       = "PASS"
	StatusFailed     = "FAILED"
	StatusInProgress = "IN_PROGRESS"
)

// Verdict is the verifier's structured judgment.
type Verdict struct {
	Status string `json:"status"`
	Reason string `json:"reason,omitempty"`
}

// Verifier runs the verification loop.
type Verifier struct {
	provider  llm.Provider
	executor  *sandbox.Executor
	logger    *logging.Logger
	maxSteps  int
	passFloor int
}

// New creates a verifier. maxSteps bounds model turns per run; passFloor is
// the step count past which sustained inspection without a found defect is
// treated as a pass.
func New(provider llm.Provider, executor *sandbox.Executor, maxSteps, passFloor int) *Verifier {
	return &Verifier{
		provider:  provider,
		executor:  executor,
		logger:    logging.New().WithComponent("verifier"),
		maxSteps:  maxSteps,
		passFloor: passFloor,
	}
}

const systemPrompt = `You verify that a CSV dataset satisfies an editing
request that was just executed. You can only inspect, never modify.

Tool:
- check(code): code must define check(table); it runs read-only against the
  saved file. table is {"columns": list of strings, "rows": list of rows of
  strings}.

Checklist:
1. Does every change the request asked for appear in the data?
2. Did anything change that the request did not ask for?
3. Are row counts, column names, and cell formats consistent with the request?

Inspect with targeted checks, then deliver your verdict as JSON only:
{"status": "PASS" | "FAILED", "reason": "..."}
FAILED needs a reason specific enough for the editor to fix the defect.`

const formatNudge = `Reminder: when you are done inspecting, reply with JSON
only: {"status": "PASS" | "FAILED", "reason": "..."}`

// Verify runs the verification loop against the thread's dataset.
func (v *Verifier) Verify(ctx context.Context, state *session.State, dataset string) *Verdict {
	messages := []llm.Message{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: v.buildPrompt(state, dataset)},
	}

	checks := 0
	steps := 0
	for steps < v.maxSteps {
		resp, err := v.provider.Chat(ctx, llm.ChatRequest{
			Messages: messages,
			Tools:    v.toolDefs(),
		})
		steps++ // reasoning step
		if err != nil {
			v.logger.Error("verifier LLM call failed", map[string]interface{}{"error": err.Error()})
			return &Verdict{Status: StatusInProgress, Reason: fmt.Sprintf("verifier unavailable: %v", err)}
		}

		// A terminal verdict in the content ends the run immediately,
		// trailing tool calls included. An explicit IN_PROGRESS means the
		// verifier wants to keep inspecting.
		verdict, perr := parseVerdict(resp.Content)
		if perr == nil && verdict.Status != StatusInProgress {
			v.logger.Info("verdict delivered", map[string]interface{}{
				"status": verdict.Status,
				"steps":  steps,
			})
			state.Append(session.SenderVerifier, verdict.Status+": "+verdict.Reason)
			return verdict
		}

		if len(resp.ToolCalls) == 0 {
			if perr == nil {
				// IN_PROGRESS without a tool call: carry the turn and loop.
				messages = append(messages, llm.Message{Role: "assistant", Content: resp.Content})
				continue
			}
			// Prose instead of JSON. Past the floor, sustained inspection
			// without a named defect counts as a pass; before it, the edit
			// does not get the benefit of the doubt.
			if steps > v.passFloor {
				v.logger.Warn("unparsable verdict past pass floor, accepting", map[string]interface{}{
					"steps": steps,
				})
				return &Verdict{Status: StatusPass, Reason: "no defect found after extended inspection"}
			}
			v.logger.Warn("unparsable verdict", nil)
			return &Verdict{Status: StatusFailed, Reason: "verifier did not deliver a structured verdict"}
		}

		call := resp.ToolCalls[0]
		messages = append(messages, llm.Message{
			Role:      "assistant",
			Content:   resp.Content,
			ToolCalls: []llm.ToolCallResponse{call},
		})

		code, _ := call.Args["code"].(string)
		output := v.executor.Check(ctx, state.CSVPath, code)
		steps++ // tool-execution step
		checks++
		messages = append(messages, llm.Message{
			Role:       "tool",
			Content:    output,
			ToolCallID: call.ID,
		})

		// After two checks, remind the model what shape the verdict takes.
		if checks == 2 {
			messages = append(messages, llm.Message{Role: "user", Content: formatNudge})
		}
	}

	v.logger.Warn("verifier step ceiling reached", map[string]interface{}{"steps": v.maxSteps})
	return &Verdict{Status: StatusInProgress, Reason: "verification did not converge"}
}

func (v *Verifier) buildPrompt(state *session.State, dataset string) string {
	var sb strings.Builder
	sb.WriteString("Dataset after editing:\n")
	sb.WriteString(dataset)
	sb.WriteString("\n\nRequest that was executed: ")
	sb.WriteString(state.EffectiveRequest())
	if last := state.LastToolResult(); last != "" {
		sb.WriteString("\n\nLast editor tool result: ")
		sb.WriteString(last)
	}
	return sb.String()
}

func (v *Verifier) toolDefs() []llm.ToolDef {
	return []llm.ToolDef{{
		Name:        sandbox.CheckFunc,
		Description: "Run read-only code against the saved dataset.",
		Parameters: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"code": map[string]interface{}{
					"type":        "string",
					"description": "Starlark source defining check(table).",
				},
			},
			"required": []string{"code"},
		},
	}}
}

// parseVerdict accepts only a JSON object with a known status.
func parseVerdict(content string) (*Verdict, error) {
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("no JSON object in response")
	}

	var verdict Verdict
	if err := json.Unmarshal([]byte(content[start:end+1]), &verdict); err != nil {
		return nil, fmt.Errorf("parsing verdict: %w", err)
	}
	switch verdict.Status {
	case StatusPass, StatusFailed, StatusInProgress:
		return &verdict, nil
	default:
		return nil, fmt.Errorf("unknown status %q", verdict.Status)
	}
}
