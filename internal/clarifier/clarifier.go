// Package clarifier decides whether an editing request is actionable before
// any code touches the dataset. It either waves the request through, asks the
// user a targeted question, integrates answers into a rewritten request, or
// rejects requests that are not about editing the file at all.
package clarifier

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/vinayprograms/agentkit/llm"
	"github.com/vinayprograms/agentkit/logging"

	"github.com/sheetpilot/sheetpilot/internal/session"
)

// Decision values.
const (
	DecisionClear              = "CLEAR"
	DecisionNeedsClarification = "NEEDS_CLARIFICATION"
	DecisionClarified          = "CLARIFIED"
	DecisionOutOfScope         = "OUT_OF_SCOPE"
)

// OutOfScopeMessage is the fixed reply for requests that are not about
// editing the loaded file.
const OutOfScopeMessage = "I can only help with editing the loaded CSV file. " +
	"Please ask for a change to its rows or columns."

// Result is the clarifier's structured decision.
type Result struct {
	Decision         string `json:"decision"`
	Question         string `json:"question,omitempty"`
	RewrittenRequest string `json:"rewritten_request,omitempty"`
}

// Clarifier assesses requests with a single LLM call per round.
type Clarifier struct {
	provider  llm.Provider
	logger    *logging.Logger
	maxRounds int
}

// New creates a clarifier. maxRounds bounds how many questions the user can
// be asked for one request.
func New(provider llm.Provider, maxRounds int) *Clarifier {
	return &Clarifier{
		provider:  provider,
		logger:    logging.New().WithComponent("clarifier"),
		maxRounds: maxRounds,
	}
}

const systemPrompt = `You assess requests to edit a CSV file. Decide one of:
- CLEAR: the request is specific enough to execute as-is.
- NEEDS_CLARIFICATION: a concrete detail is missing; ask ONE question.
- CLARIFIED: the conversation now contains enough detail; produce a single
  self-contained rewritten request that integrates the original request with
  every answer the user gave.
- OUT_OF_SCOPE: the request is not about editing this file's rows or columns.

Prefer CLEAR over NEEDS_CLARIFICATION: only ask when executing without the
answer would likely produce a wrong edit. Respond with JSON only:
{"decision": "...", "question": "...", "rewritten_request": "..."}`

// Assess runs one clarification round against the thread state. The dataset
// description gives the model the real column names so its questions and
// rewrites reference columns that exist.
func (c *Clarifier) Assess(ctx context.Context, state *session.State, dataset string) (*Result, error) {
	prompt := c.buildPrompt(state, dataset)

	resp, err := c.provider.Chat(ctx, llm.ChatRequest{
		Messages: []llm.Message{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: prompt},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("clarifier LLM call: %w", err)
	}

	result, perr := parseResult(resp.Content)
	if perr != nil {
		// An unparsable assessment must not stall the workflow: proceed with
		// the request as written.
		c.logger.Warn("unparsable clarifier response, proceeding as clear", map[string]interface{}{
			"error": perr.Error(),
		})
		return &Result{Decision: DecisionClear}, nil
	}

	// The round cap turns a further question into forced integration.
	if result.Decision == DecisionNeedsClarification && state.ClarificationCount >= c.maxRounds {
		c.logger.Warn("clarification round cap reached, integrating answers", map[string]interface{}{
			"rounds": state.ClarificationCount,
		})
		result = &Result{
			Decision:         DecisionClarified,
			RewrittenRequest: result.RewrittenRequest,
		}
		if result.RewrittenRequest == "" {
			result.RewrittenRequest = integrateAnswers(state)
		}
	}

	if result.Decision == DecisionClarified && result.RewrittenRequest == "" {
		result.RewrittenRequest = integrateAnswers(state)
	}

	c.logger.Info("request assessed", map[string]interface{}{
		"decision": result.Decision,
		"round":    state.ClarificationCount,
	})
	return result, nil
}

func (c *Clarifier) buildPrompt(state *session.State, dataset string) string {
	var sb strings.Builder
	sb.WriteString("Dataset:\n")
	sb.WriteString(dataset)
	sb.WriteString("\n\nOriginal request: ")
	sb.WriteString(state.OriginalRequest)
	if state.InClarificationMode {
		sb.WriteString("\n\nClarification so far:\n")
		sb.WriteString(state.Transcript())
		sb.WriteString("\nThe user has answered. Integrate the answers (CLARIFIED) ")
		sb.WriteString("or ask one more question if something essential is still missing.")
	}
	return sb.String()
}

// integrateAnswers is the non-LLM fallback rewrite: the request as written
// plus whatever answers the user has given so far.
func integrateAnswers(state *session.State) string {
	answers := state.Answers()
	if len(answers) == 0 {
		return state.EffectiveRequest()
	}
	return state.EffectiveRequest() + " Details from the user: " + strings.Join(answers, "; ")
}

// parseResult accepts only a JSON object, tolerating surrounding prose.
func parseResult(content string) (*Result, error) {
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("no JSON object in response")
	}

	var r Result
	if err := json.Unmarshal([]byte(content[start:end+1]), &r); err != nil {
		return nil, fmt.Errorf("parsing decision: %w", err)
	}

	switch r.Decision {
	case DecisionClear, DecisionNeedsClarification, DecisionClarified, DecisionOutOfScope:
		return &r, nil
	default:
		return nil, fmt.Errorf("unknown decision %q", r.Decision)
	}
}
