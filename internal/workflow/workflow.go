// Package workflow is the supervisor state machine: it sequences the
// clarifier, the edit agent, and the verifier over one thread, suspends and
// resumes around human input, and bounds total iteration so every run
// terminates. Routing decisions come from structured state fields; a small
// LLM router is only the fallback when no rule applies.
package workflow

import (
	"context"
	"fmt"
	"strings"

	"github.com/vinayprograms/agentkit/llm"
	"github.com/vinayprograms/agentkit/logging"

	"github.com/sheetpilot/sheetpilot/internal/clarifier"
	"github.com/sheetpilot/sheetpilot/internal/config"
	"github.com/sheetpilot/sheetpilot/internal/editagent"
	"github.com/sheetpilot/sheetpilot/internal/sandbox"
	"github.com/sheetpilot/sheetpilot/internal/session"
	"github.com/sheetpilot/sheetpilot/internal/table"
	"github.com/sheetpilot/sheetpilot/internal/verifier"
)

// Node names.
const (
	NodeSupervisor = "supervisor"
	NodeClarifier  = "request_clarifier"
	NodeEdit       = "csv_edit"
	NodeVerifier   = "csv_verifier"
	NodeHuman      = "human"
	NodeFinish     = "FINISH"
	NodeOutOfScope = "out_of_scope_end"
)

// Fixed user-facing texts.
const (
	noEditsSummary     = "No changes were made to the file."
	appliedFallback    = "The requested changes were applied and verified."
	maxStepsWarning    = "Warning: maximum supervisor steps reached; stopping."
	sampleRowsInPrompt = 5
)

// Response is what a run or resume hands back to the caller.
type Response struct {
	ThreadID         string
	CSVPath          string
	Messages         []session.Message
	Summary          string
	NeedsInput       bool
	InterruptMessage string
	Error            string
}

// Deps carries everything a workflow needs.
type Deps struct {
	Provider llm.Provider // main model for the three agents
	Small    llm.Provider // router and summarizer
	Executor *sandbox.Executor
	Tables   table.Store
	Threads  session.Store
	Limits   config.LimitsConfig
	Schema   *table.TargetSchema // optional, folded into agent prompts
}

// Workflow drives one thread at a time.
type Workflow struct {
	clar    *clarifier.Clarifier
	editor  *editagent.Agent
	checker *verifier.Verifier
	small   llm.Provider
	tables  table.Store
	threads session.Store
	schema  *table.TargetSchema
	logger  *logging.Logger
	limits  config.LimitsConfig
}

// New wires the agents from shared dependencies.
func New(d Deps) *Workflow {
	return &Workflow{
		clar:    clarifier.New(d.Provider, d.Limits.ClarificationRounds),
		editor:  editagent.New(d.Provider, d.Executor, d.Limits.EditToolResults),
		checker: verifier.New(d.Provider, d.Executor, d.Limits.VerifierSteps, d.Limits.VerifierPassFloor),
		small:   d.Small,
		tables:  d.Tables,
		threads: d.Threads,
		schema:  d.Schema,
		logger:  logging.New().WithComponent("workflow"),
		limits:  d.Limits,
	}
}

// Run starts a fresh thread for a request against a CSV file.
func (w *Workflow) Run(ctx context.Context, csvPath, request string) *Response {
	state := session.NewState(csvPath, request)
	w.logger.Info("thread started", map[string]interface{}{
		"thread_id": state.ThreadID,
		"csv":       csvPath,
	})
	return w.run(ctx, state, "")
}

// Resume continues a suspended thread with the human's answer. The answer is
// routed back to the node that asked, restored from the persisted state.
func (w *Workflow) Resume(ctx context.Context, threadID, answer string) (*Response, error) {
	state, err := w.threads.Load(threadID)
	if err != nil {
		return nil, fmt.Errorf("loading thread: %w", err)
	}
	if !state.NeedsInput {
		return nil, fmt.Errorf("thread %s is not awaiting input", threadID)
	}

	node := state.Resume(answer)
	w.logger.Info("thread resumed", map[string]interface{}{
		"thread_id": threadID,
		"node":      node,
	})
	return w.run(ctx, state, node), nil
}

// run is the supervisor loop. Any panic below here becomes an error-tagged
// response carrying the partial transcript.
func (w *Workflow) run(ctx context.Context, state *session.State, resumeTo string) (resp *Response) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("workflow panicked", map[string]interface{}{
				"thread_id": state.ThreadID,
				"panic":     fmt.Sprint(r),
			})
			state.Status = session.StatusFailed
			w.save(state)
			resp = w.respond(state, "")
			resp.Error = fmt.Sprintf("internal error: %v", r)
		}
	}()

	ctx, span := w.startRunSpan(ctx, state.ThreadID)
	outcome := "steps_exhausted"
	defer func() { w.endRunSpan(span, outcome) }()

	next := resumeTo
	for step := 0; step < w.limits.SupervisorSteps; step++ {
		node := next
		next = ""
		if node == "" {
			node = w.route(ctx, state)
		}
		w.logger.Debug("supervisor routed", map[string]interface{}{
			"step": step,
			"node": node,
		})

		switch node {
		case NodeHuman:
			outcome = "suspended"
			w.save(state)
			return w.respond(state, "")

		case NodeClarifier:
			w.runNode(ctx, NodeClarifier, func(ctx context.Context) { w.runClarifier(ctx, state) })

		case NodeEdit:
			w.runNode(ctx, NodeEdit, func(ctx context.Context) { w.runEdit(ctx, state) })

		case NodeVerifier:
			w.runNode(ctx, NodeVerifier, func(ctx context.Context) { w.runVerifier(ctx, state) })

		case NodeOutOfScope:
			outcome = "out_of_scope"
			state.Append(session.SenderSupervisor, clarifier.OutOfScopeMessage)
			state.Status = session.StatusComplete
			w.save(state)
			return w.respond(state, clarifier.OutOfScopeMessage)

		case NodeFinish:
			outcome = "finished"
			return w.finish(ctx, state)
		}

		state.Truncate(w.limits.TranscriptMessages)
	}

	w.logger.Warn("supervisor step ceiling reached", map[string]interface{}{
		"thread_id": state.ThreadID,
		"steps":     w.limits.SupervisorSteps,
	})
	state.Append(session.SenderSupervisor, maxStepsWarning)
	state.Status = session.StatusFailed
	w.save(state)
	return w.respond(state, maxStepsWarning)
}

// route applies the transition rules in priority order.
func (w *Workflow) route(ctx context.Context, state *session.State) string {
	// 1. Pending suspension always wins.
	if state.NeedsInput {
		return NodeHuman
	}

	// 2. A fresh human answer mid-clarification goes back to the clarifier.
	if state.InClarificationMode && !state.IsRequestClarified &&
		state.LastMessage().Sender == session.SenderUser {
		return NodeClarifier
	}

	// 3. A delivered verdict decides retry versus completion. Anything but a
	// pass sends the failure reason back to the editor.
	if state.LastNode == NodeVerifier && state.LastVerdictStatus != "" {
		if state.LastVerdictStatus == verifier.StatusPass {
			return NodeFinish
		}
		return NodeEdit
	}

	// 4. A clarifier outcome routes forward, terminates, or repeats.
	if state.LastNode == NodeClarifier {
		switch state.LastClarifierDecision {
		case clarifier.DecisionClear, clarifier.DecisionClarified:
			return NodeEdit
		case clarifier.DecisionOutOfScope:
			return NodeOutOfScope
		default:
			return NodeClarifier
		}
	}

	// 5. A brand-new conversation is always assessed first.
	if len(state.Messages) == 1 {
		return NodeClarifier
	}

	// 6. No rule applies: ask the router model.
	return w.routeWithModel(ctx, state)
}

const routerPrompt = `You route a CSV-editing workflow. Choose the next node:
- request_clarifier: the request still needs assessment
- csv_edit: the dataset still needs editing
- csv_verifier: an edit was made and has not been verified
- FINISH: the work is done

After an edit pass, verification comes next. Reply with the node name only.`

// routeWithModel is the rule-6 fallback. An unusable answer degrades to the
// deterministic continuation instead of stalling the run.
func (w *Workflow) routeWithModel(ctx context.Context, state *session.State) string {
	facts := fmt.Sprintf("last node: %s\nrequest: %s\ntranscript:\n%s",
		state.LastNode, state.EffectiveRequest(), state.Transcript())

	resp, err := w.small.Chat(ctx, llm.ChatRequest{
		Messages: []llm.Message{
			{Role: "system", Content: routerPrompt},
			{Role: "user", Content: facts},
		},
	})
	if err == nil {
		choice := strings.TrimSpace(resp.Content)
		switch choice {
		case NodeClarifier, NodeEdit, NodeVerifier, NodeFinish:
			return choice
		}
		w.logger.Warn("router returned unknown node", map[string]interface{}{"choice": choice})
	} else {
		w.logger.Warn("router call failed", map[string]interface{}{"error": err.Error()})
	}

	if state.LastNode == NodeEdit {
		return NodeVerifier
	}
	return NodeFinish
}

func (w *Workflow) runClarifier(ctx context.Context, state *session.State) {
	result, err := w.clar.Assess(ctx, state, w.describe(state))
	state.LastNode = NodeClarifier
	if err != nil {
		// Surface the failure in the transcript and proceed with the request
		// as written rather than hanging the thread.
		state.Append(session.SenderClarifier, "Clarifier unavailable: "+err.Error())
		state.LastClarifierDecision = clarifier.DecisionClear
		state.IsRequestClarified = true
		state.InClarificationMode = false
		return
	}
	state.LastClarifierDecision = result.Decision

	switch result.Decision {
	case clarifier.DecisionClear:
		state.IsRequestClarified = true
		state.InClarificationMode = false
		state.Append(session.SenderClarifier, "Request is clear, proceeding.")

	case clarifier.DecisionNeedsClarification:
		state.InClarificationMode = true
		state.ClarificationCount++
		state.Append(session.SenderClarifier, result.Question)
		state.Suspend(NodeClarifier, result.Question)

	case clarifier.DecisionClarified:
		// The integrated restatement is written once per request and then
		// left alone.
		if state.RewrittenRequest == "" {
			state.RewrittenRequest = result.RewrittenRequest
		}
		state.IsRequestClarified = true
		state.InClarificationMode = false
		state.Append(session.SenderClarifier, "Proceeding with: "+state.EffectiveRequest())

	case clarifier.DecisionOutOfScope:
		state.Append(session.SenderClarifier, "Request is out of scope for file editing.")
	}
}

func (w *Workflow) runEdit(ctx context.Context, state *session.State) {
	result, err := w.editor.Run(ctx, state, w.describe(state))
	state.LastNode = NodeEdit
	state.LastVerdictStatus = "" // a new edit invalidates the previous verdict
	if err != nil {
		state.Append(session.SenderEdit, "Edit agent unavailable: "+err.Error())
		return
	}
	// The audit lives on the state so that edits applied before a suspension
	// still reach the completion summary.
	for _, m := range result.Mutations {
		state.RecordEdit(m.Code, m.Result)
	}
}

func (w *Workflow) runVerifier(ctx context.Context, state *session.State) {
	verdict := w.checker.Verify(ctx, state, w.describe(state))
	state.LastNode = NodeVerifier
	state.LastVerdictStatus = verdict.Status
	if verdict.Status == verifier.StatusPass {
		state.VerificationFailure = ""
	} else {
		state.VerificationFailure = verdict.Reason
	}
}

// finish closes the thread with a summary of what was edited.
func (w *Workflow) finish(ctx context.Context, state *session.State) *Response {
	summary := w.summarize(ctx, state)
	state.Append(session.SenderSupervisor, summary)
	state.Status = session.StatusComplete
	w.save(state)
	w.logger.Info("thread finished", map[string]interface{}{
		"thread_id": state.ThreadID,
		"edits":     len(state.AppliedEdits),
	})
	return w.respond(state, summary)
}

// summarize asks the small model to describe the applied mutations in plain
// language. No mutations or a failed call falls back to a fixed sentence.
func (w *Workflow) summarize(ctx context.Context, state *session.State) string {
	if len(state.AppliedEdits) == 0 {
		return noEditsSummary
	}

	var sb strings.Builder
	sb.WriteString("Request: ")
	sb.WriteString(state.EffectiveRequest())
	sb.WriteString("\n\nApplied edits:\n")
	for i, m := range state.AppliedEdits {
		fmt.Fprintf(&sb, "%d. result: %s\ncode:\n%s\n", i+1, m.Result, m.Code)
	}

	resp, err := w.small.Chat(ctx, llm.ChatRequest{
		Messages: []llm.Message{
			{Role: "system", Content: "Summarize in one or two sentences, for the user, what was changed in their file. Plain language, no code."},
			{Role: "user", Content: sb.String()},
		},
	})
	if err != nil || strings.TrimSpace(resp.Content) == "" {
		w.logger.Warn("summary call failed, using fallback", nil)
		return appliedFallback
	}
	return strings.TrimSpace(resp.Content)
}

// describe renders the live dataset schema for agent prompts, with the target
// schema appended when one was supplied.
func (w *Workflow) describe(state *session.State) string {
	tbl, err := w.tables.Read(state.CSVPath)
	if err != nil {
		return "dataset unavailable: " + err.Error()
	}
	desc := tbl.Describe(sampleRowsInPrompt)
	if w.schema != nil {
		desc += "\n\n" + w.schema.Describe()
	}
	return desc
}

func (w *Workflow) save(state *session.State) {
	if err := w.threads.Save(state); err != nil {
		w.logger.Error("saving thread failed", map[string]interface{}{
			"thread_id": state.ThreadID,
			"error":     err.Error(),
		})
	}
}

func (w *Workflow) respond(state *session.State, summary string) *Response {
	return &Response{
		ThreadID:         state.ThreadID,
		CSVPath:          state.CSVPath,
		Messages:         state.Messages,
		Summary:          summary,
		NeedsInput:       state.NeedsInput,
		InterruptMessage: state.InterruptMessage,
	}
}
