// Package session holds the per-thread workflow state and its transcript,
// plus JSONL persistence. A thread is one editing conversation over one CSV
// file; its ID doubles as the resume token when the workflow suspends for
// human input.
package session

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Thread status values.
const (
	StatusRunning    = "running"
	StatusNeedsInput = "needs_input"
	StatusComplete   = "complete"
	StatusFailed     = "failed"
)

// Transcript senders. Tool results are transcript messages like any other so
// that routing and truncation treat them uniformly.
const (
	SenderUser       = "user"
	SenderSupervisor = "supervisor"
	SenderClarifier  = "clarifier"
	SenderEdit       = "edit"
	SenderVerifier   = "verifier"
	SenderTool       = "tool"
)

// Message is one transcript entry.
type Message struct {
	Sender    string    `json:"sender"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// EditRecord is one applied mutating tool call. The audit survives
// suspension, so the completion summary covers the whole thread.
type EditRecord struct {
	Code   string `json:"code"`
	Result string `json:"result"`
}

// State is the full mutable state of one editing thread. Everything an agent
// needs to resume after suspension lives here; nothing is kept in memory only.
type State struct {
	ThreadID        string `json:"thread_id"`
	CSVPath         string `json:"csv_path"`
	OriginalRequest string `json:"original_request"`

	// RewrittenRequest is the clarifier's integration of the original request
	// with the user's answers. Empty until clarification completes.
	RewrittenRequest string `json:"rewritten_request,omitempty"`

	ClarificationCount  int  `json:"clarification_count"`
	InClarificationMode bool `json:"in_clarification_mode"`
	IsRequestClarified  bool `json:"is_request_clarified"`

	// NeedsInput and InterruptMessage always change together: the workflow
	// suspends with a question, and RequestingNode records who asked so the
	// answer is routed back to the same node on resume.
	NeedsInput       bool   `json:"needs_input"`
	InterruptMessage string `json:"interrupt_message,omitempty"`
	RequestingNode   string `json:"requesting_node,omitempty"`

	// VerificationFailure carries the verifier's reason back to the edit
	// agent on a retry pass.
	VerificationFailure string `json:"verification_failure,omitempty"`

	// AppliedEdits is the audit of successful mutate calls for this thread.
	AppliedEdits []EditRecord `json:"applied_edits,omitempty"`

	// Routing facts. The supervisor routes on these structured fields, not
	// by sniffing message text.
	LastNode              string `json:"last_node,omitempty"`
	LastClarifierDecision string `json:"last_clarifier_decision,omitempty"`
	LastVerdictStatus     string `json:"last_verdict_status,omitempty"`

	Status    string    `json:"status"`
	Messages  []Message `json:"-"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	mu sync.Mutex
}

// NewState creates a running thread for a request against a CSV file.
func NewState(csvPath, request string) *State {
	now := time.Now()
	s := &State{
		ThreadID:        uuid.NewString(),
		CSVPath:         csvPath,
		OriginalRequest: request,
		Status:          StatusRunning,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	s.Append(SenderUser, request)
	return s
}

// Append adds a transcript message and bumps UpdatedAt.
func (s *State) Append(sender, content string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Messages = append(s.Messages, Message{
		Sender:    sender,
		Content:   content,
		Timestamp: time.Now(),
	})
	s.UpdatedAt = time.Now()
}

// EffectiveRequest is what downstream agents act on: the rewritten request
// once clarification has produced one, the original otherwise.
func (s *State) EffectiveRequest() string {
	if s.RewrittenRequest != "" {
		return s.RewrittenRequest
	}
	return s.OriginalRequest
}

// Suspend marks the thread as waiting for human input on behalf of node.
func (s *State) Suspend(node, question string) {
	s.NeedsInput = true
	s.InterruptMessage = question
	s.RequestingNode = node
	s.Status = StatusNeedsInput
	s.UpdatedAt = time.Now()
}

// Resume clears the suspension and records the human answer. It returns the
// node the answer belongs to.
func (s *State) Resume(answer string) string {
	node := s.RequestingNode
	s.NeedsInput = false
	s.InterruptMessage = ""
	s.RequestingNode = ""
	s.Status = StatusRunning
	s.Append(SenderUser, answer)
	return node
}

// RecordEdit appends one applied mutation to the audit.
func (s *State) RecordEdit(code, result string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.AppliedEdits = append(s.AppliedEdits, EditRecord{Code: code, Result: result})
	s.UpdatedAt = time.Now()
}

// Answers returns the user's messages after the original request, in order.
func (s *State) Answers() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for i, m := range s.Messages {
		if i > 0 && m.Sender == SenderUser {
			out = append(out, m.Content)
		}
	}
	return out
}

// LastMessage returns the most recent transcript entry, or a zero Message.
func (s *State) LastMessage() Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.Messages) == 0 {
		return Message{}
	}
	return s.Messages[len(s.Messages)-1]
}

// LastToolResult returns the most recent tool-result content, or "".
func (s *State) LastToolResult() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.Messages) - 1; i >= 0; i-- {
		if s.Messages[i].Sender == SenderTool {
			return s.Messages[i].Content
		}
	}
	return ""
}

// Truncate bounds the transcript to max messages, keeping the first message
// (the original request anchors every prompt) and the most recent tail.
func (s *State) Truncate(max int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if max < 2 || len(s.Messages) <= max {
		return
	}
	kept := make([]Message, 0, max)
	kept = append(kept, s.Messages[0])
	kept = append(kept, s.Messages[len(s.Messages)-(max-1):]...)
	s.Messages = kept
}

// Transcript renders the messages as "sender: content" lines for inclusion in
// agent prompts.
func (s *State) Transcript() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var sb strings.Builder
	for _, m := range s.Messages {
		fmt.Fprintf(&sb, "%s: %s\n", m.Sender, m.Content)
	}
	return sb.String()
}
