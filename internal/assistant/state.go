// Package assistant holds the conversation state, merge semantics, graph
// nodes, and graph wiring for the clinic assistant.
package assistant

import (
	"encoding/json"

	"github.com/carebridge/carebridge/internal/agents"
)

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Message is one utterance in the conversation history.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
	// Agent names the responder that produced an assistant message.
	Agent string `json:"agent,omitempty"`
}

// ToolCall names a deferred side-effecting tool invocation queued for
// execution after a confirmed resume.
type ToolCall struct {
	Name string          `json:"name"`
	Args json.RawMessage `json:"args,omitempty"`
}

// BookingProposal is a scheduling action awaiting explicit confirmation.
type BookingProposal struct {
	Doctor  string `json:"doctor"`
	Time    string `json:"time"`
	Patient string `json:"patient,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

// State is the unit of truth for one conversation thread. It is owned
// exclusively by the executor during a run and serialized into the
// thread's checkpoint between runs; every field must round-trip JSON.
type State struct {
	// Messages is the role-tagged history. Append-only within a run:
	// the merge function only ever adds to it.
	Messages []Message `json:"messages"`

	// CurrentInput is the utterance being processed this turn.
	CurrentInput string `json:"current_input"`

	// AgentName identifies whichever node last produced the visible reply.
	AgentName string `json:"agent_name"`

	// FinalOutput is the value returned to the caller. A non-empty value
	// set by a Gate node is the short-circuit signal.
	FinalOutput string `json:"final_output"`

	NeedsHumanValidation bool    `json:"needs_human_validation"`
	RetrievalConfidence  float64 `json:"retrieval_confidence"`
	BypassRouting        bool    `json:"bypass_routing"`
	InsufficientInfo     bool    `json:"insufficient_info"`

	// IsDirectToolResponse marks FinalOutput as a verbatim tool payload
	// that skipped reformulation and output gating.
	IsDirectToolResponse bool `json:"is_direct_tool_response"`

	// RawToolOutput holds the verbatim payload behind a direct tool
	// response, so structured data reaches the caller unmodified.
	RawToolOutput json.RawMessage `json:"raw_tool_output,omitempty"`

	// ToolResults holds the structured results from the most recent
	// agent call, newest last. Overwritten per agent call.
	ToolResults []agents.ToolResult `json:"tool_results,omitempty"`

	// PendingAction is a proposal attached before the confirmation
	// interrupt runs and consumed (then cleared) on resume.
	PendingAction *BookingProposal `json:"pending_action,omitempty"`

	// ExtraCalls queues side-effecting calls to execute after a
	// confirmed resume.
	ExtraCalls []ToolCall `json:"extra_calls,omitempty"`
}

// NewState returns a fresh state with default field values.
func NewState() State {
	return State{Messages: []Message{}}
}

// LastToolResult returns the most recent tool result from the latest
// agent call, if any.
func (s State) LastToolResult() (agents.ToolResult, bool) {
	if len(s.ToolResults) == 0 {
		return agents.ToolResult{}, false
	}
	return s.ToolResults[len(s.ToolResults)-1], true
}

// LastAssistantMessage returns the newest assistant message, if any.
func (s State) LastAssistantMessage() (Message, bool) {
	for i := len(s.Messages) - 1; i >= 0; i-- {
		if s.Messages[i].Role == RoleAssistant {
			return s.Messages[i], true
		}
	}
	return Message{}, false
}

// RecentContext formats the last n messages for collaborator prompts.
func (s State) RecentContext(n int) string {
	start := len(s.Messages) - n
	if start < 0 {
		start = 0
	}
	var b []byte
	for _, m := range s.Messages[start:] {
		b = append(b, m.Role...)
		b = append(b, ": "...)
		b = append(b, m.Content...)
		b = append(b, '\n')
	}
	return string(b)
}

// BeginTurn resets the per-turn fields and records the new utterance.
// History, pending action, and deferred calls survive across turns.
func BeginTurn(s State, input string) State {
	s.CurrentInput = input
	s.FinalOutput = ""
	s.IsDirectToolResponse = false
	s.RawToolOutput = nil
	s.ToolResults = nil
	s.RetrievalConfidence = 0
	s.InsufficientInfo = false
	s.Messages = append(s.Messages, Message{Role: RoleUser, Content: input})
	return s
}

// TrimHistory bounds the message history to the last max entries. Fields
// outside Messages, including a pending action, are untouched.
func TrimHistory(s State, max int) State {
	if max <= 0 || len(s.Messages) <= max {
		return s
	}
	trimmed := make([]Message, max)
	copy(trimmed, s.Messages[len(s.Messages)-max:])
	s.Messages = trimmed
	return s
}

// Delta is a typed partial update produced by one node. Nil pointer
// fields mean "leave unchanged"; a non-nil pointer overwrites, even with
// the zero value. Messages and ExtraCalls append.
type Delta struct {
	AppendMessages []Message

	CurrentInput         *string
	AgentName            *string
	FinalOutput          *string
	NeedsHumanValidation *bool
	RetrievalConfidence  *float64
	BypassRouting        *bool
	InsufficientInfo     *bool
	IsDirectToolResponse *bool

	// RawToolOutput overwrites when non-nil.
	RawToolOutput json.RawMessage

	// ToolResults overwrites the per-agent-call scratch when non-nil.
	ToolResults []agents.ToolResult

	// PendingAction overwrites when non-nil; ClearPendingAction wins.
	PendingAction      *BookingProposal
	ClearPendingAction bool

	// ExtraCalls appends; ClearExtraCalls empties the queue first.
	ExtraCalls      []ToolCall
	ClearExtraCalls bool
}

// Merge applies a delta to a state and returns the updated state.
// Messages use reducer semantics (append-only); every other field is a
// whole-value overwrite by the last writer.
func Merge(s State, d Delta) State {
	if len(d.AppendMessages) > 0 {
		merged := make([]Message, 0, len(s.Messages)+len(d.AppendMessages))
		merged = append(merged, s.Messages...)
		merged = append(merged, d.AppendMessages...)
		s.Messages = merged
	}

	if d.CurrentInput != nil {
		s.CurrentInput = *d.CurrentInput
	}
	if d.AgentName != nil {
		s.AgentName = *d.AgentName
	}
	if d.FinalOutput != nil {
		s.FinalOutput = *d.FinalOutput
	}
	if d.NeedsHumanValidation != nil {
		s.NeedsHumanValidation = *d.NeedsHumanValidation
	}
	if d.RetrievalConfidence != nil {
		s.RetrievalConfidence = *d.RetrievalConfidence
	}
	if d.BypassRouting != nil {
		s.BypassRouting = *d.BypassRouting
	}
	if d.InsufficientInfo != nil {
		s.InsufficientInfo = *d.InsufficientInfo
	}
	if d.IsDirectToolResponse != nil {
		s.IsDirectToolResponse = *d.IsDirectToolResponse
	}
	if d.RawToolOutput != nil {
		s.RawToolOutput = d.RawToolOutput
	}
	if d.ToolResults != nil {
		s.ToolResults = d.ToolResults
	}

	switch {
	case d.ClearPendingAction:
		s.PendingAction = nil
	case d.PendingAction != nil:
		s.PendingAction = d.PendingAction
	}

	if d.ClearExtraCalls {
		s.ExtraCalls = nil
	}
	if len(d.ExtraCalls) > 0 {
		queued := make([]ToolCall, 0, len(s.ExtraCalls)+len(d.ExtraCalls))
		queued = append(queued, s.ExtraCalls...)
		queued = append(queued, d.ExtraCalls...)
		s.ExtraCalls = queued
	}

	return s
}

// Pointer helpers for building deltas.

func str(v string) *string    { return &v }
func boolp(v bool) *bool      { return &v }
func floatp(v float64) *float64 { return &v }
