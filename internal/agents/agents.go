// Package agents defines the collaborator interfaces the assistant graph
// depends on, plus OpenAI-backed implementations. Collaborators are
// constructed once at service start and injected into node constructors;
// nodes never reach for globals.
package agents

import (
	"context"
	"encoding/json"
)

// Direction distinguishes input gating from output gating.
type Direction int

const (
	// DirectionInput checks a user utterance before routing.
	DirectionInput Direction = iota
	// DirectionOutput checks an assistant reply before it leaves.
	DirectionOutput
)

// String returns the direction name for logging.
func (d Direction) String() string {
	if d == DirectionOutput {
		return "output"
	}
	return "input"
}

// Verdict is a safety check result.
type Verdict struct {
	Safe   bool
	Reason string
}

// SafetyChecker evaluates text for policy violations.
type SafetyChecker interface {
	Check(ctx context.Context, text string, dir Direction) (Verdict, error)
}

// Decision is a routing classification.
type Decision struct {
	// Agent is the responder label the classifier chose.
	Agent string
	// Reasoning is the classifier's short free-text justification.
	Reasoning string
	// Confidence is the classifier's self-reported confidence, 0.0-1.0.
	Confidence float64
}

// Classifier picks the responder for a user utterance.
type Classifier interface {
	Classify(ctx context.Context, text, recentContext string) (Decision, error)
}

// ToolResult is one named structured result produced during a responder's
// tool-using loop.
type ToolResult struct {
	Name    string          `json:"name"`
	Payload json.RawMessage `json:"payload"`
}

// Response is a responder's answer for one turn.
type Response struct {
	// Text is the natural-language reply.
	Text string
	// Confidence is the retrieval confidence for knowledge responders,
	// 0.0-1.0. Responders without a confidence notion leave it at 1.0.
	Confidence float64
	// Insufficient marks a knowledge responder that could not find
	// enough grounding material to answer.
	Insufficient bool
	// ToolResults holds structured results from any tools the responder
	// invoked, in invocation order.
	ToolResults []ToolResult
}

// Responder produces a reply for a routed utterance.
type Responder interface {
	Respond(ctx context.Context, input, recentContext string) (Response, error)
}

// ToolInvoker executes a named tool with JSON arguments.
type ToolInvoker interface {
	Invoke(ctx context.Context, name string, args json.RawMessage) (json.RawMessage, error)
}
