package assistant

import (
	"strings"
	"time"

	"github.com/carebridge/carebridge/pkg/flow/config"
)

// Responder names. AgentSystem marks system-generated failure replies.
const (
	AgentConversation = "CONVERSATION"
	AgentRAG          = "RAG"
	AgentWebSearch    = "WEB_SEARCH"
	AgentScheduler    = "SCHEDULER"
	AgentInputGuard   = "INPUT_GUARDRAILS"
	AgentOutputGuard  = "OUTPUT_GUARDRAILS"
	AgentSystem       = "SYSTEM"
)

// RoutableAgents are the labels the classifier may choose from.
var RoutableAgents = []string{AgentConversation, AgentRAG, AgentWebSearch, AgentScheduler}

// Settings carries the externally-supplied knobs for the assistant graph.
// Nothing here is hard-coded into node logic.
type Settings struct {
	// ConfidenceThreshold gates the knowledge-to-web-search fallback.
	ConfidenceThreshold float64

	// MaxHistory bounds retained messages per thread after each turn.
	MaxHistory int

	// AffirmativePrefixes is the confirmation vocabulary: a resume value
	// counts as affirmative when it starts with any of these,
	// case-insensitively.
	AffirmativePrefixes []string

	// DirectResponseTools names tools whose results bypass reformulation
	// and output gating, reaching the caller verbatim.
	DirectResponseTools []string

	// TurnTimeout is the wall-clock budget for one turn.
	TurnTimeout time.Duration

	// GuardInFailOpen lets turns proceed when the input safety check is
	// unreachable. GuardOutFailOpen defaults to false: an unreachable
	// output check substitutes an apology instead of leaking the reply.
	GuardInFailOpen  bool
	GuardOutFailOpen bool
}

// DefaultSettings returns the documented defaults.
func DefaultSettings() Settings {
	return Settings{
		ConfidenceThreshold: 0.75,
		MaxHistory:          12,
		AffirmativePrefixes: []string{"y"},
		DirectResponseTools: []string{"list_free_slots", "list_doctors", "book_appointment"},
		TurnTimeout:         60 * time.Second,
		GuardInFailOpen:     true,
		GuardOutFailOpen:    false,
	}
}

// LoadSettings reads the assistant section of a config, falling back to
// defaults for missing keys.
func LoadSettings(cfg config.Config) Settings {
	def := DefaultSettings()
	return Settings{
		ConfidenceThreshold: cfg.Float("confidence_threshold", def.ConfidenceThreshold),
		MaxHistory:          cfg.Int("max_history", def.MaxHistory),
		AffirmativePrefixes: cfg.StringSlice("affirmative_prefixes", def.AffirmativePrefixes),
		DirectResponseTools: cfg.StringSlice("direct_response_tools", def.DirectResponseTools),
		TurnTimeout:         cfg.Duration("turn_timeout", def.TurnTimeout),
		GuardInFailOpen:     cfg.Bool("guard_in_fail_open", def.GuardInFailOpen),
		GuardOutFailOpen:    cfg.Bool("guard_out_fail_open", def.GuardOutFailOpen),
	}
}

// IsAffirmative reports whether a resume value counts as confirmation.
// Matching is a case-insensitive prefix check against the configured
// vocabulary; everything else, including the empty string, declines.
func (s Settings) IsAffirmative(value string) bool {
	v := strings.ToLower(strings.TrimSpace(value))
	if v == "" {
		return false
	}
	for _, prefix := range s.AffirmativePrefixes {
		if strings.HasPrefix(v, strings.ToLower(prefix)) {
			return true
		}
	}
	return false
}

// IsDirectTool reports whether a tool's results go to the caller verbatim.
func (s Settings) IsDirectTool(name string) bool {
	for _, t := range s.DirectResponseTools {
		if t == name {
			return true
		}
	}
	return false
}
