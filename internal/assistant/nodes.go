package assistant

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/carebridge/carebridge/internal/agents"
	"github.com/carebridge/carebridge/pkg/flow"
)

// Graph node IDs.
const (
	NodeGuardIn         = "guard_in"
	NodeRoute           = "route"
	NodeConversation    = "conversation"
	NodeKnowledge       = "rag"
	NodeWebSearch       = "web_search"
	NodeScheduler       = "scheduler"
	NodeConfirm         = "confirm"
	NodeCommit          = "commit"
	NodeDirectResponse  = "direct_response"
	NodeCheckValidation = "check_validation"
	NodeHumanValidation = "human_validation"
	NodeGuardOut        = "guard_out"
)

// Deferred side-effecting tool executed only through the confirmed
// resume path.
const toolBookAppointment = "book_appointment"

// Tool result name the scheduler responder uses for a booking proposal.
const toolProposeBooking = "propose_booking"

// Fixed user-visible replies. Every failure path produces one of these;
// the caller never sees an empty reply or a raw error.
const (
	RefusalReply = "I can't help with that request. If you have an urgent medical concern, please contact the clinic directly."
	ApologyReply = "Sorry, something went wrong while processing your message. Please try again."
	DeclineReply = "Okay, I won't book that appointment. Let me know if another time works better."

	validationPrompt = "Please review the answer above. Does it address your question? (yes/no)"
)

// ConfirmationPrompt renders the user-facing question for a suspended
// booking proposal.
func ConfirmationPrompt(p *BookingProposal) string {
	if p == nil {
		return "Please confirm the proposed action. (yes/no)"
	}
	return fmt.Sprintf("Book an appointment with %s at %s? (yes/no)", p.Doctor, p.Time)
}

// Nodes bundles the graph's node functions with their injected
// collaborators and settings.
type Nodes struct {
	settings   Settings
	guard      agents.SafetyChecker
	classifier agents.Classifier
	responders map[string]agents.Responder
	tools      agents.ToolInvoker
}

// NewNodes constructs the node set. Responders are keyed by agent name
// (CONVERSATION, RAG, WEB_SEARCH, SCHEDULER).
func NewNodes(settings Settings, guard agents.SafetyChecker, classifier agents.Classifier, responders map[string]agents.Responder, tools agents.ToolInvoker) *Nodes {
	return &Nodes{
		settings:   settings,
		guard:      guard,
		classifier: classifier,
		responders: responders,
		tools:      tools,
	}
}

// isContextErr reports errors the executor must see raw so a timed-out
// turn is never converted into a normal reply.
func isContextErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// GuardIn checks the incoming utterance. Unsafe input short-circuits the
// turn with a fixed refusal. An unreachable checker fails open by default:
// blocking an incoming request is lower-risk than leaking unreviewed
// content, so the asymmetry with GuardOut is deliberate policy.
func (n *Nodes) GuardIn(ctx flow.Context, s State) (Delta, error) {
	verdict, err := n.guard.Check(ctx, s.CurrentInput, agents.DirectionInput)
	if err != nil {
		if isContextErr(err) {
			return Delta{}, err
		}
		if n.settings.GuardInFailOpen {
			ctx.Logger().Warn("input safety check unavailable, failing open",
				slog.String("error", err.Error()))
			return Delta{}, nil
		}
		return n.refuse(AgentInputGuard, RefusalReply), nil
	}

	if verdict.Safe {
		return Delta{}, nil
	}

	ctx.Logger().Info("input blocked", slog.String("reason", verdict.Reason))
	return n.refuse(AgentInputGuard, RefusalReply), nil
}

// refuse builds a gate short-circuit delta with a fixed reply.
func (n *Nodes) refuse(agent, reply string) Delta {
	return Delta{
		AgentName:   str(agent),
		FinalOutput: str(reply),
		AppendMessages: []Message{
			{Role: RoleAssistant, Content: reply, Agent: agent},
		},
	}
}

// Route classifies the utterance into a responder name. Unknown labels
// and classifier failures default to the conversation responder; a
// routing hiccup must never fail the turn. A decision below the
// confidence threshold routes to retrieval instead of the guessed label.
func (n *Nodes) Route(ctx flow.Context, s State) (Delta, error) {
	if s.BypassRouting && s.AgentName != "" && n.responders[s.AgentName] != nil {
		ctx.Logger().Debug("routing bypassed", slog.String("agent", s.AgentName))
		return Delta{BypassRouting: boolp(false)}, nil
	}

	decision, err := n.classifier.Classify(ctx, s.CurrentInput, s.RecentContext(4))
	if err != nil {
		if isContextErr(err) {
			return Delta{}, err
		}
		ctx.Logger().Warn("classifier unavailable, defaulting",
			slog.String("agent", AgentConversation),
			slog.String("error", err.Error()))
		return Delta{AgentName: str(AgentConversation)}, nil
	}

	agent := decision.Agent
	if _, known := n.responders[agent]; !known {
		ctx.Logger().Warn("classifier returned unknown label, defaulting",
			slog.String("label", decision.Agent),
			slog.String("agent", AgentConversation))
		agent = AgentConversation
	} else if decision.Confidence < n.settings.ConfidenceThreshold {
		// An uncertain routing decision gets a grounded answer instead of
		// whatever the classifier guessed.
		ctx.Logger().Info("low routing confidence, using retrieval",
			slog.String("label", decision.Agent),
			slog.Float64("confidence", decision.Confidence))
		agent = AgentRAG
	}

	ctx.Logger().Debug("routed",
		slog.String("agent", agent),
		slog.Float64("confidence", decision.Confidence),
		slog.String("reasoning", decision.Reasoning))

	return Delta{AgentName: str(agent)}, nil
}

// RouteDecision is the conditional-edge router after Route. It returns
// the agent name Route stored on the state.
func (n *Nodes) RouteDecision(ctx flow.Context, s State) string {
	return s.AgentName
}

// Conversation delegates to the general-purpose responder.
func (n *Nodes) Conversation(ctx flow.Context, s State) (Delta, error) {
	return n.respond(ctx, s, AgentConversation)
}

// Knowledge delegates to the retrieval responder and records its
// confidence for the fallback route.
func (n *Nodes) Knowledge(ctx flow.Context, s State) (Delta, error) {
	d, resp, err := n.respondWith(ctx, s, AgentRAG)
	if err != nil {
		return Delta{}, err
	}
	d.RetrievalConfidence = floatp(resp.Confidence)
	d.InsufficientInfo = boolp(resp.Insufficient)
	return d, nil
}

// WebSearch delegates to the web-search responder.
func (n *Nodes) WebSearch(ctx flow.Context, s State) (Delta, error) {
	return n.respond(ctx, s, AgentWebSearch)
}

// Scheduler delegates to the scheduling responder. A propose_booking
// tool result becomes the pending action awaiting confirmation; the
// booking itself is never committed here.
func (n *Nodes) Scheduler(ctx flow.Context, s State) (Delta, error) {
	d, resp, err := n.respondWith(ctx, s, AgentScheduler)
	if err != nil {
		return Delta{}, err
	}

	for i := len(resp.ToolResults) - 1; i >= 0; i-- {
		if resp.ToolResults[i].Name != toolProposeBooking {
			continue
		}
		// A bare proposal payload has no status field. Status-tagged
		// payloads ("unavailable") are availability outcomes and must not
		// reach the confirmation interrupt.
		var proposal struct {
			BookingProposal
			Status string `json:"status"`
		}
		if err := json.Unmarshal(resp.ToolResults[i].Payload, &proposal); err != nil {
			return Delta{}, fmt.Errorf("parse booking proposal: %w", err)
		}
		if proposal.Status == "" {
			d.PendingAction = &proposal.BookingProposal
		}
		break
	}

	return d, nil
}

func (n *Nodes) respond(ctx flow.Context, s State, agent string) (Delta, error) {
	d, _, err := n.respondWith(ctx, s, agent)
	return d, err
}

// respondWith runs a registered responder and builds the common delta:
// set the responder name, append its reply, and overwrite the per-call
// tool results (always, so stale results never leak into routing).
func (n *Nodes) respondWith(ctx flow.Context, s State, agent string) (Delta, agents.Response, error) {
	responder, ok := n.responders[agent]
	if !ok {
		return Delta{}, agents.Response{}, fmt.Errorf("no responder registered for %s", agent)
	}

	resp, err := responder.Respond(ctx, s.CurrentInput, s.RecentContext(6))
	if err != nil {
		return Delta{}, agents.Response{}, fmt.Errorf("%s responder: %w", agent, err)
	}

	results := resp.ToolResults
	if results == nil {
		results = []agents.ToolResult{}
	}

	d := Delta{
		AgentName:   str(agent),
		ToolResults: results,
	}
	if resp.Text != "" {
		d.AppendMessages = []Message{{Role: RoleAssistant, Content: resp.Text, Agent: agent}}
	}

	return d, resp, nil
}

// ConfidenceRoute falls back to web search when retrieval confidence is
// below the configured threshold or the responder flagged insufficient
// grounding.
func (n *Nodes) ConfidenceRoute(ctx flow.Context, s State) string {
	if s.RetrievalConfidence < n.settings.ConfidenceThreshold || s.InsufficientInfo {
		ctx.Logger().Debug("retrieval fallback",
			slog.Float64("confidence", s.RetrievalConfidence),
			slog.Float64("threshold", n.settings.ConfidenceThreshold),
			slog.Bool("insufficient", s.InsufficientInfo))
		return "fallback"
	}
	return "validate"
}

// AfterScheduler routes the scheduler's outcome: a pending proposal goes
// to confirmation, a direct-set tool result bypasses reformulation, and
// everything else takes the validation path.
func (n *Nodes) AfterScheduler(ctx flow.Context, s State) string {
	if s.PendingAction != nil {
		return "confirm"
	}
	if tr, ok := s.LastToolResult(); ok && n.settings.IsDirectTool(tr.Name) {
		return "direct"
	}
	return "validate"
}

// ConfirmPrompt is the interrupt's suspension payload: the proposal the
// caller must approve before anything is committed.
func (n *Nodes) ConfirmPrompt(ctx flow.Context, s State) any {
	return s.PendingAction
}

// ConfirmResume consumes the resume value. An affirmative value clears
// the pending action and queues the real booking call for the commit
// node; anything else declines with a fixed acknowledgment and no
// deferred call. The answer itself is recorded as a user message so the
// persisted history shows what the user replied to the confirmation.
func (n *Nodes) ConfirmResume(ctx flow.Context, s State, value string) (Delta, error) {
	proposal := s.PendingAction
	if proposal == nil {
		return Delta{}, errors.New("resume with no pending action")
	}

	var answered []Message
	if answer := strings.TrimSpace(value); answer != "" {
		answered = []Message{{Role: RoleUser, Content: answer}}
	}

	if !n.settings.IsAffirmative(value) {
		ctx.Logger().Info("booking declined")
		return Delta{
			ClearPendingAction: true,
			AgentName:          str(AgentScheduler),
			FinalOutput:        str(DeclineReply),
			AppendMessages: append(answered,
				Message{Role: RoleAssistant, Content: DeclineReply, Agent: AgentScheduler}),
		}, nil
	}

	args, err := json.Marshal(proposal)
	if err != nil {
		return Delta{}, fmt.Errorf("serialize booking proposal: %w", err)
	}

	ctx.Logger().Info("booking confirmed",
		slog.String("doctor", proposal.Doctor),
		slog.String("time", proposal.Time))

	return Delta{
		ClearPendingAction: true,
		AppendMessages:     answered,
		ExtraCalls:         []ToolCall{{Name: toolBookAppointment, Args: args}},
	}, nil
}

// AfterConfirm routes to the commit node only when the resume queued
// deferred calls; a decline already carries its final output.
func (n *Nodes) AfterConfirm(ctx flow.Context, s State) string {
	if len(s.ExtraCalls) > 0 {
		return "commit"
	}
	return "done"
}

// Commit executes the deferred side-effecting calls queued by a
// confirmed resume. This is the only path that reaches the booking tool.
func (n *Nodes) Commit(ctx flow.Context, s State) (Delta, error) {
	results := make([]agents.ToolResult, 0, len(s.ExtraCalls))
	for _, call := range s.ExtraCalls {
		payload, err := n.tools.Invoke(ctx, call.Name, call.Args)
		if err != nil {
			return Delta{}, fmt.Errorf("deferred call %s: %w", call.Name, err)
		}
		results = append(results, agents.ToolResult{Name: call.Name, Payload: payload})
	}

	return Delta{
		AgentName:       str(AgentScheduler),
		ToolResults:     results,
		ClearExtraCalls: true,
	}, nil
}

// AfterCommit sends direct-set tool results (booking confirmations)
// straight to the caller; anything else goes through validation.
func (n *Nodes) AfterCommit(ctx flow.Context, s State) string {
	if tr, ok := s.LastToolResult(); ok && n.settings.IsDirectTool(tr.Name) {
		return "direct"
	}
	return "validate"
}

// DirectResponse copies the latest tool payload into the final output
// verbatim. Structured data that is already consumer-ready must not pass
// through a reformulation model.
func (n *Nodes) DirectResponse(ctx flow.Context, s State) (Delta, error) {
	tr, ok := s.LastToolResult()
	if !ok {
		return Delta{}, errors.New("direct response with no tool result")
	}

	return Delta{
		FinalOutput:          str(string(tr.Payload)),
		RawToolOutput:        tr.Payload,
		IsDirectToolResponse: boolp(true),
	}, nil
}

// CheckValidation is the junction before output gating. The routing
// decision lives in ValidationRoute; the node itself changes nothing.
func (n *Nodes) CheckValidation(ctx flow.Context, s State) (Delta, error) {
	return Delta{}, nil
}

// ValidationRoute sends replies flagged for human review through the
// validation prompt first.
func (n *Nodes) ValidationRoute(ctx flow.Context, s State) string {
	if s.NeedsHumanValidation {
		return "human"
	}
	return "guard"
}

// HumanValidation appends the review prompt and clears the flag so the
// next turn is not re-prompted.
func (n *Nodes) HumanValidation(ctx flow.Context, s State) (Delta, error) {
	return Delta{
		NeedsHumanValidation: boolp(false),
		AppendMessages: []Message{
			{Role: RoleAssistant, Content: validationPrompt, Agent: s.AgentName},
		},
	}, nil
}

// GuardOut checks the outgoing reply and promotes it to the final
// output. Unsafe or uncheckable output is replaced with a generic
// apology: the output gate fails closed by default.
func (n *Nodes) GuardOut(ctx flow.Context, s State) (Delta, error) {
	last, ok := s.LastAssistantMessage()
	if !ok {
		return n.refuse(AgentSystem, ApologyReply), nil
	}

	verdict, err := n.guard.Check(ctx, last.Content, agents.DirectionOutput)
	if err != nil {
		if isContextErr(err) {
			return Delta{}, err
		}
		if n.settings.GuardOutFailOpen {
			ctx.Logger().Warn("output safety check unavailable, failing open",
				slog.String("error", err.Error()))
			return Delta{FinalOutput: str(last.Content)}, nil
		}
		ctx.Logger().Warn("output safety check unavailable, failing closed",
			slog.String("error", err.Error()))
		return n.refuse(AgentOutputGuard, ApologyReply), nil
	}

	if !verdict.Safe {
		ctx.Logger().Info("output blocked", slog.String("reason", verdict.Reason))
		return n.refuse(AgentOutputGuard, ApologyReply), nil
	}

	return Delta{FinalOutput: str(last.Content)}, nil
}

// Recover converts a node failure into a safe system reply so every
// turn yields some answer. The executor calls it for node errors and
// panics; cancellation never reaches it.
func (n *Nodes) Recover(s State, err error) Delta {
	return Delta{
		AgentName:   str(AgentSystem),
		FinalOutput: str(ApologyReply),
		AppendMessages: []Message{
			{Role: RoleAssistant, Content: ApologyReply, Agent: AgentSystem},
		},
	}
}
