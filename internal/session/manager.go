// Package session serializes turns per conversation thread and ties the
// assistant graph to its checkpoint lineage: load, run, trim, save.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/carebridge/carebridge/internal/assistant"
	"github.com/carebridge/carebridge/pkg/flow"
	"github.com/carebridge/carebridge/pkg/flow/checkpoint"
	"github.com/carebridge/carebridge/pkg/flow/observability"
)

// ErrThreadBusy indicates another turn is already in flight for the
// thread. Concurrent same-thread turns are rejected, not queued: both
// would read-modify-write the same checkpoint.
var ErrThreadBusy = errors.New("thread has a turn in flight")

// TimeoutReply is returned when a turn exceeds its wall-clock budget.
// The checkpoint stays at its last consistent state.
const TimeoutReply = "Sorry, that took too long to process. Please try again."

// TurnResult is the outcome of one turn, shaped for the transport layer.
type TurnResult struct {
	// Reply is the user-visible text. Never empty.
	Reply string `json:"reply"`
	// Structured carries the verbatim tool payload for direct tool
	// responses; nil otherwise.
	Structured json.RawMessage `json:"structured,omitempty"`
	// AgentName names the responder behind the reply.
	AgentName string `json:"agent"`
	// Suspended marks a turn paused awaiting confirmation.
	Suspended bool `json:"suspended"`
	// Token is the single-use resume token for a suspended turn.
	Token string `json:"resume_token,omitempty"`
	// Messages is the retained conversation history after the turn.
	Messages []assistant.Message `json:"messages"`
}

// Manager owns the per-thread turn lifecycle. Safe for concurrent use
// across threads; turns on the same thread are serialized by a
// per-thread lock.
type Manager struct {
	graph    *flow.CompiledGraph[assistant.State, assistant.Delta]
	store    checkpoint.Store
	settings assistant.Settings
	logger   *slog.Logger
	metrics  observability.MetricsRecorder

	mu    sync.Mutex
	locks map[string]*threadLock
}

// threadLock serializes turns on one thread. The refs count covers every
// goroutine holding or waiting to try the lock, so the map entry can be
// evicted once the last one releases.
type threadLock struct {
	mu   sync.Mutex
	refs int
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the manager's logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithMetrics sets the metrics recorder passed to runs. Default: no-op.
func WithMetrics(rec observability.MetricsRecorder) Option {
	return func(m *Manager) {
		if rec != nil {
			m.metrics = rec
		}
	}
}

// NewManager creates a session manager over a compiled graph and a
// checkpoint store.
func NewManager(graph *flow.CompiledGraph[assistant.State, assistant.Delta], store checkpoint.Store, settings assistant.Settings, opts ...Option) *Manager {
	m := &Manager{
		graph:    graph,
		store:    store,
		settings: settings,
		logger:   slog.Default(),
		metrics:  observability.NoopMetrics{},
		locks:    make(map[string]*threadLock),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// acquireThread takes the thread's lock without blocking. On success the
// caller must call the returned release. The lock entry is created on
// first use and evicted once nobody holds or contends it, so the map
// stays proportional to in-flight turns, not to thread IDs ever seen.
func (m *Manager) acquireThread(threadID string) (release func(), ok bool) {
	m.mu.Lock()
	l, exists := m.locks[threadID]
	if !exists {
		l = &threadLock{}
		m.locks[threadID] = l
	}
	l.refs++
	m.mu.Unlock()

	if !l.mu.TryLock() {
		m.releaseThread(threadID, l)
		return nil, false
	}
	return func() {
		l.mu.Unlock()
		m.releaseThread(threadID, l)
	}, true
}

func (m *Manager) releaseThread(threadID string, l *threadLock) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l.refs--
	if l.refs == 0 {
		delete(m.locks, threadID)
	}
}

// SubmitTurn processes one user utterance on a thread.
//
// If the thread's latest checkpoint is a suspension, the utterance is
// treated as the resume value for that suspension (the user answering
// the confirmation question in chat). Otherwise a fresh pass starts
// from the graph entry.
func (m *Manager) SubmitTurn(ctx context.Context, threadID, text string) (*TurnResult, error) {
	release, ok := m.acquireThread(threadID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrThreadBusy, threadID)
	}
	defer release()

	runCtx, cancel := context.WithTimeout(ctx, m.settings.TurnTimeout)
	defer cancel()

	if token, suspended := m.pendingSuspension(threadID); suspended {
		return m.resumeLocked(runCtx, threadID, token, text)
	}

	state, err := m.loadState(threadID)
	if err != nil {
		return nil, err
	}
	state = assistant.BeginTurn(state, text)

	fctx := flow.NewContext(runCtx,
		flow.WithThreadID(threadID),
		flow.WithLogger(m.logger))

	outcome, err := m.graph.Run(fctx, state, m.runOptions(threadID)...)
	return m.finishTurn(threadID, outcome, err)
}

// ResumeTurn resolves a suspension with an explicit token. A stale or
// already-resolved token fails with flow.ErrInterruptResolved; a thread
// with no suspension fails with flow.ErrNoSuspension.
func (m *Manager) ResumeTurn(ctx context.Context, threadID, token, value string) (*TurnResult, error) {
	release, ok := m.acquireThread(threadID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrThreadBusy, threadID)
	}
	defer release()

	runCtx, cancel := context.WithTimeout(ctx, m.settings.TurnTimeout)
	defer cancel()

	return m.resumeLocked(runCtx, threadID, token, value)
}

// resumeLocked runs the resume path. Caller holds the thread lock.
func (m *Manager) resumeLocked(ctx context.Context, threadID, token, value string) (*TurnResult, error) {
	fctx := flow.NewContext(ctx,
		flow.WithThreadID(threadID),
		flow.WithLogger(m.logger))

	outcome, err := m.graph.Resume(fctx, m.store, threadID, token, value, m.runOptions(threadID)...)
	return m.finishTurn(threadID, outcome, err)
}

// runOptions builds the per-run option set.
func (m *Manager) runOptions(threadID string) []flow.RunOption {
	return []flow.RunOption{
		flow.WithCheckpointing(m.store, threadID),
		flow.WithGraphName(assistant.GraphName),
		flow.WithMetrics(m.metrics),
	}
}

// pendingSuspension reports whether the thread's latest checkpoint is a
// suspension, returning its resume token.
func (m *Manager) pendingSuspension(threadID string) (string, bool) {
	data, err := m.store.Latest(threadID)
	if err != nil {
		return "", false
	}
	cp, err := checkpoint.Unmarshal(data)
	if err != nil {
		return "", false
	}
	if cp.Status != checkpoint.StatusSuspended {
		return "", false
	}
	return cp.InterruptID, true
}

// loadState loads the thread's latest state, or a fresh one for a new
// thread.
func (m *Manager) loadState(threadID string) (assistant.State, error) {
	data, err := m.store.Latest(threadID)
	if errors.Is(err, checkpoint.ErrNotFound) {
		return assistant.NewState(), nil
	}
	if err != nil {
		return assistant.State{}, fmt.Errorf("load checkpoint: %w", err)
	}

	cp, err := checkpoint.Unmarshal(data)
	if err != nil {
		return assistant.State{}, fmt.Errorf("unmarshal checkpoint: %w", err)
	}

	var state assistant.State
	if err := json.Unmarshal(cp.State, &state); err != nil {
		return assistant.State{}, fmt.Errorf("unmarshal state: %w", err)
	}
	return state, nil
}

// finishTurn converts a run outcome into a TurnResult, trims history, and
// persists the trimmed terminal state.
func (m *Manager) finishTurn(threadID string, outcome flow.Outcome[assistant.State], runErr error) (*TurnResult, error) {
	if runErr != nil {
		var cancelErr *flow.CancellationError
		if errors.As(runErr, &cancelErr) {
			m.logger.Warn("turn timed out",
				slog.String("thread_id", threadID),
				slog.String("node_id", cancelErr.NodeID))
			return &TurnResult{
				Reply:     TimeoutReply,
				AgentName: assistant.AgentSystem,
			}, nil
		}
		return nil, runErr
	}

	state := outcome.State

	if outcome.Suspended() {
		proposal, _ := outcome.Interrupt.Payload.(*assistant.BookingProposal)
		return &TurnResult{
			Reply:     assistant.ConfirmationPrompt(proposal),
			AgentName: state.AgentName,
			Suspended: true,
			Token:     outcome.Interrupt.Token,
			Messages:  state.Messages,
		}, nil
	}

	state = assistant.TrimHistory(state, m.settings.MaxHistory)
	if err := m.saveTrimmed(threadID, state); err != nil {
		m.logger.Warn("trim checkpoint failed",
			slog.String("thread_id", threadID),
			slog.String("error", err.Error()))
	}

	reply := state.FinalOutput
	if reply == "" {
		// Every turn yields some reply, even if the graph left nothing.
		reply = assistant.ApologyReply
	}

	result := &TurnResult{
		Reply:     reply,
		AgentName: state.AgentName,
		Messages:  state.Messages,
	}
	if state.IsDirectToolResponse {
		result.Structured = state.RawToolOutput
	}
	return result, nil
}

// saveTrimmed appends a checkpoint version carrying the trimmed state.
func (m *Manager) saveTrimmed(threadID string, state assistant.State) error {
	stateBytes, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}
	cp := checkpoint.New(threadID, stateBytes, flow.END)
	data, err := cp.Marshal()
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}
	return m.store.Save(threadID, data)
}
