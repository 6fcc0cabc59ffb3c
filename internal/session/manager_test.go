package session

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carebridge/carebridge/internal/agents"
	"github.com/carebridge/carebridge/internal/assistant"
	"github.com/carebridge/carebridge/pkg/flow"
	"github.com/carebridge/carebridge/pkg/flow/checkpoint"
)

type stubGuard struct{}

func (stubGuard) Check(context.Context, string, agents.Direction) (agents.Verdict, error) {
	return agents.Verdict{Safe: true}, nil
}

type stubClassifier struct {
	agent string
}

func (c stubClassifier) Classify(context.Context, string, string) (agents.Decision, error) {
	return agents.Decision{Agent: c.agent, Confidence: 0.9}, nil
}

type stubResponder struct {
	resp agents.Response

	// started and release, when set, make Respond block until released.
	started chan struct{}
	release chan struct{}

	// waitForCtx makes Respond block until the context is done.
	waitForCtx bool
}

func (r *stubResponder) Respond(ctx context.Context, _ string, _ string) (agents.Response, error) {
	if r.waitForCtx {
		<-ctx.Done()
		return agents.Response{}, ctx.Err()
	}
	if r.started != nil {
		close(r.started)
		<-r.release
	}
	return r.resp, nil
}

type stubInvoker struct {
	payloads map[string]json.RawMessage
	invoked  []string
}

func (i *stubInvoker) Invoke(_ context.Context, name string, _ json.RawMessage) (json.RawMessage, error) {
	i.invoked = append(i.invoked, name)
	return i.payloads[name], nil
}

type fixture struct {
	manager      *Manager
	store        *checkpoint.MemoryStore
	conversation *stubResponder
	scheduler    *stubResponder
	invoker      *stubInvoker
}

func newFixture(t *testing.T, settings assistant.Settings, classifyAs string) *fixture {
	t.Helper()

	f := &fixture{
		store:        checkpoint.NewMemoryStore(),
		conversation: &stubResponder{resp: agents.Response{Text: "hi there", Confidence: 1.0}},
		scheduler:    &stubResponder{resp: agents.Response{Text: "scheduling", Confidence: 1.0}},
		invoker:      &stubInvoker{payloads: map[string]json.RawMessage{}},
	}
	t.Cleanup(func() { f.store.Close() })

	nodes := assistant.NewNodes(settings, stubGuard{}, stubClassifier{agent: classifyAs},
		map[string]agents.Responder{
			assistant.AgentConversation: f.conversation,
			assistant.AgentRAG:          f.conversation,
			assistant.AgentWebSearch:    f.conversation,
			assistant.AgentScheduler:    f.scheduler,
		}, f.invoker)

	graph, err := assistant.BuildGraph(nodes)
	require.NoError(t, err)

	f.manager = NewManager(graph, f.store, settings)
	return f
}

func proposalResponse() agents.Response {
	return agents.Response{
		Text: "I can book Dr. Chen at 10:00.",
		ToolResults: []agents.ToolResult{
			{Name: "propose_booking", Payload: json.RawMessage(`{"doctor":"Dr. Chen","time":"2026-09-01T10:00"}`)},
		},
	}
}

func TestSubmitTurn_SimpleReply(t *testing.T) {
	f := newFixture(t, assistant.DefaultSettings(), assistant.AgentConversation)

	result, err := f.manager.SubmitTurn(context.Background(), "t1", "Hello")
	require.NoError(t, err)

	assert.Equal(t, "hi there", result.Reply)
	assert.Equal(t, assistant.AgentConversation, result.AgentName)
	assert.False(t, result.Suspended)
	assert.Nil(t, result.Structured)
	require.Len(t, result.Messages, 2)
	assert.Equal(t, "Hello", result.Messages[0].Content)
}

func TestSubmitTurn_RejectsConcurrentSameThread(t *testing.T) {
	f := newFixture(t, assistant.DefaultSettings(), assistant.AgentConversation)
	f.conversation.started = make(chan struct{})
	f.conversation.release = make(chan struct{})

	done := make(chan error, 1)
	go func() {
		_, err := f.manager.SubmitTurn(context.Background(), "t1", "first")
		done <- err
	}()

	<-f.conversation.started

	_, err := f.manager.SubmitTurn(context.Background(), "t1", "second")
	assert.ErrorIs(t, err, ErrThreadBusy)

	close(f.conversation.release)
	require.NoError(t, <-done)
}

func TestSubmitTurn_ThreadLocksEvicted(t *testing.T) {
	f := newFixture(t, assistant.DefaultSettings(), assistant.AgentConversation)

	_, err := f.manager.SubmitTurn(context.Background(), "t1", "Hello")
	require.NoError(t, err)
	_, err = f.manager.SubmitTurn(context.Background(), "t2", "Hello")
	require.NoError(t, err)

	f.manager.mu.Lock()
	defer f.manager.mu.Unlock()
	assert.Empty(t, f.manager.locks, "lock entries must not outlive their turns")
}

func TestSubmitTurn_OtherThreadsUnaffected(t *testing.T) {
	f := newFixture(t, assistant.DefaultSettings(), assistant.AgentConversation)
	f.conversation.started = make(chan struct{})
	f.conversation.release = make(chan struct{})

	done := make(chan error, 1)
	go func() {
		_, err := f.manager.SubmitTurn(context.Background(), "t1", "first")
		done <- err
	}()

	<-f.conversation.started

	// t2 shares the responder, so release it before submitting.
	f.conversation.started = nil
	close(f.conversation.release)
	require.NoError(t, <-done)

	result, err := f.manager.SubmitTurn(context.Background(), "t2", "hello")
	require.NoError(t, err)
	assert.Equal(t, "hi there", result.Reply)
}

func TestSubmitTurn_TrimsHistory(t *testing.T) {
	settings := assistant.DefaultSettings()
	settings.MaxHistory = 4
	f := newFixture(t, settings, assistant.AgentConversation)

	var result *TurnResult
	var err error
	for i := 0; i < 5; i++ {
		result, err = f.manager.SubmitTurn(context.Background(), "t1", "turn")
		require.NoError(t, err)
	}

	assert.LessOrEqual(t, len(result.Messages), 4)
	assert.Equal(t, "hi there", result.Messages[len(result.Messages)-1].Content)
}

func TestSubmitTurn_SuspendsForConfirmation(t *testing.T) {
	f := newFixture(t, assistant.DefaultSettings(), assistant.AgentScheduler)
	f.scheduler.resp = proposalResponse()

	result, err := f.manager.SubmitTurn(context.Background(), "t1", "book me with Dr. Chen")
	require.NoError(t, err)

	assert.True(t, result.Suspended)
	assert.NotEmpty(t, result.Token)
	assert.Contains(t, result.Reply, "Dr. Chen")
	assert.Contains(t, result.Reply, "(yes/no)")
	assert.Empty(t, f.invoker.invoked)
}

func TestSubmitTurn_PlainMessageResumesSuspension(t *testing.T) {
	f := newFixture(t, assistant.DefaultSettings(), assistant.AgentScheduler)
	f.scheduler.resp = proposalResponse()
	confirmed := json.RawMessage(`{"status":"confirmed"}`)
	f.invoker.payloads["book_appointment"] = confirmed

	first, err := f.manager.SubmitTurn(context.Background(), "t1", "book me with Dr. Chen")
	require.NoError(t, err)
	require.True(t, first.Suspended)

	// The next chat message answers the confirmation question.
	second, err := f.manager.SubmitTurn(context.Background(), "t1", "yes")
	require.NoError(t, err)

	assert.False(t, second.Suspended)
	assert.Equal(t, []string{"book_appointment"}, f.invoker.invoked)
	assert.Equal(t, string(confirmed), second.Reply)
	assert.Equal(t, confirmed, second.Structured)
}

func TestSubmitTurn_ResumeAnswerRecordedInHistory(t *testing.T) {
	f := newFixture(t, assistant.DefaultSettings(), assistant.AgentScheduler)
	f.scheduler.resp = proposalResponse()

	_, err := f.manager.SubmitTurn(context.Background(), "t1", "book me with Dr. Chen")
	require.NoError(t, err)

	result, err := f.manager.SubmitTurn(context.Background(), "t1", "not yet")
	require.NoError(t, err)

	// The persisted history shows the user's answer before the outcome.
	require.GreaterOrEqual(t, len(result.Messages), 2)
	answer := result.Messages[len(result.Messages)-2]
	assert.Equal(t, assistant.RoleUser, answer.Role)
	assert.Equal(t, "not yet", answer.Content)
	assert.Equal(t, assistant.DeclineReply, result.Messages[len(result.Messages)-1].Content)
}

func TestResumeTurn_ExplicitToken(t *testing.T) {
	f := newFixture(t, assistant.DefaultSettings(), assistant.AgentScheduler)
	f.scheduler.resp = proposalResponse()

	first, err := f.manager.SubmitTurn(context.Background(), "t1", "book me")
	require.NoError(t, err)
	require.True(t, first.Suspended)

	result, err := f.manager.ResumeTurn(context.Background(), "t1", first.Token, "no")
	require.NoError(t, err)

	assert.False(t, result.Suspended)
	assert.Equal(t, assistant.DeclineReply, result.Reply)
	assert.Empty(t, f.invoker.invoked)
}

func TestResumeTurn_StaleToken(t *testing.T) {
	f := newFixture(t, assistant.DefaultSettings(), assistant.AgentScheduler)
	f.scheduler.resp = proposalResponse()

	first, err := f.manager.SubmitTurn(context.Background(), "t1", "book me")
	require.NoError(t, err)

	_, err = f.manager.ResumeTurn(context.Background(), "t1", first.Token, "no")
	require.NoError(t, err)

	_, err = f.manager.ResumeTurn(context.Background(), "t1", first.Token, "no")
	assert.ErrorIs(t, err, flow.ErrInterruptResolved)
}

func TestResumeTurn_NoSuspension(t *testing.T) {
	f := newFixture(t, assistant.DefaultSettings(), assistant.AgentConversation)

	_, err := f.manager.ResumeTurn(context.Background(), "fresh-thread", "some-token", "yes")
	assert.ErrorIs(t, err, flow.ErrNoSuspension)
}

func TestSubmitTurn_TimeoutYieldsTimeoutReply(t *testing.T) {
	settings := assistant.DefaultSettings()
	settings.TurnTimeout = 50 * time.Millisecond
	f := newFixture(t, settings, assistant.AgentConversation)
	f.conversation.waitForCtx = true

	result, err := f.manager.SubmitTurn(context.Background(), "t1", "Hello")
	require.NoError(t, err)

	assert.Equal(t, TimeoutReply, result.Reply)
	assert.Equal(t, assistant.AgentSystem, result.AgentName)

	// No checkpoint from the aborted turn.
	_, err = f.store.Latest("t1")
	assert.ErrorIs(t, err, checkpoint.ErrNotFound)
}

func TestSubmitTurn_HistoryPersistsAcrossTurns(t *testing.T) {
	f := newFixture(t, assistant.DefaultSettings(), assistant.AgentConversation)

	_, err := f.manager.SubmitTurn(context.Background(), "t1", "first")
	require.NoError(t, err)

	result, err := f.manager.SubmitTurn(context.Background(), "t1", "second")
	require.NoError(t, err)

	require.Len(t, result.Messages, 4)
	assert.Equal(t, "first", result.Messages[0].Content)
	assert.Equal(t, "second", result.Messages[2].Content)
}
