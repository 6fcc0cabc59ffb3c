package assistant

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/carebridge/carebridge/internal/agents"
	"github.com/carebridge/carebridge/pkg/flow"
)

// fakeGuard returns scripted verdicts per direction.
type fakeGuard struct {
	inSafe    bool
	inReason  string
	outSafe   bool
	outReason string
	inErr     error
	outErr    error
	calls     int
}

func safeGuard() *fakeGuard {
	return &fakeGuard{inSafe: true, outSafe: true}
}

func (g *fakeGuard) Check(_ context.Context, _ string, dir agents.Direction) (agents.Verdict, error) {
	g.calls++
	if dir == agents.DirectionInput {
		if g.inErr != nil {
			return agents.Verdict{}, g.inErr
		}
		return agents.Verdict{Safe: g.inSafe, Reason: g.inReason}, nil
	}
	if g.outErr != nil {
		return agents.Verdict{}, g.outErr
	}
	return agents.Verdict{Safe: g.outSafe, Reason: g.outReason}, nil
}

// fakeClassifier returns a fixed decision or error.
type fakeClassifier struct {
	agent      string
	confidence float64
	err        error
}

func (c *fakeClassifier) Classify(_ context.Context, _ string, _ string) (agents.Decision, error) {
	if c.err != nil {
		return agents.Decision{}, c.err
	}
	return agents.Decision{Agent: c.agent, Confidence: c.confidence, Reasoning: "scripted"}, nil
}

// fakeResponder returns a scripted response or error.
type fakeResponder struct {
	resp  agents.Response
	err   error
	calls int
}

func (r *fakeResponder) Respond(_ context.Context, _ string, _ string) (agents.Response, error) {
	r.calls++
	if r.err != nil {
		return agents.Response{}, r.err
	}
	return r.resp, nil
}

// fakeInvoker records invocations and returns scripted payloads by name.
type fakeInvoker struct {
	payloads map[string]json.RawMessage
	errs     map[string]error
	invoked  []string
}

func newFakeInvoker() *fakeInvoker {
	return &fakeInvoker{
		payloads: map[string]json.RawMessage{},
		errs:     map[string]error{},
	}
}

func (i *fakeInvoker) Invoke(_ context.Context, name string, _ json.RawMessage) (json.RawMessage, error) {
	i.invoked = append(i.invoked, name)
	if err := i.errs[name]; err != nil {
		return nil, err
	}
	if p, ok := i.payloads[name]; ok {
		return p, nil
	}
	return nil, fmt.Errorf("unknown tool %q", name)
}

// testHarness bundles the fakes behind a Nodes instance.
type testHarness struct {
	guard      *fakeGuard
	classifier *fakeClassifier
	responders map[string]*fakeResponder
	invoker    *fakeInvoker
	nodes      *Nodes
}

func newHarness(settings Settings) *testHarness {
	h := &testHarness{
		guard:      safeGuard(),
		classifier: &fakeClassifier{agent: AgentConversation, confidence: 0.9},
		responders: map[string]*fakeResponder{
			AgentConversation: {resp: agents.Response{Text: "hi there", Confidence: 1.0}},
			AgentRAG:          {resp: agents.Response{Text: "from the docs", Confidence: 0.9}},
			AgentWebSearch:    {resp: agents.Response{Text: "from the web", Confidence: 1.0}},
			AgentScheduler:    {resp: agents.Response{Text: "scheduling", Confidence: 1.0}},
		},
		invoker: newFakeInvoker(),
	}

	responders := make(map[string]agents.Responder, len(h.responders))
	for name, r := range h.responders {
		responders[name] = r
	}
	h.nodes = NewNodes(settings, h.guard, h.classifier, responders, h.invoker)
	return h
}

func nodeCtx() flow.Context {
	return flow.NewContext(context.Background())
}
