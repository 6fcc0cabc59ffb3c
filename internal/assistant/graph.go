package assistant

import (
	"github.com/carebridge/carebridge/pkg/flow"
)

// GraphName identifies the assistant graph in logs and spans.
const GraphName = "carebridge"

// BuildGraph wires the assistant graph and compiles it.
//
//	guard_in ─ route ─┬─ conversation ──────────────┐
//	                  ├─ rag ──(low conf)─ web_search┤
//	                  ├─ web_search ─────────────────┤
//	                  └─ scheduler ─┬─ confirm ─ commit ─┬─ direct_response
//	                                └────────────────────┴─ check_validation
//	                                      check_validation ─ [human_validation] ─ guard_out
//
// Both gates short-circuit to END when they set a final output; the
// confirm interrupt suspends the run until the caller resumes it.
func BuildGraph(n *Nodes) (*flow.CompiledGraph[State, Delta], error) {
	g := flow.NewGraph[State, Delta](Merge)

	g.AddGate(NodeGuardIn, n.GuardIn)
	g.AddNode(NodeRoute, n.Route)
	g.AddAgent(NodeConversation, n.Conversation)
	g.AddAgent(NodeKnowledge, n.Knowledge)
	g.AddAgent(NodeWebSearch, n.WebSearch)
	g.AddAgent(NodeScheduler, n.Scheduler)
	g.AddInterrupt(NodeConfirm, n.ConfirmPrompt, n.ConfirmResume)
	g.AddNode(NodeCommit, n.Commit)
	g.AddNode(NodeDirectResponse, n.DirectResponse)
	g.AddNode(NodeCheckValidation, n.CheckValidation)
	g.AddNode(NodeHumanValidation, n.HumanValidation)
	g.AddGate(NodeGuardOut, n.GuardOut)

	g.SetEntry(NodeGuardIn)
	g.SetShortCircuit(func(s State) bool { return s.FinalOutput != "" })
	g.SetRecovery(n.Recover)

	g.AddEdge(NodeGuardIn, NodeRoute)
	g.AddConditionalEdge(NodeRoute, n.RouteDecision, map[string]string{
		AgentConversation: NodeConversation,
		AgentRAG:          NodeKnowledge,
		AgentWebSearch:    NodeWebSearch,
		AgentScheduler:    NodeScheduler,
	})

	g.AddEdge(NodeConversation, NodeCheckValidation)
	g.AddConditionalEdge(NodeKnowledge, n.ConfidenceRoute, map[string]string{
		"fallback": NodeWebSearch,
		"validate": NodeCheckValidation,
	})
	g.AddEdge(NodeWebSearch, NodeCheckValidation)

	g.AddConditionalEdge(NodeScheduler, n.AfterScheduler, map[string]string{
		"confirm":  NodeConfirm,
		"direct":   NodeDirectResponse,
		"validate": NodeCheckValidation,
	})
	g.AddConditionalEdge(NodeConfirm, n.AfterConfirm, map[string]string{
		"commit": NodeCommit,
		"done":   flow.END,
	})
	g.AddConditionalEdge(NodeCommit, n.AfterCommit, map[string]string{
		"direct":   NodeDirectResponse,
		"validate": NodeCheckValidation,
	})

	g.AddEdge(NodeDirectResponse, flow.END)
	g.AddConditionalEdge(NodeCheckValidation, n.ValidationRoute, map[string]string{
		"human": NodeHumanValidation,
		"guard": NodeGuardOut,
	})
	g.AddEdge(NodeHumanValidation, NodeGuardOut)
	g.AddEdge(NodeGuardOut, flow.END)

	return g.Compile()
}
