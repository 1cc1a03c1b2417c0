// Package agentbridge adapts the external, callback-driven agent runtime
// into the session's event stream. It is the callback-to-stream adapter
// described in spec.md §4.2 and design note "Callback-to-stream bridge":
// a single background worker per session marshals runtime-thread
// callbacks onto the session's thread-safe event log.
package agentbridge

import "context"

// StepResult is delivered by the runtime's StepComplete callback. Raw is
// the sub-agent's raw response text, which may embed the delimited
// query/results/analysis format parsed by ClassifyVisualization.
type StepResult struct {
	Step      int
	Agent     string
	Duration  float64
	Query     string
	Raw       string
	Reasoning string
	IsAction  bool
	Action    string
	// ToolOutput is attached by the runtime from its per-run tool-call
	// cache (spec.md §4.2 "Tool/action callbacks"), keyed by call id and
	// resolved by the runtime itself before invoking this callback.
	ToolOutput any
}

// RunCallbacks is the set of callbacks the bridge registers with the
// runtime for a single turn. The runtime may invoke these from a
// goroutine (or OS thread) of its own choosing; the bridge is the only
// thing that marshals them onto the session's event log.
type RunCallbacks struct {
	ThreadCreated  func(threadID string)
	StepThinking   func(agent, status string)
	StepStarted    func(step int, agent, query, reasoning string)
	StepComplete   func(result StepResult)
	ActionExecuted func(step int, actionName string, actionData any)
}

// RunResult is the runtime's final response for a turn.
type RunResult struct {
	Text   string
	Steps  int
	Tokens int
	Time   float64
}

// Runtime is the external collaborator interface spec.md §4.2 requires:
// "accepts a query + optional prior thread ID, invokes registered
// callbacks, returns a response." Run blocks until the turn completes,
// errors, or ctx is done; cb's methods may be called from a different
// goroutine than the one that called Run.
type Runtime interface {
	Run(ctx context.Context, prompt, threadID string, cb RunCallbacks) (RunResult, error)

	// LastAssistantMessage supports the empty-response fallback
	// (spec.md §4.2): if a run completes with no message text, the
	// bridge queries the runtime's message history for the most recent
	// assistant message.
	LastAssistantMessage(ctx context.Context, threadID string) (string, error)
}
