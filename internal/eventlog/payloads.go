package eventlog

// UserMessagePayload is the payload for a user_message event.
type UserMessagePayload struct {
	Text string `json:"text"`
}

// RunStartPayload is the payload for a run_start event.
type RunStartPayload struct {
	RunID     string `json:"run_id"`
	Alert     string `json:"alert"`
	Timestamp string `json:"timestamp"`
}

// ThreadCreatedPayload is the payload for a thread_created event.
type ThreadCreatedPayload struct {
	ThreadID string `json:"thread_id"`
}

// StepThinkingPayload is the payload for a step_thinking event.
type StepThinkingPayload struct {
	Agent  string `json:"agent"`
	Status string `json:"status"`
}

// StepStartedPayload is the payload for a step_started event.
type StepStartedPayload struct {
	Step      int    `json:"step"`
	Agent     string `json:"agent"`
	Query     string `json:"query,omitempty"`
	Reasoning string `json:"reasoning,omitempty"`
	Timestamp string `json:"timestamp"`
}

// Visualization is an optional rendering hint attached to a step response.
// Kind is one of "graph", "table" or "documents" (see ClassifyVisualization).
type Visualization struct {
	Kind string `json:"kind"`
	Data any    `json:"data"`
}

// StepResponsePayload is the payload shared by step_response and
// step_complete — the pair is emitted back-to-back with identical
// payloads for historical-consumer compatibility.
type StepResponsePayload struct {
	Step           int             `json:"step"`
	Agent          string          `json:"agent"`
	Duration       float64         `json:"duration"`
	Query          string          `json:"query"`
	Response       string          `json:"response"`
	Visualizations []Visualization `json:"visualizations,omitempty"`
	Reasoning      string          `json:"reasoning,omitempty"`
	IsAction       bool            `json:"is_action,omitempty"`
	Action         string          `json:"action,omitempty"`
	// ToolOutput carries the per-run tool-call cache result attached to
	// this step, when the step invoked a synchronous tool function.
	ToolOutput any `json:"tool_output,omitempty"`
}

// ActionExecutedPayload is the payload for an action_executed event.
type ActionExecutedPayload struct {
	Step       int    `json:"step"`
	ActionName string `json:"action_name"`
	ActionData any    `json:"action_data"`
	Timestamp  string `json:"timestamp"`
}

// MessagePayload is the payload for the final-response message event.
type MessagePayload struct {
	Text string `json:"text"`
}

// RunCompletePayload is the payload for a successful run_complete event.
type RunCompletePayload struct {
	Steps int     `json:"steps"`
	Tokens int    `json:"tokens"`
	Time  float64 `json:"time"`
}

// ErrorPayload is the payload for an error event.
type ErrorPayload struct {
	Message string `json:"message"`
}

// StatusChangePayload is the payload for an out-of-band status_change event.
type StatusChangePayload struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// DonePayload is the payload for the terminal done sentinel.
type DonePayload struct {
	Status string `json:"status"`
}
