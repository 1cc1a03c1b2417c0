package agentbridge

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

// wireEvent is the callback-shaped SSE frame the external agent-execution
// service emits while a run is in flight. The exact schema of this
// service is out of scope; this client only needs enough structure to
// translate frames into RunCallbacks invocations.
type wireEvent struct {
	Type       string `json:"type"`
	ThreadID   string `json:"thread_id,omitempty"`
	Agent      string `json:"agent,omitempty"`
	Status     string `json:"status,omitempty"`
	Step       int    `json:"step,omitempty"`
	Query      string `json:"query,omitempty"`
	Reasoning  string `json:"reasoning,omitempty"`
	Duration   float64 `json:"duration,omitempty"`
	Response   string `json:"response,omitempty"`
	IsAction   bool   `json:"is_action,omitempty"`
	Action     string `json:"action,omitempty"`
	ActionName string `json:"action_name,omitempty"`
	ActionData any    `json:"action_data,omitempty"`
	ToolOutput any    `json:"tool_output,omitempty"`
	Text       string `json:"text,omitempty"`
	Steps      int    `json:"steps,omitempty"`
	Tokens     int    `json:"tokens,omitempty"`
	Time       float64 `json:"time,omitempty"`
	Message    string `json:"message,omitempty"`
}

// HTTPRuntime is a Runtime implementation that drives an external agent-
// execution service over plain HTTP + SSE: a single POST starts the run,
// and its response body is read as an SSE stream of callback-shaped
// frames until a terminal frame arrives.
// Grounded on the SSE client idiom in the retrieved pack's controlplane
// execution streaming client, simplified to a single connection attempt
// (this service's own callers already retry whole turns per spec.md §4.2,
// so the client does not need its own reconnect loop).
type HTTPRuntime struct {
	BaseURL    string
	HTTPClient *http.Client
}

// NewHTTPRuntime constructs an HTTPRuntime against baseURL (the
// AGENT_RUNTIME_URL deployment setting).
func NewHTTPRuntime(baseURL string) *HTTPRuntime {
	return &HTTPRuntime{BaseURL: strings.TrimRight(baseURL, "/"), HTTPClient: &http.Client{}}
}

type runRequest struct {
	Prompt   string `json:"prompt"`
	ThreadID string `json:"thread_id,omitempty"`
}

// Run starts a run and blocks until a terminal frame (run_complete or
// error) is received, invoking cb for every intermediate frame.
func (h *HTTPRuntime) Run(ctx context.Context, prompt, threadID string, cb RunCallbacks) (RunResult, error) {
	body, err := json.Marshal(runRequest{Prompt: prompt, ThreadID: threadID})
	if err != nil {
		return RunResult{}, fmt.Errorf("encode run request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.BaseURL+"/runs", bytes.NewReader(body))
	if err != nil {
		return RunResult{}, fmt.Errorf("build run request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")

	resp, err := h.HTTPClient.Do(req)
	if err != nil {
		return RunResult{}, fmt.Errorf("agent runtime request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return RunResult{}, fmt.Errorf("agent runtime returned status %d", resp.StatusCode)
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var dataLine string
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "data:"):
			dataLine = strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		case line == "":
			if dataLine == "" {
				continue
			}
			var ev wireEvent
			if err := json.Unmarshal([]byte(dataLine), &ev); err != nil {
				dataLine = ""
				continue
			}
			dataLine = ""

			if result, done, doneErr := applyWireEvent(ev, cb); done {
				return result, doneErr
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return RunResult{}, fmt.Errorf("agent runtime stream read failed: %w", err)
	}
	return RunResult{}, fmt.Errorf("agent runtime stream closed without a terminal event")
}

// applyWireEvent dispatches one frame to cb, returning the final result
// once a terminal frame is seen.
func applyWireEvent(ev wireEvent, cb RunCallbacks) (RunResult, bool, error) {
	switch ev.Type {
	case "thread_created":
		if cb.ThreadCreated != nil {
			cb.ThreadCreated(ev.ThreadID)
		}
	case "step_thinking":
		if cb.StepThinking != nil {
			cb.StepThinking(ev.Agent, ev.Status)
		}
	case "step_started":
		if cb.StepStarted != nil {
			cb.StepStarted(ev.Step, ev.Agent, ev.Query, ev.Reasoning)
		}
	case "step_complete":
		if cb.StepComplete != nil {
			cb.StepComplete(StepResult{
				Step: ev.Step, Agent: ev.Agent, Duration: ev.Duration, Query: ev.Query,
				Raw: ev.Response, Reasoning: ev.Reasoning, IsAction: ev.IsAction, Action: ev.Action,
				ToolOutput: ev.ToolOutput,
			})
		}
	case "action_executed":
		if cb.ActionExecuted != nil {
			cb.ActionExecuted(ev.Step, ev.ActionName, ev.ActionData)
		}
	case "run_complete":
		return RunResult{Text: ev.Text, Steps: ev.Steps, Tokens: ev.Tokens, Time: ev.Time}, true, nil
	case "error":
		return RunResult{}, true, fmt.Errorf("%s", ev.Message)
	}
	return RunResult{}, false, nil
}

// LastAssistantMessage asks the runtime for the last assistant message on
// an existing thread, used as the empty-response fallback (spec.md §4.2).
func (h *HTTPRuntime) LastAssistantMessage(ctx context.Context, threadID string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.BaseURL+"/threads/"+threadID+"/last-message", nil)
	if err != nil {
		return "", err
	}
	resp, err := h.HTTPClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("agent runtime returned status %d", resp.StatusCode)
	}

	var out struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", err
	}
	return out.Text, nil
}
