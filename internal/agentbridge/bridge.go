package agentbridge

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/sentientmobilefurniture/sessiond/internal/eventlog"
	"github.com/sentientmobilefurniture/sessiond/internal/session"
)

// capacityMarkers are substrings that classify a runtime error as
// capacity/rate-limit rather than a generic transient failure (spec.md
// §4.2: HTTP 429, 503, or explicit circuit-breaker indicators).
var capacityMarkers = []string{"429", "503", "circuit breaker", "circuit-open", "circuit_open", "rate limit", "rate-limit"}

// IsCapacityError classifies err: capacity/rate-limit errors are not
// retried, to avoid amplifying load against an already-overloaded
// dependency.
func IsCapacityError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range capacityMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// Bridge runs one turn of the agent workflow against a Runtime and pushes
// the resulting event sequence into a session (spec.md §4.2).
type Bridge struct {
	runtime     Runtime
	maxAttempts int
	log         *slog.Logger
}

// New constructs a Bridge. maxAttempts is AGENT_MAX_ATTEMPTS (default 2).
func New(runtime Runtime, maxAttempts int, log *slog.Logger) *Bridge {
	if maxAttempts <= 0 {
		maxAttempts = 2
	}
	if log == nil {
		log = slog.Default()
	}
	return &Bridge{runtime: runtime, maxAttempts: maxAttempts, log: log}
}

// RunTurn executes one turn for sess and pushes events per the sequence
// in spec.md §4.2. The caller (Session Manager) is responsible for having
// already pushed the turn's user_message event. threadID is "" on the
// session's first turn.
//
// RunTurn runs synchronously from the Session Manager's per-session
// background worker goroutine; it is itself the single background worker
// the concurrency model requires (spec.md §5), so it never spawns
// additional goroutines of its own beyond what the Runtime implementation
// does internally.
func (b *Bridge) RunTurn(ctx context.Context, sess *session.Session, turn int, threadID string) {
	runID := uuid.NewString()
	sess.PushEvent(eventlog.TagRunStart, turn, eventlog.RunStartPayload{
		RunID:     runID,
		Alert:     sess.AlertText,
		Timestamp: time.Now().Format(time.RFC3339Nano),
	})

	cb := b.callbacksFor(sess, turn)

	var result RunResult
	var runErr error

	for attempt := 1; attempt <= b.maxAttempts; attempt++ {
		result, runErr = b.runtime.Run(ctx, sess.AlertText, threadID, cb)
		if runErr == nil {
			break
		}
		if IsCapacityError(runErr) {
			b.log.Warn("agent run hit capacity error, not retrying", "session_id", sess.ID, "error", runErr)
			break
		}
		if attempt < b.maxAttempts {
			if sess.CancelRequested() {
				b.log.Info("agent run cancelled before retry", "session_id", sess.ID)
				break
			}
			b.log.Warn("agent run failed, retrying", "session_id", sess.ID, "attempt", attempt, "error", runErr)
		}
	}

	if runErr != nil {
		sess.SetErrorDetail(runErr.Error())
		sess.PushEvent(eventlog.TagError, turn, eventlog.ErrorPayload{Message: runErr.Error()})
		return
	}

	text := result.Text
	if text == "" {
		if fallback, err := b.runtime.LastAssistantMessage(ctx, sess.ThreadID()); err == nil {
			text = fallback
		} else {
			b.log.Warn("empty-response fallback failed", "session_id", sess.ID, "error", err)
		}
	}

	sess.SetDiagnosis(text)
	sess.PushEvent(eventlog.TagMessage, turn, eventlog.MessagePayload{Text: text})

	meta := session.RunMeta{Steps: result.Steps, Tokens: result.Tokens, Time: result.Time}
	sess.SetRunMeta(meta)
	sess.PushEvent(eventlog.TagRunComplete, turn, eventlog.RunCompletePayload{
		Steps: meta.Steps, Tokens: meta.Tokens, Time: meta.Time,
	})
}

// callbacksFor binds RunCallbacks to sess/turn so the runtime's
// callback-driven thread marshals events onto the session's thread-safe
// event log via Session.PushEvent (itself backed by eventlog.Log.Push,
// which never holds its lock across a subscriber send).
func (b *Bridge) callbacksFor(sess *session.Session, turn int) RunCallbacks {
	return RunCallbacks{
		ThreadCreated: func(threadID string) {
			existing := sess.ThreadID()
			sess.SetThreadID(threadID)
			if turn == 0 && existing == "" {
				sess.PushEvent(eventlog.TagThreadCreated, turn, eventlog.ThreadCreatedPayload{ThreadID: threadID})
			}
		},
		StepThinking: func(agent, status string) {
			sess.PushEvent(eventlog.TagStepThinking, turn, eventlog.StepThinkingPayload{Agent: agent, Status: status})
		},
		StepStarted: func(step int, agent, query, reasoning string) {
			sess.PushEvent(eventlog.TagStepStarted, turn, eventlog.StepStartedPayload{
				Step: step, Agent: agent, Query: query, Reasoning: reasoning,
				Timestamp: time.Now().Format(time.RFC3339Nano),
			})
		},
		StepComplete: func(result StepResult) {
			payload := eventlog.StepResponsePayload{
				Step:           result.Step,
				Agent:          result.Agent,
				Duration:       result.Duration,
				Query:          result.Query,
				Response:       result.Raw,
				Visualizations: ClassifyVisualization(result.Raw),
				Reasoning:      result.Reasoning,
				IsAction:       result.IsAction,
				Action:         result.Action,
				ToolOutput:     result.ToolOutput,
			}
			// step_response and step_complete are emitted back-to-back
			// with an identical payload (spec.md §4.2, §5 ordering
			// guarantee; spec.md §9 treats this pairing as contractual).
			sess.PushEvent(eventlog.TagStepResponse, turn, payload)
			sess.PushEvent(eventlog.TagStepComplete, turn, payload)
		},
		ActionExecuted: func(step int, actionName string, actionData any) {
			sess.PushEvent(eventlog.TagActionExecuted, turn, eventlog.ActionExecutedPayload{
				Step: step, ActionName: actionName, ActionData: actionData,
				Timestamp: time.Now().Format(time.RFC3339Nano),
			})
		},
	}
}
