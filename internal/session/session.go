// Package session implements the Session entity: identity, lifecycle
// status, conversation metadata and the append-only event log that
// backs replay. A Session is exclusively owned by the Session Manager;
// the Agent Bridge holds only a borrowed reference for pushing events.
package session

import (
	"sync"
	"time"

	"github.com/sentientmobilefurniture/sessiond/internal/eventlog"
)

// Status is one of the five lifecycle states in spec.md §4.4's state machine.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

// Active reports whether status belongs in the Session Manager's Active map.
func (s Status) Active() bool {
	return s == StatusPending || s == StatusInProgress
}

// Terminal reports whether status is one of the three finalization outcomes.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// RunMeta is the latest turn's completion statistics.
type RunMeta struct {
	Steps  int     `json:"steps"`
	Tokens int     `json:"tokens"`
	Time   float64 `json:"time"`
}

// Session holds identity, status, conversation metadata, the event log
// and the runtime-only fields (cancellation signal, idle finalizer
// handle) that are never persisted.
type Session struct {
	ID        string
	Scenario  string
	AlertText string

	Log *eventlog.Log

	mu          sync.Mutex
	status      Status
	createdAt   time.Time
	updatedAt   time.Time
	threadID    string
	turnCount   int
	steps       []eventlog.StepResponsePayload
	diagnosis   string
	runMeta     RunMeta
	errorDetail string

	cancelCh   chan struct{}
	cancelled  bool
	idleCancel func()
}

// New constructs a Pending session. It does not push any events or start
// the agent run; that is the Session Manager's job (create vs start).
func New(id, scenario, alertText string, maxEventLog int) *Session {
	now := time.Now()
	return &Session{
		ID:        id,
		Scenario:  scenario,
		AlertText: alertText,
		Log:       eventlog.New(maxEventLog),
		status:    StatusPending,
		createdAt: now,
		updatedAt: now,
		cancelCh:  make(chan struct{}),
	}
}

func (s *Session) touch() {
	s.updatedAt = time.Now()
}

// Status returns the current lifecycle status.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// SetStatus transitions status and advances updated_at.
func (s *Session) SetStatus(status Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = status
	s.touch()
}

// ThreadID returns the external conversation handle, or "" if none has
// been assigned yet.
func (s *Session) ThreadID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.threadID
}

// SetThreadID records the external thread handle. The bridge re-records
// it if the runtime issues a different one on a later turn (spec.md §9
// open question: thread-id change on follow-up is not forbidden).
func (s *Session) SetThreadID(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.threadID = id
	s.touch()
}

// TurnCount returns the number of turns observed so far.
func (s *Session) TurnCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.turnCount
}

// NextTurn increments and returns the new turn_count. Called once per
// user-initiated turn (send_follow_up); turn 0 is implicit at creation.
func (s *Session) NextTurn() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.turnCount++
	s.touch()
	return s.turnCount
}

// ErrorDetail returns the latest recorded failure detail, if any.
func (s *Session) ErrorDetail() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errorDetail
}

// SetErrorDetail records a failure. Cleared at the start of a follow-up.
func (s *Session) SetErrorDetail(msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errorDetail = msg
	s.touch()
}

// ClearErrorDetail resets error_detail, done at the start of a follow-up.
func (s *Session) ClearErrorDetail() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errorDetail = ""
	s.touch()
}

// Diagnosis returns the latest final response text.
func (s *Session) Diagnosis() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.diagnosis
}

// SetDiagnosis overwrites the latest-turn diagnosis (history lives in the
// event log, not here).
func (s *Session) SetDiagnosis(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.diagnosis = text
	s.touch()
}

// SetRunMeta overwrites the latest-turn completion statistics.
func (s *Session) SetRunMeta(m RunMeta) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runMeta = m
	s.touch()
}

// ResetTurnAggregates clears the per-turn derived fields (steps) at the
// start of a new turn; diagnosis/run_meta are left until overwritten by
// the new turn's completion so readers never see a transient empty state.
func (s *Session) ResetTurnAggregates() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.steps = nil
	s.touch()
}

// RecordStepComplete appends to the latest-turn steps aggregate. Called
// when a step_complete event is observed (spec.md §3).
func (s *Session) RecordStepComplete(step eventlog.StepResponsePayload) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.steps = append(s.steps, step)
	s.touch()
}

// RequestCancel sets the cooperative cancellation signal. Idempotent.
func (s *Session) RequestCancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.cancelled {
		s.cancelled = true
		close(s.cancelCh)
	}
}

// CancelRequested reports whether RequestCancel has been called.
func (s *Session) CancelRequested() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancelled
}

// CancelChan returns a channel closed when cancellation is requested, for
// use in select statements.
func (s *Session) CancelChan() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancelCh
}

// SetIdleFinalizer stashes the cancel function for a scheduled idle-
// timeout eviction, replacing (and implicitly cancelling, via the
// caller's own stop-and-replace convention) any prior one.
func (s *Session) SetIdleFinalizer(cancel func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.idleCancel = cancel
}

// CancelIdleFinalizer stops any scheduled idle-timeout eviction. Safe to
// call when none is scheduled.
func (s *Session) CancelIdleFinalizer() {
	s.mu.Lock()
	cancel := s.idleCancel
	s.idleCancel = nil
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// PushEvent appends an event to the log under its own serialisation
// (eventlog.Log.Push already locks), then advances updated_at under the
// session lock and, for step_complete, updates the derived steps
// aggregate. The two locks are taken one after the other, never nested,
// so a slow subscriber send (inside Push) never blocks a concurrent
// SetStatus/SetDiagnosis call.
func (s *Session) PushEvent(tag eventlog.Tag, turn int, payload any) {
	data := eventlog.MustMarshal(payload)
	s.Log.Push(eventlog.Event{
		Event:     tag,
		Turn:      turn,
		Data:      data,
		Timestamp: time.Now().Format(time.RFC3339Nano),
	})
	s.mu.Lock()
	s.touch()
	s.mu.Unlock()

	if tag == eventlog.TagStepComplete {
		if step, ok := payload.(eventlog.StepResponsePayload); ok {
			s.RecordStepComplete(step)
		}
	}
}

// Subscribe delegates to the event log.
func (s *Session) Subscribe(sinceIndex int) ([]eventlog.Event, chan eventlog.Event) {
	return s.Log.Subscribe(sinceIndex)
}

// Unsubscribe delegates to the event log.
func (s *Session) Unsubscribe(ch chan eventlog.Event) {
	s.Log.Unsubscribe(ch)
}

// EventCount delegates to the event log.
func (s *Session) EventCount() int {
	return s.Log.Count()
}

// Summary is the read-only projection returned by list_all.
type Summary struct {
	ID        string    `json:"id"`
	Scenario  string    `json:"scenario"`
	Status    Status    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	TurnCount int       `json:"turn_count"`
}

// Summarize returns a lightweight read-only snapshot for listing.
func (s *Session) Summarize() Summary {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Summary{
		ID:        s.ID,
		Scenario:  s.Scenario,
		Status:    s.status,
		CreatedAt: s.createdAt,
		UpdatedAt: s.updatedAt,
		TurnCount: s.turnCount,
	}
}

// Document is the full persisted shape (spec.md §6.3), including the
// event log snapshot. DocType is always "session".
type Document struct {
	DocType     string                         `json:"_docType"`
	ID          string                         `json:"id"`
	Scenario    string                         `json:"scenario"`
	Status      Status                         `json:"status"`
	CreatedAt   time.Time                      `json:"created_at"`
	UpdatedAt   time.Time                      `json:"updated_at"`
	AlertText   string                         `json:"alert_text"`
	ThreadID    string                         `json:"thread_id"`
	TurnCount   int                            `json:"turn_count"`
	Diagnosis   string                         `json:"diagnosis"`
	RunMeta     RunMeta                        `json:"run_meta"`
	ErrorDetail string                         `json:"error_detail"`
	Steps       []eventlog.StepResponsePayload `json:"steps"`
	EventLog    []eventlog.Event               `json:"event_log"`
}

// ToDocument builds the persistable snapshot of the session.
func (s *Session) ToDocument() Document {
	s.mu.Lock()
	doc := Document{
		DocType:     "session",
		ID:          s.ID,
		Scenario:    s.Scenario,
		Status:      s.status,
		CreatedAt:   s.createdAt,
		UpdatedAt:   s.updatedAt,
		AlertText:   s.AlertText,
		ThreadID:    s.threadID,
		TurnCount:   s.turnCount,
		Diagnosis:   s.diagnosis,
		RunMeta:     s.runMeta,
		ErrorDetail: s.errorDetail,
		Steps:       append([]eventlog.StepResponsePayload(nil), s.steps...),
	}
	s.mu.Unlock()
	doc.EventLog = s.Log.Snapshot()
	return doc
}
