// Package manager implements the Session Manager: the process-wide
// registry of active and recently-completed sessions, admission control,
// turn lifecycle, idle eviction and crash recovery (spec.md §4.4).
//
// Grounded on the teacher's pkg/session/manager.go for the map-of-
// sessions shape, and on pkg/agent/orchestrator/runner.go for the
// admission-check-under-lock and per-session worker lifecycle pattern.
package manager

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sentientmobilefurniture/sessiond/internal/agentbridge"
	"github.com/sentientmobilefurniture/sessiond/internal/eventlog"
	"github.com/sentientmobilefurniture/sessiond/internal/metrics"
	"github.com/sentientmobilefurniture/sessiond/internal/persistence"
	"github.com/sentientmobilefurniture/sessiond/internal/session"
	"github.com/sentientmobilefurniture/sessiond/internal/store"
)

// Manager owns the Active and Recent maps described in spec.md §3. All
// map mutations happen under mu; each Session additionally guards its own
// mutable fields and event log independently (spec.md §5).
type Manager struct {
	cfg Config
	log *slog.Logger

	// baseCtx is the application-lifetime context background workers run
	// under. It must outlive any single HTTP request: an agent run started
	// by a POST /sessions handler keeps running after that handler returns
	// and its request context is cancelled.
	baseCtx context.Context

	mu           sync.Mutex
	active       map[string]*session.Session
	recent       map[string]*session.Session
	recentOrder  []string // FIFO eviction order
	scenarioByID map[string]string

	store   store.DocumentStore
	persist *persistence.Worker
	bridge  *agentbridge.Bridge

	// timeAfter is swappable in tests to avoid real 600s sleeps.
	timeAfter func(d time.Duration) <-chan time.Time
}

// New constructs a Manager. Call Recover once at startup before serving
// traffic (spec.md §4.3's recovery pass).
func New(cfg Config, st store.DocumentStore, runtime agentbridge.Runtime, log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	m := &Manager{
		cfg:          cfg,
		log:          log,
		baseCtx:      context.Background(),
		active:       make(map[string]*session.Session),
		recent:       make(map[string]*session.Session),
		scenarioByID: make(map[string]string),
		store:        st,
		timeAfter:    time.After,
	}
	m.persist = persistence.New(st, log, m.onPersistFailure)
	m.bridge = agentbridge.New(runtime, cfg.AgentMaxAttempts, log)
	return m
}

// onPersistFailure is invoked when the persistence worker exhausts
// retries; the session simply stays in memory (it is already there) for
// the next opportunity to persist, per spec.md §4.3.
func (m *Manager) onPersistFailure(doc session.Document, err error) {
	m.log.Error("session retained in memory after exhausting persistence retries", "session_id", doc.ID, "error", err)
}

// Recover runs the startup crash-recovery pass (spec.md §4.3 / property 9).
func (m *Manager) Recover(ctx context.Context) error {
	return m.persist.RecoverInProgress(ctx)
}

// Create admits a new Pending session (spec.md §4.4). It does not start
// the agent run.
func (m *Manager) Create(scenario, alertText string) (*session.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.countActiveLocked() >= m.cfg.MaxActive {
		metrics.RecordAdmissionRejection()
		return nil, ErrTooMany
	}

	id := uuid.NewString()
	sess := session.New(id, scenario, alertText, m.cfg.MaxEventLog)
	m.active[id] = sess
	m.scenarioByID[id] = scenario
	metrics.SetRegistrySizes(len(m.active), len(m.recent))
	return sess, nil
}

// countActiveLocked counts only Pending/InProgress sessions against
// admission (spec.md §8 property 7: a terminated session frees its slot
// immediately). A Completed session kept warm in m.active while its idle
// finalizer counts down no longer occupies a slot, so a create made right
// after a prior session completes still succeeds instead of waiting out
// IDLE_TIMEOUT. Caller must hold mu.
func (m *Manager) countActiveLocked() int {
	n := 0
	for _, sess := range m.active {
		if sess.Status().Active() {
			n++
		}
	}
	return n
}

// Start transitions a Pending session to InProgress and launches its
// background worker. Idempotent: calling it on a non-Pending session is a
// no-op. The worker runs under the manager's application-lifetime
// context, not any particular caller's request context.
func (m *Manager) Start(sess *session.Session) {
	if sess.Status() != session.StatusPending {
		return
	}
	sess.PushEvent(eventlog.TagUserMessage, 0, eventlog.UserMessagePayload{Text: sess.AlertText})
	sess.SetStatus(session.StatusInProgress)
	go m.runTurn(m.baseCtx, sess, 0, "")
}

// runTurn drives one bridge turn and finalizes the session afterwards.
// This is the single per-session background worker spec.md §5 requires.
func (m *Manager) runTurn(ctx context.Context, sess *session.Session, turn int, threadID string) {
	m.bridge.RunTurn(ctx, sess, turn, threadID)
	m.finalizeTurn(ctx, sess)
}

// finalizeTurn determines terminal status by the priority order in
// spec.md §4.4 (cancel wins, then error, then success), persists, emits
// the done sentinel and schedules post-terminal lifecycle.
func (m *Manager) finalizeTurn(ctx context.Context, sess *session.Session) {
	var terminal session.Status
	switch {
	case sess.CancelRequested():
		terminal = session.StatusCancelled
	case sess.ErrorDetail() != "":
		terminal = session.StatusFailed
	default:
		terminal = session.StatusCompleted
	}
	sess.SetStatus(terminal)

	doc := sess.ToDocument()
	m.persist.Persist(ctx, doc)
	metrics.RecordFinalization(string(terminal), len(doc.EventLog), doc.RunMeta.Time)

	sess.PushEvent(eventlog.TagDone, sess.TurnCount(), eventlog.DonePayload{Status: string(terminal)})

	if terminal == session.StatusCompleted {
		m.scheduleIdleFinalizer(sess)
		return
	}
	m.moveToRecent(sess)
}

// scheduleIdleFinalizer arranges for sess to be evicted to Recent after
// IDLE_TIMEOUT of inactivity. Any follow-up cancels and replaces it.
func (m *Manager) scheduleIdleFinalizer(sess *session.Session) {
	done := make(chan struct{})
	var once sync.Once
	cancel := func() { once.Do(func() { close(done) }) }
	sess.SetIdleFinalizer(cancel)

	go func() {
		select {
		case <-m.timeAfter(m.cfg.IdleTimeout):
			sess.SetIdleFinalizer(nil)
			m.moveToRecent(sess)
		case <-done:
		}
	}()
}

// moveToRecent removes sess from Active (if present) and inserts it into
// Recent, evicting the oldest entry past MAX_RECENT (spec.md §4.4).
func (m *Manager) moveToRecent(sess *session.Session) {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.active, sess.ID)
	if _, already := m.recent[sess.ID]; already {
		metrics.SetRegistrySizes(len(m.active), len(m.recent))
		return
	}
	m.recent[sess.ID] = sess
	m.recentOrder = append(m.recentOrder, sess.ID)

	if len(m.recentOrder) > m.cfg.MaxRecent {
		oldest := m.recentOrder[0]
		m.recentOrder = m.recentOrder[1:]
		delete(m.recent, oldest)
	}
	metrics.SetRegistrySizes(len(m.active), len(m.recent))
}

// findLive returns the live session object from either map, if present.
func (m *Manager) findLive(id string) (*session.Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if sess, ok := m.active[id]; ok {
		return sess, true
	}
	if sess, ok := m.recent[id]; ok {
		return sess, true
	}
	return nil, false
}

// GetLive returns the in-memory session, if one is live. Callers needing
// the full document (including store-hydrated sessions) should use Get.
func (m *Manager) GetLive(id string) (*session.Session, bool) {
	return m.findLive(id)
}

// Status reports a live session's current status. ok is false if the
// session is not in memory (already evicted, or never existed).
func (m *Manager) Status(id string) (status session.Status, ok bool) {
	sess, ok := m.findLive(id)
	if !ok {
		return "", false
	}
	return sess.Status(), true
}

// scenarioFor resolves the store partition key (scenario, spec.md §6.3)
// for id from the in-process index populated at Create time. If the
// process never observed this id's scenario (e.g. a cold lookup right
// after a restart with no prior Create in this process), it falls back to
// a store-wide scan and caches the partition key it finds.
func (m *Manager) scenarioFor(ctx context.Context, id string) (string, bool) {
	m.mu.Lock()
	scenario, ok := m.scenarioByID[id]
	m.mu.Unlock()
	if ok {
		return scenario, true
	}

	docs, err := m.store.List(ctx, store.Query{DocType: "session"})
	if err != nil {
		return "", false
	}
	for _, d := range docs {
		if d.ID != id {
			continue
		}
		m.mu.Lock()
		m.scenarioByID[id] = d.PartitionKey
		m.mu.Unlock()
		return d.PartitionKey, true
	}
	return "", false
}

// Get returns a session document: from memory if live, otherwise hydrated
// from the document store (spec.md §4.4).
func (m *Manager) Get(ctx context.Context, id string) (session.Document, error) {
	if sess, ok := m.findLive(id); ok {
		return sess.ToDocument(), nil
	}
	scenario, ok := m.scenarioFor(ctx, id)
	if !ok {
		return session.Document{}, ErrNotFound
	}
	doc, err := m.store.Get(ctx, id, scenario)
	if err != nil {
		return session.Document{}, ErrNotFound
	}
	return decodeDocument(doc.Payload)
}

// ListAll returns the union of in-memory and stored session summaries,
// deduplicated by id (in-memory wins), ordered by UpdatedAt descending
// (spec.md §4.4).
func (m *Manager) ListAll(ctx context.Context) ([]session.Summary, error) {
	m.mu.Lock()
	inMemory := make(map[string]session.Summary, len(m.active)+len(m.recent))
	for id, sess := range m.active {
		inMemory[id] = sess.Summarize()
	}
	for id, sess := range m.recent {
		inMemory[id] = sess.Summarize()
	}
	m.mu.Unlock()

	stored, err := m.store.List(ctx, store.Query{DocType: "session"})
	if err != nil {
		return nil, err
	}

	merged := make(map[string]session.Summary, len(inMemory)+len(stored))
	for id, s := range inMemory {
		merged[id] = s
	}
	for _, d := range stored {
		if _, exists := merged[d.ID]; exists {
			continue
		}
		doc, err := decodeDocument(d.Payload)
		if err != nil {
			continue
		}
		merged[d.ID] = session.Summary{
			ID: doc.ID, Scenario: doc.Scenario, Status: doc.Status,
			CreatedAt: doc.CreatedAt, UpdatedAt: doc.UpdatedAt, TurnCount: doc.TurnCount,
		}
	}

	out := make([]session.Summary, 0, len(merged))
	for _, s := range merged {
		out = append(out, s)
	}
	sortSummariesByUpdatedDesc(out)
	return out, nil
}

func sortSummariesByUpdatedDesc(s []session.Summary) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j].UpdatedAt.After(s[j-1].UpdatedAt); j-- {
			s[j], s[j-1] = s[j-1], s[j]
		}
	}
}

// Stream delegates to Session.Subscribe for a live session. The returned
// unsubscribe func must be called once the caller stops reading ch
// (typically via defer), so a disconnected client's channel is promptly
// removed from the log's subscriber registry.
func (m *Manager) Stream(id string, sinceIndex int) (history []eventlog.Event, ch chan eventlog.Event, unsubscribe func(), err error) {
	sess, ok := m.findLive(id)
	if !ok {
		return nil, nil, nil, ErrNotFound
	}
	history, ch = sess.Subscribe(sinceIndex)
	return history, ch, func() { sess.Unsubscribe(ch) }, nil
}

// SendFollowUp starts a new turn on an existing, idle session (spec.md
// §4.4). Returns the event offset the client should re-subscribe at. The
// new turn's worker runs under the manager's application-lifetime
// context, for the same reason Start does.
func (m *Manager) SendFollowUp(id, text string) (int, error) {
	sess, ok := m.findLive(id)
	if !ok {
		return 0, ErrNotFound
	}
	if sess.Status() == session.StatusInProgress {
		return 0, ErrAlreadyRunning
	}
	if sess.ThreadID() == "" {
		return 0, ErrNoThread
	}

	sess.CancelIdleFinalizer()
	sess.ClearErrorDetail()
	sess.ResetTurnAggregates()
	turn := sess.NextTurn()
	offset := sess.EventCount()
	sess.PushEvent(eventlog.TagUserMessage, turn, eventlog.UserMessagePayload{Text: text})
	sess.SetStatus(session.StatusInProgress)

	m.mu.Lock()
	delete(m.recent, sess.ID)
	m.active[sess.ID] = sess
	m.mu.Unlock()

	go m.runTurn(m.baseCtx, sess, turn, sess.ThreadID())
	return offset, nil
}

// Cancel requests cooperative cancellation of an InProgress session
// (spec.md §4.4). No-op if the session is not InProgress.
func (m *Manager) Cancel(id string) error {
	sess, ok := m.findLive(id)
	if !ok {
		return ErrNotFound
	}
	if sess.Status() != session.StatusInProgress {
		return nil
	}
	sess.RequestCancel()
	sess.PushEvent(eventlog.TagStatusChange, sess.TurnCount(), eventlog.StatusChangePayload{
		Status: "cancelling", Message: "cancellation requested",
	})
	return nil
}

// Delete cancels (if running), removes sess from memory and deletes it
// from the document store (spec.md §4.4).
func (m *Manager) Delete(ctx context.Context, id string) error {
	sess, ok := m.findLive(id)
	if ok && sess.Status() == session.StatusInProgress {
		sess.RequestCancel()
	}

	scenario, knownScenario := m.scenarioFor(ctx, id)

	m.mu.Lock()
	delete(m.active, id)
	if _, wasRecent := m.recent[id]; wasRecent {
		delete(m.recent, id)
		for i, rid := range m.recentOrder {
			if rid == id {
				m.recentOrder = append(m.recentOrder[:i], m.recentOrder[i+1:]...)
				break
			}
		}
	}
	delete(m.scenarioByID, id)
	m.mu.Unlock()

	if !knownScenario {
		return nil
	}
	if err := m.store.Delete(ctx, id, scenario); err != nil {
		return err
	}
	return nil
}

func decodeDocument(payload []byte) (session.Document, error) {
	var doc session.Document
	if err := json.Unmarshal(payload, &doc); err != nil {
		return session.Document{}, err
	}
	return doc, nil
}
