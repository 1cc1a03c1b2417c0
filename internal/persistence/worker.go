// Package persistence implements the Persistence Worker: idempotent,
// retried writes of a session snapshot through the document-store
// interface, and the startup crash-recovery pass.
//
// Grounded on the retry/backoff and orphan-recovery idioms in the
// teacher's pkg/queue/orphan.go, adapted from a ticker-driven orphan scan
// against a relational schema to a fixed-schedule retry against a generic
// document store.
package persistence

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/sentientmobilefurniture/sessiond/internal/metrics"
	"github.com/sentientmobilefurniture/sessiond/internal/session"
	"github.com/sentientmobilefurniture/sessiond/internal/store"
)

// backoffSchedule is the fixed retry delay sequence (spec.md §4.3): the
// first attempt is immediate, then one retry after 2s, then one after 4s.
var backoffSchedule = []time.Duration{2 * time.Second, 4 * time.Second}

// recoveryErrorDetail is the fixed message recorded on sessions rewritten
// by the startup recovery pass.
const recoveryErrorDetail = "Session was in progress when the server restarted; it cannot be resumed."

// Worker writes session snapshots through a DocumentStore with bounded
// retry. Persist runs synchronously to completion (including any backoff
// sleeps), so it blocks its caller: the session's background worker
// goroutine, never an HTTP-serving goroutine.
type Worker struct {
	store  store.DocumentStore
	log    *slog.Logger
	onFail func(doc session.Document, err error)
}

// New creates a Worker. onFail, if non-nil, is invoked after all retries
// are exhausted so the caller can retain the session in memory for a
// later opportunity (spec.md §4.3).
func New(s store.DocumentStore, log *slog.Logger, onFail func(doc session.Document, err error)) *Worker {
	if log == nil {
		log = slog.Default()
	}
	return &Worker{store: s, log: log, onFail: onFail}
}

// Persist serialises doc and writes it via Upsert, retrying on failure
// per backoffSchedule. It never returns an error to force the caller to
// handle it specially: failures are logged and, on final exhaustion,
// reported through onFail. This matches spec.md §7's "persistence
// failures are recovered in-band ... never surfaced to the client."
func (w *Worker) Persist(ctx context.Context, doc session.Document) {
	payload, err := json.Marshal(doc)
	if err != nil {
		w.log.Error("failed to marshal session document", "session_id", doc.ID, "error", err)
		return
	}

	d := store.Document{
		ID:           doc.ID,
		PartitionKey: doc.Scenario,
		DocType:      "session",
		Payload:      payload,
	}

	var lastErr error
	attempts := len(backoffSchedule) + 1
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(backoffSchedule[attempt-1]):
			case <-ctx.Done():
				lastErr = ctx.Err()
				metrics.RecordPersistAttempt("failure")
				w.log.Error("persist exhausted retries, retaining session in memory", "session_id", doc.ID, "error", lastErr)
				if w.onFail != nil {
					w.onFail(doc, lastErr)
				}
				return
			}
		}
		if err := w.store.Upsert(ctx, d); err != nil {
			lastErr = err
			if attempt > 0 {
				metrics.RecordPersistAttempt("failure")
			}
			w.log.Warn("persist attempt failed", "session_id", doc.ID, "attempt", attempt+1, "error", err)
			continue
		}
		if attempt > 0 {
			metrics.RecordPersistAttempt("success")
		}
		return
	}

	w.log.Error("persist exhausted retries, retaining session in memory", "session_id", doc.ID, "error", lastErr)
	if w.onFail != nil {
		w.onFail(doc, lastErr)
	}
}

// RecoverInProgress implements the startup recovery pass (spec.md §4.3):
// every stored session document with status InProgress is rewritten to
// Failed with a fixed error_detail. Failures of the recovery pass itself
// are logged but never block startup.
func (w *Worker) RecoverInProgress(ctx context.Context) error {
	docs, err := w.store.List(ctx, store.Query{DocType: "session", Field: "status", Value: string(session.StatusInProgress)})
	if err != nil {
		w.log.Error("recovery pass: failed to list in-progress sessions", "error", err)
		return fmt.Errorf("list in-progress sessions: %w", err)
	}

	for _, d := range docs {
		var doc session.Document
		if err := json.Unmarshal(d.Payload, &doc); err != nil {
			w.log.Error("recovery pass: failed to decode session document", "id", d.ID, "error", err)
			continue
		}
		doc.Status = session.StatusFailed
		doc.ErrorDetail = recoveryErrorDetail

		payload, err := json.Marshal(doc)
		if err != nil {
			w.log.Error("recovery pass: failed to re-encode session document", "id", d.ID, "error", err)
			continue
		}
		if err := w.store.Upsert(ctx, store.Document{
			ID:           d.ID,
			PartitionKey: d.PartitionKey,
			DocType:      "session",
			Payload:      payload,
		}); err != nil {
			w.log.Error("recovery pass: failed to rewrite orphaned session", "id", d.ID, "error", err)
			continue
		}
		w.log.Info("recovery pass: marked orphaned session failed", "id", d.ID)
	}
	return nil
}
