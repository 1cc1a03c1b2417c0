package eventlog

import (
	"encoding/json"
	"log/slog"
	"sync"
)

// subscriberBuffer is the fixed capacity of every subscriber channel.
const subscriberBuffer = 100

// DefaultMaxSize is the default cap on an event log's length (MAX_EVENT_LOG).
const DefaultMaxSize = 500

// Log is an append-only, capped sequence of events plus the set of live
// subscriber channels attached to it. A Log is always owned by exactly one
// Session; all methods are safe for concurrent use.
type Log struct {
	mu          sync.Mutex
	maxSize     int
	events      []Event
	truncated   int // number of events dropped from the head since the log started
	subscribers map[chan Event]struct{}
}

// New creates an empty Log capped at maxSize entries.
func New(maxSize int) *Log {
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	return &Log{
		maxSize:     maxSize,
		subscribers: make(map[chan Event]struct{}),
	}
}

// Push appends event to the log, truncating the head if at capacity, then
// delivers it to every subscriber outside the lock so a slow subscriber
// send never blocks the append path or other callers of Push.
func (l *Log) Push(event Event) {
	l.mu.Lock()
	if len(l.events) >= l.maxSize {
		drop := len(l.events) - l.maxSize + 1
		l.events = l.events[drop:]
		l.truncated += drop
	}
	l.events = append(l.events, event)

	subs := make([]chan Event, 0, len(l.subscribers))
	for ch := range l.subscribers {
		subs = append(subs, ch)
	}
	l.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- event:
		default:
			l.dropSlowSubscriber(ch)
		}
	}
}

// dropSlowSubscriber closes and unregisters a channel that could not accept
// a non-blocking send. The subscriber must re-subscribe with a fresh offset.
func (l *Log) dropSlowSubscriber(ch chan Event) {
	l.mu.Lock()
	if _, ok := l.subscribers[ch]; ok {
		delete(l.subscribers, ch)
		close(ch)
	}
	l.mu.Unlock()
}

// Subscribe returns the history of events since sinceIndex (clamped to
// [0, len]) plus a freshly registered channel that will receive every
// event pushed after this call returns. Because registration happens
// under the same lock that protects the append in Push, no event can be
// produced between the history snapshot and channel registration that is
// neither in history nor delivered on the channel.
//
// sinceIndex is relative to the log's un-truncated total order; it is
// adjusted for any events already dropped from the head.
func (l *Log) Subscribe(sinceIndex int) (history []Event, ch chan Event) {
	l.mu.Lock()
	defer l.mu.Unlock()

	rel := sinceIndex - l.truncated
	if rel < 0 {
		rel = 0
	}
	if rel > len(l.events) {
		rel = len(l.events)
	}

	history = make([]Event, len(l.events)-rel)
	copy(history, l.events[rel:])

	ch = make(chan Event, subscriberBuffer)
	l.subscribers[ch] = struct{}{}
	return history, ch
}

// Unsubscribe removes ch from the registry. Safe to call concurrently with
// Push and safe to call twice (a second call is a no-op).
func (l *Log) Unsubscribe(ch chan Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.subscribers[ch]; ok {
		delete(l.subscribers, ch)
	}
}

// Count returns the current total order length (the next valid subscribe
// offset that observes no history).
func (l *Log) Count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.truncated + len(l.events)
}

// Snapshot returns a copy of every event currently retained (for
// persistence). Truncated events are not recoverable from the log; they
// are assumed already durable from an earlier persist call.
func (l *Log) Snapshot() []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Event, len(l.events))
	copy(out, l.events)
	return out
}

// SubscriberCount reports the number of live subscriber channels. Used by
// tests and metrics, not by the core delivery path.
func (l *Log) SubscriberCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.subscribers)
}

// ParseData defensively decodes an event's Data field as a JSON object.
// Malformed JSON never propagates as an error out of the ingestion path:
// it is logged and an empty mapping is returned instead.
func ParseData(data string) map[string]any {
	if data == "" {
		return map[string]any{}
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(data), &m); err != nil {
		slog.Warn("malformed event data payload", "error", err)
		return map[string]any{}
	}
	return m
}

// MustMarshal marshals v to a JSON string for use as an Event's Data
// field. Panics are never produced: encoding failures on these narrow,
// hand-defined payload structs represent a programming error, but we
// degrade to an empty object rather than crash the worker producing the
// event.
func MustMarshal(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		slog.Warn("failed to marshal event payload", "error", err)
		return "{}"
	}
	return string(b)
}
