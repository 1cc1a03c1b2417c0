package eventlog

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mkEvent(tag Tag, turn int) Event {
	return Event{Event: tag, Turn: turn, Data: "{}", Timestamp: time.Now().Format(time.RFC3339Nano)}
}

func TestSubscribeReplayLiveBoundary(t *testing.T) {
	log := New(DefaultMaxSize)
	log.Push(mkEvent(TagRunStart, 0))
	log.Push(mkEvent(TagThreadCreated, 0))

	history, ch := log.Subscribe(0)
	require.Len(t, history, 2)
	assert.Equal(t, TagRunStart, history[0].Event)
	assert.Equal(t, TagThreadCreated, history[1].Event)

	log.Push(mkEvent(TagMessage, 0))

	select {
	case e := <-ch:
		assert.Equal(t, TagMessage, e.Event)
	case <-time.After(time.Second):
		t.Fatal("expected event on channel")
	}
}

func TestSubscribeAtEveryOffset(t *testing.T) {
	log := New(DefaultMaxSize)
	for i := 0; i < 5; i++ {
		log.Push(mkEvent(TagStepStarted, 0))
	}
	for k := 0; k <= 5; k++ {
		history, ch := log.Subscribe(k)
		assert.Len(t, history, 5-k)
		log.Unsubscribe(ch)
	}
}

func TestLogCap(t *testing.T) {
	log := New(10)
	for i := 0; i < 25; i++ {
		log.Push(mkEvent(TagStepStarted, 0))
	}
	assert.Len(t, log.Snapshot(), 10)
	assert.Equal(t, 25, log.Count())
}

func TestSlowSubscriberDroppedOnOverflow(t *testing.T) {
	log := New(DefaultMaxSize)
	_, ch := log.Subscribe(0)

	for i := 0; i < subscriberBuffer+5; i++ {
		log.Push(mkEvent(TagHeartbeat, 0))
	}

	_, stillOpen := <-ch
	for stillOpen {
		_, stillOpen = <-ch
	}
	assert.Equal(t, 0, log.SubscriberCount())
}

func TestMalformedEventDataDefensiveParse(t *testing.T) {
	got := ParseData("not json")
	assert.Empty(t, got)

	got = ParseData(`{"a":1}`)
	assert.Equal(t, float64(1), got["a"])
}

func TestUnsubscribeIdempotent(t *testing.T) {
	log := New(DefaultMaxSize)
	_, ch := log.Subscribe(0)
	log.Unsubscribe(ch)
	log.Unsubscribe(ch)
	assert.Equal(t, 0, log.SubscriberCount())
}
