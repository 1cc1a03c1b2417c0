package agentbridge

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sentientmobilefurniture/sessiond/internal/eventlog"
	"github.com/sentientmobilefurniture/sessiond/internal/session"
)

// fakeRuntime is a test double for Runtime, scripted per test.
type fakeRuntime struct {
	run      func(ctx context.Context, prompt, threadID string, cb RunCallbacks) (RunResult, error)
	lastText string
}

func (f *fakeRuntime) Run(ctx context.Context, prompt, threadID string, cb RunCallbacks) (RunResult, error) {
	return f.run(ctx, prompt, threadID, cb)
}

func (f *fakeRuntime) LastAssistantMessage(ctx context.Context, threadID string) (string, error) {
	return f.lastText, nil
}

func TestRunTurnHappyPath(t *testing.T) {
	rt := &fakeRuntime{run: func(ctx context.Context, prompt, threadID string, cb RunCallbacks) (RunResult, error) {
		cb.ThreadCreated("T")
		cb.StepStarted(1, "agentA", "q1", "")
		cb.StepComplete(StepResult{Step: 1, Agent: "agentA", Query: "q1", Raw: "raw output"})
		return RunResult{Text: "done", Steps: 1, Tokens: 10, Time: 1.5}, nil
	}}
	b := New(rt, 2, nil)
	sess := session.New("s1", "scenario", "alert", 500)

	b.RunTurn(context.Background(), sess, 0, "")

	events := sess.Log.Snapshot()
	tags := make([]eventlog.Tag, len(events))
	for i, e := range events {
		tags[i] = e.Event
	}
	assert.Equal(t, []eventlog.Tag{
		eventlog.TagRunStart, eventlog.TagThreadCreated, eventlog.TagStepStarted,
		eventlog.TagStepResponse, eventlog.TagStepComplete, eventlog.TagMessage, eventlog.TagRunComplete,
	}, tags)
	assert.Equal(t, "T", sess.ThreadID())
	assert.Equal(t, "done", sess.Diagnosis())
}

func TestRunTurnCapacityErrorNotRetried(t *testing.T) {
	attempts := 0
	rt := &fakeRuntime{run: func(ctx context.Context, prompt, threadID string, cb RunCallbacks) (RunResult, error) {
		attempts++
		return RunResult{}, errors.New("upstream returned 429")
	}}
	b := New(rt, 2, nil)
	sess := session.New("s1", "scenario", "alert", 500)

	b.RunTurn(context.Background(), sess, 0, "")

	assert.Equal(t, 1, attempts)
	assert.Contains(t, sess.ErrorDetail(), "429")
}

func TestRunTurnRetriesOnTransientError(t *testing.T) {
	attempts := 0
	rt := &fakeRuntime{run: func(ctx context.Context, prompt, threadID string, cb RunCallbacks) (RunResult, error) {
		attempts++
		if attempts == 1 {
			return RunResult{}, errors.New("connection reset")
		}
		return RunResult{Text: "ok"}, nil
	}}
	b := New(rt, 2, nil)
	sess := session.New("s1", "scenario", "alert", 500)

	b.RunTurn(context.Background(), sess, 0, "")

	require.Equal(t, 2, attempts)
	assert.Equal(t, "ok", sess.Diagnosis())
	assert.Empty(t, sess.ErrorDetail())
}

func TestRunTurnEmptyResponseFallback(t *testing.T) {
	rt := &fakeRuntime{lastText: "recovered from history", run: func(ctx context.Context, prompt, threadID string, cb RunCallbacks) (RunResult, error) {
		return RunResult{Text: ""}, nil
	}}
	b := New(rt, 2, nil)
	sess := session.New("s1", "scenario", "alert", 500)

	b.RunTurn(context.Background(), sess, 0, "")

	assert.Equal(t, "recovered from history", sess.Diagnosis())
}

func TestClassifyVisualizationFallsBackToDocuments(t *testing.T) {
	viz := ClassifyVisualization("plain unstructured text")
	require.Len(t, viz, 1)
	assert.Equal(t, "documents", viz[0].Kind)
}

func TestClassifyVisualizationGraph(t *testing.T) {
	raw := "QUERY: find neighbors\nRESULTS: {\"nodes\":[1,2],\"edges\":[[1,2]]}\nANALYSIS: two nodes connected"
	viz := ClassifyVisualization(raw)
	require.Len(t, viz, 2)
	assert.Equal(t, "graph", viz[0].Kind)
}
