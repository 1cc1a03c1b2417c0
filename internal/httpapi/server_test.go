package httpapi

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sentientmobilefurniture/sessiond/internal/agentbridge"
	"github.com/sentientmobilefurniture/sessiond/internal/manager"
	"github.com/sentientmobilefurniture/sessiond/internal/store"
)

// fakeStore is a minimal in-memory store.DocumentStore test double.
type fakeStore struct {
	mu   sync.Mutex
	docs map[string]store.Document
}

func newFakeStore() *fakeStore { return &fakeStore{docs: make(map[string]store.Document)} }

func fakeKey(id, pk string) string { return id + "/" + pk }

func (f *fakeStore) Get(ctx context.Context, id, partitionKey string) (store.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.docs[fakeKey(id, partitionKey)]
	if !ok {
		return store.Document{}, store.ErrNotFound
	}
	return d, nil
}

func (f *fakeStore) Upsert(ctx context.Context, doc store.Document) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.docs[fakeKey(doc.ID, doc.PartitionKey)] = doc
	return nil
}

func (f *fakeStore) Delete(ctx context.Context, id, partitionKey string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.docs, fakeKey(id, partitionKey))
	return nil
}

func (f *fakeStore) List(ctx context.Context, q store.Query) ([]store.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []store.Document
	for _, d := range f.docs {
		if q.DocType != "" && d.DocType != q.DocType {
			continue
		}
		out = append(out, d)
	}
	return out, nil
}

func (f *fakeStore) Close() error { return nil }

// fakeRuntime is a scripted agentbridge.Runtime test double.
type fakeRuntime struct {
	run func(ctx context.Context, prompt, threadID string, cb agentbridge.RunCallbacks) (agentbridge.RunResult, error)
}

func (f *fakeRuntime) Run(ctx context.Context, prompt, threadID string, cb agentbridge.RunCallbacks) (agentbridge.RunResult, error) {
	return f.run(ctx, prompt, threadID, cb)
}

func (f *fakeRuntime) LastAssistantMessage(ctx context.Context, threadID string) (string, error) {
	return "", nil
}

func newTestServer(t *testing.T, rt agentbridge.Runtime) *httptest.Server {
	t.Helper()
	cfg := manager.DefaultConfig()
	cfg.MaxActive = 4
	cfg.IdleTimeout = time.Minute
	mgr := manager.New(cfg, newFakeStore(), rt, nil)
	srv := New(mgr, Config{HeartbeatInterval: 30 * time.Millisecond}, nil)
	return httptest.NewServer(srv.Handler())
}

func TestCreateAndGet(t *testing.T) {
	rt := &fakeRuntime{run: func(ctx context.Context, prompt, threadID string, cb agentbridge.RunCallbacks) (agentbridge.RunResult, error) {
		return agentbridge.RunResult{Text: "done"}, nil
	}}
	ts := newTestServer(t, rt)
	defer ts.Close()

	body := strings.NewReader(`{"scenario":"s1","alert_text":"A"}`)
	resp, err := http.Post(ts.URL+"/sessions", "application/json", body)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var created createResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&created))
	require.NotEmpty(t, created.SessionID)

	require.Eventually(t, func() bool {
		r, err := http.Get(ts.URL + "/sessions/" + created.SessionID)
		require.NoError(t, err)
		defer r.Body.Close()
		var doc map[string]any
		json.NewDecoder(r.Body).Decode(&doc)
		return doc["status"] == "completed"
	}, time.Second, 5*time.Millisecond)
}

func TestAdmissionRejectionReturns429(t *testing.T) {
	block := make(chan struct{})
	rt := &fakeRuntime{run: func(ctx context.Context, prompt, threadID string, cb agentbridge.RunCallbacks) (agentbridge.RunResult, error) {
		<-block
		return agentbridge.RunResult{Text: "done"}, nil
	}}
	cfg := manager.DefaultConfig()
	cfg.MaxActive = 1
	mgr := manager.New(cfg, newFakeStore(), rt, nil)
	srv := New(mgr, Config{}, nil)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()
	defer close(block)

	resp1, err := http.Post(ts.URL+"/sessions", "application/json", strings.NewReader(`{"scenario":"s1","alert_text":"A"}`))
	require.NoError(t, err)
	resp1.Body.Close()
	require.Equal(t, http.StatusOK, resp1.StatusCode)

	resp2, err := http.Post(ts.URL+"/sessions", "application/json", strings.NewReader(`{"scenario":"s2","alert_text":"B"}`))
	require.NoError(t, err)
	defer resp2.Body.Close()
	assert.Equal(t, http.StatusTooManyRequests, resp2.StatusCode)
}

func TestStreamReplaysHistoryThenHeartbeats(t *testing.T) {
	rt := &fakeRuntime{run: func(ctx context.Context, prompt, threadID string, cb agentbridge.RunCallbacks) (agentbridge.RunResult, error) {
		<-ctx.Done() // never completes during the test; keeps the stream open
		return agentbridge.RunResult{}, ctx.Err()
	}}
	ts := newTestServer(t, rt)
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/sessions", "application/json", strings.NewReader(`{"scenario":"s1","alert_text":"A"}`))
	require.NoError(t, err)
	var created createResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&created))
	resp.Body.Close()

	streamResp, err := http.Get(ts.URL + "/sessions/" + created.SessionID + "/stream?since=0")
	require.NoError(t, err)
	defer streamResp.Body.Close()

	reader := bufio.NewReader(streamResp.Body)
	var lines []string
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		line, err := reader.ReadString('\n')
		if err != nil {
			break
		}
		lines = append(lines, line)
		if bytes.Contains([]byte(strings.Join(lines, "")), []byte("heartbeat")) {
			break
		}
	}
	joined := strings.Join(lines, "")
	assert.Contains(t, joined, "event: user_message")
	assert.Contains(t, joined, "event: run_start")
	assert.Contains(t, joined, "heartbeat")
}

// TestStreamOnAlreadyTerminalSessionClosesPromptly covers joining a
// stream after finalization: the done sentinel is already in history, so
// the handler must close instead of heartbeating forever.
func TestStreamOnAlreadyTerminalSessionClosesPromptly(t *testing.T) {
	rt := &fakeRuntime{run: func(ctx context.Context, prompt, threadID string, cb agentbridge.RunCallbacks) (agentbridge.RunResult, error) {
		return agentbridge.RunResult{Text: "done"}, nil
	}}
	ts := newTestServer(t, rt)
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/sessions", "application/json", strings.NewReader(`{"scenario":"s1","alert_text":"A"}`))
	require.NoError(t, err)
	var created createResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&created))
	resp.Body.Close()

	require.Eventually(t, func() bool {
		r, err := http.Get(ts.URL + "/sessions/" + created.SessionID)
		require.NoError(t, err)
		defer r.Body.Close()
		var doc map[string]any
		json.NewDecoder(r.Body).Decode(&doc)
		return doc["status"] == "completed"
	}, time.Second, 5*time.Millisecond)

	streamResp, err := http.Get(ts.URL + "/sessions/" + created.SessionID + "/stream?since=0")
	require.NoError(t, err)
	defer streamResp.Body.Close()

	done := make(chan struct{})
	var body []byte
	go func() {
		body, _ = io.ReadAll(streamResp.Body)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("stream did not close after replaying an already-terminal session's history")
	}

	joined := string(body)
	assert.Contains(t, joined, "event: done")
	assert.NotContains(t, joined, "heartbeat")
}
