// Package main tests for desktop server routing and WebSocket events.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kimhsiao/noorsync/backend/internal/app"
	"github.com/kimhsiao/noorsync/backend/internal/config"
	"github.com/kimhsiao/noorsync/backend/internal/models"
)

// =====================================================
// Test Helpers
// =====================================================

func openTestApp(t *testing.T) *app.App {
	t.Helper()
	cfg := &config.Config{
		DataDir: t.TempDir(),
		Remote: config.RemoteConfig{
			BaseURL: "http://127.0.0.1:1",
			Timeout: time.Second,
		},
		Sync: config.SyncConfig{
			ContentTypes:   []string{"surahs", "verses"},
			MaxAge:         time.Hour,
			StaleLockAfter: time.Minute,
			Concurrency:    2,
		},
		Scheduler: config.SchedulerConfig{
			SyncInterval:  time.Hour,
			CheckInterval: time.Hour,
		},
	}
	a, err := app.Open(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })
	return a
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEnvelope(t *testing.T, conn *websocket.Conn) WSEnvelope {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var env WSEnvelope
	require.NoError(t, conn.ReadJSON(&env))
	return env
}

func waitForClients(t *testing.T, hub *WSHub, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return hub.ClientCount() == n }, 5*time.Second, 10*time.Millisecond)
}

// =====================================================
// Routes
// =====================================================

func TestRouter_health(t *testing.T) {
	a := openTestApp(t)
	hub := NewWSHub()
	defer hub.Close()

	mux := newRouter(a, hub, nil)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok","service":"noorsync-desktop"}`, rec.Body.String())

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/health", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestRouter_queueAndStatus(t *testing.T) {
	a := openTestApp(t)
	hub := NewWSHub()
	defer hub.Close()

	mux := newRouter(a, hub, nil)

	body := strings.NewReader(`{"type":"update","entity":"progress","payload":{"surah":2}}`)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/sync/queue", body))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/sync/status", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var status struct {
		PendingChanges int  `json:"pending_changes"`
		NeedsSync      bool `json:"needs_sync"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, 1, status.PendingChanges)
	assert.True(t, status.NeedsSync)

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/content/surahs", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

// TestRouter_offlineSync runs a full sync against an unreachable server: the
// run succeeds with per-type errors and the mutation stays queued.
func TestRouter_offlineSync(t *testing.T) {
	a := openTestApp(t)
	hub := NewWSHub()
	defer hub.Close()

	mux := newRouter(a, hub, nil)

	_, err := a.Engine.QueueMutation(context.Background(), models.MutationCreate, models.EntityBookmarks, nil)
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/sync", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var result models.SyncResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.True(t, result.Success)
	assert.Equal(t, 1, result.MutationsFailed)
	assert.Len(t, result.Errors, 3)
	assert.Equal(t, 1, a.Engine.PendingCount(context.Background()))
}

// =====================================================
// WebSocket
// =====================================================

func TestWebSocket_syncResultBroadcast(t *testing.T) {
	a := openTestApp(t)
	hub := NewWSHub()
	defer hub.Close()
	unsubscribe := a.Engine.OnSyncComplete(hub.BroadcastSyncResult)
	defer unsubscribe()

	srv := httptest.NewServer(newRouter(a, hub, nil))
	defer srv.Close()

	conn := dial(t, srv)
	waitForClients(t, hub, 1)

	a.Engine.PerformFullSync(context.Background())

	env := readEnvelope(t, conn)
	assert.Equal(t, EventSyncCompleted, env.Type)
	assert.Equal(t, "completed", env.Data["status"])
	assert.Equal(t, true, env.Data["needs_attention"])
	assert.NotZero(t, env.Timestamp)
}

func TestWebSocket_subscriptionsFilterEvents(t *testing.T) {
	a := openTestApp(t)
	hub := NewWSHub()
	defer hub.Close()

	srv := httptest.NewServer(newRouter(a, hub, nil))
	defer srv.Close()

	conn := dial(t, srv)
	waitForClients(t, hub, 1)

	require.NoError(t, conn.WriteJSON(map[string]interface{}{
		"action": "subscribe",
		"events": []string{EventQueueChanged},
	}))

	var ack map[string]interface{}
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	require.NoError(t, conn.ReadJSON(&ack))
	assert.Equal(t, "subscribe_ack", ack["action"])

	hub.BroadcastSyncStarted()
	hub.BroadcastQueueChanged(3)

	env := readEnvelope(t, conn)
	assert.Equal(t, EventQueueChanged, env.Type)
	assert.Equal(t, float64(3), env.Data["pending"])
}

func TestWebSocket_rejectsForeignOrigin(t *testing.T) {
	a := openTestApp(t)
	hub := NewWSHub()
	defer hub.Close()

	srv := httptest.NewServer(newRouter(a, hub, nil))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	header := http.Header{"Origin": []string{"https://evil.example.com"}}
	_, resp, err := websocket.DefaultDialer.Dial(url, header)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestLocalOrigin(t *testing.T) {
	tests := []struct {
		origin string
		want   bool
	}{
		{"", true},
		{"http://localhost:8090", true},
		{"http://127.0.0.1:3000", true},
		{"http://[::1]:8090", true},
		{"https://example.com", false},
		{"http://localhost.example.com", false},
	}

	for _, tt := range tests {
		t.Run(tt.origin, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/ws", nil)
			if tt.origin != "" {
				r.Header.Set("Origin", tt.origin)
			}
			assert.Equal(t, tt.want, localOrigin(r))
		})
	}
}

func TestBroadcastSyncResult_events(t *testing.T) {
	hub := NewWSHub()
	defer hub.Close()

	client := &WSClient{
		id:            "test",
		send:          make(chan []byte, 8),
		hub:           hub,
		subscriptions: map[string]bool{},
	}
	hub.register <- client

	result := models.NewSyncResult(time.Now())
	result.Success = false
	result.MutationsDiscarded = 1
	result.Errors = append(result.Errors, "sync aborted: boom")
	hub.BroadcastSyncResult(result)

	var types []string
	for i := 0; i < 2; i++ {
		select {
		case msg := <-client.send:
			types = append(types, envelopeType(msg))
		case <-time.After(5 * time.Second):
			t.Fatal("timed out waiting for broadcast")
		}
	}
	assert.Equal(t, []string{EventSyncConflictDetected, EventSyncFailed}, types)
}

// =====================================================
// Connectivity
// =====================================================

type flakyPinger struct {
	mu    sync.Mutex
	calls int
}

func (p *flakyPinger) Ping(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.calls == 1 {
		return errors.New("connection refused")
	}
	return nil
}

type recordingSetter struct {
	mu     sync.Mutex
	states []bool
}

func (r *recordingSetter) SetOnlineStatus(online bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, online)
}

func (r *recordingSetter) snapshot() []bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]bool(nil), r.states...)
}

func TestWatchConnectivity(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	setter := &recordingSetter{}

	done := make(chan struct{})
	go func() {
		watchConnectivity(ctx, &flakyPinger{}, setter, 10*time.Millisecond)
		close(done)
	}()

	require.Eventually(t, func() bool { return len(setter.snapshot()) >= 2 }, 5*time.Second, 5*time.Millisecond)
	cancel()
	<-done

	states := setter.snapshot()
	assert.False(t, states[0])
	assert.True(t, states[1])
}
