// ABOUTME: Tests for server wiring and lifecycle
// ABOUTME: Health, readiness and metrics endpoints, end-to-end event delivery and graceful shutdown

package server

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/huddle/internal/config"
	"github.com/2389/huddle/internal/conversation"
	"github.com/2389/huddle/internal/presence"
)

const testSecret = "server-lifecycle-test-secret-32b"

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Server:   config.ServerConfig{HTTPAddr: "127.0.0.1:0", ShutdownTimeout: 5 * time.Second},
		Database: config.DatabaseConfig{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "huddle.db")},
		Auth:     config.AuthConfig{JWTSecret: testSecret},
		Realtime: config.RealtimeConfig{WriteTimeout: time.Second, TypingTTL: time.Second, TypingCacheSize: 100},
		Logging:  config.LoggingConfig{Level: "info", Format: "text"},
		Metrics:  config.MetricsConfig{Enabled: true, Path: "/metrics"},
	}
}

func startServer(t *testing.T, cfg *config.Config) (*Server, *httptest.Server) {
	t.Helper()
	s, err := New(cfg, nil)
	require.NoError(t, err)

	ts := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = s.registry.Close(ctx)
		ts.Close()
		_ = s.close()
	})
	return s, ts
}

func get(t *testing.T, url string) (int, string) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(body)
}

func TestNew_RejectsShortSecret(t *testing.T) {
	cfg := testConfig(t)
	cfg.Auth.JWTSecret = "short"

	_, err := New(cfg, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "JWT verifier")
}

func TestServer_HealthAndReady(t *testing.T) {
	_, ts := startServer(t, testConfig(t))

	code, body := get(t, ts.URL+"/health")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "OK", body)

	code, body = get(t, ts.URL+"/ready")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ready (0 online)", body)
}

func TestServer_ReadyFailsWhenStoreClosed(t *testing.T) {
	s, ts := startServer(t, testConfig(t))
	require.NoError(t, s.store.Close())

	code, _ := get(t, ts.URL+"/ready")
	assert.Equal(t, http.StatusServiceUnavailable, code)
}

func TestServer_Metrics(t *testing.T) {
	_, ts := startServer(t, testConfig(t))

	code, body := get(t, ts.URL+"/metrics")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, "huddle_live_connections")
}

func TestServer_MetricsDisabled(t *testing.T) {
	cfg := testConfig(t)
	cfg.Metrics.Enabled = false
	_, ts := startServer(t, cfg)

	code, _ := get(t, ts.URL+"/metrics")
	assert.Equal(t, http.StatusNotFound, code)
}

func TestServer_MessageReachesConnectedMember(t *testing.T) {
	s, ts := startServer(t, testConfig(t))
	ctx := t.Context()

	token, err := s.verifier.Generate("bob", time.Hour)
	require.NoError(t, err)

	dialCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	c, _, err := websocket.Dial(dialCtx, "ws"+strings.TrimPrefix(ts.URL, "http")+UpdatesPath+"?token="+token, nil)
	require.NoError(t, err)
	defer c.CloseNow()

	read := func() presence.Event {
		t.Helper()
		readCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		var event presence.Event
		require.NoError(t, wsjson.Read(readCtx, c, &event))
		return event
	}
	assert.Equal(t, presence.EventConnected, read().Type)
	assert.Equal(t, presence.EventPresenceChanged, read().Type)

	svc := s.Conversation()
	conv, err := svc.CreateDirectConversation(ctx, "alice", "bob", nil)
	require.NoError(t, err)
	msg, err := svc.SendMessage(ctx, conversation.SendRequest{ConversationID: conv.ID, SenderID: "alice", Body: "hi bob"})
	require.NoError(t, err)

	event := read()
	assert.Equal(t, presence.EventMessageCreated, event.Type)
	require.NotNil(t, event.Message)
	assert.Equal(t, msg.ID, event.Message.ID)
	assert.Equal(t, "hi bob", event.Message.Body)
}

func TestServer_ServeShutsDownOnCancel(t *testing.T) {
	s, err := New(testConfig(t), nil)
	require.NoError(t, err)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, ln) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + ln.Addr().String() + "/health")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)

	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}

	assert.Error(t, s.store.Ping(context.Background()), "store is closed after shutdown")
}

func TestServer_ShutdownBoundedWithStalledClient(t *testing.T) {
	cfg := testConfig(t)
	cfg.Server.ShutdownTimeout = 300 * time.Millisecond
	s, err := New(cfg, nil)
	require.NoError(t, err)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, ln) }()

	token, err := s.verifier.Generate("bob", time.Hour)
	require.NoError(t, err)
	dialCtx, dialCancel := context.WithTimeout(t.Context(), 5*time.Second)
	defer dialCancel()
	// Never reads, so it never answers the close handshake
	c, _, err := websocket.Dial(dialCtx, "ws://"+ln.Addr().String()+UpdatesPath+"?token="+token, nil)
	require.NoError(t, err)
	defer c.CloseNow()

	require.Eventually(t, func() bool { return s.Registry().IsOnline("bob") }, 5*time.Second, 10*time.Millisecond)

	start := time.Now()
	cancel()

	select {
	case err := <-done:
		require.Error(t, err)
		assert.Contains(t, err.Error(), "closing connections")
		assert.Less(t, time.Since(start), 3*time.Second)
	case <-time.After(10 * time.Second):
		t.Fatal("shutdown was not bounded by the shutdown timeout")
	}
}

func TestServer_RunFailsOnBusyAddress(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	cfg := testConfig(t)
	cfg.Server.HTTPAddr = ln.Addr().String()
	s, err := New(cfg, nil)
	require.NoError(t, err)

	err = s.Run(t.Context())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "listening on HTTP address")
}
