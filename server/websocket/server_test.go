// Copyright (c) Session Bridge Authors
// SPDX-License-Identifier: Apache-2.0

package websocket

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	gws "github.com/gorilla/websocket"
	"github.com/sessionbridge/sessionbridge/broker"
	"github.com/sessionbridge/sessionbridge/ratelimit"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, limiter *ratelimit.IPRateLimiter) (*httptest.Server, *broker.Router) {
	t.Helper()
	rt := broker.NewRouter(broker.RouterConfig{RegisterWindow: 5 * time.Second}, broker.NewRegistry(nil), nil, nil)
	s := New(Config{Path: "/push", ShutdownTimeout: time.Second}, rt, limiter, nil)

	ts := httptest.NewServer(http.HandlerFunc(s.handleWebSocket))
	t.Cleanup(ts.Close)
	return ts, rt
}

func dial(t *testing.T, ts *httptest.Server) *gws.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http")
	conn, _, err := gws.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestWebSocketRegisterAndReceive(t *testing.T) {
	ts, rt := newTestServer(t, nil)
	conn := dial(t, ts)

	require.NoError(t, conn.WriteJSON(map[string]any{
		"type":     "c_client_register",
		"user_id":  "u1",
		"username": "alice",
	}))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var ack map[string]any
	require.NoError(t, conn.ReadJSON(&ack))
	assert.Equal(t, "registration_success", ack["type"])
	assert.Equal(t, "u1", ack["user_id"])
	assert.Equal(t, float64(1), ack["generation"])

	// The server can now push to the registered identity.
	require.NoError(t, rt.Dispatch(broker.OutboundEvent{
		UserID:   "u1",
		Username: "alice",
		Kind:     broker.EventAutoLogin,
		Payload:  map[string]any{"cookie": "abc"},
	}))

	var event map[string]any
	require.NoError(t, conn.ReadJSON(&event))
	assert.Equal(t, "auto_login", event["type"])
	payload := event["payload"].(map[string]any)
	assert.Equal(t, "abc", payload["cookie"])
}

func TestWebSocketSupersession(t *testing.T) {
	ts, rt := newTestServer(t, nil)

	register := map[string]any{"type": "c_client_register", "user_id": "u1", "username": "alice"}

	first := dial(t, ts)
	require.NoError(t, first.WriteJSON(register))
	first.SetReadDeadline(time.Now().Add(2 * time.Second))
	var ack map[string]any
	require.NoError(t, first.ReadJSON(&ack))

	second := dial(t, ts)
	require.NoError(t, second.WriteJSON(register))
	second.SetReadDeadline(time.Now().Add(2 * time.Second))
	require.NoError(t, second.ReadJSON(&ack))
	assert.Equal(t, float64(2), ack["generation"])

	// The superseded connection is closed by the server.
	first.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := first.ReadMessage()
	assert.Error(t, err)

	// Events flow only to the live connection.
	require.Eventually(t, func() bool {
		return rt.Dispatch(broker.OutboundEvent{
			UserID: "u1", Username: "alice", Kind: broker.EventSessionFeedback,
		}) == nil
	}, 2*time.Second, 10*time.Millisecond)

	var event map[string]any
	second.SetReadDeadline(time.Now().Add(2 * time.Second))
	require.NoError(t, second.ReadJSON(&event))
	assert.Equal(t, "session_feedback", event["type"])
}

func TestWebSocketInvalidRegistration(t *testing.T) {
	ts, rt := newTestServer(t, nil)
	conn := dial(t, ts)

	require.NoError(t, conn.WriteJSON(map[string]any{
		"type":    "c_client_register",
		"user_id": "u1",
	}))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var errMsg map[string]any
	require.NoError(t, conn.ReadJSON(&errMsg))
	assert.Equal(t, "error", errMsg["type"])
	assert.Equal(t, 0, rt.Registry().Len())
}

func TestWebSocketDisconnectUnregisters(t *testing.T) {
	ts, rt := newTestServer(t, nil)
	conn := dial(t, ts)

	require.NoError(t, conn.WriteJSON(map[string]any{
		"type": "c_client_register", "user_id": "u1", "username": "alice",
	}))
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var ack map[string]any
	require.NoError(t, conn.ReadJSON(&ack))
	require.Equal(t, 1, rt.Registry().Len())

	conn.Close()
	require.Eventually(t, func() bool {
		return rt.Registry().Len() == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestWebSocketConnectionRateLimit(t *testing.T) {
	limiter := ratelimit.NewIPRateLimiter(0.001, 1, time.Minute)
	defer limiter.Stop()

	ts, _ := newTestServer(t, limiter)

	// First connection consumes the burst.
	dial(t, ts)

	url := "ws" + strings.TrimPrefix(ts.URL, "http")
	_, resp, err := gws.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
}
