// Copyright (c) Session Bridge Authors
// SPDX-License-Identifier: Apache-2.0

package notifier

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sessionbridge/sessionbridge/broker"
	"github.com/sessionbridge/sessionbridge/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockSender struct {
	mu         sync.Mutex
	deliveries []mockDelivery
	err        error
	delivered  chan struct{}
}

type mockDelivery struct {
	url     string
	headers map[string]string
	payload []byte
}

func newMockSender() *mockSender {
	return &mockSender{delivered: make(chan struct{}, 64)}
}

func (m *mockSender) Send(ctx context.Context, url string, headers map[string]string, payload []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.deliveries = append(m.deliveries, mockDelivery{url: url, headers: headers, payload: payload})
	select {
	case m.delivered <- struct{}{}:
	default:
	}
	return nil
}

func (m *mockSender) all() []mockDelivery {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]mockDelivery, len(m.deliveries))
	copy(out, m.deliveries)
	return out
}

func testConfig(endpoints ...config.NotifierEndpoint) config.NotifierConfig {
	return config.NotifierConfig{
		Enabled:         true,
		QueueSize:       16,
		Workers:         1,
		DropPolicy:      "newest",
		ShutdownTimeout: time.Second,
		Defaults: config.NotifierDefaults{
			Timeout: time.Second,
			Retry: config.RetryConfig{
				MaxAttempts:     1,
				InitialInterval: 10 * time.Millisecond,
				MaxInterval:     50 * time.Millisecond,
				Multiplier:      2.0,
			},
			CircuitBreaker: config.CircuitBreakerConfig{
				FailureThreshold: 100,
				ResetTimeout:     time.Second,
			},
		},
		Endpoints: endpoints,
	}
}

func TestNotifierForwardsFeedback(t *testing.T) {
	sender := newMockSender()
	n, err := New(testConfig(config.NotifierEndpoint{
		Name:    "collaborator",
		URL:     "http://upstream/api/feedback",
		Headers: map[string]string{"X-Token": "secret"},
	}), sender, nil)
	require.NoError(t, err)
	defer n.Close()

	raw := []byte(`{"type":"session_feedback","payload":{"status":"active"}}`)
	identity := broker.Identity{UserID: "u1", Username: "alice", NodeID: "n1"}
	require.NoError(t, n.Forward(context.Background(), identity, broker.KindSessionFeedback, raw))

	select {
	case <-sender.delivered:
	case <-time.After(2 * time.Second):
		t.Fatal("feedback was not delivered")
	}

	deliveries := sender.all()
	require.Len(t, deliveries, 1)
	assert.Equal(t, "http://upstream/api/feedback", deliveries[0].url)
	assert.Equal(t, "secret", deliveries[0].headers["X-Token"])

	var env envelope
	require.NoError(t, json.Unmarshal(deliveries[0].payload, &env))
	assert.Equal(t, "session_feedback", env.EventType)
	assert.Equal(t, "u1", env.UserID)
	assert.Equal(t, "alice", env.Username)
	assert.Equal(t, "n1", env.NodeID)
	assert.NotEmpty(t, env.EventID)
	assert.JSONEq(t, string(raw), string(env.Data))
}

func TestNotifierKindFilter(t *testing.T) {
	sender := newMockSender()
	n, err := New(testConfig(config.NotifierEndpoint{
		Name:  "logout-only",
		URL:   "http://upstream/logout",
		Kinds: []string{"logout_feedback"},
	}), sender, nil)
	require.NoError(t, err)
	defer n.Close()

	identity := broker.Identity{UserID: "u1", Username: "alice"}
	require.NoError(t, n.Forward(context.Background(), identity, broker.KindSessionFeedback, []byte(`{}`)))

	time.Sleep(100 * time.Millisecond)
	assert.Empty(t, sender.all(), "filtered kind must not be delivered")

	require.NoError(t, n.Forward(context.Background(), identity, broker.KindLogoutFeedback, []byte(`{}`)))
	select {
	case <-sender.delivered:
	case <-time.After(2 * time.Second):
		t.Fatal("matching kind was not delivered")
	}
}

func TestNotifierFanOut(t *testing.T) {
	sender := newMockSender()
	n, err := New(testConfig(
		config.NotifierEndpoint{Name: "a", URL: "http://a"},
		config.NotifierEndpoint{Name: "b", URL: "http://b"},
	), sender, nil)
	require.NoError(t, err)
	defer n.Close()

	identity := broker.Identity{UserID: "u1", Username: "alice"}
	require.NoError(t, n.Forward(context.Background(), identity, broker.KindSessionFeedback, []byte(`{}`)))

	require.Eventually(t, func() bool {
		return len(sender.all()) == 2
	}, 2*time.Second, 10*time.Millisecond)
}

func TestNotifierRetries(t *testing.T) {
	sender := newMockSender()
	sender.err = errors.New("upstream down")

	cfg := testConfig(config.NotifierEndpoint{Name: "flaky", URL: "http://flaky"})
	cfg.Defaults.Retry.MaxAttempts = 3

	n, err := New(cfg, sender, nil)
	require.NoError(t, err)
	defer n.Close()

	identity := broker.Identity{UserID: "u1", Username: "alice"}
	require.NoError(t, n.Forward(context.Background(), identity, broker.KindSessionFeedback, []byte(`{}`)))

	// Let the first attempt fail, then heal the upstream; a retry delivers.
	time.Sleep(20 * time.Millisecond)
	sender.mu.Lock()
	sender.err = nil
	sender.mu.Unlock()

	select {
	case <-sender.delivered:
	case <-time.After(2 * time.Second):
		t.Fatal("retry did not deliver")
	}
}

func TestNotifierNilSender(t *testing.T) {
	_, err := New(testConfig(), nil, nil)
	assert.Error(t, err)
}

func TestRetryDelay(t *testing.T) {
	cfg := config.RetryConfig{
		InitialInterval: time.Second,
		MaxInterval:     10 * time.Second,
		Multiplier:      2.0,
	}

	assert.Equal(t, time.Second, retryDelay(0, cfg))
	assert.Equal(t, 2*time.Second, retryDelay(1, cfg))
	assert.Equal(t, 4*time.Second, retryDelay(2, cfg))
	// Capped at the max interval.
	assert.Equal(t, 10*time.Second, retryDelay(10, cfg))
}
