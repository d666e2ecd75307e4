// Copyright (c) Session Bridge Authors
// SPDX-License-Identifier: Apache-2.0

package health

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/sessionbridge/sessionbridge/broker"
	"github.com/sessionbridge/sessionbridge/endpoint"
	"github.com/sessionbridge/sessionbridge/storage/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startServer(t *testing.T, b *broker.Broker) string {
	t.Helper()
	s := New(Config{Address: "127.0.0.1:0", ShutdownTimeout: time.Second}, b, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = s.Listen(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	require.Eventually(t, func() bool { return s.Addr() != "" }, 2*time.Second, 10*time.Millisecond)
	return "http://" + s.Addr()
}

func get(t *testing.T, url string) (int, map[string]any) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return resp.StatusCode, body
}

func TestHealthAndReadiness(t *testing.T) {
	b := broker.New(broker.Config{}, memory.New(), nil, nil)
	t.Cleanup(b.Close)

	base := startServer(t, b)

	code, body := get(t, base+"/health")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "healthy", body["status"])

	// Not ready until the endpoint info is published.
	code, body = get(t, base+"/ready")
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, "not_ready", body["status"])

	b.SetEndpointInfo(&endpoint.Info{PrimaryPort: 8765, SecondaryPort: 8766})

	code, body = get(t, base+"/ready")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ready", body["status"])
}
