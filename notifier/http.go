// Copyright (c) Session Bridge Authors
// SPDX-License-Identifier: Apache-2.0

package notifier

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"time"
)

// Sender delivers a serialized feedback envelope to an upstream endpoint.
type Sender interface {
	Send(ctx context.Context, url string, headers map[string]string, payload []byte) error
}

// HTTPSender implements Sender over HTTP POST.
type HTTPSender struct {
	client *http.Client
}

// NewHTTPSender creates a new HTTP sender.
func NewHTTPSender() *HTTPSender {
	return &HTTPSender{
		client: &http.Client{
			Timeout: 30 * time.Second, // Default max timeout
		},
	}
}

// Send sends an HTTP POST request with the feedback payload.
func (s *HTTPSender) Send(ctx context.Context, url string, headers map[string]string, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "SessionBridge/1.0")
	for key, value := range headers {
		req.Header.Set(key, value)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("upstream returned non-2xx status: %d", resp.StatusCode)
	}

	return nil
}
