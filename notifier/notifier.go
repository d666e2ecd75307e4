// Copyright (c) Session Bridge Authors
// SPDX-License-Identifier: Apache-2.0

// Package notifier forwards feedback received from registered clients to
// upstream HTTP endpoints, with a bounded queue, worker pool, retry with
// exponential backoff, and a per-endpoint circuit breaker.
package notifier

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sessionbridge/sessionbridge/broker"
	"github.com/sessionbridge/sessionbridge/config"
	"github.com/sony/gobreaker"
)

var _ broker.FeedbackSink = (*Notifier)(nil)

// envelope is the wire shape of upstream feedback deliveries. The client's
// original message rides in Data unchanged.
type envelope struct {
	EventType string          `json:"event_type"`
	EventID   string          `json:"event_id"`
	Timestamp string          `json:"timestamp"`
	UserID    string          `json:"user_id"`
	Username  string          `json:"username"`
	NodeID    string          `json:"node_id,omitempty"`
	Data      json.RawMessage `json:"data"`
}

// Notifier implements broker.FeedbackSink with asynchronous upstream delivery.
type Notifier struct {
	cfg       config.NotifierConfig
	endpoints []endpointConfig
	jobQueue  chan deliveryJob
	breakers  map[string]*gobreaker.CircuitBreaker
	sender    Sender
	logger    *slog.Logger
	wg        sync.WaitGroup
	ctx       context.Context
	cancel    context.CancelFunc
}

type endpointConfig struct {
	name        string
	url         string
	kindFilters map[string]bool // message kind filters (empty = all)
	headers     map[string]string
	timeout     time.Duration
	retryConfig config.RetryConfig
}

type deliveryJob struct {
	payload  []byte
	kind     string
	endpoint endpointConfig
	attempt  int
}

// New creates a feedback notifier and starts its worker pool.
func New(cfg config.NotifierConfig, sender Sender, logger *slog.Logger) (*Notifier, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if sender == nil {
		return nil, fmt.Errorf("sender cannot be nil")
	}

	ctx, cancel := context.WithCancel(context.Background())

	endpoints := make([]endpointConfig, 0, len(cfg.Endpoints))
	for _, ep := range cfg.Endpoints {
		kindFilters := make(map[string]bool)
		for _, kind := range ep.Kinds {
			kindFilters[kind] = true
		}

		timeout := cfg.Defaults.Timeout
		if ep.Timeout > 0 {
			timeout = ep.Timeout
		}

		retryConfig := cfg.Defaults.Retry
		if ep.Retry != nil {
			retryConfig = *ep.Retry
		}

		endpoints = append(endpoints, endpointConfig{
			name:        ep.Name,
			url:         ep.URL,
			kindFilters: kindFilters,
			headers:     ep.Headers,
			timeout:     timeout,
			retryConfig: retryConfig,
		})
	}

	breakers := make(map[string]*gobreaker.CircuitBreaker)
	for _, ep := range endpoints {
		breakers[ep.name] = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        ep.name,
			MaxRequests: 1,
			Interval:    0,
			Timeout:     cfg.Defaults.CircuitBreaker.ResetTimeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= uint32(cfg.Defaults.CircuitBreaker.FailureThreshold)
			},
			OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
				logger.Warn("notifier circuit breaker state changed",
					slog.String("endpoint", name),
					slog.String("from", from.String()),
					slog.String("to", to.String()))
			},
		})
	}

	n := &Notifier{
		cfg:       cfg,
		endpoints: endpoints,
		jobQueue:  make(chan deliveryJob, cfg.QueueSize),
		breakers:  breakers,
		sender:    sender,
		logger:    logger,
		ctx:       ctx,
		cancel:    cancel,
	}

	for i := 0; i < cfg.Workers; i++ {
		n.wg.Add(1)
		go n.worker()
	}

	logger.Info("feedback notifier started",
		slog.Int("workers", cfg.Workers),
		slog.Int("queue_size", cfg.QueueSize),
		slog.Int("endpoints", len(endpoints)))

	return n, nil
}

// Forward queues a client feedback message for delivery to all matching
// endpoints. Never blocks: when the queue is full the drop policy applies.
func (n *Notifier) Forward(ctx context.Context, identity broker.Identity, kind broker.MessageKind, raw []byte) error {
	env := envelope{
		EventType: kind.String(),
		EventID:   uuid.New().String(),
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		UserID:    identity.UserID,
		Username:  identity.Username,
		NodeID:    identity.NodeID,
		Data:      json.RawMessage(raw),
	}
	payload, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to marshal feedback envelope: %w", err)
	}

	for _, endpoint := range n.endpoints {
		if len(endpoint.kindFilters) > 0 && !endpoint.kindFilters[kind.String()] {
			continue
		}

		job := deliveryJob{
			payload:  payload,
			kind:     kind.String(),
			endpoint: endpoint,
		}

		select {
		case n.jobQueue <- job:
		default:
			if n.cfg.DropPolicy == "oldest" {
				select {
				case <-n.jobQueue: // drop oldest
				default:
				}
				select {
				case n.jobQueue <- job:
				default:
					n.logger.Error("notifier queue full, feedback dropped",
						slog.String("kind", job.kind),
						slog.String("endpoint", endpoint.name))
				}
			} else {
				n.logger.Error("notifier queue full, feedback dropped",
					slog.String("kind", job.kind),
					slog.String("endpoint", endpoint.name))
			}
		}
	}

	return nil
}

func (n *Notifier) worker() {
	defer n.wg.Done()

	for {
		select {
		case <-n.ctx.Done():
			return
		case job := <-n.jobQueue:
			n.processJob(job)
		}
	}
}

// processJob delivers one job through the endpoint's circuit breaker, with
// retries scheduled back onto the queue.
func (n *Notifier) processJob(job deliveryJob) {
	breaker := n.breakers[job.endpoint.name]

	_, err := breaker.Execute(func() (interface{}, error) {
		ctx, cancel := context.WithTimeout(n.ctx, job.endpoint.timeout)
		defer cancel()
		return nil, n.sender.Send(ctx, job.endpoint.url, job.endpoint.headers, job.payload)
	})
	if err == nil {
		n.logger.Debug("feedback delivered",
			slog.String("endpoint", job.endpoint.name),
			slog.String("kind", job.kind))
		return
	}

	if job.attempt < job.endpoint.retryConfig.MaxAttempts-1 {
		job.attempt++
		delay := retryDelay(job.attempt, job.endpoint.retryConfig)

		n.logger.Debug("feedback delivery failed, retrying",
			slog.String("endpoint", job.endpoint.name),
			slog.String("kind", job.kind),
			slog.Int("attempt", job.attempt),
			slog.Duration("retry_after", delay),
			slog.String("error", err.Error()))

		time.AfterFunc(delay, func() {
			select {
			case n.jobQueue <- job:
			default:
				n.logger.Error("failed to requeue feedback for retry",
					slog.String("endpoint", job.endpoint.name),
					slog.String("kind", job.kind))
			}
		})
		return
	}

	n.logger.Error("feedback delivery failed after max retries",
		slog.String("endpoint", job.endpoint.name),
		slog.String("kind", job.kind),
		slog.Int("attempts", job.attempt+1),
		slog.String("error", err.Error()))
}

// retryDelay calculates exponential backoff capped at the max interval.
func retryDelay(attempt int, cfg config.RetryConfig) time.Duration {
	delay := float64(cfg.InitialInterval)
	for i := 0; i < attempt; i++ {
		delay *= cfg.Multiplier
	}
	if delay > float64(cfg.MaxInterval) {
		delay = float64(cfg.MaxInterval)
	}
	return time.Duration(delay)
}

// Close gracefully shuts down the notifier.
func (n *Notifier) Close() error {
	n.logger.Info("shutting down feedback notifier")

	n.cancel()

	done := make(chan struct{})
	go func() {
		n.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		n.logger.Info("feedback notifier stopped gracefully")
	case <-time.After(n.cfg.ShutdownTimeout):
		n.logger.Warn("feedback notifier shutdown timeout, some feedback may be lost",
			slog.Int("queue_depth", len(n.jobQueue)))
	}

	return nil
}
