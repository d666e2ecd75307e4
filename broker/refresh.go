// Copyright (c) Session Bridge Authors
// SPDX-License-Identifier: Apache-2.0

package broker

import (
	"context"
	"log/slog"
	"time"

	"github.com/sessionbridge/sessionbridge/storage"
)

// SchedulerConfig holds auto-refresh scheduler settings.
type SchedulerConfig struct {
	// TickInterval is how often refresh policies are scanned.
	TickInterval time.Duration
}

// Scheduler periodically scans refresh policies and pushes a refresh event
// to the owning connection for each due policy. Fire-and-forget per tick:
// it never waits for acknowledgement; confirmation, if any, arrives later
// as an independent session_feedback message.
type Scheduler struct {
	config   SchedulerConfig
	policies storage.PolicyStore
	router   *Router
	logger   *slog.Logger

	// now is swappable for tests.
	now func() time.Time
}

// NewScheduler creates an auto-refresh scheduler.
func NewScheduler(cfg SchedulerConfig, policies storage.PolicyStore, router *Router, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.TickInterval == 0 {
		cfg.TickInterval = time.Minute
	}
	return &Scheduler{
		config:   cfg,
		policies: policies,
		router:   router,
		logger:   logger,
		now:      time.Now,
	}
}

// Run executes the scheduler loop until the context is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.config.TickInterval)
	defer ticker.Stop()

	s.logger.Info("refresh_scheduler_started",
		slog.Duration("tick_interval", s.config.TickInterval))

	for {
		select {
		case <-ticker.C:
			s.Tick()
		case <-ctx.Done():
			s.logger.Info("refresh_scheduler_stopped")
			return
		}
	}
}

// Tick scans policies once and dispatches refresh events for the due ones.
// Storage errors skip the tick; they never stop the loop.
func (s *Scheduler) Tick() {
	policies, err := s.policies.List()
	if err != nil {
		s.logger.Error("refresh_scan_failed", slog.String("error", err.Error()))
		return
	}

	now := s.now()
	due := 0
	for _, pol := range policies {
		if !pol.Due(now) {
			continue
		}
		due++

		ev := OutboundEvent{
			UserID:   pol.UserID,
			Username: pol.Username,
			Kind:     EventSessionFeedback,
			Payload: map[string]any{
				"action": "refresh_cookie",
				"reason": "auto_refresh",
			},
		}

		if err := s.router.Dispatch(ev); err != nil {
			// Undeliverable: the policy stays due and is retried next tick.
			continue
		}

		pol.LastRefreshAt = now
		if err := s.policies.Save(pol); err != nil {
			s.logger.Error("refresh_policy_update_failed",
				slog.String("user_id", pol.UserID),
				slog.String("error", err.Error()))
		}
	}

	if due > 0 {
		s.logger.Debug("refresh_tick_completed",
			slog.Int("policies", len(policies)),
			slog.Int("due", due))
	}
}
