// Copyright (c) Session Bridge Authors
// SPDX-License-Identifier: Apache-2.0

// Package broker implements the session-brokering core: the connection
// registry for live secondary-channel peers, the message router that binds
// registrations to the registry and pushes events, and the auto-refresh
// scheduler that emits refresh events through the same path.
package broker

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/sessionbridge/sessionbridge/endpoint"
	"github.com/sessionbridge/sessionbridge/storage"
)

// Broker wires the registry, router and scheduler around a shared record
// store, and owns the resolved endpoint info exposed through discovery.
type Broker struct {
	registry  *Registry
	router    *Router
	scheduler *Scheduler
	store     storage.Store
	logger    *slog.Logger

	// info is written once at startup and read-only thereafter.
	info atomic.Pointer[endpoint.Info]

	// pushOnce gates the secondary channel start so concurrent first
	// discovery requests race-free trigger it at most once.
	pushOnce  sync.Once
	pushStart func()
}

// Config holds broker settings.
type Config struct {
	Router    RouterConfig
	Scheduler SchedulerConfig
}

// New creates a broker around the given record store. sink may be nil if
// inbound feedback has no collaborator to go to.
func New(cfg Config, st storage.Store, sink FeedbackSink, logger *slog.Logger) *Broker {
	if logger == nil {
		logger = slog.Default()
	}

	registry := NewRegistry(logger)
	router := NewRouter(cfg.Router, registry, sink, logger)

	return &Broker{
		registry:  registry,
		router:    router,
		scheduler: NewScheduler(cfg.Scheduler, st.Policies(), router, logger),
		store:     st,
		logger:    logger,
	}
}

// Registry returns the connection registry.
func (b *Broker) Registry() *Registry { return b.registry }

// Router returns the message router.
func (b *Broker) Router() *Router { return b.router }

// Scheduler returns the auto-refresh scheduler.
func (b *Broker) Scheduler() *Scheduler { return b.scheduler }

// Store returns the record store.
func (b *Broker) Store() storage.Store { return b.store }

// Dispatch pushes an outbound event through the router.
func (b *Broker) Dispatch(ev OutboundEvent) error {
	return b.router.Dispatch(ev)
}

// SetEndpointInfo publishes the resolved endpoint info. Called once at
// startup after endpoint resolution.
func (b *Broker) SetEndpointInfo(info *endpoint.Info) {
	b.info.Store(info)
}

// EndpointInfo returns the resolved endpoint info, or ErrNotReady if the
// allocator has not run yet.
func (b *Broker) EndpointInfo() (*endpoint.Info, error) {
	info := b.info.Load()
	if info == nil {
		return nil, ErrNotReady
	}
	return info, nil
}

// Ready reports whether endpoint info has been published.
func (b *Broker) Ready() bool {
	return b.info.Load() != nil
}

// SetPushStarter installs the function that starts the secondary channel.
func (b *Broker) SetPushStarter(start func()) {
	b.pushStart = start
}

// EnsurePushChannel starts the secondary channel exactly once. Safe to call
// from concurrent discovery requests; later calls are no-ops.
func (b *Broker) EnsurePushChannel() {
	if b.pushStart == nil {
		return
	}
	b.pushOnce.Do(b.pushStart)
}

// Close shuts the registry down, closing all live connections.
func (b *Broker) Close() {
	b.registry.Close()
}
