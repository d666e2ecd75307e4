// Copyright (c) Session Bridge Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/sessionbridge/sessionbridge/broker"
	"github.com/sessionbridge/sessionbridge/config"
	"github.com/sessionbridge/sessionbridge/endpoint"
	"github.com/sessionbridge/sessionbridge/notifier"
	"github.com/sessionbridge/sessionbridge/ratelimit"
	"github.com/sessionbridge/sessionbridge/server/health"
	httpserver "github.com/sessionbridge/sessionbridge/server/http"
	"github.com/sessionbridge/sessionbridge/server/websocket"
	"github.com/sessionbridge/sessionbridge/storage"
	"github.com/sessionbridge/sessionbridge/storage/badger"
	"github.com/sessionbridge/sessionbridge/storage/memory"
)

func main() {
	configFile := flag.String("config", "", "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	logLevel := slog.LevelInfo
	switch cfg.Log.Level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	}

	var handler slog.Handler
	if cfg.Log.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})
	} else {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})
	}
	logger := slog.New(handler)
	slog.SetDefault(logger)

	slog.Info("starting session bridge", "version", "0.1.0")

	info, err := endpoint.Resolve(endpoint.Config{
		Host:        cfg.Server.Host,
		BasePort:    cfg.Server.BasePort,
		PushPort:    cfg.Server.PushPort,
		Environment: cfg.Server.Environment,
	})
	if err != nil {
		slog.Error("failed to resolve endpoints", "error", err)
		os.Exit(1)
	}

	slog.Info("endpoints resolved",
		"api_addr", info.PrimaryAddr(),
		"push_addr", info.SecondaryAddr(),
		"environment", info.Environment)

	var store storage.Store
	switch cfg.Storage.Type {
	case "memory":
		store = memory.New()
		slog.Info("using in-memory storage")
	case "badger":
		badgerStore, err := badger.New(badger.Config{
			Dir:        cfg.Storage.BadgerDir,
			SyncWrites: cfg.Storage.SyncWrites,
		})
		if err != nil {
			slog.Error("failed to initialize BadgerDB storage", "error", err)
			os.Exit(1)
		}
		store = badgerStore
		defer store.Close()
		slog.Info("using BadgerDB persistent storage", "dir", cfg.Storage.BadgerDir)
	default:
		slog.Error("unknown storage type", "type", cfg.Storage.Type)
		os.Exit(1)
	}

	var sink broker.FeedbackSink
	if cfg.Notifier.Enabled {
		n, err := notifier.New(cfg.Notifier, notifier.NewHTTPSender(), logger)
		if err != nil {
			slog.Error("failed to initialize feedback notifier", "error", err)
			os.Exit(1)
		}
		sink = n
		defer n.Close()
		slog.Info("feedback notifier enabled",
			"endpoints", len(cfg.Notifier.Endpoints),
			"workers", cfg.Notifier.Workers)
	} else {
		slog.Info("feedback notifier disabled")
	}

	b := broker.New(broker.Config{
		Router: broker.RouterConfig{
			RegisterWindow: cfg.Server.RegisterWindow,
			IdleTimeout:    cfg.Server.IdleTimeout,
		},
		Scheduler: broker.SchedulerConfig{
			TickInterval: cfg.Refresh.TickInterval,
		},
	}, store, sink, logger)
	defer b.Close()

	b.SetEndpointInfo(info)

	if cfg.Server.MsgRate > 0 {
		b.Router().SetMessageLimiter(ratelimit.NewUserRateLimiter(cfg.Server.MsgRate, cfg.Server.MsgBurst))
	}

	var connLimiter *ratelimit.IPRateLimiter
	if cfg.Server.ConnRate > 0 {
		connLimiter = ratelimit.NewIPRateLimiter(cfg.Server.ConnRate, cfg.Server.ConnBurst, 5*time.Minute)
		defer connLimiter.Stop()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup
	serverErr := make(chan error, 4)

	pushServer := websocket.New(websocket.Config{
		Address:         info.SecondaryAddr(),
		Path:            cfg.Server.PushPath,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	}, b.Router(), connLimiter, logger)

	b.SetPushStarter(func() {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := pushServer.Listen(ctx); err != nil {
				serverErr <- err
			}
		}()
	})
	b.EnsurePushChannel()

	apiServer := httpserver.New(httpserver.Config{
		Address:                info.PrimaryAddr(),
		ShutdownTimeout:        cfg.Server.ShutdownTimeout,
		DefaultRefreshInterval: cfg.Refresh.DefaultInterval,
	}, b, store, logger)

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := apiServer.Listen(ctx); err != nil {
			serverErr <- err
		}
	}()

	if cfg.Server.HealthEnabled {
		healthServer := health.New(health.Config{
			Address:         cfg.Server.HealthAddr,
			ShutdownTimeout: cfg.Server.ShutdownTimeout,
		}, b, logger)

		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := healthServer.Listen(ctx); err != nil {
				serverErr <- err
			}
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		b.Scheduler().Run(ctx)
	}()

	slog.Info("session bridge started")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		slog.Info("received shutdown signal", "signal", sig)
	case err := <-serverErr:
		slog.Error("server error", "error", err)
	}

	cancel()
	wg.Wait()
	slog.Info("session bridge stopped")
}
