// Copyright (c) Session Bridge Authors
// SPDX-License-Identifier: Apache-2.0

// Package http serves the primary channel: discovery of the push channel,
// cookie/account record CRUD, and endpoints that trigger pushes to
// registered clients.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/sessionbridge/sessionbridge/broker"
	"github.com/sessionbridge/sessionbridge/storage"
)

// Config holds primary channel server configuration.
type Config struct {
	Address         string
	ShutdownTimeout time.Duration

	// DefaultRefreshInterval is applied when a cookie is stored with
	// auto-refresh enabled but no interval given.
	DefaultRefreshInterval time.Duration
}

// Server is the primary channel HTTP server.
type Server struct {
	config Config
	broker *broker.Broker
	store  storage.Store
	logger *slog.Logger
	server *http.Server
}

// New creates a primary channel server.
func New(cfg Config, b *broker.Broker, st storage.Store, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.DefaultRefreshInterval == 0 {
		cfg.DefaultRefreshInterval = 30 * time.Minute
	}

	s := &Server{
		config: cfg,
		broker: b,
		store:  st,
		logger: logger,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /discovery/websocket-info", s.handleWebSocketInfo)
	mux.HandleFunc("GET /discovery/info", s.handleFullInfo)

	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("GET /api/stats", s.handleStats)
	mux.HandleFunc("GET /api/user/logout-status", s.handleLogoutStatus)

	mux.HandleFunc("GET /api/cookies", s.handleGetCookie)
	mux.HandleFunc("POST /api/cookies", s.handleAddCookie)
	mux.HandleFunc("DELETE /api/cookies", s.handleDeleteCookie)

	mux.HandleFunc("GET /api/accounts", s.handleGetAccount)
	mux.HandleFunc("POST /api/accounts", s.handleAddAccount)
	mux.HandleFunc("DELETE /api/accounts", s.handleDeleteAccount)

	mux.HandleFunc("GET /api/c-client/status", s.handleClientStatus)
	mux.HandleFunc("POST /api/c-client/update-cookie", s.handleUpdateCookie)
	mux.HandleFunc("POST /api/c-client/notify-login", s.handleNotifyLogin)
	mux.HandleFunc("POST /api/c-client/notify-logout", s.handleNotifyLogout)
	mux.HandleFunc("POST /api/c-client/sync-session", s.handleSyncSession)
	mux.HandleFunc("POST /api/websocket/check-user", s.handleCheckUser)

	s.server = &http.Server{
		Addr:         cfg.Address,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	return s
}

// Handler returns the server's HTTP handler, for tests.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Listen starts the primary channel server and blocks until the context is
// cancelled.
func (s *Server) Listen(ctx context.Context) error {
	s.logger.Info("api_server_starting", slog.String("addr", s.config.Address))

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		s.logger.Info("api_server_shutdown_initiated")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
		defer cancel()

		if err := s.server.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("api_server_shutdown_error", slog.String("error", err.Error()))
			return err
		}

		s.logger.Info("api_server_stopped")
		return nil
	}
}

// --- Discovery ---

func (s *Server) handleWebSocketInfo(w http.ResponseWriter, r *http.Request) {
	s.broker.EnsurePushChannel()

	info, err := s.broker.EndpointInfo()
	if err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"success": false,
			"error":   err.Error(),
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"websocket_url":  info.WebSocketURL(),
		"websocket_host": info.SecondaryHost,
		"websocket_port": info.SecondaryPort,
		"http_port":      info.PrimaryPort,
		"environment":    info.Environment,
	})
}

func (s *Server) handleFullInfo(w http.ResponseWriter, r *http.Request) {
	s.broker.EnsurePushChannel()

	info, err := s.broker.EndpointInfo()
	if err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"success": false,
			"error":   err.Error(),
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"info": map[string]any{
			"websocket": map[string]any{
				"enabled":     true,
				"host":        info.SecondaryHost,
				"port":        info.SecondaryPort,
				"environment": info.Environment,
			},
			"api_port":       info.PrimaryPort,
			"websocket_port": info.SecondaryPort,
			"hostname":       info.Hostname,
			"local_ip":       info.LocalIP,
		},
	})
}

// --- Records ---

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"service":   "sessionbridge",
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	cookies, err := s.store.Cookies().List()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	accounts, err := s.store.Accounts().List()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	autoRefresh := 0
	for _, c := range cookies {
		if c.AutoRefresh {
			autoRefresh++
		}
	}
	autoGenerated := 0
	for _, a := range accounts {
		if a.AutoGenerated {
			autoGenerated++
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"autoRefreshUsers":    autoRefresh,
		"autoRegisteredUsers": autoGenerated,
		"totalCookies":        len(cookies),
	})
}

func (s *Server) handleLogoutStatus(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		writeError(w, http.StatusBadRequest, errors.New("user_id parameter is required"))
		return
	}
	website := r.URL.Query().Get("website")
	if website == "" {
		website = "nsn"
	}

	acc, err := s.store.Accounts().Get(userID, website)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeJSON(w, http.StatusOK, map[string]any{
				"user_id": userID,
				"logout":  false,
				"found":   false,
			})
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"user_id": userID,
		"logout":  acc.Logout,
		"found":   true,
	})
}

func (s *Server) handleGetCookie(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		writeError(w, http.StatusBadRequest, errors.New("user_id is required"))
		return
	}

	ck, err := s.store.Cookies().Get(userID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeJSON(w, http.StatusOK, map[string]any{
				"success":    false,
				"has_cookie": false,
				"message":    "No cookie found for user",
			})
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	// The cookie value itself is not returned here; the session is pushed
	// over the secondary channel after registration.
	writeJSON(w, http.StatusOK, map[string]any{
		"success":    true,
		"has_cookie": true,
		"username":   ck.Username,
		"message":    "Cookie found",
	})
}

type cookieRequest struct {
	UserID      string `json:"user_id"`
	Username    string `json:"username"`
	NodeID      string `json:"node_id"`
	Cookie      string `json:"cookie"`
	AutoRefresh bool   `json:"auto_refresh"`
	RefreshTime string `json:"refresh_time"`
}

func (s *Server) handleAddCookie(w http.ResponseWriter, r *http.Request) {
	var req cookieRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request: %w", err))
		return
	}
	if req.UserID == "" || req.Username == "" || req.Cookie == "" {
		writeError(w, http.StatusBadRequest, errors.New("user_id, username, and cookie are required"))
		return
	}

	now := time.Now().UTC()
	ck := &storage.Cookie{
		UserID:      req.UserID,
		Username:    req.Username,
		NodeID:      req.NodeID,
		Value:       req.Cookie,
		AutoRefresh: req.AutoRefresh,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if req.RefreshTime != "" {
		t, err := time.Parse(time.RFC3339, req.RefreshTime)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid refresh_time: %w", err))
			return
		}
		ck.RefreshTime = t
	}

	if err := s.store.Cookies().Save(ck); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	// Keep the refresh policy in step with the cookie's auto-refresh flag.
	if req.AutoRefresh {
		pol := &storage.RefreshPolicy{
			UserID:          req.UserID,
			Username:        req.Username,
			AutoRefresh:     true,
			RefreshInterval: s.config.DefaultRefreshInterval,
			LastRefreshAt:   now,
		}
		if err := s.store.Policies().Save(pol); err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
	} else {
		if err := s.store.Policies().Delete(req.UserID); err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{"message": "Cookie added successfully"})
}

func (s *Server) handleDeleteCookie(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		writeError(w, http.StatusBadRequest, errors.New("user_id is required"))
		return
	}

	if err := s.store.Cookies().Delete(userID); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if err := s.store.Policies().Delete(userID); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"message": "Cookie deleted successfully"})
}

func (s *Server) handleGetAccount(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		writeError(w, http.StatusBadRequest, errors.New("user_id is required"))
		return
	}
	website := r.URL.Query().Get("website")
	if website == "" {
		website = "nsn"
	}

	acc, err := s.store.Accounts().Get(userID, website)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeJSON(w, http.StatusOK, map[string]any{"success": false, "found": false})
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"found":   true,
		"account": acc,
	})
}

type accountRequest struct {
	UserID        string `json:"user_id"`
	Username      string `json:"username"`
	Website       string `json:"website"`
	AutoGenerated bool   `json:"auto_generated"`
	Logout        bool   `json:"logout"`
}

func (s *Server) handleAddAccount(w http.ResponseWriter, r *http.Request) {
	var req accountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request: %w", err))
		return
	}
	if req.UserID == "" || req.Username == "" {
		writeError(w, http.StatusBadRequest, errors.New("user_id and username are required"))
		return
	}
	if req.Website == "" {
		req.Website = "nsn"
	}

	now := time.Now().UTC()
	acc := &storage.Account{
		UserID:        req.UserID,
		Username:      req.Username,
		Website:       req.Website,
		AutoGenerated: req.AutoGenerated,
		Logout:        req.Logout,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if err := s.store.Accounts().Save(acc); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"message": "Account saved successfully"})
}

func (s *Server) handleDeleteAccount(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		writeError(w, http.StatusBadRequest, errors.New("user_id is required"))
		return
	}
	website := r.URL.Query().Get("website")
	if website == "" {
		website = "nsn"
	}

	if err := s.store.Accounts().Delete(userID, website); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"message": "Account deleted successfully"})
}

// --- Push triggers ---

func (s *Server) handleClientStatus(w http.ResponseWriter, r *http.Request) {
	info, err := s.broker.EndpointInfo()
	if err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"success": false,
			"error":   err.Error(),
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"websocket_server": map[string]any{
			"enabled": true,
			"host":    info.SecondaryHost,
			"port":    info.SecondaryPort,
			"status":  "running",
		},
		"connected_clients": s.broker.Registry().ListActive(),
		"timestamp":         time.Now().UTC().Format(time.RFC3339),
	})
}

type pushRequest struct {
	UserID      string         `json:"user_id"`
	Username    string         `json:"username"`
	Cookie      string         `json:"cookie"`
	AutoRefresh bool           `json:"auto_refresh"`
	SessionData map[string]any `json:"session_data"`
}

func (s *Server) decodePushRequest(w http.ResponseWriter, r *http.Request) (*pushRequest, bool) {
	var req pushRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request: %w", err))
		return nil, false
	}
	if req.UserID == "" || req.Username == "" {
		writeError(w, http.StatusBadRequest, errors.New("user_id and username are required"))
		return nil, false
	}
	return &req, true
}

// dispatch pushes the event and writes the HTTP result for it.
func (s *Server) dispatch(w http.ResponseWriter, ev broker.OutboundEvent, message string) {
	if err := s.broker.Dispatch(ev); err != nil {
		if errors.Is(err, broker.ErrUndeliverable) {
			writeJSON(w, http.StatusNotFound, map[string]any{
				"success": false,
				"error":   "user not connected",
				"user_id": ev.UserID,
			})
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success":  true,
		"message":  message,
		"user_id":  ev.UserID,
		"username": ev.Username,
	})
}

func (s *Server) handleUpdateCookie(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodePushRequest(w, r)
	if !ok {
		return
	}
	if req.Cookie == "" {
		writeError(w, http.StatusBadRequest, errors.New("cookie is required"))
		return
	}

	s.dispatch(w, broker.OutboundEvent{
		UserID:   req.UserID,
		Username: req.Username,
		Kind:     broker.EventAutoLogin,
		Payload: map[string]any{
			"action":       "cookie_update",
			"cookie":       req.Cookie,
			"auto_refresh": req.AutoRefresh,
		},
	}, "Cookie update sent to client")
}

func (s *Server) handleNotifyLogin(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodePushRequest(w, r)
	if !ok {
		return
	}

	s.dispatch(w, broker.OutboundEvent{
		UserID:   req.UserID,
		Username: req.Username,
		Kind:     broker.EventAutoLogin,
		Payload: map[string]any{
			"action":       "user_login",
			"session_data": req.SessionData,
		},
	}, "Login notification sent to client")
}

func (s *Server) handleNotifyLogout(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodePushRequest(w, r)
	if !ok {
		return
	}

	s.dispatch(w, broker.OutboundEvent{
		UserID:   req.UserID,
		Username: req.Username,
		Kind:     broker.EventLogoutNotification,
		Payload: map[string]any{
			"action": "user_logout",
		},
	}, "Logout notification sent to client")
}

func (s *Server) handleSyncSession(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodePushRequest(w, r)
	if !ok {
		return
	}

	s.dispatch(w, broker.OutboundEvent{
		UserID:   req.UserID,
		Username: req.Username,
		Kind:     broker.EventSessionFeedback,
		Payload: map[string]any{
			"action":       "session_sync",
			"session_data": req.SessionData,
		},
	}, "Session sync sent to client")
}

func (s *Server) handleCheckUser(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID string `json:"user_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request: %w", err))
		return
	}
	if req.UserID == "" {
		writeError(w, http.StatusBadRequest, errors.New("user_id is required"))
		return
	}

	connected := false
	for _, sess := range s.broker.Registry().ListActive() {
		if sess.Identity.UserID == req.UserID {
			connected = true
			break
		}
	}

	wsURL := ""
	if info, err := s.broker.EndpointInfo(); err == nil {
		wsURL = info.WebSocketURL()
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success":       true,
		"connected":     connected,
		"websocket_url": wsURL,
		"user_id":       req.UserID,
	})
}

// --- Helpers ---

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]any{"error": err.Error()})
}
