// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package httpapi exposes the reconciler's observability surface: a
// Prometheus exposition endpoint, a health probe, small JSON status and
// whitelist endpoints, a force-sync trigger, and a live WebSocket tick
// feed for an operator dashboard.
package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"grimm.is/banctl/internal/decision"
	"grimm.is/banctl/internal/logging"
	"grimm.is/banctl/internal/metrics"
)

// TickSummary is one entry broadcast to WebSocket subscribers after each
// completed reconciliation tick.
type TickSummary struct {
	StartedAt     time.Time `json:"started_at"`
	FinishedAt    time.Time `json:"finished_at"`
	ToBanCount    int       `json:"to_ban_count"`
	ToUnbanCount  int       `json:"to_unban_count"`
	AdapterErrors []string  `json:"adapter_errors"`
}

// ForceSyncFunc triggers an out-of-cadence reconciliation tick.
type ForceSyncFunc func(ctx context.Context)

// Server is the small control-plane HTTP server.
type Server struct {
	router   *mux.Router
	httpSrv  *http.Server
	recorder *metrics.Recorder
	log      *logging.Logger

	forceSync ForceSyncFunc

	mu         sync.RWMutex
	whitelist  decision.Whitelist
	started    time.Time

	upgrader websocket.Upgrader
	subsMu   sync.Mutex
	subs     map[*websocket.Conn]struct{}
}

// New builds a Server bound to listenAddr, not yet started.
func New(listenAddr string, rec *metrics.Recorder, whitelist decision.Whitelist, forceSync ForceSyncFunc) *Server {
	s := &Server{
		router:    mux.NewRouter(),
		recorder:  rec,
		log:       logging.Default().WithComponent("httpapi"),
		forceSync: forceSync,
		whitelist: whitelist,
		started:   time.Now(),
		upgrader:  websocket.Upgrader{ReadBufferSize: 1024, WriteBufferSize: 1024},
		subs:      make(map[*websocket.Conn]struct{}),
	}
	s.setupRoutes()
	s.httpSrv = &http.Server{Addr: listenAddr, Handler: s.router}
	return s
}

func (s *Server) setupRoutes() {
	s.router.Handle("/metrics", promhttp.HandlerFor(s.recorder.Registry(), promhttp.HandlerOpts{})).Methods(http.MethodGet)
	s.router.HandleFunc("/healthz", s.handleHealthz).Methods(http.MethodGet)
	s.router.HandleFunc("/api/status", s.handleStatus).Methods(http.MethodGet)
	s.router.HandleFunc("/api/whitelist", s.handleWhitelist).Methods(http.MethodGet)
	s.router.HandleFunc("/api/force-sync", s.handleForceSync).Methods(http.MethodPost)
	s.router.HandleFunc("/api/ws/ticks", s.handleTicksWS).Methods(http.MethodGet)
}

// Start begins serving in the background; errors are logged, not returned,
// matching the reconciler's "the process never exits on a runtime error"
// policy — the httpapi server is an optional observability surface.
func (s *Server) Start() {
	go func() {
		if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.WithError(err).Error("httpapi server stopped unexpectedly")
		}
	}()
}

// Shutdown gracefully stops the server and closes any open WebSocket
// subscriptions.
func (s *Server) Shutdown(ctx context.Context) error {
	s.subsMu.Lock()
	for conn := range s.subs {
		conn.Close()
	}
	s.subsMu.Unlock()
	return s.httpSrv.Shutdown(ctx)
}

// BroadcastTick pushes a tick summary to every connected WebSocket
// subscriber, dropping any connection that fails to accept it.
func (s *Server) BroadcastTick(summary TickSummary) {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	for conn := range s.subs {
		if err := conn.WriteJSON(summary); err != nil {
			conn.Close()
			delete(s.subs, conn)
		}
	}
}

// SetWhitelist swaps the whitelist snapshot served by /api/whitelist.
func (s *Server) SetWhitelist(w decision.Whitelist) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.whitelist = w
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"uptime_seconds": time.Since(s.started).Seconds(),
	})
}

func (s *Server) handleWhitelist(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	wl := s.whitelist
	s.mu.RUnlock()
	respondJSON(w, http.StatusOK, map[string]any{"whitelist": wl.Entries()})
}

func (s *Server) handleForceSync(w http.ResponseWriter, r *http.Request) {
	if s.forceSync == nil {
		respondJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "force-sync not wired"})
		return
	}
	go s.forceSync(context.Background())
	respondJSON(w, http.StatusAccepted, map[string]string{"status": "sync triggered"})
}

func (s *Server) handleTicksWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.WithError(err).Warn("websocket upgrade failed")
		return
	}
	s.subsMu.Lock()
	s.subs[conn] = struct{}{}
	s.subsMu.Unlock()
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		fmt.Fprintf(w, `{"error":"failed to encode response"}`)
	}
}
