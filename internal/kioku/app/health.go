package app

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/bdobrica/Kioku/common/redact"
	"github.com/bdobrica/Kioku/common/version"
)

// HealthServer exposes /health, /status and /metrics. Kioku runs without it
// when KIOKU_HTTP_ADDR is empty.
type HealthServer struct {
	addr      string
	status    statusProvider
	settings  map[string]any
	startedAt time.Time
	server    *http.Server
	router    chi.Router
}

// statusProvider is what /status needs from the running application.
type statusProvider interface {
	ChatCount(ctx context.Context) (int, error)
	ActiveChats() int
}

type healthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Commit  string `json:"commit"`
}

type statusResponse struct {
	Status      string         `json:"status"`
	Version     string         `json:"version"`
	Commit      string         `json:"commit"`
	BuildTime   string         `json:"build_time"`
	StartedAt   time.Time      `json:"started_at"`
	UptimeSecs  float64        `json:"uptime_seconds"`
	StoredChats int            `json:"stored_chats"`
	ActiveChats int            `json:"active_chats"`
	Config      map[string]any `json:"config,omitempty"`
}

// NewHealthServer creates the HTTP server without starting it. settings is
// served under /status with credential-looking values redacted.
func NewHealthServer(addr string, sp statusProvider, settings map[string]any) *HealthServer {
	hs := &HealthServer{
		addr:      addr,
		status:    sp,
		settings:  redact.Map(settings),
		startedAt: time.Now(),
	}

	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Get("/health", hs.handleHealth)
	r.Get("/status", hs.handleStatus)
	r.Handle("/metrics", promhttp.Handler())
	hs.router = r
	return hs
}

// ServeHTTP lets tests drive the router with httptest.NewRecorder.
func (h *HealthServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.router.ServeHTTP(w, r)
}

// Start listens in the background and returns once the port is open. The
// server shuts down when ctx is cancelled.
func (h *HealthServer) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", h.addr)
	if err != nil {
		return fmt.Errorf("health server: listen %s: %w", h.addr, err)
	}

	h.server = &http.Server{
		Handler:      h,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("health server listening", "addr", ln.Addr().String())
		if err := h.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			slog.Error("health server stopped", "err", err)
		}
	}()

	go func() {
		<-ctx.Done()
		h.Stop()
	}()

	return nil
}

// Stop shuts down the HTTP server.
func (h *HealthServer) Stop() {
	if h.server == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := h.server.Shutdown(ctx); err != nil {
		slog.Warn("health server shutdown error", "err", err)
	}
}

func (h *HealthServer) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status:  "ok",
		Version: version.Version,
		Commit:  version.GitCommit,
	})
}

func (h *HealthServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{
		Status:     "ok",
		Version:    version.Version,
		Commit:     version.GitCommit,
		BuildTime:  version.BuildTime,
		StartedAt:  h.startedAt,
		UptimeSecs: time.Since(h.startedAt).Seconds(),
		Config:     h.settings,
	}
	if h.status != nil {
		if n, err := h.status.ChatCount(r.Context()); err == nil {
			resp.StoredChats = n
		} else {
			slog.Warn("health: count chats", "err", err)
		}
		resp.ActiveChats = h.status.ActiveChats()
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("health: failed to encode JSON response", "err", err)
	}
}
