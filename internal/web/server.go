// Package web exposes the resolver over HTTP for the desktop companion
// and for debugging: JSON endpoints for one-shot queries and a
// websocket that pushes state snapshots.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/asheshgoplani/agent-radar/internal/logging"
	"github.com/asheshgoplani/agent-radar/internal/resolver"
)

var webLog = logging.ForComponent(logging.CompWeb)

// Config defines runtime options for the web server.
type Config struct {
	ListenAddr   string
	Token        string
	PushInterval time.Duration
}

// Server wraps an HTTP server over one resolver.
type Server struct {
	cfg        Config
	res        *resolver.Resolver
	httpServer *http.Server
	baseCtx    context.Context
	cancelBase context.CancelFunc
}

// NewServer creates a server with base routes and middleware.
func NewServer(cfg Config, res *resolver.Resolver) *Server {
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = "127.0.0.1:8430"
	}
	if cfg.PushInterval <= 0 {
		cfg.PushInterval = 2 * time.Second
	}

	s := &Server{cfg: cfg, res: res}
	s.baseCtx, s.cancelBase = context.WithCancel(context.Background())

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.HandleFunc("/api/resolve", s.handleResolve)
	mux.HandleFunc("/api/sessions", s.handleSessions)
	mux.HandleFunc("/ws/state", s.handleStateWS)

	s.httpServer = &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           withRecover(mux),
		BaseContext:       func(_ net.Listener) context.Context { return s.baseCtx },
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

// Addr returns the listen address.
func (s *Server) Addr() string {
	return s.httpServer.Addr
}

// Handler returns the configured HTTP handler (used by tests).
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start starts the HTTP server and blocks until shutdown or error.
// Returns nil on graceful shutdown.
func (s *Server) Start() error {
	webLog.Info("web_server_starting", slog.String("addr", s.cfg.ListenAddr))
	err := s.httpServer.ListenAndServe()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.cancelBase != nil {
		// Signal long-lived websocket handlers to stop promptly.
		s.cancelBase()
	}

	err := s.httpServer.Shutdown(ctx)
	if err == nil {
		return nil
	}

	// Long-lived connections may still block graceful shutdown. Force
	// close as a fallback so Ctrl+C exits promptly.
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		if closeErr := s.httpServer.Close(); closeErr == nil {
			return nil
		} else {
			return fmt.Errorf("graceful shutdown timed out and force close failed: %w", closeErr)
		}
	}
	return err
}

func withRecover(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				webLog.Error("panic",
					slog.String("recover", fmt.Sprintf("%v", rec)),
					slog.String("path", r.URL.Path))
				http.Error(w, "internal server error", http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeAPIError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]apiError{"error": {Code: code, Message: message}})
}
