// Package server provides the control-plane HTTP server: sandbox lifecycle
// CRUD, exec, file upload, PTY attach (WebSocket), branch listing, and
// workspace diff. Grounded on the teacher's internal/server package (Server
// struct composing every subsystem manager, setupRoutes on a method-pattern
// http.ServeMux, corsMiddleware, a long-write-timeout httpServer for
// WebSocket upgrades) and adapted from a multi-workspace VM agent to a
// single-host sandbox daemon.
package server

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/cmux/sandboxd/internal/auth"
	"github.com/cmux/sandboxd/internal/config"
	"github.com/cmux/sandboxd/internal/errorreport"
	"github.com/cmux/sandboxd/internal/gitcache"
	"github.com/cmux/sandboxd/internal/idle"
	"github.com/cmux/sandboxd/internal/metrics"
	"github.com/cmux/sandboxd/internal/pty"
	"github.com/cmux/sandboxd/internal/sandbox"
)

// Server is the sandbox daemon's control plane.
type Server struct {
	cfg *config.Config

	httpServer *http.Server
	mux        *http.ServeMux
	auth       *auth.TokenValidator
	upgrader   websocket.Upgrader

	sandboxes *sandbox.Manager
	sessions  *pty.Manager
	gitCache  *gitcache.Cache
	reaper    *idle.Reaper
	errors    *errorreport.Reporter
}

// New assembles a Server from an already-loaded config and its subsystem
// managers. Managers are constructed by the caller (main.go) so tests can
// substitute fakes without dragging in bubblewrap/iproute2 dependencies.
func New(cfg *config.Config, sandboxes *sandbox.Manager, sessions *pty.Manager, gitCache *gitcache.Cache, reaper *idle.Reaper, reporter *errorreport.Reporter) *Server {
	s := &Server{
		cfg:       cfg,
		auth:      auth.NewTokenValidator(cfg.ControlToken),
		sandboxes: sandboxes,
		sessions:  sessions,
		gitCache:  gitCache,
		reaper:    reaper,
		errors:    reporter,
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  cfg.WSReadBufferSize,
		WriteBufferSize: cfg.WSWriteBufferSize,
		CheckOrigin:     s.checkOrigin,
	}

	mux := http.NewServeMux()
	s.mux = mux
	s.setupRoutes(mux)

	// WriteTimeout is intentionally left at 0: it sets a deadline on the
	// underlying net.Conn before the handler runs, which would kill
	// long-lived hijacked WebSocket attach connections.
	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      s.corsMiddleware(s.recoverMiddleware(mux)),
		ReadTimeout:  cfg.HTTPReadTimeout,
		IdleTimeout:  cfg.HTTPIdleTimeout,
	}
	return s
}

// Start begins serving and the idle reaper loop. Blocks until the server
// stops or fails.
func (s *Server) Start() error {
	if s.reaper != nil {
		s.reaper.Start()
	}
	if s.errors != nil {
		s.errors.Start()
	}
	log.Info().Str("addr", s.httpServer.Addr).Msg("starting sandboxd control plane")
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Stop gracefully shuts down the HTTP server and every background loop.
func (s *Server) Stop(ctx context.Context) error {
	if s.reaper != nil {
		s.reaper.Stop()
	}
	s.sessions.CloseAll()
	s.sandboxes.Shutdown(ctx)
	if s.errors != nil {
		s.errors.Shutdown()
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) setupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	if s.cfg.MetricsEnabled {
		mux.Handle("GET /metrics", metrics.Handler())
	}

	mux.HandleFunc("POST /sandboxes", s.withAuth(s.handleCreateSandbox))
	mux.HandleFunc("GET /sandboxes", s.withAuth(s.handleListSandboxes))
	mux.HandleFunc("GET /sandboxes/{id}", s.withAuth(s.handleGetSandbox))
	mux.HandleFunc("DELETE /sandboxes/{id}", s.withAuth(s.handleDeleteSandbox))
	mux.HandleFunc("POST /sandboxes/{id}/exec", s.withAuth(s.handleExec))
	mux.HandleFunc("POST /sandboxes/{id}/files", s.withAuth(s.handleFiles))
	mux.HandleFunc("GET /sandboxes/{id}/attach", s.withAuth(s.handleAttach))
	mux.HandleFunc("GET /sandboxes/{id}/screen", s.withAuth(s.handleScreen))
	mux.HandleFunc("GET /sandboxes/{id}/branches", s.withAuth(s.handleBranches))
	mux.HandleFunc("GET /sandboxes/{id}/diff", s.withAuth(s.handleDiff))
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// withAuth rejects requests lacking a valid bearer token when the control
// plane is configured with a shared secret (auth.Required()). A daemon
// started without CMUX_CONTROL_TOKEN_SECRET runs open.
func (s *Server) withAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.auth.Required() {
			next(w, r)
			return
		}
		token := bearerToken(r)
		if token == "" {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		if _, err := s.auth.Validate(token); err != nil {
			writeError(w, http.StatusUnauthorized, "invalid bearer token")
			return
		}
		next(w, r)
	}
}

func bearerToken(r *http.Request) string {
	const prefix = "Bearer "
	h := r.Header.Get("Authorization")
	if len(h) > len(prefix) && h[:len(prefix)] == prefix {
		return h[len(prefix):]
	}
	return r.URL.Query().Get("token")
}

// recoverMiddleware is the outermost panic boundary: a panic on a handler's
// own goroutine (including the WebSocket attach read loop) becomes a logged
// 500 instead of taking down the process. Goroutines that a handler starts
// are not covered.
func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				log.Error().Interface("panic", rec).Str("path", r.URL.Path).Msg("recovered from panic in handler")
				writeError(w, http.StatusInternalServerError, "internal error")
			}
		}()
		_, pattern := s.mux.Handler(r)
		if pattern == "" {
			pattern = r.URL.Path
		}
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)
		metrics.HTTPRequestsTotal.WithLabelValues(pattern, fmt.Sprintf("%d", sw.status)).Inc()
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
