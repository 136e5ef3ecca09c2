// Package http exposes the expense tools as a small JSON API.
package http

import (
	"context"
	"net/http"
	"sync"
	"time"

	applog "expensetracker/internal/log"
	"expensetracker/internal/tools"
)

const maxBodyBytes = 1 << 20

// ToolService is the tool surface served over HTTP.
type ToolService interface {
	Tools() []tools.Tool
	Call(ctx context.Context, name string, args tools.Args) (any, error)
	ReadResource(ctx context.Context, uri string) ([]byte, string, error)
}

// ReadinessChecker reports whether the backing store answers.
type ReadinessChecker interface {
	Ready(ctx context.Context) error
}

type Options struct {
	Addr string
	// RateLimit is the number of tool calls a client may make per minute.
	// Zero disables limiting.
	RateLimit    int
	WriteTimeout time.Duration
	Logger       *applog.Logger
}

type Server struct {
	http.Server
	tools     ToolService
	readiness ReadinessChecker
	limiter   *rateLimiter

	shutdownOnce sync.Once
}

// NewServer configures routes and middleware, returning a ready-to-run
// http.Server.
func NewServer(opts Options, svc ToolService, readiness ReadinessChecker) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = applog.New(applog.DefaultConfig())
	}
	logger = logger.WithComponent(applog.ComponentHTTP)

	writeTimeout := opts.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = 10 * time.Second
	}

	mux := http.NewServeMux()
	s := &Server{
		Server: http.Server{
			Addr:              opts.Addr,
			Handler:           applog.Middleware(logger)(withAPIHeaders(mux)),
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       10 * time.Second,
			WriteTimeout:      writeTimeout,
			IdleTimeout:       60 * time.Second,
			MaxHeaderBytes:    1 << 16,
		},
		tools:     svc,
		readiness: readiness,
	}
	if opts.RateLimit > 0 {
		s.limiter = newRateLimiter(opts.RateLimit)
	}

	mux.HandleFunc("POST /tools/{name}", s.withRateLimit(s.handleCallTool))
	mux.HandleFunc("GET /tools", s.handleListTools)
	mux.HandleFunc("GET /resources/categories", s.handleCategories)
	mux.HandleFunc("GET /healthz", handleHealth)
	mux.HandleFunc("GET /readyz", s.handleReady)

	return s
}

// Shutdown stops the limiter cleanup goroutine and drains the server.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		if s.limiter != nil {
			s.limiter.stop()
		}
		shutdownErr = s.Server.Shutdown(ctx)
	})
	return shutdownErr
}

func withAPIHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("Cache-Control", "no-store")
		h.Set("Referrer-Policy", "no-referrer")
		next.ServeHTTP(w, r)
	})
}

func (s *Server) withRateLimit(next http.HandlerFunc) http.HandlerFunc {
	if s.limiter == nil {
		return next
	}
	return func(w http.ResponseWriter, r *http.Request) {
		ip := clientIP(r)
		if !s.limiter.allow(ip) {
			applog.FromContext(r.Context()).WarnContext(r.Context(), "Rate limit exceeded",
				"client_ip", ip,
				applog.FieldPath, r.URL.Path)
			w.Header().Set("Retry-After", "60")
			writeJSON(w, r, http.StatusTooManyRequests, tools.ErrorPayload{
				Status:  tools.StatusError,
				Error:   "rate_limited",
				Message: "rate limit exceeded, try again later",
			})
			return
		}
		next(w, r)
	}
}
