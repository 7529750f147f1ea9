// Package gateway exposes the conversational core over HTTP: an SSE
// event stream per client session, answer and stop ingress, and a thin
// REST surface over the per-project thread repositories and the
// editable configuration levels.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/coday-ai/coday/internal/config"
	"github.com/coday-ai/coday/internal/mcp"
	"github.com/coday-ai/coday/internal/observability"
)

const (
	defaultHost           = "127.0.0.1"
	defaultPort           = 8080
	defaultSessionTimeout = time.Hour
	defaultHeartbeat      = 10 * time.Second
)

// Server is the HTTP gateway. It owns the process-global MCP instance
// cache, the session registry, and the per-project repository set; all
// three are torn down by Shutdown.
type Server struct {
	cfg     *config.Service
	logger  *slog.Logger
	metrics *observability.Metrics
	tracer  *observability.Tracer

	host      string
	port      int
	heartbeat time.Duration

	mcpCache *mcp.Cache
	repos    *repoSet
	sessions *Registry

	httpServer   *http.Server
	httpListener net.Listener
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the gateway logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetrics wires prometheus metrics through the gateway and into
// every session it creates.
func WithMetrics(m *observability.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithTracer sets the tracer sessions use for their per-turn spans.
func WithTracer(t *observability.Tracer) Option {
	return func(s *Server) { s.tracer = t }
}

// New builds a gateway over the configuration directory. The listener
// address and the session timeout come from the CODAY-level `server`
// section; everything else is resolved per project at session start.
func New(cfg *config.Service, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:       cfg,
		logger:    slog.Default(),
		host:      defaultHost,
		port:      defaultPort,
		heartbeat: defaultHeartbeat,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "gateway")

	doc, err := cfg.Coday()
	if err != nil {
		return nil, fmt.Errorf("load coday config: %w", err)
	}

	timeout := defaultSessionTimeout
	if doc.Server != nil {
		if doc.Server.Host != "" {
			s.host = doc.Server.Host
		}
		if doc.Server.Port != 0 {
			s.port = doc.Server.Port
		}
		if doc.Server.SessionTimeout != 0 {
			timeout = doc.Server.SessionTimeout
		}
	}

	var storage config.Storage
	if doc.Storage != nil {
		storage = *doc.Storage
	}

	s.mcpCache = mcp.NewCache(s.logger, s.metrics)
	s.repos = newRepoSet(cfg, storage, s.logger, s.metrics)
	s.sessions = NewRegistry(&sessionDeps{
		config:    cfg,
		repos:     s.repos,
		mcp:       s.mcpCache,
		providers: buildProviders,
		logger:    s.logger,
		metrics:   s.metrics,
		tracer:    s.tracer,
	}, timeout, s.logger, s.metrics)

	return s, nil
}

// Handler assembles the route table. Exposed for tests; Start uses it.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.HandleFunc("/events", s.handleEvents)
	mux.HandleFunc("/api/message", s.handleMessage)
	mux.HandleFunc("/api/stop", s.handleStop)
	mux.HandleFunc("/api/config", s.handleConfig)
	mux.HandleFunc("/api/projects/", s.handleThreads)

	return s.recordRequests(mux)
}

// Start listens and serves until Shutdown. The listener is bound before
// Start returns, so callers can rely on Addr.
func (s *Server) Start(ctx context.Context) error {
	addr := net.JoinHostPort(s.host, strconv.Itoa(s.port))

	server := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("http listen: %w", err)
	}

	s.httpServer = server
	s.httpListener = listener

	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("http server error", "error", err)
		}
	}()

	s.logger.Info("gateway listening", "addr", listener.Addr().String())
	return nil
}

// Addr returns the bound listener address, or "" before Start.
func (s *Server) Addr() string {
	if s.httpListener == nil {
		return ""
	}
	return s.httpListener.Addr().String()
}

// Shutdown stops the HTTP server, terminates every live session, and
// closes the MCP instance cache and open repositories.
func (s *Server) Shutdown(ctx context.Context) error {
	if ctx == nil {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
	}

	var err error
	if s.httpServer != nil {
		if shutdownErr := s.httpServer.Shutdown(ctx); shutdownErr != nil {
			s.logger.Warn("http server shutdown error", "error", shutdownErr)
			err = shutdownErr
		}
		s.httpServer = nil
		s.httpListener = nil
	}

	s.sessions.Shutdown()
	s.mcpCache.Close()
	s.repos.Close()
	return err
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	s.jsonResponse(w, map[string]any{
		"status":        "ok",
		"sessions":      s.sessions.Len(),
		"mcp_instances": s.mcpCache.Len(),
	})
}

// jsonResponse writes a JSON response.
func (s *Server) jsonResponse(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error("json encode error", "error", err)
	}
}

// jsonError writes a JSON error response.
func (s *Server) jsonError(w http.ResponseWriter, message string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message}) //nolint:errcheck
}

// statusWriter captures the response code for the request metric.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// Flush keeps the SSE handler working behind the metrics wrapper.
func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (s *Server) recordRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.metrics == nil {
			next.ServeHTTP(w, r)
			return
		}
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(sw, r)
		s.metrics.RecordHTTPRequest(r.Method, r.URL.Path, strconv.Itoa(sw.status), time.Since(start))
	})
}
