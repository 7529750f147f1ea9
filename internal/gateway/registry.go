package gateway

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/coday-ai/coday/internal/agent"
	"github.com/coday-ai/coday/internal/config"
	"github.com/coday-ai/coday/internal/mcp"
	"github.com/coday-ai/coday/internal/observability"
)

// ErrShuttingDown rejects new connections once Shutdown has begun.
var ErrShuttingDown = errors.New("gateway shutting down")

// providerFactory builds the provider registry for one session from its
// merged project configuration. The string slice carries warnings for
// skipped entries.
type providerFactory func(merged *config.Merged) (*agent.Registry, []string, error)

// sessionDeps bundles what every session needs to assemble its runtime.
type sessionDeps struct {
	config    *config.Service
	repos     *repoSet
	mcp       *mcp.Cache
	providers providerFactory
	logger    *slog.Logger
	metrics   *observability.Metrics
	tracer    *observability.Tracer
}

// Registry tracks live sessions by client id. A session leaves the map
// only through termination; after that the same id names a fresh one.
type Registry struct {
	deps    *sessionDeps
	timeout time.Duration
	logger  *slog.Logger
	metrics *observability.Metrics

	mu       sync.Mutex
	sessions map[string]*Session
	closed   bool
}

// NewRegistry creates a session registry. timeout is how long a fully
// disconnected session survives before termination.
func NewRegistry(deps *sessionDeps, timeout time.Duration, logger *slog.Logger, metrics *observability.Metrics) *Registry {
	if timeout <= 0 {
		timeout = defaultSessionTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	if deps.tracer == nil {
		// Turn spans then flow through whatever global provider is
		// installed, which is a no-op unless main configured one.
		deps.tracer, _ = observability.NewTracer(observability.TraceConfig{ServiceName: "coday"})
	}
	return &Registry{
		deps:     deps,
		timeout:  timeout,
		logger:   logger.With("component", "session_registry"),
		metrics:  metrics,
		sessions: make(map[string]*Session),
	}
}

// Connect attaches one stream to the client's session, resuming a
// session whose termination is pending or creating a fresh one. The
// second return reports creation. Callers must balance with detach.
func (r *Registry) Connect(clientID, project string) (*Session, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, false, ErrShuttingDown
	}

	if s, ok := r.sessions[clientID]; ok && s.attach() {
		r.logger.Debug("session resumed", "client_id", clientID)
		return s, false, nil
	}

	s := newSession(clientID, project, r.deps, r.timeout, r.onSessionEnd)
	s.attach()
	r.sessions[clientID] = s
	r.metrics.SessionStarted()
	r.logger.Info("session created", "client_id", clientID)
	return s, true, nil
}

// Get returns a live session without touching its lifecycle.
func (r *Registry) Get(clientID string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[clientID]
	return s, ok
}

// Len reports the live session count.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// onSessionEnd drops a terminated session from the map. The identity
// check keeps a late timer from removing a successor under the same
// client id.
func (r *Registry) onSessionEnd(s *Session) {
	r.mu.Lock()
	if current, ok := r.sessions[s.clientID]; ok && current == s {
		delete(r.sessions, s.clientID)
	}
	r.mu.Unlock()

	lifetime := time.Since(s.createdAt)
	r.metrics.SessionEnded(lifetime)
	r.logger.Info("session terminated", "client_id", s.clientID, "lifetime", lifetime)
}

// Shutdown terminates every session and rejects future connects. It
// returns once every driver goroutine has exited, so shared
// infrastructure can be torn down behind them.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	r.closed = true
	live := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		live = append(live, s)
	}
	r.mu.Unlock()

	for _, s := range live {
		s.Terminate()
	}
	for _, s := range live {
		select {
		case <-s.driverDone:
		case <-time.After(finalSaveTimeout):
			r.logger.Warn("session driver did not exit in time", "client_id", s.clientID)
		}
	}
}
