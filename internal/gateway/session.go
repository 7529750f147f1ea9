package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/coday-ai/coday/internal/interact"
	"github.com/coday-ai/coday/internal/observability"
	"github.com/coday-ai/coday/internal/thread"
	"github.com/coday-ai/coday/pkg/events"
)

// finalSaveTimeout bounds the thread save performed during termination.
const finalSaveTimeout = 5 * time.Second

// idleInvite prompts for the next turn whenever the driver is ready to
// take one. Answers citing its key route through the inbox like any
// unsolicited message; no waiter is parked on it.
const idleInvite = "What can I do for you?"

// Session is one client's long-lived conversation scope: an event bus,
// an interactor routing answers, and a driver goroutine running the
// agent loop. A session survives SSE disconnects until the idle timeout
// fires with no connection attached.
type Session struct {
	clientID string
	project  string
	deps     *sessionDeps
	timeout  time.Duration
	onEnd    func(*Session)

	bus        *interact.Bus
	interactor *interact.Interactor
	logger     *slog.Logger

	ctx       context.Context
	cancel    context.CancelFunc
	createdAt time.Time

	mu         sync.Mutex
	conns      int
	idleTimer  *time.Timer
	terminated bool
	env        *sessionEnv

	endOnce    sync.Once
	driverDone chan struct{}
}

// newSession creates the session and starts its driver. project may be
// empty; the driver then picks one interactively.
func newSession(clientID, project string, deps *sessionDeps, timeout time.Duration, onEnd func(*Session)) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	bus := interact.NewBus(deps.logger)

	s := &Session{
		clientID:   clientID,
		project:    project,
		deps:       deps,
		timeout:    timeout,
		onEnd:      onEnd,
		bus:        bus,
		interactor: interact.NewInteractor(bus, deps.logger),
		logger:     deps.logger.With("component", "session", "client_id", clientID),
		ctx:        ctx,
		cancel:     cancel,
		createdAt:  time.Now(),
		driverDone: make(chan struct{}),
	}
	go s.drive()
	return s
}

// Events subscribes to the session's event stream.
func (s *Session) Events() (<-chan events.Event, func()) {
	return s.bus.Subscribe()
}

// Deliver routes one user answer into the session.
func (s *Session) Deliver(answer, parentKey string) error {
	_, err := s.interactor.Deliver(answer, parentKey)
	return err
}

// attach registers one stream connection and cancels a pending
// termination. It reports false when the session is already
// terminating; the registry then builds a fresh session.
func (s *Session) attach() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.terminated {
		return false
	}
	s.conns++
	if s.idleTimer != nil {
		s.idleTimer.Stop()
		s.idleTimer = nil
	}
	return true
}

// detach unregisters one stream connection. The last one out pauses the
// active run and arms the idle termination timer.
func (s *Session) detach() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.terminated {
		return
	}
	if s.conns > 0 {
		s.conns--
	}
	if s.conns > 0 {
		return
	}
	s.stopRunLocked()
	if s.idleTimer == nil {
		s.idleTimer = time.AfterFunc(s.timeout, s.Terminate)
	}
	s.logger.Debug("session idle, termination armed", "timeout", s.timeout)
}

// StopRun flips the active run to STOPPED; the loop honors it between
// tool rounds. It reports whether a running loop was flagged.
func (s *Session) StopRun() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopRunLocked()
}

func (s *Session) stopRunLocked() bool {
	if s.env == nil {
		return false
	}
	th := s.env.service.Active()
	if th == nil || th.RunStatus() != thread.StatusRunning {
		return false
	}
	th.SetRunStatus(thread.StatusStopped)
	s.logger.Info("run stop requested", "thread_id", th.ID())
	return true
}

// Terminate tears the session down: in-flight work is detached, pending
// questions give up, the thread is persisted, and the bus closed. Safe
// to call more than once; the idle timer and Shutdown both land here.
func (s *Session) Terminate() {
	s.endOnce.Do(func() {
		s.mu.Lock()
		s.terminated = true
		if s.idleTimer != nil {
			s.idleTimer.Stop()
			s.idleTimer = nil
		}
		env := s.env
		s.mu.Unlock()

		s.cancel()
		s.interactor.Close()

		if env != nil {
			ctx, cancel := context.WithTimeout(context.Background(), finalSaveTimeout)
			if err := env.service.Save(ctx); err != nil {
				s.logger.Warn("final thread save failed", "error", err)
			}
			cancel()
		}

		s.bus.Close()
		if s.onEnd != nil {
			s.onEnd(s)
		}
	})
}

func (s *Session) setEnv(env *sessionEnv) {
	s.mu.Lock()
	s.env = env
	s.mu.Unlock()
}

// drive is the session worker: it binds the project environment, then
// serves one user turn at a time until the session goes away. MCP
// instances are released here, on the way out.
func (s *Session) drive() {
	defer close(s.driverDone)

	env, err := s.buildEnv(s.ctx)
	if err != nil {
		if sessionOver(err) {
			return
		}
		s.logger.Error("session setup failed", "error", err)
		s.interactor.Emit(events.NewError(fmt.Sprintf("session setup failed: %v", err)))
		return
	}
	defer env.release()
	s.setEnv(env)

	if _, err := env.service.Select(s.ctx, ""); err != nil {
		s.logger.Error("thread selection failed", "error", err)
		s.interactor.Emit(events.NewError(err.Error()))
		return
	}

	for {
		s.interactor.Emit(events.NewInvite(idleInvite, ""))
		answer, err := s.interactor.AwaitAnswer(s.ctx)
		if err != nil {
			return
		}
		text := strings.TrimSpace(answer.Answer)
		if text == "" {
			continue
		}
		s.runTurn(env, text)
	}
}

// sessionOver reports errors that mean the session ended while the
// driver was waiting; they carry no information worth surfacing.
func sessionOver(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, interact.ErrClosed)
}

// runTurn appends one user message and drives the loop to a terminal
// status, forwarding every run event to the session stream. Each turn
// is the root span the loop's provider and tool spans nest under.
func (s *Session) runTurn(env *sessionEnv, text string) {
	ctx, span := s.deps.tracer.Start(s.ctx, "session.turn",
		attribute.String("client_id", s.clientID))
	defer span.End()

	th := env.service.Active()
	if th == nil {
		var err error
		th, err = env.service.Select(ctx, "")
		if err != nil {
			s.interactor.Emit(events.NewError(err.Error()))
			return
		}
	}

	ag, content := env.resolveAgent(text)
	if content == "" {
		return
	}

	start := time.Now()
	s.interactor.Publish(th.AddUserMessage("user", content))
	for e := range env.runtime.Run(ctx, ag, th) {
		s.interactor.Publish(e)
	}

	if err := env.service.Save(ctx); err != nil {
		s.deps.tracer.RecordError(span, err)
		s.logger.Error("thread save failed", "thread_id", th.ID(), "error", err)
		s.interactor.Emit(events.NewError(fmt.Sprintf("saving thread failed: %v", err)))
	}
	s.logger.Debug("turn finished",
		"thread_id", th.ID(),
		"agent", ag.Name,
		"duration", time.Since(start),
		"trace_id", observability.GetTraceID(ctx),
	)
}
