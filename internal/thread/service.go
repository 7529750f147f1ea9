package thread

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/coday-ai/coday/pkg/events"
)

// Hook runs after a thread is saved, e.g. summarisation or memory
// extraction. Hooks are fire-and-forget: they run on their own
// goroutine with a deadline and must not assume the session still
// exists.
type Hook func(ctx context.Context, t *Thread)

const defaultHookTimeout = 30 * time.Second

// Service tracks a session's active thread on top of a Repository.
// Selection changes are announced on the session bus through emit.
type Service struct {
	mu     sync.Mutex
	repo   Repository
	emit   func(events.Event)
	logger *slog.Logger

	active      *Thread
	hooks       []Hook
	hookTimeout time.Duration
}

// NewService creates a thread service. emit publishes events to the
// owning session's bus; it may be nil for headless use.
func NewService(repo Repository, emit func(events.Event), logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if emit == nil {
		emit = func(events.Event) {}
	}
	return &Service{
		repo:        repo,
		emit:        emit,
		logger:      logger.With("component", "thread_service"),
		hookTimeout: defaultHookTimeout,
	}
}

// AfterRun registers hooks run after every successful Save.
func (s *Service) AfterRun(hooks ...Hook) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hooks = append(s.hooks, hooks...)
}

// Select makes a thread active and announces it. With an id, the thread
// is loaded or the call fails. Without one, the most recently modified
// thread is picked; when the repository is empty a new thread is
// synthesised and persisted immediately.
func (s *Service) Select(ctx context.Context, id string) (*Thread, error) {
	var (
		t   *Thread
		err error
	)
	switch {
	case id != "":
		t, err = s.repo.GetByID(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("select thread %s: %w", id, err)
		}
	default:
		t, err = s.mostRecent(ctx)
		if err != nil {
			return nil, err
		}
		if t == nil {
			t = New("New Thread")
			if err := s.repo.Save(ctx, t); err != nil {
				return nil, fmt.Errorf("persist new thread: %w", err)
			}
		}
	}

	s.mu.Lock()
	s.active = t
	s.mu.Unlock()

	s.emit(events.NewThreadSelected(t.Name()))
	return t, nil
}

func (s *Service) mostRecent(ctx context.Context) (*Thread, error) {
	summaries, err := s.repo.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list threads: %w", err)
	}
	if len(summaries) == 0 {
		return nil, nil
	}
	t, err := s.repo.GetByID(ctx, summaries[0].ID)
	if errors.Is(err, ErrNotFound) {
		// Deleted between List and Get; treat as empty.
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load thread %s: %w", summaries[0].ID, err)
	}
	return t, nil
}

// Active returns the active thread, or nil before the first Select.
func (s *Service) Active() *Thread {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// Save persists the active thread and triggers the after-run hooks.
// Saving with no active thread is a no-op. Hooks fire only when a run
// actually finished on the thread; a save before any run (the
// synthesised new thread, a final save mid-setup) skips them.
func (s *Service) Save(ctx context.Context) error {
	s.mu.Lock()
	t := s.active
	hooks := make([]Hook, len(s.hooks))
	copy(hooks, s.hooks)
	timeout := s.hookTimeout
	s.mu.Unlock()

	if t == nil {
		return nil
	}
	if err := s.repo.Save(ctx, t); err != nil {
		return fmt.Errorf("save thread %s: %w", t.ID(), err)
	}

	if len(hooks) > 0 && t.RunStatus().Terminal() {
		go s.runHooks(t, hooks, timeout)
	}
	return nil
}

// runHooks executes the after-run hooks detached from the request that
// triggered the save.
func (s *Service) runHooks(t *Thread, hooks []Hook, timeout time.Duration) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("after-run hook panicked",
				"thread_id", t.ID(),
				"panic", r,
				"stack", string(debug.Stack()))
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	for _, hook := range hooks {
		hook(ctx, t)
	}
}

// Delete removes a thread from the repository; deleting the active
// thread clears the active slot.
func (s *Service) Delete(ctx context.Context, id string) error {
	if err := s.repo.Delete(ctx, id); err != nil {
		return fmt.Errorf("delete thread %s: %w", id, err)
	}

	s.mu.Lock()
	if s.active != nil && s.active.ID() == id {
		s.active = nil
	}
	s.mu.Unlock()
	return nil
}
