package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/coday-ai/coday/internal/observability"
	"github.com/coday-ai/coday/pkg/events"
)

const (
	// DefaultWorkers bounds how many tools of one round run at once.
	DefaultWorkers = 8

	// DefaultToolTimeout is the per-invocation deadline. Tools that
	// want more declare it via the TimeLimited interface.
	DefaultToolTimeout = 60 * time.Second
)

// TimeLimited lets a tool declare its own execution deadline instead of
// the executor default.
type TimeLimited interface {
	Timeout() time.Duration
}

// Executor fans tool calls out to a bounded worker pool. Results are
// delivered in completion order; consumers pair them to requests by id.
type Executor struct {
	tools   *ToolSet
	sem     chan struct{}
	timeout time.Duration
	logger  *slog.Logger
	metrics *observability.Metrics
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithWorkers sets the pool size.
func WithWorkers(n int) ExecutorOption {
	return func(e *Executor) {
		if n > 0 {
			e.sem = make(chan struct{}, n)
		}
	}
}

// WithToolTimeout sets the default per-tool deadline.
func WithToolTimeout(d time.Duration) ExecutorOption {
	return func(e *Executor) {
		if d > 0 {
			e.timeout = d
		}
	}
}

// WithExecutorLogger sets the executor's logger.
func WithExecutorLogger(logger *slog.Logger) ExecutorOption {
	return func(e *Executor) {
		if logger != nil {
			e.logger = logger.With("component", "tool_executor")
		}
	}
}

// NewExecutor builds an executor over the given tool set.
func NewExecutor(tools *ToolSet, opts ...ExecutorOption) *Executor {
	e := &Executor{
		tools:   tools,
		sem:     make(chan struct{}, DefaultWorkers),
		timeout: DefaultToolTimeout,
		logger:  slog.Default().With("component", "tool_executor"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ExecuteAll runs every call on the pool and streams results as each
// finishes. The returned channel closes once all calls are done. A
// cancelled context turns the remaining calls into error results rather
// than dropping them, so every request keeps its paired response.
func (e *Executor) ExecuteAll(ctx context.Context, calls []events.ToolCall) <-chan events.ToolResult {
	results := make(chan events.ToolResult, len(calls))
	var wg sync.WaitGroup
	for _, call := range calls {
		wg.Add(1)
		go func(call events.ToolCall) {
			defer wg.Done()
			select {
			case e.sem <- struct{}{}:
				defer func() { <-e.sem }()
			case <-ctx.Done():
				results <- events.ToolResult{ID: call.ID, Output: "Error: " + ctx.Err().Error()}
				return
			}
			results <- e.execute(ctx, call)
		}(call)
	}
	go func() {
		wg.Wait()
		close(results)
	}()
	return results
}

// execute runs one call under its deadline. A timed-out tool keeps
// running in its goroutine until it observes the context; its result is
// discarded.
func (e *Executor) execute(ctx context.Context, call events.ToolCall) events.ToolResult {
	timeout := e.timeout
	if t, ok := e.tools.Get(call.Name); ok {
		if tl, ok := t.(TimeLimited); ok && tl.Timeout() > 0 {
			timeout = tl.Timeout()
		}
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	done := make(chan events.ToolResult, 1)
	go func() {
		done <- e.tools.RunTool(ctx, call)
	}()

	select {
	case res := <-done:
		// RunTool encodes every failure as "Error: " output.
		e.metrics.RecordToolExecution(call.Name, time.Since(start), !strings.HasPrefix(res.Output, "Error: "))
		e.logger.Debug("tool finished",
			"tool", call.Name,
			"duration", time.Since(start),
		)
		return res
	case <-ctx.Done():
		e.metrics.RecordToolExecution(call.Name, time.Since(start), false)
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			e.logger.Warn("tool timed out", "tool", call.Name, "timeout", timeout)
			return events.ToolResult{
				ID:     call.ID,
				Output: fmt.Sprintf("Error: tool execution timed out after %s", timeout),
			}
		}
		return events.ToolResult{ID: call.ID, Output: "Error: " + ctx.Err().Error()}
	}
}
