package agent

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/coday-ai/coday/internal/observability"
	"github.com/coday-ai/coday/internal/thread"
	"github.com/coday-ai/coday/internal/usage"
	"github.com/coday-ai/coday/pkg/events"
)

const (
	// defaultThinkInterval paces the "thinking" notifications while a
	// provider call is outstanding.
	defaultThinkInterval = 3 * time.Second

	// defaultMaxTokens caps one provider response.
	defaultMaxTokens = 4096
)

// Runtime drives the agent loop: one Run call converts the thread into a
// provider request, interprets the response, fans tool calls out, feeds
// results back, and recurses until no tool work remains. Every produced
// event is delivered on the run's stream.
type Runtime struct {
	providers *Registry
	executor  *Executor
	prices    usage.PriceTable
	metrics   *observability.Metrics
	tracer    trace.Tracer
	logger    *slog.Logger

	thinkInterval  time.Duration
	maxTokens      int64
	priceThreshold float64
}

// Option configures a Runtime.
type Option func(*Runtime)

// WithLogger sets the runtime logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Runtime) {
		if logger != nil {
			r.logger = logger.With("component", "runtime")
		}
	}
}

// WithMetrics wires prometheus metrics into the loop.
func WithMetrics(m *observability.Metrics) Option {
	return func(r *Runtime) { r.metrics = m }
}

// WithPrices overrides the per-model price table.
func WithPrices(t usage.PriceTable) Option {
	return func(r *Runtime) {
		if t != nil {
			r.prices = t
		}
	}
}

// WithMaxTokens caps the provider response size.
func WithMaxTokens(n int64) Option {
	return func(r *Runtime) {
		if n > 0 {
			r.maxTokens = n
		}
	}
}

// WithPriceThreshold sets the running-cost ceiling in USD. Once the
// thread's accumulated price reaches it, the next iteration is inhibited
// and a warning is emitted. Zero means no ceiling.
func WithPriceThreshold(usd float64) Option {
	return func(r *Runtime) { r.priceThreshold = usd }
}

// WithExecutor replaces the default tool executor.
func WithExecutor(e *Executor) Option {
	return func(r *Runtime) {
		if e != nil {
			r.executor = e
		}
	}
}

// NewRuntime builds a runtime over the provider registry and the agent
// tool executor.
func NewRuntime(providers *Registry, tools *ToolSet, opts ...Option) *Runtime {
	r := &Runtime{
		providers:     providers,
		executor:      NewExecutor(tools),
		prices:        usage.DefaultPrices,
		tracer:        otel.Tracer("github.com/coday-ai/coday/internal/agent"),
		logger:        slog.Default().With("component", "runtime"),
		thinkInterval: defaultThinkInterval,
		maxTokens:     defaultMaxTokens,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.executor.metrics == nil {
		r.executor.metrics = r.metrics
	}
	return r
}

// Run starts the loop for one agent on one thread and returns its event
// stream. The stream closes when the run reaches a terminal status:
// COMPLETED when an iteration ends with zero tool calls, STOPPED after an
// external stop, FAILED on a provider error. The thread is mutated only
// by this run for its duration.
func (r *Runtime) Run(ctx context.Context, ag *Agent, th *thread.Thread) <-chan events.Event {
	out := make(chan events.Event, 64)
	go func() {
		defer close(out)
		r.loop(ctx, ag, th, out)
	}()
	return out
}

func (r *Runtime) loop(ctx context.Context, ag *Agent, th *thread.Thread, out chan<- events.Event) {
	provider, err := r.providers.ForAgent(ag)
	if err != nil {
		th.SetRunStatus(thread.StatusFailed)
		r.send(ctx, out, events.NewError(err.Error()))
		return
	}
	model := ag.Model(provider)

	th.SetRunStatus(thread.StatusRunning)
	r.logger.Debug("run started", "agent", ag.Name, "provider", provider.Name(), "model", model, "thread", th.ID())

	for {
		if th.RunStatus() == thread.StatusStopped {
			return
		}
		if r.priceThreshold > 0 && th.Price() >= r.priceThreshold {
			r.send(ctx, out, events.NewWarn(fmt.Sprintf(
				"cost limit: thread price %s reached the %s threshold, stopping",
				usage.FormatUSD(th.Price()), usage.FormatUSD(r.priceThreshold),
			)))
			break
		}

		completion, err := r.complete(ctx, ag, provider, r.buildRequest(ag, th, model), out)
		if err != nil {
			th.SetRunStatus(thread.StatusFailed)
			// Provider errors can echo request contents; scrub before the
			// text reaches the stream.
			r.send(ctx, out, events.NewError(observability.RedactString(err.Error())))
			return
		}

		if cost := r.prices.EstimateCost(model, completion.Usage); cost > 0 {
			total := th.AddPrice(cost)
			r.logger.Debug("provider call billed",
				"model", model,
				"tokens", completion.Usage.Total(),
				"cost", usage.FormatUSD(cost),
				"thread_total", usage.FormatUSD(total),
			)
		}

		if completion.FinishReason == FinishMaxTokens {
			th.SetRunStatus(thread.StatusFailed)
			r.send(ctx, out, events.NewError("max tokens"))
			return
		}

		if completion.Text != "" {
			r.send(ctx, out, th.AddAgentMessage(ag.Name, completion.Text))
		}

		if len(completion.ToolCalls) == 0 {
			break
		}

		// A round where the thread accepted no call (all malformed)
		// invoked nothing, so there is nothing to recurse on.
		if r.toolRound(ctx, th, completion.ToolCalls, out) == 0 {
			break
		}

		if th.RunStatus() == thread.StatusStopped {
			return
		}
		if ctx.Err() != nil {
			th.SetRunStatus(thread.StatusStopped)
			return
		}
	}

	if th.RunStatus() == thread.StatusRunning {
		th.SetRunStatus(thread.StatusCompleted)
	}
}

// toolRound appends and emits every accepted tool request in provider
// order, then dispatches them concurrently and appends and emits each
// response as it completes. Consumers pair responses to requests by
// toolRequestId, not by stream position. Returns how many calls the
// thread accepted.
func (r *Runtime) toolRound(ctx context.Context, th *thread.Thread, calls []events.ToolCall, out chan<- events.Event) int {
	ctx, span := r.tracer.Start(ctx, "agent.tool_round",
		trace.WithAttributes(attribute.Int("tools", len(calls))))
	defer span.End()

	accepted := th.AddToolCalls(calls...)
	runnable := make([]events.ToolCall, 0, len(accepted))
	for _, ev := range accepted {
		r.send(ctx, out, ev)
		runnable = append(runnable, events.ToolCall{ID: ev.ToolRequestID, Name: ev.Name, Args: ev.Args})
	}

	for res := range r.executor.ExecuteAll(ctx, runnable) {
		for _, ev := range th.AddToolResponses(res) {
			r.send(ctx, out, ev)
		}
	}
	return len(runnable)
}

// complete performs one provider call, pacing thinking notifications
// while it is outstanding.
func (r *Runtime) complete(ctx context.Context, ag *Agent, provider Provider, req *CompletionRequest, out chan<- events.Event) (*Completion, error) {
	ctx, span := r.tracer.Start(ctx, "agent.complete", trace.WithAttributes(
		attribute.String("provider", provider.Name()),
		attribute.String("model", req.Model),
	))
	defer span.End()

	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(r.thinkInterval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.send(ctx, out, events.NewText(ag.Name, "Thinking..."))
			}
		}
	}()

	start := time.Now()
	completion, err := provider.Complete(ctx, req)
	close(stop)
	wg.Wait()

	r.metrics.RecordProviderRequest(provider.Name(), req.Model, time.Since(start), err == nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "provider call failed")
		return nil, err
	}
	r.metrics.RecordProviderTokens(provider.Name(), req.Model,
		completion.Usage.InputTokens+completion.Usage.CacheReadTokens+completion.Usage.CacheWriteTokens,
		completion.Usage.OutputTokens)
	return completion, nil
}

func (r *Runtime) buildRequest(ag *Agent, th *thread.Thread, model string) *CompletionRequest {
	req := &CompletionRequest{
		Model:       model,
		System:      ag.Instructions,
		Temperature: ag.temperature(),
		MaxTokens:   r.maxTokens,
		Messages:    th.Messages(),
	}
	if ag.Tools != nil {
		req.Tools = ag.Tools.Schemas()
	}
	return req
}

func (r *Runtime) send(ctx context.Context, out chan<- events.Event, ev events.Event) {
	select {
	case out <- ev:
	case <-ctx.Done():
	}
}
