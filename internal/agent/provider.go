package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/coday-ai/coday/internal/usage"
	"github.com/coday-ai/coday/pkg/events"
)

// ErrContextWindow marks a completion rejected because the request no longer
// fits the model's context window. Providers wrap the vendor error with this
// sentinel so callers can match it with errors.Is and users see a uniform
// message prefix.
var ErrContextWindow = errors.New("context window exceeded")

// CompletionRequest is the provider-neutral shape of one model call.
// Messages carry the thread's conversational events; each provider maps
// them to its own wire format.
type CompletionRequest struct {
	Model       string
	System      string
	Temperature float64
	MaxTokens   int64
	Messages    []events.Event
	Tools       []ToolSchema
}

// ToolSchema describes one callable tool in provider-neutral form.
type ToolSchema struct {
	Name        string
	Description string
	Schema      json.RawMessage
}

// FinishReason is the provider's normalized stop condition.
type FinishReason string

const (
	FinishStop      FinishReason = "stop"
	FinishToolUse   FinishReason = "tool_use"
	FinishMaxTokens FinishReason = "max_tokens"
)

// Completion is the assembled result of one provider call: the plain
// text, the tool calls the model requested, and the token bill.
type Completion struct {
	Text         string
	ToolCalls    []events.ToolCall
	Usage        usage.Usage
	FinishReason FinishReason
}

// Provider adapts one vendor API to the runtime. Implementations must be
// safe for concurrent use; each Complete call is independent.
type Provider interface {
	Name() string
	DefaultModel(size ModelSize) string
	Complete(ctx context.Context, req *CompletionRequest) (*Completion, error)
}

// Registry holds the configured providers. The first registered provider
// becomes the default for agents that do not name one.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
	fallback  string
}

// NewRegistry returns an empty provider registry.
func NewRegistry() *Registry {
	return &Registry{providers: make(map[string]Provider)}
}

// Register adds or replaces a provider under its own name.
func (r *Registry) Register(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.providers) == 0 {
		r.fallback = p.Name()
	}
	r.providers[p.Name()] = p
}

// Get returns the provider registered under name.
func (r *Registry) Get(name string) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[name]
	if !ok {
		return nil, fmt.Errorf("unknown provider %q", name)
	}
	return p, nil
}

// Names lists the registered provider names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ForAgent resolves the provider an agent should run on: its named
// provider, or the registry default.
func (r *Registry) ForAgent(a *Agent) (Provider, error) {
	if a.Provider != "" {
		return r.Get(a.Provider)
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.fallback == "" {
		return nil, fmt.Errorf("no provider configured")
	}
	return r.providers[r.fallback], nil
}

// Text runs a single tool-less completion for the agent and returns the
// response text. Convenience for callers outside the loop, such as the
// thread summarize hook.
func (r *Registry) Text(ctx context.Context, a *Agent, prompt string) (string, error) {
	p, err := r.ForAgent(a)
	if err != nil {
		return "", err
	}
	req := &CompletionRequest{
		Model:       a.Model(p),
		System:      a.Instructions,
		Temperature: a.temperature(),
		Messages:    []events.Event{events.NewUserMessage("user", prompt)},
	}
	completion, err := p.Complete(ctx, req)
	if err != nil {
		return "", err
	}
	return completion.Text, nil
}
