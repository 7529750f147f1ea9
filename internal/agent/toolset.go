package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/coday-ai/coday/pkg/events"
)

// Tool is a named, schema-described callable exposed to the model.
// Execute receives the raw JSON argument string exactly as the provider
// produced it and returns the output text shown back to the model.
type Tool interface {
	Name() string
	Description() string
	Schema() json.RawMessage
	Execute(ctx context.Context, args string) (string, error)
}

// SerialRunner marks a tool that must never run concurrently with
// itself. The set takes a per-name mutex around each invocation.
type SerialRunner interface {
	Serial() bool
}

// ParseError reports tool arguments that failed decoding or schema
// validation. RunTool renders it with the "invalid args" prefix so the
// model can distinguish a bad call from a failed execution.
type ParseError struct {
	Err error
}

func (e *ParseError) Error() string { return e.Err.Error() }
func (e *ParseError) Unwrap() error { return e.Err }

// Output and argument bounds. Long tool output is cut to its tail: the
// last lines are the ones the model acts on.
const (
	DefaultMaxOutputLines = 200
	DefaultMaxOutputBytes = 64 * 1024
	maxArgsBytes          = 10 * 1024 * 1024
)

// ToolSet is the registry of tools one agent may call. RunTool never
// returns an error: every failure mode is captured into the result
// output with an "Error: " prefix so the loop keeps going.
type ToolSet struct {
	mu     sync.Mutex
	tools  map[string]Tool
	order  []string
	serial map[string]*sync.Mutex

	maxLines int
	maxBytes int
}

// NewToolSet builds a set from the given tools. Duplicate or unnamed
// tools are rejected by Register; NewToolSet skips them silently, which
// suits configuration-driven assembly.
func NewToolSet(tools ...Tool) *ToolSet {
	s := &ToolSet{
		tools:    make(map[string]Tool),
		serial:   make(map[string]*sync.Mutex),
		maxLines: DefaultMaxOutputLines,
		maxBytes: DefaultMaxOutputBytes,
	}
	for _, t := range tools {
		_ = s.Register(t)
	}
	return s
}

// Register adds a tool to the set.
func (s *ToolSet) Register(t Tool) error {
	if t == nil || t.Name() == "" {
		return errors.New("tool must have a name")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.tools[t.Name()]; exists {
		return fmt.Errorf("tool %q already registered", t.Name())
	}
	s.tools[t.Name()] = t
	s.order = append(s.order, t.Name())
	return nil
}

// Get returns the named tool.
func (s *ToolSet) Get(name string) (Tool, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tools[name]
	return t, ok
}

// Names lists tool names in registration order.
func (s *ToolSet) Names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.order...)
}

// Len reports the number of registered tools.
func (s *ToolSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tools)
}

// Schemas renders the set for a provider request, in registration order.
func (s *ToolSet) Schemas() []ToolSchema {
	s.mu.Lock()
	defer s.mu.Unlock()
	schemas := make([]ToolSchema, 0, len(s.order))
	for _, name := range s.order {
		t := s.tools[name]
		schemas = append(schemas, ToolSchema{
			Name:        t.Name(),
			Description: t.Description(),
			Schema:      t.Schema(),
		})
	}
	return schemas
}

// RunTool executes one provider-issued call and returns its result.
// Unknown tools, argument parse failures, execution errors, and panics
// all become result output; none of them surface as an error to the
// caller.
func (s *ToolSet) RunTool(ctx context.Context, call events.ToolCall) events.ToolResult {
	res := events.ToolResult{ID: call.ID}

	t, ok := s.Get(call.Name)
	if !ok {
		res.Output = "Error: unknown tool " + call.Name
		return res
	}
	if len(call.Args) > maxArgsBytes {
		res.Output = fmt.Sprintf("Error: invalid args: arguments exceed %d bytes", maxArgsBytes)
		return res
	}

	if mu := s.serialLock(t); mu != nil {
		mu.Lock()
		defer mu.Unlock()
	}

	out, err := invoke(ctx, t, call.Args)
	var parseErr *ParseError
	switch {
	case err == nil:
		res.Output = capOutput(out, s.maxLines, s.maxBytes)
	case errors.As(err, &parseErr):
		res.Output = "Error: invalid args: " + parseErr.Err.Error()
	default:
		res.Output = "Error: " + err.Error()
	}
	return res
}

// serialLock returns the per-name mutex for serial tools, nil otherwise.
func (s *ToolSet) serialLock(t Tool) *sync.Mutex {
	sr, ok := t.(SerialRunner)
	if !ok || !sr.Serial() {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	mu := s.serial[t.Name()]
	if mu == nil {
		mu = &sync.Mutex{}
		s.serial[t.Name()] = mu
	}
	return mu
}

// invoke runs the tool with panic recovery.
func invoke(ctx context.Context, t Tool, args string) (out string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("tool %s panicked: %v", t.Name(), r)
		}
	}()
	return t.Execute(ctx, args)
}

// capOutput bounds tool output to the last maxLines lines and maxBytes
// bytes, cutting on a rune boundary.
func capOutput(out string, maxLines, maxBytes int) string {
	if maxLines > 0 {
		if lines := strings.Split(out, "\n"); len(lines) > maxLines {
			out = strings.Join(lines[len(lines)-maxLines:], "\n")
		}
	}
	if maxBytes > 0 && len(out) > maxBytes {
		cut := len(out) - maxBytes
		for cut < len(out) && !utf8.RuneStart(out[cut]) {
			cut++
		}
		out = out[cut:]
	}
	return out
}
