package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	invopop "github.com/invopop/jsonschema"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

// FuncTool adapts a typed Go function into a Tool. The parameter schema
// is reflected from T; incoming arguments are validated against it
// before the function runs, so fn only ever sees well-formed input.
type FuncTool[T any] struct {
	name        string
	description string
	schema      json.RawMessage
	compiled    *jsonschema.Schema
	fn          func(ctx context.Context, params T) (string, error)
}

// NewFuncTool builds a tool named name around fn. T should be a struct
// whose json tags name the tool's parameters.
func NewFuncTool[T any](name, description string, fn func(ctx context.Context, params T) (string, error)) (*FuncTool[T], error) {
	r := &invopop.Reflector{
		DoNotReference: true,
		Anonymous:      true,
	}
	var params T
	raw, err := json.Marshal(r.Reflect(&params))
	if err != nil {
		return nil, fmt.Errorf("reflect schema for %s: %w", name, err)
	}
	compiled, err := jsonschema.CompileString(name+".json", string(raw))
	if err != nil {
		return nil, fmt.Errorf("compile schema for %s: %w", name, err)
	}
	return &FuncTool[T]{
		name:        name,
		description: description,
		schema:      raw,
		compiled:    compiled,
		fn:          fn,
	}, nil
}

// MustFuncTool is NewFuncTool that panics on schema errors. Intended for
// statically declared tools where a bad schema is a programming error.
func MustFuncTool[T any](name, description string, fn func(ctx context.Context, params T) (string, error)) *FuncTool[T] {
	t, err := NewFuncTool(name, description, fn)
	if err != nil {
		panic(err)
	}
	return t
}

func (t *FuncTool[T]) Name() string            { return t.name }
func (t *FuncTool[T]) Description() string     { return t.description }
func (t *FuncTool[T]) Schema() json.RawMessage { return t.schema }

// Execute validates args against the reflected schema, decodes them into
// T, and runs the function. Validation failures come back as *ParseError
// so RunTool renders them with the "invalid args" prefix.
func (t *FuncTool[T]) Execute(ctx context.Context, args string) (string, error) {
	if strings.TrimSpace(args) == "" {
		args = "{}"
	}
	var payload any
	if err := json.Unmarshal([]byte(args), &payload); err != nil {
		return "", &ParseError{Err: err}
	}
	if err := t.compiled.Validate(payload); err != nil {
		return "", &ParseError{Err: err}
	}
	var params T
	if err := json.Unmarshal([]byte(args), &params); err != nil {
		return "", &ParseError{Err: err}
	}
	return t.fn(ctx, params)
}
