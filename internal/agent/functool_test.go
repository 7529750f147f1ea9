package agent

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/coday-ai/coday/pkg/events"
)

type shellParams struct {
	Command string `json:"command" jsonschema:"description=Command line to run"`
	Timeout int    `json:"timeout,omitempty"`
}

func newShellTool(t *testing.T) *FuncTool[shellParams] {
	t.Helper()
	tool, err := NewFuncTool("shell", "Run a shell command",
		func(_ context.Context, p shellParams) (string, error) {
			return "ran: " + p.Command, nil
		})
	if err != nil {
		t.Fatalf("NewFuncTool() error = %v", err)
	}
	return tool
}

func TestFuncToolExecutesTypedParams(t *testing.T) {
	tool := newShellTool(t)

	out, err := tool.Execute(context.Background(), `{"command":"ls -la"}`)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if out != "ran: ls -la" {
		t.Errorf("output = %q, want %q", out, "ran: ls -la")
	}
}

func TestFuncToolSchemaShape(t *testing.T) {
	tool := newShellTool(t)

	var schema struct {
		Type       string                     `json:"type"`
		Properties map[string]json.RawMessage `json:"properties"`
		Required   []string                   `json:"required"`
	}
	if err := json.Unmarshal(tool.Schema(), &schema); err != nil {
		t.Fatalf("unmarshal schema: %v", err)
	}
	if schema.Type != "object" {
		t.Errorf("schema type = %q, want object", schema.Type)
	}
	if _, ok := schema.Properties["command"]; !ok {
		t.Error("schema is missing the command property")
	}
	if _, ok := schema.Properties["timeout"]; !ok {
		t.Error("schema is missing the timeout property")
	}
	foundRequired := false
	for _, name := range schema.Required {
		if name == "command" {
			foundRequired = true
		}
		if name == "timeout" {
			t.Error("omitempty field timeout listed as required")
		}
	}
	if !foundRequired {
		t.Errorf("required = %v, want it to include command", schema.Required)
	}
}

func TestFuncToolRejectsBadArgs(t *testing.T) {
	tool := newShellTool(t)

	tests := []struct {
		name string
		args string
	}{
		{"missing required field", `{}`},
		{"wrong type", `{"command": 12}`},
		{"malformed json", `{"command":`},
		{"unknown field", `{"command":"ls","shell":"bash"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tool.Execute(context.Background(), tt.args)
			if err == nil {
				t.Fatal("Execute() succeeded, want validation error")
			}
			var parseErr *ParseError
			if !errors.As(err, &parseErr) {
				t.Errorf("error = %v (%T), want *ParseError", err, err)
			}
		})
	}
}

func TestFuncToolEmptyArgsAsObject(t *testing.T) {
	type pingParams struct {
		Label string `json:"label,omitempty"`
	}
	tool := MustFuncTool("ping", "Check liveness",
		func(_ context.Context, p pingParams) (string, error) {
			if p.Label != "" {
				return "pong " + p.Label, nil
			}
			return "pong", nil
		})

	out, err := tool.Execute(context.Background(), "   ")
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if out != "pong" {
		t.Errorf("output = %q, want pong", out)
	}
}

func TestFuncToolThroughToolSet(t *testing.T) {
	set := NewToolSet(newShellTool(t))

	res := set.RunTool(context.Background(), events.ToolCall{ID: "t1", Name: "shell", Args: `{"command":7}`})
	if !strings.HasPrefix(res.Output, "Error: invalid args:") {
		t.Errorf("output = %q, want invalid args error", res.Output)
	}

	res = set.RunTool(context.Background(), events.ToolCall{ID: "t2", Name: "shell", Args: `{"command":"pwd"}`})
	if res.Output != "ran: pwd" {
		t.Errorf("output = %q, want %q", res.Output, "ran: pwd")
	}
}
