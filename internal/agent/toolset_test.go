package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coday-ai/coday/pkg/events"
)

// stubTool is a hand-wired Tool for set and executor tests. The zero
// values of serial and limit keep the optional interfaces inert.
type stubTool struct {
	name   string
	desc   string
	schema string
	serial bool
	limit  time.Duration
	fn     func(ctx context.Context, args string) (string, error)
}

func (t *stubTool) Name() string        { return t.name }
func (t *stubTool) Description() string { return t.desc }

func (t *stubTool) Schema() json.RawMessage {
	if t.schema == "" {
		return json.RawMessage(`{"type":"object"}`)
	}
	return json.RawMessage(t.schema)
}

func (t *stubTool) Execute(ctx context.Context, args string) (string, error) {
	return t.fn(ctx, args)
}

func (t *stubTool) Serial() bool           { return t.serial }
func (t *stubTool) Timeout() time.Duration { return t.limit }

func echoTool(name string) *stubTool {
	return &stubTool{
		name: name,
		desc: "echoes its arguments",
		fn: func(_ context.Context, args string) (string, error) {
			return args, nil
		},
	}
}

func TestRunToolUnknown(t *testing.T) {
	set := NewToolSet()

	res := set.RunTool(context.Background(), events.ToolCall{ID: "t1", Name: "shell", Args: "{}"})
	if res.ID != "t1" {
		t.Errorf("result ID = %q, want t1", res.ID)
	}
	if res.Output != "Error: unknown tool shell" {
		t.Errorf("output = %q, want %q", res.Output, "Error: unknown tool shell")
	}
}

func TestRunToolExecutionError(t *testing.T) {
	boom := &stubTool{name: "boom", fn: func(context.Context, string) (string, error) {
		return "", errors.New("exit status 1")
	}}
	set := NewToolSet(boom)

	res := set.RunTool(context.Background(), events.ToolCall{ID: "t1", Name: "boom", Args: "{}"})
	if res.Output != "Error: exit status 1" {
		t.Errorf("output = %q, want %q", res.Output, "Error: exit status 1")
	}
}

func TestRunToolParseError(t *testing.T) {
	picky := &stubTool{name: "picky", fn: func(context.Context, string) (string, error) {
		return "", &ParseError{Err: errors.New("missing property 'command'")}
	}}
	set := NewToolSet(picky)

	res := set.RunTool(context.Background(), events.ToolCall{ID: "t1", Name: "picky", Args: "{}"})
	want := "Error: invalid args: missing property 'command'"
	if res.Output != want {
		t.Errorf("output = %q, want %q", res.Output, want)
	}
}

func TestRunToolRecoversPanic(t *testing.T) {
	angry := &stubTool{name: "angry", fn: func(context.Context, string) (string, error) {
		panic("nil dereference")
	}}
	set := NewToolSet(angry)

	res := set.RunTool(context.Background(), events.ToolCall{ID: "t1", Name: "angry", Args: "{}"})
	want := "Error: tool angry panicked: nil dereference"
	if res.Output != want {
		t.Errorf("output = %q, want %q", res.Output, want)
	}
}

func TestRunToolRejectsOversizedArgs(t *testing.T) {
	set := NewToolSet(echoTool("echo"))

	call := events.ToolCall{ID: "t1", Name: "echo", Args: strings.Repeat("x", maxArgsBytes+1)}
	res := set.RunTool(context.Background(), call)
	if !strings.HasPrefix(res.Output, "Error: invalid args:") {
		t.Errorf("output = %q, want invalid args error", res.Output)
	}
}

func TestRunToolCapsOutputToTail(t *testing.T) {
	lines := make([]string, 300)
	for i := range lines {
		lines[i] = fmt.Sprintf("line %d", i)
	}
	long := &stubTool{name: "long", fn: func(context.Context, string) (string, error) {
		return strings.Join(lines, "\n"), nil
	}}
	set := NewToolSet(long)

	res := set.RunTool(context.Background(), events.ToolCall{ID: "t1", Name: "long", Args: "{}"})
	got := strings.Split(res.Output, "\n")
	if len(got) != DefaultMaxOutputLines {
		t.Fatalf("kept %d lines, want %d", len(got), DefaultMaxOutputLines)
	}
	if got[0] != "line 100" {
		t.Errorf("first kept line = %q, want %q", got[0], "line 100")
	}
	if got[len(got)-1] != "line 299" {
		t.Errorf("last kept line = %q, want %q", got[len(got)-1], "line 299")
	}
}

func TestCapOutput(t *testing.T) {
	tests := []struct {
		name     string
		in       string
		maxLines int
		maxBytes int
		want     string
	}{
		{"under both limits", "a\nb", 10, 100, "a\nb"},
		{"keeps line tail", "a\nb\nc\nd", 2, 100, "c\nd"},
		{"keeps byte tail", "abcdef", 0, 3, "def"},
		{"cuts on rune boundary", "xxxx日本語", 0, 5, "語"},
		{"zero limits disable capping", "abc\ndef", 0, 0, "abc\ndef"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := capOutput(tt.in, tt.maxLines, tt.maxBytes); got != tt.want {
				t.Errorf("capOutput(%q, %d, %d) = %q, want %q", tt.in, tt.maxLines, tt.maxBytes, got, tt.want)
			}
		})
	}
}

func TestSerialToolRunsOneAtATime(t *testing.T) {
	var mu sync.Mutex
	active, maxActive := 0, 0
	slow := &stubTool{name: "slow", serial: true, fn: func(context.Context, string) (string, error) {
		mu.Lock()
		active++
		if active > maxActive {
			maxActive = active
		}
		mu.Unlock()
		time.Sleep(5 * time.Millisecond)
		mu.Lock()
		active--
		mu.Unlock()
		return "done", nil
	}}
	set := NewToolSet(slow)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			set.RunTool(context.Background(), events.ToolCall{ID: fmt.Sprintf("t%d", i), Name: "slow", Args: "{}"})
		}(i)
	}
	wg.Wait()

	if maxActive != 1 {
		t.Errorf("saw %d concurrent executions of a serial tool, want 1", maxActive)
	}
}

func TestRegisterRejectsDuplicatesAndUnnamed(t *testing.T) {
	set := NewToolSet()
	if err := set.Register(echoTool("echo")); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if err := set.Register(echoTool("echo")); err == nil {
		t.Error("registering a duplicate name succeeded, want error")
	}
	if err := set.Register(nil); err == nil {
		t.Error("registering nil succeeded, want error")
	}
	if err := set.Register(echoTool("")); err == nil {
		t.Error("registering an unnamed tool succeeded, want error")
	}
	if set.Len() != 1 {
		t.Errorf("Len() = %d, want 1", set.Len())
	}
}

func TestSchemasKeepRegistrationOrder(t *testing.T) {
	set := NewToolSet(echoTool("write_file"), echoTool("read_file"), echoTool("shell"))

	want := []string{"write_file", "read_file", "shell"}
	names := set.Names()
	if len(names) != len(want) {
		t.Fatalf("Names() returned %d names, want %d", len(names), len(want))
	}
	schemas := set.Schemas()
	for i, name := range want {
		if names[i] != name {
			t.Errorf("Names()[%d] = %q, want %q", i, names[i], name)
		}
		if schemas[i].Name != name {
			t.Errorf("Schemas()[%d].Name = %q, want %q", i, schemas[i].Name, name)
		}
	}
}
