package events

import (
	"reflect"
	"strings"
	"testing"
	"time"
)

func TestDecodeRoundTrip(t *testing.T) {
	original := NewToolRequest(ToolCall{ID: "t1", Name: "shell", Args: `{"cmd":"ls /tmp"}`})
	original.ParentKey = "2024-01-01T00:00:00.000000000Z"

	data, err := Encode(original)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	decoded, ok := Decode(data)
	if !ok {
		t.Fatal("Decode rejected a known event")
	}
	if !reflect.DeepEqual(decoded, original) {
		t.Errorf("round trip mismatch:\n got %+v\nwant %+v", decoded, original)
	}
}

func TestDecodeDropsUnknownType(t *testing.T) {
	_, ok := Decode([]byte(`{"type":"hologram","timestamp":"2024-01-01T00:00:00.000000000Z"}`))
	if ok {
		t.Error("expected unknown type to be dropped")
	}
}

func TestDecodeRejectsMalformedJSON(t *testing.T) {
	_, ok := Decode([]byte(`{"type":"message"`))
	if ok {
		t.Error("expected malformed payload to be rejected")
	}
}

func TestConversationalSubset(t *testing.T) {
	tests := []struct {
		event Event
		want  bool
	}{
		{NewUserMessage("alice", "hi"), true},
		{NewToolRequest(ToolCall{ID: "1", Name: "n", Args: "{}"}), true},
		{NewToolResponse(ToolResult{ID: "1", Output: "ok"}), true},
		{NewInvite("q?", ""), false},
		{NewAnswer("a", ""), false},
		{NewText("", "thinking"), false},
		{NewWarn("careful"), false},
		{NewError("boom"), false},
		{NewHeartBeat(), false},
	}
	for _, tt := range tests {
		if got := Conversational(tt.event); got != tt.want {
			t.Errorf("Conversational(%s) = %v, want %v", tt.event.Type, got, tt.want)
		}
	}
}

func TestStamperStrictlyIncreasing(t *testing.T) {
	frozen := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	s := &Stamper{now: func() time.Time { return frozen }}

	prev := s.Next()
	for i := 0; i < 100; i++ {
		next := s.Next()
		if next <= prev {
			t.Fatalf("stamp %d not increasing: %q <= %q", i, next, prev)
		}
		prev = next
	}
}

func TestStamperObserve(t *testing.T) {
	frozen := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	s := &Stamper{now: func() time.Time { return frozen }}

	replayed := "2030-01-01T00:00:00.000000000Z"
	s.Observe(replayed)
	if got := s.Next(); got <= replayed {
		t.Errorf("Next() = %q, want a stamp after observed %q", got, replayed)
	}
}

func TestStamperBumpsLooseISOForms(t *testing.T) {
	frozen := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	s := &Stamper{now: func() time.Time { return frozen }}

	// A replayed stamp without nanosecond padding still sorts correctly.
	s.Observe("2024-06-01T10:00:00Z")
	if got := s.Next(); got <= "2024-06-01T10:00:00Z" {
		t.Errorf("Next() = %q, want a stamp after the observed loose form", got)
	}
}

func TestTimestampLexicalOrderMatchesTime(t *testing.T) {
	early := time.Date(2024, 1, 2, 3, 4, 5, 6, time.UTC).Format(TimestampLayout)
	late := time.Date(2024, 1, 2, 3, 4, 5, 7, time.UTC).Format(TimestampLayout)
	if !(early < late) {
		t.Errorf("lexical order broken: %q should sort before %q", early, late)
	}
}

func TestEncodeStaysOnOneLine(t *testing.T) {
	e := NewText("coday", "line one\nline two")

	data, err := Encode(e)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	if strings.ContainsAny(string(data), "\n") {
		t.Errorf("event frame spans multiple lines: %q", data)
	}
}
