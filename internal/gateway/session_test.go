package gateway

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/coday-ai/coday/internal/agent"
	"github.com/coday-ai/coday/internal/config"
	"github.com/coday-ai/coday/internal/thread"
	"github.com/coday-ai/coday/pkg/events"
)

func activeThread(s *Session) *thread.Thread {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.env == nil {
		return nil
	}
	return s.env.service.Active()
}

// awaitSummary blocks until the background summarize hook has persisted
// its summary, keeping teardown clear of its file writes.
func awaitSummary(t *testing.T, root string) {
	t.Helper()
	repo := thread.NewFileRepository(filepath.Join(root, ".coday", "threads"), discardLogger())
	waitFor(t, "summary to persist", func() bool {
		summaries, err := repo.List(context.Background())
		return err == nil && len(summaries) > 0 && summaries[0].Summary != ""
	})
}

const twoAgentsYAML = "agents:\n" +
	"  - name: Dev\n" +
	"    instructions: You write code.\n" +
	"  - name: Reviewer\n" +
	"    instructions: You review changes.\n"

func TestSessionConversationFlow(t *testing.T) {
	provider := newScriptedProvider("Hello there!")
	gate := make(chan struct{})
	cfg, root := testConfig(t, "")
	r := NewRegistry(newTestDeps(cfg, gatedFactory(provider, gate)), time.Hour, discardLogger(), nil)
	defer r.Shutdown()

	s, _, err := r.Connect("alice", "")
	if err != nil {
		t.Fatal(err)
	}
	sub, cancel := s.Events()
	defer cancel()
	close(gate)

	e := nextEvent(t, sub)
	if e.Type != events.TypeProjectSelected || e.ProjectName != "demo" {
		t.Fatalf("first event = %s %q, want project_selected demo", e.Type, e.ProjectName)
	}
	e = nextEvent(t, sub)
	if e.Type != events.TypeThreadSelected || e.ThreadName != "New Thread" {
		t.Fatalf("second event = %s %q, want thread_selected New Thread", e.Type, e.ThreadName)
	}
	e = nextEvent(t, sub)
	if e.Type != events.TypeInvite || e.Invite != idleInvite {
		t.Fatalf("third event = %s %q, want the idle invite", e.Type, e.Invite)
	}

	if err := s.Deliver("Hi", ""); err != nil {
		t.Fatal(err)
	}

	e = nextEvent(t, sub)
	if e.Type != events.TypeAnswer || e.Answer != "Hi" {
		t.Fatalf("expected the answer echo, got %s %q", e.Type, e.Answer)
	}
	e = nextEvent(t, sub)
	if e.Type != events.TypeMessage || e.Role != events.RoleUser || e.Content != "Hi" {
		t.Fatalf("expected the user message, got %s %s %q", e.Type, e.Role, e.Content)
	}
	e = nextEvent(t, sub)
	if e.Type != events.TypeMessage || e.Role != events.RoleAssistant || e.Content != "Hello there!" {
		t.Fatalf("expected the assistant reply, got %s %s %q", e.Type, e.Role, e.Content)
	}
	if e.Name != "Coday" {
		t.Errorf("reply spoken by %q, want the built-in default agent", e.Name)
	}

	// The turn finished, so the driver invites the next one.
	e = nextEvent(t, sub)
	if e.Type != events.TypeInvite {
		t.Fatalf("post-turn event = %s, want a fresh invite", e.Type)
	}

	awaitSummary(t, root)
}

func TestSessionPersistsConversation(t *testing.T) {
	provider := newScriptedProvider("Saved reply")
	cfg, root := testConfig(t, "")
	r := NewRegistry(newTestDeps(cfg, stubFactory(provider)), time.Hour, discardLogger(), nil)
	defer r.Shutdown()

	s, _, err := r.Connect("alice", "")
	if err != nil {
		t.Fatal(err)
	}
	sub, cancel := s.Events()
	defer cancel()

	if err := s.Deliver("Hi", ""); err != nil {
		t.Fatal(err)
	}
	nextOfType(t, sub, events.TypeMessage) // user
	nextOfType(t, sub, events.TypeMessage) // assistant
	awaitSummary(t, root)

	repo := thread.NewFileRepository(filepath.Join(root, ".coday", "threads"), discardLogger())
	summaries, err := repo.List(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(summaries) != 1 {
		t.Fatalf("persisted %d threads, want 1", len(summaries))
	}
	if summaries[0].Summary == "" {
		t.Error("persisted thread has no summary")
	}
	got, err := repo.GetByID(context.Background(), summaries[0].ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.MessageCount() != 2 {
		t.Errorf("persisted %d messages, want 2", got.MessageCount())
	}
}

func TestMentionRoutesToConfiguredAgent(t *testing.T) {
	provider := newScriptedProvider("Looks good.")
	cfg, root := testConfig(t, twoAgentsYAML)
	r := NewRegistry(newTestDeps(cfg, stubFactory(provider)), time.Hour, discardLogger(), nil)
	defer r.Shutdown()

	s, _, err := r.Connect("alice", "")
	if err != nil {
		t.Fatal(err)
	}
	sub, cancel := s.Events()
	defer cancel()

	if err := s.Deliver("@reviewer check this", ""); err != nil {
		t.Fatal(err)
	}

	user := nextOfType(t, sub, events.TypeMessage)
	if user.Content != "check this" {
		t.Errorf("user content = %q, want the mention stripped", user.Content)
	}
	reply := nextOfType(t, sub, events.TypeMessage)
	if reply.Name != "Reviewer" {
		t.Errorf("reply agent = %q, want Reviewer", reply.Name)
	}

	reqs := provider.requests()
	if len(reqs) == 0 {
		t.Fatal("provider was never called")
	}
	if reqs[0].System != "You review changes." {
		t.Errorf("system prompt = %q, want the reviewer instructions", reqs[0].System)
	}

	awaitSummary(t, root)
}

func TestUnknownMentionFallsToDefault(t *testing.T) {
	provider := newScriptedProvider("On it.")
	cfg, root := testConfig(t, twoAgentsYAML)
	r := NewRegistry(newTestDeps(cfg, stubFactory(provider)), time.Hour, discardLogger(), nil)
	defer r.Shutdown()

	s, _, err := r.Connect("alice", "")
	if err != nil {
		t.Fatal(err)
	}
	sub, cancel := s.Events()
	defer cancel()

	if err := s.Deliver("@ghost hello", ""); err != nil {
		t.Fatal(err)
	}

	user := nextOfType(t, sub, events.TypeMessage)
	if user.Content != "@ghost hello" {
		t.Errorf("user content = %q, want the message kept verbatim", user.Content)
	}
	reply := nextOfType(t, sub, events.TypeMessage)
	if reply.Name != "Dev" {
		t.Errorf("reply agent = %q, want the first configured agent", reply.Name)
	}

	awaitSummary(t, root)
}

func TestBlankAnswersStartNoTurn(t *testing.T) {
	provider := newScriptedProvider("Real reply")
	cfg, root := testConfig(t, "")
	r := NewRegistry(newTestDeps(cfg, stubFactory(provider)), time.Hour, discardLogger(), nil)
	defer r.Shutdown()

	s, _, err := r.Connect("alice", "")
	if err != nil {
		t.Fatal(err)
	}
	sub, cancel := s.Events()
	defer cancel()

	if err := s.Deliver("   ", ""); err != nil {
		t.Fatal(err)
	}
	if err := s.Deliver("hello", ""); err != nil {
		t.Fatal(err)
	}

	// The first message event must come from "hello": the blank answer
	// was echoed but started no turn.
	user := nextOfType(t, sub, events.TypeMessage)
	if user.Content != "hello" {
		t.Errorf("first user message = %q, want %q", user.Content, "hello")
	}

	nextOfType(t, sub, events.TypeMessage)
	awaitSummary(t, root)
}

func TestBareMentionStartsNoTurn(t *testing.T) {
	provider := newScriptedProvider("Real reply")
	cfg, root := testConfig(t, twoAgentsYAML)
	r := NewRegistry(newTestDeps(cfg, stubFactory(provider)), time.Hour, discardLogger(), nil)
	defer r.Shutdown()

	s, _, err := r.Connect("alice", "")
	if err != nil {
		t.Fatal(err)
	}
	sub, cancel := s.Events()
	defer cancel()

	if err := s.Deliver("@dev", ""); err != nil {
		t.Fatal(err)
	}
	if err := s.Deliver("hello", ""); err != nil {
		t.Fatal(err)
	}

	user := nextOfType(t, sub, events.TypeMessage)
	if user.Content != "hello" {
		t.Errorf("first user message = %q, want %q", user.Content, "hello")
	}

	nextOfType(t, sub, events.TypeMessage)
	awaitSummary(t, root)
}

func TestStopRunFlagsActiveLoop(t *testing.T) {
	provider := newScriptedProvider("done")
	provider.gate = make(chan struct{})
	cfg, root := testConfig(t, "")
	r := NewRegistry(newTestDeps(cfg, stubFactory(provider)), time.Hour, discardLogger(), nil)
	defer r.Shutdown()

	s, _, err := r.Connect("alice", "")
	if err != nil {
		t.Fatal(err)
	}
	if s.StopRun() {
		t.Error("StopRun() with no active run = true")
	}

	if err := s.Deliver("work", ""); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "run to be flagged", func() bool { return s.StopRun() })
	close(provider.gate)

	waitFor(t, "run to settle", func() bool {
		th := activeThread(s)
		return th != nil && th.RunStatus() == thread.StatusStopped
	})
	if s.StopRun() {
		t.Error("StopRun() after the run ended = true")
	}

	awaitSummary(t, root)
}

func TestProjectChoiceDrivesSelection(t *testing.T) {
	dir := t.TempDir()
	rootA := t.TempDir()
	rootB := t.TempDir()
	content := fmt.Sprintf("projects:\n  - name: demo\n    root: %s\n  - name: lab\n    root: %s\n", rootA, rootB)
	if err := os.WriteFile(filepath.Join(dir, config.FileName), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg := config.NewService(dir, discardLogger())

	r := NewRegistry(newTestDeps(cfg, stubFactory(newScriptedProvider())), time.Hour, discardLogger(), nil)
	defer r.Shutdown()

	s, _, err := r.Connect("chooser", "")
	if err != nil {
		t.Fatal(err)
	}
	sub, cancel := s.Events()
	defer cancel()

	choice := nextOfType(t, sub, events.TypeChoice)
	if len(choice.Options) != 2 || choice.Invite != "Select a project" {
		t.Fatalf("choice = %v %q, want both project names offered", choice.Options, choice.Invite)
	}

	if err := s.Deliver("lab", choice.Timestamp); err != nil {
		t.Fatal(err)
	}
	selected := nextOfType(t, sub, events.TypeProjectSelected)
	if selected.ProjectName != "lab" {
		t.Errorf("selected project = %q, want lab", selected.ProjectName)
	}
}

func TestExplicitProjectSkipsChoice(t *testing.T) {
	dir := t.TempDir()
	rootA := t.TempDir()
	rootB := t.TempDir()
	content := fmt.Sprintf("projects:\n  - name: demo\n    root: %s\n  - name: lab\n    root: %s\n", rootA, rootB)
	if err := os.WriteFile(filepath.Join(dir, config.FileName), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg := config.NewService(dir, discardLogger())

	gate := make(chan struct{})
	r := NewRegistry(newTestDeps(cfg, gatedFactory(newScriptedProvider(), gate)), time.Hour, discardLogger(), nil)
	defer r.Shutdown()

	s, _, err := r.Connect("direct", "lab")
	if err != nil {
		t.Fatal(err)
	}
	sub, cancel := s.Events()
	defer cancel()
	close(gate)

	deadline := time.After(5 * time.Second)
	for {
		select {
		case e, ok := <-sub:
			if !ok {
				t.Fatal("stream closed before project selection")
			}
			if e.Type == events.TypeChoice {
				t.Fatal("project choice emitted despite explicit selection")
			}
			if e.Type == events.TypeProjectSelected {
				if e.ProjectName != "lab" {
					t.Errorf("selected project = %q, want lab", e.ProjectName)
				}
				return
			}
		case <-deadline:
			t.Fatal("timed out waiting for project selection")
		}
	}
}

func TestSetupFailureEmitsError(t *testing.T) {
	cfg, _ := testConfig(t, "")
	gate := make(chan struct{})
	failing := func(*config.Merged) (*agent.Registry, []string, error) {
		<-gate
		return nil, []string{`ai provider "prod" skipped: missing api key`}, errors.New("no usable ai provider configured")
	}
	r := NewRegistry(newTestDeps(cfg, failing), time.Hour, discardLogger(), nil)
	defer r.Shutdown()

	s, _, err := r.Connect("alice", "")
	if err != nil {
		t.Fatal(err)
	}
	sub, cancel := s.Events()
	defer cancel()
	close(gate)

	warn := nextOfType(t, sub, events.TypeWarn)
	if !strings.Contains(warn.Warning, "missing api key") {
		t.Errorf("warning = %q, want the provider skip reason", warn.Warning)
	}
	failure := nextOfType(t, sub, events.TypeError)
	if !strings.Contains(failure.Error, "session setup failed") {
		t.Errorf("error = %q, want a setup failure", failure.Error)
	}
}
