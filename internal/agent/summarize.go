package agent

import (
	"context"
	"log/slog"
	"strings"

	"github.com/coday-ai/coday/internal/thread"
	"github.com/coday-ai/coday/pkg/events"
)

const summarizeInstructions = "You summarize conversations. Reply with a single plain sentence of at most 120 characters. No markup, no quotes."

// maxSummaryInput caps the transcript handed to the summarizer so a long
// thread does not turn the hook into an expensive call.
const maxSummaryInput = 8 * 1024

// SummarizeHook returns an after-run hook that asks the SMALL model for a
// one-line summary and persists it. Threads that already carry a summary
// or hold fewer than two messages are left alone.
func SummarizeHook(providers *Registry, repo thread.Repository, logger *slog.Logger) thread.Hook {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "summarize_hook")

	summarizer := &Agent{
		Name:         "Summarizer",
		Instructions: summarizeInstructions,
		ModelSize:    SizeSmall,
	}

	return func(ctx context.Context, t *thread.Thread) {
		if t.Summary() != "" || t.MessageCount() < 2 {
			return
		}
		prompt := summaryPrompt(t.Messages())
		if prompt == "" {
			return
		}
		summary, err := providers.Text(ctx, summarizer, prompt)
		if err != nil {
			logger.Warn("thread summarization failed", "thread_id", t.ID(), "error", err)
			return
		}
		summary = strings.TrimSpace(summary)
		if summary == "" {
			return
		}
		t.SetSummary(summary)
		if err := repo.Save(ctx, t); err != nil {
			logger.Warn("persisting thread summary failed", "thread_id", t.ID(), "error", err)
		}
	}
}

// summaryPrompt flattens the conversational messages into a plain
// transcript. Tool traffic is skipped; it rarely helps a one-liner.
func summaryPrompt(messages []events.Event) string {
	var b strings.Builder
	b.WriteString("Summarize this conversation in one sentence:\n\n")
	wrote := false
	for _, e := range messages {
		if e.Type != events.TypeMessage || e.Content == "" {
			continue
		}
		b.WriteString(string(e.Role))
		b.WriteString(": ")
		b.WriteString(e.Content)
		b.WriteByte('\n')
		wrote = true
		if b.Len() >= maxSummaryInput {
			break
		}
	}
	if !wrote {
		return ""
	}
	return b.String()
}
