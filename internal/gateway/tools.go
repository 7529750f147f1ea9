package gateway

import (
	"context"
	"fmt"
	"strings"

	"github.com/coday-ai/coday/internal/agent"
	"github.com/coday-ai/coday/internal/thread"
)

// defaultHistoryLimit bounds thread_history output when the model does
// not ask for a specific count.
const defaultHistoryLimit = 10

type threadHistoryParams struct {
	Limit int `json:"limit,omitempty" jsonschema:"minimum=1,maximum=50"`
}

// threadHistoryTool exposes the project's saved threads to the agent so
// it can refer back to earlier conversations. Read-only; the summaries
// come from the same repository the session persists into.
func threadHistoryTool(repo thread.Repository) agent.Tool {
	return agent.MustFuncTool(
		"thread_history",
		"List this project's saved conversation threads, newest first. Each line carries the modified date, thread name and one-line summary. Use limit to bound the count (default 10).",
		func(ctx context.Context, p threadHistoryParams) (string, error) {
			limit := p.Limit
			if limit <= 0 {
				limit = defaultHistoryLimit
			}

			summaries, err := repo.List(ctx)
			if err != nil {
				return "", fmt.Errorf("list threads: %w", err)
			}
			if len(summaries) == 0 {
				return "No saved threads in this project yet.", nil
			}
			if len(summaries) > limit {
				summaries = summaries[:limit]
			}

			var b strings.Builder
			for _, s := range summaries {
				fmt.Fprintf(&b, "%s  %s", s.ModifiedDate.Format("2006-01-02 15:04"), s.Name)
				if s.Summary != "" {
					fmt.Fprintf(&b, ": %s", s.Summary)
				}
				b.WriteByte('\n')
			}
			return strings.TrimRight(b.String(), "\n"), nil
		},
	)
}
