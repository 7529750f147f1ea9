package mcp

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/coday-ai/coday/internal/config"
)

// defaultCallTimeout bounds a single JSON-RPC call when the caller's
// context carries no deadline of its own.
const defaultCallTimeout = 30 * time.Second

// Transport carries JSON-RPC 2.0 traffic to one MCP server.
type Transport interface {
	// Connect establishes the transport (spawns the process or checks
	// the endpoint).
	Connect(ctx context.Context) error

	// Close tears the transport down. For stdio this kills and reaps
	// the child process.
	Close() error

	// Call sends a request and waits for the matching response.
	Call(ctx context.Context, method string, params any) (json.RawMessage, error)

	// Notify sends a notification; no response is expected.
	Notify(ctx context.Context, method string, params any) error

	// Connected reports whether the transport is usable.
	Connected() bool
}

// newTransport picks the transport from the merged config: a url means
// HTTP, otherwise the command is spawned over stdio. The merge layer
// guarantees at least one of the two is set.
func newTransport(srv config.MergedMcpServer, logger *slog.Logger) Transport {
	if srv.Url != "" {
		return NewHTTPTransport(srv, logger)
	}
	return NewStdioTransport(srv, logger)
}
