package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/coday-ai/coday/internal/config"
)

const (
	protocolVersion = "2024-11-05"
	clientName      = "coday"
	clientVersion   = "1.0.0"
)

// ServerHandle is the per-server surface the tool bridge consumes.
type ServerHandle interface {
	Tools() []Tool
	CallTool(ctx context.Context, name string, arguments json.RawMessage) (*ToolResult, error)
}

// Client drives the MCP handshake and tool calls for one server.
type Client struct {
	server    config.MergedMcpServer
	transport Transport
	logger    *slog.Logger

	mu         sync.RWMutex
	tools      []Tool
	serverInfo ServerInfo
}

// NewClient creates a client for the given merged server config.
func NewClient(srv config.MergedMcpServer, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		server:    srv,
		transport: newTransport(srv, logger),
		logger:    logger.With("mcp_server", srv.Id),
	}
}

// Connect establishes the transport, performs the initialize handshake,
// and loads the server's tool list.
func (c *Client) Connect(ctx context.Context) error {
	if err := c.transport.Connect(ctx); err != nil {
		return fmt.Errorf("transport connect: %w", err)
	}

	result, err := c.transport.Call(ctx, "initialize", map[string]any{
		"protocolVersion": protocolVersion,
		"capabilities":    map[string]any{},
		"clientInfo": map[string]any{
			"name":    clientName,
			"version": clientVersion,
		},
	})
	if err != nil {
		c.transport.Close()
		return fmt.Errorf("initialize: %w", err)
	}

	var initResult InitializeResult
	if err := json.Unmarshal(result, &initResult); err != nil {
		c.transport.Close()
		return fmt.Errorf("parse initialize result: %w", err)
	}
	c.mu.Lock()
	c.serverInfo = initResult.ServerInfo
	c.mu.Unlock()

	c.logger.Info("connected to mcp server",
		"name", initResult.ServerInfo.Name,
		"version", initResult.ServerInfo.Version,
		"protocol", initResult.ProtocolVersion)

	if err := c.transport.Notify(ctx, "notifications/initialized", nil); err != nil {
		c.logger.Warn("initialized notification failed", "error", err)
	}

	if err := c.RefreshTools(ctx); err != nil {
		c.transport.Close()
		return fmt.Errorf("list tools: %w", err)
	}
	return nil
}

// Close tears down the transport (and child process, for stdio).
func (c *Client) Close() error {
	return c.transport.Close()
}

// Connected reports whether the underlying transport is usable.
func (c *Client) Connected() bool {
	return c.transport.Connected()
}

// ServerInfo returns the identity the server reported at initialize.
func (c *Client) ServerInfo() ServerInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.serverInfo
}

// RefreshTools reloads the cached tool list from the server.
func (c *Client) RefreshTools(ctx context.Context) error {
	result, err := c.transport.Call(ctx, "tools/list", nil)
	if err != nil {
		return err
	}
	var resp ListToolsResult
	if err := json.Unmarshal(result, &resp); err != nil {
		return fmt.Errorf("parse tools/list result: %w", err)
	}

	c.mu.Lock()
	c.tools = resp.Tools
	c.mu.Unlock()
	c.logger.Debug("refreshed tools", "count", len(resp.Tools))
	return nil
}

// Tools returns the cached tool list.
func (c *Client) Tools() []Tool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.tools
}

// CallTool invokes one tool on the server.
func (c *Client) CallTool(ctx context.Context, name string, arguments json.RawMessage) (*ToolResult, error) {
	params := CallToolParams{Name: name, Arguments: arguments}
	result, err := c.transport.Call(ctx, "tools/call", params)
	if err != nil {
		return nil, err
	}

	var callResult ToolResult
	if err := json.Unmarshal(result, &callResult); err != nil {
		return nil, fmt.Errorf("parse tools/call result: %w", err)
	}
	return &callResult, nil
}
