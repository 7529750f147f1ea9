package mcp

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/coday-ai/coday/internal/agent"
	"github.com/coday-ai/coday/internal/config"
)

// Provider API tool name limit.
const maxToolNameLen = 64

// bridgeTool exposes one MCP tool as an agent tool.
type bridgeTool struct {
	handle ServerHandle
	server string
	tool   Tool
	name   string
}

func (b *bridgeTool) Name() string { return b.name }

func (b *bridgeTool) Description() string {
	desc := strings.TrimSpace(b.tool.Description)
	if desc == "" {
		desc = "no description provided"
	}
	return fmt.Sprintf("MCP tool %s.%s: %s", b.server, b.tool.Name, desc)
}

func (b *bridgeTool) Schema() json.RawMessage {
	if len(b.tool.InputSchema) == 0 {
		return json.RawMessage(`{"type":"object"}`)
	}
	return b.tool.InputSchema
}

func (b *bridgeTool) Execute(ctx context.Context, args string) (string, error) {
	args = strings.TrimSpace(args)
	if args == "" {
		args = "{}"
	}
	result, err := b.handle.CallTool(ctx, b.tool.Name, json.RawMessage(args))
	if err != nil {
		return "", err
	}

	var parts []string
	for _, part := range result.Content {
		if part.Type == "text" {
			parts = append(parts, part.Text)
			continue
		}
		raw, err := json.Marshal(part)
		if err != nil {
			parts = append(parts, fmt.Sprintf("[unrenderable %s content]", part.Type))
			continue
		}
		parts = append(parts, string(raw))
	}
	text := strings.Join(parts, "\n")

	if result.IsError {
		if text == "" {
			text = "tool reported an error"
		}
		return "", fmt.Errorf("%s", text)
	}
	return text, nil
}

// ServerTools wraps the tools advertised by a connected server. A nil
// AllowedTools exposes everything; a non-nil list is a whitelist of
// raw tool names, so an empty list exposes nothing.
func ServerTools(handle ServerHandle, srv config.MergedMcpServer) []agent.Tool {
	var allowed map[string]bool
	if srv.AllowedTools != nil {
		allowed = make(map[string]bool, len(srv.AllowedTools))
		for _, name := range srv.AllowedTools {
			allowed[name] = true
		}
	}

	serverID := srv.Id
	if serverID == "" {
		serverID = srv.Name
	}

	var tools []agent.Tool
	seen := make(map[string]bool)
	for _, tool := range handle.Tools() {
		if allowed != nil && !allowed[tool.Name] {
			continue
		}
		tools = append(tools, &bridgeTool{
			handle: handle,
			server: serverID,
			tool:   tool,
			name:   safeToolName(serverID, tool.Name, seen),
		})
	}
	return tools
}

// safeToolName builds a provider-safe unique name for an MCP tool.
func safeToolName(server, tool string, seen map[string]bool) string {
	name := "mcp_" + sanitizeToolPart(server) + "_" + sanitizeToolPart(tool)
	if len(name) > maxToolNameLen || seen[name] {
		// Disambiguate with a digest of the raw pair; sanitizing can
		// collapse distinct names into the same string.
		sum := sha256.Sum256([]byte(server + "\x00" + tool))
		suffix := "_" + hex.EncodeToString(sum[:])[:8]
		if len(name)+len(suffix) > maxToolNameLen {
			name = name[:maxToolNameLen-len(suffix)]
		}
		name += suffix
	}
	seen[name] = true
	return name
}

// sanitizeToolPart lowercases and keeps alphanumeric runs joined by
// single underscores.
func sanitizeToolPart(s string) string {
	var b strings.Builder
	lastUnderscore := true
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastUnderscore = false
		default:
			if !lastUnderscore {
				b.WriteByte('_')
				lastUnderscore = true
			}
		}
	}
	out := strings.Trim(b.String(), "_")
	if out == "" {
		return "tool"
	}
	return out
}

// ToolsFor acquires an instance for every enabled server and returns
// the combined tool list plus a release func for all acquired
// instances. A server that fails to start is logged and skipped so one
// bad config does not take the whole session down.
func (c *Cache) ToolsFor(ctx context.Context, servers []config.MergedMcpServer) ([]agent.Tool, func(), error) {
	var instances []*Instance
	var tools []agent.Tool

	release := func() {
		for _, inst := range instances {
			inst.Release()
		}
	}

	for _, srv := range servers {
		if !srv.Enabled {
			continue
		}
		inst, err := c.Acquire(ctx, srv)
		if err != nil {
			if ctx.Err() != nil {
				release()
				return nil, nil, ctx.Err()
			}
			c.logger.Warn("mcp server unavailable", "server", srv.Id, "error", err)
			continue
		}
		instances = append(instances, inst)
		bridged := ServerTools(inst.Handle(), srv)
		tools = append(tools, bridged...)
		c.logger.Debug("mcp tools bridged", "server", srv.Id, "key", shortKey(inst.Key()), "tools", len(bridged))
	}
	return tools, release, nil
}
