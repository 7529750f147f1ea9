package mcp

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/coday-ai/coday/internal/config"
)

// InstanceKey returns the identity under which a merged MCP server
// shares one backing instance. Two configs that would launch the same
// process (same command, url, args in order, env content, cwd, debug)
// hash identically; identity fields that do not change the process
// (id, name, enabled, allowedTools, authToken) are excluded. A noShare
// server gets a fresh key on every call, forcing a private instance.
func InstanceKey(srv config.MergedMcpServer) string {
	if srv.NoShare {
		return fmt.Sprintf("no-share-%d-%s", time.Now().Unix(), uuid.NewString())
	}

	h := sha256.New()
	field := func(name, value string) {
		h.Write([]byte(name))
		h.Write([]byte{0})
		h.Write([]byte(value))
		h.Write([]byte{0})
	}

	field("command", srv.Command)
	field("url", srv.Url)
	for _, arg := range srv.Args {
		field("arg", arg)
	}
	envKeys := make([]string, 0, len(srv.Env))
	for k := range srv.Env {
		envKeys = append(envKeys, k)
	}
	sort.Strings(envKeys)
	for _, k := range envKeys {
		field("env:"+k, srv.Env[k])
	}
	field("cwd", srv.Cwd)
	field("debug", strconv.FormatBool(srv.Debug))

	return hex.EncodeToString(h.Sum(nil))
}

// shortKey abbreviates an instance key for log output.
func shortKey(key string) string {
	if len(key) <= 12 {
		return key
	}
	return key[:12]
}
