package config

import (
	"strings"
	"time"

	"github.com/coday-ai/coday/internal/usage"
)

// MergedMcpServer is the effective shape of one MCP server after the
// three-level merge: booleans resolved, lists combined, env complete.
type MergedMcpServer struct {
	Id      string
	Name    string
	Command string
	Url     string
	Args    []string
	Env     map[string]string
	Cwd     string
	Enabled bool
	Debug   bool
	// AllowedTools is nil iff no level set it (no filter).
	AllowedTools []string
	AuthToken    string
	NoShare      bool
	EnvVarNames  []string

	hostEnvWhitelist []string
}

// Merged is the effective per-project configuration.
type Merged struct {
	AiProviders    []AiProvider
	McpServers     []MergedMcpServer
	Integrations   []Integration
	Agents         []AgentConfig
	PriceThreshold float64
	MaxTokens      int64
	ToolTimeout    time.Duration
	ToolWorkers    int
	Prices         map[string]usage.Cost
}

// MergeLevels combines level documents, least specific first, into the
// effective view. Scalar tunables are last-set-wins; prices deep-merge
// by model with later levels winning. The second return lists the ids
// of MCP servers dropped for lacking both a command and a url.
func MergeLevels(docs ...*Document) (*Merged, []string) {
	var (
		providers    [][]AiProvider
		servers      [][]McpServer
		integrations [][]Integration
		agents       [][]AgentConfig
		out          Merged
	)
	for _, doc := range docs {
		if doc == nil {
			continue
		}
		providers = append(providers, doc.AiProviders)
		servers = append(servers, doc.McpServers)
		integrations = append(integrations, doc.Integrations)
		agents = append(agents, doc.Agents)
		if doc.PriceThreshold != 0 {
			out.PriceThreshold = doc.PriceThreshold
		}
		if doc.MaxTokens != 0 {
			out.MaxTokens = doc.MaxTokens
		}
		if doc.ToolTimeout != 0 {
			out.ToolTimeout = doc.ToolTimeout
		}
		if doc.ToolWorkers != 0 {
			out.ToolWorkers = doc.ToolWorkers
		}
		for model, cost := range doc.Prices {
			if out.Prices == nil {
				out.Prices = make(map[string]usage.Cost)
			}
			out.Prices[model] = cost
		}
	}
	var dropped []string
	out.AiProviders = MergeAiProviders(providers...)
	out.McpServers, dropped = MergeMcpServers(servers...)
	out.Integrations = MergeIntegrations(integrations...)
	out.Agents = MergeAgents(agents...)
	return &out, dropped
}

// MergeMcpServers merges per-level MCP server lists. Servers are
// identified by id (name when id is empty); entries with neither are
// skipped. Field rules: scalars last-wins, enabled last-set-wins
// defaulting to true, debug and noShare sticky-true, args concatenated
// in precedence order, allowedTools concatenated and nil only when no
// level set it, env deep-merged with later keys winning, name lists
// unioned. Merged servers lacking both command and url are dropped;
// their ids are the second return.
func MergeMcpServers(levels ...[]McpServer) ([]MergedMcpServer, []string) {
	var order []string
	states := make(map[string]*mcpMergeState)

	for _, level := range levels {
		for _, src := range level {
			key := src.Id
			if key == "" {
				key = src.Name
			}
			if key == "" {
				continue
			}
			st, ok := states[key]
			if !ok {
				st = &mcpMergeState{}
				st.Id = key
				states[key] = st
				order = append(order, key)
			}
			st.apply(src)
		}
	}

	merged := make([]MergedMcpServer, 0, len(order))
	var dropped []string
	for _, key := range order {
		srv := states[key].resolve()
		if srv.Command == "" && srv.Url == "" {
			dropped = append(dropped, srv.Id)
			continue
		}
		merged = append(merged, srv)
	}
	return merged, dropped
}

type mcpMergeState struct {
	MergedMcpServer
	enabled  *bool
	seenEnv  map[string]bool
	seenHost map[string]bool
}

func (st *mcpMergeState) apply(src McpServer) {
	if src.Name != "" {
		st.Name = src.Name
	}
	if src.Command != "" {
		st.Command = src.Command
	}
	if src.Url != "" {
		st.Url = src.Url
	}
	if src.Cwd != "" {
		st.Cwd = src.Cwd
	}
	if src.AuthToken != "" {
		st.AuthToken = src.AuthToken
	}
	if src.Enabled != nil {
		st.enabled = src.Enabled
	}
	if src.Debug != nil && *src.Debug {
		st.Debug = true
	}
	if src.NoShare != nil && *src.NoShare {
		st.NoShare = true
	}
	st.Args = append(st.Args, src.Args...)
	if src.AllowedTools != nil {
		if st.AllowedTools == nil {
			st.AllowedTools = []string{}
		}
		st.AllowedTools = append(st.AllowedTools, src.AllowedTools...)
	}
	if len(src.Env) > 0 && st.Env == nil {
		st.Env = make(map[string]string, len(src.Env))
	}
	for k, v := range src.Env {
		st.Env[k] = v
	}
	for _, name := range src.EnvVarNames {
		if st.seenEnv == nil {
			st.seenEnv = make(map[string]bool)
		}
		if !st.seenEnv[name] {
			st.seenEnv[name] = true
			st.EnvVarNames = append(st.EnvVarNames, name)
		}
	}
	for _, name := range src.WhiteListedHostEnvVarNames {
		if st.seenHost == nil {
			st.seenHost = make(map[string]bool)
		}
		if !st.seenHost[name] {
			st.seenHost[name] = true
			st.hostEnvWhitelist = append(st.hostEnvWhitelist, name)
		}
	}
}

func (st *mcpMergeState) resolve() MergedMcpServer {
	srv := st.MergedMcpServer
	srv.Enabled = st.enabled == nil || *st.enabled
	return srv
}

// builtinSafeHostEnv lists the variables an MCP child process may
// inherit from the host without being whitelisted. Credential-shaped
// variables never qualify.
var builtinSafeHostEnv = []string{
	"PATH", "HOME", "USER", "TMPDIR", "TEMP", "TMP",
	"LANG", "LC_ALL", "LC_CTYPE", "TERM", "COLORTERM", "SHELL", "OS",
}

// ApplyHostEnv copies host values into the server env for every name
// in the safe set and the server's whitelist that no level set.
// lookup is os.LookupEnv in production.
func ApplyHostEnv(srv *MergedMcpServer, lookup func(string) (string, bool)) {
	if lookup == nil {
		return
	}
	names := make([]string, 0, len(builtinSafeHostEnv)+len(srv.hostEnvWhitelist))
	names = append(names, builtinSafeHostEnv...)
	names = append(names, srv.hostEnvWhitelist...)
	for _, name := range names {
		if _, ok := srv.Env[name]; ok {
			continue
		}
		v, ok := lookup(name)
		if !ok {
			continue
		}
		if srv.Env == nil {
			srv.Env = make(map[string]string)
		}
		srv.Env[name] = v
	}
}

// MergeAiProviders merges per-level provider lists by name: scalars
// last-wins, enabled last-set-wins (IsEnabled defaults true).
func MergeAiProviders(levels ...[]AiProvider) []AiProvider {
	var order []string
	merged := make(map[string]*AiProvider)
	for _, level := range levels {
		for _, src := range level {
			if src.Name == "" {
				continue
			}
			dst, ok := merged[src.Name]
			if !ok {
				dst = &AiProvider{Name: src.Name}
				merged[src.Name] = dst
				order = append(order, src.Name)
			}
			if src.Kind != "" {
				dst.Kind = src.Kind
			}
			if src.ApiKey != "" {
				dst.ApiKey = src.ApiKey
			}
			if src.Url != "" {
				dst.Url = src.Url
			}
			if src.BigModel != "" {
				dst.BigModel = src.BigModel
			}
			if src.SmallModel != "" {
				dst.SmallModel = src.SmallModel
			}
			if src.Enabled != nil {
				dst.Enabled = src.Enabled
			}
		}
	}
	out := make([]AiProvider, 0, len(order))
	for _, name := range order {
		out = append(out, *merged[name])
	}
	return out
}

// MergeIntegrations merges per-level integration lists by name.
func MergeIntegrations(levels ...[]Integration) []Integration {
	var order []string
	merged := make(map[string]*Integration)
	for _, level := range levels {
		for _, src := range level {
			if src.Name == "" {
				continue
			}
			dst, ok := merged[src.Name]
			if !ok {
				dst = &Integration{Name: src.Name}
				merged[src.Name] = dst
				order = append(order, src.Name)
			}
			if src.ApiUrl != "" {
				dst.ApiUrl = src.ApiUrl
			}
			if src.ApiKey != "" {
				dst.ApiKey = src.ApiKey
			}
			if src.Username != "" {
				dst.Username = src.Username
			}
			if src.Enabled != nil {
				dst.Enabled = src.Enabled
			}
		}
	}
	out := make([]Integration, 0, len(order))
	for _, name := range order {
		out = append(out, *merged[name])
	}
	return out
}

// MergeAgents merges per-level agent lists by name: scalars last-wins,
// temperature last-set-wins, integration filters deep-merged.
func MergeAgents(levels ...[]AgentConfig) []AgentConfig {
	var order []string
	merged := make(map[string]*AgentConfig)
	for _, level := range levels {
		for _, src := range level {
			if src.Name == "" {
				continue
			}
			dst, ok := merged[src.Name]
			if !ok {
				dst = &AgentConfig{Name: src.Name}
				merged[src.Name] = dst
				order = append(order, src.Name)
			}
			if src.Description != "" {
				dst.Description = src.Description
			}
			if src.Instructions != "" {
				dst.Instructions = src.Instructions
			}
			if src.ModelSize != "" {
				dst.ModelSize = strings.ToUpper(src.ModelSize)
			}
			if src.ModelName != "" {
				dst.ModelName = src.ModelName
			}
			if src.Provider != "" {
				dst.Provider = src.Provider
			}
			if src.Temperature != nil {
				dst.Temperature = src.Temperature
			}
			for name, filter := range src.Integrations {
				if dst.Integrations == nil {
					dst.Integrations = make(map[string][]string)
				}
				dst.Integrations[name] = filter
			}
		}
	}
	out := make([]AgentConfig, 0, len(order))
	for _, name := range order {
		out = append(out, *merged[name])
	}
	return out
}
