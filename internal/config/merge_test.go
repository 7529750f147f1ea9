package config

import (
	"reflect"
	"testing"
	"time"

	"github.com/coday-ai/coday/internal/usage"
)

func boolPtr(b bool) *bool { return &b }

func TestMergeMcpServersLayered(t *testing.T) {
	coday := []McpServer{{
		Id:          "gh",
		Name:        "GitHub",
		Command:     "docker",
		Args:        []string{"-e", "GITHUB_TOKEN"},
		EnvVarNames: []string{"GITHUB_TOKEN"},
	}}
	project := []McpServer{{
		Id:   "gh",
		Args: []string{"--network=host"},
	}}
	user := []McpServer{{
		Id:      "gh",
		Command: "/usr/local/bin/docker",
		Env:     map[string]string{"GITHUB_TOKEN": "ghp_secret"},
	}}

	merged, dropped := MergeMcpServers(coday, project, user)
	if len(dropped) != 0 {
		t.Fatalf("dropped %v, want none", dropped)
	}
	if len(merged) != 1 {
		t.Fatalf("merged %d servers, want 1", len(merged))
	}
	srv := merged[0]
	if srv.Id != "gh" || srv.Name != "GitHub" {
		t.Errorf("identity = %s/%s, want gh/GitHub", srv.Id, srv.Name)
	}
	if srv.Command != "/usr/local/bin/docker" {
		t.Errorf("command = %q, want the user override", srv.Command)
	}
	wantArgs := []string{"-e", "GITHUB_TOKEN", "--network=host"}
	if !reflect.DeepEqual(srv.Args, wantArgs) {
		t.Errorf("args = %v, want %v in precedence order", srv.Args, wantArgs)
	}
	if srv.Env["GITHUB_TOKEN"] != "ghp_secret" {
		t.Errorf("env = %v, want the user token", srv.Env)
	}
	if !srv.Enabled {
		t.Error("enabled = false, want the unset default true")
	}
	if srv.Debug || srv.NoShare {
		t.Errorf("debug/noShare = %v/%v, want false when no level sets them", srv.Debug, srv.NoShare)
	}
	if srv.AllowedTools != nil {
		t.Errorf("allowedTools = %v, want nil when no level sets it", srv.AllowedTools)
	}
	if !reflect.DeepEqual(srv.EnvVarNames, []string{"GITHUB_TOKEN"}) {
		t.Errorf("envVarNames = %v", srv.EnvVarNames)
	}
}

func TestMergeMcpServerFieldRules(t *testing.T) {
	tests := []struct {
		name   string
		levels [][]McpServer
		check  func(t *testing.T, srv MergedMcpServer)
	}{
		{
			name: "enabled last set wins",
			levels: [][]McpServer{
				{{Id: "s", Command: "npx", Enabled: boolPtr(false)}},
				{{Id: "s", Enabled: boolPtr(true)}},
			},
			check: func(t *testing.T, srv MergedMcpServer) {
				if !srv.Enabled {
					t.Error("enabled = false, want the later level's true")
				}
			},
		},
		{
			name: "disabled at the user level sticks",
			levels: [][]McpServer{
				{{Id: "s", Command: "npx"}},
				{{Id: "s", Enabled: boolPtr(false)}},
			},
			check: func(t *testing.T, srv MergedMcpServer) {
				if srv.Enabled {
					t.Error("enabled = true, want false")
				}
			},
		},
		{
			name: "debug is sticky true",
			levels: [][]McpServer{
				{{Id: "s", Command: "npx", Debug: boolPtr(true)}},
				{{Id: "s", Debug: boolPtr(false)}},
			},
			check: func(t *testing.T, srv MergedMcpServer) {
				if !srv.Debug {
					t.Error("debug = false, want sticky true")
				}
			},
		},
		{
			name: "noShare is sticky true",
			levels: [][]McpServer{
				{{Id: "s", Command: "npx", NoShare: boolPtr(true)}},
				{{Id: "s", NoShare: boolPtr(false)}},
			},
			check: func(t *testing.T, srv MergedMcpServer) {
				if !srv.NoShare {
					t.Error("noShare = false, want the most restrictive level")
				}
			},
		},
		{
			name: "allowedTools concatenates across levels",
			levels: [][]McpServer{
				{{Id: "s", Command: "npx", AllowedTools: []string{"read"}}},
				{{Id: "s", AllowedTools: []string{"write"}}},
			},
			check: func(t *testing.T, srv MergedMcpServer) {
				want := []string{"read", "write"}
				if !reflect.DeepEqual(srv.AllowedTools, want) {
					t.Errorf("allowedTools = %v, want %v", srv.AllowedTools, want)
				}
			},
		},
		{
			name: "allowedTools empty list is a filter, not unset",
			levels: [][]McpServer{
				{{Id: "s", Command: "npx", AllowedTools: []string{}}},
			},
			check: func(t *testing.T, srv MergedMcpServer) {
				if srv.AllowedTools == nil {
					t.Error("allowedTools = nil, want an empty non-nil filter")
				}
			},
		},
		{
			name: "env deep merge with later keys winning",
			levels: [][]McpServer{
				{{Id: "s", Command: "npx", Env: map[string]string{"A": "1", "B": "1"}}},
				{{Id: "s", Env: map[string]string{"B": "2", "C": "3"}}},
			},
			check: func(t *testing.T, srv MergedMcpServer) {
				want := map[string]string{"A": "1", "B": "2", "C": "3"}
				if !reflect.DeepEqual(srv.Env, want) {
					t.Errorf("env = %v, want %v", srv.Env, want)
				}
			},
		},
		{
			name: "envVarNames union keeps one copy",
			levels: [][]McpServer{
				{{Id: "s", Command: "npx", EnvVarNames: []string{"TOKEN", "HOST"}}},
				{{Id: "s", EnvVarNames: []string{"HOST", "PORT"}}},
			},
			check: func(t *testing.T, srv MergedMcpServer) {
				want := []string{"TOKEN", "HOST", "PORT"}
				if !reflect.DeepEqual(srv.EnvVarNames, want) {
					t.Errorf("envVarNames = %v, want %v", srv.EnvVarNames, want)
				}
			},
		},
		{
			name: "url scalar last wins",
			levels: [][]McpServer{
				{{Id: "s", Url: "http://old.example"}},
				{{Id: "s", Url: "http://new.example"}},
			},
			check: func(t *testing.T, srv MergedMcpServer) {
				if srv.Url != "http://new.example" {
					t.Errorf("url = %q", srv.Url)
				}
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			merged, _ := MergeMcpServers(tt.levels...)
			if len(merged) != 1 {
				t.Fatalf("merged %d servers, want 1", len(merged))
			}
			tt.check(t, merged[0])
		})
	}
}

func TestMergeMcpServersDropsUnreachable(t *testing.T) {
	merged, dropped := MergeMcpServers([]McpServer{
		{Id: "a", Command: "npx"},
		{Id: "b"},
		{Id: "c", Url: "http://localhost:3000"},
	})
	if !reflect.DeepEqual(dropped, []string{"b"}) {
		t.Errorf("dropped = %v, want [b]", dropped)
	}
	if len(merged) != 2 || merged[0].Id != "a" || merged[1].Id != "c" {
		t.Errorf("merged = %+v, want a and c in declaration order", merged)
	}
}

func TestMergeMcpServersNameAsFallbackKey(t *testing.T) {
	merged, _ := MergeMcpServers(
		[]McpServer{{Name: "filesystem", Command: "npx"}},
		[]McpServer{{Name: "filesystem", Args: []string{"--readonly"}}},
	)
	if len(merged) != 1 {
		t.Fatalf("merged %d servers, want the name-keyed entries combined", len(merged))
	}
	if merged[0].Id != "filesystem" {
		t.Errorf("id = %q, want the name fallback", merged[0].Id)
	}
}

func TestApplyHostEnv(t *testing.T) {
	host := map[string]string{
		"PATH":         "/usr/bin",
		"HOME":         "/home/dev",
		"GITHUB_TOKEN": "ghp_host_value",
		"EDITOR":       "vim",
	}
	lookup := func(k string) (string, bool) {
		v, ok := host[k]
		return v, ok
	}

	merged, _ := MergeMcpServers([]McpServer{{
		Id:                         "gh",
		Command:                    "npx",
		Env:                        map[string]string{"PATH": "/custom/bin"},
		WhiteListedHostEnvVarNames: []string{"EDITOR"},
	}})
	srv := &merged[0]
	ApplyHostEnv(srv, lookup)

	if srv.Env["PATH"] != "/custom/bin" {
		t.Errorf("PATH = %q, configured values are never overwritten", srv.Env["PATH"])
	}
	if srv.Env["HOME"] != "/home/dev" {
		t.Errorf("HOME = %q, want the safe-set copy", srv.Env["HOME"])
	}
	if srv.Env["EDITOR"] != "vim" {
		t.Errorf("EDITOR = %q, want the whitelisted copy", srv.Env["EDITOR"])
	}
	if _, ok := srv.Env["GITHUB_TOKEN"]; ok {
		t.Error("GITHUB_TOKEN copied from the host without a whitelist entry")
	}
}

func TestMergeAiProviders(t *testing.T) {
	merged := MergeAiProviders(
		[]AiProvider{{Name: "anthropic", ApiKey: "global-key", BigModel: "claude-sonnet-4-20250514"}},
		[]AiProvider{{Name: "anthropic", ApiKey: "user-key"}, {Name: "openai", ApiKey: "sk-user"}},
	)
	if len(merged) != 2 {
		t.Fatalf("merged %d providers, want 2", len(merged))
	}
	anthropic := merged[0]
	if anthropic.ApiKey != "user-key" {
		t.Errorf("apiKey = %q, want the user override", anthropic.ApiKey)
	}
	if anthropic.BigModel != "claude-sonnet-4-20250514" {
		t.Errorf("bigModel = %q, want the global value kept", anthropic.BigModel)
	}
	if !anthropic.IsEnabled() {
		t.Error("IsEnabled() = false with no level setting it")
	}

	disabled := MergeAiProviders(
		[]AiProvider{{Name: "openai", ApiKey: "sk"}},
		[]AiProvider{{Name: "openai", Enabled: boolPtr(false)}},
	)
	if disabled[0].IsEnabled() {
		t.Error("IsEnabled() = true, want the user-level disable")
	}
}

func TestMergeAgents(t *testing.T) {
	temp := 0.2
	merged := MergeAgents(
		[]AgentConfig{{Name: "Reviewer", Instructions: "Review code.", Integrations: map[string][]string{"github": {"get_pr"}}}},
		[]AgentConfig{{Name: "Reviewer", Temperature: &temp, Integrations: map[string][]string{"jira": nil}}},
	)
	if len(merged) != 1 {
		t.Fatalf("merged %d agents, want 1", len(merged))
	}
	ag := merged[0]
	if ag.Instructions != "Review code." {
		t.Errorf("instructions = %q", ag.Instructions)
	}
	if ag.Temperature == nil || *ag.Temperature != 0.2 {
		t.Errorf("temperature = %v, want the later level's 0.2", ag.Temperature)
	}
	if _, ok := ag.Integrations["github"]; !ok {
		t.Error("github integration lost in merge")
	}
	if _, ok := ag.Integrations["jira"]; !ok {
		t.Error("jira integration not merged in")
	}
}

func TestMergeLevels(t *testing.T) {
	coday := &Document{
		AiProviders:    []AiProvider{{Name: "anthropic", ApiKey: "global-key"}},
		McpServers:     []McpServer{{Id: "fs", Command: "npx"}},
		PriceThreshold: 5,
	}
	project := &Document{
		Agents: []AgentConfig{{Name: "Reviewer", Instructions: "Review code."}},
	}
	user := &Document{
		AiProviders:    []AiProvider{{Name: "anthropic", ApiKey: "user-key"}},
		PriceThreshold: 2,
	}

	merged, dropped := MergeLevels(coday, project, user)
	if len(dropped) != 0 {
		t.Errorf("dropped = %v", dropped)
	}
	if merged.AiProviders[0].ApiKey != "user-key" {
		t.Errorf("apiKey = %q, want the user override", merged.AiProviders[0].ApiKey)
	}
	if merged.PriceThreshold != 2 {
		t.Errorf("priceThreshold = %v, want the user level's 2", merged.PriceThreshold)
	}
	if len(merged.Agents) != 1 || merged.Agents[0].Name != "Reviewer" {
		t.Errorf("agents = %+v", merged.Agents)
	}
	if len(merged.McpServers) != 1 {
		t.Errorf("mcpServers = %+v", merged.McpServers)
	}
}

func TestMergeLevelsTunables(t *testing.T) {
	coday := &Document{
		MaxTokens:   8192,
		ToolTimeout: 30 * time.Second,
		Prices: map[string]usage.Cost{
			"claude-sonnet-4": {Input: 4, Output: 20},
			"gpt-4o":          {Input: 2.5, Output: 10},
		},
	}
	user := &Document{
		ToolTimeout: 2 * time.Minute,
		ToolWorkers: 4,
		Prices: map[string]usage.Cost{
			"gpt-4o": {Input: 2, Output: 8},
		},
	}

	merged, _ := MergeLevels(coday, user)
	if merged.MaxTokens != 8192 {
		t.Errorf("maxTokens = %d, want the coday level kept", merged.MaxTokens)
	}
	if merged.ToolTimeout != 2*time.Minute {
		t.Errorf("toolTimeout = %v, want the user override", merged.ToolTimeout)
	}
	if merged.ToolWorkers != 4 {
		t.Errorf("toolWorkers = %d, want 4", merged.ToolWorkers)
	}
	if got := merged.Prices["claude-sonnet-4"].Input; got != 4 {
		t.Errorf("claude-sonnet-4 input = %v, want the coday entry kept", got)
	}
	if got := merged.Prices["gpt-4o"].Input; got != 2 {
		t.Errorf("gpt-4o input = %v, want the user override", got)
	}
}

func TestMergeLevelsToleratesNilDocuments(t *testing.T) {
	merged, _ := MergeLevels(nil, &Document{PriceThreshold: 1}, nil)
	if merged.PriceThreshold != 1 {
		t.Errorf("priceThreshold = %v, want 1", merged.PriceThreshold)
	}
}
