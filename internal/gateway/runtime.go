// Package gateway exposes the conversational core over HTTP.
//
// runtime.go assembles a session's runtime from the merged project
// configuration: providers, personas, MCP tools, and the thread service.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/coday-ai/coday/internal/agent"
	"github.com/coday-ai/coday/internal/agent/providers"
	"github.com/coday-ai/coday/internal/config"
	"github.com/coday-ai/coday/internal/thread"
	"github.com/coday-ai/coday/internal/usage"
	"github.com/coday-ai/coday/pkg/events"
)

// sessionEnv is a session's bound project: the repository-backed thread
// service, the agent runtime, and the personas that can drive it.
type sessionEnv struct {
	project config.Project
	service *thread.Service
	runtime *agent.Runtime
	agents  map[string]*agent.Agent
	def     *agent.Agent
	release func()
}

// resolveAgent picks the persona for one user turn. A leading "@name"
// routes the rest of the message to that configured agent; anything
// else goes to the default.
func (e *sessionEnv) resolveAgent(text string) (*agent.Agent, string) {
	if !strings.HasPrefix(text, "@") {
		return e.def, text
	}
	mention, rest, found := strings.Cut(text[1:], " ")
	if !found {
		mention = text[1:]
	}
	if a, ok := e.agents[strings.ToLower(mention)]; ok {
		return a, strings.TrimSpace(rest)
	}
	return e.def, text
}

// buildEnv resolves the session's project and assembles its runtime.
// Merge and provider warnings reach the user as warn events; a missing
// provider is fatal for the session.
func (s *Session) buildEnv(ctx context.Context) (*sessionEnv, error) {
	doc, err := s.deps.config.Coday()
	if err != nil {
		return nil, err
	}

	name, err := s.chooseProject(ctx, doc.Projects)
	if err != nil {
		return nil, err
	}

	merged, warnings, err := s.deps.config.Resolve(name)
	if err != nil {
		return nil, err
	}
	for _, w := range warnings {
		s.interactor.Warn(w)
	}

	repo, project, err := s.deps.repos.forProject(name)
	if err != nil {
		return nil, err
	}

	registry, providerWarnings, err := s.deps.providers(merged)
	for _, w := range providerWarnings {
		s.interactor.Warn(w)
	}
	if err != nil {
		return nil, err
	}

	tools, releaseTools, err := s.deps.mcp.ToolsFor(ctx, merged.McpServers)
	if err != nil {
		return nil, err
	}

	toolSet := agent.NewToolSet(tools...)
	if err := toolSet.Register(threadHistoryTool(repo)); err != nil {
		s.deps.logger.Warn("builtin tool not registered", "error", err)
	}

	// Zero-valued tunables keep the agent package defaults.
	executor := agent.NewExecutor(toolSet,
		agent.WithExecutorLogger(s.deps.logger),
		agent.WithWorkers(merged.ToolWorkers),
		agent.WithToolTimeout(merged.ToolTimeout),
	)
	opts := []agent.Option{
		agent.WithLogger(s.deps.logger),
		agent.WithMetrics(s.deps.metrics),
		agent.WithPriceThreshold(merged.PriceThreshold),
		agent.WithMaxTokens(merged.MaxTokens),
		agent.WithExecutor(executor),
	}
	if len(merged.Prices) > 0 {
		opts = append(opts, agent.WithPrices(usage.DefaultPrices.Merge(merged.Prices)))
	}
	rt := agent.NewRuntime(registry, toolSet, opts...)

	service := thread.NewService(repo, s.interactor.Publish, s.deps.logger)
	service.AfterRun(agent.SummarizeHook(registry, repo, s.deps.logger))

	agents, def := buildAgents(merged.Agents, toolSet)

	stopWatch := func() {}
	if project.Root != "" {
		sw, err := watchWorkspace(project.Root, s.interactor.Publish, s.logger)
		if err != nil {
			s.logger.Warn("workspace watch unavailable", "project", name, "error", err)
		} else {
			stopWatch = sw
		}
	}

	s.interactor.Emit(events.NewProjectSelected(name))
	s.logger.Info("project bound", "project", name, "agents", len(agents), "tools", toolSet.Len())

	return &sessionEnv{
		project: project,
		service: service,
		runtime: rt,
		agents:  agents,
		def:     def,
		release: func() {
			stopWatch()
			releaseTools()
		},
	}, nil
}

// chooseProject returns the session's project name: the requested one,
// the only one configured, or the user's pick through a choice event.
func (s *Session) chooseProject(ctx context.Context, projects []config.Project) (string, error) {
	if s.project != "" {
		if _, ok := config.FindProject(projects, s.project); !ok {
			return "", fmt.Errorf("unknown project %q", s.project)
		}
		return s.project, nil
	}
	switch len(projects) {
	case 0:
		return "", errors.New("no projects configured")
	case 1:
		return projects[0].Name, nil
	}

	names := make([]string, len(projects))
	for i, p := range projects {
		names[i] = p.Name
	}
	pick, err := s.interactor.Choose(ctx, names, "Select a project", "")
	if err != nil {
		return "", err
	}
	if _, ok := config.FindProject(projects, pick); !ok {
		return "", fmt.Errorf("unknown project %q", pick)
	}
	return pick, nil
}

// buildProviders constructs the provider registry from the merged
// configuration. Broken entries are reported, never fatal; at least one
// provider must survive. An entry with no configured key falls back to
// the conventional environment variable for its kind, such as
// ANTHROPIC_API_KEY.
func buildProviders(merged *config.Merged) (*agent.Registry, []string, error) {
	registry := agent.NewRegistry()
	var warnings []string
	registered := 0

	for _, p := range merged.AiProviders {
		if !p.IsEnabled() {
			continue
		}
		kind := p.ResolvedKind()
		apiKey := p.ApiKey
		if apiKey == "" {
			apiKey = os.Getenv(strings.ToUpper(kind) + "_API_KEY")
		}
		switch kind {
		case "anthropic":
			provider, err := providers.NewAnthropicProvider(providers.AnthropicConfig{
				APIKey:     apiKey,
				BaseURL:    p.Url,
				BigModel:   p.BigModel,
				SmallModel: p.SmallModel,
			})
			if err != nil {
				warnings = append(warnings, fmt.Sprintf("ai provider %q skipped: %v", p.Name, err))
				continue
			}
			registry.Register(provider)
			registered++
		case "openai":
			provider, err := providers.NewOpenAIProvider(providers.OpenAIConfig{
				APIKey:     apiKey,
				BaseURL:    p.Url,
				BigModel:   p.BigModel,
				SmallModel: p.SmallModel,
			})
			if err != nil {
				warnings = append(warnings, fmt.Sprintf("ai provider %q skipped: %v", p.Name, err))
				continue
			}
			registry.Register(provider)
			registered++
		default:
			warnings = append(warnings, fmt.Sprintf("ai provider %q skipped: unsupported kind %q", p.Name, kind))
		}
	}

	if registered == 0 {
		return nil, warnings, errors.New("no usable ai provider configured")
	}
	return registry, warnings, nil
}

// buildAgents converts the configured personas, all sharing the
// session's tool set. The first configured agent is the session
// default; with none configured the built-in Coday agent serves.
func buildAgents(configs []config.AgentConfig, tools *agent.ToolSet) (map[string]*agent.Agent, *agent.Agent) {
	byName := make(map[string]*agent.Agent)
	var def *agent.Agent

	for _, c := range configs {
		if c.Name == "" {
			continue
		}
		a := &agent.Agent{
			Name:         c.Name,
			Description:  c.Description,
			Instructions: c.Instructions,
			Provider:     c.Provider,
			ModelName:    c.ModelName,
			Temperature:  c.Temperature,
			ModelSize:    agent.SizeBig,
			Tools:        tools,
		}
		if strings.EqualFold(c.ModelSize, string(agent.SizeSmall)) {
			a.ModelSize = agent.SizeSmall
		}
		byName[strings.ToLower(c.Name)] = a
		if def == nil {
			def = a
		}
	}

	if def == nil {
		def = agent.DefaultAgent()
		def.Tools = tools
		byName[strings.ToLower(def.Name)] = def
	}
	return byName, def
}
