// Package config resolves the three configuration levels: coday (the
// read-only global file), project (a file at each project root), and
// user (per-project overrides in the user's config directory). The
// merge rules live in merge.go; masking for client round-trips lives
// in mask.go.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/coday-ai/coday/internal/usage"
)

// Level identifies one configuration layer. Merge precedence is least
// specific first: coday < project < user.
type Level string

const (
	LevelCoday   Level = "coday"
	LevelProject Level = "project"
	LevelUser    Level = "user"
)

// ParseLevel converts a CLI string into a Level.
func ParseLevel(s string) (Level, error) {
	switch Level(strings.ToLower(s)) {
	case LevelCoday:
		return LevelCoday, nil
	case LevelProject:
		return LevelProject, nil
	case LevelUser:
		return LevelUser, nil
	default:
		return "", fmt.Errorf("unknown config level %q", s)
	}
}

// FileName is the name of the project-level file at each project root
// and of the global file in the config directory.
const FileName = "coday.yaml"

// Document is the schema shared by all three levels. A level file may
// set any subset of it; unset fields defer to less specific levels.
type Document struct {
	// Projects declares the selectable projects. Read at the coday
	// level only.
	Projects []Project `yaml:"projects,omitempty"`

	// Storage selects the thread repository backend. Read at the
	// coday level only.
	Storage *Storage `yaml:"storage,omitempty"`

	// Server configures the HTTP gateway. Read at the coday level
	// only.
	Server *Server `yaml:"server,omitempty"`

	AiProviders  []AiProvider  `yaml:"aiProviders,omitempty"`
	McpServers   []McpServer   `yaml:"mcpServers,omitempty"`
	Integrations []Integration `yaml:"integrations,omitempty"`
	Agents       []AgentConfig `yaml:"agents,omitempty"`

	// PriceThreshold caps a thread's accumulated cost in USD before
	// further loop iterations are inhibited. Zero means no ceiling.
	PriceThreshold float64 `yaml:"priceThreshold,omitempty"`

	// MaxTokens caps one provider response in tokens. Zero keeps the
	// runtime default.
	MaxTokens int64 `yaml:"maxTokens,omitempty"`

	// ToolTimeout is the deadline for one tool invocation. Zero keeps
	// the executor default; tools declaring their own deadline keep it.
	ToolTimeout time.Duration `yaml:"toolTimeout,omitempty"`

	// ToolWorkers bounds how many tool calls of one round run at once.
	// Zero keeps the executor default.
	ToolWorkers int `yaml:"toolWorkers,omitempty"`

	// Prices overrides or extends the built-in model price table, in
	// USD per million tokens keyed by model name prefix.
	Prices map[string]usage.Cost `yaml:"prices,omitempty"`
}

// Project names a workspace root. The project-level config file is
// <root>/coday.yaml.
type Project struct {
	Name string `yaml:"name"`
	Root string `yaml:"root"`
}

// Storage selects and parameterizes the thread repository backend.
type Storage struct {
	// Backend is "file" (default) or "sqlite".
	Backend string `yaml:"backend,omitempty"`
	// Dir is the thread directory for the file backend. Relative
	// paths resolve against the project root.
	Dir string `yaml:"dir,omitempty"`
	// DSN is the database path for the sqlite backend.
	DSN string `yaml:"dsn,omitempty"`
}

// Server configures the gateway listener.
type Server struct {
	Host string `yaml:"host,omitempty"`
	Port int    `yaml:"port,omitempty"`
	// SessionTimeout is how long a disconnected session survives
	// before termination.
	SessionTimeout time.Duration `yaml:"sessionTimeout,omitempty"`
}

// AiProvider configures one model provider.
type AiProvider struct {
	Name string `yaml:"name"`
	// Kind is "anthropic" or "openai"; empty defaults to Name.
	Kind       string `yaml:"kind,omitempty"`
	ApiKey     string `yaml:"apiKey,omitempty"`
	Url        string `yaml:"url,omitempty"`
	BigModel   string `yaml:"bigModel,omitempty"`
	SmallModel string `yaml:"smallModel,omitempty"`
	Enabled    *bool  `yaml:"enabled,omitempty"`
}

// IsEnabled resolves the tri-state flag: unset means enabled.
func (p AiProvider) IsEnabled() bool { return p.Enabled == nil || *p.Enabled }

// ResolvedKind returns the provider kind, defaulting to the name.
func (p AiProvider) ResolvedKind() string {
	if p.Kind != "" {
		return strings.ToLower(p.Kind)
	}
	return strings.ToLower(p.Name)
}

// McpServer is the per-level shape of one MCP server entry. Booleans
// are tri-state pointers so the merge can tell "unset" from "false".
type McpServer struct {
	Id           string            `yaml:"id"`
	Name         string            `yaml:"name,omitempty"`
	Command      string            `yaml:"command,omitempty"`
	Url          string            `yaml:"url,omitempty"`
	Args         []string          `yaml:"args,omitempty"`
	Env          map[string]string `yaml:"env,omitempty"`
	Cwd          string            `yaml:"cwd,omitempty"`
	Enabled      *bool             `yaml:"enabled,omitempty"`
	Debug        *bool             `yaml:"debug,omitempty"`
	AllowedTools []string          `yaml:"allowedTools,omitempty"`
	AuthToken    string            `yaml:"authToken,omitempty"`
	NoShare      *bool             `yaml:"noShare,omitempty"`

	// EnvVarNames documents the variables this server expects in env;
	// levels union them so a UI can prompt for missing ones.
	EnvVarNames []string `yaml:"envVarNames,omitempty"`

	// WhiteListedHostEnvVarNames extends the built-in safe set of
	// host variables copied into env when not set by any level.
	WhiteListedHostEnvVarNames []string `yaml:"whiteListedHostEnvVarNames,omitempty"`
}

// Integration configures one external API the agent tools may reach.
type Integration struct {
	Name     string `yaml:"name"`
	ApiUrl   string `yaml:"apiUrl,omitempty"`
	ApiKey   string `yaml:"apiKey,omitempty"`
	Username string `yaml:"username,omitempty"`
	Enabled  *bool  `yaml:"enabled,omitempty"`
}

// IsEnabled resolves the tri-state flag: unset means enabled.
func (i Integration) IsEnabled() bool { return i.Enabled == nil || *i.Enabled }

// AgentConfig declares one agent persona, normally at the project
// level.
type AgentConfig struct {
	Name         string   `yaml:"name"`
	Description  string   `yaml:"description,omitempty"`
	Instructions string   `yaml:"instructions,omitempty"`
	// ModelSize is BIG or SMALL; ModelName overrides it when set.
	ModelSize   string   `yaml:"modelSize,omitempty"`
	ModelName   string   `yaml:"modelName,omitempty"`
	Provider    string   `yaml:"provider,omitempty"`
	Temperature *float64 `yaml:"temperature,omitempty"`
	// Integrations filters which tools of each integration the agent
	// may call; an empty list means all of them.
	Integrations map[string][]string `yaml:"integrations,omitempty"`
}

// DefaultDir returns the base configuration directory:
// $CODAY_CONFIG_DIR when set, otherwise ~/.config/coday.
func DefaultDir() string {
	if dir := os.Getenv("CODAY_CONFIG_DIR"); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".coday"
	}
	return filepath.Join(home, ".config", "coday")
}

// Load reads one level file, expands environment references, and
// decodes it strictly. A missing file is an error; callers treating
// absent levels as empty use LoadOptional.
func Load(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	expanded := os.ExpandEnv(string(data))

	var doc Document
	dec := yaml.NewDecoder(strings.NewReader(expanded))
	dec.KnownFields(true)
	// An empty file is a valid level with nothing set.
	if err := dec.Decode(&doc); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse %s: %w", filepath.Base(path), err)
	}
	applyDefaults(&doc)
	return &doc, nil
}

// LoadOptional is Load, with a missing file yielding an empty
// document.
func LoadOptional(path string) (*Document, error) {
	doc, err := Load(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &Document{}, nil
		}
		return nil, err
	}
	return doc, nil
}

func applyDefaults(doc *Document) {
	if doc.Storage != nil && doc.Storage.Backend == "" {
		doc.Storage.Backend = "file"
	}
	if doc.Server != nil {
		if doc.Server.Host == "" {
			doc.Server.Host = "127.0.0.1"
		}
		if doc.Server.Port == 0 {
			doc.Server.Port = 8080
		}
		if doc.Server.SessionTimeout == 0 {
			doc.Server.SessionTimeout = time.Hour
		}
	}
}

// FindProject locates a declared project by name.
func FindProject(projects []Project, name string) (Project, bool) {
	for _, p := range projects {
		if p.Name == name {
			return p, true
		}
	}
	return Project{}, false
}
