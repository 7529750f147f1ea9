package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

// Service resolves level files and produces merged per-project views.
//
// File layout:
//
//	<dir>/coday.yaml            coday level (read-only global)
//	<project root>/coday.yaml   project level
//	<dir>/user/<project>.yaml   user level
type Service struct {
	dir    string
	store  *Store
	logger *slog.Logger

	// lookupEnv feeds the MCP host environment fallback; tests swap it.
	lookupEnv func(string) (string, bool)
}

// NewService builds a service over the given config directory; empty
// means DefaultDir().
func NewService(dir string, logger *slog.Logger) *Service {
	if dir == "" {
		dir = DefaultDir()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		dir:       dir,
		store:     NewStore(),
		logger:    logger.With("component", "config"),
		lookupEnv: os.LookupEnv,
	}
}

// Dir returns the base configuration directory.
func (s *Service) Dir() string { return s.dir }

// CodayPath returns the global level file path.
func (s *Service) CodayPath() string { return filepath.Join(s.dir, FileName) }

// UserPath returns the user level file path for one project.
func (s *Service) UserPath(project string) string {
	return filepath.Join(s.dir, "user", SanitizeName(project)+".yaml")
}

// ProjectPath returns the project level file path.
func (s *Service) ProjectPath(p Project) string {
	return filepath.Join(p.Root, FileName)
}

// LevelPath resolves the file path of one level for a project name.
func (s *Service) LevelPath(level Level, projectName string) (string, error) {
	switch level {
	case LevelCoday:
		return s.CodayPath(), nil
	case LevelUser:
		return s.UserPath(projectName), nil
	case LevelProject:
		project, err := s.Project(projectName)
		if err != nil {
			return "", err
		}
		return s.ProjectPath(project), nil
	default:
		return "", fmt.Errorf("unknown config level %q", level)
	}
}

// Coday loads the global level. A missing file is an empty document:
// a fresh install has nothing configured yet.
func (s *Service) Coday() (*Document, error) {
	return LoadOptional(s.CodayPath())
}

// Project finds a declared project by name.
func (s *Service) Project(name string) (Project, error) {
	coday, err := s.Coday()
	if err != nil {
		return Project{}, err
	}
	project, ok := FindProject(coday.Projects, name)
	if !ok {
		return Project{}, fmt.Errorf("unknown project %q", name)
	}
	return project, nil
}

// Resolve merges the three levels into the effective configuration for
// one project and applies the MCP host environment fallback. The second
// return carries human-readable warnings for dropped entries; they are
// also logged, never fatal.
func (s *Service) Resolve(projectName string) (*Merged, []string, error) {
	coday, err := s.Coday()
	if err != nil {
		return nil, nil, err
	}
	project, ok := FindProject(coday.Projects, projectName)
	if !ok {
		return nil, nil, fmt.Errorf("unknown project %q", projectName)
	}
	projectDoc, err := LoadOptional(s.ProjectPath(project))
	if err != nil {
		return nil, nil, err
	}
	userDoc, err := LoadOptional(s.UserPath(projectName))
	if err != nil {
		return nil, nil, err
	}

	merged, dropped := MergeLevels(coday, projectDoc, userDoc)
	var warnings []string
	for _, id := range dropped {
		s.logger.Warn("dropping mcp server with neither command nor url", "id", id, "project", projectName)
		warnings = append(warnings, fmt.Sprintf("mcp server %q dropped: neither command nor url configured", id))
	}
	for i := range merged.McpServers {
		ApplyHostEnv(&merged.McpServers[i], s.lookupEnv)
	}
	return merged, warnings, nil
}

// ShowRaw loads one level as a raw map, optionally masked for display.
func (s *Service) ShowRaw(level Level, projectName string, masked bool) (map[string]any, error) {
	path, err := s.LevelPath(level, projectName)
	if err != nil {
		return nil, err
	}
	raw, err := LoadRaw(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return map[string]any{}, nil
		}
		return nil, err
	}
	if masked {
		return Mask(raw), nil
	}
	return raw, nil
}

// ApplyEdit accepts a client-edited raw document for one level,
// restoring any still-masked credentials from the file on disk, and
// writes the result. The coday level is read-only.
func (s *Service) ApplyEdit(level Level, projectName string, incoming map[string]any) error {
	if level == LevelCoday {
		return fmt.Errorf("the %s level is read-only", LevelCoday)
	}
	path, err := s.LevelPath(level, projectName)
	if err != nil {
		return err
	}
	original, err := LoadRaw(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return err
		}
		original = map[string]any{}
	}
	return s.store.SaveRaw(path, Unmask(original, incoming))
}
