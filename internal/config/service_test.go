package config

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
}

// newTestService lays out all three levels on disk: a coday file
// declaring the demo project, a project file at its root, and a user
// override file.
func newTestService(t *testing.T) *Service {
	t.Helper()
	base := t.TempDir()
	root := t.TempDir()

	writeFile(t, filepath.Join(base, FileName), `projects:
  - name: demo
    root: `+root+`
aiProviders:
  - name: anthropic
    apiKey: global-key
mcpServers:
  - id: gh
    command: docker
    args: ["-e", "GITHUB_TOKEN"]
    envVarNames: [GITHUB_TOKEN]
`)
	writeFile(t, filepath.Join(root, FileName), `agents:
  - name: Reviewer
    instructions: Review code.
mcpServers:
  - id: gh
    args: ["--network=host"]
`)
	writeFile(t, filepath.Join(base, "user", "demo.yaml"), `aiProviders:
  - name: anthropic
    apiKey: user-key-value
mcpServers:
  - id: gh
    command: /usr/local/bin/docker
    env:
      GITHUB_TOKEN: ghp_secret
`)

	svc := NewService(base, discardLogger())
	svc.lookupEnv = func(string) (string, bool) { return "", false }
	return svc
}

func TestServiceResolve(t *testing.T) {
	svc := newTestService(t)

	merged, warnings, err := svc.Resolve("demo")
	if err != nil {
		t.Fatal(err)
	}
	if len(warnings) != 0 {
		t.Errorf("warnings = %v, want none", warnings)
	}

	if len(merged.AiProviders) != 1 || merged.AiProviders[0].ApiKey != "user-key-value" {
		t.Errorf("providers = %+v, want the user-level key", merged.AiProviders)
	}
	if len(merged.Agents) != 1 || merged.Agents[0].Name != "Reviewer" {
		t.Errorf("agents = %+v, want the project-level agent", merged.Agents)
	}
	if len(merged.McpServers) != 1 {
		t.Fatalf("servers = %+v", merged.McpServers)
	}
	srv := merged.McpServers[0]
	if srv.Command != "/usr/local/bin/docker" {
		t.Errorf("command = %q", srv.Command)
	}
	wantArgs := []string{"-e", "GITHUB_TOKEN", "--network=host"}
	if !reflect.DeepEqual(srv.Args, wantArgs) {
		t.Errorf("args = %v, want %v", srv.Args, wantArgs)
	}
	if srv.Env["GITHUB_TOKEN"] != "ghp_secret" {
		t.Errorf("env = %v", srv.Env)
	}
	if !srv.Enabled {
		t.Error("enabled = false")
	}
}

func TestServiceResolveUnknownProject(t *testing.T) {
	svc := newTestService(t)
	_, _, err := svc.Resolve("nope")
	if err == nil || !strings.Contains(err.Error(), "unknown project") {
		t.Errorf("err = %v, want unknown project", err)
	}
}

func TestServiceResolveWarnsOnDroppedServers(t *testing.T) {
	svc := newTestService(t)
	writeFile(t, filepath.Join(svc.Dir(), "user", "demo.yaml"), `mcpServers:
  - id: broken
    env:
      KEY: value
`)

	merged, warnings, err := svc.Resolve("demo")
	if err != nil {
		t.Fatal(err)
	}
	if len(warnings) != 1 || !strings.Contains(warnings[0], "broken") {
		t.Errorf("warnings = %v, want the broken server reported", warnings)
	}
	for _, srv := range merged.McpServers {
		if srv.Id == "broken" {
			t.Error("server with neither command nor url survived the merge")
		}
	}
}

func TestServiceResolveCopiesHostEnv(t *testing.T) {
	svc := newTestService(t)
	svc.lookupEnv = func(k string) (string, bool) {
		if k == "HOME" {
			return "/home/dev", true
		}
		return "", false
	}

	merged, _, err := svc.Resolve("demo")
	if err != nil {
		t.Fatal(err)
	}
	env := merged.McpServers[0].Env
	if env["HOME"] != "/home/dev" {
		t.Errorf("HOME = %q, want the host copy", env["HOME"])
	}
	if env["GITHUB_TOKEN"] != "ghp_secret" {
		t.Errorf("GITHUB_TOKEN = %q, configured values win over the host", env["GITHUB_TOKEN"])
	}
}

func TestServiceCodayFreshInstall(t *testing.T) {
	svc := NewService(t.TempDir(), discardLogger())
	doc, err := svc.Coday()
	if err != nil {
		t.Fatalf("Coday() on a fresh install failed: %v", err)
	}
	if len(doc.Projects) != 0 {
		t.Errorf("projects = %+v, want none", doc.Projects)
	}
}

func TestServiceLevelPath(t *testing.T) {
	svc := newTestService(t)

	coday, err := svc.LevelPath(LevelCoday, "")
	if err != nil || coday != svc.CodayPath() {
		t.Errorf("coday path = %q, %v", coday, err)
	}

	project, err := svc.LevelPath(LevelProject, "demo")
	if err != nil {
		t.Fatal(err)
	}
	if filepath.Base(project) != FileName {
		t.Errorf("project path = %q", project)
	}

	user, err := svc.LevelPath(LevelUser, "demo")
	if err != nil || user != svc.UserPath("demo") {
		t.Errorf("user path = %q, %v", user, err)
	}

	if _, err := svc.LevelPath(LevelProject, "nope"); err == nil {
		t.Error("LevelPath resolved an undeclared project")
	}
}

func TestServiceShowRaw(t *testing.T) {
	svc := newTestService(t)

	masked, err := svc.ShowRaw(LevelUser, "demo", true)
	if err != nil {
		t.Fatal(err)
	}
	provider := masked["aiProviders"].([]any)[0].(map[string]any)
	if provider["apiKey"] != "user****alue" {
		t.Errorf("masked apiKey = %v", provider["apiKey"])
	}
	env := masked["mcpServers"].([]any)[0].(map[string]any)["env"].(map[string]any)
	if env["GITHUB_TOKEN"] != "gh****et" {
		t.Errorf("masked env = %v", env["GITHUB_TOKEN"])
	}

	plain, err := svc.ShowRaw(LevelUser, "demo", false)
	if err != nil {
		t.Fatal(err)
	}
	provider = plain["aiProviders"].([]any)[0].(map[string]any)
	if provider["apiKey"] != "user-key-value" {
		t.Errorf("plain apiKey = %v", provider["apiKey"])
	}
}

func TestServiceShowRawMissingLevel(t *testing.T) {
	svc := newTestService(t)
	raw, err := svc.ShowRaw(LevelUser, "other", true)
	if err != nil {
		t.Fatalf("missing level file should show as empty, got %v", err)
	}
	if len(raw) != 0 {
		t.Errorf("raw = %v, want empty", raw)
	}
}

func TestServiceApplyEdit(t *testing.T) {
	svc := newTestService(t)

	masked, err := svc.ShowRaw(LevelUser, "demo", true)
	if err != nil {
		t.Fatal(err)
	}
	provider := masked["aiProviders"].([]any)[0].(map[string]any)
	provider["apiKey"] = "rotated-key-value"

	if err := svc.ApplyEdit(LevelUser, "demo", masked); err != nil {
		t.Fatal(err)
	}

	raw, err := LoadRaw(svc.UserPath("demo"))
	if err != nil {
		t.Fatal(err)
	}
	savedProvider := raw["aiProviders"].([]any)[0].(map[string]any)
	if savedProvider["apiKey"] != "rotated-key-value" {
		t.Errorf("apiKey = %v, want the rotation saved", savedProvider["apiKey"])
	}
	env := raw["mcpServers"].([]any)[0].(map[string]any)["env"].(map[string]any)
	if env["GITHUB_TOKEN"] != "ghp_secret" {
		t.Errorf("env = %v, want the untouched masked value restored", env["GITHUB_TOKEN"])
	}
}

func TestServiceApplyEditCodayReadOnly(t *testing.T) {
	svc := newTestService(t)
	err := svc.ApplyEdit(LevelCoday, "", map[string]any{})
	if err == nil || !strings.Contains(err.Error(), "read-only") {
		t.Errorf("err = %v, want the coday level rejected", err)
	}
}
