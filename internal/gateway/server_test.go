package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

// newTestServer builds a gateway over a one-project config with the
// provider factory swapped for a scripted one. Shutdown runs on cleanup.
func newTestServer(t *testing.T, factory providerFactory, extra string) (*Server, string) {
	t.Helper()
	cfg, root := testConfig(t, extra)
	srv, err := New(cfg, WithLogger(discardLogger()))
	if err != nil {
		t.Fatal(err)
	}
	srv.sessions.deps.providers = factory
	t.Cleanup(func() { _ = srv.Shutdown(context.Background()) })
	return srv, root
}

func errorBody(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("error body: %v", err)
	}
	return body["error"]
}

func TestHealthz(t *testing.T) {
	srv, _ := newTestServer(t, stubFactory(newScriptedProvider()), "")

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("content type = %q, want application/json", ct)
	}
	var body struct {
		Status       string `json:"status"`
		Sessions     int    `json:"sessions"`
		McpInstances int    `json:"mcp_instances"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body.Status != "ok" {
		t.Errorf("status field = %q, want ok", body.Status)
	}
	if body.Sessions != 0 || body.McpInstances != 0 {
		t.Errorf("counters = %d sessions, %d mcp instances, want 0 on a fresh server",
			body.Sessions, body.McpInstances)
	}
}

func TestMetricsRoute(t *testing.T) {
	srv, _ := newTestServer(t, stubFactory(newScriptedProvider()), "")

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if rec.Body.Len() == 0 {
		t.Error("metrics exposition is empty")
	}
}

func TestServerConfigDefaults(t *testing.T) {
	srv, _ := newTestServer(t, stubFactory(newScriptedProvider()), "")

	if srv.host != defaultHost || srv.port != defaultPort {
		t.Errorf("listen address = %s:%d, want %s:%d", srv.host, srv.port, defaultHost, defaultPort)
	}
	if srv.sessions.timeout != defaultSessionTimeout {
		t.Errorf("session timeout = %s, want %s", srv.sessions.timeout, defaultSessionTimeout)
	}
}

func TestServerConfigOverrides(t *testing.T) {
	extra := "server:\n" +
		"  host: 0.0.0.0\n" +
		"  port: 9191\n" +
		"  sessionTimeout: 90m\n"
	srv, _ := newTestServer(t, stubFactory(newScriptedProvider()), extra)

	if srv.host != "0.0.0.0" || srv.port != 9191 {
		t.Errorf("listen address = %s:%d, want 0.0.0.0:9191", srv.host, srv.port)
	}
	if want := 90 * time.Minute; srv.sessions.timeout != want {
		t.Errorf("session timeout = %s, want %s", srv.sessions.timeout, want)
	}
}

func TestStartServesUntilShutdown(t *testing.T) {
	srv, _ := newTestServer(t, stubFactory(newScriptedProvider()), "")
	srv.port = 0

	if err := srv.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	addr := srv.Addr()
	if addr == "" {
		t.Fatal("Addr() empty after Start")
	}

	resp, err := http.Get("http://" + addr + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("healthz over tcp = %d, want 200", resp.StatusCode)
	}

	if err := srv.Shutdown(context.Background()); err != nil {
		t.Fatal(err)
	}
	if srv.Addr() != "" {
		t.Error("Addr() non-empty after Shutdown")
	}
	if _, err := http.Get("http://" + addr + "/healthz"); err == nil {
		t.Error("server still reachable after Shutdown")
	}
}
