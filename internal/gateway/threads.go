package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/coday-ai/coday/internal/config"
	"github.com/coday-ai/coday/internal/observability"
	"github.com/coday-ai/coday/internal/thread"
	"github.com/coday-ai/coday/pkg/events"
)

// errUnknownProject marks a project name not declared at the CODAY
// level.
var errUnknownProject = errors.New("unknown project")

// repoSet lazily opens one thread repository per project. The file
// backend stores under the project root; a relative sqlite DSN resolves
// the same way, so each project gets its own database.
type repoSet struct {
	cfg     *config.Service
	storage config.Storage
	logger  *slog.Logger
	metrics *observability.Metrics

	mu    sync.Mutex
	repos map[string]thread.Repository
}

func newRepoSet(cfg *config.Service, storage config.Storage, logger *slog.Logger, metrics *observability.Metrics) *repoSet {
	return &repoSet{
		cfg:     cfg,
		storage: storage,
		logger:  logger,
		metrics: metrics,
		repos:   make(map[string]thread.Repository),
	}
}

// forProject returns the repository for a declared project, opening it
// on first use. The project list is read fresh so config edits show up
// without a restart.
func (rs *repoSet) forProject(name string) (thread.Repository, config.Project, error) {
	doc, err := rs.cfg.Coday()
	if err != nil {
		return nil, config.Project{}, err
	}
	project, ok := config.FindProject(doc.Projects, name)
	if !ok {
		return nil, config.Project{}, fmt.Errorf("%w: %q", errUnknownProject, name)
	}

	rs.mu.Lock()
	defer rs.mu.Unlock()
	if repo, ok := rs.repos[name]; ok {
		return repo, project, nil
	}
	repo, err := rs.open(project)
	if err != nil {
		return nil, config.Project{}, err
	}
	rs.repos[name] = repo
	return repo, project, nil
}

func (rs *repoSet) open(project config.Project) (thread.Repository, error) {
	repo, err := OpenRepository(rs.storage, project, rs.logger)
	if err != nil {
		return nil, err
	}
	return &meteredRepo{repo: repo, metrics: rs.metrics}, nil
}

// meteredRepo times repository operations for the store metrics. It
// wraps whatever backend the storage config selected; the CLI path uses
// OpenRepository directly and stays unmetered.
type meteredRepo struct {
	repo    thread.Repository
	metrics *observability.Metrics
}

// storeOK treats a not-found result as a served query, not a failure.
func storeOK(err error) bool {
	return err == nil || errors.Is(err, thread.ErrNotFound)
}

func (mr *meteredRepo) GetByID(ctx context.Context, id string) (*thread.Thread, error) {
	start := time.Now()
	t, err := mr.repo.GetByID(ctx, id)
	mr.metrics.RecordStoreQuery("load", time.Since(start), storeOK(err))
	return t, err
}

func (mr *meteredRepo) Save(ctx context.Context, t *thread.Thread) error {
	start := time.Now()
	err := mr.repo.Save(ctx, t)
	mr.metrics.RecordStoreQuery("save", time.Since(start), err == nil)
	return err
}

func (mr *meteredRepo) List(ctx context.Context) ([]thread.Summary, error) {
	start := time.Now()
	summaries, err := mr.repo.List(ctx)
	mr.metrics.RecordStoreQuery("list", time.Since(start), err == nil)
	return summaries, err
}

func (mr *meteredRepo) Delete(ctx context.Context, id string) error {
	start := time.Now()
	err := mr.repo.Delete(ctx, id)
	mr.metrics.RecordStoreQuery("delete", time.Since(start), storeOK(err))
	return err
}

// Close forwards to the backend so repoSet.Close still reaches the
// sqlite connection pool through the wrapper.
func (mr *meteredRepo) Close() error {
	if closer, ok := mr.repo.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}

// OpenRepository builds the thread repository a storage config selects
// for one project. Relative locations resolve under the project root,
// so every project keeps its own store. The CLI opens repositories the
// same way the gateway does.
func OpenRepository(storage config.Storage, project config.Project, logger *slog.Logger) (thread.Repository, error) {
	switch storage.Backend {
	case "", "file":
		dir := storage.Dir
		if dir == "" {
			dir = filepath.Join(".coday", "threads")
		}
		if !filepath.IsAbs(dir) {
			dir = filepath.Join(project.Root, dir)
		}
		return thread.NewFileRepository(dir, logger), nil
	case "sqlite":
		dsn := storage.DSN
		if dsn == "" {
			dsn = filepath.Join(".coday", "threads.db")
		}
		// URI and in-memory DSNs pass through untouched.
		if dsn != ":memory:" && !strings.HasPrefix(dsn, "file:") {
			if !filepath.IsAbs(dsn) {
				dsn = filepath.Join(project.Root, dsn)
			}
			if err := os.MkdirAll(filepath.Dir(dsn), 0o755); err != nil {
				return nil, fmt.Errorf("create storage directory: %w", err)
			}
		}
		return thread.NewSQLiteRepository(dsn, logger)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", storage.Backend)
	}
}

// Close releases repositories holding resources, such as the sqlite
// backend's connection pool.
func (rs *repoSet) Close() {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	for name, repo := range rs.repos {
		if closer, ok := repo.(io.Closer); ok {
			if err := closer.Close(); err != nil {
				rs.logger.Warn("closing repository failed", "project", name, "error", err)
			}
		}
	}
	rs.repos = make(map[string]thread.Repository)
}

// threadDetails is the REST projection of one thread.
type threadDetails struct {
	ID           string         `json:"id"`
	Name         string         `json:"name"`
	Summary      string         `json:"summary,omitempty"`
	CreatedDate  time.Time      `json:"createdDate"`
	ModifiedDate time.Time      `json:"modifiedDate"`
	Price        float64        `json:"price"`
	MessageCount int            `json:"messageCount"`
	Messages     []events.Event `json:"messages,omitempty"`
}

func detailsOf(t *thread.Thread, withMessages bool) threadDetails {
	d := threadDetails{
		ID:           t.ID(),
		Name:         t.Name(),
		Summary:      t.Summary(),
		CreatedDate:  t.CreatedDate(),
		ModifiedDate: t.ModifiedDate(),
		Price:        t.Price(),
		MessageCount: t.MessageCount(),
	}
	if withMessages {
		d.Messages = t.Messages()
	}
	return d
}

// handleThreads routes /api/projects/{project}/threads[/{id}].
func (s *Server) handleThreads(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/projects/")
	parts := strings.Split(strings.Trim(rest, "/"), "/")
	if len(parts) < 2 || len(parts) > 3 || parts[0] == "" || parts[1] != "threads" {
		s.jsonError(w, "Not found", http.StatusNotFound)
		return
	}
	projectName := parts[0]
	threadID := ""
	if len(parts) == 3 {
		threadID = parts[2]
	}

	repo, _, err := s.repos.forProject(projectName)
	if err != nil {
		if errors.Is(err, errUnknownProject) {
			s.jsonError(w, "Unknown project", http.StatusNotFound)
			return
		}
		s.logger.Error("project repository unavailable", "project", projectName, "error", err)
		s.jsonError(w, "Failed to open project", http.StatusInternalServerError)
		return
	}

	switch {
	case threadID == "" && r.Method == http.MethodGet:
		s.listThreads(w, r, repo)
	case threadID == "" && r.Method == http.MethodPost:
		s.createThread(w, r, repo)
	case threadID == "":
		s.jsonError(w, "Method not allowed", http.StatusMethodNotAllowed)
	case r.Method == http.MethodGet:
		s.getThread(w, r, repo, threadID)
	case r.Method == http.MethodPut:
		s.renameThread(w, r, repo, threadID)
	case r.Method == http.MethodDelete:
		s.deleteThread(w, r, repo, threadID)
	default:
		s.jsonError(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) listThreads(w http.ResponseWriter, r *http.Request, repo thread.Repository) {
	summaries, err := repo.List(r.Context())
	if err != nil {
		s.logger.Error("thread list failed", "error", err)
		s.jsonError(w, "Failed to list threads", http.StatusInternalServerError)
		return
	}
	if summaries == nil {
		summaries = []thread.Summary{}
	}
	s.jsonResponse(w, map[string]any{"threads": summaries})
}

type createThreadRequest struct {
	Name string `json:"name"`
}

func (s *Server) createThread(w http.ResponseWriter, r *http.Request, repo thread.Repository) {
	var req createThreadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		s.jsonError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	t := thread.New(req.Name)
	if err := repo.Save(r.Context(), t); err != nil {
		s.logger.Error("thread create failed", "error", err)
		s.jsonError(w, "Failed to create thread", http.StatusInternalServerError)
		return
	}
	s.jsonResponse(w, map[string]any{"success": true, "thread": detailsOf(t, false)})
}

func (s *Server) getThread(w http.ResponseWriter, r *http.Request, repo thread.Repository, id string) {
	t, err := repo.GetByID(r.Context(), id)
	if errors.Is(err, thread.ErrNotFound) {
		s.jsonError(w, "Thread not found", http.StatusNotFound)
		return
	}
	if err != nil {
		s.logger.Error("thread load failed", "thread_id", id, "error", err)
		s.jsonError(w, "Failed to load thread", http.StatusInternalServerError)
		return
	}
	s.jsonResponse(w, detailsOf(t, true))
}

type renameThreadRequest struct {
	Name string `json:"name"`
}

func (s *Server) renameThread(w http.ResponseWriter, r *http.Request, repo thread.Repository, id string) {
	var req renameThreadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.jsonError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		s.jsonError(w, "Name is required", http.StatusBadRequest)
		return
	}

	t, err := repo.GetByID(r.Context(), id)
	if errors.Is(err, thread.ErrNotFound) {
		s.jsonError(w, "Thread not found", http.StatusNotFound)
		return
	}
	if err != nil {
		s.logger.Error("thread load failed", "thread_id", id, "error", err)
		s.jsonError(w, "Failed to load thread", http.StatusInternalServerError)
		return
	}

	t.Rename(req.Name)
	if err := repo.Save(r.Context(), t); err != nil {
		s.logger.Error("thread rename failed", "thread_id", id, "error", err)
		s.jsonError(w, "Failed to save thread", http.StatusInternalServerError)
		return
	}
	s.jsonResponse(w, map[string]any{"success": true, "thread": detailsOf(t, false)})
}

func (s *Server) deleteThread(w http.ResponseWriter, r *http.Request, repo thread.Repository, id string) {
	err := repo.Delete(r.Context(), id)
	if errors.Is(err, thread.ErrNotFound) {
		s.jsonError(w, "Thread not found", http.StatusNotFound)
		return
	}
	if err != nil {
		s.logger.Error("thread delete failed", "thread_id", id, "error", err)
		s.jsonError(w, "Failed to delete thread", http.StatusInternalServerError)
		return
	}
	s.jsonResponse(w, map[string]any{"success": true, "message": "Thread deleted"})
}
