package thread

import (
	"context"
	"errors"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/coday-ai/coday/pkg/events"
)

func newTestSQLiteRepo(t *testing.T) *SQLiteRepository {
	t.Helper()
	repo, err := NewSQLiteRepository(filepath.Join(t.TempDir(), "threads.db"), nil)
	if err != nil {
		t.Fatalf("open sqlite repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return repo
}

func TestSQLiteRepositoryRoundTrip(t *testing.T) {
	repo := newTestSQLiteRepo(t)
	ctx := context.Background()

	th := New("sqlite round trip")
	th.AddUserMessage("alice", "ping")
	th.AddToolCalls(events.ToolCall{ID: "t1", Name: "shell", Args: `{"cmd":"ls"}`})
	th.AddToolResponses(events.ToolResult{ID: "t1", Output: "a.txt"})
	th.AddPrice(0.12)

	if err := repo.Save(ctx, th); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	loaded, err := repo.GetByID(ctx, th.ID())
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if loaded.Name() != th.Name() || loaded.Price() != 0.12 {
		t.Errorf("identity mismatch: name=%q price=%f", loaded.Name(), loaded.Price())
	}
	if !reflect.DeepEqual(loaded.Messages(), th.Messages()) {
		t.Errorf("messages differ:\n got %+v\nwant %+v", loaded.Messages(), th.Messages())
	}
}

func TestSQLiteRepositorySaveIsUpsert(t *testing.T) {
	repo := newTestSQLiteRepo(t)
	ctx := context.Background()

	th := New("v1")
	if err := repo.Save(ctx, th); err != nil {
		t.Fatalf("first Save failed: %v", err)
	}
	th.Rename("v2")
	th.AddUserMessage("u", "more")
	if err := repo.Save(ctx, th); err != nil {
		t.Fatalf("second Save failed: %v", err)
	}

	summaries, err := repo.List(ctx)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(summaries) != 1 || summaries[0].Name != "v2" {
		t.Errorf("expected one updated row, got %+v", summaries)
	}
}

func TestSQLiteRepositoryListOrder(t *testing.T) {
	repo := newTestSQLiteRepo(t)
	ctx := context.Background()

	older := New("older")
	if err := repo.Save(ctx, older); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	time.Sleep(2 * time.Millisecond)
	newer := New("newer")
	newer.AddUserMessage("u", "bump")
	if err := repo.Save(ctx, newer); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	summaries, err := repo.List(ctx)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(summaries) != 2 || summaries[0].ID != newer.ID() {
		t.Errorf("expected newest first, got %+v", summaries)
	}
}

func TestSQLiteRepositoryDelete(t *testing.T) {
	repo := newTestSQLiteRepo(t)
	ctx := context.Background()

	th := New("to delete")
	if err := repo.Save(ctx, th); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if err := repo.Delete(ctx, th.ID()); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := repo.GetByID(ctx, th.ID()); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}
	if err := repo.Delete(ctx, th.ID()); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound on double delete, got %v", err)
	}
}
