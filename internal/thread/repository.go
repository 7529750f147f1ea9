package thread

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned when no thread matches the requested id.
var ErrNotFound = errors.New("thread not found")

// StoreError wraps a storage failure with the operation that caused it.
// Not-found conditions are ErrNotFound, never a StoreError.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("thread store: %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

func storeErr(op string, err error) error {
	return &StoreError{Op: op, Err: err}
}

// Summary is the listing projection of a thread.
type Summary struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Summary      string    `json:"summary"`
	CreatedDate  time.Time `json:"createdDate"`
	ModifiedDate time.Time `json:"modifiedDate"`
}

// Repository stores threads by id. Implementations: FileRepository
// (YAML files, the default) and SQLiteRepository.
type Repository interface {
	// GetByID loads a thread, or ErrNotFound.
	GetByID(ctx context.Context, id string) (*Thread, error)

	// Save persists a snapshot of the thread.
	Save(ctx context.Context, t *Thread) error

	// List returns summaries sorted by modified date, newest first.
	// Entries that fail to parse are skipped.
	List(ctx context.Context) ([]Summary, error)

	// Delete removes a thread, or ErrNotFound.
	Delete(ctx context.Context, id string) error
}
