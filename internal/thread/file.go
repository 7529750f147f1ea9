package thread

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// FileRepository stores one YAML document per thread under a single
// directory. Files are named {sanitized-name}-{id}.yml; saving a
// renamed thread writes a new file and keeps the previous one, which
// preserves the audit trail and tolerates concurrent readers. Lookup
// and delete go by the -{id}.yml suffix.
type FileRepository struct {
	dir    string
	logger *slog.Logger
}

// NewFileRepository creates a repository rooted at dir. The directory
// itself is created lazily on first use.
func NewFileRepository(dir string, logger *slog.Logger) *FileRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &FileRepository{
		dir:    dir,
		logger: logger.With("component", "thread_repository"),
	}
}

const threadExt = ".yml"

// sanitizeName lowercases and collapses non-alphanumeric runs to a
// single dash, trimming leading and trailing dashes. Empty results
// become "untitled".
func sanitizeName(name string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(name) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			dash = false
		case b.Len() > 0 && !dash:
			b.WriteByte('-')
			dash = true
		}
	}
	s := strings.TrimSuffix(b.String(), "-")
	if s == "" {
		return "untitled"
	}
	return s
}

func (r *FileRepository) ensureDir() error {
	if err := os.MkdirAll(r.dir, 0o755); err != nil {
		return storeErr("init directory", err)
	}
	return nil
}

// matchingFiles returns the paths of every file whose name ends in
// -{id}.yml, most recently modified first.
func (r *FileRepository) matchingFiles(id string) ([]string, error) {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		return nil, storeErr("read directory", err)
	}

	suffix := "-" + id + threadExt
	type match struct {
		path string
		mod  int64
	}
	var matches []match
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), suffix) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		matches = append(matches, match{
			path: filepath.Join(r.dir, entry.Name()),
			mod:  info.ModTime().UnixNano(),
		})
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i].mod > matches[j].mod })

	paths := make([]string, len(matches))
	for i, m := range matches {
		paths[i] = m.path
	}
	return paths, nil
}

// GetByID loads a thread by scanning for its -{id}.yml suffix. When a
// rename left several files for the id, the newest wins.
func (r *FileRepository) GetByID(_ context.Context, id string) (*Thread, error) {
	if err := r.ensureDir(); err != nil {
		return nil, err
	}
	paths, err := r.matchingFiles(id)
	if err != nil {
		return nil, err
	}
	if len(paths) == 0 {
		return nil, ErrNotFound
	}

	data, err := os.ReadFile(paths[0])
	if err != nil {
		return nil, storeErr("read thread file", err)
	}
	var doc Doc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, storeErr(fmt.Sprintf("parse %s", filepath.Base(paths[0])), err)
	}
	return FromDoc(doc), nil
}

// Save writes the thread snapshot to {sanitized-name}-{id}.yml via a
// temp file and rename, so listers never observe a half-written file.
func (r *FileRepository) Save(_ context.Context, t *Thread) error {
	if err := r.ensureDir(); err != nil {
		return err
	}

	doc := t.Snapshot()
	data, err := yaml.Marshal(doc)
	if err != nil {
		return storeErr("marshal thread", err)
	}

	tmp, err := os.CreateTemp(r.dir, ".thread-*.tmp")
	if err != nil {
		return storeErr("create temp file", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return storeErr("write thread file", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return storeErr("close thread file", err)
	}

	final := filepath.Join(r.dir, sanitizeName(doc.Name)+"-"+doc.ID+threadExt)
	if err := os.Rename(tmpName, final); err != nil {
		os.Remove(tmpName)
		return storeErr("rename thread file", err)
	}
	return nil
}

// List parses every .yml file in the directory, skipping entries that
// fail to parse: one corrupt file must not hide the rest.
func (r *FileRepository) List(_ context.Context) ([]Summary, error) {
	if err := r.ensureDir(); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		return nil, storeErr("read directory", err)
	}

	// Renames leave older files for the same id behind; keep the most
	// recently modified document per id.
	newest := make(map[string]Summary)
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), threadExt) {
			continue
		}
		path := filepath.Join(r.dir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			r.logger.Debug("skipping unreadable thread file", "file", entry.Name(), "error", err)
			continue
		}
		var doc Doc
		if err := yaml.Unmarshal(data, &doc); err != nil || doc.ID == "" {
			r.logger.Debug("skipping corrupt thread file", "file", entry.Name(), "error", err)
			continue
		}
		if prev, ok := newest[doc.ID]; ok && !doc.ModifiedDate.After(prev.ModifiedDate) {
			continue
		}
		newest[doc.ID] = Summary{
			ID:           doc.ID,
			Name:         doc.Name,
			Summary:      doc.Summary,
			CreatedDate:  doc.CreatedDate,
			ModifiedDate: doc.ModifiedDate,
		}
	}

	summaries := make([]Summary, 0, len(newest))
	for _, s := range newest {
		summaries = append(summaries, s)
	}

	sort.Slice(summaries, func(i, j int) bool {
		return summaries[i].ModifiedDate.After(summaries[j].ModifiedDate)
	})
	return summaries, nil
}

// Delete removes every file carrying the id, including files left
// behind by renames.
func (r *FileRepository) Delete(_ context.Context, id string) error {
	if err := r.ensureDir(); err != nil {
		return err
	}
	paths, err := r.matchingFiles(id)
	if err != nil {
		return err
	}
	if len(paths) == 0 {
		return ErrNotFound
	}
	for _, path := range paths {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return storeErr("delete thread file", err)
		}
	}
	return nil
}
