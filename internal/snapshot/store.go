// Package snapshot keeps an index of captures made through the HTTP API: the
// captured file lives in the store directory and a JSON sidecar under .index
// records where it came from.
package snapshot

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"sync"
	"time"
)

const indexDir = ".index"

var uuidRe = regexp.MustCompile(`^[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}$`)

// Kinds of capture.
const (
	KindHTML       = "html"
	KindScreenshot = "screenshot"
)

// Meta describes one stored capture.
type Meta struct {
	ID        string    `json:"id"`
	Kind      string    `json:"kind"`
	File      string    `json:"file"`
	TargetID  string    `json:"target_id"`
	URL       string    `json:"url"`
	Title     string    `json:"title,omitempty"`
	Bytes     int64     `json:"bytes"`
	Chars     int       `json:"chars,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// ContentType is the media type of the captured file.
func (m Meta) ContentType() string {
	if m.Kind == KindScreenshot {
		return "image/png"
	}
	return "text/html; charset=utf-8"
}

// ErrNotFound is returned when no capture has the requested id.
type ErrNotFound struct{ ID string }

func (e *ErrNotFound) Error() string { return "capture not found: " + e.ID }

// Store manages captures on disk.
type Store struct {
	dir string
	mu  sync.RWMutex
}

// NewStore creates a Store and ensures its directories exist.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(filepath.Join(dir, indexDir), 0o755); err != nil {
		return nil, fmt.Errorf("snapshot store: mkdir %s: %w", dir, err)
	}
	return &Store{dir: dir}, nil
}

// Dir is the directory captured files are written to.
func (s *Store) Dir() string { return s.dir }

// Path returns where a capture file named file lives.
func (s *Store) Path(file string) string { return filepath.Join(s.dir, file) }

func (s *Store) metaPath(id string) string {
	return filepath.Join(s.dir, indexDir, id+".json")
}

func (s *Store) validateID(id string) error {
	if !uuidRe.MatchString(id) {
		return fmt.Errorf("invalid capture id: %q", id)
	}
	return nil
}

// Record writes the metadata sidecar for a capture whose file is already on
// disk. Recording an existing id replaces its metadata.
func (s *Store) Record(meta Meta) error {
	if err := s.validateID(meta.ID); err != nil {
		return err
	}
	if meta.CreatedAt.IsZero() {
		meta.CreatedAt = time.Now().UTC()
	}

	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("snapshot store: marshal meta: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.WriteFile(s.metaPath(meta.ID), data, 0o644); err != nil {
		return fmt.Errorf("snapshot store: write meta: %w", err)
	}
	return nil
}

// Get reads capture metadata by ID.
func (s *Store) Get(id string) (Meta, error) {
	if s.validateID(id) != nil {
		return Meta{}, &ErrNotFound{ID: id}
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.readMeta(s.metaPath(id), id)
}

func (s *Store) readMeta(path, id string) (Meta, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Meta{}, &ErrNotFound{ID: id}
		}
		return Meta{}, fmt.Errorf("snapshot store: read meta: %w", err)
	}
	var meta Meta
	if err := json.Unmarshal(data, &meta); err != nil {
		return Meta{}, fmt.Errorf("snapshot store: unmarshal meta: %w", err)
	}
	return meta, nil
}

// List returns all captures sorted by creation time (newest first).
func (s *Store) List() ([]Meta, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	matches, err := filepath.Glob(filepath.Join(s.dir, indexDir, "*.json"))
	if err != nil {
		return nil, fmt.Errorf("snapshot store: glob: %w", err)
	}

	metas := make([]Meta, 0, len(matches))
	for _, path := range matches {
		meta, err := s.readMeta(path, "")
		if err != nil {
			slog.Debug("skipping unreadable capture metadata", "path", path, "error", err)
			continue
		}
		metas = append(metas, meta)
	}

	sort.Slice(metas, func(i, j int) bool {
		return metas[i].CreatedAt.After(metas[j].CreatedAt)
	})
	return metas, nil
}

// FindByFile returns the capture indexed under file, if any.
func (s *Store) FindByFile(file string) (Meta, bool, error) {
	metas, err := s.List()
	if err != nil {
		return Meta{}, false, err
	}
	for _, meta := range metas {
		if meta.File == file {
			return meta, true, nil
		}
	}
	return Meta{}, false, nil
}

// ReadContent returns the captured file's bytes with its metadata.
func (s *Store) ReadContent(id string) ([]byte, Meta, error) {
	meta, err := s.Get(id)
	if err != nil {
		return nil, Meta{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	data, err := os.ReadFile(s.Path(meta.File))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, Meta{}, &ErrNotFound{ID: id}
		}
		return nil, Meta{}, fmt.Errorf("snapshot store: read capture: %w", err)
	}
	return data, meta, nil
}

// Delete removes the captured file and its metadata.
func (s *Store) Delete(id string) error {
	meta, err := s.Get(id)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.Remove(s.Path(meta.File)); err != nil {
		slog.Debug("capture file cleanup failed", "id", id, "file", meta.File, "error", err)
	}
	if err := os.Remove(s.metaPath(id)); err != nil {
		return fmt.Errorf("snapshot store: remove meta: %w", err)
	}
	return nil
}
