// Package file persists sync records as JSON files, one per run.
package file

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/aretw0/max/pkg/domain"
	"github.com/aretw0/max/pkg/ports"
)

// Store implements ports.SyncStore using the local filesystem.
// Records live in BasePath/<installation>/<id>.json.
type Store struct {
	BasePath string

	mu sync.RWMutex
}

// New creates a new Store with the given base path.
// If basePath is empty, it defaults to ".max/syncs".
func New(basePath string) *Store {
	if basePath == "" {
		basePath = filepath.Join(".max", "syncs")
	}
	return &Store{BasePath: basePath}
}

func validName(s string) bool {
	return s != "" && s != "." && s != ".." && !strings.ContainsAny(s, `/\`)
}

func (s *Store) path(inst domain.InstallationID, id string) string {
	return filepath.Join(s.BasePath, string(inst), id+".json")
}

// SaveSync persists the record atomically.
// It writes to a temporary file first, syncs via fsync, and then renames it to the destination.
func (s *Store) SaveSync(_ context.Context, rec *domain.SyncRecord) error {
	if rec == nil || !validName(rec.ID) || !validName(string(rec.Installation)) {
		return fmt.Errorf("%w: sync record needs a plain id and installation", domain.ErrInvalidArgs)
	}
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal sync record: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	dir := filepath.Join(s.BasePath, string(rec.Installation))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to ensure sync directory: %w", err)
	}

	// Same directory as the destination so the rename stays on one filesystem.
	tmpFile, err := os.CreateTemp(dir, "tmp-"+rec.ID+"-*.json")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()
	defer func() {
		_ = tmpFile.Close()
		_ = os.Remove(tmpPath)
	}()

	if _, err := tmpFile.Write(data); err != nil {
		return fmt.Errorf("failed to write to temp file: %w", err)
	}
	if err := tmpFile.Sync(); err != nil {
		return fmt.Errorf("failed to fsync temp file: %w", err)
	}
	// Windows cannot rename an open file.
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, s.path(rec.Installation, rec.ID)); err != nil {
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}

// find returns the file holding id, whichever installation it belongs to.
func (s *Store) find(id string) (string, error) {
	if !validName(id) {
		return "", fmt.Errorf("%w: %q", domain.ErrSyncNotFound, id)
	}
	matches, err := filepath.Glob(filepath.Join(s.BasePath, "*", id+".json"))
	if err != nil {
		return "", err
	}
	if len(matches) == 0 {
		return "", fmt.Errorf("%w: %s", domain.ErrSyncNotFound, id)
	}
	return matches[0], nil
}

func readRecord(path string) (*domain.SyncRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read sync file: %w", err)
	}
	var rec domain.SyncRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal %s: %w", filepath.Base(path), err)
	}
	return &rec, nil
}

// LoadSync retrieves a record by id.
func (s *Store) LoadSync(_ context.Context, id string) (*domain.SyncRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	path, err := s.find(id)
	if err != nil {
		return nil, err
	}
	return readRecord(path)
}

// ListSyncs returns the records of inst, newest first.
func (s *Store) ListSyncs(_ context.Context, inst domain.InstallationID) ([]*domain.SyncRecord, error) {
	out := []*domain.SyncRecord{}
	if !validName(string(inst)) {
		return out, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries, err := os.ReadDir(filepath.Join(s.BasePath, string(inst)))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return out, nil
		}
		return nil, fmt.Errorf("failed to list syncs: %w", err)
	}
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || filepath.Ext(name) != ".json" || strings.HasPrefix(name, "tmp-") {
			continue
		}
		rec, err := readRecord(filepath.Join(s.BasePath, string(inst), name))
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	slices.SortFunc(out, func(a, b *domain.SyncRecord) int {
		if c := b.StartedAt.Compare(a.StartedAt); c != 0 {
			return c
		}
		return cmp.Compare(b.ID, a.ID)
	})
	return out, nil
}

// DeleteSync removes the record file. Unknown ids are a no-op.
func (s *Store) DeleteSync(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	path, err := s.find(id)
	if errors.Is(err, domain.ErrSyncNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to delete sync file: %w", err)
	}
	return nil
}

var _ ports.SyncStore = (*Store)(nil)
