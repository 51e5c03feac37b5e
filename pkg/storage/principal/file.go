package principal

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/cagekeep/broker/pkg/api"
	"github.com/cagekeep/broker/pkg/storage"
)

// FileStore is a Store backed by a single JSON file, rewritten atomically
// (temp file + rename) on every mutation. Suited to single-node
// deployments where a PostgreSQL instance would be overkill.
type FileStore struct {
	mu       sync.RWMutex
	path     string
	profiles map[string]*api.PrincipalProfile
}

// Ensure FileStore implements Store at compile time.
var _ Store = (*FileStore)(nil)

// NewFileStore loads (or initializes) a FileStore at path.
func NewFileStore(path string) (*FileStore, error) {
	fs := &FileStore{
		path:     path,
		profiles: make(map[string]*api.PrincipalProfile),
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return fs, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	if len(data) == 0 {
		return fs, nil
	}

	var profiles []*api.PrincipalProfile
	if err := json.Unmarshal(data, &profiles); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	for _, p := range profiles {
		fs.profiles[p.PrincipalID] = p
	}

	return fs, nil
}

// Get returns the profile for principalID.
func (fs *FileStore) Get(_ context.Context, principalID string) (*api.PrincipalProfile, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	p, ok := fs.profiles[principalID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return p, nil
}

// Upsert creates or replaces the profile for profile.PrincipalID and
// rewrites the backing file.
func (fs *FileStore) Upsert(_ context.Context, profile *api.PrincipalProfile) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	fs.profiles[profile.PrincipalID] = profile
	return fs.writeLocked()
}

// Delete removes the profile for principalID and rewrites the backing file.
func (fs *FileStore) Delete(_ context.Context, principalID string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if _, ok := fs.profiles[principalID]; !ok {
		return storage.ErrNotFound
	}
	delete(fs.profiles, principalID)
	return fs.writeLocked()
}

// List returns every stored profile.
func (fs *FileStore) List(_ context.Context) ([]*api.PrincipalProfile, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	out := make([]*api.PrincipalProfile, 0, len(fs.profiles))
	for _, p := range fs.profiles {
		out = append(out, p)
	}
	return out, nil
}

// HealthCheck always succeeds for the file store; the file is only touched
// on mutation, so there is no persistent connection to probe.
func (fs *FileStore) HealthCheck(_ context.Context) error {
	return nil
}

// Close is a no-op for the file store.
func (fs *FileStore) Close() error {
	return nil
}

// writeLocked serializes the current profile set to disk via a
// temp-file-then-rename, so a crash mid-write never corrupts the file.
// Callers must hold fs.mu.
func (fs *FileStore) writeLocked() error {
	profiles := make([]*api.PrincipalProfile, 0, len(fs.profiles))
	for _, p := range fs.profiles {
		profiles = append(profiles, p)
	}

	data, err := json.MarshalIndent(profiles, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling profiles: %w", err)
	}

	dir := filepath.Dir(fs.path)
	tmp, err := os.CreateTemp(dir, ".principals-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("closing temp file: %w", err)
	}

	if err := os.Rename(tmpPath, fs.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("renaming temp file: %w", err)
	}

	return nil
}
