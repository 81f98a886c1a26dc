package enrich

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/agentstation/banrelay/pkg/constants"
	"github.com/agentstation/banrelay/pkg/errors"
)

// Store persists cache generations across restarts.
type Store[V any] interface {
	// Load returns the last saved snapshot, or an error satisfying
	// errors.IsNotFound when nothing was saved yet.
	Load(ctx context.Context) (Snapshot[V], error)
	// Save replaces the saved snapshot. Readers see either the old or the
	// new snapshot, never a mix.
	Save(ctx context.Context, snap Snapshot[V]) error
}

// FileStore keeps a snapshot in a single JSON file.
type FileStore[V any] struct {
	path string
}

// NewFileStore returns a store writing to path.
func NewFileStore[V any](path string) *FileStore[V] {
	return &FileStore[V]{path: path}
}

// Path returns the file the store writes.
func (s *FileStore[V]) Path() string {
	return s.path
}

// Load reads the snapshot file.
func (s *FileStore[V]) Load(_ context.Context) (Snapshot[V], error) {
	var snap Snapshot[V]

	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return snap, errors.NewNotFoundError("cache snapshot", s.path)
		}
		return snap, errors.WrapIO("read", s.path, err)
	}
	if err := json.Unmarshal(data, &snap); err != nil {
		return snap, errors.WrapParse("json", s.path, err)
	}
	return snap, nil
}

// Save writes the snapshot to a temporary file in the same directory, syncs
// it and renames it over the previous file.
func (s *FileStore[V]) Save(_ context.Context, snap Snapshot[V]) error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, constants.DirPermissions); err != nil {
		return errors.WrapIO("create", dir, err)
	}

	data, err := json.Marshal(snap)
	if err != nil {
		return errors.WrapParse("json", s.path, err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return errors.WrapIO("create", dir, err)
	}
	tmpName := tmp.Name()
	cleanup := func() {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
	}

	if _, err := tmp.Write(data); err != nil {
		cleanup()
		return errors.WrapIO("write", tmpName, err)
	}
	if err := tmp.Sync(); err != nil {
		cleanup()
		return errors.WrapIO("sync", tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return errors.WrapIO("close", tmpName, err)
	}
	if err := os.Chmod(tmpName, constants.FilePermissions); err != nil {
		_ = os.Remove(tmpName)
		return errors.WrapIO("chmod", tmpName, err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		_ = os.Remove(tmpName)
		return errors.WrapIO("rename", s.path, err)
	}
	return nil
}
