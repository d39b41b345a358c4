// Package disk implements artifact.Store on a local directory. This is the
// persistent tier that survives worker restarts; the ONNX runtime also
// needs its shared library as a real file on disk, which Path serves.
package disk

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/poseworks/posepool/artifact"
)

var _ artifact.Store = (*Store)(nil)

// Store caches artifacts as files named by key under a root directory.
type Store struct {
	root string
}

// New creates a disk store rooted at dir, creating it if needed.
func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("artifact: create cache dir: %w", err)
	}
	return &Store{root: dir}, nil
}

// Get implements artifact.Store.
func (s *Store) Get(_ context.Context, key string) ([]byte, error) {
	data, err := os.ReadFile(s.path(key))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, artifact.ErrNotFound
		}
		return nil, err
	}
	return data, nil
}

// Put implements artifact.Store. The write goes through a temp file and
// rename so concurrent readers never observe a partial artifact.
func (s *Store) Put(_ context.Context, key string, data []byte) error {
	tmp, err := os.CreateTemp(s.root, key+".tmp*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), s.path(key))
}

// Path returns the on-disk location for key if the artifact is cached.
// Used when a consumer needs a real file (dlopen) rather than bytes.
func (s *Store) Path(key string) (string, bool) {
	p := s.path(key)
	if _, err := os.Stat(p); err != nil {
		return "", false
	}
	return p, true
}

func (s *Store) path(key string) string {
	return filepath.Join(s.root, filepath.Base(key))
}
