package archive

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"
)

// Local stores objects as files below a root directory.
type Local struct {
	root string
}

// NewLocal creates the root directory if needed.
func NewLocal(root string) (*Local, error) {
	if root == "" {
		return nil, eris.New("archive: local dir is required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, eris.Wrapf(err, "archive: create %s", root)
	}
	return &Local{root: root}, nil
}

func (l *Local) path(key string) (string, error) {
	k, err := cleanKey(key)
	if err != nil {
		return "", err
	}
	return filepath.Join(l.root, filepath.FromSlash(k)), nil
}

func (l *Local) Put(_ context.Context, key string, data []byte) error {
	p, err := l.path(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return eris.Wrapf(err, "archive: mkdir for %s", key)
	}
	// Write then rename so a reader never sees a partial file.
	tmp := p + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return eris.Wrapf(err, "archive: write %s", key)
	}
	return eris.Wrapf(os.Rename(tmp, p), "archive: rename %s", key)
}

func (l *Local) Get(_ context.Context, key string) ([]byte, error) {
	p, err := l.path(key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, eris.Wrap(ErrNotFound, key)
	}
	return data, eris.Wrapf(err, "archive: read %s", key)
}

func (l *Local) Remove(_ context.Context, key string) error {
	p, err := l.path(key)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return eris.Wrapf(err, "archive: remove %s", key)
	}
	return nil
}

func (l *Local) Enabled() bool { return true }
