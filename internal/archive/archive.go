// Package archive keeps the source PDF of each contract so it can be
// reprocessed later without the caller supplying the file again.
package archive

import (
	"context"
	"path"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/contract-payments/internal/config"
)

// ErrNotFound is returned by Get when no object exists under the key.
var ErrNotFound = eris.New("archive: object not found")

// Archive stores opaque documents by key.
type Archive interface {
	Put(ctx context.Context, key string, data []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
	Remove(ctx context.Context, key string) error
	// Enabled reports whether Put actually keeps anything.
	Enabled() bool
}

// New builds the archive selected by cfg.Driver.
func New(ctx context.Context, cfg config.ArchiveConfig) (Archive, error) {
	switch cfg.Driver {
	case "", "none":
		return Nop{}, nil
	case "local":
		return NewLocal(cfg.LocalDir)
	case "minio":
		return NewMinio(ctx, cfg.Minio)
	default:
		return nil, eris.Errorf("archive: unknown driver %q", cfg.Driver)
	}
}

// Key returns the object key for a contract's source file.
func Key(contractID, fileName string) string {
	base := filepath.Base(strings.ReplaceAll(fileName, `\`, "/"))
	if base == "." || base == "/" || base == "" {
		base = "contract.pdf"
	}
	return path.Join("contracts", contractID, base)
}

// cleanKey rejects keys that would escape the archive root.
func cleanKey(key string) (string, error) {
	k := path.Clean("/" + strings.ReplaceAll(key, `\`, "/"))
	k = strings.TrimPrefix(k, "/")
	if k == "" || k == "." {
		return "", eris.New("archive: empty key")
	}
	if k != strings.TrimPrefix(strings.ReplaceAll(key, `\`, "/"), "/") {
		return "", eris.Errorf("archive: invalid key %q", key)
	}
	return k, nil
}

// Nop discards everything. It backs the "none" driver.
type Nop struct{}

func (Nop) Put(context.Context, string, []byte) error { return nil }

func (Nop) Get(_ context.Context, key string) ([]byte, error) {
	return nil, eris.Wrap(ErrNotFound, key)
}

func (Nop) Remove(context.Context, string) error { return nil }

func (Nop) Enabled() bool { return false }
