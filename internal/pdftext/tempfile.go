package pdftext

import (
	"os"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// WithTempFile writes data to a new file in dir, calls fn with its path and
// removes the file on every return path, including a panic in fn.
func WithTempFile(dir string, data []byte, fn func(path string) error) error {
	f, err := os.CreateTemp(dir, "contract-*.pdf")
	if err != nil {
		return eris.Wrap(err, "pdftext: create temp file")
	}
	path := f.Name()
	defer func() {
		if rmErr := os.Remove(path); rmErr != nil && !os.IsNotExist(rmErr) {
			zap.L().Warn("pdftext: remove temp file", zap.String("path", path), zap.Error(rmErr))
		}
	}()

	if _, err := f.Write(data); err != nil {
		f.Close() //nolint:errcheck
		return eris.Wrap(err, "pdftext: write temp file")
	}
	if err := f.Close(); err != nil {
		return eris.Wrap(err, "pdftext: close temp file")
	}
	return fn(path)
}
