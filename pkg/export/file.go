package export

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// WithSuffix appends the format's extension to path unless it is already
// there.
func WithSuffix(path string, f Format) string {
	suffix := "." + f.Suffix()
	if strings.HasSuffix(path, suffix) {
		return path
	}
	return path + suffix
}

// WriteFile renders c and stores it at path. Nothing is written at path
// unless rendering succeeds and the file can be completed.
func WriteFile(path string, c Capture, opts Options) (Result, error) {
	var buf bytes.Buffer
	res, err := Render(&buf, c, opts)
	if err != nil {
		return res, err
	}

	dir, base := filepath.Split(path)
	if dir == "" {
		dir = "."
	}
	tmp, err := os.CreateTemp(dir, "."+base+".*")
	if err != nil {
		return res, fmt.Errorf("%w: %s: %w", ErrDestination, path, err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(buf.Bytes()); err != nil {
		tmp.Close()
		return res, fmt.Errorf("%w: %s: %w", ErrDestination, path, err)
	}
	if err := tmp.Close(); err != nil {
		return res, fmt.Errorf("%w: %s: %w", ErrDestination, path, err)
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return res, fmt.Errorf("%w: %s: %w", ErrDestination, path, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return res, fmt.Errorf("%w: %s: %w", ErrDestination, path, err)
	}
	return res, nil
}
