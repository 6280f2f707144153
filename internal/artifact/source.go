// Package artifact fetches serialized classifier artifacts from the
// configured store. Every store hands back raw bytes; decoding belongs to
// the classifier package.
package artifact

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrNotFound is returned when a store has no artifact under the given name
var ErrNotFound = errors.New("artifact not found")

// Source is a store of classifier artifacts
type Source interface {
	// Fetch returns the raw artifact stored under name
	Fetch(ctx context.Context, name string) ([]byte, error)
	// Name identifies the store kind in logs and metrics
	Name() string
}

// FileSource reads artifacts from a local directory
type FileSource struct {
	dir string
}

func NewFileSource(dir string) *FileSource {
	return &FileSource{dir: dir}
}

func (s *FileSource) Name() string { return "file" }

func (s *FileSource) Fetch(ctx context.Context, name string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if name == "" || strings.Contains(name, "..") {
		return nil, fmt.Errorf("invalid artifact name %q", name)
	}

	path := filepath.Join(s.dir, name)
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return nil, fmt.Errorf("failed to read artifact %s: %w", path, err)
	}
	return data, nil
}
