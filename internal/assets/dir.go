package assets

import (
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/spf13/afero"
)

// DirSource serves resources from a read-only directory tree.
type DirSource struct {
	fs      afero.Fs
	name    string
	maxSize int64
}

// NewDirSource creates a source rooted at dir on the OS filesystem.
// Paths are confined to dir.
func NewDirSource(dir string, maxSize int64) *DirSource {
	base := afero.NewBasePathFs(afero.NewOsFs(), dir)
	return NewFsSource(dir, afero.NewReadOnlyFs(base), maxSize)
}

// NewFsSource creates a source over an arbitrary afero filesystem.
func NewFsSource(name string, fsys afero.Fs, maxSize int64) *DirSource {
	if maxSize <= 0 {
		maxSize = DefaultMaxFileSize
	}
	return &DirSource{
		fs:      fsys,
		name:    name,
		maxSize: maxSize,
	}
}

// Name returns the directory the source was created with.
func (s *DirSource) Name() string {
	return s.name
}

// cleanPath turns a guest path into a rooted, normalized path. Leading
// slashes and ".." segments cannot climb above the root.
func cleanPath(p string) (string, error) {
	if p == "" {
		return "", &InvalidPathError{Path: p, Reason: "empty path"}
	}
	if strings.ContainsRune(p, 0) {
		return "", &InvalidPathError{Path: p, Reason: "contains NUL byte"}
	}
	if strings.Contains(p, "://") {
		return "", &InvalidPathError{Path: p, Reason: ErrURLPath.Error(), Err: ErrURLPath}
	}
	return path.Clean("/" + p), nil
}

// Load reads the whole file at path.
func (s *DirSource) Load(ctx context.Context, p string) ([]byte, error) {
	name, err := cleanPath(p)
	if err != nil {
		return nil, err
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	info, err := s.fs.Stat(name)
	if err != nil {
		return nil, err
	}

	if info.IsDir() {
		return nil, &InvalidPathError{Path: p, Reason: "is a directory"}
	}

	if info.Size() > s.maxSize {
		return nil, &TooLargeError{Path: p, Size: info.Size(), Limit: s.maxSize}
	}

	data, err := afero.ReadFile(s.fs, name)
	if err != nil {
		return nil, fmt.Errorf("failed to read '%s': %w", p, err)
	}

	return data, nil
}
