package bundle

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// FileFetcher reads bundles from the local filesystem.
// When roots are configured, only files beneath one of them can be read.
type FileFetcher struct {
	roots    []string
	maxBytes int64
}

// NewFileFetcher creates a file fetcher restricted to roots (none means unrestricted)
func NewFileFetcher(roots ...string) (*FileFetcher, error) {
	f := &FileFetcher{maxBytes: DefaultMaxBytes}
	for _, root := range roots {
		abs, err := filepath.Abs(root)
		if err != nil {
			return nil, fmt.Errorf("invalid bundle root %s: %w", root, err)
		}
		f.roots = append(f.roots, abs)
	}
	return f, nil
}

// WithMaxBytes sets the size cap
func (f *FileFetcher) WithMaxBytes(n int64) *FileFetcher {
	if n > 0 {
		f.maxBytes = n
	}
	return f
}

// Fetch implements Fetcher. location is a path or a file:// URL.
func (f *FileFetcher) Fetch(ctx context.Context, location string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	file, err := f.open(location)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat bundle: %w", err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("bundle location %s is a directory", location)
	}
	if info.Size() > f.maxBytes {
		return nil, fmt.Errorf("%w: %d bytes", ErrTooLarge, info.Size())
	}

	return readLimited(file, f.maxBytes)
}

// open opens location. With roots configured the file is opened through an os.Root,
// so symlinks and ".." cannot lead outside the root.
func (f *FileFetcher) open(location string) (*os.File, error) {
	path := strings.TrimPrefix(location, "file://")
	if path == "" {
		return nil, fmt.Errorf("bundle location is empty")
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("invalid bundle path: %w", err)
	}
	if len(f.roots) == 0 {
		file, err := os.Open(absPath)
		if err != nil {
			return nil, fmt.Errorf("failed to open bundle: %w", err)
		}
		return file, nil
	}

	for _, root := range f.roots {
		rel, err := filepath.Rel(root, absPath)
		if err != nil || !filepath.IsLocal(rel) {
			continue
		}
		return openInRoot(root, rel)
	}
	return nil, fmt.Errorf("bundle path %s is outside the allowed roots", location)
}

func openInRoot(dir, rel string) (*os.File, error) {
	root, err := os.OpenRoot(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to open bundle root: %w", err)
	}
	defer root.Close()

	file, err := root.Open(rel)
	if err != nil {
		return nil, fmt.Errorf("failed to open bundle: %w", err)
	}
	return file, nil
}
