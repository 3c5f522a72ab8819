package zipkit

import (
	"context"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path"
	"path/filepath"
	"time"
)

// Info is the metadata returned by [FileAccessor.GetInfo].
type Info struct {
	IsDir   bool
	ModTime time.Time
}

// FileAccessor supplies directory listings, batched file opening and metadata
// queries to the archive writer, decoupling it from the physical filesystem.
//
// Every path crossing this boundary is relative to a root the accessor itself
// defines, uses forward slashes regardless of host convention, and must be
// rejected with ErrAbsolutePath when absolute. Implementations are called
// sequentially, never concurrently.
type FileAccessor interface {
	// List returns the immediate children of dir, split into regular files
	// and subdirectories. It does not recurse.
	//
	// The returned paths are relative to the accessor root, not to dir.
	List(ctx context.Context, dir string) (files, subdirs []string, err error)

	// Open opens every given path for reading in a single call, returning
	// one slot per path in the same order.
	//
	// A nil slot means the path could not be opened as a regular file,
	// typically because it is a directory. Open deliberately does not
	// distinguish "is a directory" from "failed to open" so that callers
	// resolving paths across an expensive boundary (network, IPC) pay for
	// exactly one round trip per batch; callers disambiguate with GetInfo
	// only for the nil slots. A nil slot is not an error.
	//
	// The caller owns the returned handles and must close the non-nil ones.
	Open(ctx context.Context, paths []string) ([]fs.File, error)

	// GetInfo returns metadata for the given path, failing if the path
	// does not exist.
	GetInfo(ctx context.Context, path string) (Info, error)
}

// DirAccessor is a FileAccessor backed by direct filesystem calls, resolving
// every path against a fixed root directory.
type DirAccessor struct {
	root string
}

var _ FileAccessor = &DirAccessor{}

// NewDirAccessor returns a FileAccessor reading from the given root directory.
func NewDirAccessor(root string) *DirAccessor {
	return &DirAccessor{root: root}
}

func (a *DirAccessor) List(_ context.Context, dir string) (files, subdirs []string, err error) {
	if filepath.IsAbs(dir) {
		return nil, nil, fmt.Errorf("list directory (path=%s) error: %w", dir, ErrAbsolutePath)
	}

	entries, err := os.ReadDir(filepath.Join(a.root, filepath.FromSlash(dir)))
	if err != nil {
		return nil, nil, fmt.Errorf("list directory (path=%s) error: %w", dir, err)
	}

	for _, e := range entries {
		child := path.Join(dir, e.Name())
		if e.IsDir() {
			subdirs = append(subdirs, child)
		} else {
			files = append(files, child)
		}
	}

	return files, subdirs, nil
}

func (a *DirAccessor) Open(_ context.Context, paths []string) ([]fs.File, error) {
	files := make([]fs.File, len(paths))

	for i, p := range paths {
		if filepath.IsAbs(p) {
			closeAll(files)
			return nil, fmt.Errorf("open file (path=%s) error: %w", p, ErrAbsolutePath)
		}

		name := filepath.Join(a.root, filepath.FromSlash(p))
		if fi, err := os.Stat(name); err == nil && fi.IsDir() {
			log.Printf(`cannot open "%s": it is a directory`, p)
			continue
		}

		f, err := os.Open(name)
		if err != nil {
			log.Printf(`cannot open "%s": %v`, p, err)
			continue
		}

		files[i] = f
	}

	return files, nil
}

func (a *DirAccessor) GetInfo(_ context.Context, p string) (Info, error) {
	if filepath.IsAbs(p) {
		return Info{}, fmt.Errorf("describe entry (path=%s) error: %w", p, ErrAbsolutePath)
	}

	fi, err := os.Stat(filepath.Join(a.root, filepath.FromSlash(p)))
	if err != nil {
		return Info{}, fmt.Errorf("describe entry (path=%s) error: %w", p, err)
	}

	return Info{IsDir: fi.IsDir(), ModTime: fi.ModTime()}, nil
}

// closeAll closes every non-nil handle in a batch.
func closeAll(files []fs.File) {
	for _, f := range files {
		if f != nil {
			_ = f.Close()
		}
	}
}
