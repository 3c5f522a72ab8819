package zipkit

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// FilterFunc decides whether an entry is extracted. It receives the entry's
// relative path without the trailing slash directories carry in the archive
// namespace. Returning false skips the entry; it does not abort extraction.
type FilterFunc func(relpath string) bool

// DirCreator creates the directory (including parents) for one directory entry.
type DirCreator func(relpath string) error

// WriterFactory returns the byte sink receiving the decompressed content of
// one file entry. The sink is closed by the extraction loop.
type WriterFactory func(relpath string) (io.WriteCloser, error)

// UnzipOptions customises Unzip and UnzipWithWriters.
type UnzipOptions struct {
	// Filter decides which entries are extracted; nil extracts everything.
	Filter FilterFunc

	// LogSkipped logs entries the filter rejected.
	LogSkipped bool

	// BufferSize is the length of the buffer used while decompressing.
	//
	// Default to DefaultBufferSize.
	BufferSize int
}

// Unzip extracts the named archive into destDir, creating directories as
// needed and overwriting existing files.
//
// On failure, files extracted before the failure are left in place.
func Unzip(ctx context.Context, src, destDir string, optFns ...func(*UnzipOptions)) error {
	zr, err := zip.OpenReader(src)
	if err != nil {
		return fmt.Errorf("open archive (path=%s) error: %w", src, err)
	}
	defer zr.Close()

	return UnzipWithWriters(ctx, &zr.Reader,
		func(relpath string) (io.WriteCloser, error) {
			name := filepath.Join(destDir, filepath.FromSlash(relpath))
			if err := os.MkdirAll(filepath.Dir(name), 0o755); err != nil {
				return nil, err
			}
			return os.Create(name)
		},
		func(relpath string) error {
			return os.MkdirAll(filepath.Join(destDir, filepath.FromSlash(relpath)), 0o755)
		},
		optFns...)
}

// UnzipWithWriters iterates the archive's entries in archive order, routing
// directory entries to mkdir and file entries to sinks obtained from
// newWriter, decompressing in bounded chunks with no byte-count cap.
//
// Any entry with an unsafe path (absolute, backslashes, or a ".." segment)
// aborts the whole extraction with ErrUnsafePath before anything is written
// for that entry; this check precedes the filter and is not optional. Any
// other failure likewise aborts; already-written files are not cleaned up.
func UnzipWithWriters(ctx context.Context, zr *zip.Reader, newWriter WriterFactory, mkdir DirCreator, optFns ...func(*UnzipOptions)) error {
	opts := &UnzipOptions{
		BufferSize: DefaultBufferSize,
	}
	for _, fn := range optFns {
		fn(opts)
	}

	buf := make([]byte, opts.BufferSize)

	for _, f := range zr.File {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if isUnsafePath(f.Name) {
			return fmt.Errorf("entry (name=%s): %w", f.Name, ErrUnsafePath)
		}

		relpath := strings.TrimSuffix(f.Name, "/")
		if opts.Filter != nil && !opts.Filter(relpath) {
			if opts.LogSkipped {
				log.Printf(`skipped "%s"`, f.Name)
			}
			continue
		}

		if strings.HasSuffix(f.Name, "/") || f.FileInfo().IsDir() {
			if err := mkdir(relpath); err != nil {
				return fmt.Errorf("create directory (path=%s) error: %w", relpath, err)
			}
			continue
		}

		w, err := newWriter(relpath)
		if err != nil {
			return fmt.Errorf("create writer (path=%s) error: %w", relpath, err)
		}

		r, err := f.Open()
		if err != nil {
			_ = w.Close()
			return fmt.Errorf("open entry (name=%s) error: %w", f.Name, err)
		}

		// The declared uncompressed size is untrusted metadata; the copy is
		// bounded per chunk, not per entry.
		_, err = CopyBufferWithContext(ctx, w, r, buf)
		cerr := w.Close()
		_ = r.Close()
		if err != nil {
			return fmt.Errorf("extract entry (name=%s) error: %w", f.Name, err)
		}
		if cerr != nil {
			return fmt.Errorf("close writer (path=%s) error: %w", relpath, cerr)
		}
	}

	return nil
}

// isUnsafePath reports whether honouring the entry name literally could
// write outside the destination directory.
func isUnsafePath(name string) bool {
	p := strings.TrimSuffix(name, "/")
	if p == "" || strings.Contains(p, `\`) {
		return true
	}
	if path.IsAbs(p) || (len(p) >= 2 && p[1] == ':') {
		return true
	}

	for _, seg := range strings.Split(p, "/") {
		if seg == ".." {
			return true
		}
	}

	return false
}
