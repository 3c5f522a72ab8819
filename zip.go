package zipkit

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"
	"time"
)

// Config specifies a whole-archive write for Zip.
type Config struct {
	// Root is the source directory all entry paths are relative to.
	//
	// Ignored when Accessor is set; the accessor then defines its own root.
	Root string

	// Files, when non-empty, is the explicit list of relative paths to
	// archive, bypassing traversal entirely. The list is used verbatim, in
	// order.
	Files []string

	// Dest is the path the archive is created at. Exactly one of Dest and
	// DestWriter must be set.
	Dest string

	// DestWriter is a pre-opened destination the archive is streamed to.
	// The caller keeps ownership and closes it after Zip returns.
	DestWriter io.Writer

	// Accessor supplies listings, file handles and metadata. Default to
	// NewDirAccessor(Root).
	Accessor FileAccessor

	// Filter decides whether a path is included; nil includes everything.
	//
	// The predicate receives root-relative, slash-separated paths (never
	// filesystem-joined ones, so the same predicate works against any
	// accessor). It must be pure: a rejected directory is skipped entirely
	// and never descended into.
	Filter func(relpath string) bool

	// IncludeHidden includes entries whose base name starts with a dot.
	IncludeHidden bool

	// Progress and ProgressPeriod configure the Writer's progress callback.
	Progress       ProgressFunc
	ProgressPeriod time.Duration

	// WriterOptions are applied to the underlying Writer.
	WriterOptions []func(*WriterOptions)
}

// Zip archives a directory tree (or an explicit list of relative paths) into
// a single ZIP archive per the given Config.
//
// On failure the destination is left as-is: a possibly-incomplete archive
// that callers must discard or tolerate. Nothing is retried or rolled back.
func Zip(ctx context.Context, cfg Config) error {
	fa := cfg.Accessor
	if fa == nil {
		fa = NewDirAccessor(cfg.Root)
	}

	paths := cfg.Files
	if len(paths) == 0 {
		var err error
		if paths, err = listTree(ctx, fa, cfg.Filter, cfg.IncludeHidden); err != nil {
			return err
		}
	}

	var w *Writer
	if cfg.DestWriter != nil {
		w = NewWriterFromWriter(cfg.DestWriter, fa, cfg.WriterOptions...)
	} else {
		var err error
		if w, err = NewWriter(cfg.Dest, fa, cfg.WriterOptions...); err != nil {
			return err
		}
	}

	w.SetProgress(cfg.Progress, cfg.ProgressPeriod)

	return w.WriteEntries(ctx, paths...)
}

// ZipDir archives the tree rooted at srcDir into a new archive at dest.
func ZipDir(ctx context.Context, srcDir, dest string, optFns ...func(*Config)) error {
	cfg := Config{Root: srcDir, Dest: dest}
	for _, fn := range optFns {
		fn(&cfg)
	}

	return Zip(ctx, cfg)
}

// listTree enumerates the full entry list with a breadth-first search over
// FileAccessor.List, starting at the accessor root.
//
// Archive order is therefore breadth-first (every directory precedes its
// children, siblings appear in listing order), not lexicographic. The BFS
// queue holds at most one level of accepted directories, which keeps memory
// bounded without recursion.
func listTree(ctx context.Context, fa FileAccessor, filter func(string) bool, includeHidden bool) ([]string, error) {
	exclude := func(p string) bool {
		return (!includeHidden && isHidden(p)) || (filter != nil && !filter(p))
	}

	var all []string
	for q := []string{""}; len(q) > 0; q = q[1:] {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		files, dirs, err := fa.List(ctx, q[0])
		if err != nil {
			return nil, fmt.Errorf("list tree error: %w", err)
		}

		for _, p := range files {
			if !exclude(p) {
				all = append(all, p)
			}
		}

		// An accepted directory is both an entry and a traversal frontier;
		// an excluded one is skipped entirely, children included.
		for _, p := range dirs {
			if !exclude(p) {
				q = append(q, p)
				all = append(all, p)
			}
		}
	}

	return all, nil
}

func isHidden(p string) bool {
	return strings.HasPrefix(path.Base(p), ".")
}
