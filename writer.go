package zipkit

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/klauspost/compress/flate"
	"golang.org/x/time/rate"
)

const (
	// DefaultBufferSize is the default value for [WriterOptions.BufferSize], which is 32 KiB.
	DefaultBufferSize = 32 * 1024

	// maxPendingEntriesCount is the number of pending entries that triggers writing them to the archive.
	//
	// Each batch is resolved with a single FileAccessor.Open call, so the
	// threshold bounds both the number of open handles held at any instant
	// and the per-batch cost of crossing an expensive accessor boundary.
	maxPendingEntriesCount = 50
)

// WriterOptions customises NewWriter and NewWriterFromWriter.
type WriterOptions struct {
	// BufferSize is the length of the buffer used to stream file content into the archive.
	//
	// Files are never buffered whole; BufferSize bounds the memory held per
	// chunk and indirectly controls how often progress is observed.
	//
	// Default to DefaultBufferSize.
	BufferSize int

	// NewZipWriter allows customisation of the zip.Writer being used.
	//
	// Default to [zip.NewWriter].
	NewZipWriter func(w io.Writer) *zip.Writer
}

// WithDeflateLevel registers a [flate.Writer] at the given level as the archive's Deflate compressor.
//
// See [flate.NewWriter] on the acceptable levels, for example [flate.BestCompression].
func WithDeflateLevel(level int) func(*WriterOptions) {
	return func(o *WriterOptions) {
		o.NewZipWriter = func(w io.Writer) *zip.Writer {
			zw := zip.NewWriter(w)
			zw.RegisterCompressor(zip.Deflate, func(w io.Writer) (io.WriteCloser, error) {
				return flate.NewWriter(w, level)
			})
			return zw
		}
	}
}

// WithBestCompression uses a [zip.Writer] that registers [flate.BestCompression] as its compressor.
func WithBestCompression(o *WriterOptions) {
	WithDeflateLevel(flate.BestCompression)(o)
}

// WithFastestCompression uses a [zip.Writer] that registers [flate.BestSpeed] as its compressor.
func WithFastestCompression(o *WriterOptions) {
	WithDeflateLevel(flate.BestSpeed)(o)
}

// WithNoCompression uses a [zip.Writer] that registers [flate.NoCompression] as its compressor.
func WithNoCompression(o *WriterOptions) {
	WithDeflateLevel(flate.NoCompression)(o)
}

// Writer writes entries supplied as relative paths into a ZIP archive,
// resolving them to file content through a FileAccessor.
//
// Paths accumulate in a FIFO queue; once the queue reaches an internal
// threshold (or unconditionally at Close), entries are flushed in batches,
// each batch resolved with a single FileAccessor.Open call. A failed flush
// leaves the archive incomplete but not corrupt up to the last successfully
// written entry; nothing is rolled back.
//
// Writer is not safe for concurrent use. After Close returns, successfully
// or not, every method returns ErrClosed.
type Writer struct {
	zw  *zip.Writer
	dst *os.File // non-nil only when NewWriter opened the destination itself

	fa      FileAccessor
	pending []string
	buf     []byte

	progress  Progress
	report    ProgressFunc
	period    time.Duration
	sometimes rate.Sometimes
}

// NewWriter creates a new archive for writing at the given path.
//
// The FileAccessor must outlive the Writer; it is borrowed, never owned.
func NewWriter(dest string, fa FileAccessor, optFns ...func(*WriterOptions)) (*Writer, error) {
	f, err := os.Create(dest)
	if err != nil {
		return nil, fmt.Errorf("create archive (path=%s) error: %w", dest, err)
	}

	w := NewWriterFromWriter(f, fa, optFns...)
	w.dst = f
	return w, nil
}

// NewWriterFromWriter writes the archive to a destination the caller has
// already opened, such as an inherited file descriptor or a network stream.
// The caller remains responsible for closing dst after Close returns.
func NewWriterFromWriter(dst io.Writer, fa FileAccessor, optFns ...func(*WriterOptions)) *Writer {
	opts := &WriterOptions{
		BufferSize:   DefaultBufferSize,
		NewZipWriter: zip.NewWriter,
	}
	for _, fn := range optFns {
		fn(opts)
	}

	return &Writer{
		zw:  opts.NewZipWriter(dst),
		fa:  fa,
		buf: make([]byte, opts.BufferSize),
	}
}

// SetProgress registers a callback receiving Progress snapshots at most once
// per period while entries are flushed, plus one guaranteed final call when
// Close finishes draining the queue. A period of zero reports on every chunk.
//
// SetProgress must be called before the flush it is meant to observe.
func (w *Writer) SetProgress(fn ProgressFunc, period time.Duration) {
	w.report = fn
	w.period = period
	w.sometimes = rate.Sometimes{Interval: period}
}

// AddEntries appends the given relative paths to the pending queue, then
// flushes complete batches if the queue has reached the internal threshold.
//
// On error, entries of previously completed batches remain in the archive.
func (w *Writer) AddEntries(ctx context.Context, paths ...string) error {
	if w.zw == nil {
		return ErrClosed
	}

	w.pending = append(w.pending, paths...)
	return w.flush(ctx, false)
}

// WriteEntries adds the given paths and closes the archive in one call.
func (w *Writer) WriteEntries(ctx context.Context, paths ...string) error {
	if err := w.AddEntries(ctx, paths...); err != nil {
		_ = w.Close(ctx)
		return err
	}

	return w.Close(ctx)
}

// Close flushes all remaining pending entries, emits the final progress
// report, and finalizes the archive (central directory and trailer).
//
// The Writer becomes unusable once Close returns, regardless of outcome.
func (w *Writer) Close(ctx context.Context) error {
	if w.zw == nil {
		return ErrClosed
	}

	err := w.flush(ctx, true)

	if w.report != nil {
		w.report(w.progress)
	}

	if cerr := w.zw.Close(); cerr != nil && err == nil {
		err = fmt.Errorf("finalize archive error: %w", cerr)
	}
	if w.dst != nil {
		if cerr := w.dst.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close archive error: %w", cerr)
		}
	}

	w.zw, w.dst = nil, nil
	return err
}

// flush writes pending entries in FIFO batches of at most
// maxPendingEntriesCount. Unless forced, it does nothing until the queue
// reaches the threshold, and stops as soon as it drops below it.
func (w *Writer) flush(ctx context.Context, force bool) error {
	if len(w.pending) < maxPendingEntriesCount && !force {
		return nil
	}

	for len(w.pending) >= maxPendingEntriesCount || (force && len(w.pending) > 0) {
		n := min(len(w.pending), maxPendingEntriesCount)
		batch := w.pending[:n:n]
		w.pending = w.pending[n:]

		if err := w.flushBatch(ctx, batch); err != nil {
			return err
		}
	}

	return nil
}

func (w *Writer) flushBatch(ctx context.Context, batch []string) error {
	// One batched call resolves every path in the batch. Directories (and
	// paths that vanished since enumeration) come back as nil slots; only
	// those pay for the extra GetInfo round trip below.
	files, err := w.fa.Open(ctx, batch)
	if err != nil {
		return fmt.Errorf("open batch of %d files error: %w", len(batch), err)
	}
	if len(files) != len(batch) {
		closeAll(files)
		return fmt.Errorf("file accessor returned %d handles for %d paths", len(files), len(batch))
	}

	for i, f := range files {
		relpath := batch[i]

		if f == nil {
			info, err := w.fa.GetInfo(ctx, relpath)
			if err != nil {
				closeAll(files[i+1:])
				return err
			}

			if err = w.addDirectoryEntry(relpath, info.ModTime); err != nil {
				closeAll(files[i+1:])
				return err
			}

			continue
		}

		err := w.addFileEntry(ctx, relpath, f)
		_ = f.Close()
		if err != nil {
			closeAll(files[i+1:])
			return err
		}
	}

	return nil
}

// addFileEntry opens a new archive entry at relpath and streams the file's
// content into it in BufferSize chunks.
func (w *Writer) addFileEntry(ctx context.Context, relpath string, f fs.File) error {
	fi, err := f.Stat()
	if err != nil {
		return fmt.Errorf("describe file (path=%s) error: %w", relpath, err)
	}

	e, err := w.zw.CreateHeader(entryHeader(relpath, fi.ModTime(), fi.Mode(), false))
	if err != nil {
		return fmt.Errorf("create zip record (name=%s) error: %w", relpath, err)
	}

	for {
		nr, rerr := f.Read(w.buf)

		if nr > 0 {
			nw, werr := e.Write(w.buf[:nr])
			if werr != nil {
				return fmt.Errorf("write file (path=%s) to archive error: %w", relpath, werr)
			}
			if nw < nr {
				return io.ErrShortWrite
			}

			w.progress.Bytes += int64(nw)

			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
				w.reportProgress()
			}
		}

		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			return fmt.Errorf("read file (path=%s) error: %w", relpath, rerr)
		}
	}

	w.progress.Files++
	w.reportProgress()
	return nil
}

// addDirectoryEntry opens and immediately closes a zero-length entry whose
// name carries the trailing slash marking it as a directory.
func (w *Writer) addDirectoryEntry(relpath string, mod time.Time) error {
	if _, err := w.zw.CreateHeader(entryHeader(relpath, mod, fs.ModeDir|0o755, true)); err != nil {
		return fmt.Errorf("create zip record (name=%s/) for directory error: %w", relpath, err)
	}

	w.progress.Dirs++
	w.reportProgress()
	return nil
}

func (w *Writer) reportProgress() {
	switch {
	case w.report == nil:
	case w.period <= 0:
		w.report(w.progress)
	default:
		w.sometimes.Do(func() {
			w.report(w.progress)
		})
	}
}

// entryHeader builds the zip header for a single entry. Host separators are
// normalised to forward slashes before the name reaches the archive.
func entryHeader(name string, mod time.Time, mode fs.FileMode, dir bool) *zip.FileHeader {
	fh := &zip.FileHeader{
		Name:     strings.ReplaceAll(name, `\`, "/"),
		Modified: mod,
	}
	if dir {
		fh.Name += "/"
	} else {
		fh.Method = zip.Deflate
	}
	fh.SetMode(mode)
	return fh
}
