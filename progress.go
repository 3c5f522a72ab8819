package zipkit

import (
	"fmt"

	"github.com/schollz/progressbar/v3"
)

// Progress counts the work committed to an archive so far.
//
// Bytes counts uncompressed bytes streamed into file entries. Files and Dirs
// count entries whose archive records have been fully written. All counters
// are monotonically non-decreasing over the lifetime of one Writer.
type Progress struct {
	Bytes int64
	Files int64
	Dirs  int64
}

func (p Progress) String() string {
	return fmt.Sprintf("%d bytes, %d files, %d dirs", p.Bytes, p.Files, p.Dirs)
}

// ProgressFunc receives Progress snapshots while entries are being flushed.
//
// During a flush it is called at most once per Writer.SetProgress period;
// one final call with the end-of-archive totals is guaranteed when Close
// finishes draining the pending queue.
type ProgressFunc func(Progress)

// NewProgressBarFunc returns a ProgressFunc that feeds the byte counter of
// the given progress bar.
func NewProgressBarFunc(bar *progressbar.ProgressBar) ProgressFunc {
	var last int64
	return func(p Progress) {
		_ = bar.Add64(p.Bytes - last)
		last = p.Bytes
	}
}
