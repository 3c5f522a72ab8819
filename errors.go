package zipkit

import (
	"errors"
)

// ErrClosed is returned by Writer methods invoked after Close has been called.
var ErrClosed = errors.New("writer is closed")

// ErrAbsolutePath is returned by FileAccessor implementations when a path
// crossing the accessor boundary is not relative to the accessor's root.
var ErrAbsolutePath = errors.New("path must be relative")

// ErrUnsafePath is returned by the extraction functions upon encountering an
// entry whose path would escape the destination directory if honoured
// literally. The entire extraction is aborted, not just the offending entry.
var ErrUnsafePath = errors.New("unsafe entry path")
