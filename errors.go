// Copyright (c) 2025 Neomantra Corp

package scsync

import "fmt"

// Structural errors. Fatal at decode time, except ErrTruncatedStream after
// at least one complete bucket has been emitted, in which case the run is
// marked PartiallyComplete rather than Failed.
var (
	ErrTruncatedStream  = fmt.Errorf("truncated stream")
	ErrMalformedBatch   = fmt.Errorf("malformed depth batch: ask-side command precedes bid-side command")
	ErrBadMagic         = fmt.Errorf("bad depth header magic")
	ErrBadHeaderSize    = fmt.Errorf("bad depth header size field")
	ErrBadRecordSize    = fmt.Errorf("bad depth record size field")
	ErrOutsideRunDay    = fmt.Errorf("depth record timestamp outside run day")
	ErrOutputRenameFail = fmt.Errorf("failed to rename output into place")
	ErrIoError          = fmt.Errorf("io error")
)

func unexpectedBytesError(got, want int) error {
	return fmt.Errorf("expected %d bytes, got %d", want, got)
}
