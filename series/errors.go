package series

import (
	"errors"
	"fmt"
)

// ErrAllItemsFailed is returned when a run discovered files but none of them
// could be converted.
var ErrAllItemsFailed = errors.New("failed to process any DICOM files")

// DecodeError reports a file the decoder could not read. It is recorded per
// item and never aborts a run.
type DecodeError struct {
	Path string
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decoding %s: %v", e.Path, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// WriteError reports an artifact that could not be written. It fails the
// offending item only.
type WriteError struct {
	Path string
	Err  error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("writing %s: %v", e.Path, e.Err)
}

func (e *WriteError) Unwrap() error {
	return e.Err
}
