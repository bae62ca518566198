package doccache

import "fmt"

// ExtractError reports a document whose text could not be extracted. It is
// per-document and never fatal to a scan or preprocess run.
type ExtractError struct {
	Path   string
	Reason string
	Err    error
}

func (e *ExtractError) Error() string {
	return fmt.Sprintf("extracting %s: %s", e.Path, e.Reason)
}

func (e *ExtractError) Unwrap() error {
	return e.Err
}
