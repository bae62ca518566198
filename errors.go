package medcompanion

import "errors"

// ErrNotFound is returned when an input folder, file or workspace does not
// exist. The series, doccache and workspace packages wrap it so callers can
// map every missing-input case to one response.
var ErrNotFound = errors.New("not found")
