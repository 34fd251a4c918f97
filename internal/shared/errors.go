package shared

import "errors"

// ErrAlreadySubmitted indicates a duplicate receive submission.
var ErrAlreadySubmitted = errors.New("receive batch already submitted")
