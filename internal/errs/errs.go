package errs

import "errors"

// Domain sentinel errors. Operations wrap these with context via
// fmt.Errorf("...: %w", ...); handlers map them to HTTP status codes with
// errors.Is.
var (
	ErrNotFound           = errors.New("not found")
	ErrConflict           = errors.New("conflict")
	ErrPreconditionFailed = errors.New("precondition failed")
	ErrForbidden          = errors.New("forbidden")
	ErrInvalidArgument    = errors.New("invalid argument")
	ErrInvalidToken       = errors.New("invalid token")
	ErrStoreUnavailable   = errors.New("store unavailable")
)
