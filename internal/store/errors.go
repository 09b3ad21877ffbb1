package store

import "errors"

// PermanentError wraps a handler error that retrying cannot fix
// (invalid payload shape, content permanently rejected, unknown
// reference). The JobRunner dead-letters the job on first sight
// instead of burning through the retry ceiling.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string {
	return "permanent: " + e.Err.Error()
}

func (e *PermanentError) Unwrap() error {
	return e.Err
}

// Permanent wraps err so the JobRunner treats it as non-retryable.
// A nil err returns nil.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// IsPermanent reports whether err carries a PermanentError anywhere in
// its chain.
func IsPermanent(err error) bool {
	var pe *PermanentError
	return errors.As(err, &pe)
}
