package persondir

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned by whole-subject lookup when the backend has
	// no record of the subject. Sources return it directly; the composite
	// treats it as a normal miss, not a failure.
	ErrNotFound = errors.New("subject not found")

	// ErrConfiguration marks a misconfigured source. It is raised at
	// construction time wherever possible and is never retryable.
	ErrConfiguration = errors.New("invalid configuration")

	// ErrSchemaMismatch marks a result set whose shape contradicts the
	// source configuration, such as a configured column missing entirely.
	// It is fatal for the query and never retryable.
	ErrSchemaMismatch = errors.New("result schema mismatch")

	// ErrBackendUnavailable marks a transient backend failure, local to the
	// failing source.
	ErrBackendUnavailable = errors.New("backend unavailable")
)

// ConfigurationError builds an ErrConfiguration with detail.
func ConfigurationError(format string, args ...any) error {
	return fmt.Errorf(format+": %w", append(args, ErrConfiguration)...)
}

// MissingColumnError reports a configured column that is absent from the
// result set. A column that is present with a null value is valid data and
// never produces this error.
func MissingColumnError(column string) error {
	return fmt.Errorf("no column named %q in result set: %w", column, ErrSchemaMismatch)
}

// MissingUsernameError reports a result row whose subject identifier could
// not be determined by any resolution rule.
func MissingUsernameError(attr string) error {
	return fmt.Errorf("no username attribute %q in result set and no username in query: %w", attr, ErrSchemaMismatch)
}

// BackendUnavailableError wraps a transport or connection failure so it
// matches ErrBackendUnavailable while keeping the cause inspectable.
func BackendUnavailableError(err error) error {
	return fmt.Errorf("%w: %w", ErrBackendUnavailable, err)
}

// SourceError records the failure of one named source inside the composite
// resolver. The composite joins these into the error it returns alongside
// any partial results.
type SourceError struct {
	Source string
	Err    error
}

func (e *SourceError) Error() string {
	return fmt.Sprintf("source %q: %v", e.Source, e.Err)
}

func (e *SourceError) Unwrap() error {
	return e.Err
}
