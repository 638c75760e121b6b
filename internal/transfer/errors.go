package transfer

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrCancelled is returned when a transfer was cancelled by its caller.
var ErrCancelled = errors.New("transfer cancelled")

// IsCancelled reports whether err represents caller-initiated cancellation
// rather than a failure.
func IsCancelled(err error) bool {
	return errors.Is(err, ErrCancelled) || errors.Is(err, context.Canceled)
}

// Cancelled wraps cause so that it satisfies both IsCancelled and errors.Is
// for the original cause.
func Cancelled(cause error) error {
	if cause == nil || errors.Is(cause, ErrCancelled) {
		return ErrCancelled
	}
	return fmt.Errorf("%w: %w", ErrCancelled, cause)
}

// ValidationError reports a malformed or missing request field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation: " + e.Reason
	}
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Reason)
}

// Invalid returns a *ValidationError for field.
func Invalid(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// IntegrityError reports a sequence gap, a missing chunk or a size mismatch.
// Chunk records are left in place when it is returned.
type IntegrityError struct {
	FileHash string
	Index    int // -1 when not tied to one chunk
	Reason   string
}

func (e *IntegrityError) Error() string {
	if e.Index >= 0 {
		return fmt.Sprintf("integrity check failed for %s chunk %d: %s", e.FileHash, e.Index, e.Reason)
	}
	return fmt.Sprintf("integrity check failed for %s: %s", e.FileHash, e.Reason)
}

// IsValidation reports whether err is a *ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsIntegrity reports whether err is an *IntegrityError.
func IsIntegrity(err error) bool {
	var ie *IntegrityError
	return errors.As(err, &ie)
}

// Permanent reports whether err must not be retried.
func Permanent(err error) bool {
	return IsValidation(err) || IsIntegrity(err) || IsCancelled(err) || errors.Is(err, context.DeadlineExceeded)
}

// FailedError lists the chunks or ranges that failed after all retries.
type FailedError struct {
	Op      string // "upload" or "download"
	Total   int
	Indices []int
	Errs    map[int]error
}

func (e *FailedError) Error() string {
	idx := make([]string, 0, len(e.Indices))
	for _, i := range e.Indices {
		idx = append(idx, fmt.Sprint(i))
	}
	msg := fmt.Sprintf("%s: %d of %d chunks failed after all retries (indices %s)",
		e.Op, len(e.Indices), e.Total, strings.Join(idx, ","))
	if len(e.Indices) > 0 {
		if err := e.Errs[e.Indices[0]]; err != nil {
			msg += ": " + err.Error()
		}
	}
	return msg
}

// Unwrap exposes every per-index error.
func (e *FailedError) Unwrap() []error {
	errs := make([]error, 0, len(e.Errs))
	for _, i := range e.Indices {
		if err := e.Errs[i]; err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}

// NewFailedError builds a FailedError from per-index errors.
func NewFailedError(op string, total int, errs map[int]error) *FailedError {
	indices := make([]int, 0, len(errs))
	for i := range errs {
		indices = append(indices, i)
	}
	sort.Ints(indices)
	return &FailedError{Op: op, Total: total, Indices: indices, Errs: errs}
}
