// Package failure defines the tagged error type shared by every stage of a
// dispatch run. Call sites match on Kind instead of concrete error types.
package failure

import (
	"errors"
	"fmt"

	"github.com/roach88/resultexport/internal/model"
)

// Kind categorizes a failure.
type Kind string

const (
	// KindValidation is a schema violation on a single record. Never fatal.
	KindValidation Kind = "VALIDATION"

	// KindResolutionWarning is a corresponding record with no usable date.
	KindResolutionWarning Kind = "RESOLUTION_WARNING"

	// KindResolutionExclusion is a paired record with no corresponding record.
	KindResolutionExclusion Kind = "RESOLUTION_EXCLUSION"

	// KindEncoding is a layout or document violation at render time.
	KindEncoding Kind = "ENCODING"

	// KindDelivery covers upload, download, checksum and cleanup failures.
	KindDelivery Kind = "DELIVERY"

	// KindMetadata is a failure to read or persist dispatch metadata.
	KindMetadata Kind = "METADATA"

	// KindReconciliation is a failed status write-back chunk.
	KindReconciliation Kind = "RECONCILIATION"

	// KindSource is a failed fetch or lookup against the source system.
	KindSource Kind = "SOURCE"

	// KindConfig is an unknown stream or invalid wiring.
	KindConfig Kind = "CONFIG"
)

// ErrChecksumMismatch is the cause of a delivery failure where the
// downloaded file differs from the uploaded content.
var ErrChecksumMismatch = errors.New("checksum mismatch")

// Details is the typed metadata carried by an Error. Fields that do not
// apply to a kind are left at their zero value.
type Details struct {
	Stream      string
	Path        string
	RecordID    string
	CandidateID string
	ProductCode string
	Chunk       int
	StatusCode  int
	Violations  []model.Violation
	// FailedIDs lists record ids whose status write-back did not commit.
	FailedIDs []string
}

// Error is the single error type returned across stage boundaries.
type Error struct {
	Kind    Kind
	Stage   model.Stage
	Message string
	Cause   error
	Details Details
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Kind, e.Message)
	if e.Stage != "" {
		msg = fmt.Sprintf("%s [stage=%s]", msg, e.Stage)
	}
	if e.Details.Stream != "" {
		msg = fmt.Sprintf("%s [stream=%s]", msg, e.Details.Stream)
	}
	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// New creates an Error with no cause.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap creates an Error around cause.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// WithDetails sets the typed payload and returns e.
func (e *Error) WithDetails(d Details) *Error {
	e.Details = d
	return e
}

// Encoding creates an encoding failure carrying the violations found.
func Encoding(message string, violations ...model.Violation) *Error {
	return &Error{
		Kind:    KindEncoding,
		Message: message,
		Details: Details{Violations: violations},
	}
}

// KindOf returns the Kind of the first *Error in err's chain.
func KindOf(err error) (Kind, bool) {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind, true
	}
	return "", false
}

// Is reports whether err's chain contains an *Error of the given kind.
func Is(err error, kind Kind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}

// AtStage stamps the failing stage and stream onto err. A non-*Error is
// wrapped with fallback kind so callers always receive an *Error.
func AtStage(err error, stage model.Stage, stream string, fallback Kind) *Error {
	var fe *Error
	if !errors.As(err, &fe) {
		fe = Wrap(fallback, "unexpected failure", err)
	}
	if fe.Stage == "" {
		fe.Stage = stage
	}
	if fe.Details.Stream == "" {
		fe.Details.Stream = stream
	}
	return fe
}
