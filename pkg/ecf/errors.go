package ecf

import (
	"errors"
	"fmt"
)

// Sentinel errors for the gateway error taxonomy. Lower-layer failures
// (credential, transform, signing) abort a request and are never
// silently recovered; only submission failures are a reasonable retry
// candidate for callers.
var (
	// ErrCredentialNotFound indicates no credential material exists for
	// the requested tax ID (or the default sentinel).
	ErrCredentialNotFound = errors.New("credential not found")

	// ErrMalformedReception indicates an inbound envelope carried no
	// recognizable document payload in any supported format.
	ErrMalformedReception = errors.New("no document payload found in reception envelope")
)

// CredentialLoadError indicates credential material exists but could
// not be parsed (wrong passphrase, corrupt container).
type CredentialLoadError struct {
	TaxID string
	Err   error
}

func (e *CredentialLoadError) Error() string {
	return fmt.Sprintf("loading credential for %q: %v", e.TaxID, e.Err)
}

func (e *CredentialLoadError) Unwrap() error { return e.Err }

// TransformError indicates a document could not be materialized as XML,
// typically because required nested structure is absent.
type TransformError struct {
	Type DocumentType
	Err  error
}

func (e *TransformError) Error() string {
	return fmt.Sprintf("transforming %s: %v", e.Type, e.Err)
}

func (e *TransformError) Unwrap() error { return e.Err }

// SigningError wraps an underlying cryptographic failure or an
// unsupported document type tag.
type SigningError struct {
	Type DocumentType
	Err  error
}

func (e *SigningError) Error() string {
	return fmt.Sprintf("signing %s: %v", e.Type, e.Err)
}

func (e *SigningError) Unwrap() error { return e.Err }

// SubmissionError carries an authority-side failure, including the raw
// response body where one was received. The gateway never retries it;
// the surrounding caller decides on retry policy.
type SubmissionError struct {
	Operation string
	Status    int
	Response  string
	Err       error
}

func (e *SubmissionError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("authority %s failed: status %d: %s", e.Operation, e.Status, e.Response)
	}
	return fmt.Sprintf("authority %s failed: %v", e.Operation, e.Err)
}

func (e *SubmissionError) Unwrap() error { return e.Err }

// ValidationError indicates caller input failed shape validation before
// any signing or network work was attempted.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}
