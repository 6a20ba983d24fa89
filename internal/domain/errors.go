package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrUnsupportedFileType is returned for inputs that are neither .pdf nor .csv.
	ErrUnsupportedFileType = errors.New("unsupported file type")
	// ErrExtractionFailed is returned when the oracle produced no usable batch.
	ErrExtractionFailed = errors.New("extraction failed")
)

// UnsupportedFileType wraps ErrUnsupportedFileType with the offending extension.
func UnsupportedFileType(ext string) error {
	return fmt.Errorf("%w: %q", ErrUnsupportedFileType, ext)
}

// TransportError is a network level failure: refused connection, timeout, DNS.
// The whole invocation may be retried.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: transport error: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// maxErrorBody caps how much of a response body ends up in an error string.
const maxErrorBody = 256

// ServiceError is a non-2xx answer (or an explicit error payload) from a remote service.
type ServiceError struct {
	Op     string
	Status int
	Body   string
}

func (e *ServiceError) Error() string {
	body := e.Body
	if len(body) > maxErrorBody {
		body = body[:maxErrorBody] + "..."
	}
	return fmt.Sprintf("%s: service returned status %d: %s", e.Op, e.Status, body)
}

// MalformedResponseError means the remote answered 2xx with a body we cannot decode.
type MalformedResponseError struct {
	Op  string
	Err error
}

func (e *MalformedResponseError) Error() string {
	return fmt.Sprintf("%s: malformed response: %v", e.Op, e.Err)
}

func (e *MalformedResponseError) Unwrap() error { return e.Err }

// FormatError means an input file could not be parsed as tabular data or as a document.
type FormatError struct {
	Path string
	Err  error
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("format error in %s: %v", e.Path, e.Err)
}

func (e *FormatError) Unwrap() error { return e.Err }

// PersistenceError wraps any sink write failure.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s: persistence error: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// IsClientError reports whether err is caused by the caller's input.
func IsClientError(err error) bool {
	if errors.Is(err, ErrUnsupportedFileType) {
		return true
	}
	var fe *FormatError
	return errors.As(err, &fe)
}

// IsRetryable reports whether re-running the whole invocation may succeed.
func IsRetryable(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}
