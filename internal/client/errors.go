package client

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/studiowebux/restcall/internal/types"
)

// ServiceError is returned for every non-2xx response the client could not recover from
type ServiceError struct {
	StatusCode        int
	StatusDescription string
	Headers           http.Header
	Body              string

	// Response is the parsed error DTO, nil when the body was not JSON
	Response       any
	ResponseStatus *types.ResponseStatus

	// Err is set when the body could not be read
	Err error
}

func (e *ServiceError) Error() string {
	if e.Err != nil && e.Body == "" {
		return fmt.Sprintf("%d %s: %v", e.StatusCode, e.StatusDescription, e.Err)
	}
	if msg := e.Message(); msg != "" {
		return fmt.Sprintf("%d %s: %s", e.StatusCode, e.ErrorCode(), msg)
	}
	return fmt.Sprintf("%d %s", e.StatusCode, e.StatusDescription)
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

// ErrorCode returns the structured error code, falling back to the status description
func (e *ServiceError) ErrorCode() string {
	if e.ResponseStatus != nil && e.ResponseStatus.ErrorCode != "" {
		return e.ResponseStatus.ErrorCode
	}
	return e.StatusDescription
}

// Message returns the structured error message, falling back to the body text
func (e *ServiceError) Message() string {
	if e.ResponseStatus != nil && e.ResponseStatus.Message != "" {
		return e.ResponseStatus.Message
	}
	return e.Body
}

// FieldErrors returns the per-field validation errors
func (e *ServiceError) FieldErrors() []types.ResponseError {
	if e.ResponseStatus == nil {
		return nil
	}
	return e.ResponseStatus.Errors
}

// FieldError returns the error reported for a single field
func (e *ServiceError) FieldError(name string) (types.ResponseError, bool) {
	for _, fe := range e.FieldErrors() {
		if fe.FieldName == name {
			return fe, true
		}
	}
	return types.ResponseError{}, false
}

func (e *ServiceError) IsAny400() bool { return e.StatusCode >= 400 && e.StatusCode < 500 }
func (e *ServiceError) IsAny500() bool { return e.StatusCode >= 500 && e.StatusCode < 600 }

// RefreshTokenError reports that the access token expired and could not be renewed.
// It unwraps to the refresh endpoint's ServiceError when that endpoint answered with one.
type RefreshTokenError struct {
	Message string
	URL     string
	Cause   error
}

func (e *RefreshTokenError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *RefreshTokenError) Unwrap() error {
	return e.Cause
}

// TransportError wraps a failure that produced no HTTP response
type TransportError struct {
	Method string
	URL    string
	err    error
}

func newTransportError(method, url string, err error) *TransportError {
	return &TransportError{Method: method, URL: url, err: errors.WithStack(err)}
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Method, e.URL, errors.Cause(e.err))
}

func (e *TransportError) Unwrap() error {
	return e.err
}

// Cause returns the underlying network error
func (e *TransportError) Cause() error {
	return errors.Cause(e.err)
}

// DeserializationError reports a 2xx response whose body did not decode
type DeserializationError struct {
	StatusCode int
	Headers    http.Header
	Body       string
	Type       string
	err        error
}

func (e *DeserializationError) Error() string {
	return fmt.Sprintf("failed to deserialize %d response into %s: %v", e.StatusCode, e.Type, e.err)
}

func (e *DeserializationError) Unwrap() error {
	return e.err
}

func statusDescription(resp *http.Response) string {
	if _, text, ok := strings.Cut(resp.Status, " "); ok && text != "" {
		return text
	}
	if text := http.StatusText(resp.StatusCode); text != "" {
		return text
	}
	return strconv.Itoa(resp.StatusCode)
}
