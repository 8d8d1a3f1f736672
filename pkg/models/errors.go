package models

import (
	"errors"
	"fmt"
)

// ErrorCode identifies a capture-path failure class.
type ErrorCode string

const (
	ErrCodeNoActiveTab      ErrorCode = "NoActiveTab"
	ErrCodeRestrictedPage   ErrorCode = "RestrictedPage"
	ErrCodeAlreadyRecording ErrorCode = "AlreadyRecording"
	ErrCodeSessionNotFound  ErrorCode = "SessionNotFound"
	ErrCodeInvalidRegion    ErrorCode = "InvalidRegion"
	ErrCodeStreamDenied     ErrorCode = "StreamAcquisitionDenied"
	ErrCodeDeliveryFailed   ErrorCode = "DeliveryFailed"
)

// CaptureError is a coded error with a user-facing remediation hint.
// All capture-path failures are local to one session or recording and are
// reported through the response channel of the originating request.
type CaptureError struct {
	Code  ErrorCode `json:"code"`
	Hint  string    `json:"hint,omitempty"`
	cause error
}

func (e *CaptureError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.Code, e.cause)
	}
	return string(e.Code)
}

func (e *CaptureError) Unwrap() error { return e.cause }

// Is matches against another CaptureError by code, so call sites can use
// errors.Is with the exported sentinels below.
func (e *CaptureError) Is(target error) bool {
	var other *CaptureError
	if !errors.As(target, &other) {
		return false
	}
	return e.Code == other.Code
}

// NewCaptureError builds a coded error wrapping an optional cause.
func NewCaptureError(code ErrorCode, hint string, cause error) *CaptureError {
	return &CaptureError{Code: code, Hint: hint, cause: cause}
}

// Sentinels for errors.Is comparisons.
var (
	ErrNoActiveTab      = &CaptureError{Code: ErrCodeNoActiveTab, Hint: "open a page to capture first"}
	ErrRestrictedPage   = &CaptureError{Code: ErrCodeRestrictedPage, Hint: "navigate to a regular page"}
	ErrAlreadyRecording = &CaptureError{Code: ErrCodeAlreadyRecording, Hint: "stop the current recording first"}
	ErrSessionNotFound  = &CaptureError{Code: ErrCodeSessionNotFound, Hint: "the selection expired; start a new capture"}
	ErrInvalidRegion    = &CaptureError{Code: ErrCodeInvalidRegion, Hint: "select a larger area"}
	ErrStreamDenied     = &CaptureError{Code: ErrCodeStreamDenied, Hint: "grant screen capture permission and retry"}
	ErrDeliveryFailed   = &CaptureError{Code: ErrCodeDeliveryFailed}
)

// CodeOf extracts the error code, defaulting to an empty code for errors
// outside the taxonomy.
func CodeOf(err error) ErrorCode {
	var ce *CaptureError
	if errors.As(err, &ce) {
		return ce.Code
	}
	return ""
}
