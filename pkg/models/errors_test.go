package models

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCaptureErrorMatchesByCode(t *testing.T) {
	err := NewCaptureError(ErrCodeNoActiveTab, "open a page first", errors.New("no targets"))

	assert.ErrorIs(t, err, ErrNoActiveTab)
	assert.NotErrorIs(t, err, ErrRestrictedPage)
}

func TestCaptureErrorUnwrapsCause(t *testing.T) {
	cause := errors.New("socket closed")
	err := NewCaptureError(ErrCodeStreamDenied, "", cause)

	assert.ErrorIs(t, err, cause)

	wrapped := fmt.Errorf("start recording: %w", err)
	assert.ErrorIs(t, wrapped, ErrStreamDenied)
}

func TestCodeOf(t *testing.T) {
	assert.Equal(t, ErrCodeInvalidRegion, CodeOf(ErrInvalidRegion))
	assert.Equal(t, ErrCodeSessionNotFound,
		CodeOf(fmt.Errorf("lookup: %w", ErrSessionNotFound)))
	assert.Equal(t, ErrorCode(""), CodeOf(errors.New("plain")))
	assert.Equal(t, ErrorCode(""), CodeOf(nil))
}

func TestCaptureErrorMessageIncludesCause(t *testing.T) {
	err := NewCaptureError(ErrCodeDeliveryFailed, "", errors.New("bus closed"))
	assert.Contains(t, err.Error(), "DeliveryFailed")
	assert.Contains(t, err.Error(), "bus closed")

	bare := NewCaptureError(ErrCodeInvalidRegion, "select a larger area", nil)
	assert.Equal(t, "InvalidRegion", bare.Error())
}
