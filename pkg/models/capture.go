// Package models contains domain models for snapcase.
package models

import "time"

// Rect is a selection rectangle in page (CSS) pixel coordinates.
type Rect struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// MinSelectionSize is the smallest accepted selection edge, in
// device-independent pixels. Smaller selections are rejected by the overlay
// before they reach the coordinator; the coordinator re-validates anyway.
const MinSelectionSize = 10

// Valid reports whether the rectangle is well-formed and meets the minimum
// selection size.
func (r Rect) Valid() bool {
	return r.Width >= MinSelectionSize && r.Height >= MinSelectionSize
}

// ScalingInfo maps page-pixel coordinates to native frame pixels.
type ScalingInfo struct {
	DevicePixelRatio float64 `json:"devicePixelRatio"`
	ZoomFactor       float64 `json:"zoomFactor"`
}

// Scale returns the combined page-to-native pixel factor.
// Missing metadata defaults to 1.0 rather than producing a zero scale.
func (s ScalingInfo) Scale() float64 {
	dpr := s.DevicePixelRatio
	if dpr <= 0 {
		dpr = 1.0
	}
	zoom := s.ZoomFactor
	if zoom <= 0 {
		zoom = 1.0
	}
	return dpr * zoom
}

// CaptureSession is one in-flight region-screenshot request. It lives in the
// durable store from overlay injection until delivery, cancellation, or
// expiry, and is deleted immediately after any of those outcomes.
type CaptureSession struct {
	SessionID string    `json:"session_id"`
	CaseID    string    `json:"case_id"`
	SourceURL string    `json:"source_url"`
	TabID     string    `json:"tab_id"`
	BaseFrame []byte    `json:"base_frame,omitempty"` // PNG, only while a crop is pending
	CreatedAt time.Time `json:"created_at"`
}

// SessionTimeout is how long a session may sit with no selection before the
// sweep removes it.
const SessionTimeout = 3 * time.Minute

// Expired reports whether the session has passed its inactivity window.
func (s *CaptureSession) Expired(now time.Time) bool {
	return now.Sub(s.CreatedAt) >= SessionTimeout
}
