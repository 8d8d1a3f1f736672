package models

import "time"

// ResultKind distinguishes pending capture artifacts.
type ResultKind string

const (
	ResultKindRegion ResultKind = "region"
	ResultKindVideo  ResultKind = "video"
)

// ResultPayload is the artifact handed to a UI surface.
type ResultPayload struct {
	Data     []byte        `json:"data"`
	Filename string        `json:"filename"`
	MimeType string        `json:"mime_type"`
	CaseID   string        `json:"case_id"`
	Width    int           `json:"width,omitempty"`
	Height   int           `json:"height,omitempty"`
	Duration time.Duration `json:"duration,omitempty"`
}

// PendingResult is a captured artifact awaiting delivery to a UI surface.
// Once Delivered is set true it is never redelivered; entries older than the
// retention window are purged by the periodic sweep.
type PendingResult struct {
	ResultID  string        `json:"result_id"`
	Kind      ResultKind    `json:"kind"`
	Payload   ResultPayload `json:"payload"`
	Timestamp time.Time     `json:"timestamp"`
	Delivered bool          `json:"delivered"`
}

// ResultRetention is how long an undelivered result is kept before the sweep
// removes it.
const ResultRetention = 24 * time.Hour
