package models

import "time"

// RecordingType selects the media-acquisition strategy.
type RecordingType string

const (
	RecordingTypeTab     RecordingType = "tab"
	RecordingTypeDesktop RecordingType = "desktop"
)

// RecordingPhase is a state of the recording state machine.
type RecordingPhase string

const (
	RecordingIdle      RecordingPhase = "idle"
	RecordingStarting  RecordingPhase = "starting"
	RecordingActive    RecordingPhase = "recording"
	RecordingPaused    RecordingPhase = "paused"
	RecordingStopping  RecordingPhase = "stopping"
	RecordingCompleted RecordingPhase = "completed"
)

// Active reports whether the phase holds a live media stream.
func (p RecordingPhase) Active() bool {
	switch p {
	case RecordingStarting, RecordingActive, RecordingPaused, RecordingStopping:
		return true
	}
	return false
}

// RecordingState is the single authoritative record of an active video
// recording. At most one is active daemon-wide; it is mirrored into the
// durable store on every transition so the coordinator can reconstruct it
// after an unplanned restart.
type RecordingState struct {
	IsRecording   bool           `json:"is_recording"`
	Phase         RecordingPhase `json:"phase"`
	RecordingType RecordingType  `json:"recording_type"`
	CaseID        string         `json:"case_id,omitempty"`
	BoundTabID    string         `json:"bound_tab_id,omitempty"`
	BoundWindowID string         `json:"bound_window_id,omitempty"`
	StartTime     time.Time      `json:"start_time"`

	// Pause bookkeeping. PausedTotal accumulates completed pause intervals;
	// PausedSince is set only while in the paused phase.
	PausedTotal time.Duration `json:"paused_total"`
	PausedSince time.Time     `json:"paused_since"`
}

// Elapsed returns wall-clock time since start minus total paused time.
func (r *RecordingState) Elapsed(now time.Time) time.Duration {
	if r.StartTime.IsZero() {
		return 0
	}
	paused := r.PausedTotal
	if !r.PausedSince.IsZero() {
		paused += now.Sub(r.PausedSince)
	}
	return now.Sub(r.StartTime) - paused
}

// RecordingSnapshot is the periodic state report emitted while a recording is
// in flight, and the response shape of GET_RECORDING_STATE.
type RecordingSnapshot struct {
	IsRecording   bool           `json:"is_recording"`
	Phase         RecordingPhase `json:"phase"`
	RecordingType RecordingType  `json:"recording_type,omitempty"`
	StartTime     time.Time      `json:"start_time"`
	Elapsed       time.Duration  `json:"elapsed"`
}
