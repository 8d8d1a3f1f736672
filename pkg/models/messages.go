package models

import (
	"fmt"

	json "github.com/goccy/go-json"
)

// MessageType tags a bus envelope. Payload shapes are fixed per tag and are
// validated on receipt; unknown or malformed messages are rejected, never
// trusted.
type MessageType string

// Inbound to the coordinator.
const (
	MsgStartRegionCapture   MessageType = "START_REGION_CAPTURE"
	MsgRegionSelected       MessageType = "REGION_SELECTED"
	MsgRegionCancelled      MessageType = "REGION_CANCELLED"
	MsgRecordingStarted     MessageType = "RECORDING_STARTED"
	MsgStopRecordingRequest MessageType = "STOP_RECORDING_REQUEST"
	MsgPopupOpened          MessageType = "POPUP_OPENED"
	MsgGetRecordingState    MessageType = "GET_RECORDING_STATE"
)

// Outbound from the coordinator.
const (
	MsgVideoResultDelivery    MessageType = "VIDEO_RESULT_DELIVERY"
	MsgRegionCaptureCompleted MessageType = "REGION_CAPTURE_COMPLETED"
	MsgRegionCaptureCancelled MessageType = "REGION_CAPTURE_CANCELLED"
	MsgRegionCaptureError     MessageType = "REGION_CAPTURE_ERROR"
	MsgVideoResultError       MessageType = "VIDEO_RESULT_ERROR"
	MsgRecordingTick          MessageType = "RECORDING_TICK"
	MsgRecordingStateReport   MessageType = "RECORDING_STATE"
	MsgActionSurfaceMode      MessageType = "ACTION_SURFACE_MODE"
)

// Well-known bus context names.
const (
	ContextCoordinator = "coordinator"
	ContextUI          = "ui"
	ContextOverlay     = "overlay"
)

// Envelope is one bus message: a tag plus its raw payload.
type Envelope struct {
	Type    MessageType     `json:"type"`
	From    string          `json:"from,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// NewEnvelope marshals a payload under the given tag.
func NewEnvelope(typ MessageType, from string, payload any) (Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("encode %s payload: %w", typ, err)
	}
	return Envelope{Type: typ, From: from, Payload: raw}, nil
}

// MustEnvelope is NewEnvelope for payloads that cannot fail to marshal.
func MustEnvelope(typ MessageType, from string, payload any) Envelope {
	env, err := NewEnvelope(typ, from, payload)
	if err != nil {
		panic(err)
	}
	return env
}

// Payload shapes, one per tag.

type StartRegionCapture struct {
	CaseID string `json:"caseId"`
}

type RegionSelected struct {
	SessionID   string      `json:"sessionId"`
	Rect        Rect        `json:"rect"`
	ScalingInfo ScalingInfo `json:"scalingInfo"`
}

type RegionCancelled struct {
	SessionID string `json:"sessionId"`
}

type RecordingStarted struct {
	Type   RecordingType `json:"type"`
	CaseID string        `json:"caseId,omitempty"`
	TabID  string        `json:"tabId,omitempty"`
}

type StopRecordingRequest struct {
	FocusPreview bool `json:"focusPreview,omitempty"`
}

type PopupOpened struct{}

type GetRecordingState struct{}

type ResultDelivery struct {
	Data ResultPayload `json:"data"`
	// Warnings carries non-fatal validation notes, e.g. a clamped selection.
	Warnings []string `json:"warnings,omitempty"`
}

type CaptureFailure struct {
	Error CaptureError `json:"error"`
}

type RegionCaptureCancelledNote struct {
	SessionID string `json:"sessionId,omitempty"`
}

// ActionSurfaceMode announces a click-to-stop toggle so UI surfaces can
// swap their primary action and badge.
type ActionSurfaceMode struct {
	Armed bool `json:"armed"`
}

// DecodeEnvelope validates the envelope shape and returns the typed payload.
// Unknown tags and malformed payloads are errors.
func DecodeEnvelope(env Envelope) (any, error) {
	decode := func(out any) (any, error) {
		if len(env.Payload) == 0 {
			return nil, fmt.Errorf("%s: missing payload", env.Type)
		}
		if err := json.Unmarshal(env.Payload, out); err != nil {
			return nil, fmt.Errorf("%s: malformed payload: %w", env.Type, err)
		}
		return out, nil
	}

	switch env.Type {
	case MsgStartRegionCapture:
		msg := &StartRegionCapture{}
		if _, err := decode(msg); err != nil {
			return nil, err
		}
		if msg.CaseID == "" {
			return nil, fmt.Errorf("%s: caseId is required", env.Type)
		}
		return msg, nil
	case MsgRegionSelected:
		msg := &RegionSelected{}
		if _, err := decode(msg); err != nil {
			return nil, err
		}
		if msg.SessionID == "" {
			return nil, fmt.Errorf("%s: sessionId is required", env.Type)
		}
		return msg, nil
	case MsgRegionCancelled:
		msg := &RegionCancelled{}
		if _, err := decode(msg); err != nil {
			return nil, err
		}
		if msg.SessionID == "" {
			return nil, fmt.Errorf("%s: sessionId is required", env.Type)
		}
		return msg, nil
	case MsgRecordingStarted:
		msg := &RecordingStarted{}
		if _, err := decode(msg); err != nil {
			return nil, err
		}
		switch msg.Type {
		case RecordingTypeTab, RecordingTypeDesktop:
		default:
			return nil, fmt.Errorf("%s: unknown recording type %q", env.Type, msg.Type)
		}
		return msg, nil
	case MsgStopRecordingRequest:
		msg := &StopRecordingRequest{}
		if len(env.Payload) == 0 {
			return msg, nil
		}
		return decode(msg)
	case MsgPopupOpened:
		return &PopupOpened{}, nil
	case MsgGetRecordingState:
		return &GetRecordingState{}, nil
	default:
		return nil, fmt.Errorf("unknown message type %q", env.Type)
	}
}
