package models

import (
	"testing"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeEnvelopeValidPayloads(t *testing.T) {
	tests := []struct {
		name string
		env  Envelope
	}{
		{
			name: "start region capture",
			env:  MustEnvelope(MsgStartRegionCapture, ContextUI, StartRegionCapture{CaseID: "c1"}),
		},
		{
			name: "region selected",
			env: MustEnvelope(MsgRegionSelected, ContextOverlay, RegionSelected{
				SessionID:   "s1",
				Rect:        Rect{X: 1, Y: 2, Width: 100, Height: 50},
				ScalingInfo: ScalingInfo{DevicePixelRatio: 2, ZoomFactor: 1},
			}),
		},
		{
			name: "region cancelled",
			env:  MustEnvelope(MsgRegionCancelled, ContextOverlay, RegionCancelled{SessionID: "s1"}),
		},
		{
			name: "recording started",
			env:  MustEnvelope(MsgRecordingStarted, ContextUI, RecordingStarted{Type: RecordingTypeTab}),
		},
		{
			name: "stop recording",
			env:  MustEnvelope(MsgStopRecordingRequest, ContextUI, StopRecordingRequest{FocusPreview: true}),
		},
		{
			name: "popup opened",
			env:  Envelope{Type: MsgPopupOpened, From: ContextUI},
		},
		{
			name: "get recording state",
			env:  Envelope{Type: MsgGetRecordingState, From: ContextUI},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := DecodeEnvelope(tt.env)
			require.NoError(t, err)
			assert.NotNil(t, msg)
		})
	}
}

func TestDecodeEnvelopeRejectsUnknownType(t *testing.T) {
	_, err := DecodeEnvelope(Envelope{Type: "MYSTERY", From: ContextUI})
	assert.Error(t, err)
}

func TestDecodeEnvelopeRejectsMissingRequiredFields(t *testing.T) {
	tests := []struct {
		name string
		env  Envelope
	}{
		{
			name: "region capture without case",
			env:  MustEnvelope(MsgStartRegionCapture, ContextUI, StartRegionCapture{}),
		},
		{
			name: "selection without session",
			env:  MustEnvelope(MsgRegionSelected, ContextOverlay, RegionSelected{Rect: Rect{Width: 50, Height: 50}}),
		},
		{
			name: "cancel without session",
			env:  MustEnvelope(MsgRegionCancelled, ContextOverlay, RegionCancelled{}),
		},
		{
			name: "recording with unknown type",
			env:  MustEnvelope(MsgRecordingStarted, ContextUI, RecordingStarted{Type: "hologram"}),
		},
		{
			name: "empty payload where one is required",
			env:  Envelope{Type: MsgStartRegionCapture, From: ContextUI},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeEnvelope(tt.env)
			assert.Error(t, err)
		})
	}
}

func TestDecodeEnvelopeRejectsMalformedJSON(t *testing.T) {
	_, err := DecodeEnvelope(Envelope{
		Type:    MsgRegionSelected,
		From:    ContextOverlay,
		Payload: json.RawMessage(`{"sessionId": 42}`),
	})
	assert.Error(t, err)
}

func TestStopRecordingAcceptsEmptyPayload(t *testing.T) {
	msg, err := DecodeEnvelope(Envelope{Type: MsgStopRecordingRequest, From: ContextUI})
	require.NoError(t, err)
	stop, ok := msg.(*StopRecordingRequest)
	require.True(t, ok)
	assert.False(t, stop.FocusPreview)
}

func TestEnvelopeRoundtrip(t *testing.T) {
	env := MustEnvelope(MsgRegionSelected, ContextOverlay, RegionSelected{
		SessionID: "s1",
		Rect:      Rect{X: 10, Y: 20, Width: 30, Height: 40},
	})

	wire, err := json.Marshal(env)
	require.NoError(t, err)

	var back Envelope
	require.NoError(t, json.Unmarshal(wire, &back))
	assert.Equal(t, env.Type, back.Type)
	assert.Equal(t, env.From, back.From)

	msg, err := DecodeEnvelope(back)
	require.NoError(t, err)
	sel := msg.(*RegionSelected)
	assert.Equal(t, 30, sel.Rect.Width)
}
