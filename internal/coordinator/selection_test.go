package coordinator

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thebtf/snapcase/pkg/models"
)

// startSelection runs the injection flow and returns the new session id.
func startSelection(t *testing.T, h *harness) string {
	t.Helper()
	h.coord.startRegionCapture(context.Background(), "case-1")
	require.Len(t, h.browser.injected, 1)
	return h.browser.injected[0][1]
}

func TestStartRegionCaptureInjectsOverlay(t *testing.T) {
	h := newHarness(t)
	sessionID := startSelection(t, h)

	assert.Equal(t, "tab-1", h.browser.injected[0][0])
	require.NotEmpty(t, sessionID)

	// The session carries the base frame so the overlay never sees pixels.
	sess, err := h.coord.registry.Get(context.Background(), sessionID)
	require.NoError(t, err)
	assert.Equal(t, "case-1", sess.CaseID)
	assert.Equal(t, "https://example.com/page", sess.SourceURL)
	assert.NotEmpty(t, sess.BaseFrame)
}

func TestStartRegionCaptureWithoutActiveTab(t *testing.T) {
	h := newHarness(t)
	h.browser.activeTab = nil

	h.coord.startRegionCapture(context.Background(), "case-1")

	env := h.nextUI(t)
	require.Equal(t, models.MsgRegionCaptureError, env.Type)
	assert.Equal(t, models.ErrCodeNoActiveTab, decodeFailure(t, env).Code)
	assert.Empty(t, h.browser.injected)
}

func TestStartRegionCaptureOnRestrictedPage(t *testing.T) {
	h := newHarness(t)
	h.browser.activeTab = &TabInfo{ID: "tab-1", URL: "chrome://settings"}

	h.coord.startRegionCapture(context.Background(), "case-1")

	env := h.nextUI(t)
	require.Equal(t, models.MsgRegionCaptureError, env.Type)
	assert.Equal(t, models.ErrCodeRestrictedPage, decodeFailure(t, env).Code)
}

func TestInjectionFailureLeavesNoSession(t *testing.T) {
	h := newHarness(t)
	h.browser.injectErr = errors.New("frame detached")

	h.coord.startRegionCapture(context.Background(), "case-1")

	env := h.nextUI(t)
	require.Equal(t, models.MsgRegionCaptureError, env.Type)

	sessions, err := h.coord.registry.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, sessions)
}

func TestCompleteSelectionDeliversCrop(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	sessionID := startSelection(t, h)

	h.coord.completeSelection(ctx, &models.RegionSelected{
		SessionID:   sessionID,
		Rect:        models.Rect{X: 100, Y: 50, Width: 200, Height: 150},
		ScalingInfo: models.ScalingInfo{DevicePixelRatio: 2, ZoomFactor: 1},
	})

	env := h.nextUI(t)
	require.Equal(t, models.MsgRegionCaptureCompleted, env.Type)

	var delivery models.ResultDelivery
	require.NoError(t, json.Unmarshal(env.Payload, &delivery))
	assert.Equal(t, "image/png", delivery.Data.MimeType)
	assert.Equal(t, "case-1", delivery.Data.CaseID)
	assert.Equal(t, 200, delivery.Data.Width)
	assert.Equal(t, 150, delivery.Data.Height)
	assert.True(t, strings.HasPrefix(delivery.Data.Filename, "region_200x150_example.com_"))
	assert.NotEmpty(t, delivery.Data.Data)

	// The session is consumed; a replayed selection report finds nothing.
	_, err := h.coord.registry.Get(ctx, sessionID)
	assert.ErrorIs(t, err, models.ErrSessionNotFound)
	assert.Equal(t, int64(1), h.coord.GetStats().CapturesDelivered)
}

func TestCompleteSelectionPropagatesClampWarnings(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	sessionID := startSelection(t, h)

	// 800x600 frame at scale 1: this rect hangs off both edges.
	h.coord.completeSelection(ctx, &models.RegionSelected{
		SessionID:   sessionID,
		Rect:        models.Rect{X: 700, Y: 500, Width: 300, Height: 300},
		ScalingInfo: models.ScalingInfo{DevicePixelRatio: 1, ZoomFactor: 1},
	})

	env := h.nextUI(t)
	require.Equal(t, models.MsgRegionCaptureCompleted, env.Type)

	var delivery models.ResultDelivery
	require.NoError(t, json.Unmarshal(env.Payload, &delivery))
	require.Len(t, delivery.Warnings, 1)
	assert.Contains(t, delivery.Warnings[0], "clamped")
}

func TestCompleteSelectionUnknownSession(t *testing.T) {
	h := newHarness(t)

	h.coord.completeSelection(context.Background(), &models.RegionSelected{
		SessionID: "ghost",
		Rect:      models.Rect{Width: 50, Height: 50},
	})

	env := h.nextUI(t)
	require.Equal(t, models.MsgRegionCaptureError, env.Type)
	assert.Equal(t, models.ErrCodeSessionNotFound, decodeFailure(t, env).Code)
}

func TestCompleteSelectionRejectsUndersizedRect(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	sessionID := startSelection(t, h)

	h.coord.completeSelection(ctx, &models.RegionSelected{
		SessionID: sessionID,
		Rect:      models.Rect{Width: 5, Height: 5},
	})

	env := h.nextUI(t)
	require.Equal(t, models.MsgRegionCaptureError, env.Type)
	assert.Equal(t, models.ErrCodeInvalidRegion, decodeFailure(t, env).Code)

	// The rejection consumed the session.
	_, err := h.coord.registry.Get(ctx, sessionID)
	assert.ErrorIs(t, err, models.ErrSessionNotFound)
}

func TestCancelSelectionRemovesSessionAndNotifies(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	sessionID := startSelection(t, h)

	h.coord.cancelSelection(ctx, sessionID)

	env := h.nextUI(t)
	require.Equal(t, models.MsgRegionCaptureCancelled, env.Type)

	var note models.RegionCaptureCancelledNote
	require.NoError(t, json.Unmarshal(env.Payload, &note))
	assert.Equal(t, sessionID, note.SessionID)

	_, err := h.coord.registry.Get(ctx, sessionID)
	assert.ErrorIs(t, err, models.ErrSessionNotFound)
}

func TestSweepSessionsNotifiesExpired(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	require.NoError(t, h.coord.registry.Create(ctx, &models.CaptureSession{
		SessionID: "stale",
		CreatedAt: time.Now().Add(-models.SessionTimeout - time.Minute),
	}))

	h.coord.sweepSessions(ctx)

	env := h.nextUI(t)
	require.Equal(t, models.MsgRegionCaptureCancelled, env.Type)

	var note models.RegionCaptureCancelledNote
	require.NoError(t, json.Unmarshal(env.Payload, &note))
	assert.Equal(t, "stale", note.SessionID)
}

func TestSelectionAfterExpiryIsSessionNotFound(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	require.NoError(t, h.coord.registry.Create(ctx, &models.CaptureSession{
		SessionID: "expired",
		CreatedAt: time.Now().Add(-models.SessionTimeout - time.Minute),
		BaseFrame: testFramePNG(t, 10, 10),
	}))

	h.coord.completeSelection(ctx, &models.RegionSelected{
		SessionID: "expired",
		Rect:      models.Rect{Width: 50, Height: 50},
	})

	env := h.nextUI(t)
	require.Equal(t, models.MsgRegionCaptureError, env.Type)
	assert.Equal(t, models.ErrCodeSessionNotFound, decodeFailure(t, env).Code)
}
