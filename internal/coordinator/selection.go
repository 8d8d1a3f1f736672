package coordinator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/thebtf/snapcase/internal/crop"
	"github.com/thebtf/snapcase/pkg/models"
)

// startRegionCapture drives REQUESTED → INJECTING → AWAITING_SELECTION.
// The session carries the base frame through the store; the overlay only
// ever sees the session id.
func (c *Coordinator) startRegionCapture(ctx context.Context, caseID string) {
	tab, err := c.browser.ActiveTab(ctx)
	if err != nil || tab == nil {
		c.sendError(models.MsgRegionCaptureError, models.ErrNoActiveTab)
		return
	}
	if IsRestrictedURL(tab.URL) {
		c.sendError(models.MsgRegionCaptureError, models.ErrRestrictedPage)
		return
	}

	frame, err := c.browser.CaptureVisibleFrame(ctx, tab.ID)
	if err != nil {
		c.sendError(models.MsgRegionCaptureError,
			models.NewCaptureError(models.ErrCodeNoActiveTab, "the page could not be captured", err))
		return
	}

	sess := &models.CaptureSession{
		SessionID: uuid.NewString(),
		CaseID:    caseID,
		SourceURL: tab.URL,
		TabID:     tab.ID,
		BaseFrame: frame,
		CreatedAt: time.Now(),
	}
	if err := c.registry.Create(ctx, sess); err != nil {
		c.sendError(models.MsgRegionCaptureError,
			models.NewCaptureError(models.ErrCodeSessionNotFound, "try the capture again", err))
		return
	}

	if err := c.browser.InjectOverlay(ctx, tab.ID, sess.SessionID); err != nil {
		// Never leave a dangling session behind a failed injection.
		_ = c.registry.Delete(ctx, sess.SessionID)
		c.sendError(models.MsgRegionCaptureError,
			models.NewCaptureError(models.ErrCodeRestrictedPage, "navigate to a regular page", err))
		return
	}

	log.Info().Str("sessionId", sess.SessionID).Str("caseId", caseID).Str("source", tab.URL).
		Msg("Selection overlay injected")
}

// completeSelection drives AWAITING_SELECTION → CROPPING → DELIVERED.
// Every failure deletes the session before reporting, so no path leaves a
// session dangling in the store.
func (c *Coordinator) completeSelection(ctx context.Context, msg *models.RegionSelected) {
	sess, err := c.registry.Get(ctx, msg.SessionID)
	if err != nil {
		var cerr *models.CaptureError
		if !errors.As(err, &cerr) {
			cerr = models.NewCaptureError(models.ErrCodeSessionNotFound, "start a new capture", err)
		}
		c.sendError(models.MsgRegionCaptureError, cerr)
		return
	}

	fail := func(cerr *models.CaptureError) {
		_ = c.registry.Delete(ctx, sess.SessionID)
		c.sendError(models.MsgRegionCaptureError, cerr)
	}

	// The overlay rejects undersized drags locally; re-check anyway.
	if !msg.Rect.Valid() {
		fail(models.ErrInvalidRegion)
		return
	}

	frame, err := crop.DecodePNG(sess.BaseFrame)
	if err != nil {
		fail(models.NewCaptureError(models.ErrCodeSessionNotFound, "start a new capture", err))
		return
	}

	result, err := crop.Crop(frame, msg.Rect, msg.ScalingInfo)
	if err != nil {
		fail(models.NewCaptureError(models.ErrCodeInvalidRegion, "select a different area", err))
		return
	}

	encoded, err := crop.EncodePNG(result.Image)
	if err != nil {
		fail(models.NewCaptureError(models.ErrCodeInvalidRegion, "try the capture again", err))
		return
	}

	payload := models.ResultPayload{
		Data:     encoded,
		Filename: regionFilename(msg.Rect, sess.SourceURL, time.Now()),
		MimeType: "image/png",
		CaseID:   sess.CaseID,
		Width:    result.Image.Bounds().Dx(),
		Height:   result.Image.Bounds().Dy(),
	}

	if err := c.registry.Delete(ctx, sess.SessionID); err != nil {
		log.Error().Err(err).Str("sessionId", sess.SessionID).Msg("Failed to delete completed session")
	}

	c.deliver(ctx, models.ResultKindRegion, payload, result.Warnings)
}

// cancelSelection drives AWAITING_SELECTION → CANCELLED.
func (c *Coordinator) cancelSelection(ctx context.Context, sessionID string) {
	if err := c.registry.Delete(ctx, sessionID); err != nil {
		log.Error().Err(err).Str("sessionId", sessionID).Msg("Failed to delete cancelled session")
	}
	c.sendToUI(models.MsgRegionCaptureCancelled, models.RegionCaptureCancelledNote{SessionID: sessionID})
	log.Info().Str("sessionId", sessionID).Msg("Region selection cancelled")
}

// sweepSessions expires sessions past the inactivity window (EXPIRED exit)
// and notifies any open UI surface.
func (c *Coordinator) sweepSessions(ctx context.Context) {
	expired, err := c.registry.Sweep(ctx, time.Now())
	if err != nil {
		log.Error().Err(err).Msg("Session sweep failed")
		return
	}
	for _, id := range expired {
		c.sendToUI(models.MsgRegionCaptureCancelled, models.RegionCaptureCancelledNote{SessionID: id})
	}
}

// deliver hands a finished artifact to the mailbox and, when an upload
// client is configured, to case storage. Delivery failure is recovered
// locally by the mailbox fallback and never surfaced as a user error.
func (c *Coordinator) deliver(ctx context.Context, kind models.ResultKind, payload models.ResultPayload, warnings []string) {
	if err := c.mailbox.Deliver(ctx, kind, payload, warnings); err != nil {
		log.Error().Err(err).
			Str("kind", string(kind)).
			Str("code", string(models.CodeOf(err))).
			Msg("Result delivery failed")
		return
	}
	c.stats.CapturesDelivered.Add(1)

	if c.uploader != nil && payload.CaseID != "" {
		if err := c.uploader.UploadResult(ctx, kind, payload); err != nil {
			log.Error().Err(err).Str("caseId", payload.CaseID).Msg("Case upload failed, artifact kept local")
		}
	}
}

// regionFilename names a crop from its selection size, source domain, and a
// timestamp.
func regionFilename(rect models.Rect, sourceURL string, now time.Time) string {
	return fmt.Sprintf("region_%dx%d_%s_%s.png",
		rect.Width, rect.Height, sourceDomain(sourceURL), now.Format("20060102-150405"))
}
