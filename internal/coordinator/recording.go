package coordinator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/thebtf/snapcase/internal/recorder"
	"github.com/thebtf/snapcase/internal/store"
	"github.com/thebtf/snapcase/pkg/models"
)

// mutateRecording is the ONE write path for RecordingState. It applies the
// mutation, persists the result to the store before returning, and keeps the
// action surface mode in lockstep with the state; both flip inside the same
// call, before the next message can be observed. The caller holds opMu.
func (c *Coordinator) mutateRecording(ctx context.Context, fn func(*models.RecordingState)) error {
	c.recMu.Lock()
	fn(&c.rec)
	state := c.rec
	c.recMu.Unlock()

	var err error
	if state.Phase.Active() {
		err = c.store.Put(ctx, store.KeyRecordingState, &state)
	} else {
		err = c.store.Delete(ctx, store.KeyRecordingState)
	}
	if err != nil {
		return fmt.Errorf("persist recording state: %w", err)
	}

	wantArmed := state.IsRecording
	if wantArmed != c.armed {
		if err := c.surface.SetClickToStop(wantArmed); err != nil {
			log.Error().Err(err).Bool("armed", wantArmed).Msg("Failed to toggle action surface")
		}
		c.armed = wantArmed
	}
	return nil
}

func (c *Coordinator) clearRecording(ctx context.Context) error {
	return c.mutateRecording(ctx, func(r *models.RecordingState) {
		*r = models.RecordingState{Phase: models.RecordingIdle}
	})
}

// Snapshot returns the externally visible recording state.
func (c *Coordinator) Snapshot() models.RecordingSnapshot {
	c.recMu.RLock()
	defer c.recMu.RUnlock()
	phase := c.rec.Phase
	if phase == "" {
		phase = models.RecordingIdle
	}
	return models.RecordingSnapshot{
		IsRecording:   c.rec.IsRecording,
		Phase:         phase,
		RecordingType: c.rec.RecordingType,
		StartTime:     c.rec.StartTime,
		Elapsed:       c.rec.Elapsed(time.Now()),
	}
}

func (c *Coordinator) phase() models.RecordingPhase {
	c.recMu.RLock()
	defer c.recMu.RUnlock()
	if c.rec.Phase == "" {
		return models.RecordingIdle
	}
	return c.rec.Phase
}

// startRecording drives IDLE → STARTING → RECORDING.
func (c *Coordinator) startRecording(ctx context.Context, msg *models.RecordingStarted) {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	if c.phase() != models.RecordingIdle {
		c.sendError(models.MsgVideoResultError, models.ErrAlreadyRecording)
		return
	}

	if err := c.mutateRecording(ctx, func(r *models.RecordingState) {
		*r = models.RecordingState{Phase: models.RecordingStarting, RecordingType: msg.Type, CaseID: msg.CaseID}
	}); err != nil {
		log.Error().Err(err).Msg("Failed to enter starting phase")
		return
	}

	// Bind the context that will own the media stream.
	var boundTab, boundWindow string
	opts := recorder.Options{}
	if msg.Type == models.RecordingTypeTab {
		tab := c.resolveRecordingTab(ctx, msg.TabID)
		if tab == nil {
			_ = c.clearRecording(ctx)
			c.sendError(models.MsgVideoResultError, models.ErrNoActiveTab)
			return
		}
		boundTab = tab.ID
		boundWindow = tab.WindowID
		opts.TabID = tab.ID
	}

	// Acquisition can block on a user-driven permission prompt.
	if err := c.engine.Start(ctx, msg.Type, opts); err != nil {
		_ = c.clearRecording(ctx)
		var cerr *models.CaptureError
		if !errors.As(err, &cerr) {
			cerr = models.NewCaptureError(models.ErrCodeStreamDenied, "grant screen capture permission and retry", err)
		}
		c.sendError(models.MsgVideoResultError, cerr)
		return
	}

	if err := c.mutateRecording(ctx, func(r *models.RecordingState) {
		r.Phase = models.RecordingActive
		r.IsRecording = true
		r.BoundTabID = boundTab
		r.BoundWindowID = boundWindow
		r.StartTime = time.Now()
		r.PausedTotal = 0
		r.PausedSince = time.Time{}
	}); err != nil {
		log.Error().Err(err).Msg("Failed to persist recording start")
		_ = c.engine.Cancel()
		_ = c.clearRecording(ctx)
		return
	}

	log.Info().Str("type", string(msg.Type)).Str("boundTab", boundTab).Msg("Recording started")
	c.sendToUI(models.MsgRecordingStateReport, c.Snapshot())
}

func (c *Coordinator) resolveRecordingTab(ctx context.Context, tabID string) *TabInfo {
	if tabID != "" && c.browser.TabExists(ctx, tabID) {
		return &TabInfo{ID: tabID}
	}
	tab, err := c.browser.ActiveTab(ctx)
	if err != nil || tab == nil {
		return nil
	}
	return tab
}

// PauseRecording is a no-op outside RECORDING.
func (c *Coordinator) PauseRecording(ctx context.Context) {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	if c.phase() != models.RecordingActive {
		return
	}
	if err := c.engine.Pause(); err != nil {
		log.Error().Err(err).Msg("Stream pause failed")
		return
	}
	_ = c.mutateRecording(ctx, func(r *models.RecordingState) {
		r.Phase = models.RecordingPaused
		r.PausedSince = time.Now()
	})
}

// ResumeRecording is a no-op outside PAUSED. The pause interval is folded
// into PausedTotal exactly once, so duration is never lost or double-counted.
func (c *Coordinator) ResumeRecording(ctx context.Context) {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	if c.phase() != models.RecordingPaused {
		return
	}
	if err := c.engine.Resume(); err != nil {
		log.Error().Err(err).Msg("Stream resume failed")
		return
	}
	_ = c.mutateRecording(ctx, func(r *models.RecordingState) {
		r.Phase = models.RecordingActive
		if !r.PausedSince.IsZero() {
			r.PausedTotal += time.Since(r.PausedSince)
			r.PausedSince = time.Time{}
		}
	})
}

// stopRecording drives RECORDING|PAUSED → STOPPING → COMPLETED → IDLE and
// hands the artifact to the delivery path.
func (c *Coordinator) stopRecording(ctx context.Context) {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	phase := c.phase()
	if phase != models.RecordingActive && phase != models.RecordingPaused {
		return
	}

	if err := c.mutateRecording(ctx, func(r *models.RecordingState) {
		if r.Phase == models.RecordingPaused && !r.PausedSince.IsZero() {
			r.PausedTotal += time.Since(r.PausedSince)
			r.PausedSince = time.Time{}
		}
		r.Phase = models.RecordingStopping
	}); err != nil {
		log.Error().Err(err).Msg("Failed to enter stopping phase")
		return
	}

	c.recMu.RLock()
	caseID := c.rec.CaseID
	recType := c.rec.RecordingType
	elapsed := c.rec.Elapsed(time.Now())
	c.recMu.RUnlock()

	artifact, err := c.engine.Stop(ctx)
	if err != nil {
		// A recording adopted across a restart has no stream in this
		// process; the state is cleared either way so the UI never hangs.
		_ = c.clearRecording(ctx)
		c.sendError(models.MsgVideoResultError,
			models.NewCaptureError(models.ErrCodeStreamDenied, "the recording could not be finalized", err))
		return
	}

	_ = c.mutateRecording(ctx, func(r *models.RecordingState) {
		r.Phase = models.RecordingCompleted
		r.IsRecording = false
	})

	payload := models.ResultPayload{
		Data:     artifact.Data,
		Filename: fmt.Sprintf("recording_%s_%s.webm", string(recType), time.Now().Format("20060102-150405")),
		MimeType: artifact.MimeType,
		CaseID:   caseID,
		Duration: elapsed,
	}

	if err := c.clearRecording(ctx); err != nil {
		log.Error().Err(err).Msg("Failed to clear recording state")
	}

	c.stats.RecordingsCompleted.Add(1)
	c.deliver(ctx, models.ResultKindVideo, payload, nil)
}

// cancelRecording discards buffered media from any active state. The caller
// holds opMu.
func (c *Coordinator) cancelRecording(ctx context.Context, reason string) {
	if !c.phase().Active() {
		return
	}
	if err := c.engine.Cancel(); err != nil {
		log.Warn().Err(err).Msg("Stream discard failed")
	}
	if err := c.clearRecording(ctx); err != nil {
		log.Error().Err(err).Msg("Failed to clear cancelled recording")
	}
	log.Info().Str("reason", reason).Msg("Recording cancelled")
	c.sendToUI(models.MsgRecordingStateReport, c.Snapshot())
}

// Recover reconstructs recording state after a cold start. If the bound
// tab/window is still alive the recording is re-entered with its start time
// and accounting intact; otherwise the abandoned state is cleared. Either
// way the action surface ends in the right mode.
func (c *Coordinator) Recover(ctx context.Context) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	var persisted models.RecordingState
	err := c.store.Get(ctx, store.KeyRecordingState, &persisted)
	if errors.Is(err, store.ErrNotFound) {
		return c.clearRecording(ctx)
	}
	if err != nil {
		return err
	}

	c.stats.RecoveriesRun.Add(1)

	alive := c.boundContextAlive(ctx, &persisted)
	if !alive {
		log.Warn().Str("boundTab", persisted.BoundTabID).Msg("Recovered recording is abandoned, clearing")
		return c.clearRecording(ctx)
	}

	return c.mutateRecording(ctx, func(r *models.RecordingState) {
		*r = persisted
		if r.Phase == models.RecordingStarting || r.Phase == models.RecordingStopping {
			// The interrupted transition never finished; re-enter the last
			// stable recording phase.
			r.Phase = models.RecordingActive
		}
		r.IsRecording = true
	})
}

func (c *Coordinator) boundContextAlive(ctx context.Context, r *models.RecordingState) bool {
	if r.BoundTabID != "" {
		return c.browser.TabExists(ctx, r.BoundTabID)
	}
	if r.BoundWindowID != "" {
		return c.browser.WindowExists(ctx, r.BoundWindowID)
	}
	// Desktop recordings are not bound to a page; the stream itself is the
	// liveness signal.
	return c.engine.Active() || r.RecordingType == models.RecordingTypeDesktop
}

// TabRemoved treats removal of the bound tab as an implicit cancel.
func (c *Coordinator) TabRemoved(ctx context.Context, tabID string) {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.recMu.RLock()
	bound := c.rec.BoundTabID
	c.recMu.RUnlock()
	if bound != "" && bound == tabID && c.phase().Active() {
		c.cancelRecording(ctx, "bound tab removed")
	}
}

// recordingTick emits the periodic state snapshot and verifies the bound
// context still exists.
func (c *Coordinator) recordingTick(ctx context.Context) {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	phase := c.phase()
	if phase != models.RecordingActive && phase != models.RecordingPaused {
		return
	}

	c.recMu.RLock()
	state := c.rec
	c.recMu.RUnlock()

	if !c.boundContextAlive(ctx, &state) {
		c.cancelRecording(ctx, "bound context disappeared")
		return
	}

	env, err := models.NewEnvelope(models.MsgRecordingTick, models.ContextCoordinator, c.Snapshot())
	if err != nil {
		return
	}
	c.bus.Broadcast(env)
}
