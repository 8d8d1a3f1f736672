package coordinator

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/thebtf/snapcase/internal/bus"
	"github.com/thebtf/snapcase/internal/clients"
	"github.com/thebtf/snapcase/internal/mailbox"
	"github.com/thebtf/snapcase/internal/recorder"
	"github.com/thebtf/snapcase/internal/registry"
	"github.com/thebtf/snapcase/internal/store"
	"github.com/thebtf/snapcase/pkg/models"
)

const (
	sessionSweepInterval  = 30 * time.Second
	resultSweepInterval   = time.Hour
	recordingTickInterval = time.Second
)

// Coordinator is the stateful core. It is the sole writer of RecordingState
// and the sole orchestrator of CaptureSession and PendingResult transitions;
// the store is passive backing.
type Coordinator struct {
	store    *store.Store
	bus      bus.Bus
	registry *registry.Registry
	mailbox  *mailbox.Mailbox
	engine   *recorder.Engine
	browser  Browser
	surface  ActionSurface
	uploader *clients.Uploader // optional

	// opMu serializes whole recording operations: phase check, engine
	// call, and the mutate-persist-toggle all happen under it, so the
	// dispatch loop and the HTTP pause/resume handlers never interleave
	// and states land in the store strictly in transition order.
	// recMu covers reads of rec from the state endpoint and the ticker;
	// armed mirrors the action surface mode and is touched under opMu.
	opMu  sync.Mutex
	recMu sync.RWMutex
	rec   models.RecordingState
	armed bool

	stats Stats
}

// Stats counts coordinator activity, exposed on the health endpoint.
type Stats struct {
	MessagesHandled     atomic.Int64
	CapturesDelivered   atomic.Int64
	RecordingsCompleted atomic.Int64
	RecoveriesRun       atomic.Int64
	ErrorsReturned      atomic.Int64
}

// StatsSnapshot is a point-in-time view of Stats.
type StatsSnapshot struct {
	MessagesHandled     int64 `json:"messages_handled"`
	CapturesDelivered   int64 `json:"captures_delivered"`
	RecordingsCompleted int64 `json:"recordings_completed"`
	RecoveriesRun       int64 `json:"recoveries_run"`
	ErrorsReturned      int64 `json:"errors_returned"`
}

// Options wires the coordinator's collaborators.
type Options struct {
	Store    *store.Store
	Bus      bus.Bus
	Engine   *recorder.Engine
	Browser  Browser
	Surface  ActionSurface
	Uploader *clients.Uploader
}

// New builds a coordinator. Call Run to start it.
func New(opts Options) *Coordinator {
	return &Coordinator{
		store:    opts.Store,
		bus:      opts.Bus,
		registry: registry.New(opts.Store),
		mailbox:  mailbox.New(opts.Store, opts.Bus),
		engine:   opts.Engine,
		browser:  opts.Browser,
		surface:  opts.Surface,
		uploader: opts.Uploader,
	}
}

// Run recovers persisted state, then serves the dispatch loop and the
// periodic sweeps until ctx ends. Messages are handled strictly one at a
// time: each transition fully persists before the next message is accepted.
func (c *Coordinator) Run(ctx context.Context) error {
	inbox, detach := c.bus.Attach(models.ContextCoordinator, 64)
	defer detach()

	if err := c.Recover(ctx); err != nil {
		log.Error().Err(err).Msg("Recovery failed, starting from a clean state")
		c.opMu.Lock()
		_ = c.clearRecording(ctx)
		c.opMu.Unlock()
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		for {
			select {
			case env, ok := <-inbox:
				if !ok {
					return nil
				}
				c.handle(ctx, env)
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	})

	g.Go(func() error { return c.runTicker(ctx, sessionSweepInterval, c.sweepSessions) })
	g.Go(func() error {
		return c.runTicker(ctx, resultSweepInterval, func(ctx context.Context) {
			if _, err := c.mailbox.Sweep(ctx, time.Now()); err != nil {
				log.Error().Err(err).Msg("Pending-result sweep failed")
			}
		})
	})
	g.Go(func() error { return c.runTicker(ctx, recordingTickInterval, c.recordingTick) })

	return g.Wait()
}

func (c *Coordinator) runTicker(ctx context.Context, interval time.Duration, fn func(context.Context)) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			fn(ctx)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// handle dispatches one validated inbound message.
func (c *Coordinator) handle(ctx context.Context, env models.Envelope) {
	c.stats.MessagesHandled.Add(1)

	msg, err := models.DecodeEnvelope(env)
	if err != nil {
		log.Warn().Err(err).Str("from", env.From).Msg("Rejected malformed message")
		return
	}

	switch m := msg.(type) {
	case *models.StartRegionCapture:
		c.startRegionCapture(ctx, m.CaseID)
	case *models.RegionSelected:
		c.completeSelection(ctx, m)
	case *models.RegionCancelled:
		c.cancelSelection(ctx, m.SessionID)
	case *models.RecordingStarted:
		c.startRecording(ctx, m)
	case *models.StopRecordingRequest:
		c.stopRecording(ctx)
	case *models.PopupOpened:
		c.onPopupOpened(ctx)
	case *models.GetRecordingState:
		c.sendToUI(models.MsgRecordingStateReport, c.Snapshot())
	default:
		log.Warn().Str("type", string(env.Type)).Msg("No handler for message type")
	}
}

// onPopupOpened reports recording state and flushes any parked result.
func (c *Coordinator) onPopupOpened(ctx context.Context) {
	c.sendToUI(models.MsgRecordingStateReport, c.Snapshot())
	if err := c.mailbox.OnSurfaceOpened(ctx); err != nil {
		log.Error().Err(err).Msg("Pending-result handoff failed")
	}
}

// sendToUI pushes an outbound message at the UI surface, best effort.
func (c *Coordinator) sendToUI(typ models.MessageType, payload any) {
	env, err := models.NewEnvelope(typ, models.ContextCoordinator, payload)
	if err != nil {
		log.Error().Err(err).Str("type", string(typ)).Msg("Failed to encode outbound message")
		return
	}
	c.bus.Send(models.ContextUI, env)
}

// sendError reports a capture-path failure to the UI surface.
func (c *Coordinator) sendError(typ models.MessageType, cerr *models.CaptureError) {
	c.stats.ErrorsReturned.Add(1)
	log.Warn().Str("code", string(cerr.Code)).Str("type", string(typ)).Msg("Capture failed")
	c.sendToUI(typ, models.CaptureFailure{Error: *cerr})
}

// GetStats returns a snapshot of coordinator activity.
func (c *Coordinator) GetStats() StatsSnapshot {
	return StatsSnapshot{
		MessagesHandled:     c.stats.MessagesHandled.Load(),
		CapturesDelivered:   c.stats.CapturesDelivered.Load(),
		RecordingsCompleted: c.stats.RecordingsCompleted.Load(),
		RecoveriesRun:       c.stats.RecoveriesRun.Load(),
		ErrorsReturned:      c.stats.ErrorsReturned.Load(),
	}
}
