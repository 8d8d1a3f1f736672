// Package mailbox holds completed capture results while no UI surface is
// alive to receive them. The bus is the fast path; the store is the fallback
// that makes delivery survive surface and coordinator restarts, with
// at-most-once semantics guarded by a durable delivered flag.
package mailbox

import (
	"context"
	"fmt"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/thebtf/snapcase/internal/bus"
	"github.com/thebtf/snapcase/internal/store"
	"github.com/thebtf/snapcase/pkg/models"
)

// Mailbox mediates result delivery between the coordinator and UI surfaces.
type Mailbox struct {
	store *store.Store
	bus   bus.Bus
}

// New creates a mailbox over the given store and bus.
func New(s *store.Store, b bus.Bus) *Mailbox {
	return &Mailbox{store: s, bus: b}
}

func resultKey(kind models.ResultKind, id string) string {
	if kind == models.ResultKindVideo {
		return store.PrefixPendingVideo + id
	}
	return store.PrefixPendingRegion + id
}

func pendingPrefix(kind models.ResultKind) string {
	if kind == models.ResultKindVideo {
		return store.PrefixPendingVideo
	}
	return store.PrefixPendingRegion
}

func hasPendingKey(kind models.ResultKind) string {
	if kind == models.ResultKindVideo {
		return store.KeyHasPendingVideo
	}
	return store.KeyHasPendingRegion
}

func deliveryType(kind models.ResultKind) models.MessageType {
	if kind == models.ResultKindVideo {
		return models.MsgVideoResultDelivery
	}
	return models.MsgRegionCaptureCompleted
}

// Deliver attempts immediate delivery to any open UI surface, and parks the
// result in the store when nobody is listening. The parked case is not an
// error: the next POPUP_OPENED picks it up.
func (m *Mailbox) Deliver(ctx context.Context, kind models.ResultKind, payload models.ResultPayload, warnings []string) error {
	env, err := models.NewEnvelope(deliveryType(kind), models.ContextCoordinator,
		models.ResultDelivery{Data: payload, Warnings: warnings})
	if err != nil {
		return err
	}

	if n := m.bus.Send(models.ContextUI, env); n > 0 {
		log.Debug().Str("kind", string(kind)).Int("receivers", n).Msg("Result delivered directly")
		return nil
	}

	result := &models.PendingResult{
		ResultID:  uuid.NewString(),
		Kind:      kind,
		Payload:   payload,
		Timestamp: time.Now(),
		Delivered: false,
	}
	if err := m.store.Put(ctx, resultKey(kind, result.ResultID), result); err != nil {
		return models.NewCaptureError(models.ErrCodeDeliveryFailed,
			"reopen the popup to retry delivery", fmt.Errorf("park pending result: %w", err))
	}
	if err := m.store.Put(ctx, hasPendingKey(kind), true); err != nil {
		return models.NewCaptureError(models.ErrCodeDeliveryFailed,
			"reopen the popup to retry delivery", err)
	}
	log.Info().Str("kind", string(kind)).Str("resultId", result.ResultID).Msg("No UI surface open, result parked")
	return nil
}

// OnSurfaceOpened delivers the most recent undelivered result, if any.
// The delivered flag is checked-and-set durably BEFORE the message goes out,
// so repeated open/close cycles can never produce a second delivery.
func (m *Mailbox) OnSurfaceOpened(ctx context.Context) error {
	for _, kind := range []models.ResultKind{models.ResultKindVideo, models.ResultKindRegion} {
		if err := m.deliverNewest(ctx, kind); err != nil {
			return err
		}
	}
	return nil
}

func (m *Mailbox) deliverNewest(ctx context.Context, kind models.ResultKind) error {
	entries, err := m.store.ListPrefix(ctx, pendingPrefix(kind))
	if err != nil {
		return err
	}

	remaining := 0
	var chosen *models.PendingResult
	for _, e := range entries {
		var res models.PendingResult
		if err := e.Decode(&res); err != nil {
			log.Warn().Err(err).Str("key", e.Key).Msg("Dropping undecodable pending result")
			_ = m.store.Delete(ctx, e.Key)
			continue
		}
		if res.Delivered {
			continue
		}
		remaining++
		if chosen == nil { // entries are newest first
			chosen = &res
		}
	}

	if chosen == nil {
		return m.store.Delete(ctx, hasPendingKey(kind))
	}

	// Claim the result durably first. A concurrent or repeated open finds
	// Delivered=true and does nothing.
	claimed := false
	key := resultKey(kind, chosen.ResultID)
	err = m.store.CheckAndSet(ctx, key, func(current []byte) (any, bool, error) {
		if current == nil {
			return nil, false, nil
		}
		var res models.PendingResult
		if err := json.Unmarshal(current, &res); err != nil {
			return nil, false, err
		}
		if res.Delivered {
			return nil, false, nil
		}
		res.Delivered = true
		claimed = true
		chosen = &res
		return &res, true, nil
	})
	if err != nil {
		return err
	}
	if !claimed {
		return nil
	}

	env, err := models.NewEnvelope(deliveryType(kind), models.ContextCoordinator,
		models.ResultDelivery{Data: chosen.Payload})
	if err != nil {
		return err
	}
	if n := m.bus.Send(models.ContextUI, env); n == 0 {
		// The surface vanished between announcing itself and the send.
		// At-most-once means the claim stands; the result is not re-queued.
		log.Warn().Str("resultId", chosen.ResultID).Msg("Surface closed before pending result delivery")
	}
	if err := m.store.Delete(ctx, key); err != nil {
		return err
	}
	if remaining <= 1 {
		return m.store.Delete(ctx, hasPendingKey(kind))
	}
	return nil
}

// Sweep purges results past the retention window. Returns removals.
func (m *Mailbox) Sweep(ctx context.Context, now time.Time) (int64, error) {
	cutoff := now.Add(-models.ResultRetention)
	var total int64
	for _, prefix := range []string{store.PrefixPendingVideo, store.PrefixPendingRegion} {
		n, err := m.store.DeleteOlderThan(ctx, prefix, cutoff)
		if err != nil {
			return total, err
		}
		total += n
	}
	if total > 0 {
		log.Info().Int64("count", total).Msg("Purged expired pending results")
	}
	return total, nil
}
