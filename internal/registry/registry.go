// Package registry maps session identifiers to in-flight capture metadata in
// the durable store, so a restarted coordinator can still resolve an overlay
// report against the session that spawned it.
package registry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/thebtf/snapcase/internal/store"
	"github.com/thebtf/snapcase/pkg/models"
)

// Registry provides CaptureSession CRUD over the store.
type Registry struct {
	store *store.Store
}

// New creates a registry over the given store.
func New(s *store.Store) *Registry {
	return &Registry{store: s}
}

func sessionKey(id string) string {
	return store.PrefixRegionSession + id
}

// Create persists a new session. The base frame travels with the session so
// the injected overlay never has to carry the image.
func (r *Registry) Create(ctx context.Context, sess *models.CaptureSession) error {
	if sess.SessionID == "" {
		return fmt.Errorf("registry: session id is required")
	}
	return r.store.Put(ctx, sessionKey(sess.SessionID), sess)
}

// Get loads a session. A missing or expired session is a SessionNotFound.
func (r *Registry) Get(ctx context.Context, id string) (*models.CaptureSession, error) {
	var sess models.CaptureSession
	err := r.store.Get(ctx, sessionKey(id), &sess)
	if errors.Is(err, store.ErrNotFound) {
		return nil, models.ErrSessionNotFound
	}
	if err != nil {
		return nil, err
	}
	if sess.Expired(time.Now()) {
		// The sweep has not run yet; treat it as gone either way.
		_ = r.store.Delete(ctx, sessionKey(id))
		return nil, models.ErrSessionNotFound
	}
	return &sess, nil
}

// Delete removes a session. Every terminal transition calls this, so no
// error path leaves a dangling session.
func (r *Registry) Delete(ctx context.Context, id string) error {
	return r.store.Delete(ctx, sessionKey(id))
}

// List returns all stored sessions, newest first.
func (r *Registry) List(ctx context.Context) ([]*models.CaptureSession, error) {
	entries, err := r.store.ListPrefix(ctx, store.PrefixRegionSession)
	if err != nil {
		return nil, err
	}
	sessions := make([]*models.CaptureSession, 0, len(entries))
	for _, e := range entries {
		var sess models.CaptureSession
		if err := e.Decode(&sess); err != nil {
			log.Warn().Err(err).Str("key", e.Key).Msg("Dropping undecodable session entry")
			_ = r.store.Delete(ctx, e.Key)
			continue
		}
		sessions = append(sessions, &sess)
	}
	return sessions, nil
}

// Sweep removes sessions past the inactivity window and returns the ids it
// expired, so the coordinator can notify any waiting UI surface.
func (r *Registry) Sweep(ctx context.Context, now time.Time) ([]string, error) {
	sessions, err := r.List(ctx)
	if err != nil {
		return nil, err
	}
	var expired []string
	for _, sess := range sessions {
		if !sess.Expired(now) {
			continue
		}
		if err := r.Delete(ctx, sess.SessionID); err != nil {
			return expired, err
		}
		expired = append(expired, sess.SessionID)
	}
	if len(expired) > 0 {
		log.Info().Int("count", len(expired)).Msg("Expired stale capture sessions")
	}
	return expired, nil
}
