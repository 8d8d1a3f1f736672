// Package recorder wraps the platform's media-capture primitives into
// start/pause/resume/stop/cancel operations. The coordinator owns the state
// machine; this package owns the single active stream.
package recorder

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/thebtf/snapcase/pkg/models"
)

// ErrUnsupported is reported by a Source that cannot serve the requested
// recording type. The coordinator surfaces it as a stream-acquisition denial
// rather than silently switching strategy.
var ErrUnsupported = errors.New("recorder: recording type not supported by this source")

// Options carries acquisition parameters.
type Options struct {
	TabID    string // tab-scoped capture target
	WindowID string // desktop/window-scoped capture target
}

// Artifact is a finalized media capture.
type Artifact struct {
	Data     []byte
	MimeType string
	Duration time.Duration
}

// Stream is one live media capture. Exactly one may exist at a time,
// enforced by the Engine.
type Stream interface {
	Pause() error
	Resume() error
	// Stop finalizes the media artifact.
	Stop(ctx context.Context) (Artifact, error)
	// Discard throws away buffered media without producing a result.
	Discard() error
}

// Source acquires a media stream for one recording strategy. Tab-scoped and
// desktop/window-scoped acquisition are two Sources behind this interface.
type Source interface {
	Acquire(ctx context.Context, typ models.RecordingType, opts Options) (Stream, error)
}

// Engine guards the single active stream and exposes the capture operations
// the coordinator drives.
type Engine struct {
	sources map[models.RecordingType]Source

	mu     sync.Mutex
	stream Stream
}

// NewEngine builds an engine over the given per-type sources.
func NewEngine(sources map[models.RecordingType]Source) *Engine {
	return &Engine{sources: sources}
}

// Start acquires a stream of the requested type. The acquisition may block
// on a user-driven permission prompt, so the context matters.
func (e *Engine) Start(ctx context.Context, typ models.RecordingType, opts Options) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stream != nil {
		return models.ErrAlreadyRecording
	}

	src, ok := e.sources[typ]
	if !ok {
		return models.NewCaptureError(models.ErrCodeStreamDenied,
			"this build has no source for the requested capture type",
			fmt.Errorf("%w: %s", ErrUnsupported, typ))
	}
	stream, err := src.Acquire(ctx, typ, opts)
	if err != nil {
		if errors.Is(err, ErrUnsupported) {
			return models.NewCaptureError(models.ErrCodeStreamDenied,
				"the requested capture type is unavailable here", err)
		}
		return models.NewCaptureError(models.ErrCodeStreamDenied,
			"grant screen capture permission and retry", err)
	}
	e.stream = stream
	return nil
}

// Pause pauses the active stream.
func (e *Engine) Pause() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stream == nil {
		return nil
	}
	return e.stream.Pause()
}

// Resume resumes the active stream.
func (e *Engine) Resume() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stream == nil {
		return nil
	}
	return e.stream.Resume()
}

// Stop finalizes and releases the active stream.
func (e *Engine) Stop(ctx context.Context) (Artifact, error) {
	e.mu.Lock()
	stream := e.stream
	e.stream = nil
	e.mu.Unlock()
	if stream == nil {
		return Artifact{}, errors.New("recorder: no active stream")
	}
	return stream.Stop(ctx)
}

// Cancel discards and releases the active stream. Safe to call when idle.
func (e *Engine) Cancel() error {
	e.mu.Lock()
	stream := e.stream
	e.stream = nil
	e.mu.Unlock()
	if stream == nil {
		return nil
	}
	return stream.Discard()
}

// Active reports whether a stream is currently held.
func (e *Engine) Active() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stream != nil
}
