package bridge

import (
	"context"
	"errors"

	"github.com/thebtf/snapcase/internal/coordinator"
)

// ErrNoBrowser is returned by Disconnected for operations that need a
// browser connection.
var ErrNoBrowser = errors.New("bridge: no browser connection configured")

// Disconnected is the Browser used when no DevTools endpoint is configured.
// Tab-scoped operations report no tabs; recovery treats persisted tab
// bindings as dead.
type Disconnected struct{}

func (Disconnected) ActiveTab(context.Context) (*coordinator.TabInfo, error) { return nil, nil }
func (Disconnected) TabExists(context.Context, string) bool                  { return false }
func (Disconnected) WindowExists(context.Context, string) bool               { return false }

func (Disconnected) CaptureVisibleFrame(context.Context, string) ([]byte, error) {
	return nil, ErrNoBrowser
}

func (Disconnected) InjectOverlay(context.Context, string, string) error {
	return ErrNoBrowser
}
