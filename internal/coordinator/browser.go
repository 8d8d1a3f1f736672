// Package coordinator owns the authoritative capture state machines and
// mediates between UI surfaces, the selection overlay, and the capture
// engines. It is written to be torn down and relaunched at any point: every
// state needed for correctness is persisted with the transition that
// produced it, and reconstructed on cold start.
package coordinator

import (
	"context"
	"net/url"
	"strings"
)

// TabInfo describes one capturable page.
type TabInfo struct {
	ID       string
	WindowID string
	URL      string
	Title    string
}

// Browser is the host-environment boundary: tab lookup, visible-frame
// capture, and overlay injection. The chromedp bridge implements it in
// production; tests use a fake.
type Browser interface {
	// ActiveTab returns the currently focused page, or nil when none exists.
	ActiveTab(ctx context.Context) (*TabInfo, error)
	TabExists(ctx context.Context, tabID string) bool
	WindowExists(ctx context.Context, windowID string) bool
	// CaptureVisibleFrame returns a PNG of the tab's visible viewport.
	CaptureVisibleFrame(ctx context.Context, tabID string) ([]byte, error)
	// InjectOverlay injects the drag-to-select overlay, passing only the
	// session id. The overlay reports back over the bus and self-destructs.
	InjectOverlay(ctx context.Context, tabID, sessionID string) error
}

// ActionSurface flips the UI surfaces' primary action between normal
// popup mode and click-to-stop mode, including the badge state. The toggle
// happens inside the same recording mutation as the state transition, so
// there is no window where a click does nothing or opens the wrong surface.
type ActionSurface interface {
	SetClickToStop(armed bool) error
}

// restrictedSchemes lists host-internal pages that cannot be captured.
var restrictedSchemes = []string{
	"chrome:", "chrome-extension:", "devtools:", "edge:", "about:", "view-source:",
}

// IsRestrictedURL reports whether the page is host-internal.
func IsRestrictedURL(raw string) bool {
	lower := strings.ToLower(strings.TrimSpace(raw))
	for _, scheme := range restrictedSchemes {
		if strings.HasPrefix(lower, scheme) {
			return true
		}
	}
	return false
}

// sourceDomain extracts the host for filename generation, with a fallback
// for opaque or unparseable URLs.
func sourceDomain(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Hostname() == "" {
		return "page"
	}
	return u.Hostname()
}
