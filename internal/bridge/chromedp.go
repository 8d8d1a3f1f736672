// Package bridge connects the daemon to a running Chrome instance over the
// DevTools protocol: tab discovery, viewport capture, and overlay injection.
package bridge

import (
	"context"
	"fmt"
	"time"

	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"
	"github.com/rs/zerolog/log"
)

const opTimeout = 15 * time.Second

// Chrome talks to one browser instance over CDP.
type Chrome struct {
	allocCtx      context.Context
	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc
	port          int
}

// Connect attaches to the DevTools endpoint, e.g. ws://127.0.0.1:9222.
// port is the daemon's own HTTP port, handed to the injected overlay so it
// can report selections back.
func Connect(ctx context.Context, devtoolsURL string, port int) (*Chrome, error) {
	allocCtx, allocCancel := chromedp.NewRemoteAllocator(ctx, devtoolsURL)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)

	// Establish the connection eagerly so a bad endpoint fails here, not on
	// the first capture.
	probeCtx, cancel := context.WithTimeout(browserCtx, opTimeout)
	defer cancel()
	if _, err := chromedp.Targets(probeCtx); err != nil {
		browserCancel()
		allocCancel()
		return nil, fmt.Errorf("connect to devtools at %s: %w", devtoolsURL, err)
	}

	log.Info().Str("devtools", devtoolsURL).Msg("Connected to browser")
	return &Chrome{
		allocCtx:      allocCtx,
		allocCancel:   allocCancel,
		browserCtx:    browserCtx,
		browserCancel: browserCancel,
		port:          port,
	}, nil
}

// Close detaches from the browser without closing it.
func (c *Chrome) Close() {
	c.browserCancel()
	c.allocCancel()
}

func (c *Chrome) pageTargets(ctx context.Context) ([]*target.Info, error) {
	opCtx, cancel := context.WithTimeout(c.browserCtx, opTimeout)
	defer cancel()
	infos, err := chromedp.Targets(opCtx)
	if err != nil {
		return nil, fmt.Errorf("list targets: %w", err)
	}
	pages := make([]*target.Info, 0, len(infos))
	for _, info := range infos {
		if info.Type == "page" {
			pages = append(pages, info)
		}
	}
	return pages, nil
}

// tabCtx opens a short-lived context attached to one tab.
func (c *Chrome) tabCtx(tabID string) (context.Context, context.CancelFunc) {
	tctx, tcancel := chromedp.NewContext(c.browserCtx, chromedp.WithTargetID(target.ID(tabID)))
	opCtx, opCancel := context.WithTimeout(tctx, opTimeout)
	return opCtx, func() {
		opCancel()
		tcancel()
	}
}
