package bridge

import (
	"context"
	"fmt"
	"strconv"

	"github.com/chromedp/cdproto/browser"
	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"

	"github.com/thebtf/snapcase/internal/coordinator"
)

// ActiveTab returns the most recently focused page, or nil when the browser
// has no page targets. CDP orders the target list most-recent-first.
func (c *Chrome) ActiveTab(ctx context.Context) (*coordinator.TabInfo, error) {
	pages, err := c.pageTargets(ctx)
	if err != nil {
		return nil, err
	}
	if len(pages) == 0 {
		return nil, nil
	}
	info := pages[0]
	windowID, err := c.windowForTarget(info.TargetID)
	if err != nil {
		return nil, err
	}
	return &coordinator.TabInfo{
		ID:       string(info.TargetID),
		WindowID: windowID,
		URL:      info.URL,
		Title:    info.Title,
	}, nil
}

// TabExists reports whether the tab is still open.
func (c *Chrome) TabExists(ctx context.Context, tabID string) bool {
	pages, err := c.pageTargets(ctx)
	if err != nil {
		return false
	}
	for _, info := range pages {
		if string(info.TargetID) == tabID {
			return true
		}
	}
	return false
}

// WindowExists reports whether any open tab still belongs to the window.
func (c *Chrome) WindowExists(ctx context.Context, windowID string) bool {
	pages, err := c.pageTargets(ctx)
	if err != nil {
		return false
	}
	for _, info := range pages {
		id, err := c.windowForTarget(info.TargetID)
		if err != nil {
			continue
		}
		if id == windowID {
			return true
		}
	}
	return false
}

// CaptureVisibleFrame screenshots the tab's visible viewport as PNG.
func (c *Chrome) CaptureVisibleFrame(ctx context.Context, tabID string) ([]byte, error) {
	opCtx, cancel := c.tabCtx(tabID)
	defer cancel()

	var buf []byte
	if err := chromedp.Run(opCtx, chromedp.CaptureScreenshot(&buf)); err != nil {
		return nil, fmt.Errorf("capture tab %s: %w", tabID, err)
	}
	return buf, nil
}

func (c *Chrome) windowForTarget(id target.ID) (string, error) {
	opCtx, cancel := context.WithTimeout(c.browserCtx, opTimeout)
	defer cancel()

	var windowID browser.WindowID
	err := chromedp.Run(opCtx, chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		windowID, _, err = browser.GetWindowForTarget().WithTargetID(id).Do(ctx)
		return err
	}))
	if err != nil {
		return "", fmt.Errorf("window for target %s: %w", id, err)
	}
	return strconv.FormatInt(int64(windowID), 10), nil
}
