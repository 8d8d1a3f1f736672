package bridge

import (
	"context"
	"fmt"

	"github.com/chromedp/chromedp"
)

// overlayScript is the drag-to-select overlay injected into the target page.
// It draws a selection rectangle, then reports the result to the daemon's
// message endpoint and removes itself. The page only ever learns the session
// id; cropping happens daemon-side against the already captured frame.
const overlayScript = `
(function (sessionId, endpoint) {
  if (window.__snapcaseOverlay) return;
  window.__snapcaseOverlay = true;

  var overlay = document.createElement('div');
  overlay.style.cssText = 'position:fixed;inset:0;z-index:2147483647;cursor:crosshair;background:rgba(0,0,0,0.15);';
  var box = document.createElement('div');
  box.style.cssText = 'position:fixed;border:1px dashed #fff;background:rgba(255,255,255,0.2);display:none;';
  overlay.appendChild(box);
  document.documentElement.appendChild(overlay);

  var startX = 0, startY = 0, dragging = false;

  function send(type, payload) {
    fetch(endpoint, {
      method: 'POST',
      headers: { 'Content-Type': 'application/json' },
      body: JSON.stringify({ type: type, from: 'overlay', payload: payload })
    }).catch(function () {});
  }

  function teardown() {
    overlay.remove();
    delete window.__snapcaseOverlay;
    document.removeEventListener('keydown', onKey, true);
  }

  function onKey(e) {
    if (e.key !== 'Escape') return;
    e.preventDefault();
    send('REGION_CANCELLED', { sessionId: sessionId });
    teardown();
  }

  overlay.addEventListener('mousedown', function (e) {
    dragging = true;
    startX = e.clientX;
    startY = e.clientY;
    box.style.display = 'block';
  });

  overlay.addEventListener('mousemove', function (e) {
    if (!dragging) return;
    var x = Math.min(startX, e.clientX), y = Math.min(startY, e.clientY);
    var w = Math.abs(e.clientX - startX), h = Math.abs(e.clientY - startY);
    box.style.left = x + 'px';
    box.style.top = y + 'px';
    box.style.width = w + 'px';
    box.style.height = h + 'px';
  });

  overlay.addEventListener('mouseup', function (e) {
    if (!dragging) return;
    dragging = false;
    var rect = {
      x: Math.min(startX, e.clientX),
      y: Math.min(startY, e.clientY),
      width: Math.abs(e.clientX - startX),
      height: Math.abs(e.clientY - startY)
    };
    send('REGION_SELECTED', {
      sessionId: sessionId,
      rect: rect,
      scalingInfo: {
        devicePixelRatio: window.devicePixelRatio || 1,
        zoomFactor: 1
      }
    });
    teardown();
  });

  document.addEventListener('keydown', onKey, true);
})(%q, %q);
`

// InjectOverlay injects the selection overlay into the tab. The overlay
// reports back through the daemon's /api/message endpoint.
func (c *Chrome) InjectOverlay(ctx context.Context, tabID, sessionID string) error {
	endpoint := fmt.Sprintf("http://127.0.0.1:%d/api/message", c.port)
	script := fmt.Sprintf(overlayScript, sessionID, endpoint)

	opCtx, cancel := c.tabCtx(tabID)
	defer cancel()

	if err := chromedp.Run(opCtx, chromedp.Evaluate(script, nil)); err != nil {
		return fmt.Errorf("inject overlay into tab %s: %w", tabID, err)
	}
	return nil
}
