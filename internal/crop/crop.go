// Package crop maps a user-dragged page-pixel rectangle onto a captured
// frame's native pixels and renders an accurately cropped image.
package crop

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math"

	xdraw "golang.org/x/image/draw"

	"github.com/thebtf/snapcase/pkg/models"
)

// Result is a finished crop plus any non-fatal validation warnings
// (clamped or out-of-frame selections are warnings, never errors).
type Result struct {
	Image    *image.RGBA
	Warnings []string
}

// Crop cuts rect out of frame. rect is in page (CSS) pixels; the source
// region is rect scaled by devicePixelRatio × zoomFactor, clamped to the
// frame bounds. The output canvas is sized to the ORIGINAL page-pixel rect so
// device scaling never leaks into the result.
func Crop(frame image.Image, rect models.Rect, scaling models.ScalingInfo) (*Result, error) {
	if frame == nil {
		return nil, fmt.Errorf("crop: nil frame")
	}
	if rect.Width <= 0 || rect.Height <= 0 {
		return nil, fmt.Errorf("crop: malformed rectangle %dx%d", rect.Width, rect.Height)
	}

	var warnings []string
	scale := scaling.Scale()

	// Map into native pixel space.
	src := image.Rect(
		int(math.Round(float64(rect.X)*scale)),
		int(math.Round(float64(rect.Y)*scale)),
		int(math.Round(float64(rect.X+rect.Width)*scale)),
		int(math.Round(float64(rect.Y+rect.Height)*scale)),
	)

	// Clamp to the frame; never read outside the source image.
	bounds := frame.Bounds()
	clamped := src.Intersect(bounds)
	if clamped.Empty() {
		// Entirely outside the captured frame: fall back to a 1×1 floor at
		// the nearest corner rather than failing with a zero-area crop.
		x := clampInt(src.Min.X, bounds.Min.X, bounds.Max.X-1)
		y := clampInt(src.Min.Y, bounds.Min.Y, bounds.Max.Y-1)
		clamped = image.Rect(x, y, x+1, y+1)
		warnings = append(warnings, "selection lies outside the captured frame; captured a 1x1 fallback")
	} else if clamped != src {
		warnings = append(warnings, "selection partially outside the captured frame; edges were clamped")
	}

	dstW, dstH := rect.Width, rect.Height
	if len(warnings) > 0 && clamped.Dx() == 1 && clamped.Dy() == 1 {
		dstW, dstH = 1, 1
	}

	dst := image.NewRGBA(image.Rect(0, 0, dstW, dstH))
	// White background first, so semi-transparent edges don't produce
	// artifacts in the lossless output.
	xdraw.Draw(dst, dst.Bounds(), image.NewUniform(color.White), image.Point{}, xdraw.Src)
	xdraw.ApproxBiLinear.Scale(dst, dst.Bounds(), frame, clamped, xdraw.Over, nil)

	return &Result{Image: dst, Warnings: warnings}, nil
}

// EncodePNG encodes the crop losslessly.
func EncodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}

// DecodePNG decodes a stored base frame.
func DecodePNG(data []byte) (image.Image, error) {
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode png: %w", err)
	}
	return img, nil
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
