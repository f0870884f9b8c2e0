package compositor

import (
	"image"
	"math"

	"golang.org/x/image/draw"
)

// coverWindow computes the source-image window that, scaled to dstW x dstH,
// fills the destination the way CSS object-fit: cover does. zoom >= 1
// magnifies about the window center; offX/offY pan the image in destination
// pixels. The window is clamped inside the source so sampling never leaves
// the image.
func coverWindow(src image.Rectangle, dstW, dstH int, zoom, offX, offY float64) image.Rectangle {
	sw := float64(src.Dx())
	sh := float64(src.Dy())
	if sw <= 0 || sh <= 0 || dstW <= 0 || dstH <= 0 {
		return image.Rectangle{}
	}

	scale := math.Max(float64(dstW)/sw, float64(dstH)/sh)
	if zoom > 1 {
		scale *= zoom
	}

	winW := float64(dstW) / scale
	winH := float64(dstH) / scale

	// Positive offsets move the picture right/down, so the sampling window
	// moves the opposite way.
	cx := sw/2 - offX/scale
	cy := sh/2 - offY/scale

	x0 := clampF(cx-winW/2, 0, sw-winW)
	y0 := clampF(cy-winH/2, 0, sh-winH)

	r := image.Rect(
		int(math.Round(x0)),
		int(math.Round(y0)),
		int(math.Round(x0+winW)),
		int(math.Round(y0+winH)),
	)
	return r.Add(src.Min).Intersect(src)
}

// drawCover scales the cover window of src onto the whole of dst.
func drawCover(scaler draw.Scaler, dst *image.RGBA, src image.Image, zoom, offX, offY float64) {
	b := dst.Bounds()
	win := coverWindow(src.Bounds(), b.Dx(), b.Dy(), zoom, offX, offY)
	if win.Empty() {
		return
	}
	scaler.Scale(dst, b, src, win, draw.Src, nil)
}

func clampF(v, lo, hi float64) float64 {
	if hi < lo {
		return lo
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
