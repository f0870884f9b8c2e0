package compositor

import (
	"image"
	"math"

	"github.com/ivlev/lyric2video/internal/project"
	"github.com/ivlev/lyric2video/internal/system"
)

// All filter kernels below operate on opaque RGBA buffers owned by the
// renderer, so alpha is left untouched and rows can be walked through Pix
// directly. Application order matches the editing model: brightness,
// contrast, saturation, sepia, grayscale, blur.

func applyAdjust(img *image.RGBA, adj project.Adjust, scale float64) {
	if adj.IsNeutral() {
		return
	}
	if adj.Brightness != 100 || adj.Contrast != 100 {
		applyBrightnessContrast(img, adj.Brightness, adj.Contrast)
	}
	if adj.Saturation != 100 {
		applySaturation(img, adj.Saturation)
	}
	if adj.Sepia > 0 {
		applySepia(img, adj.Sepia)
	}
	if adj.Grayscale > 0 {
		applyGrayscale(img, adj.Grayscale)
	}
	if adj.BlurPx > 0 {
		r := int(math.Round(adj.BlurPx * scale))
		if r < 1 {
			r = 1
		}
		boxBlur(img, r, 3)
	}
}

// applyBrightnessContrast folds both pointwise filters into one 256-entry
// lookup table per frame.
func applyBrightnessContrast(img *image.RGBA, brightness, contrast int) {
	bf := float64(brightness) / 100
	cf := float64(contrast) / 100

	var lut [256]uint8
	for i := 0; i < 256; i++ {
		v := float64(i) * bf
		v = (v-128)*cf + 128
		lut[i] = clamp8(v)
	}

	pix := img.Pix
	for i := 0; i < len(pix); i += 4 {
		pix[i] = lut[pix[i]]
		pix[i+1] = lut[pix[i+1]]
		pix[i+2] = lut[pix[i+2]]
	}
}

func applySaturation(img *image.RGBA, pct int) {
	s := float64(pct) / 100
	pix := img.Pix
	for i := 0; i < len(pix); i += 4 {
		r := float64(pix[i])
		g := float64(pix[i+1])
		b := float64(pix[i+2])
		l := 0.299*r + 0.587*g + 0.114*b
		pix[i] = clamp8(l + (r-l)*s)
		pix[i+1] = clamp8(l + (g-l)*s)
		pix[i+2] = clamp8(l + (b-l)*s)
	}
}

// applySepia blends each pixel toward the standard sepia matrix by
// amount/100.
func applySepia(img *image.RGBA, amount int) {
	a := float64(amount) / 100
	pix := img.Pix
	for i := 0; i < len(pix); i += 4 {
		r := float64(pix[i])
		g := float64(pix[i+1])
		b := float64(pix[i+2])
		sr := 0.393*r + 0.769*g + 0.189*b
		sg := 0.349*r + 0.686*g + 0.168*b
		sb := 0.272*r + 0.534*g + 0.131*b
		pix[i] = clamp8(r + (sr-r)*a)
		pix[i+1] = clamp8(g + (sg-g)*a)
		pix[i+2] = clamp8(b + (sb-b)*a)
	}
}

func applyGrayscale(img *image.RGBA, amount int) {
	a := float64(amount) / 100
	pix := img.Pix
	for i := 0; i < len(pix); i += 4 {
		r := float64(pix[i])
		g := float64(pix[i+1])
		b := float64(pix[i+2])
		l := 0.299*r + 0.587*g + 0.114*b
		pix[i] = clamp8(r + (l-r)*a)
		pix[i+1] = clamp8(g + (l-g)*a)
		pix[i+2] = clamp8(b + (l-b)*a)
	}
}

// boxBlur runs `passes` separable box blurs of the given radius; three
// passes approximate a gaussian closely enough for backdrop work.
func boxBlur(img *image.RGBA, radius, passes int) {
	if radius < 1 || passes < 1 {
		return
	}
	tmp := system.GetFrame(img.Bounds())
	defer system.PutFrame(tmp)

	for p := 0; p < passes; p++ {
		blurPassH(tmp, img, radius)
		blurPassV(img, tmp, radius)
	}
}

func blurPassH(dst, src *image.RGBA, radius int) {
	b := src.Bounds()
	w, h := b.Dx(), b.Dy()
	for y := 0; y < h; y++ {
		row := src.Pix[y*src.Stride : y*src.Stride+w*4]
		out := dst.Pix[y*dst.Stride : y*dst.Stride+w*4]

		var sr, sg, sb, n int
		// Prime the window for x = 0.
		for x := 0; x <= radius && x < w; x++ {
			sr += int(row[x*4])
			sg += int(row[x*4+1])
			sb += int(row[x*4+2])
			n++
		}
		for x := 0; x < w; x++ {
			out[x*4] = uint8(sr / n)
			out[x*4+1] = uint8(sg / n)
			out[x*4+2] = uint8(sb / n)
			out[x*4+3] = 255

			if nx := x + radius + 1; nx < w {
				sr += int(row[nx*4])
				sg += int(row[nx*4+1])
				sb += int(row[nx*4+2])
				n++
			}
			if px := x - radius; px >= 0 {
				sr -= int(row[px*4])
				sg -= int(row[px*4+1])
				sb -= int(row[px*4+2])
				n--
			}
		}
	}
}

func blurPassV(dst, src *image.RGBA, radius int) {
	b := src.Bounds()
	w, h := b.Dx(), b.Dy()
	for x := 0; x < w; x++ {
		var sr, sg, sb, n int
		for y := 0; y <= radius && y < h; y++ {
			i := y*src.Stride + x*4
			sr += int(src.Pix[i])
			sg += int(src.Pix[i+1])
			sb += int(src.Pix[i+2])
			n++
		}
		for y := 0; y < h; y++ {
			o := y*dst.Stride + x*4
			dst.Pix[o] = uint8(sr / n)
			dst.Pix[o+1] = uint8(sg / n)
			dst.Pix[o+2] = uint8(sb / n)
			dst.Pix[o+3] = 255

			if ny := y + radius + 1; ny < h {
				i := ny*src.Stride + x*4
				sr += int(src.Pix[i])
				sg += int(src.Pix[i+1])
				sb += int(src.Pix[i+2])
				n++
			}
			if py := y - radius; py >= 0 {
				i := py*src.Stride + x*4
				sr -= int(src.Pix[i])
				sg -= int(src.Pix[i+1])
				sb -= int(src.Pix[i+2])
				n--
			}
		}
	}
}

// darken multiplies RGB by factor, used for the blurred backdrop.
func darken(img *image.RGBA, factor float64) {
	var lut [256]uint8
	for i := 0; i < 256; i++ {
		lut[i] = clamp8(float64(i) * factor)
	}
	pix := img.Pix
	for i := 0; i < len(pix); i += 4 {
		pix[i] = lut[pix[i]]
		pix[i+1] = lut[pix[i+1]]
		pix[i+2] = lut[pix[i+2]]
	}
}

// blendOver mixes src into dst at the given opacity. Both buffers must
// share bounds and be opaque.
func blendOver(dst, src *image.RGBA, opacity float64) {
	if opacity <= 0 {
		return
	}
	if opacity >= 1 {
		copy(dst.Pix, src.Pix)
		return
	}
	a := int(math.Round(opacity * 256))
	ia := 256 - a
	dp, sp := dst.Pix, src.Pix
	for i := 0; i < len(dp); i += 4 {
		dp[i] = uint8((int(sp[i])*a + int(dp[i])*ia) >> 8)
		dp[i+1] = uint8((int(sp[i+1])*a + int(dp[i+1])*ia) >> 8)
		dp[i+2] = uint8((int(sp[i+2])*a + int(dp[i+2])*ia) >> 8)
	}
}

// shiftDownOver copies src onto dst displaced dy rows downward, leaving the
// uncovered top rows of dst untouched.
func shiftDownOver(dst, src *image.RGBA, dy int) {
	b := dst.Bounds()
	h := b.Dy()
	w := b.Dx()
	if dy < 0 {
		dy = 0
	}
	if dy >= h {
		return
	}
	for y := dy; y < h; y++ {
		srcRow := (y - dy) * src.Stride
		dstRow := y * dst.Stride
		copy(dst.Pix[dstRow:dstRow+w*4], src.Pix[srcRow:srcRow+w*4])
	}
}

func clamp8(v float64) uint8 {
	if v <= 0 {
		return 0
	}
	if v >= 255 {
		return 255
	}
	return uint8(v + 0.5)
}
