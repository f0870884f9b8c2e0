package autoframe

import (
	"image"
	"math"

	"golang.org/x/image/draw"
)

// analysisPlane returns the luma plane of img at analysis resolution along
// with the factor mapping analysis pixels back to source pixels.
func analysisPlane(img image.Image) (lum []uint8, w, h int, scale float64) {
	b := img.Bounds()
	sw, sh := b.Dx(), b.Dy()
	if sw <= 0 || sh <= 0 {
		return nil, 0, 0, 1
	}

	w, h, scale = sw, sh, 1
	if sw > analysisWidth {
		scale = float64(sw) / analysisWidth
		w = analysisWidth
		h = int(math.Round(float64(sh) / scale))
		if h < 3 {
			h = 3
		}
	}

	work := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.ApproxBiLinear.Scale(work, work.Bounds(), img, b, draw.Src, nil)

	lum = make([]uint8, w*h)
	for i := range lum {
		p := work.Pix[i*4 : i*4+3 : i*4+3]
		lum[i] = uint8((299*int(p[0]) + 587*int(p[1]) + 114*int(p[2])) / 1000)
	}
	return lum, w, h, scale
}

// edgeMask marks pixels whose Sobel gradient magnitude reaches threshold
// and records the magnitude for energy accounting. The one-pixel border
// stays unset.
func edgeMask(lum []uint8, w, h int, threshold float64) (mask []bool, mag []float64, total float64) {
	mask = make([]bool, w*h)
	mag = make([]float64, w*h)
	if w < 3 || h < 3 {
		return mask, mag, 0
	}

	for y := 1; y < h-1; y++ {
		for x := 1; x < w-1; x++ {
			i := y*w + x
			tl, tc, tr := int(lum[i-w-1]), int(lum[i-w]), int(lum[i-w+1])
			ml, mr := int(lum[i-1]), int(lum[i+1])
			bl, bc, br := int(lum[i+w-1]), int(lum[i+w]), int(lum[i+w+1])

			gx := float64((tr + 2*mr + br) - (tl + 2*ml + bl))
			gy := float64((bl + 2*bc + br) - (tl + 2*tc + tr))
			m := math.Hypot(gx, gy)
			if m >= threshold {
				mask[i] = true
				mag[i] = m
				total += m
			}
		}
	}
	return mask, mag, total
}

// grow thickens the mask so broken outlines close into solid regions. Each
// pass stamps a square of the given radius around every set pixel.
func grow(mask []bool, w, h, radius, passes int) []bool {
	for pass := 0; pass < passes; pass++ {
		out := make([]bool, len(mask))
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				if !mask[y*w+x] {
					continue
				}
				y1, x1 := min(y+radius, h-1), min(x+radius, w-1)
				for yy := max(y-radius, 0); yy <= y1; yy++ {
					row := out[yy*w : yy*w+w]
					for xx := max(x-radius, 0); xx <= x1; xx++ {
						row[xx] = true
					}
				}
			}
		}
		mask = out
	}
	return mask
}

// components clusters the mask into 4-connected regions and scores each by
// the edge energy it contains. Pixels added by grow carry no energy of
// their own, so scores reflect the original edges. Rects are in analysis
// coordinates; regions whose box is smaller than minArea are dropped.
func components(mask []bool, mag []float64, w, h, minArea int, total float64) []Region {
	seen := make([]bool, len(mask))
	stack := make([]int, 0, 1024)
	var out []Region

	for start := range mask {
		if !mask[start] || seen[start] {
			continue
		}
		seen[start] = true
		stack = append(stack[:0], start)

		minX, minY := start%w, start/w
		maxX, maxY := minX, minY
		energy := 0.0

		for len(stack) > 0 {
			i := stack[len(stack)-1]
			stack = stack[:len(stack)-1]

			x, y := i%w, i/w
			minX, maxX = min(minX, x), max(maxX, x)
			minY, maxY = min(minY, y), max(maxY, y)
			energy += mag[i]

			if x > 0 && mask[i-1] && !seen[i-1] {
				seen[i-1] = true
				stack = append(stack, i-1)
			}
			if x < w-1 && mask[i+1] && !seen[i+1] {
				seen[i+1] = true
				stack = append(stack, i+1)
			}
			if y > 0 && mask[i-w] && !seen[i-w] {
				seen[i-w] = true
				stack = append(stack, i-w)
			}
			if y < h-1 && mask[i+w] && !seen[i+w] {
				seen[i+w] = true
				stack = append(stack, i+w)
			}
		}

		r := image.Rect(minX, minY, maxX+1, maxY+1)
		if r.Dx()*r.Dy() < minArea {
			continue
		}
		reg := Region{Rect: r}
		if total > 0 {
			reg.Energy = energy / total
		}
		out = append(out, reg)
	}
	return out
}
