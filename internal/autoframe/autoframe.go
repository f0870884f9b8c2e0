// Package autoframe suggests per-clip crops from image content. A still is
// scored by edge density: detail-heavy pixels are clustered into regions,
// the strongest regions form the subject box, and the crop that frames the
// subject becomes the suggestion. Suggestions never replace a crop the user
// has already set.
package autoframe

import (
	"context"
	"image"
	"math"
	"sort"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/ivlev/lyric2video/internal/compositor"
	"github.com/ivlev/lyric2video/internal/logging"
	"github.com/ivlev/lyric2video/internal/project"
)

const (
	// Stills are analyzed at this width; larger sources are scaled down
	// first. Region areas are measured at analysis resolution, so the
	// thresholds behave the same for a phone photo and a scanned poster.
	analysisWidth = 640

	growRadius = 2
	growPasses = 2

	// Regions this far below the strongest one are background clutter.
	keepRatio = 0.25

	// Suggestions this close to the identity crop are not worth making.
	minZoomGain = 1.02
	minPanPx    = 4.0
)

// Region is one connected patch of strong edges, in source-image pixels.
// Energy is the patch's share of the frame's total edge energy; the regions
// of one frame sum to at most 1.
type Region struct {
	Rect   image.Rectangle
	Energy float64
}

// Framer computes crop suggestions. Fields may be tuned before first use.
type Framer struct {
	// EdgeThreshold is the minimum Sobel magnitude for a pixel to count
	// as detail. Raising it keeps only hard outlines.
	EdgeThreshold float64
	// MinRegionArea drops edge specks smaller than this, in analysis
	// pixels.
	MinRegionArea int
	// Margin widens the subject box so the framing can breathe.
	Margin float64
	// MaxZoom caps how far a suggestion may push into the image.
	MaxZoom float64

	log zerolog.Logger
}

func New() *Framer {
	return &Framer{
		EdgeThreshold: 60,
		MinRegionArea: 400,
		Margin:        1.25,
		MaxZoom:       1.8,
		log:           logging.WithComponent("autoframe"),
	}
}

// Regions returns the detail clusters of img, strongest first. Rects are in
// source-image pixels.
func (f *Framer) Regions(img image.Image) []Region {
	if img == nil {
		return nil
	}
	lum, w, h, scale := analysisPlane(img)
	if len(lum) == 0 {
		return nil
	}
	mask, mag, total := edgeMask(lum, w, h, f.EdgeThreshold)
	if total == 0 {
		return nil
	}
	mask = grow(mask, w, h, growRadius, growPasses)
	regs := components(mask, mag, w, h, f.MinRegionArea, total)

	off := img.Bounds().Min
	for i := range regs {
		r := regs[i].Rect
		regs[i].Rect = image.Rect(
			off.X+int(float64(r.Min.X)*scale),
			off.Y+int(float64(r.Min.Y)*scale),
			off.X+int(math.Ceil(float64(r.Max.X)*scale)),
			off.Y+int(math.Ceil(float64(r.Max.Y)*scale)),
		).Intersect(img.Bounds())
	}
	sort.Slice(regs, func(i, j int) bool { return regs[i].Energy > regs[j].Energy })
	return regs
}

// Subject returns the box worth keeping in frame: the strongest region
// united with every other region in its energy class. ok is false for flat
// frames with nothing to favor.
func (f *Framer) Subject(img image.Image) (box image.Rectangle, ok bool) {
	regs := f.Regions(img)
	if len(regs) == 0 {
		return image.Rectangle{}, false
	}
	top := regs[0]
	box = top.Rect
	for _, r := range regs[1:] {
		if r.Energy < top.Energy*keepRatio {
			break
		}
		box = box.Union(r.Rect)
	}
	return box, true
}

// CropFor turns the subject of img into a crop for a canvasW x canvasH
// canvas: the largest zoom that keeps the widened subject inside the cover
// window, panned so the subject center lands in view. ok is false when the
// identity crop already frames the subject about as well.
//
// The math mirrors the compositor's cover window; the two must stay in
// agreement for suggestions to land where they were computed.
func (f *Framer) CropFor(img image.Image, canvasW, canvasH int) (project.Crop, bool) {
	identity := project.Crop{Zoom: 1}
	if img == nil || canvasW <= 0 || canvasH <= 0 {
		return identity, false
	}
	sub, ok := f.Subject(img)
	if !ok {
		return identity, false
	}

	b := img.Bounds()
	sw, sh := float64(b.Dx()), float64(b.Dy())
	subW := float64(sub.Dx()) * f.Margin
	subH := float64(sub.Dy()) * f.Margin
	if subW < 1 || subH < 1 {
		return identity, false
	}
	cx := float64(sub.Min.X-b.Min.X) + float64(sub.Dx())/2
	cy := float64(sub.Min.Y-b.Min.Y) + float64(sub.Dy())/2

	cover := math.Max(float64(canvasW)/sw, float64(canvasH)/sh)
	zoom := math.Min(float64(canvasW)/subW, float64(canvasH)/subH) / cover
	zoom = clamp(zoom, 1, f.MaxZoom)
	sc := cover * zoom

	winW := float64(canvasW) / sc
	winH := float64(canvasH) / sc
	wcx := clamp(cx, winW/2, sw-winW/2)
	wcy := clamp(cy, winH/2, sh-winH/2)

	crop := project.Crop{
		OffsetX: math.Round((sw/2 - wcx) * sc),
		OffsetY: math.Round((sh/2 - wcy) * sc),
		Zoom:    math.Round(zoom*100) / 100,
	}
	if crop.Zoom <= minZoomGain && math.Abs(crop.OffsetX) < minPanPx && math.Abs(crop.OffsetY) < minPanPx {
		return identity, false
	}
	return crop, true
}

// Clips computes suggestions for every clip still on the identity crop and
// applies them through ed, analyzing up to workers clips at once. Clips the
// user has framed by hand and clips without a decoded image are left alone.
// Crop offsets are authored in logical canvas pixels, so suggestions are
// computed against the base canvas rather than the export resolution.
// Returns the number of clips updated; cancellation drops the whole batch.
func (f *Framer) Clips(ctx context.Context, ed *project.Editor, workers int) int {
	snap := ed.Snapshot()

	type job struct {
		clipID string
		img    image.Image
	}
	var jobs []job
	for i := range snap.Clips {
		clip := &snap.Clips[i]
		if clip.Image == nil || !isIdentity(clip.Crop) {
			continue
		}
		jobs = append(jobs, job{clipID: clip.ID, img: clip.Image})
	}
	if len(jobs) == 0 {
		return 0
	}

	if workers < 1 {
		workers = 1
	}
	crops := make([]*project.Crop, len(jobs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, j := range jobs {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			if crop, ok := f.CropFor(j.img, compositor.BaseWidth, compositor.BaseHeight); ok {
				crops[i] = &crop
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0
	}

	updated := 0
	for i, j := range jobs {
		if crops[i] == nil {
			continue
		}
		if err := ed.SetClipCrop(j.clipID, *crops[i]); err != nil {
			// Clip was removed while we were analyzing.
			f.log.Warn().Err(err).Str("clip", j.clipID).Msg("clip vanished before crop landed")
			continue
		}
		f.log.Debug().
			Str("clip", j.clipID).
			Float64("zoom", crops[i].Zoom).
			Float64("offsetX", crops[i].OffsetX).
			Float64("offsetY", crops[i].OffsetY).
			Msg("crop suggested")
		updated++
	}
	return updated
}

// isIdentity treats both the zero crop and the explicit neutral crop as
// untouched, so manifests that omit the field still get suggestions.
func isIdentity(c project.Crop) bool {
	return c.Zoom <= 1 && c.OffsetX == 0 && c.OffsetY == 0
}

func clamp(v, lo, hi float64) float64 {
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
