// Package compositor turns a project snapshot and a resolved timeline
// position into one finished frame. Rendering is deterministic: the same
// snapshot, position and output size always produce the same pixels, which
// is what keeps preview and export in agreement.
//
// Layout is authored on a 1280x720 logical canvas and scaled uniformly by
// outputHeight/720, so overlays keep their proportions at 1080p.
package compositor

import (
	"fmt"
	"image"
	"image/color"
	"math"

	"golang.org/x/image/draw"

	"github.com/ivlev/lyric2video/internal/endcard"
	"github.com/ivlev/lyric2video/internal/project"
	"github.com/ivlev/lyric2video/internal/system"
	"github.com/ivlev/lyric2video/internal/timeline"
)

// Logical canvas size all layout constants are authored against.
const (
	BaseWidth  = 1280
	BaseHeight = 720
)

const (
	kenBurnsZoom   = 0.04 // slow push-in over the clip's lifetime
	backdropZoom   = 1.08
	backdropDarken = 0.55
	backdropShrink = 4 // backdrop is blurred at quarter resolution
	backdropBlurPx = 3

	zoomTransitionFrom = 0.12
	slideUpFromPx      = 46.0

	lyricSizePx    = 34.0
	lyricBottomPx  = 60.0
	lyricOutlinePx = 2.0

	badgeSizePx   = 120.0
	badgeMarginPx = 24.0
	badgeTailSec  = 3.0
)

var (
	canvasFill = color.RGBA{13, 13, 17, 255}
	lyricFill  = color.RGBA{255, 255, 255, 255}
	hintFill   = color.RGBA{156, 156, 168, 255}
)

// Renderer composites frames. It caches parsed fonts and the QR badge
// between frames and is not safe for concurrent use; give each playback or
// export session its own.
type Renderer struct {
	// Scaler resamples clip images. The default favors speed for live
	// preview; export sessions switch to draw.CatmullRom.
	Scaler draw.Scaler

	fonts *fontSet

	badgeLink string
	badgePx   int
	badge     image.Image
}

func New() (*Renderer, error) {
	fonts, err := newFontSet()
	if err != nil {
		return nil, fmt.Errorf("loading fonts: %w", err)
	}
	return &Renderer{Scaler: draw.ApproxBiLinear, fonts: fonts}, nil
}

// Render paints the frame for pos into dst, overwriting every pixel. A
// missing or undecoded clip image skips that layer; rendering itself never
// fails.
func (r *Renderer) Render(dst *image.RGBA, snap *project.Project, pos timeline.Position) {
	scale := float64(dst.Bounds().Dy()) / BaseHeight

	fillRGBA(dst, canvasFill)

	if pos.ActiveIndex >= 0 && pos.ActiveIndex < len(snap.Clips) {
		r.drawClips(dst, snap, pos, scale)
		r.drawOverlays(dst, &snap.Clips[pos.ActiveIndex], pos.LocalTime, scale)
	} else {
		r.drawPlaceholder(dst, snap, scale)
	}

	r.drawLyric(dst, snap.Lyrics, pos.Time, scale)
	r.drawBadge(dst, snap, pos, scale)
}

func (r *Renderer) drawClips(dst *image.RGBA, snap *project.Project, pos timeline.Position, scale float64) {
	active := &snap.Clips[pos.ActiveIndex]
	r.renderClipLayer(dst, active, pos.LocalTime, scale, 1)

	if !pos.InTransition || pos.NextIndex < 0 || pos.NextIndex >= len(snap.Clips) {
		return
	}
	incoming := &snap.Clips[pos.NextIndex]

	layer := system.GetFrame(dst.Bounds())
	defer system.PutFrame(layer)

	// Progress runs 1 -> 0 toward the cut, so the incoming clip finishes
	// fully revealed exactly when it becomes active.
	switch snap.Settings.Transition {
	case "slide":
		r.renderClipLayer(layer, incoming, 0, scale, 1)
		dy := int(math.Round(float64(dst.Bounds().Dy()) * pos.Progress))
		shiftDownOver(dst, layer, dy)
	case "zoom":
		extra := 1 + zoomTransitionFrom*pos.Progress
		r.renderClipLayer(layer, incoming, 0, scale, extra)
		blendOver(dst, layer, 1-pos.Progress)
	default:
		r.renderClipLayer(layer, incoming, 0, scale, 1)
		blendOver(dst, layer, 1-pos.Progress)
	}
}

// renderClipLayer paints one clip as a full frame: blurred backdrop, cover-
// fit foreground with Ken Burns drift and user crop, then the clip's
// adjustment filters over the composed result.
func (r *Renderer) renderClipLayer(buf *image.RGBA, clip *project.Clip, local, scale, extraZoom float64) {
	fillRGBA(buf, canvasFill)

	img := clip.Image
	if img == nil {
		return
	}

	r.drawBackdrop(buf, img)

	kb := 1.0
	if clip.DurationSec > 0 {
		kb = 1 + kenBurnsZoom*clampF(local/clip.DurationSec, 0, 1)
	}
	zoom := clip.Crop.Zoom
	if zoom < 1 {
		zoom = 1
	}
	drawCover(r.Scaler, buf, img, zoom*kb*extraZoom, clip.Crop.OffsetX*scale, clip.Crop.OffsetY*scale)

	applyAdjust(buf, clip.Adjust, scale)
}

// drawBackdrop fills the frame with an oversized, blurred and darkened copy
// of the clip image. Blurring happens at quarter resolution; the upscale
// back to frame size is itself part of the softening.
func (r *Renderer) drawBackdrop(buf *image.RGBA, img image.Image) {
	b := buf.Bounds()
	smallW := b.Dx() / backdropShrink
	smallH := b.Dy() / backdropShrink
	if smallW < 8 || smallH < 8 {
		smallW, smallH = b.Dx(), b.Dy()
	}
	small := system.GetFrame(image.Rect(0, 0, smallW, smallH))
	defer system.PutFrame(small)

	drawCover(draw.ApproxBiLinear, small, img, backdropZoom, 0, 0)
	boxBlur(small, backdropBlurPx, 3)
	darken(small, backdropDarken)
	draw.ApproxBiLinear.Scale(buf, b, small, small.Bounds(), draw.Src, nil)
}

func (r *Renderer) drawOverlays(dst *image.RGBA, clip *project.Clip, local, scale float64) {
	b := dst.Bounds()
	for i := range clip.Overlays {
		o := &clip.Overlays[i]
		text, opacity, yShift := overlayState(o, local)
		if text == "" || opacity <= 0 {
			continue
		}

		st := textStyle{
			face:     r.fonts.face(o.Font, o.SizePx*scale),
			color:    parseHexColor(o.Color),
			opacity:  opacity,
			shadowPx: max(1, int(math.Round(2*scale))),
		}
		cx := int(math.Round(o.X * float64(b.Dx())))
		cy := int(math.Round(o.Y*float64(b.Dy()) + yShift*scale))
		drawTextBlock(dst, text, b.Min.X+cx, b.Min.Y+cy, st)
	}
}

// overlayState applies the entry animation to an overlay at the clip-local
// time: the text to draw (possibly truncated by the typewriter), the
// effective opacity, and a downward shift in logical pixels for slide-up.
// Animation progress clamps at 1, so a finished animation holds its final
// state for the rest of the clip.
func overlayState(o *project.TextOverlay, local float64) (text string, opacity, yShift float64) {
	text = o.Text
	opacity = o.Opacity
	if text == "" {
		return "", 0, 0
	}

	q := 1.0
	if o.Anim != "none" && o.AnimSec > 0 {
		q = clampF(local/o.AnimSec, 0, 1)
	}
	switch o.Anim {
	case "fade":
		opacity *= q
	case "slide-up":
		ease := 1 - math.Pow(1-q, 3)
		yShift = (1 - ease) * slideUpFromPx
		opacity *= q
	case "typewriter":
		runes := []rune(text)
		n := int(math.Floor(float64(len(runes)) * q))
		text = string(runes[:n])
	}
	return text, opacity, yShift
}

// ActiveLyric picks the line to display at global time t. Intervals are
// half-open [start, end); among overlapping lines the earliest start wins
// and list order breaks ties.
func ActiveLyric(lines []project.LyricLine, t float64) *project.LyricLine {
	var best *project.LyricLine
	for i := range lines {
		l := &lines[i]
		if t >= l.StartSec && t < l.EndSec {
			if best == nil || l.StartSec < best.StartSec {
				best = l
			}
		}
	}
	return best
}

func (r *Renderer) drawLyric(dst *image.RGBA, lines []project.LyricLine, t, scale float64) {
	line := ActiveLyric(lines, t)
	if line == nil || line.Text == "" {
		return
	}
	b := dst.Bounds()
	st := textStyle{
		face:      r.fonts.face("sans-bold", lyricSizePx*scale),
		color:     lyricFill,
		opacity:   1,
		outlinePx: max(1, int(math.Round(lyricOutlinePx*scale))),
	}
	cx := b.Min.X + b.Dx()/2
	cy := b.Max.Y - int(math.Round(lyricBottomPx*scale))
	drawTextBlock(dst, line.Text, cx, cy, st)
}

func (r *Renderer) drawPlaceholder(dst *image.RGBA, snap *project.Project, scale float64) {
	b := dst.Bounds()
	title := snap.Name
	if title == "" {
		title = "untitled project"
	}

	cx := b.Min.X + b.Dx()/2
	drawTextBlock(dst, title, cx, b.Min.Y+int(0.42*float64(b.Dy())), textStyle{
		face:     r.fonts.face("sans-bold", 48*scale),
		color:    lyricFill,
		opacity:  1,
		shadowPx: max(1, int(math.Round(2*scale))),
	})
	drawTextBlock(dst, "add clips or a soundtrack to get started", cx, b.Min.Y+int(0.54*float64(b.Dy())), textStyle{
		face:    r.fonts.face("sans", 22*scale),
		color:   hintFill,
		opacity: 1,
	})
}

// drawBadge puts the share QR bottom-right on the placeholder and during
// the tail of the final clip.
func (r *Renderer) drawBadge(dst *image.RGBA, snap *project.Project, pos timeline.Position, scale float64) {
	link := snap.Settings.ShareLink
	if link == "" {
		return
	}
	show := pos.ActiveIndex < 0 ||
		(pos.NextIndex < 0 && pos.Remaining <= badgeTailSec)
	if !show {
		return
	}

	px := int(math.Round(badgeSizePx * scale))
	if r.badge == nil || r.badgeLink != link || r.badgePx != px {
		img, err := endcard.Badge(link, px)
		if err != nil {
			return
		}
		r.badge, r.badgeLink, r.badgePx = img, link, px
	}

	margin := int(math.Round(badgeMarginPx * scale))
	b := dst.Bounds()
	at := image.Rect(b.Max.X-margin-px, b.Max.Y-margin-px, b.Max.X-margin, b.Max.Y-margin)
	draw.Draw(dst, at, r.badge, r.badge.Bounds().Min, draw.Src)
}

// fillRGBA floods a renderer-owned buffer with one color. Buffers start at
// (0,0); the first row is written once and copied down.
func fillRGBA(img *image.RGBA, c color.RGBA) {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w == 0 || h == 0 {
		return
	}
	row := img.Pix[:w*4]
	for x := 0; x < w; x++ {
		row[x*4] = c.R
		row[x*4+1] = c.G
		row[x*4+2] = c.B
		row[x*4+3] = c.A
	}
	for y := 1; y < h; y++ {
		copy(img.Pix[y*img.Stride:y*img.Stride+w*4], row)
	}
}
