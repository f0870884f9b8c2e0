package compositor

import (
	"bytes"
	"image"
	"image/color"
	"math"
	"testing"

	"github.com/ivlev/lyric2video/internal/project"
	"github.com/ivlev/lyric2video/internal/timeline"
)

func gradientImage(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			i := y*img.Stride + x*4
			img.Pix[i] = uint8(x * 255 / w)
			img.Pix[i+1] = uint8(y * 255 / h)
			img.Pix[i+2] = 128
			img.Pix[i+3] = 255
		}
	}
	return img
}

func clipWithImage(img image.Image, dur float64) project.Clip {
	c := project.NewClip("mem.png", dur)
	c.Image = img
	return c
}

func testRenderer(t *testing.T) *Renderer {
	t.Helper()
	r, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return r
}

func renderAt(t *testing.T, r *Renderer, p *project.Project, at float64, w, h int) *image.RGBA {
	t.Helper()
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	r.Render(dst, p, timeline.Resolve(p, at))
	return dst
}

func TestRenderIsDeterministic(t *testing.T) {
	p := project.New("purity")
	a := clipWithImage(gradientImage(640, 480), 4)
	a.Adjust.Saturation = 140
	a.Adjust.Sepia = 20
	a.Overlays = []project.TextOverlay{project.NewCaptionOverlay("same every time")}
	b := clipWithImage(solid(320, 320, color.RGBA{40, 90, 200, 255}), 6)
	p.Clips = []project.Clip{a, b}
	p.Lyrics = []project.LyricLine{project.NewLyricLine(3, 5, "la la la")}
	p.Settings.Transition = "zoom"
	p.Settings.TransitionSec = 1
	p.Settings.ShareLink = "https://example.com/v/x"

	// Mid-transition, with a lyric visible: the busiest possible frame.
	f1 := renderAt(t, testRenderer(t), &p, 3.6, 640, 360)
	f2 := renderAt(t, testRenderer(t), &p, 3.6, 640, 360)
	if !bytes.Equal(f1.Pix, f2.Pix) {
		t.Error("identical inputs produced different frames")
	}
}

func TestFadeTransitionBlendsIncoming(t *testing.T) {
	p := project.New("fade")
	p.Clips = []project.Clip{
		clipWithImage(solid(640, 360, color.RGBA{220, 30, 30, 255}), 4),
		clipWithImage(solid(640, 360, color.RGBA{30, 30, 220, 255}), 6),
	}
	p.Settings.Transition = "fade"
	p.Settings.TransitionSec = 1

	r := testRenderer(t)
	center := func(f *image.RGBA) (uint8, uint8) {
		i := 180*f.Stride + 320*4
		return f.Pix[i], f.Pix[i+2] // r, b
	}

	// Before the window: pure outgoing clip.
	early, _ := center(renderAt(t, r, &p, 2.0, 640, 360))
	if early < 100 {
		t.Errorf("before transition: red channel %d, want dominant", early)
	}

	// At the window entry the incoming clip is still invisible.
	rIn, bIn := center(renderAt(t, r, &p, 3.0, 640, 360))
	if bIn > rIn {
		t.Errorf("window entry: b=%d r=%d, incoming should be invisible", bIn, rIn)
	}

	// Just before the cut the incoming clip dominates.
	rOut, bOut := center(renderAt(t, r, &p, 3.95, 640, 360))
	if bOut < rOut {
		t.Errorf("near cut: b=%d r=%d, incoming should dominate", bOut, rOut)
	}
}

func TestSlideTransitionRevealsFromBottom(t *testing.T) {
	p := project.New("slide")
	p.Clips = []project.Clip{
		clipWithImage(solid(640, 360, color.RGBA{220, 30, 30, 255}), 4),
		clipWithImage(solid(640, 360, color.RGBA{30, 220, 30, 255}), 6),
	}
	p.Settings.Transition = "slide"
	p.Settings.TransitionSec = 1

	// Halfway through the window the top half is still the outgoing clip
	// and the bottom half is the incoming one.
	f := renderAt(t, testRenderer(t), &p, 3.5, 640, 360)
	top := 40*f.Stride + 320*4
	bottom := 320*f.Stride + 320*4
	if f.Pix[top] < f.Pix[top+1] {
		t.Errorf("top half: r=%d g=%d, want outgoing red", f.Pix[top], f.Pix[top+1])
	}
	if f.Pix[bottom+1] < f.Pix[bottom] {
		t.Errorf("bottom half: r=%d g=%d, want incoming green", f.Pix[bottom], f.Pix[bottom+1])
	}
}

func TestKenBurnsDriftsOverTime(t *testing.T) {
	p := project.New("kb")
	p.Clips = []project.Clip{clipWithImage(gradientImage(800, 450), 10)}
	p.Settings.Transition = "none"

	r := testRenderer(t)
	start := renderAt(t, r, &p, 0, 640, 360)
	end := renderAt(t, r, &p, 9.999, 640, 360)
	if bytes.Equal(start.Pix, end.Pix) {
		t.Error("frame did not change across the clip's lifetime")
	}

	// The drift is a zoom about the center, so the center pixel barely
	// moves while the frame as a whole does.
	i := 180*start.Stride + 320*4
	if d := math.Abs(float64(start.Pix[i]) - float64(end.Pix[i])); d > 8 {
		t.Errorf("center pixel drifted by %v, zoom should hold the center", d)
	}
}

func TestPlaceholderDrawnWithoutClips(t *testing.T) {
	p := project.New("my great video")

	f := renderAt(t, testRenderer(t), &p, 0, 640, 360)
	base := solid(640, 360, canvasFill)
	if bytes.Equal(f.Pix, base.Pix) {
		t.Error("placeholder frame is a bare canvas, expected title text")
	}
}

func TestMissingImageSkipsLayer(t *testing.T) {
	p := project.New("broken")
	c := project.NewClip("gone.jpg", 5) // no decoded image attached
	c.Overlays = []project.TextOverlay{project.NewCaptionOverlay("still here")}
	p.Clips = []project.Clip{c}

	// Must not panic; the overlay still renders on the plain canvas.
	f := renderAt(t, testRenderer(t), &p, 2, 640, 360)
	base := solid(640, 360, canvasFill)
	if bytes.Equal(f.Pix, base.Pix) {
		t.Error("overlay missing from frame with undecodable clip image")
	}
}

func TestActiveLyric(t *testing.T) {
	lines := []project.LyricLine{
		{ID: "a", StartSec: 2, EndSec: 4, Text: "a"},
		{ID: "b", StartSec: 4, EndSec: 6, Text: "b"},
		{ID: "c", StartSec: 3, EndSec: 5, Text: "c"},
		{ID: "d", StartSec: 3, EndSec: 5, Text: "d"},
	}

	tests := []struct {
		t    float64
		want string // "" = none
	}{
		{1.9, ""},
		{2.0, "a"},
		{3.0, "a"},  // a (start 2) beats c and d (start 3)
		{3.999, "a"},
		{4.0, "c"},  // a ended (half-open); c beats b on start, d on order
		{4.999, "c"},
		{5.0, "b"},
		{6.0, ""},
	}
	for _, tt := range tests {
		got := ActiveLyric(lines, tt.t)
		switch {
		case tt.want == "" && got != nil:
			t.Errorf("t=%v: got %q, want none", tt.t, got.ID)
		case tt.want != "" && (got == nil || got.ID != tt.want):
			t.Errorf("t=%v: got %v, want %q", tt.t, got, tt.want)
		}
	}
}

func TestOverlayState(t *testing.T) {
	base := project.TextOverlay{
		Text: "hello", Opacity: 1, Anim: "none", AnimSec: 1,
	}

	t.Run("none shows immediately", func(t *testing.T) {
		text, op, shift := overlayState(&base, 0)
		if text != "hello" || op != 1 || shift != 0 {
			t.Errorf("got %q %v %v", text, op, shift)
		}
	})

	t.Run("fade ramps opacity", func(t *testing.T) {
		o := base
		o.Anim = "fade"
		prev := -1.0
		for _, local := range []float64{0, 0.25, 0.5, 0.75, 1, 2} {
			_, op, _ := overlayState(&o, local)
			if op < prev {
				t.Fatalf("opacity not monotonic at local=%v: %v < %v", local, op, prev)
			}
			prev = op
		}
		if _, op, _ := overlayState(&o, 0); op != 0 {
			t.Errorf("fade at 0: opacity %v", op)
		}
		if _, op, _ := overlayState(&o, 5); op != 1 {
			t.Errorf("fade finished: opacity %v", op)
		}
	})

	t.Run("slide-up eases to rest", func(t *testing.T) {
		o := base
		o.Anim = "slide-up"
		_, _, shift0 := overlayState(&o, 0)
		if shift0 != slideUpFromPx {
			t.Errorf("start shift %v, want %v", shift0, slideUpFromPx)
		}
		prev := shift0
		for _, local := range []float64{0.2, 0.5, 0.8, 1} {
			_, _, shift := overlayState(&o, local)
			if shift > prev {
				t.Fatalf("shift not monotonic at local=%v", local)
			}
			prev = shift
		}
		if prev != 0 {
			t.Errorf("final shift %v, want 0", prev)
		}
	})

	t.Run("typewriter counts runes", func(t *testing.T) {
		o := base
		o.Anim = "typewriter"
		o.Text = "héllo"

		text, _, _ := overlayState(&o, 0)
		if text != "" {
			t.Errorf("at 0: %q", text)
		}
		text, _, _ = overlayState(&o, 0.4) // floor(5*0.4) = 2 runes
		if text != "hé" {
			t.Errorf("at 0.4: %q, want %q", text, "hé")
		}
		text, _, _ = overlayState(&o, 1)
		if text != "héllo" {
			t.Errorf("at 1: %q", text)
		}
	})
}

func TestShareBadgeOnEndCard(t *testing.T) {
	p := project.New("badge")
	p.Clips = []project.Clip{clipWithImage(solid(640, 360, color.RGBA{128, 128, 128, 255}), 5)}
	p.Settings.Transition = "none"
	p.Settings.ShareLink = "https://example.com/v/abc"

	r := testRenderer(t)

	badgeRegion := func(f *image.RGBA) (black, white bool) {
		// 120px badge with 24px margin at scale 1.
		for y := 720 - 24 - 120; y < 720-24; y++ {
			for x := 1280 - 24 - 120; x < 1280-24; x++ {
				i := y*f.Stride + x*4
				if f.Pix[i] < 16 && f.Pix[i+1] < 16 {
					black = true
				}
				if f.Pix[i] > 239 && f.Pix[i+1] > 239 {
					white = true
				}
			}
		}
		return
	}

	tail := renderAt(t, r, &p, 4.0, 1280, 720)
	black, white := badgeRegion(tail)
	if !black || !white {
		t.Errorf("badge not visible in final seconds: black=%v white=%v", black, white)
	}

	early := renderAt(t, r, &p, 0.5, 1280, 720)
	black, white = badgeRegion(early)
	if black && white {
		t.Error("badge drawn before the end card window")
	}
}
