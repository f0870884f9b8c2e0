package compositor

import (
	"image"
	"image/color"
	"math"
	"strconv"
	"strings"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/font/gofont/gobold"
	"golang.org/x/image/font/gofont/gomono"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/math/fixed"
)

// fontSet holds the three bundled typefaces and a cache of sized faces.
// Face construction is not free, so faces are reused across frames; the
// cache key quantizes size to whole pixels.
type fontSet struct {
	regular *opentype.Font
	bold    *opentype.Font
	mono    *opentype.Font
	faces   map[faceKey]font.Face
}

type faceKey struct {
	name string
	size int
}

func newFontSet() (*fontSet, error) {
	regular, err := opentype.Parse(goregular.TTF)
	if err != nil {
		return nil, err
	}
	bold, err := opentype.Parse(gobold.TTF)
	if err != nil {
		return nil, err
	}
	mono, err := opentype.Parse(gomono.TTF)
	if err != nil {
		return nil, err
	}
	return &fontSet{
		regular: regular,
		bold:    bold,
		mono:    mono,
		faces:   make(map[faceKey]font.Face),
	}, nil
}

// face returns a cached font.Face for the named style at sizePx pixels.
func (fs *fontSet) face(name string, sizePx float64) font.Face {
	size := int(math.Round(sizePx))
	if size < 4 {
		size = 4
	}
	key := faceKey{name: name, size: size}
	if f, ok := fs.faces[key]; ok {
		return f
	}

	src := fs.regular
	switch name {
	case "sans-bold":
		src = fs.bold
	case "mono":
		src = fs.mono
	}
	f, err := opentype.NewFace(src, &opentype.FaceOptions{
		Size:    float64(size),
		DPI:     72,
		Hinting: font.HintingFull,
	})
	if err != nil {
		return basicfont.Face7x13
	}
	fs.faces[key] = f
	return f
}

type textStyle struct {
	face      font.Face
	color     color.RGBA
	opacity   float64
	outlinePx int
	shadowPx  int
}

// drawTextBlock renders s centered horizontally at cx with the vertical
// center of the whole block at cy. Lines are split on newline.
func drawTextBlock(dst *image.RGBA, s string, cx, cy int, st textStyle) {
	if s == "" || st.opacity <= 0 {
		return
	}
	lines := strings.Split(s, "\n")
	m := st.face.Metrics()
	lineH := m.Height.Ceil()
	if lineH <= 0 {
		lineH = m.Ascent.Ceil() + m.Descent.Ceil()
	}
	blockH := lineH * len(lines)
	baseline := cy - blockH/2 + m.Ascent.Ceil()

	for _, line := range lines {
		drawTextLine(dst, line, cx, baseline, st)
		baseline += lineH
	}
}

func drawTextLine(dst *image.RGBA, s string, cx, baseline int, st textStyle) {
	if s == "" {
		return
	}
	width := font.MeasureString(st.face, s).Ceil()
	x := cx - width/2

	d := font.Drawer{
		Dst:  dst,
		Face: st.face,
	}

	if st.shadowPx > 0 {
		d.Src = image.NewUniform(premul(color.RGBA{A: 255}, st.opacity*0.5))
		d.Dot = fixed.P(x, baseline+st.shadowPx)
		d.DrawString(s)
	}
	if st.outlinePx > 0 {
		d.Src = image.NewUniform(premul(color.RGBA{A: 255}, st.opacity))
		o := st.outlinePx
		for _, off := range [4][2]int{{-o, 0}, {o, 0}, {0, -o}, {0, o}} {
			d.Dot = fixed.P(x+off[0], baseline+off[1])
			d.DrawString(s)
		}
	}

	d.Src = image.NewUniform(premul(st.color, st.opacity))
	d.Dot = fixed.P(x, baseline)
	d.DrawString(s)
}

// premul converts a straight-alpha color plus opacity into the
// alpha-premultiplied form font.Drawer expects.
func premul(c color.RGBA, opacity float64) color.RGBA {
	if opacity < 0 {
		opacity = 0
	}
	if opacity > 1 {
		opacity = 1
	}
	a := float64(255) * opacity
	return color.RGBA{
		R: uint8(float64(c.R)*opacity + 0.5),
		G: uint8(float64(c.G)*opacity + 0.5),
		B: uint8(float64(c.B)*opacity + 0.5),
		A: uint8(a + 0.5),
	}
}

// parseHexColor reads "#rrggbb"; anything malformed comes back white so a
// bad stored color never blanks an overlay.
func parseHexColor(s string) color.RGBA {
	white := color.RGBA{255, 255, 255, 255}
	if len(s) != 7 || s[0] != '#' {
		return white
	}
	r, err1 := strconv.ParseUint(s[1:3], 16, 8)
	g, err2 := strconv.ParseUint(s[3:5], 16, 8)
	b, err3 := strconv.ParseUint(s[5:7], 16, 8)
	if err1 != nil || err2 != nil || err3 != nil {
		return white
	}
	return color.RGBA{uint8(r), uint8(g), uint8(b), 255}
}
