package project

import (
	"fmt"
	"image"
	"path/filepath"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// MinTotalDuration is the floor for the timeline length. An empty project
// still represents ten seconds of renderable (and exportable) time.
const MinTotalDuration = 10.0

// DefaultClipDuration is used when no audio track exists to split evenly.
const DefaultClipDuration = 5.0

// Crop positions the source image inside its clip. Zoom is applied about the
// image center first, then the offsets move it in base-canvas pixels.
type Crop struct {
	OffsetX float64 `json:"offsetX"`
	OffsetY float64 `json:"offsetY"`
	Zoom    float64 `json:"zoom" validate:"gte=1"`
}

// Adjust holds per-clip color filters. Percent fields are neutral at 100,
// sepia and grayscale at 0. BlurPx is the blur radius in base-canvas pixels.
type Adjust struct {
	Brightness int     `json:"brightness" validate:"gte=0,lte=200"`
	Contrast   int     `json:"contrast" validate:"gte=0,lte=200"`
	Saturation int     `json:"saturation" validate:"gte=0,lte=200"`
	Sepia      int     `json:"sepia" validate:"gte=0,lte=100"`
	Grayscale  int     `json:"grayscale" validate:"gte=0,lte=100"`
	BlurPx     float64 `json:"blurPx" validate:"gte=0"`
}

// NeutralAdjust returns the identity filter set.
func NeutralAdjust() Adjust {
	return Adjust{Brightness: 100, Contrast: 100, Saturation: 100}
}

// IsNeutral reports whether the filter chain would leave pixels untouched.
func (a Adjust) IsNeutral() bool {
	return a == NeutralAdjust()
}

// TextOverlay is a positioned text element on one clip. X and Y are
// fractions of the canvas; SizePx is in 1280x720 logical pixels. Anim timing
// runs on the owning clip's local time.
type TextOverlay struct {
	ID      string  `json:"id" validate:"required"`
	Text    string  `json:"text"`
	X       float64 `json:"x" validate:"gte=0,lte=1"`
	Y       float64 `json:"y" validate:"gte=0,lte=1"`
	SizePx  float64 `json:"sizePx" validate:"gt=0"`
	Font    string  `json:"font" validate:"oneof=sans sans-bold mono"`
	Color   string  `json:"color" validate:"hexcolor"`
	Opacity float64 `json:"opacity" validate:"gte=0,lte=1"`
	Anim    string  `json:"anim" validate:"oneof=none fade slide-up typewriter"`
	AnimSec float64 `json:"animSec" validate:"gt=0"`
}

// NewCaptionOverlay builds a centered overlay with the house caption style.
func NewCaptionOverlay(text string) TextOverlay {
	return TextOverlay{
		ID:      uuid.NewString(),
		Text:    text,
		X:       0.5,
		Y:       0.45,
		SizePx:  44,
		Font:    "sans-bold",
		Color:   "#ffffff",
		Opacity: 1,
		Anim:    "fade",
		AnimSec: 0.8,
	}
}

// Clip is one still image shown for DurationSec seconds. Image is the
// decoded handle; it is attached after load and never serialized.
type Clip struct {
	ID          string        `json:"id" validate:"required"`
	SourcePath  string        `json:"sourcePath" validate:"required"`
	DurationSec float64       `json:"durationSec" validate:"gte=0"`
	Crop        Crop          `json:"crop"`
	Adjust      Adjust        `json:"adjust"`
	Overlays    []TextOverlay `json:"overlays,omitempty" validate:"dive"`

	Image image.Image `json:"-"`
}

// EvenClipDuration splits the main audio evenly across n clips, falling
// back to the default length when there is no audio to divide.
func EvenClipDuration(n int, audioDur float64) float64 {
	if n <= 0 {
		return DefaultClipDuration
	}
	if audioDur > 0 {
		return audioDur / float64(n)
	}
	return DefaultClipDuration
}

// NewClip builds a clip for the image at path with sensible defaults.
func NewClip(path string, duration float64) Clip {
	return Clip{
		ID:          uuid.NewString(),
		SourcePath:  path,
		DurationSec: duration,
		Crop:        Crop{Zoom: 1},
		Adjust:      NeutralAdjust(),
	}
}

// LyricLine is a timed subtitle. The interval is half-open: the line shows
// for StartSec <= t < EndSec.
type LyricLine struct {
	ID       string  `json:"id" validate:"required"`
	StartSec float64 `json:"startSec" validate:"gte=0"`
	EndSec   float64 `json:"endSec" validate:"gtefield=StartSec"`
	Text     string  `json:"text"`
}

// NewLyricLine builds a lyric line with a fresh identity.
func NewLyricLine(start, end float64, text string) LyricLine {
	return LyricLine{ID: uuid.NewString(), StartSec: start, EndSec: end, Text: text}
}

// AudioTrack references an audio file and its playback gain. DurationSec is
// probed once at attach time; zero means unknown.
type AudioTrack struct {
	SourcePath  string  `json:"sourcePath" validate:"required"`
	DurationSec float64 `json:"durationSec" validate:"gte=0"`
	Gain        float64 `json:"gain" validate:"gte=0,lte=1"`
}

// Settings are frozen for the whole of one export.
type Settings struct {
	Width         int     `json:"width" validate:"oneof=1280 1920"`
	Height        int     `json:"height" validate:"oneof=720 1080"`
	FPS           int     `json:"fps" validate:"oneof=30 60"`
	Transition    string  `json:"transition" validate:"oneof=none fade slide zoom"`
	TransitionSec float64 `json:"transitionSec" validate:"gte=0"`
	ShareLink     string  `json:"shareLink,omitempty"`
}

// DefaultSettings is 720p30 with a half-second cross-fade.
func DefaultSettings() Settings {
	return Settings{
		Width:         1280,
		Height:        720,
		FPS:           30,
		Transition:    "fade",
		TransitionSec: 0.5,
	}
}

// Project is the whole editable document. It is a plain value; concurrent
// access goes through Editor, and the render path only ever sees snapshots.
type Project struct {
	ID         string      `json:"id" validate:"required"`
	Name       string      `json:"name"`
	Clips      []Clip      `json:"clips" validate:"dive"`
	Lyrics     []LyricLine `json:"lyrics,omitempty" validate:"dive"`
	MainAudio  *AudioTrack `json:"mainAudio,omitempty"`
	Background *AudioTrack `json:"backgroundAudio,omitempty"`
	Settings   Settings    `json:"settings"`

	// Dir anchors relative source paths: the bundle directory the project
	// was loaded from or last saved to. Empty for unsaved projects.
	Dir string `json:"-"`
}

// New builds an empty project with default settings.
func New(name string) Project {
	return Project{
		ID:       uuid.NewString(),
		Name:     name,
		Settings: DefaultSettings(),
	}
}

// VisualDuration is the sum of all clip durations.
func (p *Project) VisualDuration() float64 {
	var sum float64
	for i := range p.Clips {
		sum += p.Clips[i].DurationSec
	}
	return sum
}

// TotalDuration is the timeline length: the longer of the main audio track
// and the clip sequence, never below MinTotalDuration when both are absent.
func (p *Project) TotalDuration() float64 {
	visual := p.VisualDuration()
	var audio float64
	if p.MainAudio != nil {
		audio = p.MainAudio.DurationSec
	}
	total := visual
	if audio > total {
		total = audio
	}
	if total <= 0 {
		return MinTotalDuration
	}
	return total
}

// Resolve turns a stored source path into an openable one, anchoring
// bundle-relative paths at the project directory.
func (p *Project) Resolve(src string) string {
	if src == "" || filepath.IsAbs(src) || p.Dir == "" {
		return src
	}
	return filepath.Join(p.Dir, src)
}

// ClipIndex returns the position of the clip with the given id, or -1.
func (p *Project) ClipIndex(id string) int {
	for i := range p.Clips {
		if p.Clips[i].ID == id {
			return i
		}
	}
	return -1
}

// Clone returns a deep copy of the project metadata. Decoded image handles
// are shared: they are immutable once attached.
func (p *Project) Clone() Project {
	c := *p
	if p.Clips != nil {
		c.Clips = make([]Clip, len(p.Clips))
		copy(c.Clips, p.Clips)
		for i := range c.Clips {
			if src := p.Clips[i].Overlays; src != nil {
				c.Clips[i].Overlays = make([]TextOverlay, len(src))
				copy(c.Clips[i].Overlays, src)
			}
		}
	}
	if p.Lyrics != nil {
		c.Lyrics = make([]LyricLine, len(p.Lyrics))
		copy(c.Lyrics, p.Lyrics)
	}
	if p.MainAudio != nil {
		t := *p.MainAudio
		c.MainAudio = &t
	}
	if p.Background != nil {
		t := *p.Background
		c.Background = &t
	}
	return c
}

var validate = validator.New()

// Validate checks the project against its declared constraints.
func (p *Project) Validate() error {
	if err := validate.Struct(p); err != nil {
		return fmt.Errorf("invalid project: %w", err)
	}
	return nil
}
