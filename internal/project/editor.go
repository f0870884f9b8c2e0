package project

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ErrNotFound is returned by mutators addressing an unknown entity id.
var ErrNotFound = errors.New("not found")

// Editor serializes access to one project. Mutations take the lock and land
// between render ticks; readers call Snapshot and work on their own copy, so
// a frame mid-composition never observes a half-applied edit.
type Editor struct {
	mu sync.RWMutex
	p  Project
}

func NewEditor(p Project) *Editor {
	return &Editor{p: p}
}

// Snapshot returns an isolated deep copy of the current project state.
func (e *Editor) Snapshot() Project {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.p.Clone()
}

// Replace swaps in a whole new project state.
func (e *Editor) Replace(p Project) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.p = p
}

func (e *Editor) AddClip(c Clip) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.p.Clips = append(e.p.Clips, c)
}

func (e *Editor) RemoveClip(id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	i := e.p.ClipIndex(id)
	if i < 0 {
		return fmt.Errorf("clip %s: %w", id, ErrNotFound)
	}
	e.p.Clips = append(e.p.Clips[:i], e.p.Clips[i+1:]...)
	return nil
}

// MoveClip reorders the clip with the given id to position to, clamped to
// the valid range.
func (e *Editor) MoveClip(id string, to int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	from := e.p.ClipIndex(id)
	if from < 0 {
		return fmt.Errorf("clip %s: %w", id, ErrNotFound)
	}
	if to < 0 {
		to = 0
	}
	if to >= len(e.p.Clips) {
		to = len(e.p.Clips) - 1
	}
	if to == from {
		return nil
	}
	c := e.p.Clips[from]
	e.p.Clips = append(e.p.Clips[:from], e.p.Clips[from+1:]...)
	rest := append([]Clip{c}, e.p.Clips[to:]...)
	e.p.Clips = append(e.p.Clips[:to], rest...)
	return nil
}

func (e *Editor) SetClipDuration(id string, sec float64) error {
	if sec < 0 {
		sec = 0
	}
	return e.updateClip(id, func(c *Clip) { c.DurationSec = sec })
}

func (e *Editor) SetClipCrop(id string, crop Crop) error {
	if crop.Zoom < 1 {
		crop.Zoom = 1
	}
	return e.updateClip(id, func(c *Clip) { c.Crop = crop })
}

func (e *Editor) SetClipAdjust(id string, adj Adjust) error {
	return e.updateClip(id, func(c *Clip) { c.Adjust = adj })
}

func (e *Editor) AddOverlay(clipID string, o TextOverlay) error {
	return e.updateClip(clipID, func(c *Clip) {
		c.Overlays = append(c.Overlays, o)
	})
}

func (e *Editor) UpdateOverlay(clipID string, o TextOverlay) error {
	found := false
	err := e.updateClip(clipID, func(c *Clip) {
		for i := range c.Overlays {
			if c.Overlays[i].ID == o.ID {
				c.Overlays[i] = o
				found = true
				return
			}
		}
	})
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("overlay %s: %w", o.ID, ErrNotFound)
	}
	return nil
}

func (e *Editor) RemoveOverlay(clipID, overlayID string) error {
	found := false
	err := e.updateClip(clipID, func(c *Clip) {
		for i := range c.Overlays {
			if c.Overlays[i].ID == overlayID {
				c.Overlays = append(c.Overlays[:i], c.Overlays[i+1:]...)
				found = true
				return
			}
		}
	})
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("overlay %s: %w", overlayID, ErrNotFound)
	}
	return nil
}

// SetLyrics replaces the whole lyric list, kept sorted by start time.
// The sort is stable so list order still breaks ties between lines that
// start together.
func (e *Editor) SetLyrics(lines []LyricLine) {
	sorted := make([]LyricLine, len(lines))
	copy(sorted, lines)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].StartSec < sorted[j].StartSec
	})
	e.mu.Lock()
	defer e.mu.Unlock()
	e.p.Lyrics = sorted
}

func (e *Editor) AddLyric(l LyricLine) {
	e.mu.RLock()
	lines := make([]LyricLine, len(e.p.Lyrics), len(e.p.Lyrics)+1)
	copy(lines, e.p.Lyrics)
	e.mu.RUnlock()
	e.SetLyrics(append(lines, l))
}

func (e *Editor) RemoveLyric(id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i := range e.p.Lyrics {
		if e.p.Lyrics[i].ID == id {
			e.p.Lyrics = append(e.p.Lyrics[:i], e.p.Lyrics[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("lyric %s: %w", id, ErrNotFound)
}

// SetMainAudio attaches or clears (nil) the main track.
func (e *Editor) SetMainAudio(t *AudioTrack) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.p.MainAudio = cloneTrack(t)
}

// SetBackgroundAudio attaches or clears (nil) the background track.
func (e *Editor) SetBackgroundAudio(t *AudioTrack) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.p.Background = cloneTrack(t)
}

func (e *Editor) SetMainGain(gain float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.p.MainAudio != nil {
		e.p.MainAudio.Gain = clampGain(gain)
	}
}

func (e *Editor) SetBackgroundGain(gain float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.p.Background != nil {
		e.p.Background.Gain = clampGain(gain)
	}
}

func (e *Editor) UpdateSettings(s Settings) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.p.Settings = s
}

func (e *Editor) updateClip(id string, fn func(*Clip)) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	i := e.p.ClipIndex(id)
	if i < 0 {
		return fmt.Errorf("clip %s: %w", id, ErrNotFound)
	}
	fn(&e.p.Clips[i])
	return nil
}

func cloneTrack(t *AudioTrack) *AudioTrack {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}

func clampGain(g float64) float64 {
	if g < 0 {
		return 0
	}
	if g > 1 {
		return 1
	}
	return g
}
