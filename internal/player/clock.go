package player

import (
	"math"
	"sync"
	"time"
)

// Clock supplies the playback time the driver resolves frames against.
// Preview runs on a wall clock; export swaps in a frame counter so every
// encoded frame lands exactly 1/fps after the previous one regardless of
// render speed.
type Clock interface {
	// Now returns the current playback time in seconds.
	Now() float64
	// Play and Pause control whether time advances.
	Play()
	Pause()
	// Seek moves the playhead; negative times clamp to zero.
	Seek(t float64)
	// Ended reports whether the playhead has reached total seconds.
	Ended(total float64) bool
}

// WallClock advances with real time while playing and holds still while
// paused, like an audio element's position.
type WallClock struct {
	mu      sync.Mutex
	base    float64
	since   time.Time
	playing bool
}

func NewWallClock() *WallClock {
	return &WallClock{}
}

func (c *WallClock) Now() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now()
}

func (c *WallClock) now() float64 {
	if c.playing {
		return c.base + time.Since(c.since).Seconds()
	}
	return c.base
}

func (c *WallClock) Play() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.playing {
		c.since = time.Now()
		c.playing = true
	}
}

func (c *WallClock) Pause() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.playing {
		c.base = c.now()
		c.playing = false
	}
}

func (c *WallClock) Seek(t float64) {
	if t < 0 {
		t = 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.base = t
	if c.playing {
		c.since = time.Now()
	}
}

func (c *WallClock) Ended(total float64) bool {
	return total > 0 && c.Now() >= total
}

// FrameClock maps a frame index onto the timeline: frame n is at n/fps
// seconds. Play and Pause are no-ops; time moves only when the export loop
// says so.
type FrameClock struct {
	mu  sync.Mutex
	fps int
	n   int64
}

func NewFrameClock(fps int) *FrameClock {
	if fps <= 0 {
		fps = 30
	}
	return &FrameClock{fps: fps}
}

func (c *FrameClock) Now() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return float64(c.n) / float64(c.fps)
}

// SetFrame positions the clock on frame n.
func (c *FrameClock) SetFrame(n int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if n < 0 {
		n = 0
	}
	c.n = n
}

// Frame returns the current frame index.
func (c *FrameClock) Frame() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.n
}

func (c *FrameClock) Play()  {}
func (c *FrameClock) Pause() {}

func (c *FrameClock) Seek(t float64) {
	if t < 0 {
		t = 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.n = int64(math.Round(t * float64(c.fps)))
}

func (c *FrameClock) Ended(total float64) bool {
	return total > 0 && c.Now() >= total
}

// FrameCount returns how many frames cover total seconds at fps, rounding
// up so the last partial frame interval still gets a frame.
func FrameCount(total float64, fps int) int64 {
	if total <= 0 || fps <= 0 {
		return 0
	}
	return int64(math.Ceil(total * float64(fps)))
}
