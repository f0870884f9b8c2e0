package player

import (
	"fmt"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"sync"

	"github.com/ivlev/lyric2video/internal/timeline"
)

// Sink receives every composited frame. Implementations must treat the
// frame as read-only and must not retain it past the call; the driver
// reuses the buffer on the next tick.
type Sink interface {
	Present(frame *image.RGBA, pos timeline.Position) error
}

// AudioMonitor is the preview's audible output. The driver mutes it for
// the duration of an export so the capture never picks up monitoring.
type AudioMonitor interface {
	SetMuted(muted bool)
}

// NullSink discards frames; useful for headless playback and benchmarks.
type NullSink struct{}

func (NullSink) Present(*image.RGBA, timeline.Position) error { return nil }

// SnapshotSink writes periodic PNG snapshots of the preview into a
// directory, at most one every Interval seconds of timeline time.
type SnapshotSink struct {
	Dir      string
	Interval float64

	mu     sync.Mutex
	last   float64
	wrote  bool
	Copies int
}

func (s *SnapshotSink) Present(frame *image.RGBA, pos timeline.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	interval := s.Interval
	if interval <= 0 {
		interval = 1
	}
	if s.wrote && pos.Time-s.last < interval {
		return nil
	}

	name := fmt.Sprintf("preview_%06.2fs.png", pos.Time)
	f, err := os.Create(filepath.Join(s.Dir, name))
	if err != nil {
		return fmt.Errorf("creating snapshot: %w", err)
	}
	defer f.Close()

	if err := png.Encode(f, frame); err != nil {
		return fmt.Errorf("encoding snapshot: %w", err)
	}
	s.last = pos.Time
	s.wrote = true
	s.Copies++
	return nil
}
