// Package player owns the playback loop: a ticker at the project frame
// rate that resolves the clock against the timeline, composites a frame and
// hands it to a sink. Compositing happens on every tick, paused or not, so
// scrubbing gives immediate feedback.
package player

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ivlev/lyric2video/internal/compositor"
	"github.com/ivlev/lyric2video/internal/logging"
	"github.com/ivlev/lyric2video/internal/project"
	"github.com/ivlev/lyric2video/internal/system"
	"github.com/ivlev/lyric2video/internal/timeline"
)

type State int

const (
	Stopped State = iota
	Playing
	Exporting
)

func (s State) String() string {
	switch s {
	case Playing:
		return "playing"
	case Exporting:
		return "exporting"
	default:
		return "stopped"
	}
}

// ErrExportInProgress is returned by transport controls while a capture
// session holds the driver.
var ErrExportInProgress = errors.New("export in progress")

type Config struct {
	Editor   *project.Editor
	Renderer *compositor.Renderer
	Sink     Sink

	// Monitor, when set, is muted for the duration of an export.
	Monitor AudioMonitor

	// Clock defaults to a wall clock when nil.
	Clock Clock
}

// Stats is a running account of the loop's health.
type Stats struct {
	Ticks        int64
	Presented    int64
	SinkErrors   int64
	AvgRenderMs  float64
	EffectiveFPS float64
}

type Driver struct {
	ed      *project.Editor
	rend    *compositor.Renderer
	sink    Sink
	monitor AudioMonitor
	clock   Clock
	log     zerolog.Logger

	mu    sync.Mutex
	state State

	statsMu  sync.Mutex
	started  time.Time
	ticks    int64
	present  int64
	sinkErrs int64
	renderMs float64
}

func New(cfg Config) (*Driver, error) {
	if cfg.Editor == nil {
		return nil, fmt.Errorf("player: editor is required")
	}
	if cfg.Renderer == nil {
		return nil, fmt.Errorf("player: renderer is required")
	}
	if cfg.Sink == nil {
		return nil, fmt.Errorf("player: sink is required")
	}
	clock := cfg.Clock
	if clock == nil {
		clock = NewWallClock()
	}
	return &Driver{
		ed:      cfg.Editor,
		rend:    cfg.Renderer,
		sink:    cfg.Sink,
		monitor: cfg.Monitor,
		clock:   clock,
		log:     logging.WithComponent("player"),
	}, nil
}

// Clock exposes the driver's time source.
func (d *Driver) Clock() Clock { return d.clock }

// Run owns the tick loop until ctx is cancelled. Frame rate and output size
// are fixed from the settings at entry; restart the loop to apply changes
// to either.
func (d *Driver) Run(ctx context.Context) error {
	snap := d.ed.Snapshot()
	fps := snap.Settings.FPS
	if fps <= 0 {
		fps = 30
	}
	w, h := snap.Settings.Width, snap.Settings.Height
	if w <= 0 || h <= 0 {
		w, h = compositor.BaseWidth, compositor.BaseHeight
	}

	buf := system.GetFrame(image.Rect(0, 0, w, h))
	defer system.PutFrame(buf)

	ticker := time.NewTicker(time.Second / time.Duration(fps))
	defer ticker.Stop()

	d.statsMu.Lock()
	d.started = time.Now()
	d.statsMu.Unlock()

	d.log.Info().Int("fps", fps).Int("width", w).Int("height", h).Msg("playback loop started")

	for {
		select {
		case <-ctx.Done():
			d.log.Debug().Msg("playback loop stopped")
			return ctx.Err()
		case <-ticker.C:
			d.tick(buf)
		}
	}
}

func (d *Driver) tick(buf *image.RGBA) {
	start := time.Now()
	snap := d.ed.Snapshot()
	total := snap.TotalDuration()

	d.mu.Lock()
	if d.state == Playing && d.clock.Ended(total) {
		d.clock.Pause()
		// Timer-driven playback rewinds; audio-driven playback parks at
		// the end like a finished song.
		if snap.MainAudio == nil {
			d.clock.Seek(0)
		}
		d.state = Stopped
		d.log.Debug().Float64("total", total).Msg("reached end of timeline")
	}
	d.mu.Unlock()

	pos := timeline.Resolve(&snap, d.clock.Now())
	d.rend.Render(buf, &snap, pos)
	err := d.sink.Present(buf, pos)

	ms := float64(time.Since(start).Microseconds()) / 1000

	d.statsMu.Lock()
	d.ticks++
	if err != nil {
		d.sinkErrs++
	} else {
		d.present++
	}
	if d.renderMs == 0 {
		d.renderMs = ms
	} else {
		d.renderMs = d.renderMs*0.9 + ms*0.1
	}
	d.statsMu.Unlock()

	if err != nil {
		d.log.Warn().Err(err).Msg("frame sink rejected frame")
	}
}

// Play starts (or resumes) playback. Playing from the end restarts at zero.
func (d *Driver) Play() error {
	snap := d.ed.Snapshot()
	total := snap.TotalDuration()

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.state == Exporting {
		return ErrExportInProgress
	}
	if d.clock.Ended(total) {
		d.clock.Seek(0)
	}
	d.clock.Play()
	d.state = Playing
	return nil
}

// Pause freezes the playhead where it is.
func (d *Driver) Pause() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.state == Playing {
		d.clock.Pause()
		d.state = Stopped
	}
}

// Stop pauses and rewinds to the start.
func (d *Driver) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.state == Exporting {
		return ErrExportInProgress
	}
	d.clock.Pause()
	d.clock.Seek(0)
	d.state = Stopped
	return nil
}

// Seek moves the playhead, clamped to the timeline. Takes effect on the
// next tick whether playing or paused.
func (d *Driver) Seek(t float64) error {
	snap := d.ed.Snapshot()
	total := snap.TotalDuration()
	if t < 0 {
		t = 0
	}
	if t > total {
		t = total
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.state == Exporting {
		return ErrExportInProgress
	}
	d.clock.Seek(t)
	return nil
}

func (d *Driver) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// Position resolves the playhead right now, outside the tick cadence.
func (d *Driver) Position() timeline.Position {
	snap := d.ed.Snapshot()
	return timeline.Resolve(&snap, d.clock.Now())
}

// BeginExport pauses playback, mutes the monitor and locks the transport
// until EndExport. A second concurrent export is refused.
func (d *Driver) BeginExport() error {
	d.mu.Lock()
	if d.state == Exporting {
		d.mu.Unlock()
		return ErrExportInProgress
	}
	if d.state == Playing {
		d.clock.Pause()
	}
	d.state = Exporting
	d.mu.Unlock()

	if d.monitor != nil {
		d.monitor.SetMuted(true)
	}
	d.log.Info().Msg("transport locked for export")
	return nil
}

// EndExport releases the transport and unmutes the monitor. Safe to call
// regardless of how the export ended; the unmute must never be skipped.
func (d *Driver) EndExport() {
	d.mu.Lock()
	if d.state == Exporting {
		d.state = Stopped
	}
	d.mu.Unlock()

	if d.monitor != nil {
		d.monitor.SetMuted(false)
	}
	d.log.Info().Msg("transport released after export")
}

func (d *Driver) Stats() Stats {
	d.statsMu.Lock()
	defer d.statsMu.Unlock()

	s := Stats{
		Ticks:       d.ticks,
		Presented:   d.present,
		SinkErrors:  d.sinkErrs,
		AvgRenderMs: d.renderMs,
	}
	if !d.started.IsZero() {
		if elapsed := time.Since(d.started).Seconds(); elapsed > 0 {
			s.EffectiveFPS = float64(d.present) / elapsed
		}
	}
	return s
}
