// Package timeline maps a global playback time onto the clip sequence.
// Resolution is pure arithmetic over the project snapshot; the same inputs
// always produce the same Position, which is what makes preview and export
// paint identical frames for identical times.
package timeline

import (
	"github.com/ivlev/lyric2video/internal/project"
)

// Position is the fully resolved playback state for one instant.
type Position struct {
	// Time is the global time clamped to [0, total].
	Time float64

	// ActiveIndex is the clip under the playhead, -1 when no clip is
	// renderable. Zero-duration clips occupy an empty window and are
	// never active.
	ActiveIndex int

	// LocalTime is the time inside the active clip, clamped to its
	// duration. Remaining is duration minus local time.
	LocalTime float64
	Remaining float64

	// NextIndex is the clip a transition would reveal, -1 when the active
	// clip is the last renderable one.
	NextIndex int

	// InTransition is set when the playhead sits inside the outgoing
	// clip's transition window. Progress runs 1 -> 0 across the window,
	// reaching 0 exactly at the cut.
	InTransition bool
	Progress     float64
}

// Resolve locates global time t on the project's timeline.
func Resolve(p *project.Project, t float64) Position {
	pos := Position{ActiveIndex: -1, NextIndex: -1}

	total := p.TotalDuration()
	if t < 0 {
		t = 0
	}
	if t > total {
		t = total
	}
	pos.Time = t

	active, local := locate(p.Clips, t)
	if active < 0 {
		return pos
	}
	dur := p.Clips[active].DurationSec
	if local > dur {
		local = dur
	}
	pos.ActiveIndex = active
	pos.LocalTime = local
	pos.Remaining = dur - local
	pos.NextIndex = nextRenderable(p.Clips, active)

	s := p.Settings
	if s.Transition == "none" || s.Transition == "" || s.TransitionSec <= 0 {
		return pos
	}
	if pos.NextIndex < 0 {
		return pos
	}
	window := s.TransitionSec
	if half := dur / 2; half < window {
		window = half
	}
	if window <= 0 || pos.Remaining > window {
		return pos
	}

	pos.InTransition = true
	pos.Progress = pos.Remaining / window
	if pos.Progress > 1 {
		pos.Progress = 1
	}
	if pos.Progress < 0 {
		pos.Progress = 0
	}
	return pos
}

// locate returns the index of the clip whose half-open window [start,
// start+dur) contains t, and t relative to that window. Past the end of the
// sequence it clamps to the last renderable clip.
func locate(clips []project.Clip, t float64) (int, float64) {
	var start float64
	for i := range clips {
		dur := clips[i].DurationSec
		if dur <= 0 {
			continue
		}
		if t < start+dur {
			return i, t - start
		}
		start += dur
	}
	// Beyond the sequence: stay on the last clip that can be drawn.
	for i := len(clips) - 1; i >= 0; i-- {
		if clips[i].DurationSec > 0 {
			return i, t - (start - clips[i].DurationSec)
		}
	}
	return -1, 0
}

// nextRenderable finds the clip a transition out of index i would reveal.
func nextRenderable(clips []project.Clip, i int) int {
	for j := i + 1; j < len(clips); j++ {
		if clips[j].DurationSec > 0 {
			return j
		}
	}
	return -1
}

// Start returns the global time at which the clip at index begins, skipping
// zero-duration clips like Resolve does. Used for seeking to a clip.
func Start(clips []project.Clip, index int) float64 {
	var start float64
	for i := 0; i < index && i < len(clips); i++ {
		if clips[i].DurationSec > 0 {
			start += clips[i].DurationSec
		}
	}
	return start
}
