// Package audio covers the sound half of a project: probing track
// durations, the preview monitor's mute state, and the ffmpeg mix graph
// that export uses to blend the main and background tracks.
package audio

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"sync"

	"github.com/ivlev/lyric2video/internal/logging"
	"github.com/ivlev/lyric2video/internal/project"
)

// Background music fades in and out over this many seconds, shrinking on
// very short timelines so the fades never overlap.
const bgFadeSec = 2.0

// Probe returns the duration of an audio file in seconds using ffprobe.
func Probe(ctx context.Context, path string) (float64, error) {
	cmd := exec.CommandContext(ctx, "ffprobe",
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	)
	out, err := cmd.Output()
	if err != nil {
		return 0, fmt.Errorf("ffprobe %s: %w", path, err)
	}
	dur, err := strconv.ParseFloat(strings.TrimSpace(string(out)), 64)
	if err != nil {
		return 0, fmt.Errorf("parsing ffprobe output %q: %w", strings.TrimSpace(string(out)), err)
	}
	return dur, nil
}

// Mix describes the audio side of an ffmpeg export invocation. Input zero
// is always the raw video stream; audio inputs follow.
type Mix struct {
	// InputArgs are appended to the command line after the video input,
	// e.g. ["-i", main, "-stream_loop", "-1", "-i", background].
	InputArgs []string

	// FilterComplex is the -filter_complex expression producing [aout].
	// Empty when the project has no audio at all.
	FilterComplex string

	// MapArgs select the final video and audio streams.
	MapArgs []string
}

// HasAudio reports whether the mix carries any audio stream.
func (m Mix) HasAudio() bool { return m.FilterComplex != "" }

// BuildMix assembles the gain-staged graph for a project: the main track at
// its own volume, the background track looped for the whole timeline with a
// fade-in and fade-out, both mixed and trimmed to total seconds.
func BuildMix(p *project.Project, total float64) Mix {
	mix := Mix{MapArgs: []string{"-map", "0:v"}}

	type staged struct {
		label string
		chain string
	}
	var stages []staged
	input := 1 // input 0 is the video stream

	if p.MainAudio != nil && p.MainAudio.SourcePath != "" {
		mix.InputArgs = append(mix.InputArgs, "-i", p.Resolve(p.MainAudio.SourcePath))
		stages = append(stages, staged{
			label: "main",
			chain: fmt.Sprintf("[%d:a]volume=%.3f[main]", input, p.MainAudio.Gain),
		})
		input++
	}

	if p.Background != nil && p.Background.SourcePath != "" {
		fade := bgFadeSec
		if total < 2*fade {
			fade = total / 2
		}
		// The background loops indefinitely; the output -t trims it.
		mix.InputArgs = append(mix.InputArgs, "-stream_loop", "-1", "-i", p.Resolve(p.Background.SourcePath))
		stages = append(stages, staged{
			label: "bg",
			chain: fmt.Sprintf(
				"[%d:a]volume=%.3f,afade=t=in:st=0:d=%.2f,afade=t=out:st=%.2f:d=%.2f[bg]",
				input, p.Background.Gain, fade, total-fade, fade,
			),
		})
		input++
	}

	switch len(stages) {
	case 0:
		return mix
	case 1:
		mix.FilterComplex = strings.Replace(stages[0].chain, "["+stages[0].label+"]", "[aout]", 1)
	default:
		parts := make([]string, 0, len(stages)+1)
		labels := ""
		for _, s := range stages {
			parts = append(parts, s.chain)
			labels += "[" + s.label + "]"
		}
		parts = append(parts, fmt.Sprintf(
			"%samix=inputs=%d:duration=longest:dropout_transition=0[aout]",
			labels, len(stages),
		))
		mix.FilterComplex = strings.Join(parts, ";")
	}

	mix.MapArgs = append(mix.MapArgs, "-map", "[aout]")
	return mix
}

// Monitor is the preview's audio output stage. The engine is headless, so
// the monitor tracks mute state for whoever fronts it; muting during export
// is the part the capture path relies on.
type Monitor struct {
	mu    sync.Mutex
	muted bool
}

func NewMonitor() *Monitor {
	return &Monitor{}
}

func (m *Monitor) SetMuted(muted bool) {
	m.mu.Lock()
	changed := m.muted != muted
	m.muted = muted
	m.mu.Unlock()
	if changed {
		logging.WithComponent("audio").Debug().Bool("muted", muted).Msg("monitor mute changed")
	}
}

func (m *Monitor) Muted() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.muted
}
