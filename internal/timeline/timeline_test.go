package timeline

import (
	"math"
	"testing"

	"github.com/ivlev/lyric2video/internal/project"
)

func projectWith(durations []float64, transition string, transitionSec float64) *project.Project {
	p := project.New("t")
	for _, d := range durations {
		p.Clips = append(p.Clips, project.NewClip("x.jpg", d))
	}
	p.Settings.Transition = transition
	p.Settings.TransitionSec = transitionSec
	return &p
}

func TestResolveTable(t *testing.T) {
	tests := []struct {
		name          string
		durations     []float64
		transition    string
		transitionSec float64
		t             float64

		wantIndex     int
		wantLocal     float64
		wantActive    bool
		wantProgress  float64
		wantRemaining float64
	}{
		{
			name: "inside transition window", durations: []float64{4, 6},
			transition: "fade", transitionSec: 1, t: 3.6,
			wantIndex: 0, wantLocal: 3.6, wantActive: true,
			wantProgress: 0.4, wantRemaining: 0.4,
		},
		{
			name: "last clip never transitions", durations: []float64{4, 6},
			transition: "fade", transitionSec: 1, t: 9.5,
			wantIndex: 1, wantLocal: 5.5, wantActive: false,
			wantRemaining: 0.5,
		},
		{
			name: "before the window", durations: []float64{4, 6},
			transition: "fade", transitionSec: 1, t: 2.9,
			wantIndex: 0, wantLocal: 2.9, wantActive: false,
			wantRemaining: 1.1,
		},
		{
			name: "boundary belongs to the next clip", durations: []float64{4, 6},
			transition: "fade", transitionSec: 1, t: 4,
			wantIndex: 1, wantLocal: 0, wantActive: false,
			wantRemaining: 6,
		},
		{
			name: "window entry is inclusive", durations: []float64{4, 6},
			transition: "fade", transitionSec: 1, t: 3,
			wantIndex: 0, wantLocal: 3, wantActive: true,
			wantProgress: 1, wantRemaining: 1,
		},
		{
			name: "window clamped to half the clip", durations: []float64{1, 6},
			transition: "fade", transitionSec: 1, t: 0.4,
			wantIndex: 0, wantLocal: 0.4, wantActive: false,
			wantRemaining: 0.6,
		},
		{
			name: "clamped window activates late", durations: []float64{1, 6},
			transition: "fade", transitionSec: 1, t: 0.75,
			wantIndex: 0, wantLocal: 0.75, wantActive: true,
			wantProgress: 0.5, wantRemaining: 0.25,
		},
		{
			name: "transition kind none", durations: []float64{4, 6},
			transition: "none", transitionSec: 1, t: 3.9,
			wantIndex: 0, wantLocal: 3.9, wantActive: false,
			wantRemaining: 0.1,
		},
		{
			name: "zero transition duration", durations: []float64{4, 6},
			transition: "fade", transitionSec: 0, t: 3.9,
			wantIndex: 0, wantLocal: 3.9, wantActive: false,
			wantRemaining: 0.1,
		},
		{
			name: "zero-duration clip is skipped", durations: []float64{3, 0, 3},
			transition: "fade", transitionSec: 1, t: 3.5,
			wantIndex: 2, wantLocal: 0.5, wantActive: false,
			wantRemaining: 2.5,
		},
		{
			name: "past the end clamps to the last clip", durations: []float64{4, 6},
			transition: "fade", transitionSec: 1, t: 100,
			wantIndex: 1, wantLocal: 6, wantActive: false,
			wantRemaining: 0,
		},
	}

	const eps = 1e-9
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := projectWith(tt.durations, tt.transition, tt.transitionSec)
			pos := Resolve(p, tt.t)

			if pos.ActiveIndex != tt.wantIndex {
				t.Errorf("ActiveIndex = %d, want %d", pos.ActiveIndex, tt.wantIndex)
			}
			if math.Abs(pos.LocalTime-tt.wantLocal) > eps {
				t.Errorf("LocalTime = %v, want %v", pos.LocalTime, tt.wantLocal)
			}
			if math.Abs(pos.Remaining-tt.wantRemaining) > eps {
				t.Errorf("Remaining = %v, want %v", pos.Remaining, tt.wantRemaining)
			}
			if pos.InTransition != tt.wantActive {
				t.Errorf("InTransition = %v, want %v", pos.InTransition, tt.wantActive)
			}
			if tt.wantActive && math.Abs(pos.Progress-tt.wantProgress) > eps {
				t.Errorf("Progress = %v, want %v", pos.Progress, tt.wantProgress)
			}
		})
	}
}

func TestResolveRoundTrip(t *testing.T) {
	p := projectWith([]float64{2.5, 4, 1.25, 6}, "fade", 0.5)

	// Global time reconstructed from (index, local) must equal the input
	// for any time inside the visual range.
	for _, tt := range []float64{0, 0.1, 2.4999, 2.5, 5, 7.74, 7.75, 13, 13.7499} {
		pos := Resolve(p, tt)
		back := Start(p.Clips, pos.ActiveIndex) + pos.LocalTime
		if math.Abs(back-tt) > 1e-9 {
			t.Errorf("t=%v: reconstructed %v (index %d local %v)", tt, back, pos.ActiveIndex, pos.LocalTime)
		}
	}
}

func TestResolveEmptyProject(t *testing.T) {
	p := projectWith(nil, "fade", 1)

	pos := Resolve(p, 3)
	if pos.ActiveIndex != -1 || pos.NextIndex != -1 {
		t.Errorf("empty project: index %d next %d, want -1/-1", pos.ActiveIndex, pos.NextIndex)
	}
	if pos.InTransition {
		t.Error("empty project claims a transition")
	}

	// The empty timeline is still ten seconds long and seekable.
	if got := Resolve(p, 99).Time; got != 10 {
		t.Errorf("clamped time = %v, want 10", got)
	}
	if got := Resolve(p, -5).Time; got != 0 {
		t.Errorf("clamped time = %v, want 0", got)
	}
}

func TestNextIndexSkipsZeroDuration(t *testing.T) {
	p := projectWith([]float64{3, 0, 3}, "fade", 1)

	pos := Resolve(p, 2.8)
	if pos.ActiveIndex != 0 {
		t.Fatalf("ActiveIndex = %d", pos.ActiveIndex)
	}
	if pos.NextIndex != 2 {
		t.Errorf("NextIndex = %d, want 2 (skipping the empty clip)", pos.NextIndex)
	}
	if !pos.InTransition {
		t.Error("expected transition into the next renderable clip")
	}
}

func TestAudioExtendsTimeline(t *testing.T) {
	p := projectWith([]float64{4, 6}, "fade", 1)
	p.MainAudio = &project.AudioTrack{SourcePath: "a.mp3", DurationSec: 30, Gain: 1}

	// Past the visual end but inside the audio: hold the last frame.
	pos := Resolve(p, 20)
	if pos.Time != 20 {
		t.Errorf("Time = %v, want 20 (not clamped before audio end)", pos.Time)
	}
	if pos.ActiveIndex != 1 || pos.Remaining != 0 {
		t.Errorf("held frame: index %d remaining %v", pos.ActiveIndex, pos.Remaining)
	}
	if pos.InTransition {
		t.Error("held frame must not transition")
	}
}
