// Package export renders a project to an MP4 file by streaming raw frames
// into an ffmpeg child process.
//
// The recorder freezes a snapshot of the project before the first frame, so
// edits made while an export runs do not bleed into the output. Frames are
// produced on a frame-counting clock rather than wall time, which makes the
// result deterministic: the same project always yields the same frames in
// the same order, regardless of how fast the machine encodes.
package export

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/image/draw"

	"github.com/ivlev/lyric2video/internal/audio"
	"github.com/ivlev/lyric2video/internal/compositor"
	"github.com/ivlev/lyric2video/internal/logging"
	"github.com/ivlev/lyric2video/internal/player"
	"github.com/ivlev/lyric2video/internal/project"
	"github.com/ivlev/lyric2video/internal/system"
	"github.com/ivlev/lyric2video/internal/timeline"
)

// Options configures a single export run.
type Options struct {
	// OutputDir receives the finished file. Created if missing.
	OutputDir string
	// OutputName overrides DefaultOutputName.
	OutputName string
	// FFmpegPath overrides the ffmpeg binary looked up on PATH.
	FFmpegPath string
	// Encoder skips encoder negotiation when set.
	Encoder string
	// Quality switches rate control from the bitrate tier to the
	// encoder's quality knob. Zero keeps the tier.
	Quality int
	// Progress, when set, is called roughly once per second of rendered
	// video with the number of frames written so far.
	Progress func(done, total int64)
}

// Result describes a finished export.
type Result struct {
	Path     string
	Frames   int64
	Duration float64
	Encoder  string
	Size     int64
	Elapsed  time.Duration
}

// Recorder turns project snapshots into MP4 files. The driver is optional;
// when present its transport is locked and its audio monitor muted for the
// duration of the run.
type Recorder struct {
	editor *project.Editor
	driver *player.Driver
	log    zerolog.Logger
}

// New returns a recorder for the given editor. driver may be nil for
// one-shot command line exports that never opened a preview.
func New(editor *project.Editor, driver *player.Driver) *Recorder {
	return &Recorder{
		editor: editor,
		driver: driver,
		log:    logging.WithComponent("export"),
	}
}

// Export renders the current project to disk and blocks until ffmpeg has
// finalized the file. On any failure the partial output is removed and a
// single wrapped error is returned.
func (r *Recorder) Export(ctx context.Context, opts Options) (*Result, error) {
	if r.driver != nil {
		if err := r.driver.BeginExport(); err != nil {
			return nil, err
		}
		defer r.driver.EndExport()
	}

	snap := r.editor.Snapshot()

	width, height, fps := snap.Settings.Width, snap.Settings.Height, snap.Settings.FPS
	if width <= 0 || height <= 0 {
		width, height = 1280, 720
	}
	if fps <= 0 {
		fps = 30
	}
	total := snap.TotalDuration()
	frames := player.FrameCount(total, fps)

	ffmpegPath := opts.FFmpegPath
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	encoder := opts.Encoder
	if encoder == "" {
		encoder = system.BestEncoder(ctx, ffmpegPath)
	}

	outDir := opts.OutputDir
	if outDir == "" {
		outDir = "."
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, fmt.Errorf("export: create output dir: %w", err)
	}
	outName := opts.OutputName
	if outName == "" {
		outName = DefaultOutputName
	}
	outPath := filepath.Join(outDir, outName)

	mix := audio.BuildMix(&snap, total)
	args := buildArgs(width, height, fps, total, encoder, opts.Quality, mix, outPath)

	r.log.Info().
		Str("encoder", encoder).
		Int("width", width).Int("height", height).Int("fps", fps).
		Float64("duration", total).
		Int64("frames", frames).
		Bool("audio", mix.HasAudio()).
		Str("out", outPath).
		Msg("export started")

	start := time.Now()
	if err := r.run(ctx, &snap, width, height, fps, frames, ffmpegPath, args, opts.Progress); err != nil {
		os.Remove(outPath)
		return nil, err
	}

	info, err := os.Stat(outPath)
	if err != nil || info.Size() == 0 {
		os.Remove(outPath)
		return nil, fmt.Errorf("export: ffmpeg produced no output at %s", outPath)
	}

	res := &Result{
		Path:     outPath,
		Frames:   frames,
		Duration: total,
		Encoder:  encoder,
		Size:     info.Size(),
		Elapsed:  time.Since(start),
	}
	r.log.Info().
		Int64("frames", res.Frames).
		Int64("bytes", res.Size).
		Dur("elapsed", res.Elapsed).
		Msg("export finished")
	return res, nil
}

// run starts ffmpeg and feeds it every frame of the timeline.
func (r *Recorder) run(ctx context.Context, snap *project.Project, width, height, fps int, frames int64, ffmpegPath string, args []string, progress func(done, total int64)) error {
	renderer, err := compositor.New()
	if err != nil {
		return fmt.Errorf("export: init renderer: %w", err)
	}
	renderer.Scaler = draw.CatmullRom
	clock := player.NewFrameClock(fps)
	frame := system.GetFrame(image.Rect(0, 0, width, height))
	defer system.PutFrame(frame)

	cmd := exec.CommandContext(ctx, ffmpegPath, args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("export: open ffmpeg stdin: %w", err)
	}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("export: start ffmpeg: %w", err)
	}

	feedErr := func() error {
		for n := int64(0); n < frames; n++ {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
			clock.SetFrame(n)
			pos := timeline.Resolve(snap, clock.Now())
			renderer.Render(frame, snap, pos)
			if err := writeFrame(stdin, frame); err != nil {
				return fmt.Errorf("write frame %d: %w", n, err)
			}
			if progress != nil && (n%int64(fps) == 0 || n == frames-1) {
				progress(n+1, frames)
			}
		}
		return nil
	}()

	closeErr := stdin.Close()
	if feedErr != nil {
		// ffmpeg may still be running if the failure was ours.
		if cmd.Process != nil {
			cmd.Process.Kill()
		}
		cmd.Wait()
		return fmt.Errorf("export: %w%s", feedErr, stderrTail(&stderr))
	}
	if waitErr := cmd.Wait(); waitErr != nil {
		return fmt.Errorf("export: ffmpeg: %w%s", waitErr, stderrTail(&stderr))
	}
	if closeErr != nil {
		return fmt.Errorf("export: close ffmpeg stdin: %w", closeErr)
	}
	return nil
}

// stderrTail formats the end of ffmpeg's stderr for error messages.
func stderrTail(buf *bytes.Buffer) string {
	s := strings.TrimSpace(buf.String())
	if s == "" {
		return ""
	}
	const keep = 500
	if len(s) > keep {
		s = "..." + s[len(s)-keep:]
	}
	return "\n" + s
}
