package export

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"testing"

	"github.com/ivlev/lyric2video/internal/audio"
	"github.com/ivlev/lyric2video/internal/project"
)

func TestBitrateFor(t *testing.T) {
	cases := []struct {
		w, h, fps int
		want      string
	}{
		{1280, 720, 30, "5000k"},
		{1280, 720, 60, "7500k"},
		{1920, 1080, 30, "8000k"},
		{1920, 1080, 60, "12000k"},
	}
	for _, c := range cases {
		if got := BitrateFor(c.w, c.h, c.fps); got != c.want {
			t.Errorf("BitrateFor(%d, %d, %d) = %s, want %s", c.w, c.h, c.fps, got, c.want)
		}
	}
}

func TestEncoderArgs(t *testing.T) {
	cases := []struct {
		name    string
		encoder string
		quality int
		want    []string
	}{
		{"tier libx264", "libx264", 0, []string{"-b:v", "5000k", "-preset", "medium", "-profile:v", "baseline"}},
		{"tier nvenc", "h264_nvenc", 0, []string{"-b:v", "5000k"}},
		{"quality libx264", "libx264", 23, []string{"-crf", "23", "-preset", "medium"}},
		{"quality nvenc", "h264_nvenc", 28, []string{"-cq", "28"}},
		{"quality videotoolbox", "h264_videotoolbox", 60, []string{"-b:v", "6000k"}},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got := encoderArgs(c.encoder, c.quality, "5000k")
			if !slices.Equal(got, c.want) {
				t.Errorf("encoderArgs(%s, %d) = %v, want %v", c.encoder, c.quality, got, c.want)
			}
		})
	}
}

func TestBuildArgsSilent(t *testing.T) {
	args := buildArgs(1280, 720, 30, 12.5, "libx264", 0, audio.Mix{MapArgs: []string{"-map", "0:v"}}, "out.mp4")

	prefix := []string{"-y", "-f", "rawvideo", "-pixel_format", "rgba", "-video_size", "1280x720", "-framerate", "30", "-i", "-"}
	if !slices.Equal(args[:len(prefix)], prefix) {
		t.Fatalf("args prefix = %v, want %v", args[:len(prefix)], prefix)
	}
	if slices.Contains(args, "-filter_complex") {
		t.Error("silent export should not carry a filter graph")
	}
	if slices.Contains(args, "-c:a") {
		t.Error("silent export should not configure an audio codec")
	}
	if i := slices.Index(args, "-t"); i < 0 || args[i+1] != "12.500" {
		t.Errorf("missing -t 12.500 in %v", args)
	}
	if args[len(args)-1] != "out.mp4" {
		t.Errorf("output path must be the final argument, got %v", args[len(args)-1])
	}
}

func TestBuildArgsWithMix(t *testing.T) {
	mix := audio.Mix{
		InputArgs:     []string{"-i", "song.mp3"},
		FilterComplex: "[1:a]volume=1.000[aout]",
		MapArgs:       []string{"-map", "0:v", "-map", "[aout]"},
	}
	args := buildArgs(1920, 1080, 60, 30, "h264_nvenc", 0, mix, "out.mp4")

	if i := slices.Index(args, "-filter_complex"); i < 0 || args[i+1] != mix.FilterComplex {
		t.Fatalf("filter graph not threaded through: %v", args)
	}
	if !slices.Contains(args, "[aout]") {
		t.Error("mixed audio stream is not mapped")
	}
	if i := slices.Index(args, "-c:a"); i < 0 || args[i+1] != "aac" {
		t.Error("audio export must encode aac")
	}
	if i := slices.Index(args, "-b:v"); i < 0 || args[i+1] != "12000k" {
		t.Errorf("1080p60 tier not applied: %v", args)
	}
	// Audio inputs must come after the raw video input so stream
	// indices in the filter graph line up.
	if vi, ai := slices.Index(args, "-"), slices.Index(args, "song.mp3"); vi > ai {
		t.Error("audio input precedes the video pipe")
	}
}

func TestWriteFrameTight(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 4, 3))
	for i := range img.Pix {
		img.Pix[i] = byte(i)
	}
	var buf bytes.Buffer
	if err := writeFrame(&buf, img); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(buf.Bytes(), img.Pix) {
		t.Error("tightly packed frame should stream unchanged")
	}
}

func TestWriteFrameSubImage(t *testing.T) {
	base := image.NewRGBA(image.Rect(0, 0, 8, 8))
	for y := 0; y < 8; y++ {
		for x := 0; x < 8; x++ {
			base.SetRGBA(x, y, color.RGBA{R: byte(x), G: byte(y), A: 255})
		}
	}
	sub := base.SubImage(image.Rect(2, 2, 6, 5)).(*image.RGBA)

	var buf bytes.Buffer
	if err := writeFrame(&buf, sub); err != nil {
		t.Fatal(err)
	}
	if got, want := buf.Len(), 4*3*4; got != want {
		t.Fatalf("repacked frame is %d bytes, want %d", got, want)
	}
	// First pixel of the window is (2,2).
	if buf.Bytes()[0] != 2 || buf.Bytes()[1] != 2 {
		t.Errorf("window origin not preserved: % x", buf.Bytes()[:4])
	}
}

func TestExportEmptyProject(t *testing.T) {
	ffmpeg, err := exec.LookPath("ffmpeg")
	if err != nil {
		t.Skip("ffmpeg not installed")
	}

	p := project.New("untitled")
	p.Settings.Width, p.Settings.Height, p.Settings.FPS = 320, 180, 30
	ed := project.NewEditor(p)

	dir := t.TempDir()
	rec := New(ed, nil)

	var lastDone, lastTotal int64
	res, err := rec.Export(context.Background(), Options{
		OutputDir:  dir,
		FFmpegPath: ffmpeg,
		Encoder:    "libx264",
		Progress: func(done, total int64) {
			lastDone, lastTotal = done, total
		},
	})
	if err != nil {
		t.Fatalf("Export: %v", err)
	}

	// An empty timeline still renders the 10 second placeholder.
	if res.Frames != 300 {
		t.Errorf("frames = %d, want 300", res.Frames)
	}
	if res.Path != filepath.Join(dir, DefaultOutputName) {
		t.Errorf("path = %s", res.Path)
	}
	if info, err := os.Stat(res.Path); err != nil || info.Size() == 0 {
		t.Fatalf("output missing or empty: %v", err)
	}
	if lastDone != 300 || lastTotal != 300 {
		t.Errorf("progress ended at %d/%d, want 300/300", lastDone, lastTotal)
	}

	if _, err := exec.LookPath("ffprobe"); err == nil {
		dur, err := audio.Probe(context.Background(), res.Path)
		if err != nil {
			t.Fatalf("probe exported file: %v", err)
		}
		if dur < 9.5 || dur > 10.5 {
			t.Errorf("exported duration = %.2fs, want ~10s", dur)
		}
	}
}

func TestExportCanceledRemovesPartialFile(t *testing.T) {
	ffmpeg, err := exec.LookPath("ffmpeg")
	if err != nil {
		t.Skip("ffmpeg not installed")
	}

	p := project.New("untitled")
	p.Settings.Width, p.Settings.Height, p.Settings.FPS = 320, 180, 30
	ed := project.NewEditor(p)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	dir := t.TempDir()
	_, err = New(ed, nil).Export(ctx, Options{OutputDir: dir, FFmpegPath: ffmpeg, Encoder: "libx264"})
	if err == nil {
		t.Fatal("expected an error from a canceled export")
	}
	if _, statErr := os.Stat(filepath.Join(dir, DefaultOutputName)); !os.IsNotExist(statErr) {
		t.Error("partial output should have been removed")
	}
}
