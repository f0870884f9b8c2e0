package export

import (
	"fmt"
	"image"
	"image/draw"
	"io"

	"github.com/ivlev/lyric2video/internal/audio"
)

// DefaultOutputName is the file the export produces unless overridden.
const DefaultOutputName = "music-video.mp4"

// BitrateFor returns the target video bitrate for a supported output mode.
// The tiers match what the preview promises: smooth motion at 60fps costs
// ~50% more, 1080p roughly doubles 720p.
func BitrateFor(width, height, fps int) string {
	hd := height >= 1080 || width >= 1920
	high := fps >= 60
	switch {
	case hd && high:
		return "12000k"
	case hd:
		return "8000k"
	case high:
		return "7500k"
	default:
		return "5000k"
	}
}

// encoderArgs picks the rate-control flags for the negotiated encoder. A
// non-zero quality switches from the bitrate tier to the encoder's own
// quality knob.
func encoderArgs(encoder string, quality int, bitrate string) []string {
	if quality > 0 {
		switch encoder {
		case "h264_videotoolbox":
			// VideoToolbox ignores -q:v on several versions; translate
			// the knob to a bitrate instead.
			return []string{"-b:v", fmt.Sprintf("%dk", quality*100)}
		case "h264_nvenc":
			return []string{"-cq", fmt.Sprintf("%d", quality)}
		default:
			return []string{"-crf", fmt.Sprintf("%d", quality), "-preset", "medium"}
		}
	}

	args := []string{"-b:v", bitrate}
	if encoder == "libx264" {
		args = append(args, "-preset", "medium", "-profile:v", "baseline")
	}
	return args
}

// buildArgs assembles the full ffmpeg invocation: raw RGBA frames on stdin
// as input zero, the audio mix inputs after it, one output trimmed to the
// timeline length.
func buildArgs(width, height, fps int, total float64, encoder string, quality int, mix audio.Mix, outPath string) []string {
	args := []string{
		"-y",
		"-f", "rawvideo",
		"-pixel_format", "rgba",
		"-video_size", fmt.Sprintf("%dx%d", width, height),
		"-framerate", fmt.Sprintf("%d", fps),
		"-i", "-",
	}
	args = append(args, mix.InputArgs...)
	if mix.HasAudio() {
		args = append(args, "-filter_complex", mix.FilterComplex)
	}
	args = append(args, mix.MapArgs...)
	args = append(args,
		"-t", fmt.Sprintf("%.3f", total),
		"-r", fmt.Sprintf("%d", fps),
		"-pix_fmt", "yuv420p",
		"-c:v", encoder,
	)
	args = append(args, encoderArgs(encoder, quality, BitrateFor(width, height, fps))...)
	if mix.HasAudio() {
		args = append(args, "-c:a", "aac", "-b:a", "192k")
	}
	args = append(args, "-movflags", "+faststart", outPath)
	return args
}

// writeFrame streams one frame as raw RGBA bytes. Buffers straight from
// the renderer are tight and go out as-is; anything else is repacked.
func writeFrame(w io.Writer, img *image.RGBA) error {
	b := img.Bounds()
	if img.Stride == b.Dx()*4 && b.Min.X == 0 && b.Min.Y == 0 {
		_, err := w.Write(img.Pix)
		return err
	}
	tight := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(tight, tight.Bounds(), img, b.Min, draw.Src)
	_, err := w.Write(tight.Pix)
	return err
}
