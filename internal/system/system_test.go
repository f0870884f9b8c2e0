package system

import (
	"context"
	"image"
	"os/exec"
	"strings"
	"testing"
)

func TestWorkerCount(t *testing.T) {
	if got := WorkerCount(3); got != 3 {
		t.Errorf("explicit config ignored: %d", got)
	}
	got := WorkerCount(0)
	if got < 1 || got > 8 {
		t.Errorf("derived workers = %d, want 1..8", got)
	}
}

func TestBestEncoderFallsBack(t *testing.T) {
	// A bogus binary path must still yield a usable encoder.
	if got := BestEncoder(context.Background(), "/no/such/ffmpeg"); got != "libx264" {
		t.Errorf("fallback encoder = %q, want libx264", got)
	}
}

func TestBestEncoderProbe(t *testing.T) {
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		t.Skip("ffmpeg not installed")
	}
	got := BestEncoder(context.Background(), "ffmpeg")
	if got != "libx264" && !strings.HasPrefix(got, "h264_") {
		t.Errorf("unexpected encoder %q", got)
	}
}

func TestPreflight(t *testing.T) {
	r := Preflight(context.Background(), 1920, 1080)
	if r.CPUs < 1 {
		t.Errorf("CPUs = %d", r.CPUs)
	}
	if r.MemNeeded <= 256<<20 {
		t.Errorf("estimate %d missing the frame buffers", r.MemNeeded)
	}
}

func TestFramePoolRoundTrip(t *testing.T) {
	rect := image.Rect(0, 0, 64, 36)
	a := GetFrame(rect)
	if a.Bounds() != rect {
		t.Fatalf("bounds = %v", a.Bounds())
	}
	a.Pix[0] = 42
	PutFrame(a)

	b := GetFrame(rect)
	defer PutFrame(b)
	if b.Bounds() != rect {
		t.Fatalf("reused bounds = %v", b.Bounds())
	}

	// Different sizes come from different pools.
	c := GetFrame(image.Rect(0, 0, 128, 72))
	defer PutFrame(c)
	if c.Bounds().Dx() != 128 {
		t.Fatalf("wrong pool: %v", c.Bounds())
	}
}
