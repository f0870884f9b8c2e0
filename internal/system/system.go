// Package system is the platform edge: process limits, hardware probing
// and ffmpeg encoder discovery. Everything here degrades gracefully; a
// failed probe falls back to safe defaults instead of stopping a render.
package system

import (
	"context"
	"os/exec"
	"runtime"
	"strings"
	"syscall"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/ivlev/lyric2video/internal/logging"
)

// RaiseFileLimit lifts the open-file soft limit toward 2048. Export keeps a
// child process, several pipes and every project asset open at once, which
// can brush against conservative defaults.
func RaiseFileLimit() {
	log := logging.WithComponent("system")

	var rl syscall.Rlimit
	if err := syscall.Getrlimit(syscall.RLIMIT_NOFILE, &rl); err != nil {
		log.Warn().Err(err).Msg("reading file limit failed")
		return
	}

	rl.Cur = 2048
	if rl.Cur > rl.Max {
		rl.Cur = rl.Max
	}
	if err := syscall.Setrlimit(syscall.RLIMIT_NOFILE, &rl); err != nil {
		log.Warn().Err(err).Msg("raising file limit failed")
		return
	}
	log.Debug().Uint64("limit", rl.Cur).Msg("open file limit raised")
}

// BestEncoder probes `ffmpeg -encoders` once and returns the fastest
// available H.264 encoder: VideoToolbox on macOS, then NVENC, falling back
// to software libx264 everywhere else.
func BestEncoder(ctx context.Context, ffmpegPath string) string {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	out, err := exec.CommandContext(ctx, ffmpegPath, "-encoders").CombinedOutput()
	if err != nil {
		return "libx264"
	}
	listing := string(out)
	for _, name := range []string{"h264_videotoolbox", "h264_nvenc"} {
		if strings.Contains(listing, name) {
			return name
		}
	}
	return "libx264"
}

// WorkerCount sizes a decode worker pool: an explicit configuration wins,
// otherwise the logical CPU count capped at 8 (image decoding saturates
// well before that).
func WorkerCount(configured int) int {
	if configured > 0 {
		return configured
	}
	n, err := cpu.Counts(true)
	if err != nil || n < 1 {
		n = runtime.NumCPU()
	}
	if n < 1 {
		n = 1
	}
	if n > 8 {
		n = 8
	}
	return n
}

// Report summarizes the machine ahead of an export.
type Report struct {
	CPUs         int
	MemAvailable uint64
	MemNeeded    uint64
	Constrained  bool
}

// Preflight estimates whether an export at the given output size is
// comfortable on this machine. The estimate covers the compositor's layer
// buffers plus encoder overhead; a constrained result is a warning, never a
// refusal.
func Preflight(ctx context.Context, width, height int) Report {
	log := logging.WithComponent("system")

	r := Report{CPUs: runtime.NumCPU()}
	if n, err := cpu.CountsWithContext(ctx, true); err == nil && n > 0 {
		r.CPUs = n
	}

	frame := uint64(width) * uint64(height) * 4
	// Destination, two clip layers, backdrop scratch, pool slack, plus a
	// flat allowance for the ffmpeg child.
	r.MemNeeded = frame*6 + 256<<20

	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("memory probe failed")
		return r
	}
	r.MemAvailable = vm.Available
	r.Constrained = vm.Available < r.MemNeeded
	if r.Constrained {
		log.Warn().
			Uint64("available", vm.Available).
			Uint64("needed", r.MemNeeded).
			Msg("memory is tight for this output size")
	}
	return r
}
