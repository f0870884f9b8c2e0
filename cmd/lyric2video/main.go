package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/ivlev/lyric2video/internal/assist"
	"github.com/ivlev/lyric2video/internal/audio"
	"github.com/ivlev/lyric2video/internal/autoframe"
	"github.com/ivlev/lyric2video/internal/compositor"
	"github.com/ivlev/lyric2video/internal/config"
	"github.com/ivlev/lyric2video/internal/export"
	"github.com/ivlev/lyric2video/internal/logging"
	"github.com/ivlev/lyric2video/internal/player"
	"github.com/ivlev/lyric2video/internal/project"
	"github.com/ivlev/lyric2video/internal/server"
	"github.com/ivlev/lyric2video/internal/source"
	"github.com/ivlev/lyric2video/internal/system"
)

var (
	cfgFile string
	verbose bool
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "lyric2video",
	Short: "lyric2video - turn stills, lyrics and two audio tracks into a music video",
	Long: "lyric2video composites a sequence of still images (or PDF pages), timed lyrics,\n" +
		"animated captions and a two-track audio mix into a single MP4, with optional\n" +
		"AI captioning and whisper-based lyric transcription.",
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		logging.Init(verbose)

		// .env is optional; it carries GEMINI_API_KEY for the caption command.
		godotenv.Load()

		cfg, err := config.Load(cfgFile)
		if err != nil {
			return err
		}
		cmd.SetContext(config.WithConfig(cmd.Context(), cfg))
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./lyric2video.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	rootCmd.AddCommand(renderCmd)
	rootCmd.AddCommand(previewCmd)
	rootCmd.AddCommand(captionCmd)
	rootCmd.AddCommand(frameCmd)
	rootCmd.AddCommand(transcribeCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(probeCmd)

	f := renderCmd.Flags()
	f.StringVar(&renderFlags.out, "out", "", "output directory (default from config)")
	f.StringVar(&renderFlags.name, "name", "", "output file name (default "+export.DefaultOutputName+")")
	f.StringVar(&renderFlags.audioPath, "audio", "", "main audio track (default: newest audio file next to the images)")
	f.StringVar(&renderFlags.bgAudioPath, "bg-audio", "", "background music track, looped with fades")
	f.Float64Var(&renderFlags.mainGain, "gain", 1.0, "main track volume 0..1")
	f.Float64Var(&renderFlags.bgGain, "bg-gain", 0.3, "background track volume 0..1")
	f.StringVar(&renderFlags.resolution, "resolution", "", "720p or 1080p")
	f.IntVar(&renderFlags.fps, "fps", 0, "frames per second: 30 or 60")
	f.StringVar(&renderFlags.transition, "transition", "", "clip transition: none, fade, slide, zoom")
	f.Float64Var(&renderFlags.transitionSec, "transition-sec", 0, "transition length in seconds")
	f.Float64Var(&renderFlags.clipSec, "clip-sec", 0, "force every clip to this many seconds")
	f.StringVar(&renderFlags.shareLink, "share-link", "", "URL for the end-card QR badge")
	f.StringVar(&renderFlags.encoder, "encoder", "", "video encoder (default: best available)")
	f.IntVar(&renderFlags.quality, "quality", 0, "quality knob (0 = bitrate tier; x264: CRF, VideoToolbox: Q*100kbit/s)")
	f.IntVar(&renderFlags.workers, "workers", 0, "decode workers (0 = from CPU count)")
	f.BoolVar(&renderFlags.autoframe, "autoframe", false, "suggest crops for clips the user has not framed")

	pf := previewCmd.Flags()
	pf.StringVar(&previewFlags.dir, "dir", "preview", "directory for snapshot frames")
	pf.Float64Var(&previewFlags.interval, "interval", 1.0, "seconds of timeline between snapshots")
	pf.Float64Var(&previewFlags.from, "from", 0, "start position in seconds")
	pf.DurationVar(&previewFlags.runFor, "for", 0, "wall-clock time to play (default: to the end)")

	cf := captionCmd.Flags()
	cf.StringVar(&captionFlags.style, "style", "", "caption style: romantic, energetic, minimal")
	cf.IntVar(&captionFlags.concurrency, "concurrency", 0, "parallel caption requests")

	ff := frameCmd.Flags()
	ff.IntVar(&frameFlags.workers, "workers", 0, "decode and analysis workers (0 = from CPU count)")

	tf := transcribeCmd.Flags()
	tf.StringVar(&transcribeFlags.language, "language", "", "spoken language hint, e.g. en")

	sf := serveCmd.Flags()
	sf.StringVar(&serveFlags.addr, "addr", "", "listen address (default from config)")
	sf.StringVar(&serveFlags.assetsDir, "assets", "assets", "directory for uploaded assets")
}

// ---------------------------------------------------------------- render

var renderFlags struct {
	out, name     string
	audioPath     string
	bgAudioPath   string
	mainGain      float64
	bgGain        float64
	resolution    string
	fps           int
	transition    string
	transitionSec float64
	clipSec       float64
	shareLink     string
	encoder       string
	quality       int
	workers       int
	autoframe     bool
}

var renderCmd = &cobra.Command{
	Use:   "render [bundle | images-dir | file.pdf | image]",
	Short: "Render a project bundle or a folder of stills to an MP4",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		cfg := config.FromContext(ctx)
		system.RaiseFileLimit()

		workers := system.WorkerCount(firstPositive(renderFlags.workers, cfg.Workers))
		ed, err := openProject(ctx, cfg, args[0], workers)
		if err != nil {
			return err
		}
		if err := applyRenderFlags(cmd, ctx, ed); err != nil {
			return err
		}

		snap := ed.Snapshot()
		if n, err := source.Attach(ctx, &snap, workers); err != nil {
			return fmt.Errorf("attaching assets: %w", err)
		} else if n > 0 {
			fmt.Printf("[*] decoded %d image(s)\n", n)
		}
		ed.Replace(snap)

		if renderFlags.autoframe {
			if n := autoframe.New().Clips(ctx, ed, workers); n > 0 {
				fmt.Printf("[*] auto-framed %d clip(s)\n", n)
			}
		}

		report := system.Preflight(ctx, snap.Settings.Width, snap.Settings.Height)
		if report.Constrained {
			fmt.Printf("[!] low memory: %d MB free, ~%d MB needed; the export may swap\n",
				report.MemAvailable>>20, report.MemNeeded>>20)
		}
		fmt.Printf("[*] timeline %.2fs, %d clip(s), %dx%d @ %dfps\n",
			snap.TotalDuration(), len(snap.Clips),
			snap.Settings.Width, snap.Settings.Height, snap.Settings.FPS)

		outDir := renderFlags.out
		if outDir == "" {
			outDir = cfg.OutputDir
		}
		encoder := renderFlags.encoder
		if encoder == "" {
			encoder = cfg.FFmpeg.Encoder
		}
		if encoder == "" {
			encoder = system.BestEncoder(ctx, cfg.FFmpeg.BinaryPath)
			if encoder != "libx264" {
				fmt.Printf("[*] hardware encoder detected: %s\n", encoder)
			}
		}

		rec := export.New(ed, nil)
		res, err := rec.Export(ctx, export.Options{
			OutputDir:  outDir,
			OutputName: renderFlags.name,
			FFmpegPath: cfg.FFmpeg.BinaryPath,
			Encoder:    encoder,
			Quality:    firstPositive(renderFlags.quality, cfg.FFmpeg.Quality),
			Progress: func(done, total int64) {
				fmt.Printf("\r[*] rendering frame %d/%d (%3.0f%%)", done, total,
					100*float64(done)/float64(total))
			},
		})
		if err != nil {
			fmt.Println()
			return err
		}

		fmt.Printf("\n[+++] done: %s (%.1f MB in %s)\n",
			res.Path, float64(res.Size)/(1<<20), res.Elapsed.Round(time.Second))
		return nil
	},
}

// applyRenderFlags folds command line overrides into the project.
func applyRenderFlags(cmd *cobra.Command, ctx context.Context, ed *project.Editor) error {
	snap := ed.Snapshot()
	s := snap.Settings

	if renderFlags.resolution != "" {
		s.Width, s.Height = (config.RenderConfig{Resolution: renderFlags.resolution}).Dimensions()
	}
	if renderFlags.fps > 0 {
		s.FPS = renderFlags.fps
	}
	if renderFlags.transition != "" {
		s.Transition = renderFlags.transition
	}
	if renderFlags.transitionSec > 0 {
		s.TransitionSec = renderFlags.transitionSec
	}
	if renderFlags.shareLink != "" {
		s.ShareLink = renderFlags.shareLink
	}
	ed.UpdateSettings(s)

	if renderFlags.audioPath != "" {
		if err := attachTrack(ctx, ed, renderFlags.audioPath, renderFlags.mainGain, false); err != nil {
			return err
		}
	}
	if renderFlags.bgAudioPath != "" {
		if err := attachTrack(ctx, ed, renderFlags.bgAudioPath, renderFlags.bgGain, true); err != nil {
			return err
		}
	}
	if cmd.Flags().Changed("gain") {
		ed.SetMainGain(renderFlags.mainGain)
	}

	if renderFlags.clipSec > 0 {
		for _, c := range ed.Snapshot().Clips {
			if err := ed.SetClipDuration(c.ID, renderFlags.clipSec); err != nil {
				return err
			}
		}
	} else if renderFlags.audioPath != "" {
		respreadClips(ed)
	}

	if err := ed.Snapshot().Validate(); err != nil {
		return fmt.Errorf("project is not renderable: %w", err)
	}
	return nil
}

// ---------------------------------------------------------------- preview

var previewFlags struct {
	dir      string
	interval float64
	from     float64
	runFor   time.Duration
}

var previewCmd = &cobra.Command{
	Use:   "preview [bundle | images-dir | file.pdf]",
	Short: "Play the timeline headless, dropping PNG snapshots",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		cfg := config.FromContext(ctx)

		workers := system.WorkerCount(cfg.Workers)
		ed, err := openProject(ctx, cfg, args[0], workers)
		if err != nil {
			return err
		}
		snap := ed.Snapshot()
		if _, err := source.Attach(ctx, &snap, workers); err != nil {
			return fmt.Errorf("attaching assets: %w", err)
		}
		ed.Replace(snap)

		if err := os.MkdirAll(previewFlags.dir, 0o755); err != nil {
			return err
		}

		rend, err := compositor.New()
		if err != nil {
			return err
		}
		sink := &player.SnapshotSink{Dir: previewFlags.dir, Interval: previewFlags.interval}
		drv, err := player.New(player.Config{
			Editor:   ed,
			Renderer: rend,
			Sink:     sink,
			Monitor:  audio.NewMonitor(),
		})
		if err != nil {
			return err
		}

		total := snap.TotalDuration()
		runCtx := ctx
		var cancel context.CancelFunc
		wait := previewFlags.runFor
		if wait <= 0 {
			wait = time.Duration((total-previewFlags.from)*float64(time.Second)) + 2*time.Second
		}
		runCtx, cancel = context.WithTimeout(ctx, wait)
		defer cancel()

		done := make(chan error, 1)
		go func() { done <- drv.Run(runCtx) }()

		if previewFlags.from > 0 {
			if err := drv.Seek(previewFlags.from); err != nil {
				cancel()
				<-done
				return err
			}
		}
		if err := drv.Play(); err != nil {
			cancel()
			<-done
			return err
		}
		fmt.Printf("[*] playing %.2fs of timeline into %s\n", total-previewFlags.from, previewFlags.dir)

		// A cancelled loop is the normal way playback ends here.
		settled := func(err error) error {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			return err
		}

		ticker := time.NewTicker(200 * time.Millisecond)
		defer ticker.Stop()
	loop:
		for {
			select {
			case err := <-done:
				if err := settled(err); err != nil {
					return err
				}
				break loop
			case <-ticker.C:
				if drv.State() == player.Stopped {
					cancel()
					if err := settled(<-done); err != nil {
						return err
					}
					break loop
				}
			}
		}

		st := drv.Stats()
		fmt.Printf("[+++] preview finished: %d frame(s), %d snapshot(s), %.1f fps effective, %.1f ms/frame\n",
			st.Presented, sink.Copies, st.EffectiveFPS, st.AvgRenderMs)
		return nil
	},
}

// ---------------------------------------------------------------- caption

var captionFlags struct {
	style       string
	concurrency int
}

var captionCmd = &cobra.Command{
	Use:   "caption [bundle]",
	Short: "Generate an AI caption overlay for every uncaptioned clip",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		cfg := config.FromContext(ctx)

		p, err := project.LoadBundle(args[0])
		if err != nil {
			return err
		}
		ed := project.NewEditor(*p)

		style := captionFlags.style
		if style == "" {
			style = cfg.Assist.CaptionStyle
		}
		limit := firstPositive(captionFlags.concurrency, cfg.Assist.Concurrency)

		captioner := assist.NewCaptioner(cfg.Assist.GeminiModel)
		added, err := captioner.CaptionClips(ctx, ed, style, limit)
		if err != nil {
			return err
		}
		if added == 0 {
			fmt.Println("[*] nothing to caption: every clip already has an overlay")
			return nil
		}

		snap := ed.Snapshot()
		if err := project.SaveBundle(&snap, args[0]); err != nil {
			return err
		}
		fmt.Printf("[+++] captioned %d clip(s), bundle updated\n", added)
		return nil
	},
}

// ---------------------------------------------------------------- frame

var frameFlags struct {
	workers int
}

var frameCmd = &cobra.Command{
	Use:   "frame [bundle]",
	Short: "Suggest a crop for every clip the user has not framed",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		cfg := config.FromContext(ctx)

		p, err := project.LoadBundle(args[0])
		if err != nil {
			return err
		}
		ed := project.NewEditor(*p)

		workers := system.WorkerCount(firstPositive(frameFlags.workers, cfg.Workers))
		snap := ed.Snapshot()
		if _, err := source.Attach(ctx, &snap, workers); err != nil {
			return fmt.Errorf("attaching assets: %w", err)
		}
		ed.Replace(snap)

		updated := autoframe.New().Clips(ctx, ed, workers)
		if err := ctx.Err(); err != nil {
			return err
		}
		if updated == 0 {
			fmt.Println("[*] nothing to frame: every clip is hand-framed or has no clear subject")
			return nil
		}

		out := ed.Snapshot()
		if err := project.SaveBundle(&out, args[0]); err != nil {
			return err
		}
		fmt.Printf("[+++] framed %d clip(s), bundle updated\n", updated)
		return nil
	},
}

// ------------------------------------------------------------- transcribe

var transcribeFlags struct {
	language string
}

var transcribeCmd = &cobra.Command{
	Use:   "transcribe [bundle]",
	Short: "Transcribe the main audio track into timed lyric lines",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		cfg := config.FromContext(ctx)

		p, err := project.LoadBundle(args[0])
		if err != nil {
			return err
		}
		if p.MainAudio == nil || p.MainAudio.SourcePath == "" {
			return fmt.Errorf("project has no main audio track to transcribe")
		}

		fmt.Printf("[*] sending %s to %s\n", p.MainAudio.SourcePath, cfg.Assist.WhisperURL)
		tr := assist.NewTranscriber(cfg.Assist.WhisperURL)
		lines, err := tr.Transcribe(ctx, p.Resolve(p.MainAudio.SourcePath), transcribeFlags.language)
		if err != nil {
			return err
		}

		ed := project.NewEditor(*p)
		ed.SetLyrics(lines)
		snap := ed.Snapshot()
		if err := project.SaveBundle(&snap, args[0]); err != nil {
			return err
		}
		fmt.Printf("[+++] transcribed %d lyric line(s), bundle updated\n", len(lines))
		return nil
	},
}

// ---------------------------------------------------------------- serve

var serveFlags struct {
	addr      string
	assetsDir string
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the render engine as an HTTP job API",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		cfg := config.FromContext(ctx)
		system.RaiseFileLimit()

		addr := serveFlags.addr
		if addr == "" {
			addr = cfg.Server.Addr
		}

		srv := server.New(server.Config{
			Addr:       addr,
			OutputDir:  cfg.OutputDir,
			AssetsDir:  serveFlags.assetsDir,
			Workers:    system.WorkerCount(cfg.Workers),
			FFmpegPath: cfg.FFmpeg.BinaryPath,
			Encoder:    cfg.FFmpeg.Encoder,
			Quality:    cfg.FFmpeg.Quality,
		})
		fmt.Printf("[*] listening on %s\n", addr)
		return srv.ListenAndServe(ctx)
	},
}

// ---------------------------------------------------------------- probe

var probeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Report encoders, CPU and memory available for rendering",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		cfg := config.FromContext(ctx)

		if _, err := exec.LookPath("ffmpeg"); err != nil {
			fmt.Println("[!] ffmpeg not found on PATH; rendering will fail")
		} else {
			fmt.Printf("[*] encoder: %s\n", system.BestEncoder(ctx, cfg.FFmpeg.BinaryPath))
		}
		if _, err := exec.LookPath("ffprobe"); err != nil {
			fmt.Println("[!] ffprobe not found on PATH; audio durations cannot be read")
		}

		w, h := cfg.Render.Dimensions()
		report := system.Preflight(ctx, w, h)
		fmt.Printf("[*] cpu: %d core(s), workers: %d\n", report.CPUs, system.WorkerCount(cfg.Workers))
		fmt.Printf("[*] memory: %d MB free, ~%d MB needed for %dx%d\n",
			report.MemAvailable>>20, report.MemNeeded>>20, w, h)
		if report.Constrained {
			fmt.Println("[!] memory is tight for this output size")
		}
		return nil
	},
}

// ---------------------------------------------------------------- helpers

// openProject loads a saved bundle, or builds a throwaway project from a
// PDF, a folder of images, or a single image.
func openProject(ctx context.Context, cfg *config.Config, input string, workers int) (*project.Editor, error) {
	info, err := os.Stat(input)
	if err != nil {
		return nil, err
	}

	if info.IsDir() {
		if _, err := os.Stat(filepath.Join(input, "project.json")); err == nil {
			p, err := project.LoadBundle(input)
			if err != nil {
				return nil, err
			}
			fmt.Printf("[*] loaded bundle: %s\n", input)
			return project.NewEditor(*p), nil
		}
		return buildFromDir(ctx, cfg, input)
	}

	if strings.EqualFold(filepath.Ext(input), ".pdf") {
		return buildFromPDF(ctx, cfg, input, workers)
	}
	if source.IsImagePath(input) {
		p := newProjectWithDefaults(cfg, strings.TrimSuffix(filepath.Base(input), filepath.Ext(input)))
		p.Clips = []project.Clip{project.NewClip(input, project.EvenClipDuration(1, 0))}
		return project.NewEditor(p), nil
	}
	return nil, fmt.Errorf("cannot open %s: not a bundle, folder, PDF or image", input)
}

func buildFromDir(ctx context.Context, cfg *config.Config, dir string) (*project.Editor, error) {
	images, err := source.ImagesInDir(dir)
	if err != nil {
		return nil, err
	}
	if len(images) == 0 {
		return nil, fmt.Errorf("no images in %s", dir)
	}

	p := newProjectWithDefaults(cfg, filepath.Base(dir))

	// A song dropped into the same folder becomes the main track.
	audioDur := 0.0
	if renderFlags.audioPath == "" {
		if latest, err := source.NewestAudio(dir); err == nil {
			fmt.Printf("[*] found audio: %s\n", latest)
			if dur, err := audio.Probe(ctx, latest); err == nil {
				audioDur = dur
			} else {
				fmt.Printf("[!] cannot read audio duration: %v\n", err)
			}
			p.MainAudio = &project.AudioTrack{SourcePath: latest, DurationSec: audioDur, Gain: 1}
		}
	}

	per := project.EvenClipDuration(len(images), audioDur)
	for _, img := range images {
		p.Clips = append(p.Clips, project.NewClip(img, per))
	}
	fmt.Printf("[*] %d image(s), %.2fs per clip\n", len(images), per)
	return project.NewEditor(p), nil
}

func buildFromPDF(ctx context.Context, cfg *config.Config, path string, workers int) (*project.Editor, error) {
	p := newProjectWithDefaults(cfg, strings.TrimSuffix(filepath.Base(path), ".pdf"))

	cacheDir := filepath.Join(os.TempDir(), "lyric2video-pages")
	fmt.Printf("[*] rendering PDF pages: %s\n", path)
	clips, err := source.ClipsFromPDF(ctx, path, cacheDir, p.Settings.Height, workers)
	if err != nil {
		return nil, err
	}
	if len(clips) == 0 {
		return nil, fmt.Errorf("no pages in %s", path)
	}

	per := project.EvenClipDuration(len(clips), 0)
	for i := range clips {
		clips[i].DurationSec = per
	}
	p.Clips = clips
	fmt.Printf("[*] %d page(s), %.2fs per clip\n", len(clips), per)
	return project.NewEditor(p), nil
}

func newProjectWithDefaults(cfg *config.Config, name string) project.Project {
	p := project.New(name)
	p.Settings.Width, p.Settings.Height = cfg.Render.Dimensions()
	p.Settings.FPS = cfg.Render.FPS
	p.Settings.Transition = cfg.Render.Transition
	p.Settings.TransitionSec = cfg.Render.TransitionSec
	return p
}

// attachTrack probes a file and installs it as the main or background track.
func attachTrack(ctx context.Context, ed *project.Editor, path string, gain float64, background bool) error {
	dur, err := audio.Probe(ctx, path)
	if err != nil {
		fmt.Printf("[!] cannot read duration of %s: %v\n", path, err)
		dur = 0
	}
	track := &project.AudioTrack{SourcePath: path, DurationSec: dur, Gain: gain}
	if background {
		ed.SetBackgroundAudio(track)
	} else {
		ed.SetMainAudio(track)
		if dur > 0 {
			fmt.Printf("[*] timeline follows main audio: %.2fs\n", dur)
		}
	}
	return nil
}

// respreadClips redistributes the main audio duration evenly over the clips.
func respreadClips(ed *project.Editor) {
	snap := ed.Snapshot()
	if len(snap.Clips) == 0 || snap.MainAudio == nil {
		return
	}
	per := project.EvenClipDuration(len(snap.Clips), snap.MainAudio.DurationSec)
	for _, c := range snap.Clips {
		ed.SetClipDuration(c.ID, per)
	}
}

func firstPositive(values ...int) int {
	for _, v := range values {
		if v > 0 {
			return v
		}
	}
	return 0
}
