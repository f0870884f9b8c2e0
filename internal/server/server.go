// Package server exposes the render engine over HTTP: clients POST a
// project manifest, poll the resulting job, and download the finished
// video. One render job maps to one background goroutine driving the
// export recorder.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/ivlev/lyric2video/internal/export"
	"github.com/ivlev/lyric2video/internal/logging"
	"github.com/ivlev/lyric2video/internal/project"
	"github.com/ivlev/lyric2video/internal/source"
)

const maxUploadBytes = 100 << 20

// Config wires the server to its directories and encoder settings.
type Config struct {
	Addr       string
	OutputDir  string
	AssetsDir  string
	Workers    int
	FFmpegPath string
	Encoder    string
	Quality    int
}

// Server is the HTTP front end for render jobs.
type Server struct {
	cfg    Config
	jobs   *jobStore
	router *mux.Router
	log    zerolog.Logger

	// base context for job goroutines; set in ListenAndServe, falls
	// back to context.Background for handler-only use in tests.
	baseCtx context.Context
}

// New builds the server and its route table.
func New(cfg Config) *Server {
	if cfg.OutputDir == "" {
		cfg.OutputDir = "output"
	}
	if cfg.AssetsDir == "" {
		cfg.AssetsDir = "assets"
	}
	s := &Server{
		cfg:     cfg,
		jobs:    newJobStore(),
		log:     logging.WithComponent("server"),
		baseCtx: context.Background(),
	}

	r := mux.NewRouter()
	r.HandleFunc("/api/render", s.handleRender).Methods(http.MethodPost)
	r.HandleFunc("/api/jobs", s.handleListJobs).Methods(http.MethodGet)
	r.HandleFunc("/api/jobs/{jobId}", s.handleJobStatus).Methods(http.MethodGet)
	r.HandleFunc("/api/jobs/{jobId}", s.handleCancelJob).Methods(http.MethodDelete)
	r.HandleFunc("/api/upload", s.handleUpload).Methods(http.MethodPost)
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.PathPrefix("/videos/").Handler(
		http.StripPrefix("/videos/", http.FileServer(http.Dir(cfg.OutputDir))))
	s.router = r
	return s
}

// Router exposes the handler tree, mainly for tests.
func (s *Server) Router() http.Handler { return s.router }

// ListenAndServe runs until ctx is canceled, then drains in-flight
// requests and aborts running jobs.
func (s *Server) ListenAndServe(ctx context.Context) error {
	for _, dir := range []string{s.cfg.OutputDir, s.cfg.AssetsDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("server: create %s: %w", dir, err)
		}
	}
	s.baseCtx = ctx

	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	s.log.Info().Str("addr", s.cfg.Addr).Msg("listening")

	select {
	case <-ctx.Done():
		s.jobs.cancelAll()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func (s *Server) handleRender(w http.ResponseWriter, r *http.Request) {
	var p project.Project
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		http.Error(w, "invalid project manifest: "+err.Error(), http.StatusBadRequest)
		return
	}
	if err := p.Validate(); err != nil {
		http.Error(w, "invalid project: "+err.Error(), http.StatusBadRequest)
		return
	}
	if p.Dir == "" {
		p.Dir = s.cfg.AssetsDir
	}

	job, ctx := s.jobs.create(s.baseCtx)
	go s.runJob(ctx, job.ID, p)

	s.log.Info().Str("job", job.ID).Str("project", p.Name).Msg("render queued")
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(job)
}

// runJob attaches assets and drives one export to completion.
func (s *Server) runJob(ctx context.Context, jobID string, p project.Project) {
	s.jobs.setStatus(jobID, StatusProcessing)

	if _, err := source.Attach(ctx, &p, s.cfg.Workers); err != nil {
		s.finishWithError(jobID, ctx, fmt.Errorf("attach assets: %w", err))
		return
	}

	rec := export.New(project.NewEditor(p), nil)
	res, err := rec.Export(ctx, export.Options{
		OutputDir:  s.cfg.OutputDir,
		OutputName: jobID + ".mp4",
		FFmpegPath: s.cfg.FFmpegPath,
		Encoder:    s.cfg.Encoder,
		Quality:    s.cfg.Quality,
		Progress: func(done, total int64) {
			if total > 0 {
				s.jobs.setProgress(jobID, float64(done)/float64(total))
			}
		},
	})
	if err != nil {
		s.finishWithError(jobID, ctx, err)
		return
	}

	s.jobs.finish(jobID, "/videos/"+filepath.Base(res.Path))
	s.log.Info().Str("job", jobID).Int64("frames", res.Frames).Msg("render completed")
}

func (s *Server) finishWithError(jobID string, ctx context.Context, err error) {
	if ctx.Err() != nil {
		s.jobs.fail(jobID, StatusCancelled, "job cancelled")
		s.log.Info().Str("job", jobID).Msg("render cancelled")
		return
	}
	s.jobs.fail(jobID, StatusFailed, err.Error())
	s.log.Error().Err(err).Str("job", jobID).Msg("render failed")
}

func (s *Server) handleJobStatus(w http.ResponseWriter, r *http.Request) {
	job, ok := s.jobs.get(mux.Vars(r)["jobId"])
	if !ok {
		http.Error(w, "job not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(job)
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s.jobs.list())
}

func (s *Server) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["jobId"]
	found, cancelled := s.jobs.cancelJob(id)
	if !found {
		http.Error(w, "job not found", http.StatusNotFound)
		return
	}
	if !cancelled {
		http.Error(w, "job already finished", http.StatusConflict)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"message": "job cancelled"})
}

var uploadExts = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true, ".webp": true, ".gif": true,
	".mp3": true, ".wav": true, ".m4a": true, ".aac": true, ".ogg": true, ".flac": true,
	".pdf": true,
}

// handleUpload stores an asset file and returns the path to reference in
// a project manifest.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		http.Error(w, "invalid upload", http.StatusBadRequest)
		return
	}
	file, hdr, err := r.FormFile("file")
	if err != nil {
		http.Error(w, "missing file field", http.StatusBadRequest)
		return
	}
	defer file.Close()

	ext := strings.ToLower(filepath.Ext(hdr.Filename))
	if !uploadExts[ext] {
		http.Error(w, "unsupported file type "+ext, http.StatusBadRequest)
		return
	}

	if err := os.MkdirAll(s.cfg.AssetsDir, 0o755); err != nil {
		http.Error(w, "cannot store upload", http.StatusInternalServerError)
		return
	}
	name := uuid.NewString()[:8] + ext
	dst, err := os.Create(filepath.Join(s.cfg.AssetsDir, name))
	if err != nil {
		http.Error(w, "cannot store upload", http.StatusInternalServerError)
		return
	}
	defer dst.Close()
	if _, err := io.Copy(dst, file); err != nil {
		http.Error(w, "cannot store upload", http.StatusInternalServerError)
		return
	}

	s.log.Info().Str("file", name).Str("from", hdr.Filename).Msg("asset uploaded")
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"path": name})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	_, ffmpegErr := exec.LookPath("ffmpeg")

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"status":           "healthy",
		"timestamp":        time.Now().Format(time.RFC3339),
		"ffmpeg_available": ffmpegErr == nil,
		"jobs":             len(s.jobs.list()),
	})
}
