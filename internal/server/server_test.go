package server

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ivlev/lyric2video/internal/project"
)

func testServer(t *testing.T) *Server {
	t.Helper()
	dir := t.TempDir()
	return New(Config{
		OutputDir: filepath.Join(dir, "output"),
		AssetsDir: filepath.Join(dir, "assets"),
		Workers:   2,
		Encoder:   "libx264",
	})
}

func doJSON(t *testing.T, h http.Handler, method, path string, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	rec := doJSON(t, testServer(t).Router(), http.MethodGet, "/health", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body["status"] != "healthy" {
		t.Errorf("body = %v", body)
	}
	if _, ok := body["ffmpeg_available"]; !ok {
		t.Error("health must report encoder availability")
	}
}

func TestRenderRejectsBadManifest(t *testing.T) {
	s := testServer(t)

	if rec := doJSON(t, s.Router(), http.MethodPost, "/api/render", []byte("not json")); rec.Code != http.StatusBadRequest {
		t.Errorf("garbage body: status = %d", rec.Code)
	}

	p := project.New("bad")
	p.Settings.Width = 999
	body, _ := json.Marshal(p)
	if rec := doJSON(t, s.Router(), http.MethodPost, "/api/render", body); rec.Code != http.StatusBadRequest {
		t.Errorf("invalid settings: status = %d", rec.Code)
	}
}

func TestJobNotFound(t *testing.T) {
	s := testServer(t)
	if rec := doJSON(t, s.Router(), http.MethodGet, "/api/jobs/nope", nil); rec.Code != http.StatusNotFound {
		t.Errorf("GET unknown job: status = %d", rec.Code)
	}
	if rec := doJSON(t, s.Router(), http.MethodDelete, "/api/jobs/nope", nil); rec.Code != http.StatusNotFound {
		t.Errorf("DELETE unknown job: status = %d", rec.Code)
	}
}

func TestUpload(t *testing.T) {
	s := testServer(t)

	var form bytes.Buffer
	w := multipart.NewWriter(&form)
	part, err := w.CreateFormFile("file", "photo.png")
	if err != nil {
		t.Fatal(err)
	}
	part.Write([]byte("fake png bytes"))
	w.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/upload", &form)
	req.Header.Set("Content-Type", w.FormDataContentType())
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	var resp map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if !strings.HasSuffix(resp["path"], ".png") {
		t.Errorf("path = %q", resp["path"])
	}
	if _, err := os.Stat(filepath.Join(s.cfg.AssetsDir, resp["path"])); err != nil {
		t.Errorf("uploaded file missing: %v", err)
	}
}

func TestUploadRejectsUnknownType(t *testing.T) {
	s := testServer(t)

	var form bytes.Buffer
	w := multipart.NewWriter(&form)
	part, _ := w.CreateFormFile("file", "payload.exe")
	part.Write([]byte("nope"))
	w.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/upload", &form)
	req.Header.Set("Content-Type", w.FormDataContentType())
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d", rec.Code)
	}
}

func TestRenderLifecycle(t *testing.T) {
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		t.Skip("ffmpeg not installed")
	}
	s := testServer(t)

	body, _ := json.Marshal(project.New("api test"))
	rec := doJSON(t, s.Router(), http.MethodPost, "/api/render", body)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("render: status = %d: %s", rec.Code, rec.Body.String())
	}
	var job Job
	if err := json.Unmarshal(rec.Body.Bytes(), &job); err != nil {
		t.Fatal(err)
	}
	if job.ID == "" || job.Status != StatusPending {
		t.Fatalf("job = %+v", job)
	}

	deadline := time.Now().Add(2 * time.Minute)
	for {
		if time.Now().After(deadline) {
			t.Fatalf("render did not finish; last state %+v", job)
		}
		status := doJSON(t, s.Router(), http.MethodGet, "/api/jobs/"+job.ID, nil)
		if err := json.Unmarshal(status.Body.Bytes(), &job); err != nil {
			t.Fatal(err)
		}
		if job.Status == StatusCompleted || job.Status == StatusFailed {
			break
		}
		time.Sleep(250 * time.Millisecond)
	}

	if job.Status != StatusCompleted {
		t.Fatalf("job failed: %s", job.Error)
	}
	if job.Progress != 1 || job.VideoURL == "" {
		t.Errorf("completed job = %+v", job)
	}

	dl := doJSON(t, s.Router(), http.MethodGet, job.VideoURL, nil)
	if dl.Code != http.StatusOK || dl.Body.Len() == 0 {
		t.Errorf("download: status = %d, bytes = %d", dl.Code, dl.Body.Len())
	}

	// A finished job can no longer be cancelled.
	if rec := doJSON(t, s.Router(), http.MethodDelete, "/api/jobs/"+job.ID, nil); rec.Code != http.StatusConflict {
		t.Errorf("cancel finished job: status = %d", rec.Code)
	}

	list := doJSON(t, s.Router(), http.MethodGet, "/api/jobs", nil)
	var all []Job
	if err := json.Unmarshal(list.Body.Bytes(), &all); err != nil {
		t.Fatal(err)
	}
	if len(all) != 1 || all[0].ID != job.ID {
		t.Errorf("job list = %+v", all)
	}
}

func TestJobStoreCancel(t *testing.T) {
	store := newJobStore()
	j, ctx := store.create(context.Background())

	found, cancelled := store.cancelJob(j.ID)
	if !found || !cancelled {
		t.Fatalf("cancel pending job: found=%v cancelled=%v", found, cancelled)
	}
	select {
	case <-ctx.Done():
	case <-time.After(time.Second):
		t.Error("cancel did not propagate to the job context")
	}

	// Progress updates only land while processing.
	store.setProgress(j.ID, 0.5)
	if got, _ := store.get(j.ID); got.Progress != 0 {
		t.Errorf("pending job took a progress update: %+v", got)
	}
	store.setStatus(j.ID, StatusProcessing)
	store.setProgress(j.ID, 0.5)
	if got, _ := store.get(j.ID); got.Progress != 0.5 {
		t.Errorf("processing job ignored progress: %+v", got)
	}
}
