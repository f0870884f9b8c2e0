package server

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Job states as reported by the API.
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
	StatusCancelled  = "cancelled"
)

// Job tracks one render request through its lifetime.
type Job struct {
	ID        string    `json:"jobId"`
	Status    string    `json:"status"`
	Progress  float64   `json:"progress"`
	Error     string    `json:"error,omitempty"`
	VideoURL  string    `json:"videoUrl,omitempty"`
	CreatedAt time.Time `json:"createdAt"`

	cancel context.CancelFunc
}

// jobStore is the in-memory job table. Render goroutines and request
// handlers touch it concurrently.
type jobStore struct {
	mu   sync.RWMutex
	jobs map[string]*Job
}

func newJobStore() *jobStore {
	return &jobStore{jobs: make(map[string]*Job)}
}

// create registers a pending job and returns it with a cancelable context
// for the render goroutine.
func (s *jobStore) create(parent context.Context) (*Job, context.Context) {
	ctx, cancel := context.WithCancel(parent)
	j := &Job{
		ID:        uuid.NewString(),
		Status:    StatusPending,
		CreatedAt: time.Now(),
		cancel:    cancel,
	}
	s.mu.Lock()
	s.jobs[j.ID] = j
	s.mu.Unlock()
	return j, ctx
}

// get returns a copy so callers never see a job mid-update.
func (s *jobStore) get(id string) (Job, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	j, ok := s.jobs[id]
	if !ok {
		return Job{}, false
	}
	return *j, true
}

// list returns copies of all jobs, newest first.
func (s *jobStore) list() []Job {
	s.mu.RLock()
	out := make([]Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		out = append(out, *j)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, k int) bool { return out[i].CreatedAt.After(out[k].CreatedAt) })
	return out
}

func (s *jobStore) setStatus(id, status string) {
	s.mu.Lock()
	if j, ok := s.jobs[id]; ok {
		j.Status = status
	}
	s.mu.Unlock()
}

func (s *jobStore) setProgress(id string, progress float64) {
	s.mu.Lock()
	if j, ok := s.jobs[id]; ok && j.Status == StatusProcessing {
		j.Progress = progress
	}
	s.mu.Unlock()
}

func (s *jobStore) finish(id, videoURL string) {
	s.mu.Lock()
	if j, ok := s.jobs[id]; ok {
		j.Status = StatusCompleted
		j.Progress = 1
		j.VideoURL = videoURL
	}
	s.mu.Unlock()
}

func (s *jobStore) fail(id, status, msg string) {
	s.mu.Lock()
	if j, ok := s.jobs[id]; ok {
		j.Status = status
		j.Error = msg
	}
	s.mu.Unlock()
}

// cancelJob stops a pending or running job. It reports whether the job
// exists and whether it was still cancelable.
func (s *jobStore) cancelJob(id string) (found, cancelled bool) {
	s.mu.Lock()
	j, ok := s.jobs[id]
	if !ok {
		s.mu.Unlock()
		return false, false
	}
	active := j.Status == StatusPending || j.Status == StatusProcessing
	cancel := j.cancel
	s.mu.Unlock()

	if active && cancel != nil {
		cancel()
	}
	return true, active
}

// cancelAll fires every job's cancel func; used on shutdown.
func (s *jobStore) cancelAll() {
	s.mu.RLock()
	cancels := make([]context.CancelFunc, 0, len(s.jobs))
	for _, j := range s.jobs {
		if j.cancel != nil {
			cancels = append(cancels, j.cancel)
		}
	}
	s.mu.RUnlock()

	for _, c := range cancels {
		c()
	}
}
