package job

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound    = errors.New("job not found")
	ErrNotFinished = errors.New("job has not completed")
)

// Job is the server-side record kept by the simulated job API.
type Job struct {
	ID          string         `json:"id"`
	Kind        Kind           `json:"type"`
	Params      map[string]any `json:"params,omitempty"`
	Status      Status         `json:"status"`
	Progress    int            `json:"progress"`
	CurrentStep string         `json:"currentStep,omitempty"`
	Result      Result         `json:"result,omitempty"`
	Error       string         `json:"error,omitempty"`
	CreatedAt   time.Time      `json:"createdAt"`
	CompletedAt *time.Time     `json:"completedAt,omitempty"`
}

func New(kind Kind, params map[string]any) *Job {
	return &Job{
		ID:        uuid.NewString(),
		Kind:      kind,
		Params:    params,
		Status:    StatusPending,
		CreatedAt: time.Now().UTC(),
	}
}

func (j *Job) Report() *StatusReport {
	r := &StatusReport{
		Status:      j.Status,
		Progress:    j.Progress,
		CurrentStep: j.CurrentStep,
	}
	if j.Status == StatusFailed {
		r.ErrorMessage = j.Error
	}
	return r
}

type Store struct {
	mu    sync.RWMutex
	jobs  map[string]*Job
	order []string // FIFO order
}

func NewStore() *Store {
	return &Store{
		jobs:  make(map[string]*Job),
		order: make([]string, 0),
	}
}

func (s *Store) Add(j *Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[j.ID]; ok {
		return fmt.Errorf("job already exists: %s", j.ID)
	}
	s.jobs[j.ID] = j
	s.order = append(s.order, j.ID)
	return nil
}

// Get returns a copy of the job so callers never race with the runner.
func (s *Store) Get(id string) (*Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	j, ok := s.jobs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	cp := *j
	return &cp, nil
}

func (s *Store) Status(id string) (*StatusReport, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	j, ok := s.jobs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return j.Report(), nil
}

func (s *Store) Result(id string) (Result, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	j, ok := s.jobs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if j.Status != StatusCompleted {
		return nil, fmt.Errorf("%w: %s is %s", ErrNotFinished, id, j.Status)
	}
	return j.Result, nil
}

func (s *Store) List(limit, offset int, status string) ([]*Job, int) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var filtered []*Job
	for _, id := range s.order {
		j := s.jobs[id]
		if status == "" || string(j.Status) == status {
			cp := *j
			filtered = append(filtered, &cp)
		}
	}

	total := len(filtered)
	if offset < 0 {
		offset = 0
	}
	if offset >= total {
		return []*Job{}, total
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return filtered[offset:end], total
}

// Advance moves a non-terminal job to RUNNING with the given progress.
// It returns false when the job is gone or already terminal.
func (s *Store) Advance(id string, progress int, step string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok || j.Status.IsTerminal() {
		return false
	}
	j.Status = StatusRunning
	j.Progress = clampProgress(progress)
	j.CurrentStep = step
	return true
}

func (s *Store) Complete(id string, result any) error {
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if j.Status.IsTerminal() {
		return nil
	}
	j.Status = StatusCompleted
	j.Progress = 100
	j.CurrentStep = ""
	j.Result = data
	now := time.Now().UTC()
	j.CompletedAt = &now
	return nil
}

func (s *Store) Fail(id string, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if j.Status.IsTerminal() {
		return nil
	}
	j.Status = StatusFailed
	j.Error = errMsg
	now := time.Now().UTC()
	j.CompletedAt = &now
	return nil
}

// Cancel marks a job cancelled. Cancelling a terminal job is reported as
// unsuccessful but is not an error.
func (s *Store) Cancel(id string) (*CancelResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if j.Status.IsTerminal() {
		return &CancelResponse{
			Success: false,
			Message: fmt.Sprintf("job already %s", j.Status),
		}, nil
	}
	j.Status = StatusCancelled
	j.CurrentStep = ""
	now := time.Now().UTC()
	j.CompletedAt = &now
	return &CancelResponse{Success: true, Message: "job cancelled"}, nil
}

func (s *Store) Stats() (pending, running, completed, failed, cancelled int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, j := range s.jobs {
		switch j.Status {
		case StatusPending:
			pending++
		case StatusRunning:
			running++
		case StatusCompleted:
			completed++
		case StatusFailed:
			failed++
		case StatusCancelled:
			cancelled++
		}
	}
	return
}

func clampProgress(p int) int {
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}
