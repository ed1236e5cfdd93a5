// Package checkpoint remembers the one job being tracked so that a restarted
// process can resume polling it.
package checkpoint

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/autotrade/tasktracker/internal/db"
)

// TrackedJob is the durable record of a started job. It is either present
// or absent, never updated in place.
type TrackedJob struct {
	JobID     string
	StartedAt time.Time
}

// Age returns how long ago tracking began.
func (j TrackedJob) Age(now time.Time) time.Duration {
	return now.Sub(j.StartedAt)
}

// Store is a single-slot checkpoint: last write wins.
type Store interface {
	Write(job TrackedJob) error
	// Read returns nil when no checkpoint exists.
	Read() (*TrackedJob, error)
	Clear() error
}

const (
	Namespace    = "tracker/"
	KeyJobID     = "job_id"
	KeyStartedAt = "started_at"
)

// BadgerStore keeps the checkpoint as two keys in a badger database. Both
// keys are written and removed in one transaction.
type BadgerStore struct {
	db *db.Store
}

func NewBadgerStore(store *db.Store) *BadgerStore {
	return &BadgerStore{db: store}
}

func (s *BadgerStore) Write(job TrackedJob) error {
	if err := validate(job); err != nil {
		return err
	}
	err := s.db.SetMany(Namespace, map[string][]byte{
		KeyJobID:     []byte(job.JobID),
		KeyStartedAt: []byte(strconv.FormatInt(job.StartedAt.UnixMilli(), 10)),
	})
	if err != nil {
		return fmt.Errorf("write checkpoint: %w", err)
	}
	return nil
}

// Read treats a half-present or unparsable pair as absent.
func (s *BadgerStore) Read() (*TrackedJob, error) {
	values, err := s.db.GetMany(Namespace, KeyJobID, KeyStartedAt)
	if err != nil {
		return nil, fmt.Errorf("read checkpoint: %w", err)
	}

	rawID, okID := values[KeyJobID]
	rawStarted, okStarted := values[KeyStartedAt]
	if !okID || !okStarted {
		return nil, nil
	}

	jobID := strings.TrimSpace(string(rawID))
	millis, err := strconv.ParseInt(strings.TrimSpace(string(rawStarted)), 10, 64)
	if jobID == "" || err != nil {
		return nil, nil
	}

	return &TrackedJob{JobID: jobID, StartedAt: time.UnixMilli(millis).UTC()}, nil
}

func (s *BadgerStore) Clear() error {
	if err := s.db.DeleteMany(Namespace, KeyJobID, KeyStartedAt); err != nil {
		return fmt.Errorf("clear checkpoint: %w", err)
	}
	return nil
}

// MemoryStore is a process-local checkpoint.
type MemoryStore struct {
	mu  sync.Mutex
	job *TrackedJob
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Write(job TrackedJob) error {
	if err := validate(job); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	job.StartedAt = time.UnixMilli(job.StartedAt.UnixMilli()).UTC()
	s.job = &job
	return nil
}

func (s *MemoryStore) Read() (*TrackedJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.job == nil {
		return nil, nil
	}
	cp := *s.job
	return &cp, nil
}

func (s *MemoryStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.job = nil
	return nil
}

func validate(job TrackedJob) error {
	if strings.TrimSpace(job.JobID) == "" {
		return fmt.Errorf("checkpoint job id is required")
	}
	if job.StartedAt.IsZero() {
		return fmt.Errorf("checkpoint start time is required")
	}
	return nil
}
