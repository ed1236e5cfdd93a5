// Package results keeps the results of completed jobs on disk, one JSON
// file per job, so they can be read back after the tracker has moved on.
package results

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/autotrade/tasktracker/internal/job"
)

var ErrNotFound = errors.New("result not found")

type Entry struct {
	JobID       string     `json:"jobId"`
	StartedAt   *time.Time `json:"startedAt,omitempty"`
	CompletedAt time.Time  `json:"completedAt"`
	Result      job.Result `json:"result"`
}

type Archive struct {
	baseDir string
}

func NewArchive(baseDir string) (*Archive, error) {
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("create results dir: %w", err)
	}
	return &Archive{baseDir: baseDir}, nil
}

// filePath maps a job id to its file. Job ids come from the job service,
// so anything that could leave the archive directory is rejected.
func (a *Archive) filePath(jobID string) (string, error) {
	if jobID == "" || strings.Contains(jobID, "..") || strings.ContainsAny(jobID, `/\`) {
		return "", fmt.Errorf("invalid job id: %q", jobID)
	}
	return filepath.Join(a.baseDir, jobID+".json"), nil
}

// Save writes e, replacing any earlier entry for the same job.
func (a *Archive) Save(e Entry) error {
	path, err := a.filePath(e.JobID)
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(e, "", "  ")
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("write result: %w", err)
	}
	return os.Rename(tmp, path)
}

func (a *Archive) Get(jobID string) (*Entry, error) {
	path, err := a.filePath(jobID)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, jobID)
		}
		return nil, fmt.Errorf("read result: %w", err)
	}

	var e Entry
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("decode result %s: %w", jobID, err)
	}
	return &e, nil
}

func (a *Archive) Delete(jobID string) error {
	path, err := a.filePath(jobID)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrNotFound, jobID)
		}
		return fmt.Errorf("delete result: %w", err)
	}
	return nil
}

// List returns every archived entry, newest first.
func (a *Archive) List() ([]Entry, error) {
	files, err := filepath.Glob(filepath.Join(a.baseDir, "*.json"))
	if err != nil {
		return nil, err
	}

	entries := make([]Entry, 0, len(files))
	for _, f := range files {
		e, err := a.Get(strings.TrimSuffix(filepath.Base(f), ".json"))
		if err != nil {
			return nil, err
		}
		entries = append(entries, *e)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].CompletedAt.After(entries[j].CompletedAt)
	})
	return entries, nil
}
