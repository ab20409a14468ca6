package jobstore

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/book-expert/avatar-service/internal/core"
)

// Memory is a core.JobStore kept in process memory. It backs the one-shot CLI.
type Memory struct {
	mu   sync.RWMutex
	jobs map[string]*core.GenerationJob
	now  func() time.Time
}

// NewMemory creates an empty Memory store.
func NewMemory() *Memory {
	return &Memory{
		jobs: make(map[string]*core.GenerationJob),
		now:  time.Now,
	}
}

// Insert stores a copy of job.
func (m *Memory) Insert(_ context.Context, job *core.GenerationJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.jobs[job.ID]; ok {
		return fmt.Errorf("%w: %s", ErrJobExists, job.ID)
	}

	m.jobs[job.ID] = clone(job)

	return nil
}

// Get returns a copy of the job.
func (m *Memory) Get(_ context.Context, jobID string) (*core.GenerationJob, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	job, ok := m.jobs[jobID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", core.ErrJobNotFound, jobID)
	}

	return clone(job), nil
}

// UpdateStatus moves the job to stage.
func (m *Memory) UpdateStatus(_ context.Context, jobID string, stage core.Stage, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[jobID]
	if !ok {
		return fmt.Errorf("%w: %s", core.ErrJobNotFound, jobID)
	}

	updated := clone(job)

	err := updated.Transition(stage, reason, m.now())
	if err != nil {
		return err
	}

	m.jobs[jobID] = updated

	return nil
}

// FindByUser returns the user's jobs newest first.
func (m *Memory) FindByUser(_ context.Context, userID string, limit int) ([]*core.GenerationJob, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var jobs []*core.GenerationJob

	for _, job := range m.jobs {
		if job.UserID == userID {
			jobs = append(jobs, clone(job))
		}
	}

	return newestFirst(jobs, limit), nil
}

// CountByUser returns the number of jobs owned by the user.
func (m *Memory) CountByUser(_ context.Context, userID string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	count := 0

	for _, job := range m.jobs {
		if job.UserID == userID {
			count++
		}
	}

	return count, nil
}
