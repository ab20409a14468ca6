// Package jobstore persists GenerationJob records, either in a NATS JetStream
// key-value bucket or in memory.
package jobstore

import (
	"errors"
	"sort"

	"github.com/book-expert/avatar-service/internal/core"
)

// ErrJobExists is returned by Insert for an identifier that is already stored.
var ErrJobExists = errors.New("job already exists")

// newestFirst orders jobs by creation time, newest first, and applies limit.
func newestFirst(jobs []*core.GenerationJob, limit int) []*core.GenerationJob {
	sort.SliceStable(jobs, func(i, j int) bool {
		if jobs[i].CreatedAt.Equal(jobs[j].CreatedAt) {
			return jobs[i].ID > jobs[j].ID
		}

		return jobs[i].CreatedAt.After(jobs[j].CreatedAt)
	})

	if limit > 0 && len(jobs) > limit {
		jobs = jobs[:limit]
	}

	return jobs
}

func clone(job *core.GenerationJob) *core.GenerationJob {
	copied := *job

	return &copied
}
