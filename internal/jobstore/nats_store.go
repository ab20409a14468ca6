package jobstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/book-expert/avatar-service/internal/core"
	"github.com/nats-io/nats.go"
)

const (
	keyPrefix = "job."
	// updateAttempts bounds the compare-and-set retries of UpdateStatus.
	updateAttempts = 5
)

// NatsJobStore implements core.JobStore on a JetStream key-value bucket. Each job
// is one JSON document under "job.{id}".
type NatsJobStore struct {
	kv     nats.KeyValue
	bucket string
	now    func() time.Time
}

// NewNats binds to bucket, creating it when it does not exist yet.
func NewNats(jetstreamContext nats.JetStreamContext, bucket string) (*NatsJobStore, error) {
	kv, err := jetstreamContext.KeyValue(bucket)
	if errors.Is(err, nats.ErrBucketNotFound) {
		kv, err = jetstreamContext.CreateKeyValue(&nats.KeyValueConfig{
			Bucket:      bucket,
			Description: "Avatar generation job records.",
			History:     1,
			Storage:     nats.FileStorage,
			Replicas:    1,
		})
	}

	if err != nil {
		return nil, fmt.Errorf("failed to bind key-value bucket '%s': %w", bucket, err)
	}

	return &NatsJobStore{kv: kv, bucket: bucket, now: time.Now}, nil
}

// Insert stores job and fails if its identifier is taken.
func (s *NatsJobStore) Insert(_ context.Context, job *core.GenerationJob) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job %s: %w", job.ID, err)
	}

	_, err = s.kv.Create(keyPrefix+job.ID, data)
	if errors.Is(err, nats.ErrKeyExists) {
		return fmt.Errorf("%w: %s", ErrJobExists, job.ID)
	}

	if err != nil {
		return fmt.Errorf("failed to insert job %s into '%s': %w", job.ID, s.bucket, err)
	}

	return nil
}

// Get reads one job.
func (s *NatsJobStore) Get(_ context.Context, jobID string) (*core.GenerationJob, error) {
	job, _, err := s.load(jobID)

	return job, err
}

// UpdateStatus moves the job to stage with compare-and-set, retrying when a
// concurrent writer got there first.
func (s *NatsJobStore) UpdateStatus(_ context.Context, jobID string, stage core.Stage, reason string) error {
	var lastErr error

	for range updateAttempts {
		job, revision, err := s.load(jobID)
		if err != nil {
			return err
		}

		err = job.Transition(stage, reason, s.now())
		if err != nil {
			return err
		}

		data, err := json.Marshal(job)
		if err != nil {
			return fmt.Errorf("failed to marshal job %s: %w", jobID, err)
		}

		_, lastErr = s.kv.Update(keyPrefix+jobID, data, revision)
		if lastErr == nil {
			return nil
		}
	}

	return fmt.Errorf("failed to update job %s after %d attempts: %w", jobID, updateAttempts, lastErr)
}

// FindByUser scans the bucket for the user's jobs and returns them newest first.
func (s *NatsJobStore) FindByUser(_ context.Context, userID string, limit int) ([]*core.GenerationJob, error) {
	jobs, err := s.scan(userID)
	if err != nil {
		return nil, err
	}

	return newestFirst(jobs, limit), nil
}

// CountByUser returns the number of jobs owned by the user.
func (s *NatsJobStore) CountByUser(_ context.Context, userID string) (int, error) {
	jobs, err := s.scan(userID)
	if err != nil {
		return 0, err
	}

	return len(jobs), nil
}

func (s *NatsJobStore) scan(userID string) ([]*core.GenerationJob, error) {
	keys, err := s.kv.Keys()
	if errors.Is(err, nats.ErrNoKeysFound) {
		return nil, nil
	}

	if err != nil {
		return nil, fmt.Errorf("failed to list keys of '%s': %w", s.bucket, err)
	}

	var jobs []*core.GenerationJob

	for _, key := range keys {
		jobID, ok := strings.CutPrefix(key, keyPrefix)
		if !ok {
			continue
		}

		job, _, loadErr := s.load(jobID)
		if errors.Is(loadErr, core.ErrJobNotFound) {
			continue
		}

		if loadErr != nil {
			return nil, loadErr
		}

		if job.UserID == userID {
			jobs = append(jobs, job)
		}
	}

	return jobs, nil
}

func (s *NatsJobStore) load(jobID string) (*core.GenerationJob, uint64, error) {
	entry, err := s.kv.Get(keyPrefix + jobID)
	if errors.Is(err, nats.ErrKeyNotFound) {
		return nil, 0, fmt.Errorf("%w: %s", core.ErrJobNotFound, jobID)
	}

	if err != nil {
		return nil, 0, fmt.Errorf("failed to read job %s from '%s': %w", jobID, s.bucket, err)
	}

	var job core.GenerationJob

	err = json.Unmarshal(entry.Value(), &job)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to unmarshal job %s: %w", jobID, err)
	}

	return &job, entry.Revision(), nil
}
