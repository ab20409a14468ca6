// Package worker consumes submitted avatar jobs from NATS JetStream and runs the
// pipeline for each of them.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/book-expert/avatar-service/internal/core"
	"github.com/book-expert/events"
	"github.com/book-expert/logger"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
)

const (
	fetchWait          = 5 * time.Second
	defaultAckWait     = time.Hour
	maxDeliveries      = 3
	minHeartbeatPeriod = time.Second
	storeLookupTimeout = 10 * time.Second
)

var (
	// ErrJobInterrupted marks a job whose previous worker stopped mid-pipeline.
	ErrJobInterrupted = errors.New("job was interrupted before completion")
	// ErrMissingJobID is returned for a submitted event without a job id.
	ErrMissingJobID = errors.New("event carries no job id")
)

// Pipeline runs every stage of a stored job.
type Pipeline interface {
	Run(ctx context.Context, job *core.GenerationJob) (string, error)
}

// Config names the JetStream resources the worker consumes from and publishes to.
type Config struct {
	Stream           string
	Consumer         string
	Subject          string
	CompletedSubject string
	AckWait          time.Duration
	Concurrency      int
}

// NatsWorker pulls JobSubmittedEvents and drives each job through the pipeline.
type NatsWorker struct {
	natsConnection   *nats.Conn
	jetstreamContext nats.JetStreamContext
	config           Config
	jobs             core.JobStore
	videos           core.ObjectStore
	pipeline         Pipeline
	log              *logger.Logger
}

// NewNatsWorker creates a new instance of a NATS worker.
func NewNatsWorker(
	natsConnection *nats.Conn,
	jetstreamContext nats.JetStreamContext,
	cfg Config,
	jobs core.JobStore,
	videos core.ObjectStore,
	pipeline Pipeline,
	log *logger.Logger,
) *NatsWorker {
	if cfg.AckWait <= 0 {
		cfg.AckWait = defaultAckWait
	}

	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}

	return &NatsWorker{
		natsConnection:   natsConnection,
		jetstreamContext: jetstreamContext,
		config:           cfg,
		jobs:             jobs,
		videos:           videos,
		pipeline:         pipeline,
		log:              log,
	}
}

// Run starts the fetch loops and blocks until ctx is cancelled.
func (w *NatsWorker) Run(ctx context.Context) error {
	sub, err := w.jetstreamContext.PullSubscribe(
		w.config.Subject,
		w.config.Consumer,
		nats.BindStream(w.config.Stream),
		nats.AckWait(w.config.AckWait),
		nats.MaxDeliver(maxDeliveries),
		nats.ManualAck(),
	)
	if err != nil {
		return fmt.Errorf("failed to subscribe to subject %s: %w", w.config.Subject, err)
	}

	w.log.System("Worker consuming '%s' as '%s' with %d fetch loop(s)",
		w.config.Subject, w.config.Consumer, w.config.Concurrency)

	var wg sync.WaitGroup

	for range w.config.Concurrency {
		wg.Add(1)

		go func() {
			defer wg.Done()

			w.fetchLoop(ctx, sub)
		}()
	}

	wg.Wait()

	drainErr := sub.Drain()
	if drainErr != nil && !errors.Is(drainErr, nats.ErrConnectionClosed) {
		return fmt.Errorf("failed to drain subscription: %w", drainErr)
	}

	return nil
}

func (w *NatsWorker) fetchLoop(ctx context.Context, sub *nats.Subscription) {
	for ctx.Err() == nil {
		fetchCtx, cancel := context.WithTimeout(ctx, fetchWait)
		msgs, err := sub.Fetch(1, nats.Context(fetchCtx))
		cancel()

		if err != nil {
			if ctx.Err() != nil {
				return
			}

			if !errors.Is(err, nats.ErrTimeout) && !errors.Is(err, context.DeadlineExceeded) {
				w.log.Warn("Fetch from '%s' failed: %v", w.config.Subject, err)
			}

			continue
		}

		for _, msg := range msgs {
			w.handleMessage(ctx, msg)
		}
	}
}

func (w *NatsWorker) handleMessage(ctx context.Context, msg *nats.Msg) {
	event, err := parseEvent(msg)
	if err != nil {
		w.log.Error("Failed to parse submitted event: %v", err)
		w.settle(msg.Term())

		return
	}

	job, err := w.jobs.Get(ctx, event.JobID)
	if err != nil {
		w.log.Error("Failed to load job %s: %v", event.JobID, err)

		if errors.Is(err, core.ErrJobNotFound) {
			w.settle(msg.Term())
		} else {
			w.settle(msg.Nak())
		}

		return
	}

	switch {
	case job.Stage.IsTerminal():
		w.log.Info("Job %s already %s, skipping redelivery", job.ID, job.Status)
		w.settle(msg.Ack())

		return
	case job.Stage != core.StagePending:
		w.abandon(ctx, event, job)
		w.settle(msg.Ack())

		return
	}

	stop := w.heartbeat(ctx, msg)
	videoPath, runErr := w.pipeline.Run(ctx, job)
	stop()

	if runErr != nil && w.stillPending(job.ID) {
		// Never started, for example cancelled while waiting for a slot.
		w.settle(msg.Nak())

		return
	}

	completion := core.JobCompletedEvent{Header: replyHeader(event.Header), JobID: job.ID}

	if runErr != nil {
		completion.Status = core.StatusFailed
		completion.Reason = core.UserMessage(runErr)
	} else {
		completion.Status = core.StatusCompleted
		completion.VideoKey = w.publishVideo(ctx, job.ID, videoPath)
	}

	w.publishCompletion(completion)
	w.settle(msg.Ack())
}

// abandon fails a job that a previous delivery left mid-pipeline.
func (w *NatsWorker) abandon(ctx context.Context, event *core.JobSubmittedEvent, job *core.GenerationJob) {
	reason := core.UserMessage(ErrJobInterrupted)
	w.log.Warn("Job %s was interrupted at stage %s, marking failed", job.ID, job.Stage)

	err := w.jobs.UpdateStatus(ctx, job.ID, core.StageFailed, reason)
	if err != nil {
		w.log.Error("Failed to mark job %s failed: %v", job.ID, err)
	}

	w.publishCompletion(core.JobCompletedEvent{
		Header: replyHeader(event.Header),
		JobID:  job.ID,
		Status: core.StatusFailed,
		Reason: reason,
	})
}

func (w *NatsWorker) stillPending(jobID string) bool {
	ctx, cancel := context.WithTimeout(context.Background(), storeLookupTimeout)
	defer cancel()

	job, err := w.jobs.Get(ctx, jobID)

	return err == nil && job.Stage == core.StagePending
}

// publishVideo uploads the final video and returns its key, or "" when the
// upload failed. The video stays on disk either way.
func (w *NatsWorker) publishVideo(ctx context.Context, jobID, videoPath string) string {
	key := filepath.Base(videoPath)

	err := w.videos.UploadFile(ctx, key, videoPath)
	if err != nil {
		w.log.Error("Failed to upload video for job %s: %v", jobID, err)

		return ""
	}

	return key
}

// heartbeat extends the ack deadline while the pipeline runs.
func (w *NatsWorker) heartbeat(ctx context.Context, msg *nats.Msg) func() {
	period := w.config.AckWait / 2
	if period < minHeartbeatPeriod {
		period = minHeartbeatPeriod
	}

	done := make(chan struct{})

	var wg sync.WaitGroup

	wg.Add(1)

	go func() {
		defer wg.Done()

		ticker := time.NewTicker(period)
		defer ticker.Stop()

		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				err := msg.InProgress()
				if err != nil {
					w.log.Warn("Failed to extend ack deadline: %v", err)
				}
			}
		}
	}()

	return func() {
		close(done)
		wg.Wait()
	}
}

func (w *NatsWorker) publishCompletion(event core.JobCompletedEvent) {
	data, err := json.Marshal(event)
	if err != nil {
		w.log.Error("Failed to marshal completion of job %s: %v", event.JobID, err)

		return
	}

	err = w.natsConnection.Publish(w.config.CompletedSubject, data)
	if err != nil {
		w.log.Error("Failed to publish completion of job %s: %v", event.JobID, err)
	}
}

func (w *NatsWorker) settle(err error) {
	if err != nil {
		w.log.Warn("Failed to acknowledge message: %v", err)
	}
}

func parseEvent(msg *nats.Msg) (*core.JobSubmittedEvent, error) {
	var event core.JobSubmittedEvent

	err := json.Unmarshal(msg.Data, &event)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal event: %w", err)
	}

	if event.JobID == "" {
		return nil, fmt.Errorf("%w: event %s", ErrMissingJobID, event.Header.EventID)
	}

	return &event, nil
}

func replyHeader(request events.EventHeader) events.EventHeader {
	request.Timestamp = time.Now()
	request.EventID = uuid.NewString()

	return request
}
