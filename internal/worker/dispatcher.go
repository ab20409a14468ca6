package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/book-expert/avatar-service/internal/core"
	"github.com/book-expert/events"
	"github.com/book-expert/logger"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
)

// Dispatcher publishes submitted jobs onto the jobs stream.
type Dispatcher struct {
	jetstreamContext nats.JetStreamContext
	stream           string
	subject          string
	log              *logger.Logger
}

// NewDispatcher creates a Dispatcher publishing to subject on stream.
func NewDispatcher(jetstreamContext nats.JetStreamContext, stream, subject string, log *logger.Logger) *Dispatcher {
	return &Dispatcher{
		jetstreamContext: jetstreamContext,
		stream:           stream,
		subject:          subject,
		log:              log,
	}
}

// EnsureStream creates the work-queue stream for submitted jobs if it is missing.
func (d *Dispatcher) EnsureStream() error {
	_, err := d.jetstreamContext.StreamInfo(d.stream)
	if err == nil {
		return nil
	}

	if !errors.Is(err, nats.ErrStreamNotFound) {
		return fmt.Errorf("failed to look up stream '%s': %w", d.stream, err)
	}

	_, err = d.jetstreamContext.AddStream(&nats.StreamConfig{
		Name:        d.stream,
		Description: "Submitted avatar generation jobs.",
		Subjects:    []string{d.subject},
		Retention:   nats.WorkQueuePolicy,
		Storage:     nats.FileStorage,
		Replicas:    1,
	})
	if err != nil {
		return fmt.Errorf("failed to create stream '%s': %w", d.stream, err)
	}

	d.log.System("Created stream '%s' for subject '%s'", d.stream, d.subject)

	return nil
}

// Submit enqueues an already stored job. Publishing the same job twice is
// deduplicated by the stream.
func (d *Dispatcher) Submit(ctx context.Context, job *core.GenerationJob) error {
	event := core.JobSubmittedEvent{
		Header: events.EventHeader{
			Timestamp:  time.Now(),
			WorkflowID: job.ID,
			EventID:    uuid.NewString(),
			UserID:     job.UserID,
		},
		JobID: job.ID,
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal submitted event: %w", err)
	}

	_, err = d.jetstreamContext.Publish(d.subject, data, nats.Context(ctx), nats.MsgId(job.ID))
	if err != nil {
		return fmt.Errorf("failed to publish job %s: %w", job.ID, err)
	}

	d.log.Info("Submitted job %s for user %s", job.ID, job.UserID)

	return nil
}
