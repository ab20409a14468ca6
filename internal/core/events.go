package core

import "github.com/book-expert/events"

// JobSubmittedEvent asks a worker to run the pipeline for an already persisted job.
type JobSubmittedEvent struct {
	Header events.EventHeader `json:"header"`
	JobID  string             `json:"job_id"`
}

// JobCompletedEvent reports the terminal outcome of a job.
type JobCompletedEvent struct {
	Header   events.EventHeader `json:"header"`
	JobID    string             `json:"job_id"`
	Status   Status             `json:"status"`
	VideoKey string             `json:"video_key,omitempty"`
	Reason   string             `json:"reason,omitempty"`
}
