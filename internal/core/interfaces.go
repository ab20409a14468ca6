// Package core defines the domain types and collaborator interfaces for the avatar service.
package core

import (
	"context"
	"io"
)

// ObjectStore defines the interface for interacting with a key-value blob store.
// Open streams the object stored under key; the caller closes the reader.
type ObjectStore interface {
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	UploadFile(ctx context.Context, key, path string) error
}

// JobStore persists GenerationJob records.
//
// FindByUser returns jobs newest first; a limit <= 0 returns every job of the user.
type JobStore interface {
	Insert(ctx context.Context, job *GenerationJob) error
	Get(ctx context.Context, jobID string) (*GenerationJob, error)
	UpdateStatus(ctx context.Context, jobID string, stage Stage, reason string) error
	FindByUser(ctx context.Context, userID string, limit int) ([]*GenerationJob, error)
	CountByUser(ctx context.Context, userID string) (int, error)
}
