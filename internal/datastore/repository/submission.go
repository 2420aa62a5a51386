package repository

import (
	"context"

	"github.com/menubuilder/offline-gateway/internal/datastore/entities"
)

// SubmissionRepository is the persistent store behind the offline queues.
type SubmissionRepository interface {
	// Enqueue appends a payload to queue and returns the stored submission.
	Enqueue(ctx context.Context, queue entities.Queue, payload []byte) (*entities.Submission, error)
	// List returns every submission in queue in enqueue order.
	List(ctx context.Context, queue entities.Queue) ([]entities.Submission, error)
	// Delete removes one submission. Deleting an absent id is a no-op.
	Delete(ctx context.Context, queue entities.Queue, id string) error
	// Count returns the number of queued submissions.
	Count(ctx context.Context, queue entities.Queue) (int64, error)
}
