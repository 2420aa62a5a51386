package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/menubuilder/offline-gateway/internal/datastore/entities"
	"gorm.io/gorm"
)

// submissionRepository implements SubmissionRepository.
type submissionRepository struct {
	db     *gorm.DB
	schema *lazySchema
}

// NewSubmissionRepository creates a SubmissionRepository. The table is created
// on first use, not here.
func NewSubmissionRepository(db *gorm.DB) SubmissionRepository {
	return &submissionRepository{
		db:     db,
		schema: newLazySchema(&entities.Submission{}),
	}
}

func (r *submissionRepository) open(ctx context.Context, queue entities.Queue) (*gorm.DB, error) {
	if !queue.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownQueue, queue)
	}
	if err := r.schema.ensure(ctx, r.db); err != nil {
		return nil, err
	}
	return r.db.WithContext(ctx), nil
}

// Enqueue stores a new submission with a random UUID.
func (r *submissionRepository) Enqueue(ctx context.Context, queue entities.Queue, payload []byte) (*entities.Submission, error) {
	db, err := r.open(ctx, queue)
	if err != nil {
		return nil, err
	}
	sub := &entities.Submission{
		ID:      uuid.NewString(),
		Queue:   queue,
		Payload: string(payload),
	}
	if err := db.Create(sub).Error; err != nil {
		return nil, fmt.Errorf("failed to enqueue submission: %w", err)
	}
	return sub, nil
}

// List returns the queue ordered by Seq.
func (r *submissionRepository) List(ctx context.Context, queue entities.Queue) ([]entities.Submission, error) {
	db, err := r.open(ctx, queue)
	if err != nil {
		return nil, err
	}
	var subs []entities.Submission
	if err := db.Where("queue = ?", queue).Order("seq ASC").Find(&subs).Error; err != nil {
		return nil, fmt.Errorf("failed to list %s submissions: %w", queue, err)
	}
	return subs, nil
}

// Delete removes the submission if present.
func (r *submissionRepository) Delete(ctx context.Context, queue entities.Queue, id string) error {
	db, err := r.open(ctx, queue)
	if err != nil {
		return err
	}
	if err := db.Where("queue = ? AND id = ?", queue, id).Delete(&entities.Submission{}).Error; err != nil {
		return fmt.Errorf("failed to delete submission %s: %w", id, err)
	}
	return nil
}

// Count returns the queue length.
func (r *submissionRepository) Count(ctx context.Context, queue entities.Queue) (int64, error) {
	db, err := r.open(ctx, queue)
	if err != nil {
		return 0, err
	}
	var n int64
	if err := db.Model(&entities.Submission{}).Where("queue = ?", queue).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("failed to count %s submissions: %w", queue, err)
	}
	return n, nil
}
