package repository

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/menubuilder/offline-gateway/internal/datastore/entities"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// cacheRepository implements CacheRepository.
type cacheRepository struct {
	db     *gorm.DB
	schema *lazySchema
}

// NewCacheRepository creates a CacheRepository. Tables are created on first use.
func NewCacheRepository(db *gorm.DB) CacheRepository {
	return &cacheRepository{
		db:     db,
		schema: newLazySchema(&entities.CachePartition{}, &entities.CacheEntry{}),
	}
}

// HashRequestKey returns the value stored in CacheEntry.KeyHash.
func HashRequestKey(requestKey string) string {
	sum := sha256.Sum256([]byte(requestKey))
	return hex.EncodeToString(sum[:])
}

func (r *cacheRepository) conn(ctx context.Context) (*gorm.DB, error) {
	if err := r.schema.ensure(ctx, r.db); err != nil {
		return nil, err
	}
	return r.db.WithContext(ctx), nil
}

// EnsurePartition inserts the partition if absent and returns the stored row.
// Concurrent callers race on the unique name index; the loser's insert is ignored.
func (r *cacheRepository) EnsurePartition(ctx context.Context, name string) (*entities.CachePartition, error) {
	db, err := r.conn(ctx)
	if err != nil {
		return nil, err
	}
	if err := db.Clauses(clause.OnConflict{DoNothing: true}).
		Create(&entities.CachePartition{Name: name}).Error; err != nil {
		return nil, fmt.Errorf("failed to create cache partition %s: %w", name, err)
	}
	var p entities.CachePartition
	if err := db.Where("name = ?", name).First(&p).Error; err != nil {
		return nil, fmt.Errorf("failed to load cache partition %s: %w", name, err)
	}
	return &p, nil
}

// FindPartition looks a partition up by name.
func (r *cacheRepository) FindPartition(ctx context.Context, name string) (*entities.CachePartition, error) {
	db, err := r.conn(ctx)
	if err != nil {
		return nil, err
	}
	var p entities.CachePartition
	err = db.Where("name = ?", name).First(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrPartitionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get cache partition %s: %w", name, err)
	}
	return &p, nil
}

// ListPartitions returns partitions in creation order.
func (r *cacheRepository) ListPartitions(ctx context.Context) ([]entities.CachePartition, error) {
	db, err := r.conn(ctx)
	if err != nil {
		return nil, err
	}
	var parts []entities.CachePartition
	if err := db.Order("id ASC").Find(&parts).Error; err != nil {
		return nil, fmt.Errorf("failed to list cache partitions: %w", err)
	}
	return parts, nil
}

// DeletePartition removes entries explicitly so deletion does not depend on the
// dialect enforcing ON DELETE CASCADE.
func (r *cacheRepository) DeletePartition(ctx context.Context, name string) (bool, error) {
	db, err := r.conn(ctx)
	if err != nil {
		return false, err
	}
	var deleted bool
	err = db.Transaction(func(tx *gorm.DB) error {
		var p entities.CachePartition
		if err := tx.Where("name = ?", name).First(&p).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil
			}
			return err
		}
		if err := tx.Where("partition_id = ?", p.ID).Delete(&entities.CacheEntry{}).Error; err != nil {
			return fmt.Errorf("failed to delete entries: %w", err)
		}
		if err := tx.Delete(&p).Error; err != nil {
			return err
		}
		deleted = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("failed to delete cache partition %s: %w", name, err)
	}
	return deleted, nil
}

// GetEntry returns the stored entry for requestKey.
func (r *cacheRepository) GetEntry(ctx context.Context, partitionID uint, requestKey string) (*entities.CacheEntry, error) {
	db, err := r.conn(ctx)
	if err != nil {
		return nil, err
	}
	var e entities.CacheEntry
	err = db.Where("partition_id = ? AND key_hash = ?", partitionID, HashRequestKey(requestKey)).First(&e).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrCacheEntryNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get cache entry: %w", err)
	}
	return &e, nil
}

// PutEntries upserts on (partition_id, key_hash) so a key never has two rows.
func (r *cacheRepository) PutEntries(ctx context.Context, partitionID uint, entries []*entities.CacheEntry) error {
	if len(entries) == 0 {
		return nil
	}
	db, err := r.conn(ctx)
	if err != nil {
		return err
	}
	for _, e := range entries {
		e.ID = 0
		e.PartitionID = partitionID
		e.KeyHash = HashRequestKey(e.RequestKey)
		if e.Size == 0 {
			e.Size = int64(len(e.Body)) + int64(len(e.Header))
		}
	}
	return db.Transaction(func(tx *gorm.DB) error {
		for _, e := range entries {
			err := tx.Omit(clause.Associations).Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "partition_id"}, {Name: "key_hash"}},
				DoUpdates: clause.AssignmentColumns([]string{"request_key", "status", "header", "body", "size", "stored_at"}),
			}).Create(e).Error
			if err != nil {
				return fmt.Errorf("failed to store cache entry %s: %w", e.RequestKey, err)
			}
		}
		return nil
	})
}

// ListKeys returns the request keys stored in a partition.
func (r *cacheRepository) ListKeys(ctx context.Context, partitionID uint) ([]string, error) {
	db, err := r.conn(ctx)
	if err != nil {
		return nil, err
	}
	var keys []string
	if err := db.Model(&entities.CacheEntry{}).
		Where("partition_id = ?", partitionID).
		Order("id ASC").
		Pluck("request_key", &keys).Error; err != nil {
		return nil, fmt.Errorf("failed to list cache keys: %w", err)
	}
	return keys, nil
}

// PartitionSize sums the stored sizes of a partition.
func (r *cacheRepository) PartitionSize(ctx context.Context, partitionID uint) (int64, error) {
	db, err := r.conn(ctx)
	if err != nil {
		return 0, err
	}
	var total int64
	if err := db.Model(&entities.CacheEntry{}).
		Where("partition_id = ?", partitionID).
		Select("COALESCE(SUM(size), 0)").
		Scan(&total).Error; err != nil {
		return 0, fmt.Errorf("failed to sum cache size: %w", err)
	}
	return total, nil
}
