package entities

import "time"

// CachePartition is a named cache bucket, e.g. "menu-builder-v1.0.0-static".
type CachePartition struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Name      string    `gorm:"size:191;not null;uniqueIndex" json:"name"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}

// TableName returns the table name for GORM.
func (CachePartition) TableName() string {
	return "cache_partitions"
}

// CacheEntry is the stored response for one request key in a partition.
// KeyHash is the SHA-256 of RequestKey so the unique index stays bounded on MySQL.
type CacheEntry struct {
	ID          uint           `gorm:"primaryKey" json:"id"`
	PartitionID uint           `gorm:"not null;uniqueIndex:idx_cache_entries_partition_key,priority:1" json:"partition_id"`
	KeyHash     string         `gorm:"size:64;not null;uniqueIndex:idx_cache_entries_partition_key,priority:2" json:"key_hash"`
	RequestKey  string         `gorm:"type:text;not null" json:"request_key"`
	Status      int            `gorm:"not null" json:"status"`
	Header      string         `gorm:"type:text" json:"header"`
	Body        []byte         `json:"-"`
	Size        int64          `gorm:"not null;default:0" json:"size"`
	StoredAt    time.Time      `gorm:"not null" json:"stored_at"`
	Partition   CachePartition `gorm:"foreignKey:PartitionID;constraint:OnDelete:CASCADE" json:"-"`
}

// TableName returns the table name for GORM.
func (CacheEntry) TableName() string {
	return "cache_entries"
}
