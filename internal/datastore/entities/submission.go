package entities

import "time"

// Queue names an offline submission queue.
type Queue string

const (
	QueueProducts    Queue = "products"
	QueueIngredients Queue = "ingredients"
)

// Queues lists every known queue in a stable order.
func Queues() []Queue {
	return []Queue{QueueProducts, QueueIngredients}
}

// Valid reports whether q is a known queue.
func (q Queue) Valid() bool {
	switch q {
	case QueueProducts, QueueIngredients:
		return true
	default:
		return false
	}
}

// Submission is a form submit captured while the client was offline.
// Seq preserves enqueue order within a queue; ID is the public identifier.
type Submission struct {
	Seq       uint      `gorm:"primaryKey;autoIncrement;index:idx_submissions_queue_seq,priority:2" json:"seq"`
	ID        string    `gorm:"size:36;not null;uniqueIndex" json:"id"`
	Queue     Queue     `gorm:"size:32;not null;index:idx_submissions_queue_seq,priority:1" json:"queue"`
	Payload   string    `gorm:"type:text;not null" json:"payload"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}

// TableName returns the table name for GORM.
func (Submission) TableName() string {
	return "offline_submissions"
}
