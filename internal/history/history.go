// Package history persists execution audit records. Records carry
// sizes and outcomes, never code or captured output, so the store can
// be enabled without retaining anything the sandboxed code produced.
package history

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Record is one sandbox execution, successful or not.
type Record struct {
	ID          uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	CreatedAt   time.Time `gorm:"index" json:"created_at"`
	DurationMS  int64     `json:"duration_ms"`
	OK          bool      `json:"ok"`
	Failure     string    `gorm:"size:32" json:"failure,omitempty"`
	CodeBytes   int       `json:"code_bytes"`
	StdoutBytes int       `json:"stdout_bytes"`
	StderrBytes int       `json:"stderr_bytes"`
	TimeoutMS   int       `json:"timeout_ms"`
	MemoryMB    int       `json:"memory_mb"`
	Reset       bool      `json:"reset"`
}

// TableName keeps the table name stable across GORM versions.
func (Record) TableName() string { return "executions" }

// Store is the persistence interface for execution records.
type Store interface {
	// Record appends one execution record.
	Record(ctx context.Context, rec *Record) error

	// List returns the most recent records, newest first.
	List(ctx context.Context, limit int) ([]Record, error)

	// Purge deletes records created before the cutoff and reports how
	// many were removed.
	Purge(ctx context.Context, olderThan time.Time) (int64, error)

	// Ping verifies the backing database is reachable.
	Ping(ctx context.Context) error

	// Close releases the underlying connection.
	Close() error
}
