package storage

import (
	"errors"
	"time"

	"github.com/funnyzak/replaytap/internal/config"
	"github.com/funnyzak/replaytap/internal/logger"
	"github.com/funnyzak/replaytap/pkg/flow"
)

// ErrEmptyPath indicates no database path was configured.
var ErrEmptyPath = errors.New("storage path cannot be empty")

// ListOptions controls filtering and pagination when fetching flows.
type ListOptions struct {
	Search string
	Method string
	Limit  int
	Offset int
}

// StoredFlow wraps a flow record with its storage metadata.
type StoredFlow struct {
	Seq        int64     `json:"seq"`
	CapturedAt time.Time `json:"captured_at"`
	*flow.Record
}

// ReplayRecord is the persisted outcome of one replay.
type ReplayRecord struct {
	ID         string    `json:"id"`
	FlowID     string    `json:"flow_id"`
	Timestamp  time.Time `json:"timestamp"`
	Method     string    `json:"method"`
	URL        string    `json:"url"`
	StatusCode int       `json:"status_code,omitempty"`
	Error      string    `json:"error,omitempty"`
	DurationMs int64     `json:"duration_ms"`
}

// Store defines the persistence contract for captured flows.
type Store interface {
	Record(*flow.Record) (*StoredFlow, error)
	List(ListOptions) ([]*StoredFlow, int, error)
	Iterate(ListOptions, func(*StoredFlow) bool) error
	// Snapshot returns every flow in capture order.
	Snapshot() ([]*StoredFlow, error)
	Get(string) (*StoredFlow, error)

	RecordReplay(*ReplayRecord) (*ReplayRecord, error)
	GetReplays(flowID string) ([]*ReplayRecord, error)

	Close() error
}

// New opens the capture database described by cfg.
func New(cfg *config.StorageConfig, log logger.Logger) (Store, error) {
	if cfg == nil {
		return nil, errors.New("storage config is nil")
	}
	return newSQLiteStore(cfg, log)
}
