// Package checkpoint provides persistent checkpoint storage for crash recovery.
//
// A run writes one checkpoint per completed node, keyed by a monotonically
// increasing sequence number. Resuming loads the latest (or a chosen)
// sequence and continues from the frontier it recorded.
package checkpoint

import (
	"context"
	"errors"
	"time"
)

// Store persists checkpoints for crash recovery.
// Implementations must be safe for concurrent use.
type Store interface {
	// Save stores the checkpoint for (runID, sequence).
	// Overwrites if a checkpoint with that sequence already exists.
	Save(ctx context.Context, runID string, sequence int, nodeID string, data []byte) error

	// Load retrieves the checkpoint at a sequence.
	// Returns ErrNotFound if it doesn't exist.
	Load(ctx context.Context, runID string, sequence int) ([]byte, error)

	// Latest retrieves the checkpoint with the highest sequence for a run.
	// Returns ErrNotFound if the run has no checkpoints.
	Latest(ctx context.Context, runID string) ([]byte, error)

	// List returns all checkpoints for a run, ordered by sequence.
	// Returns empty slice (not error) if run has no checkpoints.
	List(ctx context.Context, runID string) ([]Info, error)

	// DeleteRun removes all checkpoints for a run.
	// Returns nil if run has no checkpoints.
	DeleteRun(ctx context.Context, runID string) error

	// Close releases any resources (connections, files).
	Close() error
}

// Info provides metadata without loading full state.
type Info struct {
	RunID     string
	NodeID    string
	Sequence  int
	Timestamp time.Time
	Size      int64
}

// Sentinel errors for checkpoint operations.
var (
	// ErrNotFound indicates a checkpoint doesn't exist.
	ErrNotFound = errors.New("checkpoint not found")

	// ErrStoreClosed indicates the store has been closed.
	ErrStoreClosed = errors.New("checkpoint store closed")

	// ErrVersionMismatch indicates a checkpoint written by an incompatible format.
	ErrVersionMismatch = errors.New("checkpoint version mismatch")
)
