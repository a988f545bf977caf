package checkpoint

import (
	"encoding/json"
	"fmt"
	"time"
)

// Version is the current checkpoint format version.
// Increment when making breaking changes to checkpoint structure.
const Version = 2

// JoinState is the persisted readiness bookkeeping of one join node.
type JoinState struct {
	Waiting bool `json:"waiting"`
	Fired   bool `json:"fired"`
	Polls   int  `json:"polls"`
}

// Checkpoint is the persisted snapshot of execution state.
// It contains all information needed to resume execution.
type Checkpoint struct {
	// Metadata
	Version   int       `json:"version"`
	RunID     string    `json:"run_id"`
	NodeID    string    `json:"node_id"`
	Sequence  int       `json:"sequence"`
	Timestamp time.Time `json:"timestamp"`

	// Shared state, one encoded value per declared field.
	State        map[string]json.RawMessage `json:"state"`
	StateVersion uint64                     `json:"state_version"`

	// Frontier: nodes scheduled but not yet completed, in launch order.
	Pending []string             `json:"pending"`
	Joins   map[string]JoinState `json:"joins,omitempty"`

	Iterations int `json:"iterations"`
	Attempt    int `json:"attempt"`
}

// Marshal serializes a checkpoint to JSON.
func (c *Checkpoint) Marshal() ([]byte, error) {
	return json.Marshal(c)
}

// Unmarshal deserializes a checkpoint from JSON.
// Checkpoints written by another format version are rejected.
func Unmarshal(data []byte) (*Checkpoint, error) {
	var c Checkpoint
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, err
	}
	if c.Version != Version {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrVersionMismatch, c.Version, Version)
	}
	return &c, nil
}

// New creates a new checkpoint with the given parameters.
// State must already be encoded field by field.
func New(runID, nodeID string, sequence int, state map[string]json.RawMessage, stateVersion uint64) *Checkpoint {
	return &Checkpoint{
		Version:      Version,
		RunID:        runID,
		NodeID:       nodeID,
		Sequence:     sequence,
		Timestamp:    time.Now().UTC(),
		State:        state,
		StateVersion: stateVersion,
		Attempt:      1,
	}
}

// WithFrontier records the pending nodes and join bookkeeping.
func (c *Checkpoint) WithFrontier(pending []string, joins map[string]JoinState) *Checkpoint {
	c.Pending = pending
	c.Joins = joins
	return c
}

// WithIterations records how many node launches the run has made.
func (c *Checkpoint) WithIterations(n int) *Checkpoint {
	c.Iterations = n
	return c
}

// WithAttempt sets the attempt number for retry tracking.
func (c *Checkpoint) WithAttempt(attempt int) *Checkpoint {
	c.Attempt = attempt
	return c
}
