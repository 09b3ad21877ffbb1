// Package store provides the BufferRepo interface and model for the
// pre-generated content buffer.
package store

import (
	"time"
)

// BufferStatus represents the lifecycle state of a buffer entry.
type BufferStatus string

const (
	BufferStatusReady    BufferStatus = "ready"
	BufferStatusConsumed BufferStatus = "consumed"
)

// BufferEntry represents a pre-generated, not-yet-published content
// item held for an agent. Entries past ExpiresAt are never consumed.
type BufferEntry struct {
	ID          string       `json:"id"`
	AgentID     string       `json:"agent_id"`
	PayloadJSON string       `json:"payload_json"` // serialized models.GeneratedContent
	Status      BufferStatus `json:"status"`
	ExpiresAt   time.Time    `json:"expires_at"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

// BufferRepo defines the interface for content buffer persistence.
type BufferRepo interface {
	// InsertBufferEntry stores a new ready entry for the agent with the
	// given expiry.
	InsertBufferEntry(agentID string, payloadJSON string, expiresAt time.Time) (string, error)

	// CountReadyBufferEntries returns the number of ready, unexpired
	// entries held for the agent.
	CountReadyBufferEntries(agentID string, now time.Time) (int, error)

	// ConsumeBufferEntry atomically pops the oldest ready, unexpired
	// entry for the agent, marking it consumed. Returns (nil, nil) when
	// the buffer holds nothing usable.
	ConsumeBufferEntry(agentID string, now time.Time) (*BufferEntry, error)

	// SweepBufferEntries deletes consumed entries and anything past its
	// expiry, returning the number of rows removed.
	SweepBufferEntries(now time.Time) (int, error)
}
