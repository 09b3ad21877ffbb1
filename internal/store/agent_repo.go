// Package store provides the AgentRepo interface for agent scheduling state.
package store

import (
	"time"

	"github.com/hivefeed/hivefeed/internal/models"
)

// AgentRepo defines the interface for agent persistence and the
// scheduling fields the engine mutates.
type AgentRepo interface {
	// CreateAgent inserts a new agent. The agent's ID is generated if
	// empty; the stored ID is returned.
	CreateAgent(a models.Agent) (string, error)

	// GetAgent retrieves a single agent by ID. Returns (nil, nil) if absent.
	GetAgent(id string) (*models.Agent, error)

	// ListDueAgents returns up to limit schedulable agents whose
	// next_run_at <= now, oldest first.
	ListDueAgents(now time.Time, limit int) ([]models.Agent, error)

	// ListSchedulableAgents returns up to limit agents with scheduling
	// enabled, ordered by creation time.
	ListSchedulableAgents(limit int) ([]models.Agent, error)

	// SetAgentScheduling toggles the agent's scheduling switch. Enabling
	// sets next_run_at to nextRunAt; disabling leaves it untouched
	// (already-enqueued jobs are voided by the dispatcher at execution
	// time).
	SetAgentScheduling(id string, enabled bool, nextRunAt time.Time) error

	// SetAgentNextRun persists the agent's next scheduled run time.
	SetAgentNextRun(id string, nextRunAt time.Time) error
}
