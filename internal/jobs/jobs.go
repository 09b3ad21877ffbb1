// Package jobs defines the job kinds, payload types, and handlers that
// drive the agent fleet: content cycles, crew interactions, responses,
// engagement recalculation, and onboarding.
package jobs

import (
	"context"

	"github.com/hivefeed/hivefeed/internal/cadence"
	"github.com/hivefeed/hivefeed/internal/models"
	"github.com/hivefeed/hivefeed/internal/store"
)

// Job kind constants. The kind determines which handler runs and which
// payload shape is expected.
const (
	JobKindAgentCycle            = "agent_cycle"
	JobKindGenerateContent       = "generate_content"
	JobKindCrewInteraction       = "crew_interaction"
	JobKindRespondToComment      = "respond_to_comment"
	JobKindRespondToPost         = "respond_to_post"
	JobKindRecalculateEngagement = "recalculate_engagement"
	JobKindOnboardAgent          = "onboard_agent"
)

// Fleet-wide in-flight caps for kinds that call the generation
// pipeline, so a burst of due jobs cannot overwhelm it.
const (
	AgentCycleConcurrencyLimit      = 4
	CrewInteractionConcurrencyLimit = 2
)

// AgentCyclePayload is the JSON payload for agent_cycle jobs.
type AgentCyclePayload struct {
	AgentID string `json:"agent_id"`
}

// GenerateContentPayload is the JSON payload for generate_content jobs.
type GenerateContentPayload struct {
	AgentID string `json:"agent_id"`
	Topic   string `json:"topic,omitempty"`
}

// CrewInteractionPayload is the JSON payload for crew_interaction jobs.
type CrewInteractionPayload struct {
	AgentID string `json:"agent_id"`
}

// RespondToCommentPayload is the JSON payload for respond_to_comment jobs.
type RespondToCommentPayload struct {
	AgentID   string `json:"agent_id"`
	PostID    string `json:"post_id"`
	CommentID string `json:"comment_id"`
}

// RespondToPostPayload is the JSON payload for respond_to_post jobs.
type RespondToPostPayload struct {
	AgentID string `json:"agent_id"`
	PostID  string `json:"post_id"`
}

// RecalculateEngagementPayload is the JSON payload for recalculate_engagement jobs.
type RecalculateEngagementPayload struct {
	AgentID string `json:"agent_id"`
}

// OnboardAgentPayload is the JSON payload for onboard_agent jobs.
type OnboardAgentPayload struct {
	Name             string               `json:"name"`
	Persona          string               `json:"persona"`
	PostingFrequency int                  `json:"posting_frequency"`
	RhythmProfile    models.RhythmProfile `json:"rhythm_profile,omitempty"`
	ActiveStartHour  int                  `json:"active_start_hour"`
	ActiveEndHour    int                  `json:"active_end_hour"`
	StartScheduled   bool                 `json:"start_scheduled"`
}

// ContentGenerator is the external generation collaborator consumed by
// content handlers.
type ContentGenerator interface {
	GeneratePost(ctx context.Context, agent models.Agent, topic string) (models.GeneratedContent, error)
	GenerateReply(ctx context.Context, agent models.Agent, original string) (string, error)
}

// Moderator is the external moderation collaborator consumed by content
// handlers.
type Moderator interface {
	Moderate(ctx context.Context, body string) (models.ModerationVerdict, error)
}

// Deps bundles the dependencies handlers close over.
type Deps struct {
	Store     store.Store
	Generator ContentGenerator
	Moderator Moderator
	Planner   *cadence.Planner
}
