// Package models defines core data types shared across HiveFeed components.
//
// It contains the agent, feed, and generated-content models together with
// validation helpers and the standard API response envelope.
package models

import (
	"errors"
	"time"
)

// Validation errors for agent and content structures.
var (
	ErrEmptyAgentName          = errors.New("agent name cannot be empty")
	ErrEmptyPersona            = errors.New("agent persona cannot be empty")
	ErrInvalidPostingFrequency = errors.New("posting frequency must be between 1 and 48 posts per day")
	ErrInvalidRhythmProfile    = errors.New("unrecognized rhythm profile")
	ErrInvalidActiveWindow     = errors.New("active window hours must be within 0-23")
	ErrEmptyContentBody        = errors.New("content body cannot be empty")
)

// Posting frequency bounds enforced by Agent.Validate.
const (
	MinPostingFrequency = 1
	MaxPostingFrequency = 48
)

// RhythmProfile is a personality-derived bias on the time-of-day
// distribution used when computing an agent's next run.
type RhythmProfile string

const (
	// RhythmProfileSteady applies no time-of-day bias (the default).
	RhythmProfileSteady RhythmProfile = ""
	// RhythmProfileNightOwl shifts posting mass toward late-night hours.
	RhythmProfileNightOwl RhythmProfile = "night_owl"
	// RhythmProfileEarlyRiser shifts posting mass toward early morning.
	RhythmProfileEarlyRiser RhythmProfile = "early_riser"
	// RhythmProfileBursty clusters posts into short bursts separated by gaps.
	RhythmProfileBursty RhythmProfile = "bursty"
)

// IsValidRhythmProfile checks whether the given profile is recognized.
func IsValidRhythmProfile(p RhythmProfile) bool {
	switch p {
	case RhythmProfileSteady, RhythmProfileNightOwl, RhythmProfileEarlyRiser, RhythmProfileBursty:
		return true
	default:
		return false
	}
}

// Agent represents an autonomous bot that publishes content on a schedule.
type Agent struct {
	ID               string        `json:"id"`
	Name             string        `json:"name"`
	Persona          string        `json:"persona"` // system-prompt description of the agent's voice
	PostingFrequency int           `json:"posting_frequency"` // desired posts per day
	IsScheduled      bool          `json:"is_scheduled"`
	NextRunAt        *time.Time    `json:"next_run_at,omitempty"`
	RhythmProfile    RhythmProfile `json:"rhythm_profile,omitempty"`
	ActiveStartHour  int           `json:"active_start_hour"` // inclusive, hour 0-23
	ActiveEndHour    int           `json:"active_end_hour"`   // exclusive; may be <= start for windows that wrap midnight
	CreatedAt        time.Time     `json:"created_at"`
	UpdatedAt        time.Time     `json:"updated_at"`
}

// Validate performs validation on an Agent structure.
func (a *Agent) Validate() error {
	if a.Name == "" {
		return ErrEmptyAgentName
	}
	if a.Persona == "" {
		return ErrEmptyPersona
	}
	if a.PostingFrequency < MinPostingFrequency || a.PostingFrequency > MaxPostingFrequency {
		return ErrInvalidPostingFrequency
	}
	if !IsValidRhythmProfile(a.RhythmProfile) {
		return ErrInvalidRhythmProfile
	}
	if a.ActiveStartHour < 0 || a.ActiveStartHour > 23 || a.ActiveEndHour < 0 || a.ActiveEndHour > 23 {
		return ErrInvalidActiveWindow
	}
	return nil
}

// GeneratedContent is the output of the external generation collaborator:
// a ready-to-publish unit of content for one agent.
type GeneratedContent struct {
	Body      string   `json:"body"`
	MediaRefs []string `json:"media_refs,omitempty"`
	Tags      []string `json:"tags,omitempty"`
	Effect    string   `json:"effect,omitempty"` // chosen visual/audio treatment, if any
}

// Validate checks that generated content is publishable.
func (c *GeneratedContent) Validate() error {
	if c.Body == "" {
		return ErrEmptyContentBody
	}
	return nil
}

// ModerationVerdict is the outcome of the moderation collaborator.
type ModerationVerdict struct {
	Approved bool   `json:"approved"`
	Reason   string `json:"reason,omitempty"`
}

// Post represents a published feed item authored by an agent.
type Post struct {
	ID         string    `json:"id"`
	AgentID    string    `json:"agent_id"`
	Body       string    `json:"body"`
	MediaRefs  []string  `json:"media_refs,omitempty"`
	Tags       []string  `json:"tags,omitempty"`
	Effect     string    `json:"effect,omitempty"`
	Engagement float64   `json:"engagement"`
	CreatedAt  time.Time `json:"created_at"`
}

// Comment represents a reply published by an agent under a post.
type Comment struct {
	ID        string    `json:"id"`
	PostID    string    `json:"post_id"`
	AgentID   string    `json:"agent_id"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"created_at"`
}

// APIStatus represents the status field of an API response.
type APIStatus string

const (
	APIStatusOK    APIStatus = "ok"
	APIStatusError APIStatus = "error"
)

// APIResponse represents a standard API response with a status and optional data.
type APIResponse struct {
	Status  string      `json:"status"`
	Message string      `json:"message,omitempty"`
	Result  interface{} `json:"result,omitempty"`
}

// Success creates a successful API response with optional result data.
func Success(result interface{}) APIResponse {
	return APIResponse{Status: string(APIStatusOK), Result: result}
}

// SuccessWithMessage creates a successful API response with a message and optional result data.
func SuccessWithMessage(message string, result interface{}) APIResponse {
	return APIResponse{Status: string(APIStatusOK), Message: message, Result: result}
}

// Error creates an error API response with a message.
func Error(message string) APIResponse {
	return APIResponse{Status: string(APIStatusError), Message: message}
}
