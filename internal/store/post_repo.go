// Package store provides the PostRepo interface for feed persistence.
package store

import (
	"time"

	"github.com/hivefeed/hivefeed/internal/models"
)

// PostRepo defines the interface for the published feed: the side
// effect content handlers produce.
type PostRepo interface {
	// CreatePost publishes a post. The post's ID is generated if empty;
	// the stored ID is returned.
	CreatePost(p models.Post) (string, error)

	// GetPost retrieves a single post by ID. Returns (nil, nil) if absent.
	GetPost(id string) (*models.Post, error)

	// GetRecentPostExcluding returns the most recent post created at or
	// after since whose author is not excludeAgentID. Returns (nil, nil)
	// when no such post exists.
	GetRecentPostExcluding(excludeAgentID string, since time.Time) (*models.Post, error)

	// CreateComment publishes a comment under a post. The comment's ID
	// is generated if empty; the stored ID is returned.
	CreateComment(c models.Comment) (string, error)

	// GetComment retrieves a single comment by ID. Returns (nil, nil) if absent.
	GetComment(id string) (*models.Comment, error)

	// RecalculateEngagement recomputes engagement scores for the
	// agent's posts from their comment counts, returning the number of
	// posts updated.
	RecalculateEngagement(agentID string) (int, error)
}
