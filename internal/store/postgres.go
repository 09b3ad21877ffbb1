// Package store provides storage backends for HiveFeed.
//
// This file implements the PostgreSQL-backed store: connection setup,
// migrations, and the agent and feed repos.
package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "embed"

	"github.com/hivefeed/hivefeed/internal/models"
	"github.com/hivefeed/hivefeed/internal/util"
	_ "github.com/lib/pq"
)

// Database connection pool configuration constants
const (
	// DefaultMaxOpenConns is the default maximum number of open connections to the database
	DefaultMaxOpenConns = 25
	// DefaultMaxIdleConns is the default maximum number of idle connections in the pool
	DefaultMaxIdleConns = 25
	// DefaultConnMaxLifetime is the default maximum amount of time a connection may be reused
	DefaultConnMaxLifetime = 5 * time.Minute
)

//go:embed migrations_postgres.sql
var postgresMigrations string

type PostgresStore struct {
	db *sql.DB
}

// Compile-time check that PostgresStore implements the full Store surface.
var _ Store = (*PostgresStore)(nil)

// NewPostgresStore creates a new Postgres store based on provided options.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("PostgresStore.NewPostgresStore: creating Postgres store", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("PostgresStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		slog.Error("Failed to open Postgres connection", "error", err)
		return nil, err
	}

	db.SetMaxOpenConns(DefaultMaxOpenConns)
	db.SetMaxIdleConns(DefaultMaxIdleConns)
	db.SetConnMaxLifetime(DefaultConnMaxLifetime)

	if err := db.Ping(); err != nil {
		slog.Error("Postgres ping failed", "error", err)
		return nil, err
	}

	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("Postgres migrations applied successfully")

	return &PostgresStore{db: db}, nil
}

// Close closes the underlying database handle.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// --- AgentRepo ---

func (s *PostgresStore) CreateAgent(a models.Agent) (string, error) {
	if a.ID == "" {
		a.ID = util.GenerateAgentID()
	}
	now := time.Now()
	_, err := s.db.Exec(
		`INSERT INTO agents (id, name, persona, posting_frequency, is_scheduled, next_run_at, rhythm_profile, active_start_hour, active_end_hour, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		a.ID, a.Name, a.Persona, a.PostingFrequency, a.IsScheduled, a.NextRunAt,
		nilIfEmpty(string(a.RhythmProfile)), a.ActiveStartHour, a.ActiveEndHour, now, now,
	)
	if err != nil {
		return "", fmt.Errorf("create agent failed: %w", err)
	}
	slog.Debug("PostgresStore.CreateAgent", "id", a.ID, "name", a.Name)
	return a.ID, nil
}

func (s *PostgresStore) GetAgent(id string) (*models.Agent, error) {
	row := s.db.QueryRow(
		`SELECT id, name, persona, posting_frequency, is_scheduled, next_run_at, rhythm_profile, active_start_hour, active_end_hour, created_at, updated_at
		 FROM agents WHERE id = $1`, id,
	)
	a, err := scanAgent(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get agent failed: %w", err)
	}
	return &a, nil
}

func (s *PostgresStore) ListDueAgents(now time.Time, limit int) ([]models.Agent, error) {
	rows, err := s.db.Query(
		`SELECT id, name, persona, posting_frequency, is_scheduled, next_run_at, rhythm_profile, active_start_hour, active_end_hour, created_at, updated_at
		 FROM agents WHERE is_scheduled = TRUE AND next_run_at IS NOT NULL AND next_run_at <= $1
		 ORDER BY next_run_at ASC LIMIT $2`,
		now, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list due agents query failed: %w", err)
	}
	defer rows.Close()
	return collectAgents(rows)
}

func (s *PostgresStore) ListSchedulableAgents(limit int) ([]models.Agent, error) {
	rows, err := s.db.Query(
		`SELECT id, name, persona, posting_frequency, is_scheduled, next_run_at, rhythm_profile, active_start_hour, active_end_hour, created_at, updated_at
		 FROM agents WHERE is_scheduled = TRUE ORDER BY created_at ASC LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list schedulable agents query failed: %w", err)
	}
	defer rows.Close()
	return collectAgents(rows)
}

func (s *PostgresStore) SetAgentScheduling(id string, enabled bool, nextRunAt time.Time) error {
	now := time.Now()
	var err error
	if enabled {
		_, err = s.db.Exec(
			`UPDATE agents SET is_scheduled = TRUE, next_run_at = $1, updated_at = $2 WHERE id = $3`,
			nextRunAt, now, id,
		)
	} else {
		_, err = s.db.Exec(
			`UPDATE agents SET is_scheduled = FALSE, updated_at = $1 WHERE id = $2`,
			now, id,
		)
	}
	if err != nil {
		return fmt.Errorf("set agent scheduling failed: %w", err)
	}
	return nil
}

func (s *PostgresStore) SetAgentNextRun(id string, nextRunAt time.Time) error {
	now := time.Now()
	_, err := s.db.Exec(
		`UPDATE agents SET next_run_at = $1, updated_at = $2 WHERE id = $3`,
		nextRunAt, now, id,
	)
	if err != nil {
		return fmt.Errorf("set agent next run failed: %w", err)
	}
	return nil
}

// --- PostRepo ---

func (s *PostgresStore) CreatePost(p models.Post) (string, error) {
	if p.ID == "" {
		p.ID = util.GeneratePostID()
	}
	mediaRefs, err := marshalStringSlice(p.MediaRefs)
	if err != nil {
		return "", err
	}
	tags, err := marshalStringSlice(p.Tags)
	if err != nil {
		return "", err
	}
	_, err = s.db.Exec(
		`INSERT INTO posts (id, agent_id, body, media_refs_json, tags_json, effect, engagement, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		p.ID, p.AgentID, p.Body, mediaRefs, tags, nilIfEmpty(p.Effect), p.Engagement, time.Now(),
	)
	if err != nil {
		return "", fmt.Errorf("create post failed: %w", err)
	}
	slog.Debug("PostgresStore.CreatePost", "id", p.ID, "agentID", p.AgentID)
	return p.ID, nil
}

func (s *PostgresStore) GetPost(id string) (*models.Post, error) {
	row := s.db.QueryRow(
		`SELECT id, agent_id, body, media_refs_json, tags_json, effect, engagement, created_at
		 FROM posts WHERE id = $1`, id,
	)
	p, err := scanPost(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get post failed: %w", err)
	}
	return &p, nil
}

func (s *PostgresStore) GetRecentPostExcluding(excludeAgentID string, since time.Time) (*models.Post, error) {
	row := s.db.QueryRow(
		`SELECT id, agent_id, body, media_refs_json, tags_json, effect, engagement, created_at
		 FROM posts WHERE agent_id != $1 AND created_at >= $2
		 ORDER BY created_at DESC LIMIT 1`,
		excludeAgentID, since,
	)
	p, err := scanPost(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get recent post failed: %w", err)
	}
	return &p, nil
}

func (s *PostgresStore) CreateComment(c models.Comment) (string, error) {
	if c.ID == "" {
		c.ID = util.GenerateCommentID()
	}
	_, err := s.db.Exec(
		`INSERT INTO comments (id, post_id, agent_id, body, created_at) VALUES ($1, $2, $3, $4, $5)`,
		c.ID, c.PostID, c.AgentID, c.Body, time.Now(),
	)
	if err != nil {
		return "", fmt.Errorf("create comment failed: %w", err)
	}
	slog.Debug("PostgresStore.CreateComment", "id", c.ID, "postID", c.PostID, "agentID", c.AgentID)
	return c.ID, nil
}

func (s *PostgresStore) GetComment(id string) (*models.Comment, error) {
	row := s.db.QueryRow(
		`SELECT id, post_id, agent_id, body, created_at FROM comments WHERE id = $1`, id,
	)
	c, err := scanComment(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get comment failed: %w", err)
	}
	return &c, nil
}

func (s *PostgresStore) RecalculateEngagement(agentID string) (int, error) {
	result, err := s.db.Exec(
		`UPDATE posts SET engagement = (
		   SELECT COUNT(*) FROM comments c WHERE c.post_id = posts.id
		 ) WHERE agent_id = $1`,
		agentID,
	)
	if err != nil {
		return 0, fmt.Errorf("recalculate engagement failed: %w", err)
	}
	n, _ := result.RowsAffected()
	return int(n), nil
}
