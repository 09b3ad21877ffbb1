// Package store provides storage backends for HiveFeed.
//
// This file implements the SQLite-backed store: connection setup,
// migrations, and the agent and feed repos.
package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "embed"

	"github.com/hivefeed/hivefeed/internal/models"
	"github.com/hivefeed/hivefeed/internal/util"
	_ "github.com/mattn/go-sqlite3"
)

// DefaultDirPermissions defines the default permissions for database directories.
const DefaultDirPermissions = 0755

//go:embed migrations_sqlite.sql
var sqliteMigrations string

type SQLiteStore struct {
	db *sql.DB
}

// Compile-time check that SQLiteStore implements the full Store surface.
var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore creates a new SQLite store with the given DSN.
// The DSN should be a file path to the SQLite database file.
// If the directory doesn't exist, it will be created.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewSQLiteStore invoked", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("SQLiteStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	dir := filepath.Dir(dsn)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("Failed to create database directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		slog.Error("Failed to open SQLite connection", "error", err)
		return nil, err
	}

	if err := db.Ping(); err != nil {
		slog.Error("SQLite ping failed", "error", err)
		return nil, err
	}

	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("SQLite migrations applied successfully")

	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- AgentRepo ---

func (s *SQLiteStore) CreateAgent(a models.Agent) (string, error) {
	if a.ID == "" {
		a.ID = util.GenerateAgentID()
	}
	now := time.Now()
	_, err := s.db.Exec(
		`INSERT INTO agents (id, name, persona, posting_frequency, is_scheduled, next_run_at, rhythm_profile, active_start_hour, active_end_hour, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.Name, a.Persona, a.PostingFrequency, a.IsScheduled, a.NextRunAt,
		nilIfEmpty(string(a.RhythmProfile)), a.ActiveStartHour, a.ActiveEndHour, now, now,
	)
	if err != nil {
		return "", fmt.Errorf("create agent failed: %w", err)
	}
	slog.Debug("SQLiteStore.CreateAgent", "id", a.ID, "name", a.Name)
	return a.ID, nil
}

func (s *SQLiteStore) GetAgent(id string) (*models.Agent, error) {
	row := s.db.QueryRow(
		`SELECT id, name, persona, posting_frequency, is_scheduled, next_run_at, rhythm_profile, active_start_hour, active_end_hour, created_at, updated_at
		 FROM agents WHERE id = ?`, id,
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

func (s *SQLiteStore) ListDueAgents(now time.Time, limit int) ([]models.Agent, error) {
	rows, err := s.db.Query(
		`SELECT id, name, persona, posting_frequency, is_scheduled, next_run_at, rhythm_profile, active_start_hour, active_end_hour, created_at, updated_at
		 FROM agents WHERE is_scheduled = 1 AND next_run_at IS NOT NULL AND next_run_at <= ?
		 ORDER BY next_run_at ASC LIMIT ?`,
		now, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list due agents query failed: %w", err)
	}
	defer rows.Close()
	return collectAgents(rows)
}

func (s *SQLiteStore) ListSchedulableAgents(limit int) ([]models.Agent, error) {
	rows, err := s.db.Query(
		`SELECT id, name, persona, posting_frequency, is_scheduled, next_run_at, rhythm_profile, active_start_hour, active_end_hour, created_at, updated_at
		 FROM agents WHERE is_scheduled = 1 ORDER BY created_at ASC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list schedulable agents query failed: %w", err)
	}
	defer rows.Close()
	return collectAgents(rows)
}

func (s *SQLiteStore) SetAgentScheduling(id string, enabled bool, nextRunAt time.Time) error {
	now := time.Now()
	var err error
	if enabled {
		_, err = s.db.Exec(
			`UPDATE agents SET is_scheduled = 1, next_run_at = ?, updated_at = ? WHERE id = ?`,
			nextRunAt, now, id,
		)
	} else {
		_, err = s.db.Exec(
			`UPDATE agents SET is_scheduled = 0, updated_at = ? WHERE id = ?`,
			now, id,
		)
	}
	if err != nil {
		return fmt.Errorf("set agent scheduling failed: %w", err)
	}
	return nil
}

func (s *SQLiteStore) SetAgentNextRun(id string, nextRunAt time.Time) error {
	now := time.Now()
	_, err := s.db.Exec(
		`UPDATE agents SET next_run_at = ?, updated_at = ? WHERE id = ?`,
		nextRunAt, now, id,
	)
	if err != nil {
		return fmt.Errorf("set agent next run failed: %w", err)
	}
	return nil
}

// collectAgents drains an agent rows cursor.
func collectAgents(rows *sql.Rows) ([]models.Agent, error) {
	var agents []models.Agent
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan agent failed: %w", err)
		}
		agents = append(agents, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("agent rows iteration failed: %w", err)
	}
	return agents, nil
}

// --- PostRepo ---

func (s *SQLiteStore) CreatePost(p models.Post) (string, error) {
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
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.AgentID, p.Body, mediaRefs, tags, nilIfEmpty(p.Effect), p.Engagement, time.Now(),
	)
	if err != nil {
		return "", fmt.Errorf("create post failed: %w", err)
	}
	slog.Debug("SQLiteStore.CreatePost", "id", p.ID, "agentID", p.AgentID)
	return p.ID, nil
}

func (s *SQLiteStore) GetPost(id string) (*models.Post, error) {
	row := s.db.QueryRow(
		`SELECT id, agent_id, body, media_refs_json, tags_json, effect, engagement, created_at
		 FROM posts WHERE id = ?`, id,
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

func (s *SQLiteStore) GetRecentPostExcluding(excludeAgentID string, since time.Time) (*models.Post, error) {
	row := s.db.QueryRow(
		`SELECT id, agent_id, body, media_refs_json, tags_json, effect, engagement, created_at
		 FROM posts WHERE agent_id != ? AND created_at >= ?
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

func (s *SQLiteStore) CreateComment(c models.Comment) (string, error) {
	if c.ID == "" {
		c.ID = util.GenerateCommentID()
	}
	_, err := s.db.Exec(
		`INSERT INTO comments (id, post_id, agent_id, body, created_at) VALUES (?, ?, ?, ?, ?)`,
		c.ID, c.PostID, c.AgentID, c.Body, time.Now(),
	)
	if err != nil {
		return "", fmt.Errorf("create comment failed: %w", err)
	}
	slog.Debug("SQLiteStore.CreateComment", "id", c.ID, "postID", c.PostID, "agentID", c.AgentID)
	return c.ID, nil
}

func (s *SQLiteStore) GetComment(id string) (*models.Comment, error) {
	row := s.db.QueryRow(
		`SELECT id, post_id, agent_id, body, created_at FROM comments WHERE id = ?`, id,
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

func (s *SQLiteStore) RecalculateEngagement(agentID string) (int, error) {
	result, err := s.db.Exec(
		`UPDATE posts SET engagement = (
		   SELECT COUNT(*) FROM comments c WHERE c.post_id = posts.id
		 ) WHERE agent_id = ?`,
		agentID,
	)
	if err != nil {
		return 0, fmt.Errorf("recalculate engagement failed: %w", err)
	}
	n, _ := result.RowsAffected()
	return int(n), nil
}
