package store

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/hivefeed/hivefeed/internal/models"
)

// rowScanner abstracts sql.Row and sql.Rows so each entity needs a
// single scan helper.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

// nilIfEmpty returns nil if s is empty, otherwise returns s.
// Used for nullable database columns.
func nilIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// marshalStringSlice encodes a string slice as JSON for storage, or nil
// when the slice is empty.
func marshalStringSlice(values []string) (interface{}, error) {
	if len(values) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(values)
	if err != nil {
		return nil, fmt.Errorf("marshal string slice failed: %w", err)
	}
	return string(data), nil
}

// unmarshalStringSlice decodes a JSON-encoded string slice column.
// NULL or empty columns decode to nil.
func unmarshalStringSlice(col sql.NullString) ([]string, error) {
	if !col.Valid || col.String == "" {
		return nil, nil
	}
	var values []string
	if err := json.Unmarshal([]byte(col.String), &values); err != nil {
		return nil, fmt.Errorf("unmarshal string slice failed: %w", err)
	}
	return values, nil
}

// collectJobStats folds a (status, count) cursor into JobStats.
func collectJobStats(rows *sql.Rows) (JobStats, error) {
	var stats JobStats
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return stats, fmt.Errorf("scan job stats failed: %w", err)
		}
		switch JobStatus(status) {
		case JobStatusPending:
			stats.Pending = count
		case JobStatusInProgress:
			stats.InProgress = count
		case JobStatusSucceeded:
			stats.Succeeded = count
		case JobStatusDeadLettered:
			stats.DeadLettered = count
		case JobStatusCanceled:
			stats.Canceled = count
		}
	}
	if err := rows.Err(); err != nil {
		return stats, fmt.Errorf("job stats iteration failed: %w", err)
	}
	return stats, nil
}

// scanJob scans a Job from a row or rows cursor.
func scanJob(rs rowScanner) (Job, error) {
	var j Job
	var agentID, payloadJSON, lastError, dedupeKey sql.NullString
	var lockedAt sql.NullTime
	err := rs.Scan(
		&j.ID, &j.Kind, &agentID, &j.RunAt, &payloadJSON, &j.Status, &j.Attempt, &j.MaxAttempts,
		&lastError, &lockedAt, &dedupeKey, &j.CreatedAt, &j.UpdatedAt,
	)
	if err != nil {
		return j, err
	}
	j.AgentID = agentID.String
	j.PayloadJSON = payloadJSON.String
	j.LastError = lastError.String
	j.DedupeKey = dedupeKey.String
	if lockedAt.Valid {
		j.LockedAt = &lockedAt.Time
	}
	return j, nil
}

// scanBufferEntry scans a BufferEntry from a row or rows cursor.
func scanBufferEntry(rs rowScanner) (BufferEntry, error) {
	var e BufferEntry
	err := rs.Scan(
		&e.ID, &e.AgentID, &e.PayloadJSON, &e.Status, &e.ExpiresAt, &e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		return e, err
	}
	return e, nil
}

// scanAgent scans an Agent from a row or rows cursor.
func scanAgent(rs rowScanner) (models.Agent, error) {
	var a models.Agent
	var rhythmProfile sql.NullString
	var nextRunAt sql.NullTime
	err := rs.Scan(
		&a.ID, &a.Name, &a.Persona, &a.PostingFrequency, &a.IsScheduled, &nextRunAt,
		&rhythmProfile, &a.ActiveStartHour, &a.ActiveEndHour, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return a, err
	}
	a.RhythmProfile = models.RhythmProfile(rhythmProfile.String)
	if nextRunAt.Valid {
		a.NextRunAt = &nextRunAt.Time
	}
	return a, nil
}

// scanPost scans a Post from a row or rows cursor.
func scanPost(rs rowScanner) (models.Post, error) {
	var p models.Post
	var mediaRefs, tags, effect sql.NullString
	err := rs.Scan(
		&p.ID, &p.AgentID, &p.Body, &mediaRefs, &tags, &effect, &p.Engagement, &p.CreatedAt,
	)
	if err != nil {
		return p, err
	}
	p.Effect = effect.String
	if p.MediaRefs, err = unmarshalStringSlice(mediaRefs); err != nil {
		return p, err
	}
	if p.Tags, err = unmarshalStringSlice(tags); err != nil {
		return p, err
	}
	return p, nil
}

// scanComment scans a Comment from a row or rows cursor.
func scanComment(rs rowScanner) (models.Comment, error) {
	var c models.Comment
	err := rs.Scan(&c.ID, &c.PostID, &c.AgentID, &c.Body, &c.CreatedAt)
	if err != nil {
		return c, err
	}
	return c, nil
}
