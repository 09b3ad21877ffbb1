package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/hivefeed/hivefeed/internal/util"
)

func (s *PostgresStore) InsertBufferEntry(agentID string, payloadJSON string, expiresAt time.Time) (string, error) {
	id := util.GenerateRandomID("buf_", 32)
	now := time.Now()
	_, err := s.db.Exec(
		`INSERT INTO buffer_entries (id, agent_id, payload_json, status, expires_at, created_at, updated_at)
		 VALUES ($1, $2, $3, 'ready', $4, $5, $6)`,
		id, agentID, payloadJSON, expiresAt, now, now,
	)
	if err != nil {
		return "", fmt.Errorf("insert buffer entry failed: %w", err)
	}
	slog.Debug("PostgresStore.InsertBufferEntry", "id", id, "agentID", agentID, "expiresAt", expiresAt)
	return id, nil
}

func (s *PostgresStore) CountReadyBufferEntries(agentID string, now time.Time) (int, error) {
	var count int
	err := s.db.QueryRow(
		`SELECT COUNT(*) FROM buffer_entries WHERE agent_id = $1 AND status = 'ready' AND expires_at > $2`,
		agentID, now,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count ready buffer entries failed: %w", err)
	}
	return count, nil
}

func (s *PostgresStore) ConsumeBufferEntry(agentID string, now time.Time) (*BufferEntry, error) {
	// Atomic pop with SKIP LOCKED so concurrent consumers never receive
	// the same entry. Expired rows are never eligible even while still
	// flagged ready.
	row := s.db.QueryRow(
		`UPDATE buffer_entries SET status = 'consumed', updated_at = $1
		 WHERE id IN (
		   SELECT id FROM buffer_entries
		   WHERE agent_id = $2 AND status = 'ready' AND expires_at > $1
		   ORDER BY created_at ASC LIMIT 1
		   FOR UPDATE SKIP LOCKED
		 )
		 RETURNING id, agent_id, payload_json, status, expires_at, created_at, updated_at`,
		now, agentID,
	)
	e, err := scanBufferEntry(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("consume buffer entry failed: %w", err)
	}
	slog.Debug("PostgresStore.ConsumeBufferEntry", "id", e.ID, "agentID", agentID)
	return &e, nil
}

func (s *PostgresStore) SweepBufferEntries(now time.Time) (int, error) {
	result, err := s.db.Exec(
		`DELETE FROM buffer_entries WHERE status = 'consumed' OR expires_at <= $1`,
		now,
	)
	if err != nil {
		return 0, fmt.Errorf("sweep buffer entries failed: %w", err)
	}
	n, _ := result.RowsAffected()
	if n > 0 {
		slog.Info("PostgresStore.SweepBufferEntries", "removed", n)
	}
	return int(n), nil
}
