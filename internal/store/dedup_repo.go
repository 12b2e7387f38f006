package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// DedupRecord is one inbound message id seen by the API.
type DedupRecord struct {
	MessageID   string     `json:"message_id"`
	SessionID   string     `json:"session_id"`
	ReceivedAt  time.Time  `json:"received_at"`
	ProcessedAt *time.Time `json:"processed_at"`
}

// DedupRepo remembers client message ids so a retried delivery is not
// answered twice.
type DedupRepo interface {
	IsDuplicate(messageID string) (bool, error)
	// RecordInbound returns false when the id was already recorded.
	RecordInbound(messageID, sessionID string) (bool, error)
	MarkProcessed(messageID string) error
	// ForgetInbound drops an id whose turn never completed so a retry of
	// the same message is accepted. Processed ids are kept.
	ForgetInbound(messageID string) error
	// PruneInbound forgets ids received before the cutoff and returns how
	// many were removed.
	PruneInbound(before time.Time) (int, error)
}

// dedupSQL holds the dialect-specific statements on the inbound_dedup table.
type dedupSQL struct {
	exists    string
	insert    string
	processed string
	forget    string
	prune     string
}

var (
	sqliteDedup = dedupSQL{
		exists:    `SELECT 1 FROM inbound_dedup WHERE message_id = ? LIMIT 1`,
		insert:    `INSERT OR IGNORE INTO inbound_dedup (message_id, session_id, received_at) VALUES (?, ?, ?)`,
		processed: `UPDATE inbound_dedup SET processed_at = ? WHERE message_id = ?`,
		forget:    `DELETE FROM inbound_dedup WHERE message_id = ? AND processed_at IS NULL`,
		prune:     `DELETE FROM inbound_dedup WHERE received_at < ?`,
	}
	postgresDedup = dedupSQL{
		exists:    `SELECT 1 FROM inbound_dedup WHERE message_id = $1 LIMIT 1`,
		insert:    `INSERT INTO inbound_dedup (message_id, session_id, received_at) VALUES ($1, $2, $3) ON CONFLICT (message_id) DO NOTHING`,
		processed: `UPDATE inbound_dedup SET processed_at = $1 WHERE message_id = $2`,
		forget:    `DELETE FROM inbound_dedup WHERE message_id = $1 AND processed_at IS NULL`,
		prune:     `DELETE FROM inbound_dedup WHERE received_at < $1`,
	}
)

func (q dedupSQL) isDuplicate(db *sql.DB, messageID string) (bool, error) {
	var one int
	err := db.QueryRow(q.exists, messageID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("dedup check failed: %w", err)
	}
	return true, nil
}

func (q dedupSQL) record(db *sql.DB, messageID, sessionID string) (bool, error) {
	res, err := db.Exec(q.insert, messageID, sessionID, time.Now().UTC())
	if err != nil {
		return false, fmt.Errorf("record inbound failed: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("record inbound rows affected: %w", err)
	}
	return n > 0, nil
}

func (q dedupSQL) markProcessed(db *sql.DB, messageID string) error {
	if _, err := db.Exec(q.processed, time.Now().UTC(), messageID); err != nil {
		return fmt.Errorf("mark processed failed: %w", err)
	}
	return nil
}

func (q dedupSQL) forgetInbound(db *sql.DB, messageID string) error {
	if _, err := db.Exec(q.forget, messageID); err != nil {
		return fmt.Errorf("forget inbound failed: %w", err)
	}
	return nil
}

func (q dedupSQL) pruneBefore(db *sql.DB, before time.Time) (int, error) {
	res, err := db.Exec(q.prune, before.UTC())
	if err != nil {
		return 0, fmt.Errorf("prune inbound failed: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("prune inbound rows affected: %w", err)
	}
	return int(n), nil
}

var (
	_ DedupRepo = (*SQLiteStore)(nil)
	_ DedupRepo = (*PostgresStore)(nil)
	_ DedupRepo = (*InMemoryStore)(nil)
)

func (s *SQLiteStore) IsDuplicate(messageID string) (bool, error) {
	return sqliteDedup.isDuplicate(s.db, messageID)
}

func (s *SQLiteStore) RecordInbound(messageID, sessionID string) (bool, error) {
	return sqliteDedup.record(s.db, messageID, sessionID)
}

func (s *SQLiteStore) MarkProcessed(messageID string) error {
	return sqliteDedup.markProcessed(s.db, messageID)
}

func (s *SQLiteStore) ForgetInbound(messageID string) error {
	return sqliteDedup.forgetInbound(s.db, messageID)
}

func (s *SQLiteStore) PruneInbound(before time.Time) (int, error) {
	return sqliteDedup.pruneBefore(s.db, before)
}

func (s *PostgresStore) IsDuplicate(messageID string) (bool, error) {
	return postgresDedup.isDuplicate(s.db, messageID)
}

func (s *PostgresStore) RecordInbound(messageID, sessionID string) (bool, error) {
	return postgresDedup.record(s.db, messageID, sessionID)
}

func (s *PostgresStore) MarkProcessed(messageID string) error {
	return postgresDedup.markProcessed(s.db, messageID)
}

func (s *PostgresStore) ForgetInbound(messageID string) error {
	return postgresDedup.forgetInbound(s.db, messageID)
}

func (s *PostgresStore) PruneInbound(before time.Time) (int, error) {
	return postgresDedup.pruneBefore(s.db, before)
}
