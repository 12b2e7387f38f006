package store

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// JobStatus is the lifecycle state of a job.
type JobStatus string

const (
	JobStatusQueued  JobStatus = "queued"
	JobStatusRunning JobStatus = "running"
	JobStatusDone    JobStatus = "done"
	JobStatusFailed  JobStatus = "failed"
)

// DefaultMaxAttempts is how often a job runs before it is given up.
const DefaultMaxAttempts = 3

// Job is a unit of background work that outlives the process that queued it.
type Job struct {
	ID          string     `json:"id"`
	Kind        string     `json:"kind"`
	RunAt       time.Time  `json:"run_at"`
	Payload     string     `json:"payload"`
	Status      JobStatus  `json:"status"`
	Attempt     int        `json:"attempt"`
	MaxAttempts int        `json:"max_attempts"`
	LastError   string     `json:"last_error"`
	LockedAt    *time.Time `json:"locked_at"`
	DedupeKey   string     `json:"dedupe_key"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// JobRepo is a durable job queue.
type JobRepo interface {
	// EnqueueJob queues a job. When dedupeKey is set and an unfinished job
	// with that key exists, its id is returned instead.
	EnqueueJob(kind string, runAt time.Time, payload, dedupeKey string) (string, error)
	// ClaimDueJobs marks up to limit due jobs as running and returns them.
	ClaimDueJobs(now time.Time, limit int) ([]Job, error)
	CompleteJob(id string) error
	// FailJob records errMsg and requeues the job at nextRunAt, or marks it
	// failed once it has used its attempts.
	FailJob(id, errMsg string, nextRunAt time.Time) error
	// RequeueStaleRunningJobs puts jobs claimed before staleBefore back in
	// the queue. A crash between claim and completion leaves such jobs.
	RequeueStaleRunningJobs(staleBefore time.Time) (int, error)
	// PruneJobs deletes done and failed jobs last updated before the cutoff.
	PruneJobs(before time.Time) (int, error)
	// GetJob returns nil, nil for an unknown id.
	GetJob(id string) (*Job, error)
}

// jobSQL holds the dialect-specific statements on the jobs table.
type jobSQL struct {
	existing string
	insert   string
	due      string
	claim    string
	complete string
	fail     string
	requeue  string
	prune    string
	get      string
}

const jobColumns = `id, kind, run_at, payload, status, attempt, max_attempts, last_error, locked_at, dedupe_key, created_at, updated_at`

var (
	sqliteJobs = jobSQL{
		existing: `SELECT id FROM jobs WHERE dedupe_key = ? AND status IN ('queued', 'running') LIMIT 1`,
		insert:   `INSERT INTO jobs (id, kind, run_at, payload, status, attempt, max_attempts, last_error, dedupe_key, created_at, updated_at) VALUES (?, ?, ?, ?, 'queued', 0, ?, '', ?, ?, ?)`,
		due:      `SELECT id FROM jobs WHERE status = 'queued' AND run_at <= ? ORDER BY run_at ASC LIMIT ?`,
		claim:    `UPDATE jobs SET status = 'running', attempt = attempt + 1, locked_at = ?, updated_at = ? WHERE id = ? AND status = 'queued'`,
		complete: `UPDATE jobs SET status = 'done', locked_at = NULL, updated_at = ? WHERE id = ?`,
		fail: `UPDATE jobs SET last_error = ?, locked_at = NULL, updated_at = ?,
			status = CASE WHEN attempt >= max_attempts THEN 'failed' ELSE 'queued' END,
			run_at = CASE WHEN attempt >= max_attempts THEN run_at ELSE ? END
			WHERE id = ?`,
		requeue: `UPDATE jobs SET status = 'queued', locked_at = NULL, updated_at = ? WHERE status = 'running' AND locked_at < ?`,
		prune:   `DELETE FROM jobs WHERE status IN ('done', 'failed') AND updated_at < ?`,
		get:     `SELECT ` + jobColumns + ` FROM jobs WHERE id = ?`,
	}
	postgresJobs = jobSQL{
		existing: `SELECT id FROM jobs WHERE dedupe_key = $1 AND status IN ('queued', 'running') LIMIT 1`,
		insert:   `INSERT INTO jobs (id, kind, run_at, payload, status, attempt, max_attempts, last_error, dedupe_key, created_at, updated_at) VALUES ($1, $2, $3, $4, 'queued', 0, $5, '', $6, $7, $8)`,
		due:      `SELECT id FROM jobs WHERE status = 'queued' AND run_at <= $1 ORDER BY run_at ASC LIMIT $2 FOR UPDATE SKIP LOCKED`,
		claim:    `UPDATE jobs SET status = 'running', attempt = attempt + 1, locked_at = $1, updated_at = $2 WHERE id = $3 AND status = 'queued'`,
		complete: `UPDATE jobs SET status = 'done', locked_at = NULL, updated_at = $1 WHERE id = $2`,
		fail: `UPDATE jobs SET last_error = $1, locked_at = NULL, updated_at = $2,
			status = CASE WHEN attempt >= max_attempts THEN 'failed' ELSE 'queued' END,
			run_at = CASE WHEN attempt >= max_attempts THEN run_at ELSE $3 END
			WHERE id = $4`,
		requeue: `UPDATE jobs SET status = 'queued', locked_at = NULL, updated_at = $1 WHERE status = 'running' AND locked_at < $2`,
		prune:   `DELETE FROM jobs WHERE status IN ('done', 'failed') AND updated_at < $1`,
		get:     `SELECT ` + jobColumns + ` FROM jobs WHERE id = $1`,
	}
)

func (q jobSQL) enqueue(db *sql.DB, kind string, runAt time.Time, payload, dedupeKey string) (string, error) {
	if dedupeKey != "" {
		var existing string
		err := db.QueryRow(q.existing, dedupeKey).Scan(&existing)
		if err == nil {
			slog.Debug("store.EnqueueJob: dedupe hit", "kind", kind, "dedupeKey", dedupeKey, "id", existing)
			return existing, nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return "", fmt.Errorf("job dedupe check failed: %w", err)
		}
	}
	id := uuid.NewString()
	now := time.Now().UTC()
	if _, err := db.Exec(q.insert, id, kind, runAt.UTC(), payload, DefaultMaxAttempts, nullIfEmpty(dedupeKey), now, now); err != nil {
		return "", fmt.Errorf("enqueue job failed: %w", err)
	}
	slog.Debug("store.EnqueueJob: job queued", "id", id, "kind", kind, "runAt", runAt)
	return id, nil
}

func (q jobSQL) claimDue(db *sql.DB, now time.Time, limit int) ([]Job, error) {
	now = now.UTC()
	tx, err := db.Begin()
	if err != nil {
		return nil, fmt.Errorf("claim jobs begin failed: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.Query(q.due, now, limit)
	if err != nil {
		return nil, fmt.Errorf("claim jobs query failed: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("claim jobs scan failed: %w", err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("claim jobs iteration failed: %w", err)
	}

	var jobs []Job
	for _, id := range ids {
		res, err := tx.Exec(q.claim, now, now, id)
		if err != nil {
			return nil, fmt.Errorf("claim job %s failed: %w", id, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			continue
		}
		job, err := scanJob(tx.QueryRow(q.get, id))
		if err != nil {
			return nil, fmt.Errorf("reload claimed job %s failed: %w", id, err)
		}
		jobs = append(jobs, job)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("claim jobs commit failed: %w", err)
	}
	return jobs, nil
}

func (q jobSQL) completeJob(db *sql.DB, id string) error {
	if _, err := db.Exec(q.complete, time.Now().UTC(), id); err != nil {
		return fmt.Errorf("complete job failed: %w", err)
	}
	return nil
}

func (q jobSQL) failJob(db *sql.DB, id, errMsg string, nextRunAt time.Time) error {
	if _, err := db.Exec(q.fail, errMsg, time.Now().UTC(), nextRunAt.UTC(), id); err != nil {
		return fmt.Errorf("fail job failed: %w", err)
	}
	return nil
}

func (q jobSQL) requeueStale(db *sql.DB, staleBefore time.Time) (int, error) {
	return execCount(db, "requeue stale jobs", q.requeue, time.Now().UTC(), staleBefore.UTC())
}

func (q jobSQL) pruneBefore(db *sql.DB, before time.Time) (int, error) {
	return execCount(db, "prune jobs", q.prune, before.UTC())
}

func (q jobSQL) getJob(db *sql.DB, id string) (*Job, error) {
	job, err := scanJob(db.QueryRow(q.get, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get job failed: %w", err)
	}
	return &job, nil
}

func scanJob(row rowScanner) (Job, error) {
	var (
		j        Job
		status   string
		lockedAt sql.NullTime
		dedupe   sql.NullString
	)
	err := row.Scan(&j.ID, &j.Kind, &j.RunAt, &j.Payload, &status, &j.Attempt, &j.MaxAttempts,
		&j.LastError, &lockedAt, &dedupe, &j.CreatedAt, &j.UpdatedAt)
	if err != nil {
		return j, err
	}
	j.Status = JobStatus(status)
	if lockedAt.Valid {
		t := lockedAt.Time
		j.LockedAt = &t
	}
	j.DedupeKey = dedupe.String
	return j, nil
}

func execCount(db *sql.DB, what, query string, args ...any) (int, error) {
	res, err := db.Exec(query, args...)
	if err != nil {
		return 0, fmt.Errorf("%s failed: %w", what, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("%s rows affected: %w", what, err)
	}
	return int(n), nil
}

func nullIfEmpty(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

var (
	_ JobRepo = (*SQLiteStore)(nil)
	_ JobRepo = (*PostgresStore)(nil)
	_ JobRepo = (*InMemoryStore)(nil)
)

func (s *SQLiteStore) EnqueueJob(kind string, runAt time.Time, payload, dedupeKey string) (string, error) {
	return sqliteJobs.enqueue(s.db, kind, runAt, payload, dedupeKey)
}

func (s *SQLiteStore) ClaimDueJobs(now time.Time, limit int) ([]Job, error) {
	return sqliteJobs.claimDue(s.db, now, limit)
}

func (s *SQLiteStore) CompleteJob(id string) error { return sqliteJobs.completeJob(s.db, id) }

func (s *SQLiteStore) FailJob(id, errMsg string, nextRunAt time.Time) error {
	return sqliteJobs.failJob(s.db, id, errMsg, nextRunAt)
}

func (s *SQLiteStore) RequeueStaleRunningJobs(staleBefore time.Time) (int, error) {
	return sqliteJobs.requeueStale(s.db, staleBefore)
}

func (s *SQLiteStore) PruneJobs(before time.Time) (int, error) {
	return sqliteJobs.pruneBefore(s.db, before)
}

func (s *SQLiteStore) GetJob(id string) (*Job, error) { return sqliteJobs.getJob(s.db, id) }

func (s *PostgresStore) EnqueueJob(kind string, runAt time.Time, payload, dedupeKey string) (string, error) {
	return postgresJobs.enqueue(s.db, kind, runAt, payload, dedupeKey)
}

func (s *PostgresStore) ClaimDueJobs(now time.Time, limit int) ([]Job, error) {
	return postgresJobs.claimDue(s.db, now, limit)
}

func (s *PostgresStore) CompleteJob(id string) error { return postgresJobs.completeJob(s.db, id) }

func (s *PostgresStore) FailJob(id, errMsg string, nextRunAt time.Time) error {
	return postgresJobs.failJob(s.db, id, errMsg, nextRunAt)
}

func (s *PostgresStore) RequeueStaleRunningJobs(staleBefore time.Time) (int, error) {
	return postgresJobs.requeueStale(s.db, staleBefore)
}

func (s *PostgresStore) PruneJobs(before time.Time) (int, error) {
	return postgresJobs.pruneBefore(s.db, before)
}

func (s *PostgresStore) GetJob(id string) (*Job, error) { return postgresJobs.getJob(s.db, id) }
