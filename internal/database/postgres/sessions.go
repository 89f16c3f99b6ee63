package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/kozaktomas/face-attendance/internal/database"
)

const sessionColumns = `id, group_id, subject_id, owner_id, mode, status, start_time, expires_at, ended_at, join_code`

// SessionRepository provides PostgreSQL-backed session storage
type SessionRepository struct {
	pool *Pool
}

var _ database.SessionStore = (*SessionRepository)(nil)

// NewSessionRepository creates a new PostgreSQL session repository
func NewSessionRepository(pool *Pool) *SessionRepository {
	return &SessionRepository{pool: pool}
}

func scanSession(scanner rowScanner) (*database.Session, error) {
	var s database.Session
	var endedAt sql.NullTime
	err := scanner.Scan(
		&s.ID,
		&s.GroupID,
		&s.SubjectID,
		&s.OwnerID,
		&s.Mode,
		&s.Status,
		&s.StartTime,
		&s.ExpiresAt,
		&endedAt,
		&s.JoinCode,
	)
	if err != nil {
		return nil, err
	}
	if endedAt.Valid {
		t := endedAt.Time
		s.EndedAt = &t
	}
	return &s, nil
}

func scanSessions(rows *sql.Rows) ([]database.Session, error) {
	var sessions []database.Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sessions = append(sessions, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}
	return sessions, nil
}

// CreateSession ends overdue active sessions of the group and inserts s in one
// transaction. The partial unique index on active sessions turns a concurrent
// second insert into a no-op, reported as ErrConflict.
func (r *SessionRepository) CreateSession(ctx context.Context, s *database.Session, now time.Time) ([]database.Session, error) {
	var expired []database.Session
	err := r.pool.InTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, `
			UPDATE sessions SET status = 'ended', ended_at = $2
			WHERE group_id = $1 AND status = 'active' AND expires_at <= $2
			RETURNING `+sessionColumns,
			s.GroupID, now,
		)
		if err != nil {
			return fmt.Errorf("end overdue sessions: %w", err)
		}
		expired, err = scanSessions(rows)
		rows.Close()
		if err != nil {
			return err
		}

		result, err := tx.ExecContext(ctx, `
			INSERT INTO sessions (`+sessionColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			ON CONFLICT DO NOTHING
		`,
			s.ID,
			s.GroupID,
			s.SubjectID,
			s.OwnerID,
			s.Mode,
			string(s.Status),
			s.StartTime,
			s.ExpiresAt,
			s.EndedAt,
			s.JoinCode,
		)
		if err != nil {
			if pqCode(err) == pgUniqueViolation {
				return database.ErrConflict
			}
			return fmt.Errorf("insert session: %w", err)
		}
		inserted, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("getting rows affected: %w", err)
		}
		if inserted == 0 {
			return database.ErrConflict
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return expired, nil
}

// GetSession retrieves a session by ID
func (r *SessionRepository) GetSession(ctx context.Context, sessionID string) (*database.Session, error) {
	s, err := scanSession(r.pool.QueryRow(ctx,
		"SELECT "+sessionColumns+" FROM sessions WHERE id = $1", sessionID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, database.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	return s, nil
}

// GetActiveSession retrieves the group's active session, overdue or not
func (r *SessionRepository) GetActiveSession(ctx context.Context, groupID string) (*database.Session, error) {
	s, err := scanSession(r.pool.QueryRow(ctx,
		"SELECT "+sessionColumns+" FROM sessions WHERE group_id = $1 AND status = 'active'", groupID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, database.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get active session: %w", err)
	}
	return s, nil
}

// EndSession ends an active session. Ending an ended session reports false.
func (r *SessionRepository) EndSession(ctx context.Context, sessionID string, endedAt time.Time) (bool, error) {
	result, err := r.pool.Exec(ctx,
		"UPDATE sessions SET status = 'ended', ended_at = $2 WHERE id = $1 AND status = 'active'",
		sessionID, endedAt)
	if err != nil {
		return false, fmt.Errorf("end session: %w", err)
	}
	count, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("getting rows affected: %w", err)
	}
	if count > 0 {
		return true, nil
	}

	var exists bool
	err = r.pool.QueryRow(ctx, "SELECT EXISTS(SELECT 1 FROM sessions WHERE id = $1)", sessionID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check session exists: %w", err)
	}
	if !exists {
		return false, database.ErrNotFound
	}
	return false, nil
}

// ExpireOverdue ends all active sessions past their expiry and returns them
func (r *SessionRepository) ExpireOverdue(ctx context.Context, now time.Time) ([]database.Session, error) {
	rows, err := r.pool.Query(ctx, `
		UPDATE sessions SET status = 'ended', ended_at = $1
		WHERE status = 'active' AND expires_at <= $1
		RETURNING `+sessionColumns,
		now,
	)
	if err != nil {
		return nil, fmt.Errorf("expire overdue sessions: %w", err)
	}
	defer rows.Close()
	return scanSessions(rows)
}

// ListSessionsByGroup returns a group's sessions, newest first
func (r *SessionRepository) ListSessionsByGroup(ctx context.Context, groupID string) ([]database.Session, error) {
	rows, err := r.pool.Query(ctx,
		"SELECT "+sessionColumns+" FROM sessions WHERE group_id = $1 ORDER BY start_time DESC", groupID)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()
	return scanSessions(rows)
}
