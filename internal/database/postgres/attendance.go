package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/kozaktomas/face-attendance/internal/database"
)

const attendanceColumns = `id, identity_id, session_id, recorded_at, present, source`

// AttendanceRepository provides PostgreSQL-backed attendance storage
type AttendanceRepository struct {
	pool *Pool
}

var _ database.AttendanceStore = (*AttendanceRepository)(nil)

// NewAttendanceRepository creates a new PostgreSQL attendance repository
func NewAttendanceRepository(pool *Pool) *AttendanceRepository {
	return &AttendanceRepository{pool: pool}
}

func scanAttendance(scanner rowScanner) (*database.AttendanceRecord, error) {
	var rec database.AttendanceRecord
	err := scanner.Scan(
		&rec.ID,
		&rec.IdentityID,
		&rec.SessionID,
		&rec.Timestamp,
		&rec.Present,
		&rec.Source,
	)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// InsertAttendanceIfAbsent relies on the (identity_id, session_id) unique
// constraint: a losing concurrent insert becomes a no-op and the winner's row
// is returned instead. The row is only produced while the session is active
// and unexpired at rec.Timestamp, so a mark racing End or expiry cannot land.
func (r *AttendanceRepository) InsertAttendanceIfAbsent(ctx context.Context, rec *database.AttendanceRecord) (*database.AttendanceRecord, bool, error) {
	result, err := r.pool.Exec(ctx, `
		INSERT INTO attendance_records (`+attendanceColumns+`)
		SELECT $1::text, $2::text, $3::text, $4::timestamptz, $5::boolean, $6::text
		WHERE EXISTS (
			SELECT 1 FROM sessions
			WHERE id = $3 AND status = 'active' AND expires_at > $4
		)
		ON CONFLICT (identity_id, session_id) DO NOTHING
	`,
		rec.ID,
		rec.IdentityID,
		rec.SessionID,
		rec.Timestamp,
		rec.Present,
		rec.Source,
	)
	if err != nil {
		if pqCode(err) == pgForeignKeyViolation {
			return nil, false, database.ErrNotFound
		}
		return nil, false, fmt.Errorf("insert attendance: %w", err)
	}
	inserted, err := result.RowsAffected()
	if err != nil {
		return nil, false, fmt.Errorf("getting rows affected: %w", err)
	}
	if inserted > 0 {
		out := *rec
		return &out, true, nil
	}

	existing, err := scanAttendance(r.pool.QueryRow(ctx,
		"SELECT "+attendanceColumns+" FROM attendance_records WHERE identity_id = $1 AND session_id = $2",
		rec.IdentityID, rec.SessionID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, database.ErrInactive
	}
	if err != nil {
		return nil, false, fmt.Errorf("load existing attendance: %w", err)
	}
	return existing, false, nil
}

// ListAttendanceByIdentity returns an identity's records, oldest first
func (r *AttendanceRepository) ListAttendanceByIdentity(ctx context.Context, identityID string) ([]database.AttendanceRecord, error) {
	rows, err := r.pool.Query(ctx,
		"SELECT "+attendanceColumns+" FROM attendance_records WHERE identity_id = $1 ORDER BY recorded_at, id",
		identityID)
	if err != nil {
		return nil, fmt.Errorf("list attendance by identity: %w", err)
	}
	defer rows.Close()
	return scanAttendanceRows(rows)
}

// ListAttendanceBySession returns a session's records, oldest first
func (r *AttendanceRepository) ListAttendanceBySession(ctx context.Context, sessionID string) ([]database.AttendanceRecord, error) {
	rows, err := r.pool.Query(ctx,
		"SELECT "+attendanceColumns+" FROM attendance_records WHERE session_id = $1 ORDER BY recorded_at, id",
		sessionID)
	if err != nil {
		return nil, fmt.Errorf("list attendance by session: %w", err)
	}
	defer rows.Close()
	return scanAttendanceRows(rows)
}

func scanAttendanceRows(rows *sql.Rows) ([]database.AttendanceRecord, error) {
	var records []database.AttendanceRecord
	for rows.Next() {
		rec, err := scanAttendance(rows)
		if err != nil {
			return nil, fmt.Errorf("scan attendance: %w", err)
		}
		records = append(records, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate attendance: %w", err)
	}
	return records, nil
}
