package postgres

import (
	"context"
	"fmt"

	"github.com/kozaktomas/face-attendance/internal/database"
)

// AuditRepository appends audit events
type AuditRepository struct {
	pool *Pool
}

var _ database.AuditWriter = (*AuditRepository)(nil)

// NewAuditRepository creates a new PostgreSQL audit repository
func NewAuditRepository(pool *Pool) *AuditRepository {
	return &AuditRepository{pool: pool}
}

// WriteAudit stores one audit entry. Re-delivered entries are ignored.
func (r *AuditRepository) WriteAudit(ctx context.Context, entry *database.AuditEntry) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO audit_events (id, actor, action, target, session_id, group_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO NOTHING
	`,
		entry.ID,
		entry.Actor,
		entry.Action,
		entry.Target,
		entry.SessionID,
		entry.GroupID,
		entry.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("write audit: %w", err)
	}
	return nil
}
