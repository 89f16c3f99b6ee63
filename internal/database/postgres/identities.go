package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/pgvector/pgvector-go"

	"github.com/kozaktomas/face-attendance/internal/database"
	"github.com/kozaktomas/face-attendance/internal/facematch"
)

// IdentityRepository provides PostgreSQL-backed identity and descriptor storage.
type IdentityRepository struct {
	pool *Pool
}

var _ database.IdentityWriter = (*IdentityRepository)(nil)

// NewIdentityRepository creates a new PostgreSQL identity repository.
func NewIdentityRepository(pool *Pool) *IdentityRepository {
	return &IdentityRepository{pool: pool}
}

// GetIdentity retrieves an identity with its descriptors in capture order.
// Both reads share one snapshot, so a concurrent ReplaceDescriptors is seen
// either entirely or not at all.
func (r *IdentityRepository) GetIdentity(ctx context.Context, identityID string) (*database.Identity, error) {
	query := `
		SELECT id, group_id, status, registered_at, updated_at
		FROM identities
		WHERE id = $1
	`

	var identity database.Identity
	err := r.pool.InReadTx(ctx, func(tx *sql.Tx) error {
		var registeredAt sql.NullTime
		err := tx.QueryRowContext(ctx, query, identityID).Scan(
			&identity.ID,
			&identity.GroupID,
			&identity.Status,
			&registeredAt,
			&identity.UpdatedAt,
		)
		if errors.Is(err, sql.ErrNoRows) {
			return database.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("get identity: %w", err)
		}
		if registeredAt.Valid {
			identity.RegisteredAt = registeredAt.Time
		}

		rows, err := tx.QueryContext(ctx,
			"SELECT embedding FROM descriptors WHERE identity_id = $1 ORDER BY idx", identityID)
		if err != nil {
			return fmt.Errorf("query descriptors: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			var vec pgvector.Vector
			if err := rows.Scan(&vec); err != nil {
				return fmt.Errorf("scan descriptor: %w", err)
			}
			identity.Descriptors = append(identity.Descriptors, facematch.Vector(vec.Slice()))
		}
		if err := rows.Err(); err != nil {
			return fmt.Errorf("iterate descriptors: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &identity, nil
}

// GroupDescriptors loads every registered identity's descriptors for a group.
func (r *IdentityRepository) GroupDescriptors(ctx context.Context, groupID string) (map[string][]facematch.Vector, error) {
	query := `
		SELECT d.identity_id, d.embedding
		FROM descriptors d
		JOIN identities i ON i.id = d.identity_id
		WHERE i.group_id = $1 AND i.status = 'registered'
		ORDER BY d.identity_id, d.idx
	`

	rows, err := r.pool.Query(ctx, query, groupID)
	if err != nil {
		return nil, fmt.Errorf("query group descriptors: %w", err)
	}
	defer rows.Close()

	out := make(map[string][]facematch.Vector)
	for rows.Next() {
		var identityID string
		var vec pgvector.Vector
		if err := rows.Scan(&identityID, &vec); err != nil {
			return nil, fmt.Errorf("scan group descriptor: %w", err)
		}
		out[identityID] = append(out[identityID], facematch.Vector(vec.Slice()))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate group descriptors: %w", err)
	}
	return out, nil
}

// CountIdentities returns the number of identities in a group.
func (r *IdentityRepository) CountIdentities(ctx context.Context, groupID string) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM identities WHERE group_id = $1", groupID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count identities: %w", err)
	}
	return count, nil
}

// ReplaceDescriptors upserts the identity row and swaps its descriptor set in
// one transaction. The first registration time is preserved.
func (r *IdentityRepository) ReplaceDescriptors(ctx context.Context, identity *database.Identity) error {
	var registeredAt sql.NullTime
	err := r.pool.InTx(ctx, func(tx *sql.Tx) error {
		err := tx.QueryRowContext(ctx, `
			INSERT INTO identities (id, group_id, status, registered_at, updated_at)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (id) DO UPDATE SET
				group_id = EXCLUDED.group_id,
				status = EXCLUDED.status,
				registered_at = COALESCE(identities.registered_at, EXCLUDED.registered_at),
				updated_at = EXCLUDED.updated_at
			RETURNING registered_at
		`,
			identity.ID,
			identity.GroupID,
			string(identity.Status),
			identity.RegisteredAt,
			identity.UpdatedAt,
		).Scan(&registeredAt)
		if err != nil {
			return fmt.Errorf("upsert identity: %w", err)
		}

		if _, err := tx.ExecContext(ctx, "DELETE FROM descriptors WHERE identity_id = $1", identity.ID); err != nil {
			return fmt.Errorf("delete existing descriptors: %w", err)
		}

		for i, v := range identity.Descriptors {
			_, err := tx.ExecContext(ctx,
				"INSERT INTO descriptors (identity_id, idx, embedding) VALUES ($1, $2, $3::vector)",
				identity.ID, i, pgvector.NewVector([]float32(v)),
			)
			if err != nil {
				return fmt.Errorf("insert descriptor %d: %w", i, err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	if registeredAt.Valid {
		identity.RegisteredAt = registeredAt.Time
	}
	return nil
}
