package repositories

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sitetrade/backend/internal/errs"
	"github.com/sitetrade/backend/internal/models"
)

// AuditRepo is the append-only event log. Entries must carry enough data
// to reconstruct a disputed transaction without the live database state.
type AuditRepo struct {
	pool *pgxpool.Pool
}

func NewAuditRepo(pool *pgxpool.Pool) *AuditRepo {
	return &AuditRepo{pool: pool}
}

func (r *AuditRepo) Log(ctx context.Context, entry models.AuditLog) error {
	if entry.Level == "" {
		entry.Level = models.AuditInfo
	}
	meta, err := json.Marshal(entry.Meta)
	if err != nil {
		meta = []byte(`{"marshal_error":true}`)
	}
	_, err = r.pool.Exec(ctx, `
		INSERT INTO audit_log (actor_user_id, actor_type, level, action, entity_type, entity_id, meta)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, entry.ActorUserID, entry.ActorType, entry.Level, entry.Action, entry.EntityType, entry.EntityID, meta)
	if err != nil {
		return fmt.Errorf("%w: audit log: %v", errs.ErrPersistence, err)
	}
	return nil
}

func (r *AuditRepo) GetByEntity(ctx context.Context, entityType string, entityID uuid.UUID, limit, offset int) ([]models.AuditLog, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx, `
		SELECT id, actor_user_id, actor_type, level, action, entity_type, entity_id, meta, created_at
		FROM audit_log WHERE entity_type = $1 AND entity_id = $2
		ORDER BY created_at DESC LIMIT $3 OFFSET $4
	`, entityType, entityID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("%w: audit query: %v", errs.ErrPersistence, err)
	}
	defer rows.Close()

	var logs []models.AuditLog
	for rows.Next() {
		var l models.AuditLog
		if err := rows.Scan(&l.ID, &l.ActorUserID, &l.ActorType, &l.Level, &l.Action, &l.EntityType, &l.EntityID, &l.Meta, &l.CreatedAt); err != nil {
			return nil, fmt.Errorf("%w: audit scan: %v", errs.ErrPersistence, err)
		}
		logs = append(logs, l)
	}
	return logs, nil
}
