package repositories

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pbxops/ns-registry/src/models"
)

// PostgresAuditLogRepository implements AuditLogRepository on pgx
type PostgresAuditLogRepository struct {
	pool *pgxpool.Pool
}

// NewAuditLogRepository creates a Postgres-backed audit log repository
func NewAuditLogRepository(pool *pgxpool.Pool) *PostgresAuditLogRepository {
	return &PostgresAuditLogRepository{pool: pool}
}

func (r *PostgresAuditLogRepository) Create(ctx context.Context, entry *models.AuditLog) error {
	err := r.pool.QueryRow(ctx,
		`INSERT INTO audit_logs (api_server, domain, "user", action, resource_type, resource_id, description, details)
		 VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6, NULLIF($7, ''), NULLIF($8, ''))
		 RETURNING id, created_at`,
		entry.APIServer, entry.Domain, entry.User, entry.Action, entry.ResourceType,
		entry.ResourceID, entry.Description, entry.Details,
	).Scan(&entry.ID, &entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create audit log: %w", err)
	}
	return nil
}

var _ AuditLogRepository = (*PostgresAuditLogRepository)(nil)
