package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pbxops/ns-registry/src/models"
)

const subscriptionColumns = `id, api_server, domain, "user", subscription_model, post_url,
	COALESCE(description, ''), status, expires_at, created_at, updated_at,
	maintenance_status, last_maintenance_attempt, COALESCE(maintenance_message, '')`

// PostgresSubscriptionRepository implements SubscriptionRepository on pgx
type PostgresSubscriptionRepository struct {
	pool *pgxpool.Pool
}

// NewSubscriptionRepository creates a Postgres-backed subscription repository
func NewSubscriptionRepository(pool *pgxpool.Pool) *PostgresSubscriptionRepository {
	return &PostgresSubscriptionRepository{pool: pool}
}

func scanSubscription(row pgx.Row) (*models.Subscription, error) {
	var s models.Subscription
	err := row.Scan(&s.ID, &s.APIServer, &s.Domain, &s.User, &s.SubscriptionModel, &s.PostURL,
		&s.Description, &s.Status, &s.ExpiresAt, &s.CreatedAt, &s.UpdatedAt,
		&s.MaintenanceStatus, &s.LastMaintenanceAttempt, &s.MaintenanceMessage)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *PostgresSubscriptionRepository) GetByID(ctx context.Context, id int64) (*models.Subscription, error) {
	sub, err := scanSubscription(r.pool.QueryRow(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions WHERE id = $1`, id))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get subscription: %w", err)
	}
	return sub, nil
}

func (r *PostgresSubscriptionRepository) list(ctx context.Context, query string, args ...interface{}) ([]*models.Subscription, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query subscriptions: %w", err)
	}
	defer rows.Close()

	var subs []*models.Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan subscription: %w", err)
		}
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}

func (r *PostgresSubscriptionRepository) ListActive(ctx context.Context) ([]*models.Subscription, error) {
	return r.list(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions WHERE status = $1 ORDER BY id`,
		models.SubscriptionStatusActive)
}

func (r *PostgresSubscriptionRepository) ListForOwner(ctx context.Context, apiServer, domain, user string) ([]*models.Subscription, error) {
	if user != "" {
		return r.list(ctx,
			`SELECT `+subscriptionColumns+` FROM subscriptions
			 WHERE api_server = $1 AND domain = $2 AND "user" = $3 AND status != $4 ORDER BY id`,
			apiServer, domain, user, models.SubscriptionStatusArchived)
	}
	return r.list(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions
		 WHERE api_server = $1 AND domain = $2 AND status != $3 ORDER BY id`,
		apiServer, domain, models.SubscriptionStatusArchived)
}

func (r *PostgresSubscriptionRepository) CreateOrUpdate(ctx context.Context, sub *models.Subscription) error {
	row := r.pool.QueryRow(ctx,
		`INSERT INTO subscriptions
			(api_server, domain, "user", subscription_model, post_url, description, status, expires_at, maintenance_status)
		 VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), $7, $8, $9)
		 ON CONFLICT ON CONSTRAINT subscriptions_identity_uc DO UPDATE SET
			description = NULLIF($6, ''),
			expires_at = $8,
			status = $7,
			maintenance_status = $9,
			maintenance_message = NULL,
			updated_at = NOW()
		 RETURNING `+subscriptionColumns,
		sub.APIServer, sub.Domain, sub.User, sub.SubscriptionModel, sub.PostURL, sub.Description,
		models.SubscriptionStatusActive, sub.ExpiresAt, models.MaintenanceStatusPending)

	saved, err := scanSubscription(row)
	if err != nil {
		return fmt.Errorf("failed to upsert subscription: %w", err)
	}
	*sub = *saved
	return nil
}

func (r *PostgresSubscriptionRepository) Update(ctx context.Context, sub *models.Subscription) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE subscriptions SET
			post_url = $2,
			description = NULLIF($3, ''),
			status = $4,
			expires_at = $5,
			maintenance_status = $6,
			last_maintenance_attempt = $7,
			maintenance_message = NULLIF($8, ''),
			updated_at = NOW()
		 WHERE id = $1`,
		sub.ID, sub.PostURL, sub.Description, sub.Status, sub.ExpiresAt,
		sub.MaintenanceStatus, sub.LastMaintenanceAttempt, sub.MaintenanceMessage)
	if err != nil {
		return fmt.Errorf("failed to update subscription: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("subscription %d not found", sub.ID)
	}
	return nil
}

func (r *PostgresSubscriptionRepository) Archive(ctx context.Context, id int64) (*models.Subscription, error) {
	row := r.pool.QueryRow(ctx,
		`UPDATE subscriptions SET status = $2, updated_at = NOW() WHERE id = $1
		 RETURNING `+subscriptionColumns,
		id, models.SubscriptionStatusArchived)

	sub, err := scanSubscription(row)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to archive subscription: %w", err)
	}
	return sub, nil
}

func (r *PostgresSubscriptionRepository) ArchiveAllForCredential(ctx context.Context, key models.CredentialKey, message string, now time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx,
		`UPDATE subscriptions SET
			status = $5,
			maintenance_status = $6,
			maintenance_message = $7,
			last_maintenance_attempt = $8,
			updated_at = NOW()
		 WHERE api_server = $1 AND domain = $2 AND "user" = $3 AND status = $4`,
		key.APIServer, key.Domain, key.User, models.SubscriptionStatusActive,
		models.SubscriptionStatusArchived, models.MaintenanceStatusArchived, message, now)
	if err != nil {
		return 0, fmt.Errorf("failed to archive subscriptions for credential: %w", err)
	}
	return tag.RowsAffected(), nil
}

var _ SubscriptionRepository = (*PostgresSubscriptionRepository)(nil)
