package repositories

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pbxops/ns-registry/src/models"
)

const credentialColumns = `id, api_server, domain, "user", refresh_token, COALESCE(access_token, ''),
	expires_at, last_refresh_at, created_at, updated_at,
	maintenance_status, last_maintenance_attempt, COALESCE(maintenance_message, '')`

// PostgresCredentialRepository implements CredentialRepository on pgx
type PostgresCredentialRepository struct {
	pool *pgxpool.Pool
}

// NewCredentialRepository creates a Postgres-backed credential repository
func NewCredentialRepository(pool *pgxpool.Pool) *PostgresCredentialRepository {
	return &PostgresCredentialRepository{pool: pool}
}

func scanCredential(row pgx.Row) (*models.OAuthCredential, error) {
	var c models.OAuthCredential
	err := row.Scan(&c.ID, &c.APIServer, &c.Domain, &c.User, &c.RefreshTokenEnc, &c.AccessTokenEnc,
		&c.ExpiresAt, &c.LastRefreshAt, &c.CreatedAt, &c.UpdatedAt,
		&c.MaintenanceStatus, &c.LastMaintenanceAttempt, &c.MaintenanceMessage)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *PostgresCredentialRepository) GetByKey(ctx context.Context, key models.CredentialKey) (*models.OAuthCredential, error) {
	cred, err := scanCredential(r.pool.QueryRow(ctx,
		`SELECT `+credentialColumns+` FROM oauth_credentials
		 WHERE api_server = $1 AND domain = $2 AND "user" = $3`,
		key.APIServer, key.Domain, key.User))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get credential: %w", err)
	}
	return cred, nil
}

func (r *PostgresCredentialRepository) ListMaintainable(ctx context.Context) ([]*models.OAuthCredential, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+credentialColumns+` FROM oauth_credentials WHERE maintenance_status != $1 ORDER BY id`,
		models.MaintenanceStatusFailedPermanent)
	if err != nil {
		return nil, fmt.Errorf("failed to query credentials: %w", err)
	}
	defer rows.Close()

	var creds []*models.OAuthCredential
	for rows.Next() {
		cred, err := scanCredential(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan credential: %w", err)
		}
		creds = append(creds, cred)
	}
	return creds, rows.Err()
}

func (r *PostgresCredentialRepository) Upsert(ctx context.Context, cred *models.OAuthCredential) error {
	row := r.pool.QueryRow(ctx,
		`INSERT INTO oauth_credentials
			(api_server, domain, "user", refresh_token, access_token, expires_at, last_refresh_at, maintenance_status)
		 VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6, $7, $8)
		 ON CONFLICT ON CONSTRAINT oauth_credentials_identity_uc DO UPDATE SET
			refresh_token = $4,
			access_token = COALESCE(NULLIF($5, ''), oauth_credentials.access_token),
			expires_at = COALESCE($6, oauth_credentials.expires_at),
			last_refresh_at = $7,
			maintenance_status = $8,
			maintenance_message = NULL,
			updated_at = NOW()
		 RETURNING `+credentialColumns,
		cred.APIServer, cred.Domain, cred.User, cred.RefreshTokenEnc, cred.AccessTokenEnc,
		cred.ExpiresAt, cred.LastRefreshAt, models.MaintenanceStatusSuccess)

	saved, err := scanCredential(row)
	if err != nil {
		return fmt.Errorf("failed to upsert credential: %w", err)
	}
	*cred = *saved
	return nil
}

func (r *PostgresCredentialRepository) Update(ctx context.Context, cred *models.OAuthCredential) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE oauth_credentials SET
			refresh_token = $2,
			access_token = NULLIF($3, ''),
			expires_at = $4,
			last_refresh_at = $5,
			maintenance_status = $6,
			last_maintenance_attempt = $7,
			maintenance_message = NULLIF($8, ''),
			updated_at = NOW()
		 WHERE id = $1`,
		cred.ID, cred.RefreshTokenEnc, cred.AccessTokenEnc, cred.ExpiresAt, cred.LastRefreshAt,
		cred.MaintenanceStatus, cred.LastMaintenanceAttempt, cred.MaintenanceMessage)
	if err != nil {
		return fmt.Errorf("failed to update credential: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("credential %d not found", cred.ID)
	}
	return nil
}

var _ CredentialRepository = (*PostgresCredentialRepository)(nil)
