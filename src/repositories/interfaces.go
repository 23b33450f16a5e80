package repositories

import (
	"context"
	"time"

	"github.com/pbxops/ns-registry/src/models"
)

// SubscriptionRepository defines data access for subscription records.
// Lookups that miss return (nil, nil); errors are reserved for failures.
type SubscriptionRepository interface {
	GetByID(ctx context.Context, id int64) (*models.Subscription, error)
	ListActive(ctx context.Context) ([]*models.Subscription, error)
	// ListForOwner returns non-archived subscriptions for a domain,
	// optionally narrowed to one user (empty user matches all).
	ListForOwner(ctx context.Context, apiServer, domain, user string) ([]*models.Subscription, error)

	// CreateOrUpdate inserts the subscription or, when the identity
	// (server, domain, user, model, post_url) already exists, revives the
	// existing row: status active, maintenance pending. The record's ID and
	// timestamps are populated on return.
	CreateOrUpdate(ctx context.Context, sub *models.Subscription) error
	Update(ctx context.Context, sub *models.Subscription) error
	Archive(ctx context.Context, id int64) (*models.Subscription, error)

	// ArchiveAllForCredential archives every active subscription under the
	// credential key in a single statement and returns the affected count.
	ArchiveAllForCredential(ctx context.Context, key models.CredentialKey, message string, now time.Time) (int64, error)
}

// CredentialRepository defines data access for OAuth credential records
type CredentialRepository interface {
	GetByKey(ctx context.Context, key models.CredentialKey) (*models.OAuthCredential, error)
	// ListMaintainable returns every credential not permanently failed.
	ListMaintainable(ctx context.Context) ([]*models.OAuthCredential, error)
	// Upsert inserts or, on a (server, domain, user) conflict, updates the
	// token fields and marks the credential maintainable again.
	Upsert(ctx context.Context, cred *models.OAuthCredential) error
	Update(ctx context.Context, cred *models.OAuthCredential) error
}

// AuditLogRepository appends immutable audit entries
type AuditLogRepository interface {
	Create(ctx context.Context, entry *models.AuditLog) error
}
