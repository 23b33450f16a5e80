package mock

import (
	"context"
	"time"

	"github.com/pbxops/ns-registry/src/models"
	"github.com/pbxops/ns-registry/src/repositories"
)

// SubscriptionRepository is a mock implementation of repositories.SubscriptionRepository
type SubscriptionRepository struct {
	// Function stubs that can be overridden in tests
	GetByIDFunc                 func(ctx context.Context, id int64) (*models.Subscription, error)
	ListActiveFunc              func(ctx context.Context) ([]*models.Subscription, error)
	ListForOwnerFunc            func(ctx context.Context, apiServer, domain, user string) ([]*models.Subscription, error)
	CreateOrUpdateFunc          func(ctx context.Context, sub *models.Subscription) error
	UpdateFunc                  func(ctx context.Context, sub *models.Subscription) error
	ArchiveFunc                 func(ctx context.Context, id int64) (*models.Subscription, error)
	ArchiveAllForCredentialFunc func(ctx context.Context, key models.CredentialKey, message string, now time.Time) (int64, error)

	// Call tracking
	Calls map[string][]interface{}
}

// NewSubscriptionRepository creates a new mock subscription repository
func NewSubscriptionRepository() *SubscriptionRepository {
	return &SubscriptionRepository{
		Calls: make(map[string][]interface{}),
	}
}

func (m *SubscriptionRepository) GetByID(ctx context.Context, id int64) (*models.Subscription, error) {
	m.Calls["GetByID"] = append(m.Calls["GetByID"], id)
	if m.GetByIDFunc != nil {
		return m.GetByIDFunc(ctx, id)
	}
	return nil, nil
}

func (m *SubscriptionRepository) ListActive(ctx context.Context) ([]*models.Subscription, error) {
	m.Calls["ListActive"] = append(m.Calls["ListActive"], nil)
	if m.ListActiveFunc != nil {
		return m.ListActiveFunc(ctx)
	}
	return nil, nil
}

func (m *SubscriptionRepository) ListForOwner(ctx context.Context, apiServer, domain, user string) ([]*models.Subscription, error) {
	m.Calls["ListForOwner"] = append(m.Calls["ListForOwner"], []interface{}{apiServer, domain, user})
	if m.ListForOwnerFunc != nil {
		return m.ListForOwnerFunc(ctx, apiServer, domain, user)
	}
	return nil, nil
}

func (m *SubscriptionRepository) CreateOrUpdate(ctx context.Context, sub *models.Subscription) error {
	m.Calls["CreateOrUpdate"] = append(m.Calls["CreateOrUpdate"], sub)
	if m.CreateOrUpdateFunc != nil {
		return m.CreateOrUpdateFunc(ctx, sub)
	}
	return nil
}

func (m *SubscriptionRepository) Update(ctx context.Context, sub *models.Subscription) error {
	m.Calls["Update"] = append(m.Calls["Update"], sub)
	if m.UpdateFunc != nil {
		return m.UpdateFunc(ctx, sub)
	}
	return nil
}

func (m *SubscriptionRepository) Archive(ctx context.Context, id int64) (*models.Subscription, error) {
	m.Calls["Archive"] = append(m.Calls["Archive"], id)
	if m.ArchiveFunc != nil {
		return m.ArchiveFunc(ctx, id)
	}
	return nil, nil
}

func (m *SubscriptionRepository) ArchiveAllForCredential(ctx context.Context, key models.CredentialKey, message string, now time.Time) (int64, error) {
	m.Calls["ArchiveAllForCredential"] = append(m.Calls["ArchiveAllForCredential"], []interface{}{key, message})
	if m.ArchiveAllForCredentialFunc != nil {
		return m.ArchiveAllForCredentialFunc(ctx, key, message, now)
	}
	return 0, nil
}

// Ensure SubscriptionRepository implements the interface
var _ repositories.SubscriptionRepository = (*SubscriptionRepository)(nil)
