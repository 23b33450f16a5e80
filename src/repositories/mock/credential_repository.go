package mock

import (
	"context"

	"github.com/pbxops/ns-registry/src/models"
	"github.com/pbxops/ns-registry/src/repositories"
)

// CredentialRepository is a mock implementation of repositories.CredentialRepository
type CredentialRepository struct {
	// Function stubs that can be overridden in tests
	GetByKeyFunc         func(ctx context.Context, key models.CredentialKey) (*models.OAuthCredential, error)
	ListMaintainableFunc func(ctx context.Context) ([]*models.OAuthCredential, error)
	UpsertFunc           func(ctx context.Context, cred *models.OAuthCredential) error
	UpdateFunc           func(ctx context.Context, cred *models.OAuthCredential) error

	// Call tracking
	Calls map[string][]interface{}
}

// NewCredentialRepository creates a new mock credential repository
func NewCredentialRepository() *CredentialRepository {
	return &CredentialRepository{
		Calls: make(map[string][]interface{}),
	}
}

func (m *CredentialRepository) GetByKey(ctx context.Context, key models.CredentialKey) (*models.OAuthCredential, error) {
	m.Calls["GetByKey"] = append(m.Calls["GetByKey"], key)
	if m.GetByKeyFunc != nil {
		return m.GetByKeyFunc(ctx, key)
	}
	return nil, nil
}

func (m *CredentialRepository) ListMaintainable(ctx context.Context) ([]*models.OAuthCredential, error) {
	m.Calls["ListMaintainable"] = append(m.Calls["ListMaintainable"], nil)
	if m.ListMaintainableFunc != nil {
		return m.ListMaintainableFunc(ctx)
	}
	return nil, nil
}

func (m *CredentialRepository) Upsert(ctx context.Context, cred *models.OAuthCredential) error {
	m.Calls["Upsert"] = append(m.Calls["Upsert"], cred)
	if m.UpsertFunc != nil {
		return m.UpsertFunc(ctx, cred)
	}
	return nil
}

func (m *CredentialRepository) Update(ctx context.Context, cred *models.OAuthCredential) error {
	m.Calls["Update"] = append(m.Calls["Update"], cred)
	if m.UpdateFunc != nil {
		return m.UpdateFunc(ctx, cred)
	}
	return nil
}

// Ensure CredentialRepository implements the interface
var _ repositories.CredentialRepository = (*CredentialRepository)(nil)
