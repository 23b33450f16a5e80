package mock

import (
	"context"

	"github.com/pbxops/ns-registry/src/models"
	"github.com/pbxops/ns-registry/src/repositories"
)

// AuditLogRepository is a mock implementation of repositories.AuditLogRepository
type AuditLogRepository struct {
	CreateFunc func(ctx context.Context, entry *models.AuditLog) error

	// Entries records every audit entry passed to Create
	Entries []*models.AuditLog
}

// NewAuditLogRepository creates a new mock audit log repository
func NewAuditLogRepository() *AuditLogRepository {
	return &AuditLogRepository{}
}

func (m *AuditLogRepository) Create(ctx context.Context, entry *models.AuditLog) error {
	m.Entries = append(m.Entries, entry)
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, entry)
	}
	return nil
}

// ByAction returns recorded entries matching the given action
func (m *AuditLogRepository) ByAction(action models.AuditAction) []*models.AuditLog {
	var out []*models.AuditLog
	for _, e := range m.Entries {
		if e.Action == action {
			out = append(out, e)
		}
	}
	return out
}

// Ensure AuditLogRepository implements the interface
var _ repositories.AuditLogRepository = (*AuditLogRepository)(nil)
