package models

import "time"

// Subscription is a registered webhook target on the remote PBX for a given
// user/domain/event-model. Records are never hard-deleted; archiving is the
// terminal state and revival happens only through re-creation.
type Subscription struct {
	ID                int64              `json:"id"`
	APIServer         string             `json:"api_server"`
	Domain            string             `json:"domain"`
	User              string             `json:"user"`
	SubscriptionModel string             `json:"subscription_model"`
	PostURL           string             `json:"post_url"`
	Description       string             `json:"description,omitempty"`
	Status            SubscriptionStatus `json:"status"`
	ExpiresAt         *time.Time         `json:"expires_at,omitempty"`
	CreatedAt         time.Time          `json:"created_at"`
	UpdatedAt         *time.Time         `json:"updated_at,omitempty"`

	MaintenanceStatus      MaintenanceStatus `json:"maintenance_status"`
	LastMaintenanceAttempt *time.Time        `json:"last_maintenance_attempt,omitempty"`
	MaintenanceMessage     string            `json:"maintenance_message,omitempty"`
}

// CredentialKey returns the (server, domain, user) triple that ties this
// subscription to its owning OAuth credential.
func (s *Subscription) CredentialKey() CredentialKey {
	return CredentialKey{APIServer: s.APIServer, Domain: s.Domain, User: s.User}
}

// SubscriptionPatch lists the settable fields of a partial update. Only
// non-nil fields are applied.
type SubscriptionPatch struct {
	PostURL     *string    `json:"post_url,omitempty"`
	Description *string    `json:"description,omitempty"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
}

// Apply merges the present fields of the patch into the subscription.
func (s *Subscription) Apply(patch SubscriptionPatch) {
	if patch.PostURL != nil {
		s.PostURL = *patch.PostURL
	}
	if patch.Description != nil {
		s.Description = *patch.Description
	}
	if patch.ExpiresAt != nil {
		s.ExpiresAt = patch.ExpiresAt
	}
}
