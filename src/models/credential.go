package models

import "time"

// CredentialKey identifies the (server, domain, user) scope of an OAuth grant.
type CredentialKey struct {
	APIServer string
	Domain    string
	User      string
}

// OAuthCredential is one OAuth2 refresh/access token pair scoped to a
// (server, domain, user). The token fields hold ciphertext only; plaintext
// flows exclusively through the services.Encryptor accessors.
type OAuthCredential struct {
	ID        int64  `json:"id"`
	APIServer string `json:"api_server"`
	Domain    string `json:"domain"`
	User      string `json:"user"`

	// Encrypted with AES-256-GCM, base64-encoded. Never logged.
	RefreshTokenEnc string `json:"-"`
	AccessTokenEnc  string `json:"-"`

	ExpiresAt     *time.Time `json:"expires_at,omitempty"`
	LastRefreshAt *time.Time `json:"last_refresh_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     *time.Time `json:"updated_at,omitempty"`

	MaintenanceStatus      MaintenanceStatus `json:"maintenance_status"`
	LastMaintenanceAttempt *time.Time        `json:"last_maintenance_attempt,omitempty"`
	MaintenanceMessage     string            `json:"maintenance_message,omitempty"`
}

// Key returns the credential's (server, domain, user) triple.
func (c *OAuthCredential) Key() CredentialKey {
	return CredentialKey{APIServer: c.APIServer, Domain: c.Domain, User: c.User}
}
