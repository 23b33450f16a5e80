package models

import "time"

// AuditLog is an immutable append-only record of a registry or maintenance
// action. Entries are never mutated or deleted.
type AuditLog struct {
	ID           int64        `json:"id"`
	APIServer    string       `json:"api_server"`
	Domain       string       `json:"domain"`
	User         string       `json:"user,omitempty"`
	Action       AuditAction  `json:"action"`
	ResourceType ResourceType `json:"resource_type"`
	ResourceID   *int64       `json:"resource_id,omitempty"`
	Description  string       `json:"description,omitempty"`
	Details      string       `json:"details,omitempty"`
	CreatedAt    time.Time    `json:"created_at"`
}
