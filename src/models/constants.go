package models

// SubscriptionStatus represents the lifecycle status of a subscription
type SubscriptionStatus string

const (
	// SubscriptionStatusActive indicates the subscription is managed and renewed
	SubscriptionStatusActive SubscriptionStatus = "active"
	// SubscriptionStatusArchived indicates the subscription was soft-deleted
	SubscriptionStatusArchived SubscriptionStatus = "archived"
)

// MaintenanceStatus represents the outcome of the last maintenance attempt
type MaintenanceStatus string

const (
	// MaintenanceStatusPending indicates the record has not been maintained yet
	MaintenanceStatusPending MaintenanceStatus = "pending"
	// MaintenanceStatusSuccess indicates the last maintenance attempt succeeded
	MaintenanceStatusSuccess MaintenanceStatus = "success"
	// MaintenanceStatusFailed indicates a transient failure, retried next run
	MaintenanceStatusFailed MaintenanceStatus = "failed"
	// MaintenanceStatusArchived indicates the record was archived by maintenance
	MaintenanceStatusArchived MaintenanceStatus = "archived"
	// MaintenanceStatusFailedPermanent is terminal: the refresh token was
	// rejected by the PBX and the credential needs out-of-band re-authorization
	MaintenanceStatusFailedPermanent MaintenanceStatus = "failed_permanent"
)

// AuditAction identifies what a maintenance or CRUD operation did
type AuditAction string

const (
	AuditActionCreate        AuditAction = "create"
	AuditActionUpdate        AuditAction = "update"
	AuditActionDelete        AuditAction = "delete"
	AuditActionRefresh       AuditAction = "refresh"
	AuditActionRenew         AuditAction = "renew"
	AuditActionArchive       AuditAction = "archive"
	AuditActionFailedRefresh AuditAction = "failed_refresh"
	AuditActionFailedRenew   AuditAction = "failed_renew"
	AuditActionAdopt         AuditAction = "adopt"
)

// ResourceType identifies the record an audit entry refers to
type ResourceType string

const (
	ResourceTypeSubscription ResourceType = "subscription"
	ResourceTypeCredential   ResourceType = "credential"
)
