package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/pbxops/ns-registry/src/logging"
	"github.com/pbxops/ns-registry/src/models"
	"github.com/pbxops/ns-registry/src/repositories"
)

// PortalPBXClient is the subset of the PBX API the registry surface needs,
// always authenticated with the calling portal user's own bearer token.
type PortalPBXClient interface {
	GetSubscriptions(ctx context.Context, domain, user string) ([]models.NSSubscription, error)
	CreateSubscription(ctx context.Context, domain, user, model, postURL string, expiresSeconds int) error
	UpdateSubscription(ctx context.Context, subscriptionID, domain string, fields map[string]interface{}) error
	DeleteSubscription(ctx context.Context, subscriptionID, domain string) error
	GetUsers(ctx context.Context, domain string) ([]models.NSUser, error)
}

// SubscriptionView is the API representation of a subscription, managed
// (source "db") or discovered only on the PBX (source "pbx").
type SubscriptionView struct {
	ID                *int64                    `json:"id"`
	APIServer         string                    `json:"api_server"`
	Domain            string                    `json:"domain"`
	User              string                    `json:"user"`
	SubscriptionModel string                    `json:"subscription_model"`
	PostURL           string                    `json:"post_url"`
	Description       string                    `json:"description,omitempty"`
	Status            models.SubscriptionStatus `json:"status"`
	ExpiresAt         *time.Time                `json:"expires_at,omitempty"`
	MaintenanceStatus models.MaintenanceStatus  `json:"maintenance_status,omitempty"`
	Source            string                    `json:"source"`
}

func viewFromRecord(s *models.Subscription) SubscriptionView {
	id := s.ID
	return SubscriptionView{
		ID:                &id,
		APIServer:         s.APIServer,
		Domain:            s.Domain,
		User:              s.User,
		SubscriptionModel: s.SubscriptionModel,
		PostURL:           s.PostURL,
		Description:       s.Description,
		Status:            s.Status,
		ExpiresAt:         s.ExpiresAt,
		MaintenanceStatus: s.MaintenanceStatus,
		Source:            "db",
	}
}

// SubscriptionService implements the registry operations behind the REST
// surface: create on the PBX and mirror locally, adopt, merge-list, patch,
// archive. The maintenance engine takes over from there.
type SubscriptionService struct {
	subs             repositories.SubscriptionRepository
	audit            repositories.AuditLogRepository
	apiServer        string
	standardDuration time.Duration
	log              zerolog.Logger
}

// NewSubscriptionService wires a subscription service for one PBX server.
func NewSubscriptionService(
	subs repositories.SubscriptionRepository,
	audit repositories.AuditLogRepository,
	apiServer string,
	standardDuration time.Duration,
) *SubscriptionService {
	return &SubscriptionService{
		subs:             subs,
		audit:            audit,
		apiServer:        apiServer,
		standardDuration: standardDuration,
		log:              logging.NewLogger("subscriptions"),
	}
}

// Create registers the subscription on the PBX first and mirrors it locally
// only when the PBX accepted it.
func (ss *SubscriptionService) Create(ctx context.Context, client PortalPBXClient, actor string, sub *models.Subscription) (*models.Subscription, error) {
	expiresSeconds := int(ss.standardDuration.Seconds())
	if err := client.CreateSubscription(ctx, sub.Domain, sub.User, strings.ToLower(sub.SubscriptionModel), sub.PostURL, expiresSeconds); err != nil {
		ss.log.Error().Err(err).Str("domain", sub.Domain).Str("user", sub.User).Msg("failed to create subscription on PBX")
		return nil, fmt.Errorf("%w: %v", ErrPBXRejected, err)
	}

	if err := ss.saveLocal(ctx, sub); err != nil {
		return nil, err
	}
	ss.auditAction(ctx, sub, actor, models.AuditActionCreate,
		fmt.Sprintf("Created subscription for %s", sub.User))
	return sub, nil
}

// Adopt takes a subscription that already exists on the PBX under management
// without touching the PBX.
func (ss *SubscriptionService) Adopt(ctx context.Context, actor string, sub *models.Subscription) (*models.Subscription, error) {
	if err := ss.saveLocal(ctx, sub); err != nil {
		return nil, err
	}
	ss.auditAction(ctx, sub, actor, models.AuditActionAdopt,
		fmt.Sprintf("Adopted existing PBX subscription for %s", sub.User))
	return sub, nil
}

func (ss *SubscriptionService) saveLocal(ctx context.Context, sub *models.Subscription) error {
	sub.APIServer = ss.apiServer
	if sub.ExpiresAt == nil {
		expiresAt := time.Now().UTC().Add(ss.standardDuration)
		sub.ExpiresAt = &expiresAt
	}
	if err := ss.subs.CreateOrUpdate(ctx, sub); err != nil {
		return fmt.Errorf("failed to save subscription: %w", err)
	}
	return nil
}

// ListMerged returns the managed records for a domain plus PBX-side
// subscriptions the registry does not know about. A PBX listing failure
// degrades to managed records only.
func (ss *SubscriptionService) ListMerged(ctx context.Context, client PortalPBXClient, domain string) ([]SubscriptionView, error) {
	dbSubs, err := ss.subs.ListForOwner(ctx, ss.apiServer, domain, "")
	if err != nil {
		return nil, err
	}

	merged := make([]SubscriptionView, 0, len(dbSubs))
	index := make(map[string]struct{}, len(dbSubs))
	for _, s := range dbSubs {
		merged = append(merged, viewFromRecord(s))
		index[s.User+":"+strings.ToLower(s.SubscriptionModel)+":"+s.PostURL] = struct{}{}
	}

	pbxSubs, err := client.GetSubscriptions(ctx, domain, "")
	if err != nil {
		ss.log.Warn().Err(err).Str("domain", domain).Msg("failed to fetch PBX subscriptions")
		return merged, nil
	}

	for _, p := range pbxSubs {
		if p.User == "" || p.Model == "" || p.PostURL == "" {
			continue
		}
		if _, ok := index[p.User+":"+strings.ToLower(p.Model)+":"+p.PostURL]; ok {
			continue
		}
		merged = append(merged, SubscriptionView{
			APIServer:         ss.apiServer,
			Domain:            domain,
			User:              p.User,
			SubscriptionModel: p.Model,
			PostURL:           p.PostURL,
			Description:       "Unmanaged (PBX Only)",
			Status:            models.SubscriptionStatusActive,
			Source:            "pbx",
		})
	}

	return merged, nil
}

// StatusSummary reports whether maintenance is failing for any active
// subscription of the domain.
type StatusSummary struct {
	Status  string `json:"status"`
	Count   int    `json:"count,omitempty"`
	Message string `json:"message,omitempty"`
}

// Status summarizes maintenance health for a domain.
func (ss *SubscriptionService) Status(ctx context.Context, domain string) (*StatusSummary, error) {
	subs, err := ss.subs.ListForOwner(ctx, ss.apiServer, domain, "")
	if err != nil {
		return nil, err
	}

	failing := 0
	for _, s := range subs {
		if s.Status == models.SubscriptionStatusActive && s.MaintenanceStatus == models.MaintenanceStatusFailed {
			failing++
		}
	}
	if failing > 0 {
		return &StatusSummary{
			Status:  "unhealthy",
			Count:   failing,
			Message: fmt.Sprintf("Maintenance is failing for %d subscriptions.", failing),
		}, nil
	}
	return &StatusSummary{Status: "healthy"}, nil
}

// findPBXSubscription locates the PBX-side counterpart of a managed record
// by (model, post-url).
func (ss *SubscriptionService) findPBXSubscription(ctx context.Context, client PortalPBXClient, sub *models.Subscription) (string, error) {
	pbxSubs, err := client.GetSubscriptions(ctx, sub.Domain, sub.User)
	if err != nil {
		return "", err
	}
	for _, p := range pbxSubs {
		if strings.EqualFold(p.Model, sub.SubscriptionModel) && p.PostURL == sub.PostURL {
			return p.ID, nil
		}
	}
	return "", nil
}

// Update patches a managed subscription, pushing the change to the PBX
// first: the existing PBX subscription is updated in place, or re-created
// when the PBX lost it.
func (ss *SubscriptionService) Update(ctx context.Context, client PortalPBXClient, actor string, id int64, patch models.SubscriptionPatch) (*models.Subscription, error) {
	sub, err := ss.subs.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if sub == nil {
		return nil, ErrSubscriptionNotFound
	}

	postURL := sub.PostURL
	if patch.PostURL != nil {
		postURL = *patch.PostURL
	}

	pbxID, err := ss.findPBXSubscription(ctx, client, sub)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPBXRejected, err)
	}

	if pbxID != "" {
		fields := map[string]interface{}{
			"model":                    sub.SubscriptionModel,
			"post-url":                 postURL,
			"subscription-geo-support": "yes",
		}
		if patch.ExpiresAt != nil {
			seconds := int(time.Until(*patch.ExpiresAt).Seconds())
			if seconds < 60 {
				seconds = 60
			}
			fields["expires"] = seconds
		}
		if err := client.UpdateSubscription(ctx, pbxID, sub.Domain, fields); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrPBXRejected, err)
		}
	} else {
		ss.log.Warn().Int64("subscription_id", id).Msg("PBX subscription missing, re-creating")
		if err := client.CreateSubscription(ctx, sub.Domain, sub.User, strings.ToLower(sub.SubscriptionModel), postURL,
			int(ss.standardDuration.Seconds())); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrPBXRejected, err)
		}
	}

	sub.Apply(patch)
	if err := ss.subs.Update(ctx, sub); err != nil {
		return nil, err
	}

	ss.auditAction(ctx, sub, actor, models.AuditActionUpdate,
		fmt.Sprintf("Updated subscription %d", id))
	return sub, nil
}

// Delete removes the PBX-side subscription when it still exists (a missing
// one is fine) and archives the local record.
func (ss *SubscriptionService) Delete(ctx context.Context, client PortalPBXClient, actor string, id int64) (*models.Subscription, error) {
	sub, err := ss.subs.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if sub == nil {
		return nil, ErrSubscriptionNotFound
	}

	pbxID, err := ss.findPBXSubscription(ctx, client, sub)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPBXRejected, err)
	}
	if pbxID != "" {
		if err := client.DeleteSubscription(ctx, pbxID, sub.Domain); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrPBXRejected, err)
		}
		ss.log.Info().Str("pbx_id", pbxID).Int64("subscription_id", id).Msg("deleted PBX subscription")
	} else {
		ss.log.Warn().Int64("subscription_id", id).Msg("PBX subscription not found for delete, archiving local record only")
	}

	archived, err := ss.subs.Archive(ctx, id)
	if err != nil {
		return nil, err
	}

	ss.auditAction(ctx, sub, actor, models.AuditActionDelete,
		fmt.Sprintf("Archived subscription %d", id))
	return archived, nil
}

// SearchUsers filters PBX users by a case-insensitive substring on the
// extension and name fields, for UI autocomplete.
func (ss *SubscriptionService) SearchUsers(ctx context.Context, client PortalPBXClient, domain, query string) ([]models.NSUser, error) {
	users, err := client.GetUsers(ctx, domain)
	if err != nil {
		return nil, err
	}
	if query == "" {
		if len(users) > 20 {
			users = users[:20]
		}
		return users, nil
	}

	q := strings.ToLower(query)
	var filtered []models.NSUser
	for _, u := range users {
		if strings.Contains(strings.ToLower(u.User), q) ||
			strings.Contains(strings.ToLower(u.FirstName), q) ||
			strings.Contains(strings.ToLower(u.LastName), q) {
			filtered = append(filtered, u)
			if len(filtered) == 50 {
				break
			}
		}
	}
	return filtered, nil
}

func (ss *SubscriptionService) auditAction(ctx context.Context, sub *models.Subscription, actor string, action models.AuditAction, description string) {
	if actor == "" {
		actor = auditSystemUser
	}
	entry := &models.AuditLog{
		APIServer:    sub.APIServer,
		Domain:       sub.Domain,
		User:         actor,
		Action:       action,
		ResourceType: models.ResourceTypeSubscription,
		ResourceID:   &sub.ID,
		Description:  description,
	}
	if err := ss.audit.Create(ctx, entry); err != nil {
		ss.log.Error().Err(err).Int64("subscription_id", sub.ID).Msg("failed to write audit entry")
	}
}
