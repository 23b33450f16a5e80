package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/pbxops/ns-registry/src/logging"
	"github.com/pbxops/ns-registry/src/models"
	"github.com/pbxops/ns-registry/src/nsapi"
	"github.com/pbxops/ns-registry/src/repositories"
)

const (
	// tokenMaintenanceWindow is how close to expiry an access token may get
	// before a run refreshes it
	tokenMaintenanceWindow = 2 * time.Hour

	// defaultTokenLifetime applies when the token endpoint omits expires_in
	defaultTokenLifetime = 3600 * time.Second

	auditSystemUser = "System"
)

// PBXClient is the subset of the PBX API a maintenance run needs for one
// credential's subscriptions.
type PBXClient interface {
	GetUser(ctx context.Context, domain, user string) (*models.NSUser, error)
	CreateSubscription(ctx context.Context, domain, user, model, postURL string, expiresSeconds int) error
}

// TokenRefresher refreshes an OAuth refresh token against the PBX.
type TokenRefresher interface {
	RefreshToken(ctx context.Context, refreshToken string) (*nsapi.TokenPayload, error)
}

// ClientFactory builds a PBX client bound to one access token. Maintenance
// caches one client per credential key so subscriptions sharing a credential
// reuse the same instance.
type ClientFactory func(accessToken string) (PBXClient, error)

// MaintenanceConfig carries the renewal policy knobs.
type MaintenanceConfig struct {
	StandardDuration time.Duration
	RenewalWindow    time.Duration
}

// MaintenanceService runs one reconciliation pass: refresh every credential
// nearing expiry, then renew, archive, or flag every active subscription.
// All state lives in the repositories; the service itself is stateless
// across runs and every record commits independently.
type MaintenanceService struct {
	subs      repositories.SubscriptionRepository
	creds     repositories.CredentialRepository
	audit     repositories.AuditLogRepository
	encryptor *Encryptor
	tokens    TokenRefresher
	newClient ClientFactory
	cfg       MaintenanceConfig
	log       zerolog.Logger
}

// NewMaintenanceService wires a maintenance service.
func NewMaintenanceService(
	subs repositories.SubscriptionRepository,
	creds repositories.CredentialRepository,
	audit repositories.AuditLogRepository,
	encryptor *Encryptor,
	tokens TokenRefresher,
	newClient ClientFactory,
	cfg MaintenanceConfig,
) *MaintenanceService {
	return &MaintenanceService{
		subs:      subs,
		creds:     creds,
		audit:     audit,
		encryptor: encryptor,
		tokens:    tokens,
		newClient: newClient,
		cfg:       cfg,
		log:       logging.NewLogger("maintenance"),
	}
}

// Run performs one full maintenance pass. Per-record failures are written to
// the records themselves and never abort the pass; only a failure to load
// the working set is returned.
func (ms *MaintenanceService) Run(ctx context.Context) error {
	runLog := ms.log.With().Str("run_id", uuid.New().String()[:8]).Logger()

	credentials, err := ms.creds.ListMaintainable(ctx)
	if err != nil {
		return fmt.Errorf("failed to load credentials: %w", err)
	}
	runLog.Info().Int("count", len(credentials)).Msg("checking credentials for refresh")

	for _, cred := range credentials {
		if err := ms.RefreshCredential(ctx, cred, time.Now().UTC()); err != nil {
			runLog.Error().Err(err).
				Str("domain", cred.Domain).
				Str("user", cred.User).
				Msg("credential maintenance aborted")
		}
	}

	subscriptions, err := ms.subs.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("failed to load subscriptions: %w", err)
	}
	runLog.Info().Int("count", len(subscriptions)).Msg("checking active subscriptions for renewal")

	// The lookup shares pointers with the refresh loop above, so it observes
	// post-refresh token state.
	credMap := make(map[models.CredentialKey]*models.OAuthCredential, len(credentials))
	for _, cred := range credentials {
		credMap[cred.Key()] = cred
	}
	clients := make(map[models.CredentialKey]PBXClient)

	for _, sub := range subscriptions {
		if err := ms.maintainSubscription(ctx, sub, credMap, clients, time.Now().UTC()); err != nil {
			runLog.Error().Err(err).
				Int64("subscription_id", sub.ID).
				Msg("subscription maintenance aborted")
		}
	}

	runLog.Info().Msg("maintenance run complete")
	return nil
}

// RefreshCredential applies the refresh policy to one credential. A nil
// return means the record was fully handled, including recorded failures;
// an error means processing of this record was aborted (codec or storage
// failure) and nothing further should be inferred from its state.
func (ms *MaintenanceService) RefreshCredential(ctx context.Context, cred *models.OAuthCredential, now time.Time) error {
	if cred.ExpiresAt != nil && cred.ExpiresAt.Sub(now) > tokenMaintenanceWindow {
		return nil
	}

	ms.log.Info().Str("domain", cred.Domain).Str("user", cred.User).Msg("refreshing token")

	refreshToken, err := ms.encryptor.DecryptString(cred.RefreshTokenEnc)
	if err != nil {
		return fmt.Errorf("failed to decrypt refresh token: %w", err)
	}

	payload, refreshErr := ms.tokens.RefreshToken(ctx, refreshToken)
	if refreshErr != nil {
		return ms.recordRefreshFailure(ctx, cred, refreshErr, now)
	}

	accessEnc, err := ms.encryptor.EncryptString(payload.AccessToken)
	if err != nil {
		return fmt.Errorf("failed to encrypt access token: %w", err)
	}
	cred.AccessTokenEnc = accessEnc

	if payload.RefreshToken != "" {
		refreshEnc, err := ms.encryptor.EncryptString(payload.RefreshToken)
		if err != nil {
			return fmt.Errorf("failed to encrypt refresh token: %w", err)
		}
		cred.RefreshTokenEnc = refreshEnc
	}

	lifetime := defaultTokenLifetime
	if payload.ExpiresIn > 0 {
		lifetime = time.Duration(payload.ExpiresIn) * time.Second
	}
	expiresAt := now.Add(lifetime)
	cred.ExpiresAt = &expiresAt
	cred.LastRefreshAt = &now
	cred.MaintenanceStatus = models.MaintenanceStatusSuccess
	cred.MaintenanceMessage = "Token refreshed successfully"
	cred.LastMaintenanceAttempt = &now

	if err := ms.creds.Update(ctx, cred); err != nil {
		return fmt.Errorf("failed to persist credential: %w", err)
	}

	ms.auditCredential(ctx, cred, models.AuditActionRefresh, "Token refreshed successfully", "")
	return nil
}

// recordRefreshFailure classifies a refresh error. Authorization rejections
// (400/401/403) are terminal: the credential is parked and every active
// subscription under its key is archived in one atomic update.
func (ms *MaintenanceService) recordRefreshFailure(ctx context.Context, cred *models.OAuthCredential, refreshErr error, now time.Time) error {
	ms.log.Error().Err(refreshErr).Str("domain", cred.Domain).Str("user", cred.User).Msg("token refresh failed")

	if nsapi.IsPermanentAuthError(refreshErr) {
		ms.log.Warn().Str("domain", cred.Domain).Str("user", cred.User).Msg("refresh token rejected, parking credential")
		cred.MaintenanceStatus = models.MaintenanceStatusFailedPermanent
		cred.MaintenanceMessage = fmt.Sprintf("Permanent failure: %v", refreshErr)

		archived, err := ms.subs.ArchiveAllForCredential(ctx, cred.Key(), "Archived: Credential failed permanently", now)
		if err != nil {
			return fmt.Errorf("failed to archive subscriptions for failed credential: %w", err)
		}
		if archived > 0 {
			ms.log.Warn().Int64("count", archived).Str("domain", cred.Domain).Str("user", cred.User).
				Msg("archived subscriptions of permanently failed credential")
		}
	} else {
		cred.MaintenanceStatus = models.MaintenanceStatusFailed
		cred.MaintenanceMessage = fmt.Sprintf("Refresh failed: %v", refreshErr)
	}

	cred.LastMaintenanceAttempt = &now

	if err := ms.creds.Update(ctx, cred); err != nil {
		return fmt.Errorf("failed to persist credential: %w", err)
	}

	ms.auditCredential(ctx, cred, models.AuditActionFailedRefresh,
		fmt.Sprintf("Refresh failed: %v", refreshErr), refreshErr.Error())
	return nil
}

// maintainSubscription routes one active subscription: archive it as an
// orphan, flag it for a parked credential, or hand it to the renewal policy.
func (ms *MaintenanceService) maintainSubscription(
	ctx context.Context,
	sub *models.Subscription,
	credMap map[models.CredentialKey]*models.OAuthCredential,
	clients map[models.CredentialKey]PBXClient,
	now time.Time,
) error {
	key := sub.CredentialKey()
	cred := credMap[key]

	if cred == nil || cred.AccessTokenEnc == "" {
		ms.log.Warn().Int64("subscription_id", sub.ID).Msg("archiving orphaned subscription")
		sub.Status = models.SubscriptionStatusArchived
		sub.MaintenanceStatus = models.MaintenanceStatusArchived
		sub.MaintenanceMessage = "Archived: No matching OAuth credential found"
		sub.LastMaintenanceAttempt = &now

		if err := ms.subs.Update(ctx, sub); err != nil {
			return fmt.Errorf("failed to persist subscription: %w", err)
		}
		ms.auditSubscription(ctx, sub, models.AuditActionArchive, "Auto-archived orphaned subscription")
		return nil
	}

	if cred.MaintenanceStatus == models.MaintenanceStatusFailedPermanent {
		// Defensive fallback: the cascade in recordRefreshFailure is the
		// authoritative archiver; this only catches subscriptions that became
		// active after the cascade ran.
		ms.log.Warn().Int64("subscription_id", sub.ID).Msg("skipping subscription with permanently failed credential")
		sub.MaintenanceStatus = models.MaintenanceStatusFailed
		sub.MaintenanceMessage = fmt.Sprintf("Credential failed: %s", cred.MaintenanceMessage)
		sub.LastMaintenanceAttempt = &now
		if err := ms.subs.Update(ctx, sub); err != nil {
			return fmt.Errorf("failed to persist subscription: %w", err)
		}
		return nil
	}

	client, ok := clients[key]
	if !ok {
		accessToken, err := ms.encryptor.DecryptString(cred.AccessTokenEnc)
		if err != nil {
			return fmt.Errorf("failed to decrypt access token: %w", err)
		}
		client, err = ms.newClient(accessToken)
		if err != nil {
			return fmt.Errorf("failed to build PBX client: %w", err)
		}
		clients[key] = client
	}

	return ms.RenewSubscription(ctx, sub, client, now)
}

// shouldRenew implements the renewal decision: renew when expiry is missing,
// when the remaining lifetime is inside the renewal window, or when the
// remaining lifetime is short of a standard-duration registration (the
// subscription was created with a nonstandard duration and gets normalized).
// Both comparisons are strictly less-than.
func (ms *MaintenanceService) shouldRenew(sub *models.Subscription, now time.Time) bool {
	if sub.ExpiresAt == nil {
		return true
	}
	timeLeft := sub.ExpiresAt.Sub(now)
	if timeLeft < ms.cfg.RenewalWindow {
		return true
	}
	if timeLeft < ms.cfg.StandardDuration-ms.cfg.RenewalWindow {
		ms.log.Info().Int64("subscription_id", sub.ID).
			Dur("time_left", timeLeft).
			Msg("subscription below standard duration, forcing renewal")
		return true
	}
	return false
}

// RenewSubscription applies the renewal policy to one subscription using a
// client already bound to its credential.
func (ms *MaintenanceService) RenewSubscription(ctx context.Context, sub *models.Subscription, client PBXClient, now time.Time) error {
	if !ms.shouldRenew(sub, now) {
		return nil
	}

	ms.log.Info().Int64("subscription_id", sub.ID).
		Str("domain", sub.Domain).Str("user", sub.User).
		Msg("renewing subscription")

	user, err := client.GetUser(ctx, sub.Domain, sub.User)
	if err != nil {
		ms.log.Error().Err(err).Int64("subscription_id", sub.ID).Msg("user existence check failed")
		sub.MaintenanceStatus = models.MaintenanceStatusFailed
		sub.MaintenanceMessage = fmt.Sprintf("Existence check failed: %v", err)
		sub.LastMaintenanceAttempt = &now
		if perr := ms.subs.Update(ctx, sub); perr != nil {
			return fmt.Errorf("failed to persist subscription: %w", perr)
		}
		ms.auditSubscription(ctx, sub, models.AuditActionFailedRenew,
			fmt.Sprintf("Existence check failed: %v", err))
		return nil
	}
	if user == nil {
		ms.log.Warn().Int64("subscription_id", sub.ID).
			Str("domain", sub.Domain).Str("user", sub.User).
			Msg("user not found on PBX, archiving subscription")
		sub.Status = models.SubscriptionStatusArchived
		sub.MaintenanceStatus = models.MaintenanceStatusArchived
		sub.MaintenanceMessage = "User not found on PBX"
		sub.LastMaintenanceAttempt = &now
		if perr := ms.subs.Update(ctx, sub); perr != nil {
			return fmt.Errorf("failed to persist subscription: %w", perr)
		}
		ms.auditSubscription(ctx, sub, models.AuditActionArchive,
			fmt.Sprintf("Archived due to missing user %s", sub.User))
		return nil
	}

	renewErr := client.CreateSubscription(ctx, sub.Domain, sub.User, sub.SubscriptionModel, sub.PostURL,
		int(ms.cfg.StandardDuration.Seconds()))
	if renewErr != nil {
		ms.log.Error().Err(renewErr).Int64("subscription_id", sub.ID).Msg("subscription renewal failed")
		sub.MaintenanceStatus = models.MaintenanceStatusFailed
		sub.MaintenanceMessage = fmt.Sprintf("Renewal failed: %v", renewErr)
		sub.LastMaintenanceAttempt = &now
		if perr := ms.subs.Update(ctx, sub); perr != nil {
			return fmt.Errorf("failed to persist subscription: %w", perr)
		}
		ms.auditSubscription(ctx, sub, models.AuditActionFailedRenew,
			fmt.Sprintf("Renewal failed: %v", renewErr))
		return nil
	}

	expiresAt := now.Add(ms.cfg.StandardDuration)
	sub.ExpiresAt = &expiresAt
	sub.MaintenanceStatus = models.MaintenanceStatusSuccess
	sub.MaintenanceMessage = "Subscription renewed successfully"
	sub.LastMaintenanceAttempt = &now
	if err := ms.subs.Update(ctx, sub); err != nil {
		return fmt.Errorf("failed to persist subscription: %w", err)
	}
	ms.auditSubscription(ctx, sub, models.AuditActionRenew, "Subscription renewed successfully")
	return nil
}

func (ms *MaintenanceService) auditCredential(ctx context.Context, cred *models.OAuthCredential, action models.AuditAction, description, details string) {
	entry := &models.AuditLog{
		APIServer:    cred.APIServer,
		Domain:       cred.Domain,
		User:         auditSystemUser,
		Action:       action,
		ResourceType: models.ResourceTypeCredential,
		ResourceID:   &cred.ID,
		Description:  description,
		Details:      details,
	}
	if err := ms.audit.Create(ctx, entry); err != nil {
		ms.log.Error().Err(err).Int64("credential_id", cred.ID).Msg("failed to write audit entry")
	}
}

func (ms *MaintenanceService) auditSubscription(ctx context.Context, sub *models.Subscription, action models.AuditAction, description string) {
	entry := &models.AuditLog{
		APIServer:    sub.APIServer,
		Domain:       sub.Domain,
		User:         auditSystemUser,
		Action:       action,
		ResourceType: models.ResourceTypeSubscription,
		ResourceID:   &sub.ID,
		Description:  description,
	}
	if err := ms.audit.Create(ctx, entry); err != nil {
		ms.log.Error().Err(err).Int64("subscription_id", sub.ID).Msg("failed to write audit entry")
	}
}
