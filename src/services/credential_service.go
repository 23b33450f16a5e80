package services

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/pbxops/ns-registry/src/logging"
	"github.com/pbxops/ns-registry/src/models"
	"github.com/pbxops/ns-registry/src/nsapi"
	"github.com/pbxops/ns-registry/src/repositories"
)

// CredentialService stores OAuth grants obtained from the portal's
// authorization-code flow. Tokens are encrypted before they reach the
// repository.
type CredentialService struct {
	creds     repositories.CredentialRepository
	encryptor *Encryptor
	apiServer string
	log       zerolog.Logger
}

// NewCredentialService wires a credential service for one PBX server.
func NewCredentialService(creds repositories.CredentialRepository, encryptor *Encryptor, apiServer string) *CredentialService {
	return &CredentialService{
		creds:     creds,
		encryptor: encryptor,
		apiServer: apiServer,
		log:       logging.NewLogger("credentials"),
	}
}

// StoreTokens upserts the credential for (domain, user) from a token
// payload. The refresh token is required; the access token and expiry are
// stored when present.
func (cs *CredentialService) StoreTokens(ctx context.Context, domain, user string, payload *nsapi.TokenPayload) (*models.OAuthCredential, error) {
	if payload.RefreshToken == "" {
		return nil, fmt.Errorf("token payload missing refresh_token")
	}

	refreshEnc, err := cs.encryptor.EncryptString(payload.RefreshToken)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt refresh token: %w", err)
	}
	accessEnc, err := cs.encryptor.EncryptString(payload.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt access token: %w", err)
	}

	now := time.Now().UTC()
	cred := &models.OAuthCredential{
		APIServer:       cs.apiServer,
		Domain:          domain,
		User:            user,
		RefreshTokenEnc: refreshEnc,
		AccessTokenEnc:  accessEnc,
		LastRefreshAt:   &now,
	}
	if payload.ExpiresIn > 0 {
		expiresAt := now.Add(time.Duration(payload.ExpiresIn) * time.Second)
		cred.ExpiresAt = &expiresAt
	}

	if err := cs.creds.Upsert(ctx, cred); err != nil {
		return nil, err
	}

	cs.log.Info().Str("domain", domain).Str("user", user).Msg("stored OAuth credential")
	return cred, nil
}

// HasCredential reports whether a credential exists for (domain, user).
func (cs *CredentialService) HasCredential(ctx context.Context, domain, user string) (bool, error) {
	cred, err := cs.creds.GetByKey(ctx, models.CredentialKey{APIServer: cs.apiServer, Domain: domain, User: user})
	if err != nil {
		return false, err
	}
	return cred != nil, nil
}
