package services

import (
	"context"
	"testing"
	"time"

	"github.com/pbxops/ns-registry/src/models"
	"github.com/pbxops/ns-registry/src/nsapi"
	"github.com/pbxops/ns-registry/src/repositories/mock"
)

func newCredentialFixture(t *testing.T) (*CredentialService, *mock.CredentialRepository, *Encryptor) {
	t.Helper()
	encryptor, err := NewEncryptor(validHexKey())
	if err != nil {
		t.Fatalf("failed to create encryptor: %v", err)
	}
	creds := mock.NewCredentialRepository()
	return NewCredentialService(creds, encryptor, testAPIServer), creds, encryptor
}

func TestStoreTokens(t *testing.T) {
	service, creds, encryptor := newCredentialFixture(t)

	before := time.Now().UTC()
	cred, err := service.StoreTokens(context.Background(), "acme.com", "1001", &nsapi.TokenPayload{
		AccessToken:  "plain-at",
		RefreshToken: "plain-rt",
		ExpiresIn:    3600,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(creds.Calls["Upsert"]) != 1 {
		t.Fatalf("expected 1 upsert, got %d", len(creds.Calls["Upsert"]))
	}
	if cred.APIServer != testAPIServer || cred.Domain != "acme.com" || cred.User != "1001" {
		t.Errorf("unexpected credential identity: %+v", cred)
	}

	// Stored fields are ciphertext, never the raw tokens
	if cred.RefreshTokenEnc == "plain-rt" || cred.AccessTokenEnc == "plain-at" {
		t.Fatal("tokens must not be stored in clear text")
	}
	if rt, err := encryptor.DecryptString(cred.RefreshTokenEnc); err != nil || rt != "plain-rt" {
		t.Errorf("refresh token round-trip failed: %q (%v)", rt, err)
	}
	if at, err := encryptor.DecryptString(cred.AccessTokenEnc); err != nil || at != "plain-at" {
		t.Errorf("access token round-trip failed: %q (%v)", at, err)
	}

	if cred.ExpiresAt == nil || cred.ExpiresAt.Before(before.Add(time.Hour)) {
		t.Errorf("expected expiry about an hour out, got %v", cred.ExpiresAt)
	}
}

func TestStoreTokens_RequiresRefreshToken(t *testing.T) {
	service, creds, _ := newCredentialFixture(t)

	_, err := service.StoreTokens(context.Background(), "acme.com", "1001", &nsapi.TokenPayload{
		AccessToken: "plain-at",
	})
	if err == nil {
		t.Fatal("expected error for payload without refresh_token")
	}
	if len(creds.Calls["Upsert"]) != 0 {
		t.Error("incomplete payload must not be persisted")
	}
}

func TestHasCredential(t *testing.T) {
	service, creds, _ := newCredentialFixture(t)

	exists, err := service.HasCredential(context.Background(), "acme.com", "1001")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if exists {
		t.Error("expected no credential")
	}

	creds.GetByKeyFunc = func(ctx context.Context, key models.CredentialKey) (*models.OAuthCredential, error) {
		return &models.OAuthCredential{ID: 1}, nil
	}
	exists, err = service.HasCredential(context.Background(), "acme.com", "1001")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !exists {
		t.Error("expected credential to be found")
	}
}
