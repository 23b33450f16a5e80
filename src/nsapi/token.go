package nsapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"github.com/pbxops/ns-registry/src/logging"
)

// TokenPayload is the OAuth2 token response from the PBX token endpoint.
type TokenPayload struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	ExpiresIn    int64  `json:"expires_in,omitempty"`
	TokenType    string `json:"token_type,omitempty"`
}

// TokenClient performs the unauthenticated bootstrap operations: refreshing
// an OAuth token and exchanging an authorization code. It shares the global
// limiter with the regular clients.
type TokenClient struct {
	tokenURL     string
	clientID     string
	clientSecret string
	httpClient   *http.Client
	limiter      *Limiter
	log          zerolog.Logger
}

// NewTokenClient creates a token client for the configured PBX.
func NewTokenClient(apiURL, clientID, clientSecret string, limiter *Limiter) (*TokenClient, error) {
	if apiURL == "" {
		return nil, fmt.Errorf("NS_API_URL is not configured")
	}

	base := NormalizeServerURL(apiURL)
	if idx := strings.Index(base, "/ns-api/"); idx >= 0 {
		base = base[:idx]
	}

	return &TokenClient{
		tokenURL:     base + "/ns-api/v2/tokens",
		clientID:     clientID,
		clientSecret: clientSecret,
		httpClient:   &http.Client{Timeout: defaultTimeout},
		limiter:      limiter,
		log:          logging.NewLogger("nsapi"),
	}, nil
}

// RefreshToken exchanges a refresh token for a fresh token payload.
func (tc *TokenClient) RefreshToken(ctx context.Context, refreshToken string) (*TokenPayload, error) {
	payload := map[string]string{
		"grant_type":    "refresh_token",
		"refresh_token": refreshToken,
		"client_id":     tc.clientID,
		"client_secret": tc.clientSecret,
	}
	return tc.post(ctx, payload)
}

// ExchangeAuthCode exchanges an OAuth2 authorization code for tokens.
// username is optional and forwarded when present.
func (tc *TokenClient) ExchangeAuthCode(ctx context.Context, code, redirectURI, username string) (*TokenPayload, error) {
	payload := map[string]string{
		"grant_type":    "authorization_code",
		"client_id":     tc.clientID,
		"client_secret": tc.clientSecret,
		"code":          code,
		"redirect_uri":  redirectURI,
	}
	if username != "" {
		payload["username"] = username
	}
	return tc.post(ctx, payload)
}

func (tc *TokenClient) post(ctx context.Context, payload map[string]string) (*TokenPayload, error) {
	if err := tc.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	if tc.log.GetLevel() <= zerolog.DebugLevel {
		redacted := make(map[string]interface{}, len(payload))
		for k, v := range payload {
			redacted[k] = v
		}
		tc.log.Debug().Interface("payload", Sanitize(redacted)).Str("url", tc.tokenURL).Msg("token request")
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode token request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tc.tokenURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := tc.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read token response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		tc.log.Error().Int("status", resp.StatusCode).Msg("token request failed")
		return nil, &APIError{Status: resp.StatusCode}
	}

	var token TokenPayload
	if err := json.Unmarshal(respBody, &token); err != nil {
		return nil, fmt.Errorf("failed to decode token response: %w", err)
	}
	if token.AccessToken == "" {
		return nil, fmt.Errorf("token response missing access_token")
	}
	return &token, nil
}
