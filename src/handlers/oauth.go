package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/pbxops/ns-registry/src/middleware"
	"github.com/pbxops/ns-registry/src/nsapi"
	"github.com/pbxops/ns-registry/src/services"
)

// TokenExchanger exchanges an OAuth2 authorization code for tokens.
type TokenExchanger interface {
	ExchangeAuthCode(ctx context.Context, code, redirectURI, username string) (*nsapi.TokenPayload, error)
}

// OAuthHandler completes the PBX authorization-code flow and stores the
// resulting credential for the maintenance engine.
type OAuthHandler struct {
	tokens    TokenExchanger
	creds     *services.CredentialService
	newClient middleware.ClientFactory
}

// NewOAuthHandler creates an OAuth handler.
func NewOAuthHandler(tokens TokenExchanger, creds *services.CredentialService, newClient middleware.ClientFactory) *OAuthHandler {
	return &OAuthHandler{tokens: tokens, creds: creds, newClient: newClient}
}

// HandleReceiveRedirect is the OAuth redirect target. The PBX sends the
// authorization code here; the redirect URI echoed back for the exchange is
// this endpoint's own URL without the query string.
func (oh *OAuthHandler) HandleReceiveRedirect(c *gin.Context) {
	code := c.Query("code")
	if code == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing code parameter"})
		return
	}

	scheme := "https"
	if c.Request.TLS == nil {
		scheme = "http"
	}
	if forwarded := c.GetHeader("X-Forwarded-Proto"); forwarded != "" {
		scheme = forwarded
	}
	redirectURI := scheme + "://" + c.Request.Host + c.Request.URL.Path

	payload, err := oh.tokens.ExchangeAuthCode(c.Request.Context(), code, redirectURI, c.Query("username"))
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": "authorization code exchange failed"})
		return
	}

	// The token response does not carry the owner, the PBX does.
	client, err := oh.newClient(payload.AccessToken)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to initialize PBX client"})
		return
	}
	user, err := client.GetCurrentUser(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": "failed to resolve token owner"})
		return
	}

	if _, err := oh.creds.StoreTokens(c.Request.Context(), user.Domain, user.User, payload); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to store credential"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "authorized",
		"domain": user.Domain,
		"user":   user.User,
	})
}

// HandleAuthCheck reports whether a stored credential exists for the caller.
func (oh *OAuthHandler) HandleAuthCheck(c *gin.Context) {
	caller := middleware.GetPortalUser(c)
	exists, err := oh.creds.HasCredential(c.Request.Context(), caller.Domain, caller.User)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"authenticated": exists})
}
