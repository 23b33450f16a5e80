package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/pbxops/ns-registry/src/models"
	"github.com/pbxops/ns-registry/src/nsapi"
	"github.com/pbxops/ns-registry/src/services"
)

// Context keys for the authenticated portal session
const (
	PortalClientKey = "ns_client"
	PortalUserKey   = "ns_user"
)

// PortalClient is a PBX client bound to the calling portal user's own
// bearer token.
type PortalClient interface {
	services.PortalPBXClient
	GetCurrentUser(ctx context.Context) (*models.NSUser, error)
}

// ClientFactory builds a PBX client for one bearer token.
type ClientFactory func(token string) (PortalClient, error)

// PortalAuthMiddleware authenticates requests with the caller's PBX bearer
// token: the token is never validated locally, the PBX itself is asked who
// it belongs to. The resolved user and the token-bound client are stored in
// the request context for handlers.
func PortalAuthMiddleware(newClient ClientFactory) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			c.Abort()
			return
		}
		token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
		if token == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			c.Abort()
			return
		}

		client, err := newClient(token)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to initialize PBX client"})
			c.Abort()
			return
		}

		user, err := client.GetCurrentUser(c.Request.Context())
		if err != nil {
			if errors.Is(err, nsapi.ErrUnavailable) {
				c.JSON(http.StatusServiceUnavailable, gin.H{"error": "PBX unavailable"})
			} else {
				c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid or expired token"})
			}
			c.Abort()
			return
		}

		c.Set(PortalClientKey, client)
		c.Set(PortalUserKey, user)
		c.Next()
	}
}

// GetPortalClient retrieves the caller's token-bound PBX client.
func GetPortalClient(c *gin.Context) PortalClient {
	if v, exists := c.Get(PortalClientKey); exists {
		if client, ok := v.(PortalClient); ok {
			return client
		}
	}
	return nil
}

// GetPortalUser retrieves the authenticated PBX user.
func GetPortalUser(c *gin.Context) *models.NSUser {
	if v, exists := c.Get(PortalUserKey); exists {
		if user, ok := v.(*models.NSUser); ok {
			return user
		}
	}
	return nil
}
