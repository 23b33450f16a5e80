package middleware

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/pbxops/ns-registry/src/models"
	"github.com/pbxops/ns-registry/src/nsapi"
)

type stubPortalClient struct {
	token       string
	currentUser *models.NSUser
	currentErr  error
}

func (s *stubPortalClient) GetCurrentUser(ctx context.Context) (*models.NSUser, error) {
	return s.currentUser, s.currentErr
}

func (s *stubPortalClient) GetSubscriptions(ctx context.Context, domain, user string) ([]models.NSSubscription, error) {
	return nil, nil
}

func (s *stubPortalClient) CreateSubscription(ctx context.Context, domain, user, model, postURL string, expiresSeconds int) error {
	return nil
}

func (s *stubPortalClient) UpdateSubscription(ctx context.Context, subscriptionID, domain string, fields map[string]interface{}) error {
	return nil
}

func (s *stubPortalClient) DeleteSubscription(ctx context.Context, subscriptionID, domain string) error {
	return nil
}

func (s *stubPortalClient) GetUsers(ctx context.Context, domain string) ([]models.NSUser, error) {
	return nil, nil
}

func authTestRouter(factory ClientFactory) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(PortalAuthMiddleware(factory))
	router.GET("/whoami", func(c *gin.Context) {
		user := GetPortalUser(c)
		if user == nil || GetPortalClient(c) == nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "context not populated"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"user": user.User, "domain": user.Domain})
	})
	return router
}

func TestPortalAuth_MissingToken(t *testing.T) {
	router := authTestRouter(func(token string) (PortalClient, error) {
		t.Fatal("factory must not be called without a token")
		return nil, nil
	})

	for _, header := range []string{"", "Basic dXNlcg==", "Bearer "} {
		req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		if w.Code != http.StatusUnauthorized {
			t.Errorf("header %q: expected 401, got %d", header, w.Code)
		}
	}
}

func TestPortalAuth_TokenRejectedByPBX(t *testing.T) {
	router := authTestRouter(func(token string) (PortalClient, error) {
		return &stubPortalClient{token: token, currentErr: &nsapi.APIError{Status: 401}}, nil
	})

	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set("Authorization", "Bearer expired-token")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", w.Code)
	}
}

func TestPortalAuth_PBXUnavailable(t *testing.T) {
	router := authTestRouter(func(token string) (PortalClient, error) {
		return &stubPortalClient{currentErr: fmt.Errorf("%w: connection refused", nsapi.ErrUnavailable)}, nil
	})

	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set("Authorization", "Bearer some-token")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", w.Code)
	}
}

func TestPortalAuth_Success(t *testing.T) {
	var gotToken string
	router := authTestRouter(func(token string) (PortalClient, error) {
		gotToken = token
		return &stubPortalClient{
			token:       token,
			currentUser: &models.NSUser{User: "1001", Domain: "acme.com"},
		}, nil
	})

	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set("Authorization", "Bearer portal-token")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if gotToken != "portal-token" {
		t.Errorf("expected raw token passed to factory, got %q", gotToken)
	}
}
