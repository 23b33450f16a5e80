package nsapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/pbxops/ns-registry/src/logging"
	"github.com/pbxops/ns-registry/src/models"
)

const (
	defaultPageSize = 1000
	defaultMaxItems = 10000
	defaultTimeout  = 10 * time.Second
)

// Config carries the shared pieces every client needs: the PBX base URL,
// the process-wide limiter, and pagination bounds.
type Config struct {
	APIURL     string
	Limiter    *Limiter
	HTTPClient *http.Client
	PageSize   int
	MaxItems   int
}

// Client performs authenticated operations against the remote PBX. It holds
// an ordered list of candidate base endpoints and falls through to the next
// candidate only on transport-level failures; any received response, even an
// error status, stops the iteration.
type Client struct {
	token      string
	candidates []string
	httpClient *http.Client
	limiter    *Limiter
	pageSize   int
	maxItems   int
	log        zerolog.Logger
}

// NewClient creates a client bound to one access token.
func NewClient(cfg Config, token string) (*Client, error) {
	if cfg.APIURL == "" {
		return nil, fmt.Errorf("NS_API_URL is not configured")
	}

	c := &Client{
		token:      token,
		candidates: []string{NormalizeAPIURL(cfg.APIURL)},
		httpClient: cfg.HTTPClient,
		limiter:    cfg.Limiter,
		pageSize:   cfg.PageSize,
		maxItems:   cfg.MaxItems,
		log:        logging.NewLogger("nsapi"),
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{Timeout: defaultTimeout}
	}
	if c.pageSize <= 0 {
		c.pageSize = defaultPageSize
	}
	if c.maxItems <= 0 {
		c.maxItems = defaultMaxItems
	}
	return c, nil
}

// NormalizeServerURL canonicalizes the PBX server identity used as the
// api_server value on stored records.
func NormalizeServerURL(raw string) string {
	u := strings.TrimRight(strings.TrimSpace(raw), "/")
	if !strings.HasPrefix(u, "http") {
		u = "https://" + u
	}
	return u
}

// NormalizeAPIURL canonicalizes a configured endpoint into a full API base
// URL (scheme defaulted to https, /ns-api/v2 suffix ensured).
func NormalizeAPIURL(raw string) string {
	u := NormalizeServerURL(raw)
	if !strings.HasSuffix(u, "/ns-api/v2") {
		u += "/ns-api/v2"
	}
	return u
}

// request performs one logical operation, trying candidates in order.
// A nil result with nil error means the resource was not found (404).
func (c *Client) request(ctx context.Context, method, path string, query url.Values, body interface{}) (json.RawMessage, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request body: %w", err)
		}
	}

	var lastErr error
	for _, base := range c.candidates {
		reqURL := base + path
		if len(query) > 0 {
			reqURL += "?" + query.Encode()
		}

		var reader io.Reader
		if payload != nil {
			reader = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, reqURL, reader)
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+c.token)
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			// Transport failure: this endpoint is unreachable, try the next one
			c.log.Warn().Err(err).Str("endpoint", base).Msg("endpoint unreachable, failing over")
			lastErr = err
			continue
		}

		respBody, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		if readErr != nil {
			lastErr = readErr
			continue
		}

		c.debugLogResponse(method, reqURL, resp.StatusCode, respBody)

		if resp.StatusCode == http.StatusNotFound {
			return nil, nil
		}
		if resp.StatusCode >= 400 {
			c.log.Error().Int("status", resp.StatusCode).Str("url", reqURL).Msg("PBX API error")
			return nil, &APIError{Status: resp.StatusCode}
		}

		return respBody, nil
	}

	c.log.Error().Err(lastErr).Msg("all PBX endpoints failed")
	return nil, fmt.Errorf("%w: %v", ErrUnavailable, lastErr)
}

func (c *Client) debugLogResponse(method, reqURL string, status int, body []byte) {
	if c.log.GetLevel() > zerolog.DebugLevel {
		return
	}
	var decoded interface{}
	if err := json.Unmarshal(body, &decoded); err != nil {
		c.log.Debug().Str("method", method).Str("url", reqURL).Int("status", status).Msg("non-JSON response")
		return
	}
	c.log.Debug().
		Str("method", method).
		Str("url", reqURL).
		Int("status", status).
		Interface("body", Sanitize(decoded)).
		Msg("PBX response")
}

// getPaginated fetches every page of a listing, advancing start by the page
// size until a short or empty page, enforcing the item ceiling.
func getPaginated[T any](ctx context.Context, c *Client, path string, query url.Values) ([]T, error) {
	var items []T
	start := 0
	for {
		q := url.Values{}
		for k, vs := range query {
			q[k] = vs
		}
		q.Set("limit", strconv.Itoa(c.pageSize))
		q.Set("start", strconv.Itoa(start))

		raw, err := c.request(ctx, http.MethodGet, path, q, nil)
		if err != nil {
			return nil, err
		}
		if raw == nil {
			break
		}

		var batch []T
		if err := json.Unmarshal(raw, &batch); err != nil {
			return nil, fmt.Errorf("failed to decode page at %s: %w", path, err)
		}
		if len(batch) == 0 {
			break
		}

		items = append(items, batch...)
		if len(items) > c.maxItems {
			return nil, fmt.Errorf("%w: more than %d items at %s", ErrResourceLimit, c.maxItems, path)
		}
		if len(batch) < c.pageSize {
			break
		}
		start += c.pageSize
	}
	return items, nil
}

// GetCurrentUser resolves the user the bearer token belongs to.
func (c *Client) GetCurrentUser(ctx context.Context) (*models.NSUser, error) {
	raw, err := c.request(ctx, http.MethodGet, "/domains/~/users/~", nil, nil)
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, fmt.Errorf("current user not found")
	}
	var user models.NSUser
	if err := json.Unmarshal(raw, &user); err != nil {
		return nil, fmt.Errorf("failed to decode user: %w", err)
	}
	return &user, nil
}

// GetUser fetches one PBX user. Returns (nil, nil) when the user no longer
// exists on the PBX.
func (c *Client) GetUser(ctx context.Context, domain, user string) (*models.NSUser, error) {
	raw, err := c.request(ctx, http.MethodGet, "/domains/"+url.PathEscape(domain)+"/users/"+url.PathEscape(user), nil, nil)
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, nil
	}
	var u models.NSUser
	if err := json.Unmarshal(raw, &u); err != nil {
		return nil, fmt.Errorf("failed to decode user: %w", err)
	}
	return &u, nil
}

// GetUsers lists every user of a domain.
func (c *Client) GetUsers(ctx context.Context, domain string) ([]models.NSUser, error) {
	return getPaginated[models.NSUser](ctx, c, "/domains/"+url.PathEscape(domain)+"/users", nil)
}

// GetSubscriptions lists PBX-side subscriptions for a domain, optionally
// narrowed to one user.
func (c *Client) GetSubscriptions(ctx context.Context, domain, user string) ([]models.NSSubscription, error) {
	q := url.Values{}
	q.Set("domain", domain)
	if user != "" {
		q.Set("user", user)
	}
	return getPaginated[models.NSSubscription](ctx, c, "/subscriptions", q)
}

// CreateSubscription creates or re-registers a subscription on the PBX.
func (c *Client) CreateSubscription(ctx context.Context, domain, user, model, postURL string, expiresSeconds int) error {
	payload := map[string]interface{}{
		"subscription-geo-support": "yes",
		"user":                     user,
		"domain":                   domain,
		"model":                    model,
		"post-url":                 postURL,
	}
	if expiresSeconds > 0 {
		payload["expires"] = expiresSeconds
	}
	_, err := c.request(ctx, http.MethodPost, "/subscriptions", nil, payload)
	return err
}

// UpdateSubscription updates a PBX-side subscription by its PBX id.
func (c *Client) UpdateSubscription(ctx context.Context, subscriptionID, domain string, fields map[string]interface{}) error {
	payload := map[string]interface{}{"domain": domain}
	for k, v := range fields {
		payload[k] = v
	}
	_, err := c.request(ctx, http.MethodPut, "/subscriptions/"+url.PathEscape(subscriptionID), nil, payload)
	return err
}

// DeleteSubscription removes a PBX-side subscription by its PBX id.
func (c *Client) DeleteSubscription(ctx context.Context, subscriptionID, domain string) error {
	var body interface{}
	if domain != "" {
		body = map[string]interface{}{"domain": domain}
	}
	_, err := c.request(ctx, http.MethodDelete, "/subscriptions/"+url.PathEscape(subscriptionID), nil, body)
	return err
}
