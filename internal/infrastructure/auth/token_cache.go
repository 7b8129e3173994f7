package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	domain "github.com/erp/shipmerge/internal/domain/consolidation"
)

const (
	// DefaultTokenSkew is subtracted from the grant lifetime so a token is
	// refreshed before the platform rejects it
	DefaultTokenSkew = 60 * time.Second

	maxTokenResponseSize = 1 << 20
)

// TokenCacheConfig holds the access credential settings for one shop
type TokenCacheConfig struct {
	// ShopDomain is the shop host, e.g. "example.myshopify.com"
	ShopDomain   string
	ClientID     string
	ClientSecret string
	// StaticToken, when set, is returned as-is and the grant is never called
	StaticToken string
	Skew        time.Duration
	HTTPClient  *http.Client
	Logger      *zap.Logger
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
	Scope       string `json:"scope"`
}

// TokenCache caches a client-credentials access token and refreshes it
// ahead of expiry. Concurrent refreshes share one grant request.
type TokenCache struct {
	cfg       TokenCacheConfig
	client    *http.Client
	logger    *zap.Logger
	group     singleflight.Group
	mu        sync.RWMutex
	token     string
	expiresAt time.Time
}

// NewTokenCache creates a token cache
func NewTokenCache(cfg TokenCacheConfig) *TokenCache {
	if cfg.Skew <= 0 {
		cfg.Skew = DefaultTokenSkew
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TokenCache{
		cfg:    cfg,
		client: client,
		logger: logger,
	}
}

// Get returns a valid access token, fetching a new one when the cached
// token is missing or within the skew of its expiry
func (c *TokenCache) Get(ctx context.Context, now time.Time) (string, error) {
	if c.cfg.StaticToken != "" {
		return c.cfg.StaticToken, nil
	}

	c.mu.RLock()
	token, expiresAt := c.token, c.expiresAt
	c.mu.RUnlock()

	if token != "" && (expiresAt.IsZero() || now.Before(expiresAt)) {
		return token, nil
	}
	return c.Refresh(ctx, now)
}

// Refresh discards the cached token and performs the grant
func (c *TokenCache) Refresh(ctx context.Context, now time.Time) (string, error) {
	if c.cfg.StaticToken != "" {
		return c.cfg.StaticToken, nil
	}

	v, err, _ := c.group.Do("token", func() (any, error) {
		resp, err := c.fetch(ctx)
		if err != nil {
			return "", err
		}

		expiresAt := tokenExpiry(now, resp.ExpiresIn, c.cfg.Skew)
		c.mu.Lock()
		c.token = resp.AccessToken
		c.expiresAt = expiresAt
		c.mu.Unlock()

		c.logger.Debug("Access token refreshed",
			zap.String("shop", c.cfg.ShopDomain),
			zap.Time("expires_at", expiresAt))
		return resp.AccessToken, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// tokenExpiry returns when a token granted at now should be replaced. A zero
// time means the token does not expire. The skew never exceeds half the
// token lifetime.
func tokenExpiry(now time.Time, expiresIn int64, skew time.Duration) time.Time {
	if expiresIn <= 0 {
		return time.Time{}
	}
	lifetime := time.Duration(expiresIn) * time.Second
	if skew > lifetime/2 {
		skew = lifetime / 2
	}
	return now.Add(lifetime - skew)
}

func (c *TokenCache) fetch(ctx context.Context) (*tokenResponse, error) {
	if c.cfg.ClientID == "" || c.cfg.ClientSecret == "" {
		return nil, fmt.Errorf("%w: client credentials not configured", domain.ErrCredentialsFetch)
	}

	body, err := json.Marshal(map[string]string{
		"client_id":     c.cfg.ClientID,
		"client_secret": c.cfg.ClientSecret,
		"grant_type":    "client_credentials",
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrCredentialsFetch, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.tokenURL(), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrCredentialsFetch, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrCredentialsFetch, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxTokenResponseSize))
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", domain.ErrCredentialsFetch, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: HTTP %d: %s", domain.ErrCredentialsFetch, resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	var out tokenResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("%w: decode response: %v", domain.ErrCredentialsFetch, err)
	}
	if out.AccessToken == "" {
		return nil, fmt.Errorf("%w: response carried no access token", domain.ErrCredentialsFetch)
	}
	return &out, nil
}

func (c *TokenCache) tokenURL() string {
	shop := strings.TrimSuffix(c.cfg.ShopDomain, "/")
	if !strings.HasPrefix(shop, "http://") && !strings.HasPrefix(shop, "https://") {
		shop = "https://" + shop
	}
	return shop + "/admin/oauth/access_token"
}
