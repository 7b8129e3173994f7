package ecommerce

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// ShopifyConfig holds configuration for the Shopify Admin API
type ShopifyConfig struct {
	// ShopDomain is the shop host ("example.myshopify.com"). A scheme may be
	// included to point the adapter at another endpoint.
	ShopDomain string `validate:"required"`
	// APIVersion is the Admin API version segment, e.g. "2024-10"
	APIVersion string `validate:"datetime=2006-01|eq=unstable"`
	// TimeoutSeconds is the HTTP request timeout
	TimeoutSeconds int `validate:"lte=300"`
	// MaxListPages bounds pagination when listing customer orders
	MaxListPages int `validate:"lte=1000"`
}

const (
	// DefaultShopifyAPIVersion is the Admin API version used when none is configured
	DefaultShopifyAPIVersion = "2024-10"

	defaultShopifyTimeoutSeconds = 30
	defaultShopifyMaxListPages   = 20
)

// Errors for Shopify configuration
var (
	ErrShopifyConfigMissingShopDomain = errors.New("shopify: shop domain is required")
	ErrShopifyConfigInvalidShopDomain = errors.New("shopify: shop domain must not contain a path")
	ErrShopifyConfigInvalid           = errors.New("shopify: invalid configuration")
)

var configValidator = validator.New()

// NewShopifyConfig creates a new Shopify configuration with defaults
func NewShopifyConfig(shopDomain string) *ShopifyConfig {
	return &ShopifyConfig{
		ShopDomain:     shopDomain,
		APIVersion:     DefaultShopifyAPIVersion,
		TimeoutSeconds: defaultShopifyTimeoutSeconds,
		MaxListPages:   defaultShopifyMaxListPages,
	}
}

// Validate validates the configuration and fills in defaults
func (c *ShopifyConfig) Validate() error {
	c.ShopDomain = strings.TrimSuffix(strings.TrimSpace(c.ShopDomain), "/")
	if c.ShopDomain == "" {
		return ErrShopifyConfigMissingShopDomain
	}
	host := c.ShopDomain
	if i := strings.Index(host, "://"); i >= 0 {
		host = host[i+3:]
	}
	if strings.Contains(host, "/") {
		return ErrShopifyConfigInvalidShopDomain
	}
	if c.APIVersion == "" {
		c.APIVersion = DefaultShopifyAPIVersion
	}
	if c.TimeoutSeconds <= 0 {
		c.TimeoutSeconds = defaultShopifyTimeoutSeconds
	}
	if c.MaxListPages <= 0 {
		c.MaxListPages = defaultShopifyMaxListPages
	}

	if err := configValidator.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return fmt.Errorf("%w: %s failed %q validation", ErrShopifyConfigInvalid, verrs[0].Field(), verrs[0].Tag())
		}
		return fmt.Errorf("%w: %v", ErrShopifyConfigInvalid, err)
	}
	return nil
}

// BaseURL returns the shop origin with scheme
func (c *ShopifyConfig) BaseURL() string {
	if strings.HasPrefix(c.ShopDomain, "http://") || strings.HasPrefix(c.ShopDomain, "https://") {
		return c.ShopDomain
	}
	return "https://" + c.ShopDomain
}

// AdminURL returns the versioned Admin API url for path
func (c *ShopifyConfig) AdminURL(path string) string {
	return c.BaseURL() + "/admin/api/" + c.APIVersion + "/" + strings.TrimPrefix(path, "/")
}
