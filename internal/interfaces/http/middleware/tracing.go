// Package middleware provides HTTP middleware for the webhook server.
package middleware

import (
	"net/http"

	"github.com/erp/shipmerge/internal/infrastructure/logger"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Constants for trace attribute validation.
const (
	// MaxRequestIDLength is the maximum length for request IDs to prevent DoS via large headers.
	MaxRequestIDLength = 128
	// MaxHeaderAttributeLength caps webhook header values copied onto spans.
	MaxHeaderAttributeLength = 128
)

// Webhook headers copied onto the request span
const (
	ShopifyTopicHeader     = "X-Shopify-Topic"
	ShopifyWebhookIDHeader = "X-Shopify-Webhook-Id"
	ShopifyShopHeader      = "X-Shopify-Shop-Domain"
)

// TracingConfig holds configuration for the tracing middleware.
type TracingConfig struct {
	// ServiceName is the name of the service for trace identification.
	ServiceName string
	// Enabled controls whether tracing is active.
	Enabled bool
}

// TracingWithConfig returns OpenTelemetry tracing middleware with custom configuration.
// The span name follows the format "HTTP METHOD route_pattern"
// (e.g. "POST /webhooks/shopify"). Place TracingAttributeInjector after it
// to add request and webhook attributes.
func TracingWithConfig(cfg TracingConfig) gin.HandlerFunc {
	if !cfg.Enabled {
		return func(c *gin.Context) {
			c.Next()
		}
	}
	return otelgin.Middleware(cfg.ServiceName)
}

// TracingAttributeInjector returns a middleware that injects request_id and
// the webhook delivery headers into the current span.
func TracingAttributeInjector() gin.HandlerFunc {
	return func(c *gin.Context) {
		span := trace.SpanFromContext(c.Request.Context())
		if span.IsRecording() {
			enrichSpanWithAttributes(c, span)
		}
		c.Next()
	}
}

// enrichSpanWithAttributes adds custom attributes to the span from the request context.
func enrichSpanWithAttributes(c *gin.Context, span trace.Span) {
	if requestID := getRequestID(c); requestID != "" {
		span.SetAttributes(attribute.String("request_id", requestID))
	}
	if topic := headerAttribute(c, ShopifyTopicHeader); topic != "" {
		span.SetAttributes(attribute.String("webhook.topic", topic))
	}
	if id := headerAttribute(c, ShopifyWebhookIDHeader); id != "" {
		span.SetAttributes(attribute.String("webhook.id", id))
	}
	if shop := headerAttribute(c, ShopifyShopHeader); shop != "" {
		span.SetAttributes(attribute.String("webhook.shop", shop))
	}
}

// getRequestID retrieves the request ID from the gin context or header.
// Header values are truncated to prevent abuse.
func getRequestID(c *gin.Context) string {
	if id := c.GetString(logger.GinRequestIDKey); id != "" {
		return id
	}
	headerID := c.GetHeader(RequestIDHeader)
	if len(headerID) > MaxRequestIDLength {
		return headerID[:MaxRequestIDLength]
	}
	return headerID
}

func headerAttribute(c *gin.Context, name string) string {
	v := c.GetHeader(name)
	if len(v) > MaxHeaderAttributeLength {
		return v[:MaxHeaderAttributeLength]
	}
	return v
}

// SpanErrorMarker returns a middleware that marks spans with error status
// for HTTP error responses (4xx/5xx).
// This should be placed AFTER the Tracing middleware in the middleware chain.
func SpanErrorMarker() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		span := trace.SpanFromContext(c.Request.Context())
		if !span.IsRecording() {
			return
		}

		statusCode := c.Writer.Status()
		if statusCode < http.StatusBadRequest {
			return
		}

		var errorMessage string
		switch {
		case statusCode >= http.StatusInternalServerError:
			errorMessage = "Internal Server Error"
		case statusCode == http.StatusUnauthorized:
			errorMessage = "Unauthorized"
		case statusCode == http.StatusMethodNotAllowed:
			errorMessage = "Method Not Allowed"
		case statusCode == http.StatusRequestEntityTooLarge:
			errorMessage = "Payload Too Large"
		default:
			errorMessage = "Client Error"
		}

		span.SetStatus(codes.Error, errorMessage)
		span.SetAttributes(attribute.Int("http.status_code", statusCode))
	}
}
