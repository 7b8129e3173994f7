package handler

import (
	"context"
	"errors"
	"io"
	"net/http"

	app "github.com/erp/shipmerge/internal/application/consolidation"
	domain "github.com/erp/shipmerge/internal/domain/consolidation"
	"github.com/erp/shipmerge/internal/infrastructure/logger"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Shopify delivery headers
const (
	HeaderShopifyTopic     = "X-Shopify-Topic"
	HeaderShopifyHmac      = "X-Shopify-Hmac-Sha256"
	HeaderShopifyWebhookID = "X-Shopify-Webhook-Id"
)

// DefaultMaxWebhookPayloadSize applies when the handler is built without a limit
const DefaultMaxWebhookPayloadSize = 2 << 20

// WebhookProcessor runs a verified delivery through the consolidation flow
type WebhookProcessor interface {
	ProcessWebhook(ctx context.Context, eventID, topic string, payload []byte) (*app.WebhookResult, error)
}

// SignatureVerifier checks the delivery signature over the raw body
type SignatureVerifier interface {
	Verify(body []byte, signature string) error
}

// ShopifyWebhookHandler handles Shopify webhook endpoints.
// These endpoints are called by the platform and authenticate with the
// HMAC signature instead of a session.
type ShopifyWebhookHandler struct {
	processor      WebhookProcessor
	verifier       SignatureVerifier
	maxPayloadSize int64
	logger         *zap.Logger
}

// NewShopifyWebhookHandler creates a new ShopifyWebhookHandler
func NewShopifyWebhookHandler(processor WebhookProcessor, verifier SignatureVerifier, maxPayloadSize int64, log *zap.Logger) *ShopifyWebhookHandler {
	if maxPayloadSize <= 0 {
		maxPayloadSize = DefaultMaxWebhookPayloadSize
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &ShopifyWebhookHandler{
		processor:      processor,
		verifier:       verifier,
		maxPayloadSize: maxPayloadSize,
		logger:         log,
	}
}

// WebhookResponse represents the response for a webhook delivery
type WebhookResponse struct {
	Received  bool        `json:"received"`
	EventID   string      `json:"event_id,omitempty"`
	Topic     string      `json:"topic,omitempty"`
	Outcome   app.Outcome `json:"outcome,omitempty"`
	Processed bool        `json:"processed"`
	DryRun    bool        `json:"dry_run"`
	Message   string      `json:"message,omitempty"`
}

// HandleWebhook receives a Shopify delivery.
//
// Status codes: 405 for methods other than POST, 413 for oversized bodies,
// 401 for a missing or mismatched signature, 400 for a payload that is not
// valid JSON, 200 for everything else including deliveries whose processing
// hit a platform error.
func (h *ShopifyWebhookHandler) HandleWebhook(c *gin.Context) {
	if c.Request.Method != http.MethodPost {
		c.Header("Allow", http.MethodPost)
		c.JSON(http.StatusMethodNotAllowed, WebhookResponse{
			Message: "Method not allowed",
		})
		return
	}

	ctx := c.Request.Context()
	if id := c.GetHeader(HeaderShopifyWebhookID); id != "" {
		ctx = logger.WithWebhookID(ctx, id)
		c.Request = c.Request.WithContext(ctx)
	}
	log := logger.Enrich(ctx, h.logger)

	// Signature verification needs the raw body
	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, h.maxPayloadSize+1))
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			h.tooLarge(c)
			return
		}
		c.JSON(http.StatusBadRequest, WebhookResponse{
			Message: "Failed to read request body",
		})
		return
	}
	if int64(len(payload)) > h.maxPayloadSize {
		h.tooLarge(c)
		return
	}

	signature := c.GetHeader(HeaderShopifyHmac)
	if signature == "" {
		log.Warn("Webhook rejected: missing signature")
		c.JSON(http.StatusUnauthorized, WebhookResponse{
			Message: "Missing " + HeaderShopifyHmac + " header",
		})
		return
	}
	if err := h.verifier.Verify(payload, signature); err != nil {
		log.Warn("Webhook rejected: signature mismatch", zap.Error(err))
		c.JSON(http.StatusUnauthorized, WebhookResponse{
			Message: "Webhook signature verification failed",
		})
		return
	}

	topic := c.GetHeader(HeaderShopifyTopic)
	result, err := h.processor.ProcessWebhook(ctx, c.GetHeader(HeaderShopifyWebhookID), topic, payload)
	if err != nil {
		if errors.Is(err, domain.ErrMalformedInput) {
			c.JSON(http.StatusBadRequest, WebhookResponse{
				Topic:   topic,
				Message: "Malformed webhook payload",
			})
			return
		}
		// Retried deliveries would hit the same failure, so acknowledge
		log.Error("Webhook processing failed", zap.String("topic", topic), zap.Error(err))
		c.JSON(http.StatusOK, WebhookResponse{
			Received: true,
			Topic:    topic,
			Message:  "Webhook received but processing encountered an issue",
		})
		return
	}

	c.JSON(http.StatusOK, WebhookResponse{
		Received:  true,
		EventID:   result.EventID,
		Topic:     result.EventType,
		Outcome:   result.Outcome,
		Processed: result.Processed,
		DryRun:    result.DryRun,
		Message:   result.Message,
	})
}

func (h *ShopifyWebhookHandler) tooLarge(c *gin.Context) {
	c.JSON(http.StatusRequestEntityTooLarge, WebhookResponse{
		Message: "Payload too large",
	})
}

// RegisterRoutes mounts the webhook endpoints. Every method is routed here
// so that non-POST requests get 405 instead of 404.
func (h *ShopifyWebhookHandler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.Any("/webhooks", h.HandleWebhook)
	rg.Any("/webhooks/shopify", h.HandleWebhook)
}
