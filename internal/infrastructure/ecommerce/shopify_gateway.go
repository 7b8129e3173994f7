package ecommerce

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	domain "github.com/erp/shipmerge/internal/domain/consolidation"
	"github.com/erp/shipmerge/internal/infrastructure/telemetry"
)

// maxResponseSize is the maximum allowed response size from the Admin API (10MB)
const maxResponseSize = 10 * 1024 * 1024

const accessTokenHeader = "X-Shopify-Access-Token"

// TokenSource supplies the Admin API access token
type TokenSource interface {
	Get(ctx context.Context, now time.Time) (string, error)
	Refresh(ctx context.Context, now time.Time) (string, error)
}

// ShopifyGateway implements the consolidation Gateway against the Shopify
// Admin REST and GraphQL APIs
type ShopifyGateway struct {
	config     *ShopifyConfig
	httpClient *http.Client
	tokens     TokenSource
	logger     *zap.Logger
	metrics    *telemetry.ConsolidationMetrics
	now        func() time.Time
}

var _ domain.Gateway = (*ShopifyGateway)(nil)

// NewShopifyGateway creates a new Shopify gateway with the given configuration
func NewShopifyGateway(config *ShopifyConfig, tokens TokenSource, logger *zap.Logger) (*ShopifyGateway, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if tokens == nil {
		return nil, errors.New("shopify: token source is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &ShopifyGateway{
		config: config,
		httpClient: &http.Client{
			Timeout: time.Duration(config.TimeoutSeconds) * time.Second,
		},
		tokens: tokens,
		logger: logger,
		now:    time.Now,
	}, nil
}

// SetMetrics sets the metrics recorder (optional)
func (g *ShopifyGateway) SetMetrics(m *telemetry.ConsolidationMetrics) {
	g.metrics = m
}

// ---------------------------------------------------------------------------
// Reads
// ---------------------------------------------------------------------------

// FetchOrder reads one order by id
func (g *ShopifyGateway) FetchOrder(ctx context.Context, orderID string) (*domain.Order, error) {
	const op = "fetch_order"
	endpoint := g.config.AdminURL("orders/" + url.PathEscape(orderID) + ".json")

	body, _, err := g.doRequest(ctx, op, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}

	var env shopifyOrderEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", domain.ErrInvalidResponse, op, err)
	}
	if env.Order == nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrOrderNotFound, orderID)
	}
	return env.Order.toDomain(), nil
}

// ListCustomerOrders lists every order of the customer, following page links
func (g *ShopifyGateway) ListCustomerOrders(ctx context.Context, customerID string) ([]domain.OrderSummary, error) {
	const op = "list_customer_orders"
	q := url.Values{}
	q.Set("customer_id", customerID)
	q.Set("status", "any")
	q.Set("limit", "250")
	q.Set("fields", "id,name,tags,fulfillment_status")
	next := g.config.AdminURL("orders.json") + "?" + q.Encode()

	var out []domain.OrderSummary
	for page := 0; next != ""; page++ {
		if page >= g.config.MaxListPages {
			g.logger.Warn("Customer order listing truncated",
				zap.String("customer_id", customerID),
				zap.Int("pages", page))
			break
		}

		body, header, err := g.doRequest(ctx, op, http.MethodGet, next, nil)
		if err != nil {
			return nil, err
		}

		var env shopifyOrdersEnvelope
		if err := json.Unmarshal(body, &env); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", domain.ErrInvalidResponse, op, err)
		}
		for i := range env.Orders {
			out = append(out, env.Orders[i].toSummary())
		}
		next = nextPageURL(header.Get("Link"))
	}
	return out, nil
}

// ListFulfillmentUnits lists the order's fulfillment orders
func (g *ShopifyGateway) ListFulfillmentUnits(ctx context.Context, orderID string) ([]domain.FulfillmentUnit, error) {
	const op = "list_fulfillment_units"
	endpoint := g.config.AdminURL("orders/" + url.PathEscape(orderID) + "/fulfillment_orders.json")

	body, _, err := g.doRequest(ctx, op, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}

	var env shopifyFulfillmentOrdersEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", domain.ErrInvalidResponse, op, err)
	}

	units := make([]domain.FulfillmentUnit, 0, len(env.FulfillmentOrders))
	for i := range env.FulfillmentOrders {
		units = append(units, env.FulfillmentOrders[i].toDomain())
	}
	return units, nil
}

// ---------------------------------------------------------------------------
// Writes
// ---------------------------------------------------------------------------

// UpdateTags replaces the order's tag text
func (g *ShopifyGateway) UpdateTags(ctx context.Context, orderID string, tagText string) (domain.WriteResult, error) {
	const op = "update_tags"
	var payload shopifyTagUpdate
	payload.Order.ID = orderID
	payload.Order.Tags = tagText

	body, err := json.Marshal(payload)
	if err != nil {
		return domain.WriteResult{}, fmt.Errorf("shopify: failed to encode tags: %w", err)
	}

	endpoint := g.config.AdminURL("orders/" + url.PathEscape(orderID) + ".json")
	if _, _, err := g.doRequest(ctx, op, http.MethodPut, endpoint, body); err != nil {
		return domain.WriteResult{}, err
	}

	g.metrics.RecordWrite(ctx, op, false)
	return domain.WriteResult{}, nil
}

// HoldFulfillmentUnits places a hold on each fulfillment order in turn.
// User errors become warnings on that unit's result. A transport error stops
// the loop and is returned with the results of the units already attempted.
func (g *ShopifyGateway) HoldFulfillmentUnits(ctx context.Context, unitIDs []string, reasonNote string) ([]domain.UnitResult, error) {
	const op = "hold_fulfillment_unit"
	results := make([]domain.UnitResult, 0, len(unitIDs))

	for _, id := range unitIDs {
		var resp holdResponse
		err := g.graphQL(ctx, op, holdMutation, map[string]any{
			"id": fulfillmentOrderGID(id),
			"hold": map[string]any{
				"reason":         "OTHER",
				"reasonNotes":    reasonNote,
				"notifyMerchant": false,
			},
		}, &resp)
		if err != nil {
			return results, err
		}

		g.metrics.RecordWrite(ctx, op, false)
		results = append(results, domain.UnitResult{
			UnitID:   id,
			Warnings: userErrorMessages(resp.FulfillmentOrderHold.UserErrors),
		})
	}
	return results, nil
}

// ReleaseFulfillmentHold releases the hold on one fulfillment order
func (g *ShopifyGateway) ReleaseFulfillmentHold(ctx context.Context, unitID string) (domain.UnitResult, error) {
	const op = "release_fulfillment_hold"
	var resp releaseResponse
	err := g.graphQL(ctx, op, releaseMutation, map[string]any{
		"id": fulfillmentOrderGID(unitID),
	}, &resp)
	if err != nil {
		return domain.UnitResult{}, err
	}

	g.metrics.RecordWrite(ctx, op, false)
	return domain.UnitResult{
		UnitID:   unitID,
		Warnings: userErrorMessages(resp.FulfillmentOrderReleaseHold.UserErrors),
	}, nil
}

// CreateFulfillment creates a fulfillment with tracking info on one fulfillment order.
// User errors are returned as a *domain.RejectionError.
func (g *ShopifyGateway) CreateFulfillment(ctx context.Context, req domain.FulfillmentRequest) (domain.WriteResult, error) {
	const op = "create_fulfillment"
	tracking := map[string]any{
		"number":  req.TrackingNumber,
		"company": req.TrackingCompany,
	}
	if req.TrackingURL != "" {
		tracking["url"] = req.TrackingURL
	}

	vars := map[string]any{
		"fulfillment": map[string]any{
			"lineItemsByFulfillmentOrder": []map[string]any{
				{"fulfillmentOrderId": fulfillmentOrderGID(req.UnitID)},
			},
			"trackingInfo":   tracking,
			"notifyCustomer": true,
		},
	}
	if req.Message != "" {
		vars["message"] = req.Message
	}

	var resp fulfillmentCreateResponse
	if err := g.graphQL(ctx, op, fulfillmentCreateMutation, vars, &resp); err != nil {
		return domain.WriteResult{}, err
	}
	if msgs := userErrorMessages(resp.FulfillmentCreate.UserErrors); len(msgs) > 0 {
		g.metrics.RecordWrite(ctx, op, false)
		return domain.WriteResult{}, &domain.RejectionError{
			Operation: op,
			UnitID:    req.UnitID,
			Messages:  msgs,
		}
	}

	g.metrics.RecordWrite(ctx, op, false)
	return domain.WriteResult{}, nil
}

// ---------------------------------------------------------------------------
// Transport
// ---------------------------------------------------------------------------

func (g *ShopifyGateway) graphQL(ctx context.Context, op, query string, vars map[string]any, out any) error {
	body, err := json.Marshal(graphQLRequest{Query: query, Variables: vars})
	if err != nil {
		return fmt.Errorf("shopify: failed to encode %s: %w", op, err)
	}

	raw, _, err := g.doRequest(ctx, op, http.MethodPost, g.config.AdminURL("graphql.json"), body)
	if err != nil {
		return err
	}

	var env struct {
		Data   json.RawMessage `json:"data"`
		Errors []graphQLError  `json:"errors"`
	}
	if err := json.Unmarshal(raw, &env); err != nil {
		return fmt.Errorf("%w: %s: %v", domain.ErrInvalidResponse, op, err)
	}
	if len(env.Errors) > 0 {
		msgs := make([]string, 0, len(env.Errors))
		var cause error
		for _, e := range env.Errors {
			msgs = append(msgs, e.Message)
			if e.Extensions.Code == "THROTTLED" {
				cause = domain.ErrRateLimited
			}
		}
		return &domain.UpstreamError{Operation: op, Message: strings.Join(msgs, "; "), Err: cause}
	}
	if len(env.Data) == 0 || string(env.Data) == "null" {
		return fmt.Errorf("%w: %s: empty data", domain.ErrInvalidResponse, op)
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("%w: %s: %v", domain.ErrInvalidResponse, op, err)
	}
	return nil
}

// doRequest performs an authenticated request. A 401 refreshes the access
// token and retries once.
func (g *ShopifyGateway) doRequest(ctx context.Context, op, method, endpoint string, body []byte) ([]byte, http.Header, error) {
	ctx, span := telemetry.StartSpan(ctx, "shopify."+op,
		telemetry.WithAttribute("http.method", method))
	defer span.End()

	token, err := g.tokens.Get(ctx, g.now())
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, nil, err
	}

	for attempt := 0; ; attempt++ {
		status, respBody, header, err := g.send(ctx, method, endpoint, token, body)
		if err != nil {
			telemetry.RecordError(span, err)
			return nil, nil, &domain.UpstreamError{Operation: op, Message: err.Error(), Err: err}
		}
		telemetry.SetAttribute(span, "http.status_code", status)

		if status == http.StatusUnauthorized && attempt == 0 {
			g.logger.Info("Access token rejected, refreshing", zap.String("operation", op))
			if token, err = g.tokens.Refresh(ctx, g.now()); err != nil {
				telemetry.RecordError(span, err)
				return nil, nil, err
			}
			continue
		}

		if status >= 200 && status < 300 {
			return respBody, header, nil
		}

		upErr := &domain.UpstreamError{
			Operation:  op,
			StatusCode: status,
			Message:    restErrorMessage(respBody),
		}
		switch status {
		case http.StatusTooManyRequests:
			upErr.Err = domain.ErrRateLimited
		case http.StatusNotFound:
			upErr.Err = domain.ErrOrderNotFound
		}
		telemetry.RecordError(span, upErr)
		return nil, nil, upErr
	}
}

func (g *ShopifyGateway) send(ctx context.Context, method, endpoint, token string, body []byte) (int, []byte, http.Header, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return 0, nil, nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set(accessTokenHeader, token)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return 0, nil, nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return 0, nil, nil, fmt.Errorf("failed to read response: %w", err)
	}
	return resp.StatusCode, respBody, resp.Header, nil
}

func restErrorMessage(body []byte) string {
	var e shopifyRESTError
	if err := json.Unmarshal(body, &e); err != nil || e.Errors == nil {
		return strings.TrimSpace(string(body))
	}
	switch v := e.Errors.(type) {
	case string:
		return v
	default:
		b, _ := json.Marshal(v)
		return string(b)
	}
}

// nextPageURL extracts the rel="next" target from a Link header
func nextPageURL(link string) string {
	for _, part := range strings.Split(link, ",") {
		segs := strings.Split(part, ";")
		if len(segs) < 2 {
			continue
		}
		target := strings.TrimSpace(segs[0])
		if !strings.HasPrefix(target, "<") || !strings.HasSuffix(target, ">") {
			continue
		}
		for _, p := range segs[1:] {
			if strings.TrimSpace(p) == `rel="next"` {
				return strings.Trim(target, "<>")
			}
		}
	}
	return ""
}
