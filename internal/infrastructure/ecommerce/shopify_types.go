package ecommerce

import (
	"strings"

	domain "github.com/erp/shipmerge/internal/domain/consolidation"
)

// ---------------------------------------------------------------------------
// REST payloads
// ---------------------------------------------------------------------------

// shopifyOrder is the REST order resource subset read by the adapter
type shopifyOrder struct {
	ID                domain.PlatformID `json:"id"`
	Name              string            `json:"name"`
	Tags              string            `json:"tags"`
	FulfillmentStatus *string           `json:"fulfillment_status"`
	ShippingLines     []struct {
		Title string `json:"title"`
		Code  string `json:"code"`
	} `json:"shipping_lines"`
	Customer *struct {
		ID domain.PlatformID `json:"id"`
	} `json:"customer"`
}

type shopifyOrderEnvelope struct {
	Order *shopifyOrder `json:"order"`
}

type shopifyOrdersEnvelope struct {
	Orders []shopifyOrder `json:"orders"`
}

// shopifyFulfillmentOrder is the REST fulfillment order subset
type shopifyFulfillmentOrder struct {
	ID               domain.PlatformID `json:"id"`
	Status           string            `json:"status"`
	FulfillmentHolds []struct {
		Reason      string `json:"reason"`
		ReasonNotes string `json:"reason_notes"`
	} `json:"fulfillment_holds"`
}

type shopifyFulfillmentOrdersEnvelope struct {
	FulfillmentOrders []shopifyFulfillmentOrder `json:"fulfillment_orders"`
}

type shopifyTagUpdate struct {
	Order struct {
		ID   string `json:"id"`
		Tags string `json:"tags"`
	} `json:"order"`
}

type shopifyRESTError struct {
	Errors any `json:"errors"`
}

// ---------------------------------------------------------------------------
// GraphQL payloads
// ---------------------------------------------------------------------------

type graphQLRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

type graphQLError struct {
	Message    string `json:"message"`
	Extensions struct {
		Code string `json:"code"`
	} `json:"extensions"`
}

type userError struct {
	Field   []string `json:"field"`
	Message string   `json:"message"`
}

func (e userError) String() string {
	if len(e.Field) == 0 {
		return e.Message
	}
	return strings.Join(e.Field, ".") + ": " + e.Message
}

func userErrorMessages(errs []userError) []string {
	if len(errs) == 0 {
		return nil
	}
	out := make([]string, 0, len(errs))
	for _, e := range errs {
		out = append(out, e.String())
	}
	return out
}

type mutationPayload struct {
	UserErrors []userError `json:"userErrors"`
}

const holdMutation = `mutation HoldFulfillmentOrder($id: ID!, $hold: FulfillmentOrderHoldInput!) {
  fulfillmentOrderHold(id: $id, fulfillmentHold: $hold) {
    fulfillmentOrder { id status }
    userErrors { field message }
  }
}`

const releaseMutation = `mutation ReleaseFulfillmentOrderHold($id: ID!) {
  fulfillmentOrderReleaseHold(id: $id) {
    fulfillmentOrder { id status }
    userErrors { field message }
  }
}`

const fulfillmentCreateMutation = `mutation CreateFulfillment($fulfillment: FulfillmentInput!, $message: String) {
  fulfillmentCreate(fulfillment: $fulfillment, message: $message) {
    fulfillment { id status }
    userErrors { field message }
  }
}`

type holdResponse struct {
	FulfillmentOrderHold mutationPayload `json:"fulfillmentOrderHold"`
}

type releaseResponse struct {
	FulfillmentOrderReleaseHold mutationPayload `json:"fulfillmentOrderReleaseHold"`
}

type fulfillmentCreateResponse struct {
	FulfillmentCreate mutationPayload `json:"fulfillmentCreate"`
}

// ---------------------------------------------------------------------------
// Mapping
// ---------------------------------------------------------------------------

const fulfillmentOrderGIDPrefix = "gid://shopify/FulfillmentOrder/"

// fulfillmentOrderGID converts a numeric fulfillment order id to its GraphQL id
func fulfillmentOrderGID(id string) string {
	if strings.HasPrefix(id, "gid://") {
		return id
	}
	return fulfillmentOrderGIDPrefix + id
}

func (o *shopifyOrder) toDomain() *domain.Order {
	out := &domain.Order{
		ID:                o.ID.String(),
		Name:              o.Name,
		Tags:              domain.ParseTags(o.Tags),
		FulfillmentStatus: parseShopifyFulfillmentStatus(o.FulfillmentStatus),
	}
	for _, l := range o.ShippingLines {
		if t := strings.TrimSpace(l.Title); t != "" {
			out.ShippingMethod = t
			break
		}
		if c := strings.TrimSpace(l.Code); c != "" {
			out.ShippingMethod = c
			break
		}
	}
	if o.Customer != nil {
		out.CustomerID = o.Customer.ID.String()
	}
	return out
}

func (o *shopifyOrder) toSummary() domain.OrderSummary {
	return domain.OrderSummary{
		ID:                o.ID.String(),
		Name:              o.Name,
		Tags:              domain.ParseTags(o.Tags),
		FulfillmentStatus: parseShopifyFulfillmentStatus(o.FulfillmentStatus),
	}
}

func parseShopifyFulfillmentStatus(v *string) domain.FulfillmentStatus {
	if v == nil {
		return domain.FulfillmentStatusNone
	}
	return domain.ParseFulfillmentStatus(*v)
}

func (f *shopifyFulfillmentOrder) toDomain() domain.FulfillmentUnit {
	status := domain.ParseUnitStatus(f.Status)
	return domain.FulfillmentUnit{
		ID:     f.ID.String(),
		Status: status,
		OnHold: status == domain.UnitStatusOnHold || len(f.FulfillmentHolds) > 0,
	}
}
