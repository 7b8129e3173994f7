package consolidation

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Topic identifies the kind of inbound webhook event
type Topic string

const (
	// TopicOrderPaid is delivered when an order is paid
	TopicOrderPaid Topic = "orders/paid"
	// TopicFulfillmentCreated is delivered when a fulfillment is created
	TopicFulfillmentCreated Topic = "fulfillments/create"
)

// ParseTopic normalizes a topic header value
func ParseTopic(v string) Topic {
	return Topic(strings.ToLower(strings.TrimSpace(v)))
}

// IsHandled returns true if the topic is routed to a handler
func (t Topic) IsHandled() bool {
	return t == TopicOrderPaid || t == TopicFulfillmentCreated
}

// String returns the string representation of Topic
func (t Topic) String() string {
	return string(t)
}

// InboundEvent is a webhook delivery: topic plus raw JSON payload
type InboundEvent struct {
	Topic   Topic
	Payload json.RawMessage
}

// PlatformID accepts numeric or string ids from the platform
type PlatformID string

// UnmarshalJSON accepts numbers, strings and null
func (id *PlatformID) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "null" || s == "" {
		*id = ""
		return nil
	}
	if strings.HasPrefix(s, `"`) {
		var v string
		if err := json.Unmarshal(b, &v); err != nil {
			return err
		}
		*id = PlatformID(strings.TrimSpace(v))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("platform id: %w", err)
	}
	if _, err := strconv.ParseInt(n.String(), 10, 64); err != nil {
		return fmt.Errorf("platform id: %w", err)
	}
	*id = PlatformID(n.String())
	return nil
}

// String returns the string representation of PlatformID
func (id PlatformID) String() string {
	return string(id)
}

// ShippingLine is a shipping line on a paid order payload
type ShippingLine struct {
	Title string `json:"title"`
	Code  string `json:"code"`
}

// PaidOrderPayload is the subset of an order-paid payload this context reads
type PaidOrderPayload struct {
	ID            PlatformID     `json:"id"`
	Name          string         `json:"name"`
	Tags          string         `json:"tags"`
	ShippingLines []ShippingLine `json:"shipping_lines"`
	Customer      *struct {
		ID PlatformID `json:"id"`
	} `json:"customer"`
}

// ShippingMethod returns the first shipping line title, or its code
func (p *PaidOrderPayload) ShippingMethod() string {
	for _, l := range p.ShippingLines {
		if t := strings.TrimSpace(l.Title); t != "" {
			return t
		}
		if c := strings.TrimSpace(l.Code); c != "" {
			return c
		}
	}
	return ""
}

// FulfillmentCreatedPayload is the subset of a fulfillment-created payload this context reads
type FulfillmentCreatedPayload struct {
	ID              PlatformID `json:"id"`
	OrderID         PlatformID `json:"order_id"`
	TrackingNumber  string     `json:"tracking_number"`
	TrackingNumbers []string   `json:"tracking_numbers"`
	TrackingCompany string     `json:"tracking_company"`
	TrackingURL     string     `json:"tracking_url"`
	TrackingURLs    []string   `json:"tracking_urls"`
}

// Tracking returns the first non-empty tracking number and url
func (p *FulfillmentCreatedPayload) Tracking() (number, url string) {
	number = firstNonEmpty(append([]string{p.TrackingNumber}, p.TrackingNumbers...))
	url = firstNonEmpty(append([]string{p.TrackingURL}, p.TrackingURLs...))
	return number, url
}

func firstNonEmpty(values []string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

// DecodePaidOrder decodes an order-paid payload
func DecodePaidOrder(payload []byte) (*PaidOrderPayload, error) {
	var p PaidOrderPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedInput, err)
	}
	return &p, nil
}

// DecodeFulfillmentCreated decodes a fulfillment-created payload
func DecodeFulfillmentCreated(payload []byte) (*FulfillmentCreatedPayload, error) {
	var p FulfillmentCreatedPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedInput, err)
	}
	return &p, nil
}
