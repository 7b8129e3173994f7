package consolidation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTopic(t *testing.T) {
	assert.Equal(t, TopicOrderPaid, ParseTopic(" Orders/Paid "))
	assert.True(t, TopicFulfillmentCreated.IsHandled())
	assert.False(t, ParseTopic("orders/create").IsHandled())
}

func TestDecodePaidOrder(t *testing.T) {
	p, err := DecodePaidOrder([]byte(`{
		"id": 820982911946154508,
		"name": "#1001",
		"tags": "vip",
		"shipping_lines": [{"title": "", "code": "express"}, {"title": "Standard"}],
		"customer": {"id": "115310627314723954"}
	}`))
	require.NoError(t, err)
	assert.Equal(t, PlatformID("820982911946154508"), p.ID)
	assert.Equal(t, "#1001", p.Name)
	assert.Equal(t, "express", p.ShippingMethod())
	require.NotNil(t, p.Customer)
	assert.Equal(t, "115310627314723954", p.Customer.ID.String())
}

func TestDecodePaidOrder_Malformed(t *testing.T) {
	_, err := DecodePaidOrder([]byte(`{"id": `))
	assert.ErrorIs(t, err, ErrMalformedInput)

	_, err = DecodePaidOrder([]byte(`{"id": 1.5}`))
	assert.ErrorIs(t, err, ErrMalformedInput)
}

func TestDecodeFulfillmentCreated(t *testing.T) {
	p, err := DecodeFulfillmentCreated([]byte(`{
		"id": 255858046,
		"order_id": 450789469,
		"tracking_number": null,
		"tracking_numbers": ["", "T123"],
		"tracking_company": "UPS",
		"tracking_urls": ["https://track.example/T123"]
	}`))
	require.NoError(t, err)
	assert.Equal(t, "450789469", p.OrderID.String())

	number, url := p.Tracking()
	assert.Equal(t, "T123", number)
	assert.Equal(t, "https://track.example/T123", url)
}

func TestDecodeFulfillmentCreated_NoOrderID(t *testing.T) {
	p, err := DecodeFulfillmentCreated([]byte(`{"order_id": null}`))
	require.NoError(t, err)
	assert.Empty(t, p.OrderID)

	number, url := p.Tracking()
	assert.Empty(t, number)
	assert.Empty(t, url)
}
