// Package consolidation contains the shipment consolidation bounded context.
// It decides, from the shipping method chosen at payment time, whether an order
// accumulates (is held for later) or ships express and pulls the customer's
// held orders into its shipment.
//
// Key concepts:
//   - TagSet: the order's tag collection, the only persisted state of this context
//   - OrderState: typed state derived from a TagSet, with validated transitions
//   - Gateway: port interface to the commerce platform (orders, fulfillment units)
//   - InboundEvent: a webhook topic plus its JSON payload
//
// Design Pattern: Ports & Adapters
//   - Ports (interfaces) are defined here in the domain layer
//   - Adapters (Shopify, dry-run) are in the infrastructure layer
package consolidation
