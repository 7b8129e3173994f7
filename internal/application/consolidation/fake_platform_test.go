package consolidation

import (
	"context"
	"fmt"
	"sync"

	domain "github.com/erp/shipmerge/internal/domain/consolidation"
)

// fakeOrder is an order as the platform stores it, with free-form tag text
type fakeOrder struct {
	ID                string
	Name              string
	ShippingMethod    string
	TagText           string
	CustomerID        string
	FulfillmentStatus domain.FulfillmentStatus
}

// fakePlatform is an in-memory commerce platform implementing domain.Gateway
type fakePlatform struct {
	mu sync.Mutex

	orders     map[string]*fakeOrder
	listing    []string
	units      map[string][]domain.FulfillmentUnit
	hiddenFor  map[string]int
	warnHold   map[string][]string
	warnRel    map[string][]string
	rejectFul  map[string][]string
	failUnit   map[string]error
	failures   map[string]error
	writes     []string
	created    []domain.FulfillmentRequest
	unitsReads int
}

func newFakePlatform() *fakePlatform {
	return &fakePlatform{
		orders:    make(map[string]*fakeOrder),
		units:     make(map[string][]domain.FulfillmentUnit),
		hiddenFor: make(map[string]int),
		warnHold:  make(map[string][]string),
		warnRel:   make(map[string][]string),
		rejectFul: make(map[string][]string),
		failUnit:  make(map[string]error),
		failures:  make(map[string]error),
	}
}

var _ domain.Gateway = (*fakePlatform)(nil)

func (p *fakePlatform) addOrder(o fakeOrder, units ...domain.FulfillmentUnit) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if o.FulfillmentStatus == "" {
		o.FulfillmentStatus = domain.FulfillmentStatusNone
	}
	p.orders[o.ID] = &o
	p.listing = append(p.listing, o.ID)
	p.units[o.ID] = append([]domain.FulfillmentUnit(nil), units...)
}

// hideUnits makes the next n unit listings for orderID return nothing
func (p *fakePlatform) hideUnits(orderID string, n int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.hiddenFor[orderID] = n
}

func (p *fakePlatform) failOn(op string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failures[op] = err
}

func (p *fakePlatform) tags(orderID string) domain.TagSet {
	p.mu.Lock()
	defer p.mu.Unlock()
	return domain.ParseTags(p.orders[orderID].TagText)
}

func (p *fakePlatform) unitsOf(orderID string) []domain.FulfillmentUnit {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]domain.FulfillmentUnit(nil), p.units[orderID]...)
}

func (p *fakePlatform) writeLog() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.writes...)
}

func (p *fakePlatform) fulfillments() []domain.FulfillmentRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]domain.FulfillmentRequest(nil), p.created...)
}

// clone deep-copies the platform state
func (p *fakePlatform) clone() *fakePlatform {
	p.mu.Lock()
	defer p.mu.Unlock()
	c := newFakePlatform()
	for id, o := range p.orders {
		cp := *o
		c.orders[id] = &cp
	}
	c.listing = append([]string(nil), p.listing...)
	for id, us := range p.units {
		c.units[id] = append([]domain.FulfillmentUnit(nil), us...)
	}
	for k, v := range p.hiddenFor {
		c.hiddenFor[k] = v
	}
	for k, v := range p.warnHold {
		c.warnHold[k] = v
	}
	for k, v := range p.warnRel {
		c.warnRel[k] = v
	}
	for k, v := range p.rejectFul {
		c.rejectFul[k] = v
	}
	for k, v := range p.failUnit {
		c.failUnit[k] = v
	}
	c.writes = append([]string(nil), p.writes...)
	c.created = append([]domain.FulfillmentRequest(nil), p.created...)
	return c
}

// snapshot returns a comparable view of every order and unit
func (p *fakePlatform) snapshot() map[string]string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[string]string)
	for id, o := range p.orders {
		out["order:"+id] = fmt.Sprintf("%s|%s", domain.ParseTags(o.TagText).String(), o.FulfillmentStatus)
		for _, u := range p.units[id] {
			out["unit:"+u.ID] = fmt.Sprintf("%s|%t", u.Status, u.OnHold)
		}
	}
	out["fulfillments"] = fmt.Sprint(len(p.created))
	return out
}

func (p *fakePlatform) fail(op string) error {
	if err, ok := p.failures[op]; ok {
		return err
	}
	return nil
}

func (p *fakePlatform) FetchOrder(_ context.Context, orderID string) (*domain.Order, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.fail("fetch_order"); err != nil {
		return nil, err
	}
	o, ok := p.orders[orderID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrOrderNotFound, orderID)
	}
	ids := make([]string, 0, len(p.units[orderID]))
	for _, u := range p.units[orderID] {
		ids = append(ids, u.ID)
	}
	return &domain.Order{
		ID:                 o.ID,
		Name:               o.Name,
		ShippingMethod:     o.ShippingMethod,
		Tags:               domain.ParseTags(o.TagText),
		CustomerID:         o.CustomerID,
		FulfillmentStatus:  o.FulfillmentStatus,
		FulfillmentUnitIDs: ids,
	}, nil
}

func (p *fakePlatform) ListCustomerOrders(_ context.Context, customerID string) ([]domain.OrderSummary, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.fail("list_customer_orders"); err != nil {
		return nil, err
	}
	var out []domain.OrderSummary
	for _, id := range p.listing {
		o := p.orders[id]
		if o.CustomerID != customerID {
			continue
		}
		out = append(out, domain.OrderSummary{
			ID:                o.ID,
			Name:              o.Name,
			Tags:              domain.ParseTags(o.TagText),
			FulfillmentStatus: o.FulfillmentStatus,
		})
	}
	return out, nil
}

func (p *fakePlatform) UpdateTags(_ context.Context, orderID string, tagText string) (domain.WriteResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.fail("update_tags"); err != nil {
		return domain.WriteResult{}, err
	}
	o, ok := p.orders[orderID]
	if !ok {
		return domain.WriteResult{}, fmt.Errorf("%w: %s", domain.ErrOrderNotFound, orderID)
	}
	o.TagText = tagText
	p.writes = append(p.writes, fmt.Sprintf("update_tags %s %s", orderID, tagText))
	return domain.WriteResult{}, nil
}

func (p *fakePlatform) ListFulfillmentUnits(_ context.Context, orderID string) ([]domain.FulfillmentUnit, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.unitsReads++
	if err := p.fail("list_fulfillment_units"); err != nil {
		return nil, err
	}
	if p.hiddenFor[orderID] > 0 {
		p.hiddenFor[orderID]--
		return nil, nil
	}
	return append([]domain.FulfillmentUnit(nil), p.units[orderID]...), nil
}

func (p *fakePlatform) findUnit(unitID string) (string, int) {
	for orderID, us := range p.units {
		for i := range us {
			if us[i].ID == unitID {
				return orderID, i
			}
		}
	}
	return "", -1
}

func (p *fakePlatform) HoldFulfillmentUnits(_ context.Context, unitIDs []string, reasonNote string) ([]domain.UnitResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.fail("hold_fulfillment_units"); err != nil {
		return nil, err
	}
	results := make([]domain.UnitResult, 0, len(unitIDs))
	for _, id := range unitIDs {
		if err, ok := p.failUnit[id]; ok {
			return results, err
		}
		if w, ok := p.warnHold[id]; ok {
			results = append(results, domain.UnitResult{UnitID: id, Warnings: w})
			continue
		}
		orderID, i := p.findUnit(id)
		if i < 0 {
			results = append(results, domain.UnitResult{UnitID: id, Warnings: []string{"Fulfillment order does not exist."}})
			continue
		}
		p.units[orderID][i].OnHold = true
		p.units[orderID][i].Status = domain.UnitStatusOnHold
		p.writes = append(p.writes, fmt.Sprintf("hold %s %s", id, reasonNote))
		results = append(results, domain.UnitResult{UnitID: id})
	}
	return results, nil
}

func (p *fakePlatform) ReleaseFulfillmentHold(_ context.Context, unitID string) (domain.UnitResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.fail("release_fulfillment_hold"); err != nil {
		return domain.UnitResult{}, err
	}
	if w, ok := p.warnRel[unitID]; ok {
		return domain.UnitResult{UnitID: unitID, Warnings: w}, nil
	}
	orderID, i := p.findUnit(unitID)
	if i < 0 || !p.units[orderID][i].OnHold {
		return domain.UnitResult{UnitID: unitID, Warnings: []string{"Fulfillment order is not on hold."}}, nil
	}
	p.units[orderID][i].OnHold = false
	p.units[orderID][i].Status = domain.UnitStatusOpen
	p.writes = append(p.writes, "release "+unitID)
	return domain.UnitResult{UnitID: unitID}, nil
}

func (p *fakePlatform) CreateFulfillment(_ context.Context, req domain.FulfillmentRequest) (domain.WriteResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.fail("create_fulfillment"); err != nil {
		return domain.WriteResult{}, err
	}
	if msgs, ok := p.rejectFul[req.UnitID]; ok {
		return domain.WriteResult{}, &domain.RejectionError{Operation: "create_fulfillment", UnitID: req.UnitID, Messages: msgs}
	}
	orderID, i := p.findUnit(req.UnitID)
	if i < 0 {
		return domain.WriteResult{}, fmt.Errorf("%w: unknown fulfillment order %s", domain.ErrUpstream, req.UnitID)
	}
	p.units[orderID][i].Status = domain.UnitStatusClosed
	p.created = append(p.created, req)
	p.writes = append(p.writes, fmt.Sprintf("fulfill %s %s", req.UnitID, req.TrackingNumber))

	closed := 0
	for _, u := range p.units[orderID] {
		if u.Status.IsFinal() {
			closed++
		}
	}
	if closed == len(p.units[orderID]) {
		p.orders[orderID].FulfillmentStatus = domain.FulfillmentStatusFulfilled
	} else {
		p.orders[orderID].FulfillmentStatus = domain.FulfillmentStatusPartial
	}
	return domain.WriteResult{}, nil
}
