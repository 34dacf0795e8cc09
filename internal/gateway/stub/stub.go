// Package stub provides a deterministic in-memory ExchangeGateway used
// by tests and demo mode. Prices and failures are injected explicitly;
// there is no randomness.
package stub

import (
	"context"
	"fmt"
	"sync"

	"signal-trade-engine/internal/gateway"
)

type restingOrder struct {
	req    gateway.OrderRequest
	status gateway.OrderStatus
}

// Gateway is a scripted in-memory venue.
type Gateway struct {
	mu          sync.Mutex
	balance     gateway.Balance
	margin      gateway.MarginInfo
	constraints map[string]gateway.SymbolConstraints
	prices      map[string]float64
	positions   map[string]float64 // open quantity per instrument
	leverage    map[string]float64
	orders      map[string]*restingOrder
	stopPrices  map[string]float64
	nextID      int
	nativeStop  bool
	failures    map[string]error // op name -> injected error, consumed once
}

// New creates a stub gateway with a funded account and native stop
// support.
func New() *Gateway {
	return &Gateway{
		balance:     gateway.Balance{Available: 10000, Wallet: 10000},
		margin:      gateway.MarginInfo{Level: 999, UsagePercent: 0},
		constraints: make(map[string]gateway.SymbolConstraints),
		prices:      make(map[string]float64),
		positions:   make(map[string]float64),
		leverage:    make(map[string]float64),
		orders:      make(map[string]*restingOrder),
		stopPrices:  make(map[string]float64),
		nativeStop:  true,
		failures:    make(map[string]error),
	}
}

// SetBalance scripts the account balance.
func (g *Gateway) SetBalance(b gateway.Balance) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.balance = b
}

// SetMarginInfo scripts the margin snapshot.
func (g *Gateway) SetMarginInfo(m gateway.MarginInfo) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.margin = m
}

// SetConstraints scripts the symbol constraints for an instrument.
func (g *Gateway) SetConstraints(instrument string, c gateway.SymbolConstraints) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.constraints[instrument] = c
}

// SetPrice scripts the last traded price for an instrument.
func (g *Gateway) SetPrice(instrument string, price float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.prices[instrument] = price
}

// SetPositionSize scripts the open quantity for an instrument.
func (g *Gateway) SetPositionSize(instrument string, qty float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.positions[instrument] = qty
}

// DisableNativeStop makes SetStopPrice return ErrUnsupported, forcing
// the conditional-order fallback.
func (g *Gateway) DisableNativeStop() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.nativeStop = false
}

// FailNext injects an error for the next call of the named operation
// ("PlaceOrder", "SetStopPrice", "CancelOrder", ...). Consumed once.
func (g *Gateway) FailNext(op string, err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.failures[op] = err
}

// MarkFilled forces an order into Filled status regardless of price.
func (g *Gateway) MarkFilled(orderID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if o, ok := g.orders[orderID]; ok {
		o.status = gateway.OrderStatusFilled
	}
}

// PlacedOrders returns a copy of every order request placed so far,
// keyed by order ID.
func (g *Gateway) PlacedOrders() map[string]gateway.OrderRequest {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make(map[string]gateway.OrderRequest, len(g.orders))
	for id, o := range g.orders {
		out[id] = o.req
	}
	return out
}

// StopPrice returns the native stop price attached to an instrument and
// whether one is set.
func (g *Gateway) StopPrice(instrument string) (float64, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	p, ok := g.stopPrices[instrument]
	return p, ok
}

// Leverage returns the last leverage set for an instrument.
func (g *Gateway) Leverage(instrument string) float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.leverage[instrument]
}

func (g *Gateway) takeFailure(op string) error {
	if err, ok := g.failures[op]; ok {
		delete(g.failures, op)
		return err
	}
	return nil
}

// GetBalance returns the scripted balance.
func (g *Gateway) GetBalance(_ context.Context) (*gateway.Balance, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.takeFailure("GetBalance"); err != nil {
		return nil, err
	}
	b := g.balance
	return &b, nil
}

// GetMarginInfo returns the scripted margin snapshot.
func (g *Gateway) GetMarginInfo(_ context.Context) (*gateway.MarginInfo, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.takeFailure("GetMarginInfo"); err != nil {
		return nil, err
	}
	m := g.margin
	return &m, nil
}

// GetSymbolConstraints returns scripted constraints, or permissive
// defaults when none were scripted.
func (g *Gateway) GetSymbolConstraints(_ context.Context, instrument string) (*gateway.SymbolConstraints, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.takeFailure("GetSymbolConstraints"); err != nil {
		return nil, err
	}
	if c, ok := g.constraints[instrument]; ok {
		out := c
		return &out, nil
	}
	return &gateway.SymbolConstraints{LotStep: 0.001, MinQty: 0.001}, nil
}

// SetLeverage records the requested leverage.
func (g *Gateway) SetLeverage(_ context.Context, instrument string, leverage float64) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.takeFailure("SetLeverage"); err != nil {
		return err
	}
	g.leverage[instrument] = leverage
	return nil
}

// PlaceOrder accepts the order. Market orders execute immediately
// against the open position; limit and stop orders rest until price
// crosses them.
func (g *Gateway) PlaceOrder(_ context.Context, req *gateway.OrderRequest) (*gateway.OrderResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.takeFailure("PlaceOrder"); err != nil {
		return nil, err
	}
	if req.Quantity <= 0 {
		return nil, &gateway.VenueError{Code: "10001", Reason: "invalid qty"}
	}

	g.nextID++
	id := fmt.Sprintf("ORD-%d", g.nextID)

	o := &restingOrder{req: *req, status: gateway.OrderStatusOpen}
	if req.Type == gateway.OrderTypeMarket {
		o.status = gateway.OrderStatusFilled
		if req.ReduceOnly {
			remaining := g.positions[req.Instrument] - req.Quantity
			if remaining < 0 {
				remaining = 0
			}
			g.positions[req.Instrument] = remaining
		} else {
			g.positions[req.Instrument] += req.Quantity
		}
	}
	g.orders[id] = o

	return &gateway.OrderResult{OrderID: id}, nil
}

// SetStopPrice attaches a native stop when enabled.
func (g *Gateway) SetStopPrice(_ context.Context, instrument string, stopPrice float64) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.takeFailure("SetStopPrice"); err != nil {
		return err
	}
	if !g.nativeStop {
		return gateway.ErrUnsupported
	}
	g.stopPrices[instrument] = stopPrice
	return nil
}

// ClearStopPrice removes the native stop.
func (g *Gateway) ClearStopPrice(_ context.Context, instrument string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.takeFailure("ClearStopPrice"); err != nil {
		return err
	}
	if !g.nativeStop {
		return gateway.ErrUnsupported
	}
	delete(g.stopPrices, instrument)
	return nil
}

// CancelOrder removes a resting order.
func (g *Gateway) CancelOrder(_ context.Context, _ string, orderID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.takeFailure("CancelOrder"); err != nil {
		return err
	}
	if _, ok := g.orders[orderID]; !ok {
		return &gateway.VenueError{Code: "110001", Reason: "order not found"}
	}
	delete(g.orders, orderID)
	return nil
}

// GetOrderStatus evaluates resting orders against the scripted price:
// a sell limit fills at or above its price, a buy limit at or below, a
// stop order when the trigger side is crossed.
func (g *Gateway) GetOrderStatus(_ context.Context, _ string, orderID string) (gateway.OrderStatus, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.takeFailure("GetOrderStatus"); err != nil {
		return gateway.OrderStatusUnknown, err
	}

	o, ok := g.orders[orderID]
	if !ok {
		return gateway.OrderStatusUnknown, nil
	}
	if o.status == gateway.OrderStatusFilled {
		return o.status, nil
	}

	price, havePrice := g.prices[o.req.Instrument]
	if !havePrice {
		return o.status, nil
	}

	crossed := false
	switch o.req.Type {
	case gateway.OrderTypeLimit:
		if o.req.Side == gateway.SideSell {
			crossed = price >= o.req.Price
		} else {
			crossed = price <= o.req.Price
		}
	case gateway.OrderTypeStop:
		if o.req.Side == gateway.SideSell {
			crossed = price <= o.req.StopPrice
		} else {
			crossed = price >= o.req.StopPrice
		}
	}

	if crossed {
		o.status = gateway.OrderStatusFilled
		if o.req.ReduceOnly {
			remaining := g.positions[o.req.Instrument] - o.req.Quantity
			if remaining < 0 {
				remaining = 0
			}
			g.positions[o.req.Instrument] = remaining
		}
	}
	return o.status, nil
}

// GetOpenPositionSize returns the scripted open quantity.
func (g *Gateway) GetOpenPositionSize(_ context.Context, instrument string) (float64, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.takeFailure("GetOpenPositionSize"); err != nil {
		return 0, err
	}
	return g.positions[instrument], nil
}

// GetLastPrice returns the scripted price. Unscripted instruments
// report a venue error, matching a ticker miss.
func (g *Gateway) GetLastPrice(_ context.Context, instrument string) (float64, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.takeFailure("GetLastPrice"); err != nil {
		return 0, err
	}
	price, ok := g.prices[instrument]
	if !ok {
		return 0, &gateway.VenueError{Reason: "no ticker for " + instrument}
	}
	return price, nil
}

var _ gateway.ExchangeGateway = (*Gateway)(nil)
