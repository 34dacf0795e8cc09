// Package gateway defines the abstract exchange contract the engine
// drives. Implementations wrap a venue SDK; tests and demo mode use the
// deterministic stub implementation.
package gateway

import (
	"context"

	"signal-trade-engine/internal/domain"
)

// Side of an order.
type Side string

// Order sides.
const (
	SideBuy  Side = "Buy"
	SideSell Side = "Sell"
)

// OpenSide returns the order side that opens a position of the given
// direction.
func OpenSide(dir domain.Direction) Side {
	if dir == domain.DirectionShort {
		return SideSell
	}
	return SideBuy
}

// CloseSide returns the order side that reduces a position of the given
// direction.
func CloseSide(dir domain.Direction) Side {
	if dir == domain.DirectionShort {
		return SideBuy
	}
	return SideSell
}

// OrderType of an order.
type OrderType string

// Order types.
const (
	OrderTypeMarket OrderType = "Market"
	OrderTypeLimit  OrderType = "Limit"
	OrderTypeStop   OrderType = "Stop"
)

// OrderStatus as reported by the venue.
type OrderStatus string

// Order statuses.
const (
	OrderStatusFilled          OrderStatus = "Filled"
	OrderStatusPartiallyFilled OrderStatus = "PartiallyFilled"
	OrderStatusOpen            OrderStatus = "Open"
	OrderStatusUnknown         OrderStatus = "Unknown"
)

// Balance is the account balance snapshot.
type Balance struct {
	Available float64 // free margin
	Wallet    float64 // total wallet balance
	Margin    float64 // margin in use
}

// MarginInfo is the account margin snapshot.
type MarginInfo struct {
	Level        float64 // available/used margin as %
	Used         float64
	UsagePercent float64
}

// SymbolConstraints are the venue's order size rules for one instrument.
type SymbolConstraints struct {
	LotStep float64 // quantity step size
	MinQty  float64
	MaxQty  float64 // 0 means no cap
}

// PositionMode is the venue position index: 0 for one-way mode, 1/2 for
// the long/short legs in hedge mode. The engine trades one-way; the
// field exists for venue adapters that require an explicit index.
type PositionMode int

// Position modes.
const (
	PositionModeOneWay     PositionMode = 0
	PositionModeHedgeLong  PositionMode = 1
	PositionModeHedgeShort PositionMode = 2
)

// OrderRequest describes an order to place.
type OrderRequest struct {
	Instrument   string
	Side         Side
	Type         OrderType
	Quantity     float64
	Price        float64 // limit price, ignored for market orders
	StopPrice    float64 // trigger price for stop orders
	ReduceOnly   bool
	PositionMode PositionMode
}

// OrderResult is the venue's acknowledgment of a placed order.
type OrderResult struct {
	OrderID string
}

// ExchangeGateway is the venue contract consumed by the engine. All
// calls are network I/O: fallible and bounded by the context deadline.
type ExchangeGateway interface {
	// GetBalance returns the account balance snapshot.
	GetBalance(ctx context.Context) (*Balance, error)

	// GetMarginInfo returns the account margin snapshot.
	GetMarginInfo(ctx context.Context) (*MarginInfo, error)

	// GetSymbolConstraints returns order size rules for an instrument.
	GetSymbolConstraints(ctx context.Context, instrument string) (*SymbolConstraints, error)

	// SetLeverage sets the leverage used for subsequent orders.
	SetLeverage(ctx context.Context, instrument string, leverage float64) error

	// PlaceOrder submits an order. Returns a VenueError on rejection.
	PlaceOrder(ctx context.Context, req *OrderRequest) (*OrderResult, error)

	// SetStopPrice attaches a protective stop to the open position.
	// Returns ErrUnsupported when the venue has no native stop, in which
	// case callers fall back to a conditional stop order.
	SetStopPrice(ctx context.Context, instrument string, stopPrice float64) error

	// ClearStopPrice removes a previously attached native stop.
	ClearStopPrice(ctx context.Context, instrument string) error

	// CancelOrder cancels a resting order.
	CancelOrder(ctx context.Context, instrument, orderID string) error

	// GetOrderStatus reports the venue-side status of an order.
	GetOrderStatus(ctx context.Context, instrument, orderID string) (OrderStatus, error)

	// GetOpenPositionSize returns the current open quantity, 0 when flat.
	GetOpenPositionSize(ctx context.Context, instrument string) (float64, error)

	// GetLastPrice returns the last traded price.
	GetLastPrice(ctx context.Context, instrument string) (float64, error)
}
