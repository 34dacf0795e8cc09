package ladder

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"signal-trade-engine/internal/domain"
	"signal-trade-engine/internal/gateway"
)

// ErrStopNotPlaced is returned when no stop placement strategy
// succeeded.
var ErrStopNotPlaced = errors.New("no stop placement strategy succeeded")

const nativeStopPrefix = "TRADING_STOP_"

// StopPlacer is one strategy for attaching a protective stop. Placers
// are tried in order until one succeeds.
type StopPlacer interface {
	// Name identifies the strategy in logs.
	Name() string

	// Place attaches a stop at stopPrice and returns the order ID that
	// identifies it for later cancellation.
	Place(ctx context.Context, pos *domain.Position, stopPrice float64) (string, error)
}

// NativeStopPlacer uses the venue's position-attached stop. Preferred:
// it needs no resting order and replaces itself on update.
type NativeStopPlacer struct {
	gw gateway.ExchangeGateway
}

// NewNativeStopPlacer creates the native-stop strategy.
func NewNativeStopPlacer(gw gateway.ExchangeGateway) *NativeStopPlacer {
	return &NativeStopPlacer{gw: gw}
}

// Name implements StopPlacer.
func (p *NativeStopPlacer) Name() string { return "trading-stop" }

// Place implements StopPlacer.
func (p *NativeStopPlacer) Place(ctx context.Context, pos *domain.Position, stopPrice float64) (string, error) {
	if err := p.gw.SetStopPrice(ctx, pos.Instrument, stopPrice); err != nil {
		return "", err
	}
	return nativeStopPrefix + pos.Instrument, nil
}

// ConditionalStopPlacer rests a reduce-only stop order sized at the
// venue's current open quantity. Fallback when the venue has no native
// stop.
type ConditionalStopPlacer struct {
	gw gateway.ExchangeGateway
}

// NewConditionalStopPlacer creates the conditional-order strategy.
func NewConditionalStopPlacer(gw gateway.ExchangeGateway) *ConditionalStopPlacer {
	return &ConditionalStopPlacer{gw: gw}
}

// Name implements StopPlacer.
func (p *ConditionalStopPlacer) Name() string { return "conditional-order" }

// Place implements StopPlacer.
func (p *ConditionalStopPlacer) Place(ctx context.Context, pos *domain.Position, stopPrice float64) (string, error) {
	size, err := p.gw.GetOpenPositionSize(ctx, pos.Instrument)
	if err != nil {
		return "", fmt.Errorf("query position size: %w", err)
	}
	if size <= 0 {
		return "", ErrNoOpenQuantity
	}

	result, err := p.gw.PlaceOrder(ctx, &gateway.OrderRequest{
		Instrument: pos.Instrument,
		Side:       gateway.CloseSide(pos.Direction),
		Type:       gateway.OrderTypeStop,
		Quantity:   size,
		StopPrice:  stopPrice,
		ReduceOnly: true,
	})
	if err != nil {
		return "", err
	}
	return result.OrderID, nil
}

// IsNativeStop reports whether an order ID refers to a position-attached
// stop rather than a resting order.
func IsNativeStop(orderID string) bool {
	return strings.HasPrefix(orderID, nativeStopPrefix)
}

var (
	_ StopPlacer = (*NativeStopPlacer)(nil)
	_ StopPlacer = (*ConditionalStopPlacer)(nil)
)
