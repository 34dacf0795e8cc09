// Package ladder manages the protective orders attached to one open
// position: the take-profit rungs, the stop-loss and its breakeven and
// trailing migrations, and the emergency close. All operations assume
// the caller holds the position's lock.
package ladder

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"signal-trade-engine/internal/domain"
	"signal-trade-engine/internal/events"
	"signal-trade-engine/internal/gateway"
	"signal-trade-engine/internal/risk"
)

// Ladder errors.
var (
	// ErrNoOpenQuantity is returned when the venue reports no open
	// quantity for the instrument.
	ErrNoOpenQuantity = errors.New("no open quantity on venue")

	// ErrInvalidTarget is returned for a target price on the wrong side
	// of entry. The failure is per rung; other rungs proceed.
	ErrInvalidTarget = errors.New("target price on wrong side of entry")

	// ErrInvalidStop is returned for a stop price on the wrong side of
	// entry.
	ErrInvalidStop = errors.New("stop price on wrong side of entry")
)

const defaultCallTimeout = 10 * time.Second

// Ladder drives protective-order operations through the gateway.
type Ladder struct {
	gw          gateway.ExchangeGateway
	limits      *risk.Limits
	sink        events.Sink
	logger      *log.Logger
	callTimeout time.Duration
	placers     []StopPlacer
}

// Options configures a Ladder.
type Options struct {
	Gateway     gateway.ExchangeGateway
	Limits      *risk.Limits
	Sink        events.Sink   // optional
	Logger      *log.Logger   // optional
	CallTimeout time.Duration // per gateway call, default 10s
	StopPlacers []StopPlacer  // default: native stop, then conditional order
}

// New creates a ladder.
func New(opts Options) *Ladder {
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = defaultCallTimeout
	}
	if len(opts.StopPlacers) == 0 {
		opts.StopPlacers = []StopPlacer{
			NewNativeStopPlacer(opts.Gateway),
			NewConditionalStopPlacer(opts.Gateway),
		}
	}
	return &Ladder{
		gw:          opts.Gateway,
		limits:      opts.Limits,
		sink:        opts.Sink,
		logger:      opts.Logger,
		callTimeout: opts.CallTimeout,
		placers:     opts.StopPlacers,
	}
}

// bounded derives a per-call context so one stuck venue call cannot
// stall the reconciliation of other positions.
func (l *Ladder) bounded(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, l.callTimeout)
}

// Setup places the take-profit rungs and the protective stop for a
// freshly opened position. Failures are isolated per rung: one invalid
// or rejected rung never aborts the rest.
func (l *Ladder) Setup(ctx context.Context, pos *domain.Position) error {
	lim := l.limits.Snapshot()

	cctx, cancel := l.bounded(ctx)
	size, err := l.gw.GetOpenPositionSize(cctx, pos.Instrument)
	cancel()
	if err != nil {
		return fmt.Errorf("query position size for %s: %w", pos.Instrument, err)
	}
	if size <= 0 {
		return ErrNoOpenQuantity
	}

	cctx, cancel = l.bounded(ctx)
	constraints, err := l.gw.GetSymbolConstraints(cctx, pos.Instrument)
	cancel()
	if err != nil {
		l.logger.Printf("symbol constraints unavailable for %s: %v", pos.Instrument, err)
		constraints = nil
	}

	placed := 0
	for idx, price := range pos.Targets {
		if err := l.placeTarget(ctx, pos, &lim, idx, price, size, constraints); err != nil {
			l.logger.Printf("TP%d for %s not placed: %v", idx, pos.Instrument, err)
			continue
		}
		placed++
	}

	if pos.StopLoss != nil {
		if err := l.setStop(ctx, pos, *pos.StopLoss, true); err != nil {
			l.logger.Printf("SL for %s not placed: %v", pos.Instrument, err)
		}
	}

	pos.State = domain.PositionStateOpen
	l.logger.Printf("ladder for %s: %d/%d targets placed", pos.Instrument, placed, len(pos.Targets))
	return nil
}

// placeTarget validates and places one reduce-only take-profit rung.
func (l *Ladder) placeTarget(ctx context.Context, pos *domain.Position, lim *domain.RiskLimits, idx int, price, size float64, constraints *gateway.SymbolConstraints) error {
	if pos.Direction == domain.DirectionLong && price <= pos.EntryPrice {
		return fmt.Errorf("rung %d at %.8f: %w", idx, price, ErrInvalidTarget)
	}
	if pos.Direction == domain.DirectionShort && price >= pos.EntryPrice {
		return fmt.Errorf("rung %d at %.8f: %w", idx, price, ErrInvalidTarget)
	}

	percent := 100.0
	if lim.PartialCloseEnabled && len(lim.PartialClosePercents) > 0 {
		i := idx
		// The last configured rung absorbs the remainder of the ladder.
		if i >= len(lim.PartialClosePercents) {
			i = len(lim.PartialClosePercents) - 1
		}
		percent = lim.PartialClosePercents[i]
	}

	qty := size * percent / 100
	if constraints != nil {
		qty = gateway.FormatQuantity(qty, constraints)
	}
	if qty <= 0 {
		return fmt.Errorf("rung %d quantity rounds to zero", idx)
	}

	cctx, cancel := l.bounded(ctx)
	result, err := l.gw.PlaceOrder(cctx, &gateway.OrderRequest{
		Instrument: pos.Instrument,
		Side:       gateway.CloseSide(pos.Direction),
		Type:       gateway.OrderTypeLimit,
		Quantity:   qty,
		Price:      price,
		ReduceOnly: true,
	})
	cancel()
	if err != nil {
		return err
	}

	pos.TPOrders[idx] = &domain.TPOrder{
		OrderID:      result.OrderID,
		Price:        price,
		Quantity:     qty,
		ClosePercent: percent,
	}
	return nil
}

// setStop runs the stop placement chain. When validate is set, a stop
// on the profitable side of entry is rejected; breakeven and trailing
// migrations pass validate=false since they intentionally cross entry.
func (l *Ladder) setStop(ctx context.Context, pos *domain.Position, stopPrice float64, validate bool) error {
	if validate && !pos.TrailingActive {
		if pos.Direction == domain.DirectionLong && stopPrice >= pos.EntryPrice {
			return fmt.Errorf("stop %.8f above long entry %.8f: %w", stopPrice, pos.EntryPrice, ErrInvalidStop)
		}
		if pos.Direction == domain.DirectionShort && stopPrice <= pos.EntryPrice {
			return fmt.Errorf("stop %.8f below short entry %.8f: %w", stopPrice, pos.EntryPrice, ErrInvalidStop)
		}
	}

	for _, placer := range l.placers {
		cctx, cancel := l.bounded(ctx)
		orderID, err := placer.Place(cctx, pos, stopPrice)
		cancel()
		if err != nil {
			if !errors.Is(err, gateway.ErrUnsupported) {
				l.logger.Printf("stop via %s for %s failed: %v", placer.Name(), pos.Instrument, err)
			}
			continue
		}
		pos.SLOrderID = orderID
		return nil
	}
	return ErrStopNotPlaced
}

// cancelStop removes the position's current stop, whatever its form.
func (l *Ladder) cancelStop(ctx context.Context, pos *domain.Position) {
	if pos.SLOrderID == "" {
		return
	}

	cctx, cancel := l.bounded(ctx)
	defer cancel()

	var err error
	if IsNativeStop(pos.SLOrderID) {
		err = l.gw.ClearStopPrice(cctx, pos.Instrument)
	} else {
		err = l.gw.CancelOrder(cctx, pos.Instrument, pos.SLOrderID)
	}
	if err != nil {
		l.logger.Printf("cancel stop for %s failed: %v", pos.Instrument, err)
	}
	pos.SLOrderID = ""
}

// MoveToBreakeven migrates the stop to entry, or beyond entry when
// profit protection applies. Idempotent: a position already at
// breakeven is a no-op.
func (l *Ladder) MoveToBreakeven(ctx context.Context, pos *domain.Position) error {
	if pos.SLMovedToBreakeven {
		return nil
	}

	lim := l.limits.Snapshot()

	breakeven := pos.EntryPrice
	if lim.ProfitProtectionPercentage > 0 && pos.MaxProfitPercent > 0 {
		protected := pos.MaxProfitPercent * lim.ProfitProtectionPercentage / 100
		if pos.Direction == domain.DirectionLong {
			breakeven = pos.EntryPrice * (1 + protected/100)
		} else {
			breakeven = pos.EntryPrice * (1 - protected/100)
		}
		l.logger.Printf("moving SL to protect %.1f%% profit for %s", protected, pos.Instrument)
	}

	l.cancelStop(ctx, pos)
	if err := l.setStop(ctx, pos, breakeven, false); err != nil {
		return fmt.Errorf("breakeven stop for %s: %w", pos.Instrument, err)
	}

	pos.SLMovedToBreakeven = true
	pos.StopLoss = &breakeven
	l.logger.Printf("SL moved to breakeven for %s at %.8f", pos.Instrument, breakeven)
	events.Publish(l.sink, events.TypeBreakevenActivated, pos.Instrument, map[string]interface{}{
		"stop_price": breakeven,
	})
	return nil
}

// UpdateTrailingStop tightens the trailing stop when price sets a new
// favorable excursion high. The stop is monotonic: a candidate less
// favorable than the current trailing stop is never applied. Reports
// whether the stop moved.
func (l *Ladder) UpdateTrailingStop(ctx context.Context, pos *domain.Position, currentPrice float64) bool {
	lim := l.limits.Snapshot()
	if !lim.TrailingStopEnabled || currentPrice <= 0 {
		return false
	}

	profit := pos.GainPercentAt(currentPrice)
	if profit <= pos.MaxProfitPercent || profit <= 0 {
		return false
	}
	pos.MaxProfitPercent = profit

	var candidate float64
	if pos.Direction == domain.DirectionLong {
		candidate = currentPrice * (1 - lim.TrailingStopPercentage/100)
		if pos.TrailingActive && candidate <= pos.TrailingStopPrice {
			return false
		}
	} else {
		candidate = currentPrice * (1 + lim.TrailingStopPercentage/100)
		if pos.TrailingActive && candidate >= pos.TrailingStopPrice {
			return false
		}
	}

	l.cancelStop(ctx, pos)
	if err := l.setStop(ctx, pos, candidate, false); err != nil {
		l.logger.Printf("trailing stop for %s not placed: %v", pos.Instrument, err)
		return false
	}

	pos.TrailingStopPrice = candidate
	pos.TrailingActive = true
	l.logger.Printf("trailing stop for %s moved to %.8f", pos.Instrument, candidate)
	events.Publish(l.sink, events.TypeTrailingStopMoved, pos.Instrument, map[string]interface{}{
		"stop_price": candidate,
	})
	return true
}

// CheckTargetsByPrice marks targets crossed by the current price and
// returns the newly filled rung indices. Fills are monotonic: a filled
// rung is never re-reported. The breakeven-trigger rung filling invokes
// MoveToBreakeven.
func (l *Ladder) CheckTargetsByPrice(ctx context.Context, pos *domain.Position, currentPrice float64) []int {
	if len(pos.Targets) == 0 || currentPrice <= 0 {
		return nil
	}

	lim := l.limits.Snapshot()
	pos.LastObservedPrice = currentPrice
	pos.CheckCount++

	var newlyFilled []int
	for idx, target := range pos.Targets {
		if pos.FilledTargets[idx] {
			continue
		}

		reached := false
		if pos.Direction == domain.DirectionLong {
			reached = currentPrice >= target
		} else {
			reached = currentPrice <= target
		}
		if !reached {
			continue
		}

		pos.FilledTargets[idx] = true
		newlyFilled = append(newlyFilled, idx)
		l.logger.Printf("target %d reached for %s", idx, pos.Instrument)

		if lim.PartialCloseEnabled {
			if tp := pos.TPOrders[idx]; tp != nil {
				pos.PartialCloseExecuted[idx] = tp.ClosePercent
			}
		}
	}

	if len(newlyFilled) == 0 {
		return nil
	}

	if pos.State == domain.PositionStateOpen {
		pos.State = domain.PositionStatePartiallyFilled
	}
	events.Publish(l.sink, events.TypeTargetsHit, pos.Instrument, map[string]interface{}{
		"targets": newlyFilled,
		"price":   currentPrice,
	})

	for _, idx := range newlyFilled {
		if idx == pos.BreakevenTarget && !pos.SLMovedToBreakeven {
			if err := l.MoveToBreakeven(ctx, pos); err != nil {
				l.logger.Printf("breakeven after TP%d for %s failed: %v", idx, pos.Instrument, err)
			}
		}
	}
	l.UpdateTrailingStop(ctx, pos, currentPrice)

	return newlyFilled
}

// CheckEmergencyStop force-closes the position at market when the
// adverse excursion reaches the emergency threshold. Latched: once the
// position is closed this reports false forever, so the loss is acted
// on exactly once.
func (l *Ladder) CheckEmergencyStop(ctx context.Context, pos *domain.Position, currentPrice float64) (bool, error) {
	if pos.State == domain.PositionStateClosed || currentPrice <= 0 {
		return false, nil
	}

	lim := l.limits.Snapshot()
	loss := -pos.GainPercentAt(currentPrice)
	if loss < lim.EmergencyStopLoss {
		return false, nil
	}

	l.logger.Printf("EMERGENCY STOP for %s: loss %.2f%% >= %.2f%%", pos.Instrument, loss, lim.EmergencyStopLoss)
	events.Publish(l.sink, events.TypeEmergencyStop, pos.Instrument, map[string]interface{}{
		"loss_percent": loss,
		"price":        currentPrice,
	})

	if err := l.CloseMarket(ctx, pos); err != nil {
		return false, fmt.Errorf("emergency close %s: %w", pos.Instrument, err)
	}

	pos.State = domain.PositionStateClosed
	return true, nil
}

// CloseMarket closes the remaining open quantity at market. A position
// already flat on the venue is a no-op.
func (l *Ladder) CloseMarket(ctx context.Context, pos *domain.Position) error {
	cctx, cancel := l.bounded(ctx)
	size, err := l.gw.GetOpenPositionSize(cctx, pos.Instrument)
	cancel()
	if err != nil {
		return fmt.Errorf("query position size for %s: %w", pos.Instrument, err)
	}
	if size <= 0 {
		return nil
	}

	cctx, cancel = l.bounded(ctx)
	_, err = l.gw.PlaceOrder(cctx, &gateway.OrderRequest{
		Instrument: pos.Instrument,
		Side:       gateway.CloseSide(pos.Direction),
		Type:       gateway.OrderTypeMarket,
		Quantity:   size,
		ReduceOnly: true,
	})
	cancel()
	if err != nil {
		return fmt.Errorf("market close %s: %w", pos.Instrument, err)
	}
	return nil
}

// OrderFilled reports whether a ladder order has filled on the venue.
// Transport failures read as not-filled; the next tick retries.
func (l *Ladder) OrderFilled(ctx context.Context, pos *domain.Position, orderID string) bool {
	cctx, cancel := l.bounded(ctx)
	defer cancel()

	status, err := l.gw.GetOrderStatus(cctx, pos.Instrument, orderID)
	if err != nil {
		l.logger.Printf("order status for %s %s: %v", pos.Instrument, orderID, err)
		return false
	}
	return status == gateway.OrderStatusFilled || status == gateway.OrderStatusPartiallyFilled
}
