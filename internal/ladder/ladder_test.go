package ladder

import (
	"context"
	"errors"
	"io"
	"log"
	"strings"
	"testing"

	"signal-trade-engine/internal/domain"
	"signal-trade-engine/internal/events"
	"signal-trade-engine/internal/gateway"
	"signal-trade-engine/internal/gateway/stub"
	"signal-trade-engine/internal/risk"
	"signal-trade-engine/internal/storage/memory"
)

type captureSink struct {
	published []events.Event
}

func (s *captureSink) Publish(e events.Event) {
	s.published = append(s.published, e)
}

func (s *captureSink) ofType(typ events.Type) []events.Event {
	var out []events.Event
	for _, e := range s.published {
		if e.Type == typ {
			out = append(out, e)
		}
	}
	return out
}

type fixture struct {
	gw     *stub.Gateway
	limits *risk.Limits
	sink   *captureSink
	ladder *Ladder
}

func newFixture(t *testing.T, mutate func(*domain.RiskLimits)) *fixture {
	t.Helper()

	gw := stub.New()
	limits := risk.NewLimits(memory.NewRiskLimitsStore())

	lim := domain.DefaultRiskLimits()
	if mutate != nil {
		mutate(&lim)
	}
	if err := limits.Update(context.Background(), lim); err != nil {
		t.Fatalf("update limits: %v", err)
	}

	sink := &captureSink{}
	return &fixture{
		gw:     gw,
		limits: limits,
		sink:   sink,
		ladder: New(Options{
			Gateway: gw,
			Limits:  limits,
			Sink:    sink,
			Logger:  log.New(io.Discard, "", 0),
		}),
	}
}

func longPosition(targets []float64, stop float64) *domain.Position {
	sig := &domain.Signal{
		Instrument: "BTCUSDT",
		Direction:  domain.DirectionLong,
		EntryPrice: 100,
		Targets:    targets,
		StopLoss:   &stop,
	}
	return domain.NewPosition(sig, "ORD-ENTRY", 1.0, 10, 100, 0, 1700000000000)
}

func shortPosition(targets []float64, stop float64) *domain.Position {
	sig := &domain.Signal{
		Instrument: "ETHUSDT",
		Direction:  domain.DirectionShort,
		EntryPrice: 100,
		Targets:    targets,
		StopLoss:   &stop,
	}
	return domain.NewPosition(sig, "ORD-ENTRY", 1.0, 10, 100, 0, 1700000000000)
}

func TestSetupPlacesRungsAndStop(t *testing.T) {
	f := newFixture(t, nil)
	f.gw.SetPositionSize("BTCUSDT", 1.0)

	pos := longPosition([]float64{110, 120, 130}, 95)
	if err := f.ladder.Setup(context.Background(), pos); err != nil {
		t.Fatalf("Setup: %v", err)
	}

	if pos.State != domain.PositionStateOpen {
		t.Fatalf("state = %s, want %s", pos.State, domain.PositionStateOpen)
	}
	if len(pos.TPOrders) != 3 {
		t.Fatalf("TP orders = %d, want 3", len(pos.TPOrders))
	}

	wantPct := []float64{25, 50, 75}
	for idx, pct := range wantPct {
		tp := pos.TPOrders[idx]
		if tp == nil {
			t.Fatalf("rung %d missing", idx)
		}
		if tp.ClosePercent != pct {
			t.Errorf("rung %d close percent = %.1f, want %.1f", idx, tp.ClosePercent, pct)
		}
		if tp.Quantity != pct/100 {
			t.Errorf("rung %d quantity = %.4f, want %.4f", idx, tp.Quantity, pct/100)
		}
	}

	for _, req := range f.gw.PlacedOrders() {
		if req.Type == gateway.OrderTypeLimit {
			if !req.ReduceOnly {
				t.Error("take-profit rung must be reduce-only")
			}
			if req.Side != gateway.SideSell {
				t.Errorf("long ladder rung side = %s, want Sell", req.Side)
			}
		}
	}

	stopPrice, ok := f.gw.StopPrice("BTCUSDT")
	if !ok {
		t.Fatal("native stop not set")
	}
	if stopPrice != 95 {
		t.Errorf("stop price = %.2f, want 95", stopPrice)
	}
	if !IsNativeStop(pos.SLOrderID) {
		t.Errorf("SL order ID = %q, want native stop", pos.SLOrderID)
	}
}

func TestSetupLastRungAbsorbsExtraTargets(t *testing.T) {
	f := newFixture(t, nil)
	f.gw.SetPositionSize("BTCUSDT", 1.0)

	pos := longPosition([]float64{110, 120, 130, 140, 150}, 95)
	if err := f.ladder.Setup(context.Background(), pos); err != nil {
		t.Fatalf("Setup: %v", err)
	}

	for _, idx := range []int{3, 4} {
		tp := pos.TPOrders[idx]
		if tp == nil {
			t.Fatalf("rung %d missing", idx)
		}
		if tp.ClosePercent != 75 {
			t.Errorf("rung %d close percent = %.1f, want 75", idx, tp.ClosePercent)
		}
	}
}

func TestSetupInvalidRungIsIsolated(t *testing.T) {
	f := newFixture(t, nil)
	f.gw.SetPositionSize("BTCUSDT", 1.0)

	// Rung 0 sits below a long entry and must be skipped; rung 1 proceeds.
	pos := longPosition([]float64{90, 120}, 95)
	if err := f.ladder.Setup(context.Background(), pos); err != nil {
		t.Fatalf("Setup: %v", err)
	}

	if pos.TPOrders[0] != nil {
		t.Error("invalid rung 0 was placed")
	}
	if pos.TPOrders[1] == nil {
		t.Error("valid rung 1 was not placed")
	}
}

func TestSetupWithoutOpenQuantity(t *testing.T) {
	f := newFixture(t, nil)

	pos := longPosition([]float64{110}, 95)
	err := f.ladder.Setup(context.Background(), pos)
	if !errors.Is(err, ErrNoOpenQuantity) {
		t.Fatalf("err = %v, want ErrNoOpenQuantity", err)
	}
}

func TestSetupRejectsStopAboveLongEntry(t *testing.T) {
	f := newFixture(t, nil)
	f.gw.SetPositionSize("BTCUSDT", 1.0)

	pos := longPosition([]float64{110}, 105)
	if err := f.ladder.Setup(context.Background(), pos); err != nil {
		t.Fatalf("Setup: %v", err)
	}

	if pos.SLOrderID != "" {
		t.Errorf("stop was placed at %q despite being above entry", pos.SLOrderID)
	}
	if pos.TPOrders[0] == nil {
		t.Error("target rung should still be placed")
	}
}

func TestStopFallbackToConditionalOrder(t *testing.T) {
	f := newFixture(t, nil)
	f.gw.DisableNativeStop()
	f.gw.SetPositionSize("BTCUSDT", 1.0)

	pos := longPosition(nil, 95)
	if err := f.ladder.Setup(context.Background(), pos); err != nil {
		t.Fatalf("Setup: %v", err)
	}

	if pos.SLOrderID == "" {
		t.Fatal("no stop placed via fallback")
	}
	if IsNativeStop(pos.SLOrderID) {
		t.Fatalf("SL order ID = %q, expected a resting order", pos.SLOrderID)
	}

	req, ok := f.gw.PlacedOrders()[pos.SLOrderID]
	if !ok {
		t.Fatalf("order %s not found on venue", pos.SLOrderID)
	}
	if req.Type != gateway.OrderTypeStop || !req.ReduceOnly {
		t.Errorf("fallback stop = %+v, want reduce-only stop order", req)
	}
	if req.StopPrice != 95 {
		t.Errorf("fallback stop price = %.2f, want 95", req.StopPrice)
	}
	if req.Quantity != 1.0 {
		t.Errorf("fallback stop quantity = %.4f, want venue size 1.0", req.Quantity)
	}
}

func TestMoveToBreakevenAtEntry(t *testing.T) {
	f := newFixture(t, nil)
	f.gw.SetPositionSize("BTCUSDT", 1.0)

	pos := longPosition([]float64{110}, 95)
	if err := f.ladder.Setup(context.Background(), pos); err != nil {
		t.Fatalf("Setup: %v", err)
	}

	if err := f.ladder.MoveToBreakeven(context.Background(), pos); err != nil {
		t.Fatalf("MoveToBreakeven: %v", err)
	}

	if !pos.SLMovedToBreakeven {
		t.Fatal("SLMovedToBreakeven not set")
	}
	stopPrice, ok := f.gw.StopPrice("BTCUSDT")
	if !ok || stopPrice != 100 {
		t.Fatalf("stop = %.2f (set=%v), want entry 100", stopPrice, ok)
	}
	if got := f.sink.ofType(events.TypeBreakevenActivated); len(got) != 1 {
		t.Fatalf("breakeven events = %d, want 1", len(got))
	}
}

func TestMoveToBreakevenProtectsProfit(t *testing.T) {
	f := newFixture(t, nil)
	f.gw.SetPositionSize("BTCUSDT", 1.0)

	pos := longPosition([]float64{110}, 95)
	if err := f.ladder.Setup(context.Background(), pos); err != nil {
		t.Fatalf("Setup: %v", err)
	}
	pos.MaxProfitPercent = 10

	if err := f.ladder.MoveToBreakeven(context.Background(), pos); err != nil {
		t.Fatalf("MoveToBreakeven: %v", err)
	}

	// Protect 80% of the 10% excursion: stop at entry * 1.08.
	stopPrice, _ := f.gw.StopPrice("BTCUSDT")
	if stopPrice < 107.99 || stopPrice > 108.01 {
		t.Fatalf("stop = %.4f, want 108", stopPrice)
	}
	if pos.StopLoss == nil || *pos.StopLoss != stopPrice {
		t.Error("position StopLoss not updated to breakeven price")
	}
}

func TestMoveToBreakevenIdempotent(t *testing.T) {
	f := newFixture(t, nil)
	f.gw.SetPositionSize("BTCUSDT", 1.0)

	pos := longPosition(nil, 95)
	if err := f.ladder.Setup(context.Background(), pos); err != nil {
		t.Fatalf("Setup: %v", err)
	}

	if err := f.ladder.MoveToBreakeven(context.Background(), pos); err != nil {
		t.Fatalf("first MoveToBreakeven: %v", err)
	}
	if err := f.ladder.MoveToBreakeven(context.Background(), pos); err != nil {
		t.Fatalf("second MoveToBreakeven: %v", err)
	}

	if got := f.sink.ofType(events.TypeBreakevenActivated); len(got) != 1 {
		t.Fatalf("breakeven events = %d, want exactly 1", len(got))
	}
}

func TestTrailingStopActivatesOnNewHigh(t *testing.T) {
	f := newFixture(t, nil)
	f.gw.SetPositionSize("BTCUSDT", 1.0)

	pos := longPosition(nil, 95)
	if err := f.ladder.Setup(context.Background(), pos); err != nil {
		t.Fatalf("Setup: %v", err)
	}

	if moved := f.ladder.UpdateTrailingStop(context.Background(), pos, 110); !moved {
		t.Fatal("trailing stop did not activate on new high")
	}
	if !pos.TrailingActive {
		t.Fatal("TrailingActive not set")
	}
	if pos.TrailingStopPrice < 107.79 || pos.TrailingStopPrice > 107.81 {
		t.Fatalf("trailing stop = %.4f, want 107.8", pos.TrailingStopPrice)
	}
	if pos.MaxProfitPercent != 10 {
		t.Fatalf("max profit = %.2f, want 10", pos.MaxProfitPercent)
	}
}

func TestTrailingStopIsMonotonic(t *testing.T) {
	f := newFixture(t, nil)
	f.gw.SetPositionSize("BTCUSDT", 1.0)

	pos := longPosition(nil, 95)
	if err := f.ladder.Setup(context.Background(), pos); err != nil {
		t.Fatalf("Setup: %v", err)
	}

	f.ladder.UpdateTrailingStop(context.Background(), pos, 110)
	first := pos.TrailingStopPrice

	// A retreat below the excursion high never loosens the stop.
	if moved := f.ladder.UpdateTrailingStop(context.Background(), pos, 108); moved {
		t.Fatal("trailing stop moved on a lower price")
	}
	if pos.TrailingStopPrice != first {
		t.Fatalf("trailing stop = %.4f, want unchanged %.4f", pos.TrailingStopPrice, first)
	}

	if moved := f.ladder.UpdateTrailingStop(context.Background(), pos, 120); !moved {
		t.Fatal("trailing stop did not tighten on a new high")
	}
	if pos.TrailingStopPrice <= first {
		t.Fatalf("trailing stop = %.4f, want above %.4f", pos.TrailingStopPrice, first)
	}
}

func TestTrailingStopDisabled(t *testing.T) {
	f := newFixture(t, func(lim *domain.RiskLimits) {
		lim.TrailingStopEnabled = false
	})
	f.gw.SetPositionSize("BTCUSDT", 1.0)

	pos := longPosition(nil, 95)
	if err := f.ladder.Setup(context.Background(), pos); err != nil {
		t.Fatalf("Setup: %v", err)
	}

	if moved := f.ladder.UpdateTrailingStop(context.Background(), pos, 120); moved {
		t.Fatal("trailing stop moved while disabled")
	}
	if pos.TrailingActive {
		t.Fatal("TrailingActive set while disabled")
	}
}

func TestTrailingStopShortDirection(t *testing.T) {
	f := newFixture(t, nil)
	f.gw.SetPositionSize("ETHUSDT", 1.0)

	pos := shortPosition(nil, 105)
	if err := f.ladder.Setup(context.Background(), pos); err != nil {
		t.Fatalf("Setup: %v", err)
	}

	if moved := f.ladder.UpdateTrailingStop(context.Background(), pos, 90); !moved {
		t.Fatal("trailing stop did not activate for short")
	}
	// Short stop trails above price: 90 * 1.02.
	if pos.TrailingStopPrice < 91.79 || pos.TrailingStopPrice > 91.81 {
		t.Fatalf("trailing stop = %.4f, want 91.8", pos.TrailingStopPrice)
	}
}

func TestCheckTargetsByPriceFillsOnce(t *testing.T) {
	f := newFixture(t, nil)
	f.gw.SetPositionSize("BTCUSDT", 1.0)

	pos := longPosition([]float64{110, 120, 130}, 95)
	if err := f.ladder.Setup(context.Background(), pos); err != nil {
		t.Fatalf("Setup: %v", err)
	}

	filled := f.ladder.CheckTargetsByPrice(context.Background(), pos, 115)
	if len(filled) != 1 || filled[0] != 0 {
		t.Fatalf("filled = %v, want [0]", filled)
	}
	if pos.State != domain.PositionStatePartiallyFilled {
		t.Fatalf("state = %s, want %s", pos.State, domain.PositionStatePartiallyFilled)
	}
	if pos.PartialCloseExecuted[0] != 25 {
		t.Errorf("partial close for rung 0 = %.1f, want 25", pos.PartialCloseExecuted[0])
	}

	// Rung 0 is the breakeven trigger.
	if !pos.SLMovedToBreakeven {
		t.Error("breakeven not activated after trigger rung filled")
	}

	// The same price never re-reports a filled rung.
	if again := f.ladder.CheckTargetsByPrice(context.Background(), pos, 115); again != nil {
		t.Fatalf("refill = %v, want nil", again)
	}

	filled = f.ladder.CheckTargetsByPrice(context.Background(), pos, 125)
	if len(filled) != 1 || filled[0] != 1 {
		t.Fatalf("filled = %v, want [1]", filled)
	}
}

func TestCheckTargetsByPriceShort(t *testing.T) {
	f := newFixture(t, nil)
	f.gw.SetPositionSize("ETHUSDT", 1.0)

	pos := shortPosition([]float64{90, 80}, 105)
	if err := f.ladder.Setup(context.Background(), pos); err != nil {
		t.Fatalf("Setup: %v", err)
	}

	if filled := f.ladder.CheckTargetsByPrice(context.Background(), pos, 95); filled != nil {
		t.Fatalf("filled = %v above first short target", filled)
	}
	filled := f.ladder.CheckTargetsByPrice(context.Background(), pos, 85)
	if len(filled) != 1 || filled[0] != 0 {
		t.Fatalf("filled = %v, want [0]", filled)
	}
}

func TestCheckEmergencyStopTriggersOnce(t *testing.T) {
	f := newFixture(t, nil)
	f.gw.SetPositionSize("BTCUSDT", 1.0)

	pos := longPosition(nil, 95)
	if err := f.ladder.Setup(context.Background(), pos); err != nil {
		t.Fatalf("Setup: %v", err)
	}

	// 49% adverse move sits below the 50% threshold.
	triggered, err := f.ladder.CheckEmergencyStop(context.Background(), pos, 51)
	if err != nil || triggered {
		t.Fatalf("triggered=%v err=%v below threshold", triggered, err)
	}

	triggered, err = f.ladder.CheckEmergencyStop(context.Background(), pos, 49)
	if err != nil {
		t.Fatalf("CheckEmergencyStop: %v", err)
	}
	if !triggered {
		t.Fatal("emergency stop did not trigger at 51% loss")
	}
	if pos.State != domain.PositionStateClosed {
		t.Fatalf("state = %s, want %s", pos.State, domain.PositionStateClosed)
	}

	var closes int
	for _, req := range f.gw.PlacedOrders() {
		if req.Type == gateway.OrderTypeMarket && req.ReduceOnly {
			closes++
		}
	}
	if closes != 1 {
		t.Fatalf("market closes = %d, want 1", closes)
	}
	if got := f.sink.ofType(events.TypeEmergencyStop); len(got) != 1 {
		t.Fatalf("emergency events = %d, want 1", len(got))
	}

	// Latched: a closed position never triggers again.
	triggered, err = f.ladder.CheckEmergencyStop(context.Background(), pos, 10)
	if err != nil || triggered {
		t.Fatalf("triggered=%v err=%v after latch", triggered, err)
	}
}

func TestCheckEmergencyStopCloseFailure(t *testing.T) {
	f := newFixture(t, nil)
	f.gw.SetPositionSize("BTCUSDT", 1.0)

	pos := longPosition(nil, 95)
	if err := f.ladder.Setup(context.Background(), pos); err != nil {
		t.Fatalf("Setup: %v", err)
	}

	venueDown := errors.New("venue down")
	f.gw.FailNext("PlaceOrder", venueDown)

	triggered, err := f.ladder.CheckEmergencyStop(context.Background(), pos, 40)
	if triggered {
		t.Fatal("reported triggered despite close failure")
	}
	if !errors.Is(err, venueDown) {
		t.Fatalf("err = %v, want wrapped venue error", err)
	}
	if pos.State == domain.PositionStateClosed {
		t.Fatal("position latched closed despite failed close")
	}
	if !strings.Contains(err.Error(), "BTCUSDT") {
		t.Errorf("err %q should name the instrument", err)
	}
}

func TestCloseMarketFlatIsNoOp(t *testing.T) {
	f := newFixture(t, nil)

	pos := longPosition(nil, 95)
	if err := f.ladder.CloseMarket(context.Background(), pos); err != nil {
		t.Fatalf("CloseMarket: %v", err)
	}
	if len(f.gw.PlacedOrders()) != 0 {
		t.Fatal("order placed for a flat position")
	}
}
