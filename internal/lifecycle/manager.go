// Package lifecycle tracks open positions and reconciles them against
// the venue on a fixed tick: emergency stops, target fills, trailing
// stops, and protective-order polling, with realized outcomes recorded
// before a position is dropped.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"signal-trade-engine/internal/domain"
	"signal-trade-engine/internal/events"
	"signal-trade-engine/internal/gateway"
	"signal-trade-engine/internal/ladder"
	"signal-trade-engine/internal/observability"
	"signal-trade-engine/internal/stats"
)

// Manager errors.
var (
	// ErrDuplicateInstrument is returned when a position for the
	// instrument is already tracked. One position per instrument.
	ErrDuplicateInstrument = errors.New("position already tracked for instrument")

	// ErrPositionNotFound is returned for operations on an untracked
	// instrument.
	ErrPositionNotFound = errors.New("no tracked position for instrument")
)

const (
	defaultTickInterval = 10 * time.Second
	defaultCallTimeout  = 10 * time.Second
)

// entry pairs a tracked position with its lock and the per-rung
// recording state. The lock serializes all reconciliation and manual
// operations on one position; instruments never block each other.
type entry struct {
	mu       sync.Mutex
	pos      *domain.Position
	recorded map[int]bool // rung index -> realized win recorded
}

// Manager owns the set of open positions and the reconciliation loop.
type Manager struct {
	mu      sync.RWMutex
	entries map[string]*entry

	gw          gateway.ExchangeGateway
	ladder      *ladder.Ladder
	ledger      *stats.Ledger
	sink        events.Sink
	logger      *log.Logger
	tick        time.Duration
	callTimeout time.Duration

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// Options configures a Manager.
type Options struct {
	Gateway      gateway.ExchangeGateway
	Ladder       *ladder.Ladder
	Ledger       *stats.Ledger
	Sink         events.Sink   // optional
	Logger       *log.Logger   // optional
	TickInterval time.Duration // default 10s
	CallTimeout  time.Duration // per gateway call, default 10s
}

// NewManager creates a manager. Call Start to begin reconciliation.
func NewManager(opts Options) *Manager {
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	if opts.TickInterval <= 0 {
		opts.TickInterval = defaultTickInterval
	}
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = defaultCallTimeout
	}
	return &Manager{
		entries:     make(map[string]*entry),
		gw:          opts.Gateway,
		ladder:      opts.Ladder,
		ledger:      opts.Ledger,
		sink:        opts.Sink,
		logger:      opts.Logger,
		tick:        opts.TickInterval,
		callTimeout: opts.CallTimeout,
		stopCh:      make(chan struct{}),
	}
}

// Register begins tracking an open position.
func (m *Manager) Register(pos *domain.Position) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.entries[pos.Instrument]; exists {
		return fmt.Errorf("%s: %w", pos.Instrument, ErrDuplicateInstrument)
	}
	m.entries[pos.Instrument] = &entry{
		pos:      pos,
		recorded: make(map[int]bool),
	}

	m.logger.Printf("tracking %s %s qty=%.6f entry=%.8f", pos.Direction, pos.Instrument, pos.Quantity, pos.EntryPrice)
	events.Publish(m.sink, events.TypePositionAdded, pos.Instrument, pos.Summary())
	return nil
}

// Tracked reports whether a position is tracked for the instrument.
func (m *Manager) Tracked(instrument string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.entries[instrument]
	return ok
}

// Count returns the number of tracked positions.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// Summaries returns a snapshot of every tracked position, ordered by
// instrument.
func (m *Manager) Summaries() []domain.PositionSummary {
	m.mu.RLock()
	entries := make([]*entry, 0, len(m.entries))
	for _, e := range m.entries {
		entries = append(entries, e)
	}
	m.mu.RUnlock()

	out := make([]domain.PositionSummary, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		out = append(out, e.pos.Summary())
		e.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Instrument < out[j].Instrument })
	return out
}

// Start launches the reconciliation loop. Stop joins it.
func (m *Manager) Start(ctx context.Context) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(m.tick)
		defer ticker.Stop()

		m.logger.Printf("reconciliation loop started, tick %s", m.tick)
		for {
			select {
			case <-ctx.Done():
				return
			case <-m.stopCh:
				return
			case <-ticker.C:
				m.reconcileAll(ctx)
			}
		}
	}()
}

// Stop terminates the loop and waits for the in-flight tick.
func (m *Manager) Stop() {
	close(m.stopCh)
	m.wg.Wait()
}

// reconcileAll runs one tick over every tracked position. Instruments
// are isolated: one failing venue call or panic never starves the rest.
func (m *Manager) reconcileAll(ctx context.Context) {
	m.mu.RLock()
	instruments := make([]string, 0, len(m.entries))
	for instrument := range m.entries {
		instruments = append(instruments, instrument)
	}
	m.mu.RUnlock()

	start := time.Now()
	sort.Strings(instruments)
	for _, instrument := range instruments {
		m.reconcileOne(ctx, instrument)
	}

	observability.RecordReconcile(time.Since(start).Seconds(), time.Now().Unix())
	observability.UpdateOpenPositions(m.Count())
}

func (m *Manager) reconcileOne(ctx context.Context, instrument string) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Printf("reconcile %s panicked: %v", instrument, r)
		}
	}()

	m.mu.RLock()
	e := m.entries[instrument]
	m.mu.RUnlock()
	if e == nil {
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	pos := e.pos

	if pos.State == domain.PositionStateClosed {
		m.remove(instrument)
		return
	}

	cctx, cancel := context.WithTimeout(ctx, m.callTimeout)
	price, err := m.gw.GetLastPrice(cctx, instrument)
	cancel()
	if err != nil {
		m.logger.Printf("price for %s unavailable: %v", instrument, err)
		return
	}

	// Emergency first: a runaway loss closes the position before any
	// ladder maintenance.
	triggered, err := m.ladder.CheckEmergencyStop(ctx, pos, price)
	if err != nil {
		m.logger.Printf("emergency check for %s: %v", instrument, err)
		return
	}
	if triggered {
		m.finalizeAt(ctx, e, price, domain.CloseReasonEmergencyStop)
		return
	}

	filled := m.ladder.CheckTargetsByPrice(ctx, pos, price)
	m.recordRungs(ctx, e, filled)

	m.ladder.UpdateTrailingStop(ctx, pos, price)

	m.pollTargetOrders(ctx, e)

	// Every rung filled: whatever the ladder left open closes at the
	// final target.
	if n := len(pos.Targets); n > 0 && len(pos.FilledTargets) == n {
		m.finalizeAt(ctx, e, pos.Targets[n-1], domain.CloseReasonTakeProfit)
		return
	}

	m.pollStop(ctx, e, price)
}

// recordRungs records the realized win for each newly filled rung,
// exactly once per rung.
func (m *Manager) recordRungs(ctx context.Context, e *entry, rungs []int) {
	pos := e.pos
	for _, idx := range rungs {
		if e.recorded[idx] {
			continue
		}
		tp := pos.TPOrders[idx]
		if tp == nil {
			continue
		}
		e.recorded[idx] = true

		gain := domain.GainPercent(pos.Direction, pos.EntryPrice, tp.Price)
		pnl := pos.RealizedPnL(gain) * tp.ClosePercent / 100

		outcome := &domain.TradeOutcome{
			Instrument:  pos.Instrument,
			Direction:   pos.Direction,
			EntryPrice:  pos.EntryPrice,
			ExitPrice:   tp.Price,
			GainPercent: gain,
			RealizedPnL: pnl,
			IsWin:       pnl > 0,
			Reason:      domain.CloseReasonTakeProfit,
		}
		if err := m.ledger.Record(ctx, outcome); err != nil {
			m.logger.Printf("record TP%d for %s failed: %v", idx, pos.Instrument, err)
		}
		observability.RecordTrade(outcome.IsWin)
		m.publishStats()
	}
}

// pollTargetOrders asks the venue about rung orders not yet seen filled
// by price. A fill found here marks the rung and records its win.
func (m *Manager) pollTargetOrders(ctx context.Context, e *entry) {
	pos := e.pos
	for idx, tp := range pos.TPOrders {
		if pos.FilledTargets[idx] || tp == nil {
			continue
		}
		if !m.ladder.OrderFilled(ctx, pos, tp.OrderID) {
			continue
		}
		pos.FilledTargets[idx] = true
		if pos.State == domain.PositionStateOpen {
			pos.State = domain.PositionStatePartiallyFilled
		}
		m.logger.Printf("TP%d order filled on venue for %s", idx, pos.Instrument)
		m.recordRungs(ctx, e, []int{idx})
	}
}

// pollStop checks whether the protective stop fired. A resting stop
// order is polled directly; a position-attached stop is inferred from
// the venue reporting no open quantity.
func (m *Manager) pollStop(ctx context.Context, e *entry, price float64) {
	pos := e.pos
	if pos.SLOrderID == "" {
		return
	}

	level := 0.0
	if pos.TrailingActive && pos.TrailingStopPrice > 0 {
		level = pos.TrailingStopPrice
	} else if pos.StopLoss != nil {
		level = *pos.StopLoss
	}

	fired := false
	if ladder.IsNativeStop(pos.SLOrderID) {
		// The venue reports no order for a position-attached stop. It
		// fired when price crossed the level and the position is flat;
		// the quantity check alone would misread a ladder that closed
		// the position through its rungs.
		crossed := level > 0 &&
			((pos.Direction == domain.DirectionLong && price <= level) ||
				(pos.Direction == domain.DirectionShort && price >= level))
		if crossed {
			cctx, cancel := context.WithTimeout(ctx, m.callTimeout)
			size, err := m.gw.GetOpenPositionSize(cctx, pos.Instrument)
			cancel()
			if err != nil {
				m.logger.Printf("position size for %s unavailable: %v", pos.Instrument, err)
				return
			}
			fired = size <= 0
		}
	} else {
		fired = m.ladder.OrderFilled(ctx, pos, pos.SLOrderID)
	}
	if !fired {
		return
	}

	exit := price
	if level > 0 {
		exit = level
	}

	reason := domain.CloseReasonStopLoss
	if pos.TrailingActive {
		reason = domain.CloseReasonTrailingStop
	}
	m.finalizeAt(ctx, e, exit, reason)
}

// finalizeAt records the remaining fraction's outcome and drops the
// position. Recording happens before removal: a persistence failure is
// logged but never loses the outcome silently while the position is
// already gone.
func (m *Manager) finalizeAt(ctx context.Context, e *entry, exitPrice float64, reason string) {
	pos := e.pos

	remaining := 100.0
	for idx := range e.recorded {
		if tp := pos.TPOrders[idx]; tp != nil {
			remaining -= tp.ClosePercent
		}
	}
	if remaining < 0 {
		remaining = 0
	}

	gain := pos.GainPercentAt(exitPrice)
	pnl := pos.RealizedPnL(gain) * remaining / 100

	outcome := &domain.TradeOutcome{
		Instrument:  pos.Instrument,
		Direction:   pos.Direction,
		EntryPrice:  pos.EntryPrice,
		ExitPrice:   exitPrice,
		GainPercent: gain,
		RealizedPnL: pnl,
		IsWin:       pnl > 0,
		Reason:      reason,
	}
	// A ladder whose rungs already consumed the whole size leaves
	// nothing to record.
	if remaining > 0 {
		if err := m.ledger.Record(ctx, outcome); err != nil {
			m.logger.Printf("record close for %s failed: %v", pos.Instrument, err)
		}
		observability.RecordTrade(outcome.IsWin)
	}

	observability.RecordPositionClosed(reason)
	pos.State = domain.PositionStateClosed
	m.logger.Printf("position closed: %s %s pnl=%.2f (%s)", pos.Instrument, pos.Direction, pnl, reason)
	events.Publish(m.sink, events.TypePositionClosed, pos.Instrument, outcome)
	m.publishStats()
	m.remove(pos.Instrument)
}

// ClosePosition closes a tracked position at market on demand.
func (m *Manager) ClosePosition(ctx context.Context, instrument string) error {
	m.mu.RLock()
	e := m.entries[instrument]
	m.mu.RUnlock()
	if e == nil {
		return fmt.Errorf("%s: %w", instrument, ErrPositionNotFound)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.pos.State == domain.PositionStateClosed {
		m.remove(instrument)
		return nil
	}
	if err := m.ladder.CloseMarket(ctx, e.pos); err != nil {
		return err
	}

	cctx, cancel := context.WithTimeout(ctx, m.callTimeout)
	price, err := m.gw.GetLastPrice(cctx, instrument)
	cancel()
	if err != nil {
		price = e.pos.LastObservedPrice
	}
	if price <= 0 {
		price = e.pos.EntryPrice
	}

	m.finalizeAt(ctx, e, price, domain.CloseReasonManual)
	return nil
}

// MoveToBreakeven manually migrates a tracked position's stop to
// breakeven.
func (m *Manager) MoveToBreakeven(ctx context.Context, instrument string) error {
	m.mu.RLock()
	e := m.entries[instrument]
	m.mu.RUnlock()
	if e == nil {
		return fmt.Errorf("%s: %w", instrument, ErrPositionNotFound)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	return m.ladder.MoveToBreakeven(ctx, e.pos)
}

func (m *Manager) remove(instrument string) {
	m.mu.Lock()
	delete(m.entries, instrument)
	m.mu.Unlock()
}

func (m *Manager) publishStats() {
	if m.sink == nil {
		return
	}
	events.Publish(m.sink, events.TypeStatisticsUpdated, "", m.ledger.Snapshot())
}
