// Package executor is the signal entry point: it gates, sizes, opens
// and registers a position for each accepted signal.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"signal-trade-engine/internal/domain"
	"signal-trade-engine/internal/events"
	"signal-trade-engine/internal/gateway"
	"signal-trade-engine/internal/ladder"
	"signal-trade-engine/internal/lifecycle"
	"signal-trade-engine/internal/observability"
	"signal-trade-engine/internal/risk"
	"signal-trade-engine/internal/stats"
)

// ErrInvalidSignal is returned for a signal that fails validation.
var ErrInvalidSignal = errors.New("invalid signal")

// Status of an execution attempt.
type Status string

// Execution statuses.
const (
	StatusAccepted Status = "ACCEPTED"
	StatusDenied   Status = "DENIED"
	StatusError    Status = "ERROR"
)

// Result is the outcome of one signal execution.
type Result struct {
	Status   Status                  `json:"status"`
	Reason   string                  `json:"reason,omitempty"`
	Position *domain.PositionSummary `json:"position,omitempty"`
}

const defaultCallTimeout = 10 * time.Second

// Executor wires the gate, sizer, gateway, ladder and lifecycle manager
// into the single entry point for signals.
type Executor struct {
	gw          gateway.ExchangeGateway
	gate        *risk.Gate
	sizer       *risk.Sizer
	limits      *risk.Limits
	ledger      *stats.Ledger
	manager     *lifecycle.Manager
	ladder      *ladder.Ladder
	sink        events.Sink
	logger      *log.Logger
	callTimeout time.Duration
	now         stats.Clock
}

// Options configures an Executor.
type Options struct {
	Gateway     gateway.ExchangeGateway
	Gate        *risk.Gate
	Sizer       *risk.Sizer
	Limits      *risk.Limits
	Ledger      *stats.Ledger
	Manager     *lifecycle.Manager
	Ladder      *ladder.Ladder
	Sink        events.Sink   // optional
	Logger      *log.Logger   // optional
	CallTimeout time.Duration // per gateway call, default 10s
	Clock       stats.Clock   // defaults to time.Now
}

// New creates an executor.
func New(opts Options) *Executor {
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = defaultCallTimeout
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	return &Executor{
		gw:          opts.Gateway,
		gate:        opts.Gate,
		sizer:       opts.Sizer,
		limits:      opts.Limits,
		ledger:      opts.Ledger,
		manager:     opts.Manager,
		ladder:      opts.Ladder,
		sink:        opts.Sink,
		logger:      opts.Logger,
		callTimeout: opts.CallTimeout,
		now:         opts.Clock,
	}
}

// validate rejects a malformed signal before any venue call.
func validate(sig *domain.Signal) error {
	if sig == nil || sig.Instrument == "" {
		return fmt.Errorf("%w: missing instrument", ErrInvalidSignal)
	}
	if sig.Direction != domain.DirectionLong && sig.Direction != domain.DirectionShort {
		return fmt.Errorf("%w: direction %q", ErrInvalidSignal, sig.Direction)
	}
	if sig.EntryPrice <= 0 {
		return fmt.Errorf("%w: entry price %.8f", ErrInvalidSignal, sig.EntryPrice)
	}
	return nil
}

// OnSignal runs the full pipeline for one signal: validation, risk
// gate, sizing, leverage, the opening market order, then position
// registration and ladder setup. Denials and venue failures come back
// in the Result with a readable reason; they never panic or crash the
// caller.
func (e *Executor) OnSignal(ctx context.Context, sig *domain.Signal) *Result {
	observability.RecordSignalReceived()

	if err := validate(sig); err != nil {
		observability.RecordSignalDenied("validation")
		return &Result{Status: StatusDenied, Reason: err.Error()}
	}
	if e.manager.Tracked(sig.Instrument) {
		observability.RecordSignalDenied("duplicate")
		return &Result{Status: StatusDenied, Reason: fmt.Sprintf("position already open for %s", sig.Instrument)}
	}

	state := e.accountState(ctx)
	decision := e.gate.Evaluate(state)
	e.publishRiskStatus()
	if !decision.Allowed {
		observability.RecordSignalDenied("risk_gate")
		e.logger.Printf("signal for %s denied:\n%s", sig.Instrument, decision.Reason())
		return &Result{Status: StatusDenied, Reason: decision.Reason()}
	}

	if state.Balance == nil {
		observability.RecordSignalError()
		return &Result{Status: StatusError, Reason: "balance unavailable"}
	}

	cctx, cancel := e.bounded(ctx)
	constraints, err := e.gw.GetSymbolConstraints(cctx, sig.Instrument)
	cancel()
	if err != nil {
		e.logger.Printf("symbol constraints unavailable for %s: %v", sig.Instrument, err)
		constraints = nil
	}

	size, err := e.sizer.Size(*state.Balance, sig.EntryPrice, constraints)
	if err != nil {
		observability.RecordSignalDenied("sizing")
		return &Result{Status: StatusDenied, Reason: fmt.Sprintf("sizing rejected: %v", err)}
	}

	// A leverage rejection (already set, or venue refuses) does not
	// block the entry.
	cctx, cancel = e.bounded(ctx)
	if err := e.gw.SetLeverage(cctx, sig.Instrument, size.Leverage); err != nil {
		e.logger.Printf("set leverage %gx for %s: %v", size.Leverage, sig.Instrument, err)
	}
	cancel()

	cctx, cancel = e.bounded(ctx)
	order, err := e.gw.PlaceOrder(cctx, &gateway.OrderRequest{
		Instrument: sig.Instrument,
		Side:       gateway.OpenSide(sig.Direction),
		Type:       gateway.OrderTypeMarket,
		Quantity:   size.Quantity,
	})
	cancel()
	if err != nil {
		observability.RecordOrderError("market")
		observability.RecordSignalError()
		e.logger.Printf("entry order for %s failed: %v", sig.Instrument, err)
		return &Result{Status: StatusError, Reason: fmt.Sprintf("entry order failed: %v", err)}
	}
	observability.RecordOrderPlaced("market")

	lim := e.limits.Snapshot()
	pos := domain.NewPosition(sig, order.OrderID, size.Quantity, size.Leverage,
		size.MarginRequired, lim.BreakevenTarget, e.now().UnixMilli())

	if err := e.manager.Register(pos); err != nil {
		// Lost the race to another signal for the same instrument. The
		// entry is live; close it back out rather than leave it
		// untracked.
		e.logger.Printf("register %s failed: %v", sig.Instrument, err)
		if cerr := e.ladder.CloseMarket(ctx, pos); cerr != nil {
			e.logger.Printf("unwind of untracked %s entry failed: %v", sig.Instrument, cerr)
		}
		observability.RecordSignalError()
		return &Result{Status: StatusError, Reason: err.Error()}
	}

	if err := e.ladder.Setup(ctx, pos); err != nil {
		e.logger.Printf("ladder setup for %s: %v", sig.Instrument, err)
	}

	observability.RecordSignalAccepted()
	observability.UpdateOpenPositions(e.manager.Count())

	e.logger.Printf("signal executed: %s %s qty=%.6f margin=%.2f", sig.Direction, sig.Instrument, size.Quantity, size.MarginRequired)
	summary := pos.Summary()
	return &Result{Status: StatusAccepted, Position: &summary}
}

// accountState gathers the live inputs for a gate evaluation. A failed
// venue call leaves its field nil; the gate skips that check instead of
// guessing.
func (e *Executor) accountState(ctx context.Context) risk.AccountState {
	state := risk.AccountState{OpenPositions: e.manager.Count()}

	cctx, cancel := e.bounded(ctx)
	balance, err := e.gw.GetBalance(cctx)
	cancel()
	if err != nil {
		e.logger.Printf("balance unavailable: %v", err)
	} else {
		state.Balance = &balance.Available
		if err := e.ledger.UpdatePeakBalance(ctx, balance.Wallet); err != nil {
			e.logger.Printf("peak balance update: %v", err)
		}
	}

	cctx, cancel = e.bounded(ctx)
	margin, err := e.gw.GetMarginInfo(cctx)
	cancel()
	if err != nil {
		e.logger.Printf("margin info unavailable: %v", err)
	} else {
		state.MarginLevel = &margin.Level
	}

	return state
}

func (e *Executor) bounded(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, e.callTimeout)
}

func (e *Executor) publishRiskStatus() {
	status := e.gate.Status()
	observability.UpdateRiskState(status.Locked, status.Statistics.DailyLoss, status.Statistics.CurrentDrawdown)
	if e.sink == nil {
		return
	}
	events.Publish(e.sink, events.TypeRiskStatusChanged, "", status)
}
