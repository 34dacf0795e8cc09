// Package stats implements the statistics ledger: the durable counters
// and aggregates every risk decision reads and every realized fill
// writes.
package stats

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"signal-trade-engine/internal/domain"
	"signal-trade-engine/internal/storage"
)

// Clock returns the current time. Injectable for tests.
type Clock func() time.Time

// Ledger owns the statistics state. All mutation is serialized behind a
// single mutex; reads return value snapshots.
type Ledger struct {
	mu      sync.Mutex
	state   domain.Statistics
	store   storage.StatisticsStore
	history storage.TradeHistoryStore
	archive storage.TradeHistoryAppender
	logger  *log.Logger
	now     Clock
}

// Options configures a Ledger.
type Options struct {
	Store   storage.StatisticsStore
	History storage.TradeHistoryStore    // optional trade history log
	Archive storage.TradeHistoryAppender // optional analytics copy
	Logger  *log.Logger
	Clock   Clock // defaults to time.Now
}

// NewLedger creates a ledger. Call Load before first use.
func NewLedger(opts Options) *Ledger {
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	return &Ledger{
		store:   opts.Store,
		history: opts.History,
		archive: opts.Archive,
		logger:  opts.Logger,
		now:     opts.Clock,
	}
}

// Load restores the saved state. A missing record means a fresh ledger.
func (l *Ledger) Load(ctx context.Context) error {
	saved, err := l.store.Load(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			l.logger.Println("no saved statistics, starting fresh")
			return nil
		}
		return fmt.Errorf("load statistics: %w", err)
	}

	l.mu.Lock()
	l.state = *saved
	l.rollLocked(l.now())
	l.mu.Unlock()
	return nil
}

// dayKey formats a date as the daily accumulator key.
func dayKey(t time.Time) string {
	return t.Format("2006-01-02")
}

// weekKey formats a date as the ISO year-week accumulator key.
func weekKey(t time.Time) string {
	year, week := t.ISOWeek()
	return fmt.Sprintf("%d-W%02d", year, week)
}

// rollLocked zeroes accumulators whose key no longer matches now.
// Caller holds l.mu.
func (l *Ledger) rollLocked(now time.Time) {
	if day := dayKey(now); l.state.DailyLossDate != day {
		l.state.DailyLossDate = day
		l.state.DailyLoss = 0
		l.state.TradesToday = 0
		l.state.FailedToday = 0
	}
	if week := weekKey(now); l.state.WeeklyLossKey != week {
		l.state.WeeklyLossKey = week
		l.state.WeeklyLoss = 0
	}
}

// Record registers one realized fill: counters, loss accumulators,
// derived statistics, then persistence. Callers guarantee at-most-once
// delivery per fill. A persistence failure is returned to the caller:
// silently losing realized-loss accounting would defeat the risk gate.
func (l *Ledger) Record(ctx context.Context, outcome *domain.TradeOutcome) error {
	now := l.now()

	l.mu.Lock()
	l.rollLocked(now)

	l.state.TotalTrades++
	l.state.TradesToday++
	l.state.LastTradeTime = now.UnixMilli()

	if outcome.IsWin {
		l.state.WinningTrades++
		l.state.TotalProfit += outcome.RealizedPnL
		l.state.ConsecutiveLosses = 0
		if outcome.RealizedPnL > l.state.LargestWin {
			l.state.LargestWin = outcome.RealizedPnL
		}
	} else {
		loss := outcome.RealizedPnL
		if loss < 0 {
			loss = -loss
		}
		l.state.LosingTrades++
		l.state.TotalLoss += loss
		l.state.ConsecutiveLosses++
		l.state.FailedToday++
		if loss > l.state.LargestLoss {
			l.state.LargestLoss = loss
		}
		l.state.DailyLoss += loss
		l.state.WeeklyLoss += loss
	}

	l.recomputeLocked()
	snapshot := l.state
	l.mu.Unlock()

	entry := *outcome
	if entry.ClosedAt == 0 {
		entry.ClosedAt = now.UnixMilli()
	}
	if l.history != nil {
		if err := l.history.Append(ctx, &entry); err != nil {
			l.logger.Printf("trade history append failed for %s: %v", outcome.Instrument, err)
		}
	}
	if l.archive != nil {
		if err := l.archive.Append(ctx, &entry); err != nil {
			l.logger.Printf("trade archive append failed for %s: %v", outcome.Instrument, err)
		}
	}

	if err := l.store.Save(ctx, &snapshot); err != nil {
		return fmt.Errorf("persist statistics after %s fill: %w", outcome.Instrument, err)
	}

	result := "LOSS"
	if outcome.IsWin {
		result = "WIN"
	}
	l.logger.Printf("trade recorded: %s %s %.2f", outcome.Instrument, result, outcome.RealizedPnL)
	return nil
}

// recomputeLocked refreshes the derived statistics. Caller holds l.mu.
func (l *Ledger) recomputeLocked() {
	s := &l.state

	if s.TotalTrades > 0 {
		s.WinRate = float64(s.WinningTrades) / float64(s.TotalTrades) * 100
	}
	if s.WinningTrades > 0 {
		s.AverageWin = s.TotalProfit / float64(s.WinningTrades)
	}
	if s.LosingTrades > 0 {
		s.AverageLoss = s.TotalLoss / float64(s.LosingTrades)
	}
	if s.AverageLoss > 0 {
		s.ProfitFactor = s.AverageWin / s.AverageLoss
	}

	// Simplified Sharpe proxy: average return over average loss, with
	// the divisor floored at 1. Kept for continuity with the historical
	// ledger format; not a true Sharpe ratio.
	if s.TotalTrades > 1 && s.AverageLoss > 0 {
		avgReturn := (s.TotalProfit - s.TotalLoss) / float64(s.TotalTrades)
		divisor := s.AverageLoss
		if divisor < 1 {
			divisor = 1
		}
		s.SharpeRatio = avgReturn / divisor
	}
}

// UpdatePeakBalance records a new balance high and recomputes drawdown.
func (l *Ledger) UpdatePeakBalance(ctx context.Context, balance float64) error {
	l.mu.Lock()
	changed := false
	if balance > l.state.PeakBalance {
		l.state.PeakBalance = balance
		changed = true
	}
	if l.state.PeakBalance > 0 {
		dd := (l.state.PeakBalance - balance) / l.state.PeakBalance * 100
		if dd < 0 {
			dd = 0
		}
		l.state.CurrentDrawdown = dd
	}
	snapshot := l.state
	l.mu.Unlock()

	if !changed {
		return nil
	}
	if err := l.store.Save(ctx, &snapshot); err != nil {
		return fmt.Errorf("persist statistics after peak update: %w", err)
	}
	return nil
}

// ResetDaily zeroes the per-day counters and accumulator.
func (l *Ledger) ResetDaily(ctx context.Context) error {
	l.mu.Lock()
	l.state.TradesToday = 0
	l.state.FailedToday = 0
	l.state.DailyLoss = 0
	l.state.DailyLossDate = dayKey(l.now())
	snapshot := l.state
	l.mu.Unlock()

	l.logger.Println("daily statistics reset")
	if err := l.store.Save(ctx, &snapshot); err != nil {
		return fmt.Errorf("persist statistics after daily reset: %w", err)
	}
	return nil
}

// Snapshot returns a consistent copy of the current state with rolled
// accumulators.
func (l *Ledger) Snapshot() domain.Statistics {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rollLocked(l.now())
	return l.state
}
