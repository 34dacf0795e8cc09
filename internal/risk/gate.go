package risk

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"signal-trade-engine/internal/domain"
	"signal-trade-engine/internal/stats"
)

// Decision is the outcome of a gate evaluation. Reasons lists every
// violated check in evaluation order; empty means the trade is allowed.
type Decision struct {
	Allowed bool
	Reasons []string
}

// Reason returns the concatenated reason string.
func (d Decision) Reason() string {
	if d.Allowed {
		return "trading allowed"
	}
	return strings.Join(d.Reasons, "\n")
}

// AccountState carries the live account inputs to an evaluation.
// Nil fields mean the corresponding venue call failed; their checks are
// skipped rather than guessed.
type AccountState struct {
	Balance       *float64 // available balance
	MarginLevel   *float64 // margin level %
	OpenPositions int
}

// Status is the gate diagnostics snapshot exposed to dashboards.
type Status struct {
	Locked     bool              `json:"locked"`
	LockReason string            `json:"lock_reason"`
	Limits     domain.RiskLimits `json:"limits"`
	Statistics domain.Statistics `json:"statistics"`
}

// Gate decides whether a new trade may be opened. Every check runs on
// each evaluation; violations are collected, not short-circuited.
type Gate struct {
	mu         sync.Mutex
	limits     *Limits
	ledger     *stats.Ledger
	locked     bool
	lockReason string
	now        stats.Clock
}

// NewGate creates a gate over the shared limits and ledger.
func NewGate(limits *Limits, ledger *stats.Ledger, clock stats.Clock) *Gate {
	if clock == nil {
		clock = time.Now
	}
	return &Gate{limits: limits, ledger: ledger, now: clock}
}

// Evaluate runs the seven permission checks in order and returns the
// collected violations. On denial the gate latches locked with the full
// reason string until the next clean evaluation.
func (g *Gate) Evaluate(state AccountState) Decision {
	lim := g.limits.Snapshot()
	s := g.ledger.Snapshot()
	now := g.now()

	var reasons []string

	// 1. Daily realized loss cap
	if s.DailyLoss >= lim.MaxDailyLoss {
		reasons = append(reasons, fmt.Sprintf("daily loss limit reached: %.2f/%.2f", s.DailyLoss, lim.MaxDailyLoss))
	}

	// 2. Weekly realized loss cap
	if s.WeeklyLoss >= lim.MaxWeeklyLoss {
		reasons = append(reasons, fmt.Sprintf("weekly loss limit reached: %.2f/%.2f", s.WeeklyLoss, lim.MaxWeeklyLoss))
	}

	// 3. Consecutive losses, with cooldown countdown
	if s.ConsecutiveLosses >= lim.MaxConsecutiveLosses {
		reasons = append(reasons, fmt.Sprintf("too many consecutive losses: %d/%d", s.ConsecutiveLosses, lim.MaxConsecutiveLosses))

		if s.LastTradeTime > 0 {
			cooldownEnd := time.UnixMilli(s.LastTradeTime).Add(time.Duration(lim.CooldownMinutes) * time.Minute)
			if now.Before(cooldownEnd) {
				remaining := int(cooldownEnd.Sub(now).Minutes())
				reasons = append(reasons, fmt.Sprintf("cooldown active: %d minutes remaining", remaining))
			}
		}
	}

	// 4. Daily trade count
	if s.TradesToday >= lim.MaxDailyTrades {
		reasons = append(reasons, fmt.Sprintf("daily trade limit reached: %d/%d", s.TradesToday, lim.MaxDailyTrades))
	}

	// 5. Open position count
	if state.OpenPositions >= lim.MaxOpenPositions {
		reasons = append(reasons, fmt.Sprintf("max open positions reached: %d/%d", state.OpenPositions, lim.MaxOpenPositions))
	}

	// 6. Balance-relative loss and drawdown
	if state.Balance != nil && *state.Balance > 0 {
		balance := *state.Balance

		lossPct := s.DailyLoss / balance * 100
		if lossPct >= lim.MaxLossPercentage {
			reasons = append(reasons, fmt.Sprintf("daily loss exceeds %.1f%% of balance", lim.MaxLossPercentage))
		}

		if s.PeakBalance > 0 {
			drawdown := (s.PeakBalance - balance) / s.PeakBalance * 100
			if drawdown > lim.DrawdownLimit {
				reasons = append(reasons, fmt.Sprintf("drawdown limit exceeded: %.1f%%/%.1f%%", drawdown, lim.DrawdownLimit))
			}
		}
	}

	// 7. Margin level floor and deleverage warning
	if state.MarginLevel != nil {
		level := *state.MarginLevel

		if level < lim.MinMarginLevel {
			reasons = append(reasons, fmt.Sprintf("margin level too low: %.1f%% < %.1f%%", level, lim.MinMarginLevel))
		}
		// A pending deleverage still denies new entries.
		if level < lim.AutoDeleverageThreshold {
			reasons = append(reasons, fmt.Sprintf("auto-deleverage warning: %.1f%% < %.1f%%", level, lim.AutoDeleverageThreshold))
		}
	}

	g.mu.Lock()
	if len(reasons) > 0 {
		g.locked = true
		g.lockReason = strings.Join(reasons, "\n")
	} else {
		g.locked = false
		g.lockReason = ""
	}
	g.mu.Unlock()

	return Decision{Allowed: len(reasons) == 0, Reasons: reasons}
}

// Status returns the gate diagnostics snapshot.
func (g *Gate) Status() Status {
	g.mu.Lock()
	locked, reason := g.locked, g.lockReason
	g.mu.Unlock()

	return Status{
		Locked:     locked,
		LockReason: reason,
		Limits:     g.limits.Snapshot(),
		Statistics: g.ledger.Snapshot(),
	}
}
