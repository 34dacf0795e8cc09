package risk

import (
	"errors"
	"log"

	"signal-trade-engine/internal/domain"
	"signal-trade-engine/internal/gateway"
	"signal-trade-engine/internal/stats"
)

// ErrInvalidSize is returned when the computed quantity rounds to zero
// or below under the venue's constraints.
var ErrInvalidSize = errors.New("invalid position size")

// SizeResult is the outcome of a sizing computation.
type SizeResult struct {
	MarginRequired float64
	PositionValue  float64
	Quantity       float64
	Leverage       float64
}

// Sizer computes margin and order quantity for a new position.
type Sizer struct {
	limits *Limits
	ledger *stats.Ledger
	logger *log.Logger
}

// NewSizer creates a sizer over the shared limits and ledger.
func NewSizer(limits *Limits, ledger *stats.Ledger, logger *log.Logger) *Sizer {
	if logger == nil {
		logger = log.Default()
	}
	return &Sizer{limits: limits, ledger: ledger, logger: logger}
}

// Size computes the margin to commit and the venue quantity for an
// entry at entryPrice. The result never exceeds the per-position
// percentage of balance nor the absolute notional cap.
func (s *Sizer) Size(balance, entryPrice float64, constraints *gateway.SymbolConstraints) (*SizeResult, error) {
	if balance <= 0 || entryPrice <= 0 {
		return nil, ErrInvalidSize
	}

	lim := s.limits.Snapshot()

	var margin float64
	switch lim.SizingMode {
	case domain.SizingPercentage:
		margin = balance * lim.BalancePercentage / 100
	case domain.SizingDynamic:
		margin = s.dynamicMargin(balance, lim)
	default:
		margin = lim.FixedAmount
		if margin > balance {
			margin = balance
		}
	}

	// Per-position share of balance
	maxAllowed := balance * lim.MaxPositionPercentage / 100
	if margin > maxAllowed {
		margin = maxAllowed
		s.logger.Printf("position limited to %.1f%% of balance: %.2f", lim.MaxPositionPercentage, margin)
	}

	// Absolute notional cap, re-deriving margin when it bites
	value := margin * lim.Leverage
	if lim.MaxPositionValue > 0 && value > lim.MaxPositionValue {
		value = lim.MaxPositionValue
		margin = value / lim.Leverage
		s.logger.Printf("position limited to max notional: %.2f", value)
	}

	qty := value / entryPrice
	if constraints != nil {
		qty = gateway.FormatQuantity(qty, constraints)
	}
	if qty <= 0 {
		return nil, ErrInvalidSize
	}

	return &SizeResult{
		MarginRequired: margin,
		PositionValue:  value,
		Quantity:       qty,
		Leverage:       lim.Leverage,
	}, nil
}

// dynamicMargin sizes from the base risk percentage and tightens it
// with a Kelly fraction when the ledger supports one. Kelly only
// engages when the lifetime win rate exceeds 50% and both averages are
// positive; the fraction is clamped to [0, 0.25].
func (s *Sizer) dynamicMargin(balance float64, lim domain.RiskLimits) float64 {
	riskPct := lim.RiskPercent
	if riskPct <= 0 || riskPct > lim.MaxPositionPercentage {
		riskPct = lim.MaxPositionPercentage
	}
	margin := balance * riskPct / 100

	st := s.ledger.Snapshot()
	if st.WinRate > 50 && st.AverageWin > 0 && st.AverageLoss > 0 {
		winProb := st.WinRate / 100
		lossProb := 1 - winProb
		ratio := st.AverageWin / st.AverageLoss

		kelly := (winProb*ratio - lossProb) / ratio
		if kelly < 0 {
			kelly = 0
		}
		if kelly > 0.25 {
			kelly = 0.25
		}

		if kellySize := balance * kelly; kellySize < margin {
			margin = kellySize
		}
	}

	return margin
}
