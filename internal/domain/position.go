package domain

// PositionState tracks a position through its lifecycle.
type PositionState string

// Position lifecycle states.
const (
	PositionStatePending         PositionState = "PENDING"          // entry order sent, ladder not yet placed
	PositionStateOpen            PositionState = "OPEN"             // ladder active
	PositionStatePartiallyFilled PositionState = "PARTIALLY_FILLED" // at least one target rung filled
	PositionStateClosed          PositionState = "CLOSED"           // terminal, removed from the open set
)

// TPOrder is one take-profit rung order resting on the venue.
type TPOrder struct {
	OrderID      string
	Price        float64
	Quantity     float64
	ClosePercent float64 // share of position size this rung closes
}

// Position is the central mutable entity, one per open instrument.
// All mutation goes through the lifecycle manager; other components
// receive snapshots.
type Position struct {
	Instrument string
	Direction  Direction
	EntryPrice float64
	Targets    []float64 // requested target prices, rung 0 first
	StopLoss   *float64  // requested protective stop
	Quantity   float64   // contract quantity at entry
	Leverage   float64
	MarginUsed float64
	State      PositionState
	CreatedAt  int64 // Unix timestamp in milliseconds

	EntryOrderID string

	// Ladder state
	FilledTargets        map[int]bool     // rung index -> filled
	TPOrders             map[int]*TPOrder // rung index -> resting order
	SLOrderID            string           // empty when no stop is resting
	BreakevenTarget      int              // rung index whose fill triggers breakeven
	SLMovedToBreakeven   bool
	TrailingActive       bool
	TrailingStopPrice    float64 // valid only when TrailingActive
	MaxProfitPercent     float64 // best favorable excursion seen, in %
	PartialCloseExecuted map[int]float64 // rung index -> percent closed

	// Observation state
	LastObservedPrice float64
	CheckCount        int64
}

// NewPosition creates an open-set entry for a placed entry order.
func NewPosition(sig *Signal, orderID string, qty, leverage, marginUsed float64, breakevenTarget int, createdAt int64) *Position {
	targets := make([]float64, len(sig.Targets))
	copy(targets, sig.Targets)

	var stopLoss *float64
	if sig.StopLoss != nil {
		v := *sig.StopLoss
		stopLoss = &v
	}

	return &Position{
		Instrument:           sig.Instrument,
		Direction:            sig.Direction,
		EntryPrice:           sig.EntryPrice,
		Targets:              targets,
		StopLoss:             stopLoss,
		Quantity:             qty,
		Leverage:             leverage,
		MarginUsed:           marginUsed,
		State:                PositionStatePending,
		CreatedAt:            createdAt,
		EntryOrderID:         orderID,
		FilledTargets:        make(map[int]bool),
		TPOrders:             make(map[int]*TPOrder),
		BreakevenTarget:      breakevenTarget,
		PartialCloseExecuted: make(map[int]float64),
	}
}

// GainPercentAt returns the directional gain% at the given price.
func (p *Position) GainPercentAt(price float64) float64 {
	return GainPercent(p.Direction, p.EntryPrice, price)
}

// RealizedPnL converts a gain% into currency P&L for this position's
// margin and leverage.
func (p *Position) RealizedPnL(gainPct float64) float64 {
	return p.MarginUsed * p.Leverage * gainPct / 100
}

// PositionSummary is a read-only snapshot for dashboards and event sinks.
type PositionSummary struct {
	Instrument         string    `json:"instrument"`
	Direction          Direction `json:"direction"`
	EntryPrice         float64   `json:"entry_price"`
	CurrentPrice       float64   `json:"current_price"`
	State              string    `json:"state"`
	TargetsFilled      int       `json:"targets_filled"`
	TargetsTotal       int       `json:"targets_total"`
	SLMovedToBreakeven bool      `json:"sl_breakeven"`
	TrailingActive     bool      `json:"trailing_active"`
	PnLPercent         float64   `json:"pnl_percent"`
	PnL                float64   `json:"pnl"`
	MaxProfitPercent   float64   `json:"max_profit_percent"`
	Leverage           float64   `json:"leverage"`
	MarginUsed         float64   `json:"margin_used"`
	CreatedAt          int64     `json:"created_at"`
	CheckCount         int64     `json:"checks"`
}

// Summary builds a snapshot of the position at its last observed price.
func (p *Position) Summary() PositionSummary {
	price := p.LastObservedPrice
	if price == 0 {
		price = p.EntryPrice
	}
	gainPct := p.GainPercentAt(price)

	return PositionSummary{
		Instrument:         p.Instrument,
		Direction:          p.Direction,
		EntryPrice:         p.EntryPrice,
		CurrentPrice:       price,
		State:              string(p.State),
		TargetsFilled:      len(p.FilledTargets),
		TargetsTotal:       len(p.Targets),
		SLMovedToBreakeven: p.SLMovedToBreakeven,
		TrailingActive:     p.TrailingActive,
		PnLPercent:         gainPct,
		PnL:                p.RealizedPnL(gainPct),
		MaxProfitPercent:   p.MaxProfitPercent,
		Leverage:           p.Leverage,
		MarginUsed:         p.MarginUsed,
		CreatedAt:          p.CreatedAt,
		CheckCount:         p.CheckCount,
	}
}
