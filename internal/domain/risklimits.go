package domain

// SizingMode selects the position sizing policy.
type SizingMode string

// Sizing modes.
const (
	SizingFixed      SizingMode = "fixed"      // fixed margin amount
	SizingPercentage SizingMode = "percentage" // percentage of balance
	SizingDynamic    SizingMode = "dynamic"    // Kelly-weighted risk percentage
)

// RiskLimits is the hot-reloadable risk configuration. A single instance
// is shared process-wide through a snapshotting holder; callers always
// work on a value copy.
type RiskLimits struct {
	// Loss caps
	MaxDailyLoss         float64 `json:"max_daily_loss"`         // currency
	MaxWeeklyLoss        float64 `json:"max_weekly_loss"`        // currency
	MaxConsecutiveLosses int     `json:"max_consecutive_losses"`
	MaxDailyTrades       int     `json:"max_daily_trades"`
	MaxLossPercentage    float64 `json:"max_loss_percentage"` // daily loss as % of balance
	CooldownMinutes      int     `json:"cooldown_minutes"`    // after consecutive-loss lockout
	DrawdownLimit        float64 `json:"drawdown_limit"`      // % from peak balance

	// Margin safety
	MinMarginLevel          float64 `json:"min_margin_level"`          // % floor to open positions
	AutoDeleverageThreshold float64 `json:"auto_deleverage_threshold"` // % warning threshold

	// Position limits
	MaxOpenPositions      int     `json:"max_open_positions"`
	MaxPositionPercentage float64 `json:"max_position_percentage"` // % of balance per position
	MaxPositionValue      float64 `json:"max_position_value"`      // absolute cap on notional

	// Sizing
	SizingMode        SizingMode `json:"sizing_mode"`
	FixedAmount       float64    `json:"fixed_amount"`       // margin for SizingFixed
	BalancePercentage float64    `json:"balance_percentage"` // % for SizingPercentage
	RiskPercent       float64    `json:"risk_percent"`       // base % for SizingDynamic
	Leverage          float64    `json:"leverage"`

	// Ladder behavior
	BreakevenTarget            int       `json:"breakeven_target"` // rung index triggering breakeven
	TrailingStopEnabled        bool      `json:"trailing_stop_enabled"`
	TrailingStopPercentage     float64   `json:"trailing_stop_percentage"`
	PartialCloseEnabled        bool      `json:"partial_close_enabled"`
	PartialClosePercents       []float64 `json:"partial_close_percents"` // % per rung, last absorbs remainder
	EmergencyStopLoss          float64   `json:"emergency_stop_loss"`    // adverse % forcing market close
	ProfitProtectionPercentage float64   `json:"profit_protection_percentage"`
}

// DefaultRiskLimits returns the limits applied when the store is empty.
func DefaultRiskLimits() RiskLimits {
	return RiskLimits{
		MaxDailyLoss:         100,
		MaxWeeklyLoss:        500,
		MaxConsecutiveLosses: 3,
		MaxDailyTrades:       10,
		MaxLossPercentage:    10,
		CooldownMinutes:      60,
		DrawdownLimit:        15,

		MinMarginLevel:          150,
		AutoDeleverageThreshold: 120,

		MaxOpenPositions:      5,
		MaxPositionPercentage: 30,
		MaxPositionValue:      1000,

		SizingMode:        SizingFixed,
		FixedAmount:       100,
		BalancePercentage: 10,
		RiskPercent:       2,
		Leverage:          10,

		BreakevenTarget:            0,
		TrailingStopEnabled:        true,
		TrailingStopPercentage:     2,
		PartialCloseEnabled:        true,
		PartialClosePercents:       []float64{25, 50, 75},
		EmergencyStopLoss:          50,
		ProfitProtectionPercentage: 80,
	}
}

// Clone returns a deep copy, detaching the partial-close slice.
func (l RiskLimits) Clone() RiskLimits {
	out := l
	out.PartialClosePercents = make([]float64, len(l.PartialClosePercents))
	copy(out.PartialClosePercents, l.PartialClosePercents)
	return out
}
