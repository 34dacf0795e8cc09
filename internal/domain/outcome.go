package domain

// TradeOutcome is one realized fill recorded into trade history.
type TradeOutcome struct {
	Instrument  string    `json:"instrument"`
	Direction   Direction `json:"direction"`
	EntryPrice  float64   `json:"entry_price"`
	ExitPrice   float64   `json:"exit_price"`
	GainPercent float64   `json:"gain_percent"`
	RealizedPnL float64   `json:"realized_pnl"`
	IsWin       bool      `json:"is_win"`
	Reason      string    `json:"reason"` // close reason code
	ClosedAt    int64     `json:"closed_at"` // Unix ms
}

// Close reason codes.
const (
	CloseReasonTakeProfit    = "TAKE_PROFIT"
	CloseReasonStopLoss      = "STOP_LOSS"
	CloseReasonTrailingStop  = "TRAILING_STOP"
	CloseReasonEmergencyStop = "EMERGENCY_STOP"
	CloseReasonManual        = "MANUAL"
)
