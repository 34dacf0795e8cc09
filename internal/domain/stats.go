package domain

// Statistics is the durable state of the statistics ledger. Counters are
// lifetime unless suffixed; the day/week accumulators roll when their
// key no longer matches the current date.
type Statistics struct {
	// Rolling loss accumulators
	DailyLoss     float64 `json:"daily_loss"`
	DailyLossDate string  `json:"daily_loss_date"` // YYYY-MM-DD
	WeeklyLoss    float64 `json:"weekly_loss"`
	WeeklyLossKey string  `json:"weekly_loss_key"` // ISO year-week, e.g. "2026-W35"

	ConsecutiveLosses int   `json:"consecutive_losses"`
	TradesToday       int   `json:"trades_today"`
	FailedToday       int   `json:"failed_today"`
	LastTradeTime     int64 `json:"last_trade_time"` // Unix ms, 0 when no trade yet

	// Lifetime totals
	TotalTrades   int     `json:"total_trades"`
	WinningTrades int     `json:"winning_trades"`
	LosingTrades  int     `json:"losing_trades"`
	TotalProfit   float64 `json:"total_profit"` // sum of wins
	TotalLoss     float64 `json:"total_loss"`   // sum of |losses|
	LargestWin    float64 `json:"largest_win"`
	LargestLoss   float64 `json:"largest_loss"`

	// Balance tracking
	PeakBalance     float64 `json:"peak_balance"`
	CurrentDrawdown float64 `json:"current_drawdown"` // % from peak, >= 0

	// Derived (recomputed on every record)
	WinRate      float64 `json:"win_rate"`      // %
	AverageWin   float64 `json:"average_win"`
	AverageLoss  float64 `json:"average_loss"`
	ProfitFactor float64 `json:"profit_factor"` // averageWin/averageLoss when averageLoss > 0
	SharpeRatio  float64 `json:"sharpe_ratio"`  // simplified proxy: avg return / avg loss
}
