package domain

// Direction of a position relative to the instrument price.
type Direction string

// Position directions.
const (
	DirectionLong  Direction = "LONG"
	DirectionShort Direction = "SHORT"
)

// Signal is a normalized trade signal produced by an external signal source.
// Immutable once constructed.
type Signal struct {
	Instrument string    // venue symbol, e.g. "BTCUSDT"
	Direction  Direction // LONG | SHORT
	EntryPrice float64   // signalled entry price
	Targets    []float64 // ordered take-profit prices (rung 0 first)
	StopLoss   *float64  // nil when the source provided none
	Source     string    // origin identifier
	ReceivedAt int64     // Unix timestamp in milliseconds
}

// Favorable reports whether price has moved in the signal's favor
// relative to entry for the given direction.
func Favorable(dir Direction, entry, price float64) bool {
	if dir == DirectionShort {
		return price < entry
	}
	return price > entry
}

// GainPercent returns the percentage gain at exit relative to entry,
// signed by direction: positive means favorable.
func GainPercent(dir Direction, entry, exit float64) float64 {
	if entry == 0 {
		return 0
	}
	if dir == DirectionShort {
		return (entry - exit) / entry * 100
	}
	return (exit - entry) / entry * 100
}
