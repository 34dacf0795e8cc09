// Package events carries lifecycle events out of the engine to
// observers (dashboards, logs). Delivery is best-effort and
// asynchronous; nothing in the engine depends on an event being seen.
package events

import "time"

// Type identifies a lifecycle event.
type Type string

// Lifecycle event types.
const (
	TypePositionAdded      Type = "position_added"
	TypePositionClosed     Type = "position_closed"
	TypeTargetsHit         Type = "targets_hit"
	TypeBreakevenActivated Type = "breakeven_activated"
	TypeTrailingStopMoved  Type = "trailing_stop_moved"
	TypeEmergencyStop      Type = "emergency_stop"
	TypeRiskStatusChanged  Type = "risk_status_changed"
	TypeStatisticsUpdated  Type = "statistics_updated"
)

// Event is one observable engine side effect.
type Event struct {
	Type       Type        `json:"type"`
	Instrument string      `json:"instrument,omitempty"`
	Payload    interface{} `json:"payload,omitempty"`
	At         time.Time   `json:"at"`
}

// Sink receives events. Implementations must not block the caller.
type Sink interface {
	Publish(evt Event)
}

// Publish sends an event to sink, tolerating a nil sink.
func Publish(sink Sink, typ Type, instrument string, payload interface{}) {
	if sink == nil {
		return
	}
	sink.Publish(Event{Type: typ, Instrument: instrument, Payload: payload, At: time.Now()})
}

// Multi fans an event out to several sinks.
type Multi []Sink

// Publish sends the event to every sink.
func (m Multi) Publish(evt Event) {
	for _, s := range m {
		if s != nil {
			s.Publish(evt)
		}
	}
}

var _ Sink = (Multi)(nil)
