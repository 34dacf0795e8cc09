package events

import "log"

// LogSink writes events to a logger. Useful when no dashboard is
// connected.
type LogSink struct {
	logger *log.Logger
}

// NewLogSink creates a log-backed sink.
func NewLogSink(logger *log.Logger) *LogSink {
	if logger == nil {
		logger = log.Default()
	}
	return &LogSink{logger: logger}
}

// Publish logs the event.
func (s *LogSink) Publish(evt Event) {
	if evt.Instrument != "" {
		s.logger.Printf("event %s %s", evt.Type, evt.Instrument)
		return
	}
	s.logger.Printf("event %s", evt.Type)
}

var _ Sink = (*LogSink)(nil)
