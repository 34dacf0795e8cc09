package gateway

import (
	"errors"
	"fmt"
)

// Gateway errors.
var (
	// ErrUnsupported is returned when the venue does not implement the
	// requested capability.
	ErrUnsupported = errors.New("not supported by venue")

	// ErrTimeout is returned when a gateway call exceeded its deadline.
	ErrTimeout = errors.New("gateway call timed out")
)

// VenueError is a machine-readable rejection from the venue. It is a
// normal outcome of order placement, not a transport failure.
type VenueError struct {
	Code   string // venue return code
	Reason string // venue reason string
}

func (e *VenueError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("venue rejected: %s (code %s)", e.Reason, e.Code)
	}
	return fmt.Sprintf("venue rejected: %s", e.Reason)
}

// IsRejection reports whether err is a venue rejection.
func IsRejection(err error) bool {
	var ve *VenueError
	return errors.As(err, &ve)
}
