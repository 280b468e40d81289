package client

import (
	"errors"

	"github.com/kaulonline/iriseller-mobile/internal/apierr"
	"github.com/kaulonline/iriseller-mobile/internal/gateway"
	"github.com/kaulonline/iriseller-mobile/internal/taskqueue"
)

// ErrQueued is returned when decoding the result of a call that was deferred
// to the offline queue.
var ErrQueued = gateway.ErrQueued

// ErrBackPressure is returned when the background task queue is full.
var ErrBackPressure = taskqueue.ErrQueueFull

// IsQueued reports whether err is ErrQueued.
func IsQueued(err error) bool { return gateway.IsQueued(err) }

// IsUnauthorized reports whether err is a 401 from the backend. The stored
// credential has already been cleared when this is true.
func IsUnauthorized(err error) bool { return apierr.IsUnauthorized(err) }

// IsNetwork reports whether err means the backend could not be reached.
func IsNetwork(err error) bool { return apierr.IsNetwork(err) }

// UserMessage returns the text a UI should show for err.
func UserMessage(err error) string { return apierr.UserMessage(err) }

// IsBackPressure reports whether err means the background queue was full.
func IsBackPressure(err error) bool { return errors.Is(err, ErrBackPressure) }
