package stream

import "errors"

// ErrNonMonotonic is returned when a frame's timestamp does not advance past
// the previous frame seen for the same player.
var ErrNonMonotonic = errors.New("non-monotonic frame timestamp")
