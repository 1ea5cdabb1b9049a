package platformlink

import "errors"

// ErrCircuitOpen is returned by outbound calls while the breaker is open.
var ErrCircuitOpen = errors.New("platformlink: circuit breaker open")
