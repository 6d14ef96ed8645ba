package throttle

import "errors"

// Error variables for limiter configuration.
var (
	// ErrInvalidMaxRequests is returned when a rule allows fewer than one request.
	ErrInvalidMaxRequests = errors.New("throttle: max requests must be at least 1")

	// ErrInvalidWindow is returned when a rule window is not positive.
	ErrInvalidWindow = errors.New("throttle: window must be positive")

	// ErrInvalidRate is returned when a steady limiter rate is not positive.
	ErrInvalidRate = errors.New("throttle: rate must be positive")

	// ErrInvalidBurst is returned when a steady limiter burst is less than 1.
	ErrInvalidBurst = errors.New("throttle: burst must be at least 1")
)
