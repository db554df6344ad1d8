package registry

import "time"

const (
	DefaultConcurrency     = 4
	DefaultConnectorBuffer = 256
)

// Option defines a functional configuration type for the Hub.
type Option func(*Hub)

// WithDefaultConcurrency sets the [CONCURRENCY_BUDGET] used when a
// subscriber does not ask for one.
func WithDefaultConcurrency(n int) Option {
	return func(h *Hub) {
		if n > 0 {
			h.config.defaultConcurrency = n
		}
	}
}

// WithConnectorBuffer sets the [BACKPRESSURE] threshold of tap connectors.
func WithConnectorBuffer(size int) Option {
	return func(h *Hub) {
		if size > 0 {
			h.config.connectorBuffer = size
		}
	}
}

// WithClock overrides the time source for subscription timestamps.
func WithClock(now func() time.Time) Option {
	return func(h *Hub) {
		if now != nil {
			h.config.now = now
		}
	}
}
