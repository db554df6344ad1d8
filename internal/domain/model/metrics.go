package model

import "time"

// Metrics is a point-in-time snapshot of the bus counters.
type Metrics struct {
	// EventsPublished counts accepted publishes, replays and dead-letter retries.
	EventsPublished uint64 `json:"events_published"`
	// Delivered counts handler invocations started.
	Delivered uint64 `json:"delivered"`
	// Completed counts deliveries whose handler succeeded.
	Completed uint64 `json:"completed"`
	// Failed counts failed handler attempts and expired deliveries.
	Failed uint64 `json:"failed"`
	// Retried counts retries scheduled after a failure.
	Retried uint64 `json:"retried"`
	// DeadLettered counts deliveries that exhausted their retry budget.
	DeadLettered uint64 `json:"dead_lettered"`
	// Expired counts events or deliveries dropped because expires_at passed.
	Expired uint64 `json:"expired"`
	// FilterErrors counts filter evaluations that failed and were treated as non-match.
	FilterErrors uint64 `json:"filter_errors"`

	InFlightEvents int `json:"in_flight_events"`

	Subscriptions map[string]LatencyStats `json:"subscriptions,omitempty"`
	Uptime        time.Duration           `json:"uptime"`
}

// LatencyStats aggregates handler latency for one subscription.
type LatencyStats struct {
	Count uint64        `json:"count"`
	Total time.Duration `json:"total"`
	Min   time.Duration `json:"min"`
	Max   time.Duration `json:"max"`
	Last  time.Duration `json:"last"`
}

// Mean is the average handler latency, zero when nothing was observed.
func (s LatencyStats) Mean() time.Duration {
	if s.Count == 0 {
		return 0
	}
	return s.Total / time.Duration(s.Count)
}
