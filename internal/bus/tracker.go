package bus

import (
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/webitel/agent-event-bus/internal/domain/event"
	"github.com/webitel/agent-event-bus/internal/domain/registry"
)

// pass says why an event is being dispatched.
type pass int

const (
	passPublish pass = iota
	passReplay
	passDeadLetter
)

func (p pass) String() string {
	switch p {
	case passReplay:
		return "replay"
	case passDeadLetter:
		return "dead_letter_retry"
	default:
		return "publish"
	}
}

// route is the delivery record of one (event, subscription) pair. Its
// status walks the same lifecycle as the event.
type route struct {
	sub     *registry.Subscription
	status  event.Status
	retries int
	lastErr error
	backoff *backoff.ExponentialBackOff
	timer   *time.Timer
}

func (r *route) settled() bool {
	switch r.status {
	case event.StatusCompleted, event.StatusDeadLettered, event.StatusFailed:
		return true
	}
	return false
}

// tracker owns the authoritative copy of an event for one dispatch pass.
type tracker struct {
	// mu serializes route updates and the status writes they cause.
	mu sync.Mutex

	ev         event.Event
	pass       pass
	maxRetries int
	routes     map[string]*route
	order      []string
	// abandoned is set by Shutdown once the pending status was reported;
	// late handler outcomes are then ignored.
	abandoned bool
}

func newTracker(ev event.Event, p pass, maxRetries int, subs []*registry.Subscription, newBackoff func() *backoff.ExponentialBackOff) *tracker {
	t := &tracker{
		ev:         ev,
		pass:       p,
		maxRetries: maxRetries,
		routes:     make(map[string]*route, len(subs)),
		order:      make([]string, 0, len(subs)),
	}
	for _, sub := range subs {
		t.routes[sub.ID] = &route{
			sub:     sub,
			status:  event.StatusPublished,
			backoff: newBackoff(),
		}
		t.order = append(t.order, sub.ID)
	}
	return t
}

// aggregate projects the route states onto one event status:
// processing while any handler runs, retrying while any route waits on
// its backoff, and once every route settled completed, dead_lettered or
// failed in that order of precedence. Otherwise the status is unchanged.
func (t *tracker) aggregate() (event.Status, bool) {
	var running, waiting, queued, dead, failed int
	for _, r := range t.routes {
		switch r.status {
		case event.StatusProcessing, event.StatusDelivered:
			running++
		case event.StatusRetrying:
			waiting++
		case event.StatusPublished:
			queued++
		case event.StatusDeadLettered:
			dead++
		case event.StatusFailed:
			failed++
		}
	}

	switch {
	case running > 0:
		return event.StatusProcessing, false
	case waiting > 0:
		return event.StatusRetrying, false
	case queued > 0:
		return t.ev.Status, false
	case dead > 0:
		return event.StatusDeadLettered, true
	case failed > 0:
		return event.StatusFailed, true
	default:
		return event.StatusCompleted, true
	}
}

// retryCount is the highest retry count over all routes.
func (t *tracker) retryCount() int {
	n := 0
	for _, r := range t.routes {
		n = max(n, r.retries)
	}
	return n
}

// walk moves ev to the target status along the shortest legal path of the
// lifecycle so intermediate steps (delivered, failed) are never skipped.
func walk(ev *event.Event, to event.Status) bool {
	if ev.Status == to {
		return true
	}

	prev := map[event.Status]event.Status{ev.Status: ""}
	frontier := []event.Status{ev.Status}
	for len(frontier) > 0 && !has(prev, to) {
		next := frontier[:0:0]
		for _, from := range frontier {
			for _, s := range event.Statuses {
				if !has(prev, s) && event.CanTransition(from, s) && s != event.StatusPublished {
					prev[s] = from
					next = append(next, s)
				}
			}
		}
		frontier = next
	}
	if !has(prev, to) {
		return false
	}

	var path []event.Status
	for s := to; s != ev.Status; s = prev[s] {
		path = append(path, s)
	}
	for i := len(path) - 1; i >= 0; i-- {
		if err := ev.Transition(path[i]); err != nil {
			return false
		}
	}
	return true
}

func has(m map[event.Status]event.Status, s event.Status) bool {
	_, ok := m[s]
	return ok
}
