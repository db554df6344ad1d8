package registry

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/webitel/agent-event-bus/internal/domain/event"
)

// Interface guard
var _ Connector = (*connect)(nil)

// [CONNECTOR] A tap's outbound mailbox. Transport handlers (websocket,
// long-poll) read from Recv while a subscription handler feeds Send.
type Connector interface {
	ID() uuid.UUID
	SubscriptionID() string
	Send(ev event.Event, timeout time.Duration) bool
	Recv() <-chan event.Event
	Done() <-chan struct{}
	Dropped() uint64
	Close()
}

// ConnectMetadata describes the remote side of a tap.
type ConnectMetadata struct {
	RemoteIP  string
	UserAgent string
}

type connect struct {
	id       uuid.UUID
	subID    atomic.Value // string, set once the subscription exists
	metadata ConnectMetadata
	ctx      context.Context
	cancelFn context.CancelFunc

	// sendMu keeps Close from racing a Send into a closed channel.
	sendMu    sync.RWMutex
	sendCh    chan event.Event
	closeOnce sync.Once
	dropped   atomic.Uint64
}

// NewConnector opens a tap mailbox of bufferSize events. It closes by
// itself when ctx is cancelled.
func NewConnector(ctx context.Context, bufferSize int, meta ConnectMetadata) Connector {
	if bufferSize < 1 {
		bufferSize = DefaultConnectorBuffer
	}
	childCtx, cancel := context.WithCancel(ctx)
	c := &connect{
		id:       uuid.New(),
		metadata: meta,
		ctx:      childCtx,
		cancelFn: cancel,
		sendCh:   make(chan event.Event, bufferSize),
	}
	c.subID.Store("")
	return c
}

// Bind records the subscription feeding this connector.
func Bind(c Connector, subscriptionID string) {
	if cc, ok := c.(*connect); ok {
		cc.subID.Store(subscriptionID)
	}
}

func (c *connect) ID() uuid.UUID            { return c.id }
func (c *connect) SubscriptionID() string   { return c.subID.Load().(string) }
func (c *connect) Recv() <-chan event.Event { return c.sendCh }
func (c *connect) Done() <-chan struct{}    { return c.ctx.Done() }
func (c *connect) Dropped() uint64          { return c.dropped.Load() }

// Send waits up to timeout for room in the mailbox. On a saturated buffer
// it tries to evict a lower priority event to make room.
func (c *connect) Send(ev event.Event, timeout time.Duration) bool {
	c.sendMu.RLock()
	defer c.sendMu.RUnlock()

	// [LIFECYCLE_GATE]
	if c.ctx.Err() != nil {
		return false
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-c.ctx.Done():
		return false
	case c.sendCh <- ev:
		return true
	case <-timer.C:
		// [BACKPRESSURE_THRESHOLD] Persistent slow consumer.
		return c.handleBackpressure(ev)
	}
}

// handleBackpressure manages full buffers by dropping low-priority events.
func (c *connect) handleBackpressure(ev event.Event) bool {
	if ev.Priority <= event.PriorityLow {
		c.dropped.Add(1)
		return false
	}

	select {
	case old := <-c.sendCh:
		if old.Priority < ev.Priority {
			// The evicted event is the one lost.
			c.dropped.Add(1)
			select {
			case c.sendCh <- ev:
				return true
			default:
			}
			c.dropped.Add(1)
			return false
		}
		// Both matter equally; put the old one back, best effort.
		select {
		case c.sendCh <- old:
		default:
			c.dropped.Add(1)
		}
	default:
		// The reader drained the buffer concurrently; try once more.
		select {
		case c.sendCh <- ev:
			return true
		default:
		}
	}

	c.dropped.Add(1)
	return false
}

// Close cancels the tap and closes its mailbox. Safe to call repeatedly.
func (c *connect) Close() {
	c.closeOnce.Do(func() {
		c.cancelFn()

		c.sendMu.Lock()
		close(c.sendCh)
		c.sendMu.Unlock()
	})
}
