/*
Package registry holds the subscription table and the delivery units behind it.

Key Architectural Concepts:
  - Cells: every subscription owns an isolated Cell with its own priority
    queue and concurrency budget, so a slow or hung handler only consumes
    its own subscription's slots.
  - Priority First: a freed slot always goes to the highest priority queued
    delivery; equal priorities keep publish order.
  - Consistent Snapshots: the Hub hands the bus a copy of the active
    subscriptions per dispatch pass; state changes happen under its write lock.
*/
package registry

import (
	"container/heap"
	"context"
	"log/slog"
	"sync"
	"time"
)

// Cell implements [ISOLATED_DELIVERY] for a single subscription.
type Cell struct {
	handler Handler
	logger  *slog.Logger

	mu sync.Mutex

	// [MAILBOX] Pending deliveries, highest priority on top.
	pending queue
	seq     uint64

	// [CONCURRENCY_CONTROL]
	limit   int
	running int

	paused  bool
	stopped bool

	// wg tracks handler goroutines for graceful drain.
	wg sync.WaitGroup
}

func NewCell(handler Handler, limit int, logger *slog.Logger) *Cell {
	if limit < 1 {
		limit = 1
	}
	return &Cell{
		handler: handler,
		limit:   limit,
		logger:  logger,
	}
}

// Push queues d. It returns false once the cell is stopped.
func (c *Cell) Push(d *Delivery) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stopped {
		return false
	}
	c.seq++
	d.seq = c.seq
	heap.Push(&c.pending, d)
	c.pump()
	return true
}

// Pause keeps the queue but starts nothing new. Running handlers finish.
func (c *Cell) Pause() {
	c.mu.Lock()
	c.paused = true
	c.mu.Unlock()
}

// Resume drains the queue highest priority first.
func (c *Cell) Resume() {
	c.mu.Lock()
	c.paused = false
	c.pump()
	c.mu.Unlock()
}

// Stop refuses further pushes and hands back whatever never started.
func (c *Cell) Stop() []*Delivery {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.stopped = true
	out := make([]*Delivery, 0, c.pending.Len())
	for c.pending.Len() > 0 {
		out = append(out, heap.Pop(&c.pending).(*Delivery))
	}
	return out
}

// Wait blocks until running handlers return or ctx is done.
func (c *Cell) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Load reports queued and running deliveries.
func (c *Cell) Load() (queued, running int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pending.Len(), c.running
}

func (c *Cell) Limit() int { return c.limit }

// pump hands free slots to queued deliveries. Requires c.mu.
func (c *Cell) pump() {
	for !c.paused && !c.stopped && c.running < c.limit && c.pending.Len() > 0 {
		d := heap.Pop(&c.pending).(*Delivery)
		c.running++
		c.wg.Add(1)
		go c.run(d)
	}
}

func (c *Cell) run(d *Delivery) {
	defer func() {
		c.mu.Lock()
		c.running--
		c.pump()
		c.mu.Unlock()
		c.wg.Done()
	}()

	if d.Start != nil && !d.Start(d) {
		return
	}

	started := time.Now()
	err := c.invoke(d)
	if d.Done != nil {
		d.Done(d, err, time.Since(started))
	}
}

func (c *Cell) invoke(d *Delivery) (err error) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("HANDLER_PANIC_RECOVERED",
				"subscription_id", d.SubscriptionID,
				"event_id", d.Event.ID,
				"panic", r,
			)
			err = &PanicError{Value: r}
		}
	}()
	return c.handler.Handle(d.context(), d.Event.Clone())
}
