// Package flow throttles the extract reader to the graph store's write rate.
//
// A Controller counts writes that have been issued but not yet acknowledged.
// Before admitting the next record the producer calls Wait, which blocks while
// the count is at or above the high-water mark and wakes on every completion.
// Writers call Begin immediately before issuing a write and Done as soon as it
// returns, success or failure alike, so a failing write never holds the gate
// closed.
//
// Example:
//
//	gate := flow.New(300)
//	for rec := range records {
//		if err := gate.Wait(ctx); err != nil {
//			return err
//		}
//		gate.Begin()
//		go func() {
//			defer gate.Done()
//			write(rec)
//		}()
//	}
package flow

import (
	"context"
	"sync"
)

// DefaultHighWaterMark is the in-flight write limit used when none is given.
const DefaultHighWaterMark = 300

// Controller is a bounded in-flight write counter.
//
// Safe for concurrent use. The zero value is not usable; call New.
type Controller struct {
	mu        sync.Mutex
	highWater int
	inFlight  int
	peak      int
	waits     int64

	// drained is closed and replaced on every Done.
	drained chan struct{}
}

// New returns a Controller that suspends admission once highWater writes are
// in flight. Values <= 0 select DefaultHighWaterMark.
func New(highWater int) *Controller {
	if highWater <= 0 {
		highWater = DefaultHighWaterMark
	}
	return &Controller{
		highWater: highWater,
		drained:   make(chan struct{}),
	}
}

// Wait blocks until fewer than the high-water mark writes are in flight.
//
// It returns immediately when below the mark. Otherwise the caller sleeps
// until a Done brings the count back below the mark, or ctx ends.
func (c *Controller) Wait(ctx context.Context) error {
	counted := false
	for {
		c.mu.Lock()
		if c.inFlight < c.highWater {
			c.mu.Unlock()
			return nil
		}
		if !counted {
			c.waits++
			counted = true
		}
		drained := c.drained
		c.mu.Unlock()

		select {
		case <-drained:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Begin records one write as issued.
func (c *Controller) Begin() {
	c.mu.Lock()
	c.inFlight++
	if c.inFlight > c.peak {
		c.peak = c.inFlight
	}
	c.mu.Unlock()
}

// Done records one write as acknowledged and wakes waiting producers.
func (c *Controller) Done() {
	c.mu.Lock()
	if c.inFlight > 0 {
		c.inFlight--
	}
	close(c.drained)
	c.drained = make(chan struct{})
	c.mu.Unlock()
}

// InFlight returns the current number of unacknowledged writes.
func (c *Controller) InFlight() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inFlight
}

// Peak returns the highest in-flight count observed.
func (c *Controller) Peak() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.peak
}

// Waits returns how many times admission had to suspend.
func (c *Controller) Waits() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.waits
}

// HighWaterMark returns the configured limit.
func (c *Controller) HighWaterMark() int {
	return c.highWater
}
