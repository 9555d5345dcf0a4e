// Package channel is the in-process handoff from the tailing engine to the
// sink proxy: a single producer, single consumer, blocking FIFO queue of
// records, with a stop sentinel the shutdown handler uses to unblock the
// consumer without closing the channel out from under a concurrent producer.
package channel

import "github.com/coldtail/spoold/internal/record"

// Item is either a Record to dispatch or the stop sentinel.
type Item struct {
	Record record.Record
	Stop   bool
}

// Channel is a bounded, blocking FIFO of Items.
type Channel struct {
	items chan Item
}

// New creates a Channel with the given buffer capacity. A capacity of 0
// makes Put and Get rendezvous synchronously.
func New(capacity int) *Channel {
	return &Channel{items: make(chan Item, capacity)}
}

// Put enqueues a record, blocking if the channel is full.
func (c *Channel) Put(r record.Record) {
	c.items <- Item{Record: r}
}

// PutStop enqueues the stop sentinel, blocking if the channel is full.
func (c *Channel) PutStop() {
	c.items <- Item{Stop: true}
}

// Get blocks until an item is available and returns it.
func (c *Channel) Get() Item {
	return <-c.items
}
