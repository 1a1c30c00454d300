// Package dispatcher delivers outbound job notifications asynchronously
// with buffering, retry, per-destination pacing and circuit breaking.
package dispatcher

import (
	"context"
	"errors"

	"docjobs/pkg/cloudevent"
)

var (
	// ErrBufferFull is returned when the queue is full and the delivery is dropped.
	ErrBufferFull = errors.New("dispatcher buffer full, delivery dropped")

	// ErrClosed is returned by Dispatch after Close.
	ErrClosed = errors.New("dispatcher is closed")
)

// Dispatcher queues notifications for asynchronous delivery.
type Dispatcher interface {
	// Dispatch queues a delivery. Never blocks.
	Dispatch(d *Delivery) error

	// Stats returns current counters.
	Stats() Stats

	// Close stops accepting deliveries and drains the queue until ctx expires.
	Close(ctx context.Context) error
}

// Delivery is one CloudEvent bound for one destination URL.
type Delivery struct {
	Payload     *cloudevent.CloudEvent
	Destination string
	SigningKey  string // empty disables signing
	requeues    int
}

// Stats holds dispatcher counters.
type Stats struct {
	QueueDepth   int
	Queued       int64
	Delivered    int64
	Failed       int64 // gave up after retries or on a permanent rejection
	Dropped      int64 // buffer full or too many requeues
	Requeued     int64 // parked while the destination's breaker was open
	RetriesTotal int64
	Throttled    int64 // deliveries that waited on the per-destination pacer
	BreakersOpen int
}
