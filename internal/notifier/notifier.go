// Package notifier carries booking progress and terminal results to the
// user. Delivery is fire-and-forget: the coordinator publishes onto a
// channel and a dispatcher goroutine drains it, so a slow or failing sink
// never stalls an execution worker.
package notifier

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// EventKind distinguishes progress updates from terminal results.
type EventKind string

const (
	EventProgress EventKind = "progress"
	EventTerminal EventKind = "terminal"
)

// Event is one user-visible update about a scheduled booking.
type Event struct {
	Kind      EventKind
	OwnerID   int64
	BookingID string

	// Stage is set for progress events ("logging in", "selecting slot"...).
	Stage string

	// Terminal detail.
	Status       string
	Detail       string
	Alternatives []string
}

// Sink receives events. Implementations must not block indefinitely.
type Sink interface {
	Notify(ctx context.Context, ev Event)
}

// Dispatcher decouples event production from delivery. Publish never
// blocks the caller beyond a buffered channel send; when the buffer is
// full the event is dropped and counted, which is acceptable for
// best-effort user notification.
type Dispatcher struct {
	sink Sink
	ch   chan Event
	log  *zap.SugaredLogger

	wg      sync.WaitGroup
	dropped int
	mu      sync.Mutex
}

const dispatchBuffer = 64

func NewDispatcher(sink Sink, log *zap.SugaredLogger) *Dispatcher {
	d := &Dispatcher{
		sink: sink,
		ch:   make(chan Event, dispatchBuffer),
		log:  log.Named("notifier"),
	}
	// Registered here, not in Run: a Wait racing the Run goroutine's
	// startup must still block until the drain completes.
	d.wg.Add(1)
	return d
}

// Run drains the channel until ctx is cancelled, then delivers whatever
// is already buffered and returns. It must be called exactly once.
func (d *Dispatcher) Run(ctx context.Context) {
	defer d.wg.Done()

	for {
		select {
		case <-ctx.Done():
			for {
				select {
				case ev := <-d.ch:
					d.deliver(context.Background(), ev)
				default:
					return
				}
			}
		case ev := <-d.ch:
			d.deliver(ctx, ev)
		}
	}
}

// Publish enqueues an event for delivery.
func (d *Dispatcher) Publish(ev Event) {
	select {
	case d.ch <- ev:
	default:
		d.mu.Lock()
		d.dropped++
		n := d.dropped
		d.mu.Unlock()
		d.log.Warnw("notification dropped, buffer full",
			"booking_id", ev.BookingID, "dropped_total", n)
	}
}

// Wait blocks until Run has returned.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

func (d *Dispatcher) deliver(ctx context.Context, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Errorw("notifier sink panicked", "panic", r, "booking_id", ev.BookingID)
		}
	}()
	d.sink.Notify(ctx, ev)
}

// MultiSink fans an event out to every sink in order.
type MultiSink []Sink

func (m MultiSink) Notify(ctx context.Context, ev Event) {
	for _, s := range m {
		s.Notify(ctx, ev)
	}
}

// LogSink writes events to the process log. Used in development and as a
// fallback when no Telegram token is configured.
type LogSink struct {
	Log *zap.SugaredLogger
}

func (s LogSink) Notify(_ context.Context, ev Event) {
	switch ev.Kind {
	case EventProgress:
		s.Log.Infow("booking progress",
			"booking_id", ev.BookingID, "owner_id", ev.OwnerID, "stage", ev.Stage)
	default:
		s.Log.Infow("booking finished",
			"booking_id", ev.BookingID, "owner_id", ev.OwnerID,
			"status", ev.Status, "detail", ev.Detail, "alternatives", ev.Alternatives)
	}
}
