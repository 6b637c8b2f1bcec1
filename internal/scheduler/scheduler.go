// Package scheduler owns the wake-up schedule. A single loop sleeps until
// the earliest fire instant, interruptible by newly submitted bookings,
// and hands due bookings to the execution coordinator. It notices due
// work; it never claims it, so two engines pointed at the same store
// cannot double-execute anything.
package scheduler

import (
	"container/heap"
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/example/courtsched/internal/booking"
)

// Dispatcher receives due bookings. Dispatch must not block the wake loop;
// the coordinator queues internally.
type Dispatcher interface {
	Dispatch(b booking.ScheduledBooking)
}

// Engine maintains the in-memory timer queue over the store's pending
// bookings. The store stays authoritative: every entry is re-read before
// dispatch and stale entries are dropped.
type Engine struct {
	store    booking.Store
	dispatch Dispatcher
	log      *zap.SugaredLogger

	mu   sync.Mutex
	pq   fireQueue
	wake chan struct{}

	// now is swapped in tests.
	now func() time.Time

	// retryInterval spaces out re-reads when the store is unreachable.
	retryInterval time.Duration
}

func NewEngine(store booking.Store, d Dispatcher, log *zap.SugaredLogger) *Engine {
	return &Engine{
		store:         store,
		dispatch:      d,
		log:           log.Named("scheduler"),
		wake:          make(chan struct{}, 1),
		now:           time.Now,
		retryInterval: 15 * time.Second,
	}
}

// Notify inserts a booking into the timer queue and interrupts the
// current sleep if it fires earlier than the armed wake time. Safe to
// call from any goroutine.
func (e *Engine) Notify(b booking.ScheduledBooking) {
	e.mu.Lock()
	heap.Push(&e.pq, entry{id: b.ID, fireAt: b.FireAt})
	e.mu.Unlock()

	select {
	case e.wake <- struct{}{}:
	default:
	}
}

// Run reloads unfinished bookings and then blocks on the wake loop until
// ctx is cancelled.
func (e *Engine) Run(ctx context.Context) error {
	if err := e.reload(ctx); err != nil {
		// The store being down at boot is not fatal; authority lives
		// there, not here. Due work is re-read on every wake.
		e.log.Errorw("startup reload failed", "error", err)
	}

	for {
		timer := time.NewTimer(e.sleepFor())
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-e.wake:
			timer.Stop()
		case <-timer.C:
		}
		e.drainDue(ctx)
	}
}

// reload rebuilds the timer queue from the store. A booking found
// Executing belonged to a process that died mid-attempt: its outcome is
// lost, so it is demoted to Due and retried. The attempt counter already
// reflects the claimed attempt; it is not incremented again here.
func (e *Engine) reload(ctx context.Context) error {
	unfinished, err := e.store.ListUnfinished(ctx)
	if err != nil {
		return err
	}

	recovered := 0
	for _, b := range unfinished {
		if b.Status == booking.StatusExecuting {
			ok, err := e.store.TryTransition(ctx, b.ID, []booking.Status{booking.StatusExecuting}, booking.StatusDue)
			if err != nil {
				e.log.Errorw("could not demote interrupted booking", "booking_id", b.ID, "error", err)
				continue
			}
			if ok {
				recovered++
			}
		}
		e.mu.Lock()
		heap.Push(&e.pq, entry{id: b.ID, fireAt: b.FireAt})
		e.mu.Unlock()
	}

	e.log.Infow("timer queue reloaded",
		"unfinished", len(unfinished), "recovered_interrupted", recovered)
	return nil
}

// sleepFor returns how long to sleep until the earliest queued fire
// instant, or a long idle interval when the queue is empty.
func (e *Engine) sleepFor() time.Duration {
	const idle = time.Hour

	e.mu.Lock()
	defer e.mu.Unlock()

	if len(e.pq) == 0 {
		return idle
	}
	d := e.pq[0].fireAt.Sub(e.now())
	if d < 0 {
		return 0
	}
	if d > idle {
		return idle
	}
	return d
}

// drainDue pops every entry whose fire instant has passed and hands it to
// the coordinator. One bad record never stops the loop: store errors
// re-queue the entry for the next cycle, stale records are dropped.
func (e *Engine) drainDue(ctx context.Context) {
	now := e.now()

	// Sweep the store for due pending bookings the heap does not know
	// about, e.g. created by the CLI against the same database. Duplicate
	// entries are harmless: the claim CAS lets only one attempt through.
	if due, err := e.store.ListDue(ctx, now); err != nil {
		e.log.Warnw("due sweep failed", "error", err)
	} else {
		e.mu.Lock()
		for _, b := range due {
			heap.Push(&e.pq, entry{id: b.ID, fireAt: b.FireAt})
		}
		e.mu.Unlock()
	}

	for {
		e.mu.Lock()
		if len(e.pq) == 0 || e.pq[0].fireAt.After(now) {
			e.mu.Unlock()
			return
		}
		ent := heap.Pop(&e.pq).(entry)
		e.mu.Unlock()

		b, err := e.store.Get(ctx, ent.id)
		if err != nil {
			e.log.Warnw("due booking unreadable, will retry",
				"booking_id", ent.id, "error", err)
			e.mu.Lock()
			heap.Push(&e.pq, entry{id: ent.id, fireAt: now.Add(e.retryInterval)})
			e.mu.Unlock()
			continue
		}

		// Cancelled (or otherwise finished) while waiting: drop, never
		// dispatch.
		if b.Status != booking.StatusPending && b.Status != booking.StatusDue {
			e.log.Debugw("skipping booking no longer dispatchable",
				"booking_id", b.ID, "status", b.Status)
			continue
		}

		e.log.Infow("booking due", "booking_id", b.ID, "slot", b.Slot().Key(), "fire_at", b.FireAt)
		e.dispatch.Dispatch(b)
	}
}

type entry struct {
	id     string
	fireAt time.Time
}

// fireQueue is a min-heap on fireAt.
type fireQueue []entry

func (q fireQueue) Len() int            { return len(q) }
func (q fireQueue) Less(i, j int) bool  { return q[i].fireAt.Before(q[j].fireAt) }
func (q fireQueue) Swap(i, j int)       { q[i], q[j] = q[j], q[i] }
func (q *fireQueue) Push(x interface{}) { *q = append(*q, x.(entry)) }
func (q *fireQueue) Pop() interface{} {
	old := *q
	n := len(old)
	it := old[n-1]
	*q = old[:n-1]
	return it
}
