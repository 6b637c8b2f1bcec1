// Package coordinator drives a due booking through one attempt: claim it,
// guard against a colliding slot, call the portal executor, classify the
// outcome, and either retire the booking or re-arm it for retry. All state
// moves through the store's compare-and-set; losing any race is a silent
// no-op.
package coordinator

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/example/courtsched/internal/booking"
	"github.com/example/courtsched/internal/notifier"
	"github.com/example/courtsched/internal/reserve"
)

// Publisher is where progress and terminal events go; satisfied by
// notifier.Dispatcher.
type Publisher interface {
	Publish(ev notifier.Event)
}

// Waker re-arms a booking for a later wake; satisfied by scheduler.Engine.
type Waker interface {
	Notify(b booking.ScheduledBooking)
}

// Config bounds the coordinator's resource use. Executions drive a slow
// external portal, so Workers stays small.
type Config struct {
	Workers    int
	RetryDelay time.Duration
}

func DefaultConfig() Config {
	return Config{
		Workers:    2,
		RetryDelay: 5 * time.Second,
	}
}

type Coordinator struct {
	store    booking.Store
	executor reserve.Executor
	creds    reserve.CredentialStore
	events   Publisher
	waker    Waker
	cfg      Config
	log      *zap.SugaredLogger

	sem chan struct{}
	wg  sync.WaitGroup

	// sleep is swapped in tests to skip real retry delays.
	sleep func(ctx context.Context, d time.Duration)
}

func New(store booking.Store, ex reserve.Executor, creds reserve.CredentialStore, events Publisher, cfg Config, log *zap.SugaredLogger) *Coordinator {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	return &Coordinator{
		store:    store,
		executor: ex,
		creds:    creds,
		events:   events,
		cfg:      cfg,
		log:      log.Named("coordinator"),
		sem:      make(chan struct{}, cfg.Workers),
		sleep:    sleepCtx,
	}
}

// SetWaker wires the scheduler in after construction; the two reference
// each other.
func (c *Coordinator) SetWaker(w Waker) { c.waker = w }

// Dispatch runs one attempt on its own goroutine, gated by the worker
// semaphore. It returns immediately so the scheduler's wake loop never
// blocks behind a slow portal call.
func (c *Coordinator) Dispatch(b booking.ScheduledBooking) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.sem <- struct{}{}
		defer func() { <-c.sem }()
		c.attempt(context.Background(), b)
	}()
}

// Wait blocks until all in-flight attempts finish. Used during shutdown
// and in tests.
func (c *Coordinator) Wait() { c.wg.Wait() }

// attempt is the per-attempt protocol from claim to terminal state or
// re-arm. b is a snapshot; only the store is authoritative.
func (c *Coordinator) attempt(ctx context.Context, b booking.ScheduledBooking) {
	claimed, err := c.store.TryTransition(ctx, b.ID,
		[]booking.Status{booking.StatusPending, booking.StatusDue}, booking.StatusExecuting)
	if err != nil {
		// Store unreachable: the record is untouched but its heap entry is
		// already popped, so hand it back to the scheduler for a later
		// wake. The delay keeps a dead store from spinning this loop.
		c.log.Errorw("claim failed against store", "booking_id", b.ID, "error", err)
		if c.waker != nil {
			b.FireAt = time.Now().UTC().Add(c.cfg.RetryDelay)
			c.waker.Notify(b)
		}
		return
	}
	if !claimed {
		// Another worker owns it, or it was cancelled. Silent abort.
		c.log.Debugw("claim lost", "booking_id", b.ID)
		return
	}

	now := time.Now().UTC()
	if err := c.store.RecordAttempt(ctx, b.ID, now); err != nil {
		c.log.Errorw("could not record attempt", "booking_id", b.ID, "error", err)
	}
	b.AttemptCount++
	b.ExecutedAt = &now

	// Collision guard: the only place the cross-owner slot invariant is
	// enforced. If someone else is already live on this slot, fail
	// without ever calling the portal.
	if other, err := c.store.FindActiveCollision(ctx, b.Slot(), b.ID); err == nil {
		c.log.Warnw("slot already claimed",
			"booking_id", b.ID, "slot", b.Slot().Key(), "held_by", other.ID)
		c.finish(ctx, b, booking.StatusFailed, "", "duplicate slot claim", nil)
		return
	} else if !isNotFound(err) {
		c.log.Errorw("collision check failed", "booking_id", b.ID, "error", err)
		c.rearm(ctx, b)
		return
	}

	creds, err := c.creds.Get(ctx, b.OwnerID)
	if err != nil {
		// Missing credentials can't heal on retry; anything else can.
		if isNoCredentials(err) {
			c.finish(ctx, b, booking.StatusFailed, "", "no portal credentials stored; log in first", nil)
		} else {
			c.log.Errorw("credential lookup failed", "booking_id", b.ID, "error", err)
			c.retryOrFail(ctx, b, "credential store unavailable", nil)
		}
		return
	}

	c.events.Publish(notifier.Event{
		Kind:      notifier.EventProgress,
		OwnerID:   b.OwnerID,
		BookingID: b.ID,
		Stage:     fmt.Sprintf("booking %s now", b.Slot().Key()),
	})

	outcome, err := c.executor.Execute(ctx, reserve.Request{
		Court: b.Court,
		Date:  b.TargetDate,
		Time:  b.TargetTime,
		Creds: creds,
		OnProgress: func(stage string) {
			c.events.Publish(notifier.Event{
				Kind:      notifier.EventProgress,
				OwnerID:   b.OwnerID,
				BookingID: b.ID,
				Stage:     stage,
			})
		},
	})
	if err != nil {
		// An error from the executor itself (as opposed to a structured
		// outcome) is treated as transient.
		outcome = reserve.Outcome{Kind: reserve.OutcomeTransient, Reason: err.Error()}
	}

	switch outcome.Kind {
	case reserve.OutcomeSuccess:
		c.log.Infow("booking succeeded",
			"booking_id", b.ID, "slot", b.Slot().Key(), "reference", outcome.Reference)
		c.finish(ctx, b, booking.StatusSucceeded, outcome.Reference, "", nil)

	case reserve.OutcomeUnavailable:
		c.log.Infow("slot unavailable",
			"booking_id", b.ID, "slot", b.Slot().Key(), "alternatives", outcome.Alternatives)
		c.finish(ctx, b, booking.StatusFailed, "", unavailableDetail(outcome), outcome.Alternatives)

	case reserve.OutcomeFatal:
		c.log.Warnw("booking failed fatally",
			"booking_id", b.ID, "slot", b.Slot().Key(), "reason", outcome.Reason)
		c.finish(ctx, b, booking.StatusFailed, "", outcome.Reason, nil)

	default: // transient
		c.log.Warnw("attempt failed, may retry",
			"booking_id", b.ID, "attempt", b.AttemptCount, "max", b.MaxAttempts, "reason", outcome.Reason)
		c.retryOrFail(ctx, b, outcome.Reason, outcome.Alternatives)
	}
}

// retryOrFail re-arms the booking when attempts remain, otherwise retires
// it as failed.
func (c *Coordinator) retryOrFail(ctx context.Context, b booking.ScheduledBooking, reason string, alternatives []string) {
	if b.AttemptsExhausted() {
		detail := fmt.Sprintf("gave up after %d attempts: %s", b.AttemptCount, reason)
		c.finish(ctx, b, booking.StatusFailed, "", detail, alternatives)
		return
	}
	if err := c.store.SetOutcome(ctx, b.ID, "", reason); err != nil {
		c.log.Errorw("could not persist attempt error", "booking_id", b.ID, "error", err)
	}
	c.sleep(ctx, c.cfg.RetryDelay)
	c.rearm(ctx, b)
}

// rearm moves the booking back to Due and pokes the scheduler so the next
// attempt still goes through a fresh claim.
func (c *Coordinator) rearm(ctx context.Context, b booking.ScheduledBooking) {
	ok, err := c.store.TryTransition(ctx, b.ID,
		[]booking.Status{booking.StatusExecuting}, booking.StatusDue)
	if err != nil {
		c.log.Errorw("could not re-arm booking", "booking_id", b.ID, "error", err)
		return
	}
	if !ok {
		// Recovered by a restarted scheduler, or cancelled meanwhile.
		return
	}
	if c.waker != nil {
		b.FireAt = time.Now().UTC()
		c.waker.Notify(b)
	}
}

// finish persists the outcome, applies the terminal transition, and only
// then notifies — so the record survives a crash right after the portal
// call.
func (c *Coordinator) finish(ctx context.Context, b booking.ScheduledBooking, terminal booking.Status, resultRef, detail string, alternatives []string) {
	if err := c.store.SetOutcome(ctx, b.ID, resultRef, detail); err != nil {
		c.log.Errorw("could not persist outcome", "booking_id", b.ID, "error", err)
	}

	ok, err := c.store.TryTransition(ctx, b.ID,
		[]booking.Status{booking.StatusExecuting}, terminal)
	if err != nil {
		c.log.Errorw("terminal transition failed", "booking_id", b.ID, "error", err)
		return
	}
	if !ok {
		// The claim was taken from us (scheduler restart recovery). The
		// new owner's outcome wins; stay quiet.
		c.log.Debugw("terminal transition lost", "booking_id", b.ID, "wanted", terminal)
		return
	}

	c.events.Publish(notifier.Event{
		Kind:         notifier.EventTerminal,
		OwnerID:      b.OwnerID,
		BookingID:    b.ID,
		Status:       string(terminal),
		Detail:       terminalDetail(b, terminal, resultRef, detail),
		Alternatives: alternatives,
	})
}

func terminalDetail(b booking.ScheduledBooking, terminal booking.Status, resultRef, detail string) string {
	slot := fmt.Sprintf("%s %s, court %s", b.TargetDate.Format("Mon Jan 2"), b.TargetTime, b.Court)
	if terminal == booking.StatusSucceeded {
		if resultRef != "" {
			return fmt.Sprintf("%s (confirmation %s)", slot, resultRef)
		}
		return slot
	}
	return fmt.Sprintf("%s: %s", slot, detail)
}

func unavailableDetail(o reserve.Outcome) string {
	if o.Reason != "" {
		return o.Reason
	}
	if len(o.Alternatives) > 0 {
		return "slot unavailable; open times: " + strings.Join(o.Alternatives, ", ")
	}
	return "slot unavailable"
}

func isNotFound(err error) bool {
	return errors.Is(err, booking.ErrNotFound)
}

func isNoCredentials(err error) bool {
	return errors.Is(err, reserve.ErrNoCredentials)
}

func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
