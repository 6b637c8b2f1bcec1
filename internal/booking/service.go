package booking

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
)

// Waker is implemented by the scheduler engine; Submit pokes it so a
// booking with an earlier fire instant shortens the current sleep.
type Waker interface {
	Notify(b ScheduledBooking)
}

// SubmitRequest is the inspection-surface input for a new scheduled booking.
type SubmitRequest struct {
	OwnerID     int64
	Court       string
	TargetDate  time.Time
	TargetTime  string
	MaxAttempts int
}

// Service is the surface the front ends (web UI, CLI) call. It validates,
// computes eligibility, persists, and wakes the scheduler. It never runs
// bookings itself.
type Service struct {
	store       Store
	policy      WindowPolicy
	waker       Waker
	maxAttempts int
	log         *zap.SugaredLogger

	now func() time.Time
}

// NewService builds the facade. maxAttempts is the retry budget applied
// to submissions that do not set their own; zero means DefaultMaxAttempts.
func NewService(store Store, policy WindowPolicy, waker Waker, maxAttempts int, log *zap.SugaredLogger) *Service {
	if maxAttempts < 1 {
		maxAttempts = DefaultMaxAttempts
	}
	return &Service{
		store:       store,
		policy:      policy,
		waker:       waker,
		maxAttempts: maxAttempts,
		log:         log.Named("booking"),
		now:         time.Now,
	}
}

// Submit validates the request and persists a pending booking. Requests
// already inside the portal window get fire_at = now and are picked up on
// the next wake, so everything flows through the same claim path.
func (s *Service) Submit(ctx context.Context, req SubmitRequest) (ScheduledBooking, error) {
	if req.MaxAttempts == 0 {
		req.MaxAttempts = s.maxAttempts
	}

	fireAt, err := ComputeFireAt(req.TargetDate, s.policy, s.now())
	if err != nil {
		return ScheduledBooking{}, err
	}

	b := New(req.OwnerID, req.Court, req.TargetDate, req.TargetTime, fireAt, req.MaxAttempts)
	if err := b.Validate(); err != nil {
		return ScheduledBooking{}, err
	}

	id, err := s.store.Create(ctx, b)
	if err != nil {
		return ScheduledBooking{}, errors.Wrap(err, "create booking")
	}
	b.ID = id

	s.log.Infow("booking scheduled",
		"booking_id", b.ID,
		"owner_id", b.OwnerID,
		"slot", b.Slot().Key(),
		"fire_at", b.FireAt)

	if s.waker != nil {
		s.waker.Notify(b)
	}
	return b, nil
}

// Cancel transitions a pending or due booking to cancelled. Returns
// ErrNotFound for unknown ids; returns false when the booking has already
// been claimed or finished.
func (s *Service) Cancel(ctx context.Context, ownerID int64, id string) (bool, error) {
	b, err := s.store.Get(ctx, id)
	if err != nil {
		return false, err
	}
	if b.OwnerID != ownerID {
		return false, ErrNotFound
	}
	ok, err := Cancel(ctx, s.store, id)
	if err != nil {
		return false, err
	}
	if ok {
		s.log.Infow("booking cancelled", "booking_id", id, "owner_id", ownerID)
	}
	return ok, nil
}

func (s *Service) ListForOwner(ctx context.Context, ownerID int64) ([]ScheduledBooking, error) {
	return s.store.ListByOwner(ctx, ownerID)
}

func (s *Service) Get(ctx context.Context, ownerID int64, id string) (ScheduledBooking, error) {
	b, err := s.store.Get(ctx, id)
	if err != nil {
		return ScheduledBooking{}, err
	}
	if b.OwnerID != ownerID {
		return ScheduledBooking{}, ErrNotFound
	}
	return b, nil
}

// DefaultMaxAttempts matches the retry budget of the original bot.
const DefaultMaxAttempts = 5
