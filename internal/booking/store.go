package booking

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
)

var (
	// ErrNotFound indicates the booking id does not exist.
	ErrNotFound = errors.New("booking not found")
	// ErrDuplicate indicates the owner already has an unfinished booking
	// for the same slot.
	ErrDuplicate = errors.New("duplicate booking for slot")
)

// Store is the single source of truth for scheduled bookings. All status
// mutations go through TryTransition; nothing held in memory is
// authoritative across a suspension point.
type Store interface {
	// Create persists a new booking and returns its id. It rejects a
	// second unfinished booking from the same owner for the same slot
	// with ErrDuplicate. Cross-owner slot collisions are allowed here;
	// they are resolved at claim time by FindActiveCollision.
	Create(ctx context.Context, b ScheduledBooking) (string, error)

	Get(ctx context.Context, id string) (ScheduledBooking, error)

	// ListDue returns pending bookings whose fire instant has passed.
	ListDue(ctx context.Context, now time.Time) ([]ScheduledBooking, error)

	// ListUnfinished returns every booking in a non-terminal state. Used
	// by the scheduler on startup to rebuild its timer queue.
	ListUnfinished(ctx context.Context) ([]ScheduledBooking, error)

	ListByOwner(ctx context.Context, ownerID int64) ([]ScheduledBooking, error)

	// TryTransition atomically moves the booking from any status in from
	// to the to status. Returns false, without error, when the current
	// status is not in from — the caller lost the race or the transition
	// no longer applies.
	TryTransition(ctx context.Context, id string, from []Status, to Status) (bool, error)

	// RecordAttempt increments the attempt counter and stamps executed_at.
	RecordAttempt(ctx context.Context, id string, at time.Time) error

	// SetOutcome persists terminal detail (result reference or last error)
	// without touching status.
	SetOutcome(ctx context.Context, id string, resultRef, lastError string) error

	// FindActiveCollision returns another booking occupying the same slot
	// in Due or Executing state, or ErrNotFound when the slot is free.
	FindActiveCollision(ctx context.Context, slot Slot, excludingID string) (ScheduledBooking, error)
}

// Cancel is the user-facing cancellation: honored only before an attempt
// claims the booking.
func Cancel(ctx context.Context, s Store, id string) (bool, error) {
	return s.TryTransition(ctx, id, []Status{StatusPending, StatusDue}, StatusCancelled)
}
