package booking_test

import (
	"context"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/example/courtsched/internal/booking"
	"github.com/example/courtsched/internal/memstore"
)

type recordingWaker struct {
	notified []booking.ScheduledBooking
}

func (w *recordingWaker) Notify(b booking.ScheduledBooking) {
	w.notified = append(w.notified, b)
}

func newTestService(t *testing.T) (*booking.Service, *memstore.Store, *recordingWaker) {
	t.Helper()
	store := memstore.New()
	waker := &recordingWaker{}
	policy := booking.WindowPolicy{Days: 7, ReleaseTime: "00:01", Location: time.UTC}
	svc := booking.NewService(store, policy, waker, 0, zap.NewNop().Sugar())
	return svc, store, waker
}

func TestSubmitAppliesConfiguredAttemptBudget(t *testing.T) {
	store := memstore.New()
	policy := booking.WindowPolicy{Days: 7, ReleaseTime: "00:01", Location: time.UTC}
	svc := booking.NewService(store, policy, nil, 3, zap.NewNop().Sugar())

	b, err := svc.Submit(context.Background(), booking.SubmitRequest{
		OwnerID:    1,
		Court:      "court-1",
		TargetDate: time.Now().UTC().AddDate(0, 0, 3),
		TargetTime: "19:00",
	})
	require.NoError(t, err)
	assert.Equal(t, 3, b.MaxAttempts, "the service default reaches the booking")

	b, err = svc.Submit(context.Background(), booking.SubmitRequest{
		OwnerID:     1,
		Court:       "court-2",
		TargetDate:  time.Now().UTC().AddDate(0, 0, 3),
		TargetTime:  "19:00",
		MaxAttempts: 2,
	})
	require.NoError(t, err)
	assert.Equal(t, 2, b.MaxAttempts, "an explicit budget wins over the default")
}

func TestSubmitSchedulesAndWakes(t *testing.T) {
	svc, store, waker := newTestService(t)
	ctx := context.Background()

	target := time.Now().UTC().AddDate(0, 0, 10)
	b, err := svc.Submit(ctx, booking.SubmitRequest{
		OwnerID:    1,
		Court:      "court-1",
		TargetDate: target,
		TargetTime: "19:00",
	})
	require.NoError(t, err)
	assert.Equal(t, booking.StatusPending, b.Status)
	assert.Equal(t, booking.DefaultMaxAttempts, b.MaxAttempts)
	assert.True(t, b.FireAt.After(time.Now()), "ten days out must wait for the window")

	stored, err := store.Get(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, b.ID, stored.ID)

	require.Len(t, waker.notified, 1)
	assert.Equal(t, b.ID, waker.notified[0].ID)
}

func TestSubmitWithinWindowFiresImmediately(t *testing.T) {
	svc, _, _ := newTestService(t)

	b, err := svc.Submit(context.Background(), booking.SubmitRequest{
		OwnerID:    1,
		Court:      "court-1",
		TargetDate: time.Now().UTC().AddDate(0, 0, 3),
		TargetTime: "19:00",
	})
	require.NoError(t, err)
	assert.True(t, time.Since(b.FireAt) < time.Minute, "within the window fire_at is now")
}

func TestSubmitRejectsDuplicateSlot(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	req := booking.SubmitRequest{
		OwnerID:    1,
		Court:      "court-1",
		TargetDate: time.Now().UTC().AddDate(0, 0, 3),
		TargetTime: "19:00",
	}
	_, err := svc.Submit(ctx, req)
	require.NoError(t, err)

	_, err = svc.Submit(ctx, req)
	assert.True(t, errors.Is(err, booking.ErrDuplicate))
}

func TestSubmitRejectsPastDate(t *testing.T) {
	svc, _, _ := newTestService(t)

	_, err := svc.Submit(context.Background(), booking.SubmitRequest{
		OwnerID:    1,
		Court:      "court-1",
		TargetDate: time.Now().UTC().AddDate(0, 0, -2),
		TargetTime: "19:00",
	})
	assert.True(t, errors.Is(err, booking.ErrPastDate))
}

func TestCancelPendingBooking(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()

	b, err := svc.Submit(ctx, booking.SubmitRequest{
		OwnerID:    1,
		Court:      "court-1",
		TargetDate: time.Now().UTC().AddDate(0, 0, 10),
		TargetTime: "19:00",
	})
	require.NoError(t, err)

	ok, err := svc.Cancel(ctx, 1, b.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	stored, err := store.Get(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, booking.StatusCancelled, stored.Status)
}

func TestCancelRefusedOnceExecuting(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()

	b, err := svc.Submit(ctx, booking.SubmitRequest{
		OwnerID:    1,
		Court:      "court-1",
		TargetDate: time.Now().UTC().AddDate(0, 0, 10),
		TargetTime: "19:00",
	})
	require.NoError(t, err)

	claimed, err := store.TryTransition(ctx, b.ID,
		[]booking.Status{booking.StatusPending, booking.StatusDue}, booking.StatusExecuting)
	require.NoError(t, err)
	require.True(t, claimed)

	ok, err := svc.Cancel(ctx, 1, b.ID)
	require.NoError(t, err)
	assert.False(t, ok, "a claimed booking cannot be cancelled")
}

func TestCancelEnforcesOwnership(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	b, err := svc.Submit(ctx, booking.SubmitRequest{
		OwnerID:    1,
		Court:      "court-1",
		TargetDate: time.Now().UTC().AddDate(0, 0, 10),
		TargetTime: "19:00",
	})
	require.NoError(t, err)

	_, err = svc.Cancel(ctx, 99, b.ID)
	assert.True(t, errors.Is(err, booking.ErrNotFound), "foreign bookings look like they do not exist")
}
