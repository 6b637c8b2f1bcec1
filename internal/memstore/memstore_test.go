package memstore

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/courtsched/internal/booking"
)

func newBooking(ownerID int64, court, slotTime string) booking.ScheduledBooking {
	date := time.Date(2025, 7, 4, 0, 0, 0, 0, time.UTC)
	return booking.New(ownerID, court, date, slotTime, time.Now().UTC(), 5)
}

func TestCreateAndGet(t *testing.T) {
	s := New()
	ctx := context.Background()

	b := newBooking(1, "court-1", "19:00")
	id, err := s.Create(ctx, b)
	require.NoError(t, err)

	got, err := s.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, b.Slot(), got.Slot())

	_, err = s.Get(ctx, "nope")
	assert.True(t, errors.Is(err, booking.ErrNotFound))
}

func TestCreateRejectsDuplicateForOwner(t *testing.T) {
	s := New()
	ctx := context.Background()

	_, err := s.Create(ctx, newBooking(1, "court-1", "19:00"))
	require.NoError(t, err)

	_, err = s.Create(ctx, newBooking(1, "court-1", "19:00"))
	assert.True(t, errors.Is(err, booking.ErrDuplicate))

	// A different owner competing for the same slot is allowed at create
	// time; the conflict is resolved at claim time.
	_, err = s.Create(ctx, newBooking(2, "court-1", "19:00"))
	assert.NoError(t, err)
}

func TestCreateAllowsResubmitAfterTerminal(t *testing.T) {
	s := New()
	ctx := context.Background()

	first := newBooking(1, "court-1", "19:00")
	id, err := s.Create(ctx, first)
	require.NoError(t, err)

	ok, err := s.TryTransition(ctx, id,
		[]booking.Status{booking.StatusPending, booking.StatusDue}, booking.StatusCancelled)
	require.NoError(t, err)
	require.True(t, ok)

	_, err = s.Create(ctx, newBooking(1, "court-1", "19:00"))
	assert.NoError(t, err, "finished bookings do not block resubmission")
}

func TestTryTransitionCAS(t *testing.T) {
	s := New()
	ctx := context.Background()

	id, err := s.Create(ctx, newBooking(1, "court-1", "19:00"))
	require.NoError(t, err)

	ok, err := s.TryTransition(ctx, id,
		[]booking.Status{booking.StatusDue}, booking.StatusExecuting)
	require.NoError(t, err)
	assert.False(t, ok, "pending is not due")

	ok, err = s.TryTransition(ctx, id,
		[]booking.Status{booking.StatusPending, booking.StatusDue}, booking.StatusExecuting)
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = s.TryTransition(ctx, "nope", []booking.Status{booking.StatusPending}, booking.StatusDue)
	assert.True(t, errors.Is(err, booking.ErrNotFound))
}

func TestTryTransitionSingleWinner(t *testing.T) {
	s := New()
	ctx := context.Background()

	id, err := s.Create(ctx, newBooking(1, "court-1", "19:00"))
	require.NoError(t, err)

	const racers = 32
	var wg sync.WaitGroup
	wins := make(chan struct{}, racers)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := s.TryTransition(ctx, id,
				[]booking.Status{booking.StatusPending, booking.StatusDue}, booking.StatusExecuting)
			if err == nil && ok {
				wins <- struct{}{}
			}
		}()
	}
	wg.Wait()
	close(wins)

	count := 0
	for range wins {
		count++
	}
	assert.Equal(t, 1, count, "exactly one claim must win")
}

func TestRecordAttemptAndSetOutcome(t *testing.T) {
	s := New()
	ctx := context.Background()

	id, err := s.Create(ctx, newBooking(1, "court-1", "19:00"))
	require.NoError(t, err)

	at := time.Now().UTC()
	require.NoError(t, s.RecordAttempt(ctx, id, at))
	require.NoError(t, s.RecordAttempt(ctx, id, at))
	require.NoError(t, s.SetOutcome(ctx, id, "REF-42", ""))

	got, err := s.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 2, got.AttemptCount)
	assert.Equal(t, "REF-42", got.ResultReference)
	require.NotNil(t, got.ExecutedAt)
}

func TestListDueAndUnfinished(t *testing.T) {
	s := New()
	ctx := context.Background()
	now := time.Now().UTC()

	past := newBooking(1, "court-1", "19:00")
	past.FireAt = now.Add(-time.Minute)
	future := newBooking(1, "court-2", "19:00")
	future.FireAt = now.Add(time.Hour)

	pastID, err := s.Create(ctx, past)
	require.NoError(t, err)
	_, err = s.Create(ctx, future)
	require.NoError(t, err)

	due, err := s.ListDue(ctx, now)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, pastID, due[0].ID)

	unfinished, err := s.ListUnfinished(ctx)
	require.NoError(t, err)
	assert.Len(t, unfinished, 2)

	ok, err := s.TryTransition(ctx, pastID,
		[]booking.Status{booking.StatusPending}, booking.StatusCancelled)
	require.NoError(t, err)
	require.True(t, ok)

	unfinished, err = s.ListUnfinished(ctx)
	require.NoError(t, err)
	assert.Len(t, unfinished, 1)
}

func TestFindActiveCollision(t *testing.T) {
	s := New()
	ctx := context.Background()

	mine := newBooking(1, "court-1", "19:00")
	myID, err := s.Create(ctx, mine)
	require.NoError(t, err)

	theirs := newBooking(2, "court-1", "19:00")
	theirID, err := s.Create(ctx, theirs)
	require.NoError(t, err)

	// Both pending: no active collision.
	_, err = s.FindActiveCollision(ctx, mine.Slot(), myID)
	assert.True(t, errors.Is(err, booking.ErrNotFound))

	ok, err := s.TryTransition(ctx, theirID,
		[]booking.Status{booking.StatusPending}, booking.StatusExecuting)
	require.NoError(t, err)
	require.True(t, ok)

	other, err := s.FindActiveCollision(ctx, mine.Slot(), myID)
	require.NoError(t, err)
	assert.Equal(t, theirID, other.ID)

	// The excluded id never collides with itself.
	_, err = s.FindActiveCollision(ctx, theirs.Slot(), theirID)
	assert.True(t, errors.Is(err, booking.ErrNotFound))
}
