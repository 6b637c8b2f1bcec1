// Package memstore is the in-process booking.Store: a mutex around a map,
// with the same compare-and-set semantics as the Postgres store. It backs
// the package test suites.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/example/courtsched/internal/booking"
)

type Store struct {
	mu       sync.Mutex
	bookings map[string]booking.ScheduledBooking
}

func New() *Store {
	return &Store{bookings: make(map[string]booking.ScheduledBooking)}
}

func (s *Store) Create(ctx context.Context, b booking.ScheduledBooking) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.bookings {
		if existing.OwnerID == b.OwnerID &&
			existing.Slot() == b.Slot() &&
			!existing.Status.IsTerminal() {
			return "", booking.ErrDuplicate
		}
	}

	s.bookings[b.ID] = b
	return b.ID, nil
}

func (s *Store) Get(ctx context.Context, id string) (booking.ScheduledBooking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.bookings[id]
	if !ok {
		return booking.ScheduledBooking{}, booking.ErrNotFound
	}
	return b, nil
}

func (s *Store) ListDue(ctx context.Context, now time.Time) ([]booking.ScheduledBooking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []booking.ScheduledBooking
	for _, b := range s.bookings {
		if b.Status == booking.StatusPending && !b.FireAt.After(now) {
			out = append(out, b)
		}
	}
	sortByFireAt(out)
	return out, nil
}

func (s *Store) ListUnfinished(ctx context.Context) ([]booking.ScheduledBooking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []booking.ScheduledBooking
	for _, b := range s.bookings {
		if !b.Status.IsTerminal() {
			out = append(out, b)
		}
	}
	sortByFireAt(out)
	return out, nil
}

func (s *Store) ListByOwner(ctx context.Context, ownerID int64) ([]booking.ScheduledBooking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []booking.ScheduledBooking
	for _, b := range s.bookings {
		if b.OwnerID == ownerID {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) TryTransition(ctx context.Context, id string, from []booking.Status, to booking.Status) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.bookings[id]
	if !ok {
		return false, booking.ErrNotFound
	}

	matched := false
	for _, f := range from {
		if b.Status == f {
			matched = true
			break
		}
	}
	if !matched {
		return false, nil
	}

	b.Status = to
	b.UpdatedAt = time.Now().UTC()
	s.bookings[id] = b
	return true, nil
}

func (s *Store) RecordAttempt(ctx context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.bookings[id]
	if !ok {
		return booking.ErrNotFound
	}
	b.AttemptCount++
	b.ExecutedAt = &at
	b.UpdatedAt = time.Now().UTC()
	s.bookings[id] = b
	return nil
}

func (s *Store) SetOutcome(ctx context.Context, id string, resultRef, lastError string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.bookings[id]
	if !ok {
		return booking.ErrNotFound
	}
	b.ResultReference = resultRef
	b.LastError = lastError
	b.UpdatedAt = time.Now().UTC()
	s.bookings[id] = b
	return nil
}

func (s *Store) FindActiveCollision(ctx context.Context, slot booking.Slot, excludingID string) (booking.ScheduledBooking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, b := range s.bookings {
		if b.ID == excludingID {
			continue
		}
		if b.Slot() != slot {
			continue
		}
		if b.Status == booking.StatusDue || b.Status == booking.StatusExecuting {
			return b, nil
		}
	}
	return booking.ScheduledBooking{}, booking.ErrNotFound
}

func sortByFireAt(bs []booking.ScheduledBooking) {
	sort.Slice(bs, func(i, j int) bool { return bs[i].FireAt.Before(bs[j].FireAt) })
}
