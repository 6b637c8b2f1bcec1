// Package postgres implements the booking store and credential rows on
// pgx. TryTransition is a conditional UPDATE; the row count is the claim.
package postgres

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/example/courtsched/internal/booking"
	"github.com/example/courtsched/internal/db"
)

type BookingStore struct {
	db *db.DB
}

func NewBookingStore(d *db.DB) *BookingStore { return &BookingStore{db: d} }

const bookingColumns = `id, owner_id, court, target_date, target_time, fire_at,
status, attempt_count, max_attempts, last_error, result_reference,
created_at, updated_at, executed_at`

func (s *BookingStore) Create(ctx context.Context, b booking.ScheduledBooking) (string, error) {
	// Idempotent submission: one unfinished booking per owner per slot.
	var exists bool
	err := s.db.QueryRow(ctx, `
SELECT EXISTS(
  SELECT 1 FROM scheduled_bookings
  WHERE owner_id=$1 AND court=$2 AND target_date=$3 AND target_time=$4
    AND status NOT IN ('succeeded','failed','cancelled'))`,
		b.OwnerID, b.Court, b.TargetDate, b.TargetTime).Scan(&exists)
	if err != nil {
		return "", errors.Wrap(err, "duplicate check")
	}
	if exists {
		return "", booking.ErrDuplicate
	}

	_, err = s.db.Exec(ctx, `
INSERT INTO scheduled_bookings(id, owner_id, court, target_date, target_time, fire_at, status, attempt_count, max_attempts, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		b.ID, b.OwnerID, b.Court, b.TargetDate, b.TargetTime, b.FireAt,
		string(b.Status), b.AttemptCount, b.MaxAttempts, b.CreatedAt, b.UpdatedAt)
	if err != nil {
		return "", errors.Wrap(err, "insert booking")
	}
	return b.ID, nil
}

func (s *BookingStore) Get(ctx context.Context, id string) (booking.ScheduledBooking, error) {
	row := s.db.QueryRow(ctx, `SELECT `+bookingColumns+` FROM scheduled_bookings WHERE id=$1`, id)
	b, err := scanBooking(row)
	if err != nil {
		if errors.Is(err, db.ErrNoRows) {
			return booking.ScheduledBooking{}, booking.ErrNotFound
		}
		return booking.ScheduledBooking{}, errors.Wrap(err, "get booking")
	}
	return b, nil
}

func (s *BookingStore) ListDue(ctx context.Context, now time.Time) ([]booking.ScheduledBooking, error) {
	rows, err := s.db.Query(ctx, `
SELECT `+bookingColumns+` FROM scheduled_bookings
WHERE status='pending' AND fire_at <= $1
ORDER BY fire_at ASC`, now)
	if err != nil {
		return nil, errors.Wrap(err, "list due")
	}
	return scanBookings(rows)
}

func (s *BookingStore) ListUnfinished(ctx context.Context) ([]booking.ScheduledBooking, error) {
	rows, err := s.db.Query(ctx, `
SELECT `+bookingColumns+` FROM scheduled_bookings
WHERE status IN ('pending','due','executing')
ORDER BY fire_at ASC`)
	if err != nil {
		return nil, errors.Wrap(err, "list unfinished")
	}
	return scanBookings(rows)
}

func (s *BookingStore) ListByOwner(ctx context.Context, ownerID int64) ([]booking.ScheduledBooking, error) {
	rows, err := s.db.Query(ctx, `
SELECT `+bookingColumns+` FROM scheduled_bookings
WHERE owner_id=$1
ORDER BY created_at DESC`, ownerID)
	if err != nil {
		return nil, errors.Wrap(err, "list by owner")
	}
	return scanBookings(rows)
}

// TryTransition is the concurrency backbone: the WHERE clause is the
// compare, the row count the set.
func (s *BookingStore) TryTransition(ctx context.Context, id string, from []booking.Status, to booking.Status) (bool, error) {
	fromSet := make([]string, len(from))
	for i, f := range from {
		fromSet[i] = string(f)
	}

	affected, err := s.db.Exec(ctx, `
UPDATE scheduled_bookings
SET status=$2, updated_at=now()
WHERE id=$1 AND status = ANY($3)`, id, string(to), fromSet)
	if err != nil {
		return false, errors.Wrap(err, "transition")
	}
	if affected == 0 {
		// Distinguish a lost race from a missing row.
		var exists bool
		if err := s.db.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM scheduled_bookings WHERE id=$1)`, id).Scan(&exists); err != nil {
			return false, errors.Wrap(err, "transition existence check")
		}
		if !exists {
			return false, booking.ErrNotFound
		}
		return false, nil
	}
	return true, nil
}

func (s *BookingStore) RecordAttempt(ctx context.Context, id string, at time.Time) error {
	affected, err := s.db.Exec(ctx, `
UPDATE scheduled_bookings
SET attempt_count = attempt_count + 1, executed_at=$2, updated_at=now()
WHERE id=$1`, id, at)
	if err != nil {
		return errors.Wrap(err, "record attempt")
	}
	if affected == 0 {
		return booking.ErrNotFound
	}
	return nil
}

func (s *BookingStore) SetOutcome(ctx context.Context, id string, resultRef, lastError string) error {
	affected, err := s.db.Exec(ctx, `
UPDATE scheduled_bookings
SET result_reference=$2, last_error=$3, updated_at=now()
WHERE id=$1`, id, resultRef, lastError)
	if err != nil {
		return errors.Wrap(err, "set outcome")
	}
	if affected == 0 {
		return booking.ErrNotFound
	}
	return nil
}

func (s *BookingStore) FindActiveCollision(ctx context.Context, slot booking.Slot, excludingID string) (booking.ScheduledBooking, error) {
	row := s.db.QueryRow(ctx, `
SELECT `+bookingColumns+` FROM scheduled_bookings
WHERE court=$1 AND target_date=$2 AND target_time=$3
  AND status IN ('due','executing')
  AND id <> $4
LIMIT 1`, slot.Court, slot.TargetDate, slot.TargetTime, excludingID)
	b, err := scanBooking(row)
	if err != nil {
		if errors.Is(err, db.ErrNoRows) {
			return booking.ScheduledBooking{}, booking.ErrNotFound
		}
		return booking.ScheduledBooking{}, errors.Wrap(err, "find collision")
	}
	return b, nil
}

func scanBooking(row db.Row) (booking.ScheduledBooking, error) {
	var b booking.ScheduledBooking
	var status string
	err := row.Scan(
		&b.ID, &b.OwnerID, &b.Court, &b.TargetDate, &b.TargetTime, &b.FireAt,
		&status, &b.AttemptCount, &b.MaxAttempts, &b.LastError, &b.ResultReference,
		&b.CreatedAt, &b.UpdatedAt, &b.ExecutedAt)
	if err != nil {
		return booking.ScheduledBooking{}, err
	}
	b.Status = booking.Status(status)
	return b, nil
}

func scanBookings(rows db.Rows) ([]booking.ScheduledBooking, error) {
	defer rows.Close()
	var out []booking.ScheduledBooking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan booking")
		}
		out = append(out, b)
	}
	return out, rows.Err()
}
