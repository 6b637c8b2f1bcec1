// Package booking defines the scheduled booking entity, its status machine,
// and the store contract everything else mutates it through.
package booking

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of a scheduled booking.
type Status string

const (
	StatusPending   Status = "pending"
	StatusDue       Status = "due"
	StatusExecuting Status = "executing"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// IsValidStatus returns true if s is a known Status value.
func IsValidStatus(s string) bool {
	switch Status(s) {
	case StatusPending, StatusDue, StatusExecuting,
		StatusSucceeded, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether no further automatic transition applies.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusSucceeded, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// ScheduledBooking is a reservation request deferred until the portal's
// booking window opens. FireAt is computed once at creation and never
// changes; Status only moves through the store's TryTransition.
type ScheduledBooking struct {
	ID      string
	OwnerID int64

	Court      string
	TargetDate time.Time // date component only, portal-local
	TargetTime string    // HH:MM in portal-local time

	FireAt time.Time

	Status       Status
	AttemptCount int
	MaxAttempts  int

	LastError       string
	ResultReference string

	CreatedAt  time.Time
	UpdatedAt  time.Time
	ExecutedAt *time.Time
}

// New builds a pending booking with a fresh ID. FireAt must already have
// been computed by the eligibility calculator.
func New(ownerID int64, court string, targetDate time.Time, targetTime string, fireAt time.Time, maxAttempts int) ScheduledBooking {
	now := time.Now().UTC()
	return ScheduledBooking{
		ID:          uuid.NewString(),
		OwnerID:     ownerID,
		Court:       court,
		TargetDate:  targetDate,
		TargetTime:  targetTime,
		FireAt:      fireAt,
		Status:      StatusPending,
		MaxAttempts: maxAttempts,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// Slot identifies the portal resource a booking competes for. Two bookings
// with equal slots may never execute concurrently.
type Slot struct {
	Court      string
	TargetDate time.Time
	TargetTime string
}

func (b ScheduledBooking) Slot() Slot {
	return Slot{Court: b.Court, TargetDate: b.TargetDate, TargetTime: b.TargetTime}
}

// SlotKey is a stable string form of the slot, used for map keys and logs.
func (s Slot) Key() string {
	return fmt.Sprintf("%s/%s/%s", s.Court, s.TargetDate.Format("2006-01-02"), s.TargetTime)
}

// AttemptsExhausted reports whether another attempt would exceed MaxAttempts.
func (b ScheduledBooking) AttemptsExhausted() bool {
	return b.AttemptCount >= b.MaxAttempts
}

func (b ScheduledBooking) Validate() error {
	if b.OwnerID == 0 {
		return fmt.Errorf("owner required")
	}
	if b.Court == "" {
		return fmt.Errorf("court required")
	}
	if b.TargetDate.IsZero() {
		return fmt.Errorf("target date required")
	}
	if _, err := time.Parse("15:04", b.TargetTime); err != nil {
		return fmt.Errorf("target time must be HH:MM")
	}
	if b.FireAt.IsZero() {
		return fmt.Errorf("fire time required")
	}
	if b.MaxAttempts < 1 {
		return fmt.Errorf("max attempts must be >= 1")
	}
	return nil
}
