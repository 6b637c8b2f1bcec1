// Package reserve declares the capabilities the execution coordinator is
// handed: something that performs a booking attempt against the portal,
// somewhere to fetch portal credentials from, and somewhere to send
// progress. Each has one production implementation and one test double.
package reserve

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
)

// ErrNoCredentials is returned by a CredentialStore when the owner has
// never stored portal credentials.
var ErrNoCredentials = errors.New("no portal credentials for owner")

// Credentials authenticate one owner against the booking portal.
type Credentials struct {
	Username string
	Password string
}

// CredentialStore is read-only from the orchestrator's perspective.
type CredentialStore interface {
	Get(ctx context.Context, ownerID int64) (Credentials, error)
}

// Request is one booking attempt's worth of slot detail.
type Request struct {
	Court      string
	Date       time.Time
	Time       string // HH:MM portal-local
	Creds      Credentials
	OnProgress func(stage string)
}

// Progress reports a stage transition, tolerating a nil hook.
func (r Request) Progress(stage string) {
	if r.OnProgress != nil {
		r.OnProgress(stage)
	}
}

// OutcomeKind classifies how an attempt ended.
type OutcomeKind int

const (
	// OutcomeSuccess: the slot was booked; Reference holds the portal
	// confirmation.
	OutcomeSuccess OutcomeKind = iota
	// OutcomeUnavailable: the slot is genuinely taken. Not retried.
	// Alternatives may list other open times on the same date.
	OutcomeUnavailable
	// OutcomeFatal: the attempt cannot ever succeed (bad credentials,
	// portal rejected the request shape). Not retried.
	OutcomeFatal
	// OutcomeTransient: the attempt failed for a reason that may clear
	// (timeout, 5xx, portal overloaded at release time). Retried.
	OutcomeTransient
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeSuccess:
		return "success"
	case OutcomeUnavailable:
		return "unavailable"
	case OutcomeFatal:
		return "fatal"
	case OutcomeTransient:
		return "transient"
	default:
		return "unknown"
	}
}

// Outcome is the structured result of one executor call.
type Outcome struct {
	Kind         OutcomeKind
	Reference    string
	Reason       string
	Alternatives []string
}

// Executor performs a single booking attempt. It may call
// req.OnProgress any number of times before returning. Implementations
// must honor ctx cancellation on a best-effort basis; the coordinator
// lets in-flight calls finish.
type Executor interface {
	Execute(ctx context.Context, req Request) (Outcome, error)
}
