package job

import (
	"errors"
	"time"
)

// ErrInvalidLease indicates the configured lease duration is not positive.
var ErrInvalidLease = errors.New("lease must be positive")

// ackGrace is the time a worker needs after analysis returns to write results, publish and ack.
const ackGrace = 30 * time.Second

// LeaseSource identifies how a lease duration was resolved.
type LeaseSource string

const (
	// LeaseSourceConfigured indicates the configured lease was long enough.
	LeaseSourceConfigured LeaseSource = "configured"
	// LeaseSourceExtended indicates the lease was raised to cover the execution timeout.
	LeaseSourceExtended LeaseSource = "extended"
)

// LeaseDecision captures the resolved reservation lease.
type LeaseDecision struct {
	Lease  time.Duration
	Source LeaseSource
}

// Extended reports whether the configured lease had to be raised.
func (d LeaseDecision) Extended() bool {
	return d.Source == LeaseSourceExtended
}

// LeasePolicy sizes queue reservations so a lease cannot expire while its
// analysis is still allowed to run, which would hand the id to a second worker.
type LeasePolicy struct {
	lease            time.Duration
	executionTimeout time.Duration
}

// NewLeasePolicy constructs a LeasePolicy. executionTimeout may be zero when analysis is unbounded.
func NewLeasePolicy(lease, executionTimeout time.Duration) (*LeasePolicy, error) {
	if lease <= 0 {
		return nil, ErrInvalidLease
	}
	if executionTimeout < 0 {
		executionTimeout = 0
	}
	return &LeasePolicy{lease: lease, executionTimeout: executionTimeout}, nil
}

// Resolve returns the lease to request for each reservation.
func (p *LeasePolicy) Resolve() LeaseDecision {
	if p == nil {
		return LeaseDecision{}
	}
	minimum := p.executionTimeout + ackGrace
	if p.executionTimeout > 0 && p.lease < minimum {
		return LeaseDecision{Lease: minimum.Truncate(time.Second), Source: LeaseSourceExtended}
	}
	return LeaseDecision{Lease: p.lease.Truncate(time.Second), Source: LeaseSourceConfigured}
}
