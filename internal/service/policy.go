package service

import (
	"fmt"
	"time"

	"github.com/punchamoorthee/stellarremit/internal/domain"
)

// EscrowPolicy decides, from the deadline alone, when an escrow may be
// created, released and refunded. The API and the sweeper share one policy.
type EscrowPolicy interface {
	Name() string
	CheckCreate(deadline, now time.Time) error
	CheckRelease(e *domain.Escrow, now time.Time) error
	CheckRefund(e *domain.Escrow, now time.Time) error
}

const (
	PolicyInformational         = "informational"
	PolicyReleaseBeforeDeadline = "release-before-deadline"
	PolicyReleaseAfterDeadline  = "release-after-deadline"
)

type deadlinePolicy struct {
	name string
}

// ParsePolicy returns the named policy. An empty name selects release-before-deadline.
func ParsePolicy(name string) (EscrowPolicy, error) {
	switch name {
	case "":
		return deadlinePolicy{name: PolicyReleaseBeforeDeadline}, nil
	case PolicyInformational, PolicyReleaseBeforeDeadline, PolicyReleaseAfterDeadline:
		return deadlinePolicy{name: name}, nil
	default:
		return nil, fmt.Errorf("unknown escrow deadline policy %q", name)
	}
}

func (p deadlinePolicy) Name() string { return p.name }

// CheckCreate rejects deadlines that are not in the future under every policy.
func (p deadlinePolicy) CheckCreate(deadline, now time.Time) error {
	if !deadline.After(now) {
		return domain.ErrDeadlineInPast
	}
	return nil
}

func (p deadlinePolicy) CheckRelease(e *domain.Escrow, now time.Time) error {
	switch p.name {
	case PolicyReleaseBeforeDeadline:
		if !now.Before(e.Deadline) {
			return domain.ErrDeadlinePassed
		}
	case PolicyReleaseAfterDeadline:
		if now.Before(e.Deadline) {
			return domain.ErrDeadlineNotReached
		}
	}
	return nil
}

// CheckRefund allows refunds strictly after the deadline.
func (p deadlinePolicy) CheckRefund(e *domain.Escrow, now time.Time) error {
	if !now.After(e.Deadline) {
		return domain.ErrDeadlineNotReached
	}
	return nil
}

// Expired reports whether the escrow can no longer be released but can be
// refunded. Only such escrows are refunded automatically.
func Expired(p EscrowPolicy, e *domain.Escrow, now time.Time) bool {
	return p.CheckRelease(e, now) != nil && p.CheckRefund(e, now) == nil
}
