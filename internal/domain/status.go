package domain

import (
	"fmt"
	"strings"
)

// Status is the lifecycle state of a merchant application.
type Status string

const (
	StatusDraft               Status = "draft"
	StatusSubmitted           Status = "submitted"
	StatusValidating          Status = "validating"
	StatusPendingBankApproval Status = "pending_bank_approval"
	StatusApproved            Status = "approved"
	StatusRejected            Status = "rejected"
)

// AllStatuses lists every known status, used for exhaustive validation.
var AllStatuses = []Status{
	StatusDraft,
	StatusSubmitted,
	StatusValidating,
	StatusPendingBankApproval,
	StatusApproved,
	StatusRejected,
}

// statusTransitions is the closed set of legal edges. Approved is terminal;
// rejected is the only state with a re-entry edge (fix and resubmit).
var statusTransitions = map[Status]map[Status]struct{}{
	StatusDraft: {
		StatusSubmitted: {},
	},
	StatusSubmitted: {
		StatusValidating: {},
		StatusRejected:   {},
	},
	StatusValidating: {
		StatusPendingBankApproval: {},
		StatusRejected:            {},
	},
	StatusPendingBankApproval: {
		StatusApproved: {},
		StatusRejected: {},
	},
	StatusRejected: {
		StatusSubmitted: {},
	},
	StatusApproved: {},
}

// ParseStatus normalizes and validates a status string.
func ParseStatus(s string) (Status, error) {
	status := Status(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := statusTransitions[status]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownStatus, s)
	}
	return status, nil
}

// IsTerminal reports whether no edge leaves the given status.
func (s Status) IsTerminal() bool {
	return len(statusTransitions[s]) == 0
}

func canTransition(current, next Status) bool {
	nextStates, ok := statusTransitions[current]
	if !ok {
		return false
	}
	_, ok = nextStates[next]
	return ok
}

// ValidateTransition accepts or rejects a requested status change.
// It has no side effects; the caller is responsible for persisting the
// change atomically against the status it validated.
func ValidateTransition(current, requested Status) error {
	if _, ok := statusTransitions[current]; !ok {
		return fmt.Errorf("%w: current status %q", ErrUnknownStatus, current)
	}
	if _, ok := statusTransitions[requested]; !ok {
		return fmt.Errorf("%w: requested status %q", ErrUnknownStatus, requested)
	}
	if !canTransition(current, requested) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current, requested)
	}
	return nil
}
