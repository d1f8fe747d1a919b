package domain

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors let callers classify failures with errors.Is without
// relying on runtime type inspection.
var (
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrUnknownStatus     = errors.New("unknown status")
	ErrNotFound          = errors.New("merchant application not found")
	ErrConflict          = errors.New("concurrent update conflict")
	ErrUnauthorized      = errors.New("unauthorized")
	ErrOwnerHasMerchant  = errors.New("owner already has a merchant application")
	ErrAppIDMismatch     = errors.New("application id does not match stored bank application id")
	ErrInvariant         = errors.New("invariant violation")
)

// ExternalAPIKind classifies failures talking to the bank partner.
type ExternalAPIKind string

const (
	// ExternalKindRejected is a structured partner-side rejection. Not
	// retryable without operator remediation.
	ExternalKindRejected ExternalAPIKind = "rejected"
	// ExternalKindTimeout is a connection or response timeout. Retryable.
	ExternalKindTimeout ExternalAPIKind = "timeout"
	// ExternalKindUnavailable is a refused or dropped connection. Retryable.
	ExternalKindUnavailable ExternalAPIKind = "unavailable"
	// ExternalKindBadGateway covers everything else, including an aborted
	// call with unknown outcome. Retryable, reconcilable via status polling.
	ExternalKindBadGateway ExternalAPIKind = "bad_gateway"
)

// ExternalAPIError carries the classified partner failure. The raw partner
// message is kept for logs; handlers must not echo it to end users.
type ExternalAPIError struct {
	Kind        ExternalAPIKind
	PartnerCode string
	Message     string
	RetryAfter  time.Duration
	Err         error
}

func (e *ExternalAPIError) Error() string {
	if e.PartnerCode != "" {
		return fmt.Sprintf("bank partner error (%s/%s): %s", e.Kind, e.PartnerCode, e.Message)
	}
	if e.Err != nil {
		return fmt.Sprintf("bank partner error (%s): %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("bank partner error (%s): %s", e.Kind, e.Message)
}

func (e *ExternalAPIError) Unwrap() error { return e.Err }

// Retryable reports whether the caller may retry the call unchanged.
func (e *ExternalAPIError) Retryable() bool {
	return e.Kind != ExternalKindRejected
}
