package gateway

import (
	"context"
	"time"

	"github.com/ayo6706/merchant-onboarding/internal/domain"
)

// SubmitResult is the partner's acknowledgement of a submitted application.
type SubmitResult struct {
	ApplicationID           string
	EstimatedProcessingTime time.Duration
}

// BankGateway is the outbound contract with the bank partner that decides
// merchant applications asynchronously.
type BankGateway interface {
	// Submit sends the application to the partner. The caller guards it
	// with the state machine so it runs at most once per application.
	Submit(ctx context.Context, app *domain.MerchantApplication, upiIdentifiers []string) (*SubmitResult, error)

	// VerifyWebhook is a structural required-fields check, performed in
	// addition to (never instead of) the cryptographic signature check.
	VerifyWebhook(payload []byte) bool

	// GetApplicationStatus is an idempotent read used for reconciliation
	// when a webhook is lost or an outbound call was aborted mid-flight.
	GetApplicationStatus(ctx context.Context, applicationID string) (string, error)
}

// Partner statuses reported by GetApplicationStatus.
const (
	PartnerStatusProcessing = "processing"
	PartnerStatusApproved   = "approved"
	PartnerStatusRejected   = "rejected"
)
