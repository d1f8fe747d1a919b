package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// MerchantApplication is the aggregate record tracking one business's
// onboarding attempt. One application per owner.
type MerchantApplication struct {
	ID      uuid.UUID `json:"id"`
	OwnerID uuid.UUID `json:"owner_id"`
	Status  Status    `json:"status"`

	BusinessName       string          `json:"business_name"`
	LegalName          string          `json:"legal_name"`
	RegistrationNumber string          `json:"registration_number"`
	TaxID              string          `json:"tax_id"`
	ContactEmail       string          `json:"contact_email"`
	AddressLine        string          `json:"address_line"`
	City               string          `json:"city"`
	Country            string          `json:"country"`
	PostalCode         string          `json:"postal_code"`
	MonthlyVolume      decimal.Decimal `json:"monthly_volume"`
	DocumentRefs       []string        `json:"document_refs,omitempty"`

	// BankApplicationID is assigned once by a successful partner submission
	// and is the join key correlating inbound webhooks to this record.
	// Once non-empty it never changes.
	BankApplicationID string `json:"bank_application_id,omitempty"`

	RejectionReason   *string `json:"rejection_reason,omitempty"`
	BankAccountNumber string  `json:"bank_account_number,omitempty"`
	MerchantCode      string  `json:"merchant_code,omitempty"`

	SubmittedAt     *time.Time `json:"submitted_at,omitempty"`
	ValidatedAt     *time.Time `json:"validated_at,omitempty"`
	BankSubmittedAt *time.Time `json:"bank_submitted_at,omitempty"`
	DecisionAt      *time.Time `json:"decision_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// DecisionCallback is the transient partner decision delivered by webhook
// or recovered by status polling. It is consumed once; only its effect on
// the application persists.
type DecisionCallback struct {
	ApplicationID string    `json:"applicationId"`
	MerchantID    string    `json:"merchantId"`
	Approved      bool      `json:"approved"`
	Reason        string    `json:"reason,omitempty"`
	AccountNumber string    `json:"accountNumber,omitempty"`
	MerchantCode  string    `json:"merchantCode,omitempty"`
	ProcessedAt   time.Time `json:"processedAt"`
}

// StatusEvent is one immutable audit row per committed transition.
type StatusEvent struct {
	ID         int64      `json:"id"`
	MerchantID uuid.UUID  `json:"merchant_id"`
	ActorID    *uuid.UUID `json:"actor_id,omitempty"`
	FromStatus Status     `json:"from_status"`
	ToStatus   Status     `json:"to_status"`
	Reason     string     `json:"reason,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}
