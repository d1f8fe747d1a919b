package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ayo6706/merchant-onboarding/internal/domain"
	"github.com/ayo6706/merchant-onboarding/internal/gateway"
	"github.com/ayo6706/merchant-onboarding/internal/notification"
	"github.com/ayo6706/merchant-onboarding/internal/observability"
	"github.com/ayo6706/merchant-onboarding/internal/repository"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// OnboardingService drives the merchant status state machine: owner
// submissions, admin validation with the bank submit, partner decisions
// and manual overrides. Every transition is validated against the closed
// edge table and persisted with a compare-and-swap so concurrent actors
// can never commit divergent updates.
type OnboardingService struct {
	store    MerchantStore
	bank     gateway.BankGateway
	notifier notification.Dispatcher
	logger   *zap.Logger
}

func NewOnboardingService(store MerchantStore, bank gateway.BankGateway, notifier notification.Dispatcher, logger *zap.Logger) *OnboardingService {
	if logger == nil {
		logger = zap.L()
	}
	return &OnboardingService{store: store, bank: bank, notifier: notifier, logger: logger}
}

// CreateMerchantInput carries the business identity collected by the
// onboarding form. Document contents and OCR live elsewhere; only opaque
// references arrive here.
type CreateMerchantInput struct {
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
	DocumentRefs       []string        `json:"document_refs"`
}

func (in CreateMerchantInput) validate() error {
	switch {
	case strings.TrimSpace(in.BusinessName) == "":
		return errors.New("business_name is required")
	case strings.TrimSpace(in.RegistrationNumber) == "":
		return errors.New("registration_number is required")
	case strings.TrimSpace(in.TaxID) == "":
		return errors.New("tax_id is required")
	case strings.TrimSpace(in.ContactEmail) == "" || !strings.Contains(in.ContactEmail, "@"):
		return errors.New("contact_email is required")
	case in.MonthlyVolume.IsNegative():
		return errors.New("monthly_volume must not be negative")
	}
	return nil
}

// CreateDraft registers a new application in draft for the owning user.
// One application per owner.
func (s *OnboardingService) CreateDraft(ctx context.Context, ownerID uuid.UUID, in CreateMerchantInput) (*domain.MerchantApplication, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}

	app := &domain.MerchantApplication{
		ID:                 uuid.New(),
		OwnerID:            ownerID,
		Status:             domain.StatusDraft,
		BusinessName:       strings.TrimSpace(in.BusinessName),
		LegalName:          strings.TrimSpace(in.LegalName),
		RegistrationNumber: strings.TrimSpace(in.RegistrationNumber),
		TaxID:              strings.TrimSpace(in.TaxID),
		ContactEmail:       strings.TrimSpace(in.ContactEmail),
		AddressLine:        strings.TrimSpace(in.AddressLine),
		City:               strings.TrimSpace(in.City),
		Country:            strings.ToUpper(strings.TrimSpace(in.Country)),
		PostalCode:         strings.TrimSpace(in.PostalCode),
		MonthlyVolume:      in.MonthlyVolume,
		DocumentRefs:       in.DocumentRefs,
	}
	if app.LegalName == "" {
		app.LegalName = app.BusinessName
	}
	if err := s.store.Create(ctx, app); err != nil {
		return nil, err
	}
	return app, nil
}

func (s *OnboardingService) GetByID(ctx context.Context, id uuid.UUID) (*domain.MerchantApplication, error) {
	return s.store.GetByID(ctx, id)
}

func (s *OnboardingService) GetByOwner(ctx context.Context, ownerID uuid.UUID) (*domain.MerchantApplication, error) {
	return s.store.GetByOwner(ctx, ownerID)
}

func (s *OnboardingService) List(ctx context.Context, status *domain.Status) ([]domain.MerchantApplication, error) {
	return s.store.List(ctx, status)
}

// History returns the recorded status transitions for an application,
// oldest first.
func (s *OnboardingService) History(ctx context.Context, id uuid.UUID) ([]domain.StatusEvent, error) {
	if _, err := s.store.GetByID(ctx, id); err != nil {
		return nil, err
	}
	return s.store.ListStatusEvents(ctx, id)
}

// SubmitForReview moves the owner's application into submitted. Allowed
// from draft and from rejected (fix and resubmit); resubmission clears the
// previous rejection reason.
func (s *OnboardingService) SubmitForReview(ctx context.Context, ownerID uuid.UUID) (*domain.MerchantApplication, error) {
	app, err := s.store.GetByOwner(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	if err := domain.ValidateTransition(app.Status, domain.StatusSubmitted); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	updated, err := s.store.UpdateStatus(ctx, app.ID, app.Status, domain.StatusSubmitted, repository.StatusUpdate{
		ClearRejectionReason: app.Status == domain.StatusRejected,
		SubmittedAt:          &now,
	})
	if err != nil {
		return nil, err
	}
	s.committed(ctx, updated, app.Status, domain.StatusSubmitted, &ownerID, "owner submitted for review")
	return updated, nil
}

// Validate is the admin action driving submitted -> validating -> bank
// submission -> pending_bank_approval. Only one of two concurrent calls
// wins the first compare-and-swap; the loser receives a conflict. If the
// bank call fails the record deliberately stays in validating with the
// failure recorded, so the operator can see it and retry.
func (s *OnboardingService) Validate(ctx context.Context, id uuid.UUID, actorID uuid.UUID) (*domain.MerchantApplication, error) {
	app, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	switch app.Status {
	case domain.StatusSubmitted:
		if err := domain.ValidateTransition(app.Status, domain.StatusValidating); err != nil {
			return nil, err
		}
		now := time.Now().UTC()
		app, err = s.store.UpdateStatus(ctx, app.ID, domain.StatusSubmitted, domain.StatusValidating, repository.StatusUpdate{
			ActorID:     &actorID,
			ValidatedAt: &now,
		})
		if err != nil {
			return nil, err
		}
		s.committed(ctx, app, domain.StatusSubmitted, domain.StatusValidating, &actorID, "admin validation started")
	case domain.StatusValidating:
		// A previous bank submission failed; retry it without re-entering
		// the state.
	default:
		return nil, fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, app.Status, domain.StatusValidating)
	}

	return s.submitToBank(ctx, app, actorID)
}

func (s *OnboardingService) submitToBank(ctx context.Context, app *domain.MerchantApplication, actorID uuid.UUID) (*domain.MerchantApplication, error) {
	result, err := s.bank.Submit(ctx, app, upiIdentifiers(app))
	if err != nil {
		observability.IncrementGatewayCall("submit", "error")
		s.recordSubmitFailure(ctx, app.ID, err)
		return nil, s.classify(err, app.ID, "bank submit")
	}
	observability.IncrementGatewayCall("submit", "ok")

	// The partner keys on our merchant reference, so a resubmission must
	// come back under the same application id. Anything else is a
	// partner-side desync that must not be papered over.
	if app.BankApplicationID != "" && app.BankApplicationID != result.ApplicationID {
		s.logger.Error("bank application id reassignment refused",
			zap.String("merchant_id", app.ID.String()),
			zap.String("stored", app.BankApplicationID),
			zap.String("returned", result.ApplicationID),
		)
		return nil, fmt.Errorf("%w: bank application id changed from %s to %s", domain.ErrInvariant, app.BankApplicationID, result.ApplicationID)
	}

	now := time.Now().UTC()
	updated, err := s.store.UpdateStatus(ctx, app.ID, domain.StatusValidating, domain.StatusPendingBankApproval, repository.StatusUpdate{
		ActorID:           &actorID,
		BankApplicationID: result.ApplicationID,
		BankSubmittedAt:   &now,
	})
	if err != nil {
		return nil, err
	}
	s.committed(ctx, updated, domain.StatusValidating, domain.StatusPendingBankApproval, &actorID, "submitted to bank partner")
	s.logger.Info("application submitted to bank",
		zap.String("merchant_id", app.ID.String()),
		zap.String("bank_application_id", result.ApplicationID),
		zap.Duration("estimated_processing_time", result.EstimatedProcessingTime),
	)
	return updated, nil
}

// recordSubmitFailure keeps the record in validating but leaves a visible
// trail for the operator; the caller still gets the classified error.
func (s *OnboardingService) recordSubmitFailure(ctx context.Context, id uuid.UUID, cause error) {
	reason := "bank submission failed: " + summarize(cause)
	if _, err := s.store.UpdateStatus(ctx, id, domain.StatusValidating, domain.StatusValidating, repository.StatusUpdate{
		Reason: &reason,
	}); err != nil {
		s.logger.Error("failed to record bank submission failure",
			zap.String("merchant_id", id.String()),
			zap.Error(err),
		)
	}
}

// DecisionOutcome reports whether a decision callback mutated the record
// or was absorbed as a duplicate delivery.
type DecisionOutcome struct {
	Application *domain.MerchantApplication
	Applied     bool
}

// ApplyDecision applies a partner decision exactly once. The callback's
// applicationId must match a stored bankApplicationId exactly; a callback
// for an already-decided record is answered as a successful no-op so the
// partner's retry policy converges.
func (s *OnboardingService) ApplyDecision(ctx context.Context, cb domain.DecisionCallback) (*DecisionOutcome, error) {
	if cb.ApplicationID == "" {
		return nil, fmt.Errorf("%w: empty application id", domain.ErrAppIDMismatch)
	}

	app, err := s.store.GetByBankApplicationID(ctx, cb.ApplicationID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			observability.IncrementWebhookEvent("unknown_application")
			s.logger.Warn("decision for unknown bank application id",
				zap.String("bank_application_id", cb.ApplicationID),
			)
		}
		return nil, err
	}
	if cb.MerchantID != "" && cb.MerchantID != app.ID.String() {
		observability.IncrementWebhookEvent("merchant_mismatch")
		s.logger.Warn("decision merchant id does not match record",
			zap.String("bank_application_id", cb.ApplicationID),
			zap.String("payload_merchant_id", cb.MerchantID),
			zap.String("record_merchant_id", app.ID.String()),
		)
		return nil, fmt.Errorf("%w: merchant id mismatch", domain.ErrAppIDMismatch)
	}

	if app.Status != domain.StatusPendingBankApproval {
		return s.absorbReplay(app, cb)
	}

	outcome, err := s.applyDecisionOnce(ctx, app, cb)
	if errors.Is(err, domain.ErrConflict) {
		// Lost the race against a concurrent delivery of the same
		// decision; re-read and absorb it as a duplicate.
		if current, getErr := s.store.GetByID(ctx, app.ID); getErr == nil {
			return s.absorbReplay(current, cb)
		}
		return nil, err
	}
	return outcome, err
}

func (s *OnboardingService) applyDecisionOnce(ctx context.Context, app *domain.MerchantApplication, cb domain.DecisionCallback) (*DecisionOutcome, error) {
	target := domain.StatusRejected
	if cb.Approved {
		target = domain.StatusApproved
	}
	if err := domain.ValidateTransition(app.Status, target); err != nil {
		return nil, err
	}

	decisionAt := cb.ProcessedAt
	if decisionAt.IsZero() {
		decisionAt = time.Now().UTC()
	}
	fields := repository.StatusUpdate{DecisionAt: &decisionAt}
	if cb.Approved {
		fields.BankAccountNumber = cb.AccountNumber
		fields.MerchantCode = cb.MerchantCode
	} else {
		reason := cb.Reason
		if reason == "" {
			reason = "rejected by bank partner"
		}
		fields.Reason = &reason
	}

	updated, err := s.store.UpdateStatus(ctx, app.ID, domain.StatusPendingBankApproval, target, fields)
	if err != nil {
		return nil, err
	}

	observability.IncrementWebhookEvent("applied")
	s.committed(ctx, updated, domain.StatusPendingBankApproval, target, nil, "bank decision received")
	return &DecisionOutcome{Application: updated, Applied: true}, nil
}

// absorbReplay decides whether a decision for a non-pending record is a
// harmless duplicate or a real mismatch.
func (s *OnboardingService) absorbReplay(app *domain.MerchantApplication, cb domain.DecisionCallback) (*DecisionOutcome, error) {
	duplicate := (app.Status == domain.StatusApproved && cb.Approved) ||
		(app.Status == domain.StatusRejected && !cb.Approved)
	if duplicate && app.DecisionAt != nil {
		observability.IncrementWebhookEvent("duplicate")
		s.logger.Info("duplicate decision delivery absorbed",
			zap.String("merchant_id", app.ID.String()),
			zap.String("bank_application_id", cb.ApplicationID),
			zap.String("status", string(app.Status)),
		)
		return &DecisionOutcome{Application: app, Applied: false}, nil
	}

	observability.IncrementWebhookEvent("state_mismatch")
	s.logger.Warn("decision does not match record state",
		zap.String("merchant_id", app.ID.String()),
		zap.String("bank_application_id", cb.ApplicationID),
		zap.String("status", string(app.Status)),
		zap.Bool("approved", cb.Approved),
	)
	return nil, fmt.Errorf("%w: record is %s", domain.ErrConflict, app.Status)
}

// OverrideApprove is the manual bypass of the bank decision. It is still
// gated by the transition table, so it only succeeds while the record is
// in pending_bank_approval. The outstanding partner application is not
// cancelled; its eventual webhook is absorbed by the replay handling.
func (s *OnboardingService) OverrideApprove(ctx context.Context, id uuid.UUID, actorID uuid.UUID) (*domain.MerchantApplication, error) {
	app, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := domain.ValidateTransition(app.Status, domain.StatusApproved); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	updated, err := s.store.UpdateStatus(ctx, app.ID, app.Status, domain.StatusApproved, repository.StatusUpdate{
		ActorID:    &actorID,
		DecisionAt: &now,
	})
	if err != nil {
		return nil, err
	}
	s.committed(ctx, updated, app.Status, domain.StatusApproved, &actorID, "admin override approve")
	return updated, nil
}

// Reject is the manual rejection, available wherever the transition table
// allows an edge into rejected.
func (s *OnboardingService) Reject(ctx context.Context, id uuid.UUID, actorID uuid.UUID, reason string) (*domain.MerchantApplication, error) {
	app, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := domain.ValidateTransition(app.Status, domain.StatusRejected); err != nil {
		return nil, err
	}
	if strings.TrimSpace(reason) == "" {
		reason = "rejected by admin"
	}

	fields := repository.StatusUpdate{ActorID: &actorID, Reason: &reason}
	if app.Status == domain.StatusPendingBankApproval {
		now := time.Now().UTC()
		fields.DecisionAt = &now
	}
	updated, err := s.store.UpdateStatus(ctx, app.ID, app.Status, domain.StatusRejected, fields)
	if err != nil {
		return nil, err
	}
	s.committed(ctx, updated, app.Status, domain.StatusRejected, &actorID, reason)
	return updated, nil
}

// committed runs the side effects of a committed transition: audit row,
// metrics and a queued notification. None of them may fail the request.
func (s *OnboardingService) committed(ctx context.Context, app *domain.MerchantApplication, from, to domain.Status, actorID *uuid.UUID, reason string) {
	observability.IncrementTransition(string(from), string(to))

	if err := s.store.AppendStatusEvent(ctx, domain.StatusEvent{
		MerchantID: app.ID,
		ActorID:    actorID,
		FromStatus: from,
		ToStatus:   to,
		Reason:     reason,
	}); err != nil {
		s.logger.Error("failed to append status event",
			zap.String("merchant_id", app.ID.String()),
			zap.String("from", string(from)),
			zap.String("to", string(to)),
			zap.Error(err),
		)
	}

	if s.notifier != nil {
		s.notifier.NotifyStatusChange(ctx, app, from, to)
	}
}

// classify attaches the merchant context expected by the error policy:
// downstream errors are logged with the attempted operation and returned
// with their classification intact.
func (s *OnboardingService) classify(err error, merchantID uuid.UUID, operation string) error {
	var extErr *domain.ExternalAPIError
	if errors.As(err, &extErr) {
		s.logger.Error("bank partner call failed",
			zap.String("merchant_id", merchantID.String()),
			zap.String("operation", operation),
			zap.String("kind", string(extErr.Kind)),
			zap.String("partner_code", extErr.PartnerCode),
			zap.Bool("retryable", extErr.Retryable()),
			zap.Error(err),
		)
		return err
	}
	s.logger.Error("unclassified downstream failure",
		zap.String("merchant_id", merchantID.String()),
		zap.String("operation", operation),
		zap.Error(err),
	)
	return &domain.ExternalAPIError{Kind: domain.ExternalKindBadGateway, Message: operation + " failed", Err: err}
}

func summarize(err error) string {
	var extErr *domain.ExternalAPIError
	if errors.As(err, &extErr) {
		if extErr.PartnerCode != "" {
			return fmt.Sprintf("%s (%s)", extErr.Kind, extErr.PartnerCode)
		}
		return string(extErr.Kind)
	}
	return "internal error"
}

// upiIdentifiers derives the payment handles proposed to the partner.
// Deterministic per application so a resubmission proposes the same ones.
func upiIdentifiers(app *domain.MerchantApplication) []string {
	slug := strings.ToLower(strings.TrimSpace(app.BusinessName))
	slug = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			return r
		case r == ' ', r == '-', r == '_':
			return '-'
		default:
			return -1
		}
	}, slug)
	slug = strings.Trim(slug, "-")
	if slug == "" {
		slug = "merchant"
	}
	short := strings.ReplaceAll(app.ID.String(), "-", "")[:8]
	return []string{
		slug + "@payments",
		slug + "." + short + "@payments",
	}
}
