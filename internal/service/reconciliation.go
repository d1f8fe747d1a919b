package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ayo6706/merchant-onboarding/internal/domain"
	"github.com/ayo6706/merchant-onboarding/internal/gateway"
	"github.com/ayo6706/merchant-onboarding/internal/observability"
	"go.uber.org/zap"
)

// ReconciliationService recovers decisions whose webhooks were lost and
// resolves submissions that were aborted with an unknown outcome. It
// polls the partner's idempotent status read and feeds terminal results
// through the same ApplyDecision path a webhook would take, so the state
// machine and the duplicate handling stay the single source of truth.
type ReconciliationService struct {
	onboarding *OnboardingService
	store      MerchantStore
	bank       gateway.BankGateway
	staleAfter time.Duration
	logger     *zap.Logger
}

func NewReconciliationService(onboarding *OnboardingService, store MerchantStore, bank gateway.BankGateway, staleAfter time.Duration, logger *zap.Logger) *ReconciliationService {
	if staleAfter <= 0 {
		staleAfter = time.Hour
	}
	if logger == nil {
		logger = zap.L()
	}
	return &ReconciliationService{
		onboarding: onboarding,
		store:      store,
		bank:       bank,
		staleAfter: staleAfter,
		logger:     logger,
	}
}

// Run scans records stuck in pending_bank_approval and reconciles the
// stale ones against the partner.
func (s *ReconciliationService) Run(ctx context.Context) error {
	pending := domain.StatusPendingBankApproval
	apps, err := s.store.List(ctx, &pending)
	if err != nil {
		return fmt.Errorf("list pending applications: %w", err)
	}
	observability.SetPendingBankApprovals(int64(len(apps)))

	cutoff := time.Now().Add(-s.staleAfter)
	var firstErr error
	for i := range apps {
		app := &apps[i]
		if app.BankSubmittedAt != nil && app.BankSubmittedAt.After(cutoff) {
			continue
		}
		if err := s.reconcileOne(ctx, app); err != nil && firstErr == nil {
			firstErr = err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return firstErr
}

func (s *ReconciliationService) reconcileOne(ctx context.Context, app *domain.MerchantApplication) error {
	status, err := s.bank.GetApplicationStatus(ctx, app.BankApplicationID)
	if err != nil {
		observability.IncrementGatewayCall("status", "error")
		s.logger.Warn("reconciliation status poll failed",
			zap.String("merchant_id", app.ID.String()),
			zap.String("bank_application_id", app.BankApplicationID),
			zap.Error(err),
		)
		return err
	}
	observability.IncrementGatewayCall("status", "ok")

	switch status {
	case gateway.PartnerStatusProcessing:
		return nil
	case gateway.PartnerStatusApproved, gateway.PartnerStatusRejected:
		cb := domain.DecisionCallback{
			ApplicationID: app.BankApplicationID,
			MerchantID:    app.ID.String(),
			Approved:      status == gateway.PartnerStatusApproved,
			Reason:        "resolved by reconciliation poll",
			ProcessedAt:   time.Now().UTC(),
		}
		outcome, err := s.onboarding.ApplyDecision(ctx, cb)
		if err != nil {
			// A webhook that raced us is fine; everything else is not.
			if errors.Is(err, domain.ErrConflict) {
				return nil
			}
			return err
		}
		if outcome.Applied {
			s.logger.Info("lost decision recovered by reconciliation",
				zap.String("merchant_id", app.ID.String()),
				zap.String("bank_application_id", app.BankApplicationID),
				zap.String("status", status),
			)
		}
		return nil
	default:
		s.logger.Warn("partner reported unknown application status",
			zap.String("merchant_id", app.ID.String()),
			zap.String("bank_application_id", app.BankApplicationID),
			zap.String("partner_status", status),
		)
		return nil
	}
}
