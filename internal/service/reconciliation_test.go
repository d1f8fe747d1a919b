package service

import (
	"context"
	"testing"
	"time"

	"github.com/ayo6706/merchant-onboarding/internal/domain"
	"github.com/ayo6706/merchant-onboarding/internal/gateway"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestReconciliationRecoversLostWebhook(t *testing.T) {
	svc, store, bank := newTestService(t)
	ctx := context.Background()
	app := draftToPending(t, svc)

	// The partner decided but the webhook never arrived. staleAfter is
	// negative so the just-submitted record is already eligible.
	bank.setStatus(app.BankApplicationID, gateway.PartnerStatusApproved)
	recon := NewReconciliationService(svc, store, bank, time.Hour, zap.NewNop())
	recon.staleAfter = -time.Minute

	require.NoError(t, recon.Run(ctx))

	current, err := store.GetByID(ctx, app.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusApproved, current.Status)
	assert.NotNil(t, current.DecisionAt)
}

func TestReconciliationSkipsFreshAndProcessing(t *testing.T) {
	svc, store, bank := newTestService(t)
	ctx := context.Background()

	// Fresh pending record: inside the stale window, not polled.
	fresh := draftToPending(t, svc)
	recon := NewReconciliationService(svc, store, bank, time.Hour, zap.NewNop())
	require.NoError(t, recon.Run(ctx))

	current, err := store.GetByID(ctx, fresh.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPendingBankApproval, current.Status)

	// Stale but still processing at the partner: polled, left alone.
	recon.staleAfter = -time.Minute
	require.NoError(t, recon.Run(ctx))

	current, err = store.GetByID(ctx, fresh.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPendingBankApproval, current.Status)
}

func TestReconciliationToleratesRacingWebhook(t *testing.T) {
	svc, store, bank := newTestService(t)
	ctx := context.Background()
	app := draftToPending(t, svc)

	// The webhook lands between the List and the poll; the reconciled
	// decision then hits a decided record and is absorbed.
	_, err := svc.ApplyDecision(ctx, domain.DecisionCallback{
		ApplicationID: app.BankApplicationID,
		Approved:      true,
		ProcessedAt:   time.Now().UTC(),
	})
	require.NoError(t, err)
	bank.setStatus(app.BankApplicationID, gateway.PartnerStatusApproved)

	recon := NewReconciliationService(svc, store, bank, time.Hour, zap.NewNop())
	recon.staleAfter = -time.Minute
	assert.NoError(t, recon.Run(ctx))
}

func TestReconciliationReportsPollFailure(t *testing.T) {
	svc, store, bank := newTestService(t)
	ctx := context.Background()
	draftToPending(t, svc)

	bank.statusErr = &domain.ExternalAPIError{Kind: domain.ExternalKindUnavailable, Message: "partner down"}
	recon := NewReconciliationService(svc, store, bank, time.Hour, zap.NewNop())
	recon.staleAfter = -time.Minute
	assert.Error(t, recon.Run(ctx))
}
