package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ayo6706/merchant-onboarding/internal/domain"
	"github.com/ayo6706/merchant-onboarding/internal/gateway"
	"github.com/ayo6706/merchant-onboarding/internal/repository"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeGateway is a deterministic BankGateway: the assigned application id
// is derived from the merchant reference, matching the partner contract
// that a resubmitted application keeps its id.
type fakeGateway struct {
	mu          sync.Mutex
	submitErr   error
	submitCalls int
	overrideID  string
	statuses    map[string]string
	statusErr   error
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{statuses: make(map[string]string)}
}

func (g *fakeGateway) idFor(app *domain.MerchantApplication) string {
	if g.overrideID != "" {
		return g.overrideID
	}
	return "BANK-" + strings.ReplaceAll(app.ID.String(), "-", "")[:12]
}

func (g *fakeGateway) Submit(_ context.Context, app *domain.MerchantApplication, _ []string) (*gateway.SubmitResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.submitCalls++
	if g.submitErr != nil {
		return nil, g.submitErr
	}
	id := g.idFor(app)
	g.statuses[id] = gateway.PartnerStatusProcessing
	return &gateway.SubmitResult{ApplicationID: id, EstimatedProcessingTime: time.Hour}, nil
}

func (g *fakeGateway) VerifyWebhook(_ []byte) bool { return true }

func (g *fakeGateway) GetApplicationStatus(_ context.Context, applicationID string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.statusErr != nil {
		return "", g.statusErr
	}
	status, ok := g.statuses[applicationID]
	if !ok {
		return "", domain.ErrNotFound
	}
	return status, nil
}

func (g *fakeGateway) setStatus(applicationID, status string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.statuses[applicationID] = status
}

func (g *fakeGateway) calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.submitCalls
}

func newTestService(t *testing.T) (*OnboardingService, *repository.MemoryStore, *fakeGateway) {
	t.Helper()
	store := repository.NewMemoryStore()
	bank := newFakeGateway()
	svc := NewOnboardingService(store, bank, nil, zap.NewNop())
	return svc, store, bank
}

func validInput() CreateMerchantInput {
	return CreateMerchantInput{
		BusinessName:       "Chai Point",
		RegistrationNumber: "REG-42",
		TaxID:              "TAX-42",
		ContactEmail:       "owner@chaipoint.example",
		City:               "Bengaluru",
		Country:            "in",
		MonthlyVolume:      decimal.NewFromInt(250000),
		DocumentRefs:       []string{"doc://pan", "doc://gst"},
	}
}

// draftToPending drives an application through the happy path up to
// pending_bank_approval and returns its current state.
func draftToPending(t *testing.T, svc *OnboardingService) *domain.MerchantApplication {
	t.Helper()
	ctx := context.Background()
	ownerID := uuid.New()
	adminID := uuid.New()

	app, err := svc.CreateDraft(ctx, ownerID, validInput())
	require.NoError(t, err)
	require.Equal(t, domain.StatusDraft, app.Status)

	app, err = svc.SubmitForReview(ctx, ownerID)
	require.NoError(t, err)
	require.Equal(t, domain.StatusSubmitted, app.Status)

	app, err = svc.Validate(ctx, app.ID, adminID)
	require.NoError(t, err)
	require.Equal(t, domain.StatusPendingBankApproval, app.Status)
	return app
}

func TestCreateDraft(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	ownerID := uuid.New()

	app, err := svc.CreateDraft(ctx, ownerID, validInput())
	require.NoError(t, err)
	assert.Equal(t, domain.StatusDraft, app.Status)
	assert.Equal(t, "Chai Point", app.BusinessName)
	assert.Equal(t, "Chai Point", app.LegalName, "legal name defaults to business name")
	assert.Equal(t, "IN", app.Country)

	// One application per owner.
	_, err = svc.CreateDraft(ctx, ownerID, validInput())
	assert.ErrorIs(t, err, domain.ErrOwnerHasMerchant)
}

func TestCreateDraftValidation(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	cases := []struct {
		name   string
		mutate func(*CreateMerchantInput)
	}{
		{"missing business name", func(in *CreateMerchantInput) { in.BusinessName = "  " }},
		{"missing registration number", func(in *CreateMerchantInput) { in.RegistrationNumber = "" }},
		{"missing tax id", func(in *CreateMerchantInput) { in.TaxID = "" }},
		{"bad email", func(in *CreateMerchantInput) { in.ContactEmail = "not-an-email" }},
		{"negative volume", func(in *CreateMerchantInput) { in.MonthlyVolume = decimal.NewFromInt(-1) }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			in := validInput()
			tc.mutate(&in)
			_, err := svc.CreateDraft(ctx, uuid.New(), in)
			assert.Error(t, err)
		})
	}
}

func TestFullApprovalLifecycle(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()

	app := draftToPending(t, svc)
	require.NotEmpty(t, app.BankApplicationID)
	require.NotNil(t, app.SubmittedAt)
	require.NotNil(t, app.ValidatedAt)
	require.NotNil(t, app.BankSubmittedAt)

	outcome, err := svc.ApplyDecision(ctx, domain.DecisionCallback{
		ApplicationID: app.BankApplicationID,
		MerchantID:    app.ID.String(),
		Approved:      true,
		AccountNumber: "ACC-001122",
		MerchantCode:  "MID-7788",
		ProcessedAt:   time.Now().UTC(),
	})
	require.NoError(t, err)
	assert.True(t, outcome.Applied)
	assert.Equal(t, domain.StatusApproved, outcome.Application.Status)
	assert.Equal(t, "ACC-001122", outcome.Application.BankAccountNumber)
	assert.Equal(t, "MID-7788", outcome.Application.MerchantCode)
	assert.NotNil(t, outcome.Application.DecisionAt)

	events, err := store.ListStatusEvents(ctx, app.ID)
	require.NoError(t, err)
	require.Len(t, events, 4)
	assert.Equal(t, domain.StatusDraft, events[0].FromStatus)
	assert.Equal(t, domain.StatusApproved, events[3].ToStatus)
}

func TestRejectionAndResubmission(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()

	app := draftToPending(t, svc)
	bankAppID := app.BankApplicationID

	outcome, err := svc.ApplyDecision(ctx, domain.DecisionCallback{
		ApplicationID: bankAppID,
		Approved:      false,
		Reason:        "incomplete KYC documents",
	})
	require.NoError(t, err)
	require.Equal(t, domain.StatusRejected, outcome.Application.Status)
	require.NotNil(t, outcome.Application.RejectionReason)
	assert.Equal(t, "incomplete KYC documents", *outcome.Application.RejectionReason)

	// The owner fixes the application and resubmits; the stored rejection
	// reason is cleared on re-entry into submitted.
	resubmitted, err := svc.SubmitForReview(ctx, app.OwnerID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSubmitted, resubmitted.Status)
	assert.Nil(t, resubmitted.RejectionReason)

	// Validation runs again; the partner keys on the merchant reference so
	// the same bank application id comes back.
	revalidated, err := svc.Validate(ctx, app.ID, uuid.New())
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPendingBankApproval, revalidated.Status)
	assert.Equal(t, bankAppID, revalidated.BankApplicationID)

	events, err := store.ListStatusEvents(ctx, app.ID)
	require.NoError(t, err)
	assert.Len(t, events, 7)
}

func TestApplyDecisionDefaultsRejectionReason(t *testing.T) {
	svc, _, _ := newTestService(t)
	app := draftToPending(t, svc)

	outcome, err := svc.ApplyDecision(context.Background(), domain.DecisionCallback{
		ApplicationID: app.BankApplicationID,
		Approved:      false,
	})
	require.NoError(t, err)
	require.NotNil(t, outcome.Application.RejectionReason)
	assert.Equal(t, "rejected by bank partner", *outcome.Application.RejectionReason)
}

func TestDuplicateDecisionAbsorbed(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()
	app := draftToPending(t, svc)

	cb := domain.DecisionCallback{
		ApplicationID: app.BankApplicationID,
		Approved:      true,
		AccountNumber: "ACC-1",
		ProcessedAt:   time.Now().UTC(),
	}
	first, err := svc.ApplyDecision(ctx, cb)
	require.NoError(t, err)
	require.True(t, first.Applied)

	// The partner retries the delivery; it converges on success without a
	// second transition.
	second, err := svc.ApplyDecision(ctx, cb)
	require.NoError(t, err)
	assert.False(t, second.Applied)
	assert.Equal(t, domain.StatusApproved, second.Application.Status)

	events, err := store.ListStatusEvents(ctx, app.ID)
	require.NoError(t, err)
	assert.Len(t, events, 4, "the duplicate must not append another audit row")
}

func TestConflictingDecisionRejected(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	app := draftToPending(t, svc)

	_, err := svc.ApplyDecision(ctx, domain.DecisionCallback{
		ApplicationID: app.BankApplicationID,
		Approved:      true,
	})
	require.NoError(t, err)

	// The opposite decision for a decided record is a real mismatch.
	_, err = svc.ApplyDecision(ctx, domain.DecisionCallback{
		ApplicationID: app.BankApplicationID,
		Approved:      false,
	})
	assert.ErrorIs(t, err, domain.ErrConflict)
}

func TestApplyDecisionIdentityChecks(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	app := draftToPending(t, svc)

	_, err := svc.ApplyDecision(ctx, domain.DecisionCallback{Approved: true})
	assert.ErrorIs(t, err, domain.ErrAppIDMismatch)

	_, err = svc.ApplyDecision(ctx, domain.DecisionCallback{ApplicationID: "BANK-UNKNOWN", Approved: true})
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = svc.ApplyDecision(ctx, domain.DecisionCallback{
		ApplicationID: app.BankApplicationID,
		MerchantID:    uuid.NewString(),
		Approved:      true,
	})
	assert.ErrorIs(t, err, domain.ErrAppIDMismatch)
}

func TestApprovedIsTerminal(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	app := draftToPending(t, svc)

	_, err := svc.ApplyDecision(ctx, domain.DecisionCallback{
		ApplicationID: app.BankApplicationID,
		Approved:      true,
	})
	require.NoError(t, err)

	_, err = svc.SubmitForReview(ctx, app.OwnerID)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	_, err = svc.Reject(ctx, app.ID, uuid.New(), "too late")
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	_, err = svc.Validate(ctx, app.ID, uuid.New())
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
}

func TestBankSubmitFailureStaysValidating(t *testing.T) {
	svc, store, bank := newTestService(t)
	ctx := context.Background()
	ownerID := uuid.New()
	adminID := uuid.New()

	app, err := svc.CreateDraft(ctx, ownerID, validInput())
	require.NoError(t, err)
	_, err = svc.SubmitForReview(ctx, ownerID)
	require.NoError(t, err)

	bank.submitErr = &domain.ExternalAPIError{Kind: domain.ExternalKindUnavailable, Message: "partner down"}
	_, err = svc.Validate(ctx, app.ID, adminID)
	require.Error(t, err)

	var extErr *domain.ExternalAPIError
	require.ErrorAs(t, err, &extErr)
	assert.Equal(t, domain.ExternalKindUnavailable, extErr.Kind)
	assert.True(t, extErr.Retryable())

	// The record stays in validating with the failure visible.
	current, err := store.GetByID(ctx, app.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusValidating, current.Status)
	require.NotNil(t, current.RejectionReason)
	assert.Contains(t, *current.RejectionReason, "bank submission failed")

	// A later retry from validating goes straight back to the bank.
	bank.submitErr = nil
	retried, err := svc.Validate(ctx, app.ID, adminID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPendingBankApproval, retried.Status)
	assert.Equal(t, 2, bank.calls())
}

func TestBankApplicationIDReassignmentRefused(t *testing.T) {
	svc, store, bank := newTestService(t)
	ctx := context.Background()
	ownerID := uuid.New()
	adminID := uuid.New()

	app, err := svc.CreateDraft(ctx, ownerID, validInput())
	require.NoError(t, err)
	_, err = svc.SubmitForReview(ctx, ownerID)
	require.NoError(t, err)

	// First attempt: the partner acknowledged the submission but the final
	// persist raced a restart, leaving the record in validating with the
	// bank id already assigned.
	_, err = store.UpdateStatus(ctx, app.ID, domain.StatusSubmitted, domain.StatusValidating, repository.StatusUpdate{
		BankApplicationID: "BANK-ORIGINAL",
	})
	require.NoError(t, err)

	bank.overrideID = "BANK-DIFFERENT"
	_, err = svc.Validate(ctx, app.ID, adminID)
	assert.ErrorIs(t, err, domain.ErrInvariant)

	current, err := store.GetByID(ctx, app.ID)
	require.NoError(t, err)
	assert.Equal(t, "BANK-ORIGINAL", current.BankApplicationID, "stored id never changes")
}

func TestConcurrentValidateSingleWinner(t *testing.T) {
	svc, store, bank := newTestService(t)
	ctx := context.Background()
	ownerID := uuid.New()

	app, err := svc.CreateDraft(ctx, ownerID, validInput())
	require.NoError(t, err)
	_, err = svc.SubmitForReview(ctx, ownerID)
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.Validate(ctx, app.ID, uuid.New())
		}(i)
	}
	wg.Wait()

	var successes, failures int
	for _, err := range errs {
		if err == nil {
			successes++
			continue
		}
		failures++
		ok := errors.Is(err, domain.ErrConflict) || errors.Is(err, domain.ErrInvalidTransition)
		assert.True(t, ok, "loser must fail the compare-and-swap, got: %v", err)
	}
	assert.Equal(t, 1, successes)
	assert.Equal(t, 1, failures)

	current, err := store.GetByID(ctx, app.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPendingBankApproval, current.Status)
	assert.Equal(t, bank.idFor(current), current.BankApplicationID)
}

func TestOverrideApprove(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	app := draftToPending(t, svc)
	adminID := uuid.New()

	approved, err := svc.OverrideApprove(ctx, app.ID, adminID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusApproved, approved.Status)
	assert.NotNil(t, approved.DecisionAt)

	// The partner's own approval arriving later is absorbed as a
	// duplicate; a contradicting rejection is surfaced as a conflict.
	outcome, err := svc.ApplyDecision(ctx, domain.DecisionCallback{
		ApplicationID: app.BankApplicationID,
		Approved:      true,
	})
	require.NoError(t, err)
	assert.False(t, outcome.Applied)

	_, err = svc.ApplyDecision(ctx, domain.DecisionCallback{
		ApplicationID: app.BankApplicationID,
		Approved:      false,
	})
	assert.ErrorIs(t, err, domain.ErrConflict)
}

func TestOverrideApproveGatedByTransitionTable(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	ownerID := uuid.New()

	app, err := svc.CreateDraft(ctx, ownerID, validInput())
	require.NoError(t, err)

	_, err = svc.OverrideApprove(ctx, app.ID, uuid.New())
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
}

func TestRejectFromValidating(t *testing.T) {
	svc, _, bank := newTestService(t)
	ctx := context.Background()
	ownerID := uuid.New()
	adminID := uuid.New()

	app, err := svc.CreateDraft(ctx, ownerID, validInput())
	require.NoError(t, err)
	_, err = svc.SubmitForReview(ctx, ownerID)
	require.NoError(t, err)

	// Park the record in validating via a failed bank submission.
	bank.submitErr = &domain.ExternalAPIError{Kind: domain.ExternalKindTimeout, Message: "deadline exceeded"}
	_, err = svc.Validate(ctx, app.ID, adminID)
	require.Error(t, err)

	rejected, err := svc.Reject(ctx, app.ID, adminID, "validation checks failed")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusRejected, rejected.Status)
	require.NotNil(t, rejected.RejectionReason)
	assert.Equal(t, "validation checks failed", *rejected.RejectionReason)
	assert.Nil(t, rejected.DecisionAt, "no bank decision was involved")
}

func TestHistory(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	app := draftToPending(t, svc)

	events, err := svc.History(ctx, app.ID)
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, domain.StatusDraft, events[0].FromStatus)
	assert.Equal(t, domain.StatusSubmitted, events[0].ToStatus)
	assert.Equal(t, domain.StatusPendingBankApproval, events[2].ToStatus)

	_, err = svc.History(ctx, uuid.New())
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestUPIIdentifiers(t *testing.T) {
	app := &domain.MerchantApplication{
		ID:           uuid.MustParse("a1b2c3d4-0000-0000-0000-000000000000"),
		BusinessName: "Chai Point #1",
	}
	ids := upiIdentifiers(app)
	require.Len(t, ids, 2)
	assert.Equal(t, "chai-point-1@payments", ids[0])
	assert.Equal(t, "chai-point-1.a1b2c3d4@payments", ids[1])

	// Deterministic per application.
	assert.Equal(t, ids, upiIdentifiers(app))
}
