package service

import (
	"context"

	"github.com/ayo6706/merchant-onboarding/internal/domain"
	"github.com/ayo6706/merchant-onboarding/internal/repository"
	"github.com/google/uuid"
)

// MerchantStore is the minimal record-store contract required by the
// onboarding service. UpdateStatus must be a compare-and-swap: the write
// succeeds only while the row's status still equals expectedCurrent and
// returns domain.ErrConflict otherwise.
type MerchantStore interface {
	Create(ctx context.Context, app *domain.MerchantApplication) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.MerchantApplication, error)
	GetByOwner(ctx context.Context, ownerID uuid.UUID) (*domain.MerchantApplication, error)
	GetByBankApplicationID(ctx context.Context, bankAppID string) (*domain.MerchantApplication, error)
	List(ctx context.Context, status *domain.Status) ([]domain.MerchantApplication, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, expectedCurrent, newStatus domain.Status, fields repository.StatusUpdate) (*domain.MerchantApplication, error)
	AppendStatusEvent(ctx context.Context, event domain.StatusEvent) error
	ListStatusEvents(ctx context.Context, merchantID uuid.UUID) ([]domain.StatusEvent, error)
}
