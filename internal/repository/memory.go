package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/ayo6706/merchant-onboarding/internal/domain"
	"github.com/google/uuid"
)

// MemoryStore is a mutex-guarded in-process MerchantStore. It backs the
// test suites and the memory store driver for local development; its
// UpdateStatus honors the same compare-and-swap contract as Postgres.
type MemoryStore struct {
	mu      sync.Mutex
	apps    map[uuid.UUID]*domain.MerchantApplication
	byOwner map[uuid.UUID]uuid.UUID
	events  []domain.StatusEvent
	nextID  int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		apps:    make(map[uuid.UUID]*domain.MerchantApplication),
		byOwner: make(map[uuid.UUID]uuid.UUID),
		nextID:  1,
	}
}

func (s *MemoryStore) Create(_ context.Context, app *domain.MerchantApplication) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byOwner[app.OwnerID]; exists {
		return domain.ErrOwnerHasMerchant
	}
	now := time.Now().UTC()
	app.CreatedAt = now
	app.UpdatedAt = now
	clone := cloneApp(app)
	s.apps[app.ID] = clone
	s.byOwner[app.OwnerID] = app.ID
	return nil
}

func (s *MemoryStore) GetByID(_ context.Context, id uuid.UUID) (*domain.MerchantApplication, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	app, ok := s.apps[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return cloneApp(app), nil
}

func (s *MemoryStore) GetByOwner(_ context.Context, ownerID uuid.UUID) (*domain.MerchantApplication, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byOwner[ownerID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return cloneApp(s.apps[id]), nil
}

func (s *MemoryStore) GetByBankApplicationID(_ context.Context, bankAppID string) (*domain.MerchantApplication, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if bankAppID == "" {
		return nil, domain.ErrNotFound
	}
	for _, app := range s.apps {
		if app.BankApplicationID == bankAppID {
			return cloneApp(app), nil
		}
	}
	return nil, domain.ErrNotFound
}

func (s *MemoryStore) List(_ context.Context, status *domain.Status) ([]domain.MerchantApplication, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var apps []domain.MerchantApplication
	for _, app := range s.apps {
		if status != nil && app.Status != *status {
			continue
		}
		apps = append(apps, *cloneApp(app))
	}
	sort.Slice(apps, func(i, j int) bool {
		return apps[i].CreatedAt.After(apps[j].CreatedAt)
	})
	return apps, nil
}

func (s *MemoryStore) UpdateStatus(_ context.Context, id uuid.UUID, expectedCurrent, newStatus domain.Status, fields StatusUpdate) (*domain.MerchantApplication, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	app, ok := s.apps[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	if app.Status != expectedCurrent {
		return nil, domain.ErrConflict
	}

	app.Status = newStatus
	if fields.ClearRejectionReason {
		app.RejectionReason = nil
	} else if fields.Reason != nil {
		reason := *fields.Reason
		app.RejectionReason = &reason
	}
	if app.BankApplicationID == "" && fields.BankApplicationID != "" {
		app.BankApplicationID = fields.BankApplicationID
	}
	if fields.BankAccountNumber != "" {
		app.BankAccountNumber = fields.BankAccountNumber
	}
	if fields.MerchantCode != "" {
		app.MerchantCode = fields.MerchantCode
	}
	setOnce(&app.SubmittedAt, fields.SubmittedAt)
	setOnce(&app.ValidatedAt, fields.ValidatedAt)
	setOnce(&app.BankSubmittedAt, fields.BankSubmittedAt)
	setOnce(&app.DecisionAt, fields.DecisionAt)
	app.UpdatedAt = time.Now().UTC()

	return cloneApp(app), nil
}

func (s *MemoryStore) AppendStatusEvent(_ context.Context, event domain.StatusEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	event.ID = s.nextID
	s.nextID++
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}
	s.events = append(s.events, event)
	return nil
}

func (s *MemoryStore) ListStatusEvents(_ context.Context, merchantID uuid.UUID) ([]domain.StatusEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var events []domain.StatusEvent
	for _, e := range s.events {
		if e.MerchantID == merchantID {
			events = append(events, e)
		}
	}
	return events, nil
}

func setOnce(dst **time.Time, value *time.Time) {
	if *dst == nil && value != nil {
		t := *value
		*dst = &t
	}
}

func cloneApp(app *domain.MerchantApplication) *domain.MerchantApplication {
	clone := *app
	if app.RejectionReason != nil {
		reason := *app.RejectionReason
		clone.RejectionReason = &reason
	}
	clone.DocumentRefs = append([]string(nil), app.DocumentRefs...)
	for _, ts := range []struct {
		src *time.Time
		dst **time.Time
	}{
		{app.SubmittedAt, &clone.SubmittedAt},
		{app.ValidatedAt, &clone.ValidatedAt},
		{app.BankSubmittedAt, &clone.BankSubmittedAt},
		{app.DecisionAt, &clone.DecisionAt},
	} {
		if ts.src != nil {
			t := *ts.src
			*ts.dst = &t
		}
	}
	return &clone
}
