package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ayo6706/merchant-onboarding/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// StatusUpdate carries the audit fields written together with a status
// change. Timestamp fields are write-once: the store only fills columns
// that are still NULL. BankApplicationID likewise only fills an empty
// column and never overwrites an assigned id.
type StatusUpdate struct {
	ActorID              *uuid.UUID
	Reason               *string
	ClearRejectionReason bool
	BankApplicationID    string
	BankAccountNumber    string
	MerchantCode         string
	SubmittedAt          *time.Time
	ValidatedAt          *time.Time
	BankSubmittedAt      *time.Time
	DecisionAt           *time.Time
}

const merchantColumns = `id, owner_id, status, business_name, legal_name, registration_number,
	tax_id, contact_email, address_line, city, country, postal_code, monthly_volume,
	document_refs, bank_application_id, rejection_reason, bank_account_number, merchant_code,
	submitted_at, validated_at, bank_submitted_at, decision_at, created_at, updated_at`

// PostgresStore persists merchant applications in Postgres.
type PostgresStore struct {
	db *pgxpool.Pool
}

func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Create(ctx context.Context, app *domain.MerchantApplication) error {
	query := `
		INSERT INTO merchant_applications (
			id, owner_id, status, business_name, legal_name, registration_number,
			tax_id, contact_email, address_line, city, country, postal_code,
			monthly_volume, document_refs, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, NOW(), NOW())
		RETURNING created_at, updated_at`
	err := s.db.QueryRow(ctx, query,
		app.ID, app.OwnerID, app.Status, app.BusinessName, app.LegalName,
		app.RegistrationNumber, app.TaxID, app.ContactEmail, app.AddressLine,
		app.City, app.Country, app.PostalCode, app.MonthlyVolume.String(), app.DocumentRefs,
	).Scan(&app.CreatedAt, &app.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrOwnerHasMerchant
		}
		return fmt.Errorf("create merchant application: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.MerchantApplication, error) {
	query := fmt.Sprintf(`SELECT %s FROM merchant_applications WHERE id = $1`, merchantColumns)
	return s.scanOne(s.db.QueryRow(ctx, query, id))
}

func (s *PostgresStore) GetByOwner(ctx context.Context, ownerID uuid.UUID) (*domain.MerchantApplication, error) {
	query := fmt.Sprintf(`SELECT %s FROM merchant_applications WHERE owner_id = $1`, merchantColumns)
	return s.scanOne(s.db.QueryRow(ctx, query, ownerID))
}

func (s *PostgresStore) GetByBankApplicationID(ctx context.Context, bankAppID string) (*domain.MerchantApplication, error) {
	query := fmt.Sprintf(`SELECT %s FROM merchant_applications WHERE bank_application_id = $1`, merchantColumns)
	return s.scanOne(s.db.QueryRow(ctx, query, bankAppID))
}

func (s *PostgresStore) List(ctx context.Context, status *domain.Status) ([]domain.MerchantApplication, error) {
	query := fmt.Sprintf(`SELECT %s FROM merchant_applications WHERE ($1::text IS NULL OR status = $1) ORDER BY created_at DESC`, merchantColumns)
	rows, err := s.db.Query(ctx, query, status)
	if err != nil {
		return nil, fmt.Errorf("list merchant applications: %w", err)
	}
	defer rows.Close()

	var apps []domain.MerchantApplication
	for rows.Next() {
		app, err := scanMerchant(rows)
		if err != nil {
			return nil, err
		}
		apps = append(apps, *app)
	}
	return apps, rows.Err()
}

// UpdateStatus performs the conditional write backing the state machine:
// the row is updated only while its status still equals expectedCurrent.
// A row that moved underneath returns domain.ErrConflict.
func (s *PostgresStore) UpdateStatus(ctx context.Context, id uuid.UUID, expectedCurrent, newStatus domain.Status, fields StatusUpdate) (*domain.MerchantApplication, error) {
	query := fmt.Sprintf(`
		UPDATE merchant_applications SET
			status = $3,
			rejection_reason = CASE
				WHEN $4::bool THEN NULL
				WHEN $5::text IS NOT NULL THEN $5
				ELSE rejection_reason
			END,
			bank_application_id = COALESCE(bank_application_id, NULLIF($6, '')),
			bank_account_number = COALESCE(NULLIF($7, ''), bank_account_number),
			merchant_code = COALESCE(NULLIF($8, ''), merchant_code),
			submitted_at = COALESCE(submitted_at, $9),
			validated_at = COALESCE(validated_at, $10),
			bank_submitted_at = COALESCE(bank_submitted_at, $11),
			decision_at = COALESCE(decision_at, $12),
			updated_at = NOW()
		WHERE id = $1 AND status = $2
		RETURNING %s`, merchantColumns)

	app, err := s.scanOne(s.db.QueryRow(ctx, query,
		id, expectedCurrent, newStatus,
		fields.ClearRejectionReason, fields.Reason,
		fields.BankApplicationID, fields.BankAccountNumber, fields.MerchantCode,
		fields.SubmittedAt, fields.ValidatedAt, fields.BankSubmittedAt, fields.DecisionAt,
	))
	if err == nil {
		return app, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("update merchant status: %w", err)
	}

	// Distinguish a missing row from one whose status moved underneath us.
	if _, getErr := s.GetByID(ctx, id); getErr == nil {
		return nil, domain.ErrConflict
	}
	return nil, domain.ErrNotFound
}

// AppendStatusEvent records one immutable audit row for a committed
// transition.
func (s *PostgresStore) AppendStatusEvent(ctx context.Context, event domain.StatusEvent) error {
	query := `
		INSERT INTO merchant_status_events (merchant_id, actor_id, from_status, to_status, reason, created_at)
		VALUES ($1, $2, $3, $4, $5, NOW())`
	if _, err := s.db.Exec(ctx, query,
		event.MerchantID, event.ActorID, event.FromStatus, event.ToStatus, event.Reason,
	); err != nil {
		return fmt.Errorf("append status event: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListStatusEvents(ctx context.Context, merchantID uuid.UUID) ([]domain.StatusEvent, error) {
	query := `
		SELECT id, merchant_id, actor_id, from_status, to_status, reason, created_at
		FROM merchant_status_events
		WHERE merchant_id = $1
		ORDER BY id`
	rows, err := s.db.Query(ctx, query, merchantID)
	if err != nil {
		return nil, fmt.Errorf("list status events: %w", err)
	}
	defer rows.Close()

	var events []domain.StatusEvent
	for rows.Next() {
		var e domain.StatusEvent
		if err := rows.Scan(&e.ID, &e.MerchantID, &e.ActorID, &e.FromStatus, &e.ToStatus, &e.Reason, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan status event: %w", err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *PostgresStore) scanOne(row rowScanner) (*domain.MerchantApplication, error) {
	app, err := scanMerchant(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return app, nil
}

func scanMerchant(row rowScanner) (*domain.MerchantApplication, error) {
	app := &domain.MerchantApplication{}
	var bankAppID *string
	var monthlyVolume string
	err := row.Scan(
		&app.ID, &app.OwnerID, &app.Status, &app.BusinessName, &app.LegalName,
		&app.RegistrationNumber, &app.TaxID, &app.ContactEmail, &app.AddressLine,
		&app.City, &app.Country, &app.PostalCode, &monthlyVolume, &app.DocumentRefs,
		&bankAppID, &app.RejectionReason, &app.BankAccountNumber, &app.MerchantCode,
		&app.SubmittedAt, &app.ValidatedAt, &app.BankSubmittedAt, &app.DecisionAt,
		&app.CreatedAt, &app.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan merchant application: %w", err)
	}
	if app.MonthlyVolume, err = decimal.NewFromString(monthlyVolume); err != nil {
		return nil, fmt.Errorf("parse monthly volume: %w", err)
	}
	if bankAppID != nil {
		app.BankApplicationID = *bankAppID
	}
	return app, nil
}

func isUniqueViolation(err error) bool {
	var pgErr interface{ SQLState() string }
	return errors.As(err, &pgErr) && pgErr.SQLState() == "23505"
}
