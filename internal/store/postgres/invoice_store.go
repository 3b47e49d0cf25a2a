package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/paywatch/internal/domain"
	"github.com/alanyoungcy/paywatch/internal/store"
)

const referenceConstraint = "invoices_reference_key"

// InvoiceStore implements domain.InvoiceStore using PostgreSQL.
type InvoiceStore struct {
	pool         *pgxpool.Pool
	newReference func() (string, error)
}

func NewInvoiceStore(pool *pgxpool.Pool) *InvoiceStore {
	return &InvoiceStore{pool: pool, newReference: store.NewReference}
}

// Create inserts a PENDING invoice, drawing a new reference when the unique
// index rejects one.
func (s *InvoiceStore) Create(ctx context.Context, draft domain.InvoiceDraft) (domain.Invoice, error) {
	const query = `
		INSERT INTO invoices (id, reference, amount, denomination, description, status)
		VALUES ($1::uuid, $2, $3::numeric, $4, $5, 'PENDING')
		RETURNING ` + invoiceSelectCols

	id := uuid.NewString()
	for attempt := 0; attempt < store.ReferenceAttempts; attempt++ {
		ref, err := s.newReference()
		if err != nil {
			return domain.Invoice{}, fmt.Errorf("postgres: create invoice: %w", err)
		}

		row := s.pool.QueryRow(ctx, query, id, ref, draft.Amount.String(), draft.Denomination, draft.Description)
		inv, err := scanInvoice(row)
		if err == nil {
			return inv, nil
		}
		if isUniqueViolation(err, referenceConstraint) {
			continue
		}
		return domain.Invoice{}, fmt.Errorf("postgres: create invoice: %w", err)
	}
	return domain.Invoice{}, fmt.Errorf("postgres: create invoice: reference collision after %d attempts: %w",
		store.ReferenceAttempts, domain.ErrAlreadyExists)
}

const invoiceSelectCols = `id::text, reference, amount::text, denomination, description,
	status, paid_at, payer_wallet, signature, created_at`

func scanInvoice(scanner interface{ Scan(dest ...any) error }) (domain.Invoice, error) {
	var (
		inv    domain.Invoice
		amount string
		status string
	)
	err := scanner.Scan(
		&inv.ID, &inv.Reference, &amount, &inv.Denomination, &inv.Description,
		&status, &inv.PaidAt, &inv.PayerWallet, &inv.Signature, &inv.CreatedAt,
	)
	if err != nil {
		return domain.Invoice{}, err
	}

	inv.Amount, err = decimal.NewFromString(amount)
	if err != nil {
		return domain.Invoice{}, fmt.Errorf("parse amount %q: %w", amount, err)
	}
	inv.Status = domain.InvoiceStatus(status)
	return inv, nil
}

func (s *InvoiceStore) FindByReference(ctx context.Context, reference string) (domain.Invoice, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+invoiceSelectCols+` FROM invoices WHERE reference = $1`, reference)

	inv, err := scanInvoice(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Invoice{}, fmt.Errorf("postgres: invoice %q: %w", reference, domain.ErrNotFound)
		}
		return domain.Invoice{}, fmt.Errorf("postgres: find invoice %q: %w", reference, err)
	}
	return inv, nil
}

// UpdateStatus is the single guarded transition out of PENDING. A false
// result means the invoice had already left PENDING.
func (s *InvoiceStore) UpdateStatus(ctx context.Context, id string, upd domain.PaymentUpdate) (bool, error) {
	const query = `
		UPDATE invoices
		SET status = $2, paid_at = $3, payer_wallet = $4, signature = $5
		WHERE id = $1::uuid AND status = 'PENDING'`

	tag, err := s.pool.Exec(ctx, query, id, string(upd.Status), upd.PaidAt, upd.PayerWallet, upd.Signature)
	if err != nil {
		return false, fmt.Errorf("postgres: update invoice %s: %w", id, err)
	}
	return tag.RowsAffected() == 1, nil
}

// List returns invoices newest first, filtered by status when it is set.
func (s *InvoiceStore) List(ctx context.Context, status domain.InvoiceStatus, opts domain.ListOpts) ([]domain.Invoice, error) {
	q := newListQuery(`SELECT ` + invoiceSelectCols + ` FROM invoices`)
	if status != "" {
		q.where("status = %s", string(status))
	}
	query, args := q.window(opts, "created_at DESC, reference")

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list invoices: %w", err)
	}
	defer rows.Close()

	var invoices []domain.Invoice
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan invoice: %w", err)
		}
		invoices = append(invoices, inv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list invoices rows: %w", err)
	}
	return invoices, nil
}

var _ domain.InvoiceStore = (*InvoiceStore)(nil)
