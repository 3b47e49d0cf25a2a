package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// InvoiceStore persists invoices.
type InvoiceStore interface {
	Create(ctx context.Context, draft InvoiceDraft) (Invoice, error)
	FindByReference(ctx context.Context, reference string) (Invoice, error)
	// UpdateStatus applies upd only while the invoice is still PENDING and
	// reports whether a row changed. Repeating the call is a no-op.
	UpdateStatus(ctx context.Context, id string, upd PaymentUpdate) (bool, error)
	List(ctx context.Context, status InvoiceStatus, opts ListOpts) ([]Invoice, error)
}

// WatermarkStore persists per-address sweep cursors.
type WatermarkStore interface {
	Get(ctx context.Context, address string) (Watermark, error)
	Set(ctx context.Context, wm Watermark) error
	List(ctx context.Context) ([]Watermark, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64          `json:"id"`
	Event     string         `json:"event"`
	Detail    map[string]any `json:"detail"`
	CreatedAt time.Time      `json:"created_at"`
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}
