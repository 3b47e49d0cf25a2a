package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// InvoiceStatus is the lifecycle state of an invoice.
type InvoiceStatus string

const (
	InvoiceStatusPending InvoiceStatus = "PENDING"
	InvoiceStatusPaid    InvoiceStatus = "PAID"
	InvoiceStatusExpired InvoiceStatus = "EXPIRED"
)

// Valid reports whether s is one of the known statuses.
func (s InvoiceStatus) Valid() bool {
	switch s {
	case InvoiceStatusPending, InvoiceStatusPaid, InvoiceStatusExpired:
		return true
	}
	return false
}

// Invoice is a payment request awaiting settlement on chain. The reference is
// what payers put in the transaction memo.
type Invoice struct {
	ID           string
	Reference    string
	Amount       decimal.Decimal
	Denomination string
	Description  string
	Status       InvoiceStatus
	PaidAt       *time.Time
	PayerWallet  string
	Signature    string
	CreatedAt    time.Time
}

// InvoiceDraft carries the caller-supplied fields of a new invoice.
type InvoiceDraft struct {
	Amount       decimal.Decimal
	Denomination string
	Description  string
}

// PaymentUpdate is the bounded set of fields the reconciler writes when an
// invoice is settled.
type PaymentUpdate struct {
	Status      InvoiceStatus
	PaidAt      time.Time
	PayerWallet string
	Signature   string
}
