// Package memory implements the domain stores in process memory. It backs the
// "memory" store driver and the tests of the reconciliation path.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/paywatch/internal/domain"
	"github.com/alanyoungcy/paywatch/internal/store"
)

// InvoiceStore implements domain.InvoiceStore.
type InvoiceStore struct {
	mu          sync.RWMutex
	byID        map[string]domain.Invoice
	byReference map[string]string

	newReference func() (string, error)
	now          func() time.Time
}

func NewInvoiceStore() *InvoiceStore {
	return &InvoiceStore{
		byID:         make(map[string]domain.Invoice),
		byReference:  make(map[string]string),
		newReference: store.NewReference,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// Create stores a PENDING invoice under a freshly allocated reference.
func (s *InvoiceStore) Create(_ context.Context, draft domain.InvoiceDraft) (domain.Invoice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for attempt := 0; attempt < store.ReferenceAttempts; attempt++ {
		ref, err := s.newReference()
		if err != nil {
			return domain.Invoice{}, fmt.Errorf("memory: create invoice: %w", err)
		}
		if _, taken := s.byReference[ref]; taken {
			continue
		}
		inv := domain.Invoice{
			ID:           uuid.NewString(),
			Reference:    ref,
			Amount:       draft.Amount,
			Denomination: draft.Denomination,
			Description:  draft.Description,
			Status:       domain.InvoiceStatusPending,
			CreatedAt:    s.now(),
		}
		s.byID[inv.ID] = inv
		s.byReference[ref] = inv.ID
		return inv, nil
	}
	return domain.Invoice{}, fmt.Errorf("memory: create invoice: reference collision after %d attempts: %w",
		store.ReferenceAttempts, domain.ErrAlreadyExists)
}

// Insert stores inv as given. The reference must be unused.
func (s *InvoiceStore) Insert(inv domain.Invoice) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, taken := s.byReference[inv.Reference]; taken {
		return fmt.Errorf("memory: insert invoice %s: %w", inv.Reference, domain.ErrAlreadyExists)
	}
	if inv.ID == "" {
		inv.ID = uuid.NewString()
	}
	if inv.CreatedAt.IsZero() {
		inv.CreatedAt = s.now()
	}
	s.byID[inv.ID] = inv
	s.byReference[inv.Reference] = inv.ID
	return nil
}

func (s *InvoiceStore) FindByReference(_ context.Context, reference string) (domain.Invoice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byReference[reference]
	if !ok {
		return domain.Invoice{}, fmt.Errorf("memory: invoice %q: %w", reference, domain.ErrNotFound)
	}
	return s.byID[id], nil
}

// UpdateStatus applies upd only while the invoice is PENDING.
func (s *InvoiceStore) UpdateStatus(_ context.Context, id string, upd domain.PaymentUpdate) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	inv, ok := s.byID[id]
	if !ok {
		return false, fmt.Errorf("memory: invoice %s: %w", id, domain.ErrNotFound)
	}
	if inv.Status != domain.InvoiceStatusPending {
		return false, nil
	}

	paidAt := upd.PaidAt
	inv.Status = upd.Status
	inv.PaidAt = &paidAt
	inv.PayerWallet = upd.PayerWallet
	inv.Signature = upd.Signature
	s.byID[id] = inv
	return true, nil
}

// List returns invoices newest first. An empty status matches every invoice.
func (s *InvoiceStore) List(_ context.Context, status domain.InvoiceStatus, opts domain.ListOpts) ([]domain.Invoice, error) {
	s.mu.RLock()
	out := make([]domain.Invoice, 0, len(s.byID))
	for _, inv := range s.byID {
		if status != "" && inv.Status != status {
			continue
		}
		if opts.Since != nil && inv.CreatedAt.Before(*opts.Since) {
			continue
		}
		if opts.Until != nil && inv.CreatedAt.After(*opts.Until) {
			continue
		}
		out = append(out, inv)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].Reference < out[j].Reference
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return paginate(out, opts), nil
}

func paginate[T any](items []T, opts domain.ListOpts) []T {
	if opts.Offset > 0 {
		if opts.Offset >= len(items) {
			return items[:0]
		}
		items = items[opts.Offset:]
	}
	if opts.Limit > 0 && opts.Limit < len(items) {
		items = items[:opts.Limit]
	}
	return items
}

var _ domain.InvoiceStore = (*InvoiceStore)(nil)
