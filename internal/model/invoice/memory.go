package invoice

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore keeps customers and invoices in process memory.
type MemoryStore struct {
	mu        sync.RWMutex
	customers map[string]Customer
	invoices  map[string]Invoice
	counters  map[int]int
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		customers: make(map[string]Customer),
		invoices:  make(map[string]Invoice),
		counters:  make(map[int]int),
	}
}

func (s *MemoryStore) CreateCustomer(_ context.Context, c Customer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.customers[c.ID] = c
	return nil
}

func (s *MemoryStore) GetCustomer(_ context.Context, id string) (Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.customers[id]
	if !ok {
		return Customer{}, ErrCustomerNotFound
	}
	return c, nil
}

func (s *MemoryStore) ListCustomers(_ context.Context) ([]Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Customer, 0, len(s.customers))
	for _, c := range s.customers {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *MemoryStore) CreateInvoice(_ context.Context, inv *Invoice) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.customers[inv.CustomerID]; !ok {
		return ErrCustomerNotFound
	}

	year := inv.IssueDate.Year()
	s.counters[year]++
	inv.Seq = s.counters[year]
	inv.Number = FormatNumber(year, inv.Seq)
	s.invoices[inv.ID] = cloneInvoice(*inv)
	return nil
}

func (s *MemoryStore) GetInvoice(_ context.Context, id string) (Invoice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	inv, ok := s.invoices[id]
	if !ok {
		return Invoice{}, ErrNotFound
	}
	return cloneInvoice(inv), nil
}

func (s *MemoryStore) ListInvoices(_ context.Context, f Filter) ([]Invoice, int, error) {
	s.mu.RLock()
	matched := make([]Invoice, 0)
	for _, inv := range s.invoices {
		if f.Match(inv) {
			matched = append(matched, cloneInvoice(inv))
		}
	}
	s.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		a, b := matched[i], matched[j]
		if !a.IssueDate.Equal(b.IssueDate) {
			return a.IssueDate.After(b.IssueDate)
		}
		return a.Seq > b.Seq
	})

	total := len(matched)
	if f.Offset > 0 {
		if f.Offset >= total {
			return []Invoice{}, total, nil
		}
		matched = matched[f.Offset:]
	}
	if f.Limit > 0 && len(matched) > f.Limit {
		matched = matched[:f.Limit]
	}
	return matched, total, nil
}

func (s *MemoryStore) UpdateInvoice(_ context.Context, id string, fn func(*Invoice) error) (Invoice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.invoices[id]
	if !ok {
		return Invoice{}, ErrNotFound
	}
	updated := cloneInvoice(current)
	if err := fn(&updated); err != nil {
		return Invoice{}, err
	}
	s.invoices[id] = cloneInvoice(updated)
	return updated, nil
}

func (s *MemoryStore) DeleteDraft(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	inv, ok := s.invoices[id]
	if !ok {
		return ErrNotFound
	}
	if inv.Status != StatusDraft {
		return ErrNotDraft
	}
	delete(s.invoices, id)
	return nil
}

func (s *MemoryStore) MarkOverdue(_ context.Context, dueBefore, at time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for id, inv := range s.invoices {
		if inv.Status == StatusSent && inv.DueDate.Before(dueBefore) {
			inv.Status = StatusOverdue
			inv.UpdatedAt = at
			s.invoices[id] = inv
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) Ping(context.Context) error {
	return nil
}

func cloneInvoice(inv Invoice) Invoice {
	inv.Items = append([]Item(nil), inv.Items...)
	if inv.PaidAt != nil {
		paid := *inv.PaidAt
		inv.PaidAt = &paid
	}
	return inv
}
