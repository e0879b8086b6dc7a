package invoice

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound          = errors.New("invoice not found")
	ErrCustomerNotFound  = errors.New("customer not found")
	ErrNotDraft          = errors.New("only draft invoices can be deleted")
	ErrInvalidTransition = errors.New("invalid status transition")
)

// Filter narrows an invoice listing. IssueDate is matched against
// [From, To]; zero bounds are open. Limit 0 returns every match.
type Filter struct {
	Status     Status
	CustomerID string
	From       time.Time
	To         time.Time
	Limit      int
	Offset     int
}

// Match reports whether inv passes the filter, ignoring paging.
func (f Filter) Match(inv Invoice) bool {
	if f.Status != "" && inv.Status != f.Status {
		return false
	}
	if f.CustomerID != "" && inv.CustomerID != f.CustomerID {
		return false
	}
	if !f.From.IsZero() && inv.IssueDate.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && inv.IssueDate.After(f.To) {
		return false
	}
	return true
}

// Store persists customers and invoices.
type Store interface {
	CreateCustomer(ctx context.Context, c Customer) error
	GetCustomer(ctx context.Context, id string) (Customer, error)
	ListCustomers(ctx context.Context) ([]Customer, error)

	// CreateInvoice assigns the next number for the issue year and stores
	// the invoice with its items.
	CreateInvoice(ctx context.Context, inv *Invoice) error
	GetInvoice(ctx context.Context, id string) (Invoice, error)
	// ListInvoices orders by issue date then number, newest first, and
	// returns the total number of matches.
	ListInvoices(ctx context.Context, f Filter) ([]Invoice, int, error)
	// UpdateInvoice applies fn to the current invoice under a lock and
	// persists status, paid and updated timestamps.
	UpdateInvoice(ctx context.Context, id string, fn func(*Invoice) error) (Invoice, error)
	DeleteDraft(ctx context.Context, id string) error
	// MarkOverdue moves sent invoices due before dueBefore to overdue.
	MarkOverdue(ctx context.Context, dueBefore, at time.Time) (int, error)

	Ping(ctx context.Context) error
}
