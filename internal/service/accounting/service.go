// Package accounting implements customers, invoices and the accounting
// dashboard on top of an invoice.Store.
package accounting

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/phucdat/portal/backend/internal/metrics"
	"github.com/phucdat/portal/backend/internal/model/invoice"
)

// DefaultPaymentTerm is used when a draft has no due date.
const DefaultPaymentTerm = 30 * 24 * time.Hour

const (
	defaultListLimit = 50
	maxListLimit     = 200
	topCustomers     = 5
)

// ErrInvalidRange is returned when a date range ends before it starts or,
// for the dashboard, spans more than maxDashboardYears.
var ErrInvalidRange = errors.New("invalid date range")

var errRangeReversed = fmt.Errorf("%w: ends before it starts", ErrInvalidRange)

// ValidationError lists rejected input fields.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e.Fields[k])
	}
	return "invalid input: " + strings.Join(parts, ", ")
}

type validation map[string]string

func (v validation) check(ok bool, field, reason string) {
	if !ok {
		if _, exists := v[field]; !exists {
			v[field] = reason
		}
	}
}

func (v validation) err() error {
	if len(v) == 0 {
		return nil
	}
	return &ValidationError{Fields: v}
}

// CustomerInput is the data needed to register a customer.
type CustomerInput struct {
	Name    string `json:"name" validate:"required,max=200"`
	TaxCode string `json:"taxCode" validate:"omitempty,max=20"`
	Email   string `json:"email" validate:"omitempty,email"`
	Phone   string `json:"phone" validate:"omitempty,max=30"`
	Address string `json:"address" validate:"omitempty,max=500"`
}

// DraftItem is one requested invoice line.
type DraftItem struct {
	Description string `json:"description"`
	Quantity    int64  `json:"quantity"`
	UnitPrice   int64  `json:"unitPrice"`
}

// Draft is the data needed to create an invoice. Zero dates default to
// today and to the standard payment term.
type Draft struct {
	CustomerID string
	IssueDate  time.Time
	DueDate    time.Time
	VATRate    int
	Note       string
	Items      []DraftItem
}

// InvoicePage is one window of an invoice listing.
type InvoicePage struct {
	Items []invoice.Invoice `json:"items"`
	Total int               `json:"total"`
}

// Service runs accounting operations.
type Service struct {
	store  invoice.Store
	loc    *time.Location
	now    func() time.Time
	logger zerolog.Logger
}

// NewService builds a Service. loc decides calendar days; nil means UTC.
func NewService(store invoice.Store, loc *time.Location, logger zerolog.Logger) *Service {
	if loc == nil {
		loc = time.UTC
	}
	return &Service{store: store, loc: loc, now: time.Now, logger: logger}
}

// Location returns the business time zone.
func (s *Service) Location() *time.Location {
	return s.loc
}

// Ping checks the backing store.
func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// CreateCustomer registers a customer.
func (s *Service) CreateCustomer(ctx context.Context, in CustomerInput) (invoice.Customer, error) {
	c := invoice.Customer{
		ID:        uuid.NewString(),
		Name:      strings.TrimSpace(in.Name),
		TaxCode:   strings.TrimSpace(in.TaxCode),
		Email:     strings.ToLower(strings.TrimSpace(in.Email)),
		Phone:     strings.TrimSpace(in.Phone),
		Address:   strings.TrimSpace(in.Address),
		CreatedAt: s.now().UTC(),
	}

	v := validation{}
	v.check(c.Name != "", "name", "required")
	if err := v.err(); err != nil {
		return invoice.Customer{}, err
	}

	if err := s.store.CreateCustomer(ctx, c); err != nil {
		return invoice.Customer{}, err
	}
	s.logger.Info().Str("customer", c.ID).Msg("customer created")
	return c, nil
}

// GetCustomer returns one customer.
func (s *Service) GetCustomer(ctx context.Context, id string) (invoice.Customer, error) {
	return s.store.GetCustomer(ctx, id)
}

// ListCustomers returns every customer ordered by name.
func (s *Service) ListCustomers(ctx context.Context) ([]invoice.Customer, error) {
	return s.store.ListCustomers(ctx)
}

// CreateInvoice validates d, computes its totals and stores it as a draft
// with the next number of its issue year.
func (s *Service) CreateInvoice(ctx context.Context, d Draft) (invoice.Invoice, error) {
	now := s.now().UTC()
	if d.IssueDate.IsZero() {
		d.IssueDate = now
	}
	issue := invoice.Date(d.IssueDate, s.loc)
	due := issue.Add(DefaultPaymentTerm)
	if !d.DueDate.IsZero() {
		due = invoice.Date(d.DueDate, s.loc)
	}

	v := validation{}
	v.check(strings.TrimSpace(d.CustomerID) != "", "customerId", "required")
	v.check(invoice.ValidVATRate(d.VATRate), "vatRate", "must be one of 0, 5, 8, 10")
	v.check(!due.Before(issue), "dueDate", "must not be before issueDate")
	v.check(len(d.Items) > 0, "items", "at least one item is required")
	for i, item := range d.Items {
		field := fmt.Sprintf("items[%d]", i)
		v.check(strings.TrimSpace(item.Description) != "", field+".description", "required")
		v.check(item.Quantity > 0, field+".quantity", "must be positive")
		v.check(item.UnitPrice >= 0, field+".unitPrice", "must not be negative")
		if item.Quantity > 0 && item.UnitPrice >= 0 {
			_, ok := invoice.LineAmount(item.Quantity, item.UnitPrice)
			v.check(ok, field, "amount too large")
		}
	}
	if err := v.err(); err != nil {
		return invoice.Invoice{}, err
	}

	customer, err := s.store.GetCustomer(ctx, d.CustomerID)
	if err != nil {
		return invoice.Invoice{}, err
	}

	inv := invoice.Invoice{
		ID:           uuid.NewString(),
		CustomerID:   customer.ID,
		CustomerName: customer.Name,
		IssueDate:    issue,
		DueDate:      due,
		Status:       invoice.StatusDraft,
		Currency:     invoice.Currency,
		VATRate:      d.VATRate,
		Note:         strings.TrimSpace(d.Note),
		Items:        make([]invoice.Item, 0, len(d.Items)),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	for _, item := range d.Items {
		inv.Items = append(inv.Items, invoice.Item{
			ID:          uuid.NewString(),
			Description: strings.TrimSpace(item.Description),
			Quantity:    item.Quantity,
			UnitPrice:   item.UnitPrice,
		})
	}
	if err := inv.ComputeTotals(); err != nil {
		return invoice.Invoice{}, &ValidationError{Fields: map[string]string{"items": "invoice total too large"}}
	}

	if err := s.store.CreateInvoice(ctx, &inv); err != nil {
		return invoice.Invoice{}, err
	}

	metrics.RecordInvoiceCreated()
	s.logger.Info().Str("invoice", inv.ID).Str("number", inv.Number).Int64("total", inv.Total).Msg("invoice created")
	return inv, nil
}

// GetInvoice returns one invoice with its items.
func (s *Service) GetInvoice(ctx context.Context, id string) (invoice.Invoice, error) {
	return s.store.GetInvoice(ctx, id)
}

// ListInvoices returns a page of invoices, newest first.
func (s *Service) ListInvoices(ctx context.Context, f invoice.Filter) (InvoicePage, error) {
	if f.Status != "" && !f.Status.Valid() {
		return InvoicePage{}, &ValidationError{Fields: map[string]string{"status": "unknown status"}}
	}
	if !f.From.IsZero() && !f.To.IsZero() && f.To.Before(f.From) {
		return InvoicePage{}, errRangeReversed
	}
	if f.Limit <= 0 {
		f.Limit = defaultListLimit
	}
	if f.Limit > maxListLimit {
		f.Limit = maxListLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}

	items, total, err := s.store.ListInvoices(ctx, f)
	if err != nil {
		return InvoicePage{}, err
	}
	return InvoicePage{Items: items, Total: total}, nil
}

// UpdateStatus moves an invoice along its lifecycle.
func (s *Service) UpdateStatus(ctx context.Context, id string, status invoice.Status, at time.Time) (invoice.Invoice, error) {
	if !status.Valid() {
		return invoice.Invoice{}, &ValidationError{Fields: map[string]string{"status": "unknown status"}}
	}
	if at.IsZero() {
		at = s.now()
	}

	inv, err := s.store.UpdateInvoice(ctx, id, func(inv *invoice.Invoice) error {
		return inv.Transition(status, at.UTC())
	})
	if err != nil {
		return invoice.Invoice{}, err
	}
	s.logger.Info().Str("invoice", inv.ID).Str("status", string(inv.Status)).Msg("invoice status changed")
	return inv, nil
}

// DeleteInvoice removes a draft invoice.
func (s *Service) DeleteInvoice(ctx context.Context, id string) error {
	if err := s.store.DeleteDraft(ctx, id); err != nil {
		return err
	}
	s.logger.Info().Str("invoice", id).Msg("draft invoice deleted")
	return nil
}

// MarkOverdue moves every sent invoice due before today to overdue.
func (s *Service) MarkOverdue(ctx context.Context, now time.Time) (int, error) {
	cutoff := invoice.Date(now, s.loc)
	n, err := s.store.MarkOverdue(ctx, cutoff, now.UTC())
	if err != nil {
		return 0, err
	}
	metrics.RecordInvoicesOverdue(n)
	if n > 0 {
		s.logger.Info().Int("count", n).Time("due_before", cutoff).Msg("invoices marked overdue")
	}
	return n, nil
}
