package invoice

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// Currency is the only currency invoices are issued in.
const Currency = "VND"

// Status is the lifecycle state of an invoice.
type Status string

const (
	StatusDraft     Status = "draft"
	StatusSent      Status = "sent"
	StatusPaid      Status = "paid"
	StatusOverdue   Status = "overdue"
	StatusCancelled Status = "cancelled"
)

var transitions = map[Status][]Status{
	StatusDraft:   {StatusSent, StatusCancelled},
	StatusSent:    {StatusPaid, StatusOverdue, StatusCancelled},
	StatusOverdue: {StatusPaid, StatusCancelled},
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusDraft, StatusSent, StatusPaid, StatusOverdue, StatusCancelled:
		return true
	}
	return false
}

// CanTransition reports whether an invoice in s may move to next.
func (s Status) CanTransition(next Status) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Terminal reports whether no transition leaves s.
func (s Status) Terminal() bool {
	return len(transitions[s]) == 0
}

// AllowedVATRates lists the Vietnamese VAT rates in percent.
var AllowedVATRates = []int{0, 5, 8, 10}

// ValidVATRate reports whether rate is one of AllowedVATRates.
func ValidVATRate(rate int) bool {
	for _, r := range AllowedVATRates {
		if r == rate {
			return true
		}
	}
	return false
}

// Customer is a billed party.
type Customer struct {
	ID        string    `json:"id" db:"id"`
	Name      string    `json:"name" db:"name"`
	TaxCode   string    `json:"taxCode,omitempty" db:"tax_code"`
	Email     string    `json:"email,omitempty" db:"email"`
	Phone     string    `json:"phone,omitempty" db:"phone"`
	Address   string    `json:"address,omitempty" db:"address"`
	CreatedAt time.Time `json:"createdAt" db:"created_at"`
}

// Item is one invoice line. Money amounts are whole đồng.
type Item struct {
	ID          string `json:"id" db:"id"`
	Description string `json:"description" db:"description"`
	Quantity    int64  `json:"quantity" db:"quantity"`
	UnitPrice   int64  `json:"unitPrice" db:"unit_price"`
	Amount      int64  `json:"amount" db:"amount"`
}

// Invoice is a bill sent to a customer. IssueDate and DueDate are calendar
// dates held as midnight UTC.
type Invoice struct {
	ID     string `json:"id" db:"id"`
	Number string `json:"number" db:"number"`
	// Seq is the per-year sequence behind Number; lists sort on it.
	Seq          int        `json:"-" db:"seq"`
	CustomerID   string     `json:"customerId" db:"customer_id"`
	CustomerName string     `json:"customerName" db:"customer_name"`
	IssueDate    time.Time  `json:"issueDate" db:"issue_date"`
	DueDate      time.Time  `json:"dueDate" db:"due_date"`
	Status       Status     `json:"status" db:"status"`
	Currency     string     `json:"currency" db:"currency"`
	Items        []Item     `json:"items"`
	Subtotal     int64      `json:"subtotal" db:"subtotal"`
	VATRate      int        `json:"vatRate" db:"vat_rate"`
	VATAmount    int64      `json:"vatAmount" db:"vat_amount"`
	Total        int64      `json:"total" db:"total"`
	Note         string     `json:"note,omitempty" db:"note"`
	PaidAt       *time.Time `json:"paidAt,omitempty" db:"paid_at"`
	CreatedAt    time.Time  `json:"createdAt" db:"created_at"`
	UpdatedAt    time.Time  `json:"updatedAt" db:"updated_at"`
}

// ErrAmountOverflow is returned when an amount does not fit in int64 đồng.
var ErrAmountOverflow = errors.New("amount out of range")

// LineAmount returns quantity*unitPrice, or false when either is negative
// or the product overflows.
func LineAmount(quantity, unitPrice int64) (int64, bool) {
	if quantity < 0 || unitPrice < 0 {
		return 0, false
	}
	if quantity != 0 && unitPrice > math.MaxInt64/quantity {
		return 0, false
	}
	return quantity * unitPrice, true
}

func addAmount(a, b int64) (int64, bool) {
	if b > math.MaxInt64-a {
		return 0, false
	}
	return a + b, true
}

// ComputeTotals fills the item amounts and the invoice totals. On overflow
// the invoice is left untouched.
func (inv *Invoice) ComputeTotals() error {
	amounts := make([]int64, len(inv.Items))
	var subtotal int64
	for i, item := range inv.Items {
		amount, ok := LineAmount(item.Quantity, item.UnitPrice)
		if !ok {
			return fmt.Errorf("%w: item %d", ErrAmountOverflow, i)
		}
		if subtotal, ok = addAmount(subtotal, amount); !ok {
			return fmt.Errorf("%w: subtotal", ErrAmountOverflow)
		}
		amounts[i] = amount
	}

	vat := VAT(subtotal, inv.VATRate)
	total, ok := addAmount(subtotal, vat)
	if !ok {
		return fmt.Errorf("%w: total", ErrAmountOverflow)
	}

	for i := range inv.Items {
		inv.Items[i].Amount = amounts[i]
	}
	inv.Subtotal = subtotal
	inv.VATAmount = vat
	inv.Total = total
	return nil
}

// VAT returns subtotal*rate/100 rounded half up, for a non-negative
// subtotal and one of AllowedVATRates. It is split so the multiplication
// cannot overflow.
func VAT(subtotal int64, rate int) int64 {
	r := int64(rate)
	return subtotal/100*r + (subtotal%100*r+50)/100
}

// Transition moves the invoice to next at the given time.
func (inv *Invoice) Transition(next Status, at time.Time) error {
	if !inv.Status.CanTransition(next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, inv.Status, next)
	}
	inv.Status = next
	inv.UpdatedAt = at
	if next == StatusPaid {
		paid := at
		inv.PaidAt = &paid
	}
	return nil
}

// FormatNumber renders the invoice number for a year and sequence.
func FormatNumber(year, seq int) string {
	return fmt.Sprintf("PD-%d-%04d", year, seq)
}

// Date truncates t to its calendar date in loc, expressed as midnight UTC.
func Date(t time.Time, loc *time.Location) time.Time {
	if loc != nil {
		t = t.In(loc)
	}
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
