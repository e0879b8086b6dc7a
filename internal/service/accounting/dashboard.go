package accounting

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/phucdat/portal/backend/internal/model/invoice"
)

// MonthTotal aggregates one calendar month.
type MonthTotal struct {
	Month    string `json:"month"`
	Invoiced int64  `json:"invoiced"`
	Paid     int64  `json:"paid"`
}

// CustomerTotal aggregates one customer.
type CustomerTotal struct {
	CustomerID   string `json:"customerId"`
	CustomerName string `json:"customerName"`
	Invoiced     int64  `json:"invoiced"`
	InvoiceCount int    `json:"invoiceCount"`
}

// Summary is the accounting dashboard for a date range.
type Summary struct {
	From          time.Time       `json:"from"`
	To            time.Time       `json:"to"`
	InvoiceCount  int             `json:"invoiceCount"`
	InvoicedTotal int64           `json:"invoicedTotal"`
	PaidTotal     int64           `json:"paidTotal"`
	Outstanding   int64           `json:"outstanding"`
	OverdueCount  int             `json:"overdueCount"`
	OverdueTotal  int64           `json:"overdueTotal"`
	ByMonth       []MonthTotal    `json:"byMonth"`
	TopCustomers  []CustomerTotal `json:"topCustomers"`
}

// maxDashboardYears bounds the dashboard range, and with it the month buckets.
const maxDashboardYears = 10

// CurrentYear returns the first and last day of the current year.
func (s *Service) CurrentYear() (time.Time, time.Time) {
	year := invoice.Date(s.now(), s.loc).Year()
	return time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC),
		time.Date(year, time.December, 31, 0, 0, 0, 0, time.UTC)
}

// Dashboard summarises invoices issued between from and to inclusive.
// Drafts and cancelled invoices are not counted.
func (s *Service) Dashboard(ctx context.Context, from, to time.Time) (Summary, error) {
	if from.IsZero() || to.IsZero() {
		defFrom, defTo := s.CurrentYear()
		if from.IsZero() {
			from = defFrom
		}
		if to.IsZero() {
			to = defTo
		}
	}
	from, to = invoice.Date(from, nil), invoice.Date(to, nil)
	if to.Before(from) {
		return Summary{}, errRangeReversed
	}
	if !to.Before(from.AddDate(maxDashboardYears, 0, 0)) {
		return Summary{}, fmt.Errorf("%w: longer than %d years", ErrInvalidRange, maxDashboardYears)
	}

	invoices, _, err := s.store.ListInvoices(ctx, invoice.Filter{From: from, To: to})
	if err != nil {
		return Summary{}, err
	}

	summary := Summary{From: from, To: to}
	months := monthBuckets(from, to)
	index := make(map[string]int, len(months))
	for i, m := range months {
		index[m.Month] = i
	}
	customers := make(map[string]*CustomerTotal)

	for _, inv := range invoices {
		if inv.Status == invoice.StatusDraft || inv.Status == invoice.StatusCancelled {
			continue
		}

		summary.InvoiceCount++
		summary.InvoicedTotal += inv.Total

		month := &MonthTotal{}
		if i, ok := index[inv.IssueDate.Format("2006-01")]; ok {
			month = &months[i]
		}
		month.Invoiced += inv.Total

		switch inv.Status {
		case invoice.StatusPaid:
			summary.PaidTotal += inv.Total
			month.Paid += inv.Total
		case invoice.StatusOverdue:
			summary.OverdueCount++
			summary.OverdueTotal += inv.Total
			summary.Outstanding += inv.Total
		case invoice.StatusSent:
			summary.Outstanding += inv.Total
		}

		ct, ok := customers[inv.CustomerID]
		if !ok {
			ct = &CustomerTotal{CustomerID: inv.CustomerID, CustomerName: inv.CustomerName}
			customers[inv.CustomerID] = ct
		}
		ct.Invoiced += inv.Total
		ct.InvoiceCount++
	}

	summary.ByMonth = months
	summary.TopCustomers = rankCustomers(customers, topCustomers)
	return summary, nil
}

func monthBuckets(from, to time.Time) []MonthTotal {
	var months []MonthTotal
	cur := time.Date(from.Year(), from.Month(), 1, 0, 0, 0, 0, time.UTC)
	for !cur.After(to) {
		months = append(months, MonthTotal{Month: cur.Format("2006-01")})
		cur = cur.AddDate(0, 1, 0)
	}
	return months
}

func rankCustomers(customers map[string]*CustomerTotal, n int) []CustomerTotal {
	ranked := make([]CustomerTotal, 0, len(customers))
	for _, ct := range customers {
		ranked = append(ranked, *ct)
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].Invoiced != ranked[j].Invoiced {
			return ranked[i].Invoiced > ranked[j].Invoiced
		}
		return ranked[i].CustomerName < ranked[j].CustomerName
	})
	if len(ranked) > n {
		ranked = ranked[:n]
	}
	return ranked
}
