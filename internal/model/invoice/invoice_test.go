package invoice

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestComputeTotals(t *testing.T) {
	inv := Invoice{
		VATRate: 8,
		Items: []Item{
			{Description: "Thép hộp 40x80", Quantity: 3, UnitPrice: 125_000},
			{Description: "Vận chuyển", Quantity: 1, UnitPrice: 56_250},
		},
	}
	require.NoError(t, inv.ComputeTotals())

	assert.Equal(t, int64(375_000), inv.Items[0].Amount)
	assert.Equal(t, int64(431_250), inv.Subtotal)
	assert.Equal(t, int64(34_500), inv.VATAmount)
	assert.Equal(t, int64(465_750), inv.Total)
}

func TestComputeTotalsRejectsOverflow(t *testing.T) {
	cases := map[string][]Item{
		"line":     {{Description: "x", Quantity: 1 << 32, UnitPrice: 1 << 32}},
		"subtotal": {{Description: "a", Quantity: 1, UnitPrice: math.MaxInt64}, {Description: "b", Quantity: 1, UnitPrice: 1}},
		"total":    {{Description: "a", Quantity: 1, UnitPrice: math.MaxInt64 - 10}},
	}
	for name, items := range cases {
		t.Run(name, func(t *testing.T) {
			inv := Invoice{VATRate: 10, Items: items}
			err := inv.ComputeTotals()
			assert.ErrorIs(t, err, ErrAmountOverflow)
			assert.Zero(t, inv.Total)
			assert.Zero(t, inv.Items[0].Amount)
		})
	}
}

func TestLineAmount(t *testing.T) {
	amount, ok := LineAmount(3, 125_000)
	assert.True(t, ok)
	assert.Equal(t, int64(375_000), amount)

	amount, ok = LineAmount(0, math.MaxInt64)
	assert.True(t, ok)
	assert.Zero(t, amount)

	_, ok = LineAmount(math.MaxInt64/2+1, 2)
	assert.False(t, ok)
	_, ok = LineAmount(-1, 5)
	assert.False(t, ok)
}

func TestVATLargeSubtotal(t *testing.T) {
	assert.Equal(t, int64(922337203685477581), VAT(math.MaxInt64, 10))
	assert.Equal(t, int64(737869762948382065), VAT(math.MaxInt64, 8))
}

func TestVATRoundsHalfUp(t *testing.T) {
	assert.Equal(t, int64(1), VAT(10, 5))  // 0.5
	assert.Equal(t, int64(0), VAT(9, 5))   // 0.45
	assert.Equal(t, int64(2), VAT(15, 10)) // 1.5
	assert.Equal(t, int64(0), VAT(999, 0))
}

func TestStatusTransitions(t *testing.T) {
	cases := []struct {
		from, to Status
		ok       bool
	}{
		{StatusDraft, StatusSent, true},
		{StatusDraft, StatusCancelled, true},
		{StatusDraft, StatusPaid, false},
		{StatusSent, StatusPaid, true},
		{StatusSent, StatusOverdue, true},
		{StatusSent, StatusDraft, false},
		{StatusOverdue, StatusPaid, true},
		{StatusOverdue, StatusSent, false},
		{StatusPaid, StatusCancelled, false},
		{StatusCancelled, StatusDraft, false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.ok, tc.from.CanTransition(tc.to), "%s -> %s", tc.from, tc.to)
	}
	assert.True(t, StatusPaid.Terminal())
	assert.True(t, StatusCancelled.Terminal())
	assert.False(t, StatusSent.Terminal())
}

func TestTransitionToPaidSetsPaidAt(t *testing.T) {
	at := time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC)
	inv := Invoice{Status: StatusSent}

	require.NoError(t, inv.Transition(StatusPaid, at))
	require.NotNil(t, inv.PaidAt)
	assert.Equal(t, at, *inv.PaidAt)
	assert.Equal(t, at, inv.UpdatedAt)

	assert.ErrorIs(t, inv.Transition(StatusSent, at), ErrInvalidTransition)
}

func TestDateUsesLocation(t *testing.T) {
	loc := time.FixedZone("ICT", 7*3600)
	late := time.Date(2026, 1, 31, 20, 0, 0, 0, time.UTC)
	assert.Equal(t, day(2026, 2, 1), Date(late, loc))
	assert.Equal(t, day(2026, 1, 31), Date(late, nil))
}

func TestMemoryStoreNumbersPerYear(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	require.NoError(t, store.CreateCustomer(ctx, Customer{ID: "kh-1", Name: "Công ty An Phát"}))

	create := func(id string, issued time.Time) Invoice {
		inv := Invoice{ID: id, CustomerID: "kh-1", IssueDate: issued, Status: StatusDraft}
		require.NoError(t, store.CreateInvoice(ctx, &inv))
		return inv
	}

	assert.Equal(t, "PD-2025-0001", create("a", day(2025, 12, 30)).Number)
	assert.Equal(t, "PD-2026-0001", create("b", day(2026, 1, 2)).Number)
	assert.Equal(t, "PD-2026-0002", create("c", day(2026, 1, 2)).Number)

	inv := Invoice{ID: "d", CustomerID: "missing", IssueDate: day(2026, 1, 3)}
	assert.ErrorIs(t, store.CreateInvoice(ctx, &inv), ErrCustomerNotFound)

	list, total, err := store.ListInvoices(ctx, Filter{From: day(2026, 1, 1)})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	assert.Equal(t, "PD-2026-0002", list[0].Number)

	list, total, err = store.ListInvoices(ctx, Filter{Limit: 1, Offset: 1})
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	require.Len(t, list, 1)
	assert.Equal(t, "PD-2026-0001", list[0].Number)
}

func TestMemoryStoreOrdersBySequence(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	require.NoError(t, store.CreateCustomer(ctx, Customer{ID: "kh-1"}))
	store.counters[2025] = 9998

	for _, id := range []string{"a", "b"} {
		inv := Invoice{ID: id, CustomerID: "kh-1", IssueDate: day(2025, 12, 31), Status: StatusDraft}
		require.NoError(t, store.CreateInvoice(ctx, &inv))
	}

	list, _, err := store.ListInvoices(ctx, Filter{})
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "PD-2025-10000", list[0].Number)
	assert.Equal(t, "PD-2025-9999", list[1].Number)
}

func TestMemoryStoreUpdateDeleteAndOverdue(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	require.NoError(t, store.CreateCustomer(ctx, Customer{ID: "kh-1"}))

	for _, id := range []string{"a", "b"} {
		inv := Invoice{ID: id, CustomerID: "kh-1", IssueDate: day(2026, 3, 1), DueDate: day(2026, 3, 31), Status: StatusDraft}
		require.NoError(t, store.CreateInvoice(ctx, &inv))
	}

	now := time.Date(2026, 4, 2, 3, 0, 0, 0, time.UTC)
	sent, err := store.UpdateInvoice(ctx, "a", func(inv *Invoice) error {
		return inv.Transition(StatusSent, now)
	})
	require.NoError(t, err)
	assert.Equal(t, StatusSent, sent.Status)

	assert.ErrorIs(t, store.DeleteDraft(ctx, "a"), ErrNotDraft)
	assert.ErrorIs(t, store.DeleteDraft(ctx, "zzz"), ErrNotFound)

	n, err := store.MarkOverdue(ctx, day(2026, 4, 2), now)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := store.GetInvoice(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, StatusOverdue, got.Status)

	got, err = store.GetInvoice(ctx, "b")
	require.NoError(t, err)
	assert.Equal(t, StatusDraft, got.Status, "drafts never become overdue")

	require.NoError(t, store.DeleteDraft(ctx, "b"))
	_, err = store.GetInvoice(ctx, "b")
	assert.ErrorIs(t, err, ErrNotFound)
}
