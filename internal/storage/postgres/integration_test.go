package postgres

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phucdat/portal/backend/internal/config"
	"github.com/phucdat/portal/backend/internal/model/invoice"
)

func TestInvoiceStoreIntegration(t *testing.T) {
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set; skipping postgres integration test")
	}

	_, err := Migrate(dsn)
	require.NoError(t, err)

	ctx := context.Background()
	db, err := Open(ctx, config.DatabaseConfig{URL: dsn, MaxOpenConns: 4, MaxIdleConns: 2})
	require.NoError(t, err)
	defer db.Close()

	store := NewInvoiceStore(db)
	require.NoError(t, store.Ping(ctx))

	now := time.Now().UTC().Truncate(time.Second)
	customer := invoice.Customer{ID: uuid.NewString(), Name: "Integration KH", CreatedAt: now}
	require.NoError(t, store.CreateCustomer(ctx, customer))

	inv := &invoice.Invoice{
		ID:           uuid.NewString(),
		CustomerID:   customer.ID,
		CustomerName: customer.Name,
		IssueDate:    time.Date(2031, 1, 10, 0, 0, 0, 0, time.UTC),
		DueDate:      time.Date(2031, 1, 20, 0, 0, 0, 0, time.UTC),
		Status:       invoice.StatusDraft,
		Currency:     invoice.Currency,
		VATRate:      8,
		Items:        []invoice.Item{{ID: uuid.NewString(), Description: "Test", Quantity: 2, UnitPrice: 1000}},
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	require.NoError(t, inv.ComputeTotals())
	require.NoError(t, store.CreateInvoice(ctx, inv))
	assert.True(t, strings.HasPrefix(inv.Number, "PD-2031-"))

	got, err := store.GetInvoice(ctx, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, inv.Total, got.Total)
	require.Len(t, got.Items, 1)

	_, err = store.UpdateInvoice(ctx, inv.ID, func(i *invoice.Invoice) error {
		return i.Transition(invoice.StatusSent, now)
	})
	require.NoError(t, err)

	n, err := store.MarkOverdue(ctx, time.Date(2031, 2, 1, 0, 0, 0, 0, time.UTC), now)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, n, 1)

	assert.ErrorIs(t, store.DeleteDraft(ctx, inv.ID), invoice.ErrNotDraft)
}
