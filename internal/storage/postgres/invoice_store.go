package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/phucdat/portal/backend/internal/model/invoice"
)

const foreignKeyViolation = "23503"

const customerColumns = `id, name, tax_code, email, phone, address, created_at`

const invoiceColumns = `id, number, seq, customer_id, customer_name, issue_date, due_date, status,
	currency, subtotal, vat_rate, vat_amount, total, note, paid_at, created_at, updated_at`

// InvoiceStore implements invoice.Store on PostgreSQL.
type InvoiceStore struct {
	db *sqlx.DB
}

var _ invoice.Store = (*InvoiceStore)(nil)

// NewInvoiceStore wraps an open database handle.
func NewInvoiceStore(db *sqlx.DB) *InvoiceStore {
	return &InvoiceStore{db: db}
}

type itemRow struct {
	InvoiceID string `db:"invoice_id"`
	invoice.Item
}

func (s *InvoiceStore) CreateCustomer(ctx context.Context, c invoice.Customer) error {
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO customers (`+customerColumns+`)
		VALUES (:id, :name, :tax_code, :email, :phone, :address, :created_at)
	`, c)
	if err != nil {
		return fmt.Errorf("insert customer: %w", err)
	}
	return nil
}

func (s *InvoiceStore) GetCustomer(ctx context.Context, id string) (invoice.Customer, error) {
	var c invoice.Customer
	err := s.db.GetContext(ctx, &c, `SELECT `+customerColumns+` FROM customers WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return invoice.Customer{}, invoice.ErrCustomerNotFound
	}
	if err != nil {
		return invoice.Customer{}, fmt.Errorf("get customer: %w", err)
	}
	return c, nil
}

func (s *InvoiceStore) ListCustomers(ctx context.Context) ([]invoice.Customer, error) {
	customers := []invoice.Customer{}
	if err := s.db.SelectContext(ctx, &customers, `SELECT `+customerColumns+` FROM customers ORDER BY name, id`); err != nil {
		return nil, fmt.Errorf("list customers: %w", err)
	}
	return customers, nil
}

func (s *InvoiceStore) CreateInvoice(ctx context.Context, inv *invoice.Invoice) error {
	return s.inTx(ctx, func(tx *sqlx.Tx) error {
		year := inv.IssueDate.Year()
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO invoice_counters (year, last_seq) VALUES ($1, 0)
			ON CONFLICT (year) DO NOTHING
		`, year); err != nil {
			return fmt.Errorf("ensure counter: %w", err)
		}

		var seq int
		if err := tx.GetContext(ctx, &seq, `SELECT last_seq FROM invoice_counters WHERE year = $1 FOR UPDATE`, year); err != nil {
			return fmt.Errorf("lock counter: %w", err)
		}
		seq++
		if _, err := tx.ExecContext(ctx, `UPDATE invoice_counters SET last_seq = $2 WHERE year = $1`, year, seq); err != nil {
			return fmt.Errorf("bump counter: %w", err)
		}
		inv.Seq = seq
		inv.Number = invoice.FormatNumber(year, seq)

		_, err := tx.NamedExecContext(ctx, `
			INSERT INTO invoices (`+invoiceColumns+`)
			VALUES (:id, :number, :seq, :customer_id, :customer_name, :issue_date, :due_date, :status,
				:currency, :subtotal, :vat_rate, :vat_amount, :total, :note, :paid_at, :created_at, :updated_at)
		`, inv)
		if err != nil {
			var pqErr *pq.Error
			if errors.As(err, &pqErr) && pqErr.Code == foreignKeyViolation {
				return invoice.ErrCustomerNotFound
			}
			return fmt.Errorf("insert invoice: %w", err)
		}

		for i, item := range inv.Items {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO invoice_items (id, invoice_id, position, description, quantity, unit_price, amount)
				VALUES ($1, $2, $3, $4, $5, $6, $7)
			`, item.ID, inv.ID, i, item.Description, item.Quantity, item.UnitPrice, item.Amount); err != nil {
				return fmt.Errorf("insert invoice item: %w", err)
			}
		}
		return nil
	})
}

func (s *InvoiceStore) GetInvoice(ctx context.Context, id string) (invoice.Invoice, error) {
	return s.getInvoice(ctx, s.db, id, false)
}

func (s *InvoiceStore) getInvoice(ctx context.Context, q sqlx.QueryerContext, id string, lock bool) (invoice.Invoice, error) {
	query := `SELECT ` + invoiceColumns + ` FROM invoices WHERE id = $1`
	if lock {
		query += ` FOR UPDATE`
	}

	var inv invoice.Invoice
	err := sqlx.GetContext(ctx, q, &inv, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return invoice.Invoice{}, invoice.ErrNotFound
	}
	if err != nil {
		return invoice.Invoice{}, fmt.Errorf("get invoice: %w", err)
	}

	items := []invoice.Item{}
	if err := sqlx.SelectContext(ctx, q, &items, `
		SELECT id, description, quantity, unit_price, amount
		FROM invoice_items WHERE invoice_id = $1 ORDER BY position
	`, id); err != nil {
		return invoice.Invoice{}, fmt.Errorf("get invoice items: %w", err)
	}
	inv.Items = items
	return inv, nil
}

func (s *InvoiceStore) ListInvoices(ctx context.Context, f invoice.Filter) ([]invoice.Invoice, int, error) {
	var (
		where []string
		args  []interface{}
	)
	add := func(clause string, arg interface{}) {
		args = append(args, arg)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}
	if f.Status != "" {
		add("status = $%d", string(f.Status))
	}
	if f.CustomerID != "" {
		add("customer_id = $%d", f.CustomerID)
	}
	if !f.From.IsZero() {
		add("issue_date >= $%d", f.From)
	}
	if !f.To.IsZero() {
		add("issue_date <= $%d", f.To)
	}

	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := s.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM invoices`+clause, args...); err != nil {
		return nil, 0, fmt.Errorf("count invoices: %w", err)
	}

	query := `SELECT ` + invoiceColumns + ` FROM invoices` + clause + ` ORDER BY issue_date DESC, seq DESC`
	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if f.Offset > 0 {
		args = append(args, f.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	invoices := []invoice.Invoice{}
	if err := s.db.SelectContext(ctx, &invoices, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list invoices: %w", err)
	}
	if err := s.attachItems(ctx, invoices); err != nil {
		return nil, 0, err
	}
	return invoices, total, nil
}

func (s *InvoiceStore) attachItems(ctx context.Context, invoices []invoice.Invoice) error {
	if len(invoices) == 0 {
		return nil
	}

	ids := make([]string, len(invoices))
	for i, inv := range invoices {
		ids[i] = inv.ID
	}

	query, args, err := sqlx.In(`
		SELECT invoice_id, id, description, quantity, unit_price, amount
		FROM invoice_items WHERE invoice_id IN (?) ORDER BY invoice_id, position
	`, ids)
	if err != nil {
		return fmt.Errorf("build item query: %w", err)
	}

	var rows []itemRow
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(query), args...); err != nil {
		return fmt.Errorf("list invoice items: %w", err)
	}

	byInvoice := make(map[string][]invoice.Item, len(invoices))
	for _, row := range rows {
		byInvoice[row.InvoiceID] = append(byInvoice[row.InvoiceID], row.Item)
	}
	for i := range invoices {
		invoices[i].Items = byInvoice[invoices[i].ID]
		if invoices[i].Items == nil {
			invoices[i].Items = []invoice.Item{}
		}
	}
	return nil
}

func (s *InvoiceStore) UpdateInvoice(ctx context.Context, id string, fn func(*invoice.Invoice) error) (invoice.Invoice, error) {
	var updated invoice.Invoice
	err := s.inTx(ctx, func(tx *sqlx.Tx) error {
		inv, err := s.getInvoice(ctx, tx, id, true)
		if err != nil {
			return err
		}
		if err := fn(&inv); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE invoices SET status = $2, paid_at = $3, updated_at = $4 WHERE id = $1
		`, inv.ID, string(inv.Status), inv.PaidAt, inv.UpdatedAt); err != nil {
			return fmt.Errorf("update invoice: %w", err)
		}
		updated = inv
		return nil
	})
	if err != nil {
		return invoice.Invoice{}, err
	}
	return updated, nil
}

func (s *InvoiceStore) DeleteDraft(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM invoices WHERE id = $1 AND status = $2`, id, string(invoice.StatusDraft))
	if err != nil {
		return fmt.Errorf("delete invoice: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}

	var status string
	err = s.db.GetContext(ctx, &status, `SELECT status FROM invoices WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return invoice.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("check invoice: %w", err)
	}
	return invoice.ErrNotDraft
}

func (s *InvoiceStore) MarkOverdue(ctx context.Context, dueBefore, at time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE invoices SET status = $1, updated_at = $2
		WHERE status = $3 AND due_date < $4
	`, string(invoice.StatusOverdue), at, string(invoice.StatusSent), dueBefore)
	if err != nil {
		return 0, fmt.Errorf("mark overdue: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("mark overdue: %w", err)
	}
	return int(n), nil
}

func (s *InvoiceStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *InvoiceStore) inTx(ctx context.Context, fn func(*sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}
