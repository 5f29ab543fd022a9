package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/code-and-effect/effective-qb-sync/internal/domain"
)

const orderColumns = `id, public_id, billing_first_name, billing_last_name,
	billing_address1, billing_address2, billing_city, billing_postal_code,
	billing_phone, billing_email, purchased_at, tax_total_cents, sync_status`

// PurchasedUnsynced returns purchased orders that no Finished request covers
// yet, hydrated with lines and resolved item names, ordered by id ascending.
func (s *Store) PurchasedUnsynced(ctx context.Context, before *time.Time, ids []int64) ([]domain.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders o
		WHERE NOT EXISTS (
			SELECT 1 FROM qb_requests r WHERE r.order_id = o.id AND r.state = ?
		)`
	args := []interface{}{string(domain.RequestFinished)}

	if before != nil {
		query += ` AND o.purchased_at < ?`
		args = append(args, before.UTC())
	}
	if len(ids) > 0 {
		query += ` AND o.id IN (?` + strings.Repeat(", ?", len(ids)-1) + `)`
		for _, id := range ids {
			args = append(args, id)
		}
	}
	query += ` ORDER BY o.id`

	rows, err := s.read.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("select unsynced orders: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	var orders []domain.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		orders = append(orders, *o)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range orders {
		lines, err := s.linesForOrder(ctx, orders[i].ID)
		if err != nil {
			return nil, err
		}
		orders[i].Lines = lines
	}
	return orders, nil
}

func (s *Store) OrderByID(ctx context.Context, id int64) (*domain.Order, error) {
	row := s.read.QueryRowContext(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE id = ?`, id)

	o, err := scanOrder(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound("order %d not found", id)
		}
		return nil, fmt.Errorf("select order %d: %w", id, err)
	}

	o.Lines, err = s.linesForOrder(ctx, id)
	if err != nil {
		return nil, err
	}
	return o, nil
}

// SetName creates or updates the QuickBooks item-name mapping for a line.
func (s *Store) SetName(ctx context.Context, orderLineID int64, name string) error {
	if name == "" {
		return domain.ErrValidation("item name must not be empty")
	}

	var exists int
	err := s.read.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM order_lines WHERE id = ?`, orderLineID).Scan(&exists)
	if err != nil {
		return fmt.Errorf("check order line %d: %w", orderLineID, err)
	}
	if exists == 0 {
		return domain.ErrNotFound("order line %d not found", orderLineID)
	}

	now := time.Now().UTC()
	_, err = s.write.ExecContext(ctx,
		`INSERT INTO qb_order_items (order_line_id, name, created_at, updated_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT (order_line_id) DO UPDATE SET name = excluded.name, updated_at = excluded.updated_at`,
		orderLineID, name, now, now)
	if err != nil {
		return fmt.Errorf("set item name for line %d: %w", orderLineID, err)
	}
	return nil
}

// linesForOrder loads an order's lines with the stored mapping name first,
// falling back to the configured name map keyed by the line's site name.
func (s *Store) linesForOrder(ctx context.Context, orderID int64) ([]domain.OrderLine, error) {
	rows, err := s.read.QueryContext(ctx,
		`SELECT ol.id, ol.order_id, ol.name, ol.subtotal_cents, COALESCE(qoi.name, '')
		 FROM order_lines ol
		 LEFT JOIN qb_order_items qoi ON qoi.order_line_id = ol.id
		 WHERE ol.order_id = ?
		 ORDER BY ol.id`, orderID)
	if err != nil {
		return nil, fmt.Errorf("select lines for order %d: %w", orderID, err)
	}
	defer rows.Close() //nolint:errcheck

	var lines []domain.OrderLine
	for rows.Next() {
		var l domain.OrderLine
		if err := rows.Scan(&l.ID, &l.OrderID, &l.Name, &l.SubtotalCents, &l.QBItemName); err != nil {
			return nil, fmt.Errorf("scan order line: %w", err)
		}
		if l.QBItemName == "" && s.itemNameMap != nil {
			l.QBItemName = s.itemNameMap[l.Name]
		}
		lines = append(lines, l)
	}
	return lines, rows.Err()
}

func scanOrder(row rowScanner) (*domain.Order, error) {
	var o domain.Order
	var status string

	err := row.Scan(&o.ID, &o.PublicID, &o.BillingFirstName, &o.BillingLastName,
		&o.BillingAddress1, &o.BillingAddress2, &o.BillingCity,
		&o.BillingPostalCode, &o.BillingPhone, &o.BillingEmail,
		&o.PurchasedAt, &o.TaxTotalCents, &status)
	if err != nil {
		return nil, err
	}
	o.SyncStatus = domain.SyncStatus(status)
	return &o, nil
}
