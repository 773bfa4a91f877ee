package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jeffsasaki/storefront/models"
)

// ErrConflict means a conditional write found the row in an unexpected state.
var ErrConflict = errors.New("conflicting update")

const orderColumns = `id, user_id, items, total_price, order_date, status, payment_status,
	stripe_checkout_session_id, customer_email`

type OrderFilter struct {
	UserID string
	Status models.OrderStatus
}

func scanOrder(row interface{ Scan(...interface{}) error }) (*models.Order, error) {
	var (
		o         models.Order
		items     []byte
		sessionID sql.NullString
	)
	if err := row.Scan(&o.ID, &o.UserID, &items, &o.TotalPrice, &o.OrderDate, &o.Status,
		&o.PaymentStatus, &sessionID, &o.CustomerEmail); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(items, &o.Items); err != nil {
		return nil, fmt.Errorf("failed to decode items of order %s: %w", o.ID, err)
	}
	o.StripeCheckoutSessionID = sessionID.String
	return &o, nil
}

func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// CreateOrder inserts a new order, normally a pending one created at checkout.
func (s *DB) CreateOrder(ctx context.Context, o *models.Order) error {
	items, err := json.Marshal(o.Items)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO orders (`+orderColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		o.ID, o.UserID, items, o.TotalPrice, o.OrderDate, o.Status, o.PaymentStatus,
		nullable(o.StripeCheckoutSessionID), o.CustomerEmail)
	if isUniqueViolation(err) {
		return fmt.Errorf("order %s: %w", o.ID, ErrDuplicate)
	}
	return err
}

// AttachSession records the gateway session on a still-pending order.
func (s *DB) AttachSession(ctx context.Context, orderID, sessionID string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE orders SET stripe_checkout_session_id = $1 WHERE id = $2 AND status = $3`,
		sessionID, orderID, models.OrderStatusPending)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

func (s *DB) FindOrderBySession(ctx context.Context, sessionID string) (*models.Order, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE stripe_checkout_session_id = $1`, sessionID)
	o, err := scanOrder(row)
	if err != nil {
		return nil, notFound(err)
	}
	return o, nil
}

// ConfirmPendingOrder overwrites a pending order with its fulfilled state. It
// reports false when the order is no longer pending or the session is already
// owned by another order, i.e. someone else fulfilled it first. A non-nil event
// is written to the outbox in the same transaction.
func (s *DB) ConfirmPendingOrder(ctx context.Context, o *models.Order, event *models.OutboxMessage) (bool, error) {
	items, err := json.Marshal(o.Items)
	if err != nil {
		return false, err
	}
	return s.writeOrder(ctx, event,
		`UPDATE orders SET items = $1, total_price = $2, status = $3, payment_status = $4,
			stripe_checkout_session_id = $5, customer_email = $6, order_date = $7
		WHERE id = $8 AND status = $9`,
		items, o.TotalPrice, o.Status, o.PaymentStatus, o.StripeCheckoutSessionID,
		o.CustomerEmail, o.OrderDate, o.ID, models.OrderStatusPending)
}

// InsertOrderIfAbsent inserts o unless an order with the same id or session
// already exists. It reports whether this call created the row; event, when
// given, is committed with it.
func (s *DB) InsertOrderIfAbsent(ctx context.Context, o *models.Order, event *models.OutboxMessage) (bool, error) {
	items, err := json.Marshal(o.Items)
	if err != nil {
		return false, err
	}
	return s.writeOrder(ctx, event,
		`INSERT INTO orders (`+orderColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT DO NOTHING`,
		o.ID, o.UserID, items, o.TotalPrice, o.OrderDate, o.Status, o.PaymentStatus,
		nullable(o.StripeCheckoutSessionID), o.CustomerEmail)
}

// writeOrder runs a conditional single-row order write. Only when it takes
// effect is event enqueued, and both commit or neither does.
func (s *DB) writeOrder(ctx context.Context, event *models.OutboxMessage, query string, args ...interface{}) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}

	res, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		tx.Rollback()
		if isUniqueViolation(err) {
			return false, nil
		}
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		tx.Rollback()
		return false, err
	}
	if n != 1 {
		tx.Rollback()
		return false, nil
	}

	if event != nil {
		if err := enqueueOutbox(ctx, tx, event); err != nil {
			tx.Rollback()
			return false, fmt.Errorf("failed to record order event: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return false, err
	}
	return true, nil
}

func (s *DB) GetOrder(ctx context.Context, id string) (*models.Order, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id)
	o, err := scanOrder(row)
	if err != nil {
		return nil, notFound(err)
	}
	return o, nil
}

// ListOrders returns orders newest first, optionally narrowed by owner and status.
func (s *DB) ListOrders(ctx context.Context, f OrderFilter) ([]models.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders`
	var (
		where []string
		args  []interface{}
	)
	if f.UserID != "" {
		args = append(args, f.UserID)
		where = append(where, fmt.Sprintf("user_id = $%d", len(args)))
	}
	if f.Status != "" {
		args = append(args, f.Status)
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY order_date DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	orders := []models.Order{}
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, *o)
	}
	return orders, rows.Err()
}

// TransitionOrderStatus moves an order from one status to another, failing with
// ErrConflict when the stored status is no longer from.
func (s *DB) TransitionOrderStatus(ctx context.Context, id string, from, to models.OrderStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE orders SET status = $1 WHERE id = $2 AND status = $3`, to, id, from)
	if err != nil {
		return err
	}
	if err := requireAffected(res); err != nil {
		return fmt.Errorf("order %s: %w", id, ErrConflict)
	}
	return nil
}

func (s *DB) DeleteOrder(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM orders WHERE id = $1`, id)
	if err != nil {
		return err
	}
	return requireAffected(res)
}
