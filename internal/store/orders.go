package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"digistore/internal/models"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const orderColumns = `
	id, order_number, user_id, order_type, total_cents, status,
	payment_reference, payment_url, expires_at, auto_cancelled_at,
	cancellation_reason, created_at, updated_at`

func scanOrder(row pgx.Row) (*models.Order, error) {
	var o models.Order
	var paymentRef, paymentURL, cancelReason sql.NullString
	var expiresAt, autoCancelledAt sql.NullTime

	err := row.Scan(
		&o.ID,
		&o.OrderNumber,
		&o.UserID,
		&o.Type,
		&o.TotalCents,
		&o.Status,
		&paymentRef,
		&paymentURL,
		&expiresAt,
		&autoCancelledAt,
		&cancelReason,
		&o.CreatedAt,
		&o.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	if paymentRef.Valid {
		o.PaymentReference = &paymentRef.String
	}
	if paymentURL.Valid {
		o.PaymentURL = &paymentURL.String
	}
	if expiresAt.Valid {
		t := expiresAt.Time
		o.ExpiresAt = &t
	}
	if autoCancelledAt.Valid {
		t := autoCancelledAt.Time
		o.AutoCancelledAt = &t
	}
	if cancelReason.Valid {
		o.CancellationReason = &cancelReason.String
	}
	return &o, nil
}

func (s *Store) GetOrder(ctx context.Context, orderID uuid.UUID) (*models.Order, error) {
	row := s.Pool.QueryRow(ctx, `SELECT`+orderColumns+` FROM orders WHERE id=$1`, orderID)
	return scanOrder(row)
}

func (s *Store) GetOrderByNumber(ctx context.Context, orderNumber string) (*models.Order, error) {
	row := s.Pool.QueryRow(ctx, `SELECT`+orderColumns+` FROM orders WHERE order_number=$1`, orderNumber)
	return scanOrder(row)
}

func (s *Store) ListLineItems(ctx context.Context, orderID uuid.UUID) ([]models.OrderLineItem, error) {
	rows, err := s.Pool.Query(ctx, `
		SELECT id, order_id, product_id, inventory_unit_id, unit_price_cents, created_at
		FROM order_line_items WHERE order_id=$1 ORDER BY created_at, id
	`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []models.OrderLineItem
	for rows.Next() {
		var it models.OrderLineItem
		var unitID *uuid.UUID
		if err := rows.Scan(&it.ID, &it.OrderID, &it.ProductID, &unitID, &it.UnitPriceCents, &it.CreatedAt); err != nil {
			return nil, err
		}
		it.InventoryUnitID = unitID
		items = append(items, it)
	}
	return items, rows.Err()
}

// SetPaymentReference records the gateway invoice on a freshly created order.
func (s *Store) SetPaymentReference(ctx context.Context, orderID uuid.UUID, invoiceID, invoiceURL string) error {
	_, err := s.Pool.Exec(ctx, `
		UPDATE orders SET payment_reference=$2, payment_url=$3, updated_at=now()
		WHERE id=$1
	`, orderID, invoiceID, invoiceURL)
	return err
}

// MarkPaid moves a pending order to paid. Returns false when the order
// already left pending (duplicate webhook, expiry race).
func (s *Store) MarkPaid(ctx context.Context, orderID uuid.UUID) (bool, error) {
	ct, err := s.Pool.Exec(ctx, `
		UPDATE orders SET status=$2, updated_at=now()
		WHERE id=$1 AND status=$3
	`, orderID, models.OrderPaid, models.OrderPending)
	if err != nil {
		return false, err
	}
	return ct.RowsAffected() > 0, nil
}

// MarkProcessing moves a pending or paid order to processing.
func (s *Store) MarkProcessing(ctx context.Context, orderID uuid.UUID) (bool, error) {
	ct, err := s.Pool.Exec(ctx, `
		UPDATE orders SET status=$2, updated_at=now()
		WHERE id=$1 AND status IN ($3, $4)
	`, orderID, models.OrderProcessing, models.OrderPending, models.OrderPaid)
	if err != nil {
		return false, err
	}
	return ct.RowsAffected() > 0, nil
}

// CompleteOrder marks a non-terminal order completed. Used for
// provider_service orders; inventory orders go through
// CompleteInventoryOrder which also flips their units.
func (s *Store) CompleteOrder(ctx context.Context, orderID uuid.UUID) (bool, error) {
	ct, err := s.Pool.Exec(ctx, `
		UPDATE orders SET status=$2, updated_at=now()
		WHERE id=$1 AND status IN ($3, $4, $5)
	`, orderID, models.OrderCompleted, models.OrderPending, models.OrderPaid, models.OrderProcessing)
	if err != nil {
		return false, err
	}
	return ct.RowsAffected() > 0, nil
}

// FailOrder moves an order to failed and, in the same transaction,
// releases any units still reserved for it. Terminal orders are left
// untouched (changed=false).
func (s *Store) FailOrder(ctx context.Context, orderID uuid.UUID, reason string) (changed bool, released int64, err error) {
	err = s.withTxRetry(ctx, func(tx pgx.Tx) error {
		ct, err := tx.Exec(ctx, `
			UPDATE orders SET status=$2, cancellation_reason=$3, updated_at=now()
			WHERE id=$1 AND status NOT IN ($4, $5, $6)
		`, orderID, models.OrderFailed, reason,
			models.OrderCompleted, models.OrderFailed, models.OrderCancelled)
		if err != nil {
			return err
		}
		if ct.RowsAffected() == 0 {
			changed = false
			released = 0
			return nil
		}
		changed = true

		released, err = releaseUnits(ctx, tx, orderID)
		if err != nil {
			return err
		}
		if released > 0 {
			return insertCancellation(ctx, tx, orderID, reason, released)
		}
		return nil
	})
	return changed, released, err
}

// CancelExpiredOrder performs the sweep for one order: the pending and
// expired checks run inside the same transaction as the release, so a
// webhook that lands first makes this a no-op.
func (s *Store) CancelExpiredOrder(ctx context.Context, orderID uuid.UUID, now time.Time, reason string) (cancelled bool, released int64, err error) {
	err = s.withTxRetry(ctx, func(tx pgx.Tx) error {
		ct, err := tx.Exec(ctx, `
			UPDATE orders
			SET status=$2, auto_cancelled_at=$3, cancellation_reason=$4, updated_at=now()
			WHERE id=$1 AND status=$5 AND expires_at < $3 AND auto_cancelled_at IS NULL
		`, orderID, models.OrderCancelled, now, reason, models.OrderPending)
		if err != nil {
			return err
		}
		if ct.RowsAffected() == 0 {
			cancelled = false
			released = 0
			return nil
		}
		cancelled = true

		released, err = releaseUnits(ctx, tx, orderID)
		if err != nil {
			return err
		}
		return insertCancellation(ctx, tx, orderID, reason, released)
	})
	return cancelled, released, err
}

// ListExpiredPending returns ids of orders the sweeper should visit.
// The authoritative check is repeated inside CancelExpiredOrder.
func (s *Store) ListExpiredPending(ctx context.Context, now time.Time) ([]uuid.UUID, error) {
	rows, err := s.Pool.Query(ctx, `
		SELECT id FROM orders
		WHERE status=$1 AND expires_at < $2 AND auto_cancelled_at IS NULL
		ORDER BY expires_at
	`, models.OrderPending, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func insertCancellation(ctx context.Context, tx pgx.Tx, orderID uuid.UUID, reason string, released int64) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO order_cancellations (id, order_id, reason, released_units)
		VALUES ($1, $2, $3, $4)
	`, uuid.New(), orderID, reason, released)
	return err
}
