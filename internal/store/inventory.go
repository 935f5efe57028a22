package store

import (
	"context"
	"sort"

	"digistore/internal/models"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// ReservationLine is one product's slice of a checkout request. Each
// requested unit becomes its own order line item.
type ReservationLine struct {
	ProductID      uuid.UUID
	Quantity       int
	UnitPriceCents int64
}

// CreateInventoryOrder reserves units and creates the order in a single
// transaction. Either every requested unit is locked and flipped to
// reserved and the order plus its line items committed, or nothing is.
// Products are visited in ascending id order so concurrent reservations
// acquire row locks in the same sequence.
func (s *Store) CreateInventoryOrder(ctx context.Context, order *models.Order, lines []ReservationLine) error {
	sorted := make([]ReservationLine, len(lines))
	copy(sorted, lines)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].ProductID.String() < sorted[j].ProductID.String()
	})

	return s.withTxRetry(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO orders (id, order_number, user_id, order_type, total_cents, status, expires_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, order.ID, order.OrderNumber, order.UserID, order.Type, order.TotalCents, order.Status, order.ExpiresAt)
		if err != nil {
			return err
		}

		for _, line := range sorted {
			unitIDs, err := lockAvailableUnits(ctx, tx, line.ProductID, line.Quantity)
			if err != nil {
				return err
			}
			if len(unitIDs) < line.Quantity {
				return ErrInsufficientStock
			}

			for _, unitID := range unitIDs {
				ct, err := tx.Exec(ctx, `
					UPDATE inventory_units
					SET status=$3, reserved_for_order_id=$2, updated_at=now()
					WHERE id=$1 AND status=$4
				`, unitID, order.ID, models.UnitReserved, models.UnitAvailable)
				if err != nil {
					return err
				}
				if ct.RowsAffected() != 1 {
					return ErrInsufficientStock
				}

				_, err = tx.Exec(ctx, `
					INSERT INTO order_line_items (id, order_id, product_id, inventory_unit_id, unit_price_cents)
					VALUES ($1, $2, $3, $4, $5)
				`, uuid.New(), order.ID, line.ProductID, unitID, line.UnitPriceCents)
				if err != nil {
					return err
				}
			}
		}
		return nil
	})
}

// Oldest stock first so aged credentials are sold before fresh ones.
func lockAvailableUnits(ctx context.Context, tx pgx.Tx, productID uuid.UUID, limit int) ([]uuid.UUID, error) {
	rows, err := tx.Query(ctx, `
		SELECT id FROM inventory_units
		WHERE product_id=$1 AND status=$2
		ORDER BY created_at, id
		LIMIT $3
		FOR UPDATE
	`, productID, models.UnitAvailable, limit)
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

// CompleteInventoryOrder converts the order's reservation into a sale.
// Every line item must still own its reserved unit; if any unit has been
// released in the meantime (expiry race) the transaction aborts with
// ErrUnitMissing and no unit is sold. Returns false without touching
// anything when the order is already terminal, so callers can tell a
// completion from a skip.
func (s *Store) CompleteInventoryOrder(ctx context.Context, orderID uuid.UUID) (bool, error) {
	var completed bool
	err := s.withTxRetry(ctx, func(tx pgx.Tx) error {
		completed = false
		var status models.OrderStatus
		err := tx.QueryRow(ctx, `SELECT status FROM orders WHERE id=$1 FOR UPDATE`, orderID).Scan(&status)
		if err != nil {
			if err == pgx.ErrNoRows {
				return ErrNotFound
			}
			return err
		}
		if status.Terminal() {
			// Sweeper cancel or duplicate delivery won the row lock.
			return nil
		}

		rows, err := tx.Query(ctx, `
			SELECT id, product_id, inventory_unit_id
			FROM order_line_items WHERE order_id=$1 ORDER BY created_at, id
		`, orderID)
		if err != nil {
			return err
		}
		type line struct {
			id        uuid.UUID
			productID uuid.UUID
			unitID    *uuid.UUID
		}
		var items []line
		for rows.Next() {
			var it line
			if err := rows.Scan(&it.id, &it.productID, &it.unitID); err != nil {
				rows.Close()
				return err
			}
			items = append(items, it)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}

		for _, it := range items {
			var ct int64
			if it.unitID != nil {
				tag, err := tx.Exec(ctx, `
					UPDATE inventory_units
					SET status=$3, sold_order_id=$2, reserved_for_order_id=NULL, updated_at=now()
					WHERE id=$1 AND status=$4 AND reserved_for_order_id=$2
				`, *it.unitID, orderID, models.UnitSold, models.UnitReserved)
				if err != nil {
					return err
				}
				ct = tag.RowsAffected()
			} else {
				// Line item never got pinned to a unit; claim any unit
				// still reserved for this order and product.
				var unitID uuid.UUID
				err := tx.QueryRow(ctx, `
					UPDATE inventory_units
					SET status=$3, sold_order_id=$2, reserved_for_order_id=NULL, updated_at=now()
					WHERE id = (
						SELECT id FROM inventory_units
						WHERE product_id=$1 AND reserved_for_order_id=$2 AND status=$4
						ORDER BY id LIMIT 1
					)
					RETURNING id
				`, it.productID, orderID, models.UnitSold, models.UnitReserved).Scan(&unitID)
				if err != nil {
					if err == pgx.ErrNoRows {
						return ErrUnitMissing
					}
					return err
				}
				if _, err := tx.Exec(ctx, `
					UPDATE order_line_items SET inventory_unit_id=$2 WHERE id=$1
				`, it.id, unitID); err != nil {
					return err
				}
				ct = 1
			}
			if ct != 1 {
				return ErrUnitMissing
			}
		}

		_, err = tx.Exec(ctx, `
			UPDATE orders SET status=$2, updated_at=now() WHERE id=$1
		`, orderID, models.OrderCompleted)
		if err != nil {
			return err
		}
		completed = true
		return nil
	})
	return completed, err
}

func releaseUnits(ctx context.Context, tx pgx.Tx, orderID uuid.UUID) (int64, error) {
	ct, err := tx.Exec(ctx, `
		UPDATE inventory_units
		SET status=$2, reserved_for_order_id=NULL, updated_at=now()
		WHERE reserved_for_order_id=$1 AND status=$3
	`, orderID, models.UnitAvailable, models.UnitReserved)
	if err != nil {
		return 0, err
	}
	return ct.RowsAffected(), nil
}

// SoldCredential pairs a sold unit's sealed payload with its product.
type SoldCredential struct {
	UnitID           uuid.UUID
	ProductID        uuid.UUID
	CredentialCipher []byte
}

// CredentialsForOrder returns the sealed payloads sold to an order.
func (s *Store) CredentialsForOrder(ctx context.Context, orderID uuid.UUID) ([]SoldCredential, error) {
	rows, err := s.Pool.Query(ctx, `
		SELECT id, product_id, credential_cipher
		FROM inventory_units
		WHERE sold_order_id=$1 AND status=$2
		ORDER BY id
	`, orderID, models.UnitSold)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SoldCredential
	for rows.Next() {
		var c SoldCredential
		if err := rows.Scan(&c.UnitID, &c.ProductID, &c.CredentialCipher); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// AddInventoryUnit ingests one sealed credential for a product.
func (s *Store) AddInventoryUnit(ctx context.Context, productID uuid.UUID, credentialCipher []byte) (uuid.UUID, error) {
	id := uuid.New()
	_, err := s.Pool.Exec(ctx, `
		INSERT INTO inventory_units (id, product_id, credential_cipher, status)
		VALUES ($1, $2, $3, $4)
	`, id, productID, credentialCipher, models.UnitAvailable)
	return id, err
}

// CountAvailable reports sellable stock for a product.
func (s *Store) CountAvailable(ctx context.Context, productID uuid.UUID) (int, error) {
	var n int
	err := s.Pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM inventory_units WHERE product_id=$1 AND status=$2
	`, productID, models.UnitAvailable).Scan(&n)
	return n, err
}
