package store

import (
	"context"
	"database/sql"
	"errors"

	"digistore/internal/models"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// ProviderLine is one service item of a provider_service checkout.
type ProviderLine struct {
	ServiceRef string
	Target     string
	Quantity   int
}

// CreateServiceOrder inserts the order and its provider items in one
// transaction. No inventory is involved for this order type.
func (s *Store) CreateServiceOrder(ctx context.Context, order *models.Order, lines []ProviderLine) error {
	return s.withTxRetry(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO orders (id, order_number, user_id, order_type, total_cents, status, expires_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, order.ID, order.OrderNumber, order.UserID, order.Type, order.TotalCents, order.Status, order.ExpiresAt)
		if err != nil {
			return err
		}

		for _, line := range lines {
			_, err := tx.Exec(ctx, `
				INSERT INTO provider_order_items (id, order_id, service_ref, target, quantity)
				VALUES ($1, $2, $3, $4, $5)
			`, uuid.New(), order.ID, line.ServiceRef, line.Target, line.Quantity)
			if err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) ListProviderItems(ctx context.Context, orderID uuid.UUID) ([]models.ProviderOrderItem, error) {
	rows, err := s.Pool.Query(ctx, `
		SELECT id, order_id, service_ref, target, quantity,
			provider_order_id, provider_status, start_count, remaining,
			created_at, updated_at
		FROM provider_order_items WHERE order_id=$1 ORDER BY created_at, id
	`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []models.ProviderOrderItem
	for rows.Next() {
		var it models.ProviderOrderItem
		var providerOrderID, providerStatus sql.NullString
		var startCount, remaining sql.NullInt64
		if err := rows.Scan(
			&it.ID, &it.OrderID, &it.ServiceRef, &it.Target, &it.Quantity,
			&providerOrderID, &providerStatus, &startCount, &remaining,
			&it.CreatedAt, &it.UpdatedAt,
		); err != nil {
			return nil, err
		}
		if providerOrderID.Valid {
			it.ProviderOrderID = &providerOrderID.String
		}
		if providerStatus.Valid {
			it.ProviderStatus = &providerStatus.String
		}
		if startCount.Valid {
			v := startCount.Int64
			it.StartCount = &v
		}
		if remaining.Valid {
			v := remaining.Int64
			it.Remaining = &v
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

// SetProviderSubmission records the provider's tracking id for an item.
// The WHERE clause on provider_order_id IS NULL is the at-most-once
// submission guard: a second call for the same item changes nothing.
func (s *Store) SetProviderSubmission(ctx context.Context, itemID uuid.UUID, providerOrderID, providerStatus string) (bool, error) {
	ct, err := s.Pool.Exec(ctx, `
		UPDATE provider_order_items
		SET provider_order_id=$2, provider_status=$3, updated_at=now()
		WHERE id=$1 AND provider_order_id IS NULL
	`, itemID, providerOrderID, providerStatus)
	if err != nil {
		return false, err
	}
	return ct.RowsAffected() > 0, nil
}

// UpdateProviderProgress refreshes status counters from the provider.
func (s *Store) UpdateProviderProgress(ctx context.Context, itemID uuid.UUID, status string, startCount, remaining int64) error {
	ct, err := s.Pool.Exec(ctx, `
		UPDATE provider_order_items
		SET provider_status=$2, start_count=$3, remaining=$4, updated_at=now()
		WHERE id=$1 AND provider_order_id IS NOT NULL
	`, itemID, status, startCount, remaining)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return errors.New("provider item not submitted")
	}
	return nil
}
