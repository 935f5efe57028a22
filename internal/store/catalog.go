package store

import (
	"context"
	"errors"

	"digistore/internal/models"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

func (s *Store) GetProduct(ctx context.Context, productID uuid.UUID) (*models.Product, error) {
	row := s.Pool.QueryRow(ctx, `
		SELECT id, name, price_cents, active, created_at, updated_at
		FROM products WHERE id=$1
	`, productID)

	var p models.Product
	err := row.Scan(&p.ID, &p.Name, &p.PriceCents, &p.Active, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}

func (s *Store) GetService(ctx context.Context, serviceID uuid.UUID) (*models.Service, error) {
	row := s.Pool.QueryRow(ctx, `
		SELECT id, name, service_ref, price_per_unit_cents, min_quantity, max_quantity,
			active, created_at, updated_at
		FROM services WHERE id=$1
	`, serviceID)

	var sv models.Service
	err := row.Scan(&sv.ID, &sv.Name, &sv.ServiceRef, &sv.PricePerUnitCents,
		&sv.MinQuantity, &sv.MaxQuantity, &sv.Active, &sv.CreatedAt, &sv.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &sv, nil
}
