package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/vendemais/order-service/internal/domain"
)

func (s *Store) GetProduct(ctx context.Context, id uuid.UUID) (*domain.Product, error) {
	const q = `
		SELECT id, seller_id, title, price::text, status,
		       weight_kg, height_cm, width_cm, length_cm
		FROM products
		WHERE id = $1
	`

	var (
		p        domain.Product
		rawPrice string
	)
	err := s.pool.QueryRow(ctx, q, id).Scan(
		&p.ID, &p.SellerID, &p.Title, &rawPrice, (*string)(&p.Status),
		&p.Package.WeightKg, &p.Package.HeightCm, &p.Package.WidthCm, &p.Package.LengthCm,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrProductNotFound
		}
		return nil, fmt.Errorf("scan product row: %w", err)
	}

	p.Price, err = decimal.NewFromString(rawPrice)
	if err != nil {
		return nil, fmt.Errorf("parse stored price %q: %w", rawPrice, err)
	}
	return &p, nil
}
