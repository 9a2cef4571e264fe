package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/vendemais/order-service/internal/domain"
)

func (s *Store) CreateTransaction(ctx context.Context, t *domain.Transaction) error {
	const q = `
		INSERT INTO transactions (
			id, product_id, buyer_id, seller_id,
			amount, platform_fee, seller_amount, shipping_cost,
			payment_method, payment_provider, provider_transaction_id,
			status, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4,
			$5::numeric, $6::numeric, $7::numeric, $8::numeric,
			$9, $10, NULLIF($11, ''),
			$12, $13, $14
		)
	`

	_, err := s.pool.Exec(ctx, q,
		t.ID, t.ProductID, t.BuyerID, t.SellerID,
		t.Amount.String(), t.PlatformFee.String(), t.SellerAmount.String(), t.ShippingCost.String(),
		t.PaymentMethod, t.PaymentProvider, t.ProviderTransactionID,
		string(t.Status), t.CreatedAt, t.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert transaction: %w", err)
	}
	return nil
}

func (s *Store) GetTransaction(ctx context.Context, id uuid.UUID) (*domain.Transaction, error) {
	const q = `
		SELECT id, product_id, buyer_id, seller_id,
		       amount::text, platform_fee::text, seller_amount::text, shipping_cost::text,
		       payment_method, payment_provider, COALESCE(provider_transaction_id, ''),
		       status, created_at, updated_at
		FROM transactions
		WHERE id = $1
	`

	return scanTransaction(s.pool.QueryRow(ctx, q, id))
}

// SetProviderSession fills provider_transaction_id exactly once. The WHERE
// guard makes the column write-once at the storage layer.
func (s *Store) SetProviderSession(ctx context.Context, transactionID uuid.UUID, sessionID string) error {
	const q = `
		UPDATE transactions
		SET provider_transaction_id = $2, updated_at = NOW()
		WHERE id = $1 AND provider_transaction_id IS NULL
	`

	tag, err := s.pool.Exec(ctx, q, transactionID, sessionID)
	if err != nil {
		return fmt.Errorf("set provider session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("transaction %s: %w", transactionID, errProviderSessionSet)
	}
	return nil
}

var errProviderSessionSet = errors.New("provider transaction id already set or transaction missing")

func scanTransaction(row pgx.Row) (*domain.Transaction, error) {
	var (
		t          domain.Transaction
		rawAmounts [4]string
		status     string
		createdAt  time.Time
		updatedAt  time.Time
	)

	err := row.Scan(
		&t.ID, &t.ProductID, &t.BuyerID, &t.SellerID,
		&rawAmounts[0], &rawAmounts[1], &rawAmounts[2], &rawAmounts[3],
		&t.PaymentMethod, &t.PaymentProvider, &t.ProviderTransactionID,
		&status, &createdAt, &updatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrTransactionNotFound
		}
		return nil, fmt.Errorf("scan transaction row: %w", err)
	}

	for i, dst := range []*decimal.Decimal{&t.Amount, &t.PlatformFee, &t.SellerAmount, &t.ShippingCost} {
		if *dst, err = decimal.NewFromString(rawAmounts[i]); err != nil {
			return nil, fmt.Errorf("parse stored amount %q: %w", rawAmounts[i], err)
		}
	}

	t.Status = domain.TransactionStatus(status)
	t.CreatedAt = createdAt
	t.UpdatedAt = updatedAt
	return &t, nil
}
