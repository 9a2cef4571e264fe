package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/vendemais/order-service/internal/domain"
)

// RecordEvent inserts the event against the (provider, event_id, event_type)
// unique index. The index, not an application pre-check, is the serialization
// point: two concurrent deliveries cannot both see "new".
func (s *Store) RecordEvent(ctx context.Context, key domain.EventKey, payload []byte) (domain.LedgerOutcome, error) {
	const insert = `
		INSERT INTO webhook_events (provider, event_id, event_type, payload, processed, received_at)
		VALUES ($1, $2, $3, $4, FALSE, NOW())
		ON CONFLICT (provider, event_id, event_type) DO NOTHING
	`

	tag, err := s.pool.Exec(ctx, insert, key.Provider, key.EventID, key.EventType, payload)
	if err != nil {
		return 0, fmt.Errorf("insert webhook event: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return domain.LedgerInserted, nil
	}

	const read = `
		SELECT processed FROM webhook_events
		WHERE provider = $1 AND event_id = $2 AND event_type = $3
	`

	var processed bool
	if err := s.pool.QueryRow(ctx, read, key.Provider, key.EventID, key.EventType).Scan(&processed); err != nil {
		return 0, fmt.Errorf("read existing webhook event: %w", err)
	}
	if processed {
		return domain.LedgerDuplicateProcessed, nil
	}
	return domain.LedgerDuplicateUnprocessed, nil
}

func (s *Store) MarkProcessed(ctx context.Context, key domain.EventKey) error {
	const q = `
		UPDATE webhook_events SET processed = TRUE
		WHERE provider = $1 AND event_id = $2 AND event_type = $3
	`

	if _, err := s.pool.Exec(ctx, q, key.Provider, key.EventID, key.EventType); err != nil {
		return fmt.Errorf("mark webhook event processed: %w", err)
	}
	return nil
}

// ConfirmPayment applies the paid side effects and the processed flag as one
// database transaction. A paid-but-listed or sold-but-unpaid product is an
// invariant violation a concurrent buyer could exploit, so neither update may
// land without the other.
func (s *Store) ConfirmPayment(ctx context.Context, key domain.EventKey, transactionID uuid.UUID) error {
	return s.withTx(ctx, func(tx pgx.Tx) error {
		var (
			productID uuid.UUID
			status    string
		)
		const lock = `
			SELECT product_id, status FROM transactions
			WHERE id = $1
			FOR UPDATE
		`
		if err := tx.QueryRow(ctx, lock, transactionID).Scan(&productID, &status); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return domain.ErrTransactionNotFound
			}
			return fmt.Errorf("lock transaction: %w", err)
		}

		switch st := domain.TransactionStatus(status); {
		case st.Settled():
			// A previous delivery already applied the side effects; flip the
			// ledger row and acknowledge. Status never moves backwards.
			return markProcessedTx(ctx, tx, key)
		case !st.Payable():
			return fmt.Errorf("%w: %s cannot become paid", domain.ErrInvalidTransition, st)
		}

		const payTxn = `
			UPDATE transactions SET status = $2, updated_at = NOW()
			WHERE id = $1
		`
		if _, err := tx.Exec(ctx, payTxn, transactionID, string(domain.TransactionPaid)); err != nil {
			return fmt.Errorf("mark transaction paid: %w", err)
		}

		const sellProduct = `
			UPDATE products SET status = $2, updated_at = NOW()
			WHERE id = $1
		`
		if _, err := tx.Exec(ctx, sellProduct, productID, string(domain.ProductSold)); err != nil {
			return fmt.Errorf("mark product sold: %w", err)
		}

		return markProcessedTx(ctx, tx, key)
	})
}

func markProcessedTx(ctx context.Context, tx pgx.Tx, key domain.EventKey) error {
	const q = `
		UPDATE webhook_events SET processed = TRUE
		WHERE provider = $1 AND event_id = $2 AND event_type = $3
	`

	if _, err := tx.Exec(ctx, q, key.Provider, key.EventID, key.EventType); err != nil {
		return fmt.Errorf("mark webhook event processed: %w", err)
	}
	return nil
}
