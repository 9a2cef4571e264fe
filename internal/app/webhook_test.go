package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vendemais/order-service/internal/domain"
)

func completedEvent(eventID string, transactionID uuid.UUID) []byte {
	return fmt.Appendf(nil, `{
		"id": %q,
		"type": "checkout.session.completed",
		"data": {"object": {"id": "cs_test_123", "metadata": {"transaction_id": %q}}}
	}`, eventID, transactionID)
}

func newWebhookFixture(t *testing.T) (*WebhookService, *memStore, *domain.Transaction, *domain.Product) {
	t.Helper()

	store := newMemStore()
	product := availableProduct("100.00")
	store.products[product.ID] = product

	txn, err := domain.NewTransaction(product, uuid.New(), decimal.RequireFromString("0.08"), "stripe")
	require.NoError(t, err)
	require.NoError(t, store.CreateTransaction(context.Background(), txn))

	svc := NewWebhookService(store, &fakeProcessor{}, "stripe", testLogger())
	return svc, store, txn, product
}

func TestHandleWebhookAppliesPaymentExactlyOnce(t *testing.T) {
	svc, store, txn, product := newWebhookFixture(t)
	body := completedEvent("evt_1", txn.ID)

	// Same event delivered twice, a plain network duplicate.
	dup, err := svc.HandleWebhook(context.Background(), body, "sig")
	require.NoError(t, err)
	assert.False(t, dup)

	// The second delivery is reported as a duplicate so the caller can count it
	// separately from a first-time acceptance.
	dup, err = svc.HandleWebhook(context.Background(), body, "sig")
	require.NoError(t, err)
	assert.True(t, dup)

	got, err := store.GetTransaction(context.Background(), txn.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TransactionPaid, got.Status)
	assert.Equal(t, domain.ProductSold, store.products[product.ID].Status)
	assert.Equal(t, 1, store.paymentApplied, "side effects applied exactly once")

	key := domain.EventKey{Provider: "stripe", EventID: "evt_1", EventType: EventCheckoutCompleted}
	require.Contains(t, store.events, key)
	assert.True(t, store.events[key].Processed)
	assert.Len(t, store.events, 1)
}

func TestHandleWebhookConcurrentDuplicateDeliveries(t *testing.T) {
	svc, store, txn, _ := newWebhookFixture(t)
	body := completedEvent("evt_race", txn.ID)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			// Every delivery must be acknowledged; none may double-apply.
			_, err := svc.HandleWebhook(context.Background(), body, "sig")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	got, err := store.GetTransaction(context.Background(), txn.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TransactionPaid, got.Status)
	assert.Equal(t, 1, store.paymentApplied)
}

func TestHandleWebhookBadSignature(t *testing.T) {
	store := newMemStore()
	svc := NewWebhookService(store, &fakeProcessor{verifyErr: errors.New("mac mismatch")}, "stripe", testLogger())

	_, err := svc.HandleWebhook(context.Background(), completedEvent("evt_2", uuid.New()), "bogus")
	require.ErrorIs(t, err, domain.ErrBadSignature)
	assert.Empty(t, store.events, "unauthenticated events never reach the ledger")
}

func TestHandleWebhookMalformedBody(t *testing.T) {
	svc, store, _, _ := newWebhookFixture(t)

	_, err := svc.HandleWebhook(context.Background(), []byte("{not json"), "sig")
	require.ErrorIs(t, err, domain.ErrMalformedEvent)
	assert.Empty(t, store.events)
}

func TestHandleWebhookMissingEventID(t *testing.T) {
	svc, store, _, _ := newWebhookFixture(t)

	_, err := svc.HandleWebhook(context.Background(), []byte(`{"type":"checkout.session.completed"}`), "sig")
	require.ErrorIs(t, err, domain.ErrMalformedEvent)
	assert.Empty(t, store.events)
}

func TestHandleWebhookUnknownTransaction(t *testing.T) {
	svc, store, _, _ := newWebhookFixture(t)
	body := completedEvent("evt_3", uuid.New())

	_, err := svc.HandleWebhook(context.Background(), body, "sig")
	require.ErrorIs(t, err, domain.ErrTransactionNotFound)

	// The row stays unprocessed: this is a data problem, not a duplicate.
	key := domain.EventKey{Provider: "stripe", EventID: "evt_3", EventType: EventCheckoutCompleted}
	require.Contains(t, store.events, key)
	assert.False(t, store.events[key].Processed)
}

func TestHandleWebhookUnknownEventTypeAcknowledged(t *testing.T) {
	svc, store, txn, _ := newWebhookFixture(t)
	body := fmt.Appendf(nil, `{"id":"evt_4","type":"charge.refund.updated","data":{"object":{"metadata":{"transaction_id":%q}}}}`, txn.ID)

	_, err := svc.HandleWebhook(context.Background(), body, "sig")
	require.NoError(t, err)

	got, err := store.GetTransaction(context.Background(), txn.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TransactionPending, got.Status, "unknown types have no side effects")

	key := domain.EventKey{Provider: "stripe", EventID: "evt_4", EventType: "charge.refund.updated"}
	require.Contains(t, store.events, key)
	assert.True(t, store.events[key].Processed)
}

func TestHandleWebhookMissingMetadataAcknowledged(t *testing.T) {
	svc, store, txn, _ := newWebhookFixture(t)
	body := []byte(`{"id":"evt_5","type":"checkout.session.completed","data":{"object":{"id":"cs_other"}}}`)

	_, err := svc.HandleWebhook(context.Background(), body, "sig")
	require.NoError(t, err)

	got, err := store.GetTransaction(context.Background(), txn.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TransactionPending, got.Status)

	key := domain.EventKey{Provider: "stripe", EventID: "evt_5", EventType: EventCheckoutCompleted}
	require.Contains(t, store.events, key)
	assert.True(t, store.events[key].Processed)
}

func TestHandleWebhookStatusNeverRegresses(t *testing.T) {
	svc, store, txn, _ := newWebhookFixture(t)
	store.transactions[txn.ID].Status = domain.TransactionReleased

	// A stale duplicate for an already-released transaction is benign.
	_, err := svc.HandleWebhook(context.Background(), completedEvent("evt_6", txn.ID), "sig")
	require.NoError(t, err)

	got, err := store.GetTransaction(context.Background(), txn.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TransactionReleased, got.Status)
	assert.Zero(t, store.paymentApplied)
}

func TestHandleWebhookFailedTransactionRejectsPayment(t *testing.T) {
	svc, store, txn, _ := newWebhookFixture(t)
	store.transactions[txn.ID].Status = domain.TransactionFailed

	_, err := svc.HandleWebhook(context.Background(), completedEvent("evt_7", txn.ID), "sig")
	require.ErrorIs(t, err, domain.ErrInvalidTransition)
}

func TestHandleWebhookRetryCompletesAfterFailure(t *testing.T) {
	svc, store, txn, _ := newWebhookFixture(t)
	body := completedEvent("evt_8", txn.ID)
	key := domain.EventKey{Provider: "stripe", EventID: "evt_8", EventType: EventCheckoutCompleted}

	store.failConfirm = errors.New("database unavailable")
	_, err := svc.HandleWebhook(context.Background(), body, "sig")
	require.Error(t, err)
	require.Contains(t, store.events, key)
	assert.False(t, store.events[key].Processed, "failed side effects leave the row unprocessed")

	// Processor retries with the same event id; this time the work completes.
	// The retry is real work finishing, not a duplicate.
	store.failConfirm = nil
	dup, err := svc.HandleWebhook(context.Background(), body, "sig")
	require.NoError(t, err)
	assert.False(t, dup)

	got, err := store.GetTransaction(context.Background(), txn.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TransactionPaid, got.Status)
	assert.True(t, store.events[key].Processed)
	assert.Equal(t, 1, store.paymentApplied)
}
