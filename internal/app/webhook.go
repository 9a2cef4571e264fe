package app

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/vendemais/order-service/internal/domain"
)

// EventCheckoutCompleted is the only processor event type this core reconciles.
// Everything else is acknowledged and recorded without side effects.
const EventCheckoutCompleted = "checkout.session.completed"

// webhookEnvelope is the processor's event envelope. Only the fields the
// reconciler needs are decoded; the raw body is what gets persisted.
type webhookEnvelope struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		Object struct {
			ID       string            `json:"id"`
			Metadata map[string]string `json:"metadata"`
		} `json:"object"`
	} `json:"data"`
}

// WebhookService consumes processor callbacks and applies their side effects
// exactly once per distinct event, under at-least-once delivery.
type WebhookService struct {
	ledger    WebhookLedger
	processor PaymentProcessor
	provider  string
	log       *slog.Logger
}

func NewWebhookService(ledger WebhookLedger, processor PaymentProcessor, provider string, log *slog.Logger) *WebhookService {
	return &WebhookService{
		ledger:    ledger,
		processor: processor,
		provider:  provider,
		log:       log,
	}
}

// HandleWebhook authenticates, deduplicates, and dispatches one delivery.
// rawBody must be the request body byte-for-byte: the signature is computed
// over the wire bytes, and any re-encoding before this point breaks it.
// duplicate reports that the event was already fully applied and this delivery
// had no effect.
func (s *WebhookService) HandleWebhook(ctx context.Context, rawBody []byte, sigHeader string) (duplicate bool, err error) {
	if err := s.processor.VerifySignature(rawBody, sigHeader); err != nil {
		s.log.WarnContext(ctx, "webhook signature rejected", "err", err)
		return false, fmt.Errorf("%w: %v", domain.ErrBadSignature, err)
	}

	var env webhookEnvelope
	if err := json.Unmarshal(rawBody, &env); err != nil {
		return false, fmt.Errorf("%w: %v", domain.ErrMalformedEvent, err)
	}

	key := domain.EventKey{
		Provider:  s.provider,
		EventID:   env.ID,
		EventType: env.Type,
	}
	if err := key.Validate(); err != nil {
		return false, err
	}

	outcome, err := s.ledger.RecordEvent(ctx, key, rawBody)
	if err != nil {
		return false, fmt.Errorf("record webhook event: %w", err)
	}

	switch outcome {
	case domain.LedgerDuplicateProcessed:
		// Already fully applied: acknowledge without reapplying anything.
		s.log.InfoContext(ctx, "duplicate webhook delivery ignored",
			"event_id", key.EventID,
			"event_type", key.EventType)
		return true, nil
	case domain.LedgerInserted, domain.LedgerDuplicateUnprocessed:
		// An unprocessed duplicate means an earlier delivery raced us or died
		// before committing; proceeding is safe because the side effects are
		// status-guarded and atomic.
	}

	return false, s.dispatch(ctx, key, env)
}

func (s *WebhookService) dispatch(ctx context.Context, key domain.EventKey, env webhookEnvelope) error {
	switch env.Type {
	case EventCheckoutCompleted:
		return s.applyCheckoutCompleted(ctx, key, env)
	default:
		s.log.InfoContext(ctx, "unhandled webhook event type acknowledged",
			"event_id", key.EventID,
			"event_type", key.EventType)
		return s.ledger.MarkProcessed(ctx, key)
	}
}

func (s *WebhookService) applyCheckoutCompleted(ctx context.Context, key domain.EventKey, env webhookEnvelope) error {
	rawID, ok := env.Data.Object.Metadata["transaction_id"]
	if !ok || rawID == "" {
		// Not correlated to any local transaction. Acknowledge so the
		// processor stops retrying an event that is not ours to apply.
		s.log.WarnContext(ctx, "checkout completed event without transaction metadata",
			"event_id", key.EventID,
			"session_id", env.Data.Object.ID)
		return s.ledger.MarkProcessed(ctx, key)
	}

	transactionID, err := uuid.Parse(rawID)
	if err != nil {
		return fmt.Errorf("%w: bad transaction id %q", domain.ErrMalformedEvent, rawID)
	}

	// Transaction -> paid, product -> sold, and the processed flag are one
	// atomic unit; on failure the ledger row stays unprocessed and the
	// processor's retry completes the work.
	if err := s.ledger.ConfirmPayment(ctx, key, transactionID); err != nil {
		return fmt.Errorf("confirm payment for transaction %s: %w", transactionID, err)
	}

	s.log.InfoContext(ctx, "payment confirmed",
		"transaction_id", transactionID,
		"event_id", key.EventID)
	return nil
}
