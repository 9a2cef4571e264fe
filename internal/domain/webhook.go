package domain

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrBadSignature = errors.New("webhook signature verification failed")

	ErrMalformedEvent = errors.New("malformed webhook event")
)

// EventKey is the composite uniqueness key of an inbound processor
// notification. Two deliveries with the same key are the same event.
type EventKey struct {
	Provider  string
	EventID   string
	EventType string
}

func (k EventKey) Validate() error {
	switch {
	case k.Provider == "":
		return fmt.Errorf("%w: missing provider", ErrMalformedEvent)
	case k.EventID == "":
		return fmt.Errorf("%w: missing event id", ErrMalformedEvent)
	case k.EventType == "":
		return fmt.Errorf("%w: missing event type", ErrMalformedEvent)
	default:
		return nil
	}
}

// WebhookEvent is one row of the append-only idempotency ledger. Payload is
// the raw request body, preserved byte-for-byte for audit and replay.
type WebhookEvent struct {
	Key        EventKey
	Payload    []byte
	Processed  bool
	ReceivedAt time.Time
}

// LedgerOutcome classifies an insert attempt against the ledger. The three
// cases branch differently under at-least-once delivery: a new row proceeds,
// a processed duplicate is acknowledged without side effects, and an
// unprocessed duplicate proceeds so a processor retry can finish work an
// earlier delivery failed to commit.
type LedgerOutcome int

const (
	LedgerInserted LedgerOutcome = iota
	LedgerDuplicateUnprocessed
	LedgerDuplicateProcessed
)

func (o LedgerOutcome) String() string {
	switch o {
	case LedgerInserted:
		return "inserted"
	case LedgerDuplicateUnprocessed:
		return "duplicate_unprocessed"
	case LedgerDuplicateProcessed:
		return "duplicate_processed"
	default:
		return "unknown"
	}
}
