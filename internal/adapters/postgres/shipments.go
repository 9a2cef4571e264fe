package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/vendemais/order-service/internal/domain"
)

// CreateShipment inserts the shipment and records the shipping cost on the
// parent transaction in one database transaction.
func (s *Store) CreateShipment(ctx context.Context, shp *domain.Shipment, shippingCost decimal.Decimal) error {
	return s.withTx(ctx, func(tx pgx.Tx) error {
		fromJSON, err := json.Marshal(shp.FromAddress)
		if err != nil {
			return fmt.Errorf("marshal from address: %w", err)
		}
		toJSON, err := json.Marshal(shp.ToAddress)
		if err != nil {
			return fmt.Errorf("marshal to address: %w", err)
		}
		var meetingJSON []byte
		if shp.Meeting != nil {
			if meetingJSON, err = json.Marshal(shp.Meeting); err != nil {
				return fmt.Errorf("marshal meeting details: %w", err)
			}
		}

		const insert = `
			INSERT INTO shipments (
				id, transaction_id, method,
				from_address, to_address, meeting,
				weight_kg, height_cm, width_cm, length_cm, carrier_service_id,
				melhor_envio_order_id, tracking_code, label_url,
				status, tracking_events, created_at, updated_at
			) VALUES (
				$1, $2, $3,
				$4, $5, $6,
				$7, $8, $9, $10, $11,
				NULL, NULL, NULL,
				$12, '[]'::jsonb, $13, $14
			)
		`
		_, err = tx.Exec(ctx, insert,
			shp.ID, shp.TransactionID, string(shp.Method),
			fromJSON, toJSON, meetingJSON,
			shp.Package.WeightKg, shp.Package.HeightCm, shp.Package.WidthCm, shp.Package.LengthCm,
			nullableInt(shp.CarrierServiceID),
			string(shp.Status), shp.CreatedAt, shp.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("insert shipment: %w", err)
		}

		const cost = `
			UPDATE transactions SET shipping_cost = $2::numeric, updated_at = NOW()
			WHERE id = $1
		`
		tag, err := tx.Exec(ctx, cost, shp.TransactionID, shippingCost.String())
		if err != nil {
			return fmt.Errorf("record shipping cost: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return domain.ErrTransactionNotFound
		}
		return nil
	})
}

func (s *Store) GetShipment(ctx context.Context, id uuid.UUID) (*domain.Shipment, error) {
	const q = `
		SELECT id, transaction_id, method,
		       from_address, to_address, meeting,
		       weight_kg, height_cm, width_cm, length_cm, COALESCE(carrier_service_id, 0),
		       COALESCE(melhor_envio_order_id, ''), COALESCE(tracking_code, ''), COALESCE(label_url, ''),
		       status, tracking_events, created_at, updated_at
		FROM shipments
		WHERE id = $1
	`

	var (
		shp         domain.Shipment
		method      string
		status      string
		fromJSON    []byte
		toJSON      []byte
		meetingJSON []byte
		eventsJSON  []byte
		createdAt   time.Time
		updatedAt   time.Time
	)
	err := s.pool.QueryRow(ctx, q, id).Scan(
		&shp.ID, &shp.TransactionID, &method,
		&fromJSON, &toJSON, &meetingJSON,
		&shp.Package.WeightKg, &shp.Package.HeightCm, &shp.Package.WidthCm, &shp.Package.LengthCm,
		&shp.CarrierServiceID,
		&shp.MelhorEnvioOrderID, &shp.TrackingCode, &shp.LabelURL,
		&status, &eventsJSON, &createdAt, &updatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrShipmentNotFound
		}
		return nil, fmt.Errorf("scan shipment row: %w", err)
	}

	shp.Method = domain.ShipmentMethod(method)
	shp.Status = domain.ShipmentStatus(status)
	shp.CreatedAt = createdAt
	shp.UpdatedAt = updatedAt

	if err := json.Unmarshal(fromJSON, &shp.FromAddress); err != nil {
		return nil, fmt.Errorf("decode from address: %w", err)
	}
	if err := json.Unmarshal(toJSON, &shp.ToAddress); err != nil {
		return nil, fmt.Errorf("decode to address: %w", err)
	}
	if len(meetingJSON) > 0 {
		shp.Meeting = &domain.MeetingDetails{}
		if err := json.Unmarshal(meetingJSON, shp.Meeting); err != nil {
			return nil, fmt.Errorf("decode meeting details: %w", err)
		}
	}
	if err := json.Unmarshal(eventsJSON, &shp.TrackingEvents); err != nil {
		return nil, fmt.Errorf("decode tracking events: %w", err)
	}

	return &shp, nil
}

// ClaimLabelGeneration is the re-entry gate around the carrier purchase chain.
// The conditional UPDATE means exactly one of two concurrent claims wins; the
// loser gets a specific error telling it whether the label exists or is in
// flight.
func (s *Store) ClaimLabelGeneration(ctx context.Context, shipmentID uuid.UUID) error {
	const claim = `
		UPDATE shipments SET status = $2, updated_at = NOW()
		WHERE id = $1
		  AND method = 'carrier'
		  AND label_url IS NULL
		  AND status = $3
	`

	tag, err := s.pool.Exec(ctx, claim, shipmentID,
		string(domain.ShipmentLabelGenerating), string(domain.ShipmentPending))
	if err != nil {
		return fmt.Errorf("claim label generation: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	shp, err := s.GetShipment(ctx, shipmentID)
	if err != nil {
		return err
	}
	switch {
	case shp.Method != domain.MethodCarrier:
		return domain.ErrCarrierOnly
	case shp.HasLabel():
		return domain.ErrLabelAlreadyGenerated
	case shp.Status == domain.ShipmentLabelGenerating:
		return domain.ErrLabelInProgress
	default:
		return fmt.Errorf("shipment %s in status %s cannot generate a label", shipmentID, shp.Status)
	}
}

func (s *Store) ReleaseLabelClaim(ctx context.Context, shipmentID uuid.UUID) error {
	const q = `
		UPDATE shipments SET status = $2, updated_at = NOW()
		WHERE id = $1 AND status = $3
	`

	if _, err := s.pool.Exec(ctx, q, shipmentID,
		string(domain.ShipmentPending), string(domain.ShipmentLabelGenerating)); err != nil {
		return fmt.Errorf("release label claim: %w", err)
	}
	return nil
}

// AttachLabel persists the whole carrier linkage at once. The label_url guard
// backs up the claim: even a misbehaving caller cannot record a second label.
func (s *Store) AttachLabel(ctx context.Context, shipmentID uuid.UUID, carrierOrderID, trackingCode, labelURL string) error {
	const q = `
		UPDATE shipments
		SET melhor_envio_order_id = $2,
		    tracking_code = $3,
		    label_url = $4,
		    status = $5,
		    updated_at = NOW()
		WHERE id = $1 AND label_url IS NULL
	`

	tag, err := s.pool.Exec(ctx, q, shipmentID, carrierOrderID, trackingCode, labelURL,
		string(domain.ShipmentLabelGenerated))
	if err != nil {
		return fmt.Errorf("attach label: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrLabelAlreadyGenerated
	}
	return nil
}

func (s *Store) UpdateTracking(ctx context.Context, shipmentID uuid.UUID, status domain.ShipmentStatus, events []domain.TrackingEvent) error {
	if events == nil {
		events = []domain.TrackingEvent{}
	}
	eventsJSON, err := json.Marshal(events)
	if err != nil {
		return fmt.Errorf("marshal tracking events: %w", err)
	}

	const q = `
		UPDATE shipments
		SET status = $2, tracking_events = $3, updated_at = NOW()
		WHERE id = $1
	`

	tag, err := s.pool.Exec(ctx, q, shipmentID, string(status), eventsJSON)
	if err != nil {
		return fmt.Errorf("update tracking: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrShipmentNotFound
	}
	return nil
}

func nullableInt(v int) *int {
	if v == 0 {
		return nil
	}
	return &v
}
