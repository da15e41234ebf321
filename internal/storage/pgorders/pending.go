package pgorders

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pkg/errors"

	"github.com/BearBump/BostaSync/internal/models"
)

var (
	ErrPendingNotFound = errors.New("pending order not found")
	ErrInvalidStatus   = errors.New("invalid pending status")
)

// UpdatePendingStatus is the operator transition of a pending order.
// "received" also stamps is_received and received_at; received_by and notes
// are kept unless new values are given.
func (s *Storage) UpdatePendingStatus(ctx context.Context, upd models.PendingStatusUpdate) error {
	if !models.IsValidPendingStatus(upd.Status) {
		return errors.Wrap(ErrInvalidStatus, upd.Status)
	}
	at := upd.At
	if at.IsZero() {
		at = time.Now()
	}

	var (
		tag pgconn.CommandTag
		err error
	)
	if upd.Status == models.PendingStatusReceived {
		tag, err = s.db.Exec(ctx, `
UPDATE pending_orders
SET
  status = $2,
  is_received = true,
  received_at = $3,
  received_by = COALESCE(NULLIF($4, ''), received_by),
  received_notes = COALESCE(NULLIF($5, ''), received_notes),
  last_synced = now()
WHERE tracking_number = $1
`, upd.TrackingNumber, upd.Status, at, upd.ReceivedBy, upd.Notes)
	} else {
		tag, err = s.db.Exec(ctx, `
UPDATE pending_orders
SET status = $2, last_synced = now()
WHERE tracking_number = $1
`, upd.TrackingNumber, upd.Status)
	}
	if err != nil {
		return errors.Wrap(err, "update pending status")
	}
	if tag.RowsAffected() == 0 {
		return errors.Wrap(ErrPendingNotFound, upd.TrackingNumber)
	}
	return nil
}

// LookupOrderIDs maps tracking numbers to ids of already stored orders.
// Unknown tracking numbers are absent from the result.
func (s *Storage) LookupOrderIDs(ctx context.Context, trackingNumbers []string) (map[string]string, error) {
	out := make(map[string]string, len(trackingNumbers))
	if len(trackingNumbers) == 0 {
		return out, nil
	}

	rows, err := s.db.Query(ctx, `SELECT tracking_number, id FROM orders WHERE tracking_number = ANY($1)`, trackingNumbers)
	if err != nil {
		return nil, errors.Wrap(err, "select order ids")
	}
	defer rows.Close()

	for rows.Next() {
		var tn, id string
		if err := rows.Scan(&tn, &id); err != nil {
			return nil, errors.Wrap(err, "scan order id")
		}
		out[tn] = id
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}

// PendingOrderState is the operator-owned part of a pending order.
type PendingOrderState struct {
	TrackingNumber  string     `json:"tracking_number"`
	OrderType       string     `json:"order_type"`
	OriginalOrderID *string    `json:"original_order_id,omitempty"`
	Status          string     `json:"status"`
	IsReceived      bool       `json:"is_received"`
	ReceivedAt      *time.Time `json:"received_at,omitempty"`
	ReceivedBy      *string    `json:"received_by,omitempty"`
	ReceivedNotes   *string    `json:"received_notes,omitempty"`
}

func (s *Storage) GetPendingOrderState(ctx context.Context, trackingNumber string) (*PendingOrderState, error) {
	var p PendingOrderState
	err := s.db.QueryRow(ctx, `
SELECT tracking_number, order_type, original_order_id, status, is_received, received_at, received_by, received_notes
FROM pending_orders
WHERE tracking_number = $1
`, trackingNumber).Scan(
		&p.TrackingNumber, &p.OrderType, &p.OriginalOrderID, &p.Status,
		&p.IsReceived, &p.ReceivedAt, &p.ReceivedBy, &p.ReceivedNotes,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errors.Wrap(ErrPendingNotFound, trackingNumber)
	}
	if err != nil {
		return nil, errors.Wrap(err, "select pending order")
	}
	return &p, nil
}
