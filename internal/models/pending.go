package models

import "time"

const (
	PendingTypeExchange       = "EXCHANGE"
	PendingTypeCustomerReturn = "CUSTOMER_RETURN_PICKUP"
	PendingTypeUnknown        = "UNKNOWN"
)

// Статусы pending-заказа. Меняются только оператором.
const (
	PendingStatusPending   = "pending"
	PendingStatusReceived  = "received"
	PendingStatusProcessed = "processed"
	PendingStatusCompleted = "completed"
)

func IsValidPendingStatus(s string) bool {
	switch s {
	case PendingStatusPending, PendingStatusReceived, PendingStatusProcessed, PendingStatusCompleted:
		return true
	}
	return false
}

// PendingOrder is an exchange or return pickup awaiting physical receipt.
type PendingOrder struct {
	Order

	OrderID         string
	OriginalOrderID *string
	OrderType       string

	Status        string
	IsReceived    bool
	ReceivedAt    *time.Time
	ReceivedBy    string
	ReceivedNotes string
}

func (p *PendingOrder) Columns() map[string]any {
	cols := p.Order.Columns()
	// pending_orders has its own serial id; the remote id lives in order_id.
	delete(cols, "id")
	cols["order_id"] = p.OrderID
	cols["original_order_id"] = p.OriginalOrderID
	cols["order_type"] = p.OrderType
	cols["status"] = p.Status
	cols["is_received"] = p.IsReceived
	return cols
}

// PendingStatusUpdate is an operator transition of a pending order.
type PendingStatusUpdate struct {
	TrackingNumber string
	Status         string
	ReceivedBy     string
	Notes          string
	At             time.Time
}
