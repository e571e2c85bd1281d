package models

import "time"

const (
	EventOrderCreated      = "order_created"
	EventPaymentReconciled = "payment_reconciled"
)

type OrderEvent struct {
	Type          string        `json:"type"`
	OrderID       string        `json:"order_id"`
	UserID        string        `json:"user_id,omitempty"`
	PaymentMethod PaymentMethod `json:"payment_method"`
	PaymentStatus PaymentStatus `json:"payment_status"`
	TotalAmount   float64       `json:"total_amount"`
	Currency      string        `json:"currency"`
	ItemCount     int           `json:"item_count"`
	Timestamp     time.Time     `json:"timestamp"`
}

type PaymentEvent struct {
	Type      string               `json:"type"`
	PaymentID string               `json:"payment_id"`
	OrderID   string               `json:"order_id,omitempty"`
	Status    GatewayPaymentStatus `json:"status,omitempty"`
	Success   bool                 `json:"success"`
	Reason    string               `json:"reason,omitempty"`
	Amount    int64                `json:"amount,omitempty"`
	Currency  string               `json:"currency,omitempty"`
	Timestamp time.Time            `json:"timestamp"`
}

func NewOrderEvent(o *Order) OrderEvent {
	ev := OrderEvent{
		Type:          EventOrderCreated,
		OrderID:       o.OrderID,
		PaymentMethod: o.PaymentMethod,
		PaymentStatus: o.PaymentStatus,
		TotalAmount:   o.TotalAmount,
		Currency:      o.Currency,
		ItemCount:     len(o.Items),
		Timestamp:     time.Now().UTC(),
	}
	if o.UserID != nil {
		ev.UserID = *o.UserID
	}
	return ev
}
