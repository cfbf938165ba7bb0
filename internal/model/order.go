package model

import "time"

// OrderStatus tracks an order through payment confirmation and shipment
// booking.
type OrderStatus string

const (
	// OrderStatusPaid: payment confirmed, shipment not yet booked.
	OrderStatusPaid OrderStatus = "paid"
	// OrderStatusShipmentCreated: the carrier accepted the shipment booking.
	OrderStatusShipmentCreated OrderStatus = "shipment_created"
	// OrderStatusShipmentFailed: booking failed; the order stays recorded and
	// the failure is handled operationally.
	OrderStatusShipmentFailed OrderStatus = "shipment_failed"
)

// Order is a persisted record of a completed checkout session.
type Order struct {
	ID            string      `json:"id"`
	SessionID     string      `json:"session_id"`
	AmountTotal   int64       `json:"amount_total"`
	Currency      string      `json:"currency"`
	CustomerEmail string      `json:"customer_email,omitempty"`
	Status        OrderStatus `json:"status"`
	// ItemsJSON is the raw items metadata from the payment session.
	ItemsJSON   string    `json:"items,omitempty"`
	QuotationID string    `json:"quotation_id,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}
