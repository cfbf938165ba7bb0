// Package store persists completed orders. Two drivers are provided: sqlite
// for single-instance deployments and postgres for shared ones.
package store

import (
	"context"

	"github.com/impetus-mx/storefront-api/internal/model"
)

// Store defines order persistence. Lookups return (nil, nil) when no row
// matches.
type Store interface {
	// InsertOrder persists a new order record.
	InsertOrder(ctx context.Context, order model.Order) error

	// GetOrderBySessionID returns the order recorded for a payment session,
	// or nil when none exists. Webhook delivery is at-least-once, so this is
	// the idempotency check.
	GetOrderBySessionID(ctx context.Context, sessionID string) (*model.Order, error)

	// UpdateOrderStatus transitions an order's shipment-booking status.
	UpdateOrderStatus(ctx context.Context, sessionID string, status model.OrderStatus) error

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
