package resilience

import (
	"context"

	"github.com/impetus-mx/storefront-api/pkg/skydropx"
)

// GuardedCarrier wraps a carrier client and routes shipment bookings through
// a circuit breaker. Quote traffic passes through untouched: the quote
// pipeline already bounds its own attempts, while bookings fire from webhook
// deliveries and would otherwise hammer a failing carrier on every retry
// Stripe sends.
type GuardedCarrier struct {
	inner   skydropx.Client
	breaker *Breaker
}

// NewGuardedCarrier wraps client so CreateShipment is subject to breaker.
func NewGuardedCarrier(client skydropx.Client, breaker *Breaker) *GuardedCarrier {
	return &GuardedCarrier{inner: client, breaker: breaker}
}

func (g *GuardedCarrier) Quote(ctx context.Context, payload any) (any, error) {
	return g.inner.Quote(ctx, payload)
}

func (g *GuardedCarrier) CreateShipment(ctx context.Context, payload any) (any, error) {
	if err := g.breaker.Allow(); err != nil {
		return nil, err
	}
	result, err := g.inner.CreateShipment(ctx, payload)
	g.breaker.Record(err)
	return result, err
}
