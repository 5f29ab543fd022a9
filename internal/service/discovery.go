// Package service implements the synchronization session machine: order
// discovery, the per-order request sub-state-machine, the Web Connector
// session orchestrator, and the operational helpers around them.
package service

import (
	"context"
	"time"

	"github.com/code-and-effect/effective-qb-sync/internal/domain"
)

// Discovery finds orders that still need synchronizing and shapes them into
// unpersisted request stubs. Read-only; requests are persisted only when a
// session decides to send one.
type Discovery struct {
	orders domain.OrderSource
}

func NewDiscovery(orders domain.OrderSource) *Discovery {
	return &Discovery{orders: orders}
}

// NextRequests returns one request stub per unsynchronized purchased order,
// ordered by order id ascending. before and ids filter the candidate set.
func (d *Discovery) NextRequests(ctx context.Context, before *time.Time, ids []int64) ([]*domain.Request, error) {
	orders, err := d.orders.PurchasedUnsynced(ctx, before, ids)
	if err != nil {
		return nil, err
	}

	reqs := make([]*domain.Request, 0, len(orders))
	for i := range orders {
		order := orders[i]
		reqs = append(reqs, &domain.Request{
			OrderID: order.ID,
			State:   domain.RequestProcessing,
			Order:   &order,
		})
	}
	return reqs, nil
}

// Count returns how many orders currently qualify for synchronization.
func (d *Discovery) Count(ctx context.Context) (int, error) {
	orders, err := d.orders.PurchasedUnsynced(ctx, nil, nil)
	if err != nil {
		return 0, err
	}
	return len(orders), nil
}
