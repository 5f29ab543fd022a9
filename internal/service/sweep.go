package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/code-and-effect/effective-qb-sync/internal/domain"
)

// Sweeper is the administrative escape hatch: it marks orders as
// synchronized without ever sending them to QuickBooks, by recording a
// Finished request for each under a closed ticket.
type Sweeper struct {
	store     domain.TicketStore
	discovery *Discovery
	logger    *slog.Logger
}

func NewSweeper(store domain.TicketStore, discovery *Discovery, logger *slog.Logger) *Sweeper {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{store: store, discovery: discovery, logger: logger}
}

// MarkAllSynced sweeps every unsynchronized order, optionally restricted to
// orders purchased before the given time, and returns how many were swept.
func (s *Sweeper) MarkAllSynced(ctx context.Context, before *time.Time) (int, error) {
	reqs, err := s.discovery.NextRequests(ctx, before, nil)
	if err != nil {
		return 0, err
	}
	if len(reqs) == 0 {
		return 0, nil
	}

	msg := fmt.Sprintf("Marked %d orders as synchronized without sending them to QuickBooks", len(reqs))
	ticket, err := s.store.CreateFinishedTicket(ctx, msg, reqs)
	if err != nil {
		return 0, err
	}

	s.logger.Info("swept unsynchronized orders", "count", len(reqs), "ticket", ticket.ID)
	return len(reqs), nil
}

// SkipOrder marks a single order as synchronized without sending it.
func (s *Sweeper) SkipOrder(ctx context.Context, orderID int64) error {
	reqs, err := s.discovery.NextRequests(ctx, nil, []int64{orderID})
	if err != nil {
		return err
	}
	if len(reqs) == 0 {
		return domain.ErrNotFound("order %d is not awaiting synchronization", orderID)
	}

	req := reqs[0]
	msg := fmt.Sprintf("Order %s skipped: marked as synchronized without sending to QuickBooks", req.Order.PublicID)
	ticket, err := s.store.CreateFinishedTicket(ctx, msg, []*domain.Request{req})
	if err != nil {
		return err
	}

	s.logger.Info("skipped order", "order", req.Order.PublicID, "ticket", ticket.ID)
	return nil
}
