package domain

import (
	"context"
	"time"
)

// TicketStore persists tickets, their requests, and their append-only logs.
// Compound methods execute as a single database transaction: either every
// mutation they describe is committed, or none is.
type TicketStore interface {
	// CreateTicket inserts a new ticket in the Ready state.
	CreateTicket(ctx context.Context) (*Ticket, error)

	// TicketByID loads a ticket, or a NotFoundError.
	TicketByID(ctx context.Context, id int64) (*Ticket, error)

	// SaveTicket writes the ticket's mutable columns and appends the given
	// log lines in one transaction.
	SaveTicket(ctx context.Context, t *Ticket, logs ...string) error

	// Logs returns the ticket's log lines in append order.
	Logs(ctx context.Context, ticketID int64) ([]TicketLog, error)

	// RequestByID loads a request hydrated with its order and lines, or a
	// NotFoundError.
	RequestByID(ctx context.Context, id int64) (*Request, error)

	// RequestCountForTicket returns the size of the ticket's request history.
	RequestCountForTicket(ctx context.Context, ticketID int64) (int, error)

	// SendRequest persists an outbound exchange in one transaction: the
	// request row is inserted (assigning its ID) or updated, generate is
	// called with that ID to produce the outbound document, and the
	// document, send timestamp, ticket columns, and log lines are written.
	// If generate fails the transaction is rolled back and its error
	// returned.
	SendRequest(ctx context.Context, t *Ticket, r *Request, generate func(requestID int64) (string, error), logs ...string) error

	// CompleteExchange persists the outcome of an inbound response in one
	// transaction: the request's state, response document, error text and
	// receive timestamp, the ticket's columns, and the log lines. When
	// markSynced is set the request's order is marked synchronized and a
	// name snapshot is stamped for each of its lines.
	CompleteExchange(ctx context.Context, t *Ticket, r *Request, markSynced bool, logs ...string) error

	// CreateFinishedTicket inserts a closed Finished ticket carrying the
	// given log message plus a Finished request for every order in reqs,
	// all in one transaction.
	CreateFinishedTicket(ctx context.Context, message string, reqs []*Request) (*Ticket, error)

	// ListTickets returns the most recent tickets, newest first.
	ListTickets(ctx context.Context, limit int) ([]Ticket, error)

	// ReapStale moves every non-terminal ticket last touched before cutoff
	// to the RequestError state with the given log message. Returns the
	// number of tickets reaped.
	ReapStale(ctx context.Context, cutoff time.Time, message string) (int, error)
}

// OrderSource is the narrow read interface onto the e-commerce order
// subsystem: purchased orders that have no Finished request yet, hydrated
// with their lines and any stored item-name mappings.
type OrderSource interface {
	// PurchasedUnsynced returns qualifying orders ordered by id ascending.
	// before, when non-nil, restricts to orders purchased strictly before
	// it; ids, when non-empty, restricts to that id set.
	PurchasedUnsynced(ctx context.Context, before *time.Time, ids []int64) ([]Order, error)

	// OrderByID loads a single order with its lines, or a NotFoundError.
	OrderByID(ctx context.Context, id int64) (*Order, error)
}

// ItemNames manages the order-line to QuickBooks item-name mapping
// side-table.
type ItemNames interface {
	// SetName creates or updates the mapping for an order line.
	SetName(ctx context.Context, orderLineID int64, name string) error
}

// SyncNotifier is told about every synchronization failure a ticket records.
// Delivery is fire-and-forget; implementations must not block the caller on
// downstream outages.
type SyncNotifier interface {
	NotifySyncFailure(ctx context.Context, order *Order, errText string)
}
