package repository

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	internaldb "github.com/code-and-effect/effective-qb-sync/internal/db"
	"github.com/code-and-effect/effective-qb-sync/internal/domain"
)

func setupStore(t *testing.T) (*Store, *sql.DB) {
	t.Helper()
	writeDB, readDB := internaldb.OpenTestSQLite(t)
	return NewStore(writeDB, readDB, nil), writeDB
}

func insertOrder(t *testing.T, db *sql.DB, publicID string, purchasedAt time.Time, lines ...string) int64 {
	t.Helper()
	res, err := db.Exec(
		`INSERT INTO orders (public_id, billing_first_name, billing_last_name, purchased_at)
		 VALUES (?, 'Peter', 'Smith', ?)`, publicID, purchasedAt.UTC())
	require.NoError(t, err)
	orderID, err := res.LastInsertId()
	require.NoError(t, err)

	for _, name := range lines {
		_, err := db.Exec(
			`INSERT INTO order_lines (order_id, name, subtotal_cents) VALUES (?, ?, 1000)`,
			orderID, name)
		require.NoError(t, err)
	}
	return orderID
}

func TestStore_CreateAndLoadTicket(t *testing.T) {
	store, _ := setupStore(t)
	ctx := context.Background()

	ticket, err := store.CreateTicket(ctx)
	require.NoError(t, err)
	assert.Positive(t, ticket.ID)
	assert.Equal(t, domain.TicketReady, ticket.State)

	loaded, err := store.TicketByID(ctx, ticket.ID)
	require.NoError(t, err)
	assert.Equal(t, ticket.ID, loaded.ID)
	assert.Equal(t, domain.TicketReady, loaded.State)
	assert.Nil(t, loaded.CurrentRequestID)
}

func TestStore_TicketByIDNotFound(t *testing.T) {
	store, _ := setupStore(t)

	_, err := store.TicketByID(context.Background(), 999)
	var nf *domain.NotFoundError
	assert.ErrorAs(t, err, &nf)
}

func TestStore_SaveTicketWithLogs(t *testing.T) {
	store, _ := setupStore(t)
	ctx := context.Background()

	ticket, err := store.CreateTicket(ctx)
	require.NoError(t, err)

	ticket.State = domain.TicketAuthenticated
	ticket.Username = "webconnector"
	require.NoError(t, store.SaveTicket(ctx, ticket, "Authentication successful", "2 orders to synchronize"))

	loaded, err := store.TicketByID(ctx, ticket.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TicketAuthenticated, loaded.State)
	assert.Equal(t, "webconnector", loaded.Username)

	logs, err := store.Logs(ctx, ticket.ID)
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Equal(t, "Authentication successful", logs[0].Message)
	assert.Equal(t, "2 orders to synchronize", logs[1].Message)
}

func TestStore_SendRequestAssignsIDBeforeGeneration(t *testing.T) {
	store, db := setupStore(t)
	ctx := context.Background()

	orderID := insertOrder(t, db, "1001", time.Now(), "Membership")
	ticket, err := store.CreateTicket(ctx)
	require.NoError(t, err)

	req := &domain.Request{TicketID: ticket.ID, OrderID: orderID, State: domain.RequestCustomerQuery}
	var seenID int64
	err = store.SendRequest(ctx, ticket, req, func(requestID int64) (string, error) {
		seenID = requestID
		return "<QBXML/>", nil
	}, "Customer query sent")
	require.NoError(t, err)

	assert.Positive(t, req.ID)
	assert.Equal(t, req.ID, seenID)
	assert.Equal(t, "<QBXML/>", req.RequestQBXML)
	require.NotNil(t, req.RequestSentAt)

	loaded, err := store.RequestByID(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RequestCustomerQuery, loaded.State)
	assert.Equal(t, "<QBXML/>", loaded.RequestQBXML)
	require.NotNil(t, loaded.Order)
	assert.Equal(t, "1001", loaded.Order.PublicID)
	require.Len(t, loaded.Order.Lines, 1)
}

func TestStore_SendRequestRollsBackOnGenerateError(t *testing.T) {
	store, db := setupStore(t)
	ctx := context.Background()

	orderID := insertOrder(t, db, "1002", time.Now())
	ticket, err := store.CreateTicket(ctx)
	require.NoError(t, err)

	req := &domain.Request{TicketID: ticket.ID, OrderID: orderID, State: domain.RequestCustomerQuery}
	genErr := errors.New("no item name")
	err = store.SendRequest(ctx, ticket, req, func(int64) (string, error) {
		return "", genErr
	})
	require.ErrorIs(t, err, genErr)

	// The request row must not survive the rollback, and the ticket must
	// not come back pointing at the rolled-back row.
	count, err := store.RequestCountForTicket(ctx, ticket.ID)
	require.NoError(t, err)
	assert.Zero(t, count)
	assert.Nil(t, ticket.CurrentRequestID)

	// The ticket must still be saveable so the failure can be recorded.
	ticket.State = domain.TicketRequestError
	ticket.LastError = genErr.Error()
	require.NoError(t, store.SaveTicket(ctx, ticket, genErr.Error()))

	reloaded, err := store.TicketByID(ctx, ticket.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TicketRequestError, reloaded.State)
	assert.Equal(t, genErr.Error(), reloaded.LastError)
}

func TestStore_CompleteExchangeMarksOrderSynced(t *testing.T) {
	store, db := setupStore(t)
	ctx := context.Background()

	orderID := insertOrder(t, db, "1003", time.Now(), "Membership")
	_, err := db.Exec(`INSERT INTO qb_order_items (order_line_id, name) SELECT id, 'QB Membership' FROM order_lines WHERE order_id = ?`, orderID)
	require.NoError(t, err)

	ticket, err := store.CreateTicket(ctx)
	require.NoError(t, err)

	req := &domain.Request{TicketID: ticket.ID, OrderID: orderID, State: domain.RequestOrderSync}
	require.NoError(t, store.SendRequest(ctx, ticket, req, func(int64) (string, error) { return "<rq/>", nil }))

	req.Order, err = store.OrderByID(ctx, orderID)
	require.NoError(t, err)

	req.State = domain.RequestFinished
	req.ResponseQBXML = "<rs/>"
	require.NoError(t, store.CompleteExchange(ctx, ticket, req, true, "Order synchronized"))

	order, err := store.OrderByID(ctx, orderID)
	require.NoError(t, err)
	assert.Equal(t, domain.SyncSuccess, order.SyncStatus)
}

func TestStore_CompleteExchangeMarksOrderFailed(t *testing.T) {
	store, db := setupStore(t)
	ctx := context.Background()

	orderID := insertOrder(t, db, "1004", time.Now())
	ticket, err := store.CreateTicket(ctx)
	require.NoError(t, err)

	req := &domain.Request{TicketID: ticket.ID, OrderID: orderID, State: domain.RequestOrderSync}
	require.NoError(t, store.SendRequest(ctx, ticket, req, func(int64) (string, error) { return "<rq/>", nil }))

	req.State = domain.RequestError
	req.Error = "QuickBooks rejected the receipt"
	require.NoError(t, store.CompleteExchange(ctx, ticket, req, false))

	order, err := store.OrderByID(ctx, orderID)
	require.NoError(t, err)
	assert.Equal(t, domain.SyncFailed, order.SyncStatus)
}

func TestStore_PurchasedUnsynced(t *testing.T) {
	store, db := setupStore(t)
	ctx := context.Background()

	early := time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC)
	late := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)

	o1 := insertOrder(t, db, "2001", early, "A")
	o2 := insertOrder(t, db, "2002", late, "B")
	o3 := insertOrder(t, db, "2003", early, "C")

	// o3 already has a Finished request, so discovery must skip it.
	ticket, err := store.CreateTicket(ctx)
	require.NoError(t, err)
	req := &domain.Request{TicketID: ticket.ID, OrderID: o3, State: domain.RequestFinished}
	require.NoError(t, store.SendRequest(ctx, ticket, req, func(int64) (string, error) { return "", nil }))

	orders, err := store.PurchasedUnsynced(ctx, nil, nil)
	require.NoError(t, err)
	require.Len(t, orders, 2)
	assert.Equal(t, o1, orders[0].ID)
	assert.Equal(t, o2, orders[1].ID)

	// before filter excludes the late order.
	cutoff := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	orders, err = store.PurchasedUnsynced(ctx, &cutoff, nil)
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, o1, orders[0].ID)

	// ids filter restricts the set.
	orders, err = store.PurchasedUnsynced(ctx, nil, []int64{o2})
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, o2, orders[0].ID)
}

func TestStore_ItemNameResolution(t *testing.T) {
	writeDB, readDB := internaldb.OpenTestSQLite(t)
	store := NewStore(writeDB, readDB, map[string]string{"Donation": "QB Donations"})
	ctx := context.Background()

	orderID := insertOrder(t, writeDB, "3001", time.Now(), "Donation", "Mystery Item")

	order, err := store.OrderByID(ctx, orderID)
	require.NoError(t, err)
	require.Len(t, order.Lines, 2)
	assert.Equal(t, "QB Donations", order.Lines[0].QBItemName, "fallback map resolves by line name")
	assert.Empty(t, order.Lines[1].QBItemName)

	// A stored mapping row wins over the fallback map.
	require.NoError(t, store.SetName(ctx, order.Lines[0].ID, "QB Gifts"))
	order, err = store.OrderByID(ctx, orderID)
	require.NoError(t, err)
	assert.Equal(t, "QB Gifts", order.Lines[0].QBItemName)
}

func TestStore_SetNameValidates(t *testing.T) {
	store, db := setupStore(t)
	ctx := context.Background()

	orderID := insertOrder(t, db, "3002", time.Now(), "A")
	order, err := store.OrderByID(ctx, orderID)
	require.NoError(t, err)

	var ve *domain.ValidationError
	assert.ErrorAs(t, store.SetName(ctx, order.Lines[0].ID, ""), &ve)

	var nf *domain.NotFoundError
	assert.ErrorAs(t, store.SetName(ctx, 9999, "X"), &nf)
}

func TestStore_CreateFinishedTicket(t *testing.T) {
	store, db := setupStore(t)
	ctx := context.Background()

	o1 := insertOrder(t, db, "4001", time.Now())
	o2 := insertOrder(t, db, "4002", time.Now())

	ticket, err := store.CreateFinishedTicket(ctx, "Marked all orders as synchronized",
		[]*domain.Request{{OrderID: o1}, {OrderID: o2}})
	require.NoError(t, err)
	assert.Equal(t, domain.TicketFinished, ticket.State)
	assert.Equal(t, 100, ticket.Percent)

	orders, err := store.PurchasedUnsynced(ctx, nil, nil)
	require.NoError(t, err)
	assert.Empty(t, orders, "swept orders are no longer discovered")

	logs, err := store.Logs(ctx, ticket.ID)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, "Marked all orders as synchronized", logs[0].Message)
}

func TestStore_ListTickets(t *testing.T) {
	store, _ := setupStore(t)
	ctx := context.Background()

	first, err := store.CreateTicket(ctx)
	require.NoError(t, err)
	second, err := store.CreateTicket(ctx)
	require.NoError(t, err)

	tickets, err := store.ListTickets(ctx, 10)
	require.NoError(t, err)
	require.Len(t, tickets, 2)
	assert.Equal(t, second.ID, tickets[0].ID, "newest first")
	assert.Equal(t, first.ID, tickets[1].ID)

	tickets, err = store.ListTickets(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, tickets, 1)
}

func TestStore_ReapStale(t *testing.T) {
	store, db := setupStore(t)
	ctx := context.Background()

	stale, err := store.CreateTicket(ctx)
	require.NoError(t, err)
	fresh, err := store.CreateTicket(ctx)
	require.NoError(t, err)
	done, err := store.CreateTicket(ctx)
	require.NoError(t, err)
	done.State = domain.TicketFinished
	require.NoError(t, store.SaveTicket(ctx, done))

	// Age the stale ticket behind the cutoff.
	old := time.Now().UTC().Add(-48 * time.Hour)
	_, err = db.Exec(`UPDATE qb_tickets SET updated_at = ? WHERE id = ?`, old, stale.ID)
	require.NoError(t, err)

	n, err := store.ReapStale(ctx, time.Now().UTC().Add(-24*time.Hour), "Session abandoned")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	reaped, err := store.TicketByID(ctx, stale.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TicketRequestError, reaped.State)
	assert.Equal(t, "Session abandoned", reaped.LastError)

	untouched, err := store.TicketByID(ctx, fresh.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TicketReady, untouched.State)
}
