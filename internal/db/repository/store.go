// Package repository implements the domain's persistence ports on SQLite.
//
// All writes go through the single-connection write pool; reads use the read
// pool. Compound methods run in one transaction on the write pool so a
// protocol exchange is either fully recorded or not at all.
package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/code-and-effect/effective-qb-sync/internal/domain"
)

// Store implements domain.TicketStore, domain.OrderSource, and
// domain.ItemNames on a SQLite write/read pool pair.
//
// itemNameMap is the optional site-name to QuickBooks-name fallback applied
// when an order line has no stored mapping row.
type Store struct {
	write *sql.DB
	read  *sql.DB

	itemNameMap map[string]string
}

func NewStore(write, read *sql.DB, itemNameMap map[string]string) *Store {
	return &Store{write: write, read: read, itemNameMap: itemNameMap}
}

const ticketColumns = `id, state, username, hpc_response, company_file_name, country,
	qbxml_major_version, qbxml_minor_version, percent, last_error,
	connection_error_hresult, connection_error_message, current_request_id,
	created_at, updated_at`

func (s *Store) CreateTicket(ctx context.Context) (*domain.Ticket, error) {
	now := time.Now().UTC()

	res, err := s.write.ExecContext(ctx,
		`INSERT INTO qb_tickets (state, created_at, updated_at) VALUES (?, ?, ?)`,
		string(domain.TicketReady), now, now)
	if err != nil {
		return nil, fmt.Errorf("insert ticket: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("insert ticket: %w", err)
	}

	return &domain.Ticket{
		ID:        id,
		State:     domain.TicketReady,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

func (s *Store) TicketByID(ctx context.Context, id int64) (*domain.Ticket, error) {
	row := s.read.QueryRowContext(ctx,
		`SELECT `+ticketColumns+` FROM qb_tickets WHERE id = ?`, id)

	t, err := scanTicket(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound("ticket %d not found", id)
		}
		return nil, fmt.Errorf("select ticket %d: %w", id, err)
	}
	return t, nil
}

func (s *Store) SaveTicket(ctx context.Context, t *domain.Ticket, logs ...string) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if err := updateTicketTx(ctx, tx, t); err != nil {
			return err
		}
		return appendLogsTx(ctx, tx, t.ID, logs)
	})
}

func (s *Store) Logs(ctx context.Context, ticketID int64) ([]domain.TicketLog, error) {
	rows, err := s.read.QueryContext(ctx,
		`SELECT id, qb_ticket_id, message, created_at
		 FROM qb_logs WHERE qb_ticket_id = ? ORDER BY id`, ticketID)
	if err != nil {
		return nil, fmt.Errorf("select logs for ticket %d: %w", ticketID, err)
	}
	defer rows.Close() //nolint:errcheck

	var logs []domain.TicketLog
	for rows.Next() {
		var l domain.TicketLog
		if err := rows.Scan(&l.ID, &l.TicketID, &l.Message, &l.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan log: %w", err)
		}
		logs = append(logs, l)
	}
	return logs, rows.Err()
}

const requestColumns = `id, qb_ticket_id, order_id, state, error,
	request_qbxml, response_qbxml, request_sent_at, response_received_at,
	created_at, updated_at`

func (s *Store) RequestByID(ctx context.Context, id int64) (*domain.Request, error) {
	row := s.read.QueryRowContext(ctx,
		`SELECT `+requestColumns+` FROM qb_requests WHERE id = ?`, id)

	r, err := scanRequest(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound("request %d not found", id)
		}
		return nil, fmt.Errorf("select request %d: %w", id, err)
	}

	order, err := s.OrderByID(ctx, r.OrderID)
	if err != nil {
		return nil, err
	}
	r.Order = order
	return r, nil
}

func (s *Store) RequestCountForTicket(ctx context.Context, ticketID int64) (int, error) {
	var n int
	err := s.read.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM qb_requests WHERE qb_ticket_id = ?`, ticketID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count requests for ticket %d: %w", ticketID, err)
	}
	return n, nil
}

func (s *Store) SendRequest(ctx context.Context, t *domain.Ticket, r *domain.Request, generate func(requestID int64) (string, error), logs ...string) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		now := time.Now().UTC()

		if r.ID == 0 {
			res, err := tx.ExecContext(ctx,
				`INSERT INTO qb_requests (qb_ticket_id, order_id, state, created_at, updated_at)
				 VALUES (?, ?, ?, ?, ?)`,
				r.TicketID, r.OrderID, string(r.State), now, now)
			if err != nil {
				return fmt.Errorf("insert request: %w", err)
			}
			id, err := res.LastInsertId()
			if err != nil {
				return fmt.Errorf("insert request: %w", err)
			}
			r.ID = id
			r.CreatedAt = now
		}
		// The outbound document embeds the row ID as its requestID
		// attribute, so generation happens after the insert but inside
		// the same transaction. The ticket is attached only once
		// generation succeeds: a rollback must not leave the ticket
		// pointing at a request row that no longer exists.
		qbxml, err := generate(r.ID)
		if err != nil {
			return err
		}
		t.CurrentRequestID = &r.ID
		r.RequestQBXML = qbxml
		r.RequestSentAt = &now
		r.UpdatedAt = now

		_, err = tx.ExecContext(ctx,
			`UPDATE qb_requests
			 SET state = ?, error = ?, request_qbxml = ?, request_sent_at = ?, updated_at = ?
			 WHERE id = ?`,
			string(r.State), r.Error, r.RequestQBXML, r.RequestSentAt, now, r.ID)
		if err != nil {
			return fmt.Errorf("update request %d: %w", r.ID, err)
		}

		if err := updateTicketTx(ctx, tx, t); err != nil {
			return err
		}
		return appendLogsTx(ctx, tx, t.ID, logs)
	})
}

func (s *Store) CompleteExchange(ctx context.Context, t *domain.Ticket, r *domain.Request, markSynced bool, logs ...string) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		now := time.Now().UTC()
		if r.ResponseReceivedAt == nil {
			r.ResponseReceivedAt = &now
		}
		r.UpdatedAt = now

		_, err := tx.ExecContext(ctx,
			`UPDATE qb_requests
			 SET state = ?, error = ?, response_qbxml = ?, response_received_at = ?, updated_at = ?
			 WHERE id = ?`,
			string(r.State), r.Error, r.ResponseQBXML, r.ResponseReceivedAt, now, r.ID)
		if err != nil {
			return fmt.Errorf("update request %d: %w", r.ID, err)
		}

		switch {
		case markSynced:
			if err := markOrderTx(ctx, tx, r.OrderID, domain.SyncSuccess, now); err != nil {
				return err
			}
			if r.Order != nil {
				if err := snapshotItemNamesTx(ctx, tx, r.Order, now); err != nil {
					return err
				}
			}
		case r.State == domain.RequestError:
			if err := markOrderTx(ctx, tx, r.OrderID, domain.SyncFailed, now); err != nil {
				return err
			}
		}

		if err := updateTicketTx(ctx, tx, t); err != nil {
			return err
		}
		return appendLogsTx(ctx, tx, t.ID, logs)
	})
}

func (s *Store) CreateFinishedTicket(ctx context.Context, message string, reqs []*domain.Request) (*domain.Ticket, error) {
	t := &domain.Ticket{State: domain.TicketFinished, Percent: 100}

	err := s.inTx(ctx, func(tx *sql.Tx) error {
		now := time.Now().UTC()
		t.CreatedAt = now
		t.UpdatedAt = now

		res, err := tx.ExecContext(ctx,
			`INSERT INTO qb_tickets (state, percent, created_at, updated_at) VALUES (?, ?, ?, ?)`,
			string(t.State), t.Percent, now, now)
		if err != nil {
			return fmt.Errorf("insert finished ticket: %w", err)
		}
		t.ID, err = res.LastInsertId()
		if err != nil {
			return fmt.Errorf("insert finished ticket: %w", err)
		}

		for _, r := range reqs {
			r.TicketID = t.ID
			r.State = domain.RequestFinished
			res, err := tx.ExecContext(ctx,
				`INSERT INTO qb_requests (qb_ticket_id, order_id, state, created_at, updated_at)
				 VALUES (?, ?, ?, ?, ?)`,
				r.TicketID, r.OrderID, string(r.State), now, now)
			if err != nil {
				return fmt.Errorf("insert finished request: %w", err)
			}
			if r.ID, err = res.LastInsertId(); err != nil {
				return fmt.Errorf("insert finished request: %w", err)
			}
			if err := markOrderTx(ctx, tx, r.OrderID, domain.SyncSuccess, now); err != nil {
				return err
			}
		}

		return appendLogsTx(ctx, tx, t.ID, []string{message})
	})
	if err != nil {
		return nil, err
	}
	return t, nil
}

func (s *Store) ListTickets(ctx context.Context, limit int) ([]domain.Ticket, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.read.QueryContext(ctx,
		`SELECT `+ticketColumns+` FROM qb_tickets ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list tickets: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	var tickets []domain.Ticket
	for rows.Next() {
		t, err := scanTicket(rows)
		if err != nil {
			return nil, fmt.Errorf("scan ticket: %w", err)
		}
		tickets = append(tickets, *t)
	}
	return tickets, rows.Err()
}

func (s *Store) ReapStale(ctx context.Context, cutoff time.Time, message string) (int, error) {
	var reaped int
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx,
			`SELECT id FROM qb_tickets
			 WHERE state IN (?, ?, ?) AND updated_at < ?`,
			string(domain.TicketReady), string(domain.TicketAuthenticated),
			string(domain.TicketProcessing), cutoff.UTC())
		if err != nil {
			return fmt.Errorf("select stale tickets: %w", err)
		}
		var ids []int64
		for rows.Next() {
			var id int64
			if err := rows.Scan(&id); err != nil {
				rows.Close() //nolint:errcheck,gosec
				return fmt.Errorf("scan stale ticket: %w", err)
			}
			ids = append(ids, id)
		}
		rows.Close() //nolint:errcheck,gosec
		if err := rows.Err(); err != nil {
			return err
		}

		now := time.Now().UTC()
		for _, id := range ids {
			_, err := tx.ExecContext(ctx,
				`UPDATE qb_tickets SET state = ?, last_error = ?, updated_at = ? WHERE id = ?`,
				string(domain.TicketRequestError), message, now, id)
			if err != nil {
				return fmt.Errorf("reap ticket %d: %w", id, err)
			}
			if err := appendLogsTx(ctx, tx, id, []string{message}); err != nil {
				return err
			}
		}
		reaped = len(ids)
		return nil
	})
	return reaped, err
}

// inTx runs fn inside a transaction on the write pool.
func (s *Store) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.write.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func updateTicketTx(ctx context.Context, tx *sql.Tx, t *domain.Ticket) error {
	t.UpdatedAt = time.Now().UTC()

	var currentRequestID interface{}
	if t.CurrentRequestID != nil {
		currentRequestID = *t.CurrentRequestID
	}

	res, err := tx.ExecContext(ctx,
		`UPDATE qb_tickets
		 SET state = ?, username = ?, hpc_response = ?, company_file_name = ?,
		     country = ?, qbxml_major_version = ?, qbxml_minor_version = ?,
		     percent = ?, last_error = ?, connection_error_hresult = ?,
		     connection_error_message = ?, current_request_id = ?, updated_at = ?
		 WHERE id = ?`,
		string(t.State), t.Username, t.HPCResponse, t.CompanyFileName,
		t.Country, t.QBXMLMajorVersion, t.QBXMLMinorVersion,
		t.Percent, t.LastError, t.ConnectionErrorHResult,
		t.ConnectionErrorMessage, currentRequestID, t.UpdatedAt, t.ID)
	if err != nil {
		return fmt.Errorf("update ticket %d: %w", t.ID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return domain.ErrNotFound("ticket %d not found", t.ID)
	}
	return nil
}

func appendLogsTx(ctx context.Context, tx *sql.Tx, ticketID int64, logs []string) error {
	now := time.Now().UTC()
	for _, msg := range logs {
		if msg == "" {
			continue
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO qb_logs (qb_ticket_id, message, created_at) VALUES (?, ?, ?)`,
			ticketID, msg, now)
		if err != nil {
			return fmt.Errorf("append log for ticket %d: %w", ticketID, err)
		}
	}
	return nil
}

func markOrderTx(ctx context.Context, tx *sql.Tx, orderID int64, status domain.SyncStatus, now time.Time) error {
	_, err := tx.ExecContext(ctx,
		`UPDATE orders SET sync_status = ?, updated_at = ? WHERE id = ?`,
		string(status), now, orderID)
	if err != nil {
		return fmt.Errorf("mark order %d %s: %w", orderID, status, err)
	}
	return nil
}

// snapshotItemNamesTx stamps each line's resolved QuickBooks item name into
// the mapping table, so a line synchronized via the fallback map keeps its
// name even if the map file changes later.
func snapshotItemNamesTx(ctx context.Context, tx *sql.Tx, order *domain.Order, now time.Time) error {
	for _, line := range order.Lines {
		if line.QBItemName == "" {
			continue
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO qb_order_items (order_line_id, name, created_at, updated_at)
			 VALUES (?, ?, ?, ?)
			 ON CONFLICT (order_line_id) DO UPDATE SET name = excluded.name, updated_at = excluded.updated_at`,
			line.ID, line.QBItemName, now, now)
		if err != nil {
			return fmt.Errorf("snapshot item name for line %d: %w", line.ID, err)
		}
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTicket(row rowScanner) (*domain.Ticket, error) {
	var t domain.Ticket
	var state string
	var currentRequestID sql.NullInt64

	err := row.Scan(&t.ID, &state, &t.Username, &t.HPCResponse, &t.CompanyFileName,
		&t.Country, &t.QBXMLMajorVersion, &t.QBXMLMinorVersion, &t.Percent,
		&t.LastError, &t.ConnectionErrorHResult, &t.ConnectionErrorMessage,
		&currentRequestID, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	t.State = domain.TicketState(state)
	if currentRequestID.Valid {
		t.CurrentRequestID = &currentRequestID.Int64
	}
	return &t, nil
}

func scanRequest(row rowScanner) (*domain.Request, error) {
	var r domain.Request
	var state string
	var sentAt, receivedAt sql.NullTime

	err := row.Scan(&r.ID, &r.TicketID, &r.OrderID, &state, &r.Error,
		&r.RequestQBXML, &r.ResponseQBXML, &sentAt, &receivedAt,
		&r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, err
	}
	r.State = domain.RequestState(state)
	if sentAt.Valid {
		t := sentAt.Time
		r.RequestSentAt = &t
	}
	if receivedAt.Valid {
		t := receivedAt.Time
		r.ResponseReceivedAt = &t
	}
	return &r, nil
}
