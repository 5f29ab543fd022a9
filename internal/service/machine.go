package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/code-and-effect/effective-qb-sync/internal/domain"
	"github.com/code-and-effect/effective-qb-sync/internal/qbxml"
)

// Sentinel strings the Web Connector protocol expects.
const (
	AuthInvalidUser  = "nvu"
	AuthNoWork       = "none"
	ConnectionDone   = "done"
	CloseOK          = "OK"
	CloseInvalid     = "Close error: invalid session"
	LastErrorInvalid = "Invalid session"
)

// ConnectorInfo is the metadata the connector sends with sendRequestXML.
// Each field is captured on the ticket the first time it arrives non-empty
// and never overwritten afterwards.
type ConnectorInfo struct {
	HCPResponse     string
	CompanyFileName string
	Country         string
	MajorVersion    string
	MinorVersion    string
}

// Machine orchestrates Web Connector sessions. Operations never return
// errors to the dispatcher: an unresolvable ticket degrades to the protocol's
// sentinel values, and internal failures move the ticket to RequestError.
type Machine struct {
	store     domain.TicketStore
	discovery *Discovery
	builder   *qbxml.Builder
	notifier  domain.SyncNotifier

	username string
	password string

	logger *slog.Logger
}

func NewMachine(store domain.TicketStore, discovery *Discovery, builder *qbxml.Builder, notifier domain.SyncNotifier, username, password string, logger *slog.Logger) *Machine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Machine{
		store:     store,
		discovery: discovery,
		builder:   builder,
		notifier:  notifier,
		username:  username,
		password:  password,
		logger:    logger,
	}
}

// Authenticate opens a new session. It returns the new ticket's id (the
// protocol's session ticket) and one of the authenticate status strings:
// "nvu" for bad credentials, "none" for valid credentials with no work to
// send, or "" for valid with work pending.
func (m *Machine) Authenticate(ctx context.Context, username, password string) (ticketID, status string) {
	t, err := m.store.CreateTicket(ctx)
	if err != nil {
		m.logger.Error("create ticket failed", "error", err)
		return "", AuthInvalidUser
	}
	id := strconv.FormatInt(t.ID, 10)
	t.Username = username

	if username != m.username || password != m.password {
		msg := fmt.Sprintf("Authentication failed for user %s", username)
		t.State = domain.TicketFinished
		t.LastError = msg
		m.save(ctx, t, msg)
		return id, AuthInvalidUser
	}

	// A discovery failure is a server-side fault: answer "none" so the
	// connector ends the session quietly instead of reporting the
	// operator's credentials as invalid.
	work, err := m.discovery.Count(ctx)
	if err != nil {
		m.logger.Error("order discovery failed during authenticate", "ticket", t.ID, "error", err)
		m.failTicket(ctx, t, fmt.Sprintf("An unexpected error occurred: %v", err))
		return id, AuthNoWork
	}

	if work == 0 {
		t.State = domain.TicketFinished
		m.save(ctx, t, "Authentication successful, but there is no work to be done")
		return id, AuthNoWork
	}

	t.State = domain.TicketAuthenticated
	m.save(ctx, t, "Authentication successful. Reporting to QuickBooks that there is work to be done.")
	return id, ""
}

// SendRequestXML returns the next outbound qbXML document, or "" when there
// is no work (ticket finishes) or the session is invalid.
func (m *Machine) SendRequestXML(ctx context.Context, ticketID string, info ConnectorInfo) string {
	t := m.resolve(ctx, ticketID)
	if t == nil {
		return ""
	}

	captureConnectorInfo(t, info)

	if t.State != domain.TicketAuthenticated && t.State != domain.TicketProcessing {
		m.failTicket(ctx, t, fmt.Sprintf("Ticket state %s not valid for sending requests", t.State))
		return ""
	}

	var logs []string

	req, err := m.currentOrNextRequest(ctx, t)
	if err != nil {
		m.failTicket(ctx, t, fmt.Sprintf("An unexpected error occurred: %v", err))
		return ""
	}
	if req == nil {
		t.State = domain.TicketFinished
		m.save(ctx, t, "There is no more work to be done. Marking ticket state as finished")
		return ""
	}

	if req.State == domain.RequestProcessing {
		logs = append(logs, transitionLog(req, domain.RequestCustomerQuery))
	}

	t.State = domain.TicketProcessing
	logs = append(logs, fmt.Sprintf("Sending request [%s] XML to QuickBooks", req.State))

	err = m.store.SendRequest(ctx, t, req, func(requestID int64) (string, error) {
		return m.builder.Generate(req.State, requestID, req.Order)
	}, logs...)
	if err != nil {
		m.notifyIfOrderFailure(ctx, req.Order, err)
		m.failTicket(ctx, t, fmt.Sprintf("An unexpected error occurred: %v", err))
		return ""
	}

	return req.RequestQBXML
}

// ReceiveResponseXML ingests an inbound response. It returns -1 on any
// failure, 100 when all work is done, or the percent complete otherwise.
func (m *Machine) ReceiveResponseXML(ctx context.Context, ticketID, response, hresult, message string) int {
	t := m.resolve(ctx, ticketID)
	if t == nil {
		return -1
	}

	if t.State != domain.TicketProcessing {
		m.failTicket(ctx, t, fmt.Sprintf("Ticket state %s not valid for processing responses", t.State))
		return -1
	}

	logs := []string{"Received response XML from QuickBooks"}

	if hresult != "" || message != "" {
		return m.handleConnectionErrorResponse(ctx, t, response, hresult, message, logs)
	}

	requestID, ok := qbxml.RequestIDFromResponse(response)
	if !ok {
		msg := "Received response back from QuickBooks but it did not correspond to any outstanding ticket request"
		m.failTicket(ctx, t, msg, logs...)
		return -1
	}
	if t.CurrentRequestID == nil || *t.CurrentRequestID != requestID {
		msg := "Received response from QuickBooks but it references a request other than the current request"
		m.failTicket(ctx, t, msg, logs...)
		return -1
	}

	req, err := m.store.RequestByID(ctx, requestID)
	if err != nil {
		m.failTicket(ctx, t, fmt.Sprintf("An unexpected error occurred: %v", err), logs...)
		return -1
	}

	logs = append(logs, fmt.Sprintf("Found corresponding request [%s]", req.State))
	req.ResponseQBXML = response

	outcome, err := interpretResponse(req, response)
	if err != nil {
		msg := fmt.Sprintf("Request [%s] could not process the QuickBooks response: %v", req.State, err)
		req.State = domain.RequestError
		req.Error = err.Error()
		t.State = domain.TicketRequestError
		t.LastError = msg
		if serr := m.store.CompleteExchange(ctx, t, req, false, append(logs, msg)...); serr != nil {
			m.logger.Error("persist failed exchange", "ticket", t.ID, "request", req.ID, "error", serr)
		}
		m.notifyIfOrderFailure(ctx, req.Order, err)
		return -1
	}

	logs = append(logs, outcome.logs...)

	if req.HasMoreWork() {
		logs = append(logs, fmt.Sprintf("Request [%s] has more work to do on the next request", req.State))
	} else {
		t.CurrentRequestID = nil
		logs = append(logs, fmt.Sprintf("Request [%s] has completed its work", req.State))
	}

	if err := m.store.CompleteExchange(ctx, t, req, outcome.markSynced, logs...); err != nil {
		m.failTicket(ctx, t, fmt.Sprintf("An unexpected error occurred: %v", err))
		return -1
	}

	percent, err := m.percentComplete(ctx, t)
	if err != nil {
		m.failTicket(ctx, t, fmt.Sprintf("An unexpected error occurred: %v", err))
		return -1
	}
	t.Percent = percent
	m.save(ctx, t)
	return percent
}

// ConnectionError records a connector-reported connection loss. Always
// answers "done": the connector must not retry this session.
func (m *Machine) ConnectionError(ctx context.Context, ticketID, hresult, message string) string {
	t := m.resolve(ctx, ticketID)
	if t != nil {
		t.ConnectionErrorHResult = hresult
		t.ConnectionErrorMessage = message
		t.State = domain.TicketConnectionError
		m.save(ctx, t, fmt.Sprintf("Connection error with QuickBooks: %s : %s", hresult, message))
	}
	return ConnectionDone
}

// CloseConnection finishes the session unless it already failed.
func (m *Machine) CloseConnection(ctx context.Context, ticketID string) string {
	t := m.resolve(ctx, ticketID)
	if t == nil {
		return CloseInvalid
	}
	if t.State != domain.TicketConnectionError && t.State != domain.TicketRequestError {
		t.State = domain.TicketFinished
	}
	m.save(ctx, t, "Closed connection with QuickBooks")
	return CloseOK
}

// LastError returns the ticket's stored last-error text.
func (m *Machine) LastError(ctx context.Context, ticketID string) string {
	t := m.resolve(ctx, ticketID)
	if t == nil {
		return LastErrorInvalid
	}
	return t.LastError
}

// FailUnexpectedly is the dispatcher's catch-all: any panic or unhandled
// failure during an operation lands the ticket in RequestError so the
// connector is never left with a hung session.
func (m *Machine) FailUnexpectedly(ctx context.Context, ticketID, message string) {
	t := m.resolve(ctx, ticketID)
	if t == nil {
		return
	}
	m.failTicket(ctx, t, fmt.Sprintf("An unexpected error occurred: %s", message))
}

func (m *Machine) handleConnectionErrorResponse(ctx context.Context, t *domain.Ticket, response, hresult, message string, logs []string) int {
	msg := fmt.Sprintf("Connection error with QuickBooks: %s : %s", hresult, message)
	logs = append(logs, msg)

	t.ConnectionErrorHResult = hresult
	t.ConnectionErrorMessage = message
	t.State = domain.TicketRequestError
	t.LastError = msg

	// Mark the outstanding request failed too, when the response still
	// carries enough to resolve it.
	if requestID, ok := qbxml.RequestIDFromResponse(response); ok {
		if req, err := m.store.RequestByID(ctx, requestID); err == nil {
			req.State = domain.RequestError
			req.Error = msg
			req.ResponseQBXML = response
			if serr := m.store.CompleteExchange(ctx, t, req, false, logs...); serr != nil {
				m.logger.Error("persist connection error", "ticket", t.ID, "error", serr)
			}
			m.notifyIfOrderFailure(ctx, req.Order, errors.New(msg))
			return -1
		}
	}

	m.save(ctx, t, logs...)
	return -1
}

// currentOrNextRequest returns the ticket's in-flight request, or asks
// discovery for the next order to synchronize. nil means no work remains.
func (m *Machine) currentOrNextRequest(ctx context.Context, t *domain.Ticket) (*domain.Request, error) {
	if t.CurrentRequestID != nil {
		return m.store.RequestByID(ctx, *t.CurrentRequestID)
	}

	stubs, err := m.discovery.NextRequests(ctx, nil, nil)
	if err != nil {
		return nil, err
	}
	if len(stubs) == 0 {
		return nil, nil
	}
	req := stubs[0]
	req.TicketID = t.ID
	return req, nil
}

// percentComplete implements the connector's progress protocol: done work is
// every request this ticket has attached, remaining work is discovery's
// current count plus the in-flight request. No remaining work is always 100,
// whatever the division would say.
func (m *Machine) percentComplete(ctx context.Context, t *domain.Ticket) (int, error) {
	done, err := m.store.RequestCountForTicket(ctx, t.ID)
	if err != nil {
		return 0, err
	}
	remaining, err := m.discovery.Count(ctx)
	if err != nil {
		return 0, err
	}
	if t.CurrentRequestID != nil {
		remaining++
	}
	if remaining == 0 {
		return 100, nil
	}
	return done * 100 / (done + remaining), nil
}

func (m *Machine) resolve(ctx context.Context, ticketID string) *domain.Ticket {
	id, err := strconv.ParseInt(ticketID, 10, 64)
	if err != nil {
		m.logger.Warn("unresolvable ticket", "ticket", ticketID)
		return nil
	}
	t, err := m.store.TicketByID(ctx, id)
	if err != nil {
		m.logger.Warn("unresolvable ticket", "ticket", ticketID, "error", err)
		return nil
	}
	return t
}

// failTicket moves the ticket to RequestError, storing msg as the last error
// and appending it to the log after any leading lines.
func (m *Machine) failTicket(ctx context.Context, t *domain.Ticket, msg string, leading ...string) {
	t.State = domain.TicketRequestError
	t.LastError = msg
	m.save(ctx, t, append(leading, msg)...)
}

// save persists the ticket. Protocol operations answer the connector with
// sentinels, so a storage failure is logged, not returned.
func (m *Machine) save(ctx context.Context, t *domain.Ticket, logs ...string) {
	if err := m.store.SaveTicket(ctx, t, logs...); err != nil {
		m.logger.Error("save ticket failed", "ticket", t.ID, "error", err)
	}
}

// notifyIfOrderFailure tells the notifier about order-attributable failures.
func (m *Machine) notifyIfOrderFailure(ctx context.Context, order *domain.Order, err error) {
	if m.notifier == nil || order == nil || err == nil {
		return
	}
	m.notifier.NotifySyncFailure(ctx, order, err.Error())
}

func captureConnectorInfo(t *domain.Ticket, info ConnectorInfo) {
	if t.HPCResponse == "" {
		t.HPCResponse = info.HCPResponse
	}
	if t.CompanyFileName == "" {
		t.CompanyFileName = info.CompanyFileName
	}
	if t.Country == "" {
		t.Country = info.Country
	}
	if t.QBXMLMajorVersion == "" {
		t.QBXMLMajorVersion = info.MajorVersion
	}
	if t.QBXMLMinorVersion == "" {
		t.QBXMLMinorVersion = info.MinorVersion
	}
}
