package domain

import "time"

// TicketState tracks the lifecycle of a Web Connector session.
type TicketState string

const (
	TicketReady           TicketState = "Ready"
	TicketAuthenticated   TicketState = "Authenticated"
	TicketProcessing      TicketState = "Processing"
	TicketFinished        TicketState = "Finished"
	TicketConnectionError TicketState = "ConnectionError"
	TicketRequestError    TicketState = "RequestError"
)

// Valid reports whether s is one of the enumerated ticket states.
func (s TicketState) Valid() bool {
	switch s {
	case TicketReady, TicketAuthenticated, TicketProcessing,
		TicketFinished, TicketConnectionError, TicketRequestError:
		return true
	}
	return false
}

// Terminal reports whether the ticket accepts no further protocol work.
// closeConnection remains idempotent on terminal tickets.
func (s TicketState) Terminal() bool {
	return s == TicketFinished || s == TicketConnectionError || s == TicketRequestError
}

// Ticket is one Web Connector polling cycle's durable state. Its numeric ID
// doubles as the protocol's session ticket string.
type Ticket struct {
	ID       int64
	State    TicketState
	Username string

	// Connector metadata, captured on the first sendRequestXML and never
	// overwritten for the lifetime of the ticket.
	HPCResponse       string
	CompanyFileName   string
	Country           string
	QBXMLMajorVersion string
	QBXMLMinorVersion string

	Percent   int
	LastError string

	ConnectionErrorHResult string
	ConnectionErrorMessage string

	// CurrentRequestID references the single in-flight request, if any.
	CurrentRequestID *int64

	CreatedAt time.Time
	UpdatedAt time.Time
}

// TicketLog is one immutable line of a ticket's append-only log.
type TicketLog struct {
	ID        int64
	TicketID  int64
	Message   string
	CreatedAt time.Time
}
