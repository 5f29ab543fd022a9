package domain

import "time"

// RequestState tracks the per-order synchronization sub-state-machine.
// RequestProcessing is the initial pseudo-state: no document has been
// generated yet.
type RequestState string

const (
	RequestProcessing     RequestState = "Processing"
	RequestCustomerQuery  RequestState = "CustomerQuery"
	RequestCreateCustomer RequestState = "CreateCustomer"
	RequestOrderSync      RequestState = "OrderSync"
	RequestFinished       RequestState = "Finished"
	RequestError          RequestState = "Error"
)

// Valid reports whether s is one of the enumerated request states.
func (s RequestState) Valid() bool {
	switch s {
	case RequestProcessing, RequestCustomerQuery, RequestCreateCustomer,
		RequestOrderSync, RequestFinished, RequestError:
		return true
	}
	return false
}

// Completed reports whether the request expects no further network exchange.
func (s RequestState) Completed() bool {
	return s == RequestFinished || s == RequestError
}

// Request is one order's synchronization unit of work. Its numeric ID is
// echoed as the qbXML requestID attribute so responses can be correlated.
type Request struct {
	ID       int64
	TicketID int64
	OrderID  int64

	State RequestState
	Error string

	RequestQBXML  string
	ResponseQBXML string

	RequestSentAt      *time.Time
	ResponseReceivedAt *time.Time

	// Order is the unit being synchronized, hydrated with its lines.
	Order *Order

	CreatedAt time.Time
	UpdatedAt time.Time
}

// HasMoreWork reports whether the request still expects an exchange with
// QuickBooks.
func (r *Request) HasMoreWork() bool {
	return !r.State.Completed()
}
