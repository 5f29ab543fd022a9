package service

import (
	"fmt"

	"github.com/code-and-effect/effective-qb-sync/internal/domain"
	"github.com/code-and-effect/effective-qb-sync/internal/qbxml"
)

// Status codes QuickBooks reports on response elements.
const (
	statusOK               = "0"
	statusCustomerNotFound = "500"
	statusEmptyTransaction = "3180"
)

// responseOutcome is the effect of interpreting one inbound response.
type responseOutcome struct {
	// markSynced is set when the order finished synchronizing and must be
	// marked, with its line item names snapshotted, in the same transaction.
	markSynced bool
	logs       []string
}

// interpretResponse advances the request sub-state-machine for one inbound
// document. It mutates r.State in memory; persisting the transition is the
// caller's job. A returned error means the request failed and the caller
// must move it to the Error state.
func interpretResponse(r *domain.Request, doc string) (responseOutcome, error) {
	if r.Order == nil {
		return responseOutcome{}, domain.ErrValidation("request %d has no order attached", r.ID)
	}

	switch r.State {
	case domain.RequestCustomerQuery:
		return interpretCustomerQuery(r, doc)
	case domain.RequestCreateCustomer:
		return interpretCreateCustomer(r, doc)
	case domain.RequestOrderSync:
		return interpretOrderSync(r, doc)
	default:
		return responseOutcome{}, domain.ErrInvalidState(
			"request in state %s was not expecting a response", r.State)
	}
}

func interpretCustomerQuery(r *domain.Request, doc string) (responseOutcome, error) {
	status, err := qbxml.ResponseStatus(doc, "CustomerQueryRs")
	if err != nil {
		return responseOutcome{}, err
	}

	name := r.Order.FullName()
	if status.Code == statusCustomerNotFound {
		return responseOutcome{logs: []string{
			fmt.Sprintf("Request: Customer %s was not found", name),
			transitionLog(r, domain.RequestCreateCustomer),
		}}, nil
	}
	return responseOutcome{logs: []string{
		fmt.Sprintf("Request: Customer %s exists", name),
		transitionLog(r, domain.RequestOrderSync),
	}}, nil
}

func interpretCreateCustomer(r *domain.Request, doc string) (responseOutcome, error) {
	status, err := qbxml.ResponseStatus(doc, "CustomerAddRs")
	if err != nil {
		return responseOutcome{}, err
	}

	name := r.Order.FullName()
	if status.Code != statusOK {
		return responseOutcome{}, &domain.SyncError{
			OrderID: r.Order.PublicID,
			Message: fmt.Sprintf("Customer %s could not be created in QuickBooks: %s", name, status.Message),
		}
	}
	return responseOutcome{logs: []string{
		fmt.Sprintf("Request: Customer %s created successfully", name),
		transitionLog(r, domain.RequestOrderSync),
	}}, nil
}

func interpretOrderSync(r *domain.Request, doc string) (responseOutcome, error) {
	status, err := qbxml.ResponseStatus(doc, "SalesReceiptAddRs")
	if err != nil {
		return responseOutcome{}, err
	}

	switch status.Code {
	case statusOK:
		return responseOutcome{markSynced: true, logs: []string{
			fmt.Sprintf("Request: Order %s successfully synchronized", r.Order.PublicID),
			transitionLog(r, domain.RequestFinished),
		}}, nil
	case statusEmptyTransaction:
		// QuickBooks refuses to record zero-amount receipts. Nothing to
		// carry over, so the order counts as synchronized.
		return responseOutcome{markSynced: true, logs: []string{
			fmt.Sprintf("Request: Order %s was not recorded by QuickBooks because it was an empty transaction", r.Order.PublicID),
			transitionLog(r, domain.RequestFinished),
		}}, nil
	default:
		return responseOutcome{}, &domain.SyncError{
			OrderID: r.Order.PublicID,
			Message: fmt.Sprintf("Order %s could not be synchronized: %s", r.Order.PublicID, status.Message),
		}
	}
}

// transitionLog moves the request to state and returns the log line for it.
func transitionLog(r *domain.Request, state domain.RequestState) string {
	old := r.State
	r.State = state
	return fmt.Sprintf("Request: Transitioned request state from [%s] to [%s]", old, state)
}
