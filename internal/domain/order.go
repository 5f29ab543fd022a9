package domain

import (
	"fmt"
	"strings"
	"time"
)

// SyncStatus marks an order's synchronization outcome.
type SyncStatus string

const (
	SyncPending SyncStatus = ""
	SyncSuccess SyncStatus = "Success"
	SyncFailed  SyncStatus = "Failed"
)

// Order is the narrow read-side view of a purchased order, exposing exactly
// what qbXML generation needs.
type Order struct {
	ID       int64
	PublicID string // customer-facing order number, used in memos and error text

	BillingFirstName  string
	BillingLastName   string
	BillingAddress1   string
	BillingAddress2   string
	BillingCity       string
	BillingPostalCode string
	BillingPhone      string
	BillingEmail      string

	PurchasedAt   time.Time
	TaxTotalCents int64
	SyncStatus    SyncStatus

	Lines []OrderLine
}

// OrderLine is one sellable line of an order plus its resolved QuickBooks
// item name (empty until resolved).
type OrderLine struct {
	ID            int64
	OrderID       int64
	Name          string
	SubtotalCents int64
	QBItemName    string
}

// FullName is the buyer's billing name as QuickBooks customer records key it.
func (o *Order) FullName() string {
	return strings.TrimSpace(o.BillingFirstName + " " + o.BillingLastName)
}

// Amount renders an integer cents value as the fixed two-decimal currency
// string qbXML expects.
func Amount(cents int64) string {
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	return fmt.Sprintf("%s%d.%02d", sign, cents/100, cents%100)
}
