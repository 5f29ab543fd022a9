// Package qbxml builds outbound qbXML documents and parses inbound responses.
//
// Documents are generated per request state and wrapped in the fixed outer
// envelope QuickBooks Web Connector expects. Field lengths are clipped to
// QuickBooks' published limits before marshalling.
package qbxml

import (
	"encoding/xml"
	"fmt"

	"github.com/code-and-effect/effective-qb-sync/internal/domain"
)

// QuickBooks field-length limits.
const (
	maxFullName   = 209
	maxName       = 41
	maxPersonName = 25
	maxAddrLine   = 41
	maxCity       = 31
	maxPostalCode = 13
	maxPhone      = 21
	maxEmail      = 1023
)

// Builder generates outbound documents. TaxItemName, when set, appends a tax
// line to every sales receipt; empty leaves tax to QuickBooks.
type Builder struct {
	TaxItemName string
}

// Generate builds the wrapped document for a request's current state.
//
// The order must be attached and every line must carry a resolved QuickBooks
// item name, otherwise no document can be produced.
func (b *Builder) Generate(state domain.RequestState, requestID int64, o *domain.Order) (string, error) {
	if o == nil {
		return "", domain.ErrValidation("request %d has no order attached", requestID)
	}
	for _, line := range o.Lines {
		if line.QBItemName == "" {
			return "", &domain.MissingItemNameError{OrderID: o.PublicID}
		}
	}

	var body interface{}
	switch state {
	case domain.RequestCustomerQuery:
		body = customerQueryRq(requestID, o)
	case domain.RequestCreateCustomer:
		body = customerAddRq(requestID, o)
	case domain.RequestOrderSync:
		body = b.salesReceiptAddRq(requestID, o)
	default:
		return "", domain.ErrInvalidState("cannot generate a document in request state %s", state)
	}

	encoded, err := xml.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("marshal %s document: %w", state, err)
	}
	return Wrap(string(encoded)), nil
}

// Wrap encloses a message body in the fixed protocol envelope. The envelope
// bytes are significant: the Web Connector compares them verbatim.
func Wrap(body string) string {
	return `<?xml version="1.0" ?><?qbxml version="6.0" ?><QBXML><QBXMLMsgsRq onError="continueOnError">` +
		body + `</QBXMLMsgsRq></QBXML>`
}

type fullNameRef struct {
	FullName string `xml:"FullName"`
}

type customerQuery struct {
	XMLName   xml.Name `xml:"CustomerQueryRq"`
	RequestID int64    `xml:"requestID,attr"`
	FullName  string   `xml:"FullName"`
}

func customerQueryRq(requestID int64, o *domain.Order) customerQuery {
	return customerQuery{
		RequestID: requestID,
		FullName:  clip(o.FullName(), maxFullName),
	}
}

type billAddress struct {
	Addr1      string `xml:"Addr1"`
	Addr2      string `xml:"Addr2"`
	Addr3      string `xml:"Addr3"`
	City       string `xml:"City"`
	PostalCode string `xml:"PostalCode"`
}

type customerAdd struct {
	XMLName   xml.Name `xml:"CustomerAddRq"`
	RequestID int64    `xml:"requestID,attr"`
	Customer  struct {
		Name        string      `xml:"Name"`
		FirstName   string      `xml:"FirstName"`
		LastName    string      `xml:"LastName"`
		BillAddress billAddress `xml:"BillAddress"`
		Phone       string      `xml:"Phone"`
		Email       string      `xml:"Email"`
	} `xml:"CustomerAdd"`
}

func customerAddRq(requestID int64, o *domain.Order) customerAdd {
	doc := customerAdd{RequestID: requestID}
	doc.Customer.Name = clip(o.FullName(), maxName)
	doc.Customer.FirstName = clip(o.BillingFirstName, maxPersonName)
	doc.Customer.LastName = clip(o.BillingLastName, maxPersonName)
	doc.Customer.BillAddress = billAddress{
		// QuickBooks renders Addr1 as the addressee line.
		Addr1:      clip(o.FullName(), maxAddrLine),
		Addr2:      clip(o.BillingAddress1, maxAddrLine),
		Addr3:      clip(o.BillingAddress2, maxAddrLine),
		City:       clip(o.BillingCity, maxCity),
		PostalCode: clip(o.BillingPostalCode, maxPostalCode),
	}
	doc.Customer.Phone = clip(o.BillingPhone, maxPhone)
	doc.Customer.Email = clip(o.BillingEmail, maxEmail)
	return doc
}

type salesReceiptLine struct {
	ItemRef fullNameRef `xml:"ItemRef"`
	Desc    string      `xml:"Desc"`
	Amount  string      `xml:"Amount"`
}

type salesReceiptAdd struct {
	XMLName   xml.Name `xml:"SalesReceiptAddRq"`
	RequestID int64    `xml:"requestID,attr"`
	Receipt   struct {
		CustomerRef   fullNameRef        `xml:"CustomerRef"`
		TxnDate       string             `xml:"TxnDate"`
		Memo          string             `xml:"Memo"`
		IsToBePrinted string             `xml:"IsToBePrinted"`
		IsToBeEmailed string             `xml:"IsToBeEmailed"`
		Lines         []salesReceiptLine `xml:"SalesReceiptLineAdd"`
	} `xml:"SalesReceiptAdd"`
}

func (b *Builder) salesReceiptAddRq(requestID int64, o *domain.Order) salesReceiptAdd {
	doc := salesReceiptAdd{RequestID: requestID}
	doc.Receipt.CustomerRef = fullNameRef{FullName: clip(o.FullName(), maxFullName)}
	doc.Receipt.TxnDate = o.PurchasedAt.Format("2006-01-02")
	doc.Receipt.Memo = fmt.Sprintf("Order #%s from website", o.PublicID)
	doc.Receipt.IsToBePrinted = "false"
	doc.Receipt.IsToBeEmailed = "false"

	for _, line := range o.Lines {
		doc.Receipt.Lines = append(doc.Receipt.Lines, salesReceiptLine{
			ItemRef: fullNameRef{FullName: line.QBItemName},
			Desc:    line.Name,
			Amount:  domain.Amount(line.SubtotalCents),
		})
	}

	if b.TaxItemName != "" {
		doc.Receipt.Lines = append(doc.Receipt.Lines, salesReceiptLine{
			ItemRef: fullNameRef{FullName: b.TaxItemName},
			Desc:    b.TaxItemName,
			Amount:  domain.Amount(o.TaxTotalCents),
		})
	}
	return doc
}

// clip truncates s to at most max characters, counting runes the way
// QuickBooks counts field lengths.
func clip(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}
