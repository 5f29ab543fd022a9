package qbxml

import (
	"encoding/xml"
	"strconv"
	"strings"

	"github.com/code-and-effect/effective-qb-sync/internal/domain"
)

// Status is the outcome QuickBooks reports on a response element.
type Status struct {
	Code    string
	Message string
}

// RequestIDFromResponse returns the requestID attribute of the first element
// carrying one. Requests are never bundled, so the first match is the only
// match. Returns false when the document has none or cannot be parsed.
func RequestIDFromResponse(doc string) (int64, bool) {
	dec := xml.NewDecoder(strings.NewReader(doc))
	for {
		tok, err := dec.Token()
		if err != nil {
			return 0, false
		}
		start, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}
		for _, attr := range start.Attr {
			if attr.Name.Local == "requestID" {
				id, err := strconv.ParseInt(attr.Value, 10, 64)
				if err != nil {
					return 0, false
				}
				return id, true
			}
		}
	}
}

// ResponseStatus returns the statusCode and statusMessage attributes of the
// first element named element in doc. Absence of that element means the
// response is not the one the request expected.
func ResponseStatus(doc, element string) (Status, error) {
	dec := xml.NewDecoder(strings.NewReader(doc))
	for {
		tok, err := dec.Token()
		if err != nil {
			return Status{}, domain.ErrMalformedResponse("response has no %s element", element)
		}
		start, ok := tok.(xml.StartElement)
		if !ok || start.Name.Local != element {
			continue
		}
		var st Status
		for _, attr := range start.Attr {
			switch attr.Name.Local {
			case "statusCode":
				st.Code = attr.Value
			case "statusMessage":
				st.Message = attr.Value
			}
		}
		return st, nil
	}
}
