// Package soap decodes QuickBooks Web Connector SOAP envelopes and renders
// the verb-specific response envelopes.
//
// The connector's SOAP dialect is narrow: the verb is the first child of the
// Body element, parameters are its flat children in the
// http://developer.intuit.com/ namespace, and every response wraps its
// result in <{verb}Response><{verb}Result>.
package soap

import (
	"encoding/xml"
	"fmt"
	"io"
	"strings"
)

// QBNamespace is the Web Connector's parameter and response namespace.
const QBNamespace = "http://developer.intuit.com/"

// Request is a decoded inbound call: the verb and its flat parameter fields
// keyed by local element name.
type Request struct {
	Verb   string
	Fields map[string]string
}

// Field returns the named parameter, or "" if absent.
func (r *Request) Field(name string) string {
	return r.Fields[name]
}

// Decode parses an inbound envelope. The verb is the first child element of
// Body; each of the verb element's children becomes a field.
func Decode(r io.Reader) (*Request, error) {
	dec := xml.NewDecoder(r)

	// Skip to the Body element.
	inBody := false
	for !inBody {
		tok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("decode envelope: %w", err)
		}
		if start, ok := tok.(xml.StartElement); ok && start.Name.Local == "Body" {
			inBody = true
		}
	}

	// The next start element is the verb.
	req := &Request{Fields: map[string]string{}}
	for {
		tok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("decode envelope: %w", err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			req.Verb = t.Name.Local
		case xml.EndElement:
			if t.Name.Local == "Body" {
				return nil, fmt.Errorf("decode envelope: empty body")
			}
			continue
		default:
			continue
		}
		break
	}

	// Flat children of the verb element become fields.
	depth := 0
	var field string
	var text strings.Builder
	for {
		tok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("decode %s parameters: %w", req.Verb, err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			depth++
			if depth == 1 {
				field = t.Name.Local
				text.Reset()
			}
		case xml.CharData:
			if depth == 1 {
				text.Write(t)
			}
		case xml.EndElement:
			if depth == 0 {
				// End of the verb element.
				return req, nil
			}
			if depth == 1 {
				req.Fields[field] = text.String()
			}
			depth--
		}
	}
}

const (
	envelopeOpen = `<?xml version="1.0" encoding="utf-8"?>` +
		`<soap:Envelope xmlns:soap="http://schemas.xmlsoap.org/soap/envelope/"` +
		` xmlns:xsi="http://www.w3.org/2001/XMLSchema-instance"` +
		` xmlns:xsd="http://www.w3.org/2001/XMLSchema"><soap:Body>`
	envelopeClose = `</soap:Body></soap:Envelope>`
)

// StringResponse renders a single-string result for the given verb.
func StringResponse(verb, result string) string {
	return envelopeOpen +
		`<` + verb + `Response xmlns="` + QBNamespace + `">` +
		`<` + verb + `Result>` + escape(result) + `</` + verb + `Result>` +
		`</` + verb + `Response>` +
		envelopeClose
}

// IntResponse renders an integer result for the given verb.
func IntResponse(verb string, result int) string {
	return StringResponse(verb, fmt.Sprintf("%d", result))
}

// AuthenticateResponse renders the two-element string array the authenticate
// verb returns: the session ticket and the status string.
func AuthenticateResponse(ticket, status string) string {
	return envelopeOpen +
		`<authenticateResponse xmlns="` + QBNamespace + `">` +
		`<authenticateRet>` +
		`<string>` + escape(ticket) + `</string>` +
		`<string>` + escape(status) + `</string>` +
		`</authenticateRet>` +
		`</authenticateResponse>` +
		envelopeClose
}

// EmptyResponse renders a result-less response element for the given verb.
// Used for clientVersion, whose empty result means "any client accepted".
func EmptyResponse(verb string) string {
	return envelopeOpen +
		`<` + verb + `Response xmlns="` + QBNamespace + `"/>` +
		envelopeClose
}

// EmptyEnvelope renders an envelope with no body content, the reply to an
// unrecognized verb.
func EmptyEnvelope() string {
	return envelopeOpen + envelopeClose
}

func escape(s string) string {
	var b strings.Builder
	if err := xml.EscapeText(&b, []byte(s)); err != nil {
		return s
	}
	return b.String()
}
