// Package api exposes the Web Connector SOAP endpoint over HTTP.
package api

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/code-and-effect/effective-qb-sync/internal/service"
	"github.com/code-and-effect/effective-qb-sync/internal/soap"
)

// Handler is the stateless protocol dispatcher: it decodes each inbound
// envelope, routes the verb to the session machine, and renders the
// verb-specific response.
type Handler struct {
	machine       *service.Machine
	serverVersion string
	logger        *slog.Logger
}

func NewHandler(machine *service.Machine, serverVersion string, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{machine: machine, serverVersion: serverVersion, logger: logger}
}

// Routes mounts the connector endpoint. middlewares wrap the whole router.
func (h *Handler) Routes(middlewares ...func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()
	for _, mw := range middlewares {
		r.Use(mw)
	}

	// The connector probes the endpoint with a bodyless GET before SOAP.
	r.Get("/qbwc", h.handleProbe)
	r.Post("/qbwc", h.handleSOAP)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return r
}

func (h *Handler) handleProbe(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("QuickBooks Web Connector endpoint"))
}

func (h *Handler) handleSOAP(w http.ResponseWriter, r *http.Request) {
	req, err := soap.Decode(r.Body)
	if err != nil {
		h.logger.Warn("undecodable envelope", "error", err)
		http.Error(w, "malformed SOAP envelope", http.StatusBadRequest)
		return
	}

	h.logger.Info("connector call", "verb", req.Verb, "ticket", req.Field("ticket"))

	body := h.dispatch(r, req)
	w.Header().Set("Content-Type", "text/xml; charset=utf-8")
	_, _ = w.Write([]byte(body))
}

// dispatch routes one decoded call. Any panic in an operation fails the
// session and yields the verb's safe default, so the connector always gets a
// well-formed answer.
func (h *Handler) dispatch(r *http.Request, req *soap.Request) (body string) {
	ctx := r.Context()
	ticket := req.Field("ticket")

	defer func() {
		if rec := recover(); rec != nil {
			h.logger.Error("operation panicked", "verb", req.Verb, "ticket", ticket, "panic", rec)
			h.machine.FailUnexpectedly(ctx, ticket, fmt.Sprint(rec))
			body = safeDefault(req.Verb)
		}
	}()

	switch req.Verb {
	case "serverVersion":
		return soap.StringResponse("serverVersion", h.serverVersion)

	case "clientVersion":
		// Every client version is accepted.
		return soap.EmptyResponse("clientVersion")

	case "authenticate":
		id, status := h.machine.Authenticate(ctx, req.Field("strUserName"), req.Field("strPassword"))
		return soap.AuthenticateResponse(id, status)

	case "sendRequestXML":
		doc := h.machine.SendRequestXML(ctx, ticket, service.ConnectorInfo{
			HCPResponse:     req.Field("strHCPResponse"),
			CompanyFileName: req.Field("strCompanyFileName"),
			Country:         req.Field("qbXMLCountry"),
			MajorVersion:    req.Field("qbXMLMajorVers"),
			MinorVersion:    req.Field("qbXMLMinorVers"),
		})
		return soap.StringResponse("sendRequestXML", doc)

	case "receiveResponseXML":
		percent := h.machine.ReceiveResponseXML(ctx, ticket,
			req.Field("response"), req.Field("hresult"), req.Field("message"))
		return soap.IntResponse("receiveResponseXML", percent)

	case "getLastError":
		return soap.StringResponse("getLastError", h.machine.LastError(ctx, ticket))

	case "connectionError":
		return soap.StringResponse("connectionError",
			h.machine.ConnectionError(ctx, ticket, req.Field("hresult"), req.Field("message")))

	case "closeConnection":
		return soap.StringResponse("closeConnection", h.machine.CloseConnection(ctx, ticket))

	default:
		h.logger.Warn("unrecognized verb", "verb", req.Verb)
		return soap.EmptyEnvelope()
	}
}

// safeDefault is the response rendered when an operation blew up mid-call.
func safeDefault(verb string) string {
	switch verb {
	case "authenticate":
		return soap.AuthenticateResponse("", service.AuthInvalidUser)
	case "sendRequestXML":
		return soap.StringResponse("sendRequestXML", "")
	case "receiveResponseXML":
		return soap.IntResponse("receiveResponseXML", -1)
	case "connectionError":
		return soap.StringResponse("connectionError", service.ConnectionDone)
	case "closeConnection":
		return soap.StringResponse("closeConnection", service.CloseOK)
	case "getLastError":
		return soap.StringResponse("getLastError", "")
	default:
		return soap.EmptyEnvelope()
	}
}
