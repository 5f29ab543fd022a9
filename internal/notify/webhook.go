// Package notify delivers synchronization-failure notifications.
package notify

import (
	"context"
	"log/slog"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/code-and-effect/effective-qb-sync/internal/domain"
)

// Webhook posts a JSON payload to a configured URL for every synchronization
// failure. Delivery is fire-and-forget: the protocol exchange that triggered
// the failure has already been answered, so a slow or dead webhook endpoint
// must never hold up a session.
type Webhook struct {
	client *resty.Client
	url    string
	logger *slog.Logger
}

// failurePayload is the webhook body.
type failurePayload struct {
	OrderID       int64     `json:"order_id"`
	OrderPublicID string    `json:"order_public_id"`
	BillingName   string    `json:"billing_name"`
	Error         string    `json:"error"`
	OccurredAt    time.Time `json:"occurred_at"`
}

// NewWebhook creates a notifier posting to url. An empty url disables
// delivery; failures are still logged.
func NewWebhook(url string, logger *slog.Logger) *Webhook {
	if logger == nil {
		logger = slog.Default()
	}
	client := resty.New().
		SetTimeout(10 * time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(1 * time.Second)

	return &Webhook{client: client, url: url, logger: logger}
}

// NotifySyncFailure implements domain.SyncNotifier.
func (w *Webhook) NotifySyncFailure(ctx context.Context, order *domain.Order, errText string) {
	w.logger.Warn("order synchronization failed",
		"order", order.PublicID, "error", errText)

	if w.url == "" {
		return
	}

	payload := failurePayload{
		OrderID:       order.ID,
		OrderPublicID: order.PublicID,
		BillingName:   order.FullName(),
		Error:         errText,
		OccurredAt:    time.Now().UTC(),
	}

	// Delivery happens off the request path. The session context ends when
	// the protocol call returns, so the post gets its own deadline.
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		resp, err := w.client.R().
			SetContext(ctx).
			SetHeader("Content-Type", "application/json").
			SetBody(payload).
			Post(w.url)
		if err != nil {
			w.logger.Error("failure webhook delivery failed",
				"order", payload.OrderPublicID, "error", err)
			return
		}
		if resp.IsError() {
			w.logger.Error("failure webhook rejected",
				"order", payload.OrderPublicID, "status", resp.StatusCode())
		}
	}()
}
