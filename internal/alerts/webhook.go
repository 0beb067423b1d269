package alerts

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/t77yq/registry-monitor/internal/model"
)

// WebhookEnvelope is the JSON document POSTed to webhook endpoints
type WebhookEnvelope struct {
	Type          string             `json:"type"`
	SchemaVersion string             `json:"schemaVersion"`
	Timestamp     string             `json:"timestamp"`
	Data          model.Notification `json:"data"`
}

// WebhookBackend POSTs notifications as JSON to the url param of a path
type WebhookBackend struct {
	logger     *zap.Logger
	httpClient *http.Client
}

// NewWebhookBackend creates a webhook backend
func NewWebhookBackend(timeout time.Duration, logger *zap.Logger) *WebhookBackend {
	return &WebhookBackend{
		logger:     logger.Named("webhook"),
		httpClient: newHTTPClient(timeout),
	}
}

// Name implements Backend
func (w *WebhookBackend) Name() string { return "webhook" }

// Send implements Backend
func (w *WebhookBackend) Send(ctx context.Context, n model.Notification, params model.Params) error {
	target := params["url"]
	if target == "" {
		w.logger.Error("Webhook url not configured", zap.String("path", n.Path))
		return fmt.Errorf("%w: url", ErrMissingParam)
	}
	u, err := url.Parse(target)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		w.logger.Error("Webhook url is invalid", zap.String("path", n.Path))
		return fmt.Errorf("%w: url must be an absolute http(s) URL", ErrInvalidParam)
	}

	body, err := json.Marshal(WebhookEnvelope{
		Type:          "registry-monitor.notification",
		SchemaVersion: "1",
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		Data:          n,
	})
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}

	if _, err := post(ctx, w.httpClient, target, "application/json", body, nil); err != nil {
		w.logger.Error("Webhook delivery failed",
			zap.String("url", redactURL(target)),
			zap.Error(err))
		return err
	}

	w.logger.Info("Webhook delivered", zap.String("url", redactURL(target)))
	return nil
}
