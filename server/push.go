package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/agentmesh/agentmesh/a2a"
)

// notificationTokenHeader carries the config's opaque token on callbacks.
const notificationTokenHeader = "X-A2A-Notification-Token"

// pushDeliveryTimeout bounds each callback POST.
const pushDeliveryTimeout = 5 * time.Second

// PushNotificationSender dispatches task snapshots to registered callback
// endpoints. Delivery is best-effort: failures are logged, never retried, and
// never surfaced to the originating caller.
type PushNotificationSender interface {
	SendNotification(ctx context.Context, task *a2a.Task)
}

// HTTPPushSender implements PushNotificationSender over plain HTTP POSTs.
type HTTPPushSender struct {
	logger     *zap.Logger
	store      PushConfigStore
	httpClient *http.Client
}

// NewHTTPPushSender creates an HTTPPushSender reading endpoints from store.
// A nil httpClient falls back to http.DefaultClient.
func NewHTTPPushSender(logger *zap.Logger, store PushConfigStore, httpClient *http.Client) *HTTPPushSender {
	if logger == nil {
		logger = zap.NewNop()
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &HTTPPushSender{
		logger:     logger.Named("push-sender"),
		store:      store,
		httpClient: httpClient,
	}
}

// SendNotification POSTs the task snapshot to every config registered for the
// task. Deliveries run concurrently and do not block the caller.
func (p *HTTPPushSender) SendNotification(ctx context.Context, task *a2a.Task) {
	configs, err := p.store.List(ctx, task.ID)
	if err != nil {
		p.logger.Error("Failed to list push configs", zap.String("taskID", task.ID), zap.Error(err))
		return
	}
	if len(configs) == 0 {
		return
	}
	payload, err := json.Marshal(task)
	if err != nil {
		p.logger.Error("Failed to marshal task snapshot", zap.String("taskID", task.ID), zap.Error(err))
		return
	}
	for _, config := range configs {
		go p.deliver(task.ID, config, payload)
	}
}

func (p *HTTPPushSender) deliver(taskID string, config *a2a.PushNotificationConfig, payload []byte) {
	logger := p.logger.With(
		zap.String("taskID", taskID),
		zap.String("configID", config.ID),
		zap.String("url", config.URL))

	ctx, cancel := context.WithTimeout(context.Background(), pushDeliveryTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, config.URL, bytes.NewReader(payload))
	if err != nil {
		logger.Error("Failed to build push notification request", zap.Error(err))
		return
	}
	req.Header.Set("Content-Type", "application/json")
	if config.Token != nil && *config.Token != "" {
		req.Header.Set(notificationTokenHeader, *config.Token)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		logger.Warn("Push notification delivery failed", zap.Error(err))
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		logger.Warn("Push notification endpoint returned non-success status", zap.Int("status", resp.StatusCode))
		return
	}
	logger.Debug("Push notification delivered")
}
