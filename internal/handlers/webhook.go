package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/ramiqadoumi/agentq/internal/domain"
	"github.com/ramiqadoumi/agentq/pkg/retry"
)

// maxWebhookResponse caps how much of a response body is kept as task output.
const maxWebhookResponse = 1 << 20

// WebhookConfig holds the outbound endpoint settings.
type WebhookConfig struct {
	URL         string
	Headers     map[string]string
	Timeout     time.Duration
	MaxAttempts int
	BaseDelay   time.Duration
}

// WebhookHandler POSTs the task descriptor to an external service and uses
// the response body as the task output.
type WebhookHandler struct {
	cfg    WebhookConfig
	client *http.Client
}

// NewWebhookHandler creates a WebhookHandler.
func NewWebhookHandler(cfg WebhookConfig) *WebhookHandler {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = 500 * time.Millisecond
	}
	return &WebhookHandler{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

func (h *WebhookHandler) Name() string { return "webhook" }

// Config returns the effective settings after defaults were applied.
func (h *WebhookHandler) Config() WebhookConfig { return h.cfg }

// permanentError marks responses that retrying cannot fix.
type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

func (h *WebhookHandler) Handle(ctx context.Context, task *domain.Task) (json.RawMessage, error) {
	ctx, span := otel.Tracer("agent").Start(ctx, "handler.webhook")
	defer span.End()

	if h.cfg.URL == "" {
		err := errors.New("webhook handler has no url configured")
		span.RecordError(err)
		span.SetStatus(codes.Error, "missing url")
		return nil, err
	}
	span.SetAttributes(attribute.String("webhook.url", h.cfg.URL))

	body, err := json.Marshal(task)
	if err != nil {
		return nil, fmt.Errorf("encode task for webhook: %w", err)
	}

	var out json.RawMessage
	err = retry.Do(ctx, retry.Config{
		MaxAttempts: h.cfg.MaxAttempts,
		BaseDelay:   h.cfg.BaseDelay,
		Retryable:   func(err error) bool { var p *permanentError; return !errors.As(err, &p) },
	}, func() error {
		var callErr error
		out, callErr = h.call(ctx, body)
		return callErr
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "webhook failed")
		return nil, err
	}
	return out, nil
}

func (h *WebhookHandler) call(ctx context.Context, body []byte) (json.RawMessage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return nil, &permanentError{fmt.Errorf("build webhook request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range h.cfg.Headers {
		req.Header.Set(k, v)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("webhook call to %s: %w", h.cfg.URL, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxWebhookResponse))
	if err != nil {
		return nil, fmt.Errorf("read webhook response: %w", err)
	}

	switch {
	case resp.StatusCode >= http.StatusInternalServerError:
		return nil, fmt.Errorf("webhook %s returned status %d", h.cfg.URL, resp.StatusCode)
	case resp.StatusCode >= http.StatusBadRequest:
		return nil, &permanentError{fmt.Errorf("webhook %s returned status %d: %s",
			h.cfg.URL, resp.StatusCode, bytes.TrimSpace(data))}
	}
	return asOutput(data), nil
}
