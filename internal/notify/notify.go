package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/punchamoorthee/autocheckout/internal/domain"
	"github.com/punchamoorthee/autocheckout/internal/gateway"
)

// SignatureHeader carries the hex HMAC-SHA256 of the body on dispatched
// notifications.
const SignatureHeader = "X-Checkout-Signature"

// LogSink writes notifications to the structured log. It is the default
// when no dispatcher URL is configured.
type LogSink struct {
	logger *slog.Logger
}

func NewLogSink(logger *slog.Logger) *LogSink {
	return &LogSink{logger: logger}
}

func (s *LogSink) Notify(ctx context.Context, n domain.Notification) error {
	attrs := []any{
		"kind", n.Kind,
		"user_id", n.UserID,
		"amount", n.Amount.StringFixed(2),
		"balance", n.Balance.StringFixed(2),
	}
	if n.Order != nil {
		attrs = append(attrs, "order_id", n.Order.ID, "order_status", n.Order.Status)
	}
	if n.Reason != "" {
		attrs = append(attrs, "reason", n.Reason)
	}
	s.logger.InfoContext(ctx, "user notification", attrs...)
	return nil
}

// HTTPSink posts notifications as signed JSON to the dispatcher that owns
// the chat transport.
type HTTPSink struct {
	url    string
	secret string
	client *http.Client
}

func NewHTTPSink(url, secret string, timeout time.Duration) *HTTPSink {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HTTPSink{url: url, secret: secret, client: &http.Client{Timeout: timeout}}
}

func (s *HTTPSink) Notify(ctx context.Context, n domain.Notification) error {
	body, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build notification request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "autocheckout-notify/1.0")
	if s.secret != "" {
		req.Header.Set(SignatureHeader, gateway.Sign(s.secret, body))
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("deliver notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("dispatcher returned %d", resp.StatusCode)
	}
	return nil
}
