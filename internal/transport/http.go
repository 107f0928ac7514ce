package transport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

const (
	// HeaderIdempotencyToken carries the deterministic delivery token.
	HeaderIdempotencyToken = "X-Idempotency-Token"

	// HeaderOrderingKey carries the per-device ordering key.
	HeaderOrderingKey = "X-Ordering-Key"

	defaultHTTPTimeout = 15 * time.Second
)

// WithHTTPClient overrides the underlying HTTP client, mainly for tests.
func WithHTTPClient(client *http.Client) func(*HTTPTransport) {
	return func(t *HTTPTransport) {
		t.client = client
	}
}

// HTTPTransport is the primary transport: JSON samples POSTed to the
// ingestion gateway. The gateway honours the ordering key per device.
type HTTPTransport struct {
	endpoint string
	client   *http.Client
}

// NewHTTPTransport creates the primary transport pointed at the gateway
// sample endpoint.
func NewHTTPTransport(endpoint string, options ...func(*HTTPTransport)) *HTTPTransport {
	t := HTTPTransport{
		endpoint: endpoint,
		client:   &http.Client{Timeout: defaultHTTPTimeout},
	}

	for _, option := range options {
		option(&t)
	}

	return &t
}

func (t *HTTPTransport) Name() string { return "primary" }

func (t *HTTPTransport) Ordered() bool { return true }

func (t *HTTPTransport) Publish(ctx context.Context, env Envelope) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, bytes.NewReader(env.Payload))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderIdempotencyToken, env.Token)
	req.Header.Set(HeaderOrderingKey, env.OrderingKey)

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("publishing to primary: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	return statusToError(resp.StatusCode)
}

// statusToError maps an HTTP response status onto the retry policy:
// schema and auth rejections are permanent, everything else non-2xx is
// transient.
func statusToError(status int) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusBadRequest,
		status == http.StatusUnauthorized,
		status == http.StatusForbidden,
		status == http.StatusUnprocessableEntity:
		return fmt.Errorf("%w: status %d", ErrPermanentReject, status)
	default:
		return fmt.Errorf("transient delivery failure: status %d", status)
	}
}
