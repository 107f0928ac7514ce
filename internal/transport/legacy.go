package transport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/vmihailenco/msgpack/v5"
)

// LegacyFrameVersion is the wire version of the legacy broker envelope.
const LegacyFrameVersion = 2

// LegacyFrame is the binary envelope the legacy broker expects. The
// broker predates the JSON gateway, hence msgpack and the flattened
// token field. The server keeps decoding these until the migration
// completes.
type LegacyFrame struct {
	Version int    `msgpack:"v"`
	Token   string `msgpack:"tok"`
	Payload []byte `msgpack:"pl"`
}

// WithLegacyHTTPClient overrides the underlying HTTP client.
func WithLegacyHTTPClient(client *http.Client) func(*LegacyTransport) {
	return func(t *LegacyTransport) {
		t.client = client
	}
}

// LegacyTransport publishes msgpack frames to the legacy broker
// endpoint. It provides no ordering guarantee; out-of-order arrivals
// are handled by the gateway's sequence gate.
type LegacyTransport struct {
	endpoint string
	client   *http.Client
}

// NewLegacyTransport creates the legacy broker transport.
func NewLegacyTransport(endpoint string, options ...func(*LegacyTransport)) *LegacyTransport {
	t := LegacyTransport{
		endpoint: endpoint,
		client:   &http.Client{Timeout: defaultHTTPTimeout},
	}

	for _, option := range options {
		option(&t)
	}

	return &t
}

func (t *LegacyTransport) Name() string { return "legacy" }

func (t *LegacyTransport) Ordered() bool { return false }

func (t *LegacyTransport) Publish(ctx context.Context, env Envelope) error {
	frame, err := msgpack.Marshal(LegacyFrame{
		Version: LegacyFrameVersion,
		Token:   env.Token,
		Payload: env.Payload,
	})
	if err != nil {
		return fmt.Errorf("encoding legacy frame: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, bytes.NewReader(frame))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-msgpack")

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("publishing to legacy broker: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	return statusToError(resp.StatusCode)
}
