// Package transport delivers queued location samples to the server over
// the primary pub/sub endpoint, the legacy broker, or both, depending on
// the migration mode in effect.
package transport

import (
	"context"
	"errors"
	"fmt"
)

const (
	// ModePrimaryOnly publishes exclusively to the new transport.
	ModePrimaryOnly Mode = iota

	// ModeLegacyOnly publishes exclusively to the legacy broker.
	ModeLegacyOnly

	// ModeDual publishes to both transports; delivery succeeds when
	// either acknowledges. Used during migration cut-over validation.
	ModeDual

	// ModePrimaryWithFallback tries the primary transport first and
	// falls back to the legacy broker on failure.
	ModePrimaryWithFallback
)

var (
	// ErrPermanentReject marks a delivery failure that retrying cannot
	// fix: schema rejection or an authentication failure at the
	// transport level. Entries failing this way go to the dead letter
	// sink, never back to the queue.
	ErrPermanentReject = errors.New("permanently rejected")

	// ErrUnknownMode is returned by ParseMode for unrecognised input.
	ErrUnknownMode = errors.New("unknown transport mode")
)

// Mode is the closed set of publisher delivery modes. Modelling the
// migration switch as a single enum keeps invalid transport combinations
// unrepresentable.
type Mode int

func (m Mode) String() string {
	switch m {
	case ModePrimaryOnly:
		return "primary_only"
	case ModeLegacyOnly:
		return "legacy_only"
	case ModeDual:
		return "dual"
	case ModePrimaryWithFallback:
		return "fallback"
	default:
		return "unknown"
	}
}

// ParseMode converts a configuration string into a Mode.
func ParseMode(s string) (Mode, error) {
	switch s {
	case "primary_only":
		return ModePrimaryOnly, nil
	case "legacy_only":
		return ModeLegacyOnly, nil
	case "dual":
		return ModeDual, nil
	case "fallback", "primary_with_fallback":
		return ModePrimaryWithFallback, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownMode, s)
	}
}

// Envelope wraps a sample with its delivery metadata. The idempotency
// token lets the server recognise redelivery; the ordering key is
// honoured only by transports that support ordering.
type Envelope struct {
	Token       string
	OrderingKey string
	Payload     []byte
}

// Transport is a single delivery channel to the server.
type Transport interface {
	// Publish delivers one envelope. A returned error wrapping
	// ErrPermanentReject must never be retried.
	Publish(ctx context.Context, env Envelope) error

	// Name identifies the transport in logs and attempt bookkeeping.
	Name() string

	// Ordered reports whether the transport preserves per-key delivery
	// order. The legacy broker does not; that reduced guarantee is
	// absorbed by the server's sequence gate.
	Ordered() bool
}
