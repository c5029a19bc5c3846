// Package stream reads kill-report messages from a durable, consumer-group
// stream and acknowledges them once fully processed.
package stream

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/medic/arbiter/pkg/models"
	"github.com/medic/arbiter/pkg/validation"
)

// Message pairs a stream-native message ID with either a decoded, validated
// kill report or, if decoding/validation failed, the reason why. A listener
// never drops a message outright: poison entries are still forwarded so the
// orchestrator can record a terminal outcome before acking, per spec §4.1.
type Message struct {
	ID           string
	KillReport   models.KillReport
	InvalidInput *InvalidInput
}

// InvalidInput describes a stream entry that never became a usable
// KillReport: a missing payload field, malformed JSON, or a field-level
// validation failure. KillID is best-effort, recovered from the raw JSON
// when possible, and empty when the payload wasn't even valid JSON.
type InvalidInput struct {
	KillID string
	Err    error
}

// Listener is the contract the orchestrator drives. A real implementation
// talks to a broker; a mock implementation synthesizes events for local
// development, per spec §4.6.
type Listener interface {
	// Listen blocks, delivering one message at a time on the returned
	// channel until ctx is canceled. The channel is closed on shutdown.
	Listen(ctx context.Context) <-chan Message

	// Ack confirms successful end-to-end processing of a message. The
	// orchestrator MUST only call Ack after the OutcomeRecord is durably
	// stored.
	Ack(ctx context.Context, id string) error

	// Close releases broker resources.
	Close() error
}

// decodePayload parses a stream entry's "payload" field into a validated
// KillReport, matching the inbound wire format from spec §6. On a field-
// level validation failure it still returns the raw kill_id, if the JSON
// carried one, so the caller can trace the rejected entry back to its
// source.
func decodePayload(payload string) (*models.KillReport, string, error) {
	var raw validation.RawKillReport
	if err := json.Unmarshal([]byte(payload), &raw); err != nil {
		return nil, "", fmt.Errorf("invalid payload JSON: %w", err)
	}

	kr, err := validation.ValidateKillReport(raw)
	if err != nil {
		return nil, raw.KillID, err
	}
	return kr, "", nil
}
