package fanout

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go"

	"github.com/medping/golang_services/internal/broadcast_service/domain"
)

// LiveSubject carries live frames between processes.
const LiveSubject = "broadcast.events.live"

// Broker is the part of the NATS client the relay needs.
type Broker interface {
	Publish(ctx context.Context, subject string, data []byte) error
	SubscribeToSubjectWithQueue(ctx context.Context, subject, queueGroup string, handler func(msg *nats.Msg)) error
}

type relayEnvelope struct {
	Origin    string              `json:"origin_node"`
	Recipient domain.RecipientKey `json:"recipient"`
	EventType domain.EventType    `json:"event_type"`
	Frame     json.RawMessage     `json:"frame"`
}

// NATSRelay publishes live frames for recipients connected to other processes,
// and delivers frames published elsewhere to connections held here.
type NATSRelay struct {
	broker Broker
	nodeID string
	logger *slog.Logger
}

func NewNATSRelay(broker Broker, nodeID string, logger *slog.Logger) *NATSRelay {
	return &NATSRelay{broker: broker, nodeID: nodeID, logger: logger.With("component", "live_relay", "node_id", nodeID)}
}

func (r *NATSRelay) Publish(ctx context.Context, recipient domain.RecipientKey, eventType domain.EventType, frame []byte) error {
	data, err := json.Marshal(relayEnvelope{Origin: r.nodeID, Recipient: recipient, EventType: eventType, Frame: frame})
	if err != nil {
		return fmt.Errorf("encoding relay envelope: %w", err)
	}
	if err := r.broker.Publish(ctx, LiveSubject, data); err != nil {
		relayMessagesCounter.WithLabelValues("out", "error").Inc()
		return err
	}
	relayMessagesCounter.WithLabelValues("out", "ok").Inc()
	return nil
}

// Run subscribes every process to the live subject (no queue group) until ctx
// is cancelled, handing foreign frames to deliver.
func (r *NATSRelay) Run(ctx context.Context, deliver func(domain.RecipientKey, domain.EventType, []byte) bool) error {
	return r.broker.SubscribeToSubjectWithQueue(ctx, LiveSubject, "", func(msg *nats.Msg) {
		var env relayEnvelope
		if err := json.Unmarshal(msg.Data, &env); err != nil {
			relayMessagesCounter.WithLabelValues("in", "decode_error").Inc()
			r.logger.Warn("Failed to decode relay envelope", "error", err)
			return
		}
		if env.Origin == r.nodeID {
			return
		}
		if deliver(env.Recipient, env.EventType, env.Frame) {
			relayMessagesCounter.WithLabelValues("in", "delivered").Inc()
		}
	})
}
