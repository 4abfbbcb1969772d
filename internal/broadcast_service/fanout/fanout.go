// Package fanout delivers events to recipients over the live channel and the push channel.
package fanout

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/medping/golang_services/internal/broadcast_service/domain"
	"github.com/medping/golang_services/internal/broadcast_service/push"
)

// PushEnqueuer accepts push jobs without blocking. Both push queues implement it.
type PushEnqueuer interface {
	Enqueue(ctx context.Context, job push.Job)
}

// Relay forwards live frames to other processes. Optional.
type Relay interface {
	Publish(ctx context.Context, recipient domain.RecipientKey, eventType domain.EventType, frame []byte) error
}

// Fanout implements dual-channel delivery: the live frame goes to this process's
// registry and the relay, and a push job is always enqueued as well.
type Fanout struct {
	registry *Registry
	relay    Relay
	push     PushEnqueuer
	logger   *slog.Logger
}

func New(registry *Registry, relay Relay, pushQueue PushEnqueuer, logger *slog.Logger) *Fanout {
	return &Fanout{
		registry: registry,
		relay:    relay,
		push:     pushQueue,
		logger:   logger.With("component", "event_fanout"),
	}
}

// Deliver never blocks on a slow consumer and never fails the caller.
func (f *Fanout) Deliver(ctx context.Context, recipient domain.RecipientKey, ev domain.Event) {
	frame, err := json.Marshal(ev)
	if err != nil {
		f.logger.ErrorContext(ctx, "Failed to encode event frame", "type", ev.Type, "request_id", ev.RequestID, "error", err)
	} else {
		f.DeliverLocal(recipient, ev.Type, frame)
		if f.relay != nil {
			if err := f.relay.Publish(ctx, recipient, ev.Type, frame); err != nil {
				f.logger.WarnContext(ctx, "Failed to relay live event", "recipient", recipient, "type", ev.Type, "error", err)
			}
		}
	}

	f.push.Enqueue(ctx, push.Job{
		Recipient: recipient,
		Title:     ev.Title,
		Body:      ev.Body,
		Data:      ev.PushData(),
	})
}

// DeliverLocal writes frame to the recipient's connection in this process, if any.
func (f *Fanout) DeliverLocal(recipient domain.RecipientKey, eventType domain.EventType, frame []byte) bool {
	c, ok := f.registry.Get(recipient)
	if !ok {
		liveDeliveriesCounter.WithLabelValues(string(eventType), "offline").Inc()
		return false
	}
	if !c.Enqueue(frame) {
		liveDeliveriesCounter.WithLabelValues(string(eventType), "overflow").Inc()
		f.registry.Unregister(c)
		f.logger.Warn("Live connection overflowed; disconnected", "recipient", recipient, "type", eventType)
		return false
	}
	liveDeliveriesCounter.WithLabelValues(string(eventType), "delivered").Inc()
	return true
}
