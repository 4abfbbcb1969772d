package push

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/nats-io/nats.go"
	"golang.org/x/sync/errgroup"
)

const (
	JobsSubject    = "broadcast.push.jobs"
	JobsQueueGroup = "push_workers"
)

// Broker is the part of the NATS client the queue needs.
type Broker interface {
	Publish(ctx context.Context, subject string, data []byte) error
	SubscribeToSubjectWithQueue(ctx context.Context, subject, queueGroup string, handler func(msg *nats.Msg)) error
}

// NATSQueue publishes push jobs to NATS and consumes them in a queue group, so
// exactly one process in the group dispatches each job. Consumed jobs go to a
// local worker pool; the subscription callback never waits on a gateway.
type NATSQueue struct {
	broker Broker
	pool   *LocalQueue
	logger *slog.Logger
}

func NewNATSQueue(broker Broker, sender Sender, workers, size int, logger *slog.Logger) *NATSQueue {
	return &NATSQueue{
		broker: broker,
		pool:   NewLocalQueue(sender, workers, size, logger),
		logger: logger.With("component", "push_nats_queue"),
	}
}

func (q *NATSQueue) Enqueue(ctx context.Context, job Job) {
	data, err := json.Marshal(job)
	if err != nil {
		pushJobsDroppedCounter.WithLabelValues("encode_error").Inc()
		q.logger.ErrorContext(ctx, "Failed to encode push job", "recipient", job.Recipient, "error", err)
		return
	}
	if err := q.broker.Publish(ctx, JobsSubject, data); err != nil {
		pushJobsDroppedCounter.WithLabelValues("publish_error").Inc()
		q.logger.WarnContext(ctx, "Failed to publish push job", "recipient", job.Recipient, "error", err)
	}
}

// Run consumes jobs and runs the worker pool until ctx is cancelled.
func (q *NATSQueue) Run(ctx context.Context) error {
	g, groupCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return q.pool.Run(groupCtx)
	})
	g.Go(func() error {
		return q.broker.SubscribeToSubjectWithQueue(groupCtx, JobsSubject, JobsQueueGroup, func(msg *nats.Msg) {
			q.handle(groupCtx, msg)
		})
	})
	return g.Wait()
}

func (q *NATSQueue) handle(ctx context.Context, msg *nats.Msg) {
	var job Job
	if err := json.Unmarshal(msg.Data, &job); err != nil {
		pushJobsDroppedCounter.WithLabelValues("decode_error").Inc()
		q.logger.ErrorContext(ctx, "Failed to decode push job", "subject", msg.Subject, "error", err)
		return
	}
	q.pool.Enqueue(ctx, job)
}
