package push

import (
	"context"
	"log/slog"
	"sync"

	"github.com/medping/golang_services/internal/broadcast_service/domain"
)

// Job is one push notification waiting to be dispatched.
type Job struct {
	Recipient domain.RecipientKey `json:"recipient"`
	Title     string              `json:"title"`
	Body      string              `json:"body"`
	Data      map[string]string   `json:"data"`
}

// Sender is what a queue hands jobs to. *Dispatcher implements it.
type Sender interface {
	Send(ctx context.Context, recipient domain.RecipientKey, title, body string, data map[string]string)
}

// LocalQueue runs push jobs on a fixed pool of goroutines fed by a bounded channel.
// Enqueue never blocks; a full queue drops the job.
type LocalQueue struct {
	jobs    chan Job
	sender  Sender
	workers int
	logger  *slog.Logger
}

func NewLocalQueue(sender Sender, workers, size int, logger *slog.Logger) *LocalQueue {
	return &LocalQueue{
		jobs:    make(chan Job, size),
		sender:  sender,
		workers: workers,
		logger:  logger.With("component", "push_local_queue"),
	}
}

func (q *LocalQueue) Enqueue(ctx context.Context, job Job) {
	select {
	case q.jobs <- job:
	default:
		pushJobsDroppedCounter.WithLabelValues("queue_full").Inc()
		q.logger.WarnContext(ctx, "Push queue full; dropping job", "recipient", job.Recipient, "type", job.Data["type"])
	}
}

// Run starts the workers and blocks until ctx is cancelled and in-flight sends finish.
// Jobs still buffered at shutdown are dropped.
func (q *LocalQueue) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	for i := 0; i < q.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case job := <-q.jobs:
					q.sender.Send(ctx, job.Recipient, job.Title, job.Body, job.Data)
				}
			}
		}()
	}
	q.logger.Info("Push workers started", "workers", q.workers, "queue_size", cap(q.jobs))
	wg.Wait()
	q.logger.Info("Push workers stopped", "dropped_on_shutdown", len(q.jobs))
	return nil
}
