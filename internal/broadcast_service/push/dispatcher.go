package push

import (
	"context"
	"log/slog"
	"time"

	"github.com/medping/golang_services/internal/broadcast_service/domain"
)

// Dispatcher resolves a recipient's active endpoints, sends to all of them and
// prunes the ones the gateway reports invalid. It never returns an error.
type Dispatcher struct {
	endpoints   domain.EndpointDirectory
	gateway     Gateway
	logger      *slog.Logger
	timeout     time.Duration
	maxAttempts int
	backoff     time.Duration
}

type DispatcherOption func(*Dispatcher)

// WithRetryBackoff sets the base delay between attempts for retryable failures.
func WithRetryBackoff(d time.Duration) DispatcherOption {
	return func(p *Dispatcher) { p.backoff = d }
}

func NewDispatcher(endpoints domain.EndpointDirectory, gateway Gateway, logger *slog.Logger, timeout time.Duration, maxAttempts int, opts ...DispatcherOption) *Dispatcher {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	d := &Dispatcher{
		endpoints:   endpoints,
		gateway:     gateway,
		logger:      logger.With("component", "push_dispatcher", "gateway", gateway.Name()),
		timeout:     timeout,
		maxAttempts: maxAttempts,
		backoff:     500 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Send delivers one notification to every active endpoint of recipient.
func (d *Dispatcher) Send(ctx context.Context, recipient domain.RecipientKey, title, body string, data map[string]string) {
	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	eps, err := d.endpoints.ListActive(ctx, recipient)
	if err != nil {
		d.logger.ErrorContext(ctx, "Failed to resolve delivery endpoints", "recipient", recipient, "error", err)
		return
	}
	if len(eps) == 0 {
		d.logger.DebugContext(ctx, "No active endpoints; skipping push", "recipient", recipient)
		return
	}

	tokens := make([]string, len(eps))
	for i, ep := range eps {
		tokens[i] = ep.Token
	}
	msg := Message{Title: title, Body: body, Data: data}

	for attempt := 1; len(tokens) > 0; attempt++ {
		results := d.gateway.SendMany(ctx, tokens, msg)
		tokens = d.handleResults(ctx, recipient, results, attempt < d.maxAttempts)
		if len(tokens) == 0 {
			return
		}

		select {
		case <-ctx.Done():
			d.logger.WarnContext(ctx, "Push retry abandoned", "recipient", recipient, "pending_tokens", len(tokens), "error", ctx.Err())
			return
		case <-time.After(d.backoff * time.Duration(attempt)):
		}
	}
}

// handleResults records outcomes, deactivates invalid tokens and returns the
// tokens worth another attempt.
func (d *Dispatcher) handleResults(ctx context.Context, recipient domain.RecipientKey, results []Result, canRetry bool) []string {
	var retry []string
	gw := d.gateway.Name()
	for _, res := range results {
		switch {
		case res.OK():
			pushSentCounter.WithLabelValues(gw, "ok").Inc()
		case res.Invalid:
			pushSentCounter.WithLabelValues(gw, "invalid").Inc()
			if err := d.endpoints.DeactivateToken(ctx, res.Token); err != nil {
				d.logger.ErrorContext(ctx, "Failed to deactivate invalid endpoint", "recipient", recipient, "error", err)
				continue
			}
			pushEndpointsDeactivatedCounter.Inc()
			d.logger.InfoContext(ctx, "Deactivated invalid endpoint", "recipient", recipient)
		case res.Retryable && canRetry:
			pushSentCounter.WithLabelValues(gw, "retryable").Inc()
			retry = append(retry, res.Token)
		default:
			pushSentCounter.WithLabelValues(gw, "error").Inc()
			d.logger.WarnContext(ctx, "Push send failed", "recipient", recipient, "error", res.Err)
		}
	}
	return retry
}
