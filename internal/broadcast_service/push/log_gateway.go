package push

import (
	"context"
	"log/slog"
)

// LogGateway writes notifications to the log instead of a vendor.
// Used when PUSH_DRIVER=log.
type LogGateway struct {
	logger *slog.Logger
}

func NewLogGateway(logger *slog.Logger) *LogGateway {
	return &LogGateway{logger: logger.With("gateway", "log")}
}

func (g *LogGateway) Name() string { return "log" }

func (g *LogGateway) SendOne(ctx context.Context, token string, msg Message) Result {
	g.logger.InfoContext(ctx, "Push notification (not sent)",
		"token_suffix", tokenSuffix(token),
		"title", msg.Title,
		"body", msg.Body,
		"type", msg.Data["type"],
		"request_id", msg.Data["request_id"],
	)
	return Result{Token: token}
}

func (g *LogGateway) SendMany(ctx context.Context, tokens []string, msg Message) []Result {
	out := make([]Result, len(tokens))
	for i, t := range tokens {
		out[i] = g.SendOne(ctx, t, msg)
	}
	return out
}

// tokenSuffix keeps push tokens out of logs.
func tokenSuffix(token string) string {
	if len(token) <= 6 {
		return token
	}
	return "..." + token[len(token)-6:]
}
