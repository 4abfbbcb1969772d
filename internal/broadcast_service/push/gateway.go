// Package push delivers events out of band to a recipient's registered devices.
package push

import "context"

// Message is the vendor-neutral content of one push notification.
type Message struct {
	Title string            `json:"title"`
	Body  string            `json:"body"`
	Data  map[string]string `json:"data,omitempty"`
}

// Result is the outcome of sending to one endpoint token.
type Result struct {
	Token string
	Err   error
	// Invalid means the gateway reported the token as permanently unusable.
	Invalid bool
	// Retryable means the gateway asked us to back off and try again (429/503).
	Retryable bool
}

// OK reports whether the send succeeded.
func (r Result) OK() bool { return r.Err == nil }

// Gateway is a push vendor client.
type Gateway interface {
	SendOne(ctx context.Context, token string, msg Message) Result
	// SendMany returns one Result per token, in token order.
	SendMany(ctx context.Context, tokens []string, msg Message) []Result
	Name() string
}
