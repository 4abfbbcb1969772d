package fanout

import (
	"sync"

	"github.com/medping/golang_services/internal/broadcast_service/domain"
)

// Client is one live connection as seen by the registry. Frames are queued on a
// bounded channel drained by the transport's writer; a full queue closes the client.
type Client struct {
	key       domain.RecipientKey
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func NewClient(key domain.RecipientKey, queueSize int) *Client {
	if queueSize < 1 {
		queueSize = 1
	}
	return &Client{
		key:  key,
		send: make(chan []byte, queueSize),
		done: make(chan struct{}),
	}
}

func (c *Client) Key() domain.RecipientKey { return c.key }

// Send is drained by the transport writer.
func (c *Client) Send() <-chan []byte { return c.send }

// Done is closed when the client is closed for any reason.
func (c *Client) Done() <-chan struct{} { return c.done }

// Enqueue never blocks. It returns false if the client is closed or its queue
// overflowed, in which case the client is closed.
func (c *Client) Enqueue(frame []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- frame:
		return true
	default:
		c.Close()
		return false
	}
}

// Close is idempotent.
func (c *Client) Close() {
	c.closeOnce.Do(func() { close(c.done) })
}

func (c *Client) closed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}
