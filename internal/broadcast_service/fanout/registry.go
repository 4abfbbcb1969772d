package fanout

import (
	"sync"

	"github.com/medping/golang_services/internal/broadcast_service/domain"
)

// Registry maps a recipient to at most one live client in this process.
type Registry struct {
	mu      sync.RWMutex
	clients map[domain.RecipientKey]*Client
}

func NewRegistry() *Registry {
	return &Registry{clients: make(map[domain.RecipientKey]*Client)}
}

// Register installs c for its key. A previous client for the same key is closed
// and returned.
func (r *Registry) Register(c *Client) (replaced *Client) {
	r.mu.Lock()
	prev := r.clients[c.key]
	r.clients[c.key] = c
	r.mu.Unlock()

	liveConnectionsGauge.Set(float64(r.Len()))
	if prev != nil && prev != c {
		prev.Close()
		return prev
	}
	return nil
}

// Unregister removes c only if it is still the registered client for its key,
// so a replaced connection shutting down cannot evict its successor.
func (r *Registry) Unregister(c *Client) bool {
	r.mu.Lock()
	removed := false
	if cur, ok := r.clients[c.key]; ok && cur == c {
		delete(r.clients, c.key)
		removed = true
	}
	r.mu.Unlock()

	c.Close()
	liveConnectionsGauge.Set(float64(r.Len()))
	return removed
}

// Get returns the live client for key, if any. Closed clients are never returned.
func (r *Registry) Get(key domain.RecipientKey) (*Client, bool) {
	r.mu.RLock()
	c, ok := r.clients[key]
	r.mu.RUnlock()
	if !ok || c.closed() {
		return nil, false
	}
	return c, true
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}
