package client

import "sync"

// Registry is the explicit handle-based replacement for the weak
// reference list the original implementation GC'd periodically (see
// spec.md's REDESIGN FLAGS). Producer owners call Release when a client
// is torn down; the external timer tick then sweeps released entries out
// on its own schedule rather than relying on garbage collection to
// notice the client is unreachable.
type Registry struct {
	mu      sync.Mutex
	clients []*Client
}

// NewRegistry creates an empty client registry.
func NewRegistry() *Registry {
	return &Registry{}
}

func (r *Registry) register(c *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clients = append(r.clients, c)
}

// Sweep removes every client that has called Release since the last
// sweep. Intended to be wired as the dispatcher's external tick handler
// via Dispatcher.SetExternalTickHandler.
func (r *Registry) Sweep() {
	r.mu.Lock()
	defer r.mu.Unlock()

	kept := r.clients[:0:0]
	for _, c := range r.clients {
		if !c.isReleased() {
			kept = append(kept, c)
		}
	}
	r.clients = kept
}

// Len reports how many clients are currently registered (tests and
// diagnostics only).
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.clients)
}
