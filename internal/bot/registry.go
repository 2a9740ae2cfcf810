package bot

import "sync"

// Registry maps chat senders to their currently selected session, for
// commands that arrive without a reply target. Entries survive session
// disappearance; resolution treats them as stale when the session is no
// longer discoverable.
type Registry struct {
	mu     sync.Mutex
	active map[int64]string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{active: make(map[int64]string)}
}

// Select records the active session for a sender.
func (r *Registry) Select(sender int64, session string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.active[sender] = session
}

// Active returns the sender's selected session, if any.
func (r *Registry) Active(sender int64) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.active[sender]
	return s, ok
}

// Clear removes the sender's selection.
func (r *Registry) Clear(sender int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.active, sender)
}
