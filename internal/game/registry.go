package game

import "sync"

// Registry maps channel ids to at most one live session each. It is the
// exclusivity gate: TryCreate is an atomic check-and-insert, so two
// concurrent challenges in the same channel cannot both succeed.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Session
}

// NewRegistry creates an empty session registry.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Session)}
}

// TryCreate inserts the session if the channel is free, or returns
// ErrGameInProgress.
func (r *Registry) TryCreate(channel string, s *Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.sessions[channel]; exists {
		return ErrGameInProgress
	}
	r.sessions[channel] = s
	return nil
}

// Get returns the live session for the channel, if any.
func (r *Registry) Get(channel string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[channel]
	return s, ok
}

// Remove deletes the channel's session. Removing an absent channel is a
// no-op: the roll-of-1 and timeout paths may both reach removal.
func (r *Registry) Remove(channel string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, channel)
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}
