package session

import (
	"sort"
	"sync"
)

// The outbound side of one connection. Send must not block: it reports
// false when the message could not be queued.
type Sender interface {
	ID() string
	Send(message []byte) bool
	Close()
}

// Tracks the connections of one canvas and fans messages out to them. It
// has no drawing semantics.
type Registry struct {
	senders map[string]Sender
	mu      sync.RWMutex
}

func NewRegistry() *Registry {
	return &Registry{
		senders: make(map[string]Sender),
	}
}

// Adds a connection. A previous sender with the same id is closed and
// replaced.
func (r *Registry) Register(id string, s Sender) {
	r.mu.Lock()
	prev, ok := r.senders[id]
	r.senders[id] = s
	r.mu.Unlock()

	if ok && prev != s {
		prev.Close()
	}
}

// Removes a connection and closes its sender. Returns false if the id was
// not registered.
func (r *Registry) Unregister(id string) bool {
	r.mu.Lock()
	s, ok := r.senders[id]
	delete(r.senders, id)
	r.mu.Unlock()

	if ok {
		s.Close()
	}
	return ok
}

// Queues message for every connection except exclude (pass "" to reach
// everyone). A failed send never stops delivery to the others; the ids
// that could not be reached are returned.
func (r *Registry) Broadcast(message []byte, exclude string) (delivered int, failed []string) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for id, s := range r.senders {
		if id == exclude {
			continue
		}
		if s.Send(message) {
			delivered++
		} else {
			failed = append(failed, id)
		}
	}
	sort.Strings(failed)
	return delivered, failed
}

// Queues message for a single connection
func (r *Registry) SendTo(id string, message []byte) bool {
	r.mu.RLock()
	s, ok := r.senders[id]
	r.mu.RUnlock()

	if !ok {
		return false
	}
	return s.Send(message)
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.senders)
}

// Closes and removes every connection
func (r *Registry) CloseAll() {
	r.mu.Lock()
	senders := r.senders
	r.senders = make(map[string]Sender)
	r.mu.Unlock()

	for _, s := range senders {
		s.Close()
	}
}
