// Package session implements §4.6 SessionCoordinator and SessionRegistry:
// the per-call wiring of InputFlow, ModelDriver, OutputPacer, and
// ToolRunner, plus the process-wide call-identifier → coordinator map.
package session

import (
	"fmt"
	"sync"
)

// Handle is the non-owning reference SessionRegistry hands out for lookup
// and shutdown dispatch (§3 Ownership).
type Handle interface {
	CallID() string
	Shutdown(reason string)
}

// Registry is the single process-wide mapping from call identifier to
// coordinator handle (§4.6). All operations are linearizable with respect
// to each other via a single mutex — the registry is deliberately the only
// piece of shared mutable state across calls (§5).
type Registry struct {
	mu    sync.Mutex
	calls map[string]Handle
}

// NewRegistry constructs an empty Registry.
func NewRegistry() *Registry {
	return &Registry{calls: make(map[string]Handle)}
}

// Register adds a new handle under callID. It fails if callID is already
// present (§3 Invariants: "A session identifier is unique within the
// registry at any instant").
func (r *Registry) Register(callID string, h Handle) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.calls[callID]; exists {
		return fmt.Errorf("session: call id %q already registered", callID)
	}
	r.calls[callID] = h
	return nil
}

// Lookup returns the handle for callID, if any.
func (r *Registry) Lookup(callID string) (Handle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.calls[callID]
	return h, ok
}

// Unregister removes callID from the registry. A no-op if absent.
func (r *Registry) Unregister(callID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.calls, callID)
}

// ShutdownAll shuts down every registered session, e.g. during process
// drain. Shutdown is dispatched outside the registry's own lock so a
// handle's teardown (which may itself call Unregister) cannot deadlock.
func (r *Registry) ShutdownAll(reason string) {
	r.mu.Lock()
	handles := make([]Handle, 0, len(r.calls))
	for _, h := range r.calls {
		handles = append(handles, h)
	}
	r.mu.Unlock()

	for _, h := range handles {
		h.Shutdown(reason)
	}
}

// Len reports the number of currently registered sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}
