package server

import (
	"log"
	"sort"
	"sync"

	"linechat/internal/protocol"
)

// Sink delivers encoded response lines to one connected client.  Send must
// not block: it reports false when the client is gone or not draining its
// buffer, and the caller treats that as a dead peer.
type Sink interface {
	Send(line []byte) bool
	// Kick terminates the connection behind the sink.  The registry calls
	// it after evicting a sink whose sends fail, so the dead client's
	// pumps and session shut down instead of lingering half logged in.
	Kick()
}

// Registry is the shared map of logged-in usernames to their delivery
// sinks.  One mutex guards every read, iteration and mutation, so all
// register/unregister operations and whole-registry broadcasts are
// linearised: no two connections ever observe a partial view of the
// logged-in set.  Sends inside the critical section are buffered-channel
// enqueues, which keeps the lock hold time bounded regardless of how slow
// any one client's socket is.
type Registry struct {
	mu    sync.Mutex
	sinks map[string]Sink
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{sinks: make(map[string]Sink)}
}

// TryRegister claims username for sink.  It returns false when the name is
// already taken, in which case the caller must not proceed with the login.
func (r *Registry) TryRegister(username string, sink Sink) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, taken := r.sinks[username]; taken {
		return false
	}
	r.sinks[username] = sink
	return true
}

// Unregister removes username, but only while it still maps to sink.  The
// guard makes double cleanup harmless: when a broadcast failure has already
// evicted the entry (or another connection has since claimed the name), the
// stale caller is a no-op.  Reports whether an entry was removed.
func (r *Registry) Unregister(username string, sink Sink) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if current, ok := r.sinks[username]; ok && current == sink {
		delete(r.sinks, username)
		return true
	}
	return false
}

// Contains reports whether username is currently registered.
func (r *Registry) Contains(username string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.sinks[username]
	return ok
}

// Snapshot returns a sorted copy of the registered usernames, taken at a
// single consistent instant.
func (r *Registry) Snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	names := make([]string, 0, len(r.sinks))
	for name := range r.sinks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Broadcast sends resp to every registered sink except exclude (empty means
// nobody is excluded).  Failed sinks are collected during the pass and
// removed afterwards, inside the same critical section, so the map is never
// mutated mid-iteration.  The removed usernames are returned so the caller
// can announce their departure.
func (r *Registry) Broadcast(resp protocol.Response, exclude string) []string {
	line, err := resp.Encode()
	if err != nil {
		log.Printf("[registry] encode broadcast: %v", err)
		return nil
	}

	r.mu.Lock()
	var failedNames []string
	var failedSinks []Sink
	for name, sink := range r.sinks {
		if name == exclude {
			continue
		}
		if !sink.Send(line) {
			failedNames = append(failedNames, name)
			failedSinks = append(failedSinks, sink)
		}
	}
	for _, name := range failedNames {
		delete(r.sinks, name)
		log.Printf("[registry] dropped unresponsive client %s", name)
	}
	r.mu.Unlock()

	// Kick outside the lock: a kicked client's teardown re-acquires it
	// for its own (now no-op) Unregister.
	for _, sink := range failedSinks {
		sink.Kick()
	}
	return failedNames
}
