// Package replica defines the replicated session store the game engine runs on and
// provides two implementations: an in-process network of replicas and a websocket
// client for the relay server.
package replica

import "encoding/json"

// CallHandler runs when a broadcast call reaches this peer.
type CallHandler func(from string, payload json.RawMessage)

// Store is one peer's view of a shared session. Writes apply locally at once and reach
// other peers eventually, possibly out of order with respect to other keys.
type Store interface {
	// Self is the local peer id.
	Self() string

	ReadGlobal(key string) (json.RawMessage, bool)
	WriteGlobal(key string, value json.RawMessage)

	// ReadPlayer reads a key from any peer's own state. WriteOwn writes the local
	// peer's own state; a nil or null value removes the key.
	ReadPlayer(peerID, key string) (json.RawMessage, bool)
	WriteOwn(key string, value json.RawMessage)

	// Peers lists connected peers in the same order on every peer.
	Peers() []string

	// Broadcast invokes the named call on every peer, including this one.
	Broadcast(name string, payload json.RawMessage)
	Handle(name string, fn CallHandler)

	// IsAuthoritative reports whether the transport considers this peer its host.
	IsAuthoritative() bool

	// Subscribe registers fn to run after any replicated change. fn must not block.
	Subscribe(fn func()) (cancel func())
}

// subscribers is a small registry shared by both store implementations.
type subscribers struct {
	next int
	fns  map[int]func()
}

func (s *subscribers) add(fn func()) int {
	if s.fns == nil {
		s.fns = make(map[int]func())
	}
	s.next++
	s.fns[s.next] = fn
	return s.next
}

func (s *subscribers) remove(id int) {
	delete(s.fns, id)
}

func (s *subscribers) list() []func() {
	out := make([]func(), 0, len(s.fns))
	for _, fn := range s.fns {
		out = append(out, fn)
	}
	return out
}

func notify(fns []func()) {
	for _, fn := range fns {
		fn()
	}
}
