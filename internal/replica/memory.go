package replica

import (
	"encoding/json"
	"sync"
)

type Kind int

const (
	KindGlobal Kind = iota
	KindPlayer
	KindCall
)

func (k Kind) String() string {
	switch k {
	case KindGlobal:
		return "global"
	case KindPlayer:
		return "player"
	case KindCall:
		return "call"
	}
	return "unknown"
}

// Message is one replicated update in flight between two peers.
type Message struct {
	From  string
	To    string
	Kind  Kind
	Key   string
	Value json.RawMessage
}

// Network connects in-process replicas. By default every update is delivered as soon
// as it is written. With manual delivery updates queue until Deliver is called, which
// lets callers hold back, reorder, or duplicate traffic.
type Network struct {
	mu      sync.Mutex
	members []*MemoryStore
	queue   []Message
	manual  bool
}

type NetworkOption func(*Network)

func WithManualDelivery() NetworkOption {
	return func(n *Network) { n.manual = true }
}

func NewNetwork(opts ...NetworkOption) *Network {
	n := &Network{}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Join connects a new peer. It starts from a copy of the earliest member's replica.
func (n *Network) Join(id string) *MemoryStore {
	s := &MemoryStore{
		net:      n,
		id:       id,
		state:    newState(),
		handlers: make(map[string]CallHandler),
	}

	n.mu.Lock()
	var seed *MemoryStore
	if len(n.members) > 0 {
		seed = n.members[0]
	}
	n.members = append(n.members, s)
	others := n.othersLocked(id)
	n.mu.Unlock()

	if seed != nil {
		seed.mu.Lock()
		snap := seed.state.copy()
		seed.mu.Unlock()
		s.state.load(snap)
	}

	for _, m := range others {
		m.changed()
	}
	return s
}

// Leave disconnects a peer. Its replicated own state stays readable by others.
func (n *Network) Leave(id string) {
	n.mu.Lock()
	kept := n.members[:0]
	for _, m := range n.members {
		if m.id != id {
			kept = append(kept, m)
		}
	}
	n.members = kept
	others := append([]*MemoryStore(nil), n.members...)
	n.mu.Unlock()

	for _, m := range others {
		m.changed()
	}
}

// Pending returns a copy of the queued messages in send order.
func (n *Network) Pending() []Message {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]Message(nil), n.queue...)
}

// Deliver hands every queued message matching keep to its recipient, in send order,
// and returns how many were delivered. Messages produced while delivering stay queued.
func (n *Network) Deliver(keep func(Message) bool) int {
	n.mu.Lock()
	var ready, rest []Message
	for _, msg := range n.queue {
		if keep(msg) {
			ready = append(ready, msg)
		} else {
			rest = append(rest, msg)
		}
	}
	n.queue = rest
	n.mu.Unlock()

	for _, msg := range ready {
		n.dispatch(msg)
	}
	return len(ready)
}

// DeliverAll drains the queue, including messages produced by handlers along the way.
func (n *Network) DeliverAll() int {
	total := 0
	for {
		delivered := n.Deliver(func(Message) bool { return true })
		if delivered == 0 {
			return total
		}
		total += delivered
	}
}

// Drop discards queued messages matching match and returns how many were removed.
func (n *Network) Drop(match func(Message) bool) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	kept := n.queue[:0]
	dropped := 0
	for _, msg := range n.queue {
		if match(msg) {
			dropped++
			continue
		}
		kept = append(kept, msg)
	}
	n.queue = kept
	return dropped
}

func (n *Network) peers() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	ids := make([]string, len(n.members))
	for i, m := range n.members {
		ids[i] = m.id
	}
	return ids
}

func (n *Network) member(id string) *MemoryStore {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, m := range n.members {
		if m.id == id {
			return m
		}
	}
	return nil
}

func (n *Network) othersLocked(id string) []*MemoryStore {
	out := make([]*MemoryStore, 0, len(n.members))
	for _, m := range n.members {
		if m.id != id {
			out = append(out, m)
		}
	}
	return out
}

func (n *Network) send(from string, kind Kind, key string, value json.RawMessage) {
	n.mu.Lock()
	if !n.isMemberLocked(from) {
		n.mu.Unlock()
		return
	}
	var msgs []Message
	for _, m := range n.othersLocked(from) {
		msgs = append(msgs, Message{From: from, To: m.id, Kind: kind, Key: key, Value: clone(value)})
	}
	if n.manual {
		n.queue = append(n.queue, msgs...)
		n.mu.Unlock()
		return
	}
	n.mu.Unlock()

	for _, msg := range msgs {
		n.dispatch(msg)
	}
}

func (n *Network) isMemberLocked(id string) bool {
	for _, m := range n.members {
		if m.id == id {
			return true
		}
	}
	return false
}

func (n *Network) dispatch(msg Message) {
	target := n.member(msg.To)
	if target == nil {
		return
	}
	target.receive(msg)
}

// MemoryStore is one peer's replica on a Network.
type MemoryStore struct {
	net *Network
	id  string

	mu       sync.Mutex
	state    *state
	handlers map[string]CallHandler
	subs     subscribers
}

var _ Store = (*MemoryStore)(nil)

func (s *MemoryStore) Self() string { return s.id }

func (s *MemoryStore) ReadGlobal(key string) (json.RawMessage, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.global(key)
}

func (s *MemoryStore) WriteGlobal(key string, value json.RawMessage) {
	s.mu.Lock()
	s.state.setGlobal(key, value)
	s.mu.Unlock()

	s.changed()
	s.net.send(s.id, KindGlobal, key, value)
}

func (s *MemoryStore) ReadPlayer(peerID, key string) (json.RawMessage, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.player(peerID, key)
}

func (s *MemoryStore) WriteOwn(key string, value json.RawMessage) {
	s.mu.Lock()
	s.state.setPlayer(s.id, key, value)
	s.mu.Unlock()

	s.changed()
	s.net.send(s.id, KindPlayer, key, value)
}

func (s *MemoryStore) Peers() []string {
	return s.net.peers()
}

func (s *MemoryStore) Broadcast(name string, payload json.RawMessage) {
	s.invoke(s.id, name, payload)
	s.net.send(s.id, KindCall, name, payload)
}

func (s *MemoryStore) Handle(name string, fn CallHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[name] = fn
}

func (s *MemoryStore) IsAuthoritative() bool {
	peers := s.net.peers()
	return len(peers) > 0 && peers[0] == s.id
}

func (s *MemoryStore) Subscribe(fn func()) func() {
	s.mu.Lock()
	id := s.subs.add(fn)
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.subs.remove(id)
	}
}

func (s *MemoryStore) receive(msg Message) {
	switch msg.Kind {
	case KindGlobal:
		s.mu.Lock()
		s.state.setGlobal(msg.Key, msg.Value)
		s.mu.Unlock()
		s.changed()
	case KindPlayer:
		s.mu.Lock()
		s.state.setPlayer(msg.From, msg.Key, msg.Value)
		s.mu.Unlock()
		s.changed()
	case KindCall:
		s.invoke(msg.From, msg.Key, msg.Value)
	}
}

func (s *MemoryStore) invoke(from, name string, payload json.RawMessage) {
	s.mu.Lock()
	fn := s.handlers[name]
	s.mu.Unlock()
	if fn != nil {
		fn(from, payload)
	}
}

func (s *MemoryStore) changed() {
	s.mu.Lock()
	fns := s.subs.list()
	s.mu.Unlock()
	notify(fns)
}
