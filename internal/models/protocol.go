package models

import (
	"encoding/json"
	"time"
)

// Message types exchanged between relay and peers.
const (
	// peer -> relay
	MsgSetGlobal = "set_global"
	MsgSetOwn    = "set_own"
	MsgCall      = "call"

	// relay -> peer
	MsgWelcome = "welcome"
	MsgGlobal  = "global"
	MsgPlayer  = "player"
	MsgPeers   = "peers"
	MsgError   = "error"
)

// Envelope is the single wire frame used on the relay websocket.
type Envelope struct {
	Type     string          `json:"type"`
	From     string          `json:"from,omitempty"`
	Key      string          `json:"key,omitempty"`
	Name     string          `json:"name,omitempty"`
	Value    json.RawMessage `json:"value,omitempty"`
	Peers    []string        `json:"peers,omitempty"`
	Snapshot *Snapshot       `json:"snapshot,omitempty"`
	Error    string          `json:"error,omitempty"`
}

// Snapshot is the full replicated state of one session.
type Snapshot struct {
	Globals map[string]json.RawMessage            `json:"globals"`
	Players map[string]map[string]json.RawMessage `json:"players"`
	Peers   []string                              `json:"peers"`
}

func NewSnapshot() *Snapshot {
	return &Snapshot{
		Globals: make(map[string]json.RawMessage),
		Players: make(map[string]map[string]json.RawMessage),
		Peers:   []string{},
	}
}

// Clone returns a deep copy. A nil snapshot clones to an empty one.
func (s *Snapshot) Clone() *Snapshot {
	dst := NewSnapshot()
	if s == nil {
		return dst
	}
	for k, v := range s.Globals {
		dst.Globals[k] = append(json.RawMessage(nil), v...)
	}
	for id, own := range s.Players {
		m := make(map[string]json.RawMessage, len(own))
		for k, v := range own {
			m[k] = append(json.RawMessage(nil), v...)
		}
		dst.Players[id] = m
	}
	dst.Peers = append(dst.Peers, s.Peers...)
	return dst
}

// IsNull reports whether a raw value is absent or an explicit JSON null.
func IsNull(raw json.RawMessage) bool {
	return len(raw) == 0 || string(raw) == "null"
}

// Relay lifecycle event types.
const (
	EventPeerJoined   = "peer_joined"
	EventPeerLeft     = "peer_left"
	EventPhaseChanged = "phase_changed"
	EventGameFinished = "game_finished"
	EventSessionEnded = "session_ended"
)

type GameEvent struct {
	Type      string      `json:"type"`
	SessionID string      `json:"session_id"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}
