package replica

import (
	"encoding/json"

	"github.com/keisueke/show-discord/internal/models"
)

// state is a single replica's copy of session data. Callers hold the owning lock.
type state struct {
	snap *models.Snapshot
}

func newState() *state {
	return &state{snap: models.NewSnapshot()}
}

func (s *state) global(key string) (json.RawMessage, bool) {
	v, ok := s.snap.Globals[key]
	if !ok || models.IsNull(v) {
		return nil, false
	}
	return v, true
}

func (s *state) setGlobal(key string, value json.RawMessage) {
	if models.IsNull(value) {
		delete(s.snap.Globals, key)
		return
	}
	s.snap.Globals[key] = clone(value)
}

func (s *state) player(peerID, key string) (json.RawMessage, bool) {
	v, ok := s.snap.Players[peerID][key]
	if !ok || models.IsNull(v) {
		return nil, false
	}
	return v, true
}

func (s *state) setPlayer(peerID, key string, value json.RawMessage) {
	if models.IsNull(value) {
		delete(s.snap.Players[peerID], key)
		return
	}
	own, ok := s.snap.Players[peerID]
	if !ok {
		own = make(map[string]json.RawMessage)
		s.snap.Players[peerID] = own
	}
	own[key] = clone(value)
}

func (s *state) load(snap *models.Snapshot) {
	s.snap = snap.Clone()
}

func (s *state) copy() *models.Snapshot {
	return s.snap.Clone()
}

func clone(v json.RawMessage) json.RawMessage {
	if v == nil {
		return nil
	}
	out := make(json.RawMessage, len(v))
	copy(out, v)
	return out
}
