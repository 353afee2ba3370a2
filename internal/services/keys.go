package services

import (
	"encoding/json"

	"github.com/rs/zerolog/log"

	"github.com/keisueke/show-discord/internal/answersync"
	"github.com/keisueke/show-discord/internal/replica"
)

type keyOwner int

const (
	// ownerAdmin keys are global and written by the admin or the authoritative peer.
	ownerAdmin keyOwner = iota
	// ownerSelf keys live in each peer's own state and only that peer writes them.
	ownerSelf
)

// keySpec names a replicated key together with who may write it.
type keySpec struct {
	name  string
	owner keyOwner
}

var (
	keyPhase              = keySpec{KeyPhase, ownerAdmin}
	keySettings           = keySpec{"settings", ownerAdmin}
	keyAdminID            = keySpec{"adminId", ownerAdmin}
	keyPlayerOrder        = keySpec{KeyPlayerOrder, ownerAdmin}
	keyQuestionerID       = keySpec{"questionerId", ownerAdmin}
	keyQuestionCandidates = keySpec{"questionCandidates", ownerAdmin}
	keyCurrentQuestion    = keySpec{"currentQuestion", ownerAdmin}
	keyCurrentRound       = keySpec{KeyRound, ownerAdmin}
	keyScores             = keySpec{KeyScores, ownerAdmin}
	keyIsDoubleScore      = keySpec{"isDoubleScore", ownerAdmin}
	keyQuestionSeq        = keySpec{"questionSeq", ownerAdmin}
	keyWaitingForSync     = keySpec{"waitingForSync", ownerAdmin}
	keyResult             = keySpec{"result", ownerAdmin}

	keyAnswer    = keySpec{answersync.AnswerKey, ownerSelf}
	keyAnswerSeq = keySpec{answersync.AnswerSeqKey, ownerSelf}
	keyProfile   = keySpec{KeyProfile, ownerSelf}
)

// Key names as they appear on the wire, for other packages that inspect sessions.
const (
	KeyPhase       = "phase"
	KeyScores      = "scores"
	KeyPlayerOrder = "playerOrder"
	KeyRound       = "currentRound"
	KeyProfile     = "profile"
)

func readGlobal[T any](s replica.Store, k keySpec, def T) T {
	raw, ok := s.ReadGlobal(k.name)
	if !ok {
		return def
	}
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		log.Warn().Err(err).Str("key", k.name).Msg("Ignoring malformed global value")
		return def
	}
	return v
}

func readPlayer[T any](s replica.Store, peerID string, k keySpec) (T, bool) {
	var v T
	raw, ok := s.ReadPlayer(peerID, k.name)
	if !ok {
		return v, false
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		log.Warn().Err(err).Str("key", k.name).Str("player_id", peerID).Msg("Ignoring malformed player value")
		return v, false
	}
	return v, true
}

func encode(v any) json.RawMessage {
	if v == nil {
		return nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Msg("Failed to encode replicated value")
		return nil
	}
	return raw
}
