package services

import (
	"github.com/keisueke/show-discord/internal/answersync"
	"github.com/keisueke/show-discord/internal/models"
	"github.com/keisueke/show-discord/internal/replica"
)

// RoundState is the global, admin-owned part of a session.
type RoundState struct {
	Phase              models.Phase        `json:"phase"`
	Settings           models.Settings     `json:"settings"`
	AdminID            string              `json:"adminId"`
	PlayerOrder        []string            `json:"playerOrder"`
	QuestionerID       string              `json:"questionerId"`
	QuestionCandidates []models.Question   `json:"questionCandidates"`
	CurrentQuestion    *models.Question    `json:"currentQuestion"`
	CurrentRound       int                 `json:"currentRound"`
	Scores             map[string]int      `json:"scores"`
	IsDoubleScore      bool                `json:"isDoubleScore"`
	QuestionSeq        int                 `json:"questionSeq"`
	WaitingForSync     bool                `json:"waitingForSync"`
	Result             *models.RoundResult `json:"result"`
}

// snapshot is everything the reducer and the guards need from one local read.
type snapshot struct {
	RoundState
	peers    []string
	slots    map[string]answersync.Slot
	profiles map[string]models.Profile
}

func loadSnapshot(s replica.Store) *snapshot {
	snap := &snapshot{
		RoundState: RoundState{
			Phase:              readGlobal(s, keyPhase, models.PhaseLobby),
			Settings:           readGlobal(s, keySettings, models.DefaultSettings()),
			AdminID:            readGlobal(s, keyAdminID, ""),
			PlayerOrder:        readGlobal[[]string](s, keyPlayerOrder, nil),
			QuestionerID:       readGlobal(s, keyQuestionerID, ""),
			QuestionCandidates: readGlobal[[]models.Question](s, keyQuestionCandidates, nil),
			CurrentQuestion:    readGlobal[*models.Question](s, keyCurrentQuestion, nil),
			CurrentRound:       readGlobal(s, keyCurrentRound, 0),
			Scores:             readGlobal(s, keyScores, map[string]int{}),
			IsDoubleScore:      readGlobal(s, keyIsDoubleScore, false),
			QuestionSeq:        readGlobal(s, keyQuestionSeq, 0),
			WaitingForSync:     readGlobal(s, keyWaitingForSync, false),
			Result:             readGlobal[*models.RoundResult](s, keyResult, nil),
		},
		peers:    s.Peers(),
		slots:    make(map[string]answersync.Slot),
		profiles: make(map[string]models.Profile),
	}
	if !snap.Phase.Valid() {
		snap.Phase = models.PhaseLobby
	}
	if snap.Scores == nil {
		snap.Scores = map[string]int{}
	}

	ids := append([]string(nil), snap.peers...)
	for _, id := range snap.PlayerOrder {
		if !contains(ids, id) {
			ids = append(ids, id)
		}
	}
	for _, id := range ids {
		snap.slots[id] = readSlot(s, id)
		if p, ok := readPlayer[models.Profile](s, id, keyProfile); ok {
			snap.profiles[id] = p
		}
	}
	return snap
}

func readSlot(s replica.Store, id string) answersync.Slot {
	var slot answersync.Slot
	if a, ok := readPlayer[answersync.Answer](s, id, keyAnswer); ok {
		slot.Answer = &a
	}
	slot.AnswerSeq, slot.HasSeq = readPlayer[int](s, id, keyAnswerSeq)
	return slot
}

func (s *snapshot) connected(id string) bool {
	return id != "" && contains(s.peers, id)
}

// admin returns the effective admin: the stored one while connected, otherwise the
// first connected peer.
func (s *snapshot) admin() string {
	if s.connected(s.AdminID) {
		return s.AdminID
	}
	if len(s.peers) > 0 {
		return s.peers[0]
	}
	return ""
}

// order is playerOrder with any connected peers it is missing appended.
func (s *snapshot) order() []string {
	out := append([]string(nil), s.PlayerOrder...)
	for _, id := range s.peers {
		if !contains(out, id) {
			out = append(out, id)
		}
	}
	return out
}

func (s *snapshot) displayName(id string) string {
	if p, ok := s.profiles[id]; ok {
		return p.Name()
	}
	return id
}

func contains(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
