package services

import (
	"github.com/keisueke/show-discord/internal/answersync"
	"github.com/keisueke/show-discord/internal/models"
)

type PlayerView struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	AvatarURL   string `json:"avatarUrl,omitempty"`
	Score       int    `json:"score"`
	Connected   bool   `json:"connected"`
	Synced      bool   `json:"synced"`
	Answered    bool   `json:"answered"`
}

// View is the read-only state a presentation layer renders for the local peer.
type View struct {
	Self         string `json:"self"`
	IsAdmin      bool   `json:"isAdmin"`
	IsQuestioner bool   `json:"isQuestioner"`
	IsHost       bool   `json:"isHost"`

	Phase              models.Phase        `json:"phase"`
	Settings           models.Settings     `json:"settings"`
	AdminID            string              `json:"adminId"`
	QuestionerID       string              `json:"questionerId"`
	QuestionCandidates []models.Question   `json:"questionCandidates"`
	CurrentQuestion    *models.Question    `json:"currentQuestion"`
	QuestionText       string              `json:"questionText"`
	CurrentRound       int                 `json:"currentRound"`
	IsDoubleScore      bool                `json:"isDoubleScore"`
	QuestionSeq        int                 `json:"questionSeq"`
	WaitingForSync     bool                `json:"waitingForSync"`
	SyncStalled        bool                `json:"syncStalled"`
	Result             *models.RoundResult `json:"result"`

	Players       []PlayerView `json:"players"`
	AnsweredCount int          `json:"answeredCount"`
	ExpectedCount int          `json:"expectedCount"`
	MyAnswer      *float64     `json:"myAnswer"`
}

// View derives the current view from the local replica.
func (c *Coordinator) View() View {
	c.mu.Lock()
	defer c.mu.Unlock()

	snap := loadSnapshot(c.store)
	self := c.store.Self()
	admin := snap.admin()

	v := View{
		Self:               self,
		IsAdmin:            admin == self,
		IsQuestioner:       snap.QuestionerID != "" && snap.QuestionerID == self,
		IsHost:             c.store.IsAuthoritative(),
		Phase:              snap.Phase,
		Settings:           snap.Settings,
		AdminID:            admin,
		QuestionerID:       snap.QuestionerID,
		QuestionCandidates: snap.QuestionCandidates,
		CurrentQuestion:    snap.CurrentQuestion,
		CurrentRound:       snap.CurrentRound,
		IsDoubleScore:      snap.IsDoubleScore,
		QuestionSeq:        snap.QuestionSeq,
		WaitingForSync:     snap.WaitingForSync,
		SyncStalled:        snap.Phase == models.PhaseQuestion && c.track.stalled(snap.QuestionSeq, c.clock.Now(), c.syncStall),
		Result:             snap.Result,
	}
	if q := snap.CurrentQuestion; q != nil {
		target := ""
		if q.TargetID != "" {
			target = snap.displayName(q.TargetID)
		}
		v.QuestionText = q.Render(target)
	}

	var st answersync.Status
	if snap.Phase == models.PhaseQuestion {
		st = answersync.Evaluate(snap.QuestionSeq, snap.peers, snap.slots)
		v.AnsweredCount = len(st.Answered)
		v.ExpectedCount = len(snap.peers)
	}
	answered := make(map[string]bool, len(st.Answered))
	for _, e := range st.Answered {
		answered[e.PlayerID] = true
	}

	for _, id := range snap.order() {
		p := snap.profiles[id]
		v.Players = append(v.Players, PlayerView{
			ID:          id,
			DisplayName: snap.displayName(id),
			AvatarURL:   p.AvatarURL,
			Score:       snap.Scores[id],
			Connected:   snap.connected(id),
			Synced:      snap.slots[id].Acknowledged(snap.QuestionSeq),
			Answered:    answered[id],
		})
	}

	if value, ok := snap.slots[self].ValueAt(snap.QuestionSeq); ok {
		v.MyAnswer = &value
	}
	return v
}
