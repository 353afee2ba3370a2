package models

import (
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

type Phase string

const (
	PhaseLobby             Phase = "LOBBY"
	PhaseQuestionSelection Phase = "QUESTION_SELECTION"
	PhasePlayerSelection   Phase = "PLAYER_SELECTION"
	PhaseQuestion          Phase = "QUESTION"
	PhaseReveal            Phase = "REVEAL"
	PhaseRanking           Phase = "RANKING"
)

var transitions = map[Phase][]Phase{
	PhaseLobby:             {PhaseQuestionSelection},
	PhaseQuestionSelection: {PhaseQuestion, PhasePlayerSelection},
	PhasePlayerSelection:   {PhaseQuestion},
	PhaseQuestion:          {PhaseReveal},
	PhaseReveal:            {PhaseQuestionSelection, PhaseRanking},
	PhaseRanking:           {PhaseLobby},
}

// Valid reports whether p is one of the known phases.
func (p Phase) Valid() bool {
	_, ok := transitions[p]
	return ok
}

// CanTransitionTo reports whether the forward game flow allows moving from p to next.
// Returning to the lobby is always allowed and is not listed here.
func (p Phase) CanTransitionTo(next Phase) bool {
	if next == PhaseLobby {
		return true
	}
	for _, allowed := range transitions[p] {
		if allowed == next {
			return true
		}
	}
	return false
}

var (
	ErrInvalidMaxRounds = errors.New("maxRounds must be at least 1")
	ErrInvalidTimeLimit = errors.New("timeLimitSeconds must be at least 1")
)

type Settings struct {
	MaxRounds        int `json:"maxRounds" yaml:"maxRounds"`
	TimeLimitSeconds int `json:"timeLimitSeconds" yaml:"timeLimitSeconds"`
}

func DefaultSettings() Settings {
	return Settings{MaxRounds: 3, TimeLimitSeconds: 30}
}

func (s Settings) Validate() error {
	if s.MaxRounds < 1 {
		return ErrInvalidMaxRounds
	}
	if s.TimeLimitSeconds < 1 {
		return ErrInvalidTimeLimit
	}
	return nil
}

// CategoryPersonal marks questions that are asked about one chosen player.
const CategoryPersonal = "personal"

// PlayerPlaceholder is replaced by the target player's display name in personal questions.
const PlayerPlaceholder = "{player}"

type Question struct {
	Text     string `json:"text" yaml:"text"`
	Category string `json:"category" yaml:"category"`
	TargetID string `json:"targetId,omitempty" yaml:"-"`
}

func (q Question) IsPersonal() bool {
	return q.Category == CategoryPersonal
}

// Render substitutes the target's display name into the question text.
func (q Question) Render(targetName string) string {
	if targetName == "" {
		return q.Text
	}
	return strings.ReplaceAll(q.Text, PlayerPlaceholder, targetName)
}

// Same compares questions by content, ignoring the chosen target.
func (q Question) Same(other Question) bool {
	return q.Text == other.Text && q.Category == other.Category
}

type RoundResult struct {
	Median       float64        `json:"median"`
	ScoreChanges map[string]int `json:"scoreChanges"`
}

// Profile is the host-supplied identity a peer publishes about itself.
type Profile struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	AvatarURL   string `json:"avatarUrl,omitempty"`
}

func (p Profile) Name() string {
	if p.DisplayName != "" {
		return p.DisplayName
	}
	return p.ID
}

type Standing struct {
	PlayerID    string `json:"player_id"`
	DisplayName string `json:"display_name"`
	Score       int    `json:"score"`
	Rank        int    `json:"rank"`
}

// GameResult is the archived outcome of a session that reached the ranking phase.
type GameResult struct {
	ID         string     `json:"id"`
	SessionID  string     `json:"session_id"`
	Rounds     int        `json:"rounds"`
	Standings  []Standing `json:"standings"`
	FinishedAt time.Time  `json:"finished_at"`
}

func NewGameResult(sessionID string, rounds int, standings []Standing) *GameResult {
	return &GameResult{
		ID:         uuid.New().String(),
		SessionID:  sessionID,
		Rounds:     rounds,
		Standings:  standings,
		FinishedAt: time.Now().UTC(),
	}
}

// RankStandings orders standings by score, highest first, and assigns competition ranks
// so that tied scores share a rank.
func RankStandings(standings []Standing) {
	sort.SliceStable(standings, func(i, j int) bool {
		if standings[i].Score != standings[j].Score {
			return standings[i].Score > standings[j].Score
		}
		return standings[i].PlayerID < standings[j].PlayerID
	})
	for i := range standings {
		if i > 0 && standings[i].Score == standings[i-1].Score {
			standings[i].Rank = standings[i-1].Rank
			continue
		}
		standings[i].Rank = i + 1
	}
}
