package peer

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/pterm/pterm"

	"github.com/keisueke/show-discord/internal/models"
	"github.com/keisueke/show-discord/internal/services"
)

var phaseTitles = map[models.Phase]string{
	models.PhaseLobby:             "Lobby",
	models.PhaseQuestionSelection: "Choosing a question",
	models.PhasePlayerSelection:   "Choosing a player",
	models.PhaseQuestion:          "Answer now",
	models.PhaseReveal:            "Reveal",
	models.PhaseRanking:           "Final ranking",
}

// Render draws v as a status box followed by the player table.
func Render(v services.View) (string, error) {
	title := phaseTitles[v.Phase]
	if title == "" {
		title = string(v.Phase)
	}
	if v.CurrentRound > 0 {
		title = fmt.Sprintf("%s | round %d/%d", title, v.CurrentRound, v.Settings.MaxRounds)
	}

	box, err := pterm.DefaultBox.
		WithTitle(pterm.LightCyan(title)).
		WithTitleTopLeft().
		WithHorizontalPadding(2).
		Srender(status(v))
	if err != nil {
		return "", err
	}

	table, err := pterm.DefaultTable.WithHasHeader().WithData(playerRows(v)).Srender()
	if err != nil {
		return "", err
	}
	return box + "\n" + table + "\n", nil
}

func status(v services.View) string {
	var b strings.Builder
	switch v.Phase {
	case models.PhaseLobby:
		fmt.Fprintf(&b, "%d players waiting, %d rounds per game", len(v.Players), v.Settings.MaxRounds)
		if v.IsAdmin {
			b.WriteString("\nYou are the admin: type 'start' to begin")
		}
	case models.PhaseQuestionSelection:
		fmt.Fprintf(&b, "%s is choosing a question", nameOf(v, v.QuestionerID))
		if v.IsQuestioner {
			for i, q := range v.QuestionCandidates {
				fmt.Fprintf(&b, "\n  %d. [%s] %s", i+1, q.Category, q.Text)
			}
			b.WriteString("\nType 'pick <n>'")
		}
	case models.PhasePlayerSelection:
		fmt.Fprintf(&b, "%s is choosing who the question is about", nameOf(v, v.QuestionerID))
		if v.IsQuestioner {
			b.WriteString("\nType 'target <player id>'")
		}
	case models.PhaseQuestion:
		b.WriteString(v.QuestionText)
		fmt.Fprintf(&b, "\n%d/%d answered", v.AnsweredCount, v.ExpectedCount)
		if v.MyAnswer != nil {
			fmt.Fprintf(&b, ", your answer: %s", formatNumber(*v.MyAnswer))
		} else {
			b.WriteString("\nType 'answer <number>'")
		}
		if v.IsAdmin && v.SyncStalled {
			b.WriteString("\n" + pterm.Yellow("Answers are slow to arrive: type 'reveal' to force the reveal"))
		}
	case models.PhaseReveal:
		b.WriteString(v.QuestionText)
		if v.Result != nil {
			fmt.Fprintf(&b, "\nMedian: %s", formatNumber(v.Result.Median))
		}
		if v.IsDoubleScore {
			b.WriteString(" " + pterm.LightMagenta("(double score)"))
		}
		if v.IsAdmin {
			b.WriteString("\nType 'next' to continue")
		}
	case models.PhaseRanking:
		if len(v.Players) > 0 {
			best := v.Players[0]
			for _, p := range v.Players[1:] {
				if p.Score > best.Score {
					best = p
				}
			}
			fmt.Fprintf(&b, "Winner: %s with %d points", best.DisplayName, best.Score)
		}
		if v.IsAdmin {
			b.WriteString("\nType 'lobby' to play again")
		}
	}
	return b.String()
}

func playerRows(v services.View) [][]string {
	rows := [][]string{{"Player", "Score", "Change", "Status"}}
	for _, p := range v.Players {
		name := p.DisplayName
		if p.ID == v.Self {
			name += " (you)"
		}
		if p.ID == v.AdminID {
			name += " *"
		}

		change := ""
		if v.Phase == models.PhaseReveal && v.Result != nil {
			if d, ok := v.Result.ScoreChanges[p.ID]; ok {
				change = fmt.Sprintf("%+d", d)
			}
		}

		state := ""
		switch {
		case !p.Connected:
			state = pterm.Gray("offline")
		case v.Phase == models.PhaseQuestion && p.Answered:
			state = pterm.LightGreen("answered")
		case v.Phase == models.PhaseQuestion && !p.Synced:
			state = pterm.Yellow("syncing")
		case v.Phase == models.PhaseQuestion:
			state = "thinking"
		}

		rows = append(rows, []string{name, strconv.Itoa(p.Score), change, state})
	}
	return rows
}

func nameOf(v services.View, id string) string {
	for _, p := range v.Players {
		if p.ID == id {
			return p.DisplayName
		}
	}
	return id
}

func formatNumber(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
