package game

type Turn struct {
	QuestionerID  string
	Round         int
	CycleComplete bool
	GameComplete  bool
}

// NextTurn rotates the questioner through order. Finishing a pass over the order
// advances the round, and the game ends once the next round would exceed maxRounds.
// A current id missing from order starts the rotation over from the first entry.
func NextTurn(order []string, current string, round, maxRounds int) Turn {
	if len(order) == 0 {
		return Turn{Round: round, GameComplete: true}
	}

	idx := -1
	for i, id := range order {
		if id == current {
			idx = i
			break
		}
	}

	next := (idx + 1) % len(order)
	turn := Turn{QuestionerID: order[next], Round: round}
	if next == 0 {
		turn.CycleComplete = true
		turn.Round = round + 1
	}
	if turn.CycleComplete && turn.Round > maxRounds {
		turn.QuestionerID = ""
		turn.GameComplete = true
	}
	return turn
}

// NextConnectedTurn behaves like NextTurn but skips ids for which connected returns
// false, keeping the same round accounting for every skipped position.
func NextConnectedTurn(order []string, current string, round, maxRounds int, connected func(string) bool) Turn {
	for range order {
		turn := NextTurn(order, current, round, maxRounds)
		if turn.GameComplete || connected(turn.QuestionerID) {
			return turn
		}
		current, round = turn.QuestionerID, turn.Round
	}
	return Turn{Round: round, GameComplete: true}
}

// FirstConnected returns the earliest id in order that is connected.
func FirstConnected(order []string, connected func(string) bool) (string, bool) {
	for _, id := range order {
		if connected(id) {
			return id, true
		}
	}
	return "", false
}
