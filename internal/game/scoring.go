// Package game holds the pure rules of a median quiz round: scoring and turn rotation.
package game

import (
	"math"
	"sort"
)

const (
	// WinPoints go to every answer at the minimum distance from the median.
	WinPoints = 100
	// PenaltyPoints are taken from the extreme answers of a round.
	PenaltyPoints = 50
	// DoubleMultiplier applies to both wins and penalties on a double-score round.
	DoubleMultiplier = 2
	// PenaltyMinAnswers is the smallest round that penalizes extremes.
	PenaltyMinAnswers = 3
)

// Answer is one player's guess for the round being scored.
type Answer struct {
	PlayerID string
	Value    float64
}

type Outcome struct {
	Median    float64
	Deltas    map[string]int
	Winners   []string
	Penalized []string
}

// Median returns the middle value of an ascending slice, or the lower of the two
// middle values when the length is even. An empty slice yields 0.
func Median(sorted []float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	return sorted[(len(sorted)-1)/2]
}

// Score computes the median of the answers and the score change for every player
// whose total moves. Non-finite values are ignored.
func Score(answers []Answer, double bool) Outcome {
	out := Outcome{Deltas: make(map[string]int)}

	valid := make([]Answer, 0, len(answers))
	for _, a := range answers {
		if math.IsNaN(a.Value) || math.IsInf(a.Value, 0) {
			continue
		}
		valid = append(valid, a)
	}
	if len(valid) == 0 {
		return out
	}

	sort.SliceStable(valid, func(i, j int) bool {
		if valid[i].Value != valid[j].Value {
			return valid[i].Value < valid[j].Value
		}
		return valid[i].PlayerID < valid[j].PlayerID
	})

	values := make([]float64, len(valid))
	for i, a := range valid {
		values[i] = a.Value
	}
	out.Median = Median(values)

	multiplier := 1
	if double {
		multiplier = DoubleMultiplier
	}

	minDistance := math.Inf(1)
	for _, a := range valid {
		if d := math.Abs(a.Value - out.Median); d < minDistance {
			minDistance = d
		}
	}

	winners := make(map[string]bool)
	for _, a := range valid {
		if math.Abs(a.Value-out.Median) == minDistance {
			winners[a.PlayerID] = true
			out.Winners = append(out.Winners, a.PlayerID)
			out.Deltas[a.PlayerID] += WinPoints * multiplier
		}
	}

	low, high := values[0], values[len(values)-1]
	if len(valid) < PenaltyMinAnswers || low == high {
		return out
	}
	for _, a := range valid {
		if winners[a.PlayerID] {
			continue
		}
		extreme := (a.Value == high && high != out.Median) || (a.Value == low && low != out.Median)
		if extreme {
			out.Penalized = append(out.Penalized, a.PlayerID)
			out.Deltas[a.PlayerID] -= PenaltyPoints * multiplier
		}
	}
	return out
}

// Apply adds deltas onto a copy of scores.
func Apply(scores map[string]int, deltas map[string]int) map[string]int {
	next := make(map[string]int, len(scores)+len(deltas))
	for id, s := range scores {
		next[id] = s
	}
	for id, d := range deltas {
		next[id] += d
	}
	return next
}
