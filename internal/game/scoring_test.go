package game

import (
	"math"
	"reflect"
	"testing"
)

func answers(values ...float64) []Answer {
	ids := []string{"a", "b", "c", "d", "e", "f"}
	out := make([]Answer, len(values))
	for i, v := range values {
		out[i] = Answer{PlayerID: ids[i], Value: v}
	}
	return out
}

func TestMedianUsesLowerMiddle(t *testing.T) {
	cases := []struct {
		values []float64
		want   float64
	}{
		{[]float64{10, 20, 30, 40}, 20},
		{[]float64{5, 15, 25}, 15},
		{[]float64{42}, 42},
		{nil, 0},
	}
	for _, tc := range cases {
		if got := Median(tc.values); got != tc.want {
			t.Errorf("Median(%v): expected %v, got %v", tc.values, tc.want, got)
		}
	}
}

func TestScoreEvenCountTakesLowerMiddle(t *testing.T) {
	out := Score(answers(40, 10, 30, 20), false)
	if out.Median != 20 {
		t.Fatalf("expected median 20, got %v", out.Median)
	}
	want := map[string]int{"d": 100, "b": -50, "a": -50}
	if !reflect.DeepEqual(out.Deltas, want) {
		t.Errorf("expected deltas %v, got %v", want, out.Deltas)
	}
}

func TestScoreOddCount(t *testing.T) {
	out := Score(answers(25, 5, 15), false)
	if out.Median != 15 {
		t.Fatalf("expected median 15, got %v", out.Median)
	}
	want := map[string]int{"c": 100, "a": -50, "b": -50}
	if !reflect.DeepEqual(out.Deltas, want) {
		t.Errorf("expected deltas %v, got %v", want, out.Deltas)
	}
}

// Equal answers at the minimum distance all win. This is kept deliberately even though
// it lets a crowded answer pay out several times.
func TestScoreTiedWinnersAllScore(t *testing.T) {
	out := Score(answers(10, 20, 20, 30), false)
	if out.Deltas["b"] != 100 || out.Deltas["c"] != 100 {
		t.Errorf("expected both 20s to gain 100, got %v", out.Deltas)
	}
	if out.Deltas["a"] != -50 || out.Deltas["d"] != -50 {
		t.Errorf("expected extremes to lose 50, got %v", out.Deltas)
	}

	double := Score(answers(10, 20, 20, 30), true)
	if double.Deltas["b"] != 200 || double.Deltas["c"] != 200 {
		t.Errorf("expected both 20s to gain 200 on a double round, got %v", double.Deltas)
	}
	if double.Deltas["a"] != -100 || double.Deltas["d"] != -100 {
		t.Errorf("expected extremes to lose 100 on a double round, got %v", double.Deltas)
	}
}

func TestScoreExtremesPenalized(t *testing.T) {
	out := Score(answers(10, 20, 30), false)
	want := map[string]int{"a": -50, "b": 100, "c": -50}
	if !reflect.DeepEqual(out.Deltas, want) {
		t.Errorf("expected deltas %v, got %v", want, out.Deltas)
	}
	if len(out.Penalized) != 2 {
		t.Errorf("expected two penalized players, got %v", out.Penalized)
	}
}

func TestScoreUnanimousNoPenalty(t *testing.T) {
	out := Score(answers(7, 7, 7), false)
	want := map[string]int{"a": 100, "b": 100, "c": 100}
	if !reflect.DeepEqual(out.Deltas, want) {
		t.Errorf("expected deltas %v, got %v", want, out.Deltas)
	}
	if len(out.Penalized) != 0 {
		t.Errorf("expected no penalties, got %v", out.Penalized)
	}
}

func TestScoreSmallRoundsSkipPenalty(t *testing.T) {
	out := Score(answers(1, 100), false)
	want := map[string]int{"a": 100}
	if !reflect.DeepEqual(out.Deltas, want) {
		t.Errorf("expected deltas %v, got %v", want, out.Deltas)
	}
}

func TestScoreExtremeAtMedianNotPenalized(t *testing.T) {
	out := Score(answers(20, 20, 30), false)
	want := map[string]int{"a": 100, "b": 100, "c": -50}
	if !reflect.DeepEqual(out.Deltas, want) {
		t.Errorf("expected deltas %v, got %v", want, out.Deltas)
	}
}

func TestScoreEmptyRound(t *testing.T) {
	out := Score(nil, true)
	if out.Median != 0 {
		t.Errorf("expected median 0, got %v", out.Median)
	}
	if len(out.Deltas) != 0 {
		t.Errorf("expected no deltas, got %v", out.Deltas)
	}
}

func TestScoreIgnoresNonFinite(t *testing.T) {
	in := []Answer{
		{PlayerID: "a", Value: math.NaN()},
		{PlayerID: "b", Value: 12},
		{PlayerID: "c", Value: math.Inf(1)},
	}
	out := Score(in, false)
	want := map[string]int{"b": 100}
	if !reflect.DeepEqual(out.Deltas, want) {
		t.Errorf("expected deltas %v, got %v", want, out.Deltas)
	}
}

func TestApplyDoesNotMutateInput(t *testing.T) {
	scores := map[string]int{"a": 100}
	next := Apply(scores, map[string]int{"a": -50, "b": 100})
	if scores["a"] != 100 {
		t.Errorf("input scores mutated: %v", scores)
	}
	want := map[string]int{"a": 50, "b": 100}
	if !reflect.DeepEqual(next, want) {
		t.Errorf("expected %v, got %v", want, next)
	}
}
