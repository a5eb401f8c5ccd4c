package grader

import (
	"math"

	"github.com/pavelanni/examgen/internal/model"
)

// ScoreStats describes the spread of partial credit in one grading run.
type ScoreStats struct {
	Mean float64 `json:"mean"`
	Std  float64 `json:"std"`
	Min  float64 `json:"min"`
	Max  float64 `json:"max"`
}

// Stats computes mean, sample standard deviation, min and max of partial
// credit, each rounded to four places.
func Stats(results []model.QuestionResult) ScoreStats {
	if len(results) == 0 {
		return ScoreStats{}
	}
	st := ScoreStats{Min: math.Inf(1), Max: math.Inf(-1)}
	var sum float64
	for _, r := range results {
		sum += r.PartialCredit
		st.Min = math.Min(st.Min, r.PartialCredit)
		st.Max = math.Max(st.Max, r.PartialCredit)
	}
	n := float64(len(results))
	mean := sum / n
	if len(results) > 1 {
		var ss float64
		for _, r := range results {
			d := r.PartialCredit - mean
			ss += d * d
		}
		st.Std = model.Round(math.Sqrt(ss/(n-1)), 4)
	}
	st.Mean = model.Round(mean, 4)
	st.Min = model.Round(st.Min, 4)
	st.Max = model.Round(st.Max, 4)
	return st
}

// Reliability compares two grading runs of the same submission: one minus
// the mean absolute difference in partial credit over questions present in
// both. Runs with nothing in common score zero.
func Reliability(a, b []model.QuestionResult) float64 {
	other := make(map[string]float64, len(b))
	for _, r := range b {
		other[r.QuestionID] = r.PartialCredit
	}
	var diff float64
	pairs := 0
	for _, r := range a {
		if c, ok := other[r.QuestionID]; ok {
			diff += math.Abs(r.PartialCredit - c)
			pairs++
		}
	}
	if pairs == 0 {
		return 0
	}
	return model.Round(math.Max(0, 1-diff/float64(pairs)), 4)
}
