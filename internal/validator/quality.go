package validator

import (
	"math"
	"strings"
	"unicode/utf8"

	"github.com/pavelanni/examgen/internal/model"
)

// Quality is a heuristic report on a question set.
type Quality struct {
	// Answerability is the share of questions carrying what is needed to
	// answer and check them.
	Answerability float64 `json:"answerability"`
	// Coherence is the share of stems of sane length ending in '?'.
	Coherence float64 `json:"coherence"`
	// Distribution counts questions per difficulty level.
	Distribution map[model.Difficulty]int `json:"difficulty_distribution"`
	// Balance is 1 for an even easy/medium/hard split, lower otherwise.
	Balance float64 `json:"balance_score"`
	// Overall weighs answerability 0.4, coherence 0.3 and balance 0.3.
	Overall float64 `json:"overall"`
}

// EvaluateQuality scores questions on structure, stem form, and difficulty
// spread. An empty set scores zero everywhere.
func EvaluateQuality(questions []model.Question) Quality {
	q := Quality{Distribution: map[model.Difficulty]int{
		model.DifficultyEasy:   0,
		model.DifficultyMedium: 0,
		model.DifficultyHard:   0,
	}}
	if len(questions) == 0 {
		return q
	}

	answerable, coherent := 0, 0
	for _, qu := range questions {
		if isAnswerable(qu) {
			answerable++
		}
		stem := strings.TrimSpace(qu.Stem)
		if n := utf8.RuneCountInString(stem); n >= 20 && n <= 500 && strings.HasSuffix(stem, "?") {
			coherent++
		}
		d := qu.Meta.Difficulty
		if d == "" {
			d = model.DifficultyMedium
		}
		q.Distribution[d]++
	}
	n := float64(len(questions))
	q.Answerability = float64(answerable) / n
	q.Coherence = float64(coherent) / n

	ideal := n / float64(len(model.Levels))
	var dev float64
	for _, c := range q.Distribution {
		dev += math.Abs(float64(c)-ideal) / ideal
	}
	q.Balance = 1 - dev/(3*float64(len(q.Distribution)))

	q.Overall = model.Round(q.Answerability*0.4+q.Coherence*0.3+q.Balance*0.3, 4)
	q.Answerability = model.Round(q.Answerability, 4)
	q.Coherence = model.Round(q.Coherence, 4)
	q.Balance = model.Round(q.Balance, 4)
	return q
}

func isAnswerable(q model.Question) bool {
	if q.Type == model.TypeOpenEnded {
		return strings.TrimSpace(q.ReferenceAnswer) != "" && len(q.Rubric) >= 3
	}
	return len(q.Options) >= model.MinOptions && len(q.Correct) > 0
}
