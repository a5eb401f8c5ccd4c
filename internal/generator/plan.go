package generator

import (
	"fmt"
	"math"
	"math/rand/v2"

	"github.com/pavelanni/examgen/internal/model"
)

// Selection picks how sections are distributed across slots.
type Selection string

const (
	// SelectRoundRobin cycles through sections so each is used before any repeats.
	SelectRoundRobin Selection = "round_robin"
	// SelectWeighted gives longer sections proportionally more slots.
	SelectWeighted Selection = "weighted"
)

// Slot is one requested question: its type, difficulty, and source section.
type Slot struct {
	Index      int                `json:"index"`
	Type       model.QuestionType `json:"type"`
	Difficulty model.Difficulty   `json:"difficulty"`
	SectionID  string             `json:"section_id"`
	Round      int                `json:"round"`
}

// Key identifies the slot for prompts and logs. It changes with the round
// and section so a replacement is a distinct request.
func (s Slot) Key() string {
	return fmt.Sprintf("slot-%03d/r%d/%s", s.Index, s.Round, s.SectionID)
}

// Plan is the ordered slot list plus the section order it was drawn from.
type Plan struct {
	Slots []Slot
	// Order is the section cycling order; replacements advance along it.
	Order []string
}

// ResolveCounts turns ratios into per-type counts that sum to total exactly.
// Each ratio is rounded and any drift is absorbed by the largest bucket.
func ResolveCounts(total int, r model.Ratios) model.Counts {
	if total <= 0 {
		return model.Counts{}
	}
	buckets := []int{
		int(math.Round(r.SingleChoice * float64(total))),
		int(math.Round(r.MultipleChoice * float64(total))),
		int(math.Round(r.OpenEnded * float64(total))),
	}
	sum := 0
	largest := 0
	for i, b := range buckets {
		sum += b
		if b > buckets[largest] {
			largest = i
		}
	}
	buckets[largest] += total - sum
	return model.Counts{SingleChoice: buckets[0], MultipleChoice: buckets[1], OpenEnded: buckets[2]}
}

// Counts returns the per-type counts that drive generation for rc.
func Counts(rc model.ResolvedConfig) model.Counts {
	if rc.Source == model.SourceCounts {
		return rc.Counts
	}
	return ResolveCounts(rc.TotalQuestions, rc.Ratios)
}

// NewRand returns the generator's PRNG. A nil seed draws a random one.
func NewRand(seed *int64) *rand.Rand {
	if seed == nil {
		return rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	s := uint64(*seed)
	return rand.New(rand.NewPCG(s, s^0x9e3779b97f4a7c15))
}

// MakePlan lays out one slot per requested question: all single-choice
// slots first, then multiple-choice, then open-ended. Section choice and
// mixed difficulty are drawn from rng, so the plan is a pure function of
// the seed that built it.
func MakePlan(sections []model.Section, counts model.Counts, difficulty model.Difficulty, sel Selection, rng *rand.Rand) Plan {
	if len(sections) == 0 || counts.Total() == 0 {
		return Plan{}
	}

	perm := rng.Perm(len(sections))
	order := make([]string, len(sections))
	for i, p := range perm {
		order[i] = sections[p].ID
	}

	total := counts.Total()
	var picks []string
	if sel == SelectWeighted {
		picks = weightedPicks(sections, perm, total)
	} else {
		picks = make([]string, total)
		for i := range picks {
			picks[i] = order[i%len(order)]
		}
	}

	types := make([]model.QuestionType, 0, total)
	for range counts.SingleChoice {
		types = append(types, model.TypeSingleChoice)
	}
	for range counts.MultipleChoice {
		types = append(types, model.TypeMultipleChoice)
	}
	for range counts.OpenEnded {
		types = append(types, model.TypeOpenEnded)
	}

	slots := make([]Slot, total)
	for i := range slots {
		d := difficulty
		if d == model.DifficultyMixed || d == "" {
			d = model.Levels[rng.IntN(len(model.Levels))]
		}
		slots[i] = Slot{Index: i, Type: types[i], Difficulty: d, SectionID: picks[i]}
	}
	return Plan{Slots: slots, Order: order}
}

// weightedPicks assigns n slots to sections proportionally to text length
// using highest-averages allocation. perm breaks ties.
func weightedPicks(sections []model.Section, perm []int, n int) []string {
	weights := make([]float64, len(sections))
	for i, s := range sections {
		weights[i] = float64(len([]rune(s.Text))) + 1
	}
	assigned := make([]int, len(sections))
	picks := make([]string, n)
	for k := range n {
		best := -1
		bestQ := -1.0
		for _, p := range perm {
			q := weights[p] / float64(assigned[p]+1)
			if q > bestQ {
				best, bestQ = p, q
			}
		}
		assigned[best]++
		picks[k] = sections[best].ID
	}
	return picks
}

// Replacement returns a copy of slot for the given repair round, moved
// round steps further along the section order.
func (p Plan) Replacement(slot Slot, round int) Slot {
	next := slot
	next.Round = round
	if len(p.Order) == 0 {
		return next
	}
	pos := 0
	for i, id := range p.Order {
		if id == slot.SectionID {
			pos = i
			break
		}
	}
	next.SectionID = p.Order[(pos+round)%len(p.Order)]
	return next
}
