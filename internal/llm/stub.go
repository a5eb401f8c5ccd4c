package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"math"
	"math/rand/v2"
	"sort"
	"strings"
	"sync/atomic"

	"github.com/pavelanni/examgen/internal/textnorm"
)

// Input keys understood by the stub. Real providers only read the rendered
// prompt text.
const (
	InputContent    = "content"
	InputHeading    = "heading"
	InputType       = "type"
	InputDifficulty = "difficulty"
	InputLanguage   = "language"
	InputReference  = "reference_answer"
	InputAnswer     = "answer"
	InputRubric     = "rubric"
)

const stubDims = 64

var stubFallbackTerms = []string{"alpha", "bravo", "charlie", "delta", "echo"}

// StubGateway is a deterministic offline provider. Generated questions are a
// pure function of the prompt key and inputs; open-ended answers score 1.0
// when they contain the reference answer and 0.5 otherwise.
type StubGateway struct {
	calls      atomic.Int64
	gradeCalls atomic.Int64
}

// NewStub creates a stub gateway.
func NewStub() *StubGateway { return &StubGateway{} }

// Name returns "local/stub".
func (s *StubGateway) Name() string { return ProviderLocal + "/stub" }

// Calls returns the number of Complete calls served.
func (s *StubGateway) Calls() int64 { return s.calls.Load() }

// GradeCalls returns the number of grading calls served.
func (s *StubGateway) GradeCalls() int64 { return s.gradeCalls.Load() }

// Complete answers generation and grading prompts without a network call.
func (s *StubGateway) Complete(ctx context.Context, p Prompt, hint SchemaHint) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", &ProviderError{Provider: ProviderLocal, Model: "stub", Reason: ReasonTimeout, Err: err}
	}
	s.calls.Add(1)

	var out any
	switch hint {
	case SchemaChoice:
		out = stubChoice(p)
	case SchemaOpenEnded:
		out = stubOpenEnded(p)
	case SchemaGrade:
		s.gradeCalls.Add(1)
		out = stubGrade(p)
	default:
		return "Stub response.", nil
	}
	raw, err := json.Marshal(out)
	if err != nil {
		return "", fmt.Errorf("encode stub response: %w", err)
	}
	return string(raw), nil
}

// Embed returns a normalized hashed bag-of-words vector.
func (s *StubGateway) Embed(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, stubDims)
	for _, tok := range textnorm.Tokens(text) {
		h := fnv.New32a()
		h.Write([]byte(tok))
		vec[h.Sum32()%stubDims]++
	}
	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm > 0 {
		n := float32(math.Sqrt(norm))
		for i := range vec {
			vec[i] /= n
		}
	}
	return vec, nil
}

func stubRand(p Prompt) *rand.Rand {
	h := fnv.New64a()
	h.Write([]byte(p.Key))
	keys := make([]string, 0, len(p.Inputs))
	for k := range p.Inputs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		h.Write([]byte{0})
		h.Write([]byte(k))
		h.Write([]byte{0})
		h.Write([]byte(p.Inputs[k]))
	}
	sum := h.Sum64()
	return rand.New(rand.NewPCG(sum, sum>>17|1))
}

// stubTerms returns distinct content terms of the section, padded with
// fallback terms so at least n are available.
func stubTerms(content string, n int) []string {
	seen := make(map[string]bool)
	var terms []string
	for _, t := range textnorm.Terms(content, 4) {
		if !seen[t] {
			seen[t] = true
			terms = append(terms, t)
		}
	}
	for _, t := range stubFallbackTerms {
		if len(terms) >= n {
			break
		}
		if !seen[t] {
			seen[t] = true
			terms = append(terms, t)
		}
	}
	return terms
}

func stubHeading(p Prompt) string {
	if h := strings.TrimSpace(p.Inputs[InputHeading]); h != "" {
		return h
	}
	return "content"
}

func stubChoice(p Prompt) ChoiceResponse {
	r := stubRand(p)
	terms := stubTerms(p.Inputs[InputContent], 5)
	r.Shuffle(len(terms), func(i, j int) { terms[i], terms[j] = terms[j], terms[i] })

	anchor := terms[0]
	options := append([]string(nil), terms[1:5]...)
	multiple := p.Inputs[InputType] == "multiple_choice"
	ru := p.Inputs[InputLanguage] == "ru"

	var stem string
	switch {
	case multiple && ru:
		stem = fmt.Sprintf("Какие термины раздела «%s» связаны с понятием «%s»?", stubHeading(p), anchor)
	case multiple:
		stem = fmt.Sprintf("Which terms from %q relate to %q?", stubHeading(p), anchor)
	case ru:
		stem = fmt.Sprintf("Какой термин раздела «%s» связан с понятием «%s»?", stubHeading(p), anchor)
	default:
		stem = fmt.Sprintf("Which term from %q relates to %q?", stubHeading(p), anchor)
	}

	correct := []int{r.IntN(len(options))}
	if multiple {
		second := (correct[0] + 1 + r.IntN(len(options)-1)) % len(options)
		correct = append(correct, second)
		sort.Ints(correct)
	}
	return ChoiceResponse{Stem: stem, Options: options, Correct: correct}
}

func stubOpenEnded(p Prompt) OpenEndedResponse {
	r := stubRand(p)
	terms := stubTerms(p.Inputs[InputContent], 3)
	anchor := terms[r.IntN(len(terms))]
	other := terms[(r.IntN(len(terms)-1)+1+indexOf(terms, anchor))%len(terms)]

	reference := firstSentences(p.Inputs[InputContent], 300)
	if reference == "" {
		reference = anchor
	}
	if p.Inputs[InputLanguage] == "ru" {
		return OpenEndedResponse{
			Stem:            fmt.Sprintf("Объясните роль понятия «%s» в разделе «%s».", anchor, stubHeading(p)),
			ReferenceAnswer: reference,
			Rubric:          []string{"Упоминает " + anchor, "Связывает " + anchor + " и " + other, "Соответствует материалу раздела"},
		}
	}
	return OpenEndedResponse{
		Stem:            fmt.Sprintf("Explain the role of %q in %q.", anchor, stubHeading(p)),
		ReferenceAnswer: reference,
		Rubric:          []string{"Mentions " + anchor, "Connects " + anchor + " with " + other, "Stays consistent with the section"},
	}
}

func stubGrade(p Prompt) GradeResult {
	answer := strings.ToLower(strings.TrimSpace(p.Inputs[InputAnswer]))
	ref := strings.ToLower(strings.TrimSpace(p.Inputs[InputReference]))
	criteria := 0
	if rubric := p.Inputs[InputRubric]; rubric != "" {
		criteria = len(strings.Split(rubric, "\n"))
	}

	match := ref != "" && strings.Contains(answer, ref)
	res := GradeResult{Score: 0.5, Feedback: "The answer covers part of the reference answer."}
	if match {
		res.Score = 1.0
		res.Feedback = "The answer matches the reference answer."
	}
	if criteria > 0 {
		res.RubricScores = make([]float64, criteria)
		met := criteria
		if !match {
			met = criteria / 2
		}
		for i := 0; i < met; i++ {
			res.RubricScores[i] = 1
		}
	}
	return res
}

func indexOf(xs []string, x string) int {
	for i, v := range xs {
		if v == x {
			return i
		}
	}
	return 0
}

// firstSentences returns leading text up to limit runes, cut at a sentence
// boundary when one exists.
func firstSentences(text string, limit int) string {
	text = strings.Join(strings.Fields(text), " ")
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	cut := string(runes[:limit])
	if i := strings.LastIndexAny(cut, ".!?"); i > 0 {
		return cut[:i+1]
	}
	return cut
}
