package prompts

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"regexp"
	"strings"
	"sync"
	"text/template"
	"unicode/utf8"

	"github.com/pavelanni/examgen/internal/model"
)

//go:embed templates
var embedded embed.FS

var (
	studentAnswerRegex      = regexp.MustCompile(`(?i)</?\s*student-answer\b[^>]*>`)
	systemInstructionsRegex = regexp.MustCompile(`(?i)</?\s*system-instructions\b[^>]*>`)
)

// MaxAnswerRunes is the longest student answer passed to the grader.
const MaxAnswerRunes = 10000

// Languages lists the supported prompt languages.
var Languages = []string{"en", "ru"}

const (
	kindChoice = "generate_choice"
	kindOpen   = "generate_open"
	kindGrade  = "grade_open"
)

var validVariants = map[model.PromptVariant]bool{
	model.PromptDefault:  true,
	model.PromptGrounded: true,
	model.PromptConcise:  true,
}

var difficultyLabels = map[string]map[model.Difficulty]string{
	"ru": {
		model.DifficultyEasy:   "лёгкий",
		model.DifficultyMedium: "средний",
		model.DifficultyHard:   "сложный",
	},
}

var (
	loadOnce  sync.Once
	loadErr   error
	templates map[string]*template.Template // key: lang + "/" + kind
)

// IsValidVariant checks if a prompt variant name is valid.
func IsValidVariant(v string) bool {
	return validVariants[model.PromptVariant(v)]
}

// Rendered is a system/user message pair.
type Rendered struct {
	System string
	User   string
}

// GenerateData holds template data for generation prompts.
type GenerateData struct {
	Content    string
	Difficulty string
	Multiple   bool
	Grounded   bool
	Concise    bool
}

// GradeData holds template data for open-ended grading prompts.
type GradeData struct {
	Stem            string
	ReferenceAnswer string
	Rubric          []string
	Answer          string
}

// Load parses prompt templates from fsys, which must contain
// templates/<lang>/<kind>.tmpl. It runs once; later calls return the
// first result.
func Load(fsys fs.FS) error {
	loadOnce.Do(func() {
		templates = make(map[string]*template.Template)
		funcs := template.FuncMap{"inc": func(i int) int { return i + 1 }}
		for _, lang := range Languages {
			for _, kind := range []string{kindChoice, kindOpen, kindGrade} {
				file := "templates/" + lang + "/" + kind + ".tmpl"
				content, err := fs.ReadFile(fsys, file)
				if err != nil {
					loadErr = errors.New("failed to read prompt file " + file + ": " + err.Error())
					return
				}
				tmpl, err := template.New(kind).Funcs(funcs).Parse(string(content))
				if err != nil {
					loadErr = errors.New("failed to parse prompt template " + file + ": " + err.Error())
					return
				}
				templates[lang+"/"+kind] = tmpl
			}
		}
	})
	return loadErr
}

func lookup(lang, kind string) (*template.Template, error) {
	if err := Load(embedded); err != nil {
		return nil, fmt.Errorf("templates load failed: %w", err)
	}
	tmpl, ok := templates[lang+"/"+kind]
	if !ok {
		return nil, errors.New("unsupported prompt language: " + lang)
	}
	return tmpl, nil
}

// BuildGeneration renders the generation prompt for one question slot.
func BuildGeneration(lang string, variant model.PromptVariant, qtype model.QuestionType, difficulty model.Difficulty, content string) (Rendered, error) {
	if variant == "" {
		variant = model.PromptDefault
	}
	if !validVariants[variant] {
		return Rendered{}, errors.New("invalid prompt variant: " + string(variant))
	}
	kind := kindChoice
	if qtype == model.TypeOpenEnded {
		kind = kindOpen
	}
	tmpl, err := lookup(lang, kind)
	if err != nil {
		return Rendered{}, err
	}

	label := string(difficulty)
	if l, ok := difficultyLabels[lang][difficulty]; ok {
		label = l
	}
	return render(tmpl, GenerateData{
		Content:    strings.TrimSpace(content),
		Difficulty: label,
		Multiple:   qtype == model.TypeMultipleChoice,
		Grounded:   variant == model.PromptGrounded,
		Concise:    variant == model.PromptConcise,
	})
}

// BuildGrading renders the rubric grading prompt for an open-ended answer.
func BuildGrading(lang string, q model.Question, answer string) (Rendered, error) {
	tmpl, err := lookup(lang, kindGrade)
	if err != nil {
		return Rendered{}, err
	}
	return render(tmpl, GradeData{
		Stem:            q.Stem,
		ReferenceAnswer: q.ReferenceAnswer,
		Rubric:          q.Rubric,
		Answer:          SanitizeAnswer(answer),
	})
}

func render(tmpl *template.Template, data any) (Rendered, error) {
	var sys, user bytes.Buffer
	if err := tmpl.ExecuteTemplate(&sys, "system", data); err != nil {
		return Rendered{}, err
	}
	if err := tmpl.ExecuteTemplate(&user, "user", data); err != nil {
		return Rendered{}, err
	}
	return Rendered{System: strings.TrimSpace(sys.String()), User: strings.TrimSpace(user.String())}, nil
}

// SanitizeAnswer strips tags that could break out of the answer block and
// truncates very long answers.
func SanitizeAnswer(answer string) string {
	answer = studentAnswerRegex.ReplaceAllString(answer, "")
	answer = systemInstructionsRegex.ReplaceAllString(answer, "")
	answer = strings.TrimSpace(answer)

	if answer == "" {
		return "[No answer provided]"
	}

	if utf8.RuneCountInString(answer) > MaxAnswerRunes {
		runes := []rune(answer)
		runes = runes[:MaxAnswerRunes]
		answer = string(runes) + "\n\n[Answer truncated due to length]"
	}

	return answer
}
