package llm

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"

	invopop "github.com/invopop/jsonschema"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

// SchemaHint names the JSON shape a completion is expected to return.
type SchemaHint string

const (
	SchemaNone      SchemaHint = ""
	SchemaChoice    SchemaHint = "choice_question"
	SchemaOpenEnded SchemaHint = "open_ended_question"
	SchemaGrade     SchemaHint = "open_ended_grade"
)

// ChoiceResponse is the expected payload for a generated choice question.
type ChoiceResponse struct {
	Stem    string   `json:"stem" jsonschema:"minLength=1"`
	Options []string `json:"options" jsonschema:"minItems=1"`
	Correct []int    `json:"correct"`
	Source  string   `json:"source,omitempty"`
}

// OpenEndedResponse is the expected payload for a generated open-ended question.
type OpenEndedResponse struct {
	Stem            string   `json:"stem" jsonschema:"minLength=1"`
	ReferenceAnswer string   `json:"reference_answer" jsonschema:"minLength=1"`
	Rubric          []string `json:"rubric" jsonschema:"minItems=1"`
	Source          string   `json:"source,omitempty"`
}

// GradeResult is the expected payload for a rubric grading call.
type GradeResult struct {
	RubricScores []float64 `json:"rubric_scores,omitempty"`
	Score        float64   `json:"score"`
	Feedback     string    `json:"feedback,omitempty"`
}

var hintTypes = map[SchemaHint]any{
	SchemaChoice:    &ChoiceResponse{},
	SchemaOpenEnded: &OpenEndedResponse{},
	SchemaGrade:     &GradeResult{},
}

var (
	schemaOnce  sync.Once
	schemaErr   error
	schemaJSON  map[SchemaHint][]byte
	schemaCache map[SchemaHint]*jsonschema.Schema
)

func loadSchemas() error {
	schemaOnce.Do(func() {
		r := &invopop.Reflector{
			Anonymous:                 true,
			DoNotReference:            true,
			AllowAdditionalProperties: true,
		}
		schemaJSON = make(map[SchemaHint][]byte, len(hintTypes))
		schemaCache = make(map[SchemaHint]*jsonschema.Schema, len(hintTypes))
		for hint, v := range hintTypes {
			raw, err := json.Marshal(r.Reflect(v))
			if err != nil {
				schemaErr = fmt.Errorf("reflect %s schema: %w", hint, err)
				return
			}
			compiled, err := jsonschema.CompileString(string(hint)+".schema.json", string(raw))
			if err != nil {
				schemaErr = fmt.Errorf("compile %s schema: %w", hint, err)
				return
			}
			schemaJSON[hint] = raw
			schemaCache[hint] = compiled
		}
	})
	return schemaErr
}

// Schema returns the JSON schema document for hint, or nil for SchemaNone.
func Schema(hint SchemaHint) []byte {
	if hint == SchemaNone || loadSchemas() != nil {
		return nil
	}
	return schemaJSON[hint]
}

// Decode extracts the JSON object from a raw completion, checks it against
// the schema for hint, and unmarshals it into T. Every failure wraps
// ErrMalformed.
func Decode[T any](raw string, hint SchemaHint) (T, error) {
	var out T
	if err := loadSchemas(); err != nil {
		return out, err
	}

	body := ExtractJSON(stripFences(raw))
	if body == "" {
		return out, fmt.Errorf("%w: no JSON object in response", ErrMalformed)
	}

	var doc any
	if err := json.Unmarshal([]byte(body), &doc); err != nil {
		return out, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	obj, ok := doc.(map[string]any)
	if !ok {
		return out, fmt.Errorf("%w: response is not an object", ErrMalformed)
	}
	coerce(obj, hint)

	if s, ok := schemaCache[hint]; ok {
		if err := s.Validate(obj); err != nil {
			return out, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
	}

	normalized, err := json.Marshal(obj)
	if err != nil {
		return out, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if err := json.Unmarshal(normalized, &out); err != nil {
		return out, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return out, nil
}

// coerce repairs common near-misses before schema validation: a scalar
// "correct" index, indices sent as strings, and a numeric score sent as a
// string.
func coerce(obj map[string]any, hint SchemaHint) {
	switch hint {
	case SchemaChoice:
		switch v := obj["correct"].(type) {
		case float64, string:
			obj["correct"] = []any{v}
		}
		if arr, ok := obj["correct"].([]any); ok {
			for i, el := range arr {
				if s, ok := el.(string); ok {
					if n, err := strconv.Atoi(strings.TrimSpace(s)); err == nil {
						arr[i] = float64(n)
					}
				}
			}
		}
	case SchemaGrade:
		if s, ok := obj["score"].(string); ok {
			if f, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil {
				obj["score"] = f
			}
		}
	}
}
