package llm

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"bare", `{"a":1}`, `{"a":1}`},
		{"preamble", `Sure! Here it is: {"a":1} hope that helps`, `{"a":1}`},
		{"fenced", "```json\n{\"a\": {\"b\": 2}}\n```", `{"a": {"b": 2}}`},
		{"brace in string", `{"stem":"what is {x}?","n":1}`, `{"stem":"what is {x}?","n":1}`},
		{"escaped quote", `{"stem":"say \"}\" now"}`, `{"stem":"say \"}\" now"}`},
		{"quoted preamble", `The "answer" is {"a":1}`, `{"a":1}`},
		{"stray closing brace", `} {"a":1}`, `{"a":1}`},
		{"unterminated", `{"a":1`, ""},
		{"none", "no json here", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExtractJSON(tt.in))
		})
	}
}

func TestDecodeChoice(t *testing.T) {
	raw := "```json\n{\"stem\": \" Which? \", \"options\": [\"a\", \"b\", \"c\"], \"correct\": 1, \"extra\": true}\n```"
	got, err := Decode[ChoiceResponse](raw, SchemaChoice)
	require.NoError(t, err)
	assert.Equal(t, " Which? ", got.Stem)
	assert.Equal(t, []string{"a", "b", "c"}, got.Options)
	assert.Equal(t, []int{1}, got.Correct)
}

func TestDecodeChoiceStringIndices(t *testing.T) {
	got, err := Decode[ChoiceResponse](`{"stem":"s","options":["a","b","c"],"correct":["0","2"]}`, SchemaChoice)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 2}, got.Correct)
}

func TestDecodeMalformed(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		hint SchemaHint
	}{
		{"no object", "I cannot help with that.", SchemaChoice},
		{"missing options", `{"stem":"s","correct":[0]}`, SchemaChoice},
		{"empty stem", `{"stem":"","options":["a"],"correct":[0]}`, SchemaChoice},
		{"fractional index", `{"stem":"s","options":["a","b","c"],"correct":[1.5]}`, SchemaChoice},
		{"missing rubric", `{"stem":"s","reference_answer":"r"}`, SchemaOpenEnded},
		{"score not a number", `{"score":"high","feedback":"x"}`, SchemaGrade},
		{"bad json", `{"stem": "s", }`, SchemaChoice},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var err error
			switch tt.hint {
			case SchemaChoice:
				_, err = Decode[ChoiceResponse](tt.raw, tt.hint)
			case SchemaOpenEnded:
				_, err = Decode[OpenEndedResponse](tt.raw, tt.hint)
			case SchemaGrade:
				_, err = Decode[GradeResult](tt.raw, tt.hint)
			}
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrMalformed), "error should wrap ErrMalformed: %v", err)
		})
	}
}

func TestDecodeGrade(t *testing.T) {
	got, err := Decode[GradeResult](`{"rubric_scores":[1,0,1],"score":"0.67","feedback":"ok"}`, SchemaGrade)
	require.NoError(t, err)
	assert.InDelta(t, 0.67, got.Score, 1e-9)
	assert.Equal(t, []float64{1, 0, 1}, got.RubricScores)
	assert.Equal(t, "ok", got.Feedback)
}

func TestSchemaDocuments(t *testing.T) {
	for _, hint := range []SchemaHint{SchemaChoice, SchemaOpenEnded, SchemaGrade} {
		assert.Contains(t, string(Schema(hint)), `"required"`, "schema for %s", hint)
	}
	assert.Nil(t, Schema(SchemaNone))
}
