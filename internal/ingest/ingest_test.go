package ingest

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const lesson = `# Go Concurrency

Go makes concurrent programs approachable.

## Goroutines

Goroutines are lightweight threads managed by the Go runtime.

### Scheduling

The scheduler multiplexes goroutines onto OS threads.

## Channels

Channels connect goroutines.

- Unbuffered channels synchronize.
- Buffered channels queue values.

` + "```go\nch := make(chan int, 3)\n```" + `

## Channels

A second section with the same heading.
`

func TestParse(t *testing.T) {
	doc := Parse(lesson)
	assert.Equal(t, "Go Concurrency", doc.Title)
	require.Len(t, doc.Sections, 5)

	wantIDs := []string{"go-concurrency", "goroutines", "goroutines/scheduling", "channels", "channels-2"}
	for i, s := range doc.Sections {
		assert.Equal(t, wantIDs[i], s.ID)
		assert.Equal(t, i, s.OrderIndex)
	}

	assert.Equal(t, []string{"Go Concurrency"}, doc.Sections[0].HeadingPath)
	assert.Equal(t, "Go makes concurrent programs approachable.", doc.Sections[0].Text)
	assert.Equal(t, []string{"Goroutines", "Scheduling"}, doc.Sections[2].HeadingPath)
	assert.Contains(t, doc.Sections[3].Text, "Unbuffered channels synchronize.")
	assert.Contains(t, doc.Sections[3].Text, "ch := make(chan int, 3)")
	assert.NotContains(t, doc.Sections[1].Text, "Scheduling")
}

func TestParseIDsUnique(t *testing.T) {
	doc := Parse("## A\nx\n## A-2\ny\n## A\nz\n## A\nw\n")
	seen := map[string]bool{}
	for _, s := range doc.Sections {
		assert.False(t, seen[s.ID], "duplicate id %s", s.ID)
		seen[s.ID] = true
	}
	assert.Len(t, doc.Sections, 4)
}

func TestParseEmpty(t *testing.T) {
	for _, in := range []string{"", "   \n\t\n"} {
		doc := Parse(in)
		assert.Empty(t, doc.Sections)
		assert.Empty(t, doc.Title)
	}
}

func TestParseNoHeadings(t *testing.T) {
	doc := Parse("Just a paragraph of text.\n\nAnd another.")
	require.Len(t, doc.Sections, 1)
	assert.Equal(t, []string{IntroHeading}, doc.Sections[0].HeadingPath)
	assert.Equal(t, "introduction", doc.Sections[0].ID)
}

func TestParseTitleOnly(t *testing.T) {
	doc := Parse("# Only a title\n")
	assert.Equal(t, "Only a title", doc.Title)
	assert.Empty(t, doc.Sections)
}

func TestParseRussianHeadings(t *testing.T) {
	doc := Parse("## Горутины\nЛёгкие потоки.\n")
	require.Len(t, doc.Sections, 1)
	assert.Equal(t, "горутины", doc.Sections[0].ID)
}

func TestSlug(t *testing.T) {
	tests := []struct{ in, want string }{
		{"Hello, World!", "hello-world"},
		{"  Trim  me  ", "trim-me"},
		{"C++ & Go", "c-go"},
		{"Ｆｕｌｌ", "full"},
		{"!!!", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Slug(tt.in), "Slug(%q)", tt.in)
	}
}
