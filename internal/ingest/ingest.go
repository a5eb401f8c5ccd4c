// Package ingest turns markdown source material into an ordered list of
// sections with stable, heading-derived identifiers.
package ingest

import (
	"strconv"
	"strings"
	"unicode"

	"gitlab.com/golang-commonmark/markdown"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"

	"github.com/pavelanni/examgen/internal/model"
)

// IntroHeading names untitled leading content.
const IntroHeading = "Introduction"

var md = markdown.New(markdown.HTML(false), markdown.Tables(true))

type heading struct {
	level int
	text  string
}

// Parse splits markdown into sections. The first level-1 heading becomes the
// document title; every other heading opens a section whose path lists its
// ancestor headings. Content before the first section heading is kept as a
// section named after the title. Whitespace-only input yields no sections.
func Parse(src string) model.Document {
	var doc model.Document
	if strings.TrimSpace(src) == "" {
		return doc
	}

	var (
		stack     []heading
		current   []string // heading path of the open section, nil before any
		body      []string
		inHeading bool
		level     int
		ids       = make(map[string]int)
	)

	flush := func() {
		text := strings.TrimSpace(strings.Join(body, "\n"))
		body = body[:0]
		path := current
		if path == nil {
			if text == "" {
				return
			}
			name := doc.Title
			if name == "" {
				name = IntroHeading
			}
			path = []string{name}
		}
		doc.Sections = append(doc.Sections, model.Section{
			ID:          uniqueID(ids, path),
			HeadingPath: append([]string(nil), path...),
			Text:        text,
			OrderIndex:  len(doc.Sections),
		})
	}

	for _, tok := range md.Parse([]byte(src)) {
		switch t := tok.(type) {
		case *markdown.HeadingOpen:
			inHeading = true
			level = t.HLevel
		case *markdown.HeadingClose:
			inHeading = false
		case *markdown.Inline:
			if !inHeading {
				body = append(body, t.Content)
				continue
			}
			text := strings.TrimSpace(t.Content)
			if level == 1 && doc.Title == "" && current == nil && len(doc.Sections) == 0 {
				doc.Title = text
				continue
			}
			flush()
			for len(stack) > 0 && stack[len(stack)-1].level >= level {
				stack = stack[:len(stack)-1]
			}
			stack = append(stack, heading{level: level, text: text})
			current = make([]string, len(stack))
			for i, h := range stack {
				current[i] = h.text
			}
		case *markdown.Fence:
			body = append(body, strings.TrimRight(t.Content, "\n"))
		case *markdown.CodeBlock:
			body = append(body, strings.TrimRight(t.Content, "\n"))
		}
	}
	flush()
	return doc
}

// Slug lowercases s, applies NFKC, and replaces runs of anything that is not
// a letter or digit with a single hyphen.
func Slug(s string) string {
	s = norm.NFKC.String(cases.Lower(language.Und).String(s))
	var b strings.Builder
	dash := false
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			if dash && b.Len() > 0 {
				b.WriteByte('-')
			}
			dash = false
			b.WriteRune(r)
			continue
		}
		dash = true
	}
	return b.String()
}

func uniqueID(seen map[string]int, path []string) string {
	parts := make([]string, 0, len(path))
	for _, p := range path {
		if s := Slug(p); s != "" {
			parts = append(parts, s)
		}
	}
	id := strings.Join(parts, "/")
	if id == "" {
		id = "section"
	}
	base := id
	for n := 2; seen[id] > 0; n++ {
		id = base + "-" + strconv.Itoa(n)
	}
	seen[id]++
	return id
}
