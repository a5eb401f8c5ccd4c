package generator

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/pavelanni/examgen/internal/llm"
	"github.com/pavelanni/examgen/internal/model"
	"github.com/pavelanni/examgen/internal/textnorm"
)

// Retriever narrows the section pool to those most relevant to a query.
type Retriever interface {
	Retrieve(ctx context.Context, doc model.Document, query string, topK int) ([]model.Section, error)
}

type scored struct {
	section model.Section
	score   float64
}

// topSections keeps the k best-scoring sections with a positive score,
// returned in document order.
func topSections(all []scored, k int) []model.Section {
	sort.SliceStable(all, func(i, j int) bool { return all[i].score > all[j].score })
	var out []model.Section
	for _, s := range all {
		if s.score <= 0 || (k > 0 && len(out) >= k) {
			break
		}
		out = append(out, s.section)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OrderIndex < out[j].OrderIndex })
	return out
}

// TermRetriever ranks sections by how many query terms their heading and
// text contain.
type TermRetriever struct{}

// Retrieve returns up to topK sections sharing terms with query.
func (TermRetriever) Retrieve(_ context.Context, doc model.Document, query string, topK int) ([]model.Section, error) {
	terms := textnorm.Set(textnorm.Tokens(query))
	if len(terms) == 0 {
		return doc.Sections, nil
	}
	all := make([]scored, 0, len(doc.Sections))
	for _, s := range doc.Sections {
		hits := 0
		for _, tok := range textnorm.Tokens(s.Heading() + " " + s.Text) {
			if _, ok := terms[tok]; ok {
				hits++
			}
		}
		all = append(all, scored{section: s, score: float64(hits)})
	}
	return topSections(all, topK), nil
}

// EmbeddingRetriever ranks sections by cosine similarity between gateway
// embeddings of the query and each section.
type EmbeddingRetriever struct {
	Gateway llm.Gateway
}

// Retrieve returns up to topK sections closest to query.
func (r EmbeddingRetriever) Retrieve(ctx context.Context, doc model.Document, query string, topK int) ([]model.Section, error) {
	qv, err := r.Gateway.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	all := make([]scored, 0, len(doc.Sections))
	for _, s := range doc.Sections {
		sv, err := r.Gateway.Embed(ctx, s.Heading()+"\n"+s.Text)
		if err != nil {
			return nil, fmt.Errorf("embed section %s: %w", s.ID, err)
		}
		all = append(all, scored{section: s, score: cosine(qv, sv)})
	}
	return topSections(all, topK), nil
}

func cosine(a, b []float32) float64 {
	n := min(len(a), len(b))
	var dot, na, nb float64
	for i := range n {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
