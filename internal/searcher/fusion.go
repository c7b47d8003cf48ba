package searcher

import (
	"sort"

	"github.com/dshills/recordsearch-mcp/internal/storage"
	"github.com/dshills/recordsearch-mcp/internal/vectorindex"
	"github.com/dshills/recordsearch-mcp/pkg/types"
)

// Fused is one chunk after score fusion
type Fused struct {
	Chunk   types.Chunk
	Score   float64
	Vector  *types.Component // nil when the vector side did not return the chunk
	Keyword *types.Component // nil when the keyword side did not return the chunk
	Snippet string
}

func (f Fused) result() types.SearchResult {
	return types.SearchResult{
		Chunk: f.Chunk,
		Match: types.FusedMatch{
			Fused:   f.Score,
			Vector:  f.Vector,
			Keyword: f.Keyword,
			Snippet: f.Snippet,
		},
	}
}

// MinMax rescales scores to [0, 1] over the list. When every score is equal
// (including a single candidate) each one normalizes to 1.
func MinMax(scores []float64) []float64 {
	if len(scores) == 0 {
		return nil
	}

	lo, hi := scores[0], scores[0]
	for _, s := range scores[1:] {
		lo = min(lo, s)
		hi = max(hi, s)
	}

	out := make([]float64, len(scores))
	span := hi - lo
	for i, s := range scores {
		if span == 0 {
			out[i] = 1
			continue
		}
		out[i] = (s - lo) / span
	}
	return out
}

// Fuse merges the two candidate lists into one ranking. Each list is min-max
// normalized on its own, the fused score is
//
//	vectorWeight*nv + keywordWeight*nk
//
// with an absent side contributing 0, and results are ordered by fused score
// descending then chunk id ascending.
func Fuse(vectorRes []vectorindex.Result, keywordRes []storage.TextResult, vectorWeight, keywordWeight float64) []Fused {
	byID := make(map[string]*Fused, len(vectorRes)+len(keywordRes))
	order := make([]string, 0, len(vectorRes)+len(keywordRes))

	get := func(ch types.Chunk) *Fused {
		if f, ok := byID[ch.ID]; ok {
			return f
		}
		f := &Fused{Chunk: ch}
		byID[ch.ID] = f
		order = append(order, ch.ID)
		return f
	}

	vScores := make([]float64, len(vectorRes))
	for i, r := range vectorRes {
		vScores[i] = r.Similarity
	}
	for i, n := range MinMax(vScores) {
		f := get(vectorRes[i].Chunk)
		f.Vector = &types.Component{Raw: vectorRes[i].Similarity, Normalized: n}
	}

	kScores := make([]float64, len(keywordRes))
	for i, r := range keywordRes {
		kScores[i] = r.Score
	}
	for i, n := range MinMax(kScores) {
		f := get(keywordRes[i].Chunk)
		f.Keyword = &types.Component{Raw: keywordRes[i].Score, Normalized: n}
		f.Snippet = keywordRes[i].Snippet
	}

	out := make([]Fused, 0, len(order))
	for _, id := range order {
		f := byID[id]
		if f.Vector != nil {
			f.Score += vectorWeight * f.Vector.Normalized
		}
		if f.Keyword != nil {
			f.Score += keywordWeight * f.Keyword.Normalized
		}
		out = append(out, *f)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].Chunk.ID < out[j].Chunk.ID
	})
	return out
}
