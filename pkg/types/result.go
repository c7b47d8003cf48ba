package types

import "encoding/json"

// Source identifies which index produced a result
type Source string

const (
	SourceVector  Source = "vector"
	SourceKeyword Source = "keyword"
	SourceHybrid  Source = "hybrid"
)

// Match is the per-source scoring detail of a result. The concrete type is
// one of VectorMatch, KeywordMatch or FusedMatch.
type Match interface {
	Score() float64
	Source() Source
	isMatch()
}

// VectorMatch is a result scored by inner product of unit vectors
type VectorMatch struct {
	Similarity float64 // [-1, 1]
}

func (m VectorMatch) Score() float64 { return m.Similarity }
func (m VectorMatch) Source() Source { return SourceVector }
func (VectorMatch) isMatch()         {}

// KeywordMatch is a result scored by BM25 (higher is better)
type KeywordMatch struct {
	BM25    float64
	Snippet string
}

func (m KeywordMatch) Score() float64 { return m.BM25 }
func (m KeywordMatch) Source() Source { return SourceKeyword }
func (KeywordMatch) isMatch()         {}

// Component is one side's contribution to a fused score
type Component struct {
	Raw        float64 `json:"raw"`
	Normalized float64 `json:"normalized"`
}

// FusedMatch is a hybrid result. A nil component means the chunk was not in
// that side's candidate set and contributed 0.
type FusedMatch struct {
	Fused   float64
	Vector  *Component
	Keyword *Component
	Snippet string
}

func (m FusedMatch) Score() float64 { return m.Fused }
func (m FusedMatch) Source() Source { return SourceHybrid }
func (FusedMatch) isMatch()         {}

// SearchResult is a single ranked result
type SearchResult struct {
	Chunk Chunk
	Rank  int // Position in result set (1-based)
	Match Match
}

// Score returns the relevance score of the result
func (r SearchResult) Score() float64 {
	if r.Match == nil {
		return 0
	}
	return r.Match.Score()
}

// Source returns the index that produced the result
func (r SearchResult) Source() Source {
	if r.Match == nil {
		return ""
	}
	return r.Match.Source()
}

// Snippet returns the highlighted excerpt, if any
func (r SearchResult) Snippet() string {
	switch m := r.Match.(type) {
	case KeywordMatch:
		return m.Snippet
	case FusedMatch:
		return m.Snippet
	default:
		return ""
	}
}

type searchResultJSON struct {
	Rank       int                   `json:"rank"`
	Score      float64               `json:"score"`
	Source     Source                `json:"source"`
	Snippet    string                `json:"snippet,omitempty"`
	Components map[Source]*Component `json:"components,omitempty"`
	Chunk      Chunk                 `json:"chunk"`
}

// MarshalJSON flattens the match variant for output
func (r SearchResult) MarshalJSON() ([]byte, error) {
	out := searchResultJSON{
		Rank:    r.Rank,
		Score:   r.Score(),
		Source:  r.Source(),
		Snippet: r.Snippet(),
		Chunk:   r.Chunk,
	}
	if m, ok := r.Match.(FusedMatch); ok {
		out.Components = make(map[Source]*Component, 2)
		if m.Vector != nil {
			out.Components[SourceVector] = m.Vector
		}
		if m.Keyword != nil {
			out.Components[SourceKeyword] = m.Keyword
		}
	}
	return json.Marshal(out)
}
