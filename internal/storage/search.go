package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Snippet markup used by FTS5 snippet()
const (
	SnippetOpen     = "<b>"
	SnippetClose    = "</b>"
	SnippetEllipsis = "..."
	SnippetTokens   = 32

	// fallbackSnippetLen bounds the content prefix used when FTS5 has no match
	fallbackSnippetLen = 200
)

// QueryTerms splits a free text query into index terms. Anything other than
// letters and digits separates terms, which neutralizes FTS5 syntax (quotes,
// parentheses, column filters, prefix stars, NEAR groups). Duplicates are
// dropped, first occurrence wins.
func QueryTerms(query string) []string {
	fields := strings.FieldsFunc(query, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})

	seen := make(map[string]struct{}, len(fields))
	terms := make([]string, 0, len(fields))
	for _, f := range fields {
		key := strings.ToLower(f)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		terms = append(terms, f)
	}
	return terms
}

// MatchExpression builds the FTS5 MATCH argument: every term quoted and
// OR-joined, so any term can match and BM25 rewards documents matching more
// of them. Returns "" when the query has no usable terms.
func MatchExpression(query string) string {
	terms := QueryTerms(query)
	if len(terms) == 0 {
		return ""
	}
	quoted := make([]string, len(terms))
	for i, t := range terms {
		quoted[i] = `"` + t + `"`
	}
	return strings.Join(quoted, " OR ")
}

// searchText performs BM25 full-text search using FTS5. Scores are negated
// bm25() so larger is better; equal scores are ordered by chunk_id.
func searchText(ctx context.Context, q querier, query string, limit int, entityID string) ([]TextResult, error) {
	match := MatchExpression(query)
	if match == "" || limit <= 0 {
		return nil, nil
	}

	sqlQuery := `
		SELECT ` + chunkColumns + `,
			-bm25(chunks_fts) AS score,
			snippet(chunks_fts, 0, ?, ?, ?, ?) AS snip
		FROM chunks_fts
		INNER JOIN chunks c ON c.id = chunks_fts.rowid
		WHERE chunks_fts MATCH ?
	`
	args := []interface{}{SnippetOpen, SnippetClose, SnippetEllipsis, SnippetTokens, match}

	if entityID != "" {
		sqlQuery += " AND c.owning_entity_id = ?"
		args = append(args, entityID)
	}

	sqlQuery += " ORDER BY score DESC, c.chunk_id LIMIT ?"
	args = append(args, limit)

	rows, err := q.QueryContext(ctx, sqlQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to execute FTS search: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var results []TextResult
	for rows.Next() {
		var (
			score   float64
			snippet sql.NullString
		)
		ch, err := scanChunk(rows, &score, &snippet)
		if err != nil {
			return nil, fmt.Errorf("failed to scan FTS result: %w", err)
		}
		results = append(results, TextResult{
			Chunk:   *ch,
			Score:   score,
			Snippet: snippet.String,
		})
	}
	return results, rows.Err()
}

func (s *SQLiteStorage) SearchText(ctx context.Context, query string, limit int, entityID string) ([]TextResult, error) {
	return searchText(ctx, s.querier(), query, limit, entityID)
}

// snippetWithQuerier highlights query terms in one chunk. When the chunk
// does not match the query the first fallbackSnippetLen bytes of its content
// are returned instead.
func (s *SQLiteStorage) snippetWithQuerier(ctx context.Context, q querier, chunkID, query string) (string, error) {
	if match := MatchExpression(query); match != "" {
		var snippet sql.NullString
		err := q.QueryRowContext(ctx, `
			SELECT snippet(chunks_fts, 0, ?, ?, ?, ?)
			FROM chunks_fts
			INNER JOIN chunks c ON c.id = chunks_fts.rowid
			WHERE chunks_fts MATCH ? AND c.chunk_id = ?
		`, SnippetOpen, SnippetClose, SnippetEllipsis, SnippetTokens, match, chunkID).Scan(&snippet)
		switch {
		case err == nil && snippet.String != "":
			return snippet.String, nil
		case err != nil && err != sql.ErrNoRows:
			return "", fmt.Errorf("failed to build snippet for %s: %w", chunkID, err)
		}
	}

	ch, err := s.getChunkWithQuerier(ctx, q, chunkID)
	if err != nil {
		return "", err
	}
	return contentPrefix(ch.Content, fallbackSnippetLen), nil
}

func (s *SQLiteStorage) Snippet(ctx context.Context, chunkID, query string) (string, error) {
	return s.snippetWithQuerier(ctx, s.querier(), chunkID, query)
}

// contentPrefix cuts content to at most n bytes on a rune boundary
func contentPrefix(content string, n int) string {
	content = strings.TrimSpace(content)
	if len(content) <= n {
		return content
	}
	cut := n
	for cut > 0 && !utf8.RuneStart(content[cut]) {
		cut--
	}
	return strings.TrimSpace(content[:cut]) + SnippetEllipsis
}
