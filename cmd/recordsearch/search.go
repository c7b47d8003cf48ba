package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/dshills/recordsearch-mcp/internal/searcher"
	"github.com/dshills/recordsearch-mcp/internal/storage"
	"github.com/dshills/recordsearch-mcp/pkg/types"
)

var (
	searchMode   string
	searchTopK   int
	searchEntity string
	searchJSON   bool
)

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search indexed records",
	Long: `Performs hybrid search across all indexed records.
Combines keyword (BM25) and semantic (vector) rankings after min-max
normalization. Use --mode to query one index alone.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runSearch,
}

func init() {
	searchCmd.Flags().StringVarP(&searchMode, "mode", "m", "hybrid", "hybrid, vector or keyword")
	searchCmd.Flags().IntVarP(&searchTopK, "top-k", "k", 0, "maximum number of results (default from config)")
	searchCmd.Flags().StringVarP(&searchEntity, "entity", "e", "", "only return chunks of this entity")
	searchCmd.Flags().BoolVar(&searchJSON, "json", false, "output results as JSON")
	rootCmd.AddCommand(searchCmd)
}

func runSearch(cmd *cobra.Command, args []string) error {
	mode, err := searcher.ParseMode(searchMode)
	if err != nil {
		return err
	}

	eng, _, err := openEngine(cmd.Context())
	if err != nil {
		return err
	}
	defer func() { _ = eng.Close() }()

	resp, err := eng.Search(cmd.Context(), searcher.SearchRequest{
		Query:    strings.Join(args, " "),
		Mode:     mode,
		TopK:     searchTopK,
		EntityID: searchEntity,
	})
	if err != nil {
		return fmt.Errorf("search failed: %w", err)
	}

	if searchJSON {
		return outputSearchJSON(cmd, resp)
	}
	outputSearchTable(cmd, resp)
	return nil
}

func outputSearchJSON(cmd *cobra.Command, resp *searcher.SearchResponse) error {
	results := resp.Results
	if results == nil {
		results = []types.SearchResult{}
	}
	data, err := json.MarshalIndent(map[string]interface{}{
		"mode":     resp.Mode,
		"degraded": resp.Degraded,
		"warnings": resp.Warnings,
		"results":  results,
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal results: %w", err)
	}
	cmd.Println(string(data))
	return nil
}

func outputSearchTable(cmd *cobra.Command, resp *searcher.SearchResponse) {
	if resp.Degraded != "" {
		cmd.Printf("%s %s index unavailable, showing partial results: %s\n\n",
			color.YellowString("warning:"), resp.Degraded, resp.DegradedReason)
	}
	if len(resp.Results) == 0 {
		cmd.Println("No results found.")
		return
	}

	cmd.Printf("Results (%s, %s):\n\n", resp.Mode, resp.Duration.Round(1e5))
	for _, r := range resp.Results {
		// Format: [N] chunk id (score, source)
		cmd.Printf("  [%d] %s (%.3f, %s)\n", r.Rank, color.CyanString(r.Chunk.ID), r.Score(), r.Source())
		cmd.Printf("      %s · %s", r.Chunk.EntityID, r.Chunk.DocumentType)
		if r.Chunk.DocumentDate != "" {
			cmd.Printf(" · %s", r.Chunk.DocumentDate)
		}
		if r.Chunk.Section != "" {
			cmd.Printf(" · %s", r.Chunk.Section)
		}
		cmd.Println()
		if snippet := r.Snippet(); snippet != "" {
			cmd.Printf("      %s\n", highlight(snippet))
		} else {
			cmd.Printf("      %s\n", preview(r.Chunk.Content, 160))
		}
		cmd.Println()
	}

	for _, w := range resp.Warnings {
		cmd.Printf("%s %s\n", color.YellowString("warning:"), w)
	}
}

// highlight renders keyword snippet markers in bold
func highlight(snippet string) string {
	var b strings.Builder
	for {
		start := strings.Index(snippet, storage.SnippetOpen)
		if start < 0 {
			break
		}
		end := strings.Index(snippet[start:], storage.SnippetClose)
		if end < 0 {
			break
		}
		b.WriteString(snippet[:start])
		b.WriteString(color.New(color.Bold).Sprint(snippet[start+len(storage.SnippetOpen) : start+end]))
		snippet = snippet[start+end+len(storage.SnippetClose):]
	}
	b.WriteString(snippet)
	return strings.ReplaceAll(b.String(), "\n", " ")
}

func preview(content string, limit int) string {
	content = strings.Join(strings.Fields(content), " ")
	runes := []rune(content)
	if len(runes) <= limit {
		return content
	}
	return string(runes[:limit]) + "…"
}
