package mcp

import (
	"github.com/mark3labs/mcp-go/mcp"
)

// indexDocumentsTool returns the tool definition for index_documents
func indexDocumentsTool() mcp.Tool {
	return mcp.Tool{
		Name:        "index_documents",
		Description: "Index a directory of entity records (one sub-directory per entity, one .txt file per document)",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"path": map[string]interface{}{
					"type":        "string",
					"description": "Absolute path to the records root",
				},
				"entity": map[string]interface{}{
					"type":        "string",
					"description": "Rebuild only this entity; every other entity is left untouched",
				},
				"mode": map[string]interface{}{
					"type":        "string",
					"description": "full clears both indices, scoped replaces one entity, upsert replaces chunks by id",
					"enum":        []string{"full", "scoped", "upsert"},
				},
			},
			Required: []string{"path"},
		},
	}
}

// searchDocumentsTool returns the tool definition for search_documents
func searchDocumentsTool() mcp.Tool {
	return mcp.Tool{
		Name:        "search_documents",
		Description: "Search indexed records with natural language or keyword queries",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"query": map[string]interface{}{
					"type":        "string",
					"description": "Search query (natural language or keywords)",
				},
				"mode": map[string]interface{}{
					"type":        "string",
					"description": "Search strategy: hybrid (vector + keyword), vector (semantic only), or keyword (BM25 only)",
					"enum":        []string{"hybrid", "vector", "keyword"},
					"default":     "hybrid",
				},
				"top_k": map[string]interface{}{
					"type":        "integer",
					"description": "Maximum number of results to return",
					"default":     10,
					"minimum":     1,
					"maximum":     100,
				},
				"entity": map[string]interface{}{
					"type":        "string",
					"description": "Only return chunks owned by this entity",
				},
			},
			Required: []string{"query"},
		},
	}
}

// getEntityDocumentsTool returns the tool definition for get_entity_documents
func getEntityDocumentsTool() mcp.Tool {
	return mcp.Tool{
		Name:        "get_entity_documents",
		Description: "Return every indexed chunk of one entity, ordered by chunk id",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"entity": map[string]interface{}{
					"type":        "string",
					"description": "Owning entity id",
				},
				"document_type": map[string]interface{}{
					"type":        "string",
					"description": "Restrict to one document type (e.g. progress_note, lab)",
				},
			},
			Required: []string{"entity"},
		},
	}
}

// listEntitiesTool returns the tool definition for list_entities
func listEntitiesTool() mcp.Tool {
	return mcp.Tool{
		Name:        "list_entities",
		Description: "List every entity present in the indices",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{},
		},
	}
}

// getStatusTool returns the tool definition for get_status
func getStatusTool() mcp.Tool {
	return mcp.Tool{
		Name:        "get_status",
		Description: "Report index statistics, the embedding model and the last build",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{},
		},
	}
}
