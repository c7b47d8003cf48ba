package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/dshills/recordsearch-mcp/internal/engine"
	"github.com/dshills/recordsearch-mcp/internal/searcher"
	"github.com/dshills/recordsearch-mcp/pkg/types"
)

// MCP error codes
const (
	ErrorCodeInvalidParams      = -32602 // Invalid method parameters
	ErrorCodeInternalError      = -32603 // Internal JSON-RPC error
	ErrorCodeIndexingInProgress = -32002 // Another build is already running
	ErrorCodeNotIndexed         = -32003 // Nothing has been indexed yet
	ErrorCodeEmptyQuery         = -32004 // Query parameter is empty
	ErrorCodeIncompatibleIndex  = -32005 // Index does not match the embedder or failed integrity checks
)

// handleIndexDocuments handles the index_documents tool invocation
func (s *Server) handleIndexDocuments(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}

	path, ok := args["path"].(string)
	if !ok || path == "" {
		return nil, newMCPError(ErrorCodeInvalidParams, "path parameter is required", map[string]interface{}{
			"param":  "path",
			"reason": "missing or empty",
		})
	}
	if err := validatePath(path); err != nil {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid path", map[string]interface{}{
			"param":  "path",
			"reason": err.Error(),
		})
	}

	entity := getStringDefault(args, "entity", "")
	mode := getStringDefault(args, "mode", "")
	opts := engine.PathOptions{Entity: entity}
	switch mode {
	case "":
	case string(types.BuildFull):
		if entity != "" {
			return nil, newMCPError(ErrorCodeInvalidParams, "full mode does not take an entity", map[string]interface{}{
				"param": "entity",
				"value": entity,
			})
		}
	case string(types.BuildScoped):
		if entity == "" {
			return nil, newMCPError(ErrorCodeInvalidParams, "scoped mode requires an entity", map[string]interface{}{
				"param":  "entity",
				"reason": "missing or empty",
			})
		}
	case string(types.BuildUpsert):
		opts.Upsert = true
	default:
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid mode", map[string]interface{}{
			"param":   "mode",
			"value":   mode,
			"allowed": []string{"full", "scoped", "upsert"},
		})
	}

	report, err := s.engine.IndexPath(ctx, path, opts)
	if err != nil {
		return nil, s.toMCPError("indexing failed", err)
	}

	response := map[string]interface{}{
		"indexed":        true,
		"run_id":         report.RunID,
		"mode":           report.Mode,
		"documents":      report.Documents,
		"chunks_added":   report.ChunksAdded,
		"chunks_removed": report.ChunksRemoved,
		"per_entity":     report.PerEntity,
		"duration_ms":    report.Duration.Milliseconds(),
	}
	if report.Scope != "" {
		response["scope"] = report.Scope
	}
	if len(report.Warnings) > 0 {
		// Include first few warnings
		if len(report.Warnings) > 5 {
			response["warnings"] = report.Warnings[:5]
			response["warning_count"] = len(report.Warnings)
		} else {
			response["warnings"] = report.Warnings
		}
	}

	return mcp.NewToolResultText(formatJSON(response)), nil
}

// handleSearchDocuments handles the search_documents tool invocation
func (s *Server) handleSearchDocuments(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}

	query, _ := args["query"].(string)
	if strings.TrimSpace(query) == "" {
		return nil, newMCPError(ErrorCodeEmptyQuery, "query parameter is required and cannot be empty", map[string]interface{}{
			"param":  "query",
			"reason": "missing or empty",
		})
	}

	maxTopK := s.engine.Config().Search.MaxTopK
	topK := getIntDefault(args, "top_k", s.engine.Config().Search.DefaultTopK)
	if topK < 1 || topK > maxTopK {
		return nil, newMCPError(ErrorCodeInvalidParams, fmt.Sprintf("top_k must be between 1 and %d", maxTopK), map[string]interface{}{
			"param": "top_k",
			"value": topK,
		})
	}

	mode, err := searcher.ParseMode(getStringDefault(args, "mode", string(searcher.ModeHybrid)))
	if err != nil {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid mode", map[string]interface{}{
			"param":   "mode",
			"value":   args["mode"],
			"allowed": []string{"hybrid", "vector", "keyword"},
		})
	}

	resp, err := s.engine.Search(ctx, searcher.SearchRequest{
		Query:    query,
		Mode:     mode,
		TopK:     topK,
		EntityID: getStringDefault(args, "entity", ""),
		UseCache: true,
	})
	if err != nil {
		return nil, s.toMCPError("search failed", err)
	}

	results := resp.Results
	if results == nil {
		results = []types.SearchResult{}
	}
	response := map[string]interface{}{
		"query":         query,
		"mode":          resp.Mode,
		"total_results": resp.TotalResults,
		"duration_ms":   resp.Duration.Milliseconds(),
		"cache_hit":     resp.CacheHit,
		"results":       results,
	}
	if resp.Degraded != "" {
		response["degraded"] = map[string]interface{}{
			"index":  resp.Degraded,
			"reason": resp.DegradedReason,
		}
	}
	if len(resp.Warnings) > 0 {
		response["warnings"] = resp.Warnings
	}

	return mcp.NewToolResultText(formatJSON(response)), nil
}

// handleGetEntityDocuments handles the get_entity_documents tool invocation
func (s *Server) handleGetEntityDocuments(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}

	entity, ok := args["entity"].(string)
	if !ok || entity == "" {
		return nil, newMCPError(ErrorCodeInvalidParams, "entity parameter is required", map[string]interface{}{
			"param":  "entity",
			"reason": "missing or empty",
		})
	}

	var (
		chunks []*types.Chunk
		err    error
	)
	if docType := getStringDefault(args, "document_type", ""); docType != "" {
		chunks, err = s.engine.GetByType(ctx, entity, docType)
	} else {
		chunks, err = s.engine.GetByEntity(ctx, entity)
	}
	if err != nil {
		return nil, s.toMCPError("failed to get entity documents", err)
	}
	if chunks == nil {
		chunks = []*types.Chunk{}
	}

	response := map[string]interface{}{
		"entity": entity,
		"count":  len(chunks),
		"chunks": chunks,
	}
	return mcp.NewToolResultText(formatJSON(response)), nil
}

// handleListEntities handles the list_entities tool invocation
func (s *Server) handleListEntities(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	entities, err := s.engine.ListEntities(ctx)
	if err != nil {
		return nil, s.toMCPError("failed to list entities", err)
	}
	response := map[string]interface{}{
		"count":    len(entities),
		"entities": entities,
	}
	return mcp.NewToolResultText(formatJSON(response)), nil
}

// handleGetStatus handles the get_status tool invocation
func (s *Server) handleGetStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	status, err := s.engine.Status(ctx)
	if err != nil {
		return nil, s.toMCPError("failed to get status", err)
	}

	response := map[string]interface{}{
		"indexed": status.Indexed,
		"statistics": map[string]interface{}{
			"chunks_count":   status.Keyword.ChunkCount,
			"vectors_count":  status.Vector.ChunkCount,
			"entities_count": status.Entities,
			"documents":      status.Keyword.DocumentCount,
			"index_size_mb":  fmt.Sprintf("%.2f", float64(status.Keyword.SizeBytes)/(1024*1024)),
		},
		"embedder": status.Embedder,
		"storage": map[string]interface{}{
			"index_dir":      status.IndexDir,
			"driver":         status.Keyword.Driver,
			"schema_version": status.Keyword.SchemaVersion,
		},
		"cache": status.Cache,
	}
	if !status.Indexed {
		response["message"] = "Nothing indexed yet. Use the index_documents tool first."
	}
	if status.Keyword.LastBuild != nil {
		response["last_build"] = status.Keyword.LastBuild
	}
	if status.Build != nil {
		response["build_in_progress"] = status.Build.RunID
	}

	return mcp.NewToolResultText(formatJSON(response)), nil
}

// Helper functions

// toMCPError maps an engine error onto a protocol error code
func (s *Server) toMCPError(message string, err error) error {
	code := ErrorCodeInternalError
	switch types.Classify(err) {
	case types.FailureInput:
		code = ErrorCodeInvalidParams
	case types.FailureBusy:
		code = ErrorCodeIndexingInProgress
	case types.FailureEmpty:
		code = ErrorCodeNotIndexed
	case types.FailureConfiguration, types.FailureLoad:
		code = ErrorCodeIncompatibleIndex
	}
	if code == ErrorCodeInternalError {
		s.logger.Error(message, "error", err)
	}
	return newMCPError(code, message, map[string]interface{}{
		"error": err.Error(),
		"kind":  types.Classify(err),
	})
}

// newMCPError creates a properly formatted MCP error
func newMCPError(code int, message string, data interface{}) error {
	// MCP errors are returned as regular errors, the framework handles encoding
	return &MCPError{
		Code:    code,
		Message: message,
		Data:    data,
	}
}

// MCPError represents an MCP protocol error
type MCPError struct {
	Code    int
	Message string
	Data    interface{}
}

func (e *MCPError) Error() string {
	return fmt.Sprintf("MCP error %d: %s", e.Code, e.Message)
}

// validatePath checks that path is an absolute, readable directory
func validatePath(path string) error {
	if path == "" {
		return ErrPathRequired
	}
	if !filepath.IsAbs(path) {
		return ErrPathNotAbsolute
	}

	info, err := os.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		return ErrPathNotFound
	}
	if err != nil {
		return ErrPathNotReadable
	}
	if !info.IsDir() {
		return ErrNotDirectory
	}

	f, err := os.Open(path)
	if err != nil {
		return ErrPathNotReadable
	}
	_ = f.Close()
	return nil
}

// formatJSON formats a map as indented JSON
func formatJSON(data map[string]interface{}) string {
	bytes, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", data)
	}
	return string(bytes)
}

// getIntDefault extracts an integer parameter with a default value
func getIntDefault(args map[string]interface{}, key string, defaultValue int) int {
	if val, ok := args[key].(float64); ok {
		return int(val)
	}
	if val, ok := args[key].(int); ok {
		return val
	}
	return defaultValue
}

// getStringDefault extracts a string parameter with a default value
func getStringDefault(args map[string]interface{}, key string, defaultValue string) string {
	if val, ok := args[key].(string); ok {
		return val
	}
	return defaultValue
}

// Validation helpers

var (
	ErrPathRequired    = errors.New("path is required")
	ErrPathNotAbsolute = errors.New("path must be absolute")
	ErrPathNotFound    = errors.New("path does not exist")
	ErrPathNotReadable = errors.New("path is not readable")
	ErrNotDirectory    = errors.New("path is not a directory")
)
