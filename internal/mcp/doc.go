// Package mcp implements the Model Context Protocol (MCP) server for recordsearch.
//
// The server exposes five tools to agents working over entity records:
//   - index_documents: Index a directory of records
//   - search_documents: Hybrid, vector or keyword search, optionally per entity
//   - get_entity_documents: Every chunk of one entity, ordered by chunk id
//   - list_entities: Entities present in the indices
//   - get_status: Index statistics and the last build
//
// # Protocol Overview
//
// MCP is a JSON-RPC 2.0 protocol over stdio transport:
//
//	Client → Server: {"method": "tools/call", "params": {...}}
//	Server → Client: {"result": {...}}
//
// stdout carries protocol frames only, so all logging goes to stderr.
//
// # Basic Usage
//
//	recordsearch serve
//
// # Tool: index_documents
//
//	Request:
//	{
//	  "name": "index_documents",
//	  "arguments": {"path": "/data/records", "entity": "P1"}
//	}
//
//	Response:
//	{
//	  "indexed": true,
//	  "run_id": "5f1c...",
//	  "mode": "scoped",
//	  "scope": "P1",
//	  "chunks_added": 42,
//	  "chunks_removed": 40,
//	  "per_entity": {"P1": 42}
//	}
//
// # Tool: search_documents
//
//	Request:
//	{
//	  "name": "search_documents",
//	  "arguments": {"query": "diabetes", "mode": "hybrid", "top_k": 5, "entity": "P1"}
//	}
//
//	Response:
//	{
//	  "query": "diabetes",
//	  "mode": "hybrid",
//	  "total_results": 5,
//	  "results": [
//	    {
//	      "rank": 1,
//	      "score": 0.93,
//	      "source": "hybrid",
//	      "snippet": "type 2 <b>diabetes</b>, continue metformin",
//	      "components": {"vector": {...}, "keyword": {...}},
//	      "chunk": {"chunk_id": "P1_progress_note_2024-01-10_0", ...}
//	    }
//	  ]
//	}
//
// A hybrid search that lost one side reports it under "degraded"; chunks
// found in only one index are listed under "warnings".
//
// # Error Codes
//
//	-32602  invalid params (bad path, mode, top_k, entity)
//	-32603  internal error
//	-32002  another build is running, retry later
//	-32003  nothing indexed yet
//	-32004  empty query
//	-32005  index incompatible with the embedder or corrupted
package mcp
