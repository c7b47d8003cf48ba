// Package storage is the keyword half of the index: a SQLite database holding
// every chunk record plus an FTS5 inverted index over chunk content.
//
// # Database Schema
//
// Tables:
//   - chunks: one row per chunk, unique on chunk_id, indexed by owning entity
//     and by (entity, document type)
//   - chunks_fts: external content FTS5 table over chunks.content and
//     chunks.section, tokenized with 'porter unicode61'
//   - builds: build history, one row per committed build
//   - schema_version: applied migrations, compared with semver
//
// Triggers keep chunks_fts in step with chunks. Re-inserting an existing
// chunk_id updates the row in place, so re-indexing never duplicates postings.
//
// # Basic Usage
//
//	db, err := storage.NewSQLiteStorage(filepath.Join(indexDir, "keyword.db"))
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	results, err := db.SearchText(ctx, "diabetes hba1c", 20, "P1")
//	for _, r := range results {
//	    fmt.Printf("%s %.3f %s\n", r.Chunk.ID, r.Score, r.Snippet)
//	}
//
// # Transactions
//
// The database runs on a single connection. Between BeginTx and
// Commit/Rollback every call must go through the Tx:
//
//	tx, err := db.BeginTx(ctx)
//	if err != nil {
//	    return err
//	}
//	defer func() { _ = tx.Rollback() }()
//
//	if _, err := tx.DeleteByEntity(ctx, "P1"); err != nil {
//	    return err
//	}
//	if _, err := tx.UpsertChunks(ctx, chunks); err != nil {
//	    return err
//	}
//	return tx.Commit()
//
// # Query Syntax
//
// Queries are free text. QueryTerms splits on anything that is not a letter
// or digit, each term is quoted and the terms are OR-joined, so user input
// can never reach FTS5 as operators. Scores are -bm25(), higher is better,
// with ties broken by chunk_id. A query without usable terms matches nothing.
//
// # Build Tags
//
// Pure Go (default): modernc.org/sqlite, FTS5 included.
//
//	CGO_ENABLED=0 go build ./...
//
// CGO: github.com/mattn/go-sqlite3, FTS5 enabled by the fts5 tag.
//
//	CGO_ENABLED=1 go build -tags sqlite_fts5 ./...
package storage
