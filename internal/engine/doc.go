// Package engine is the library surface of recordsearch.
//
// An Engine is opened on an index directory, owns the vector index, the
// keyword store, the search coordinator and the index builder, and is closed
// explicitly. There is no package level state: two engines on two
// directories are independent.
//
//	eng, err := engine.Open(ctx, cfg)
//	if err != nil {
//	    return err
//	}
//	defer eng.Close()
//
//	report, err := eng.IndexPath(ctx, "/data/records", engine.PathOptions{})
//	resp, err := eng.Search(ctx, searcher.SearchRequest{Query: "diabetes", EntityID: "P1"})
//
// The index directory holds keyword.db and the vector/ directory.
package engine
