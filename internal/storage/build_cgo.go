//go:build cgo && sqlite_fts5 && !purego

package storage

// Compiled with CGO and the sqlite_fts5 tag, which is also the tag
// mattn/go-sqlite3 needs to ship FTS5. The keyword store cannot work
// without it.
//
//	CGO_ENABLED=1 go build -tags sqlite_fts5 ./...

import (
	_ "github.com/mattn/go-sqlite3"
)

const (
	// DriverName is the database/sql driver name
	DriverName = "sqlite3"

	// BuildMode describes the current build configuration
	BuildMode = "cgo"
)
