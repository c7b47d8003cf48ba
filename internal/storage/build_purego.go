//go:build !cgo || !sqlite_fts5 || purego

package storage

// Default build. modernc.org/sqlite is a translation of the C library with
// FTS5 built in, so no C compiler or extra tags are needed.
//
//	CGO_ENABLED=0 go build ./...

import (
	_ "modernc.org/sqlite"
)

const (
	// DriverName is the database/sql driver name
	DriverName = "sqlite"

	// BuildMode describes the current build configuration
	BuildMode = "purego"
)
