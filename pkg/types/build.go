package types

import (
	"sort"
	"time"
)

// BuildMode selects how a build treats existing chunks
type BuildMode string

const (
	BuildFull   BuildMode = "full"   // clear both indices first
	BuildScoped BuildMode = "scoped" // replace one entity's chunks
	BuildUpsert BuildMode = "upsert" // replace chunks by id, keep the rest
	BuildDelete BuildMode = "delete" // remove one entity's chunks
)

// Valid reports whether m is a known build mode
func (m BuildMode) Valid() bool {
	switch m {
	case BuildFull, BuildScoped, BuildUpsert, BuildDelete:
		return true
	}
	return false
}

// BuildFailure names a chunk that could not be indexed and why
type BuildFailure struct {
	ChunkID string `json:"chunk_id"`
	Cause   string `json:"cause"`
}

// BuildReport summarizes a build
type BuildReport struct {
	RunID         string               `json:"run_id"`
	Mode          BuildMode            `json:"mode"`
	Scope         string               `json:"scope,omitempty"`
	Documents     int                  `json:"documents"`
	ChunksAdded   int                  `json:"chunks_added"`
	ChunksRemoved int                  `json:"chunks_removed"`
	PerEntity     map[string]int       `json:"per_entity"`
	Failures      []BuildFailure       `json:"failures,omitempty"`
	Warnings      []ConsistencyWarning `json:"warnings,omitempty"`
	StartedAt     time.Time            `json:"started_at"`
	Duration      time.Duration        `json:"duration"`
}

// Succeeded reports whether the build committed
func (r *BuildReport) Succeeded() bool {
	return len(r.Failures) == 0
}

// Entities returns the entities touched by the build in sorted order
func (r *BuildReport) Entities() []string {
	out := make([]string, 0, len(r.PerEntity))
	for e := range r.PerEntity {
		out = append(out, e)
	}
	sort.Strings(out)
	return out
}

// AddFailure records a failure for each chunk id
func (r *BuildReport) AddFailure(cause error, chunkIDs ...string) {
	for _, id := range chunkIDs {
		r.Failures = append(r.Failures, BuildFailure{ChunkID: id, Cause: cause.Error()})
	}
}
