package types

import (
	"context"
	"errors"
	"fmt"
)

// Domain errors
var (
	// ErrInvalidInput marks caller mistakes (bad query, bad scope, bad document)
	ErrInvalidInput = errors.New("invalid input")

	// ErrEmptyIndex is matched by *EmptyIndexError via errors.Is
	ErrEmptyIndex = errors.New("index is empty")

	// ErrBuildInProgress is returned when another build holds the index lock
	ErrBuildInProgress = errors.New("build already in progress")
)

// IndexKind names one of the two stores
type IndexKind string

const (
	IndexVector  IndexKind = "vector"
	IndexKeyword IndexKind = "keyword"
)

// DimensionMismatchError reports disagreement between the embedding model and
// the index configuration.
type DimensionMismatchError struct {
	Expected int    // dimension the index was configured or built with
	Actual   int    // dimension produced or configured by the embedder
	Model    string // embedding model identifier, if known
	Op       string // operation that detected the mismatch
}

func (e *DimensionMismatchError) Error() string {
	if e.Model != "" {
		return fmt.Sprintf("%s: dimension mismatch: index expects %d, embedder %s produces %d",
			e.Op, e.Expected, e.Model, e.Actual)
	}
	return fmt.Sprintf("%s: dimension mismatch: index expects %d, embedder produces %d",
		e.Op, e.Expected, e.Actual)
}

// IndexCorruptionError reports on-disk state that failed integrity validation
type IndexCorruptionError struct {
	Path   string
	Reason string
	Err    error
}

func (e *IndexCorruptionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("index corrupted at %s: %s: %v", e.Path, e.Reason, e.Err)
	}
	return fmt.Sprintf("index corrupted at %s: %s", e.Path, e.Reason)
}

func (e *IndexCorruptionError) Unwrap() error {
	return e.Err
}

// EmptyIndexError is returned when a search runs before anything was built
type EmptyIndexError struct {
	Index IndexKind // empty when every index is empty
}

func (e *EmptyIndexError) Error() string {
	if e.Index == "" {
		return "search attempted before any build: " + ErrEmptyIndex.Error()
	}
	return fmt.Sprintf("search attempted before any build: %s %s", e.Index, ErrEmptyIndex.Error())
}

func (e *EmptyIndexError) Is(target error) bool {
	return target == ErrEmptyIndex
}

// ConsistencyWarning records a chunk id that is present in one index but not
// the other, or present in both with different content. It is reported, never
// returned as an error.
type ConsistencyWarning struct {
	ChunkID     string    `json:"chunk_id"`
	PresentIn   IndexKind `json:"present_in"`
	MissingFrom IndexKind `json:"missing_from,omitempty"`
	Reason      string    `json:"reason"`
}

func (w ConsistencyWarning) String() string {
	return fmt.Sprintf("chunk %s: %s", w.ChunkID, w.Reason)
}

// FailureKind groups errors for user-facing reporting
type FailureKind string

const (
	FailureConfiguration FailureKind = "configuration"
	FailureLoad          FailureKind = "load"
	FailureInput         FailureKind = "input"
	FailureEmpty         FailureKind = "empty_index"
	FailureBusy          FailureKind = "busy"
	FailureCanceled      FailureKind = "canceled"
	FailureInternal      FailureKind = "internal"
)

// Classify maps an error to the kind of failure it represents
func Classify(err error) FailureKind {
	var dim *DimensionMismatchError
	var corrupt *IndexCorruptionError

	switch {
	case err == nil:
		return ""
	case errors.As(err, &dim):
		return FailureConfiguration
	case errors.As(err, &corrupt):
		return FailureLoad
	case errors.Is(err, ErrEmptyIndex):
		return FailureEmpty
	case errors.Is(err, ErrInvalidInput):
		return FailureInput
	case errors.Is(err, ErrBuildInProgress):
		return FailureBusy
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return FailureCanceled
	default:
		return FailureInternal
	}
}
