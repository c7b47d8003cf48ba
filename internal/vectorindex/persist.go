package vectorindex

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/dshills/recordsearch-mcp/internal/embedder"
	"github.com/dshills/recordsearch-mcp/pkg/types"
)

// FormatVersion is the on-disk layout version written by Save
const FormatVersion = 1

// File names inside an index directory
const (
	VectorsFile = "vectors.bin"
	ChunksFile  = "chunks.json"
	ConfigFile  = "config.json"

	stagingSuffix = ".staging"
	backupSuffix  = ".bak"
)

// Config is persisted as config.json next to the vectors
type Config struct {
	EmbeddingModelID string    `json:"embedding_model_id"`
	Dimension        int       `json:"dimension"`
	ChunkCount       int       `json:"chunk_count"`
	FormatVersion    int       `json:"format_version"`
	Provider         string    `json:"provider,omitempty"`
	Checksum         string    `json:"checksum,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
}

// Staged is an index written next to its destination but not yet visible
type Staged struct {
	dir      string
	staging  string
	checksum string
	done     bool
}

// Save writes the index to dir, replacing any previous contents atomically
func (idx *Index) Save(dir string) error {
	staged, err := idx.Stage(dir)
	if err != nil {
		return err
	}
	return staged.Commit()
}

// Stage writes the index to a staging directory beside dir. Nothing under
// dir changes until Commit.
func (idx *Index) Stage(dir string) (*Staged, error) {
	staging := dir + stagingSuffix
	if err := os.RemoveAll(staging); err != nil {
		return nil, fmt.Errorf("failed to clear staging directory: %w", err)
	}
	if err := os.MkdirAll(staging, 0755); err != nil {
		return nil, fmt.Errorf("failed to create staging directory: %w", err)
	}

	idx.mu.RLock()
	blob := encodeVectors(idx.vectors)
	chunksJSON, err := json.Marshal(idx.chunks)
	cfg := Config{
		EmbeddingModelID: idx.model,
		Dimension:        idx.dimension,
		ChunkCount:       len(idx.chunks),
		FormatVersion:    FormatVersion,
		Provider:         idx.provider,
		Checksum:         checksum(blob),
		CreatedAt:        time.Now().UTC(),
	}
	if cfg.ChunkCount == 0 {
		chunksJSON = []byte("[]")
	}
	idx.mu.RUnlock()
	if err != nil {
		_ = os.RemoveAll(staging)
		return nil, fmt.Errorf("failed to encode chunks: %w", err)
	}

	cfgJSON, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		_ = os.RemoveAll(staging)
		return nil, fmt.Errorf("failed to encode config: %w", err)
	}

	for name, data := range map[string][]byte{
		VectorsFile: blob,
		ChunksFile:  chunksJSON,
		ConfigFile:  cfgJSON,
	} {
		if err := writeAtomic(filepath.Join(staging, name), data); err != nil {
			_ = os.RemoveAll(staging)
			return nil, fmt.Errorf("failed to write %s: %w", name, err)
		}
	}
	_ = syncDir(staging)

	return &Staged{dir: dir, staging: staging, checksum: cfg.Checksum}, nil
}

// Commit makes the staged index the live one. The previous directory is kept
// as a backup until the rename succeeds.
func (s *Staged) Commit() error {
	if s.done {
		return errors.New("staged index already finalized")
	}
	s.done = true

	backup := s.dir + backupSuffix
	if err := os.RemoveAll(backup); err != nil {
		return fmt.Errorf("failed to clear backup: %w", err)
	}

	hadLive := false
	if _, err := os.Stat(s.dir); err == nil {
		hadLive = true
		if err := os.Rename(s.dir, backup); err != nil {
			return fmt.Errorf("failed to move live index aside: %w", err)
		}
	}

	if err := os.Rename(s.staging, s.dir); err != nil {
		if hadLive {
			_ = os.Rename(backup, s.dir)
		}
		return fmt.Errorf("failed to publish staged index: %w", err)
	}
	_ = syncDir(filepath.Dir(s.dir))

	if hadLive {
		_ = os.RemoveAll(backup)
	}
	return nil
}

// Abort discards the staged files
func (s *Staged) Abort() error {
	if s.done {
		return nil
	}
	s.done = true
	return os.RemoveAll(s.staging)
}

// Checksum returns the checksum of the staged vector blob
func (s *Staged) Checksum() string {
	return s.checksum
}

// Load reads the index saved in dir and binds it to emb. A missing directory
// yields an empty index. The persisted dimension must equal the embedder's;
// a different model id with the same dimension is only logged.
func Load(dir string, emb embedder.Embedder, opts ...Option) (*Index, error) {
	idx := New(emb, opts...)

	if err := recoverDir(dir); err != nil {
		return nil, err
	}
	if _, err := os.Stat(dir); errors.Is(err, os.ErrNotExist) {
		return idx, nil
	}

	cfgPath := filepath.Join(dir, ConfigFile)
	cfgData, err := os.ReadFile(cfgPath)
	if err != nil {
		return nil, &types.IndexCorruptionError{Path: cfgPath, Reason: "config unreadable", Err: err}
	}
	var cfg Config
	if err := json.Unmarshal(cfgData, &cfg); err != nil {
		return nil, &types.IndexCorruptionError{Path: cfgPath, Reason: "config is not valid JSON", Err: err}
	}
	if cfg.FormatVersion != FormatVersion {
		return nil, &types.IndexCorruptionError{Path: cfgPath, Reason: fmt.Sprintf("unsupported format version %d", cfg.FormatVersion)}
	}
	if cfg.Dimension <= 0 || cfg.ChunkCount < 0 {
		return nil, &types.IndexCorruptionError{Path: cfgPath, Reason: "invalid dimension or chunk count"}
	}

	if cfg.Dimension != emb.Dimension() {
		return nil, &types.DimensionMismatchError{
			Expected: cfg.Dimension,
			Actual:   emb.Dimension(),
			Model:    emb.Model(),
			Op:       "load",
		}
	}
	if cfg.EmbeddingModelID != emb.Model() {
		idx.logger.Warn("index was built with a different embedding model; results may be stale",
			"index_model", cfg.EmbeddingModelID,
			"embedder_model", emb.Model(),
			"dimension", cfg.Dimension)
	}

	vecPath := filepath.Join(dir, VectorsFile)
	blob, err := os.ReadFile(vecPath)
	if err != nil {
		return nil, &types.IndexCorruptionError{Path: vecPath, Reason: "vectors unreadable", Err: err}
	}
	if want := cfg.ChunkCount * cfg.Dimension * 4; len(blob) != want {
		return nil, &types.IndexCorruptionError{
			Path:   vecPath,
			Reason: fmt.Sprintf("vector blob is %d bytes, expected %d", len(blob), want),
		}
	}
	if cfg.Checksum != "" && checksum(blob) != cfg.Checksum {
		return nil, &types.IndexCorruptionError{Path: vecPath, Reason: "checksum mismatch"}
	}

	chunksPath := filepath.Join(dir, ChunksFile)
	chunksData, err := os.ReadFile(chunksPath)
	if err != nil {
		return nil, &types.IndexCorruptionError{Path: chunksPath, Reason: "chunk records unreadable", Err: err}
	}
	var chunks []types.Chunk
	if err := json.Unmarshal(chunksData, &chunks); err != nil {
		return nil, &types.IndexCorruptionError{Path: chunksPath, Reason: "chunk records are not valid JSON", Err: err}
	}
	if len(chunks) != cfg.ChunkCount {
		return nil, &types.IndexCorruptionError{
			Path:   chunksPath,
			Reason: fmt.Sprintf("%d chunk records, config says %d", len(chunks), cfg.ChunkCount),
		}
	}

	positions := make(map[string]int, len(chunks))
	for pos := range chunks {
		if err := chunks[pos].Validate(); err != nil {
			return nil, &types.IndexCorruptionError{Path: chunksPath, Reason: "invalid chunk record", Err: err}
		}
		if _, dup := positions[chunks[pos].ID]; dup {
			return nil, &types.IndexCorruptionError{Path: chunksPath, Reason: "duplicate chunk id " + chunks[pos].ID}
		}
		positions[chunks[pos].ID] = pos
	}

	idx.vectors = decodeVectors(blob)
	idx.chunks = chunks
	idx.positions = positions
	idx.model = cfg.EmbeddingModelID
	idx.createdAt = cfg.CreatedAt
	idx.checksum = cfg.Checksum
	return idx, nil
}

// recoverDir finishes or rolls back an interrupted Commit
func recoverDir(dir string) error {
	backup := dir + backupSuffix
	_, liveErr := os.Stat(dir)
	_, backupErr := os.Stat(backup)

	switch {
	case errors.Is(liveErr, os.ErrNotExist) && backupErr == nil:
		if err := os.Rename(backup, dir); err != nil {
			return fmt.Errorf("failed to restore index backup: %w", err)
		}
	case liveErr == nil && backupErr == nil:
		_ = os.RemoveAll(backup)
	}
	_ = os.RemoveAll(dir + stagingSuffix)
	return nil
}

func encodeVectors(vectors []float32) []byte {
	blob := make([]byte, len(vectors)*4)
	for i, v := range vectors {
		binary.LittleEndian.PutUint32(blob[i*4:], math.Float32bits(v))
	}
	return blob
}

func decodeVectors(blob []byte) []float32 {
	vectors := make([]float32, len(blob)/4)
	for i := range vectors {
		vectors[i] = math.Float32frombits(binary.LittleEndian.Uint32(blob[i*4:]))
	}
	return vectors
}

func checksum(blob []byte) string {
	sum := sha256.Sum256(blob)
	return hex.EncodeToString(sum[:])
}
