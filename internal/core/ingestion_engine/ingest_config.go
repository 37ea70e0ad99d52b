package ingestion_engine

import (
	"context"

	"github.com/markdave123-py/Rehearsal/internal/core"
	"github.com/markdave123-py/Rehearsal/internal/core/logger"
	"github.com/markdave123-py/Rehearsal/internal/models"
)

// IngestConfig tunes the streaming pipeline.
//
// TargetTokens:   approximate tokens per chunk (e.g., 400).
// OverlapTokens:  token overlap between consecutive chunks (e.g., 40).
// BatchSize:      how many chunks to embed/write in one batch (e.g., 32).
// QueueSize:      pending jobs before Enqueue blocks.
type IngestConfig struct {
	TargetTokens  int
	OverlapTokens int
	BatchSize     int
	QueueSize     int
}

func DefaultIngestConfig() *IngestConfig {
	return &IngestConfig{TargetTokens: 400, OverlapTokens: 40, BatchSize: 32, QueueSize: 64}
}

// ProcedureJob is one uploaded procedure whose text is ready for indexing.
type ProcedureJob struct {
	ProcedureID   string
	VectorStoreID string
	Text          string
}

// chunk is the internal representation passed through the pipeline.
//
// Pos:      stable, zero-based position of the chunk inside the document.
// Text:     chunk content (built from one or more fragments).
// TokenCnt: approximate token count (used for batching and overlap math).
type chunk struct {
	Pos      int
	Text     string
	TokenCnt int
}

// ChunkStore is the persistence the pipeline writes to.
type ChunkStore interface {
	InsertReferenceChunks(ctx context.Context, chunks []models.ReferenceChunk) error
}

// ProcedureIngestor orchestrates the background ingestion pipeline:
//
// store:     persistence for reference chunks.
// embedder:  embedding provider (Gemini).
// cfg:       runtime tuning knobs for the pipeline.
// jobs:      in-memory queue of procedures to process.
type ProcedureIngestor struct {
	store    ChunkStore
	embedder core.EmbeddingProvider
	cfg      *IngestConfig
	log      *logger.Logger
	jobs     chan ProcedureJob
}

// DocconvExtractor implements core.DocumentExtractor using sajari/docconv.
type DocconvExtractor struct {
	useReadability bool
}
