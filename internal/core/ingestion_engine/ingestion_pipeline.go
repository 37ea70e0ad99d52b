package ingestion_engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/markdave123-py/Rehearsal/internal/core"
	"github.com/markdave123-py/Rehearsal/internal/core/logger"
	"github.com/markdave123-py/Rehearsal/internal/models"
)

// NewProcedureIngestor constructs the ingestor with a bounded job queue.
func NewProcedureIngestor(store ChunkStore, emb core.EmbeddingProvider, cfg *IngestConfig, log *logger.Logger) *ProcedureIngestor {
	if cfg == nil {
		cfg = DefaultIngestConfig()
	}
	return &ProcedureIngestor{
		store:    store,
		embedder: emb,
		cfg:      cfg,
		log:      log.With("component", "procedure_ingestor"),
		jobs:     make(chan ProcedureJob, cfg.QueueSize),
	}
}

// Start runs numWorkers goroutines reading from the jobs channel until ctx ends.
func (i *ProcedureIngestor) Start(ctx context.Context, numWorkers int) {
	for w := 1; w <= numWorkers; w++ {
		go func(w int) {
			for {
				select {
				case <-ctx.Done():
					i.log.Debug("ingest worker shutting down", "worker", w)
					return
				case job := <-i.jobs:
					i.log.Info("ingesting procedure", "procedure_id", job.ProcedureID, "worker", w)
					if err := i.processOne(ctx, job); err != nil {
						i.log.Error("procedure ingestion failed", "procedure_id", job.ProcedureID, "error", err)
					}
				}
			}
		}(w)
	}
}

// Enqueue schedules a procedure for ingestion, blocking while the queue is full.
func (i *ProcedureIngestor) Enqueue(ctx context.Context, job ProcedureJob) error {
	select {
	case i.jobs <- job:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// processOne chunks, embeds and persists a single procedure.
func (i *ProcedureIngestor) processOne(ctx context.Context, job ProcedureJob) error {
	proctx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()

	g, gctx := errgroup.WithContext(proctx)

	// text -> fragments
	fragCh := streamFragments(gctx, g, job.Text)

	// fragments -> chunks
	chunkCh := i.streamChunk(gctx, g, fragCh, i.cfg.TargetTokens, i.cfg.OverlapTokens)

	// chunks -> embed + persist
	g.Go(func() error {
		return i.embedAndPersist(gctx, job, chunkCh, i.cfg.BatchSize)
	})

	return g.Wait()
}

// embedAndPersist consumes chunks, embeds them in batches, and writes them.
func (i *ProcedureIngestor) embedAndPersist(ctx context.Context, job ProcedureJob, in <-chan chunk, batchSize int) error {
	if batchSize <= 0 {
		batchSize = 32
	}
	batch := make([]chunk, 0, batchSize)

	flush := func(items []chunk) error {
		if len(items) == 0 {
			return nil
		}

		texts := make([]string, len(items))
		for idx := range items {
			texts[idx] = items[idx].Text
		}

		vecs, err := i.embedder.EmbedTexts(ctx, texts)
		if err != nil {
			return fmt.Errorf("embed: %w", err)
		}
		if len(vecs) != len(items) {
			return fmt.Errorf("embed size mismatch: got %d want %d", len(vecs), len(items))
		}

		rows := make([]models.ReferenceChunk, len(items))
		for k := range items {
			rows[k] = models.ReferenceChunk{
				ID:            uuid.NewString(),
				VectorStoreID: job.VectorStoreID,
				ProcedureID:   job.ProcedureID,
				Text:          items[k].Text,
				Embedding:     vecs[k],
				Position:      items[k].Pos,
				TokenCount:    items[k].TokenCnt,
			}
		}
		if err := i.store.InsertReferenceChunks(ctx, rows); err != nil {
			return fmt.Errorf("insert chunks: %w", err)
		}
		return nil
	}

	for c := range in {
		batch = append(batch, c)
		if len(batch) == batchSize {
			if err := flush(batch); err != nil {
				return err
			}
			batch = batch[:0]
		}
	}
	return flush(batch)
}
