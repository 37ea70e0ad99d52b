package db

import (
	"context"
	"database/sql"
	"time"

	"github.com/pgvector/pgvector-go"

	"github.com/markdave123-py/Rehearsal/internal/models"
)

// Implementing the db interface for reference chunks (pgvector)

// InsertReferenceChunks inserts chunks in a single transaction.
func (c *DatabaseClient) InsertReferenceChunks(ctx context.Context, chunks []models.ReferenceChunk) error {
	if c.driver != DriverPostgres || c.embedDim == 0 {
		return ErrRetrievalUnsupported
	}
	if len(chunks) == 0 {
		return nil
	}
	now := time.Now().UTC()
	return c.inTx(ctx, func(tx *sql.Tx) error {
		const q = `
			INSERT INTO reference_chunks
				(id, vector_store_id, procedure_id, position, text, embedding, token_count, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		`
		stmt, err := tx.PrepareContext(ctx, q)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for i := range chunks {
			ch := &chunks[i]
			if ch.CreatedAt.IsZero() {
				ch.CreatedAt = now
			}
			vec := pgvector.NewVector(ch.Embedding)
			if _, err := stmt.ExecContext(ctx,
				ch.ID, ch.VectorStoreID, ch.ProcedureID, ch.Position, ch.Text, vec, ch.TokenCount, ch.CreatedAt,
			); err != nil {
				return err
			}
		}
		return nil
	})
}

// SearchReferenceChunks finds the top-k chunks of a vector store closest to
// the query embedding.
func (c *DatabaseClient) SearchReferenceChunks(ctx context.Context, vectorStoreID string, queryVec []float32, limit int) ([]models.ReferenceChunk, error) {
	if c.driver != DriverPostgres || c.embedDim == 0 {
		return nil, ErrRetrievalUnsupported
	}
	const q = `
		SELECT id, vector_store_id, procedure_id, position, text, embedding, token_count, created_at
		FROM reference_chunks
		WHERE vector_store_id = $1
		ORDER BY embedding <-> $2
		LIMIT $3
	`
	vec := pgvector.NewVector(queryVec)
	rows, err := c.db.QueryContext(ctx, q, vectorStoreID, vec, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.ReferenceChunk
	for rows.Next() {
		var (
			ch  models.ReferenceChunk
			emb pgvector.Vector
		)
		if err := rows.Scan(&ch.ID, &ch.VectorStoreID, &ch.ProcedureID, &ch.Position, &ch.Text, &emb,
			&ch.TokenCount, &ch.CreatedAt); err != nil {
			return nil, err
		}
		ch.Embedding = emb.Slice()
		out = append(out, ch)
	}
	return out, rows.Err()
}
