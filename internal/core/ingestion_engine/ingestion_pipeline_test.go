package ingestion_engine

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/markdave123-py/Rehearsal/internal/core/logger"
	"github.com/markdave123-py/Rehearsal/internal/models"
)

type fakeEmbedder struct{ err error }

func (f fakeEmbedder) EmbedTexts(_ context.Context, texts []string) ([][]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = []float32{float32(len(t))}
	}
	return out, nil
}

type memoryStore struct {
	mu     sync.Mutex
	chunks []models.ReferenceChunk
}

func (m *memoryStore) InsertReferenceChunks(_ context.Context, chunks []models.ReferenceChunk) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.chunks = append(m.chunks, chunks...)
	return nil
}

func (m *memoryStore) snapshot() []models.ReferenceChunk {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.ReferenceChunk(nil), m.chunks...)
}

func procedureText(lines int) string {
	var b strings.Builder
	for i := 0; i < lines; i++ {
		b.WriteString("Step: ask directly about thoughts of suicide and listen.\n\n")
	}
	return b.String()
}

func TestProcessOneChunksEmbedsAndStores(t *testing.T) {
	store := &memoryStore{}
	cfg := &IngestConfig{TargetTokens: 40, OverlapTokens: 10, BatchSize: 2, QueueSize: 1}
	ing := NewProcedureIngestor(store, fakeEmbedder{}, cfg, logger.NewNop())

	job := ProcedureJob{ProcedureID: "p1", VectorStoreID: "vs1", Text: procedureText(12)}
	require.NoError(t, ing.processOne(context.Background(), job))

	chunks := store.snapshot()
	require.NotEmpty(t, chunks)
	for idx, ch := range chunks {
		assert.Equal(t, idx, ch.Position)
		assert.Equal(t, "vs1", ch.VectorStoreID)
		assert.Equal(t, "p1", ch.ProcedureID)
		assert.NotEmpty(t, ch.Embedding)
		assert.NotContains(t, ch.Text, "\n\n")
	}
}

func TestProcessOneSurfacesEmbedFailure(t *testing.T) {
	store := &memoryStore{}
	ing := NewProcedureIngestor(store, fakeEmbedder{err: errors.New("quota")}, nil, logger.NewNop())

	err := ing.processOne(context.Background(), ProcedureJob{ProcedureID: "p1", VectorStoreID: "vs1", Text: procedureText(3)})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "quota")
	assert.Empty(t, store.snapshot())
}

func TestWorkersDrainQueue(t *testing.T) {
	store := &memoryStore{}
	ing := NewProcedureIngestor(store, fakeEmbedder{}, nil, logger.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ing.Start(ctx, 2)

	require.NoError(t, ing.Enqueue(ctx, ProcedureJob{ProcedureID: "p1", VectorStoreID: "vs1", Text: "Call back within 24 hours."}))
	assert.Eventually(t, func() bool { return len(store.snapshot()) == 1 }, 2*time.Second, 10*time.Millisecond)
}

func TestStreamChunkOverlapsWithoutTrailingDuplicate(t *testing.T) {
	ing := NewProcedureIngestor(&memoryStore{}, fakeEmbedder{}, nil, logger.NewNop())
	lines := []string{strings.Repeat("a", 100), strings.Repeat("b", 100), strings.Repeat("c", 100), strings.Repeat("d", 100)}

	frags := make(chan string, len(lines))
	for _, l := range lines {
		frags <- l
	}
	close(frags)

	var got []chunk
	g, ctx := errgroupFor(t)
	for ch := range ing.streamChunk(ctx, g, frags, 50, 20) {
		got = append(got, ch)
	}
	require.NoError(t, g.Wait())
	require.Len(t, got, 3)
	assert.Equal(t, lines[0]+"\n"+lines[1], got[0].Text)
	assert.Equal(t, lines[1]+"\n"+lines[2], got[1].Text)
	assert.Equal(t, lines[2]+"\n"+lines[3], got[2].Text)
	assert.Equal(t, 2, got[2].Pos)
}
