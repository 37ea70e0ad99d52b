package ingestion_engine

import (
	"context"
	"testing"

	"golang.org/x/sync/errgroup"
)

func errgroupFor(t *testing.T) (*errgroup.Group, context.Context) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return errgroup.WithContext(ctx)
}
