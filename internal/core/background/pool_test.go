package background

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/markdave123-py/Rehearsal/internal/core/logger"
)

func TestSubmitRunsDetachedAndLogsFailures(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	p, err := NewPool(2, time.Second, logger.Wrap(zap.New(core)))
	require.NoError(t, err)

	var (
		ran      atomic.Int32
		deadline atomic.Bool
	)
	ok := p.Submit("analysis", func(ctx context.Context) error {
		_, hasDeadline := ctx.Deadline()
		deadline.Store(hasDeadline && ctx.Err() == nil)
		ran.Add(1)
		return errors.New("model unavailable")
	})
	require.True(t, ok)

	require.NoError(t, p.Release(2*time.Second))
	assert.EqualValues(t, 1, ran.Load())
	assert.True(t, deadline.Load(), "tasks run under their own bounded context")
	assert.Equal(t, 1, logs.FilterMessage("background task failed").Len())
}

func TestPanicsAreContained(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	p, err := NewPool(1, time.Second, logger.Wrap(zap.New(core)))
	require.NoError(t, err)

	require.True(t, p.Submit("boom", func(context.Context) error { panic("bad input") }))
	require.NoError(t, p.Release(2*time.Second))
	assert.Equal(t, 1, logs.FilterMessage("background task panicked").Len())
}

func TestFullPoolDropsTask(t *testing.T) {
	p, err := NewPool(1, time.Second, logger.NewNop())
	require.NoError(t, err)

	release := make(chan struct{})
	started := make(chan struct{})
	require.True(t, p.Submit("slow", func(context.Context) error {
		close(started)
		<-release
		return nil
	}))
	<-started

	assert.False(t, p.Submit("extra", func(context.Context) error { return nil }))
	close(release)
	require.NoError(t, p.Release(2*time.Second))
}
