package background

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/panjf2000/ants/v2"

	"github.com/markdave123-py/Rehearsal/internal/core/logger"
)

// Task is detached work. Its error goes to the log, never to a caller.
type Task func(ctx context.Context) error

type Runner interface {
	Submit(name string, task Task) bool
}

// Pool runs fire-and-forget tasks on a bounded ants pool. Tasks get their
// own context so they outlive the request that spawned them.
type Pool struct {
	pool    *ants.Pool
	log     *logger.Logger
	timeout time.Duration
}

func NewPool(size int, taskTimeout time.Duration, log *logger.Logger) (*Pool, error) {
	if size <= 0 {
		return nil, errors.New("pool size must be greater than 0")
	}
	if taskTimeout <= 0 {
		taskTimeout = 5 * time.Minute
	}
	p := &Pool{log: log.With("component", "background"), timeout: taskTimeout}
	pool, err := ants.NewPool(size,
		ants.WithNonblocking(true),
		ants.WithPanicHandler(func(v any) {
			p.log.Error("background task panicked", "panic", fmt.Sprint(v))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("create background pool: %w", err)
	}
	p.pool = pool
	return p, nil
}

// Submit schedules task and reports whether it was accepted. A full pool
// drops the task with a warning.
func (p *Pool) Submit(name string, task Task) bool {
	err := p.pool.Submit(func() {
		ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
		defer cancel()

		start := time.Now()
		if err := task(ctx); err != nil {
			p.log.Error("background task failed", "task", name, "error", err, "duration", time.Since(start))
			return
		}
		p.log.Debug("background task done", "task", name, "duration", time.Since(start))
	})
	if err != nil {
		p.log.Warn("background task dropped", "task", name, "error", err)
		return false
	}
	return true
}

// Release stops accepting work and waits up to timeout for running tasks.
func (p *Pool) Release(timeout time.Duration) error {
	return p.pool.ReleaseTimeout(timeout)
}

var _ Runner = (*Pool)(nil)
