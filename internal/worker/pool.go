package worker

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/runlater/core/internal/metrics"
	"github.com/runlater/core/internal/repository"
)

// sizeCheckInterval is how often the pool re-reads the pending queue
// depth and reconciles the live worker count against it.
const sizeCheckInterval = 5 * time.Second

// Pool sizes a set of worker loops to the pending execution queue: it
// periodically counts executions due and waiting, derives a target
// live-worker count clamped to [min, max], and spawns the shortfall.
// It never force-kills a worker to scale down — each Worker.Run exits
// on its own once it has sat idle long enough, so shrinking is simply
// not replacing a worker that has already left.
type Pool struct {
	newWorker func(id string) *Worker
	execs     repository.ExecutionRepository
	min, max  int
	logger    *slog.Logger

	active int64 // atomic count of live worker loops
}

func NewPool(newWorker func(id string) *Worker, execs repository.ExecutionRepository, min, max int, logger *slog.Logger) *Pool {
	if min < 1 {
		min = 1
	}
	if max < min {
		max = min
	}
	return &Pool{
		newWorker: newWorker,
		execs:     execs,
		min:       min,
		max:       max,
		logger:    logger.With("component", "worker_pool"),
	}
}

func (p *Pool) Run(ctx context.Context) {
	hostname, _ := os.Hostname()

	var wg sync.WaitGroup
	spawn := func(n int) {
		for i := 0; i < n; i++ {
			idx := atomic.AddInt64(&p.active, 1)
			metrics.WorkerPoolActive.Set(float64(atomic.LoadInt64(&p.active)))
			id := fmt.Sprintf("%s-%d-%d", hostname, os.Getpid(), idx)
			w := p.newWorker(id)

			wg.Add(1)
			go func() {
				defer wg.Done()
				defer func() {
					metrics.WorkerPoolActive.Set(float64(atomic.AddInt64(&p.active, -1)))
				}()
				w.Run(ctx)
			}()
		}
	}

	spawn(p.min)
	p.logger.Info("worker pool started", "min", p.min, "max", p.max)

	ticker := time.NewTicker(sizeCheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			wg.Wait()
			return
		case <-ticker.C:
			p.reconcile(ctx, spawn)
		}
	}
}

func (p *Pool) reconcile(ctx context.Context, spawn func(n int)) {
	pending, err := p.execs.CountPending(ctx, time.Now().UTC())
	if err != nil {
		p.logger.Error("count pending executions failed", "error", err)
		return
	}

	target := clamp(pending, p.min, p.max)
	live := int(atomic.LoadInt64(&p.active))
	if live < target {
		shortfall := target - live
		spawn(shortfall)
		p.logger.Info("worker pool scaling up", "pending", pending, "live", live, "target", target, "spawned", shortfall)
	}
}

func clamp(n, min, max int) int {
	if n < min {
		return min
	}
	if n > max {
		return max
	}
	return n
}
