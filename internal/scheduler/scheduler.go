// Package scheduler runs the C10 periodic background tasks — PnL
// snapshots, stale-SENT reaping, and ledger/metric pruning — each
// isolated so a panic or error in one never stops the others, per
// spec.md §4.10.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Task is one named periodic job.
type Task struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context) error
}

// Scheduler runs a fixed set of Tasks concurrently, each on its own
// ticker, grounded on the teacher's internal/health.Checker's
// ticker-plus-ctx.Done loop and internal/chain.BlockhashCache's prefetch
// goroutine, generalized from one hardcoded task to an arbitrary list.
type Scheduler struct {
	tasks []Task

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// New builds a scheduler over the given tasks. Nothing runs until Start.
func New(tasks []Task) *Scheduler {
	return &Scheduler{tasks: tasks}
}

// Start launches one goroutine per task. Stop (or ctx cancellation)
// halts all of them.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	for _, task := range s.tasks {
		s.wg.Add(1)
		go s.runTask(ctx, task)
	}
}

// Stop cancels every task's context and waits for them to exit.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

func (s *Scheduler) runTask(ctx context.Context, task Task) {
	defer s.wg.Done()

	ticker := time.NewTicker(task.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runOnce(ctx, task)
		}
	}
}

// runOnce isolates one task invocation: a panic here is logged and
// swallowed so it never brings down the other scheduled tasks or the
// process.
func (s *Scheduler) runOnce(ctx context.Context, task Task) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Str("task", task.Name).Interface("panic", r).Msg("scheduler: task panicked, recovered")
		}
	}()
	if err := task.Run(ctx); err != nil {
		log.Error().Err(err).Str("task", task.Name).Msg("scheduler: task failed")
	}
}
