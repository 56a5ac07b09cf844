// Package worker runs background maintenance for the auth store.
package worker

import (
	"context"
	"time"

	"github.com/accountgraph/server/internal/logging"
)

// Expirer deletes rows past their expiry and reports how many went away
type Expirer func(ctx context.Context) (int64, error)

// Task is one named cleanup step
type Task struct {
	Name string
	Run  Expirer
}

// Sweeper periodically deletes expired nonces, tokens, sessions, codes and challenges.
// A failing task is logged and the rest still run.
type Sweeper struct {
	tasks    []Task
	interval time.Duration
	log      logging.Logger
}

func NewSweeper(interval time.Duration, log logging.Logger, tasks ...Task) *Sweeper {
	return &Sweeper{tasks: tasks, interval: interval, log: log}
}

// Start sweeps every interval until ctx is cancelled. The returned channel closes when the
// loop has exited.
func (s *Sweeper) Start(ctx context.Context) <-chan struct{} {
	done := make(chan struct{})
	if s.interval <= 0 {
		close(done)
		return done
	}
	go func() {
		defer close(done)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.Sweep(ctx)
			}
		}
	}()
	return done
}

// Sweep runs every task once
func (s *Sweeper) Sweep(ctx context.Context) {
	for _, t := range s.tasks {
		n, err := t.Run(ctx)
		if err != nil {
			s.log.Error(ctx, "sweep failed", "task", t.Name, "error", err)
			continue
		}
		if n > 0 {
			s.log.Debug(ctx, "swept expired rows", "task", t.Name, "deleted", n)
		}
	}
}
