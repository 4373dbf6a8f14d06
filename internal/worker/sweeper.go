// Package worker runs the periodic cleanup of idle sessions and spent
// one-time tokens.
package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var sweptTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "auth_sweeper_deleted_total",
		Help: "Rows removed by the background sweeper, by task.",
	},
	[]string{"task"},
)

// Task deletes stale rows and reports how many were removed.
type Task struct {
	Name  string
	Sweep func(ctx context.Context) (int64, error)
}

// Sweeper runs its tasks once at start and then every interval.
type Sweeper struct {
	tasks    []Task
	interval time.Duration
	timeout  time.Duration
	logger   *slog.Logger
}

// NewSweeper creates a sweeper. Each pass of a task is bounded by half the
// interval.
func NewSweeper(interval time.Duration, logger *slog.Logger, tasks ...Task) *Sweeper {
	return &Sweeper{
		tasks:    tasks,
		interval: interval,
		timeout:  interval / 2,
		logger:   logger,
	}
}

// Run blocks until ctx is cancelled. It always returns nil so it can sit in
// an errgroup next to the HTTP server.
func (s *Sweeper) Run(ctx context.Context) error {
	s.logger.InfoContext(ctx, "sweeper started",
		slog.Duration("interval", s.interval),
		slog.Int("tasks", len(s.tasks)),
	)
	s.SweepOnce(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("sweeper stopped")
			return nil
		case <-ticker.C:
			s.SweepOnce(ctx)
		}
	}
}

// SweepOnce runs every task once. A failing task is logged and does not
// stop the others.
func (s *Sweeper) SweepOnce(ctx context.Context) {
	for _, task := range s.tasks {
		if ctx.Err() != nil {
			return
		}
		s.run(ctx, task)
	}
}

func (s *Sweeper) run(ctx context.Context, task Task) {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	n, err := task.Sweep(ctx)
	if err != nil {
		s.logger.ErrorContext(ctx, "sweep failed",
			slog.String("task", task.Name),
			slog.String("error", err.Error()),
		)
		return
	}
	if n > 0 {
		sweptTotal.WithLabelValues(task.Name).Add(float64(n))
		s.logger.InfoContext(ctx, "sweep completed",
			slog.String("task", task.Name),
			slog.Int64("deleted", n),
		)
	}
}
