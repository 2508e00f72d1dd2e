// Package agent runs the periodic capture cycle and drains pending
// uploads at shutdown. The whole cycle lives on one goroutine: capture,
// retention and the batch trigger never race each other.
package agent

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shotlog/shotlog/internal/pending"
	"github.com/shotlog/shotlog/internal/retention"
)

// Recorder captures one screenshot into the day folder under root and
// returns the written path.
type Recorder interface {
	Take(root string, now time.Time) (string, error)
}

// Uploader ships a batch of files and reports which of them are
// confirmed off this machine.
type Uploader interface {
	UploadBatch(ctx context.Context, batch []string) map[string]struct{}
}

// Options carries the loop settings taken from config.
type Options struct {
	Root         string
	Interval     time.Duration
	BatchSize    int
	BudgetMB     float64
	DrainTimeout time.Duration
}

// Agent owns the capture loop state.
type Agent struct {
	root         string
	interval     time.Duration
	batchSize    int
	budgetMB     float64
	drainTimeout time.Duration

	rec   Recorder
	up    Uploader
	queue *pending.Queue
	ret   *retention.Engine
	log   *slog.Logger
}

// New builds an agent. A nil uploader disables batching entirely; the
// agent then only captures and applies retention.
func New(opts Options, rec Recorder, up Uploader, log *slog.Logger) *Agent {
	if opts.Interval <= 0 {
		opts.Interval = 10 * time.Second
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 10
	}
	if opts.DrainTimeout <= 0 {
		opts.DrainTimeout = 5 * time.Minute
	}
	return &Agent{
		root:         opts.Root,
		interval:     opts.Interval,
		batchSize:    opts.BatchSize,
		budgetMB:     opts.BudgetMB,
		drainTimeout: opts.DrainTimeout,
		rec:          rec,
		up:           up,
		queue:        pending.New(),
		ret:          retention.New(log),
		log:          log,
	}
}

// Run recovers the pending set from disk, then captures until ctx is
// canceled and finishes with one unconditional drain batch. It blocks
// for the life of the agent.
func (a *Agent) Run(ctx context.Context) error {
	n, err := a.queue.Scan(a.root)
	if err != nil {
		return fmt.Errorf("recovering pending uploads: %w", err)
	}
	if n > 0 {
		a.log.Info("recovered pending screenshots", "count", n)
	}
	a.log.Info("capture loop started", "folder", a.root, "interval", a.interval)

	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()
	for ctx.Err() == nil {
		a.tick(ctx)
		select {
		case <-ctx.Done():
		case <-ticker.C:
		}
	}

	a.drain()
	a.log.Info("agent stopped")
	return nil
}

// tick is one cycle: capture, enforce retention, maybe upload a batch.
// Failures are logged and the loop keeps going.
func (a *Agent) tick(ctx context.Context) {
	path, err := a.rec.Take(a.root, time.Now())
	if err != nil {
		a.log.Error("screenshot capture failed", "error", err)
	} else {
		a.queue.Append(path)
		a.log.Info("captured screenshot", "file", path)
	}

	a.ret.Enforce(a.root, a.budgetMB, a.queue.Protected())

	if a.up == nil || a.queue.Len() < a.batchSize {
		return
	}
	// The batch size is a trigger threshold, not a cap: once crossed,
	// the dispatch covers everything pending so a backlog from an
	// offline stretch clears in one pass.
	a.queue.Remove(a.up.UploadBatch(ctx, a.queue.Items()))
}

// drain runs the final batch over everything still pending. The run
// context is gone by now, so the drain gets its own deadline.
func (a *Agent) drain() {
	if a.up == nil || a.queue.Len() == 0 {
		return
	}
	a.log.Info("draining pending uploads", "count", a.queue.Len())

	ctx, cancel := context.WithTimeout(context.Background(), a.drainTimeout)
	defer cancel()
	a.queue.Remove(a.up.UploadBatch(ctx, a.queue.Items()))

	if left := a.queue.Len(); left > 0 {
		a.log.Warn("stopping with uploads still pending", "count", left)
	}
}
