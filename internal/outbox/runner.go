package outbox

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Runner drives a Relay on a fixed interval, detached from request work.
type Runner struct {
	relay    *Relay
	interval time.Duration
	log      *zap.SugaredLogger

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewRunner(relay *Relay, log *zap.SugaredLogger) *Runner {
	return &Runner{relay: relay, interval: relay.cfg.Interval, log: log}
}

// Run polls until ctx is done. The first batch runs immediately.
func (r *Runner) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.log.Infow("outbox relay started", "interval", r.interval, "batch", r.relay.cfg.BatchSize)
	for {
		r.tick(ctx)
		select {
		case <-ctx.Done():
			r.log.Info("outbox relay stopped")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (r *Runner) tick(ctx context.Context) {
	res, err := r.relay.ProcessBatch(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		r.log.Errorw("outbox batch", "error", err)
	}
	if res.Processed > 0 || res.Failed > 0 {
		r.log.Infow("outbox batch", "processed", res.Processed, "failed", res.Failed, "remaining", res.Remaining)
	}
}

// Start runs the relay on its own goroutine until Stop or ctx cancellation.
func (r *Runner) Start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel != nil {
		return
	}
	ctx, r.cancel = context.WithCancel(ctx)
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		_ = r.Run(ctx)
	}()
}

// Stop cancels the loop and waits for the in-flight batch to return.
func (r *Runner) Stop() {
	r.mu.Lock()
	cancel := r.cancel
	r.cancel = nil
	r.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	r.wg.Wait()
}
