// Package sched runs periodic background jobs.
package sched

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Expirer moves elapsed Pending transactions to Expired.
type Expirer interface {
	ExpirePending(ctx context.Context) (int, error)
}

// Sweeper drops idle in-process state (the memory rate limiter).
type Sweeper interface {
	Sweep() int
}

// ExpiryWorker periodically expires stale Pending transactions and sweeps
// idle limiter entries.
type ExpiryWorker struct {
	interval time.Duration
	expirer  Expirer
	sweepers []Sweeper
	log      *zap.Logger
}

func NewExpiryWorker(interval time.Duration, expirer Expirer, log *zap.Logger, sweepers ...Sweeper) *ExpiryWorker {
	if log == nil {
		log = zap.NewNop()
	}
	return &ExpiryWorker{
		interval: interval,
		expirer:  expirer,
		sweepers: sweepers,
		log:      log.Named("expiry_worker"),
	}
}

// Run blocks until ctx is done. It returns nil on cancellation so it can sit
// in an errgroup next to the servers.
func (w *ExpiryWorker) Run(ctx context.Context) error {
	w.log.Info("starting expiry worker", zap.Duration("interval", w.interval))
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info("stopping expiry worker")
			return nil
		case <-ticker.C:
			w.tick(ctx)
		}
	}
}

func (w *ExpiryWorker) tick(ctx context.Context) {
	n, err := w.expirer.ExpirePending(ctx)
	if err != nil && ctx.Err() == nil {
		w.log.Error("expiry worker error", zap.Error(err))
	}
	if n > 0 {
		w.log.Info("expired pending transactions", zap.Int("count", n))
	}
	for _, s := range w.sweepers {
		if dropped := s.Sweep(); dropped > 0 {
			w.log.Debug("swept idle limiter entries", zap.Int("count", dropped))
		}
	}
}
