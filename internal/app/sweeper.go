/**
 * @description
 * Cron scheduler for the charge expiration sweep. The sweep runs with a fixed
 * delay: the next run is scheduled one interval after the previous one finished.
 */
package app

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// ChargeExpirer expires overdue charges.
type ChargeExpirer interface {
	ExpireOverdueCharges(ctx context.Context) (int, error)
}

// fixedDelay fires once, d after the moment the entry is scheduled.
type fixedDelay time.Duration

func (d fixedDelay) Next(t time.Time) time.Time {
	return t.Add(time.Duration(d))
}

// ExpirationSweeper runs the expiration sweep periodically. Runs never overlap,
// and each run re-arms the schedule when it finishes.
type ExpirationSweeper struct {
	cron     *cron.Cron
	expirer  ChargeExpirer
	logger   *slog.Logger
	interval time.Duration

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	entryID cron.EntryID
	stopped bool
}

// NewExpirationSweeper creates a new sweeper instance.
func NewExpirationSweeper(expirer ChargeExpirer, logger *slog.Logger, interval time.Duration) *ExpirationSweeper {
	cronLogger := cron.PrintfLogger(slog.NewLogLogger(logger.Handler(), slog.LevelInfo))
	c := cron.New(cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)))
	ctx, cancel := context.WithCancel(context.Background())

	return &ExpirationSweeper{
		cron:     c,
		expirer:  expirer,
		logger:   logger,
		interval: interval,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// RunOnce performs a single sweep. The sweep is cancelled by Stop, not by a deadline.
func (s *ExpirationSweeper) RunOnce() {
	started := time.Now()
	count, err := s.expirer.ExpireOverdueCharges(s.ctx)
	if err != nil {
		s.logger.Error("expiration sweep failed", "error", err, "expired", count)
		return
	}
	if count > 0 {
		s.logger.Info("expired overdue charges", "count", count, "duration", time.Since(started))
	}
}

func (s *ExpirationSweeper) run() {
	defer s.rearm()
	s.RunOnce()
}

// rearm replaces the finished entry with one due an interval from now.
func (s *ExpirationSweeper) rearm() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	s.cron.Remove(s.entryID)
	s.entryID = s.cron.Schedule(fixedDelay(s.interval), cron.FuncJob(s.run))
}

// Start schedules the first sweep one interval from now and starts the cron scheduler.
func (s *ExpirationSweeper) Start() error {
	s.mu.Lock()
	s.entryID = s.cron.Schedule(fixedDelay(s.interval), cron.FuncJob(s.run))
	s.mu.Unlock()

	s.logger.Info("scheduled expiration sweep", "delay", s.interval.String())
	s.cron.Start()
	return nil
}

// Stop stops the scheduler and cancels a running sweep; the returned context is
// done once that sweep returns.
func (s *ExpirationSweeper) Stop() context.Context {
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()

	s.cancel()
	return s.cron.Stop()
}
