// Package jobs runs periodic cache maintenance
package jobs

import (
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/briangreenhill/productcache/cache"
)

// Maintainer is the part of the cache the jobs act on
type Maintainer interface {
	Collect() int
	Invalidate(match cache.Predicate) []cache.Key
}

// Scheduler wraps a cron runner with the cache tasks registered on it
type Scheduler struct {
	cron   *cron.Cron
	cache  Maintainer
	logger zerolog.Logger
}

func NewScheduler(c Maintainer, logger zerolog.Logger) *Scheduler {
	return &Scheduler{
		cron:   cron.New(cron.WithChain(cron.Recover(cron.DefaultLogger))),
		cache:  c,
		logger: logger,
	}
}

// Collect schedules removal of entries unused for longer than the cache's
// gc time
func (s *Scheduler) Collect(spec string) error {
	return s.add(TaskCollect, spec, func() {
		n := s.cache.Collect()
		s.logger.Debug().Str("task", TaskCollect).Int("evicted", n).Msg("cache collected")
	})
}

// InvalidateLists schedules marking every list of collection stale, so
// the next read of each list refetches it
func (s *Scheduler) InvalidateLists(spec, collection string) error {
	return s.add(TaskStaleLists, spec, func() {
		keys := s.cache.Invalidate(cache.Lists(collection))
		s.logger.Debug().Str("task", TaskStaleLists).Int("keys", len(keys)).Msg("lists invalidated")
	})
}

func (s *Scheduler) add(task, spec string, fn func()) error {
	if _, err := s.cron.AddFunc(spec, fn); err != nil {
		return err
	}
	s.logger.Info().Str("task", task).Str("schedule", spec).Msg("job scheduled")
	return nil
}

func (s *Scheduler) Start() { s.cron.Start() }

// Stop halts the schedule and waits up to timeout for running jobs
func (s *Scheduler) Stop(timeout time.Duration) {
	ctx := s.cron.Stop()
	select {
	case <-ctx.Done():
	case <-time.After(timeout):
		s.logger.Warn().Msg("cache jobs still running at shutdown")
	}
}
