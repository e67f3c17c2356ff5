// Package maintenance runs the periodic jobs that keep the key pool healthy:
// persisting snapshots, closing usage windows, and reinstating keys whose
// cooldown has elapsed.
//
// Each job is an independent cron entry. Jobs share nothing except the key
// store and aggregate limiter, and a failing job only logs and waits for its
// next tick.
package maintenance

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/fulmenhq/gofulmen/logging"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/keyrotor/keyrotor/internal/core"
	"github.com/keyrotor/keyrotor/internal/core/engine"
	"github.com/keyrotor/keyrotor/internal/core/keystore"
	"github.com/keyrotor/keyrotor/internal/metrics"
)

// Job names, also used as metric labels.
const (
	JobPersistSnapshot  = "persist_snapshot"
	JobResetMinuteUsage = "reset_minute_usage"
	JobResetDayUsage    = "reset_day_usage"
	JobReinstateKeys    = "reinstate_cooled_down"
	JobResetAggregate   = "reset_aggregate"
)

// Persister durably writes a full snapshot of the pool.
type Persister interface {
	Save(ctx context.Context, records []core.KeyRecord) error
}

// Intervals configures how often each job runs.
type Intervals struct {
	Persist        time.Duration
	MinuteReset    time.Duration
	DayReset       time.Duration
	Cooldown       time.Duration
	AggregateReset time.Duration
}

// DefaultIntervals returns the standard job cadence.
func DefaultIntervals() Intervals {
	return Intervals{
		Persist:        15 * time.Second,
		MinuteReset:    time.Minute,
		DayReset:       24 * time.Hour,
		Cooldown:       time.Minute,
		AggregateReset: time.Minute,
	}
}

func (i Intervals) withDefaults() Intervals {
	d := DefaultIntervals()
	if i.Persist <= 0 {
		i.Persist = d.Persist
	}
	if i.MinuteReset <= 0 {
		i.MinuteReset = d.MinuteReset
	}
	if i.DayReset <= 0 {
		i.DayReset = d.DayReset
	}
	if i.Cooldown <= 0 {
		i.Cooldown = d.Cooldown
	}
	if i.AggregateReset <= 0 {
		i.AggregateReset = d.AggregateReset
	}
	return i
}

// Options wires a Scheduler.
type Options struct {
	Keys      *keystore.Store
	Limiter   *engine.AggregateLimiter
	Persister Persister

	// KeyCooldown is how long a deactivated key stays retired.
	KeyCooldown time.Duration
	Intervals   Intervals
	Clock       func() time.Time
	Logger      *logging.Logger
}

// Scheduler owns the cron runner and the job bodies.
type Scheduler struct {
	keys      *keystore.Store
	limiter   *engine.AggregateLimiter
	persister Persister
	cooldown  time.Duration
	intervals Intervals
	clock     func() time.Time
	logger    *logging.Logger

	mu      sync.Mutex
	cron    *cron.Cron
	ctx     context.Context
	cancel  context.CancelFunc
	started bool
}

// New builds a scheduler. It does nothing until Start.
func New(opts Options) *Scheduler {
	return &Scheduler{
		keys:      opts.Keys,
		limiter:   opts.Limiter,
		persister: opts.Persister,
		cooldown:  opts.KeyCooldown,
		intervals: opts.Intervals.withDefaults(),
		clock:     opts.Clock,
		logger:    opts.Logger,
	}
}

// Start registers every job and begins ticking.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return errors.New("maintenance scheduler already started")
	}
	if s.keys == nil {
		return errors.New("maintenance scheduler requires a key store")
	}

	log := cronLogger{logger: s.logger}
	s.cron = cron.New(
		cron.WithLogger(log),
		cron.WithChain(cron.Recover(log), cron.SkipIfStillRunning(log)),
	)
	s.ctx, s.cancel = context.WithCancel(context.Background())

	jobs := []struct {
		name  string
		every time.Duration
		run   func()
	}{
		{JobPersistSnapshot, s.intervals.Persist, func() { _ = s.PersistSnapshot(s.ctx) }},
		{JobResetMinuteUsage, s.intervals.MinuteReset, func() { s.ResetMinuteUsage() }},
		{JobResetDayUsage, s.intervals.DayReset, func() { s.ResetDayUsage() }},
		{JobReinstateKeys, s.intervals.Cooldown, func() { s.ReinstateCooledDown() }},
		{JobResetAggregate, s.intervals.AggregateReset, s.ResetAggregate},
	}
	for _, job := range jobs {
		s.cron.Schedule(cron.Every(job.every), cron.FuncJob(job.run))
		s.info("Scheduled maintenance job",
			zap.String("job", job.name),
			zap.Duration("interval", job.every))
	}

	s.cron.Start()
	s.started = true
	return nil
}

// Stop halts scheduling and waits for running jobs until ctx expires. A job
// still running at that point has its context cancelled; record mutations it
// already applied stay intact.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = false
	done := s.cron.Stop()
	cancel := s.cancel
	s.mu.Unlock()

	defer cancel()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Entries returns the number of registered jobs.
func (s *Scheduler) Entries() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron == nil {
		return 0
	}
	return len(s.cron.Entries())
}

// PersistSnapshot writes the current pool through the persister.
// Failures are logged and counted; the next tick retries.
func (s *Scheduler) PersistSnapshot(ctx context.Context) error {
	if s.persister == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}

	ctx, cancel := context.WithTimeout(ctx, s.intervals.Persist)
	defer cancel()

	records := s.keys.Snapshot()
	core.SortRecords(records)
	start := time.Now()
	err := s.persister.Save(ctx, records)
	metrics.RecordPersist(err == nil, time.Since(start))
	metrics.RecordMaintenanceRun(JobPersistSnapshot, err == nil, len(records))
	if err != nil {
		s.error("Failed to persist key snapshot",
			zap.Int("keys", len(records)),
			zap.Error(err))
		return err
	}

	s.debug("Persisted key snapshot", zap.Int("keys", len(records)))
	return nil
}

// ResetMinuteUsage zeroes every per-minute counter and returns how many were non-zero.
func (s *Scheduler) ResetMinuteUsage() int {
	changed := s.keys.MutateAll(func(r *core.KeyRecord) bool {
		was := r.Usage.RequestsThisMinute
		r.Usage.RequestsThisMinute = 0
		return was != 0
	})
	metrics.RecordMaintenanceRun(JobResetMinuteUsage, true, changed)
	s.debug("Reset minute usage", zap.Int("keys_changed", changed))
	return changed
}

// ResetDayUsage zeroes every per-day counter and returns how many were non-zero.
func (s *Scheduler) ResetDayUsage() int {
	changed := s.keys.MutateAll(func(r *core.KeyRecord) bool {
		was := r.Usage.RequestsThisDay
		r.Usage.RequestsThisDay = 0
		return was != 0
	})
	metrics.RecordMaintenanceRun(JobResetDayUsage, true, changed)
	s.info("Reset day usage", zap.Int("keys_changed", changed))
	return changed
}

// ReinstateCooledDown reactivates Inactive keys retired for longer than the
// cooldown and returns how many were reinstated.
func (s *Scheduler) ReinstateCooledDown() int {
	now := s.now()
	reinstated := s.keys.MutateAll(func(r *core.KeyRecord) bool {
		if !r.CooldownExpired(s.cooldown, now) {
			return false
		}
		r.Reactivate()
		return true
	})
	metrics.RecordMaintenanceRun(JobReinstateKeys, true, reinstated)
	if reinstated > 0 {
		s.info("Reinstated cooled-down keys", zap.Int("keys", reinstated))
	}
	return reinstated
}

// ResetAggregate opens a new pool-wide minute window.
func (s *Scheduler) ResetAggregate() {
	previous := s.limiter.Current()
	s.limiter.Reset()
	metrics.RecordMaintenanceRun(JobResetAggregate, true, 0)
	metrics.SetAggregateUsage(0, s.limiter.Limit())
	s.debug("Reset aggregate counter", zap.Int64("previous", previous))
}

func (s *Scheduler) now() time.Time {
	if s.clock != nil {
		return s.clock()
	}
	return time.Now().UTC()
}

func (s *Scheduler) debug(msg string, fields ...zap.Field) {
	if s.logger != nil {
		s.logger.Debug(msg, fields...)
	}
}

func (s *Scheduler) info(msg string, fields ...zap.Field) {
	if s.logger != nil {
		s.logger.Info(msg, fields...)
	}
}

func (s *Scheduler) error(msg string, fields ...zap.Field) {
	if s.logger != nil {
		s.logger.Error(msg, fields...)
	}
}
