// Package scheduler runs the periodic session maintenance: a daily refresh
// and an hourly health check.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/whatsapp-automation/bulksender/internal/browser"
	"github.com/whatsapp-automation/bulksender/internal/logx"
)

// Browser is the part of the session manager the scheduler drives.
type Browser interface {
	Refresh(ctx context.Context) (bool, error)
	Healthy(ctx context.Context) bool
	NeedsRefresh(now time.Time) bool
	NextRefresh() time.Time
}

// Jobs reports whether bulk jobs are running.
type Jobs interface {
	ActiveCount() int
}

// Options configure the schedules.
type Options struct {
	RefreshSpec string
	HealthSpec  string
	Location    *time.Location
	// Timeout bounds one maintenance run.
	Timeout time.Duration
}

// Scheduler owns the cron loop.
type Scheduler struct {
	c       *cron.Cron
	browser Browser
	jobs    Jobs
	timeout time.Duration
	log     zerolog.Logger
	now     func() time.Time
}

var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// New validates the schedules and registers both jobs. Call Start to run them.
func New(b Browser, jobs Jobs, opts Options, log zerolog.Logger) (*Scheduler, error) {
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Minute
	}
	clog := logx.CronLogger{L: log}
	s := &Scheduler{
		c: cron.New(
			cron.WithParser(parser),
			cron.WithLocation(opts.Location),
			cron.WithLogger(clog),
			cron.WithChain(cron.Recover(clog), cron.SkipIfStillRunning(clog)),
		),
		browser: b,
		jobs:    jobs,
		timeout: opts.Timeout,
		log:     log,
		now:     time.Now,
	}

	if _, err := s.c.AddFunc(opts.RefreshSpec, s.wrap(s.dailyRefresh)); err != nil {
		return nil, fmt.Errorf("invalid refresh schedule %q: %w", opts.RefreshSpec, err)
	}
	if _, err := s.c.AddFunc(opts.HealthSpec, s.wrap(s.healthCheck)); err != nil {
		return nil, fmt.Errorf("invalid health schedule %q: %w", opts.HealthSpec, err)
	}
	return s, nil
}

// Start runs the schedules in the background.
func (s *Scheduler) Start() {
	s.c.Start()
	s.log.Info().Int("entries", len(s.c.Entries())).Msg("scheduler started")
}

// Stop halts the schedules and waits for a running job, bounded by ctx.
func (s *Scheduler) Stop(ctx context.Context) {
	select {
	case <-s.c.Stop().Done():
	case <-ctx.Done():
		s.log.Warn().Msg("scheduler stop timed out with a job still running")
	}
}

func (s *Scheduler) wrap(fn func(ctx context.Context)) func() {
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		defer cancel()
		fn(ctx)
	}
}

func (s *Scheduler) dailyRefresh(ctx context.Context) {
	if n := s.jobs.ActiveCount(); n > 0 {
		s.log.Info().Int("active_jobs", n).Msg("skipping scheduled refresh while jobs are running")
		return
	}
	s.refresh(ctx, "daily")
}

func (s *Scheduler) healthCheck(ctx context.Context) {
	healthy := s.browser.Healthy(ctx)
	due := s.browser.NeedsRefresh(s.now())

	if !healthy || due {
		if n := s.jobs.ActiveCount(); n > 0 {
			s.log.Info().Bool("healthy", healthy).Int("active_jobs", n).Msg("refresh due; deferred until jobs finish")
			return
		}
		reason := "interval"
		if !healthy {
			reason = "unhealthy"
		}
		s.refresh(ctx, reason)
		return
	}
	s.log.Info().
		Str("next_refresh", humanize.RelTime(s.now(), s.browser.NextRefresh(), "from now", "ago")).
		Msg("session healthy")
}

func (s *Scheduler) refresh(ctx context.Context, reason string) {
	s.log.Info().Str("reason", reason).Msg("scheduled refresh")
	ok, err := s.browser.Refresh(ctx)
	switch {
	case errors.Is(err, browser.ErrRefreshInProgress):
		s.log.Info().Msg("refresh already in progress")
	case err != nil:
		s.log.Error().Err(err).Msg("scheduled refresh failed")
	case !ok:
		s.log.Warn().Msg("scheduled refresh could not restore the session")
	}
}
