// Package refresh runs the periodic jobs around the controller: refetching
// the available-disk set once a notification marked it stale, and timing
// out bridge requests nobody answered.
package refresh

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"nithronos/nosvol/internal/reconcile"
)

// Loop is the part of reconcile.Loop the scheduler drives.
type Loop interface {
	Do(ctx context.Context, name string, fn func(*reconcile.Controller) error) (reconcile.Result, error)
	Read(ctx context.Context, fn func(*reconcile.Controller) error) error
	Dispatch(ctx context.Context, ev reconcile.Event) (reconcile.Result, error)
}

// Expirer hands out timeout events for requests issued before cutoff.
type Expirer interface {
	Expire(cutoff time.Time) []reconcile.Event
}

type Options struct {
	// DiskSpec and SweepSpec are cron specs (seconds field included).
	DiskSpec   string
	SweepSpec  string
	RequestTTL time.Duration
	Bridge     Expirer
	// Rescan rebuilds the disk catalog before a refetch. Optional.
	Rescan func(ctx context.Context) (reconcile.DiskCatalog, error)
	// OnRefresh is told the result of each disk refresh run. Optional.
	OnRefresh func(result string)
}

type Scheduler struct {
	logger zerolog.Logger
	loop   Loop
	opts   Options
	cron   *cron.Cron
}

// Results reported to OnRefresh.
const (
	ResultIssued  = "issued"
	ResultSkipped = "skipped"
	ResultFailed  = "failed"
)

func New(logger zerolog.Logger, loop Loop, opts Options) *Scheduler {
	if opts.DiskSpec == "" {
		opts.DiskSpec = "@every 30s"
	}
	if opts.SweepSpec == "" {
		opts.SweepSpec = "@every 10s"
	}
	if opts.RequestTTL <= 0 {
		opts.RequestTTL = 2 * time.Minute
	}
	return &Scheduler{
		logger: logger.With().Str("component", "refresh").Logger(),
		loop:   loop,
		opts:   opts,
		cron:   cron.New(cron.WithSeconds()),
	}
}

// Start schedules the jobs. The jobs run with ctx.
func (s *Scheduler) Start(ctx context.Context) error {
	if _, err := s.cron.AddFunc(s.opts.DiskSpec, func() { _, _ = s.RefreshDisks(ctx) }); err != nil {
		return fmt.Errorf("disk refresh schedule %q: %w", s.opts.DiskSpec, err)
	}
	if s.opts.Bridge != nil {
		if _, err := s.cron.AddFunc(s.opts.SweepSpec, func() { s.Sweep(ctx, time.Now()) }); err != nil {
			return fmt.Errorf("request sweep schedule %q: %w", s.opts.SweepSpec, err)
		}
	}
	s.cron.Start()
	s.logger.Info().Str("disks", s.opts.DiskSpec).Str("sweep", s.opts.SweepSpec).Msg("refresh scheduler started")
	return nil
}

func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.logger.Info().Msg("refresh scheduler stopped")
}

// RefreshDisks issues an available-disks query when the cached set is stale
// and no query is already in flight. It reports whether one was issued.
func (s *Scheduler) RefreshDisks(ctx context.Context) (bool, error) {
	var need bool
	if err := s.loop.Read(ctx, func(c *reconcile.Controller) error {
		need = c.DisksNeedRefresh()
		return nil
	}); err != nil {
		return false, s.report(ResultFailed, err)
	}
	if !need {
		s.note(ResultSkipped)
		return false, nil
	}

	var catalog reconcile.DiskCatalog
	if s.opts.Rescan != nil {
		cat, err := s.opts.Rescan(ctx)
		if err != nil {
			s.logger.Warn().Err(err).Msg("disk rescan failed, keeping previous catalog")
		} else {
			catalog = cat
		}
	}

	_, err := s.loop.Do(ctx, "refresh disks", func(c *reconcile.Controller) error {
		if catalog != nil {
			c.SetCatalog(catalog)
		}
		if !c.DisksNeedRefresh() {
			return nil
		}
		_, err := c.FetchAvailableDisks(ctx)
		return err
	})
	if err != nil {
		return false, s.report(ResultFailed, err)
	}
	s.note(ResultIssued)
	return true, nil
}

// Sweep dispatches a timeout for every bridge request older than the TTL.
func (s *Scheduler) Sweep(ctx context.Context, now time.Time) int {
	if s.opts.Bridge == nil {
		return 0
	}
	n := 0
	for _, ev := range s.opts.Bridge.Expire(now.Add(-s.opts.RequestTTL)) {
		if _, err := s.loop.Dispatch(ctx, ev); err != nil {
			s.logger.Error().Err(err).Str("event", ev.Name()).Msg("dispatch timeout failed")
			continue
		}
		n++
	}
	return n
}

func (s *Scheduler) note(result string) {
	if s.opts.OnRefresh != nil {
		s.opts.OnRefresh(result)
	}
}

func (s *Scheduler) report(result string, err error) error {
	s.logger.Warn().Err(err).Msg("disk refresh failed")
	s.note(result)
	return err
}
