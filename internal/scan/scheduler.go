package scan

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"mangadexbot/internal/eventbus"
	"mangadexbot/internal/storage"
	"mangadexbot/pkg/logx"
)

const (
	DefaultPeriod = 6 * time.Hour
	DefaultPacing = 250 * time.Millisecond
)

type Config struct {
	// Period between cycle starts. Ignored when Cron is set.
	Period time.Duration
	// Cron is an optional standard 5-field cron expression for cycle starts.
	Cron string
	// Pacing is the pause after every item, whatever its outcome.
	Pacing time.Duration
}

// ParseSchedule turns the config into a cron schedule.
func ParseSchedule(cfg Config) (cron.Schedule, error) {
	if spec := strings.TrimSpace(cfg.Cron); spec != "" {
		s, err := cron.ParseStandard(spec)
		if err != nil {
			return nil, fmt.Errorf("scan schedule %q: %w", spec, err)
		}
		return s, nil
	}
	p := cfg.Period
	if p <= 0 {
		p = DefaultPeriod
	}
	return cron.Every(p), nil
}

// CycleStats summarizes one scan pass.
type CycleStats struct {
	Started time.Time
	Took    time.Duration
	Items   int
	Updates int
	Failed  int
}

// Scheduler is the only producer of UpdateEvents. It runs cycles forever,
// start to start on its schedule; a cycle that overruns starts the next one immediately.
type Scheduler struct {
	store    storage.Store
	detector *Detector
	out      chan<- UpdateEvent
	schedule cron.Schedule
	pacing   time.Duration
	bus      eventbus.Bus
	log      logx.Logger
}

func NewScheduler(store storage.Store, detector *Detector, out chan<- UpdateEvent, schedule cron.Schedule, pacing time.Duration, bus eventbus.Bus, log logx.Logger) *Scheduler {
	if pacing < 0 {
		pacing = 0
	}
	if bus == nil {
		bus = eventbus.Nop()
	}
	return &Scheduler{
		store:    store,
		detector: detector,
		out:      out,
		schedule: schedule,
		pacing:   pacing,
		bus:      bus,
		log:      log,
	}
}

// Run blocks until ctx ends.
func (s *Scheduler) Run(ctx context.Context) error {
	for {
		start := time.Now()
		s.RunCycle(ctx)
		if err := ctx.Err(); err != nil {
			return err
		}

		next := s.schedule.Next(start)
		wait := time.Until(next)
		if wait <= 0 {
			s.log.Warn("scan overran its period, starting next cycle now", logx.Time("due", next))
			continue
		}
		s.log.Debug("next scan scheduled", logx.Time("at", next))

		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
}

// RunCycle scans every tracked manga once.
func (s *Scheduler) RunCycle(ctx context.Context) CycleStats {
	st := CycleStats{Started: time.Now()}
	s.bus.Publish(eventbus.Event{Type: eventbus.ScanStarted, Time: st.Started})

	items, err := s.store.List(ctx)
	if err != nil {
		s.log.Error("scan snapshot failed", logx.Err(err))
		st.Failed++
		s.finish(&st)
		return st
	}
	s.log.Info("scan started", logx.Int("items", len(items)))

loop:
	for _, m := range items {
		if ctx.Err() != nil {
			break
		}
		st.Items++

		ev, err := s.detector.Detect(ctx, m)
		switch {
		case err != nil:
			st.Failed++
			s.log.Error("scan item failed", logx.String("manga", m.ID), logx.Err(err))
		case ev != nil:
			if !s.enqueue(ctx, *ev) {
				break loop
			}
			st.Updates++
		}

		if !s.pause(ctx) {
			break
		}
	}

	s.finish(&st)
	return st
}

func (s *Scheduler) finish(st *CycleStats) {
	st.Took = time.Since(st.Started)
	s.bus.Publish(eventbus.Event{Type: eventbus.ScanFinished, Data: *st})
	s.log.Info("scan finished",
		logx.Int("items", st.Items),
		logx.Int("updates", st.Updates),
		logx.Int("failed", st.Failed),
		logx.Duration("took", st.Took))
}

// enqueue blocks while the queue is full. False means ctx ended first;
// the baseline is already advanced so that event is lost.
func (s *Scheduler) enqueue(ctx context.Context, ev UpdateEvent) bool {
	select {
	case s.out <- ev:
		return true
	default:
	}
	s.log.Warn("update queue full, waiting", logx.String("manga", ev.MangaID), logx.Int("cap", cap(s.out)))
	select {
	case s.out <- ev:
		return true
	case <-ctx.Done():
		s.log.Warn("update dropped on shutdown", logx.String("manga", ev.MangaID), logx.String("chapter", ev.Chapter.ID))
		return false
	}
}

func (s *Scheduler) pause(ctx context.Context) bool {
	if s.pacing == 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(s.pacing)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
