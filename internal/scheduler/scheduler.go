// Package scheduler drives the engine's periodic work: fixed-interval loops
// and calendar (cron) triggers, all reading time from a replaceable Clock.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"
	_ "time/tzdata"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"
)

// Task is one unit of scheduled work. A task never runs concurrently with
// itself.
type Task func(ctx context.Context)

type entry struct {
	name string
	kind string
	spec string
	next func(now time.Time) time.Time
	fn   Task
}

// Upcoming describes the next firing of a task.
type Upcoming struct {
	Name string    `json:"name"`
	Kind string    `json:"kind"`
	Spec string    `json:"spec"`
	At   time.Time `json:"at"`
}

// Scheduler runs registered tasks until its context is cancelled.
type Scheduler struct {
	clock   Clock
	logger  *slog.Logger
	entries []entry
	names   map[string]bool
}

// New creates a Scheduler reading time from clock.
func New(clock Clock, logger *slog.Logger) *Scheduler {
	if clock == nil {
		clock = RealClock()
	}
	return &Scheduler{
		clock:  clock,
		logger: logger.With(slog.String("component", "scheduler")),
		names:  make(map[string]bool),
	}
}

func (s *Scheduler) add(e entry) error {
	if e.name == "" {
		return errors.New("scheduler: task name is required")
	}
	if s.names[e.name] {
		return fmt.Errorf("scheduler: duplicate task %q", e.name)
	}
	s.names[e.name] = true
	s.entries = append(s.entries, e)
	return nil
}

// Every runs fn repeatedly, waiting interval after each run completes.
func (s *Scheduler) Every(name string, interval time.Duration, fn Task) error {
	if interval <= 0 {
		return fmt.Errorf("scheduler: task %q: interval must be positive, got %s", name, interval)
	}
	return s.add(entry{
		name: name,
		kind: "interval",
		spec: interval.String(),
		next: func(now time.Time) time.Time { return now.Add(interval) },
		fn:   fn,
	})
}

// Cron runs fn at the times matched by a standard five-field cron spec. A
// "CRON_TZ=<zone> " prefix selects the zone the fields are read in.
func (s *Scheduler) Cron(name, spec string, fn Task) error {
	sched, err := cron.ParseStandard(spec)
	if err != nil {
		return fmt.Errorf("scheduler: task %q: parse %q: %w", name, spec, err)
	}
	return s.add(entry{
		name: name,
		kind: "cron",
		spec: spec,
		next: sched.Next,
		fn:   fn,
	})
}

// Upcoming lists the next firing of every task from now, soonest first.
func (s *Scheduler) Upcoming() []Upcoming {
	now := s.clock.Now()
	out := make([]Upcoming, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, Upcoming{Name: e.name, Kind: e.kind, Spec: e.spec, At: e.next(now)})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].At.Before(out[j].At) })
	return out
}

// Run drives all tasks until ctx is done. It returns nil on cancellation.
func (s *Scheduler) Run(ctx context.Context) error {
	if len(s.entries) == 0 {
		<-ctx.Done()
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, e := range s.entries {
		g.Go(func() error {
			s.loop(gctx, e)
			return nil
		})
	}
	s.logger.InfoContext(ctx, "scheduler: started", slog.Int("tasks", len(s.entries)))
	err := g.Wait()
	s.logger.InfoContext(ctx, "scheduler: stopped")
	return err
}

func (s *Scheduler) loop(ctx context.Context, e entry) {
	for {
		now := s.clock.Now()
		at := e.next(now)
		if at.IsZero() {
			s.logger.WarnContext(ctx, "scheduler: task has no future runs", slog.String("task", e.name))
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-s.clock.After(at.Sub(now)):
		}
		if ctx.Err() != nil {
			return
		}
		s.run(ctx, e)
	}
}

func (s *Scheduler) run(ctx context.Context, e entry) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.ErrorContext(ctx, "scheduler: task panicked",
				slog.String("task", e.name),
				slog.String("error", fmt.Sprint(r)),
			)
		}
	}()
	e.fn(ctx)
}
