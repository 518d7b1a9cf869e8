package handlers

import (
	"FlipTradeBot/internal/metrics"
	"FlipTradeBot/internal/models"
	"FlipTradeBot/internal/state"
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// CycleRunner is one scan over the symbol universe.
type CycleRunner interface {
	RunCycle(ctx context.Context) (models.ScanReport, error)
}

// Scheduler drives cycles at a fixed interval and never runs two at once: a
// tick that arrives while a cycle is running is dropped and counted as missed.
type Scheduler struct {
	runner   CycleRunner
	state    *state.State
	interval time.Duration
	grace    time.Duration

	running sync.Mutex
	wg      sync.WaitGroup
	trigger chan struct{}
}

func NewScheduler(runner CycleRunner, st *state.State, interval, grace time.Duration) *Scheduler {
	return &Scheduler{
		runner:   runner,
		state:    st,
		interval: interval,
		grace:    grace,
		trigger:  make(chan struct{}, 1),
	}
}

// Run starts a cycle immediately and then on every tick until ctx is done. It
// waits for the cycle in flight before returning.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	log.WithFields(logrus.Fields{"interval": s.interval, "grace": s.grace}).Info("scheduler started")
	s.Tick(ctx, time.Now())

	for {
		select {
		case <-ctx.Done():
			s.Wait()
			log.Info("scheduler stopped")
			return ctx.Err()
		case t := <-ticker.C:
			s.Tick(ctx, t)
		case <-s.trigger:
			if !s.start(ctx) {
				log.Info("manual scan ignored, cycle in progress")
			}
		}
	}
}

// Trigger requests an immediate cycle. It reports false when a request is
// already pending or a cycle is running.
func (s *Scheduler) Trigger() bool {
	if s.Running() {
		return false
	}
	select {
	case s.trigger <- struct{}{}:
		return true
	default:
		return false
	}
}

// Running reports whether a cycle is in progress.
func (s *Scheduler) Running() bool {
	if s.running.TryLock() {
		s.running.Unlock()
		return false
	}
	return true
}

// Tick starts a cycle for a tick scheduled at the given time. A tick later
// than the grace window, or one that overlaps a running cycle, is skipped.
func (s *Scheduler) Tick(ctx context.Context, scheduled time.Time) bool {
	if late := time.Since(scheduled); s.grace > 0 && late > s.grace {
		s.state.Miss()
		metrics.CyclesSkipped.WithLabelValues(metrics.SkipLate).Inc()
		log.WithField("late", late.Round(time.Millisecond)).Warn("tick past grace window, skipped")
		return false
	}
	if !s.start(ctx) {
		s.state.Miss()
		metrics.CyclesSkipped.WithLabelValues(metrics.SkipOverlap).Inc()
		log.Warn("previous cycle still running, tick skipped")
		return false
	}
	return true
}

// Wait blocks until the cycle in flight, if any, has finished.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

func (s *Scheduler) start(ctx context.Context) bool {
	if !s.running.TryLock() {
		return false
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.running.Unlock()
		s.cycle(ctx)
	}()
	return true
}

func (s *Scheduler) cycle(ctx context.Context) {
	started := time.Now()
	_, err := s.runner.RunCycle(ctx)
	s.state.Beat(s.state.Now(), err)

	metrics.CyclesRun.Inc()
	metrics.CycleDuration.Set(time.Since(started).Seconds())
	if err != nil {
		log.WithError(err).Error("scan cycle failed")
	}
}
