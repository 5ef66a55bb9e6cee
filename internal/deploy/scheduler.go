package deploy

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/p-blackswan/appforge/internal/metrics"
)

// DefaultInterval is the wall-clock spacing between polls.
const DefaultInterval = 5 * time.Second

// DoneFunc receives the first terminal status observed by a loop. It is
// called at most once per loop and never for a loop that was stopped or
// superseded.
type DoneFunc func(ctx context.Context, status Status)

// Scheduler runs at most one poll loop per key.
type Scheduler struct {
	poller   Poller
	interval time.Duration
	maxWait  time.Duration
	metrics  *metrics.Metrics
	logger   zerolog.Logger

	mu    sync.Mutex
	seq   uint64
	loops map[string]*loop
	wg    sync.WaitGroup
}

type loop struct {
	id     uint64
	repo   string
	cancel context.CancelFunc
}

// SchedulerOption configures a Scheduler.
type SchedulerOption func(*Scheduler)

// WithInterval sets the poll interval.
func WithInterval(d time.Duration) SchedulerOption {
	return func(s *Scheduler) {
		if d > 0 {
			s.interval = d
		}
	}
}

// WithMaxWait bounds how long a loop keeps polling. A loop that hits the
// bound stops without reporting, leaving the project pending. Zero means
// no bound.
func WithMaxWait(d time.Duration) SchedulerOption {
	return func(s *Scheduler) { s.maxWait = d }
}

// WithSchedulerMetrics records polls and active loops.
func WithSchedulerMetrics(m *metrics.Metrics) SchedulerOption {
	return func(s *Scheduler) { s.metrics = m }
}

// NewScheduler creates a Scheduler that polls through p.
func NewScheduler(p Poller, logger zerolog.Logger, opts ...SchedulerOption) *Scheduler {
	s := &Scheduler{
		poller:   p,
		interval: DefaultInterval,
		loops:    make(map[string]*loop),
		logger:   logger.With().Str("component", "deploy").Logger(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Start begins polling repoName on behalf of key, replacing any loop
// already running for key. The first poll happens one interval after Start.
func (s *Scheduler) Start(key, repoName string, onDone DoneFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	s.mu.Lock()
	if prev, ok := s.loops[key]; ok {
		prev.cancel()
		s.metrics.AddPollLoops(-1)
	}
	s.seq++
	l := &loop{id: s.seq, repo: repoName, cancel: cancel}
	s.loops[key] = l
	s.wg.Add(1)
	s.mu.Unlock()

	s.metrics.AddPollLoops(1)
	s.logger.Debug().Str("key", key).Str("repo", repoName).Dur("interval", s.interval).Msg("poll loop started")

	go s.run(ctx, key, l, onDone)
}

// Stop cancels the loop for key, if any.
func (s *Scheduler) Stop(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeLocked(key)
}

// StopOthers cancels every loop except the one for key.
func (s *Scheduler) StopOthers(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k := range s.loops {
		if k != key {
			s.removeLocked(k)
		}
	}
}

// StopAll cancels every loop and waits for their goroutines to exit.
func (s *Scheduler) StopAll() {
	s.mu.Lock()
	for k := range s.loops {
		s.removeLocked(k)
	}
	s.mu.Unlock()
	s.wg.Wait()
}

// Running reports whether a loop is active for key.
func (s *Scheduler) Running(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.loops[key]
	return ok
}

func (s *Scheduler) removeLocked(key string) {
	l, ok := s.loops[key]
	if !ok {
		return
	}
	l.cancel()
	delete(s.loops, key)
	s.metrics.AddPollLoops(-1)
	s.logger.Debug().Str("key", key).Msg("poll loop stopped")
}

// release removes l if it is still the current loop for key.
func (s *Scheduler) release(key string, l *loop) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.loops[key]
	if !ok || cur.id != l.id {
		return false
	}
	delete(s.loops, key)
	s.metrics.AddPollLoops(-1)
	return true
}

func (s *Scheduler) run(ctx context.Context, key string, l *loop, onDone DoneFunc) {
	defer s.wg.Done()
	defer l.cancel()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	var deadline <-chan time.Time
	if s.maxWait > 0 {
		timer := time.NewTimer(s.maxWait)
		defer timer.Stop()
		deadline = timer.C
	}

	log := s.logger.With().Str("key", key).Str("repo", l.repo).Logger()
	polls := 0

	for {
		select {
		case <-ctx.Done():
			return
		case <-deadline:
			if s.release(key, l) {
				log.Warn().Int("polls", polls).Dur("max_wait", s.maxWait).Msg("deployment still pending, polling stopped")
			}
			return
		case <-ticker.C:
			status := s.poller.PollOnce(ctx, l.repo)
			polls++
			if ctx.Err() != nil {
				return
			}
			s.metrics.RecordPoll(string(status))
			if !status.Terminal() {
				continue
			}
			if !s.release(key, l) {
				return
			}
			log.Info().Str("status", string(status)).Int("polls", polls).Msg("deployment reached terminal status")
			if onDone != nil {
				onDone(context.WithoutCancel(ctx), status)
			}
			return
		}
	}
}
