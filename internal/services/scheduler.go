package services

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ahmetk3436/tidewatch/internal/metrics"
	"github.com/ahmetk3436/tidewatch/pkg/logger"
)

// Task is a periodic job. Interval is consulted before every wait, so a
// changed cadence takes effect on the next tick.
type Task struct {
	Name       string
	Interval   func() time.Duration
	Run        func(ctx context.Context) error
	RunOnStart bool
}

type taskState struct {
	Task
	inFlight atomic.Bool
}

// Scheduler drives its tasks from one timer each. A tick that fires while
// the previous run of the same task is still going is dropped.
type Scheduler struct {
	log   logger.Logger
	tasks []*taskState

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func NewScheduler(log logger.Logger, tasks ...Task) *Scheduler {
	s := &Scheduler{log: log}
	for _, t := range tasks {
		s.tasks = append(s.tasks, &taskState{Task: t})
	}
	return s
}

// Start launches every task. Calling Start on a running scheduler is a no-op.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.running = true
	for _, t := range s.tasks {
		s.wg.Add(1)
		go s.loop(runCtx, t)
	}
	s.log.Info("Scheduler started", "tasks", len(s.tasks))
}

// Stop halts every task and waits for in-flight runs to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.cancel()
	s.running = false
	s.mu.Unlock()

	s.wg.Wait()
	s.log.Info("Scheduler stopped")
}

func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *Scheduler) loop(ctx context.Context, t *taskState) {
	defer s.wg.Done()

	if t.RunOnStart {
		s.fire(ctx, t)
	}

	timer := time.NewTimer(t.Interval())
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			s.fire(ctx, t)
			timer.Reset(t.Interval())
		}
	}
}

func (s *Scheduler) fire(ctx context.Context, t *taskState) {
	if !t.inFlight.CompareAndSwap(false, true) {
		metrics.SchedulerRuns.WithLabelValues(t.Name, "skipped").Inc()
		s.log.Warn("Previous run still in progress, skipping tick", "task", t.Name)
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer t.inFlight.Store(false)
		s.runOnce(ctx, t)
	}()
}

func (s *Scheduler) runOnce(ctx context.Context, t *taskState) {
	defer func() {
		if r := recover(); r != nil {
			metrics.SchedulerRuns.WithLabelValues(t.Name, "panic").Inc()
			s.log.Error("Scheduled task panicked", "task", t.Name, "panic", fmt.Sprint(r))
		}
	}()

	if err := t.Run(ctx); err != nil {
		metrics.SchedulerRuns.WithLabelValues(t.Name, "error").Inc()
		s.log.Error("Scheduled task failed", "task", t.Name, "error", err)
		return
	}
	metrics.SchedulerRuns.WithLabelValues(t.Name, "ok").Inc()
}

// PresenceTask probes devices and applies the result on every tick of the
// resolved check interval.
func PresenceTask(prober *PresenceProber, sm *PresenceStateMachine, interval func() time.Duration, timeout time.Duration, log logger.Logger) Task {
	return Task{
		Name:     "presence",
		Interval: interval,
		Run: func(ctx context.Context) error {
			start := time.Now()
			defer func() { metrics.PresenceRoundDuration.Observe(time.Since(start).Seconds()) }()

			responded, err := prober.Probe(ctx, timeout)
			if err != nil && ctx.Err() != nil {
				return err
			}
			// A failed broadcast still applies the empty set.
			metrics.DevicesResponded.Set(float64(len(responded)))

			res, err := sm.Apply(ctx, responded)
			if err != nil {
				return err
			}
			log.Info("Presence round complete", "responded", len(responded), "online", len(res.MarkedOnline), "offline", len(res.MarkedOffline))
			return nil
		},
	}
}

// CleanupTask purges readings older than retention once a day.
func CleanupTask(r *Retention, retention time.Duration) Task {
	return Task{
		Name:     "cleanup",
		Interval: func() time.Duration { return 24 * time.Hour },
		Run: func(ctx context.Context) error {
			_, err := r.PurgeOlderThan(ctx, retention)
			return err
		},
	}
}
