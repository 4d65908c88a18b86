// Package scheduler drives the periodic check loop: one pass over the watch
// list per interval, a per-target decision policy, and start/stop control
// from the command surface.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/zealywatch/internal/metrics"
	"github.com/JakeFAU/zealywatch/internal/monitor"
	"github.com/JakeFAU/zealywatch/internal/policy/simple"
	"github.com/JakeFAU/zealywatch/internal/progress"
)

// State is the loop's lifecycle state.
type State int

// Scheduler states.
const (
	Idle State = iota
	Running
	StopRequested
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Running:
		return "running"
	case StopRequested:
		return "stopping"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Errors returned by Start.
var (
	ErrAlreadyRunning = errors.New("monitoring already running")
	ErrNoTargets      = errors.New("no targets to monitor")
	ErrStopping       = errors.New("monitoring is still stopping")
	ErrUnknownTarget  = errors.New("target not registered")
)

// Targets is the slice of the registry the scheduler needs.
type Targets interface {
	Snapshot() []monitor.Target
	Get(url string) (monitor.Target, bool)
	Update(url string, mutate func(*monitor.Target)) (monitor.Target, error)
	Remove(url string) (monitor.Target, error)
	Len() int
}

// Policy holds the loop timings and escalation thresholds.
type Policy struct {
	Interval         time.Duration
	MinSleep         time.Duration
	ErrorCooldown    time.Duration
	NotifyCooldown   time.Duration
	WarningCooldown  time.Duration
	FailureThreshold int
	WarningThreshold int
	Concurrency      int
}

// Deps are the scheduler's collaborators. Emitter, Stats and Logger may be nil.
type Deps struct {
	Targets  Targets
	Fetcher  monitor.Fetcher
	Notifier monitor.Notifier
	Clock    monitor.Clock
	Emitter  progress.Emitter
	Stats    *monitor.Stats
	Logger   *zap.Logger
}

// Scheduler owns the check loop.
type Scheduler struct {
	policy     Policy
	escalation *simple.Policy
	targets    Targets
	fetcher    monitor.Fetcher
	notifier   monitor.Notifier
	clock      monitor.Clock
	emitter    progress.Emitter
	stats      *monitor.Stats
	logger     *zap.Logger

	mu    sync.Mutex
	state State
	stop  chan struct{}
	done  chan struct{}
}

// New validates the policy and wires the collaborators.
func New(policy Policy, deps Deps) (*Scheduler, error) {
	if deps.Targets == nil || deps.Fetcher == nil || deps.Notifier == nil || deps.Clock == nil {
		return nil, errors.New("scheduler: targets, fetcher, notifier and clock are required")
	}
	if policy.Interval <= 0 {
		return nil, errors.New("scheduler: interval must be positive")
	}
	if policy.FailureThreshold <= 0 {
		return nil, errors.New("scheduler: failure threshold must be positive")
	}
	if policy.Concurrency <= 0 {
		policy.Concurrency = 1
	}
	emitter := deps.Emitter
	if emitter == nil {
		emitter = progress.Discard{}
	}
	stats := deps.Stats
	if stats == nil {
		stats = monitor.NewStats(deps.Clock.Now())
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	done := make(chan struct{})
	close(done)
	escalation := simple.New(policy.NotifyCooldown, policy.WarningCooldown,
		policy.FailureThreshold, policy.WarningThreshold)
	return &Scheduler{
		policy:     policy,
		escalation: escalation,
		targets:    deps.Targets,
		fetcher:    deps.Fetcher,
		notifier:   deps.Notifier,
		clock:      deps.Clock,
		emitter:    emitter,
		stats:      stats,
		logger:     logger,
		done:       done,
	}, nil
}

// Policy returns the active policy.
func (s *Scheduler) Policy() Policy {
	return s.policy
}

// State reports the current lifecycle state.
func (s *Scheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Start launches the loop. Fetches run under ctx, so cancelling ctx aborts
// in-flight work; Stop only takes effect between checks.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case Running:
		return ErrAlreadyRunning
	case StopRequested:
		return ErrStopping
	}
	if s.targets.Len() == 0 {
		return ErrNoTargets
	}
	s.state = Running
	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	metrics.SetSchedulerRunning(true)
	go s.loop(ctx, s.stop, s.done)
	return nil
}

// Stop requests the loop to exit at its next suspension point. It reports
// whether a running loop was asked to stop.
func (s *Scheduler) Stop() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Running {
		return false
	}
	s.state = StopRequested
	close(s.stop)
	return true
}

// Wait blocks until the loop has exited or ctx is done.
func (s *Scheduler) Wait(ctx context.Context) error {
	s.mu.Lock()
	done := s.done
	s.mu.Unlock()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("wait for scheduler: %w", ctx.Err())
	}
}

func (s *Scheduler) loop(ctx context.Context, stop <-chan struct{}, done chan<- struct{}) {
	defer func() {
		s.announce(ctx, "stopped", stoppedMessage())
		s.mu.Lock()
		s.state = Idle
		s.mu.Unlock()
		metrics.SetSchedulerRunning(false)
		close(done)
		s.logger.Info("monitoring stopped")
	}()

	s.logger.Info("monitoring started", zap.Duration("interval", s.policy.Interval))
	s.announce(ctx, "started", startedMessage(s.policy.Interval))

	for {
		if halted(ctx, stop) {
			return
		}
		started := s.clock.Now()
		if err := s.safeCycle(ctx, stop); err != nil {
			s.logger.Error("check cycle failed", zap.Error(err), zap.Duration("cooldown", s.policy.ErrorCooldown))
			if !pause(ctx, stop, s.policy.ErrorCooldown) {
				return
			}
			continue
		}
		wait := max(s.policy.Interval-s.clock.Now().Sub(started), s.policy.MinSleep)
		s.logger.Debug("cycle complete", zap.Duration("next_in", wait))
		if !pause(ctx, stop, wait) {
			return
		}
	}
}

func (s *Scheduler) safeCycle(ctx context.Context, stop <-chan struct{}) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in check cycle: %v", r)
		}
	}()
	_, err = s.runCycle(ctx, stop)
	return err
}

// announce sends a lifecycle message even when ctx is already cancelled.
func (s *Scheduler) announce(ctx context.Context, kind, msg string) {
	sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 15*time.Second)
	defer cancel()
	s.notify(sendCtx, kind, msg)
}

// kindNotifier is implemented by notifiers that label deliveries.
type kindNotifier interface {
	NotifyKind(ctx context.Context, kind, msg string) bool
}

func (s *Scheduler) notify(ctx context.Context, kind, msg string) bool {
	var delivered bool
	if kn, ok := s.notifier.(kindNotifier); ok {
		delivered = kn.NotifyKind(ctx, kind, msg)
	} else {
		delivered = s.notifier.Notify(ctx, msg)
	}
	if !delivered {
		s.logger.Warn("notification not delivered", zap.String("kind", kind))
	}
	return delivered
}

func halted(ctx context.Context, stop <-chan struct{}) bool {
	select {
	case <-ctx.Done():
		return true
	case <-stop:
		return true
	default:
		return false
	}
}

// pause waits for d and reports false if the loop should exit instead.
func pause(ctx context.Context, stop <-chan struct{}, d time.Duration) bool {
	if d <= 0 {
		return !halted(ctx, stop)
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-stop:
		return false
	case <-timer.C:
		return true
	}
}
