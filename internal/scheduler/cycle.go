package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/zealywatch/internal/metrics"
	"github.com/JakeFAU/zealywatch/internal/monitor"
	"github.com/JakeFAU/zealywatch/internal/policy/simple"
	"github.com/JakeFAU/zealywatch/internal/progress"
)

// lastErrorLimit bounds the stored diagnostic string.
const lastErrorLimit = 500

// runCycle checks every target in one snapshot. Stop is honoured before each
// target is dispatched; dispatched checks run to completion.
func (s *Scheduler) runCycle(ctx context.Context, stop <-chan struct{}) (progress.Tally, error) {
	cycleID := progress.NewCycleID()
	started := s.clock.Now()
	s.emitter.Emit(progress.Event{CycleID: cycleID, TS: started, Stage: progress.StageCycleStart})

	var (
		mu    sync.Mutex
		tally progress.Tally
	)
	record := func(outcome progress.Outcome, failed bool) {
		mu.Lock()
		defer mu.Unlock()
		tally.Checked++
		if failed {
			tally.Failed++
		}
		if outcome == progress.OutcomeChanged {
			tally.Changed++
		}
	}

	var g errgroup.Group
	g.SetLimit(s.policy.Concurrency)
	for _, target := range s.targets.Snapshot() {
		if halted(ctx, stop) {
			break
		}
		g.Go(func() error {
			// The pool slot may free up after a stop request.
			if halted(ctx, stop) {
				return nil
			}
			outcome, failed := s.checkTarget(ctx, cycleID, target)
			record(outcome, failed)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return tally, fmt.Errorf("check cycle: %w", err)
	}

	finished := s.clock.Now()
	metrics.SetTargets(s.targets.Len())
	s.emitter.Emit(progress.Event{
		CycleID: cycleID,
		TS:      finished,
		Stage:   progress.StageCycleDone,
		Dur:     max(finished.Sub(started), 0),
		Tally:   tally,
	})
	s.logger.Info("check cycle complete",
		zap.Int("checked", tally.Checked),
		zap.Int("changed", tally.Changed),
		zap.Int("failed", tally.Failed),
		zap.Duration("elapsed", finished.Sub(started)),
	)
	s.warnOnErrorRate()
	return tally, nil
}

// checkTarget fetches one target and applies the decision policy. A panic
// anywhere in the check is recorded as an unexpected failure.
func (s *Scheduler) checkTarget(ctx context.Context, cycleID [16]byte, target monitor.Target) (outcome progress.Outcome, failed bool) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("check panicked", zap.String("url", target.URL), zap.Any("panic", r))
			err := monitor.NewFetchError(monitor.FailureUnexpected, fmt.Sprintf("panic: %v", r), nil)
			s.recordFailure(ctx, cycleID, target.URL, err, 0)
			outcome, failed = "", true
		}
	}()

	start := s.clock.Now()
	result, err := s.fetcher.Fetch(ctx, target.URL)
	elapsed := max(s.clock.Now().Sub(start), 0)
	s.stats.RecordCheck()
	if err != nil {
		s.recordFailure(ctx, cycleID, target.URL, err, elapsed)
		return "", true
	}
	return s.recordSuccess(ctx, cycleID, result, elapsed), false
}

func (s *Scheduler) recordSuccess(ctx context.Context, cycleID [16]byte, result monitor.FetchResult, elapsed time.Duration) progress.Outcome {
	now := s.clock.Now()
	var (
		outcome  progress.Outcome
		previous string
	)
	_, err := s.targets.Update(result.URL, func(t *monitor.Target) {
		t.LastCheckedAt = now
		t.CheckCount++
		t.ConsecutiveFailures = 0
		t.ConsecutiveSuccesses++
		t.LastError = ""
		t.LastSelector = result.Selector
		t.LastSource = result.Source
		t.ObserveLatency(result.ResponseTime)

		previous = t.Fingerprint
		switch {
		case t.Fingerprint == "":
			t.Fingerprint = result.Digest
			outcome = progress.OutcomeFirst
		case t.Fingerprint == result.Digest:
			outcome = progress.OutcomeUnchanged
		case s.escalation.SuppressChange(*t, now):
			outcome = progress.OutcomeSuppressed
		default:
			outcome = progress.OutcomeChanged
		}
	})
	if err != nil {
		s.logger.Debug("target removed during check", zap.String("url", result.URL))
		return ""
	}

	if outcome == progress.OutcomeChanged {
		if s.notify(ctx, "change", changeMessage(result.URL, result.ResponseTime)) {
			_, err := s.targets.Update(result.URL, func(t *monitor.Target) {
				if t.Fingerprint == previous {
					t.Fingerprint = result.Digest
				}
				t.LastNotifiedAt = now
			})
			if err != nil {
				s.logger.Debug("target removed before alert bookkeeping", zap.String("url", result.URL))
			}
			s.stats.RecordChange()
			s.emitter.Emit(progress.Event{
				CycleID: cycleID,
				TS:      now,
				Stage:   progress.StageChange,
				URL:     result.URL,
				Source:  string(result.Source),
			})
			s.logger.Info("change detected", zap.String("url", result.URL))
		} else {
			outcome = progress.OutcomeUndelivered
		}
	}

	metrics.ObserveCheck(string(outcome))
	s.emitter.Emit(progress.Event{
		CycleID:  cycleID,
		TS:       now,
		Stage:    progress.StageCheckDone,
		URL:      result.URL,
		Source:   string(result.Source),
		Outcome:  outcome,
		Attempts: result.Attempts,
		Dur:      elapsed,
	})
	return outcome
}

func (s *Scheduler) recordFailure(ctx context.Context, cycleID [16]byte, url string, fetchErr error, elapsed time.Duration) {
	now := s.clock.Now()
	kind := monitor.KindOf(fetchErr)
	var next simple.Action
	updated, err := s.targets.Update(url, func(t *monitor.Target) {
		t.LastCheckedAt = now
		t.CheckCount++
		t.ConsecutiveFailures++
		t.ConsecutiveSuccesses = 0
		t.TotalFailures++
		t.LastError = monitor.Truncate(fetchErr.Error(), lastErrorLimit)

		next = s.escalation.OnFailure(*t, now)
		if next == simple.ActionWarn {
			t.LastWarnedAt = now
		}
	})
	if err != nil {
		s.logger.Debug("target removed during check", zap.String("url", url))
		return
	}

	metrics.ObserveCheck("failed")
	s.logger.Warn("check failed",
		zap.String("url", url),
		zap.String("kind", string(kind)),
		zap.Int("consecutive_failures", updated.ConsecutiveFailures),
		zap.Error(fetchErr),
	)
	attempts := 0
	var fe *monitor.FetchError
	if errors.As(fetchErr, &fe) {
		attempts = fe.Attempts
	}
	s.emitter.Emit(progress.Event{
		CycleID:  cycleID,
		TS:       now,
		Stage:    progress.StageCheckFailed,
		URL:      url,
		Kind:     string(kind),
		Attempts: attempts,
		Failures: updated.ConsecutiveFailures,
		Dur:      elapsed,
		Note:     updated.LastError,
	})

	switch next {
	case simple.ActionEvict:
		s.evict(ctx, cycleID, updated, kind)
	case simple.ActionWarn:
		s.notify(ctx, "warning", warningMessage(updated, s.policy.FailureThreshold))
		s.emitter.Emit(progress.Event{
			CycleID:  cycleID,
			TS:       now,
			Stage:    progress.StageWarning,
			URL:      url,
			Kind:     string(kind),
			Failures: updated.ConsecutiveFailures,
		})
	}
}

// evict removes the target and notifies once. A concurrent removal by the
// operator wins and suppresses the notification.
func (s *Scheduler) evict(ctx context.Context, cycleID [16]byte, target monitor.Target, kind monitor.FailureKind) {
	if _, err := s.targets.Remove(target.URL); err != nil {
		return
	}
	metrics.ObserveEviction()
	metrics.SetTargets(s.targets.Len())
	s.logger.Warn("target evicted",
		zap.String("url", target.URL),
		zap.Int("consecutive_failures", target.ConsecutiveFailures),
	)
	s.notify(ctx, "eviction", evictionMessage(target))
	s.emitter.Emit(progress.Event{
		CycleID:  cycleID,
		TS:       s.clock.Now(),
		Stage:    progress.StageEviction,
		URL:      target.URL,
		Kind:     string(kind),
		Failures: target.ConsecutiveFailures,
		Note:     target.LastError,
	})
}

func (s *Scheduler) warnOnErrorRate() {
	snap := s.stats.Snapshot()
	if rate := snap.BrowserErrorRate(); rate > 0.3 && snap.BrowserErrors+snap.BrowserSuccess >= 10 {
		s.logger.Warn("high browser error rate, consider a longer interval",
			zap.Float64("error_rate", rate),
			zap.Int64("browser_errors", snap.BrowserErrors),
		)
	}
}
