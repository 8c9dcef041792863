// Package dispatcher executes corrective operations against the external
// platforms under shared rate budgets. Budgets live in Redis so every worker
// process draws from the same pool, and transient refusals are retried with
// bounded exponential backoff before the failure is surfaced to the engine.
package dispatcher

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/Gobusters/ectologger"

	"github.com/howkawgew/PlasmoSyncBot/pkg/metrics"
	"github.com/howkawgew/PlasmoSyncBot/pkg/models"
	"github.com/howkawgew/PlasmoSyncBot/pkg/platform"
	"github.com/howkawgew/PlasmoSyncBot/pkg/redis"
	"github.com/howkawgew/PlasmoSyncBot/pkg/tracing"
)

// Budget describes the shared rate budget for one external system.
type Budget struct {
	// System is the budget key ("donor" or "guild").
	System string
	// Requests allowed per Window across all workers.
	Requests int64
	Window   time.Duration
	// MaxInFlight caps concurrent operations against the system. Zero
	// disables the cap.
	MaxInFlight int
}

// Config holds dispatcher tuning.
type Config struct {
	// MaxAttempts bounds retries per operation, first attempt included.
	MaxAttempts int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
	// MaxWait bounds how long a single dispatch may wait for budget.
	MaxWait time.Duration
}

// DefaultConfig returns dispatcher defaults.
func DefaultConfig() Config {
	return Config{
		MaxAttempts: 5,
		BaseBackoff: 250 * time.Millisecond,
		MaxBackoff:  10 * time.Second,
		MaxWait:     30 * time.Second,
	}
}

// Outcome reports how a dispatch ended.
type Outcome struct {
	Op       models.CorrectiveOperation
	Status   platform.ApplyStatus
	Attempts int
	Err      error
}

// Dispatcher applies corrective operations under rate budgets.
type Dispatcher struct {
	cfg     Config
	budgets map[string]Budget
	limiter *redis.RateLimiter
	locker  *redis.Locker
	adapter platform.GuildAdapter
	logger  ectologger.Logger
}

// New creates a dispatcher. Budgets are keyed by system name.
func New(cfg Config, budgets []Budget, redisClient *redis.Client, adapter platform.GuildAdapter, logger ectologger.Logger) *Dispatcher {
	byName := make(map[string]Budget, len(budgets))
	for _, b := range budgets {
		byName[b.System] = b
	}
	return &Dispatcher{
		cfg:     cfg,
		budgets: byName,
		limiter: redis.NewRateLimiter(redisClient, "plasmosync:ratelimit:"),
		locker:  redis.NewLocker(redisClient, "plasmosync:concurrency:"),
		adapter: adapter,
		logger:  logger,
	}
}

// Dispatch applies one operation against the guild platform, waiting for
// budget and retrying transient refusals. The returned outcome is always
// populated; a transient status means the retry budget ran out.
func (d *Dispatcher) Dispatch(ctx context.Context, system string, op models.CorrectiveOperation) Outcome {
	ctx, span := tracing.StartSpan(ctx, "Dispatcher.Dispatch")
	defer span.End()

	outcome := Outcome{Op: op}

	for attempt := 1; attempt <= d.cfg.MaxAttempts; attempt++ {
		outcome.Attempts = attempt

		release, err := d.waitForBudget(ctx, system)
		if err != nil {
			outcome.Status = platform.StatusTransient
			outcome.Err = err
			metrics.RecordOperation(string(op.Category), string(op.Kind), "budget_wait_failed")
			return outcome
		}

		metrics.OperationsInFlight.Inc()
		result := d.adapter.Apply(ctx, op)
		metrics.OperationsInFlight.Dec()
		if release != nil {
			release()
		}

		switch result.Status {
		case platform.StatusApplied, platform.StatusNoOp:
			outcome.Status = result.Status
			metrics.RecordOperation(string(op.Category), string(op.Kind), string(result.Status))
			return outcome

		case platform.StatusFatal:
			outcome.Status = platform.StatusFatal
			outcome.Err = result.Err
			metrics.RecordOperation(string(op.Category), string(op.Kind), "fatal")
			d.logger.WithContext(ctx).WithError(result.Err).Warnf("Operation rejected permanently: %s", op)
			return outcome

		case platform.StatusTransient:
			outcome.Err = result.Err
			metrics.OperationRetriesTotal.WithLabelValues(string(op.Category)).Inc()

			// A platform Retry-After applies to the whole budget, not just
			// this operation. Block the bucket so sibling workers honor it.
			if result.RetryAfter > 0 {
				if err := d.limiter.BlockFor(ctx, system, result.RetryAfter); err != nil {
					d.logger.WithContext(ctx).WithError(err).Warnf("Failed to block budget %s", system)
				}
			}

			if attempt == d.cfg.MaxAttempts {
				break
			}

			wait := d.backoff(attempt)
			if result.RetryAfter > wait {
				wait = result.RetryAfter
			}
			d.logger.WithContext(ctx).Infof("Transient failure for %s (attempt %d/%d), retrying in %v",
				op, attempt, d.cfg.MaxAttempts, wait)

			select {
			case <-ctx.Done():
				outcome.Status = platform.StatusTransient
				outcome.Err = ctx.Err()
				return outcome
			case <-time.After(wait):
			}
		}
	}

	outcome.Status = platform.StatusTransient
	if outcome.Err == nil {
		outcome.Err = fmt.Errorf("retry budget exhausted after %d attempts", d.cfg.MaxAttempts)
	}
	metrics.RecordOperation(string(op.Category), string(op.Kind), "retries_exhausted")
	return outcome
}

// Admit blocks until the named budget admits one request. The returned
// release function frees the concurrency slot and may be nil. Systems without
// a configured budget are admitted immediately.
func (d *Dispatcher) Admit(ctx context.Context, system string) (func(), error) {
	return d.waitForBudget(ctx, system)
}

// waitForBudget blocks until the system budget admits one request, or fails
// when the wait would exceed MaxWait. The returned release function frees the
// concurrency slot and may be nil.
func (d *Dispatcher) waitForBudget(ctx context.Context, system string) (func(), error) {
	budget, ok := d.budgets[system]
	if !ok {
		return nil, nil
	}

	start := time.Now()
	deadline := start.Add(d.cfg.MaxWait)
	defer func() {
		metrics.RateLimitWaitTime.WithLabelValues(system).Observe(time.Since(start).Seconds())
	}()

	for {
		release, retryIn, err := d.tryAcquire(ctx, budget)
		if err != nil {
			return nil, err
		}
		if retryIn == 0 {
			return release, nil
		}

		if time.Now().Add(retryIn).After(deadline) {
			return nil, fmt.Errorf("budget %s would exceed max wait of %v", system, d.cfg.MaxWait)
		}

		d.logger.WithContext(ctx).Debugf("Budget %s exhausted, waiting %v", system, retryIn)

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(retryIn):
		}
	}
}

// tryAcquire attempts one budget pass. A zero retryIn means the request is
// admitted and release (possibly nil) must be called when it completes.
func (d *Dispatcher) tryAcquire(ctx context.Context, budget Budget) (func(), time.Duration, error) {
	// Concurrency slots first so a blocked window never pins a slot.
	var slot *redis.Lock
	if budget.MaxInFlight > 0 {
		for i := 0; i < budget.MaxInFlight; i++ {
			lock, err := d.locker.Acquire(ctx, fmt.Sprintf("%s:slot:%d", budget.System, i), 2*time.Minute)
			if err == nil {
				slot = lock
				break
			}
			if err != redis.ErrLockNotAcquired {
				return nil, 0, err
			}
		}
		if slot == nil {
			return nil, 200 * time.Millisecond, nil
		}
	}

	releaseSlot := func() {
		if slot != nil {
			_ = slot.Release(ctx)
		}
	}

	if blocked, ttl, err := d.limiter.IsBlocked(ctx, budget.System); err == nil && blocked {
		releaseSlot()
		return nil, ttl, nil
	}

	result, err := d.limiter.Allow(ctx, budget.System, budget.Requests, budget.Window)
	if err != nil {
		// fail open on limiter errors; the platform still enforces its side
		d.logger.WithContext(ctx).WithError(err).Errorf("Budget check failed for %s", budget.System)
		return releaseSlot, 0, nil
	}

	if !result.Allowed {
		releaseSlot()
		retryIn := result.RetryIn
		if retryIn <= 0 {
			retryIn = 100 * time.Millisecond
		}
		return nil, retryIn, nil
	}

	return releaseSlot, 0, nil
}

// backoff returns the exponential delay for an attempt with jitter applied.
// The shift saturates at MaxBackoff so deep retry counts cannot overflow the
// duration into a negative delay.
func (d *Dispatcher) backoff(attempt int) time.Duration {
	delay := d.cfg.MaxBackoff
	if shift := uint(attempt - 1); shift < 32 {
		delay = d.cfg.BaseBackoff << shift
	}
	if delay <= 0 || delay > d.cfg.MaxBackoff {
		delay = d.cfg.MaxBackoff
	}
	// up to 25% jitter keeps retry herds apart
	jitter := time.Duration(rand.Int63n(int64(delay)/4 + 1))
	return delay + jitter
}
