// Package engine orchestrates reconciliation passes: it serializes writers
// per entity, fetches both platform states, plans the correction and drives
// the plan through the dispatcher while keeping the persisted checkpoint
// current after every applied operation.
package engine

import (
	"context"
	"net/http"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"

	"github.com/howkawgew/PlasmoSyncBot/internal/repositories/guildsettings"
	"github.com/howkawgew/PlasmoSyncBot/internal/repositories/syncrecord"
	"github.com/howkawgew/PlasmoSyncBot/pkg/database"
	"github.com/howkawgew/PlasmoSyncBot/pkg/dispatcher"
	"github.com/howkawgew/PlasmoSyncBot/pkg/events"
	"github.com/howkawgew/PlasmoSyncBot/pkg/metrics"
	"github.com/howkawgew/PlasmoSyncBot/pkg/models"
	"github.com/howkawgew/PlasmoSyncBot/pkg/platform"
	"github.com/howkawgew/PlasmoSyncBot/pkg/reconciler"
	"github.com/howkawgew/PlasmoSyncBot/pkg/redis"
	"github.com/howkawgew/PlasmoSyncBot/pkg/tracing"
)

const (
	// SystemGuild is the budget key for guild platform writes.
	SystemGuild = "guild"
	// SystemDonor is the budget key for donor platform reads.
	SystemDonor = "donor"

	// entityLockTTL bounds how long a crashed worker can pin an entity.
	entityLockTTL = 2 * time.Minute
	// entityLockWait is how long a pass waits for the per-entity lock before
	// giving the job back to the queue.
	entityLockWait = 5 * time.Second
)

// ErrEntityBusy is returned when another worker holds the entity lock. The
// job is safe to retry; the holder's pass covers the same drift.
var ErrEntityBusy = httperror.NewHTTPError(http.StatusConflict, "entity is being reconciled by another worker")

// ErrEntityNotLinked is returned when no sync record exists for the entity.
var ErrEntityNotLinked = httperror.NewHTTPError(http.StatusNotFound, "entity is not linked")

// recordStore is the slice of the sync record repository the engine needs.
type recordStore interface {
	Get(ctx context.Context, identity, guildID string) (*models.SyncRecord, error)
	Put(ctx context.Context, rec *models.SyncRecord) error
	Create(ctx context.Context, rec *models.SyncRecord) (*models.SyncRecord, error)
	Delete(ctx context.Context, identity, guildID string) error
}

type settingsStore interface {
	Get(ctx context.Context, guildID string) (*models.GuildSettings, error)
}

// operationDispatcher admits callers against per-system budgets and drives
// single operations with retries.
type operationDispatcher interface {
	Dispatch(ctx context.Context, system string, op models.CorrectiveOperation) dispatcher.Outcome
	Admit(ctx context.Context, system string) (func(), error)
}

type outcomeEmitter interface {
	EmitConverged(ctx context.Context, rec *models.SyncRecord, operations int) error
	EmitFailed(ctx context.Context, rec *models.SyncRecord, operations int) error
	EmitDeferred(ctx context.Context, identity models.Identity, guildID string) error
	EmitUnlinked(ctx context.Context, identity models.Identity, guildID string) error
}

type entityLock interface {
	Release(ctx context.Context) error
}

type entityLocker interface {
	TryAcquire(ctx context.Context, key string, ttl, wait time.Duration) (entityLock, error)
}

// redisEntityLocker adapts the redis locker to the entityLocker interface.
type redisEntityLocker struct {
	locker *redis.Locker
}

func (l *redisEntityLocker) TryAcquire(ctx context.Context, key string, ttl, wait time.Duration) (entityLock, error) {
	lock, err := l.locker.TryAcquire(ctx, key, ttl, wait)
	if err != nil {
		return nil, err
	}
	return lock, nil
}

// Engine drives reconciliation passes.
type Engine struct {
	records    recordStore
	settings   settingsStore
	donor      platform.DonorAdapter
	guild      platform.GuildAdapter
	planner    *reconciler.Reconciler
	dispatcher operationDispatcher
	locker     entityLocker
	emitter    outcomeEmitter
	logger     ectologger.Logger
}

// New creates a new engine
func New(
	records *syncrecord.Repository,
	settings *guildsettings.Repository,
	donor platform.DonorAdapter,
	guild platform.GuildAdapter,
	planner *reconciler.Reconciler,
	disp *dispatcher.Dispatcher,
	redisClient *redis.Client,
	emitter *events.Emitter,
	logger ectologger.Logger,
) *Engine {
	return &Engine{
		records:    records,
		settings:   settings,
		donor:      donor,
		guild:      guild,
		planner:    planner,
		dispatcher: disp,
		locker:     &redisEntityLocker{locker: redis.NewLocker(redisClient, "plasmosync:entity:")},
		emitter:    emitter,
		logger:     logger,
	}
}

// Reconcile runs one full pass for an entity in a guild. The pass holds the
// per-entity lock for its duration, so concurrent triggers for the same
// entity collapse into sequential passes. Errors before planning are
// deferrals: nothing was written and the job can be retried as-is.
func (e *Engine) Reconcile(ctx context.Context, identity models.Identity, guildID string) error {
	ctx, span := tracing.StartSpan(ctx, "Engine.Reconcile")
	defer span.End()

	start := time.Now()
	log := e.logger.WithContext(ctx).WithFields(map[string]any{
		"identity": identity,
		"guild_id": guildID,
	})

	settings, err := e.settings.Get(ctx, guildID)
	if err != nil {
		return err
	}
	if !settings.Enabled(models.SwitchUseAPI) {
		log.Debug("Sync disabled for guild, skipping pass")
		metrics.RecordReconcilePass(guildID, "disabled", time.Since(start).Seconds())
		return nil
	}

	lock, err := e.locker.TryAcquire(ctx, guildID+":"+string(identity), entityLockTTL, entityLockWait)
	if err != nil {
		if err == redis.ErrLockNotAcquired {
			return ErrEntityBusy
		}
		return err
	}
	defer func() { _ = lock.Release(ctx) }()

	rec, err := e.records.Get(ctx, string(identity), guildID)
	if err != nil {
		if httperror.IsHTTPError(err) && httperror.GetStatusCode(err) == http.StatusNotFound {
			return ErrEntityNotLinked
		}
		return err
	}

	// Donor reads draw from the shared donor budget so passes across all
	// workers stay inside the API's limits.
	release, err := e.dispatcher.Admit(ctx, SystemDonor)
	if err != nil {
		log.WithError(err).Warn("Donor budget wait failed, deferring pass")
		_ = e.emitter.EmitDeferred(ctx, identity, guildID)
		metrics.RecordReconcilePass(guildID, "deferred", time.Since(start).Seconds())
		return err
	}

	desired, err := e.donor.FetchDesiredState(ctx, identity, settings)
	if release != nil {
		release()
	}
	if err != nil {
		if err == platform.ErrEntityNotLinked {
			return ErrEntityNotLinked
		}
		log.WithError(err).Warn("Donor fetch failed, deferring pass")
		_ = e.emitter.EmitDeferred(ctx, identity, guildID)
		metrics.RecordReconcilePass(guildID, "deferred", time.Since(start).Seconds())
		return err
	}

	observed, err := e.guild.FetchObservedState(ctx, identity, guildID)
	if err != nil {
		log.WithError(err).Warn("Guild fetch failed, deferring pass")
		_ = e.emitter.EmitDeferred(ctx, identity, guildID)
		metrics.RecordReconcilePass(guildID, "deferred", time.Since(start).Seconds())
		return err
	}

	rec.Desired = database.JSONB[models.State]{Data: desired.Clone()}

	plan := e.planner.BuildPlan(rec, desired, observed, settings)
	if plan.Converged() {
		rec.MarkConverged(desired, time.Now().UTC())
		if err := e.records.Put(ctx, rec); err != nil {
			return err
		}
		_ = e.emitter.EmitConverged(ctx, rec, 0)
		metrics.RecordReconcilePass(guildID, "converged", time.Since(start).Seconds())
		log.WithFields(map[string]any{"sequence": rec.Sequence}).Debug("Pass converged with no drift")
		return nil
	}

	log.WithFields(map[string]any{"operations": len(plan.Ops), "suppressed": plan.Skipped}).
		Info("Executing correction plan")

	applied := e.execute(ctx, rec, plan, log)

	if len(rec.Issues.Data) == 0 {
		rec.MarkConverged(desired, time.Now().UTC())
		if err := e.records.Put(ctx, rec); err != nil {
			return err
		}
		_ = e.emitter.EmitConverged(ctx, rec, applied)
		metrics.RecordReconcilePass(guildID, "converged", time.Since(start).Seconds())
		log.WithFields(map[string]any{"sequence": rec.Sequence, "applied": applied}).Info("Pass converged")
		return nil
	}

	// partial pass: the checkpoint keeps the applied set so the next pass
	// picks up exactly where this one stopped
	if err := e.records.Put(ctx, rec); err != nil {
		return err
	}
	_ = e.emitter.EmitFailed(ctx, rec, applied)
	metrics.RecordReconcilePass(guildID, "partial", time.Since(start).Seconds())
	log.WithFields(map[string]any{"applied": applied, "issues": len(rec.Issues.Data)}).
		Warn("Pass left pending issues")
	return nil
}

// execute runs the plan in order. A failed operation blocks the rest of its
// category for this pass but never the other categories, and never another
// entity. Returns the number of operations applied.
func (e *Engine) execute(ctx context.Context, rec *models.SyncRecord, plan reconciler.Plan, log ectologger.Logger) int {
	applied := 0
	blocked := make(map[models.AttributeCategory]bool)

	for _, op := range plan.Ops {
		if blocked[op.Category] {
			continue
		}

		outcome := e.dispatcher.Dispatch(ctx, SystemGuild, op)
		switch outcome.Status {
		case platform.StatusApplied, platform.StatusNoOp:
			rec.MarkApplied(op)
			applied++
			// persist after every applied operation so a crash mid-pass
			// never re-issues completed writes
			if err := e.records.Put(ctx, rec); err != nil {
				log.WithError(err).Error("Failed to checkpoint applied operation")
			}

		case platform.StatusFatal:
			rec.RecordIssue(models.PendingIssue{
				Category:   op.Category,
				Kind:       op.Kind,
				Value:      op.Value,
				Severity:   models.IssueFatal,
				Message:    outcome.Err.Error(),
				RecordedAt: time.Now().UTC(),
			})
			blocked[op.Category] = true

		default:
			rec.RecordIssue(models.PendingIssue{
				Category:   op.Category,
				Kind:       op.Kind,
				Value:      op.Value,
				Severity:   models.IssueTransient,
				Message:    outcome.Err.Error(),
				RecordedAt: time.Now().UTC(),
			})
			blocked[op.Category] = true
		}
	}

	return applied
}

// Link establishes the sync record for an entity and returns it. The first
// reconciliation pass is the caller's responsibility, usually by enqueueing
// a reconcile job.
func (e *Engine) Link(ctx context.Context, guildID, guildMemberID string) (*models.SyncRecord, error) {
	ctx, span := tracing.StartSpan(ctx, "Engine.Link")
	defer span.End()

	identity, err := e.donor.ResolveIdentity(ctx, guildMemberID)
	if err != nil {
		return nil, err
	}

	rec := &models.SyncRecord{
		ID:            uuid.New(),
		Identity:      string(identity),
		GuildID:       guildID,
		DonorUserID:   string(identity),
		GuildMemberID: guildMemberID,
		Desired:       database.JSONB[models.State]{Data: models.NewState()},
		Observed:      database.JSONB[models.State]{Data: models.NewState()},
	}

	return e.records.Create(ctx, rec)
}

// Unlink removes the sync record. Platform state is left as-is; attributes
// already granted stay until an operator removes them.
func (e *Engine) Unlink(ctx context.Context, identity models.Identity, guildID string) error {
	ctx, span := tracing.StartSpan(ctx, "Engine.Unlink")
	defer span.End()

	if err := e.records.Delete(ctx, string(identity), guildID); err != nil {
		return err
	}

	_ = e.emitter.EmitUnlinked(ctx, identity, guildID)
	return nil
}
