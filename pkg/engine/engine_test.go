package engine

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/howkawgew/PlasmoSyncBot/pkg/database"
	"github.com/howkawgew/PlasmoSyncBot/pkg/dispatcher"
	"github.com/howkawgew/PlasmoSyncBot/pkg/models"
	"github.com/howkawgew/PlasmoSyncBot/pkg/platform"
	"github.com/howkawgew/PlasmoSyncBot/pkg/reconciler"
	"github.com/howkawgew/PlasmoSyncBot/pkg/redis"
)

type fakeRecords struct {
	rec     *models.SyncRecord
	puts    int
	deleted []string
	putErr  error
}

func (f *fakeRecords) Get(_ context.Context, identity, guildID string) (*models.SyncRecord, error) {
	if f.rec == nil {
		return nil, httperror.NewHTTPErrorf(http.StatusNotFound, "sync record for %s in guild %s not found", identity, guildID)
	}
	return f.rec, nil
}

func (f *fakeRecords) Put(_ context.Context, _ *models.SyncRecord) error {
	f.puts++
	return f.putErr
}

func (f *fakeRecords) Create(_ context.Context, rec *models.SyncRecord) (*models.SyncRecord, error) {
	f.rec = rec
	return rec, nil
}

func (f *fakeRecords) Delete(_ context.Context, identity, guildID string) error {
	f.deleted = append(f.deleted, identity+":"+guildID)
	return nil
}

type fakeSettings struct {
	settings *models.GuildSettings
}

func (f *fakeSettings) Get(_ context.Context, _ string) (*models.GuildSettings, error) {
	return f.settings, nil
}

type fakeDonor struct {
	state    models.State
	err      error
	identity models.Identity
}

func (f *fakeDonor) FetchDesiredState(_ context.Context, _ models.Identity, _ *models.GuildSettings) (models.State, error) {
	return f.state, f.err
}

func (f *fakeDonor) ResolveIdentity(_ context.Context, _ string) (models.Identity, error) {
	if f.identity == "" {
		return "", platform.ErrEntityNotLinked
	}
	return f.identity, nil
}

type fakeGuild struct {
	state models.State
	err   error
}

func (f *fakeGuild) FetchObservedState(_ context.Context, _ models.Identity, _ string) (models.State, error) {
	return f.state, f.err
}

func (f *fakeGuild) Apply(_ context.Context, _ models.CorrectiveOperation) platform.ApplyResult {
	return platform.ApplyResult{Status: platform.StatusApplied}
}

// fakeDispatcher returns scripted outcomes per operation; everything not
// scripted applies on the first attempt.
type fakeDispatcher struct {
	outcomes   map[string]dispatcher.Outcome
	dispatched []models.CorrectiveOperation
	admits     int
	admitErr   error
}

func opKey(op models.CorrectiveOperation) string {
	return fmt.Sprintf("%s/%s/%s", op.Category, op.Kind, op.Value)
}

func (f *fakeDispatcher) Dispatch(_ context.Context, _ string, op models.CorrectiveOperation) dispatcher.Outcome {
	f.dispatched = append(f.dispatched, op)
	if outcome, ok := f.outcomes[opKey(op)]; ok {
		outcome.Op = op
		return outcome
	}
	return dispatcher.Outcome{Op: op, Status: platform.StatusApplied, Attempts: 1}
}

func (f *fakeDispatcher) Admit(_ context.Context, _ string) (func(), error) {
	f.admits++
	if f.admitErr != nil {
		return nil, f.admitErr
	}
	return func() {}, nil
}

type fakeEmitter struct {
	converged, failed, deferred, unlinked int
	lastOperations                        int
}

func (f *fakeEmitter) EmitConverged(_ context.Context, _ *models.SyncRecord, operations int) error {
	f.converged++
	f.lastOperations = operations
	return nil
}

func (f *fakeEmitter) EmitFailed(_ context.Context, _ *models.SyncRecord, operations int) error {
	f.failed++
	f.lastOperations = operations
	return nil
}

func (f *fakeEmitter) EmitDeferred(_ context.Context, _ models.Identity, _ string) error {
	f.deferred++
	return nil
}

func (f *fakeEmitter) EmitUnlinked(_ context.Context, _ models.Identity, _ string) error {
	f.unlinked++
	return nil
}

type fakeLock struct {
	released bool
}

func (f *fakeLock) Release(_ context.Context) error {
	f.released = true
	return nil
}

type fakeLocker struct {
	busy bool
	lock *fakeLock
}

func (f *fakeLocker) TryAcquire(_ context.Context, _ string, _, _ time.Duration) (entityLock, error) {
	if f.busy {
		return nil, redis.ErrLockNotAcquired
	}
	f.lock = &fakeLock{}
	return f.lock, nil
}

type engineFixture struct {
	engine     *Engine
	records    *fakeRecords
	donor      *fakeDonor
	guild      *fakeGuild
	dispatcher *fakeDispatcher
	emitter    *fakeEmitter
	locker     *fakeLocker
}

func newFixture(settings *models.GuildSettings) *engineFixture {
	f := &engineFixture{
		records:    &fakeRecords{},
		donor:      &fakeDonor{identity: "user-1"},
		guild:      &fakeGuild{state: models.NewState()},
		dispatcher: &fakeDispatcher{},
		emitter:    &fakeEmitter{},
		locker:     &fakeLocker{},
	}
	f.engine = &Engine{
		records:    f.records,
		settings:   &fakeSettings{settings: settings},
		donor:      f.donor,
		guild:      f.guild,
		planner:    reconciler.New(),
		dispatcher: f.dispatcher,
		locker:     f.locker,
		emitter:    f.emitter,
		logger:     ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {}),
	}
	return f
}

func allOnSettings() *models.GuildSettings {
	switches := models.DefaultSwitches()
	for name := range switches {
		switches[name] = true
	}
	return &models.GuildSettings{
		GuildID:  "guild-1",
		Verified: true,
		Switches: database.JSONB[map[string]bool]{Data: switches},
	}
}

func linkedRecord() *models.SyncRecord {
	return &models.SyncRecord{
		ID:            uuid.New(),
		Identity:      "user-1",
		GuildID:       "guild-1",
		DonorUserID:   "user-1",
		GuildMemberID: "member-1",
		Desired:       database.JSONB[models.State]{Data: models.NewState()},
		Observed:      database.JSONB[models.State]{Data: models.NewState()},
	}
}

func TestReconcile_AppliesDriftAndConverges(t *testing.T) {
	f := newFixture(allOnSettings())
	f.records.rec = linkedRecord()
	f.donor.state = models.NewState()
	f.donor.state.Set(models.CategoryRole, "admin", "builder")

	err := f.engine.Reconcile(context.Background(), "user-1", "guild-1")
	require.NoError(t, err)

	assert.Len(t, f.dispatcher.dispatched, 2)
	assert.Equal(t, 1, f.emitter.converged)
	assert.Equal(t, 0, f.emitter.failed)
	assert.Equal(t, 2, f.emitter.lastOperations)
	assert.Equal(t, int64(1), f.records.rec.Sequence)
	// every applied operation is checkpointed, plus the converged write
	assert.Equal(t, 3, f.records.puts)
	assert.True(t, f.locker.lock.released, "the entity lock is released when the pass ends")
}

func TestReconcile_NoDriftIsConverged(t *testing.T) {
	f := newFixture(allOnSettings())
	f.records.rec = linkedRecord()
	f.donor.state = models.NewState()
	f.donor.state.Set(models.CategoryRole, "admin")
	f.guild.state = models.NewState()
	f.guild.state.Set(models.CategoryRole, "admin")

	err := f.engine.Reconcile(context.Background(), "user-1", "guild-1")
	require.NoError(t, err)

	assert.Empty(t, f.dispatcher.dispatched)
	assert.Equal(t, 1, f.emitter.converged)
	assert.Equal(t, 0, f.emitter.lastOperations)
}

func TestReconcile_FatalBlocksOnlyItsCategory(t *testing.T) {
	f := newFixture(allOnSettings())
	f.records.rec = linkedRecord()
	f.donor.state = models.NewState()
	f.donor.state.Set(models.CategoryRole, "admin")
	f.donor.state.Set(models.CategoryNickname, "Steve")
	f.dispatcher.outcomes = map[string]dispatcher.Outcome{
		"role/add/admin": {Status: platform.StatusFatal, Err: errors.New("missing permission")},
	}

	err := f.engine.Reconcile(context.Background(), "user-1", "guild-1")
	require.NoError(t, err)

	// the nickname correction still runs after the role failure
	require.Len(t, f.dispatcher.dispatched, 2)
	assert.Equal(t, models.CategoryNickname, f.dispatcher.dispatched[1].Category)

	require.Len(t, f.records.rec.Issues.Data, 1)
	issue := f.records.rec.Issues.Data[0]
	assert.Equal(t, models.CategoryRole, issue.Category)
	assert.Equal(t, models.IssueFatal, issue.Severity)

	assert.Equal(t, 1, f.emitter.failed)
	assert.Equal(t, 0, f.emitter.converged)
	assert.Equal(t, int64(0), f.records.rec.Sequence, "a partial pass does not advance the sequence")
}

func TestReconcile_TransientFailureBlocksRestOfCategory(t *testing.T) {
	f := newFixture(allOnSettings())
	f.records.rec = linkedRecord()
	f.donor.state = models.NewState()
	f.donor.state.Set(models.CategoryRole, "admin", "builder")
	f.dispatcher.outcomes = map[string]dispatcher.Outcome{
		"role/add/admin": {Status: platform.StatusTransient, Err: errors.New("rate limited")},
	}

	err := f.engine.Reconcile(context.Background(), "user-1", "guild-1")
	require.NoError(t, err)

	// the second role operation is held back for the next pass
	assert.Len(t, f.dispatcher.dispatched, 1)
	require.Len(t, f.records.rec.Issues.Data, 1)
	assert.Equal(t, models.IssueTransient, f.records.rec.Issues.Data[0].Severity)
	assert.Equal(t, 1, f.emitter.failed)
}

func TestReconcile_RetriedOperationClearsItsIssue(t *testing.T) {
	f := newFixture(allOnSettings())
	rec := linkedRecord()
	rec.RecordIssue(models.PendingIssue{
		Category:   models.CategoryRole,
		Kind:       models.OpAdd,
		Value:      "admin",
		Severity:   models.IssueTransient,
		Message:    "rate limited",
		RecordedAt: time.Now().UTC(),
	})
	f.records.rec = rec
	f.donor.state = models.NewState()
	f.donor.state.Set(models.CategoryRole, "admin")

	err := f.engine.Reconcile(context.Background(), "user-1", "guild-1")
	require.NoError(t, err)

	assert.Empty(t, f.records.rec.Issues.Data)
	assert.Equal(t, 1, f.emitter.converged)
	assert.Equal(t, 0, f.emitter.failed, "a pass that retries its way clean does not report failure")
}

func TestReconcile_EntityBusy(t *testing.T) {
	f := newFixture(allOnSettings())
	f.records.rec = linkedRecord()
	f.locker.busy = true

	err := f.engine.Reconcile(context.Background(), "user-1", "guild-1")

	assert.Equal(t, ErrEntityBusy, err)
	assert.Empty(t, f.dispatcher.dispatched)
	assert.Zero(t, f.records.puts)
}

func TestReconcile_UnlinkedEntity(t *testing.T) {
	f := newFixture(allOnSettings())

	err := f.engine.Reconcile(context.Background(), "user-1", "guild-1")

	assert.Equal(t, ErrEntityNotLinked, err)
	assert.Empty(t, f.dispatcher.dispatched)
}

func TestReconcile_DisabledGuildSkips(t *testing.T) {
	settings := allOnSettings()
	settings.Switches.Data[models.SwitchUseAPI] = false
	f := newFixture(settings)
	f.records.rec = linkedRecord()

	err := f.engine.Reconcile(context.Background(), "user-1", "guild-1")
	require.NoError(t, err)

	assert.Empty(t, f.dispatcher.dispatched)
	assert.Equal(t, 0, f.emitter.converged)
	assert.Equal(t, 0, f.emitter.deferred)
}

func TestReconcile_DonorFetchFailureDefers(t *testing.T) {
	f := newFixture(allOnSettings())
	f.records.rec = linkedRecord()
	f.donor.err = errors.New("donor api unavailable")

	err := f.engine.Reconcile(context.Background(), "user-1", "guild-1")

	assert.Error(t, err)
	assert.Equal(t, 1, f.emitter.deferred)
	assert.Empty(t, f.dispatcher.dispatched)
	assert.Zero(t, f.records.puts, "a deferred pass writes nothing")
}

func TestReconcile_BudgetWaitFailureDefers(t *testing.T) {
	f := newFixture(allOnSettings())
	f.records.rec = linkedRecord()
	f.dispatcher.admitErr = errors.New("budget wait timed out")

	err := f.engine.Reconcile(context.Background(), "user-1", "guild-1")

	assert.Error(t, err)
	assert.Equal(t, 1, f.emitter.deferred)
	assert.Empty(t, f.dispatcher.dispatched)
}

func TestLink(t *testing.T) {
	f := newFixture(allOnSettings())
	f.donor.identity = "user-9"

	rec, err := f.engine.Link(context.Background(), "guild-1", "member-9")
	require.NoError(t, err)

	assert.Equal(t, "user-9", rec.Identity)
	assert.Equal(t, "guild-1", rec.GuildID)
	assert.Equal(t, "member-9", rec.GuildMemberID)
}

func TestLink_UnresolvedIdentity(t *testing.T) {
	f := newFixture(allOnSettings())
	f.donor.identity = ""

	_, err := f.engine.Link(context.Background(), "guild-1", "member-9")

	assert.Equal(t, platform.ErrEntityNotLinked, err)
	assert.Nil(t, f.records.rec)
}

func TestUnlink(t *testing.T) {
	f := newFixture(allOnSettings())
	f.records.rec = linkedRecord()

	err := f.engine.Unlink(context.Background(), "user-1", "guild-1")
	require.NoError(t, err)

	assert.Equal(t, []string{"user-1:guild-1"}, f.records.deleted)
	assert.Equal(t, 1, f.emitter.unlinked)
}
