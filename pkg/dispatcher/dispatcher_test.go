package dispatcher

import (
	"context"
	"testing"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/stretchr/testify/assert"

	"github.com/howkawgew/PlasmoSyncBot/pkg/models"
	"github.com/howkawgew/PlasmoSyncBot/pkg/platform"
)

// scriptedAdapter returns one canned result per Apply call, repeating the
// last one when the script runs out.
type scriptedAdapter struct {
	results []platform.ApplyResult
	calls   int
}

func (s *scriptedAdapter) FetchObservedState(ctx context.Context, identity models.Identity, guildID string) (models.State, error) {
	return models.NewState(), nil
}

func (s *scriptedAdapter) Apply(ctx context.Context, op models.CorrectiveOperation) platform.ApplyResult {
	idx := s.calls
	if idx >= len(s.results) {
		idx = len(s.results) - 1
	}
	s.calls++
	return s.results[idx]
}

func newTestDispatcher(cfg Config, adapter platform.GuildAdapter) *Dispatcher {
	logger := ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
	// no budgets configured, so dispatch never touches redis
	return New(cfg, nil, nil, adapter, logger)
}

func fastConfig() Config {
	return Config{
		MaxAttempts: 3,
		BaseBackoff: time.Millisecond,
		MaxBackoff:  5 * time.Millisecond,
		MaxWait:     time.Second,
	}
}

func testOp() models.CorrectiveOperation {
	return models.NewCorrectiveOperation("user-1", "guild-1", models.OpAdd, models.CategoryRole, "admin")
}

func TestDispatch_AppliedFirstAttempt(t *testing.T) {
	adapter := &scriptedAdapter{results: []platform.ApplyResult{{Status: platform.StatusApplied}}}
	d := newTestDispatcher(fastConfig(), adapter)

	outcome := d.Dispatch(context.Background(), "guild", testOp())

	assert.Equal(t, platform.StatusApplied, outcome.Status)
	assert.Equal(t, 1, outcome.Attempts)
	assert.NoError(t, outcome.Err)
	assert.Equal(t, 1, adapter.calls)
}

func TestDispatch_RetriesTransientThenApplies(t *testing.T) {
	adapter := &scriptedAdapter{results: []platform.ApplyResult{
		{Status: platform.StatusTransient, Err: assert.AnError},
		{Status: platform.StatusTransient, Err: assert.AnError},
		{Status: platform.StatusApplied},
	}}
	d := newTestDispatcher(fastConfig(), adapter)

	outcome := d.Dispatch(context.Background(), "guild", testOp())

	assert.Equal(t, platform.StatusApplied, outcome.Status)
	assert.Equal(t, 3, outcome.Attempts)
	assert.Equal(t, 3, adapter.calls)
}

func TestDispatch_TransientExhaustsRetryBudget(t *testing.T) {
	adapter := &scriptedAdapter{results: []platform.ApplyResult{
		{Status: platform.StatusTransient, Err: assert.AnError},
	}}
	d := newTestDispatcher(fastConfig(), adapter)

	outcome := d.Dispatch(context.Background(), "guild", testOp())

	assert.Equal(t, platform.StatusTransient, outcome.Status)
	assert.Equal(t, 3, outcome.Attempts)
	assert.Error(t, outcome.Err)
	assert.Equal(t, 3, adapter.calls)
}

func TestDispatch_FatalStopsImmediately(t *testing.T) {
	adapter := &scriptedAdapter{results: []platform.ApplyResult{
		{Status: platform.StatusFatal, Err: assert.AnError},
	}}
	d := newTestDispatcher(fastConfig(), adapter)

	outcome := d.Dispatch(context.Background(), "guild", testOp())

	assert.Equal(t, platform.StatusFatal, outcome.Status)
	assert.Equal(t, 1, outcome.Attempts)
	assert.Equal(t, 1, adapter.calls)
}

func TestAdmit_UnbudgetedSystemIsImmediate(t *testing.T) {
	d := newTestDispatcher(fastConfig(), &scriptedAdapter{results: []platform.ApplyResult{{}}})

	release, err := d.Admit(context.Background(), "donor")

	assert.NoError(t, err)
	assert.Nil(t, release)
}

func TestBackoff_BoundedByMaxBackoff(t *testing.T) {
	d := newTestDispatcher(Config{
		MaxAttempts: 10,
		BaseBackoff: 100 * time.Millisecond,
		MaxBackoff:  time.Second,
	}, &scriptedAdapter{results: []platform.ApplyResult{{}}})

	for attempt := 1; attempt <= 10; attempt++ {
		delay := d.backoff(attempt)
		assert.GreaterOrEqual(t, delay, 100*time.Millisecond)
		// max plus 25% jitter
		assert.LessOrEqual(t, delay, 1250*time.Millisecond)
	}
}

func TestBackoff_DeepAttemptsSaturate(t *testing.T) {
	d := newTestDispatcher(Config{
		MaxAttempts: 100,
		BaseBackoff: 100 * time.Millisecond,
		MaxBackoff:  time.Second,
	}, &scriptedAdapter{results: []platform.ApplyResult{{}}})

	// shifting the base this far would overflow a plain left shift
	for _, attempt := range []int{37, 40, 64, 100} {
		delay := d.backoff(attempt)
		assert.GreaterOrEqual(t, delay, time.Second)
		assert.LessOrEqual(t, delay, 1250*time.Millisecond)
	}
}
