package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/howkawgew/PlasmoSyncBot/pkg/database"
)

func TestMarkApplied(t *testing.T) {
	t.Run("records the key and advances the observed snapshot", func(t *testing.T) {
		rec := &SyncRecord{Identity: "steve", GuildID: "guild-1"}

		op := NewCorrectiveOperation("steve", "guild-1", OpAdd, CategoryRole, "builder")
		rec.MarkApplied(op)

		assert.True(t, rec.HasApplied(op.IdempotencyKey))
		assert.True(t, rec.Observed.Data.Has(CategoryRole, "builder"))
	})

	t.Run("applying the same operation twice is a no-op", func(t *testing.T) {
		rec := &SyncRecord{Identity: "steve", GuildID: "guild-1"}

		op := NewCorrectiveOperation("steve", "guild-1", OpAdd, CategoryRole, "builder")
		rec.MarkApplied(op)
		rec.MarkApplied(op)

		assert.Len(t, rec.AppliedKeys.Data, 1)
		assert.Equal(t, []string{"builder"}, rec.Observed.Data.Values(CategoryRole))
	})

	t.Run("remove clears the value", func(t *testing.T) {
		rec := &SyncRecord{Identity: "steve", GuildID: "guild-1"}
		observed := NewState()
		observed.Set(CategoryRole, "builder", "admin")
		rec.Observed = database.JSONB[State]{Data: observed}

		rec.MarkApplied(NewCorrectiveOperation("steve", "guild-1", OpRemove, CategoryRole, "admin"))

		assert.Equal(t, []string{"builder"}, rec.Observed.Data.Values(CategoryRole))
	})

	t.Run("retires the pending issue for the same operation", func(t *testing.T) {
		rec := &SyncRecord{Identity: "steve", GuildID: "guild-1"}
		rec.RecordIssue(PendingIssue{Category: CategoryRole, Kind: OpAdd, Value: "builder", Severity: IssueTransient, Message: "rate limited"})

		rec.MarkApplied(NewCorrectiveOperation("steve", "guild-1", OpAdd, CategoryRole, "builder"))

		assert.Empty(t, rec.Issues.Data, "a retried operation that succeeds clears its issue")
	})

	t.Run("leaves issues for other operations in place", func(t *testing.T) {
		rec := &SyncRecord{Identity: "steve", GuildID: "guild-1"}
		rec.RecordIssue(PendingIssue{Category: CategoryRole, Kind: OpAdd, Value: "builder", Severity: IssueTransient})
		rec.RecordIssue(PendingIssue{Category: CategoryNickname, Kind: OpUpdate, Value: "Steve", Severity: IssueFatal})

		rec.MarkApplied(NewCorrectiveOperation("steve", "guild-1", OpAdd, CategoryRole, "builder"))

		assert.Len(t, rec.Issues.Data, 1)
		assert.Equal(t, CategoryNickname, rec.Issues.Data[0].Category)
	})

	t.Run("update replaces a single valued slot", func(t *testing.T) {
		rec := &SyncRecord{Identity: "steve", GuildID: "guild-1"}
		observed := NewState()
		observed.Set(CategoryNickname, "xXsteveXx")
		rec.Observed = database.JSONB[State]{Data: observed}

		rec.MarkApplied(NewCorrectiveOperation("steve", "guild-1", OpUpdate, CategoryNickname, "Steve"))

		assert.Equal(t, []string{"Steve"}, rec.Observed.Data.Values(CategoryNickname))
	})
}

func TestMarkConverged(t *testing.T) {
	rec := &SyncRecord{Identity: "steve", GuildID: "guild-1", Sequence: 4}
	rec.MarkApplied(NewCorrectiveOperation("steve", "guild-1", OpAdd, CategoryRole, "builder"))
	rec.RecordIssue(PendingIssue{Category: CategoryBan, Kind: OpAdd, Severity: IssueTransient})

	desired := NewState()
	desired.Set(CategoryRole, "builder")
	desired.Set(CategoryNickname, "Steve")

	now := time.Now().UTC()
	rec.MarkConverged(desired, now)

	assert.Equal(t, int64(5), rec.Sequence)
	assert.Empty(t, rec.AppliedKeys.Data, "applied set resets for the next generation")
	assert.Empty(t, rec.Issues.Data)
	assert.True(t, rec.Desired.Data.Equal(rec.Observed.Data))
	assert.Equal(t, now, *rec.LastReconciledAt)

	// Keys from the closed generation no longer suppress operations.
	op := NewCorrectiveOperation("steve", "guild-1", OpAdd, CategoryRole, "builder")
	assert.False(t, rec.HasApplied(op.IdempotencyKey))
}

func TestRecordIssue(t *testing.T) {
	rec := &SyncRecord{Identity: "steve", GuildID: "guild-1"}

	first := PendingIssue{Category: CategoryRole, Kind: OpAdd, Value: "builder", Severity: IssueTransient, Message: "rate limited"}
	rec.RecordIssue(first)
	rec.RecordIssue(PendingIssue{Category: CategoryBan, Kind: OpAdd, Value: "banned", Severity: IssueFatal})
	assert.Len(t, rec.Issues.Data, 2)

	// Re-recording the same operation replaces the previous issue.
	rec.RecordIssue(PendingIssue{Category: CategoryRole, Kind: OpAdd, Value: "builder", Severity: IssueFatal, Message: "forbidden"})
	assert.Len(t, rec.Issues.Data, 2)

	var found *PendingIssue
	for i := range rec.Issues.Data {
		if rec.Issues.Data[i].Category == CategoryRole {
			found = &rec.Issues.Data[i]
		}
	}
	assert.NotNil(t, found)
	assert.Equal(t, IssueFatal, found.Severity)
	assert.Equal(t, "forbidden", found.Message)
}
