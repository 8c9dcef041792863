package reconciler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/howkawgew/PlasmoSyncBot/pkg/database"
	"github.com/howkawgew/PlasmoSyncBot/pkg/models"
)

func allOnSettings() *models.GuildSettings {
	return &models.GuildSettings{
		GuildID:  "guild-1",
		Verified: true,
		Switches: database.JSONB[map[string]bool]{Data: map[string]bool{
			models.SwitchSyncRoles:     true,
			models.SwitchSyncNicknames: true,
			models.SwitchSyncBans:      true,
			models.SwitchWhitelist:     true,
			models.SwitchUseAPI:        true,
		}},
	}
}

func record() *models.SyncRecord {
	return &models.SyncRecord{Identity: "steve", GuildID: "guild-1"}
}

func TestBuildPlan_Converged(t *testing.T) {
	desired := models.NewState()
	desired.Set(models.CategoryRole, "builder")
	observed := desired.Clone()

	plan := New().BuildPlan(record(), desired, observed, allOnSettings())

	assert.True(t, plan.Converged())
	assert.Zero(t, plan.Skipped)
}

func TestBuildPlan_RemovalsBeforeAdditions(t *testing.T) {
	desired := models.NewState()
	desired.Set(models.CategoryRole, "admin", "builder")

	observed := models.NewState()
	observed.Set(models.CategoryRole, "visitor", "builder")

	plan := New().BuildPlan(record(), desired, observed, allOnSettings())

	require.Len(t, plan.Ops, 2)
	assert.Equal(t, models.OpRemove, plan.Ops[0].Kind)
	assert.Equal(t, "visitor", plan.Ops[0].Value)
	assert.Equal(t, models.OpAdd, plan.Ops[1].Kind)
	assert.Equal(t, "admin", plan.Ops[1].Value)
}

func TestBuildPlan_CategoryOrdering(t *testing.T) {
	desired := models.NewState()
	desired.Set(models.CategoryMembership, models.MembershipMember)
	desired.Set(models.CategoryRole, "builder")
	desired.Set(models.CategoryNickname, "Steve")

	observed := models.NewState()

	plan := New().BuildPlan(record(), desired, observed, allOnSettings())

	require.Len(t, plan.Ops, 3)
	assert.Equal(t, models.CategoryMembership, plan.Ops[0].Category)
	assert.Equal(t, models.CategoryRole, plan.Ops[1].Category)
	assert.Equal(t, models.CategoryNickname, plan.Ops[2].Category)
}

func TestBuildPlan_Deterministic(t *testing.T) {
	desired := models.NewState()
	desired.Set(models.CategoryRole, "zeta", "alpha", "mid")

	observed := models.NewState()
	observed.Set(models.CategoryRole, "gone-b", "gone-a")

	first := New().BuildPlan(record(), desired, observed, allOnSettings())
	second := New().BuildPlan(record(), desired, observed, allOnSettings())

	require.Equal(t, len(first.Ops), len(second.Ops))
	for i := range first.Ops {
		assert.Equal(t, first.Ops[i], second.Ops[i])
	}

	// Values are ordered lexicographically within each phase.
	var values []string
	for _, op := range first.Ops {
		values = append(values, op.Value)
	}
	assert.Equal(t, []string{"gone-a", "gone-b", "alpha", "mid", "zeta"}, values)
}

func TestBuildPlan_SingleValuedUpdate(t *testing.T) {
	t.Run("changed nickname is one update, not remove plus add", func(t *testing.T) {
		desired := models.NewState()
		desired.Set(models.CategoryNickname, "Steve")

		observed := models.NewState()
		observed.Set(models.CategoryNickname, "xXsteveXx")

		plan := New().BuildPlan(record(), desired, observed, allOnSettings())

		require.Len(t, plan.Ops, 1)
		assert.Equal(t, models.OpUpdate, plan.Ops[0].Kind)
		assert.Equal(t, "Steve", plan.Ops[0].Value)
	})

	t.Run("cleared nickname is a removal", func(t *testing.T) {
		observed := models.NewState()
		observed.Set(models.CategoryNickname, "xXsteveXx")

		plan := New().BuildPlan(record(), models.NewState(), observed, allOnSettings())

		require.Len(t, plan.Ops, 1)
		assert.Equal(t, models.OpRemove, plan.Ops[0].Kind)
		assert.Equal(t, "xXsteveXx", plan.Ops[0].Value)
	})
}

func TestBuildPlan_SuppressesAppliedOperations(t *testing.T) {
	desired := models.NewState()
	desired.Set(models.CategoryRole, "builder", "admin")

	observed := models.NewState()

	rec := record()
	rec.MarkApplied(models.NewCorrectiveOperation("steve", "guild-1", models.OpAdd, models.CategoryRole, "builder"))

	// MarkApplied already moved "builder" into the observed snapshot; the plan
	// here diffs against the stale platform read, as a crashed pass would.
	plan := New().BuildPlan(rec, desired, observed, allOnSettings())

	require.Len(t, plan.Ops, 1)
	assert.Equal(t, "admin", plan.Ops[0].Value)
	assert.Equal(t, 1, plan.Skipped)
}

func TestBuildPlan_DisabledCategoriesAreUntouched(t *testing.T) {
	desired := models.NewState()
	desired.Set(models.CategoryRole, "builder")
	desired.Set(models.CategoryNickname, "Steve")

	observed := models.NewState()

	settings := allOnSettings()
	settings.Switches.Data[models.SwitchSyncNicknames] = false

	plan := New().BuildPlan(record(), desired, observed, settings)

	require.Len(t, plan.Ops, 1)
	assert.Equal(t, models.CategoryRole, plan.Ops[0].Category)
}

func TestBuildPlan_UnverifiedGuildSkipsPrivilegedCategories(t *testing.T) {
	desired := models.NewState()
	desired.Set(models.CategoryMembership, models.MembershipMember)
	desired.Set(models.CategoryBan, models.BanActive)
	desired.Set(models.CategoryRole, "builder")

	observed := models.NewState()

	settings := allOnSettings()
	settings.Verified = false

	plan := New().BuildPlan(record(), desired, observed, settings)

	require.Len(t, plan.Ops, 1)
	assert.Equal(t, models.CategoryRole, plan.Ops[0].Category)
}
