// Package reconciler plans the corrective operations that move an entity's
// observed state toward the donor's desired state. Planning is pure: it
// performs no I/O and is deterministic for a given input, so interrupted
// passes replan to the identical operation sequence.
package reconciler

import (
	"sort"

	"github.com/howkawgew/PlasmoSyncBot/pkg/models"
)

// Plan is the ordered operation sequence for one reconciliation pass.
type Plan struct {
	Identity models.Identity
	GuildID  string
	Ops      []models.CorrectiveOperation

	// Skipped counts operations suppressed because the current generation
	// already applied them.
	Skipped int
}

// Converged reports whether the pass has nothing left to correct.
func (p Plan) Converged() bool {
	return len(p.Ops) == 0
}

// Reconciler computes correction plans.
type Reconciler struct{}

// New creates a new reconciler.
func New() *Reconciler {
	return &Reconciler{}
}

// BuildPlan diffs desired against observed state and returns the ordered
// corrective operations. Categories the guild settings disable are left
// untouched. Within a pass, removals for a category are ordered before its
// additions so exclusive slots are vacated before replacement values land;
// categories are ordered by their registry ID and values lexicographically,
// which keeps the sequence stable across runs.
//
// Operations whose idempotency key the record has already applied in the
// current generation are suppressed rather than re-issued.
func (r *Reconciler) BuildPlan(rec *models.SyncRecord, desired, observed models.State, settings *models.GuildSettings) Plan {
	plan := Plan{Identity: models.Identity(rec.Identity), GuildID: rec.GuildID}

	for _, spec := range models.Categories() {
		if !settings.CategoryEnabled(spec) {
			continue
		}

		var ops []models.CorrectiveOperation
		if spec.SingleValued {
			ops = r.diffSingleValued(rec, spec, desired, observed)
		} else {
			ops = r.diffMultiValued(rec, spec, desired, observed)
		}

		for _, op := range ops {
			if rec.HasApplied(op.IdempotencyKey) {
				plan.Skipped++
				continue
			}
			plan.Ops = append(plan.Ops, op)
		}
	}

	return plan
}

func (r *Reconciler) diffMultiValued(rec *models.SyncRecord, spec models.CategorySpec, desired, observed models.State) []models.CorrectiveOperation {
	desiredValues := desired.Values(spec.Name)
	observedValues := observed.Values(spec.Name)

	wanted := make(map[string]bool, len(desiredValues))
	for _, v := range desiredValues {
		wanted[v] = true
	}
	held := make(map[string]bool, len(observedValues))
	for _, v := range observedValues {
		held[v] = true
	}

	var removals, additions []string
	for _, v := range observedValues {
		if !wanted[v] {
			removals = append(removals, v)
		}
	}
	for _, v := range desiredValues {
		if !held[v] {
			additions = append(additions, v)
		}
	}
	sort.Strings(removals)
	sort.Strings(additions)

	ops := make([]models.CorrectiveOperation, 0, len(removals)+len(additions))
	for _, v := range removals {
		ops = append(ops, models.NewCorrectiveOperation(models.Identity(rec.Identity), rec.GuildID, models.OpRemove, spec.Name, v))
	}
	for _, v := range additions {
		ops = append(ops, models.NewCorrectiveOperation(models.Identity(rec.Identity), rec.GuildID, models.OpAdd, spec.Name, v))
	}
	return ops
}

func (r *Reconciler) diffSingleValued(rec *models.SyncRecord, spec models.CategorySpec, desired, observed models.State) []models.CorrectiveOperation {
	desiredValues := desired.Values(spec.Name)
	observedValues := observed.Values(spec.Name)

	var want, have string
	if len(desiredValues) > 0 {
		want = desiredValues[0]
	}
	if len(observedValues) > 0 {
		have = observedValues[0]
	}

	switch {
	case want == have:
		return nil
	case want == "":
		return []models.CorrectiveOperation{
			models.NewCorrectiveOperation(models.Identity(rec.Identity), rec.GuildID, models.OpRemove, spec.Name, have),
		}
	default:
		// a single update replaces the held value; no remove/add pair
		return []models.CorrectiveOperation{
			models.NewCorrectiveOperation(models.Identity(rec.Identity), rec.GuildID, models.OpUpdate, spec.Name, want),
		}
	}
}
