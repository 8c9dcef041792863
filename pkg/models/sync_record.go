package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/howkawgew/PlasmoSyncBot/pkg/database"
)

// IssueSeverity classifies a pending issue recorded against a sync record.
type IssueSeverity string

const (
	// IssueTransient marks an operation whose retry budget was exhausted; the
	// next full sweep retries it automatically.
	IssueTransient IssueSeverity = "transient_exhausted"
	// IssueFatal marks a permission/not-found failure that is surfaced for
	// operator visibility and never retried automatically.
	IssueFatal IssueSeverity = "fatal"
)

// PendingIssue is a per-entity failure surfaced to the operator. Issues never
// block other entities' reconciliation.
type PendingIssue struct {
	Category   AttributeCategory `json:"category"`
	Kind       OperationKind     `json:"kind"`
	Value      string            `json:"value"`
	Severity   IssueSeverity     `json:"severity"`
	Message    string            `json:"message"`
	RecordedAt time.Time         `json:"recorded_at"`
}

// SyncRecord is the persisted convergence checkpoint for one entity. It is
// created on first successful link, updated after every successful corrective
// operation, and deleted only on explicit unlink.
type SyncRecord struct {
	ID       uuid.UUID `db:"id" json:"id"`
	Identity string    `db:"identity" json:"identity"`
	GuildID  string    `db:"guild_id" json:"guild_id"`

	// DonorUserID and GuildMemberID are the platform-native ids the identity
	// resolves to on each side.
	DonorUserID   string `db:"donor_user_id" json:"donor_user_id"`
	GuildMemberID string `db:"guild_member_id" json:"guild_member_id"`

	Desired  database.JSONB[State] `db:"desired_state" json:"desired_state"`
	Observed database.JSONB[State] `db:"observed_state" json:"observed_state"`

	// Sequence is the monotonically increasing reconciliation sequence number,
	// advanced once per converged pass.
	Sequence int64 `db:"sequence" json:"sequence"`

	// AppliedKeys holds the idempotency keys of operations already applied in
	// the current (not yet converged) generation. Re-delivered events are
	// suppressed against this set. Cleared when the pass converges.
	AppliedKeys database.JSONB[[]string] `db:"applied_keys" json:"applied_keys"`

	Issues database.JSONB[[]PendingIssue] `db:"issues" json:"issues"`

	LastReconciledAt *time.Time `db:"last_reconciled_at" json:"last_reconciled_at,omitempty"`
	CreatedAt        time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time  `db:"updated_at" json:"updated_at"`
}

// HasApplied reports whether an idempotency key was already applied in the
// current generation.
func (r *SyncRecord) HasApplied(key string) bool {
	for _, k := range r.AppliedKeys.Data {
		if k == key {
			return true
		}
	}
	return false
}

// MarkApplied records a successfully applied operation: the key joins the
// current generation's applied set, the observed snapshot is advanced to
// reflect the write, and any pending issue recorded for the same operation in
// an earlier pass is retired.
func (r *SyncRecord) MarkApplied(op CorrectiveOperation) {
	if !r.HasApplied(op.IdempotencyKey) {
		r.AppliedKeys.Data = append(r.AppliedKeys.Data, op.IdempotencyKey)
	}

	if len(r.Issues.Data) > 0 {
		issues := make([]PendingIssue, 0, len(r.Issues.Data))
		for _, existing := range r.Issues.Data {
			if existing.Category == op.Category && existing.Kind == op.Kind && existing.Value == op.Value {
				continue
			}
			issues = append(issues, existing)
		}
		if len(issues) == 0 {
			issues = nil
		}
		r.Issues = database.JSONB[[]PendingIssue]{Data: issues}
	}

	observed := r.Observed.Data.Clone()
	switch op.Kind {
	case OpAdd:
		if !observed.Has(op.Category, op.Value) {
			observed.Attributes[op.Category] = append(observed.Attributes[op.Category], op.Value)
		}
	case OpRemove:
		values := observed.Attributes[op.Category][:0]
		for _, v := range observed.Attributes[op.Category] {
			if v != op.Value {
				values = append(values, v)
			}
		}
		observed.Attributes[op.Category] = values
	case OpUpdate:
		observed.Set(op.Category, op.Value)
	}
	r.Observed = database.JSONB[State]{Data: observed}
}

// MarkConverged closes out a fully successful pass: both snapshots now agree,
// the sequence advances by one and the applied set resets for the next
// generation.
func (r *SyncRecord) MarkConverged(desired State, now time.Time) {
	r.Desired = database.JSONB[State]{Data: desired.Clone()}
	r.Observed = database.JSONB[State]{Data: desired.Clone()}
	r.Sequence++
	r.AppliedKeys = database.JSONB[[]string]{Data: nil}
	r.Issues = database.JSONB[[]PendingIssue]{Data: nil}
	r.LastReconciledAt = &now
}

// RecordIssue appends a pending issue, replacing any previous issue for the
// same operation.
func (r *SyncRecord) RecordIssue(issue PendingIssue) {
	issues := r.Issues.Data[:0]
	for _, existing := range r.Issues.Data {
		if existing.Category == issue.Category && existing.Kind == issue.Kind && existing.Value == issue.Value {
			continue
		}
		issues = append(issues, existing)
	}
	r.Issues = database.JSONB[[]PendingIssue]{Data: append(issues, issue)}
}
