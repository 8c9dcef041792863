package models

import (
	"fmt"

	"github.com/google/uuid"
)

// OperationKind is the kind of corrective write issued against the target
// platform.
type OperationKind string

const (
	OpAdd    OperationKind = "add"
	OpRemove OperationKind = "remove"
	OpUpdate OperationKind = "update"
)

// idempotencyNamespace is the UUIDv5 namespace for operation idempotency keys.
var idempotencyNamespace = uuid.MustParse("8f1c9a52-6b7d-5e30-9c4f-2d8a11706d3e")

// CorrectiveOperation is a single idempotent write intended to reduce drift
// between observed and desired state for one entity.
type CorrectiveOperation struct {
	Identity Identity          `json:"identity"`
	GuildID  string            `json:"guild_id"`
	Target   Origin            `json:"target"`
	Kind     OperationKind     `json:"kind"`
	Category AttributeCategory `json:"category"`
	Value    string            `json:"value"`

	// IdempotencyKey is derived deterministically from the operation contents
	// so re-issuing the same operation after a crash is safe.
	IdempotencyKey string `json:"idempotency_key"`
}

// NewCorrectiveOperation builds an operation with its idempotency key filled
// in.
func NewCorrectiveOperation(identity Identity, guildID string, kind OperationKind, category AttributeCategory, value string) CorrectiveOperation {
	op := CorrectiveOperation{
		Identity: identity,
		GuildID:  guildID,
		Target:   OriginGuild,
		Kind:     kind,
		Category: category,
		Value:    value,
	}
	op.IdempotencyKey = op.DeriveIdempotencyKey()
	return op
}

// DeriveIdempotencyKey computes the deterministic key for this operation. The
// key depends only on (entity identity, attribute, kind, target value) so the
// same logical correction always carries the same key across runs.
func (op CorrectiveOperation) DeriveIdempotencyKey() string {
	seed := fmt.Sprintf("%s|%s|%s|%s|%s", op.Identity, op.Category, op.Kind, op.Value, op.GuildID)
	return uuid.NewSHA1(idempotencyNamespace, []byte(seed)).String()
}

func (op CorrectiveOperation) String() string {
	return fmt.Sprintf("%s(%s=%s, %s)", op.Kind, op.Category, op.Value, op.Identity)
}
