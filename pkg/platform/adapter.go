// Package platform defines the adapter boundary between the sync engine and
// the external platforms it keeps consistent. The donor platform is
// authoritative for desired state; guild platforms hold the observed state
// the engine corrects.
package platform

import (
	"context"
	"net/http"
	"time"

	"github.com/Gobusters/ectoerror/httperror"

	"github.com/howkawgew/PlasmoSyncBot/pkg/models"
)

// ApplyStatus classifies the outcome of a corrective operation.
type ApplyStatus string

const (
	// StatusApplied means the platform accepted and applied the change
	StatusApplied ApplyStatus = "applied"
	// StatusNoOp means the platform already held the desired value
	StatusNoOp ApplyStatus = "noop"
	// StatusTransient means the platform refused temporarily; retry later
	StatusTransient ApplyStatus = "transient"
	// StatusFatal means the platform rejected the change permanently
	StatusFatal ApplyStatus = "fatal"
)

// ApplyResult reports how a guild platform handled a corrective operation.
type ApplyResult struct {
	Status     ApplyStatus
	RetryAfter time.Duration
	Err        error
}

// Applied returns true when the platform state matches the desired value,
// whether the operation changed anything or it was already in place.
func (r ApplyResult) Applied() bool {
	return r.Status == StatusApplied || r.Status == StatusNoOp
}

// ErrEntityNotLinked is returned when an identity cannot be resolved on
// the donor platform.
var ErrEntityNotLinked = httperror.NewHTTPError(http.StatusNotFound, "entity is not linked on the donor platform")

// DonorAdapter reads authoritative desired state from the donor platform.
type DonorAdapter interface {
	// FetchDesiredState returns the donor's current state for the entity,
	// restricted to the categories the guild settings enable.
	FetchDesiredState(ctx context.Context, identity models.Identity, settings *models.GuildSettings) (models.State, error)

	// ResolveIdentity maps a platform-native user reference to the shared
	// identity, or ErrEntityNotLinked when no link exists.
	ResolveIdentity(ctx context.Context, platformUserID string) (models.Identity, error)
}

// GuildAdapter reads and writes the target platform state for one guild.
type GuildAdapter interface {
	// FetchObservedState returns the guild's current state for the entity.
	FetchObservedState(ctx context.Context, identity models.Identity, guildID string) (models.State, error)

	// Apply executes one corrective operation against the guild platform.
	// It never retries internally; the dispatcher owns retry policy.
	Apply(ctx context.Context, op models.CorrectiveOperation) ApplyResult
}
