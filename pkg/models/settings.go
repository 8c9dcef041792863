package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/howkawgew/PlasmoSyncBot/pkg/database"
)

// Guild settings switches. Privileged switches require the guild to be
// verified before they take effect.
const (
	SwitchSyncRoles     = "sync_roles"
	SwitchSyncNicknames = "sync_nicknames"
	SwitchSyncBans      = "sync_bans"
	SwitchWhitelist     = "whitelist"
	SwitchUseAPI        = "use_api"
)

// DefaultSwitches returns the switch defaults applied to a newly registered
// guild.
func DefaultSwitches() map[string]bool {
	return map[string]bool{
		SwitchSyncRoles:     true,
		SwitchSyncNicknames: false,
		SwitchSyncBans:      false,
		SwitchWhitelist:     false,
		SwitchUseAPI:        true,
	}
}

// GuildSettings holds the per-guild sync configuration.
type GuildSettings struct {
	ID       uuid.UUID                       `db:"id" json:"id"`
	GuildID  string                          `db:"guild_id" json:"guild_id"`
	Verified bool                            `db:"verified" json:"verified"`
	Switches database.JSONB[map[string]bool] `db:"switches" json:"switches"`

	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// Enabled reports whether a switch is on, honoring verification gating for
// privileged switches.
func (g *GuildSettings) Enabled(name string) bool {
	on, ok := g.Switches.Data[name]
	if !ok {
		on = DefaultSwitches()[name]
	}
	if !on {
		return false
	}
	if !g.Verified && (name == SwitchSyncBans || name == SwitchWhitelist) {
		return false
	}
	return true
}

// CategoryEnabled reports whether an attribute category is synchronized under
// these settings.
func (g *GuildSettings) CategoryEnabled(spec CategorySpec) bool {
	if spec.Switch == "" {
		return true
	}
	if spec.Privileged && !g.Verified {
		return false
	}
	return g.Enabled(spec.Switch)
}
