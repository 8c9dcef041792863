// Package guildsettings persists the per-guild sync configuration.
package guildsettings

import (
	"context"
	"net/http"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"

	"github.com/howkawgew/PlasmoSyncBot/pkg/database"
	"github.com/howkawgew/PlasmoSyncBot/pkg/models"
	"github.com/howkawgew/PlasmoSyncBot/pkg/tracing"
)

// Repository handles guild settings persistence
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

// NewRepository creates a new guild settings repository
func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

const guildSettingsTable = "guild_settings"

var guildSettingsStruct = database.NewStruct(new(models.GuildSettings))

const allColumns = `id, guild_id, verified, switches, created_at, updated_at`

// Get retrieves the settings for a guild. Unregistered guilds get the switch
// defaults, unverified.
func (r *Repository) Get(ctx context.Context, guildID string) (*models.GuildSettings, error) {
	ctx, span := tracing.StartSpan(ctx, "guildsettings.Repository.Get")
	defer span.End()

	var settings models.GuildSettings
	if err := r.db.GetContext(ctx, &settings,
		`SELECT `+allColumns+` FROM guild_settings WHERE guild_id = $1`, guildID); err != nil {
		if err.Error() == "sql: no rows in result set" {
			return &models.GuildSettings{
				GuildID:  guildID,
				Switches: database.JSONB[map[string]bool]{Data: models.DefaultSwitches()},
			}, nil
		}
		r.logger.WithContext(ctx).WithError(err).Error("Failed to get guild settings")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get guild settings")
	}

	return &settings, nil
}

// Upsert registers a guild or replaces its switches
func (r *Repository) Upsert(ctx context.Context, settings *models.GuildSettings) (*models.GuildSettings, error) {
	ctx, span := tracing.StartSpan(ctx, "guildsettings.Repository.Upsert")
	defer span.End()

	log := r.logger.WithContext(ctx).WithFields(map[string]any{
		"method":   "Upsert",
		"guild_id": settings.GuildID,
	})

	if settings.ID == uuid.Nil {
		settings.ID = uuid.New()
	}
	if settings.Switches.Data == nil {
		settings.Switches = database.JSONB[map[string]bool]{Data: models.DefaultSwitches()}
	}
	now := time.Now().UTC()
	settings.CreatedAt = now
	settings.UpdatedAt = now

	ib := guildSettingsStruct.InsertInto(guildSettingsTable, settings)
	ub := ib.OnConflict("guild_id")
	ub.Set(
		ub.Assign("verified", database.Excluded("verified")),
		ub.Assign("switches", database.Excluded("switches")),
		ub.Assign("updated_at", database.Excluded("updated_at")),
	)

	query, args := ib.Build()

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		log.WithError(err).Error("Failed to upsert guild settings")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to upsert guild settings")
	}

	log.Info("Upserted guild settings")
	return r.Get(ctx, settings.GuildID)
}

// ListGuilds returns every registered guild id. The scheduler sweeps each of
// them in turn.
func (r *Repository) ListGuilds(ctx context.Context) ([]string, error) {
	ctx, span := tracing.StartSpan(ctx, "guildsettings.Repository.ListGuilds")
	defer span.End()

	var guilds []string
	if err := r.db.SelectContext(ctx, &guilds, `SELECT guild_id FROM guild_settings ORDER BY guild_id`); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to list guilds")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list guilds")
	}

	return guilds, nil
}

// SetVerified flips the verification flag for a guild
func (r *Repository) SetVerified(ctx context.Context, guildID string, verified bool) error {
	ctx, span := tracing.StartSpan(ctx, "guildsettings.Repository.SetVerified")
	defer span.End()

	ub := database.NewUpdateBuilder()
	ub.Update(guildSettingsTable).
		Set(
			ub.Assign("verified", verified),
			ub.Assign("updated_at", time.Now().UTC()),
		).
		Where(ub.Equal("guild_id", guildID))

	query, args := ub.Build()

	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to set guild verification")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to set guild verification")
	}

	if rows, err := result.RowsAffected(); err == nil && rows == 0 {
		return httperror.NewHTTPErrorf(http.StatusNotFound, "guild %s not found", guildID)
	}

	return nil
}
