package guild

import (
	"net/http"
	"strconv"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectoinject"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"

	"github.com/howkawgew/PlasmoSyncBot/internal/repositories/guildsettings"
	"github.com/howkawgew/PlasmoSyncBot/internal/repositories/syncrecord"
	"github.com/howkawgew/PlasmoSyncBot/pkg/database"
	"github.com/howkawgew/PlasmoSyncBot/pkg/models"
	"github.com/howkawgew/PlasmoSyncBot/pkg/tracing"
)

var validate = validator.New()

// Register registers guild configuration routes
func Register(g *echo.Group) {
	g.GET("/:guild_id/settings", GetSettings)
	g.PUT("/:guild_id/settings", UpdateSettings)
	g.POST("/:guild_id/verify", Verify)
	g.GET("/:guild_id/entities", ListEntities)
}

// GetSettings returns a guild's sync settings. Unregistered guilds get the
// defaults.
func GetSettings(c echo.Context) error {
	ctx := c.Request().Context()
	ctx, span := tracing.StartSpan(ctx, "guild_handler.GetSettings")
	defer span.End()

	guildID := c.Param("guild_id")
	if guildID == "" {
		return httperror.NewHTTPError(http.StatusBadRequest, "guild_id is required")
	}

	ctx, repo, err := ectoinject.GetContext[*guildsettings.Repository](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to get repository")
	}

	settings, err := repo.Get(ctx, guildID)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to get guild settings")
	}

	return c.JSON(http.StatusOK, models.GuildSettingsResponse{Settings: *settings})
}

// UpdateSettings replaces a guild's switch configuration
func UpdateSettings(c echo.Context) error {
	ctx := c.Request().Context()
	ctx, span := tracing.StartSpan(ctx, "guild_handler.UpdateSettings")
	defer span.End()

	guildID := c.Param("guild_id")
	if guildID == "" {
		return httperror.NewHTTPError(http.StatusBadRequest, "guild_id is required")
	}

	var req models.UpdateGuildSettingsRequest
	if err := c.Bind(&req); err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	if err := validate.Struct(req); err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	known := models.DefaultSwitches()
	for name := range req.Switches {
		if _, ok := known[name]; !ok {
			return httperror.NewHTTPErrorf(http.StatusBadRequest, "unknown switch: %s", name)
		}
	}

	ctx, repo, err := ectoinject.GetContext[*guildsettings.Repository](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to get repository")
	}

	current, err := repo.Get(ctx, guildID)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to get guild settings")
	}

	current.GuildID = guildID
	current.Switches = database.JSONB[map[string]bool]{Data: req.Switches}

	settings, err := repo.Upsert(ctx, current)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to update guild settings")
	}

	return c.JSON(http.StatusOK, models.GuildSettingsResponse{Settings: *settings})
}

// Verify toggles a guild's verified flag. Privileged switches only take
// effect on verified guilds.
func Verify(c echo.Context) error {
	ctx := c.Request().Context()
	ctx, span := tracing.StartSpan(ctx, "guild_handler.Verify")
	defer span.End()

	guildID := c.Param("guild_id")
	if guildID == "" {
		return httperror.NewHTTPError(http.StatusBadRequest, "guild_id is required")
	}

	var req models.VerifyGuildRequest
	if err := c.Bind(&req); err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	ctx, repo, err := ectoinject.GetContext[*guildsettings.Repository](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to get repository")
	}

	if err := repo.SetVerified(ctx, guildID, req.Verified); err != nil {
		if httperror.IsHTTPError(err) {
			return err
		}
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to update guild")
	}

	settings, err := repo.Get(ctx, guildID)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to get guild settings")
	}

	return c.JSON(http.StatusOK, models.GuildSettingsResponse{Settings: *settings})
}

// ListEntities returns the linked entities of a guild, keyset paginated by
// identity.
func ListEntities(c echo.Context) error {
	ctx := c.Request().Context()
	ctx, span := tracing.StartSpan(ctx, "guild_handler.ListEntities")
	defer span.End()

	guildID := c.Param("guild_id")
	if guildID == "" {
		return httperror.NewHTTPError(http.StatusBadRequest, "guild_id is required")
	}

	after := c.QueryParam("after")
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	if limit < 1 || limit > 500 {
		limit = 50
	}

	ctx, records, err := ectoinject.GetContext[*syncrecord.Repository](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to get repository")
	}

	items, err := records.ListLinked(ctx, guildID, after, limit)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to list entities")
	}

	total, err := records.CountLinked(ctx, guildID)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to count entities")
	}

	return c.JSON(http.StatusOK, models.SyncRecordListResponse{
		Items:      items,
		TotalCount: total,
		AfterID:    after,
		Limit:      limit,
	})
}
