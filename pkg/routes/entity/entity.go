package entity

import (
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectoinject"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"

	"github.com/howkawgew/PlasmoSyncBot/internal/repositories/syncrecord"
	"github.com/howkawgew/PlasmoSyncBot/pkg/engine"
	"github.com/howkawgew/PlasmoSyncBot/pkg/ingress"
	"github.com/howkawgew/PlasmoSyncBot/pkg/models"
	"github.com/howkawgew/PlasmoSyncBot/pkg/queue"
	"github.com/howkawgew/PlasmoSyncBot/pkg/tracing"
)

var validate = validator.New()

// Register registers entity sync routes
func Register(g *echo.Group) {
	g.POST("/link", Link)
	g.GET("/:guild_id/:identity", Get)
	g.DELETE("/:guild_id/:identity", Unlink)
	g.POST("/:guild_id/:identity/reconcile", Reconcile)
}

// Get returns the sync record for an entity
func Get(c echo.Context) error {
	ctx := c.Request().Context()
	ctx, span := tracing.StartSpan(ctx, "entity_handler.Get")
	defer span.End()

	guildID := c.Param("guild_id")
	identity := c.Param("identity")
	if guildID == "" || identity == "" {
		return httperror.NewHTTPError(http.StatusBadRequest, "guild_id and identity are required")
	}

	ctx, records, err := ectoinject.GetContext[*syncrecord.Repository](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to get repository")
	}

	rec, err := records.Get(ctx, identity, guildID)
	if err != nil {
		if httperror.IsHTTPError(err) {
			return err
		}
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to get sync record")
	}

	return c.JSON(http.StatusOK, models.SyncRecordResponse{SyncRecord: *rec})
}

// Link resolves a guild member to their donor identity and creates the sync
// link. Notifications parked for the member are replayed and a first
// reconcile pass is enqueued.
func Link(c echo.Context) error {
	ctx := c.Request().Context()
	ctx, span := tracing.StartSpan(ctx, "entity_handler.Link")
	defer span.End()

	var req models.LinkRequest
	if err := c.Bind(&req); err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	if err := validate.Struct(req); err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	ctx, eng, err := ectoinject.GetContext[*engine.Engine](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to get engine")
	}

	rec, err := eng.Link(ctx, req.GuildID, req.GuildMemberID)
	if err != nil {
		if httperror.IsHTTPError(err) {
			return err
		}
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to link entity")
	}

	ctx, ing, err := ectoinject.GetContext[*ingress.Ingress](ctx)
	if err == nil {
		// Parked notifications are replayed on a best effort basis; the
		// reconcile pass enqueued below covers them regardless.
		_ = ing.ReplayPending(ctx, req.GuildMemberID, models.Identity(rec.Identity))
	}

	ctx, publisher, err := ectoinject.GetContext[*queue.Publisher](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to get publisher")
	}

	if _, err := publisher.Reconcile(ctx, queue.ReconcileJob{
		Identity: rec.Identity,
		GuildID:  rec.GuildID,
		Origin:   string(models.OriginAPI),
		Reason:   "linked",
	}); err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to enqueue reconcile job")
	}

	return c.JSON(http.StatusCreated, models.SyncRecordResponse{SyncRecord: *rec})
}

// Unlink removes the sync link for an entity
func Unlink(c echo.Context) error {
	ctx := c.Request().Context()
	ctx, span := tracing.StartSpan(ctx, "entity_handler.Unlink")
	defer span.End()

	guildID := c.Param("guild_id")
	identity := c.Param("identity")
	if guildID == "" || identity == "" {
		return httperror.NewHTTPError(http.StatusBadRequest, "guild_id and identity are required")
	}

	ctx, eng, err := ectoinject.GetContext[*engine.Engine](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to get engine")
	}

	if err := eng.Unlink(ctx, models.Identity(identity), guildID); err != nil {
		if httperror.IsHTTPError(err) {
			return err
		}
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to unlink entity")
	}

	return c.NoContent(http.StatusNoContent)
}

// Reconcile enqueues an on-demand reconcile pass for an entity
func Reconcile(c echo.Context) error {
	ctx := c.Request().Context()
	ctx, span := tracing.StartSpan(ctx, "entity_handler.Reconcile")
	defer span.End()

	guildID := c.Param("guild_id")
	identity := c.Param("identity")
	if guildID == "" || identity == "" {
		return httperror.NewHTTPError(http.StatusBadRequest, "guild_id and identity are required")
	}

	ctx, records, err := ectoinject.GetContext[*syncrecord.Repository](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to get repository")
	}

	// Reject unknown entities up front rather than dead-lettering the job.
	if _, err := records.Get(ctx, identity, guildID); err != nil {
		if httperror.IsHTTPError(err) {
			return err
		}
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to get sync record")
	}

	ctx, publisher, err := ectoinject.GetContext[*queue.Publisher](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to get publisher")
	}

	jobID, err := publisher.Reconcile(ctx, queue.ReconcileJob{
		Identity: identity,
		GuildID:  guildID,
		Origin:   string(models.OriginAPI),
		Reason:   "manual",
	})
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to enqueue reconcile job")
	}

	return c.JSON(http.StatusAccepted, models.EnqueuedResponse{JobID: jobID, Status: "enqueued"})
}
