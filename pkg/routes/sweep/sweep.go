package sweep

import (
	"context"
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectoinject"
	"github.com/labstack/echo/v4"

	"github.com/howkawgew/PlasmoSyncBot/pkg/models"
	"github.com/howkawgew/PlasmoSyncBot/pkg/scheduler"
	"github.com/howkawgew/PlasmoSyncBot/pkg/tracing"
)

// Register registers sweep routes
func Register(g *echo.Group) {
	g.POST("", Trigger)
}

// Trigger starts a full sweep outside the periodic schedule. The sweep lock
// still applies, so a pass already in flight makes this a no-op.
func Trigger(c echo.Context) error {
	ctx := c.Request().Context()
	ctx, span := tracing.StartSpan(ctx, "sweep_handler.Trigger")
	defer span.End()

	ctx, sched, err := ectoinject.GetContext[*scheduler.Scheduler](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to get scheduler")
	}

	// The sweep outlives the request.
	go sched.RunSweep(context.WithoutCancel(ctx))

	return c.JSON(http.StatusAccepted, models.EnqueuedResponse{Status: "sweep_started"})
}
