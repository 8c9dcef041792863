package dlq

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectoinject"
	"github.com/labstack/echo/v4"

	"github.com/howkawgew/PlasmoSyncBot/pkg/queue"
	"github.com/howkawgew/PlasmoSyncBot/pkg/redis"
	"github.com/howkawgew/PlasmoSyncBot/pkg/tracing"
)

// Register registers dead letter queue routes
func Register(g *echo.Group) {
	g.GET("", List)
	g.POST("/:message_id/retry", Retry)
	g.DELETE("/:message_id", Delete)
}

// ListResponse is the DLQ listing payload
type ListResponse struct {
	Items      []redis.DLQEntry `json:"items"`
	TotalCount int64            `json:"total_count"`
}

// List returns the most recent dead letter entries
func List(c echo.Context) error {
	ctx := c.Request().Context()
	ctx, span := tracing.StartSpan(ctx, "dlq_handler.List")
	defer span.End()

	count, _ := strconv.ParseInt(c.QueryParam("count"), 10, 64)
	if count < 1 || count > 1000 {
		count = 100
	}

	ctx, dlq, err := ectoinject.GetContext[*redis.DeadLetterQueue](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to get dead letter queue")
	}

	entries, err := dlq.List(ctx, count)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to list dead letter entries")
	}

	total, err := dlq.Count(ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to count dead letter entries")
	}

	return c.JSON(http.StatusOK, ListResponse{Items: entries, TotalCount: total})
}

// Retry re-enqueues a dead letter entry onto the job stream
func Retry(c echo.Context) error {
	ctx := c.Request().Context()
	ctx, span := tracing.StartSpan(ctx, "dlq_handler.Retry")
	defer span.End()

	messageID := c.Param("message_id")
	if messageID == "" {
		return httperror.NewHTTPError(http.StatusBadRequest, "message_id is required")
	}

	ctx, dlq, err := ectoinject.GetContext[*redis.DeadLetterQueue](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to get dead letter queue")
	}

	ctx, streams, err := ectoinject.GetContext[*redis.Streams](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to get job stream")
	}

	ctx, publisher, err := ectoinject.GetContext[*queue.Publisher](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to get publisher")
	}

	if err := dlq.Retry(ctx, messageID, streams, publisher.Stream()); err != nil {
		if strings.Contains(err.Error(), "not found") {
			return httperror.NewHTTPError(http.StatusNotFound, "dead letter entry not found")
		}
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to retry dead letter entry")
	}

	return c.NoContent(http.StatusNoContent)
}

// Delete discards a dead letter entry
func Delete(c echo.Context) error {
	ctx := c.Request().Context()
	ctx, span := tracing.StartSpan(ctx, "dlq_handler.Delete")
	defer span.End()

	messageID := c.Param("message_id")
	if messageID == "" {
		return httperror.NewHTTPError(http.StatusBadRequest, "message_id is required")
	}

	ctx, dlq, err := ectoinject.GetContext[*redis.DeadLetterQueue](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to get dead letter queue")
	}

	if err := dlq.Delete(ctx, messageID); err != nil {
		if strings.Contains(err.Error(), "not found") {
			return httperror.NewHTTPError(http.StatusNotFound, "dead letter entry not found")
		}
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to delete dead letter entry")
	}

	return c.NoContent(http.StatusNoContent)
}
