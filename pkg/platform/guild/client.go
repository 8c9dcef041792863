// Package guild implements the target platform adapter against the guild
// bot gateway REST API.
package guild

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"

	"github.com/howkawgew/PlasmoSyncBot/pkg/httpclient"
	"github.com/howkawgew/PlasmoSyncBot/pkg/models"
	"github.com/howkawgew/PlasmoSyncBot/pkg/platform"
	"github.com/howkawgew/PlasmoSyncBot/pkg/tracing"
)

// Config holds the guild gateway configuration
type Config struct {
	BaseURL string
	Token   string
}

// Client reads and corrects guild platform state through the bot gateway
type Client struct {
	cfg    Config
	http   *httpclient.Client
	logger ectologger.Logger
}

// NewClient creates a new guild platform client
func NewClient(cfg Config, http *httpclient.Client, logger ectologger.Logger) *Client {
	return &Client{
		cfg:    cfg,
		http:   http,
		logger: logger,
	}
}

// memberResponse is the gateway member state payload
type memberResponse struct {
	Present bool     `json:"present"`
	Nick    string   `json:"nick"`
	Roles   []string `json:"roles"`
	Banned  bool     `json:"banned"`
}

// FetchObservedState returns the guild's current state for the entity.
func (c *Client) FetchObservedState(ctx context.Context, identity models.Identity, guildID string) (models.State, error) {
	ctx, span := tracing.StartSpan(ctx, "GuildClient.FetchObservedState")
	defer span.End()

	endpoint := fmt.Sprintf("%s/guilds/%s/members/%s",
		c.cfg.BaseURL, url.PathEscape(guildID), url.PathEscape(string(identity)))

	resp, err := c.http.Get(ctx, endpoint, c.headers(""))
	if err != nil {
		return models.State{}, fmt.Errorf("guild member request failed: %w", err)
	}

	state := models.NewState()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		// entity has no presence in the guild; empty observed state
		return state, nil
	case resp.StatusCode == http.StatusTooManyRequests:
		return models.State{}, httperror.NewHTTPError(http.StatusTooManyRequests, "guild gateway rate limited")
	case resp.StatusCode >= 500:
		return models.State{}, httperror.NewHTTPError(http.StatusInternalServerError, fmt.Sprintf("guild gateway returned %d", resp.StatusCode))
	case resp.StatusCode != http.StatusOK:
		return models.State{}, httperror.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("guild gateway returned %d", resp.StatusCode))
	}

	var member memberResponse
	if err := json.Unmarshal(resp.Body, &member); err != nil {
		return models.State{}, fmt.Errorf("failed to parse guild member response: %w", err)
	}

	if member.Present {
		state.Set(models.CategoryMembership, models.MembershipMember)
	}
	if member.Banned {
		state.Set(models.CategoryBan, models.BanActive)
	}
	state.Set(models.CategoryRole, member.Roles...)
	if member.Nick != "" {
		state.Set(models.CategoryNickname, member.Nick)
	}

	return state, nil
}

// Ping verifies the gateway is reachable and the bot token is valid.
func (c *Client) Ping(ctx context.Context) error {
	ctx, span := tracing.StartSpan(ctx, "GuildClient.Ping")
	defer span.End()

	endpoint := fmt.Sprintf("%s/users/@me", c.cfg.BaseURL)

	resp, err := c.http.Get(ctx, endpoint, c.headers(""))
	if err != nil {
		return fmt.Errorf("guild gateway unreachable: %w", err)
	}

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return httperror.NewHTTPErrorf(resp.StatusCode, "guild gateway rejected credentials with %d", resp.StatusCode)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return httperror.NewHTTPErrorf(http.StatusInternalServerError, "guild gateway returned %d", resp.StatusCode)
	}

	return nil
}

// Apply executes one corrective operation against the guild gateway. The
// dispatcher owns retry policy; this never retries internally.
func (c *Client) Apply(ctx context.Context, op models.CorrectiveOperation) platform.ApplyResult {
	ctx, span := tracing.StartSpan(ctx, "GuildClient.Apply")
	defer span.End()

	resp, err := c.execute(ctx, op)
	if err != nil {
		if err == errUnsupportedOperation {
			// membership additions cannot be actuated from the gateway side;
			// the platform admits the member once the whitelist allows them
			return platform.ApplyResult{Status: platform.StatusNoOp}
		}
		return platform.ApplyResult{Status: platform.StatusTransient, Err: err}
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return platform.ApplyResult{Status: platform.StatusApplied}
	case resp.StatusCode == http.StatusConflict:
		// gateway reports the value was already in the desired position
		return platform.ApplyResult{Status: platform.StatusNoOp}
	case resp.StatusCode == http.StatusTooManyRequests:
		return platform.ApplyResult{
			Status:     platform.StatusTransient,
			RetryAfter: resp.RetryAfter(),
			Err:        httperror.NewHTTPError(http.StatusTooManyRequests, "guild gateway rate limited"),
		}
	case resp.StatusCode >= 500:
		return platform.ApplyResult{
			Status: platform.StatusTransient,
			Err:    httperror.NewHTTPError(http.StatusInternalServerError, fmt.Sprintf("guild gateway returned %d", resp.StatusCode)),
		}
	case resp.StatusCode == http.StatusForbidden:
		return platform.ApplyResult{
			Status: platform.StatusFatal,
			Err:    httperror.NewHTTPError(http.StatusForbidden, fmt.Sprintf("guild gateway refused %s", op)),
		}
	case resp.StatusCode == http.StatusNotFound:
		return platform.ApplyResult{
			Status: platform.StatusFatal,
			Err:    httperror.NewHTTPError(http.StatusNotFound, fmt.Sprintf("guild gateway target missing for %s", op)),
		}
	default:
		return platform.ApplyResult{
			Status: platform.StatusFatal,
			Err:    httperror.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("guild gateway returned %d for %s", resp.StatusCode, op)),
		}
	}
}

var errUnsupportedOperation = fmt.Errorf("operation is not actuatable on the guild gateway")

func (c *Client) execute(ctx context.Context, op models.CorrectiveOperation) (*httpclient.Response, error) {
	guildID := url.PathEscape(op.GuildID)
	memberID := url.PathEscape(string(op.Identity))
	headers := c.headers(op.IdempotencyKey)

	switch op.Category {
	case models.CategoryRole:
		endpoint := fmt.Sprintf("%s/guilds/%s/members/%s/roles/%s",
			c.cfg.BaseURL, guildID, memberID, url.PathEscape(op.Value))
		if op.Kind == models.OpRemove {
			return c.http.Delete(ctx, endpoint, headers)
		}
		return c.http.Put(ctx, endpoint, nil, headers)

	case models.CategoryNickname:
		endpoint := fmt.Sprintf("%s/guilds/%s/members/%s", c.cfg.BaseURL, guildID, memberID)
		nick := op.Value
		if op.Kind == models.OpRemove {
			nick = ""
		}
		body, err := json.Marshal(map[string]string{"nick": nick})
		if err != nil {
			return nil, err
		}
		return c.http.Patch(ctx, endpoint, body, headers)

	case models.CategoryBan:
		endpoint := fmt.Sprintf("%s/guilds/%s/bans/%s", c.cfg.BaseURL, guildID, memberID)
		if op.Kind == models.OpRemove {
			return c.http.Delete(ctx, endpoint, headers)
		}
		return c.http.Put(ctx, endpoint, nil, headers)

	case models.CategoryMembership:
		if op.Kind == models.OpRemove {
			// whitelist kick
			endpoint := fmt.Sprintf("%s/guilds/%s/members/%s", c.cfg.BaseURL, guildID, memberID)
			return c.http.Delete(ctx, endpoint, headers)
		}
		return nil, errUnsupportedOperation

	default:
		return nil, fmt.Errorf("unknown attribute category: %s", op.Category)
	}
}

func (c *Client) headers(idempotencyKey string) map[string]string {
	headers := map[string]string{"Accept": "application/json"}
	if c.cfg.Token != "" {
		headers["Authorization"] = "Bot " + c.cfg.Token
	}
	if idempotencyKey != "" {
		headers["X-Idempotency-Key"] = idempotencyKey
	}
	return headers
}
