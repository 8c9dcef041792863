// Package plasmo implements the donor platform adapter against the Plasmo
// REST profile API.
package plasmo

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

// Config holds the donor API configuration
type Config struct {
	BaseURL string
	Token   string
}

// Client queries the donor platform for authoritative profile state
type Client struct {
	cfg    Config
	http   *httpclient.Client
	logger ectologger.Logger
}

// NewClient creates a new donor platform client
func NewClient(cfg Config, http *httpclient.Client, logger ectologger.Logger) *Client {
	return &Client{
		cfg:    cfg,
		http:   http,
		logger: logger,
	}
}

// profileResponse is the donor profile API envelope
type profileResponse struct {
	Status bool        `json:"status"`
	Error  *apiError   `json:"error,omitempty"`
	Data   profileData `json:"data"`
}

type apiError struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

type profileData struct {
	ID        string   `json:"id"`
	Nick      string   `json:"nick"`
	Roles     []string `json:"roles"`
	Banned    bool     `json:"banned"`
	HasAccess bool     `json:"has_access"`
}

// FetchDesiredState returns the donor's current state for the entity,
// projected onto the categories the guild settings enable.
func (c *Client) FetchDesiredState(ctx context.Context, identity models.Identity, settings *models.GuildSettings) (models.State, error) {
	ctx, span := tracing.StartSpan(ctx, "PlasmoClient.FetchDesiredState")
	defer span.End()

	profile, err := c.fetchProfile(ctx, url.Values{"id": {string(identity)}})
	if err != nil {
		return models.State{}, err
	}

	state := models.NewState()

	if profile.HasAccess && !profile.Banned {
		state.Set(models.CategoryMembership, models.MembershipMember)
	}

	if settings.CategoryEnabled(models.CategoryBan.Spec()) && profile.Banned {
		state.Set(models.CategoryBan, models.BanActive)
	}

	if settings.CategoryEnabled(models.CategoryRole.Spec()) {
		state.Set(models.CategoryRole, profile.Roles...)
	}

	if settings.CategoryEnabled(models.CategoryNickname.Spec()) && profile.Nick != "" {
		state.Set(models.CategoryNickname, profile.Nick)
	}

	return state, nil
}

// ResolveIdentity maps a guild platform user ID to the shared identity.
func (c *Client) ResolveIdentity(ctx context.Context, platformUserID string) (models.Identity, error) {
	ctx, span := tracing.StartSpan(ctx, "PlasmoClient.ResolveIdentity")
	defer span.End()

	profile, err := c.fetchProfile(ctx, url.Values{"discord_id": {platformUserID}})
	if err != nil {
		return "", err
	}
	if profile.ID == "" {
		return "", platform.ErrEntityNotLinked
	}

	return models.Identity(profile.ID), nil
}

// Ping verifies the donor API is reachable and accepts our credentials. Any
// response other than an auth rejection proves both; the profile endpoint
// complains about the missing query but still authenticates the caller.
func (c *Client) Ping(ctx context.Context) error {
	ctx, span := tracing.StartSpan(ctx, "PlasmoClient.Ping")
	defer span.End()

	endpoint := fmt.Sprintf("%s/api/user/profile", c.cfg.BaseURL)

	headers := map[string]string{"Accept": "application/json"}
	if c.cfg.Token != "" {
		headers["Authorization"] = "Bearer " + c.cfg.Token
	}

	resp, err := c.http.Get(ctx, endpoint, headers)
	if err != nil {
		return fmt.Errorf("donor API unreachable: %w", err)
	}

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return httperror.NewHTTPErrorf(resp.StatusCode, "donor API rejected credentials with %d", resp.StatusCode)
	}

	return nil
}

func (c *Client) fetchProfile(ctx context.Context, query url.Values) (*profileData, error) {
	endpoint := fmt.Sprintf("%s/api/user/profile?%s", c.cfg.BaseURL, query.Encode())

	headers := map[string]string{"Accept": "application/json"}
	if c.cfg.Token != "" {
		headers["Authorization"] = "Bearer " + c.cfg.Token
	}

	resp, err := c.http.Get(ctx, endpoint, headers)
	if err != nil {
		return nil, fmt.Errorf("donor profile request failed: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, platform.ErrEntityNotLinked
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, httperror.NewHTTPError(http.StatusTooManyRequests, "donor API rate limited")
	case resp.StatusCode >= 500:
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, fmt.Sprintf("donor API returned %d", resp.StatusCode))
	case resp.StatusCode != http.StatusOK:
		return nil, httperror.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("donor API returned %d", resp.StatusCode))
	}

	var envelope profileResponse
	if err := json.Unmarshal(resp.Body, &envelope); err != nil {
		return nil, fmt.Errorf("failed to parse donor profile response: %w", err)
	}

	if !envelope.Status {
		if envelope.Error != nil && envelope.Error.Code == http.StatusNotFound {
			return nil, platform.ErrEntityNotLinked
		}
		msg := "donor API reported failure"
		if envelope.Error != nil {
			msg = envelope.Error.Msg
		}
		return nil, httperror.NewHTTPError(http.StatusBadRequest, msg)
	}

	return &envelope.Data, nil
}
