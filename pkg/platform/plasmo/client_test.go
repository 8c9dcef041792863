package plasmo

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/howkawgew/PlasmoSyncBot/pkg/database"
	"github.com/howkawgew/PlasmoSyncBot/pkg/httpclient"
	"github.com/howkawgew/PlasmoSyncBot/pkg/models"
	"github.com/howkawgew/PlasmoSyncBot/pkg/platform"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	logger := ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
	return NewClient(
		Config{BaseURL: server.URL, Token: "test-token"},
		httpclient.NewClient(httpclient.DefaultConfig(), logger),
		logger,
	)
}

func verifiedSettings(switches map[string]bool) *models.GuildSettings {
	return &models.GuildSettings{
		GuildID:  "guild-1",
		Verified: true,
		Switches: database.JSONB[map[string]bool]{Data: switches},
	}
}

func allSwitchesOn() map[string]bool {
	switches := models.DefaultSwitches()
	for name := range switches {
		switches[name] = true
	}
	return switches
}

func TestFetchDesiredState(t *testing.T) {
	var gotPath, gotQuery, gotAuth string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.RawQuery
		gotAuth = r.Header.Get("Authorization")
		w.Write([]byte(`{
			"status": true,
			"data": {"id": "user-1", "nick": "Steve", "roles": ["admin"], "banned": false, "has_access": true}
		}`))
	})

	settings := verifiedSettings(allSwitchesOn())
	state, err := client.FetchDesiredState(context.Background(), "user-1", settings)
	require.NoError(t, err)

	assert.Equal(t, "/api/user/profile", gotPath)
	assert.Equal(t, "id=user-1", gotQuery)
	assert.Equal(t, "Bearer test-token", gotAuth)
	assert.Equal(t, []string{models.MembershipMember}, state.Values(models.CategoryMembership))
	assert.Empty(t, state.Values(models.CategoryBan))
	assert.Equal(t, []string{"admin"}, state.Values(models.CategoryRole))
	assert.Equal(t, []string{"Steve"}, state.Values(models.CategoryNickname))
}

func TestFetchDesiredState_BannedProfile(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{
			"status": true,
			"data": {"id": "user-1", "banned": true, "has_access": true}
		}`))
	})

	settings := verifiedSettings(allSwitchesOn())
	state, err := client.FetchDesiredState(context.Background(), "user-1", settings)
	require.NoError(t, err)

	assert.Empty(t, state.Values(models.CategoryMembership), "banned profiles lose membership")
	assert.Equal(t, []string{models.BanActive}, state.Values(models.CategoryBan))
}

func TestFetchDesiredState_DisabledCategoriesAreOmitted(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{
			"status": true,
			"data": {"id": "user-1", "nick": "Steve", "roles": ["admin"], "has_access": true}
		}`))
	})

	switches := allSwitchesOn()
	switches[models.SwitchSyncRoles] = false
	switches[models.SwitchSyncNicknames] = false

	state, err := client.FetchDesiredState(context.Background(), "user-1", verifiedSettings(switches))
	require.NoError(t, err)

	assert.Equal(t, []string{models.MembershipMember}, state.Values(models.CategoryMembership))
	assert.Empty(t, state.Values(models.CategoryRole))
	assert.Empty(t, state.Values(models.CategoryNickname))
}

func TestFetchDesiredState_UnknownEntity(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	_, err := client.FetchDesiredState(context.Background(), "user-1", verifiedSettings(allSwitchesOn()))
	assert.ErrorIs(t, err, platform.ErrEntityNotLinked)
}

func TestFetchDesiredState_EnvelopeNotFound(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status": false, "error": {"code": 404, "msg": "user not found"}}`))
	})

	_, err := client.FetchDesiredState(context.Background(), "user-1", verifiedSettings(allSwitchesOn()))
	assert.ErrorIs(t, err, platform.ErrEntityNotLinked)
}

func TestFetchDesiredState_APIErrors(t *testing.T) {
	tests := []struct {
		name       string
		statusCode int
		wantStatus int
	}{
		{"rate limited", http.StatusTooManyRequests, http.StatusTooManyRequests},
		{"server error", http.StatusServiceUnavailable, http.StatusInternalServerError},
		{"unauthorized", http.StatusUnauthorized, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.statusCode)
			})

			_, err := client.FetchDesiredState(context.Background(), "user-1", verifiedSettings(allSwitchesOn()))
			require.Error(t, err)
			assert.True(t, httperror.IsHTTPError(err))
			assert.Equal(t, tt.wantStatus, httperror.GetStatusCode(err))
		})
	}
}

func TestPing(t *testing.T) {
	t.Run("accepted credentials", func(t *testing.T) {
		var gotPath, gotAuth string
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			gotPath = r.URL.Path
			gotAuth = r.Header.Get("Authorization")
			// the endpoint complains about the missing id but the caller is
			// authenticated
			w.Write([]byte(`{"status": false, "error": {"code": 400, "msg": "id is required"}}`))
		})

		require.NoError(t, client.Ping(context.Background()))
		assert.Equal(t, "/api/user/profile", gotPath)
		assert.Equal(t, "Bearer test-token", gotAuth)
	})

	t.Run("rejected credentials fail the check", func(t *testing.T) {
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
		})

		err := client.Ping(context.Background())
		require.Error(t, err)
		assert.True(t, httperror.IsHTTPError(err))
		assert.Equal(t, http.StatusUnauthorized, httperror.GetStatusCode(err))
	})
}

func TestResolveIdentity(t *testing.T) {
	var gotQuery string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		w.Write([]byte(`{"status": true, "data": {"id": "user-1"}}`))
	})

	identity, err := client.ResolveIdentity(context.Background(), "discord-42")
	require.NoError(t, err)
	assert.Equal(t, "discord_id=discord-42", gotQuery)
	assert.Equal(t, models.Identity("user-1"), identity)
}

func TestResolveIdentity_Unlinked(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status": true, "data": {"id": ""}}`))
	})

	_, err := client.ResolveIdentity(context.Background(), "discord-42")
	assert.ErrorIs(t, err, platform.ErrEntityNotLinked)
}
