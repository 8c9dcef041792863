package guild

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/howkawgew/PlasmoSyncBot/pkg/httpclient"
	"github.com/howkawgew/PlasmoSyncBot/pkg/models"
	"github.com/howkawgew/PlasmoSyncBot/pkg/platform"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	logger := ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
	client := NewClient(
		Config{BaseURL: server.URL, Token: "test-token"},
		httpclient.NewClient(httpclient.DefaultConfig(), logger),
		logger,
	)
	return client, server
}

func TestFetchObservedState(t *testing.T) {
	var gotPath, gotAuth string
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"present": true, "nick": "Steve", "roles": ["admin", "builder"], "banned": false}`))
	})

	state, err := client.FetchObservedState(context.Background(), "user-1", "guild-1")
	require.NoError(t, err)

	assert.Equal(t, "/guilds/guild-1/members/user-1", gotPath)
	assert.Equal(t, "Bot test-token", gotAuth)
	assert.Equal(t, []string{models.MembershipMember}, state.Values(models.CategoryMembership))
	assert.Empty(t, state.Values(models.CategoryBan))
	assert.ElementsMatch(t, []string{"admin", "builder"}, state.Values(models.CategoryRole))
	assert.Equal(t, []string{"Steve"}, state.Values(models.CategoryNickname))
}

func TestFetchObservedState_BannedMember(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"present": false, "banned": true}`))
	})

	state, err := client.FetchObservedState(context.Background(), "user-1", "guild-1")
	require.NoError(t, err)

	assert.Empty(t, state.Values(models.CategoryMembership))
	assert.Equal(t, []string{models.BanActive}, state.Values(models.CategoryBan))
	assert.Empty(t, state.Values(models.CategoryNickname))
}

func TestFetchObservedState_MissingMemberIsEmptyState(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	state, err := client.FetchObservedState(context.Background(), "user-1", "guild-1")
	require.NoError(t, err)
	assert.True(t, state.Equal(models.NewState()))
}

func TestFetchObservedState_GatewayErrors(t *testing.T) {
	tests := []struct {
		name       string
		statusCode int
		wantStatus int
	}{
		{"rate limited", http.StatusTooManyRequests, http.StatusTooManyRequests},
		{"server error", http.StatusBadGateway, http.StatusInternalServerError},
		{"unauthorized", http.StatusUnauthorized, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.statusCode)
			})

			_, err := client.FetchObservedState(context.Background(), "user-1", "guild-1")
			require.Error(t, err)
			assert.True(t, httperror.IsHTTPError(err))
			assert.Equal(t, tt.wantStatus, httperror.GetStatusCode(err))
		})
	}
}

func TestPing(t *testing.T) {
	t.Run("valid token", func(t *testing.T) {
		var gotPath, gotAuth string
		client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			gotPath = r.URL.Path
			gotAuth = r.Header.Get("Authorization")
			w.Write([]byte(`{"id": "bot-1"}`))
		})

		require.NoError(t, client.Ping(context.Background()))
		assert.Equal(t, "/users/@me", gotPath)
		assert.Equal(t, "Bot test-token", gotAuth)
	})

	t.Run("rejected token fails the check", func(t *testing.T) {
		client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
		})

		err := client.Ping(context.Background())
		require.Error(t, err)
		assert.Equal(t, http.StatusUnauthorized, httperror.GetStatusCode(err))
	})

	t.Run("unexpected status fails the check", func(t *testing.T) {
		client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		})

		assert.Error(t, client.Ping(context.Background()))
	})
}

func TestApply_StatusMapping(t *testing.T) {
	tests := []struct {
		name       string
		statusCode int
		wantStatus platform.ApplyStatus
	}{
		{"applied", http.StatusNoContent, platform.StatusApplied},
		{"already in place", http.StatusConflict, platform.StatusNoOp},
		{"rate limited", http.StatusTooManyRequests, platform.StatusTransient},
		{"server error", http.StatusInternalServerError, platform.StatusTransient},
		{"forbidden", http.StatusForbidden, platform.StatusFatal},
		{"target missing", http.StatusNotFound, platform.StatusFatal},
		{"unexpected", http.StatusUnprocessableEntity, platform.StatusFatal},
	}

	op := models.NewCorrectiveOperation("user-1", "guild-1", models.OpAdd, models.CategoryRole, "admin")

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.statusCode)
			})

			result := client.Apply(context.Background(), op)
			assert.Equal(t, tt.wantStatus, result.Status)
			if tt.wantStatus == platform.StatusTransient || tt.wantStatus == platform.StatusFatal {
				assert.Error(t, result.Err)
			}
		})
	}
}

func TestApply_RateLimitCarriesRetryAfter(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "3")
		w.WriteHeader(http.StatusTooManyRequests)
	})

	op := models.NewCorrectiveOperation("user-1", "guild-1", models.OpAdd, models.CategoryRole, "admin")
	result := client.Apply(context.Background(), op)

	assert.Equal(t, platform.StatusTransient, result.Status)
	assert.Equal(t, 3*time.Second, result.RetryAfter)
}

func TestApply_MembershipAddIsNoOp(t *testing.T) {
	called := false
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		called = true
	})

	op := models.NewCorrectiveOperation("user-1", "guild-1", models.OpAdd, models.CategoryMembership, models.MembershipMember)
	result := client.Apply(context.Background(), op)

	assert.Equal(t, platform.StatusNoOp, result.Status)
	assert.False(t, called, "membership additions must not hit the gateway")
}

func TestApply_EndpointRouting(t *testing.T) {
	tests := []struct {
		name       string
		op         models.CorrectiveOperation
		wantMethod string
		wantPath   string
		wantBody   string
	}{
		{
			name:       "role add",
			op:         models.NewCorrectiveOperation("user-1", "guild-1", models.OpAdd, models.CategoryRole, "admin"),
			wantMethod: http.MethodPut,
			wantPath:   "/guilds/guild-1/members/user-1/roles/admin",
		},
		{
			name:       "role remove",
			op:         models.NewCorrectiveOperation("user-1", "guild-1", models.OpRemove, models.CategoryRole, "admin"),
			wantMethod: http.MethodDelete,
			wantPath:   "/guilds/guild-1/members/user-1/roles/admin",
		},
		{
			name:       "nickname update",
			op:         models.NewCorrectiveOperation("user-1", "guild-1", models.OpUpdate, models.CategoryNickname, "Steve"),
			wantMethod: http.MethodPatch,
			wantPath:   "/guilds/guild-1/members/user-1",
			wantBody:   `{"nick":"Steve"}`,
		},
		{
			name:       "nickname remove clears the nick",
			op:         models.NewCorrectiveOperation("user-1", "guild-1", models.OpRemove, models.CategoryNickname, "Steve"),
			wantMethod: http.MethodPatch,
			wantPath:   "/guilds/guild-1/members/user-1",
			wantBody:   `{"nick":""}`,
		},
		{
			name:       "ban add",
			op:         models.NewCorrectiveOperation("user-1", "guild-1", models.OpAdd, models.CategoryBan, models.BanActive),
			wantMethod: http.MethodPut,
			wantPath:   "/guilds/guild-1/bans/user-1",
		},
		{
			name:       "ban remove",
			op:         models.NewCorrectiveOperation("user-1", "guild-1", models.OpRemove, models.CategoryBan, models.BanActive),
			wantMethod: http.MethodDelete,
			wantPath:   "/guilds/guild-1/bans/user-1",
		},
		{
			name:       "membership remove kicks the member",
			op:         models.NewCorrectiveOperation("user-1", "guild-1", models.OpRemove, models.CategoryMembership, models.MembershipMember),
			wantMethod: http.MethodDelete,
			wantPath:   "/guilds/guild-1/members/user-1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotMethod, gotPath, gotKey, gotBody string
			client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				gotMethod = r.Method
				gotPath = r.URL.Path
				gotKey = r.Header.Get("X-Idempotency-Key")
				buf := make([]byte, 256)
				n, _ := r.Body.Read(buf)
				gotBody = string(buf[:n])
				w.WriteHeader(http.StatusNoContent)
			})

			result := client.Apply(context.Background(), tt.op)
			assert.Equal(t, platform.StatusApplied, result.Status)
			assert.Equal(t, tt.wantMethod, gotMethod)
			assert.Equal(t, tt.wantPath, gotPath)
			assert.Equal(t, tt.op.IdempotencyKey, gotKey)
			if tt.wantBody != "" {
				assert.JSONEq(t, tt.wantBody, gotBody)
			}
		})
	}
}
