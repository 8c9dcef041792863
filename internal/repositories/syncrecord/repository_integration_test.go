package syncrecord_test

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"testing"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/Gobusters/ectologger/zapadapter"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/howkawgew/PlasmoSyncBot/internal/repositories/syncrecord"
	"github.com/howkawgew/PlasmoSyncBot/pkg/database"
	"github.com/howkawgew/PlasmoSyncBot/pkg/models"
)

func getTestLogger() ectologger.Logger {
	zapLogger, _ := zap.NewDevelopment()
	return zapadapter.NewZapEctoLogger(zapLogger, nil)
}

func getTestDB(t *testing.T) database.DB {
	// Use environment variables or defaults for test DB
	dbHost := os.Getenv("DB_HOST")
	if dbHost == "" {
		dbHost = "localhost"
	}
	dbUser := os.Getenv("DB_USER_NAME")
	if dbUser == "" {
		dbUser = "user"
	}
	dbPass := os.Getenv("DB_PASSWORD")
	if dbPass == "" {
		dbPass = "password"
	}
	dbName := os.Getenv("DB_NAME")
	if dbName == "" {
		dbName = "plasmosync"
	}

	dsn := "host=" + dbHost + " user=" + dbUser + " password=" + dbPass + " dbname=" + dbName + " sslmode=disable"
	db, err := sqlx.Connect("postgres", dsn)
	require.NoError(t, err, "Failed to connect to test database")

	return database.NewDatabaseInstance(db, getTestLogger())
}

// assertNotFound asserts that err is an HTTP 404 error
func assertNotFound(t *testing.T, err error) {
	t.Helper()
	require.Error(t, err)
	assert.True(t, httperror.IsHTTPError(err), "expected HTTP error, got: %v", err)
	assert.Equal(t, http.StatusNotFound, httperror.GetStatusCode(err), "expected 404, got: %d", httperror.GetStatusCode(err))
}

func newTestRecord(identity, guildID string) *models.SyncRecord {
	return &models.SyncRecord{
		Identity:      identity,
		GuildID:       guildID,
		DonorUserID:   identity,
		GuildMemberID: "member-" + identity,
		Desired:       database.JSONB[models.State]{Data: models.NewState()},
		Observed:      database.JSONB[models.State]{Data: models.NewState()},
	}
}

func TestSyncRecordRepository_CRUD(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	db := getTestDB(t)
	repo := syncrecord.NewRepository(db, getTestLogger())
	ctx := context.Background()

	identity := uuid.New().String()
	guildID := "guild-" + uuid.New().String()

	// Test Create
	created, err := repo.Create(ctx, newTestRecord(identity, guildID))
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, created.ID)
	assert.Equal(t, int64(0), created.Sequence)
	assert.False(t, created.CreatedAt.IsZero())

	t.Cleanup(func() {
		_ = repo.Delete(context.Background(), identity, guildID)
	})

	// Test Get
	fetched, err := repo.Get(ctx, identity, guildID)
	require.NoError(t, err)
	assert.Equal(t, created.ID, fetched.ID)
	assert.Equal(t, identity, fetched.Identity)

	// Test GetByGuildMember
	byMember, err := repo.GetByGuildMember(ctx, guildID, "member-"+identity)
	require.NoError(t, err)
	require.NotNil(t, byMember)
	assert.Equal(t, created.ID, byMember.ID)

	// Missing member resolves to nil without error
	missing, err := repo.GetByGuildMember(ctx, guildID, "member-nope")
	require.NoError(t, err)
	assert.Nil(t, missing)

	// Test Put
	desired := models.NewState()
	desired.Set(models.CategoryRole, "admin")
	now := time.Now().UTC()
	fetched.Desired = database.JSONB[models.State]{Data: desired}
	fetched.Sequence = 3
	fetched.LastReconciledAt = &now
	require.NoError(t, repo.Put(ctx, fetched))

	updated, err := repo.Get(ctx, identity, guildID)
	require.NoError(t, err)
	assert.Equal(t, int64(3), updated.Sequence)
	assert.Equal(t, []string{"admin"}, updated.Desired.Data.Values(models.CategoryRole))
	require.NotNil(t, updated.LastReconciledAt)

	// Test Delete
	require.NoError(t, repo.Delete(ctx, identity, guildID))
	_, err = repo.Get(ctx, identity, guildID)
	assertNotFound(t, err)
}

func TestSyncRecordRepository_RelinkKeepsSequence(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	db := getTestDB(t)
	repo := syncrecord.NewRepository(db, getTestLogger())
	ctx := context.Background()

	identity := uuid.New().String()
	guildID := "guild-" + uuid.New().String()

	created, err := repo.Create(ctx, newTestRecord(identity, guildID))
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = repo.Delete(context.Background(), identity, guildID)
	})

	created.Sequence = 7
	require.NoError(t, repo.Put(ctx, created))

	// Linking the same pair again refreshes the member id but the checkpoint
	// survives.
	relink := newTestRecord(identity, guildID)
	relink.GuildMemberID = "member-renamed"
	relinked, err := repo.Create(ctx, relink)
	require.NoError(t, err)

	assert.Equal(t, created.ID, relinked.ID)
	assert.Equal(t, int64(7), relinked.Sequence)
	assert.Equal(t, "member-renamed", relinked.GuildMemberID)
}

func TestSyncRecordRepository_ListLinked(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	db := getTestDB(t)
	repo := syncrecord.NewRepository(db, getTestLogger())
	ctx := context.Background()

	guildID := "guild-" + uuid.New().String()
	identities := make([]string, 0, 5)
	for i := 0; i < 5; i++ {
		identity := fmt.Sprintf("list-%d-%s", i, uuid.New().String())
		identities = append(identities, identity)
		_, err := repo.Create(ctx, newTestRecord(identity, guildID))
		require.NoError(t, err)
	}

	t.Cleanup(func() {
		for _, identity := range identities {
			_ = repo.Delete(context.Background(), identity, guildID)
		}
	})

	count, err := repo.CountLinked(ctx, guildID)
	require.NoError(t, err)
	assert.Equal(t, int64(5), count)

	// Page through with keyset pagination
	page1, err := repo.ListLinked(ctx, guildID, "", 3)
	require.NoError(t, err)
	require.Len(t, page1, 3)

	page2, err := repo.ListLinked(ctx, guildID, page1[2].Identity, 3)
	require.NoError(t, err)
	require.Len(t, page2, 2)

	seen := map[string]bool{}
	for _, rec := range append(page1, page2...) {
		seen[rec.Identity] = true
	}
	assert.Len(t, seen, 5)
	assert.Greater(t, page2[0].Identity, page1[2].Identity)
}

func TestSyncRecordRepository_ListGuildsForIdentity(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	db := getTestDB(t)
	repo := syncrecord.NewRepository(db, getTestLogger())
	ctx := context.Background()

	identity := uuid.New().String()
	guildA := "guild-a-" + uuid.New().String()
	guildB := "guild-b-" + uuid.New().String()

	for _, guildID := range []string{guildA, guildB} {
		_, err := repo.Create(ctx, newTestRecord(identity, guildID))
		require.NoError(t, err)
	}

	t.Cleanup(func() {
		_ = repo.Delete(context.Background(), identity, guildA)
		_ = repo.Delete(context.Background(), identity, guildB)
	})

	guilds, err := repo.ListGuildsForIdentity(ctx, identity)
	require.NoError(t, err)
	assert.Equal(t, []string{guildA, guildB}, guilds)
}
