package guildsettings_test

import (
	"context"
	"net/http"
	"os"
	"testing"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/Gobusters/ectologger/zapadapter"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/howkawgew/PlasmoSyncBot/internal/repositories/guildsettings"
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

func TestGuildSettingsRepository_UpsertAndGet(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	db := getTestDB(t)
	repo := guildsettings.NewRepository(db, getTestLogger())
	ctx := context.Background()

	guildID := "guild-" + uuid.New().String()

	// Unregistered guilds resolve to defaults without error
	defaults, err := repo.Get(ctx, guildID)
	require.NoError(t, err)
	assert.Equal(t, uuid.Nil, defaults.ID)
	assert.False(t, defaults.Verified)
	assert.Equal(t, models.DefaultSwitches(), defaults.Switches.Data)

	// Register the guild
	created, err := repo.Upsert(ctx, &models.GuildSettings{GuildID: guildID})
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, created.ID)
	assert.Equal(t, models.DefaultSwitches(), created.Switches.Data)

	// Replace the switches
	created.Switches = database.JSONB[map[string]bool]{
		Data: map[string]bool{models.SwitchSyncRoles: false, models.SwitchUseAPI: true},
	}
	updated, err := repo.Upsert(ctx, created)
	require.NoError(t, err)
	assert.Equal(t, created.ID, updated.ID)
	assert.False(t, updated.Switches.Data[models.SwitchSyncRoles])
}

func TestGuildSettingsRepository_SetVerified(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	db := getTestDB(t)
	repo := guildsettings.NewRepository(db, getTestLogger())
	ctx := context.Background()

	guildID := "guild-" + uuid.New().String()

	// Verifying an unregistered guild is a 404
	err := repo.SetVerified(ctx, guildID, true)
	require.Error(t, err)
	assert.True(t, httperror.IsHTTPError(err))
	assert.Equal(t, http.StatusNotFound, httperror.GetStatusCode(err))

	_, err = repo.Upsert(ctx, &models.GuildSettings{GuildID: guildID})
	require.NoError(t, err)

	require.NoError(t, repo.SetVerified(ctx, guildID, true))

	settings, err := repo.Get(ctx, guildID)
	require.NoError(t, err)
	assert.True(t, settings.Verified)

	guilds, err := repo.ListGuilds(ctx)
	require.NoError(t, err)
	assert.Contains(t, guilds, guildID)
}
