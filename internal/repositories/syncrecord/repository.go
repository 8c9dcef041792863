// Package syncrecord persists the per-entity convergence checkpoints.
package syncrecord

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"

	"github.com/howkawgew/PlasmoSyncBot/pkg/database"
	"github.com/howkawgew/PlasmoSyncBot/pkg/models"
	"github.com/howkawgew/PlasmoSyncBot/pkg/tracing"
)

// Repository handles sync record persistence
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

// NewRepository creates a new sync record repository
func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

const syncRecordTable = "sync_records"

var syncRecordStruct = database.NewStruct(new(models.SyncRecord))

// allColumns is the standard column list for SELECT queries
const allColumns = `id, identity, guild_id, donor_user_id, guild_member_id,
	desired_state, observed_state, sequence, applied_keys, issues,
	last_reconciled_at, created_at, updated_at`

// Create inserts the checkpoint for a newly linked entity. The (identity,
// guild_id) pair is the natural key; re-linking an existing pair refreshes
// the platform-native ids without resetting the sequence.
func (r *Repository) Create(ctx context.Context, rec *models.SyncRecord) (*models.SyncRecord, error) {
	ctx, span := tracing.StartSpan(ctx, "syncrecord.Repository.Create")
	defer span.End()

	log := r.logger.WithContext(ctx).WithFields(map[string]any{
		"method":   "Create",
		"identity": rec.Identity,
		"guild_id": rec.GuildID,
	})

	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	now := time.Now().UTC()
	rec.CreatedAt = now
	rec.UpdatedAt = now

	ib := syncRecordStruct.InsertInto(syncRecordTable, rec)
	ub := ib.OnConflict("identity", "guild_id")
	ub.Set(
		ub.Assign("donor_user_id", database.Excluded("donor_user_id")),
		ub.Assign("guild_member_id", database.Excluded("guild_member_id")),
		ub.Assign("updated_at", database.Excluded("updated_at")),
	)

	query, args := ib.Build()

	ctx, tx, err := r.db.GetTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		log.WithError(err).Error("Failed to create sync record")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to create sync record")
	}

	var out models.SyncRecord
	selectQuery := fmt.Sprintf(`SELECT %s FROM sync_records WHERE identity = $1 AND guild_id = $2`, allColumns)
	if err := tx.GetContext(ctx, &out, selectQuery, rec.Identity, rec.GuildID); err != nil {
		log.WithError(err).Error("Failed to read back sync record")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to create sync record")
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	log.Info("Linked entity")
	return &out, nil
}

// Get retrieves the checkpoint for one entity in one guild
func (r *Repository) Get(ctx context.Context, identity, guildID string) (*models.SyncRecord, error) {
	ctx, span := tracing.StartSpan(ctx, "syncrecord.Repository.Get")
	defer span.End()

	query := fmt.Sprintf(`SELECT %s FROM sync_records WHERE identity = $1 AND guild_id = $2`, allColumns)

	var rec models.SyncRecord
	if err := r.db.GetContext(ctx, &rec, query, identity, guildID); err != nil {
		if err.Error() == "sql: no rows in result set" {
			return nil, httperror.NewHTTPErrorf(http.StatusNotFound, "sync record for %s in guild %s not found", identity, guildID)
		}
		r.logger.WithContext(ctx).WithError(err).Error("Failed to get sync record")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get sync record")
	}

	return &rec, nil
}

// GetByGuildMember resolves a checkpoint by the guild-native member id
func (r *Repository) GetByGuildMember(ctx context.Context, guildID, memberID string) (*models.SyncRecord, error) {
	ctx, span := tracing.StartSpan(ctx, "syncrecord.Repository.GetByGuildMember")
	defer span.End()

	query := fmt.Sprintf(`SELECT %s FROM sync_records WHERE guild_id = $1 AND guild_member_id = $2`, allColumns)

	var rec models.SyncRecord
	if err := r.db.GetContext(ctx, &rec, query, guildID, memberID); err != nil {
		if err.Error() == "sql: no rows in result set" {
			return nil, nil
		}
		r.logger.WithContext(ctx).WithError(err).Error("Failed to get sync record by guild member")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get sync record")
	}

	return &rec, nil
}

// Put writes the mutable checkpoint fields back. The caller holds the
// per-entity lock, so a plain update by id is race-free.
func (r *Repository) Put(ctx context.Context, rec *models.SyncRecord) error {
	ctx, span := tracing.StartSpan(ctx, "syncrecord.Repository.Put")
	defer span.End()

	rec.UpdatedAt = time.Now().UTC()

	ub := database.NewUpdateBuilder()
	ub.Update(syncRecordTable).
		Set(
			ub.Assign("desired_state", rec.Desired),
			ub.Assign("observed_state", rec.Observed),
			ub.Assign("sequence", rec.Sequence),
			ub.Assign("applied_keys", rec.AppliedKeys),
			ub.Assign("issues", rec.Issues),
			ub.Assign("last_reconciled_at", rec.LastReconciledAt),
			ub.Assign("updated_at", rec.UpdatedAt),
		).
		Where(ub.Equal("id", rec.ID))

	query, args := ub.Build()

	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to update sync record")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to update sync record")
	}

	if rows, err := result.RowsAffected(); err == nil && rows == 0 {
		return httperror.NewHTTPErrorf(http.StatusNotFound, "sync record %s not found", rec.ID)
	}

	return nil
}

// Delete removes the checkpoint on explicit unlink
func (r *Repository) Delete(ctx context.Context, identity, guildID string) error {
	ctx, span := tracing.StartSpan(ctx, "syncrecord.Repository.Delete")
	defer span.End()

	log := r.logger.WithContext(ctx).WithFields(map[string]any{
		"method":   "Delete",
		"identity": identity,
		"guild_id": guildID,
	})

	db := database.NewDeleteBuilder()
	db.DeleteFrom(syncRecordTable).
		Where(
			db.Equal("identity", identity),
			db.Equal("guild_id", guildID),
		)

	query, args := db.Build()

	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		log.WithError(err).Error("Failed to delete sync record")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to delete sync record")
	}

	if rows, err := result.RowsAffected(); err == nil && rows == 0 {
		return httperror.NewHTTPErrorf(http.StatusNotFound, "sync record for %s in guild %s not found", identity, guildID)
	}

	log.Info("Unlinked entity")
	return nil
}

// ListLinked pages through all linked entities for a guild using keyset
// pagination on identity; pass an empty afterIdentity for the first page.
func (r *Repository) ListLinked(ctx context.Context, guildID, afterIdentity string, limit int) ([]models.SyncRecord, error) {
	ctx, span := tracing.StartSpan(ctx, "syncrecord.Repository.ListLinked")
	defer span.End()

	sb := database.NewSelectBuilder()
	sb.Select(allColumns).
		From("sync_records").
		Where(
			sb.Equal("guild_id", guildID),
			sb.GreaterThan("identity", afterIdentity),
		).
		OrderBy("identity").Asc().
		Limit(limit)

	query, args := sb.Build()

	var records []models.SyncRecord
	if err := r.db.SelectContext(ctx, &records, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to list linked entities")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list linked entities")
	}

	return records, nil
}

// ListGuildsForIdentity returns every guild the identity is linked in. A
// donor-side change fans out to each of them.
func (r *Repository) ListGuildsForIdentity(ctx context.Context, identity string) ([]string, error) {
	ctx, span := tracing.StartSpan(ctx, "syncrecord.Repository.ListGuildsForIdentity")
	defer span.End()

	var guilds []string
	if err := r.db.SelectContext(ctx, &guilds,
		`SELECT guild_id FROM sync_records WHERE identity = $1 ORDER BY guild_id`, identity); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to list guilds for identity")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list guilds for identity")
	}

	return guilds, nil
}

// CountLinked returns the number of linked entities in a guild
func (r *Repository) CountLinked(ctx context.Context, guildID string) (int64, error) {
	ctx, span := tracing.StartSpan(ctx, "syncrecord.Repository.CountLinked")
	defer span.End()

	var count int64
	if err := r.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM sync_records WHERE guild_id = $1`, guildID); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to count linked entities")
		return 0, httperror.NewHTTPError(http.StatusInternalServerError, "failed to count linked entities")
	}

	return count, nil
}
