// Package events handles outcome event emission for reconciliation passes
package events

import (
	"context"

	"github.com/Gobusters/ectologger"

	"github.com/howkawgew/PlasmoSyncBot/pkg/kafka"
	"github.com/howkawgew/PlasmoSyncBot/pkg/models"
	"github.com/howkawgew/PlasmoSyncBot/pkg/tracing"
)

// SchemaVersion is the current event schema version
const SchemaVersion = "1.0"

// Emitter publishes sync outcome events for downstream consumers
type Emitter struct {
	producer *kafka.Producer
	logger   ectologger.Logger
}

// NewEmitter creates a new event emitter
func NewEmitter(producer *kafka.Producer, logger ectologger.Logger) *Emitter {
	return &Emitter{
		producer: producer,
		logger:   logger,
	}
}

// EmitConverged emits an event for a fully converged pass
func (e *Emitter) EmitConverged(ctx context.Context, rec *models.SyncRecord, operations int) error {
	ctx, span := tracing.StartSpan(ctx, "events.Emitter.EmitConverged")
	defer span.End()

	event := &models.SyncEvent{
		EventType:     models.SyncEventConverged,
		Identity:      models.Identity(rec.Identity),
		GuildID:       rec.GuildID,
		Sequence:      rec.Sequence,
		Operations:    operations,
		SchemaVersion: SchemaVersion,
	}

	if err := e.producer.PublishSyncEvent(ctx, event); err != nil {
		e.logger.WithContext(ctx).WithError(err).Error("Failed to emit sync.converged event")
		return err
	}

	return nil
}

// EmitFailed emits an event for a pass that left pending issues behind
func (e *Emitter) EmitFailed(ctx context.Context, rec *models.SyncRecord, operations int) error {
	ctx, span := tracing.StartSpan(ctx, "events.Emitter.EmitFailed")
	defer span.End()

	event := &models.SyncEvent{
		EventType:     models.SyncEventFailed,
		Identity:      models.Identity(rec.Identity),
		GuildID:       rec.GuildID,
		Sequence:      rec.Sequence,
		Operations:    operations,
		Issues:        rec.Issues.Data,
		SchemaVersion: SchemaVersion,
	}

	if err := e.producer.PublishSyncEvent(ctx, event); err != nil {
		e.logger.WithContext(ctx).WithError(err).Error("Failed to emit sync.failed event")
		return err
	}

	return nil
}

// EmitDeferred emits an event for a pass that could not start, usually
// because a platform fetch failed
func (e *Emitter) EmitDeferred(ctx context.Context, identity models.Identity, guildID string) error {
	ctx, span := tracing.StartSpan(ctx, "events.Emitter.EmitDeferred")
	defer span.End()

	event := &models.SyncEvent{
		EventType:     models.SyncEventDeferred,
		Identity:      identity,
		GuildID:       guildID,
		SchemaVersion: SchemaVersion,
	}

	if err := e.producer.PublishSyncEvent(ctx, event); err != nil {
		e.logger.WithContext(ctx).WithError(err).Error("Failed to emit sync.deferred event")
		return err
	}

	return nil
}

// EmitUnlinked emits an event when an entity's link is removed
func (e *Emitter) EmitUnlinked(ctx context.Context, identity models.Identity, guildID string) error {
	ctx, span := tracing.StartSpan(ctx, "events.Emitter.EmitUnlinked")
	defer span.End()

	event := &models.SyncEvent{
		EventType:     models.SyncEventUnlinked,
		Identity:      identity,
		GuildID:       guildID,
		SchemaVersion: SchemaVersion,
	}

	if err := e.producer.PublishSyncEvent(ctx, event); err != nil {
		e.logger.WithContext(ctx).WithError(err).Error("Failed to emit entity.unlinked event")
		return err
	}

	return nil
}
