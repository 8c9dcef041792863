package models

import "time"

// ChangeEvent is the normalized form of a raw change notification from either
// platform: who changed, where the change originated and which attribute
// categories were touched.
type ChangeEvent struct {
	Identity          Identity            `json:"identity"`
	GuildID           string              `json:"guild_id"`
	Origin            Origin              `json:"origin"`
	ChangedCategories []AttributeCategory `json:"changed_categories"`
	ObservedAt        time.Time           `json:"observed_at"`
}

// SyncEventType is the type of an emitted sync outcome event.
type SyncEventType string

const (
	SyncEventConverged SyncEventType = "sync.converged"
	SyncEventFailed    SyncEventType = "sync.failed"
	SyncEventDeferred  SyncEventType = "sync.deferred"
	SyncEventUnlinked  SyncEventType = "entity.unlinked"
)

// SyncEvent is published to Kafka after each reconciliation pass for
// downstream consumers.
type SyncEvent struct {
	EventType     SyncEventType  `json:"event_type"`
	Identity      Identity       `json:"identity"`
	GuildID       string         `json:"guild_id"`
	Sequence      int64          `json:"sequence"`
	Operations    int            `json:"operations"`
	Issues        []PendingIssue `json:"issues,omitempty"`
	EmittedAt     time.Time      `json:"emitted_at"`
	SchemaVersion string         `json:"schema_version"`
}
