package models

// LinkRequest establishes a sync link between a guild member and their donor
// identity.
type LinkRequest struct {
	GuildID       string `json:"guild_id" validate:"required"`
	GuildMemberID string `json:"guild_member_id" validate:"required"`
}

// SyncRecordResponse wraps a single sync record
type SyncRecordResponse struct {
	SyncRecord SyncRecord `json:"sync_record"`
}

// SyncRecordListResponse is a paginated list of sync records for a guild
type SyncRecordListResponse struct {
	Items      []SyncRecord `json:"items"`
	TotalCount int64        `json:"total_count"`
	AfterID    string       `json:"after_id,omitempty"`
	Limit      int          `json:"limit"`
}

// UpdateGuildSettingsRequest replaces a guild's switch configuration
type UpdateGuildSettingsRequest struct {
	Switches map[string]bool `json:"switches" validate:"required"`
}

// VerifyGuildRequest toggles a guild's verified flag
type VerifyGuildRequest struct {
	Verified bool `json:"verified"`
}

// GuildSettingsResponse wraps a guild's settings
type GuildSettingsResponse struct {
	Settings GuildSettings `json:"settings"`
}

// EnqueuedResponse acknowledges an accepted asynchronous job
type EnqueuedResponse struct {
	JobID  string `json:"job_id,omitempty"`
	Status string `json:"status"`
}
