package models

import (
	"time"

	json "github.com/goccy/go-json"
)

// SyncOptions tunes a single sync invocation.
// ForceUpdate and ResolveConflicts are accepted for API compatibility with
// the scheduler but currently have no effect; only DryRun changes behavior.
type SyncOptions struct {
	ForceUpdate      bool `json:"force_update"`
	ResolveConflicts bool `json:"resolve_conflicts"`
	DryRun           bool `json:"dry_run"`
}

// SyncResult is the outcome of one single-entity sync or push
type SyncResult struct {
	Success      bool            `json:"success"`
	MappingID    string          `json:"mapping_id,omitempty"`
	Error        string          `json:"error,omitempty"`
	ConflictData json.RawMessage `json:"conflict_data,omitempty"`
}

// SyncStats aggregates the outcome of one batch cycle.
// Successful + Failed always equals Total; Conflicts counts the subset of
// failures that recorded a conflict payload.
type SyncStats struct {
	Total      int `json:"total"`
	Successful int `json:"successful"`
	Failed     int `json:"failed"`
	Conflicts  int `json:"conflicts"`
	Skipped    int `json:"skipped"`
}

// StatsFilter narrows a mapping-stats query. Nil fields mean "all".
type StatsFilter struct {
	System     *ExternalSystem
	EntityType *EntityType
}

// Outcome kinds carried on sync lifecycle events
const (
	OutcomeCreated    = "created"
	OutcomeUpdated    = "updated"
	OutcomeConflict   = "conflict"
	OutcomePushed     = "pushed"
	OutcomePushFailed = "push_failed"
)

// SyncOutcome is the event payload published after a state-mutating sync
type SyncOutcome struct {
	EventID          string         `json:"event_id"`
	System           ExternalSystem `json:"system"`
	EntityType       EntityType     `json:"entity_type"`
	ExternalID       string         `json:"external_id,omitempty"`
	MappingID        string         `json:"mapping_id,omitempty"`
	InternalEntityID string         `json:"internal_entity_id,omitempty"`
	Outcome          string         `json:"outcome"`
	Error            string         `json:"error,omitempty"`
	Timestamp        time.Time      `json:"timestamp"`
}

// MappingStats is the aggregate view over the mapping table
type MappingStats struct {
	Total        int64                    `json:"total"`
	Active       int64                    `json:"active"`
	Inactive     int64                    `json:"inactive"`
	Conflicts    int64                    `json:"conflicts"`
	PendingPush  int64                    `json:"pending_push"`
	BySystem     map[ExternalSystem]int64 `json:"by_system"`
	ByEntityType map[EntityType]int64     `json:"by_entity_type"`
}
