package engine

import (
	"context"
	"time"

	json "github.com/goccy/go-json"

	"github.com/courtflow/syncbridge/internal/models"
)

// Adapter is the contract every external-system integration implements.
// The orchestrator is polymorphic over it and never branches on the
// concrete system beyond selecting the registered instance.
type Adapter interface {
	// System returns the tag this adapter is registered under
	System() models.ExternalSystem

	// FetchEntity returns the current external representation of one
	// entity, or (nil, nil) when the entity does not exist. Errors are
	// reserved for transport and auth failures.
	FetchEntity(ctx context.Context, externalID string, entityType models.EntityType) (*models.ExternalEntityData, error)

	// FetchEntities returns entities changed since the given timestamp,
	// or a full scan when since is nil
	FetchEntities(ctx context.Context, entityType models.EntityType, since *time.Time) ([]models.ExternalEntityData, error)

	// PushEntity creates a new entity in the external system and returns
	// its assigned identifier. Must be safe to retry.
	PushEntity(ctx context.Context, data map[string]any, entityType models.EntityType) (string, error)

	// UpdateEntity overwrites an existing external entity
	UpdateEntity(ctx context.Context, externalID string, data map[string]any, entityType models.EntityType) (bool, error)

	// HealthCheck is a cheap liveness probe. It never returns an error;
	// adapters report degraded state as false.
	HealthCheck(ctx context.Context) bool
}

// MappingStore is the persistence contract for sync mappings
type MappingStore interface {
	FindByExternalID(ctx context.Context, system models.ExternalSystem, externalID string) (*models.Mapping, error)
	FindByID(ctx context.Context, mappingID string) (*models.Mapping, error)
	FindBySystem(ctx context.Context, system models.ExternalSystem) ([]models.Mapping, error)
	Create(ctx context.Context, m *models.Mapping) (*models.Mapping, error)
	Update(ctx context.Context, mappingID string, fields map[string]any) (*models.Mapping, error)

	// UpdateSyncStatus records the outcome of one sync attempt in a single
	// transition: sync_data (kept unchanged when syncData is nil),
	// last_sync_at = now, has_conflict, conflict_data and last_error.
	UpdateSyncStatus(ctx context.Context, mappingID string, syncData json.RawMessage, hasConflict bool, conflictData json.RawMessage, syncErr string) (*models.Mapping, error)

	GetMappingStats(ctx context.Context, filter models.StatsFilter) (models.MappingStats, error)
	CleanupOldInactive(ctx context.Context, daysOld int) (int64, error)
}

// EntityGateway is the slice of an internal repository the engine consumes.
// Concrete per-entity repositories live outside this package; the engine
// treats them as opaque stores keyed by entity id.
type EntityGateway interface {
	Create(ctx context.Context, data map[string]any) (string, error)
	Update(ctx context.Context, id string, data map[string]any) error
	GetByID(ctx context.Context, id string) (map[string]any, error)
}

// OutcomePublisher receives a notification after every state-mutating sync.
// Publishing is best-effort: a publish failure is logged by the engine and
// never fails the sync that produced it.
type OutcomePublisher interface {
	PublishOutcome(ctx context.Context, outcome models.SyncOutcome) error
}
