package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/courtflow/syncbridge/internal/models"
	"github.com/courtflow/syncbridge/pkg/metrics"
)

const DefaultAdapterCallTimeout = 30 * time.Second

// Engine coordinates synchronization cycles between internal entity stores
// and external systems. Adapters and gateways are registered at startup and
// read for the process lifetime; the registries are not safe for concurrent
// mutation after that. The publisher is the one exception: it sits behind
// its own lock so the daemon can replace a dead broker connection at runtime.
//
// Two concurrent calls for the same (system, externalId) are not serialized
// here; a scheduler that can overlap them must key a lock on that pair. The
// store's uniqueness constraints are the backstop for a lost race.
type Engine struct {
	store       MappingStore
	adapters    map[models.ExternalSystem]Adapter
	gateways    map[models.EntityType]EntityGateway
	pubMu       sync.RWMutex
	publisher   OutcomePublisher
	logger      *slog.Logger
	callTimeout time.Duration
}

// Option configures an Engine at construction time
type Option func(*Engine)

// WithPublisher attaches a best-effort outcome publisher
func WithPublisher(p OutcomePublisher) Option {
	return func(e *Engine) { e.publisher = p }
}

// WithAdapterCallTimeout overrides the per-adapter-call deadline
func WithAdapterCallTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.callTimeout = d
		}
	}
}

func New(store MappingStore, logger *slog.Logger, opts ...Option) *Engine {
	e := &Engine{
		store:       store,
		adapters:    make(map[models.ExternalSystem]Adapter),
		gateways:    make(map[models.EntityType]EntityGateway),
		logger:      logger,
		callTimeout: DefaultAdapterCallTimeout,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// RegisterAdapter binds an adapter under its declared system tag.
// The last registration for a given tag wins.
func (e *Engine) RegisterAdapter(a Adapter) {
	e.adapters[a.System()] = a
	e.logger.Info("Adapter registered", "system", a.System())
}

// RegisterGateway binds an internal entity gateway for one entity type
func (e *Engine) RegisterGateway(entityType models.EntityType, g EntityGateway) {
	e.gateways[entityType] = g
}

// SetPublisher replaces the outcome publisher. The daemon calls this after
// rebuilding a broker connection that NotifyClose marked dead.
func (e *Engine) SetPublisher(p OutcomePublisher) {
	e.pubMu.Lock()
	e.publisher = p
	e.pubMu.Unlock()
}

// SyncEntity pulls one entity from the external system and applies it to
// the internal store, creating or updating the mapping accordingly.
func (e *Engine) SyncEntity(ctx context.Context, system models.ExternalSystem, externalID string, entityType models.EntityType, opts models.SyncOptions) (result models.SyncResult) {
	start := time.Now()
	l := e.logger.With("system", system, "external_id", externalID, "entity_type", entityType)

	defer func() {
		metrics.EntityDuration.WithLabelValues("pull").Observe(time.Since(start).Seconds())
		if r := recover(); r != nil {
			l.Error("Panic during entity sync", "panic", r)
			result = failure(fmt.Errorf("internal error: %v", r))
		}
		metrics.EntitiesProcessed.WithLabelValues(resultStatus(result), string(system), string(entityType)).Inc()
	}()

	adapter, ok := e.adapters[system]
	if !ok {
		return failure(fmt.Errorf("%w: %s", ErrAdapterUnavailable, system))
	}

	mapping, err := e.store.FindByExternalID(ctx, system, externalID)
	if err != nil {
		l.Error("Mapping lookup failed", "error", err)
		return failure(fmt.Errorf("mapping lookup failed: %w", err))
	}

	callCtx, cancel := context.WithTimeout(ctx, e.callTimeout)
	external, err := adapter.FetchEntity(callCtx, externalID, entityType)
	cancel()
	if err != nil {
		l.Error("Adapter fetch failed", "error", err)
		return failure(fmt.Errorf("fetch failed: %w", err))
	}
	if external == nil {
		return failure(fmt.Errorf("%w: %s/%s", ErrEntityNotFound, system, externalID))
	}

	if opts.DryRun {
		res := models.SyncResult{Success: true}
		if mapping != nil {
			res.MappingID = mapping.ID
		}
		return res
	}

	if mapping != nil {
		return e.applyToExisting(ctx, l, mapping, external)
	}
	return e.createFromExternal(ctx, l, system, externalID, entityType, external)
}

// applyToExisting pushes the fetched payload into the internal entity and
// records the attempt on the mapping, as a clean sync or as a conflict.
func (e *Engine) applyToExisting(ctx context.Context, l *slog.Logger, mapping *models.Mapping, external *models.ExternalEntityData) models.SyncResult {
	snapshot, err := json.Marshal(external.Data)
	if err != nil {
		return failure(fmt.Errorf("payload serialization failed: %w", err))
	}

	gateway, ok := e.gateways[mapping.InternalEntityType]
	if !ok {
		return failure(fmt.Errorf("%w: %s", ErrGatewayUnavailable, mapping.InternalEntityType))
	}

	if err := gateway.Update(ctx, mapping.InternalEntityID, external.Data); err != nil {
		// Data-level failure: record as conflict for manual review, keep
		// the attempted payload so the reconciliation report can diff it
		if _, serr := e.store.UpdateSyncStatus(ctx, mapping.ID, nil, true, snapshot, err.Error()); serr != nil {
			l.Error("Failed to record conflict on mapping", "mapping_id", mapping.ID, "error", serr)
		}
		l.Warn("Sync conflict recorded", "mapping_id", mapping.ID, "internal_id", mapping.InternalEntityID, "error", err)
		e.publish(ctx, models.SyncOutcome{
			System:           mapping.ExternalSystem,
			EntityType:       mapping.InternalEntityType,
			ExternalID:       mapping.ExternalID,
			MappingID:        mapping.ID,
			InternalEntityID: mapping.InternalEntityID,
			Outcome:          models.OutcomeConflict,
			Error:            err.Error(),
		})
		return models.SyncResult{
			Success:      false,
			MappingID:    mapping.ID,
			Error:        err.Error(),
			ConflictData: snapshot,
		}
	}

	if _, err := e.store.UpdateSyncStatus(ctx, mapping.ID, snapshot, false, nil, ""); err != nil {
		l.Error("Failed to record clean sync", "mapping_id", mapping.ID, "error", err)
		return failure(fmt.Errorf("sync status update failed: %w", err))
	}

	l.Info("Entity synchronized", "mapping_id", mapping.ID, "internal_id", mapping.InternalEntityID)
	e.publish(ctx, models.SyncOutcome{
		System:           mapping.ExternalSystem,
		EntityType:       mapping.InternalEntityType,
		ExternalID:       mapping.ExternalID,
		MappingID:        mapping.ID,
		InternalEntityID: mapping.InternalEntityID,
		Outcome:          models.OutcomeUpdated,
	})
	return models.SyncResult{Success: true, MappingID: mapping.ID}
}

// createFromExternal materializes a never-seen external entity internally
// and binds a fresh mapping to it. The internal write happens first: if it
// fails, no mapping row is left behind.
func (e *Engine) createFromExternal(ctx context.Context, l *slog.Logger, system models.ExternalSystem, externalID string, entityType models.EntityType, external *models.ExternalEntityData) models.SyncResult {
	gateway, ok := e.gateways[entityType]
	if !ok {
		return failure(fmt.Errorf("%w: %s", ErrGatewayUnavailable, entityType))
	}

	internalID, err := gateway.Create(ctx, external.Data)
	if err != nil {
		l.Error("Internal entity creation failed", "error", err)
		return failure(fmt.Errorf("internal create failed: %w", err))
	}

	snapshot, err := json.Marshal(external.Data)
	if err != nil {
		return failure(fmt.Errorf("payload serialization failed: %w", err))
	}

	now := time.Now()
	created, err := e.store.Create(ctx, &models.Mapping{
		ExternalSystem:     system,
		ExternalID:         externalID,
		InternalEntityType: entityType,
		InternalEntityID:   internalID,
		IsActive:           true,
		LastSyncAt:         &now,
		SyncData:           snapshot,
	})
	if err != nil {
		// Cross-store atomicity gap: the internal entity exists but the
		// mapping write failed. A reconciliation job has to pick this up.
		l.Error("CRITICAL: internal entity created but mapping persist failed",
			"internal_id", internalID, "error", err)
		return failure(fmt.Errorf("mapping create failed: %w", err))
	}

	l.Info("Entity imported from external system", "mapping_id", created.ID, "internal_id", internalID)
	e.publish(ctx, models.SyncOutcome{
		System:           system,
		EntityType:       entityType,
		ExternalID:       externalID,
		MappingID:        created.ID,
		InternalEntityID: internalID,
		Outcome:          models.OutcomeCreated,
	})
	return models.SyncResult{Success: true, MappingID: created.ID}
}

// SyncEntities runs a batch pull cycle for one system and entity type.
// Entities are processed sequentially in adapter order; a single failure
// never short-circuits the batch.
func (e *Engine) SyncEntities(ctx context.Context, system models.ExternalSystem, entityType models.EntityType, opts models.SyncOptions) (stats models.SyncStats) {
	start := time.Now()
	l := e.logger.With("system", system, "entity_type", entityType)

	defer func() {
		metrics.BatchDuration.Observe(time.Since(start).Seconds())
		if r := recover(); r != nil {
			l.Error("Panic during batch sync", "panic", r)
		}
	}()

	adapter, ok := e.adapters[system]
	if !ok {
		l.Error("Batch sync aborted", "error", ErrAdapterUnavailable)
		return stats
	}

	watermark, err := e.watermark(ctx, system, entityType)
	if err != nil {
		l.Error("Watermark computation failed, forcing full resync", "error", err)
		watermark = nil
	}

	callCtx, cancel := context.WithTimeout(ctx, e.callTimeout)
	entities, err := adapter.FetchEntities(callCtx, entityType, watermark)
	cancel()
	if err != nil {
		l.Error("Batch fetch failed", "error", err)
		return stats
	}

	metrics.BatchSize.Observe(float64(len(entities)))

	for _, ext := range entities {
		stats.Total++
		if ext.ExternalID == "" {
			l.Warn("Skipping batch entry without external id")
			stats.Failed++
			continue
		}
		res := e.SyncEntity(ctx, system, ext.ExternalID, entityType, opts)
		if res.Success {
			stats.Successful++
			continue
		}
		stats.Failed++
		if len(res.ConflictData) > 0 {
			stats.Conflicts++
		}
	}

	l.Info("Batch cycle finished",
		"total", stats.Total,
		"successful", stats.Successful,
		"failed", stats.Failed,
		"conflicts", stats.Conflicts,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return stats
}

// watermark returns the most recent updatedAt among this system/entity-type's
// clean mappings. Nil means no clean sync has happened yet: full resync.
func (e *Engine) watermark(ctx context.Context, system models.ExternalSystem, entityType models.EntityType) (*time.Time, error) {
	mappings, err := e.store.FindBySystem(ctx, system)
	if err != nil {
		return nil, err
	}

	var wm *time.Time
	for i := range mappings {
		m := &mappings[i]
		if m.InternalEntityType != entityType || m.HasConflict || m.LastError != "" {
			continue
		}
		if wm == nil || m.UpdatedAt.After(*wm) {
			t := m.UpdatedAt
			wm = &t
		}
	}
	return wm, nil
}

// PushToExternal sends the current internal state of a mapped entity to its
// external system, creating the external entity on first push.
func (e *Engine) PushToExternal(ctx context.Context, mappingID string, opts models.SyncOptions) (result models.SyncResult) {
	start := time.Now()
	l := e.logger.With("mapping_id", mappingID)

	defer func() {
		metrics.EntityDuration.WithLabelValues("push").Observe(time.Since(start).Seconds())
		if r := recover(); r != nil {
			l.Error("Panic during push", "panic", r)
			result = failure(fmt.Errorf("internal error: %v", r))
		}
	}()

	mapping, err := e.store.FindByID(ctx, mappingID)
	if err != nil {
		return failure(fmt.Errorf("mapping lookup failed: %w", err))
	}
	if mapping == nil {
		return failure(fmt.Errorf("%w: %s", ErrMappingNotFound, mappingID))
	}

	l = l.With("system", mapping.ExternalSystem, "entity_type", mapping.InternalEntityType)

	adapter, ok := e.adapters[mapping.ExternalSystem]
	if !ok {
		return failure(fmt.Errorf("%w: %s", ErrAdapterUnavailable, mapping.ExternalSystem))
	}

	gateway, ok := e.gateways[mapping.InternalEntityType]
	if !ok {
		return failure(fmt.Errorf("%w: %s", ErrGatewayUnavailable, mapping.InternalEntityType))
	}

	data, err := gateway.GetByID(ctx, mapping.InternalEntityID)
	if err != nil {
		if errors.Is(err, ErrGatewayNotFound) {
			l.Warn("Dangling mapping: internal entity is gone", "internal_id", mapping.InternalEntityID)
			return failure(fmt.Errorf("%w: %s/%s", ErrInternalEntityNotFound, mapping.InternalEntityType, mapping.InternalEntityID))
		}
		return failure(fmt.Errorf("internal read failed: %w", err))
	}

	if opts.DryRun {
		return models.SyncResult{Success: true, MappingID: mapping.ID}
	}

	snapshot, err := json.Marshal(data)
	if err != nil {
		return failure(fmt.Errorf("payload serialization failed: %w", err))
	}

	externalID := mapping.ExternalID
	var pushErr error

	callCtx, cancel := context.WithTimeout(ctx, e.callTimeout)
	if externalID != "" {
		var updated bool
		updated, pushErr = adapter.UpdateEntity(callCtx, externalID, data, mapping.InternalEntityType)
		if pushErr == nil && !updated {
			pushErr = fmt.Errorf("external system rejected update for %s", externalID)
		}
	} else {
		externalID, pushErr = adapter.PushEntity(callCtx, data, mapping.InternalEntityType)
		if pushErr == nil {
			if _, err := e.store.Update(ctx, mapping.ID, map[string]any{"external_id": externalID}); err != nil {
				pushErr = fmt.Errorf("external id persist failed: %w", err)
			}
		}
	}
	cancel()

	if pushErr != nil {
		// Push failures are system-level, not data-level: no conflict
		// payload is recorded, only the flag and the error message
		if _, serr := e.store.UpdateSyncStatus(ctx, mapping.ID, nil, true, nil, pushErr.Error()); serr != nil {
			l.Error("Failed to record push failure", "error", serr)
		}
		l.Error("Push to external system failed", "error", pushErr)
		e.publish(ctx, models.SyncOutcome{
			System:           mapping.ExternalSystem,
			EntityType:       mapping.InternalEntityType,
			ExternalID:       externalID,
			MappingID:        mapping.ID,
			InternalEntityID: mapping.InternalEntityID,
			Outcome:          models.OutcomePushFailed,
			Error:            pushErr.Error(),
		})
		return models.SyncResult{Success: false, MappingID: mapping.ID, Error: pushErr.Error()}
	}

	if _, err := e.store.UpdateSyncStatus(ctx, mapping.ID, snapshot, false, nil, ""); err != nil {
		l.Error("Pushed but failed to record clean sync", "error", err)
		return failure(fmt.Errorf("sync status update failed: %w", err))
	}

	l.Info("Entity pushed to external system", "external_id", externalID, "internal_id", mapping.InternalEntityID)
	e.publish(ctx, models.SyncOutcome{
		System:           mapping.ExternalSystem,
		EntityType:       mapping.InternalEntityType,
		ExternalID:       externalID,
		MappingID:        mapping.ID,
		InternalEntityID: mapping.InternalEntityID,
		Outcome:          models.OutcomePushed,
	})
	return models.SyncResult{Success: true, MappingID: mapping.ID}
}

// PendingPushMappings lists active mappings for one system whose internal
// entity has not yet received an external identifier. The scheduler drives
// first-time pushes from this list.
func (e *Engine) PendingPushMappings(ctx context.Context, system models.ExternalSystem) ([]models.Mapping, error) {
	mappings, err := e.store.FindBySystem(ctx, system)
	if err != nil {
		return nil, fmt.Errorf("pending push lookup failed: %w", err)
	}

	var pending []models.Mapping
	for _, m := range mappings {
		if m.PendingPush() {
			pending = append(pending, m)
		}
	}
	return pending, nil
}

// HealthCheck probes every registered adapter independently. One adapter
// blowing up never affects the report for the others.
func (e *Engine) HealthCheck(ctx context.Context) map[models.ExternalSystem]bool {
	report := make(map[models.ExternalSystem]bool, len(e.adapters))
	for system, adapter := range e.adapters {
		report[system] = e.probe(ctx, system, adapter)
	}
	return report
}

func (e *Engine) probe(ctx context.Context, system models.ExternalSystem, adapter Adapter) (healthy bool) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("Adapter health check panicked", "system", system, "panic", r)
			healthy = false
		}
		gauge := 0.0
		if healthy {
			gauge = 1.0
		}
		metrics.AdapterHealthy.WithLabelValues(string(system)).Set(gauge)
	}()

	callCtx, cancel := context.WithTimeout(ctx, e.callTimeout)
	defer cancel()
	return adapter.HealthCheck(callCtx)
}

// GetSyncStats returns the mapping-table aggregate, optionally narrowed by
// system and entity type. Requested filters are always honored.
func (e *Engine) GetSyncStats(ctx context.Context, system *models.ExternalSystem, entityType *models.EntityType) (models.MappingStats, error) {
	return e.store.GetMappingStats(ctx, models.StatsFilter{System: system, EntityType: entityType})
}

// Cleanup purges inactive mappings older than the retention window
func (e *Engine) Cleanup(ctx context.Context, daysOld int) (int64, error) {
	if daysOld < 1 {
		return 0, fmt.Errorf("retention window must be at least one day, got %d", daysOld)
	}
	removed, err := e.store.CleanupOldInactive(ctx, daysOld)
	if err != nil {
		return 0, fmt.Errorf("cleanup failed: %w", err)
	}
	if removed > 0 {
		e.logger.Info("Purged inactive mappings", "count", removed, "days_old", daysOld)
	}
	return removed, nil
}

// publish emits an outcome event when a publisher is attached. Best effort:
// failures are logged and swallowed.
func (e *Engine) publish(ctx context.Context, outcome models.SyncOutcome) {
	e.pubMu.RLock()
	p := e.publisher
	e.pubMu.RUnlock()
	if p == nil {
		return
	}
	outcome.EventID = uuid.NewString()
	outcome.Timestamp = time.Now()
	if err := p.PublishOutcome(ctx, outcome); err != nil {
		e.logger.Warn("Outcome publish failed", "event_id", outcome.EventID, "error", err)
	}
}

func failure(err error) models.SyncResult {
	return models.SyncResult{Success: false, Error: err.Error()}
}

func resultStatus(r models.SyncResult) string {
	switch {
	case r.Success:
		return "success"
	case len(r.ConflictData) > 0:
		return "conflict"
	default:
		return "failed"
	}
}
