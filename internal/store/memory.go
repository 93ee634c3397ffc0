package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/courtflow/syncbridge/internal/models"
)

// MemoryStore is an in-memory MappingStore with the same invariant
// enforcement as the Postgres table. It backs the engine test suite and is
// handy for local development without a database.
type MemoryStore struct {
	mu       sync.RWMutex
	mappings map[string]*models.Mapping
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{mappings: make(map[string]*models.Mapping)}
}

func (s *MemoryStore) FindByExternalID(_ context.Context, system models.ExternalSystem, externalID string) (*models.Mapping, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, m := range s.mappings {
		if m.IsActive && m.ExternalSystem == system && m.ExternalID == externalID {
			return copyMapping(m), nil
		}
	}
	return nil, nil
}

func (s *MemoryStore) FindByID(_ context.Context, mappingID string) (*models.Mapping, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.mappings[mappingID]
	if !ok {
		return nil, nil
	}
	return copyMapping(m), nil
}

func (s *MemoryStore) FindBySystem(_ context.Context, system models.ExternalSystem) ([]models.Mapping, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []models.Mapping
	for _, m := range s.mappings {
		if m.ExternalSystem == system {
			result = append(result, *copyMapping(m))
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.Before(result[j].CreatedAt) })
	return result, nil
}

func (s *MemoryStore) Create(_ context.Context, m *models.Mapping) (*models.Mapping, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkInvariants(m, ""); err != nil {
		return nil, err
	}

	now := time.Now()
	created := *m
	created.ID = uuid.NewString()
	created.CreatedAt = now
	created.UpdatedAt = now

	s.mappings[created.ID] = &created
	return copyMapping(&created), nil
}

func (s *MemoryStore) Update(_ context.Context, mappingID string, fields map[string]any) (*models.Mapping, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.mappings[mappingID]
	if !ok {
		return nil, nil
	}

	updated := *m
	for k, v := range fields {
		switch k {
		case "external_id":
			updated.ExternalID = v.(string)
		case "internal_entity_id":
			updated.InternalEntityID = v.(string)
		case "is_active":
			updated.IsActive = v.(bool)
		case "sync_data":
			updated.SyncData = toRaw(v)
		case "has_conflict":
			updated.HasConflict = v.(bool)
		case "conflict_data":
			updated.ConflictData = toRaw(v)
		case "last_error":
			updated.LastError = v.(string)
		default:
			return nil, fmt.Errorf("column %q is not updatable", k)
		}
	}

	if err := s.checkInvariants(&updated, mappingID); err != nil {
		return nil, err
	}

	updated.UpdatedAt = time.Now()
	s.mappings[mappingID] = &updated
	return copyMapping(&updated), nil
}

func (s *MemoryStore) UpdateSyncStatus(_ context.Context, mappingID string, syncData json.RawMessage, hasConflict bool, conflictData json.RawMessage, syncErr string) (*models.Mapping, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.mappings[mappingID]
	if !ok {
		return nil, nil
	}

	now := time.Now()
	if syncData != nil {
		m.SyncData = append(json.RawMessage(nil), syncData...)
	}
	// last_sync_at never rewinds
	if m.LastSyncAt == nil || now.After(*m.LastSyncAt) {
		t := now
		m.LastSyncAt = &t
	}
	m.HasConflict = hasConflict
	m.ConflictData = append(json.RawMessage(nil), conflictData...)
	m.LastError = syncErr
	m.UpdatedAt = now

	return copyMapping(m), nil
}

func (s *MemoryStore) GetMappingStats(_ context.Context, filter models.StatsFilter) (models.MappingStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := models.MappingStats{
		BySystem:     make(map[models.ExternalSystem]int64),
		ByEntityType: make(map[models.EntityType]int64),
	}

	for _, m := range s.mappings {
		if filter.System != nil && m.ExternalSystem != *filter.System {
			continue
		}
		if filter.EntityType != nil && m.InternalEntityType != *filter.EntityType {
			continue
		}

		stats.Total++
		if m.IsActive {
			stats.Active++
		} else {
			stats.Inactive++
		}
		if m.HasConflict {
			stats.Conflicts++
		}
		if m.PendingPush() {
			stats.PendingPush++
		}
		stats.BySystem[m.ExternalSystem]++
		stats.ByEntityType[m.InternalEntityType]++
	}
	return stats, nil
}

func (s *MemoryStore) CleanupOldInactive(_ context.Context, daysOld int) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().AddDate(0, 0, -daysOld)
	var removed int64
	for id, m := range s.mappings {
		if !m.IsActive && m.UpdatedAt.Before(cutoff) {
			delete(s.mappings, id)
			removed++
		}
	}
	return removed, nil
}

// checkInvariants mirrors the partial unique indexes of the Postgres table:
// one active mapping per (system, external id) when the external id is set,
// and one active binding per (entity type, internal id, system).
func (s *MemoryStore) checkInvariants(candidate *models.Mapping, excludeID string) error {
	if !candidate.IsActive {
		return nil
	}
	for id, m := range s.mappings {
		if id == excludeID || !m.IsActive || m.ExternalSystem != candidate.ExternalSystem {
			continue
		}
		if candidate.ExternalID != "" && m.ExternalID == candidate.ExternalID {
			return fmt.Errorf("duplicate external identity %s/%s", candidate.ExternalSystem, candidate.ExternalID)
		}
		if m.InternalEntityType == candidate.InternalEntityType && m.InternalEntityID == candidate.InternalEntityID {
			return fmt.Errorf("duplicate internal binding %s/%s for system %s",
				candidate.InternalEntityType, candidate.InternalEntityID, candidate.ExternalSystem)
		}
	}
	return nil
}

func copyMapping(m *models.Mapping) *models.Mapping {
	c := *m
	c.SyncData = append(json.RawMessage(nil), m.SyncData...)
	c.ConflictData = append(json.RawMessage(nil), m.ConflictData...)
	if m.LastSyncAt != nil {
		t := *m.LastSyncAt
		c.LastSyncAt = &t
	}
	return &c
}

func toRaw(v any) json.RawMessage {
	switch val := v.(type) {
	case nil:
		return nil
	case json.RawMessage:
		return append(json.RawMessage(nil), val...)
	case []byte:
		return append(json.RawMessage(nil), val...)
	default:
		b, _ := json.Marshal(val)
		return b
	}
}
