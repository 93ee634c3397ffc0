package models

import (
	"time"

	json "github.com/goccy/go-json"
)

// ExternalSystem identifies which external service a mapping belongs to
type ExternalSystem string

const (
	SystemCalendar ExternalSystem = "calendar"
	SystemTelegram ExternalSystem = "telegram"
	SystemWhatsApp ExternalSystem = "whatsapp"
	SystemPayment  ExternalSystem = "payment"
	SystemOther    ExternalSystem = "other"
)

// EntityType names the kind of internal entity a mapping points to
type EntityType string

const (
	EntityUser            EntityType = "user"
	EntityBooking         EntityType = "booking"
	EntityCourt           EntityType = "court"
	EntityVenue           EntityType = "venue"
	EntityClass           EntityType = "class"
	EntityClassSchedule   EntityType = "class_schedule"
	EntityProduct         EntityType = "product"
	EntityTrainingPackage EntityType = "training_package"
)

// SystemRegistry is the whitelist of external systems the engine accepts
var SystemRegistry = map[ExternalSystem]bool{
	SystemCalendar: true,
	SystemTelegram: true,
	SystemWhatsApp: true,
	SystemPayment:  true,
	SystemOther:    true,
}

// EntityRegistry is the whitelist of internal entity types the engine accepts
var EntityRegistry = map[EntityType]bool{
	EntityUser:            true,
	EntityBooking:         true,
	EntityCourt:           true,
	EntityVenue:           true,
	EntityClass:           true,
	EntityClassSchedule:   true,
	EntityProduct:         true,
	EntityTrainingPackage: true,
}

// Mapping is a row in the external_sync_mappings table. It binds one
// external (system, id) pair to one internal (entity type, id) pair and
// carries the state of the last synchronization attempt.
type Mapping struct {
	ID                 string          `db:"id" json:"id"`
	ExternalSystem     ExternalSystem  `db:"external_system" json:"external_system"`
	ExternalID         string          `db:"external_id" json:"external_id"`
	InternalEntityType EntityType      `db:"internal_entity_type" json:"internal_entity_type"`
	InternalEntityID   string          `db:"internal_entity_id" json:"internal_entity_id"`
	IsActive           bool            `db:"is_active" json:"is_active"`
	LastSyncAt         *time.Time      `db:"last_sync_at" json:"last_sync_at,omitempty"`
	SyncData           json.RawMessage `db:"sync_data" json:"sync_data,omitempty"`
	HasConflict        bool            `db:"has_conflict" json:"has_conflict"`
	ConflictData       json.RawMessage `db:"conflict_data" json:"conflict_data,omitempty"`
	LastError          string          `db:"last_error" json:"last_error,omitempty"`
	CreatedAt          time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt          time.Time       `db:"updated_at" json:"updated_at"`
}

// PendingPush reports whether the internal entity was created locally but
// has not yet received an identifier from the external system.
func (m *Mapping) PendingPush() bool {
	return m.IsActive && m.ExternalID == ""
}

// ExternalEntityData is the representation of one entity as returned by an
// external system adapter
type ExternalEntityData struct {
	ExternalID   string         `json:"external_id"`
	Data         map[string]any `json:"data"`
	LastModified *time.Time     `json:"last_modified,omitempty"`
}
