// Package gateway provides a thin pgx-backed implementation of the
// engine's EntityGateway contract. The club-management backend owns the
// real per-entity repositories; this generic table gateway covers the
// create/update/getById slice the sync engine consumes.
package gateway

import (
	"context"
	"errors"
	"fmt"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/courtflow/syncbridge/internal/engine"
	"github.com/courtflow/syncbridge/internal/models"
)

// tableNames whitelists the backing table per entity type. Entity types
// missing here cannot be wired through this gateway.
var tableNames = map[models.EntityType]string{
	models.EntityUser:            "users",
	models.EntityBooking:         "bookings",
	models.EntityCourt:           "courts",
	models.EntityVenue:           "venues",
	models.EntityClass:           "classes",
	models.EntityClassSchedule:   "class_schedules",
	models.EntityProduct:         "products",
	models.EntityTrainingPackage: "training_packages",
}

type Table struct {
	pool  *pgxpool.Pool
	table string
}

func NewTable(pool *pgxpool.Pool, entityType models.EntityType) (*Table, error) {
	table, ok := tableNames[entityType]
	if !ok {
		return nil, fmt.Errorf("no backing table for entity type %s", entityType)
	}
	return &Table{pool: pool, table: table}, nil
}

func (t *Table) Create(ctx context.Context, data map[string]any) (string, error) {
	payload, err := json.Marshal(data)
	if err != nil {
		return "", fmt.Errorf("failed to serialize entity: %w", err)
	}

	id := uuid.NewString()
	query := fmt.Sprintf(`INSERT INTO %s (id, data, created_at, updated_at) VALUES ($1, $2, now(), now())`, t.table)
	if _, err := t.pool.Exec(ctx, query, id, payload); err != nil {
		return "", fmt.Errorf("failed to insert into %s: %w", t.table, err)
	}
	return id, nil
}

func (t *Table) Update(ctx context.Context, id string, data map[string]any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to serialize entity: %w", err)
	}

	query := fmt.Sprintf(`UPDATE %s SET data = $2, updated_at = now() WHERE id = $1`, t.table)
	tag, err := t.pool.Exec(ctx, query, id, payload)
	if err != nil {
		return fmt.Errorf("failed to update %s: %w", t.table, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s/%s", engine.ErrGatewayNotFound, t.table, id)
	}
	return nil
}

func (t *Table) GetByID(ctx context.Context, id string) (map[string]any, error) {
	query := fmt.Sprintf(`SELECT data FROM %s WHERE id = $1`, t.table)

	var payload []byte
	if err := t.pool.QueryRow(ctx, query, id).Scan(&payload); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s/%s", engine.ErrGatewayNotFound, t.table, id)
		}
		return nil, fmt.Errorf("failed to read %s: %w", t.table, err)
	}

	var data map[string]any
	if err := json.Unmarshal(payload, &data); err != nil {
		return nil, fmt.Errorf("failed to parse %s row: %w", t.table, err)
	}
	return data, nil
}
