package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/courtflow/syncbridge/internal/models"
)

const mappingColumns = `id, external_system, external_id, internal_entity_type, internal_entity_id,
	is_active, last_sync_at, sync_data, has_conflict, conflict_data, last_error, created_at, updated_at`

// updatableColumns is the whitelist for partial updates. Anything else in
// the fields map is rejected before touching the database.
var updatableColumns = map[string]bool{
	"external_id":        true,
	"internal_entity_id": true,
	"is_active":          true,
	"sync_data":          true,
	"has_conflict":       true,
	"conflict_data":      true,
	"last_error":         true,
}

// PostgresStore persists sync mappings in the external_sync_mappings table
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, connString string) (*PostgresStore, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse postgres config: %w", err)
	}

	p, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres pool: %w", err)
	}

	if err := p.Ping(ctx); err != nil {
		p.Close()
		return nil, fmt.Errorf("no response from postgres: %w", err)
	}

	return &PostgresStore{pool: p}, nil
}

// Migrate creates the mapping table and its invariant-enforcing indexes.
// The partial unique indexes are the storage-level backstop for identity
// uniqueness: a lost race between two concurrent syncs for the same
// external identity surfaces here as a constraint violation.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS external_sync_mappings (
			id TEXT PRIMARY KEY,
			external_system TEXT NOT NULL,
			external_id TEXT NOT NULL DEFAULT '',
			internal_entity_type TEXT NOT NULL,
			internal_entity_id TEXT NOT NULL,
			is_active BOOLEAN NOT NULL DEFAULT TRUE,
			last_sync_at TIMESTAMPTZ,
			sync_data JSONB,
			has_conflict BOOLEAN NOT NULL DEFAULT FALSE,
			conflict_data JSONB,
			last_error TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS ux_sync_mappings_external_identity
			ON external_sync_mappings (external_system, external_id)
			WHERE is_active AND external_id <> ''`,
		`CREATE UNIQUE INDEX IF NOT EXISTS ux_sync_mappings_internal_binding
			ON external_sync_mappings (internal_entity_type, internal_entity_id, external_system)
			WHERE is_active`,
		`CREATE INDEX IF NOT EXISTS ix_sync_mappings_system
			ON external_sync_mappings (external_system)`,
	}

	for _, stmt := range statements {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}

func (s *PostgresStore) FindByExternalID(ctx context.Context, system models.ExternalSystem, externalID string) (*models.Mapping, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM external_sync_mappings
		WHERE external_system = $1 AND external_id = $2 AND is_active
	`, mappingColumns)

	return s.queryOne(ctx, query, string(system), externalID)
}

func (s *PostgresStore) FindByID(ctx context.Context, mappingID string) (*models.Mapping, error) {
	query := fmt.Sprintf(`SELECT %s FROM external_sync_mappings WHERE id = $1`, mappingColumns)
	return s.queryOne(ctx, query, mappingID)
}

func (s *PostgresStore) FindBySystem(ctx context.Context, system models.ExternalSystem) ([]models.Mapping, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM external_sync_mappings
		WHERE external_system = $1
		ORDER BY created_at ASC
	`, mappingColumns)

	rows, err := s.pool.Query(ctx, query, string(system))
	if err != nil {
		return nil, fmt.Errorf("failed to query mappings for %s: %w", system, err)
	}
	defer rows.Close()

	var mappings []models.Mapping
	for rows.Next() {
		m, err := scanMapping(rows)
		if err != nil {
			return nil, err
		}
		mappings = append(mappings, *m)
	}
	return mappings, rows.Err()
}

func (s *PostgresStore) Create(ctx context.Context, m *models.Mapping) (*models.Mapping, error) {
	query := fmt.Sprintf(`
		INSERT INTO external_sync_mappings
			(id, external_system, external_id, internal_entity_type, internal_entity_id,
			 is_active, last_sync_at, sync_data, has_conflict, conflict_data, last_error)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING %s
	`, mappingColumns)

	row := s.pool.QueryRow(ctx, query,
		uuid.NewString(),
		string(m.ExternalSystem),
		m.ExternalID,
		string(m.InternalEntityType),
		m.InternalEntityID,
		m.IsActive,
		m.LastSyncAt,
		jsonbArg(m.SyncData),
		m.HasConflict,
		jsonbArg(m.ConflictData),
		m.LastError,
	)

	created, err := scanMapping(row)
	if err != nil {
		return nil, fmt.Errorf("failed to create mapping: %w", err)
	}
	return created, nil
}

func (s *PostgresStore) Update(ctx context.Context, mappingID string, fields map[string]any) (*models.Mapping, error) {
	if len(fields) == 0 {
		return s.FindByID(ctx, mappingID)
	}

	// Deterministic column order keeps generated SQL stable
	keys := make([]string, 0, len(fields))
	for k := range fields {
		if !updatableColumns[k] {
			return nil, fmt.Errorf("column %q is not updatable", k)
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	setClauses := make([]string, 0, len(keys)+1)
	args := make([]any, 0, len(keys)+1)
	args = append(args, mappingID)
	for _, k := range keys {
		args = append(args, fields[k])
		setClauses = append(setClauses, fmt.Sprintf("%s = $%d", k, len(args)))
	}
	setClauses = append(setClauses, "updated_at = now()")

	query := fmt.Sprintf(`
		UPDATE external_sync_mappings SET %s WHERE id = $1
		RETURNING %s
	`, strings.Join(setClauses, ", "), mappingColumns)

	return s.queryOne(ctx, query, args...)
}

func (s *PostgresStore) UpdateSyncStatus(ctx context.Context, mappingID string, syncData json.RawMessage, hasConflict bool, conflictData json.RawMessage, syncErr string) (*models.Mapping, error) {
	// last_sync_at only moves forward; GREATEST guards against clock skew
	// between app instances sharing the table
	query := fmt.Sprintf(`
		UPDATE external_sync_mappings SET
			sync_data = COALESCE($2, sync_data),
			last_sync_at = GREATEST(COALESCE(last_sync_at, 'epoch'::timestamptz), now()),
			has_conflict = $3,
			conflict_data = $4,
			last_error = $5,
			updated_at = now()
		WHERE id = $1
		RETURNING %s
	`, mappingColumns)

	return s.queryOne(ctx, query, mappingID, jsonbArg(syncData), hasConflict, jsonbArg(conflictData), syncErr)
}

// jsonbArg keeps absent payloads as SQL NULL instead of the JSON null the
// driver would otherwise encode for a nil RawMessage
func jsonbArg(r json.RawMessage) any {
	if len(r) == 0 {
		return nil
	}
	return []byte(r)
}

func (s *PostgresStore) GetMappingStats(ctx context.Context, filter models.StatsFilter) (models.MappingStats, error) {
	stats := models.MappingStats{
		BySystem:     make(map[models.ExternalSystem]int64),
		ByEntityType: make(map[models.EntityType]int64),
	}

	where, args := statsFilterClause(filter)

	totalsQuery := fmt.Sprintf(`
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE is_active),
			COUNT(*) FILTER (WHERE NOT is_active),
			COUNT(*) FILTER (WHERE has_conflict),
			COUNT(*) FILTER (WHERE is_active AND external_id = '')
		FROM external_sync_mappings %s
	`, where)

	err := s.pool.QueryRow(ctx, totalsQuery, args...).Scan(
		&stats.Total, &stats.Active, &stats.Inactive, &stats.Conflicts, &stats.PendingPush,
	)
	if err != nil {
		return stats, fmt.Errorf("failed to aggregate mapping totals: %w", err)
	}

	systemQuery := fmt.Sprintf(`
		SELECT external_system, COUNT(*) FROM external_sync_mappings %s GROUP BY external_system
	`, where)
	rows, err := s.pool.Query(ctx, systemQuery, args...)
	if err != nil {
		return stats, fmt.Errorf("failed to aggregate by system: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var system string
		var count int64
		if err := rows.Scan(&system, &count); err != nil {
			return stats, err
		}
		stats.BySystem[models.ExternalSystem(system)] = count
	}
	if err := rows.Err(); err != nil {
		return stats, err
	}

	typeQuery := fmt.Sprintf(`
		SELECT internal_entity_type, COUNT(*) FROM external_sync_mappings %s GROUP BY internal_entity_type
	`, where)
	typeRows, err := s.pool.Query(ctx, typeQuery, args...)
	if err != nil {
		return stats, fmt.Errorf("failed to aggregate by entity type: %w", err)
	}
	defer typeRows.Close()
	for typeRows.Next() {
		var entityType string
		var count int64
		if err := typeRows.Scan(&entityType, &count); err != nil {
			return stats, err
		}
		stats.ByEntityType[models.EntityType(entityType)] = count
	}
	return stats, typeRows.Err()
}

func (s *PostgresStore) CleanupOldInactive(ctx context.Context, daysOld int) (int64, error) {
	query := `
		DELETE FROM external_sync_mappings
		WHERE NOT is_active
		  AND updated_at < now() - ($1 * interval '1 day')
	`
	tag, err := s.pool.Exec(ctx, query, daysOld)
	if err != nil {
		return 0, fmt.Errorf("cleanup of inactive mappings failed: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}

// Pool exposes the underlying connection pool so collaborators (the entity
// gateways) can share it instead of opening their own
func (s *PostgresStore) Pool() *pgxpool.Pool {
	return s.pool
}

func (s *PostgresStore) queryOne(ctx context.Context, query string, args ...any) (*models.Mapping, error) {
	m, err := scanMapping(s.pool.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("mapping query failed: %w", err)
	}
	return m, nil
}

func statsFilterClause(filter models.StatsFilter) (string, []any) {
	var conditions []string
	var args []any

	if filter.System != nil {
		args = append(args, string(*filter.System))
		conditions = append(conditions, fmt.Sprintf("external_system = $%d", len(args)))
	}
	if filter.EntityType != nil {
		args = append(args, string(*filter.EntityType))
		conditions = append(conditions, fmt.Sprintf("internal_entity_type = $%d", len(args)))
	}

	if len(conditions) == 0 {
		return "", nil
	}
	return "WHERE " + strings.Join(conditions, " AND "), args
}

func scanMapping(row pgx.Row) (*models.Mapping, error) {
	var m models.Mapping
	var lastSyncAt *time.Time
	err := row.Scan(
		&m.ID,
		&m.ExternalSystem,
		&m.ExternalID,
		&m.InternalEntityType,
		&m.InternalEntityID,
		&m.IsActive,
		&lastSyncAt,
		&m.SyncData,
		&m.HasConflict,
		&m.ConflictData,
		&m.LastError,
		&m.CreatedAt,
		&m.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	m.LastSyncAt = lastSyncAt
	return &m, nil
}
