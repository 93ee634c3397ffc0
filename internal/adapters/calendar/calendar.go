// Package calendar integrates the club's external calendar service.
// It is the reference Adapter implementation: plain JSON-over-HTTP with
// bearer auth, incremental fetch via an updated_since parameter, and
// tolerance for the Windows-1252 payloads some legacy feeds still emit.
package calendar

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	json "github.com/goccy/go-json"

	enc "github.com/courtflow/syncbridge/pkg/encoding"

	"github.com/courtflow/syncbridge/internal/models"
)

// entityPaths maps internal entity types to the calendar API's collections.
// Types missing here are not representable in the calendar service.
var entityPaths = map[models.EntityType]string{
	models.EntityBooking:       "bookings",
	models.EntityCourt:         "resources",
	models.EntityVenue:         "locations",
	models.EntityClass:         "events",
	models.EntityClassSchedule: "schedules",
}

type Adapter struct {
	baseURL string
	token   string
	client  *http.Client
	logger  *slog.Logger
}

func New(baseURL, token string, logger *slog.Logger) *Adapter {
	return &Adapter{
		baseURL: baseURL,
		token:   token,
		client:  &http.Client{Timeout: 30 * time.Second},
		logger:  logger,
	}
}

func (a *Adapter) System() models.ExternalSystem {
	return models.SystemCalendar
}

func (a *Adapter) FetchEntity(ctx context.Context, externalID string, entityType models.EntityType) (*models.ExternalEntityData, error) {
	path, err := a.pathFor(entityType)
	if err != nil {
		return nil, err
	}

	body, status, err := a.do(ctx, http.MethodGet, fmt.Sprintf("%s/api/v1/%s/%s", a.baseURL, path, url.PathEscape(externalID)), nil)
	if err != nil {
		return nil, err
	}
	if status == http.StatusNotFound {
		return nil, nil
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("calendar API returned status %d", status)
	}

	return parseEntity(body)
}

func (a *Adapter) FetchEntities(ctx context.Context, entityType models.EntityType, since *time.Time) ([]models.ExternalEntityData, error) {
	path, err := a.pathFor(entityType)
	if err != nil {
		return nil, err
	}

	endpoint := fmt.Sprintf("%s/api/v1/%s", a.baseURL, path)
	if since != nil {
		endpoint += "?updated_since=" + url.QueryEscape(since.UTC().Format(time.RFC3339))
	}

	body, status, err := a.do(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("calendar API returned status %d", status)
	}

	var items []map[string]any
	if err := json.Unmarshal(body, &items); err != nil {
		return nil, fmt.Errorf("failed to parse calendar list response: %w", err)
	}

	entities := make([]models.ExternalEntityData, 0, len(items))
	for _, item := range items {
		entities = append(entities, toEntityData(item))
	}
	return entities, nil
}

func (a *Adapter) PushEntity(ctx context.Context, data map[string]any, entityType models.EntityType) (string, error) {
	path, err := a.pathFor(entityType)
	if err != nil {
		return "", err
	}

	payload, err := json.Marshal(data)
	if err != nil {
		return "", fmt.Errorf("failed to serialize entity: %w", err)
	}

	req, err := a.newRequest(ctx, http.MethodPost, fmt.Sprintf("%s/api/v1/%s", a.baseURL, path), bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	// The key is derived from the payload so a retried create presents the
	// same value and the calendar API's dedupe can fire
	req.Header.Set("Idempotency-Key", idempotencyKey(entityType, payload))

	body, status, err := a.send(req)
	if err != nil {
		return "", err
	}
	if status != http.StatusCreated && status != http.StatusOK {
		return "", fmt.Errorf("calendar API returned status %d on create", status)
	}

	entity, err := parseEntity(body)
	if err != nil {
		return "", err
	}
	if entity.ExternalID == "" {
		return "", fmt.Errorf("calendar API returned no id on create")
	}
	return entity.ExternalID, nil
}

func (a *Adapter) UpdateEntity(ctx context.Context, externalID string, data map[string]any, entityType models.EntityType) (bool, error) {
	path, err := a.pathFor(entityType)
	if err != nil {
		return false, err
	}

	payload, err := json.Marshal(data)
	if err != nil {
		return false, fmt.Errorf("failed to serialize entity: %w", err)
	}

	_, status, err := a.do(ctx, http.MethodPut, fmt.Sprintf("%s/api/v1/%s/%s", a.baseURL, path, url.PathEscape(externalID)), bytes.NewReader(payload))
	if err != nil {
		return false, err
	}
	switch status {
	case http.StatusOK, http.StatusNoContent:
		return true, nil
	case http.StatusNotFound:
		return false, nil
	default:
		return false, fmt.Errorf("calendar API returned status %d on update", status)
	}
}

func (a *Adapter) HealthCheck(ctx context.Context) bool {
	_, status, err := a.do(ctx, http.MethodGet, a.baseURL+"/health", nil)
	if err != nil {
		a.logger.Debug("Calendar health probe failed", "error", err)
		return false
	}
	return status == http.StatusOK
}

func (a *Adapter) pathFor(entityType models.EntityType) (string, error) {
	path, ok := entityPaths[entityType]
	if !ok {
		return "", fmt.Errorf("entity type %s is not supported by the calendar service", entityType)
	}
	return path, nil
}

func (a *Adapter) do(ctx context.Context, method, endpoint string, body io.Reader) ([]byte, int, error) {
	req, err := a.newRequest(ctx, method, endpoint, body)
	if err != nil {
		return nil, 0, err
	}
	return a.send(req)
}

func (a *Adapter) newRequest(ctx context.Context, method, endpoint string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("failed to build calendar request: %w", err)
	}
	if a.token != "" {
		req.Header.Set("Authorization", "Bearer "+a.token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

func (a *Adapter) send(req *http.Request) ([]byte, int, error) {
	resp, err := a.client.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("calendar request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return nil, 0, fmt.Errorf("failed to read calendar response: %w", err)
	}
	// Legacy feeds occasionally serve Windows-1252; normalize before parsing
	return []byte(enc.ToUTF8(raw)), resp.StatusCode, nil
}

// idempotencyKey is stable for identical payloads. Map keys serialize in
// sorted order, so the same entity data always hashes to the same key.
func idempotencyKey(entityType models.EntityType, payload []byte) string {
	h := sha256.New()
	h.Write([]byte(entityType))
	h.Write([]byte{0})
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}

func parseEntity(body []byte) (*models.ExternalEntityData, error) {
	var item map[string]any
	if err := json.Unmarshal(body, &item); err != nil {
		return nil, fmt.Errorf("failed to parse calendar response: %w", err)
	}
	entity := toEntityData(item)
	return &entity, nil
}

func toEntityData(item map[string]any) models.ExternalEntityData {
	entity := models.ExternalEntityData{Data: item}
	if id, ok := item["id"].(string); ok {
		entity.ExternalID = id
	}
	if raw, ok := item["updated_at"].(string); ok {
		if t, err := time.Parse(time.RFC3339, raw); err == nil {
			entity.LastModified = &t
		}
	}
	return entity
}
