package calendar

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/courtflow/syncbridge/internal/models"
)

func testAdapter(t *testing.T, handler http.HandlerFunc) *Adapter {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(srv.URL, "secret-token", slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestFetchEntity(t *testing.T) {
	adapter := testAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer secret-token", r.Header.Get("Authorization"))

		switch r.URL.Path {
		case "/api/v1/bookings/evt-1":
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"id":"evt-1","status":"confirmed","updated_at":"2026-08-30T10:00:00Z"}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})

	t.Run("found", func(t *testing.T) {
		entity, err := adapter.FetchEntity(context.Background(), "evt-1", models.EntityBooking)
		require.NoError(t, err)
		require.NotNil(t, entity)
		assert.Equal(t, "evt-1", entity.ExternalID)
		assert.Equal(t, "confirmed", entity.Data["status"])
		require.NotNil(t, entity.LastModified)
		assert.Equal(t, 2026, entity.LastModified.Year())
	})

	t.Run("not found yields nil without error", func(t *testing.T) {
		entity, err := adapter.FetchEntity(context.Background(), "ghost", models.EntityBooking)
		require.NoError(t, err)
		assert.Nil(t, entity)
	})

	t.Run("unsupported entity type", func(t *testing.T) {
		_, err := adapter.FetchEntity(context.Background(), "evt-1", models.EntityProduct)
		require.Error(t, err)
	})
}

func TestFetchEntityDecodesLegacyCharset(t *testing.T) {
	adapter := testAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		// "Jos\xe9" is Windows-1252 for José; some legacy feeds still
		// serve this encoding
		w.Write([]byte("{\"id\":\"evt-1\",\"organizer\":\"Jos\xe9\"}"))
	})

	entity, err := adapter.FetchEntity(context.Background(), "evt-1", models.EntityBooking)
	require.NoError(t, err)
	require.NotNil(t, entity)
	assert.Equal(t, "José", entity.Data["organizer"])
}

func TestFetchEntitiesSendsWatermark(t *testing.T) {
	var gotSince string
	adapter := testAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		gotSince = r.URL.Query().Get("updated_since")
		w.Write([]byte(`[{"id":"evt-1","status":"confirmed"},{"id":"evt-2","status":"pending"}]`))
	})

	since := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	entities, err := adapter.FetchEntities(context.Background(), models.EntityBooking, &since)
	require.NoError(t, err)
	require.Len(t, entities, 2)
	assert.Equal(t, "evt-1", entities[0].ExternalID)
	assert.Equal(t, "evt-2", entities[1].ExternalID)
	assert.Equal(t, "2026-08-01T12:00:00Z", gotSince)
}

func TestFetchEntitiesFullScanOmitsParameter(t *testing.T) {
	adapter := testAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		assert.False(t, r.URL.Query().Has("updated_since"))
		w.Write([]byte(`[]`))
	})

	entities, err := adapter.FetchEntities(context.Background(), models.EntityBooking, nil)
	require.NoError(t, err)
	assert.Empty(t, entities)
}

func TestPushEntity(t *testing.T) {
	adapter := testAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/v1/bookings", r.URL.Path)
		assert.NotEmpty(t, r.Header.Get("Idempotency-Key"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"id":"evt-9"}`))
	})

	externalID, err := adapter.PushEntity(context.Background(), map[string]any{"status": "new"}, models.EntityBooking)
	require.NoError(t, err)
	assert.Equal(t, "evt-9", externalID)
}

func TestPushEntityIdempotencyKeyIsStableAcrossRetries(t *testing.T) {
	var keys []string
	adapter := testAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		keys = append(keys, r.Header.Get("Idempotency-Key"))
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"id":"evt-9"}`))
	})

	payload := map[string]any{"status": "new", "court": "c-1"}

	_, err := adapter.PushEntity(context.Background(), payload, models.EntityBooking)
	require.NoError(t, err)
	_, err = adapter.PushEntity(context.Background(), payload, models.EntityBooking)
	require.NoError(t, err)

	require.Len(t, keys, 2)
	assert.Equal(t, keys[0], keys[1], "a retried create must present the same key")

	_, err = adapter.PushEntity(context.Background(), map[string]any{"status": "other"}, models.EntityBooking)
	require.NoError(t, err)
	require.Len(t, keys, 3)
	assert.NotEqual(t, keys[0], keys[2], "different payloads must not collide")
}

func TestPushEntityRejectsMissingID(t *testing.T) {
	adapter := testAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"ok":true}`))
	})

	_, err := adapter.PushEntity(context.Background(), map[string]any{}, models.EntityBooking)
	require.Error(t, err)
}

func TestUpdateEntity(t *testing.T) {
	adapter := testAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		switch r.URL.Path {
		case "/api/v1/bookings/evt-1":
			w.WriteHeader(http.StatusNoContent)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})

	ok, err := adapter.UpdateEntity(context.Background(), "evt-1", map[string]any{"status": "moved"}, models.EntityBooking)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = adapter.UpdateEntity(context.Background(), "gone", map[string]any{}, models.EntityBooking)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestHealthCheck(t *testing.T) {
	healthy := testAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	})
	assert.True(t, healthy.HealthCheck(context.Background()))

	sick := testAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	assert.False(t, sick.HealthCheck(context.Background()))

	dead := New("http://127.0.0.1:1", "", slog.New(slog.NewTextHandler(io.Discard, nil)))
	assert.False(t, dead.HealthCheck(context.Background()))
}
