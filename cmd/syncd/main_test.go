package main

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/courtflow/syncbridge/internal/engine"
	"github.com/courtflow/syncbridge/internal/models"
	"github.com/courtflow/syncbridge/internal/store"
)

// stubAdapter covers just enough of the Adapter contract to drive runCycles
type stubAdapter struct {
	system    models.ExternalSystem
	healthy   bool
	listCalls int
}

func (s *stubAdapter) System() models.ExternalSystem { return s.system }

func (s *stubAdapter) FetchEntity(_ context.Context, _ string, _ models.EntityType) (*models.ExternalEntityData, error) {
	return nil, nil
}

func (s *stubAdapter) FetchEntities(_ context.Context, _ models.EntityType, _ *time.Time) ([]models.ExternalEntityData, error) {
	s.listCalls++
	return nil, nil
}

func (s *stubAdapter) PushEntity(_ context.Context, _ map[string]any, _ models.EntityType) (string, error) {
	return "", nil
}

func (s *stubAdapter) UpdateEntity(_ context.Context, _ string, _ map[string]any, _ models.EntityType) (bool, error) {
	return true, nil
}

func (s *stubAdapter) HealthCheck(_ context.Context) bool { return s.healthy }

func TestRunCyclesSkipsUnhealthyAdapters(t *testing.T) {
	eng := engine.New(store.NewMemoryStore(), slog.New(slog.NewTextHandler(io.Discard, nil)))
	cal := &stubAdapter{system: models.SystemCalendar, healthy: true}
	eng.RegisterAdapter(cal)
	ctx := context.Background()

	// Healthy adapter with nothing to pull is a clean pass; the payment
	// pair has no adapter registered and must not count as a failure
	require.False(t, runCycles(ctx, eng))
	assert.Equal(t, 3, cal.listCalls, "every calendar pair gets a fetch")

	cal.healthy = false
	cal.listCalls = 0

	require.True(t, runCycles(ctx, eng), "a dead adapter fails the pass so the loop backs off")
	assert.Zero(t, cal.listCalls, "no fetch is attempted against an unhealthy adapter")
}
