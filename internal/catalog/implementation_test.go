package catalog_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"gymledger/internal/catalog"
	"gymledger/internal/clock"
	"gymledger/internal/store/memory"
	"gymledger/pkg/eventstore"
	"gymledger/pkg/money"
)

func newService() (catalog.Service, *eventstore.MemoryStore) {
	journal := eventstore.NewMemoryStore()
	clk := clock.Fixed(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	return catalog.NewService(memory.New(), journal, clk, zap.NewNop()), journal
}

func TestCreatePlanValidates(t *testing.T) {
	svc, _ := newService()
	ctx := context.Background()

	tests := []struct {
		name string
		req  catalog.CreatePlanRequest
	}{
		{"blank name", catalog.CreatePlanRequest{Name: "  ", Price: money.FromMajor(10), DurationDays: 30}},
		{"free", catalog.CreatePlanRequest{Name: "Free", DurationDays: 30}},
		{"no duration", catalog.CreatePlanRequest{Name: "Day", Price: money.FromMajor(10)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.CreatePlan(ctx, tt.req)
			assert.ErrorIs(t, err, catalog.ErrInvalidPlan)
		})
	}
}

func TestPlanLifecycle(t *testing.T) {
	svc, journal := newService()
	ctx := context.Background()

	plan, err := svc.CreatePlan(ctx, catalog.CreatePlanRequest{Name: " Monthly ", Price: money.FromMajor(500), DurationDays: 30})
	require.NoError(t, err)
	assert.Equal(t, "Monthly", plan.Name)
	assert.Equal(t, catalog.PlanActive, plan.Status)

	require.NoError(t, svc.RetirePlan(ctx, plan.ID))
	got, err := svc.GetPlan(ctx, plan.ID)
	require.NoError(t, err)
	assert.Equal(t, catalog.PlanRetired, got.Status)

	active, err := svc.ListPlans(ctx, catalog.ListOpts{})
	require.NoError(t, err)
	assert.Empty(t, active)

	events, err := journal.LoadEvents(ctx, plan.ID, 0, 0)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "PlanAdded", events[0].EventType)
	assert.Equal(t, "PlanRetired", events[1].EventType)

	_, err = svc.GetPlan(ctx, uuid.New())
	assert.ErrorIs(t, err, catalog.ErrPlanNotFound)
}

func TestHandlerCreateAndFetch(t *testing.T) {
	svc, _ := newService()
	srv := httptest.NewServer(catalog.NewHandler(svc).Routes())
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/", "application/json", strings.NewReader(`{"name":"Annual","price":"4999.00","duration_days":365}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusCreated, resp.StatusCode)

	bad, err := http.Post(srv.URL+"/", "application/json", strings.NewReader(`{"name":"Annual","price":"0","duration_days":365}`))
	require.NoError(t, err)
	defer bad.Body.Close()
	assert.Equal(t, http.StatusBadRequest, bad.StatusCode)

	missing, err := http.Get(srv.URL + "/" + uuid.NewString())
	require.NoError(t, err)
	defer missing.Body.Close()
	assert.Equal(t, http.StatusNotFound, missing.StatusCode)
}
