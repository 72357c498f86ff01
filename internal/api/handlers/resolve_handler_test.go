package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/entity-resolver/backend/internal/storage/models"
)

type fakeHistoryStore struct {
	records []models.ResolutionRecord
	sources map[string][]models.ResolutionSource
	err     error
}

func (f *fakeHistoryStore) RecentResolutions(string, int) ([]models.ResolutionRecord, error) {
	return f.records, f.err
}

func (f *fakeHistoryStore) SourcesForResolution(resolutionID string) ([]models.ResolutionSource, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.sources[resolutionID], nil
}

type fakeInvalidator struct {
	calls int
	err   error
}

func (f *fakeInvalidator) InvalidateRecords(context.Context) error {
	f.calls++
	return f.err
}

func newHistoryApp(store HistoryStore, cache CacheInvalidator) *fiber.App {
	h := NewResolveHandler(nil, store, cache, zap.NewNop())
	app := fiber.New()
	app.Get("/api/v1/resolve/history", h.GetHistory)
	app.Get("/api/v1/resolve/history/:id/sources", h.GetRunSources)
	app.Delete("/api/v1/resolve/cache", h.InvalidateCache)
	return app
}

func TestGetRunSourcesReturnsAuditRows(t *testing.T) {
	store := &fakeHistoryStore{sources: map[string][]models.ResolutionSource{
		"run-1": {
			{ID: 1, ResolutionID: "run-1", SourceURL: "https://springfieldgeneral.org/staff/jsmith",
				SourceKind: "institutional", Origin: "extracted", Score: 0.85, Accepted: true},
			{ID: 2, ResolutionID: "run-1", SourceURL: "https://nowhere.example.com/page",
				SourceKind: "other", Origin: "extracted", Score: 0.1, Accepted: false},
		},
	}}
	app := newHistoryApp(store, nil)

	resp, err := app.Test(httptest.NewRequest("GET", "/api/v1/resolve/history/run-1/sources", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	var body struct {
		ResolutionID string                    `json:"resolution_id"`
		Sources      []models.ResolutionSource `json:"sources"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "run-1", body.ResolutionID)
	require.Len(t, body.Sources, 2)
	assert.True(t, body.Sources[0].Accepted)
	assert.False(t, body.Sources[1].Accepted)
}

func TestGetRunSourcesUnknownRunIs404(t *testing.T) {
	app := newHistoryApp(&fakeHistoryStore{}, nil)

	resp, err := app.Test(httptest.NewRequest("GET", "/api/v1/resolve/history/missing/sources", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)
}

func TestGetRunSourcesStoreFailureIs500(t *testing.T) {
	app := newHistoryApp(&fakeHistoryStore{err: errors.New("db gone")}, nil)

	resp, err := app.Test(httptest.NewRequest("GET", "/api/v1/resolve/history/run-1/sources", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusInternalServerError, resp.StatusCode)
}

func TestInvalidateCacheDropsRecords(t *testing.T) {
	invalidator := &fakeInvalidator{}
	app := newHistoryApp(&fakeHistoryStore{}, invalidator)

	resp, err := app.Test(httptest.NewRequest("DELETE", "/api/v1/resolve/cache", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, 1, invalidator.calls)
}

func TestInvalidateCacheWithoutCacheIs503(t *testing.T) {
	app := newHistoryApp(&fakeHistoryStore{}, nil)

	resp, err := app.Test(httptest.NewRequest("DELETE", "/api/v1/resolve/cache", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusServiceUnavailable, resp.StatusCode)
}

func TestInvalidateCacheFailureIs500(t *testing.T) {
	app := newHistoryApp(&fakeHistoryStore{}, &fakeInvalidator{err: errors.New("redis gone")})

	resp, err := app.Test(httptest.NewRequest("DELETE", "/api/v1/resolve/cache", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusInternalServerError, resp.StatusCode)
}

func TestGetHistoryRequiresEntity(t *testing.T) {
	app := newHistoryApp(&fakeHistoryStore{}, nil)

	resp, err := app.Test(httptest.NewRequest("GET", "/api/v1/resolve/history", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}
