package api_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/plateworks/reelchef/internal/api"
	mw "github.com/plateworks/reelchef/internal/api/middleware"
	"github.com/plateworks/reelchef/pkg/models"
)

// stubCache backs the rate limiter with an in-memory counter.
type stubCache struct {
	counts map[string]int64
}

func newStubCache() *stubCache { return &stubCache{counts: make(map[string]int64)} }

func (s *stubCache) Set(_ context.Context, _ string, _ []byte, _ time.Duration) error { return nil }
func (s *stubCache) Get(_ context.Context, _ string) ([]byte, bool, error)           { return nil, false, nil }
func (s *stubCache) Delete(_ context.Context, _ string) error                        { return nil }
func (s *stubCache) Ping(_ context.Context) error                                    { return nil }
func (s *stubCache) Close() error                                                    { return nil }

func (s *stubCache) SetRecipeStatus(_ context.Context, _ uuid.UUID, _ string, _ time.Duration) error {
	return nil
}

func (s *stubCache) GetRecipeStatus(_ context.Context, _ uuid.UUID) (string, bool, error) {
	return "", false, nil
}

func (s *stubCache) IncrWithExpiry(_ context.Context, key string, _ time.Duration) (int64, error) {
	s.counts[key]++
	return s.counts[key], nil
}

func (s *stubCache) PublishStatus(_ context.Context, _ models.StatusEvent) error { return nil }

func (s *stubCache) SubscribeStatus(_ context.Context, _ uuid.UUID) (<-chan models.StatusEvent, func(), error) {
	return nil, func() {}, nil
}

func mark(name string, hits map[string]int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		hits[name]++
		w.WriteHeader(http.StatusOK)
	}
}

func newTestRouter(t *testing.T, hits map[string]int) http.Handler {
	t.Helper()
	return api.NewRouter(api.Dependencies{
		RateLimit:             mw.NewRateLimit(newStubCache(), 100),
		HealthHandler:         mark("health", hits),
		CreateRecipeHandler:   mark("create", hits),
		GetRecipeHandler:      mark("get", hits),
		ListFramesHandler:     mark("frames", hits),
		SearchFramesHandler:   mark("search", hits),
		UploadProgressHandler: mark("progress", hits),
		StatusEventsHandler:   mark("events", hits),
	})
}

func TestRouter_Routes(t *testing.T) {
	hits := make(map[string]int)
	router := newTestRouter(t, hits)
	id := uuid.New().String()

	cases := []struct {
		method string
		path   string
		want   string
	}{
		{http.MethodGet, "/api/v1/health", "health"},
		{http.MethodPost, "/api/v1/recipes", "create"},
		{http.MethodGet, "/api/v1/recipes/" + id, "get"},
		{http.MethodGet, "/api/v1/recipes/" + id + "/frames", "frames"},
		{http.MethodGet, "/api/v1/recipes/" + id + "/frames/search", "search"},
		{http.MethodGet, "/api/v1/recipes/" + id + "/progress", "progress"},
		{http.MethodGet, "/api/v1/recipes/" + id + "/events", "events"},
	}

	for _, tc := range cases {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(tc.method, tc.path, nil)
		req.RemoteAddr = "10.0.0.1:4321"
		router.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code, "%s %s", tc.method, tc.path)
		assert.Equal(t, 1, hits[tc.want], "handler %q", tc.want)
	}
}

func TestRouter_UnknownRouteIs404(t *testing.T) {
	router := newTestRouter(t, make(map[string]int))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/nope", nil)
	req.RemoteAddr = "10.0.0.1:4321"
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRouter_NilHandlerIs501(t *testing.T) {
	router := api.NewRouter(api.Dependencies{
		RateLimit: mw.NewRateLimit(newStubCache(), 100),
	})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNotImplemented, rec.Code)

	var env struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	assert.Equal(t, "NOT_IMPLEMENTED", env.Error.Code)
}

func TestRouter_HealthSkipsRateLimit(t *testing.T) {
	hits := make(map[string]int)
	router := newTestRouter(t, hits)

	// Health is outside the rate-limited group; exhausting the limiter on
	// API routes must not block it.
	for i := 0; i < 3; i++ {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
		req.RemoteAddr = "10.0.0.9:1"
		router.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code)
	}
	assert.Equal(t, 3, hits["health"])
}

func TestRouter_RateLimitApplied(t *testing.T) {
	hits := make(map[string]int)
	router := api.NewRouter(api.Dependencies{
		RateLimit:        mw.NewRateLimit(newStubCache(), 1),
		GetRecipeHandler: mark("get", hits),
	})
	path := "/api/v1/recipes/" + uuid.New().String()

	first := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	req.RemoteAddr = "10.0.0.1:4321"
	router.ServeHTTP(first, req)
	require.Equal(t, http.StatusOK, first.Code)

	second := httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, path, nil)
	req.RemoteAddr = "10.0.0.1:4321"
	router.ServeHTTP(second, req)
	assert.Equal(t, http.StatusTooManyRequests, second.Code)
	assert.Equal(t, 1, hits["get"])
}
