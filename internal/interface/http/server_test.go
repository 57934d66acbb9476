package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/learning-progress/internal/application/command"
	"github.com/alem-hub/learning-progress/internal/application/query"
	"github.com/alem-hub/learning-progress/internal/domain/curriculum"
	"github.com/alem-hub/learning-progress/internal/domain/shared"
	"github.com/alem-hub/learning-progress/internal/infrastructure/persistence/memory"
)

func newTestServer(t *testing.T, health *HealthChecker) *Server {
	t.Helper()
	gin.SetMode(gin.TestMode)

	topo, err := curriculum.Default()
	require.NoError(t, err)

	store := memory.NewStore()
	now := func() time.Time { return time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC) }

	return NewServer(DefaultConfig(), Dependencies{
		Coordinator:     command.NewCoordinator(store, topo, nil, nil, command.CoordinatorConfig{Clock: now}),
		GetProgress:     query.NewGetProgressHandler(store, topo, now),
		ExportAnalytics: query.NewExportAnalyticsHandler(store, topo, now),
		Health:          health,
	})
}

func do(t *testing.T, s *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(headerRequestID, "req-1")

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	return v
}

func TestServer_RecordLessonThenGetProgress(t *testing.T) {
	s := newTestServer(t, nil)

	rec := do(t, s, http.MethodPost, "/v1/users/u1/lessons", map[string]any{
		"module_id":          "foundation",
		"lesson_id":          "lesson-1",
		"completed":          true,
		"time_spent_seconds": 60,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "req-1", rec.Header().Get(headerRequestID))

	res := decode[struct {
		UserID    string `json:"user_id"`
		Version   int64  `json:"version"`
		Persisted bool   `json:"persisted"`
		Events    []struct {
			Type          string `json:"type"`
			Version       int64  `json:"version"`
			CorrelationID string `json:"correlation_id"`
		} `json:"events"`
		Details lessonDetails `json:"details"`
	}](t, rec)
	assert.Equal(t, "u1", res.UserID)
	assert.Equal(t, int64(1), res.Version)
	assert.True(t, res.Persisted)
	assert.Equal(t, 20, res.Details.ModuleProgress)
	require.Len(t, res.Events, 1)
	assert.Equal(t, "progress.streak_changed", res.Events[0].Type)
	assert.Equal(t, int64(1), res.Events[0].Version)
	assert.Equal(t, "req-1", res.Events[0].CorrelationID)

	rec = do(t, s, http.MethodGet, "/v1/users/u1/progress", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	got := decode[struct {
		Stored         bool `json:"stored"`
		OverallPercent int  `json:"overall_percent"`
	}](t, rec)
	assert.True(t, got.Stored)
}

func TestServer_UnknownUserGetsDefault(t *testing.T) {
	s := newTestServer(t, nil)

	rec := do(t, s, http.MethodGet, "/v1/users/nobody/progress", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	got := decode[struct {
		Stored bool `json:"stored"`
	}](t, rec)
	assert.False(t, got.Stored)
}

func TestServer_ValidationErrors(t *testing.T) {
	s := newTestServer(t, nil)

	tests := []struct {
		name string
		path string
		body any
		code string
	}{
		{"negative time", "/v1/users/u1/lessons", map[string]any{"module_id": "foundation", "lesson_id": "lesson-1", "time_spent_seconds": -1}, "invalid_request"},
		{"time overflows", "/v1/users/u1/lessons", map[string]any{"module_id": "foundation", "lesson_id": "lesson-1", "time_spent_seconds": 1e19}, "invalid_request"},
		{"duration overflows", "/v1/users/u1/playground", map[string]any{"action": "time_spent", "duration_seconds": -1e300}, "invalid_request"},
		{"negative score", "/v1/users/u1/certifications", map[string]any{"level": "foundation", "score": -5}, "invalid_request"},
		{"empty achievement", "/v1/users/u1/achievements", map[string]any{"title": "x"}, "invalid_request"},
		{"bad category", "/v1/users/u1/achievements", map[string]any{"achievement_id": "x", "category": "nope"}, "invalid_request"},
		{"malformed body", "/v1/users/u1/streak", "not an object", "invalid_body"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, s, http.MethodPost, tt.path, tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, tt.code, decode[ErrorEnvelope](t, rec).Error.Code)
		})
	}
}

func TestSeconds(t *testing.T) {
	d, err := seconds("t", 1.5)
	require.NoError(t, err)
	assert.Equal(t, 1500*time.Millisecond, d)

	for _, v := range []float64{math.NaN(), math.Inf(1), math.Inf(-1), maxSeconds * 2} {
		_, err := seconds("t", v)
		assert.ErrorIs(t, err, shared.ErrValueOutOfRange, "value %v", v)
	}
}

func TestServer_GrantAchievementTwice(t *testing.T) {
	s := newTestServer(t, nil)
	body := map[string]any{"achievement_id": "mentor", "title": "Mentor", "category": "general"}

	first := decode[struct {
		Version int64              `json:"version"`
		Details achievementDetails `json:"details"`
	}](t, do(t, s, http.MethodPost, "/v1/users/u1/achievements", body))
	assert.True(t, first.Details.Granted)
	assert.Equal(t, int64(1), first.Version)

	second := decode[struct {
		Version   int64              `json:"version"`
		Persisted bool               `json:"persisted"`
		Details   achievementDetails `json:"details"`
	}](t, do(t, s, http.MethodPost, "/v1/users/u1/achievements", body))
	assert.False(t, second.Details.Granted)
	assert.False(t, second.Persisted)
	assert.Equal(t, int64(1), second.Version)
}

func TestServer_PlaygroundAndAnalytics(t *testing.T) {
	s := newTestServer(t, nil)

	rec := do(t, s, http.MethodPost, "/v1/users/u1/playground", map[string]any{"action": "code_executed"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = do(t, s, http.MethodGet, "/v1/users/u1/analytics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	got := decode[query.AnalyticsDTO](t, rec)
	assert.Equal(t, "u1", got.UserID)
	assert.Equal(t, 1, got.Playground.CodeExecutions)
}

func TestServer_TouchStreakWithoutBody(t *testing.T) {
	s := newTestServer(t, nil)

	rec := do(t, s, http.MethodPost, "/v1/users/u1/streak", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	got := decode[struct {
		Details streakDetails `json:"details"`
	}](t, rec)
	assert.True(t, got.Details.Changed)
	assert.Equal(t, 1, got.Details.Streak.Current)
}

func TestServer_NotFound(t *testing.T) {
	s := newTestServer(t, nil)

	rec := do(t, s, http.MethodGet, "/v2/anything", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not_found", decode[ErrorEnvelope](t, rec).Error.Code)
}

func TestServer_Health(t *testing.T) {
	health := NewHealthChecker("test")
	health.AddCheck("store", func(context.Context) error { return nil })
	s := newTestServer(t, health)

	rec := do(t, s, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decode[HealthStatus](t, rec).Healthy)

	health.AddCheck("redis", func(context.Context) error { return errors.New("connection refused") })
	rec = do(t, s, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	status := decode[HealthStatus](t, rec)
	assert.False(t, status.Healthy)
	assert.Equal(t, "checks failed: redis", status.Message)
}
