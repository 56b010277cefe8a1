package routes

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"RoyRemind/config"
	"RoyRemind/controllers"
	"RoyRemind/handlers"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestHandler(checks map[string]controllers.HealthCheck) http.Handler {
	cfg := config.Default()
	cfg.Env = "development"
	cfg.BearerToken = "token"

	h := controllers.ReminderHandlers{
		Appointments: handlers.NewAppointmentHandler(nil),
		Patients:     handlers.NewPatientHandler(nil, nil, nil),
		Schedules:    handlers.NewScheduleHandler(nil, nil),
		Webhooks:     handlers.NewWebhookHandler(nil),
	}
	return SetupRoutes(cfg, zap.NewNop(), h, checks)
}

func TestPublicPaths(t *testing.T) {
	handler := newTestHandler(map[string]controllers.HealthCheck{
		"postgres": func(context.Context) error { return nil },
	})

	for _, path := range []string{"/", "/healthz", "/metrics"} {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusOK, w.Code, path)
	}
}

func TestReminderRoutesRequireToken(t *testing.T) {
	handler := newTestHandler(nil)

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/appointments/1/reminders", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	// Past the auth check, a malformed id is rejected before any service is touched.
	req := httptest.NewRequest(http.MethodGet, "/appointments/zero/reminders", nil)
	req.Header.Set("Authorization", "Bearer token")
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHealthzReportsFailingDependency(t *testing.T) {
	handler := newTestHandler(map[string]controllers.HealthCheck{
		"postgres": func(context.Context) error { return nil },
		"redis":    func(context.Context) error { return errors.New("connection refused") },
	})

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), `"redis":"connection refused"`)
	assert.Contains(t, w.Body.String(), `"postgres":"ok"`)
}
