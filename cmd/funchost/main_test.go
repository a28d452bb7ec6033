package main

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Voitanos/azfunctions-cicd-iac/appconfig"
	"github.com/Voitanos/azfunctions-cicd-iac/azfunctest"
	"github.com/Voitanos/azfunctions-cicd-iac/internal/config"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func get(t *testing.T, h http.Handler, target string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestRootCmdFlags(t *testing.T) {
	cmd := newRootCmd()

	for _, name := range []string{"config", "port", "log-level"} {
		assert.NotNil(t, cmd.Flags().Lookup(name), name)
	}
	assert.Equal(t, "c", cmd.Flags().Lookup("config").Shorthand)
	assert.Equal(t, "p", cmd.Flags().Lookup("port").Shorthand)
}

func TestLoadConfig_FlagsOverride(t *testing.T) {
	t.Setenv("FUNCTIONS_CUSTOMHANDLER_PORT", "7071")
	t.Setenv("LOG_LEVEL", "info")

	cmd := newRootCmd()
	require.NoError(t, cmd.Flags().Set("port", "9090"))
	require.NoError(t, cmd.Flags().Set("log-level", "debug"))

	cfg, err := loadConfig(cmd)
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoadConfig_EnvWithoutFlags(t *testing.T) {
	t.Setenv("FUNCTIONS_CUSTOMHANDLER_PORT", "7071")

	cfg, err := loadConfig(newRootCmd())
	require.NoError(t, err)
	assert.Equal(t, 7071, cfg.Server.Port)
}

func TestNewMux(t *testing.T) {
	client := azfunctest.NewClient()
	mux, err := newMux(config.Default(), client, unavailableStore{}, discardLogger())
	require.NoError(t, err)

	rec := get(t, mux, "/api/simplemath?operandA=2&operandB=3")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "The result of 2 + 3 = 5", rec.Body.String())

	rec = get(t, mux, "/api/heartbeat")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	exceptions := client.Exceptions()
	require.Len(t, exceptions, 1)
	assert.ErrorIs(t, exceptions[0].Err, appconfig.ErrNoStore)
	assert.Len(t, client.Requests(), 2)

	rec = get(t, mux, "/metrics")
	assert.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `function_requests_total{source="simplemath",status_code="200",success="true"} 1`)
	assert.Contains(t, body, `function_requests_total{source="heartbeat",status_code="",success="false"} 1`)
	assert.Contains(t, body, `function_exceptions_total{severity="Error",source="heartbeat"} 1`)
	assert.Contains(t, body, "go_goroutines ")
}

func TestNewMux_RespondPolicyWithoutMetrics(t *testing.T) {
	cfg := config.Default()
	cfg.Server.MetricsPath = ""
	cfg.Heartbeat.FailurePolicy = "respond"

	client := azfunctest.NewClient()
	mux, err := newMux(cfg, client, unavailableStore{}, discardLogger())
	require.NoError(t, err)

	rec := get(t, mux, "/api/heartbeat")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "Unable to read application settings: ")
	assert.Empty(t, client.Exceptions())

	assert.Equal(t, http.StatusNotFound, get(t, mux, "/metrics").Code)
}

func TestNewMux_InvalidPolicy(t *testing.T) {
	cfg := config.Default()
	cfg.Heartbeat.FailurePolicy = "retry"

	_, err := newMux(cfg, azfunctest.NewClient(), unavailableStore{}, discardLogger())
	assert.Error(t, err)
}

func TestResolveServiceVersion(t *testing.T) {
	cfg := config.Default()
	resolveServiceVersion(context.Background(), cfg, versionStore("1.0.42"), discardLogger())
	assert.Equal(t, "1.0.42", cfg.Telemetry.ServiceVersion)

	cfg.Telemetry.ServiceVersion = "pinned"
	resolveServiceVersion(context.Background(), cfg, versionStore("1.0.43"), discardLogger())
	assert.Equal(t, "pinned", cfg.Telemetry.ServiceVersion)

	cfg = config.Default()
	resolveServiceVersion(context.Background(), cfg, unavailableStore{}, discardLogger())
	assert.Empty(t, cfg.Telemetry.ServiceVersion)
}

func TestNewStore_NoName(t *testing.T) {
	cfg := config.Default()
	store, err := newStore(cfg, discardLogger())
	require.NoError(t, err)

	_, err = store.GetSetting(context.Background(), appconfig.KeyAppVersion, "")
	assert.ErrorIs(t, err, appconfig.ErrNoStore)
}

type versionStore string

func (v versionStore) GetSetting(_ context.Context, key, label string) (appconfig.Setting, error) {
	return appconfig.Setting{Key: key, Label: label, Value: string(v)}, nil
}
