// ABOUTME: Tests for gateway wiring and lifecycle.
// ABOUTME: Covers construction validation, health endpoints, and graceful shutdown.

package gateway

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/wecom-gateway/internal/config"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{HTTPAddr: "127.0.0.1:0"},
		Webhook: config.WebhookConfig{
			Token:          "callback-token",
			EncodingAESKey: "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQ",
		},
		AI: config.AIConfig{
			APIKey: "sk-test",
			Model:  "gpt-4o-mini",
		},
	}
}

func TestNew_WiresComponents(t *testing.T) {
	gw, err := New(testConfig(), testLogger())
	require.NoError(t, err)
	require.NotNil(t, gw.httpServer)
	assert.Equal(t, "/wecom/callback", gw.handler.Path())
	assert.True(t, strings.HasPrefix(gw.serverID, "wecom-gateway-"))
}

func TestNew_RejectsBadEncodingKey(t *testing.T) {
	cfg := testConfig()
	cfg.Webhook.EncodingAESKey = "too-short"

	_, err := New(cfg, testLogger())
	assert.ErrorContains(t, err, "webhook codec")
}

func TestNew_RejectsMissingAPIKey(t *testing.T) {
	cfg := testConfig()
	cfg.AI.APIKey = ""

	_, err := New(cfg, testLogger())
	assert.ErrorContains(t, err, "dispatcher")
}

func TestHealthEndpoints(t *testing.T) {
	gw, err := New(testConfig(), testLogger())
	require.NoError(t, err)
	defer gw.dedupe.Close()
	defer gw.streams.Close()

	rec := httptest.NewRecorder()
	gw.httpServer.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())

	rec = httptest.NewRecorder()
	gw.httpServer.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ready (0 streams)", rec.Body.String())
}

func TestRun_GracefulShutdownOnCancel(t *testing.T) {
	gw, err := New(testConfig(), testLogger())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- gw.Run(ctx) }()

	// Give the listener a moment to come up, then cancel.
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after context cancellation")
	}
}
