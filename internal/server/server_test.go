package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/hirelab/assessor/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func memoryConfig() config.Config {
	return config.Config{
		Env:           config.EnvDev,
		JWTSecret:     "secret",
		PublicBaseURL: "http://localhost:3000",
		StoreBackend:  StoreBackendMemory,
		Sandbox:       config.SandboxConfig{BaseURL: "http://sandbox.invalid"},
		RateLimit:     config.RateLimitConfig{Enabled: true, Backend: "postgres", MaxExecutions: 3, Window: time.Minute},
		Ledger:        config.LedgerConfig{RefundGrace: time.Hour, SweepInterval: time.Hour, SweepBatch: 10},
		Invite:        config.InviteConfig{DefaultExpiryDays: 7, MaxExpiryDays: 30},
		Storage:       config.StorageConfig{Backend: "none"},
		MQ:            config.MQConfig{Backend: "none"},
	}
}

func TestNewRequiresSecret(t *testing.T) {
	cfg := memoryConfig()
	cfg.JWTSecret = ""
	_, err := New(context.Background(), cfg)
	assert.ErrorContains(t, err, "JWT_SECRET is required")
}

func TestNewRejectsMemoryStoreInProduction(t *testing.T) {
	cfg := memoryConfig()
	cfg.Env = config.EnvProduction
	_, err := New(context.Background(), cfg)
	assert.ErrorContains(t, err, "not allowed in production")
}

func TestNewRejectsUnknownBackends(t *testing.T) {
	cfg := memoryConfig()
	cfg.StoreBackend = "mysql"
	_, err := New(context.Background(), cfg)
	assert.ErrorContains(t, err, `unknown store backend "mysql"`)

	cfg = memoryConfig()
	cfg.MQ.Backend = "kafka"
	_, err = New(context.Background(), cfg)
	assert.ErrorContains(t, err, "open mq")
}

func TestRoutesAreMounted(t *testing.T) {
	s, err := New(context.Background(), memoryConfig())
	require.NoError(t, err)
	assert.NotNil(t, s.hits, "without a database hits are kept in memory")

	tests := []struct {
		method string
		path   string
		want   int
	}{
		{http.MethodGet, "/healthz", http.StatusOK},
		{http.MethodGet, "/credits", http.StatusUnauthorized},
		{http.MethodPost, "/attempts/start", http.StatusUnauthorized},
		{http.MethodPost, "/code/execute", http.StatusUnauthorized},
		{http.MethodPost, "/applications/" + "00000000-0000-0000-0000-000000000001" + "/invites", http.StatusUnauthorized},
		{http.MethodGet, "/problems", http.StatusNotFound},
	}
	for _, tt := range tests {
		rec := httptest.NewRecorder()
		s.Router().ServeHTTP(rec, httptest.NewRequest(tt.method, tt.path, nil))
		assert.Equal(t, tt.want, rec.Code, "%s %s", tt.method, tt.path)
		assert.NotEmpty(t, rec.Header().Get("Content-Type"), "%s %s", tt.method, tt.path)
	}
}

func TestWriteTimeoutCoversExecution(t *testing.T) {
	s, err := New(context.Background(), memoryConfig())
	require.NoError(t, err)
	assert.Greater(t, s.httpServer.WriteTimeout, defaultExecuteTimeout)

	cfg := memoryConfig()
	cfg.Sandbox.MaxPolls = 20
	cfg.Sandbox.PollInterval = 500 * time.Millisecond
	cfg.HTTP = config.HTTPConfig{RequestTimeout: 30 * time.Second, ExecuteTimeout: 2 * time.Minute}
	s, err = New(context.Background(), cfg)
	require.NoError(t, err)

	// Three slow cases poll for the full budget each.
	slowest := 3 * time.Duration(cfg.Sandbox.MaxPolls) * cfg.Sandbox.PollInterval
	assert.Greater(t, s.httpServer.WriteTimeout, slowest)
	assert.Equal(t, 2*time.Minute+writeTimeoutSlack, s.httpServer.WriteTimeout)
}

func TestRunStopsWithContext(t *testing.T) {
	cfg := memoryConfig()
	cfg.ServerPort = 0
	s, err := New(context.Background(), cfg)
	require.NoError(t, err)
	s.httpServer.Addr = "127.0.0.1:0"

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
