package http

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHealthCheckerAggregates(t *testing.T) {
	hc := NewHealthChecker("v1", time.Second)
	hc.AddCheck("postgres", func(context.Context) error { return nil })
	hc.AddCheck("redis", func(context.Context) error { return nil })

	status := hc.Check(context.Background())

	assert.True(t, status.Healthy)
	assert.True(t, status.Ready)
	assert.Len(t, status.Checks, 2)
	assert.Equal(t, "v1", status.Version)
}

func TestHealthCheckerFailingProbe(t *testing.T) {
	hc := NewHealthChecker("v1", time.Second)
	hc.AddCheck("postgres", func(context.Context) error { return nil })
	hc.AddCheck("redis", func(context.Context) error { return errors.New("connection refused") })

	status := hc.Check(context.Background())

	assert.False(t, status.Healthy)
	assert.False(t, status.Ready)
	assert.True(t, status.Checks["postgres"].Healthy)
	assert.False(t, status.Checks["redis"].Healthy)
	assert.Equal(t, "connection refused", status.Checks["redis"].Message)
}

func TestHealthCheckerProbeTimeout(t *testing.T) {
	hc := NewHealthChecker("v1", 10*time.Millisecond)
	hc.AddCheck("slow", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})

	status := hc.Check(context.Background())
	assert.False(t, status.Healthy)
}

func TestHealthCheckerRemoveCheck(t *testing.T) {
	hc := NewHealthChecker("v1", time.Second)
	hc.AddCheck("flaky", func(context.Context) error { return errors.New("down") })
	hc.RemoveCheck("flaky")

	assert.True(t, hc.Check(context.Background()).Healthy)
}

func TestHealthEndpointReportsUnhealthy(t *testing.T) {
	hc := NewHealthChecker("v1", time.Second)
	hc.AddCheck("postgres", func(context.Context) error { return errors.New("down") })

	f := newServerFixture(t, func(_ *Config, deps *Dependencies) {
		deps.HealthChecker = hc
	})

	rec := f.do(http.MethodGet, "/health", nil, nil)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = f.do(http.MethodGet, "/ready", nil, nil)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "not_ready", decodeEnvelope(t, rec).Error.Code)
}
