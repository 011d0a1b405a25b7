package health

import (
	"context"
	"errors"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/ford-at-home/storygen/store"
)

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

var (
	up   = pingFunc(func(context.Context) error { return nil })
	down = pingFunc(func(context.Context) error { return errors.New("connection refused") })
)

func TestPingCheck(t *testing.T) {
	ctx := context.Background()

	st := PingCheck("l3", up, true).Probe(ctx)
	assert.True(t, st.IsHealthy())

	st = PingCheck("l3", down, true).Probe(ctx)
	assert.True(t, st.IsUnhealthy())
	assert.Equal(t, "l3", st.Details["tier"])
	assert.Equal(t, "connection refused", st.Details["error"])
}

func TestPingCheckAgainstStoreTiers(t *testing.T) {
	ctx := context.Background()

	mr := miniredis.RunT(t)
	client, err := store.NewRedisClient(store.RedisOptions{URL: "redis://" + mr.Addr()})
	require.NoError(t, err)
	defer client.Close()

	repo, err := store.NewSQLiteRepository(store.SQLiteOptions{Path: filepath.Join(t.TempDir(), "h.db")})
	require.NoError(t, err)
	defer repo.Close()

	overall, results := Run(ctx, []Check{
		PingCheck("l2", store.NewRedisTier(client), false),
		PingCheck("l3", repo, true),
	})
	assert.True(t, overall.IsHealthy(), overall.Message)
	assert.Len(t, results, 2)

	mr.Close()
	overall, results = Run(ctx, []Check{
		PingCheck("l2", store.NewRedisTier(client), false),
		PingCheck("l3", repo, true),
	})
	assert.True(t, results["l2"].IsUnhealthy())
	assert.True(t, overall.IsDegraded(), "a masked tier only degrades")
}

func TestNetworkCheck(t *testing.T) {
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer lis.Close()

	host, portStr, err := net.SplitHostPort(lis.Addr().String())
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	assert.True(t, NetworkCheck(ctx, host, port).IsHealthy())
	assert.True(t, NetworkCheck(ctx, "", port).IsUnhealthy())
	assert.True(t, NetworkCheck(ctx, host, 70000).IsUnhealthy())
}

func TestFileCheck(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "sessions.db")
	require.NoError(t, os.WriteFile(file, nil, 0o600))

	tests := []struct {
		name    string
		path    string
		healthy bool
	}{
		{"directory", dir, true},
		{"file", file, true},
		{"missing", filepath.Join(dir, "missing.db"), false},
		{"empty", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := FileCheck(tt.path)
			assert.Equal(t, tt.healthy, st.IsHealthy(), st.Message)
			assert.NotEmpty(t, st.Message)
		})
	}
}

func TestCombine(t *testing.T) {
	tests := []struct {
		name   string
		checks []Status
		want   string
	}{
		{"none", nil, StatusHealthy},
		{"all healthy", []Status{Healthy("a"), Healthy("b")}, StatusHealthy},
		{"one degraded", []Status{Healthy("a"), Degraded("b", nil)}, StatusDegraded},
		{"unhealthy wins", []Status{Degraded("a", nil), Unhealthy("b", nil), Healthy("c")}, StatusUnhealthy},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Combine(tt.checks...).Status)
		})
	}

	st := Combine(Unhealthy("", nil))
	assert.Equal(t, []string{"unnamed check"}, st.Details["failed_checks"])
}

func serving(t *testing.T, m *Monitor, service string) healthpb.HealthCheckResponse_ServingStatus {
	t.Helper()
	resp, err := m.Server().Check(context.Background(), &healthpb.HealthCheckRequest{Service: service})
	require.NoError(t, err)
	return resp.GetStatus()
}

func TestMonitorPublishesStatus(t *testing.T) {
	var l2Up = true
	l2 := pingFunc(func(context.Context) error {
		if l2Up {
			return nil
		}
		return errors.New("redis down")
	})

	m := NewMonitor([]Check{
		PingCheck("l2", l2, false),
		PingCheck("l3", up, true),
	}, time.Minute, nil)
	assert.True(t, m.Last().IsUnhealthy())

	st := m.CheckNow(context.Background())
	assert.True(t, st.IsHealthy())
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, serving(t, m, ""))
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, serving(t, m, "l2"))

	l2Up = false
	st = m.CheckNow(context.Background())
	assert.True(t, st.IsDegraded())
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, serving(t, m, ""))
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, serving(t, m, "l2"))
	assert.Equal(t, st, m.Last())
}

func TestMonitorCriticalFailure(t *testing.T) {
	m := NewMonitor([]Check{PingCheck("l3", down, true)}, time.Minute, nil)
	st := m.CheckNow(context.Background())
	assert.True(t, st.IsUnhealthy())
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, serving(t, m, ""))
}

func TestMonitorRunStopsWithContext(t *testing.T) {
	m := NewMonitor([]Check{PingCheck("l3", up, true)}, 10*time.Millisecond, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return m.Last().IsHealthy() }, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("monitor did not stop")
	}
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, serving(t, m, ""))
}
