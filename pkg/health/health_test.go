package health

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func passing(context.Context) error { return nil }

func failing(msg string) CheckFunc {
	return func(context.Context) error { return errors.New(msg) }
}

func serve(t *testing.T, endpoint http.HandlerFunc) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	endpoint(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	return rec
}

func runN(p *probe, n int) {
	for range n {
		p.run(context.Background())
	}
}

func TestLiveEndpoint(t *testing.T) {
	tests := []struct {
		name     string
		check    CheckFunc
		runs     int
		wantCode int
		wantBody string
	}{
		{
			name:     "passing",
			check:    passing,
			runs:     1,
			wantCode: http.StatusOK,
			wantBody: `{"status":"ok"}`,
		},
		{
			name:     "below failure threshold",
			check:    failing("temporary"),
			runs:     2,
			wantCode: http.StatusOK,
			wantBody: `{"status":"ok"}`,
		},
		{
			name:     "past failure threshold",
			check:    failing("connection refused"),
			runs:     3,
			wantCode: http.StatusServiceUnavailable,
			wantBody: `{"status":"unhealthy","checks":{"postgres":"connection refused"}}`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := New()
			h.Add(Liveness, "postgres", time.Second, tt.check)
			runN(h.probes[Liveness][0], tt.runs)

			rec := serve(t, h.LiveEndpoint)
			assert.Equal(t, tt.wantCode, rec.Code)
			assert.JSONEq(t, tt.wantBody, rec.Body.String())
		})
	}
}

func TestReadyEndpoint(t *testing.T) {
	h := New()
	h.Add(Readiness, "postgres", time.Second, passing)
	h.Add(Readiness, "redis", time.Second, failing("dial tcp: refused"), WithThresholds(1, 1))

	rec := serve(t, h.ReadyEndpoint)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.JSONEq(t, `{"status":"unhealthy","checks":{"_readiness":"service is not ready"}}`, rec.Body.String())

	h.SetReady(true)
	assert.True(t, h.IsReady())

	runN(h.probes[Readiness][1], 1)
	assert.False(t, h.IsReady())
	rec = serve(t, h.ReadyEndpoint)
	assert.JSONEq(t, `{"status":"unhealthy","checks":{"redis":"dial tcp: refused"}}`, rec.Body.String())
}

func TestProbeRecovers(t *testing.T) {
	down := true
	h := New()
	h.Add(Liveness, "gateway", time.Second, func(context.Context) error {
		if down {
			return errors.New("down")
		}
		return nil
	}, WithThresholds(2, 2))
	p := h.probes[Liveness][0]

	runN(p, 2)
	assert.False(t, p.healthy.Load())

	down = false
	runN(p, 1)
	assert.False(t, p.healthy.Load())
	runN(p, 1)
	assert.True(t, p.healthy.Load())
}

func TestStartStop(t *testing.T) {
	var (
		mu    sync.Mutex
		calls int
	)
	h := New()
	h.Add(Readiness, "counter", time.Second, func(context.Context) error {
		mu.Lock()
		calls++
		mu.Unlock()
		return nil
	})
	h.SetReady(true)

	h.Start(context.Background(), 5*time.Millisecond)
	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return calls >= 3
	}, time.Second, 5*time.Millisecond)

	h.Stop()
	h.Stop()
	assert.True(t, h.IsReady())
}

type pinger struct{ err error }

func (p pinger) Ping(context.Context) error { return p.err }

func TestCheckers(t *testing.T) {
	ctx := context.Background()

	assert.NoError(t, GoroutineCountCheck(100000)(ctx))
	assert.ErrorContains(t, GoroutineCountCheck(0)(ctx), "exceeds threshold")

	assert.NoError(t, PingCheck(pinger{})(ctx))
	assert.Error(t, PingCheck(pinger{err: errors.New("refused")})(ctx))

	off := Optional(func() bool { return false }, failing("unconfigured"))
	assert.NoError(t, off(ctx))
	on := Optional(func() bool { return true }, failing("unreachable"))
	assert.EqualError(t, on(ctx), "unreachable")
}
