package health

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func passing() CheckFunc {
	return func(context.Context) error { return nil }
}

func failing(msg string) CheckFunc {
	return func(context.Context) error { return errors.New(msg) }
}

type probe struct {
	Status string
	Checks map[string]string
	Info   map[string]string
}

func decodeProbe(t *testing.T, w *httptest.ResponseRecorder) probe {
	t.Helper()
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	strMap := func(d *jx.Decoder) (map[string]string, error) {
		m := map[string]string{}
		return m, d.Obj(func(d *jx.Decoder, key string) error {
			v, err := d.Str()
			m[key] = v
			return err
		})
	}
	var p probe
	require.NoError(t, jx.DecodeBytes(w.Body.Bytes()).Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "status":
			p.Status, err = d.Str()
		case "checks":
			p.Checks, err = strMap(d)
		case "info":
			p.Info, err = strMap(d)
		default:
			err = d.Skip()
		}
		return err
	}))
	return p
}

func serve(h http.HandlerFunc) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	h(w, httptest.NewRequest(http.MethodGet, "/", nil))
	return w
}

func runN(c *check, n int) {
	for range n {
		c.run(context.Background())
	}
}

func TestLiveEndpoint(t *testing.T) {
	h := New()
	h.AddLivenessCheck("goroutines", time.Second, passing())
	h.AddLivenessCheck("gc", time.Second, failing("GC pause 2s exceeds threshold 1s"))

	w := serve(h.LiveEndpoint)
	require.Equal(t, http.StatusOK, w.Code, "checks start healthy")
	assert.Equal(t, "ok", decodeProbe(t, w).Status)

	runN(h.checks[1], 2)
	assert.Equal(t, http.StatusOK, serve(h.LiveEndpoint).Code, "below threshold")

	runN(h.checks[1], 1)
	w = serve(h.LiveEndpoint)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	p := decodeProbe(t, w)
	assert.Equal(t, "unhealthy", p.Status)
	assert.Equal(t, map[string]string{"gc": "GC pause 2s exceeds threshold 1s"}, p.Checks)
}

func TestReadyEndpoint(t *testing.T) {
	h := New()
	h.AddReadinessCheck("store", time.Second, failing("connection refused"))
	h.AddLivenessCheck("goroutines", time.Second, failing("too many"))

	w := serve(h.ReadyEndpoint)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, map[string]string{"_readiness": "service is not ready"}, decodeProbe(t, w).Checks)

	h.SetReady(true)
	assert.Equal(t, http.StatusOK, serve(h.ReadyEndpoint).Code)
	assert.True(t, h.IsReady())

	runN(h.checks[0], 3)
	runN(h.checks[1], 3)
	w = serve(h.ReadyEndpoint)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, map[string]string{"store": "connection refused"}, decodeProbe(t, w).Checks,
		"liveness failures are not reported on readyz")
	assert.False(t, h.IsReady())

	h.SetReady(false)
	assert.Len(t, decodeProbe(t, serve(h.ReadyEndpoint)).Checks, 2)
}

func TestReadyEndpoint_InfoChecksDoNotGate(t *testing.T) {
	h := New()
	h.AddReadinessCheck("store", time.Second, passing())
	h.AddInfoCheck("gateway.ozow", time.Second, failing("ozow circuit breaker open"), WithThresholds(1, 1))
	h.SetReady(true)

	runN(h.checks[1], 1)

	w := serve(h.ReadyEndpoint)
	assert.Equal(t, http.StatusOK, w.Code)
	p := decodeProbe(t, w)
	assert.Equal(t, "ok", p.Status)
	assert.Empty(t, p.Checks)
	assert.Equal(t, map[string]string{"gateway.ozow": "ozow circuit breaker open"}, p.Info)
	assert.True(t, h.IsReady())
}

func TestCheck_Recovery(t *testing.T) {
	down := true
	h := New()
	h.AddReadinessCheck("redis", time.Second, func(context.Context) error {
		if down {
			return errors.New("down")
		}
		return nil
	}, WithThresholds(2, 2))
	c := h.checks[0]

	assert.Nil(t, c.err())
	runN(c, 2)
	assert.False(t, c.healthy.Load())
	assert.EqualError(t, c.err(), "down")

	down = false
	runN(c, 1)
	assert.False(t, c.healthy.Load(), "one success is below the threshold")
	runN(c, 1)
	assert.True(t, c.healthy.Load())
	assert.NoError(t, c.err())
}

func TestCheck_Timeout(t *testing.T) {
	h := New()
	h.AddReadinessCheck("slow", 10*time.Millisecond, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}, WithThresholds(1, 1))
	runN(h.checks[0], 1)
	assert.ErrorIs(t, h.checks[0].err(), context.DeadlineExceeded)
}

func TestStartStop(t *testing.T) {
	h := New()
	h.AddReadinessCheck("store", time.Second, failing("down"), WithThresholds(1, 1))
	h.SetReady(true)

	h.Start(t.Context(), 5*time.Millisecond)
	require.Eventually(t, func() bool { return !h.IsReady() }, time.Second, 5*time.Millisecond)

	h.Stop()
	h.Stop()
}

func TestConcurrentAccess(t *testing.T) {
	h := New()
	h.AddLivenessCheck("live", time.Second, failing("err"))
	h.AddReadinessCheck("ready", time.Second, passing())
	h.AddInfoCheck("info", time.Second, failing("open"))
	h.SetReady(true)

	h.Start(t.Context(), time.Millisecond)
	defer h.Stop()

	var wg sync.WaitGroup
	for range 8 {
		wg.Go(func() {
			for range 50 {
				h.IsReady()
				serve(h.LiveEndpoint)
				serve(h.ReadyEndpoint)
			}
		})
	}
	wg.Wait()
}

func TestGoroutineCountCheck(t *testing.T) {
	assert.NoError(t, GoroutineCountCheck(1_000_000)(context.Background()))
	assert.ErrorContains(t, GoroutineCountCheck(0)(context.Background()), "exceeds threshold")
}

func TestGCMaxPauseCheck(t *testing.T) {
	assert.NoError(t, GCMaxPauseCheck(time.Hour)(context.Background()))
}

type pinger struct{ err error }

func (p pinger) Ping(context.Context) error { return p.err }

func TestPingCheck(t *testing.T) {
	assert.NoError(t, PingCheck(pinger{})(context.Background()))
	err := PingCheck(pinger{err: errors.New("dial tcp: refused")})(context.Background())
	assert.EqualError(t, err, "ping: dial tcp: refused")
}
