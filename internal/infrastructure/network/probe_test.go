package network

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/riskibarqy/teamsync/internal/platform/logging"
)

func TestManualProbe_FiresOnReconnectOnly(t *testing.T) {
	t.Parallel()

	probe := NewManualProbe(true)
	var fired atomic.Int32
	probe.OnReconnect(func() { fired.Add(1) })

	probe.SetOnline(true)
	probe.SetOnline(false)
	if probe.Online(context.Background()) {
		t.Fatalf("expected offline")
	}
	probe.SetOnline(true)
	probe.SetOnline(true)

	if fired.Load() != 1 {
		t.Fatalf("expected exactly one reconnect callback, got %d", fired.Load())
	}
}

func TestHTTPProbe_CachesResult(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	clock := clockwork.NewFakeClock()
	probe := NewHTTPProbe(HTTPProbeConfig{URL: srv.URL, CacheTTL: time.Minute}, clock, logging.NewNop())

	for i := 0; i < 3; i++ {
		if !probe.Online(context.Background()) {
			t.Fatalf("401 still proves reachability")
		}
	}
	if hits.Load() != 1 {
		t.Fatalf("expected cached probe, got %d hits", hits.Load())
	}

	clock.Advance(2 * time.Minute)
	probe.Online(context.Background())
	if hits.Load() != 2 {
		t.Fatalf("expected refresh after ttl, got %d hits", hits.Load())
	}
}

func TestHTTPProbe_Unreachable(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	probe := NewHTTPProbe(HTTPProbeConfig{URL: url, Timeout: time.Second}, clockwork.NewFakeClock(), nil)
	if probe.Online(context.Background()) {
		t.Fatalf("closed server must be offline")
	}
}
