package health

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

func newTestServer(status int) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
	}))
}

func TestProbeNowMarksHealthyUpstream(t *testing.T) {
	srv := newTestServer(http.StatusOK)
	defer srv.Close()

	c := NewChecker(time.Hour, time.Second, nil)
	c.AddBackend(Backend{Name: "users", BaseURL: srv.URL})

	snaps := c.ProbeNow(context.Background())
	if snaps["users"].Status != StatusHealthy {
		t.Errorf("Status = %s, want Healthy", snaps["users"].Status)
	}
}

func TestProbeNowMarksUnreachableAsDegraded(t *testing.T) {
	c := NewChecker(time.Hour, 50*time.Millisecond, nil)
	c.AddBackend(Backend{Name: "reports", BaseURL: "http://127.0.0.1:1"})

	snaps := c.ProbeNow(context.Background())
	if snaps["reports"].Status != StatusDegraded {
		t.Errorf("Status = %s, want Degraded for an unreachable upstream", snaps["reports"].Status)
	}
}

func TestProbeNowMarksBadStatusAsUnhealthy(t *testing.T) {
	srv := newTestServer(http.StatusInternalServerError)
	defer srv.Close()

	c := NewChecker(time.Hour, time.Second, nil)
	c.AddBackend(Backend{Name: "users", BaseURL: srv.URL})

	snaps := c.ProbeNow(context.Background())
	if snaps["users"].Status != StatusUnhealthy {
		t.Errorf("Status = %s, want Unhealthy for a reachable 500", snaps["users"].Status)
	}
}

func TestOverallStatusIsWorstOfAll(t *testing.T) {
	snaps := map[string]Snapshot{
		"a": {Status: StatusHealthy},
		"b": {Status: StatusDegraded},
	}
	if got := OverallStatus(snaps); got != StatusDegraded {
		t.Errorf("OverallStatus = %s, want Degraded", got)
	}

	snaps["c"] = Snapshot{Status: StatusUnhealthy}
	if got := OverallStatus(snaps); got != StatusUnhealthy {
		t.Errorf("OverallStatus = %s, want Unhealthy", got)
	}
}

func TestOverallStatusEmptyIsHealthy(t *testing.T) {
	if got := OverallStatus(nil); got != StatusHealthy {
		t.Errorf("OverallStatus(nil) = %s, want Healthy", got)
	}
}

func TestReadyFalseWhenRequiredBackendUnhealthy(t *testing.T) {
	srv := newTestServer(http.StatusInternalServerError)
	defer srv.Close()

	c := NewChecker(time.Hour, time.Second, nil)
	c.AddBackend(Backend{Name: "users", BaseURL: srv.URL, Ready: true})
	c.ProbeNow(context.Background())

	if c.Ready() {
		t.Error("expected Ready() false when a ready-tagged backend is Unhealthy")
	}
}

func TestReadyTrueWhenRequiredBackendOnlyDegraded(t *testing.T) {
	c := NewChecker(time.Hour, 50*time.Millisecond, nil)
	c.AddBackend(Backend{Name: "reports", BaseURL: "http://127.0.0.1:1", Ready: true})
	c.ProbeNow(context.Background())

	if !c.Ready() {
		t.Error("expected Ready() true when the ready-tagged backend is only Degraded")
	}
}

func TestOnChangeFiresOnTransition(t *testing.T) {
	srv := newTestServer(http.StatusOK)
	defer srv.Close()

	var mu sync.Mutex
	var transitions []Status
	c := NewChecker(time.Hour, time.Second, func(name string, status Status) {
		mu.Lock()
		transitions = append(transitions, status)
		mu.Unlock()
	})
	c.AddBackend(Backend{Name: "users", BaseURL: srv.URL})

	c.ProbeNow(context.Background())

	mu.Lock()
	defer mu.Unlock()
	if len(transitions) != 1 || transitions[0] != StatusHealthy {
		t.Errorf("transitions = %v, want [Healthy]", transitions)
	}
}

func TestStartAndStopRunsBackgroundProbes(t *testing.T) {
	srv := newTestServer(http.StatusOK)
	defer srv.Close()

	c := NewChecker(10*time.Millisecond, time.Second, nil)
	c.AddBackend(Backend{Name: "users", BaseURL: srv.URL})
	c.Start()
	defer c.Stop()

	time.Sleep(30 * time.Millisecond)

	snap, ok := c.Snapshot("users")
	if !ok {
		t.Fatal("expected a snapshot to exist")
	}
	if snap.Status != StatusHealthy {
		t.Errorf("Status = %s, want Healthy", snap.Status)
	}
}
