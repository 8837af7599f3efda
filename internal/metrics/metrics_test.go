package metrics

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRegisterIdempotentAndCountersWork(t *testing.T) {
	regOK.Store(false)
	reg := prometheus.NewRegistry()
	if err := Register(reg); err != nil {
		t.Fatalf("first register: %v", err)
	}
	// idempotent: calling again should be no-op
	if err := Register(reg); err != nil {
		t.Fatalf("second register: %v", err)
	}

	ObserveProbe("stt", "ok", 0.02)
	ObserveProbe("stt", "probe_timeout", 5)
	IncRestart("stt", "recovered")
	RecordStateTransition("stt", "unhealthy", "restarting")
	SetCurrentState("stt", "healthy", []string{"healthy", "unhealthy"})
	SetHealthy("stt", true)
	ObserveCycle(1.5)
	SetHostUsage("disk_percent", 42)

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	wantNames := map[string]bool{
		"voicewatch_service_probes_total":              false,
		"voicewatch_service_probe_duration_seconds":    false,
		"voicewatch_service_restarts_total":            false,
		"voicewatch_service_state_transitions_total":   false,
		"voicewatch_service_current_state":             false,
		"voicewatch_service_healthy":                   false,
		"voicewatch_supervisor_cycle_duration_seconds": false,
		"voicewatch_host_usage":                        false,
	}
	for _, mf := range mfs {
		n := mf.GetName()
		if _, ok := wantNames[n]; ok {
			wantNames[n] = true
			if len(mf.GetMetric()) == 0 {
				t.Fatalf("metric %s has no samples", n)
			}
		}
	}
	for n, ok := range wantNames {
		if !ok {
			t.Fatalf("expected to find metric %s", n)
		}
	}
}

func TestCurrentStateIsOneHot(t *testing.T) {
	regOK.Store(false)
	if err := Register(prometheus.NewRegistry()); err != nil {
		t.Fatal(err)
	}
	all := []string{"healthy", "unhealthy", "failed"}
	SetCurrentState("llm", "unhealthy", all)
	SetCurrentState("llm", "failed", all)
	if v := testutil.ToFloat64(currentStates.WithLabelValues("llm", "failed")); v != 1 {
		t.Fatalf("failed gauge = %v, want 1", v)
	}
	if v := testutil.ToFloat64(currentStates.WithLabelValues("llm", "unhealthy")); v != 0 {
		t.Fatalf("unhealthy gauge = %v, want 0", v)
	}
}

func TestHandlerServesMetrics(t *testing.T) {
	// Reset regOK gate to allow registration in this test regardless of previous tests.
	regOK.Store(false)
	if err := Register(prometheus.DefaultRegisterer); err != nil {
		t.Fatal(err)
	}

	srv := httptest.NewServer(Handler())
	defer srv.Close()

	IncRestart("x", "recovered")

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != 200 {
		t.Fatalf("status: %d", resp.StatusCode)
	}
	b, _ := io.ReadAll(resp.Body)
	s := string(b)
	if !strings.Contains(s, "voicewatch_service_restarts_total") {
		t.Fatalf("metrics output missing restarts_total: %s", s[:min(200, len(s))])
	}
}

func TestConcurrentIncrements(t *testing.T) {
	reg := prometheus.NewRegistry()
	regOK.Store(false)
	if err := Register(reg); err != nil {
		t.Fatal(err)
	}
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ObserveProbe("c", "ok", 0.01)
			IncRestart("c", "recovered")
			SetHealthy("c", true)
		}()
	}
	wg.Wait()
	if _, err := reg.Gather(); err != nil {
		t.Fatalf("gather: %v", err)
	}
}

func TestMetricsBeforeRegister(t *testing.T) {
	originalState := regOK.Load()
	regOK.Store(false)
	defer regOK.Store(originalState)

	// These should be no-ops and not panic when called before Register
	ObserveProbe("test", "ok", 1)
	IncRestart("test", "recovered")
	RecordStateTransition("test", "healthy", "unhealthy")
	SetCurrentState("test", "healthy", []string{"healthy"})
	SetHealthy("test", false)
	ObserveCycle(1)
	SetHostUsage("memory_percent", 10)
}

func TestRegisterError(t *testing.T) {
	originalState := regOK.Load()
	regOK.Store(false)
	defer regOK.Store(originalState)

	err := Register(&errorRegisterer{})
	if err == nil {
		t.Fatal("Register should return error from failing registerer")
	}
	if err.Error() != "test registration error" {
		t.Fatalf("unexpected error: %v", err)
	}
}

type errorRegisterer struct{}

func (e *errorRegisterer) Register(prometheus.Collector) error {
	return errors.New("test registration error")
}

func (e *errorRegisterer) MustRegister(...prometheus.Collector) {}
func (e *errorRegisterer) Unregister(prometheus.Collector) bool { return false }
