package probe

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/voicewatch/internal/registry"
	"github.com/loykin/voicewatch/internal/unit"
)

func endpointOf(t *testing.T, rawURL string, kind registry.ProbeKind, path string) *registry.Endpoint {
	t.Helper()
	host, portStr, err := net.SplitHostPort(rawURL[len("http://"):])
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)
	return &registry.Endpoint{Host: host, Port: port, Path: path, Kind: kind}
}

// closedPort returns a local port with nothing listening on it.
func closedPort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port
	require.NoError(t, l.Close())
	return port
}

func activeFake(units ...string) *unit.Fake {
	f := unit.NewFake()
	for _, u := range units {
		f.SetActive(u, true)
	}
	return f
}

func TestProbeHealthyHTTP(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/version" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = w.Write([]byte(`{"version":"0.3.0"}`))
	}))
	defer srv.Close()

	p := New(activeFake("ollama.service"), time.Second)
	res := p.Probe(context.Background(), registry.ServiceDescriptor{
		Name: "llm", Unit: "ollama.service",
		Endpoint: endpointOf(t, srv.URL, registry.KindHTTP, "/api/version"),
	})
	assert.True(t, res.Healthy(), "%+v", res)
	assert.Equal(t, ReasonNone, res.Reason)
	assert.False(t, res.CheckedAt.IsZero())
}

func TestProbeBadStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	p := New(activeFake("hass.service"), time.Second)
	res := p.Probe(context.Background(), registry.ServiceDescriptor{
		Name: "automation-hub", Unit: "hass.service",
		Endpoint: endpointOf(t, srv.URL, registry.KindHTTP, "/"),
	})
	assert.True(t, res.ProcessActive)
	assert.False(t, res.Reachable)
	assert.Equal(t, ReasonProbeBadStatus, res.Reason)
	assert.Contains(t, res.Detail, "503")
}

func TestProbeConnectionRefused(t *testing.T) {
	p := New(activeFake("wyoming-whisper.service"), time.Second)
	res := p.Probe(context.Background(), registry.ServiceDescriptor{
		Name: "stt", Unit: "wyoming-whisper.service",
		Endpoint: &registry.Endpoint{Host: "127.0.0.1", Port: closedPort(t), Kind: registry.KindTCP},
	})
	assert.True(t, res.ProcessActive)
	assert.False(t, res.Reachable)
	assert.Equal(t, ReasonProbeConnectionRefused, res.Reason)
}

func TestProbeTimeoutIsUnreachableNotError(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		<-release
	}))
	defer srv.Close()
	defer close(release)

	p := New(activeFake("slow.service"), 150*time.Millisecond)
	start := time.Now()
	res := p.Probe(context.Background(), registry.ServiceDescriptor{
		Name: "slow", Unit: "slow.service",
		Endpoint: endpointOf(t, srv.URL, registry.KindHTTP, "/"),
	})
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.False(t, res.Reachable)
	assert.Equal(t, ReasonProbeTimeout, res.Reason)
}

func TestProbeProcessStates(t *testing.T) {
	f := unit.NewFake()
	p := New(f, time.Second)
	d := registry.ServiceDescriptor{Name: "tts", Unit: "wyoming-piper.service"}

	res := p.Probe(context.Background(), d)
	assert.False(t, res.ProcessActive)
	assert.True(t, res.Reachable, "no endpoint means reachable")
	assert.Equal(t, ReasonUnitInactive, res.Reason)

	f.FailQuery("wyoming-piper.service", errors.New("dbus timeout"))
	res = p.Probe(context.Background(), d)
	assert.False(t, res.ProcessActive)
	assert.Equal(t, ReasonProcessManagerQueryFailed, res.Reason)
	assert.Contains(t, res.Detail, "dbus timeout")

	f.FailQuery("wyoming-piper.service", nil)
	f.SetActive("wyoming-piper.service", true)
	res = p.Probe(context.Background(), d)
	assert.True(t, res.Healthy())
}

func TestProbeReportsBothFailures(t *testing.T) {
	p := New(unit.NewFake(), time.Second)
	res := p.Probe(context.Background(), registry.ServiceDescriptor{
		Name: "wakeword", Unit: "wyoming-openwakeword.service",
		Endpoint: &registry.Endpoint{Host: "127.0.0.1", Port: closedPort(t), Kind: registry.KindTCP},
	})
	assert.Equal(t, ReasonUnitInactive, res.Reason)
	assert.Contains(t, res.Detail, "dial")
}

func TestProbeOpenAIModels(t *testing.T) {
	models := `{"object":"list","data":[{"id":"llama3.2","object":"model","created":1700000000,"owned_by":"library"}]}`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/models" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(models))
	}))
	defer srv.Close()

	p := New(activeFake("ollama.service"), 2*time.Second)
	d := registry.ServiceDescriptor{
		Name: "llm", Unit: "ollama.service",
		Endpoint: endpointOf(t, srv.URL, registry.KindOpenAI, ""),
	}
	res := p.Probe(context.Background(), d)
	assert.True(t, res.Healthy(), "%+v", res)

	d.Endpoint.Path = "/missing"
	res = p.Probe(context.Background(), d)
	assert.False(t, res.Reachable)
	assert.Equal(t, ReasonProbeBadStatus, res.Reason)
}

func TestClassify(t *testing.T) {
	assert.Equal(t, ReasonNone, classify(nil))
	assert.Equal(t, ReasonProbeTimeout, classify(context.DeadlineExceeded))
	assert.Equal(t, ReasonProbeUnreachable, classify(errors.New("no route")))
	assert.True(t, ReasonRestartCommandFailed.Alerting())
	assert.False(t, ReasonDependencyBlocked.Alerting())
}
