package registry

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func svc(name string, deps ...string) ServiceDescriptor {
	return ServiceDescriptor{Name: name, Unit: name + ".service", DependsOn: deps}
}

func TestNewOrdersByDependency(t *testing.T) {
	r, err := New([]ServiceDescriptor{
		svc("automation-hub", "llm", "stt"),
		svc("stt"),
		svc("llm"),
		svc("tts"),
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"stt", "llm", "tts", "automation-hub"}, r.Names())

	levels := r.Levels()
	require.Len(t, levels, 2)
	assert.Len(t, levels[0], 3)
	require.Len(t, levels[1], 1)
	assert.Equal(t, "automation-hub", levels[1][0].Name)
}

func TestNewChainLevels(t *testing.T) {
	r, err := New([]ServiceDescriptor{svc("c", "b"), svc("b", "a"), svc("a")})
	require.NoError(t, err)
	levels := r.Levels()
	require.Len(t, levels, 3)
	for i, want := range []string{"a", "b", "c"} {
		require.Len(t, levels[i], 1)
		assert.Equal(t, want, levels[i][0].Name)
	}
	assert.Equal(t, []string{"b"}, r.Dependents("a"))
}

func TestNewRejectsCycles(t *testing.T) {
	_, err := New([]ServiceDescriptor{svc("a", "b"), svc("b", "c"), svc("c", "a")})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrCycle), "got %v", err)

	_, err = New([]ServiceDescriptor{svc("self", "self")})
	assert.True(t, errors.Is(err, ErrCycle), "got %v", err)
}

func TestNewRejectsMalformedEntries(t *testing.T) {
	cases := map[string][]ServiceDescriptor{
		"unknown dependency": {svc("a", "ghost")},
		"duplicate name":     {svc("a"), svc("a")},
		"empty name":         {{Unit: "x.service"}},
		"missing unit":       {{Name: "a"}},
		"negative grace":     {{Name: "a", Unit: "a", RestartGrace: -time.Second}},
		"bad port":           {{Name: "a", Unit: "a", Endpoint: &Endpoint{Host: "localhost", Port: 70000, Kind: KindTCP}}},
		"missing host":       {{Name: "a", Unit: "a", Endpoint: &Endpoint{Port: 80, Kind: KindTCP}}},
		"unknown kind":       {{Name: "a", Unit: "a", Endpoint: &Endpoint{Host: "h", Port: 80, Kind: "udp"}}},
		"http without path":  {{Name: "a", Unit: "a", Endpoint: &Endpoint{Host: "h", Port: 80, Kind: KindHTTP}}},
		"repeated dep":       {svc("a"), svc("b", "a", "a")},
	}
	for name, descs := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := New(descs)
			assert.Error(t, err)
		})
	}
	_, err := New([]ServiceDescriptor{svc("a", "ghost")})
	assert.True(t, errors.Is(err, ErrUnknownDependency))
}

func TestRegistryReturnsCopies(t *testing.T) {
	in := []ServiceDescriptor{
		{Name: "llm", Unit: "ollama.service", Endpoint: &Endpoint{Host: "127.0.0.1", Port: 11434, Path: "/api/version", Kind: KindHTTP}},
		svc("hub", "llm"),
	}
	r, err := New(in)
	require.NoError(t, err)

	in[0].Endpoint.Port = 1
	in[1].DependsOn[0] = "mutated"

	got, ok := r.Get("llm")
	require.True(t, ok)
	assert.Equal(t, 11434, got.Endpoint.Port)
	got.Endpoint.Port = 2

	again, _ := r.Get("llm")
	assert.Equal(t, 11434, again.Endpoint.Port)
	hub, _ := r.Get("hub")
	assert.Equal(t, []string{"llm"}, hub.DependsOn)

	_, ok = r.Get("missing")
	assert.False(t, ok)
}

func TestEndpointURL(t *testing.T) {
	e := Endpoint{Host: "localhost", Port: 8123, Path: "api/", Kind: KindHTTP}
	assert.Equal(t, "http://localhost:8123/api/", e.URL())
	assert.Equal(t, "localhost:8123", e.Address())
	assert.Equal(t, "", Endpoint{Host: "h", Port: 1}.URL())
}
