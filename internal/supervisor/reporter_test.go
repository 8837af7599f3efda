package supervisor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/voicewatch/internal/history"
)

type memSink struct {
	mu     sync.Mutex
	events []history.Event
}

func (m *memSink) Send(_ context.Context, e history.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, e)
	return nil
}

func (m *memSink) all() []history.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]history.Event(nil), m.events...)
}

type errSink struct{}

func (errSink) Send(context.Context, history.Event) error { return errors.New("disk full") }

func ev(i int) history.Event {
	return history.Event{Service: fmt.Sprintf("svc%d", i), From: "unknown", To: "healthy", OccurredAt: time.Now()}
}

func TestReporterRecentRing(t *testing.T) {
	r := NewReporter(slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)), nil, 3)
	defer r.Close()

	assert.Empty(t, r.Recent(10))
	for i := 0; i < 5; i++ {
		r.Record(ev(i))
	}
	got := r.Recent(0)
	require.Len(t, got, 3)
	assert.Equal(t, "svc4", got[0].Service)
	assert.Equal(t, "svc2", got[2].Service)

	got = r.Recent(1)
	require.Len(t, got, 1)
	assert.Equal(t, "svc4", got[0].Service)
}

func TestReporterSeverity(t *testing.T) {
	var buf bytes.Buffer
	r := NewReporter(slog.New(slog.NewTextHandler(&buf, nil)), nil, 0)
	defer r.Close()

	r.Record(history.Event{Service: "a", From: "restarting", To: "failed", Reason: "probe_timeout"})
	r.Record(history.Event{Service: "b", From: "unhealthy", To: "blocked", Reason: "dependency_blocked"})
	r.Record(history.Event{Service: "c", From: "restarting", To: "healthy"})

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[0], "level=ERROR")
	assert.Contains(t, lines[1], "level=WARN")
	assert.Contains(t, lines[2], "level=INFO")
	assert.NotContains(t, lines[2], "reason=")
}

func TestReporterSinksAndErrorsSwallowed(t *testing.T) {
	var buf syncBuffer
	good := &memSink{}
	r := NewReporter(slog.New(slog.NewTextHandler(&buf, nil)), []history.Sink{errSink{}, good}, 0)
	for i := 0; i < 4; i++ {
		r.Record(ev(i))
	}
	r.Close()
	r.Close()

	assert.Len(t, good.all(), 4)
	assert.Contains(t, buf.String(), "disk full")

	// recording after close still updates the ring and never panics
	r.Record(ev(9))
	assert.Equal(t, "svc9", r.Recent(1)[0].Service)
}

func TestReporterSubscribe(t *testing.T) {
	r := NewReporter(slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)), nil, 0)
	ch, cancel := r.Subscribe()
	r.Record(ev(1))

	select {
	case e := <-ch:
		assert.Equal(t, "svc1", e.Service)
	case <-time.After(time.Second):
		t.Fatal("no event delivered")
	}

	cancel()
	cancel()
	_, open := <-ch
	assert.False(t, open)

	ch2, _ := r.Subscribe()
	r.Close()
	_, open = <-ch2
	assert.False(t, open, "close ends subscriptions")

	ch3, _ := r.Subscribe()
	_, open = <-ch3
	assert.False(t, open, "subscribing after close yields a closed channel")
}
