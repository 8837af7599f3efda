package supervisor

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/loykin/voicewatch/internal/history"
	"github.com/loykin/voicewatch/internal/metrics"
	"github.com/loykin/voicewatch/internal/probe"
)

const (
	DefaultRecentSize = 256
	sinkQueueSize     = 512
	sinkSendTimeout   = 10 * time.Second
	watcherBuffer     = 32
)

// Reporter fans every state transition out to the structured log, metrics, the
// configured sinks, an in-memory ring and live watchers. It never fails: sink
// errors are logged and dropped.
type Reporter struct {
	log   *slog.Logger
	sinks []history.Sink

	queue chan history.Event
	done  chan struct{}

	mu       sync.Mutex
	closed   bool
	ring     []history.Event
	next     int
	full     bool
	watchers map[int]chan history.Event
	watchID  int
}

// NewReporter starts the sink dispatcher. ringSize <= 0 selects DefaultRecentSize.
func NewReporter(log *slog.Logger, sinks []history.Sink, ringSize int) *Reporter {
	if log == nil {
		log = slog.Default()
	}
	if ringSize <= 0 {
		ringSize = DefaultRecentSize
	}
	r := &Reporter{
		log:      log,
		sinks:    append([]history.Sink(nil), sinks...),
		queue:    make(chan history.Event, sinkQueueSize),
		done:     make(chan struct{}),
		ring:     make([]history.Event, ringSize),
		watchers: make(map[int]chan history.Event),
	}
	go r.dispatch()
	return r
}

// Record publishes one transition.
func (r *Reporter) Record(e history.Event) {
	r.logTransition(e)
	metrics.RecordStateTransition(e.Service, e.From, e.To)
	metrics.SetCurrentState(e.Service, e.To, stateNames())

	r.mu.Lock()
	defer r.mu.Unlock()
	r.ring[r.next] = e
	r.next = (r.next + 1) % len(r.ring)
	if r.next == 0 {
		r.full = true
	}
	for _, ch := range r.watchers {
		select {
		case ch <- e:
		default:
			// slow watcher; it will see the state on its next status poll
		}
	}
	if r.closed || len(r.sinks) == 0 {
		return
	}
	select {
	case r.queue <- e:
	default:
		r.log.Warn("transition sink queue full, event dropped", "service", e.Service, "to", e.To)
	}
}

func (r *Reporter) logTransition(e history.Event) {
	lvl := slog.LevelInfo
	switch {
	case e.To == string(StateFailed), probe.Reason(e.Reason).Alerting():
		lvl = slog.LevelError
	case e.To == string(StateBlocked), e.To == string(StateUnhealthy):
		lvl = slog.LevelWarn
	}
	attrs := []any{
		"service", e.Service,
		"from", e.From,
		"to", e.To,
		"restart_count", e.RestartCount,
		"consecutive_failures", e.ConsecutiveFailures,
	}
	if e.Reason != "" {
		attrs = append(attrs, "reason", e.Reason)
	}
	if e.Detail != "" {
		attrs = append(attrs, "detail", e.Detail)
	}
	r.log.Log(context.Background(), lvl, "service state changed", attrs...)
}

func (r *Reporter) dispatch() {
	defer close(r.done)
	for e := range r.queue {
		for _, s := range r.sinks {
			ctx, cancel := context.WithTimeout(context.Background(), sinkSendTimeout)
			if err := s.Send(ctx, e); err != nil {
				r.log.Warn("transition sink failed", "service", e.Service, "error", err)
			}
			cancel()
		}
	}
}

// Recent returns up to n transitions, newest first. n <= 0 returns all retained.
func (r *Reporter) Recent(n int) []history.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	size := r.next
	if r.full {
		size = len(r.ring)
	}
	if n <= 0 || n > size {
		n = size
	}
	out := make([]history.Event, 0, n)
	for i := 1; i <= n; i++ {
		out = append(out, r.ring[(r.next-i+len(r.ring))%len(r.ring)])
	}
	return out
}

// Subscribe returns a channel receiving every subsequent transition and a func
// that cancels the subscription and closes the channel.
func (r *Reporter) Subscribe() (<-chan history.Event, func()) {
	ch := make(chan history.Event, watcherBuffer)
	r.mu.Lock()
	id := r.watchID
	r.watchID++
	if r.closed {
		close(ch)
		r.mu.Unlock()
		return ch, func() {}
	}
	r.watchers[id] = ch
	r.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			r.mu.Lock()
			if c, ok := r.watchers[id]; ok {
				delete(r.watchers, id)
				close(c)
			}
			r.mu.Unlock()
		})
	}
}

// Close flushes queued events to the sinks and ends all subscriptions.
// Sinks themselves are owned by the caller.
func (r *Reporter) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	close(r.queue)
	for id, ch := range r.watchers {
		delete(r.watchers, id)
		close(ch)
	}
	r.mu.Unlock()
	<-r.done
}
