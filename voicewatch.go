// Package voicewatch supervises the services of a home voice-assistant stack:
// it probes each one, restarts unhealthy ones in dependency order, and reports
// state transitions. It can run standalone (cmd/voicewatch) or embedded.
package voicewatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	cfg "github.com/loykin/voicewatch/internal/config"
	"github.com/loykin/voicewatch/internal/history"
	"github.com/loykin/voicewatch/internal/history/factory"
	"github.com/loykin/voicewatch/internal/hostcheck"
	"github.com/loykin/voicewatch/internal/metrics"
	"github.com/loykin/voicewatch/internal/probe"
	"github.com/loykin/voicewatch/internal/registry"
	iapi "github.com/loykin/voicewatch/internal/server"
	"github.com/loykin/voicewatch/internal/supervisor"
	"github.com/loykin/voicewatch/internal/unit"
)

// Re-export core types for external consumers.

type Config = cfg.Config

type ServiceConfig = cfg.ServiceConfig

type ServiceDescriptor = registry.ServiceDescriptor

type Status = supervisor.Status

type State = supervisor.State

type Transition = history.Event

type HistorySink = history.Sink

type HostReport = hostcheck.Report

// UnitManager controls process-manager units; see NewFakeUnits for tests.
type UnitManager = unit.Manager

type FakeUnits = unit.Fake

const (
	StateUnknown    = supervisor.StateUnknown
	StateHealthy    = supervisor.StateHealthy
	StateUnhealthy  = supervisor.StateUnhealthy
	StateRestarting = supervisor.StateRestarting
	StateBlocked    = supervisor.StateBlocked
	StateFailed     = supervisor.StateFailed
)

var ErrUnknownService = supervisor.ErrUnknownService

func LoadConfig(path string) (*Config, error) { return cfg.Load(path) }

// DefaultConfig returns the built-in configuration with the default service set.
func DefaultConfig() (*Config, error) { return cfg.Load("") }

func SampleConfig() string { return cfg.Sample() }

func NewFakeUnits() *FakeUnits { return unit.NewFake() }

// Options overrides parts of what Config would build.
type Options struct {
	Logger *slog.Logger
	Units  UnitManager   // default: from Config.Units
	Sinks  []HistorySink // appended to the sinks named in Config.History
	// Sleep replaces the restart grace wait; tests pass a no-op.
	Sleep func(ctx context.Context, d time.Duration)
}

// Watcher is the embeddable supervisor with its status surface.
type Watcher struct {
	cfg   *Config
	units unit.Manager
	sup   *supervisor.Supervisor
	host  *hostcheck.Checker
	sinks []history.Sink
	log   *slog.Logger
}

// New wires a Watcher from c. Sinks named in c are opened here and closed by Close.
func New(c *Config, o Options) (*Watcher, error) {
	if c == nil {
		var err error
		if c, err = DefaultConfig(); err != nil {
			return nil, err
		}
	}
	log := o.Logger
	if log == nil {
		log = slog.Default()
	}
	reg, err := c.Registry()
	if err != nil {
		return nil, err
	}
	units := o.Units
	if units == nil {
		if units, err = c.UnitManager(); err != nil {
			return nil, err
		}
	}
	if c.Metrics.Enabled {
		if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
			return nil, fmt.Errorf("register metrics: %w", err)
		}
	}

	var owned []history.Sink
	for _, dsn := range c.History.Sinks {
		s, err := factory.NewSinkFromDSN(dsn, c.History.Rotation)
		if err != nil {
			history.CloseAll(owned)
			return nil, fmt.Errorf("history sink %q: %w", dsn, err)
		}
		owned = append(owned, s)
	}

	opts := c.SupervisorOptions()
	opts.Logger = log
	opts.Sinks = append(append([]history.Sink(nil), owned...), o.Sinks...)
	opts.Sleep = o.Sleep

	w := &Watcher{
		cfg:   c,
		units: units,
		sup:   supervisor.New(reg, probe.New(units, c.Supervisor.ProbeTimeout), units, opts),
		host:  hostcheck.New(c.Host),
		sinks: owned,
		log:   log,
	}
	log.Debug("voicewatch configured", "services", reg.Names(), "units", units.Describe(), "sinks", len(opts.Sinks))
	return w, nil
}

func (w *Watcher) Config() *Config   { return w.cfg }
func (w *Watcher) Units() UnitManager { return w.units }

func (w *Watcher) Run(ctx context.Context) error { return w.sup.Run(ctx) }
func (w *Watcher) RunCycle(ctx context.Context)  { w.sup.RunCycle(ctx) }
func (w *Watcher) Check(ctx context.Context) []Status {
	return w.sup.Check(ctx)
}
func (w *Watcher) Trigger()                        { w.sup.Trigger() }
func (w *Watcher) Reset(name string) error         { return w.sup.Reset(name) }
func (w *Watcher) Report() []Status                { return w.sup.Report() }
func (w *Watcher) Get(name string) (Status, bool)  { return w.sup.Get(name) }
func (w *Watcher) IsAllHealthy() bool              { return w.sup.IsAllHealthy() }
func (w *Watcher) Cycles() uint64                  { return w.sup.Cycles() }
func (w *Watcher) Recent(n int) []Transition       { return w.sup.Reporter().Recent(n) }
func (w *Watcher) Host(ctx context.Context) HostReport {
	return w.host.Run(ctx)
}

// Subscribe streams transitions until cancel is called or the Watcher closes.
func (w *Watcher) Subscribe() (<-chan Transition, func()) { return w.sup.Reporter().Subscribe() }

// Handler returns the status API mounted at basePath, honoring the token and
// metrics settings of the config. Use it to embed the API in another server.
func (w *Watcher) Handler(basePath string) http.Handler {
	return iapi.NewRouter(w.sup, basePath,
		iapi.WithHostChecker(w.host),
		iapi.WithToken(w.cfg.Server.Token),
		iapi.WithMetrics(w.cfg.Metrics.Enabled),
		iapi.WithLogger(w.log),
	).Handler()
}

// Serve runs the supervision loop, the host checks and, when enabled, the
// status server until ctx ends. The cycle in flight when ctx ends completes.
func (w *Watcher) Serve(ctx context.Context) error {
	var srv *http.Server
	if w.cfg.Server.Enabled {
		tlsConf, err := iapi.TLSConfig(w.cfg.Server.TLS.CertFile, w.cfg.Server.TLS.KeyFile, w.cfg.Server.TLS.MinVersion)
		if err != nil {
			return err
		}
		srv, err = iapi.Start(w.cfg.Server.Listen, w.Handler(w.cfg.Server.BasePath), tlsConf, w.log)
		if err != nil {
			return fmt.Errorf("listen %s: %w", w.cfg.Server.Listen, err)
		}
	}

	go w.watchHost(ctx)
	err := w.sup.Run(ctx)

	if srv != nil {
		if serr := iapi.Shutdown(srv, 5*time.Second); serr != nil {
			w.log.Warn("status server shutdown", "error", serr)
		}
	}
	return err
}

// watchHost samples host resources once per supervision interval and logs
// readings over their threshold. It never affects service states.
func (w *Watcher) watchHost(ctx context.Context) {
	t := time.NewTicker(w.sup.Options().Interval)
	defer t.Stop()
	for {
		rctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		rep := w.host.Run(rctx)
		cancel()
		for _, r := range rep.Warnings() {
			w.log.Warn("host resource over threshold", "check", r.Check, "value", r.Value, "threshold", r.Threshold, "detail", r.Detail)
		}
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
}

// Close flushes pending transitions and closes the sinks opened by New.
func (w *Watcher) Close() error {
	w.sup.Close()
	var errs []error
	for _, s := range w.sinks {
		if c, ok := s.(interface{ Close() error }); ok {
			errs = append(errs, c.Close())
		}
	}
	return errors.Join(errs...)
}

// RegisterMetrics registers the collectors with r.
func RegisterMetrics(r prometheus.Registerer) error { return metrics.Register(r) }

func MetricsHandler() http.Handler { return metrics.Handler() }
