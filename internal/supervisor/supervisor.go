package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/loykin/voicewatch/internal/history"
	"github.com/loykin/voicewatch/internal/metrics"
	"github.com/loykin/voicewatch/internal/probe"
	"github.com/loykin/voicewatch/internal/registry"
	"github.com/loykin/voicewatch/internal/unit"
)

const (
	DefaultInterval           = 5 * time.Minute
	DefaultCooldown           = 30 * time.Minute
	DefaultMaxRestartAttempts = 3
)

var (
	ErrUnknownService = errors.New("unknown service")
	ErrAlreadyRunning = errors.New("supervisor already running")
)

// Prober checks one service. It must not panic or block past its own timeout;
// the supervisor recovers panics anyway.
type Prober interface {
	Probe(ctx context.Context, d registry.ServiceDescriptor) probe.Result
}

// Options tune the loop. Non-positive durations and counts select the defaults;
// config validation rejects them before they get here.
type Options struct {
	Interval           time.Duration
	Cooldown           time.Duration
	MaxRestartAttempts int
	RecentSize         int
	Logger             *slog.Logger
	Sinks              []history.Sink

	// Now and Sleep replace the clock in tests. Sleep returns early when ctx ends.
	Now   func() time.Time
	Sleep func(ctx context.Context, d time.Duration)
}

func (o Options) withDefaults() Options {
	if o.Interval <= 0 {
		o.Interval = DefaultInterval
	}
	if o.Cooldown <= 0 {
		o.Cooldown = DefaultCooldown
	}
	if o.MaxRestartAttempts <= 0 {
		o.MaxRestartAttempts = DefaultMaxRestartAttempts
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.Sleep == nil {
		o.Sleep = sleepCtx
	}
	return o
}

func sleepCtx(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// Supervisor owns the status table. Cycles are serialized; only the goroutine
// running a cycle writes the table, and readers see published snapshots.
type Supervisor struct {
	reg    *registry.Registry
	prober Prober
	units  unit.Manager
	opts   Options
	log    *slog.Logger
	rep    *Reporter

	cycleMu sync.Mutex
	table   map[string]*Status
	cycles  uint64

	snap    atomic.Pointer[snapshot]
	running atomic.Bool

	resetMu sync.Mutex
	resets  map[string]struct{}
	wake    chan struct{}
	trigger chan struct{}
}

func New(reg *registry.Registry, prober Prober, units unit.Manager, opts Options) *Supervisor {
	opts = opts.withDefaults()
	s := &Supervisor{
		reg:     reg,
		prober:  prober,
		units:   units,
		opts:    opts,
		log:     opts.Logger.With("component", "supervisor"),
		rep:     NewReporter(opts.Logger, opts.Sinks, opts.RecentSize),
		table:   make(map[string]*Status, reg.Len()),
		resets:  make(map[string]struct{}),
		wake:    make(chan struct{}, 1),
		trigger: make(chan struct{}, 1),
	}
	for _, d := range reg.Services() {
		s.table[d.Name] = &Status{Name: d.Name, Unit: d.Unit, State: StateUnknown}
		metrics.SetCurrentState(d.Name, string(StateUnknown), stateNames())
	}
	s.publish(time.Time{})
	return s
}

func (s *Supervisor) Registry() *registry.Registry { return s.reg }
func (s *Supervisor) Reporter() *Reporter          { return s.rep }
func (s *Supervisor) Options() Options             { return s.opts }

// Close flushes pending transitions to the sinks.
func (s *Supervisor) Close() { s.rep.Close() }

// Run executes a cycle immediately and then every Interval until ctx ends.
// A cycle in flight when ctx ends runs to completion; no further cycle starts.
func (s *Supervisor) Run(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer s.running.Store(false)

	s.log.Info("supervisor started",
		"services", s.reg.Len(),
		"interval", s.opts.Interval,
		"cooldown", s.opts.Cooldown,
		"max_restart_attempts", s.opts.MaxRestartAttempts)

	var anchor time.Time
	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			s.log.Info("supervisor stopped", "cycles", s.Cycles())
			return nil
		case <-s.wake:
			s.cycleMu.Lock()
			if s.applyResets() {
				s.publish(s.lastCycleAt())
			}
			s.cycleMu.Unlock()
			continue
		case <-s.trigger:
			s.RunCycle(context.WithoutCancel(ctx))
			continue
		case <-timer.C:
		}
		if anchor.IsZero() {
			anchor = s.opts.Now()
		}
		s.RunCycle(context.WithoutCancel(ctx))
		timer.Reset(nextWait(anchor, s.opts.Now(), s.opts.Interval))
	}
}

// nextWait returns the time left until the next slot of the fixed schedule that
// started at anchor. Slots a long cycle ran over are skipped, not made up.
func nextWait(anchor, now time.Time, interval time.Duration) time.Duration {
	elapsed := now.Sub(anchor)
	if elapsed < 0 {
		return interval
	}
	return interval - elapsed%interval
}

// Trigger asks a running loop for an immediate cycle. It never blocks.
func (s *Supervisor) Trigger() {
	select {
	case s.trigger <- struct{}{}:
	default:
	}
}

// Reset clears the failure counter of name and returns it to unknown. The
// request is applied by the loop when idle, or at the start of the next cycle.
func (s *Supervisor) Reset(name string) error {
	if _, ok := s.reg.Get(name); !ok {
		return fmt.Errorf("%w: %s", ErrUnknownService, name)
	}
	s.resetMu.Lock()
	s.resets[name] = struct{}{}
	s.resetMu.Unlock()
	select {
	case s.wake <- struct{}{}:
	default:
	}
	return nil
}

// RunCycle probes every service level by level and restarts unhealthy ones.
func (s *Supervisor) RunCycle(ctx context.Context) {
	s.cycle(ctx, true)
}

// Check runs one probe-only cycle: states are updated, nothing is restarted.
func (s *Supervisor) Check(ctx context.Context) []Status {
	s.cycle(ctx, false)
	return s.Report()
}

func (s *Supervisor) cycle(ctx context.Context, repair bool) {
	s.cycleMu.Lock()
	defer s.cycleMu.Unlock()

	start := s.opts.Now()
	s.applyResets()
	restarts := 0
	for _, level := range s.reg.Levels() {
		restarts += s.runLevel(ctx, level, repair)
	}
	s.cycles++
	s.publish(start)

	elapsed := s.opts.Now().Sub(start)
	metrics.ObserveCycle(elapsed.Seconds())
	unhealthy := 0
	for _, st := range s.table {
		if st.State != StateHealthy {
			unhealthy++
		}
	}
	s.log.Debug("cycle complete",
		"cycle", s.cycles,
		"repair", repair,
		"unhealthy", unhealthy,
		"restarts", restarts,
		"duration", elapsed)
}

// runLevel probes a dependency level concurrently, decides, then runs the
// level's restarts concurrently. It returns the number of restarts issued.
func (s *Supervisor) runLevel(ctx context.Context, level []registry.ServiceDescriptor, repair bool) int {
	results := s.probeAll(ctx, level)

	var toRestart []registry.ServiceDescriptor
	for i, d := range level {
		if s.decide(d, results[i], repair) {
			toRestart = append(toRestart, d)
		}
	}
	if len(toRestart) == 0 {
		s.publish(s.lastCycleAt())
		return 0
	}

	now := s.opts.Now()
	for _, d := range toRestart {
		st := s.table[d.Name]
		t := now
		st.LastRestartAt = &t
		s.transition(st, StateRestarting, st.Reason, st.Detail)
	}
	s.publish(s.lastCycleAt())

	outcomes := make([]restartOutcome, len(toRestart))
	var wg sync.WaitGroup
	for i, d := range toRestart {
		wg.Add(1)
		go func(i int, d registry.ServiceDescriptor) {
			defer wg.Done()
			outcomes[i] = s.restart(ctx, d)
		}(i, d)
	}
	wg.Wait()

	for i, d := range toRestart {
		s.applyRestart(d, outcomes[i])
	}
	s.publish(s.lastCycleAt())
	return len(toRestart)
}

func (s *Supervisor) probeAll(ctx context.Context, level []registry.ServiceDescriptor) []probe.Result {
	results := make([]probe.Result, len(level))
	var wg sync.WaitGroup
	for i, d := range level {
		wg.Add(1)
		go func(i int, d registry.ServiceDescriptor) {
			defer wg.Done()
			results[i] = s.safeProbe(ctx, d)
		}(i, d)
	}
	wg.Wait()
	return results
}

func (s *Supervisor) safeProbe(ctx context.Context, d registry.ServiceDescriptor) (res probe.Result) {
	defer func() {
		if r := recover(); r != nil {
			res = probe.Result{
				Name:      d.Name,
				CheckedAt: s.opts.Now(),
				Reason:    probe.ReasonProbeUnreachable,
				Detail:    fmt.Sprintf("probe panic: %v", r),
			}
		}
		result := "ok"
		if !res.Healthy() {
			result = string(res.Reason)
		}
		metrics.ObserveProbe(d.Name, result, res.Duration.Seconds())
		metrics.SetHealthy(d.Name, res.Healthy())
	}()
	return s.prober.Probe(ctx, d)
}

// decide applies a probe result and reports whether a restart should be issued.
func (s *Supervisor) decide(d registry.ServiceDescriptor, res probe.Result, repair bool) bool {
	st := s.table[d.Name]
	observe(st, res)

	if res.Healthy() {
		st.ConsecutiveFailures = 0
	} else {
		t := res.CheckedAt
		st.LastFailureAt = &t
		if st.State == StateFailed && st.ConsecutiveFailures >= s.opts.MaxRestartAttempts {
			if until, cooling := s.coolingUntil(st); cooling {
				st.Reason = res.Reason
				st.Detail = fmt.Sprintf("%s; restarts suspended until %s", res.Detail, until.Format(time.RFC3339))
				return false
			}
		}
	}

	// A service is blocked while a dependency is down, whatever its own probe says.
	if deps := s.unhealthyDeps(d); len(deps) > 0 {
		if !res.Healthy() && st.State != StateBlocked {
			s.markUnhealthy(st, res)
		}
		s.transition(st, StateBlocked, probe.ReasonDependencyBlocked, "waiting for "+strings.Join(deps, ", "))
		return false
	}

	if res.Healthy() {
		s.transition(st, StateHealthy, probe.ReasonNone, "")
		return false
	}

	s.markUnhealthy(st, res)
	if !repair {
		return false
	}
	if st.State == StateFailed {
		// Retry of a failed service inside its attempt budget, or after cooldown.
		s.transition(st, StateUnhealthy, res.Reason, res.Detail)
	}
	return true
}

// markUnhealthy records the failure as unhealthy unless the service is already
// unhealthy, blocked or failed.
func (s *Supervisor) markUnhealthy(st *Status, res probe.Result) {
	switch st.State {
	case StateUnhealthy, StateFailed:
		st.Reason, st.Detail = res.Reason, res.Detail
	default:
		s.transition(st, StateUnhealthy, res.Reason, res.Detail)
	}
}

func (s *Supervisor) coolingUntil(st *Status) (time.Time, bool) {
	if st.LastRestartAt == nil {
		return time.Time{}, false
	}
	until := st.LastRestartAt.Add(s.opts.Cooldown)
	return until, s.opts.Now().Before(until)
}

// unhealthyDeps lists dependencies whose state in this cycle is not healthy.
// Lower levels have already been evaluated.
func (s *Supervisor) unhealthyDeps(d registry.ServiceDescriptor) []string {
	var out []string
	for _, dep := range d.DependsOn {
		if st, ok := s.table[dep]; !ok || st.State != StateHealthy {
			out = append(out, dep)
		}
	}
	return out
}

type restartOutcome struct {
	err    error
	result probe.Result
}

// restart issues the restart, waits the grace period and re-probes once.
func (s *Supervisor) restart(ctx context.Context, d registry.ServiceDescriptor) restartOutcome {
	s.log.Info("restarting service", "service", d.Name, "unit", d.Unit, "grace", d.RestartGrace)
	if err := s.units.Restart(ctx, d.Unit); err != nil {
		return restartOutcome{err: err}
	}
	s.opts.Sleep(ctx, d.RestartGrace)
	return restartOutcome{result: s.safeProbe(ctx, d)}
}

func (s *Supervisor) applyRestart(d registry.ServiceDescriptor, o restartOutcome) {
	st := s.table[d.Name]
	if o.err != nil {
		now := s.opts.Now()
		st.LastFailureAt = &now
		st.ConsecutiveFailures++
		metrics.IncRestart(d.Name, "command_failed")
		s.transition(st, StateFailed, probe.ReasonRestartCommandFailed, o.err.Error())
		s.warnDependents(d)
		return
	}
	observe(st, o.result)
	if o.result.Healthy() {
		st.RestartCount++
		st.ConsecutiveFailures = 0
		metrics.IncRestart(d.Name, "recovered")
		s.transition(st, StateHealthy, probe.ReasonNone, "")
		return
	}
	t := o.result.CheckedAt
	st.LastFailureAt = &t
	st.ConsecutiveFailures++
	metrics.IncRestart(d.Name, "still_unhealthy")
	s.transition(st, StateFailed, o.result.Reason, o.result.Detail)
	s.warnDependents(d)
}

func (s *Supervisor) warnDependents(d registry.ServiceDescriptor) {
	if deps := s.reg.Dependents(d.Name); len(deps) > 0 {
		s.log.Warn("dependents stay blocked", "service", d.Name, "dependents", deps)
	}
}

func observe(st *Status, res probe.Result) {
	st.LastCheckedAt = res.CheckedAt
	st.ProcessActive = res.ProcessActive
	st.Reachable = res.Reachable
}

func (s *Supervisor) transition(st *Status, to State, reason probe.Reason, detail string) {
	st.Reason, st.Detail = reason, detail
	if st.State == to {
		return
	}
	from := st.State
	st.State = to
	s.rep.Record(history.Event{
		Service:             st.Name,
		From:                string(from),
		To:                  string(to),
		Reason:              string(reason),
		Detail:              detail,
		OccurredAt:          s.opts.Now().UTC(),
		RestartCount:        st.RestartCount,
		ConsecutiveFailures: st.ConsecutiveFailures,
	})
}

// applyResets must be called with cycleMu held.
func (s *Supervisor) applyResets() bool {
	s.resetMu.Lock()
	names := s.resets
	s.resets = make(map[string]struct{})
	s.resetMu.Unlock()

	for _, d := range s.reg.Services() {
		if _, ok := names[d.Name]; !ok {
			continue
		}
		st := s.table[d.Name]
		st.ConsecutiveFailures = 0
		s.log.Info("operator reset", "service", d.Name, "previous_state", st.State)
		s.transition(st, StateUnknown, probe.ReasonNone, "operator reset")
	}
	return len(names) > 0
}

func (s *Supervisor) lastCycleAt() time.Time {
	if p := s.snap.Load(); p != nil {
		return p.cycleAt
	}
	return time.Time{}
}

// publish must be called with cycleMu held (or before the supervisor is shared).
func (s *Supervisor) publish(cycleAt time.Time) {
	snap := &snapshot{
		statuses: make([]Status, 0, len(s.table)),
		index:    make(map[string]int, len(s.table)),
		cycles:   s.cycles,
		cycleAt:  cycleAt,
	}
	for _, name := range s.reg.Names() {
		snap.index[name] = len(snap.statuses)
		snap.statuses = append(snap.statuses, s.table[name].clone())
	}
	s.snap.Store(snap)
}

// Report returns every service status in dependency order.
func (s *Supervisor) Report() []Status {
	p := s.snap.Load()
	out := make([]Status, len(p.statuses))
	for i, st := range p.statuses {
		out[i] = st.clone()
	}
	return out
}

// Get returns the status of one service.
func (s *Supervisor) Get(name string) (Status, bool) {
	p := s.snap.Load()
	i, ok := p.index[name]
	if !ok {
		return Status{}, false
	}
	return p.statuses[i].clone(), true
}

// IsAllHealthy is true when every service was healthy at its last probe.
// Services never probed count as not healthy.
func (s *Supervisor) IsAllHealthy() bool {
	for _, st := range s.snap.Load().statuses {
		if st.State != StateHealthy {
			return false
		}
	}
	return true
}

// Cycles returns the number of completed cycles.
func (s *Supervisor) Cycles() uint64 { return s.snap.Load().cycles }

// LastCycleAt returns when the last completed cycle started; zero before the first.
func (s *Supervisor) LastCycleAt() time.Time { return s.snap.Load().cycleAt }
