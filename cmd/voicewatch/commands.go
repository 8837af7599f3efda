package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/loykin/voicewatch"
	"github.com/loykin/voicewatch/internal/logger"
	"github.com/loykin/voicewatch/pkg/client"
)

func (c command) loadConfig() (*voicewatch.Config, error) {
	cfg, err := voicewatch.LoadConfig(c.g.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

// apiClient builds a daemon client from --api-url or the config's server section.
func (c command) apiClient() (*client.Client, error) {
	url, token := c.g.APIUrl, c.g.Token
	if url == "" || token == "" {
		cfg, err := c.loadConfig()
		if err != nil {
			return nil, err
		}
		if url == "" {
			scheme := "http"
			if cfg.Server.TLS.Enabled() {
				scheme = "https"
			}
			url = fmt.Sprintf("%s://%s%s", scheme, cfg.Server.Listen, cfg.Server.BasePath)
		}
		if token == "" {
			token = cfg.Server.Token
		}
	}
	return client.New(client.Config{
		BaseURL:  url,
		Token:    token,
		Timeout:  c.g.APITimeout,
		Insecure: c.g.Insecure,
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
}

func (c command) ctx() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// Check runs one local pass without a daemon. The process manager is queried
// directly, so restarts with --repair need the matching privileges.
func (c command) Check(f CheckFlags) error {
	cfg, err := c.loadConfig()
	if err != nil {
		return err
	}
	cfg.Metrics.Enabled = false
	cfg.History.Sinks = nil
	if lvl, _ := logger.ParseLevel(cfg.Log.Level); lvl < slog.LevelWarn && lvl > slog.LevelDebug {
		// transitions are printed below; keep stderr for problems
		cfg.Log.Level = "warn"
	}
	log, closer, err := cfg.Log.NewSlogger(os.Stderr)
	if err != nil {
		return err
	}
	defer func() { _ = closer.Close() }()

	w, err := voicewatch.New(cfg, voicewatch.Options{Logger: log})
	if err != nil {
		return err
	}
	defer func() { _ = w.Close() }()

	ctx, cancel := c.ctx()
	defer cancel()
	if f.Repair {
		w.RunCycle(ctx)
	} else {
		w.Check(ctx)
	}

	type checkOutput struct {
		AllHealthy bool                   `json:"all_healthy" yaml:"all_healthy"`
		Services   []client.ServiceStatus `json:"services" yaml:"services"`
		Host       *client.HostReport     `json:"host,omitempty" yaml:"host,omitempty"`
	}
	out := checkOutput{AllHealthy: w.IsAllHealthy()}
	for _, s := range w.Report() {
		out.Services = append(out.Services, toClientStatus(s))
	}
	if f.Host {
		h := toClientHost(w.Host(ctx))
		out.Host = &h
	}
	err = c.render(out, func(tw io.Writer) {
		statusTable(out.Services)(tw)
		if out.Host != nil {
			_, _ = fmt.Fprintln(tw)
			hostTable(out.Host.Readings)(tw)
		}
	})
	if err != nil {
		return err
	}
	if !out.AllHealthy {
		return errUnhealthy
	}
	return nil
}

func (c command) Status(name string) error {
	api, err := c.apiClient()
	if err != nil {
		return err
	}
	ctx, cancel := c.ctx()
	defer cancel()
	if name != "" {
		s, err := api.Service(ctx, name)
		if err != nil {
			return err
		}
		if err := c.render(s, statusTable([]client.ServiceStatus{s})); err != nil {
			return err
		}
		if !s.Healthy() {
			return errUnhealthy
		}
		return nil
	}
	st, err := api.Status(ctx)
	if err != nil {
		return err
	}
	if err := c.render(st, statusTable(st.Services)); err != nil {
		return err
	}
	if !st.AllHealthy {
		return errUnhealthy
	}
	return nil
}

func (c command) Watch() error {
	api, err := c.apiClient()
	if err != nil {
		return err
	}
	ctx, cancel := c.ctx()
	defer cancel()
	return api.Watch(ctx, func(m client.WatchMessage) error {
		if m.Type == "snapshot" {
			return c.render(m.Statuses, statusTable(m.Statuses))
		}
		if m.Transition == nil {
			return nil
		}
		if c.g.Output != outputTable {
			return c.render(m.Transition, nil)
		}
		e := m.Transition
		_, err := fmt.Fprintf(c.out, "%s  %-16s %s -> %s  %s\n",
			e.OccurredAt.Local().Format(time.DateTime), e.Service, e.From, e.To, reasonText(e.Reason, e.Detail))
		return err
	})
}

func (c command) Reset(name string) error {
	api, err := c.apiClient()
	if err != nil {
		return err
	}
	ctx, cancel := c.ctx()
	defer cancel()
	if err := api.Reset(ctx, name); err != nil {
		return err
	}
	_, _ = fmt.Fprintf(c.out, "reset %s\n", name)
	return nil
}

func (c command) Cycle() error {
	api, err := c.apiClient()
	if err != nil {
		return err
	}
	ctx, cancel := c.ctx()
	defer cancel()
	if err := api.Cycle(ctx); err != nil {
		return err
	}
	_, _ = fmt.Fprintln(c.out, "cycle requested")
	return nil
}

func (c command) Transitions(f TransitionsFlags) error {
	api, err := c.apiClient()
	if err != nil {
		return err
	}
	ctx, cancel := c.ctx()
	defer cancel()
	events, err := api.Transitions(ctx, f.Limit, f.Service)
	if err != nil {
		return err
	}
	return c.render(events, transitionsTable(events))
}

func (c command) Host() error {
	api, err := c.apiClient()
	if err != nil {
		return err
	}
	ctx, cancel := c.ctx()
	defer cancel()
	rep, err := api.Host(ctx)
	if err != nil {
		return err
	}
	return c.render(rep, hostTable(rep.Readings))
}

func (c command) Validate() error {
	cfg, err := c.loadConfig()
	if err != nil {
		return err
	}
	src := c.g.ConfigPath
	if src == "" {
		src = "built-in defaults"
	}
	_, _ = fmt.Fprintf(c.out, "%s: ok (%d services)\n", src, len(cfg.Services))
	return nil
}

func (c command) ConfigInit(f ConfigInitFlags) error {
	if f.Path == "" || f.Path == "-" {
		_, err := io.WriteString(c.out, voicewatch.SampleConfig())
		return err
	}
	if _, err := os.Stat(f.Path); err == nil && !f.Force {
		return fmt.Errorf("%s exists; use --force to overwrite", f.Path)
	}
	if err := os.MkdirAll(filepath.Dir(f.Path), 0o750); err != nil {
		return err
	}
	if err := os.WriteFile(f.Path, []byte(voicewatch.SampleConfig()), 0o600); err != nil {
		return err
	}
	_, _ = fmt.Fprintf(c.out, "wrote %s\n", f.Path)
	return nil
}

func (c command) ConfigShow() error {
	cfg, err := c.loadConfig()
	if err != nil {
		return err
	}
	b, err := cfg.Encode()
	if err != nil {
		return err
	}
	_, err = c.out.Write(b)
	return err
}

// Unit runs verb against the unit of service, or against service itself when
// no configured service has that name.
func (c command) Unit(verb, service string) error {
	cfg, err := c.loadConfig()
	if err != nil {
		return err
	}
	units, err := cfg.UnitManager()
	if err != nil {
		return err
	}
	name := service
	for _, s := range cfg.Services {
		if s.Name == service {
			name = s.Unit
			break
		}
	}
	ctx, cancel := c.ctx()
	defer cancel()

	switch verb {
	case "active":
		active, err := units.IsActive(ctx, name)
		if err != nil {
			return err
		}
		_, _ = fmt.Fprintf(c.out, "%s: %s\n", name, map[bool]string{true: "active", false: "inactive"}[active])
		if !active {
			return errUnhealthy
		}
		return nil
	case "start":
		err = units.Start(ctx, name)
	case "stop":
		err = units.Stop(ctx, name)
	case "restart":
		err = units.Restart(ctx, name)
	default:
		return fmt.Errorf("unknown verb %q", verb)
	}
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintf(c.out, "%s %s: ok\n", verb, name)
	return nil
}

// Serve runs the daemon in the foreground until SIGINT or SIGTERM.
func (c command) Serve(f ServeFlags) error {
	cfg, err := c.loadConfig()
	if err != nil {
		return err
	}
	if f.Daemonize {
		return daemonize(f.PidFile, f.LogFile)
	}
	if f.LogFile != "" {
		cfg.Log.File = f.LogFile
	}
	closer, err := logger.Setup(cfg.Log)
	if err != nil {
		return err
	}
	defer func() { _ = closer.Close() }()
	if f.PidFile != "" {
		if err := writePidFile(f.PidFile, os.Getpid()); err != nil {
			return fmt.Errorf("write pid file: %w", err)
		}
		defer func() { _ = removePidFile(f.PidFile) }()
	}

	w, err := voicewatch.New(cfg, voicewatch.Options{Logger: slog.Default()})
	if err != nil {
		return err
	}
	defer func() {
		if err := w.Close(); err != nil {
			slog.Warn("close sinks", "error", err)
		}
	}()

	ctx, cancel := c.ctx()
	defer cancel()
	if err := w.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	slog.Info("voicewatch stopped")
	return nil
}

// --- cobra wiring ---

func createServeCommand(c command) *cobra.Command {
	f := &ServeFlags{}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the supervisor daemon",
		Long: `Run the supervision loop, host checks and the status API until SIGINT or SIGTERM.
A cycle in flight at shutdown completes before the process exits.`,
		Args: cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error { return c.Serve(*f) },
	}
	cmd.Flags().BoolVar(&f.Daemonize, "daemonize", false, "run in the background")
	cmd.Flags().StringVar(&f.PidFile, "pidfile", "", "write the daemon PID to this file")
	cmd.Flags().StringVar(&f.LogFile, "logfile", "", "log to this file (rotated) instead of stderr")
	return cmd
}

func createCheckCommand(c command) *cobra.Command {
	f := &CheckFlags{}
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Probe every service once without a daemon",
		Long: `Probe every service once, in dependency order, and print the result.
Exit status is 0 when all services are healthy and 1 otherwise.
With --repair unhealthy services are restarted as the daemon would.`,
		Args: cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error { return c.Check(*f) },
	}
	cmd.Flags().BoolVar(&f.Repair, "repair", false, "restart unhealthy services")
	cmd.Flags().BoolVar(&f.Host, "host", false, "include disk, memory and temperature readings")
	return cmd
}

func createStatusCommand(c command) *cobra.Command {
	return &cobra.Command{
		Use:   "status [service]",
		Short: "Show service states from the running daemon",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			name := ""
			if len(args) == 1 {
				name = args[0]
			}
			return c.Status(name)
		},
	}
}

func createWatchCommand(c command) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Stream state transitions from the running daemon",
		Args:  cobra.NoArgs,
		RunE:  func(*cobra.Command, []string) error { return c.Watch() },
	}
}

func createResetCommand(c command) *cobra.Command {
	return &cobra.Command{
		Use:   "reset <service>",
		Short: "Clear a service's failure budget so it is restarted again",
		Args:  cobra.ExactArgs(1),
		RunE:  func(_ *cobra.Command, args []string) error { return c.Reset(args[0]) },
	}
}

func createCycleCommand(c command) *cobra.Command {
	return &cobra.Command{
		Use:   "cycle",
		Short: "Ask the daemon for an immediate supervision cycle",
		Args:  cobra.NoArgs,
		RunE:  func(*cobra.Command, []string) error { return c.Cycle() },
	}
}

func createTransitionsCommand(c command) *cobra.Command {
	f := &TransitionsFlags{}
	cmd := &cobra.Command{
		Use:   "transitions",
		Short: "List recent state transitions, newest first",
		Args:  cobra.NoArgs,
		RunE:  func(*cobra.Command, []string) error { return c.Transitions(*f) },
	}
	cmd.Flags().IntVarP(&f.Limit, "limit", "n", 20, "maximum number of transitions")
	cmd.Flags().StringVar(&f.Service, "service", "", "only this service")
	return cmd
}

func createHostCommand(c command) *cobra.Command {
	return &cobra.Command{
		Use:   "host",
		Short: "Show the daemon host's disk, memory and temperature",
		Args:  cobra.NoArgs,
		RunE:  func(*cobra.Command, []string) error { return c.Host() },
	}
}

func createValidateCommand(c command) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Load and validate the configuration",
		Args:  cobra.NoArgs,
		RunE:  func(*cobra.Command, []string) error { return c.Validate() },
	}
}

func createConfigCommand(c command) *cobra.Command {
	cmd := &cobra.Command{Use: "config", Short: "Configuration helpers"}

	f := &ConfigInitFlags{}
	initCmd := &cobra.Command{
		Use:   "init [path]",
		Short: "Write a commented default configuration (stdout when no path)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			if len(args) == 1 {
				f.Path = args[0]
			}
			return c.ConfigInit(*f)
		},
	}
	initCmd.Flags().BoolVar(&f.Force, "force", false, "overwrite an existing file")

	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration as TOML (secrets omitted)",
		Args:  cobra.NoArgs,
		RunE:  func(*cobra.Command, []string) error { return c.ConfigShow() },
	}
	cmd.AddCommand(initCmd, showCmd)
	return cmd
}

func createUnitCommand(c command) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "unit",
		Short: "Control a service's unit through the configured process manager",
	}
	for _, verb := range []struct{ name, short string }{
		{"start", "Start the unit"},
		{"stop", "Stop the unit"},
		{"restart", "Restart the unit"},
		{"active", "Report whether the unit is active (exit 1 if not)"},
	} {
		cmd.AddCommand(&cobra.Command{
			Use:   verb.name + " <service|unit>",
			Short: verb.short,
			Args:  cobra.ExactArgs(1),
			RunE:  func(_ *cobra.Command, args []string) error { return c.Unit(verb.name, args[0]) },
		})
	}
	return cmd
}
