package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/loykin/voicewatch/internal/hostcheck"
	"github.com/loykin/voicewatch/internal/logger"
	"github.com/loykin/voicewatch/internal/probe"
	"github.com/loykin/voicewatch/internal/registry"
	"github.com/loykin/voicewatch/internal/supervisor"
	"github.com/loykin/voicewatch/internal/unit"
)

const (
	DefaultRestartGrace = 10 * time.Second
	DefaultListen       = "127.0.0.1:8099"
	DefaultBasePath     = "/api"
	DefaultHost         = "127.0.0.1"

	UnitsSystemd = "systemd"
	UnitsCommand = "command"
)

// Config is the top-level file structure. TOML is the default format; a .yaml or
// .yml extension selects YAML.
type Config struct {
	EnvFiles   []string         `toml:"env_files" mapstructure:"env_files"`
	Supervisor SupervisorConfig `toml:"supervisor" mapstructure:"supervisor"`
	Units      UnitsConfig      `toml:"units" mapstructure:"units"`
	Log        logger.Config    `toml:"log" mapstructure:"log"`
	Server     ServerConfig     `toml:"server" mapstructure:"server"`
	Metrics    MetricsConfig    `toml:"metrics" mapstructure:"metrics"`
	History    HistoryConfig    `toml:"history" mapstructure:"history"`
	Host       hostcheck.Config `toml:"host" mapstructure:"host"`
	Services   []ServiceConfig  `toml:"services" mapstructure:"services"`
}

type SupervisorConfig struct {
	Interval           time.Duration `toml:"interval" mapstructure:"interval"`
	Cooldown           time.Duration `toml:"cooldown" mapstructure:"cooldown"`
	MaxRestartAttempts int           `toml:"max_restart_attempts" mapstructure:"max_restart_attempts"`
	ProbeTimeout       time.Duration `toml:"probe_timeout" mapstructure:"probe_timeout"`
	RestartGrace       time.Duration `toml:"restart_grace" mapstructure:"restart_grace"`
}

// UnitsConfig selects the process manager. Kind "systemd" uses systemctl; kind
// "command" runs the templates with {unit} substituted.
type UnitsConfig struct {
	Kind      string        `toml:"kind" mapstructure:"kind"`
	Systemctl string        `toml:"systemctl" mapstructure:"systemctl"`
	User      bool          `toml:"user" mapstructure:"user"`
	Timeout   time.Duration `toml:"timeout" mapstructure:"timeout"`
	IsActive  string        `toml:"is_active,omitempty" mapstructure:"is_active"`
	Restart   string        `toml:"restart,omitempty" mapstructure:"restart"`
	Start     string        `toml:"start,omitempty" mapstructure:"start"`
	Stop      string        `toml:"stop,omitempty" mapstructure:"stop"`
}

// ServerConfig configures the status API. When Token is set, the mutating
// endpoints require "Authorization: Bearer <token>".
type ServerConfig struct {
	Enabled  bool      `toml:"enabled" mapstructure:"enabled"`
	Listen   string    `toml:"listen" mapstructure:"listen"`
	BasePath string    `toml:"base_path" mapstructure:"base_path"`
	Token    string    `toml:"-" mapstructure:"token"`
	TLS      TLSConfig `toml:"tls" mapstructure:"tls"`
}

type TLSConfig struct {
	CertFile   string `toml:"cert_file,omitempty" mapstructure:"cert_file"`
	KeyFile    string `toml:"key_file,omitempty" mapstructure:"key_file"`
	MinVersion string `toml:"min_version,omitempty" mapstructure:"min_version"`
}

func (t TLSConfig) Enabled() bool { return t.CertFile != "" && t.KeyFile != "" }

type MetricsConfig struct {
	Enabled bool `toml:"enabled" mapstructure:"enabled"`
}

// HistoryConfig lists transition log DSNs, see factory.NewSinkFromDSN.
type HistoryConfig struct {
	Sinks      []string        `toml:"sinks" mapstructure:"sinks"`
	RecentSize int             `toml:"recent_size" mapstructure:"recent_size"`
	Rotation   logger.Rotation `toml:"rotation" mapstructure:"rotation"`
}

type ServiceConfig struct {
	Name         string        `toml:"name" mapstructure:"name"`
	Unit         string        `toml:"unit" mapstructure:"unit"`
	Host         string        `toml:"host,omitempty" mapstructure:"host"`
	Port         int           `toml:"port,omitempty" mapstructure:"port"`
	Path         string        `toml:"path,omitempty" mapstructure:"path"`
	Kind         string        `toml:"kind,omitempty" mapstructure:"kind"`
	APIKey       string        `toml:"-" mapstructure:"api_key"`
	DependsOn    []string      `toml:"depends_on,omitempty" mapstructure:"depends_on"`
	RestartGrace time.Duration `toml:"restart_grace,omitempty" mapstructure:"restart_grace"`
}

// DefaultServices is the stack the installer sets up.
func DefaultServices() []ServiceConfig {
	return []ServiceConfig{
		{Name: "tts", Unit: "wyoming-piper.service", Port: 10200},
		{Name: "stt", Unit: "wyoming-whisper.service", Port: 10300},
		{Name: "wakeword", Unit: "wyoming-openwakeword.service", Port: 10400},
		{Name: "llm", Unit: "ollama.service", Port: 11434, Path: "/api/version", Kind: string(registry.KindHTTP)},
		{Name: "automation-hub", Unit: "home-assistant@homeassistant.service", Port: 8123, Path: "/", Kind: string(registry.KindHTTP), DependsOn: []string{"llm"}},
	}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("supervisor.interval", supervisor.DefaultInterval)
	v.SetDefault("supervisor.cooldown", supervisor.DefaultCooldown)
	v.SetDefault("supervisor.max_restart_attempts", supervisor.DefaultMaxRestartAttempts)
	v.SetDefault("supervisor.probe_timeout", probe.DefaultTimeout)
	v.SetDefault("supervisor.restart_grace", DefaultRestartGrace)
	v.SetDefault("units.kind", UnitsSystemd)
	v.SetDefault("units.timeout", unit.DefaultCommandTimeout)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", logger.FormatText)
	v.SetDefault("server.enabled", true)
	v.SetDefault("server.listen", DefaultListen)
	v.SetDefault("server.base_path", DefaultBasePath)
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("history.recent_size", supervisor.DefaultRecentSize)
	v.SetDefault("host.disk_path", hostcheck.DefaultDiskPath)
	v.SetDefault("host.disk_warn_percent", hostcheck.DefaultDiskWarnPct)
	v.SetDefault("host.memory_warn_percent", hostcheck.DefaultMemoryWarnPct)
	v.SetDefault("host.temperature_warn_celsius", hostcheck.DefaultTempWarnCelsius)
}

// Load reads path, or returns the defaults when path is empty. Unknown keys are
// rejected and ${VAR} references in services are expanded from env_files, then
// the process environment.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType(configType(path))
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	var c Config
	if err := v.UnmarshalExact(&c); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if len(c.Services) == 0 {
		c.Services = DefaultServices()
	}
	if path != "" {
		base := filepath.Dir(path)
		for i, f := range c.EnvFiles {
			if !filepath.IsAbs(f) {
				c.EnvFiles[i] = filepath.Join(base, f)
			}
		}
	}
	if err := c.expand(); err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func configType(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return "yaml"
	}
	return "toml"
}

// expand substitutes ${VAR} in unit, host, path and api_key values.
func (c *Config) expand() error {
	vars := map[string]string{}
	if len(c.EnvFiles) > 0 {
		m, err := godotenv.Read(c.EnvFiles...)
		if err != nil {
			return fmt.Errorf("read env files: %w", err)
		}
		vars = m
	}
	lookup := func(name string) (string, bool) {
		if v, ok := vars[name]; ok {
			return v, true
		}
		return os.LookupEnv(name)
	}
	token, err := expandVars(c.Server.Token, lookup)
	if err != nil {
		return fmt.Errorf("server.token: %w", err)
	}
	c.Server.Token = token
	for i := range c.Services {
		s := &c.Services[i]
		for _, field := range []*string{&s.Unit, &s.Host, &s.Path, &s.APIKey} {
			out, err := expandVars(*field, lookup)
			if err != nil {
				return fmt.Errorf("service %s: %w", s.Name, err)
			}
			*field = out
		}
	}
	return nil
}

func expandVars(s string, lookup func(string) (string, bool)) (string, error) {
	if !strings.Contains(s, "$") {
		return s, nil
	}
	var missing []string
	out := os.Expand(s, func(name string) string {
		v, ok := lookup(name)
		if !ok {
			missing = append(missing, name)
		}
		return v
	})
	if len(missing) > 0 {
		return "", fmt.Errorf("undefined variable %s", strings.Join(missing, ", "))
	}
	return out, nil
}

// Validate checks settings the registry does not cover.
func (c *Config) Validate() error {
	if c.Supervisor.Interval <= 0 {
		return errors.New("supervisor.interval must be positive")
	}
	if c.Supervisor.Cooldown <= 0 {
		return errors.New("supervisor.cooldown must be positive")
	}
	if c.Supervisor.MaxRestartAttempts <= 0 {
		return errors.New("supervisor.max_restart_attempts must be positive")
	}
	switch c.Units.Kind {
	case UnitsSystemd:
	case UnitsCommand:
		if c.Units.IsActive == "" || c.Units.Restart == "" {
			return errors.New("units.kind=command requires is_active and restart templates")
		}
	default:
		return fmt.Errorf("unknown units.kind %q", c.Units.Kind)
	}
	if _, err := logger.ParseLevel(c.Log.Level); err != nil {
		return err
	}
	if (c.Server.TLS.CertFile == "") != (c.Server.TLS.KeyFile == "") {
		return errors.New("server.tls requires both cert_file and key_file")
	}
	_, err := c.Registry()
	return err
}

// Descriptors converts the service entries. Services without a port have no
// network probe; kind defaults to http when a path is set, tcp otherwise.
func (c *Config) Descriptors() []registry.ServiceDescriptor {
	out := make([]registry.ServiceDescriptor, 0, len(c.Services))
	for _, s := range c.Services {
		d := registry.ServiceDescriptor{
			Name:         s.Name,
			Unit:         s.Unit,
			DependsOn:    append([]string(nil), s.DependsOn...),
			RestartGrace: s.RestartGrace,
		}
		if d.RestartGrace == 0 {
			d.RestartGrace = c.Supervisor.RestartGrace
		}
		if s.Port != 0 {
			e := &registry.Endpoint{Host: s.Host, Port: s.Port, Path: s.Path, Kind: registry.ProbeKind(strings.ToLower(s.Kind)), APIKey: s.APIKey}
			if e.Host == "" {
				e.Host = DefaultHost
			}
			if e.Kind == "" {
				e.Kind = registry.KindTCP
				if e.Path != "" {
					e.Kind = registry.KindHTTP
				}
			}
			d.Endpoint = e
		}
		out = append(out, d)
	}
	return out
}

// Registry builds the validated registry.
func (c *Config) Registry() (*registry.Registry, error) {
	r, err := registry.New(c.Descriptors())
	if err != nil {
		return nil, fmt.Errorf("services: %w", err)
	}
	return r, nil
}

// UnitManager builds the configured process manager.
func (c *Config) UnitManager() (unit.Manager, error) {
	switch c.Units.Kind {
	case UnitsSystemd, "":
		return unit.Systemctl{Path: c.Units.Systemctl, User: c.Units.User, Timeout: c.Units.Timeout}, nil
	case UnitsCommand:
		return unit.Command{
			IsActiveCmd: c.Units.IsActive,
			RestartCmd:  c.Units.Restart,
			StartCmd:    c.Units.Start,
			StopCmd:     c.Units.Stop,
			Timeout:     c.Units.Timeout,
		}, nil
	}
	return nil, fmt.Errorf("unknown units.kind %q", c.Units.Kind)
}

// SupervisorOptions maps the supervisor section; logger and sinks are left to the caller.
func (c *Config) SupervisorOptions() supervisor.Options {
	return supervisor.Options{
		Interval:           c.Supervisor.Interval,
		Cooldown:           c.Supervisor.Cooldown,
		MaxRestartAttempts: c.Supervisor.MaxRestartAttempts,
		RecentSize:         c.History.RecentSize,
	}
}

// Encode renders the effective configuration as TOML.
func (c *Config) Encode() ([]byte, error) {
	var buf bytes.Buffer
	enc := toml.NewEncoder(&buf)
	enc.Indent = "  "
	if err := enc.Encode(c); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
