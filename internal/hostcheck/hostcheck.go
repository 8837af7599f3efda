// Package hostcheck reads disk, memory and CPU temperature of the host the
// assistant stack runs on, and optionally checks outbound internet access.
// Readings above their threshold are warnings only.
package hostcheck

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/mem"
	"github.com/shirou/gopsutil/v4/sensors"

	"github.com/loykin/voicewatch/internal/metrics"
)

const (
	DefaultDiskPath        = "/"
	DefaultDiskWarnPct     = 90.0
	DefaultMemoryWarnPct   = 90.0
	DefaultTempWarnCelsius = 80.0
	DefaultLatencyWarnMs   = 2000.0
	connectivityTimeout    = 5 * time.Second
)

// Check names, also used as metric labels.
const (
	CheckDisk        = "disk_percent"
	CheckMemory      = "memory_percent"
	CheckTemperature = "cpu_temperature_celsius"
	CheckInternet    = "internet_latency_ms"
)

type Config struct {
	DiskPath        string  `toml:"disk_path" mapstructure:"disk_path" json:"disk_path"`
	DiskWarnPct     float64 `toml:"disk_warn_percent" mapstructure:"disk_warn_percent" json:"disk_warn_percent"`
	MemoryWarnPct   float64 `toml:"memory_warn_percent" mapstructure:"memory_warn_percent" json:"memory_warn_percent"`
	TempWarnCelsius float64 `toml:"temperature_warn_celsius" mapstructure:"temperature_warn_celsius" json:"temperature_warn_celsius"`
	// ConnectivityURL, when set, is fetched on every run; any answer other than
	// 2xx within 5s is a warning. Empty disables the check.
	ConnectivityURL string  `toml:"connectivity_url,omitempty" mapstructure:"connectivity_url" json:"connectivity_url,omitempty"`
	LatencyWarnMs   float64 `toml:"latency_warn_ms,omitempty" mapstructure:"latency_warn_ms" json:"latency_warn_ms,omitempty"`
}

func (c Config) withDefaults() Config {
	if c.DiskPath == "" {
		c.DiskPath = DefaultDiskPath
	}
	if c.DiskWarnPct <= 0 {
		c.DiskWarnPct = DefaultDiskWarnPct
	}
	if c.MemoryWarnPct <= 0 {
		c.MemoryWarnPct = DefaultMemoryWarnPct
	}
	if c.TempWarnCelsius <= 0 {
		c.TempWarnCelsius = DefaultTempWarnCelsius
	}
	if c.LatencyWarnMs <= 0 {
		c.LatencyWarnMs = DefaultLatencyWarnMs
	}
	return c
}

// Reading is one host measurement. Available is false when the host does not
// expose the value (no sensors in a VM, for example); Error says why.
type Reading struct {
	Check     string  `json:"check" yaml:"check"`
	Value     float64 `json:"value" yaml:"value"`
	Threshold float64 `json:"threshold" yaml:"threshold"`
	Warn      bool    `json:"warn" yaml:"warn"`
	Available bool    `json:"available" yaml:"available"`
	Detail    string  `json:"detail,omitempty" yaml:"detail,omitempty"`
	Error     string  `json:"error,omitempty" yaml:"error,omitempty"`
}

type Report struct {
	CheckedAt time.Time `json:"checked_at" yaml:"checked_at"`
	Readings  []Reading `json:"readings" yaml:"readings"`
}

// Warnings returns the readings over their threshold.
func (r Report) Warnings() []Reading {
	var out []Reading
	for _, x := range r.Readings {
		if x.Warn {
			out = append(out, x)
		}
	}
	return out
}

// Checker samples the host. The source functions are swappable for tests.
type Checker struct {
	cfg Config

	diskUsage    func(ctx context.Context, path string) (*disk.UsageStat, error)
	virtualMem   func(ctx context.Context) (*mem.VirtualMemoryStat, error)
	temperatures func(ctx context.Context) ([]sensors.TemperatureStat, error)
	fetch        func(ctx context.Context, url string) (int, error)
}

func New(cfg Config) *Checker {
	return &Checker{
		cfg:          cfg.withDefaults(),
		diskUsage:    disk.UsageWithContext,
		virtualMem:   mem.VirtualMemoryWithContext,
		temperatures: sensors.TemperaturesWithContext,
		fetch:        httpStatus,
	}
}

func httpStatus(ctx context.Context, url string) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return 0, err
	}
	_ = resp.Body.Close()
	return resp.StatusCode, nil
}

func (c *Checker) Config() Config { return c.cfg }

// Run takes one sample of every check and updates the host gauges.
func (c *Checker) Run(ctx context.Context) Report {
	rep := Report{CheckedAt: time.Now()}

	d := Reading{Check: CheckDisk, Threshold: c.cfg.DiskWarnPct, Detail: c.cfg.DiskPath}
	if u, err := c.diskUsage(ctx, c.cfg.DiskPath); err != nil {
		d.Error = err.Error()
	} else {
		d.Available = true
		d.Value = u.UsedPercent
		d.Detail = fmt.Sprintf("%s %s/%s used", c.cfg.DiskPath, humanBytes(u.Used), humanBytes(u.Total))
	}
	rep.Readings = append(rep.Readings, finish(d))

	m := Reading{Check: CheckMemory, Threshold: c.cfg.MemoryWarnPct}
	if v, err := c.virtualMem(ctx); err != nil {
		m.Error = err.Error()
	} else {
		m.Available = true
		m.Value = v.UsedPercent
		m.Detail = fmt.Sprintf("%s/%s used", humanBytes(v.Used), humanBytes(v.Total))
	}
	rep.Readings = append(rep.Readings, finish(m))

	t := Reading{Check: CheckTemperature, Threshold: c.cfg.TempWarnCelsius}
	temps, err := c.temperatures(ctx)
	if key, val, ok := hottestCPU(temps); ok {
		// partial sensor errors are common; a usable reading wins
		t.Available = true
		t.Value = val
		t.Detail = key
	} else if err != nil {
		t.Error = err.Error()
	} else {
		t.Error = "no temperature sensors"
	}
	rep.Readings = append(rep.Readings, finish(t))

	if c.cfg.ConnectivityURL != "" {
		rep.Readings = append(rep.Readings, c.connectivity(ctx))
	}
	return rep
}

// connectivity times one GET of the configured URL. Failures are readings with
// Warn set, not unavailable checks: no internet is exactly what it reports.
func (c *Checker) connectivity(ctx context.Context) Reading {
	r := Reading{Check: CheckInternet, Threshold: c.cfg.LatencyWarnMs, Detail: c.cfg.ConnectivityURL, Available: true}
	ctx, cancel := context.WithTimeout(ctx, connectivityTimeout)
	defer cancel()
	start := time.Now()
	code, err := c.fetch(ctx, c.cfg.ConnectivityURL)
	r.Value = float64(time.Since(start).Microseconds()) / 1000
	switch {
	case err != nil:
		r.Warn = true
		r.Error = err.Error()
		return r
	case code < 200 || code > 299:
		r.Warn = true
		r.Error = fmt.Sprintf("limited connectivity: status %d", code)
		return r
	}
	return finish(r)
}

func finish(r Reading) Reading {
	if r.Available {
		r.Warn = r.Value >= r.Threshold
		metrics.SetHostUsage(r.Check, r.Value)
	}
	return r
}

// hottestCPU prefers CPU package/core sensors and falls back to any sensor.
func hottestCPU(temps []sensors.TemperatureStat) (string, float64, bool) {
	var (
		bestKey string
		best    float64
		found   bool
		cpuOnly bool
	)
	for _, t := range temps {
		if t.Temperature <= 0 {
			continue
		}
		isCPU := isCPUSensor(t.SensorKey)
		switch {
		case !found, isCPU && !cpuOnly, isCPU == cpuOnly && t.Temperature > best:
			bestKey, best, found, cpuOnly = t.SensorKey, t.Temperature, true, isCPU
		}
	}
	return bestKey, best, found
}

func isCPUSensor(key string) bool {
	k := strings.ToLower(key)
	for _, p := range []string{"coretemp", "k10temp", "cpu", "package", "soc_thermal", "x86_pkg_temp"} {
		if strings.Contains(k, p) {
			return true
		}
	}
	return false
}

func humanBytes(b uint64) string {
	const unit = 1024
	if b < unit {
		return fmt.Sprintf("%dB", b)
	}
	div, exp := uint64(unit), 0
	for n := b / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f%ciB", float64(b)/float64(div), "KMGTPE"[exp])
}
