package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/lmittmann/tint"
	lj "gopkg.in/natefinch/lumberjack.v2"
)

// Default rotation constants
const (
	DefaultMaxSizeMB  = 10 // MB
	DefaultMaxBackups = 3  // number of backup files
	DefaultMaxAgeDays = 7  // days
)

const (
	FormatText = "text"
	FormatJSON = "json"
	FormatTint = "tint"
)

// Rotation follows lumberjack semantics; zero values select the defaults.
type Rotation struct {
	MaxSizeMB  int  `toml:"max_size_mb,omitempty" mapstructure:"max_size_mb"`
	MaxBackups int  `toml:"max_backups,omitempty" mapstructure:"max_backups"`
	MaxAgeDays int  `toml:"max_age_days,omitempty" mapstructure:"max_age_days"`
	Compress   bool `toml:"compress,omitempty" mapstructure:"compress"`
}

// Writer returns a rotating writer for path.
func (r Rotation) Writer(path string) *lj.Logger {
	return &lj.Logger{
		Filename:   path,
		MaxSize:    valOr(r.MaxSizeMB, DefaultMaxSizeMB),
		MaxBackups: valOr(r.MaxBackups, DefaultMaxBackups),
		MaxAge:     valOr(r.MaxAgeDays, DefaultMaxAgeDays),
		Compress:   r.Compress,
	}
}

// Config describes the daemon's own structured log.
// With File empty the log goes to stderr.
type Config struct {
	Level    string `toml:"level" mapstructure:"level"`
	Format   string `toml:"format" mapstructure:"format"`
	Color    bool   `toml:"color" mapstructure:"color"`
	Source   bool   `toml:"source,omitempty" mapstructure:"source"`
	File     string `toml:"file,omitempty" mapstructure:"file"`
	Rotation `mapstructure:",squash"`
}

// ParseLevel accepts debug, info, warn(ing) and error; empty means info.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
}

// NewSlogger builds a logger writing to w, or to the configured file when w is nil.
// The returned closer releases the file and is never nil.
func (c Config) NewSlogger(w io.Writer) (*slog.Logger, io.Closer, error) {
	lvl, err := ParseLevel(c.Level)
	if err != nil {
		return nil, nil, err
	}
	var closer io.Closer = io.NopCloser(nil)
	if w == nil {
		if c.File != "" {
			f := c.Rotation.Writer(c.File)
			w, closer = f, f
		} else {
			w = os.Stderr
		}
	}
	opts := &slog.HandlerOptions{Level: lvl, AddSource: c.Source}
	var h slog.Handler
	switch strings.ToLower(c.Format) {
	case "", FormatText:
		if c.Color && c.File == "" {
			h = NewColorTextHandler(w, opts)
		} else {
			h = slog.NewTextHandler(w, opts)
		}
	case FormatJSON:
		h = slog.NewJSONHandler(w, opts)
	case FormatTint:
		h = tint.NewHandler(w, &tint.Options{
			Level:      lvl,
			AddSource:  c.Source,
			TimeFormat: time.DateTime,
			NoColor:    !c.Color || c.File != "",
		})
	default:
		return nil, nil, fmt.Errorf("unknown log format %q", c.Format)
	}
	return slog.New(h), closer, nil
}

// Setup installs the configured logger as the process default.
func Setup(c Config) (io.Closer, error) {
	l, closer, err := c.NewSlogger(nil)
	if err != nil {
		return nil, err
	}
	slog.SetDefault(l)
	return closer, nil
}

func valOr(v int, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
