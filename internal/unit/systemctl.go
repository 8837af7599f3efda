package unit

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// Systemctl drives systemd units through the systemctl binary.
type Systemctl struct {
	Path    string        // systemctl binary, default "systemctl"
	User    bool          // pass --user
	Timeout time.Duration // per command, default DefaultCommandTimeout
}

func (s Systemctl) bin() string {
	if s.Path == "" {
		return "systemctl"
	}
	return s.Path
}

func (s Systemctl) args(verb string, extra ...string) []string {
	a := make([]string, 0, 4+len(extra))
	if s.User {
		a = append(a, "--user")
	}
	a = append(a, verb)
	return append(a, extra...)
}

func (s Systemctl) IsActive(ctx context.Context, unit string) (bool, error) {
	ctx, cancel := withTimeout(ctx, s.Timeout)
	defer cancel()
	// #nosec G204
	cmd := exec.CommandContext(ctx, s.bin(), s.args("is-active", "--quiet", unit)...)
	err := cmd.Run()
	if err == nil {
		return true, nil
	}
	if ctx.Err() != nil {
		return false, fmt.Errorf("systemctl is-active %s: %w", unit, ctx.Err())
	}
	var ee *exec.ExitError
	if errors.As(err, &ee) {
		// is-active exits non-zero for inactive, failed and unknown units alike
		return false, nil
	}
	return false, fmt.Errorf("systemctl is-active %s: %w", unit, err)
}

func (s Systemctl) Restart(ctx context.Context, unit string) error {
	return s.run(ctx, "restart", unit)
}

func (s Systemctl) Start(ctx context.Context, unit string) error {
	return s.run(ctx, "start", unit)
}

func (s Systemctl) Stop(ctx context.Context, unit string) error {
	return s.run(ctx, "stop", unit)
}

func (s Systemctl) Describe() string {
	if s.User {
		return "systemd (user)"
	}
	return "systemd"
}

func (s Systemctl) run(ctx context.Context, verb, unit string) error {
	ctx, cancel := withTimeout(ctx, s.Timeout)
	defer cancel()
	// #nosec G204
	cmd := exec.CommandContext(ctx, s.bin(), s.args(verb, unit)...)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(out.String())
		if msg != "" {
			return fmt.Errorf("systemctl %s %s: %w: %s", verb, unit, err, msg)
		}
		return fmt.Errorf("systemctl %s %s: %w", verb, unit, err)
	}
	return nil
}
