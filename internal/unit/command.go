package unit

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"runtime"
	"strings"
	"time"
)

// Command drives units through operator-supplied command templates, for init systems
// other than systemd (OpenRC, runit, supervisord...). "{unit}" in a template is
// replaced with the unit name.
//
//	IsActiveCmd: "rc-service {unit} status"
//	RestartCmd:  "rc-service {unit} restart"
type Command struct {
	IsActiveCmd string
	RestartCmd  string
	StartCmd    string
	StopCmd     string
	Timeout     time.Duration
}

func (c Command) IsActive(ctx context.Context, unit string) (bool, error) {
	if c.IsActiveCmd == "" {
		return false, errors.New("is_active command not configured")
	}
	ctx, cancel := withTimeout(ctx, c.Timeout)
	defer cancel()
	cmd := buildShellAwareCommand(ctx, expand(c.IsActiveCmd, unit))
	err := cmd.Run()
	if err == nil {
		return true, nil
	}
	if ctx.Err() != nil {
		return false, ctx.Err()
	}
	var ee *exec.ExitError
	if errors.As(err, &ee) {
		return false, nil
	}
	return false, err
}

func (c Command) Restart(ctx context.Context, unit string) error {
	return c.run(ctx, "restart", c.RestartCmd, unit)
}

func (c Command) Start(ctx context.Context, unit string) error {
	return c.run(ctx, "start", c.StartCmd, unit)
}

func (c Command) Stop(ctx context.Context, unit string) error {
	return c.run(ctx, "stop", c.StopCmd, unit)
}

func (c Command) Describe() string { return "cmd:" + c.IsActiveCmd }

func (c Command) run(ctx context.Context, verb, tmpl, unit string) error {
	if tmpl == "" {
		return fmt.Errorf("%s command not configured", verb)
	}
	ctx, cancel := withTimeout(ctx, c.Timeout)
	defer cancel()
	cmd := buildShellAwareCommand(ctx, expand(tmpl, unit))
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(out.String()); msg != "" {
			return fmt.Errorf("%s %s: %w: %s", verb, unit, err, msg)
		}
		return fmt.Errorf("%s %s: %w", verb, unit, err)
	}
	return nil
}

func expand(tmpl, unit string) string {
	return strings.ReplaceAll(tmpl, "{unit}", unit)
}

// buildShellAwareCommand avoids invoking a shell unless obvious shell metacharacters
// are present (G204 mitigation).
func buildShellAwareCommand(ctx context.Context, cmdStr string) *exec.Cmd {
	cmdStr = strings.TrimSpace(cmdStr)
	if cmdStr == "" {
		return trueCommand(ctx)
	}
	if strings.ContainsAny(cmdStr, "|&;<>*?`$\"'(){}[]~") {
		return shellCommand(ctx, cmdStr)
	}
	parts := strings.Fields(cmdStr)
	// #nosec G204
	return exec.CommandContext(ctx, parts[0], parts[1:]...)
}

func shellCommand(ctx context.Context, script string) *exec.Cmd {
	if runtime.GOOS == "windows" {
		// #nosec G204
		return exec.CommandContext(ctx, "cmd", "/C", script)
	}
	// #nosec G204
	return exec.CommandContext(ctx, "/bin/sh", "-c", script)
}

func trueCommand(ctx context.Context) *exec.Cmd {
	if runtime.GOOS == "windows" {
		return exec.CommandContext(ctx, "cmd", "/C", "exit 0")
	}
	return exec.CommandContext(ctx, "/bin/true")
}
