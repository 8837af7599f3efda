package unit

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func requireUnix(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("requires Unix-like environment")
	}
}

// fakeSystemctl writes a script that records its arguments and answers is-active
// with success only for units named "up.service".
func fakeSystemctl(t *testing.T) (string, string) {
	t.Helper()
	dir := t.TempDir()
	logFile := filepath.Join(dir, "calls.log")
	script := `#!/bin/sh
echo "$@" >> "` + logFile + `"
for last; do :; done
case "$*" in
  *is-active*) [ "$last" = "up.service" ] && exit 0; exit 3 ;;
  *restart*broken.service) echo "Job for broken.service failed" >&2; exit 1 ;;
esac
exit 0
`
	path := filepath.Join(dir, "systemctl")
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))
	return path, logFile
}

func TestSystemctlIsActive(t *testing.T) {
	requireUnix(t)
	bin, _ := fakeSystemctl(t)
	s := Systemctl{Path: bin}

	ok, err := s.IsActive(context.Background(), "up.service")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.IsActive(context.Background(), "down.service")
	require.NoError(t, err, "non-zero exit means inactive, not an error")
	assert.False(t, ok)
}

func TestSystemctlMissingBinaryIsQueryError(t *testing.T) {
	requireUnix(t)
	s := Systemctl{Path: filepath.Join(t.TempDir(), "nope")}
	ok, err := s.IsActive(context.Background(), "up.service")
	assert.False(t, ok)
	assert.Error(t, err)
}

func TestSystemctlRestartAndUserMode(t *testing.T) {
	requireUnix(t)
	bin, logFile := fakeSystemctl(t)
	s := Systemctl{Path: bin, User: true}

	require.NoError(t, s.Restart(context.Background(), "ok.service"))
	require.NoError(t, s.Start(context.Background(), "ok.service"))
	require.NoError(t, s.Stop(context.Background(), "ok.service"))

	err := s.Restart(context.Background(), "broken.service")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Job for broken.service failed")

	b, err := os.ReadFile(logFile)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(b)), "\n")
	require.Len(t, lines, 4)
	assert.Equal(t, "--user restart ok.service", lines[0])
	assert.Equal(t, "--user start ok.service", lines[1])
	assert.Equal(t, "--user stop ok.service", lines[2])
	assert.Equal(t, "systemd (user)", s.Describe())
}

func TestSystemctlTimeout(t *testing.T) {
	requireUnix(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "systemctl")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\nsleep 5\n"), 0o755))
	s := Systemctl{Path: path, Timeout: 100 * time.Millisecond}

	start := time.Now()
	ok, err := s.IsActive(context.Background(), "x.service")
	assert.False(t, ok)
	assert.Error(t, err)
	assert.Less(t, time.Since(start), 3*time.Second)
}

func TestCommandManager(t *testing.T) {
	requireUnix(t)
	c := Command{
		IsActiveCmd: "test {unit} = alive",
		RestartCmd:  "sh -c 'exit 2'",
		StartCmd:    "true",
	}
	ok, err := c.IsActive(context.Background(), "alive")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = c.IsActive(context.Background(), "dead")
	require.NoError(t, err)
	assert.False(t, ok)

	assert.Error(t, c.Restart(context.Background(), "alive"))
	assert.NoError(t, c.Start(context.Background(), "alive"))
	assert.Error(t, c.Stop(context.Background(), "alive"), "unconfigured stop must fail")

	_, err = Command{}.IsActive(context.Background(), "x")
	assert.Error(t, err)
}

func TestBuildShellAwareCommand(t *testing.T) {
	requireUnix(t)
	ctx := context.Background()
	c := buildShellAwareCommand(ctx, "")
	assert.Contains(t, c.String(), "/bin/true")

	c = buildShellAwareCommand(ctx, "rc-service ollama status")
	assert.Equal(t, []string{"rc-service", "ollama", "status"}, c.Args)

	c = buildShellAwareCommand(ctx, "pgrep ollama | head -1")
	require.GreaterOrEqual(t, len(c.Args), 2)
	assert.Equal(t, "/bin/sh", c.Args[0])
	assert.Equal(t, "-c", c.Args[1])
}

func TestFake(t *testing.T) {
	f := NewFake()
	ctx := context.Background()

	ok, err := f.IsActive(ctx, "a")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, f.Restart(ctx, "a"))
	ok, _ = f.IsActive(ctx, "a")
	assert.True(t, ok)

	f.FailQuery("a", errors.New("bus down"))
	_, err = f.IsActive(ctx, "a")
	assert.Error(t, err)

	f.OnRestart = func(*Fake, string) error { return errors.New("denied") }
	assert.Error(t, f.Restart(ctx, "b"))

	assert.Equal(t, 3, f.Calls("is-active", "a"))
	assert.Equal(t, 2, f.TotalCalls("restart"))
}
