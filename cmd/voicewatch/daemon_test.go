package main

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPidFile(t *testing.T) {
	pidFile := filepath.Join(t.TempDir(), "voicewatch.pid")
	require.NoError(t, writePidFile(pidFile, os.Getpid()))

	b, err := os.ReadFile(pidFile)
	require.NoError(t, err)
	assert.Equal(t, strconv.Itoa(os.Getpid()), string(b))

	require.NoError(t, removePidFile(pidFile))
	_, err = os.Stat(pidFile)
	assert.True(t, os.IsNotExist(err))
	assert.NoError(t, removePidFile(""))
}

func TestChildArgs(t *testing.T) {
	got := childArgs(
		[]string{"serve", "--config", "/etc/vw.toml", "--daemonize", "--pidfile", "/old.pid", "--logfile=/old.log"},
		"/run/vw.pid", "/var/log/vw.log")
	assert.Equal(t, []string{
		"serve", "--config", "/etc/vw.toml",
		"--pidfile", "/run/vw.pid", "--logfile", "/var/log/vw.log",
	}, got)

	assert.Equal(t, []string{"serve"}, childArgs([]string{"serve", "--daemonize=true"}, "", ""))
}
