package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/loykin/voicewatch/pkg/client"
)

func main() {
	root := buildRoot(os.Stdout)
	if err := root.Execute(); err != nil {
		var ec exitCodeError
		if !errors.As(err, &ec) {
			_, _ = fmt.Fprintln(os.Stderr, "error:", err)
			os.Exit(1)
		}
		os.Exit(ec.code)
	}
}

// exitCodeError ends the process with code without printing anything more.
type exitCodeError struct{ code int }

func (e exitCodeError) Error() string { return fmt.Sprintf("exit status %d", e.code) }

var errUnhealthy = exitCodeError{code: 1}

// GlobalFlags holds the persistent flags shared by every command.
type GlobalFlags struct {
	ConfigPath string
	Output     outputFormat
	APIUrl     string
	APITimeout time.Duration
	Token      string
	Insecure   bool
}

// command carries what every subcommand needs; out is swapped in tests.
type command struct {
	g   *GlobalFlags
	out io.Writer
}

func buildRoot(out io.Writer) *cobra.Command {
	g := &GlobalFlags{Output: outputTable}
	c := command{g: g, out: out}

	root := createRootCommand(g)
	root.SetOut(out)
	root.AddCommand(
		createServeCommand(c),
		createCheckCommand(c),
		createStatusCommand(c),
		createWatchCommand(c),
		createResetCommand(c),
		createCycleCommand(c),
		createTransitionsCommand(c),
		createHostCommand(c),
		createValidateCommand(c),
		createConfigCommand(c),
		createUnitCommand(c),
	)
	return root
}

func createRootCommand(g *GlobalFlags) *cobra.Command {
	root := &cobra.Command{
		Use:   "voicewatch",
		Short: "Health supervisor for a home voice-assistant stack",
		Long: `voicewatch probes the services of a voice-assistant stack (wake word, speech
to text, language model, text to speech, automation hub), restarts unhealthy ones
in dependency order and records every state transition.

Examples:
  voicewatch serve --config /etc/voicewatch/voicewatch.toml
  voicewatch check                  # one probe-only pass, exit 1 if unhealthy
  voicewatch check --repair         # one cycle with restarts
  voicewatch status -o json         # ask the running daemon
  voicewatch reset llm              # clear the failure budget of llm`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	pf := root.PersistentFlags()
	pf.StringVar(&g.ConfigPath, "config", "", "path to TOML or YAML config (defaults apply when empty)")
	pf.VarP(&g.Output, "output", "o", "output format: table, json or yaml")
	pf.AddFlagSet(apiFlagSet(g))
	return root
}

// apiFlagSet holds the flags of commands that talk to a running daemon.
func apiFlagSet(g *GlobalFlags) *pflag.FlagSet {
	fs := pflag.NewFlagSet("api", pflag.ContinueOnError)
	fs.StringVar(&g.APIUrl, "api-url", "", "daemon URL, e.g. http://127.0.0.1:8099/api (default from config)")
	fs.DurationVar(&g.APITimeout, "api-timeout", client.DefaultTimeout, "request timeout")
	fs.StringVar(&g.Token, "token", os.Getenv("VOICEWATCH_TOKEN"), "bearer token for reset and cycle (env VOICEWATCH_TOKEN)")
	fs.BoolVar(&g.Insecure, "insecure", false, "skip TLS certificate verification")
	return fs
}
