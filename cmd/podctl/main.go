// Command podctl drives the sensor pod: one-shot inference and recording,
// peripherals, and the MQTT control plane daemon.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
)

const usage = `usage: podctl [-config FILE] [-log-level LEVEL] <command> [args]

commands:
  ai infer MODEL -s SOURCE [-o OUTFPATH] [-loop]
  led fl-on|fl-off
  display on|off
  camera front|rear record FPATH
  serve
  config
  runs [-n N] [-events RUN_ID]
`

// errUsage marks argument errors; main prints usage for them
var errUsage = errors.New("invalid arguments")

type command func(ctx context.Context, a *app, args []string) error

var commands = map[string]command{
	"ai":      runAI,
	"led":     runLED,
	"display": runDisplay,
	"camera":  runCamera,
	"serve":   runServe,
	"config":  runConfig,
	"runs":    runRuns,
}

func main() {
	os.Exit(run(os.Args[1:], os.Stderr))
}

func run(argv []string, stderr io.Writer) int {
	fs := flag.NewFlagSet("podctl", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() { fmt.Fprint(stderr, usage) }
	configPath := fs.String("config", "", "Path to configuration file")
	logLevel := fs.String("log-level", "", "Override logging.level (debug, info, warn, error)")
	if err := fs.Parse(argv); err != nil {
		return 2
	}

	args := fs.Args()
	if len(args) == 0 {
		fs.Usage()
		return 2
	}
	cmd, ok := commands[args[0]]
	if !ok {
		fmt.Fprintf(stderr, "podctl: unknown command %q\n", args[0])
		fs.Usage()
		return 2
	}

	a, err := newApp(*configPath, *logLevel)
	if err != nil {
		fmt.Fprintf(stderr, "podctl: %v\n", err)
		return 1
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := cmd(ctx, a, args[1:]); err != nil {
		if errors.Is(err, errUsage) {
			fmt.Fprintf(stderr, "podctl: %v\n", err)
			fs.Usage()
			return 2
		}
		a.logger.Error().Err(err).Str("command", args[0]).Msg("podctl: command failed")
		return 1
	}
	return 0
}

func usageErrorf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", errUsage, fmt.Sprintf(format, args...))
}
