package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/e7canasta/sensorpod/internal/config"
	"github.com/e7canasta/sensorpod/internal/control"
	"github.com/e7canasta/sensorpod/internal/hardware"
	"github.com/e7canasta/sensorpod/internal/journal"
	"github.com/e7canasta/sensorpod/internal/logging"
	"github.com/e7canasta/sensorpod/modules/coprocessor"
	"github.com/e7canasta/sensorpod/modules/eventbus"
)

// displaySink is the default output of one-shot inference
const displaySink = "display"

const statsInterval = time.Minute

var stdout io.Writer = os.Stdout

// inferArgs are the parsed arguments of "ai infer"
type inferArgs struct {
	model  string
	source string
	output string
	loop   bool
}

func parseInfer(args []string) (inferArgs, error) {
	if len(args) == 0 || args[0] != "infer" {
		return inferArgs{}, usageErrorf("ai: expected subcommand infer")
	}
	args = args[1:]

	var ia inferArgs
	fs := flag.NewFlagSet("ai infer", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.StringVar(&ia.source, "s", "", "Input source: camera name, device, file or URL")
	fs.StringVar(&ia.output, "o", displaySink, "Output file, endpoint or display")
	fs.BoolVar(&ia.loop, "loop", false, "Restart the source when it ends")

	// MODEL may come before or after the flags
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		ia.model = args[0]
		args = args[1:]
	}
	if err := fs.Parse(args); err != nil {
		return inferArgs{}, usageErrorf("ai infer: %v", err)
	}
	if ia.model == "" {
		ia.model = fs.Arg(0)
	}
	if ia.model == "" {
		return inferArgs{}, usageErrorf("ai infer: MODEL is required")
	}
	if ia.source == "" {
		return inferArgs{}, usageErrorf("ai infer: -s SOURCE is required")
	}
	return ia, nil
}

func runAI(ctx context.Context, a *app, args []string) error {
	ia, err := parseInfer(args)
	if err != nil {
		return err
	}
	return a.session(ctx, ia.loop, func(c *coprocessor.Coprocessor) error {
		if err := c.SetSource(ia.source); err != nil {
			return err
		}
		if err := c.SetModel(ia.model); err != nil {
			return err
		}
		return c.SetSinks(ia.output)
	})
}

// recordArgs are the parsed arguments of "camera NAME record FPATH"
type recordArgs struct {
	camera string
	path   string
}

func parseRecord(args []string) (recordArgs, error) {
	if len(args) != 3 || args[1] != "record" {
		return recordArgs{}, usageErrorf("camera: expected front|rear record FPATH")
	}
	var camera string
	switch args[0] {
	case "front":
		camera = config.FrontCamera
	case "rear":
		camera = config.RearCamera
	default:
		return recordArgs{}, usageErrorf("camera: unknown camera %q", args[0])
	}
	return recordArgs{camera: camera, path: args[2]}, nil
}

func runCamera(ctx context.Context, a *app, args []string) error {
	ra, err := parseRecord(args)
	if err != nil {
		return err
	}
	mux, err := a.cameraMux(hardware.NewPins())
	if err != nil {
		return err
	}
	if err := mux.Select(ra.camera); err != nil {
		return err
	}
	return a.session(ctx, false, func(c *coprocessor.Coprocessor) error {
		if err := c.SetSource(ra.camera); err != nil {
			return err
		}
		return c.SetSinks(ra.path)
	})
}

// session builds a coprocessor, lets configure select its elements and plays
// it to the end, recording the run when a journal is configured
func (a *app) session(ctx context.Context, loop bool, configure func(*coprocessor.Coprocessor) error) error {
	engine, err := a.engine()
	if err != nil {
		return err
	}
	bus := eventbus.New()
	defer bus.Close()
	rec := a.startRecorder(bus)
	defer func() {
		if err := rec.Close(); err != nil {
			a.logger.Warn().Err(err).Msg("podctl: journal close failed")
		}
	}()

	c, err := a.coprocessor(engine, bus)
	if err != nil {
		return err
	}
	if err := configure(c); err != nil {
		return err
	}
	return a.runUntilDone(ctx, c, loop)
}

func parseSwitch(name string, args []string, on, off string) (bool, error) {
	if len(args) != 1 {
		return false, usageErrorf("%s: expected %s|%s", name, on, off)
	}
	switch args[0] {
	case on:
		return true, nil
	case off:
		return false, nil
	default:
		return false, usageErrorf("%s: unknown action %q", name, args[0])
	}
}

func runLED(_ context.Context, a *app, args []string) error {
	on, err := parseSwitch("led", args, "fl-on", "fl-off")
	if err != nil {
		return err
	}
	fl, err := a.flashlight(hardware.NewPins())
	if err != nil {
		return err
	}
	if on {
		return fl.TurnOn()
	}
	return fl.TurnOff()
}

func runDisplay(ctx context.Context, a *app, args []string) error {
	on, err := parseSwitch("display", args, "on", "off")
	if err != nil {
		return err
	}
	if on {
		return a.display().TurnOn(ctx)
	}
	return a.display().TurnOff(ctx)
}

// runServe runs the control plane until a signal or a shutdown command
func runServe(ctx context.Context, a *app, args []string) error {
	if len(args) != 0 {
		return usageErrorf("serve: unexpected arguments %v", args)
	}
	codec, err := control.CodecFor(a.cfg.MQTT.Encoding)
	if err != nil {
		return err
	}
	engine, err := a.engine()
	if err != nil {
		return err
	}

	bus := eventbus.New()
	defer bus.Close()
	rec := a.startRecorder(bus)
	defer func() {
		if err := rec.Close(); err != nil {
			a.logger.Warn().Err(err).Msg("podctl: journal close failed")
		}
	}()

	c, err := a.coprocessor(engine, bus)
	if err != nil {
		return err
	}

	transport, err := control.DialMQTT(a.cfg.MQTT, a.logger)
	if err != nil {
		return err
	}
	defer transport.Close()

	events := make(chan eventbus.Event, 32)
	if err := bus.Subscribe("control", events); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	opts := []control.Option{
		control.WithCodec(codec),
		control.WithLogger(a.logger),
		control.WithDisplay(a.display()),
		control.WithShutdown(cancel),
	}
	if fl, err := a.flashlight(hardware.NewPins()); err == nil {
		opts = append(opts, control.WithFlashlight(fl))
		defer fl.Shutdown()
	} else {
		a.logger.Info().Err(err).Msg("podctl: flashlight disabled")
	}
	handler := control.NewHandler(transport, a.cfg.MQTT, c, opts...)

	a.logger.Info().
		Str("instance_id", a.cfg.InstanceID).
		Str("control_topic", a.cfg.MQTT.Topics.Control).
		Msg("podctl: control plane serving")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return handler.Run(gctx, events) })
	g.Go(func() error {
		reportBusStats(gctx, bus, a)
		return nil
	})
	runErr := g.Wait()

	a.logger.Info().Dur("timeout", a.cfg.ShutdownTimeout()).Msg("podctl: shutting down gracefully")
	if err := a.shutdown(c); err != nil {
		return err
	}
	return runErr
}

// reportBusStats logs event distribution counters until ctx is done
func reportBusStats(ctx context.Context, bus eventbus.Bus, a *app) {
	logger := logging.WithComponent(a.logger, "eventbus")
	ticker := time.NewTicker(statsInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats := bus.Stats()
			ev := logger.Debug()
			if stats.TotalDropped > 0 {
				ev = logger.Warn()
			}
			ev.Uint64("published", stats.TotalPublished).
				Uint64("dropped", stats.TotalDropped).
				Float64("drop_rate", eventbus.DropRate(stats)).
				Msg("eventbus: stats")
		}
	}
}

func runConfig(_ context.Context, a *app, args []string) error {
	if len(args) != 0 {
		return usageErrorf("config: unexpected arguments %v", args)
	}
	return a.cfg.Dump(stdout)
}

func runRuns(_ context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("runs", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	limit := fs.Int("n", 20, "Number of runs to list")
	runID := fs.String("events", "", "List the events of one run")
	if err := fs.Parse(args); err != nil {
		return usageErrorf("runs: %v", err)
	}
	if a.cfg.Journal.Path == "" {
		return fmt.Errorf("runs: journal.path is not configured")
	}

	j, err := journal.Open(a.cfg.Journal.Path, a.logger)
	if err != nil {
		return err
	}
	defer j.Close()

	if *runID != "" {
		entries, err := j.Events(*runID)
		if err != nil {
			return err
		}
		return writeEvents(stdout, entries)
	}
	runs, err := j.Runs(*limit)
	if err != nil {
		return err
	}
	return writeRuns(stdout, runs)
}

func writeRuns(w io.Writer, runs []journal.Run) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tSTARTED\tLOOPS\tSTATE\tERROR")
	for _, r := range runs {
		started := "-"
		if r.StartedAt != nil {
			started = r.StartedAt.Local().Format(time.DateTime)
		}
		state := r.FinalState
		if state == "" {
			state = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\t%s\n", r.ID, r.Name, started, r.Loops, state, r.Error)
	}
	return tw.Flush()
}

func writeEvents(w io.Writer, entries []journal.Entry) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "AT\tKIND\tSOURCE\tMESSAGE")
	for _, e := range entries {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", e.At.Local().Format(time.DateTime), e.Kind, e.Source, e.Message)
	}
	return tw.Flush()
}
