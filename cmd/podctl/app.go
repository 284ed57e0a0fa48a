package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"

	"github.com/e7canasta/sensorpod/internal/config"
	"github.com/e7canasta/sensorpod/internal/hardware"
	"github.com/e7canasta/sensorpod/internal/journal"
	"github.com/e7canasta/sensorpod/internal/logging"
	"github.com/e7canasta/sensorpod/modules/coprocessor"
	"github.com/e7canasta/sensorpod/modules/eventbus"
	"github.com/e7canasta/sensorpod/modules/params"
	"github.com/e7canasta/sensorpod/modules/pipeline"
)

// app holds what every subcommand shares
type app struct {
	cfg     *config.Config
	params  params.Store
	logger  zerolog.Logger
	closers []io.Closer
}

func newApp(configPath, logLevel string) (*app, error) {
	opts := []config.LoaderOption{}
	if configPath != "" {
		opts = append(opts, config.WithConfigFile(configPath))
	}
	cfg, err := config.Load(opts...)
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}

	logger, closer, err := logging.New(cfg.Logging, "sensorpod")
	if err != nil {
		return nil, err
	}
	p, err := cfg.Params()
	if err != nil {
		closer.Close()
		return nil, err
	}
	logger.Debug().Str("config", configPath).Str("instance_id", cfg.InstanceID).Msg("podctl: configuration loaded")
	return &app{cfg: cfg, params: p, logger: logger, closers: []io.Closer{closer}}, nil
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i].Close()
	}
}

// engine initializes GStreamer, enabling graph dumps when configured
func (a *app) engine() (pipeline.Engine, error) {
	if err := pipeline.GStreamerAvailable(); err != nil {
		return nil, fmt.Errorf("gstreamer not available: %w", err)
	}
	dotDir := ""
	if enabled, err := a.params.DotGraph.Enabled(); err != nil {
		a.logger.Warn().Err(err).Msg("podctl: dot graph dumps disabled")
	} else if enabled {
		dotDir = a.params.DotGraph.Dir
	}
	return pipeline.NewGStreamerEngine(dotDir, logging.WithComponent(a.logger, "gstreamer")), nil
}

func (a *app) coprocessor(engine pipeline.Engine, events eventbus.Publisher) (*coprocessor.Coprocessor, error) {
	opts := []coprocessor.Option{
		coprocessor.WithParams(a.params),
		coprocessor.WithLogger(a.logger),
		coprocessor.WithCameraAliases(a.cfg.CameraAliases()),
	}
	if events != nil {
		opts = append(opts, coprocessor.WithPublisher(events))
	}
	return coprocessor.New(engine, opts...)
}

func (a *app) flashlight(pins hardware.PinDriver) (*hardware.Flashlight, error) {
	fl := a.cfg.PinConfig.Flashlight
	return hardware.NewFlashlight(pins, fl.Pin, fl.ActiveHigh, logging.WithComponent(a.logger, "flashlight"))
}

func (a *app) display() *hardware.Display {
	d := a.cfg.Display
	return hardware.NewDisplay(d.OnCommand, d.OffCommand, time.Duration(d.TimeoutS)*time.Second, nil,
		logging.WithComponent(a.logger, "display"))
}

func (a *app) cameraMux(pins hardware.PinDriver) (*hardware.CameraMux, error) {
	levels := make(map[string]int, len(a.cfg.PinConfig.Cameras))
	for name, cam := range a.cfg.PinConfig.Cameras {
		if cam.Enabled {
			levels[name] = cam.MuxLevel
		}
	}
	mux := a.cfg.PinConfig.CameraMux
	return hardware.NewCameraMux(pins, mux.Pin, mux.ActiveHigh, levels, logging.WithComponent(a.logger, "camera"))
}

// shutdown stops the coprocessor, giving up after the configured timeout
func (a *app) shutdown(c *coprocessor.Coprocessor) error {
	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout())
	defer cancel()

	done := make(chan struct{})
	go func() {
		c.Shutdown()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("shutdown timed out after %s", a.cfg.ShutdownTimeout())
	}
}

// runUntilDone plays the configured session until it terminates on its own or ctx ends
func (a *app) runUntilDone(ctx context.Context, c *coprocessor.Coprocessor, loop bool) error {
	if err := c.Start(loop); err != nil {
		return err
	}
	select {
	case <-c.Done():
		st := c.Status()
		if st.Runtime != nil && st.Runtime.LastError != nil {
			return st.Runtime.LastError
		}
		return nil
	case <-ctx.Done():
		a.logger.Info().Msg("podctl: interrupted, shutting down")
		return a.shutdown(c)
	}
}

// recorder follows lifecycle events into the run journal
type recorder struct {
	journal *journal.Journal
	ch      chan eventbus.Event
	cancel  context.CancelFunc
	done    chan struct{}
}

// startRecorder subscribes the journal to b. It returns nil when no journal
// is configured or it cannot be opened; runs then go unrecorded.
func (a *app) startRecorder(b eventbus.Bus) *recorder {
	if a.cfg.Journal.Path == "" {
		return nil
	}
	j, err := journal.Open(a.cfg.Journal.Path, a.logger)
	if err != nil {
		a.logger.Warn().Err(err).Str("path", a.cfg.Journal.Path).Msg("podctl: journal unavailable, runs will not be recorded")
		return nil
	}
	ch := make(chan eventbus.Event, 64)
	if err := b.Subscribe("journal", ch); err != nil {
		a.logger.Warn().Err(err).Msg("podctl: journal subscription failed")
		j.Close()
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	r := &recorder{journal: j, ch: ch, cancel: cancel, done: make(chan struct{})}
	go func() {
		defer close(r.done)
		j.Follow(ctx, ch)
	}()
	return r
}

// Close records the events still buffered and closes the journal
func (r *recorder) Close() error {
	if r == nil {
		return nil
	}
	r.cancel()
	<-r.done
	for {
		select {
		case ev := <-r.ch:
			if err := r.journal.Record(ev); err != nil {
				return errors.Join(err, r.journal.Close())
			}
		default:
			return r.journal.Close()
		}
	}
}
