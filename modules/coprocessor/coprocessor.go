// Package coprocessor is the user-facing control surface of the inference
// pipeline. A Coprocessor collects a source, a model and sinks, then composes
// and runs them. Its methods are meant to be called from one control
// goroutine (a signal handler or a command dispatcher); they are not
// serialized internally.
package coprocessor

import (
	"fmt"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/e7canasta/sensorpod/modules/composer"
	"github.com/e7canasta/sensorpod/modules/element"
	"github.com/e7canasta/sensorpod/modules/eventbus"
	"github.com/e7canasta/sensorpod/modules/params"
	"github.com/e7canasta/sensorpod/modules/pipeline"
)

// DefaultPipelineName names the composed pipeline unless overridden
const DefaultPipelineName = "sensorpod"

// ConfigError is a rejected configuration value. Nothing was applied.
type ConfigError struct {
	Field string
	Value string
	Err   error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("coprocessor: invalid %s %q: %v", e.Field, e.Value, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// Coprocessor owns one pipeline session
type Coprocessor struct {
	engine  pipeline.Engine
	params  params.Store
	logger  zerolog.Logger
	events  eventbus.Publisher
	name    string
	cameras map[string]string
	capture element.Format
	overlay bool

	source    *element.Source
	pre       *element.Preprocess
	model     *element.Model
	post      *element.Postprocess
	modelType element.ModelType
	sink      *element.Sink
	sinkIDs   []string

	runtime *pipeline.Runtime
}

// Option configures a Coprocessor
type Option func(*Coprocessor)

// WithParams sets the parameter store used at composition time
func WithParams(p params.Store) Option {
	return func(c *Coprocessor) { c.params = p }
}

// WithLogger sets the logger handed to every runtime
func WithLogger(l zerolog.Logger) Option {
	return func(c *Coprocessor) { c.logger = l }
}

// WithPublisher receives runtime lifecycle events
func WithPublisher(p eventbus.Publisher) Option {
	return func(c *Coprocessor) { c.events = p }
}

// WithPipelineName overrides DefaultPipelineName
func WithPipelineName(name string) Option {
	return func(c *Coprocessor) { c.name = name }
}

// WithCameraAliases maps names such as "front-camera" to camera identifiers
func WithCameraAliases(aliases map[string]string) Option {
	return func(c *Coprocessor) {
		c.cameras = make(map[string]string, len(aliases))
		for k, v := range aliases {
			c.cameras[k] = v
		}
	}
}

// WithCaptureFormat declares what local cameras produce
func WithCaptureFormat(f element.Format) Option {
	return func(c *Coprocessor) { c.capture = f }
}

// WithOverlay draws inference results on output frames when a model is set (default on)
func WithOverlay(on bool) Option {
	return func(c *Coprocessor) { c.overlay = on }
}

// New returns an empty session driving engine
func New(engine pipeline.Engine, opts ...Option) (*Coprocessor, error) {
	if engine == nil {
		return nil, fmt.Errorf("coprocessor: engine is required")
	}
	c := &Coprocessor{
		engine:  engine,
		params:  params.Default(),
		logger:  zerolog.Nop(),
		name:    DefaultPipelineName,
		capture: element.DefaultFormat,
		overlay: true,
	}
	for _, opt := range opts {
		opt(c)
	}
	if err := c.params.Validate(); err != nil {
		return nil, fmt.Errorf("coprocessor: %w", err)
	}
	c.logger = c.logger.With().Str("component", "coprocessor").Logger()
	return c, nil
}

// SetSource selects the capture source. Camera aliases are resolved first.
func (c *Coprocessor) SetSource(id string) error {
	resolved := id
	if cam, ok := c.cameras[id]; ok {
		resolved = cam
	}

	src, err := element.NewSource(resolved, element.WithCaptureFormat(c.capture))
	if err != nil {
		return &ConfigError{Field: "source", Value: id, Err: err}
	}

	c.source = src
	c.refreshPreprocess()
	c.logger.Info().Str("source", resolved).Str("shape", src.Shape().String()).Msg("coprocessor: source set")
	return nil
}

// SetModel selects a catalogue model and builds its Model and Postprocess pair
func (c *Coprocessor) SetModel(name string) error {
	mt, err := element.ParseModelType(name)
	if err != nil {
		return &ConfigError{Field: "model", Value: name, Err: err}
	}
	cfg, err := element.Lookup(mt)
	if err != nil {
		return &ConfigError{Field: "model", Value: name, Err: err}
	}
	model, post, err := element.NewModelPair(cfg, c.params.Accelerator)
	if err != nil {
		return &ConfigError{Field: "model", Value: name, Err: err}
	}

	c.model, c.post, c.modelType = model, post, mt
	c.refreshPreprocess()
	c.logger.Info().Str("model", string(mt)).Msg("coprocessor: model set")
	return nil
}

// SetSinks validates every identifier concurrently and applies them only if all
// pass. Repeated identifiers collapse to one endpoint.
func (c *Coprocessor) SetSinks(ids ...string) error {
	if len(ids) == 0 {
		return &ConfigError{Field: "sinks", Value: "", Err: element.ErrNoEndpoints}
	}

	ids = dedupe(ids)

	var g errgroup.Group
	for _, id := range ids {
		g.Go(func() error {
			if _, err := element.ValidateSink(id); err != nil {
				return &ConfigError{Field: "sink", Value: id, Err: err}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	sink, err := element.NewSink(ids, element.WithOverlay(c.overlay))
	if err != nil {
		return &ConfigError{Field: "sinks", Value: fmt.Sprint(ids), Err: err}
	}

	c.sink = sink
	c.sinkIDs = append([]string(nil), ids...)
	c.logger.Info().Strs("sinks", ids).Msg("coprocessor: sinks set")
	return nil
}

// Start composes and plays the pipeline. It is a no-op while a runtime is
// playing; a terminated runtime is replaced.
func (c *Coprocessor) Start(loop bool) error {
	if c.runtime != nil && c.runtime.State() != pipeline.StateTerminated {
		c.logger.Debug().Str("state", c.runtime.State().String()).Msg("coprocessor: already started")
		return nil
	}

	desc, err := composer.Compose(c.name, c.params, c.source, c.pre, c.model, c.post, c.sinkElement())
	if err != nil {
		return err
	}

	opts := []pipeline.Option{
		pipeline.WithLoop(loop),
		pipeline.WithLogger(c.logger),
	}
	if c.events != nil {
		opts = append(opts, pipeline.WithPublisher(c.events))
	}
	if enabled, err := c.params.DotGraph.Enabled(); err != nil {
		c.logger.Warn().Err(err).Msg("coprocessor: dot graph dump disabled")
	} else if enabled {
		if path, err := desc.WriteDotFile(c.params.DotGraph.Dir); err != nil {
			c.logger.Warn().Err(err).Msg("coprocessor: stage graph dump failed")
		} else {
			c.logger.Debug().Str("path", path).Msg("coprocessor: stage graph written")
		}
		opts = append(opts, pipeline.WithDotDump(c.name))
	}

	rt, err := pipeline.New(c.engine, c.name, desc.String(), opts...)
	if err != nil {
		return &composer.CompositionError{Pipeline: c.name, Err: err}
	}
	c.runtime = rt

	if err := rt.Run(); err != nil {
		return fmt.Errorf("coprocessor: start %q: %w", c.name, err)
	}
	c.logger.Info().Bool("loop", loop).Str("runtime_id", rt.ID()).Msg("coprocessor: started")
	return nil
}

// Stop shuts the runtime down and keeps the configuration for a later Start
func (c *Coprocessor) Stop() error {
	if c.runtime == nil {
		return nil
	}
	c.runtime.Shutdown()
	c.runtime.Rewind()
	c.logger.Info().Msg("coprocessor: stopped")
	return nil
}

// Clear drops every configured element and the runtime reference. It does not
// stop a live runtime; call Stop first.
func (c *Coprocessor) Clear() {
	if c.runtime != nil && c.runtime.State() != pipeline.StateTerminated {
		c.logger.Warn().Str("runtime_id", c.runtime.ID()).Msg("coprocessor: clearing session with a live runtime")
	}
	c.source, c.pre, c.model, c.post, c.sink = nil, nil, nil, nil, nil
	c.modelType = ""
	c.sinkIDs = nil
	c.runtime = nil
}

// Shutdown stops any live runtime and discards it. Always safe to call.
func (c *Coprocessor) Shutdown() {
	if c.runtime == nil {
		return
	}
	c.runtime.Shutdown()
	c.runtime = nil
	c.logger.Info().Msg("coprocessor: shut down")
}

// Done is closed when the current runtime terminates. It is nil without a runtime.
func (c *Coprocessor) Done() <-chan struct{} {
	if c.runtime == nil {
		return nil
	}
	return c.runtime.Done()
}

// Session is a snapshot of the configured selections and the runtime
type Session struct {
	Source  string           `json:"source,omitempty"`
	Model   string           `json:"model,omitempty"`
	Sinks   []string         `json:"sinks,omitempty"`
	Runtime *pipeline.Status `json:"runtime,omitempty"`
}

// Status returns the current session snapshot
func (c *Coprocessor) Status() Session {
	s := Session{Model: string(c.modelType), Sinks: append([]string(nil), c.sinkIDs...)}
	if c.source != nil {
		s.Source = c.source.Identifier()
	}
	if c.runtime != nil {
		st := c.runtime.Status()
		s.Runtime = &st
	}
	if len(s.Sinks) == 0 {
		s.Sinks = nil
	}
	return s
}

// refreshPreprocess rebuilds the conversion stage between source and model
func (c *Coprocessor) refreshPreprocess() {
	if c.source == nil || c.model == nil {
		c.pre = nil
		return
	}
	c.pre = element.NewPreprocess(c.source.Output(), c.model.Resolved().InputFormat())
}

// sinkElement drops the overlay stage when there is no model to draw from
func (c *Coprocessor) sinkElement() *element.Sink {
	if c.sink == nil || c.model != nil || !c.sink.Overlay() {
		return c.sink
	}
	plain, err := element.NewSink(c.sinkIDs, element.WithOverlay(false))
	if err != nil {
		return c.sink
	}
	return plain
}

// dedupe keeps the first occurrence of each id
func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
