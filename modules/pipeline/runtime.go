package pipeline

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/e7canasta/sensorpod/modules/eventbus"
)

const (
	DefaultSettleDelay  = 100 * time.Millisecond
	DefaultQueryTimeout = 3 * time.Second
)

// Runtime owns one engine pipeline and the goroutine delivering its bus events
type Runtime struct {
	id          string
	name        string
	description string
	loop        bool

	handle Handle
	logger zerolog.Logger
	events eventbus.Publisher

	settle       time.Duration
	queryTimeout time.Duration
	dotName      string
	notices      *rate.Limiter

	// mu serializes startup against teardown
	mu           sync.Mutex
	state        atomic.Int32
	teardownOnce sync.Once
	finishOnce   sync.Once
	done         chan struct{}

	loops     atomic.Uint64
	startedAt atomic.Int64
	lastErr   atomic.Pointer[RuntimeError]
}

// RuntimeError is the engine error that terminated a runtime
type RuntimeError struct {
	Source   string        `json:"source"`
	Message  string        `json:"message"`
	Debug    string        `json:"debug,omitempty"`
	Category ErrorCategory `json:"category"`
}

func (e *RuntimeError) Error() string {
	return fmt.Sprintf("pipeline: %s error from %s: %s", e.Category, e.Source, e.Message)
}

// Status is a point-in-time snapshot of a Runtime
type Status struct {
	ID        string        `json:"id"`
	Name      string        `json:"name"`
	State     State         `json:"state"`
	Loop      bool          `json:"loop"`
	Loops     uint64        `json:"loops"`
	StartedAt time.Time     `json:"started_at"`
	LastError *RuntimeError `json:"last_error,omitempty"`
}

// Option configures a Runtime
type Option func(*Runtime)

// WithLogger sets the runtime logger
func WithLogger(l zerolog.Logger) Option {
	return func(r *Runtime) { r.logger = l }
}

// WithLoop restarts from position zero on end of stream instead of shutting down
func WithLoop(loop bool) Option {
	return func(r *Runtime) { r.loop = loop }
}

// WithPublisher receives lifecycle events
func WithPublisher(p eventbus.Publisher) Option {
	return func(r *Runtime) { r.events = p }
}

// WithSettleDelay sets the pause between shutdown state transitions
func WithSettleDelay(d time.Duration) Option {
	return func(r *Runtime) { r.settle = d }
}

// WithQueryTimeout bounds the engine state query issued by Rewind
func WithQueryTimeout(d time.Duration) Option {
	return func(r *Runtime) { r.queryTimeout = d }
}

// WithDotDump asks the engine for a graph dump named name once playing
func WithDotDump(name string) Option {
	return func(r *Runtime) { r.dotName = name }
}

// WithNoticeRate limits warning and QoS log lines
func WithNoticeRate(every time.Duration, burst int) Option {
	return func(r *Runtime) { r.notices = rate.NewLimiter(rate.Every(every), burst) }
}

// New parses description through engine. A parse failure is returned as is
// and no runtime is created.
func New(engine Engine, name, description string, opts ...Option) (*Runtime, error) {
	if engine == nil {
		return nil, fmt.Errorf("pipeline: engine is required")
	}
	if name == "" {
		return nil, fmt.Errorf("pipeline: name is required")
	}
	if description == "" {
		return nil, fmt.Errorf("pipeline: description is required")
	}

	r := &Runtime{
		id:           uuid.NewString(),
		name:         name,
		description:  description,
		logger:       zerolog.Nop(),
		settle:       DefaultSettleDelay,
		queryTimeout: DefaultQueryTimeout,
		notices:      rate.NewLimiter(rate.Every(time.Second), 5),
		done:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With().Str("pipeline", name).Str("runtime_id", r.id).Logger()

	handle, err := engine.Launch(name, description)
	if err != nil {
		r.logger.Error().Err(err).Msg("pipeline: failed to parse description")
		return nil, fmt.Errorf("pipeline: launch %q: %w", name, err)
	}
	r.handle = handle

	r.logger.Info().Bool("loop", r.loop).Msg("pipeline: created")
	r.publish(eventbus.Event{Kind: eventbus.KindLaunched, Meta: map[string]string{
		"description": description,
		"loop":        fmt.Sprint(r.loop),
	}})
	return r, nil
}

// ID is unique per runtime instance
func (r *Runtime) ID() string { return r.id }

// Name is the pipeline name
func (r *Runtime) Name() string { return r.name }

// Description is the parse-launch text the runtime was built from
func (r *Runtime) Description() string { return r.description }

// State returns the current lifecycle state
func (r *Runtime) State() State { return State(r.state.Load()) }

// Done is closed once the runtime is Terminated
func (r *Runtime) Done() <-chan struct{} { return r.done }

// Status returns a snapshot of the runtime
func (r *Runtime) Status() Status {
	s := Status{
		ID:        r.id,
		Name:      r.name,
		State:     r.State(),
		Loop:      r.loop,
		Loops:     r.loops.Load(),
		LastError: r.lastErr.Load(),
	}
	if ns := r.startedAt.Load(); ns != 0 {
		s.StartedAt = time.Unix(0, ns)
	}
	return s
}

// Run moves a Created runtime to Playing and starts the event goroutine.
// It returns once the engine accepted the PLAYING request.
func (r *Runtime) Run() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.state.CompareAndSwap(int32(StateCreated), int32(StatePlaying)) {
		if r.State() == StatePlaying {
			return ErrAlreadyStarted
		}
		return ErrTerminated
	}

	r.handle.Watch(r.dispatch)
	if n := r.handle.DisableQoS(); n > 0 {
		r.logger.Debug().Int("elements", n).Msg("pipeline: qos disabled")
	}

	if err := r.handle.SetState(EnginePlaying); err != nil {
		r.logger.Error().Err(err).Msg("pipeline: failed to start playing")
		r.decay()
		r.finish()
		return fmt.Errorf("pipeline: set playing: %w", err)
	}

	if r.dotName != "" {
		r.handle.DumpDot(r.dotName)
	}

	r.startedAt.Store(time.Now().UnixNano())
	r.logger.Info().Msg("pipeline: playing")
	r.publish(eventbus.Event{Kind: eventbus.KindPlaying})

	go r.run()
	return nil
}

func (r *Runtime) run() {
	defer r.finish()
	r.handle.Run()
}

// Shutdown drains and stops the engine, then waits for the event goroutine.
// Safe to call repeatedly and from any goroutine except a Watch callback.
func (r *Runtime) Shutdown() {
	for {
		switch r.State() {
		case StateTerminated:
			return
		case StateCreated:
			if !r.state.CompareAndSwap(int32(StateCreated), int32(StateShuttingDown)) {
				continue
			}
			// never played: nothing to drain
			r.teardownOnce.Do(func() {})
			r.finish()
			return
		default:
			r.teardown()
			<-r.done
			return
		}
	}
}

// Rewind flush-seeks to position zero, but only when the engine confirms it is
// playing within the query timeout. It reports whether a seek was issued.
func (r *Runtime) Rewind() bool {
	if r.State() != StatePlaying {
		r.logger.Debug().Str("state", r.State().String()).Msg("pipeline: rewind skipped, runtime not playing")
		return false
	}

	st, err := r.handle.QueryState(r.queryTimeout)
	if err != nil {
		r.logger.Warn().Err(err).Msg("pipeline: rewind skipped, state query failed")
		return false
	}
	if st != EnginePlaying {
		r.logger.Info().Str("engine_state", st.String()).Msg("pipeline: rewind skipped, engine not playing")
		return false
	}

	if !r.handle.SeekToZero() {
		r.logger.Error().Msg("pipeline: rewind seek failed")
		return false
	}
	return true
}

// teardown runs the state decay and stops the event loop, once.
// It never waits for the event goroutine, so the goroutine itself may call it.
func (r *Runtime) teardown() {
	r.teardownOnce.Do(func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.state.Store(int32(StateShuttingDown))
		r.logger.Info().Msg("pipeline: shutting down")
		r.decay()
		r.handle.Quit()
	})
}

// decay drives PAUSED, READY then NULL with a settle delay between each
func (r *Runtime) decay() {
	r.state.Store(int32(StateShuttingDown))
	steps := []EngineState{EnginePaused, EngineReady, EngineNull}
	for i, s := range steps {
		if i > 0 {
			time.Sleep(r.settle)
		}
		if err := r.handle.SetState(s); err != nil {
			r.logger.Warn().Err(err).Str("target", s.String()).Msg("pipeline: state change failed during shutdown")
		}
	}
}

// finish releases the engine pipeline and marks the runtime Terminated, once
func (r *Runtime) finish() {
	r.finishOnce.Do(func() {
		r.handle.Release()
		r.state.Store(int32(StateTerminated))

		ev := eventbus.Event{Kind: eventbus.KindTerminated}
		if lastErr := r.lastErr.Load(); lastErr != nil {
			ev.Message = lastErr.Message
			ev.Source = lastErr.Source
			ev.Category = lastErr.Category.String()
		}
		r.publish(ev)

		logEvt := r.logger.Info().Uint64("loops", r.loops.Load())
		if ns := r.startedAt.Load(); ns != 0 {
			logEvt = logEvt.Dur("uptime", time.Since(time.Unix(0, ns)))
		}
		logEvt.Msg("pipeline: terminated")
		close(r.done)
	})
}

func (r *Runtime) publish(ev eventbus.Event) {
	if r.events == nil {
		return
	}
	ev.RuntimeID = r.id
	ev.Pipeline = r.name
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	r.events.Publish(ev)
}
