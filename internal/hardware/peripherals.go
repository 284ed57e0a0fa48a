package hardware

import (
	"context"
	"fmt"
	"os/exec"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Flashlight is the LED driven by a single output pin
type Flashlight struct {
	mu         sync.Mutex
	driver     PinDriver
	pin        int
	activeHigh bool
	on         bool
	logger     zerolog.Logger
}

// NewFlashlight configures pin as an output and turns the light off
func NewFlashlight(driver PinDriver, pin int, activeHigh bool, logger zerolog.Logger) (*Flashlight, error) {
	if pin == 0 {
		return nil, fmt.Errorf("flashlight: %w", ErrUnassigned)
	}
	if err := driver.Configure(pin, DirectionOut); err != nil {
		return nil, fmt.Errorf("flashlight: %w", err)
	}
	f := &Flashlight{driver: driver, pin: pin, activeHigh: activeHigh, logger: logger}
	if err := f.set(false); err != nil {
		return nil, err
	}
	return f, nil
}

func (f *Flashlight) set(on bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.driver.Output(f.pin, activeLevel(on, f.activeHigh)); err != nil {
		return fmt.Errorf("flashlight: %w", err)
	}
	f.on = on
	f.logger.Debug().Int("pin", f.pin).Bool("on", on).Msg("flashlight: switched")
	return nil
}

func (f *Flashlight) TurnOn() error  { return f.set(true) }
func (f *Flashlight) TurnOff() error { return f.set(false) }

// On reports whether the light is on
func (f *Flashlight) On() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.on
}

// Shutdown turns the light off and releases the pin
func (f *Flashlight) Shutdown() error {
	if err := f.TurnOff(); err != nil {
		return err
	}
	return f.driver.Deconfigure(f.pin)
}

// CameraMux routes one of two cameras to the capture port through a select pin.
// Without a pin every camera is wired directly and Select only records the choice.
type CameraMux struct {
	mu         sync.Mutex
	driver     PinDriver
	pin        int
	activeHigh bool
	levels     map[string]int
	selected   string
	logger     zerolog.Logger
}

// NewCameraMux maps camera names to the mux level (0 or 1) that selects them
func NewCameraMux(driver PinDriver, pin int, activeHigh bool, levels map[string]int, logger zerolog.Logger) (*CameraMux, error) {
	if pin != 0 {
		if err := driver.Configure(pin, DirectionOut); err != nil {
			return nil, fmt.Errorf("camera mux: %w", err)
		}
	}
	m := &CameraMux{driver: driver, pin: pin, activeHigh: activeHigh, levels: make(map[string]int, len(levels)), logger: logger}
	for name, lvl := range levels {
		m.levels[name] = lvl
	}
	return m, nil
}

// Select routes the named camera
func (m *CameraMux) Select(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	lvl, ok := m.levels[name]
	if !ok {
		return fmt.Errorf("camera mux: unknown camera %q (have %v)", name, m.namesLocked())
	}
	if m.pin != 0 {
		if err := m.driver.Output(m.pin, activeLevel(lvl == 1, m.activeHigh)); err != nil {
			return fmt.Errorf("camera mux: %w", err)
		}
	}
	m.selected = name
	m.logger.Info().Str("camera", name).Int("pin", m.pin).Msg("camera mux: selected")
	return nil
}

// Selected is the last selected camera, or empty
func (m *CameraMux) Selected() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.selected
}

func (m *CameraMux) namesLocked() []string {
	names := make([]string, 0, len(m.levels))
	for n := range m.levels {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Runner executes an external command
type Runner func(ctx context.Context, name string, args ...string) ([]byte, error)

// ExecRunner runs commands with os/exec
func ExecRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

// Display powers the screen through configured commands
type Display struct {
	mu      sync.Mutex
	on      []string
	off     []string
	timeout time.Duration
	run     Runner
	powered bool
	logger  zerolog.Logger
}

// NewDisplay uses onCmd and offCmd (program plus arguments) to switch the screen
func NewDisplay(onCmd, offCmd []string, timeout time.Duration, run Runner, logger zerolog.Logger) *Display {
	if run == nil {
		run = ExecRunner
	}
	return &Display{on: onCmd, off: offCmd, timeout: timeout, run: run, logger: logger}
}

func (d *Display) TurnOn(ctx context.Context) error  { return d.switchTo(ctx, true) }
func (d *Display) TurnOff(ctx context.Context) error { return d.switchTo(ctx, false) }

// On reports the last successfully applied power state
func (d *Display) On() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.powered
}

func (d *Display) switchTo(ctx context.Context, on bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	cmd := d.off
	if on {
		cmd = d.on
	}
	if len(cmd) == 0 {
		return fmt.Errorf("display: %w", ErrNotConfigured)
	}
	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	out, err := d.run(ctx, cmd[0], cmd[1:]...)
	if err != nil {
		d.logger.Error().Err(err).Strs("command", cmd).Bytes("output", out).Msg("display: power command failed")
		return fmt.Errorf("display: %s: %w", cmd[0], err)
	}
	d.powered = on
	d.logger.Info().Bool("on", on).Msg("display: switched")
	return nil
}
