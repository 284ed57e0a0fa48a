// Package hardware drives the pod peripherals: GPIO pins, the camera mux,
// the flashlight and the display. Pins are numbered according to BCM.
package hardware

import (
	"errors"
	"fmt"
	"sync"
)

const (
	MinPin = 2
	MaxPin = 26
)

var (
	ErrInvalidPin    = errors.New("hardware: pin out of range")
	ErrNotOutput     = errors.New("hardware: pin is not configured as output")
	ErrUnassigned    = errors.New("hardware: no pin assigned")
	ErrNotConfigured = errors.New("hardware: peripheral not configured")
)

// Direction of a pin
type Direction int

const (
	DirectionOut Direction = iota
	DirectionIn
	DirectionUnassigned
)

func (d Direction) String() string {
	switch d {
	case DirectionOut:
		return "out"
	case DirectionIn:
		return "in"
	default:
		return "unassigned"
	}
}

// Level of a pin
type Level int

const (
	Low Level = iota
	High
	Tristate
)

func (l Level) String() string {
	switch l {
	case Low:
		return "low"
	case High:
		return "high"
	default:
		return "tristate"
	}
}

// PinDriver configures and drives output pins
type PinDriver interface {
	Configure(pin int, dir Direction) error
	Output(pin int, level Level) error
	Deconfigure(pin int) error
}

type pinState struct {
	dir   Direction
	level Level
}

// Pins is an in-memory pin table used when no GPIO library is present
type Pins struct {
	mu    sync.Mutex
	table map[int]*pinState
}

// NewPins returns every pin as an input at tristate
func NewPins() *Pins {
	p := &Pins{table: make(map[int]*pinState, MaxPin-MinPin+1)}
	for i := MinPin; i <= MaxPin; i++ {
		p.table[i] = &pinState{dir: DirectionIn, level: Tristate}
	}
	return p
}

func (p *Pins) lookup(pin int) (*pinState, error) {
	st, ok := p.table[pin]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrInvalidPin, pin)
	}
	return st, nil
}

// Configure sets the direction of pin
func (p *Pins) Configure(pin int, dir Direction) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	st, err := p.lookup(pin)
	if err != nil {
		return err
	}
	st.dir = dir
	return nil
}

// Output drives pin to level. The pin must be an output.
func (p *Pins) Output(pin int, level Level) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	st, err := p.lookup(pin)
	if err != nil {
		return err
	}
	if st.dir != DirectionOut {
		return fmt.Errorf("%w: %d", ErrNotOutput, pin)
	}
	st.level = level
	return nil
}

// Deconfigure returns pin to input
func (p *Pins) Deconfigure(pin int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	st, err := p.lookup(pin)
	if err != nil {
		return err
	}
	st.dir = DirectionIn
	return nil
}

// State reports the direction and level of pin
func (p *Pins) State(pin int) (Direction, Level, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	st, err := p.lookup(pin)
	if err != nil {
		return DirectionUnassigned, Tristate, err
	}
	return st.dir, st.level, nil
}

func activeLevel(on, activeHigh bool) Level {
	if on == activeHigh {
		return High
	}
	return Low
}
