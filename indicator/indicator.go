// Package indicator drives the status LEDs: advertising, connected and
// assert. LEDs are wired active low unless configured otherwise.
package indicator

import (
	"fmt"
	"sync"

	"github.com/pkg/errors"
	"github.com/rigado/bleshim"
)

// LED names one status indicator.
type LED int

const (
	Advertising LED = iota
	Connected
	Assert
	numLEDs
)

func (l LED) String() string {
	switch l {
	case Advertising:
		return "advertising"
	case Connected:
		return "connected"
	case Assert:
		return "assert"
	default:
		return fmt.Sprintf("led(%d)", int(l))
	}
}

// Set is the action of switching one LED.
type Set struct {
	LED LED
	On  bool
}

func (s Set) String() string {
	if s.On {
		return fmt.Sprintf("LED %v on", s.LED)
	}
	return fmt.Sprintf("LED %v off", s.LED)
}

func On(l LED) Set  { return Set{LED: l, On: true} }
func Off(l LED) Set { return Set{LED: l, On: false} }

var _ bleshim.Action = Set{}

// Pin is one output line.
type Pin interface {
	Write(high bool) error
}

// Driver hands out output pins by line number.
type Driver interface {
	Pin(n int) (Pin, error)
	Close() error
}

// Pins maps each LED to a line number.
type Pins struct {
	Advertising int
	Connected   int
	Assert      int
}

// Board applies Set actions to the LEDs.
type Board struct {
	mu        sync.Mutex
	drv       Driver
	pins      [numLEDs]Pin
	state     [numLEDs]bool
	activeLow bool
}

// NewBoard opens the three LED lines on d.
func NewBoard(d Driver, p Pins, activeLow bool) (*Board, error) {
	b := &Board{drv: d, activeLow: activeLow}
	for l, n := range map[LED]int{Advertising: p.Advertising, Connected: p.Connected, Assert: p.Assert} {
		pin, err := d.Pin(n)
		if err != nil {
			return nil, errors.Wrapf(err, "can't open %v led on line %d", l, n)
		}
		b.pins[l] = pin
	}
	return b, nil
}

// Apply switches one LED.
func (b *Board) Apply(s Set) error {
	if s.LED < 0 || s.LED >= numLEDs {
		return fmt.Errorf("invalid led %v", s.LED)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.pins[s.LED].Write(s.On != b.activeLow); err != nil {
		return errors.Wrapf(err, "can't switch %v", s)
	}
	b.state[s.LED] = s.On
	return nil
}

// AllOff switches every LED off.
func (b *Board) AllOff() error {
	for l := LED(0); l < numLEDs; l++ {
		if err := b.Apply(Off(l)); err != nil {
			return err
		}
	}
	return nil
}

// IsOn reports the last state applied to l.
func (b *Board) IsOn(l LED) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state[l]
}

// Close releases the driver.
func (b *Board) Close() error {
	return b.drv.Close()
}
