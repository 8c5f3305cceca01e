package sim

import (
	"sync"

	"github.com/WroblewskiAdam/column-stripper/core"
)

// GPIO is an in-memory pin bank. Output writes are recorded; input
// reads come from values the test (or a wired callback) sets. Edge
// counters on the step pins let tests count motor steps without
// modelling the driver chip.
type GPIO struct {
	mu       sync.Mutex
	levels   map[core.GPIOPin]bool
	inputs   map[core.GPIOPin]bool
	rising   map[core.GPIOPin]int
	onRising map[core.GPIOPin]func()
}

// NewGPIO creates an empty pin bank.
func NewGPIO() *GPIO {
	return &GPIO{
		levels:   make(map[core.GPIOPin]bool),
		inputs:   make(map[core.GPIOPin]bool),
		rising:   make(map[core.GPIOPin]int),
		onRising: make(map[core.GPIOPin]func()),
	}
}

func (g *GPIO) ConfigureOutput(pin core.GPIOPin) error { return nil }
func (g *GPIO) ConfigureInput(pin core.GPIOPin) error  { return nil }

func (g *GPIO) SetPin(pin core.GPIOPin, value bool) {
	g.mu.Lock()
	prev := g.levels[pin]
	g.levels[pin] = value
	var hook func()
	if value && !prev {
		g.rising[pin]++
		hook = g.onRising[pin]
	}
	g.mu.Unlock()
	if hook != nil {
		hook()
	}
}

func (g *GPIO) ReadPin(pin core.GPIOPin) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.inputs[pin]
}

// SetInput drives an input pin, e.g. a limit switch.
func (g *GPIO) SetInput(pin core.GPIOPin, value bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.inputs[pin] = value
}

// Level returns the last written output level.
func (g *GPIO) Level(pin core.GPIOPin) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.levels[pin]
}

// RisingEdges returns the number of rising edges seen on pin.
func (g *GPIO) RisingEdges(pin core.GPIOPin) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.rising[pin]
}

// OnRising installs a callback fired on each rising edge of pin. Used
// to trip a limit switch after a number of homing steps.
func (g *GPIO) OnRising(pin core.GPIOPin, fn func()) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.onRising[pin] = fn
}
