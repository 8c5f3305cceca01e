//go:build tinygo

package main

import (
	"machine"

	"github.com/WroblewskiAdam/column-stripper/core"
)

// machineGPIO adapts machine.Pin to the core GPIO interface.
type machineGPIO struct{}

func (machineGPIO) ConfigureOutput(pin core.GPIOPin) error {
	machine.Pin(pin).Configure(machine.PinConfig{Mode: machine.PinOutput})
	return nil
}

func (machineGPIO) ConfigureInput(pin core.GPIOPin) error {
	machine.Pin(pin).Configure(machine.PinConfig{Mode: machine.PinInput})
	return nil
}

func (machineGPIO) SetPin(pin core.GPIOPin, value bool) {
	machine.Pin(pin).Set(value)
}

func (machineGPIO) ReadPin(pin core.GPIOPin) bool {
	return machine.Pin(pin).Get()
}
