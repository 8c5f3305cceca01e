// Package core implements the real-time device-control subsystem of the
// chromatography controller: the peristaltic pump, the two radial
// selector valves, the device state machine that sequences them, the
// program executor and the command dispatcher.
package core

// GPIOPin identifies a hardware GPIO pin number.
type GPIOPin uint32

// GPIODriver is the abstract GPIO interface the controllers use.
// Target-specific code (machine pins on tinygo, sim pins in tests)
// provides the implementation.
type GPIODriver interface {
	// ConfigureOutput configures a pin as a digital output.
	ConfigureOutput(pin GPIOPin) error

	// ConfigureInput configures a pin as a digital input.
	ConfigureInput(pin GPIOPin) error

	// SetPin sets the pin high (true) or low (false).
	SetPin(pin GPIOPin, value bool)

	// ReadPin reads the current pin state.
	ReadPin(pin GPIOPin) bool
}
