package serial

import (
	goserial "go.bug.st/serial"
)

// ListPorts enumerates the serial ports present on the system. The
// native transport stays on tarm; go.bug.st is only used here because
// tarm has no enumeration.
func ListPorts() ([]string, error) {
	ports, err := goserial.GetPortsList()
	if err != nil {
		return nil, err
	}
	return ports, nil
}
