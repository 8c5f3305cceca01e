//go:build tinygo

// Firmware entry point for the ESP32-class board: machine pins for the
// steppers and switches, the command link on the USB serial, and the
// control loop pinned to the reference 10 ms cadence.
package main

import (
	"machine"
	"time"

	"go.uber.org/zap"

	"github.com/WroblewskiAdam/column-stripper/core"
)

// Reference hardware wiring.
var deviceConfig = core.DeviceConfig{
	Pump: core.PumpConfig{
		EnablePin:       25,
		DirectionPin:    32,
		StepPin:         33,
		Dt:              0.01,
		InvertDirection: true,
		VolumePerStep:   0.0752192,
	},
	ReagentValve: core.ValveConfig{
		EnablePin:          14,
		DirectionPin:       26,
		StepPin:            27,
		LimitSwitchPin:     15,
		StepsPerRevolution: 200 * 8,
		InvertDirection:    true,
		HomeOffset:         365,
		PositionMapping:    [core.NumValvePorts]uint8{0, 5, 4, 3, 2, 1},
	},
	ColumnValve: core.ValveConfig{
		EnablePin:          4,
		DirectionPin:       17,
		StepPin:            16,
		LimitSwitchPin:     2,
		StepsPerRevolution: 200 * 8,
		InvertDirection:    true,
		HomeOffset:         365,
		PositionMapping:    [core.NumValvePorts]uint8{3, 2, 1, 0, 5, 4},
	},
}

const statusLEDPin = machine.Pin(48)

func main() {
	logger := zap.NewNop()
	clock := core.NewWallClock()

	device := core.NewDevice(deviceConfig, machineGPIO{})
	if err := device.Initialize(); err != nil {
		for {
			println("device init failed:", err.Error())
			time.Sleep(time.Second)
		}
	}

	program := core.NewProgram()
	loader := core.NewLoader(program)
	executor := core.NewExecutor(device, program, clock, logger)
	dispatcher := core.NewDispatcher(device, program, loader, executor, nil, logger)

	scale := newWeightBank(machine.Pin(21), [numWeightChannels]weightChannel{
		{data: machine.Pin(34), scaleFactor: 420.0},
		{data: machine.Pin(35), scaleFactor: 420.0},
	})
	_ = scale // reserved data path; read on demand

	go newStatusLED(statusLEDPin).run(device)

	go stepLoop(device.PumpStep)
	go stepLoop(device.ReagentValveTick)
	go stepLoop(device.ColumnValveTick)

	go func() {
		link := core.NewLink(serialPort{}, dispatcher, logger)
		for {
			if err := link.Poll(); err != nil {
				time.Sleep(10 * time.Millisecond)
			}
		}
	}()

	for {
		device.Tick()
		executor.Tick()
		time.Sleep(10 * time.Millisecond)
	}
}

func stepLoop(step func() uint32) {
	for {
		time.Sleep(time.Duration(step()) * time.Microsecond)
	}
}

// serialPort adapts machine.Serial to io.ReadWriter.
type serialPort struct{}

func (serialPort) Read(p []byte) (int, error) {
	n := 0
	for n < len(p) {
		b, err := machine.Serial.ReadByte()
		if err != nil {
			break
		}
		p[n] = b
		n++
	}
	return n, nil
}

func (serialPort) Write(p []byte) (int, error) {
	for _, b := range p {
		if err := machine.Serial.WriteByte(b); err != nil {
			return 0, err
		}
	}
	return len(p), nil
}
