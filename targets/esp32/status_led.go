//go:build tinygo

package main

import (
	"image/color"
	"machine"
	"time"

	"tinygo.org/x/drivers/ws2812"

	"github.com/WroblewskiAdam/column-stripper/core"
)

// statusLED drives the board's WS2812 RGB LED from the published device
// state: green while pumping, amber while stopping, blue while the
// valves travel.
type statusLED struct {
	dev ws2812.Device
}

func newStatusLED(pin machine.Pin) *statusLED {
	pin.Configure(machine.PinConfig{Mode: machine.PinOutput})
	return &statusLED{dev: ws2812.New(pin)}
}

func (l *statusLED) run(device *core.Device) {
	for {
		var c color.RGBA
		switch core.FSMState(device.State().State) {
		case core.FSMPumping:
			c = color.RGBA{G: 32}
		case core.FSMStopping:
			c = color.RGBA{R: 32, G: 16}
		case core.FSMSettingValves:
			c = color.RGBA{B: 32}
		default:
			c = color.RGBA{R: 32}
		}
		l.dev.WriteColors([]color.RGBA{c})
		time.Sleep(250 * time.Millisecond)
	}
}
