//go:build tinygo

package main

import (
	"errors"
	"machine"
	"time"
)

// HX711 gain selections, expressed as extra clock pulses after the
// 24 data bits.
const (
	hxGain128 = 1
	hxGain64  = 2
	hxGain32  = 3
)

const numWeightChannels = 2

// weightChannel is one load cell: its data pin and calibration.
type weightChannel struct {
	data        machine.Pin
	scaleFactor float32
	offset      float32
}

// weightBank reads several HX711 amplifiers that share one clock pin,
// shifting all data lines in simultaneously.
type weightBank struct {
	clock    machine.Pin
	gain     int
	channels [numWeightChannels]weightChannel
	raw      [numWeightChannels]int32
}

func newWeightBank(clock machine.Pin, channels [numWeightChannels]weightChannel) *weightBank {
	b := &weightBank{clock: clock, gain: hxGain128, channels: channels}
	b.clock.Configure(machine.PinConfig{Mode: machine.PinOutput})
	for _, ch := range b.channels {
		ch.data.Configure(machine.PinConfig{Mode: machine.PinInput})
	}
	return b
}

func (b *weightBank) ready() bool {
	for _, ch := range b.channels {
		if ch.data.Get() {
			return false
		}
	}
	return true
}

// measure shifts in one 24-bit sample per channel and applies the gain
// pulses for the next conversion.
func (b *weightBank) measure() {
	b.shiftIn(2)
	b.shiftIn(1)
	b.shiftIn(0)
	for i := 0; i < b.gain; i++ {
		b.clock.High()
		time.Sleep(time.Microsecond)
		b.clock.Low()
		time.Sleep(time.Microsecond)
	}
	for i := range b.raw {
		// sign-extend the 24-bit two's complement reading
		if b.raw[i]&0x800000 != 0 {
			b.raw[i] |= ^int32(0xFFFFFF)
		} else {
			b.raw[i] &= 0xFFFFFF
		}
	}
}

func (b *weightBank) shiftIn(byteIndex int) {
	for i := range b.raw {
		b.raw[i] &^= 0xFF << (8 * byteIndex)
	}
	for bit := 0; bit < 8; bit++ {
		b.clock.High()
		time.Sleep(time.Microsecond)
		for j, ch := range b.channels {
			if ch.data.Get() {
				b.raw[j] |= 1 << (8*byteIndex + 7 - bit)
			}
		}
		b.clock.Low()
		time.Sleep(time.Microsecond)
	}
}

// ReadGrams implements core.WeightSensor.
func (b *weightBank) ReadGrams(channel int) (float32, error) {
	if channel < 0 || channel >= numWeightChannels {
		return 0, errors.New("weight: bad channel")
	}
	for !b.ready() {
		time.Sleep(time.Millisecond)
	}
	b.measure()
	ch := b.channels[channel]
	return (float32(b.raw[channel]) - ch.offset) / ch.scaleFactor, nil
}

// Tare implements core.WeightSensor by zeroing at the current load.
func (b *weightBank) Tare(channel int) error {
	if channel < 0 || channel >= numWeightChannels {
		return errors.New("weight: bad channel")
	}
	for !b.ready() {
		time.Sleep(time.Millisecond)
	}
	b.measure()
	b.channels[channel].offset = float32(b.raw[channel])
	return nil
}
