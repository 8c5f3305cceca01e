package core

import "math"

const (
	// MaxFlow is the pump setpoint clamp in mL/min.
	MaxFlow = 10.0

	// MaxStepDelayMicros is returned from the step path when no motion
	// should happen; the step timer keeps ticking at this idle cadence.
	MaxStepDelayMicros = 100000

	// MinStepDelayMicros bounds the half-period at full speed.
	MinStepDelayMicros = 500

	// speedDeadZone below which the pump counts as stopped, in mL/min.
	speedDeadZone = 1e-6
)

// PumpCommand is a pump setpoint: a signed flow rate in mL/min (sign is
// direction) and an acceleration in mL/min per second.
type PumpCommand struct {
	FlowRate     float32
	Acceleration float32
}

// PumpConfig holds the static pump wiring and calibration.
type PumpConfig struct {
	EnablePin       GPIOPin
	DirectionPin    GPIOPin
	StepPin         GPIOPin
	Dt              float32 // control tick period in seconds
	InvertDirection bool
	VolumePerStep   float32 // uL per full step
}

// Pump drives the peristaltic stepper. Speed updates run on the slow
// control tick; step edges run from a one-shot timer at microsecond
// scale. The slow path publishes a half-period that the fast path
// consumes, so the timer callback only writes one pin and reschedules.
//
// Do not call SetPump directly when valves may move; go through
// Device.SetPump so the flow path is never switched under pressure.
type Pump struct {
	cfg  PumpConfig
	gpio GPIODriver

	targetSpeed  float32
	currentSpeed float32
	acceleration float32

	halfDelayMicros uint32
	enabled         bool
	stepHigh        bool

	volumeSteps uint64 // full steps since last reset

	// microseconds per half-step at 1 mL/min, from unit conversion
	speedCoeff float32
}

// NewPump creates the controller. Initialize must run before stepping.
func NewPump(cfg PumpConfig, gpio GPIODriver) *Pump {
	return &Pump{
		cfg:             cfg,
		gpio:            gpio,
		halfDelayMicros: MaxStepDelayMicros,
		speedCoeff:      30000 * cfg.VolumePerStep,
	}
}

// Initialize configures the pins. The driver starts disabled.
func (p *Pump) Initialize() error {
	for _, pin := range []GPIOPin{p.cfg.EnablePin, p.cfg.DirectionPin, p.cfg.StepPin} {
		if err := p.gpio.ConfigureOutput(pin); err != nil {
			return err
		}
	}
	p.gpio.SetPin(p.cfg.EnablePin, true) // active low
	return nil
}

// SetPump latches a new setpoint. Flow is clamped to ±MaxFlow; NaN is
// rejected so a bad frame can never reach the step timing.
func (p *Pump) SetPump(cmd PumpCommand) {
	if math.IsNaN(float64(cmd.FlowRate)) || math.IsNaN(float64(cmd.Acceleration)) {
		return
	}
	p.acceleration = cmd.Acceleration
	if p.acceleration < 0 {
		p.acceleration = -p.acceleration
	}
	switch {
	case cmd.FlowRate > MaxFlow:
		p.targetSpeed = MaxFlow
	case cmd.FlowRate < -MaxFlow:
		p.targetSpeed = -MaxFlow
	default:
		p.targetSpeed = cmd.FlowRate
	}
}

// TickSpeed advances the speed ramp by one control period and recomputes
// the half-period the step timer consumes.
func (p *Pump) TickSpeed() {
	increment := p.acceleration * p.cfg.Dt
	diff := p.targetSpeed - p.currentSpeed
	if abs32(diff) < increment {
		p.currentSpeed = p.targetSpeed
	} else if diff > 0 {
		p.currentSpeed += increment
	} else if diff < 0 {
		p.currentSpeed -= increment
	}

	if abs32(p.currentSpeed) < speedDeadZone {
		p.halfDelayMicros = MaxStepDelayMicros
		if p.enabled {
			p.disable()
		}
		return
	}
	if !p.enabled {
		p.enable()
	}
	delay := p.speedCoeff / abs32(p.currentSpeed)
	switch {
	case delay > MaxStepDelayMicros:
		p.halfDelayMicros = MaxStepDelayMicros
	case delay < MinStepDelayMicros:
		p.halfDelayMicros = MinStepDelayMicros
	default:
		p.halfDelayMicros = uint32(delay)
	}
}

// Step emits one half-step edge and returns the delay in microseconds
// until the next edge. Volume accumulates once per full step, on the
// rising edge. Called from the pump step timer only.
func (p *Pump) Step() uint32 {
	if !p.enabled || abs32(p.currentSpeed) < speedDeadZone {
		return MaxStepDelayMicros
	}
	// latch direction from the current sign before the edge
	if p.currentSpeed > 0 {
		p.gpio.SetPin(p.cfg.DirectionPin, !p.cfg.InvertDirection)
	} else {
		p.gpio.SetPin(p.cfg.DirectionPin, p.cfg.InvertDirection)
	}
	p.stepHigh = !p.stepHigh
	p.gpio.SetPin(p.cfg.StepPin, p.stepHigh)
	if p.stepHigh {
		p.volumeSteps++
	}
	return p.halfDelayMicros
}

// IsStopped reports whether the ramp has reached zero.
func (p *Pump) IsStopped() bool {
	return abs32(p.currentSpeed) < speedDeadZone
}

// Volume returns the accumulated delivered volume in uL since the last
// reset.
func (p *Pump) Volume() float32 {
	return float32(p.volumeSteps) * p.cfg.VolumePerStep
}

// ResetVolume clears the accumulator.
func (p *Pump) ResetVolume() {
	p.volumeSteps = 0
}

// CurrentSpeed returns the instantaneous ramp speed in mL/min.
func (p *Pump) CurrentSpeed() float32 {
	return p.currentSpeed
}

func (p *Pump) enable() {
	p.gpio.SetPin(p.cfg.EnablePin, false) // active low
	p.enabled = true
}

func (p *Pump) disable() {
	p.gpio.SetPin(p.cfg.EnablePin, true)
	p.enabled = false
}

func abs32(v float32) float32 {
	if v < 0 {
		return -v
	}
	return v
}
