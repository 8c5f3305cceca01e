package core

// NumValvePorts is the number of physical ports on a radial valve.
const NumValvePorts = 6

// PortKeep in a program step means "keep the current valve position".
const PortKeep = 0xFF

// PortUnknown is reported until a valve has been commanded somewhere.
const PortUnknown = 0xFF

// Valve states, published verbatim in DeviceState.
type ValveState uint8

const (
	ValveReset  ValveState = iota // idle, never homed, driver disabled
	ValveHoming                   // driving toward the limit switch
	ValveStopped                  // at target, driver disabled
	ValveMoving                   // driving toward target, driver enabled
)

func (s ValveState) String() string {
	switch s {
	case ValveReset:
		return "reset"
	case ValveHoming:
		return "homing"
	case ValveStopped:
		return "stopped"
	case ValveMoving:
		return "moving"
	default:
		return "unknown"
	}
}

const (
	valveMinStepMicros = 500
	valveMaxStepMicros = 30000
	valveSmoothness    = 100
)

// ValveConfig maps logical ports onto the motor. PositionMapping allows
// the physical port wiring to differ from the operator-facing numbering:
// port p targets raw position PositionMapping[p]*(StepsPerRevolution/6).
// HomeOffset is the raw position the counter is set to when the limit
// switch asserts.
type ValveConfig struct {
	EnablePin          GPIOPin
	DirectionPin       GPIOPin
	StepPin            GPIOPin
	LimitSwitchPin     GPIOPin
	StepsPerRevolution uint16
	InvertDirection    bool
	HomeOffset         uint16
	PositionMapping    [NumValvePorts]uint8
}

// Valve drives one radial selector valve. Tick runs the state machine
// from a one-shot timer and returns the next delay; motion always starts
// at the slow end of the ramp and decays geometrically toward the fast
// end. Travel is monotonic in the configured direction; the raw counter
// wraps at a full revolution.
//
// Do not call RequestPosition directly when the pump may be running; go
// through Device.SetValves.
type Valve struct {
	cfg  ValveConfig
	gpio GPIODriver

	state       ValveState
	homed       bool
	stepHigh    bool
	rawPosition uint16
	targetRaw   uint16
	stepsPerPos uint16
	port        uint8
	stepMicros  uint32
}

// NewValve creates the controller. Initialize must run before stepping.
func NewValve(cfg ValveConfig, gpio GPIODriver) *Valve {
	return &Valve{
		cfg:        cfg,
		gpio:       gpio,
		port:       PortUnknown,
		stepMicros: valveMaxStepMicros,
	}
}

// Initialize configures the pins and leaves the valve in Reset.
func (v *Valve) Initialize() error {
	for _, pin := range []GPIOPin{v.cfg.EnablePin, v.cfg.DirectionPin, v.cfg.StepPin} {
		if err := v.gpio.ConfigureOutput(pin); err != nil {
			return err
		}
	}
	if err := v.gpio.ConfigureInput(v.cfg.LimitSwitchPin); err != nil {
		return err
	}
	v.gpio.SetPin(v.cfg.EnablePin, true) // active low
	v.gpio.SetPin(v.cfg.DirectionPin, v.cfg.InvertDirection)
	v.stepsPerPos = v.cfg.StepsPerRevolution / NumValvePorts
	return nil
}

// Home enables the driver and starts driving toward the limit switch.
func (v *Valve) Home() {
	v.state = ValveHoming
	v.gpio.SetPin(v.cfg.EnablePin, false)
	v.stepMicros = valveMaxStepMicros // start slow
}

// RequestPosition stores the target port. A valve that has never been
// homed homes first; the move itself begins when Tick next observes the
// raw position differing from the target.
func (v *Valve) RequestPosition(port uint8) {
	if port >= NumValvePorts {
		port = NumValvePorts - 1
	}
	v.port = port
	if !v.homed {
		v.Home()
	}
	v.stepMicros = valveMaxStepMicros // start slow
	v.targetRaw = uint16(v.cfg.PositionMapping[port]) * v.stepsPerPos
}

// Tick runs one state-machine step and returns the delay in
// microseconds until the next tick. Called from the valve's one-shot
// timer only.
func (v *Valve) Tick() uint32 {
	switch v.state {
	case ValveReset:
		// idle until homed or commanded

	case ValveHoming:
		if v.gpio.ReadPin(v.cfg.LimitSwitchPin) {
			v.gpio.SetPin(v.cfg.EnablePin, true)
			v.state = ValveStopped
			v.homed = true
			v.rawPosition = v.cfg.HomeOffset
		} else {
			v.speedUp()
			v.step()
		}

	case ValveStopped:
		if v.rawPosition != v.targetRaw {
			v.gpio.SetPin(v.cfg.EnablePin, false)
			v.state = ValveMoving
		}

	case ValveMoving:
		if v.rawPosition == v.targetRaw {
			v.state = ValveStopped
			v.gpio.SetPin(v.cfg.EnablePin, true)
		} else {
			v.speedUp()
			v.step()
		}
	}
	return v.stepMicros
}

// ReachedTarget reports whether the valve is settled (or never started).
// A valve that is stopped short of its target, as right after homing,
// has not reached it yet.
func (v *Valve) ReachedTarget() bool {
	return v.state == ValveReset || (v.state == ValveStopped && v.rawPosition == v.targetRaw)
}

// Position returns the last requested logical port, PortUnknown before
// the first request.
func (v *Valve) Position() uint8 {
	return v.port
}

// State returns the current controller state.
func (v *Valve) State() ValveState {
	return v.state
}

func (v *Valve) step() {
	if !v.stepHigh {
		// count a step once per full cycle
		v.rawPosition++
		if v.rawPosition == v.cfg.StepsPerRevolution {
			v.rawPosition = 0
		}
	}
	v.stepHigh = !v.stepHigh
	v.gpio.SetPin(v.cfg.StepPin, v.stepHigh)
}

func (v *Valve) speedUp() {
	if v.stepMicros > valveMinStepMicros {
		v.stepMicros -= v.stepMicros / valveSmoothness
	}
	if v.stepMicros < valveMinStepMicros {
		v.stepMicros = valveMinStepMicros
	}
}
