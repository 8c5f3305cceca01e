package core

import (
	"encoding/binary"
	"math"
	"sync"
	"sync/atomic"
)

// Device FSM states, published verbatim in DeviceState.
type FSMState uint8

const (
	FSMInitializing FSMState = iota
	FSMPumping
	FSMStopping
	FSMSettingValves
)

func (s FSMState) String() string {
	switch s {
	case FSMInitializing:
		return "initializing"
	case FSMPumping:
		return "pumping"
	case FSMStopping:
		return "stopping"
	case FSMSettingValves:
		return "setting_valves"
	default:
		return "unknown"
	}
}

// stoppingDecel is the deceleration commanded while flushing the pump to
// zero ahead of a valve move, in mL/min per second.
const stoppingDecel = 10.0

// DeviceStateSize is the wire size of a DeviceState snapshot.
const DeviceStateSize = 20

// DeviceState is the snapshot published every control tick. The
// 20-byte little-endian wire image, padding included, is fixed; hosts
// decode it byte-for-byte.
type DeviceState struct {
	PumpSpeed           float32 `json:"pump_speed"`
	PumpVolume          float32 `json:"pump_volume"`
	ProgramStepIdx      uint16  `json:"program_step_idx"`
	State               uint8   `json:"device_state"`
	ReagentValvePos     uint8   `json:"reagent_valve_position"`
	ReagentValveState   uint8   `json:"reagent_valve_state"`
	ColumnValvePos      uint8   `json:"column_valve_position"`
	ColumnValveState    uint8   `json:"column_valve_state"`
	Running             uint8   `json:"running"`
	ProgramStepProgress uint8   `json:"program_step_progress"`
}

// MarshalBinary encodes the snapshot into its 20-byte wire image.
func (s *DeviceState) MarshalBinary() []byte {
	buf := make([]byte, DeviceStateSize)
	binary.LittleEndian.PutUint32(buf[0:], math.Float32bits(s.PumpSpeed))
	binary.LittleEndian.PutUint32(buf[4:], math.Float32bits(s.PumpVolume))
	binary.LittleEndian.PutUint16(buf[8:], s.ProgramStepIdx)
	buf[10] = s.State
	buf[11] = s.ReagentValvePos
	buf[12] = s.ReagentValveState
	buf[13] = s.ColumnValvePos
	buf[14] = s.ColumnValveState
	buf[15] = s.Running
	buf[16] = s.ProgramStepProgress
	// buf[17:20] padding
	return buf
}

// UnmarshalBinary decodes a 20-byte wire image.
func (s *DeviceState) UnmarshalBinary(buf []byte) bool {
	if len(buf) < DeviceStateSize {
		return false
	}
	s.PumpSpeed = math.Float32frombits(binary.LittleEndian.Uint32(buf[0:]))
	s.PumpVolume = math.Float32frombits(binary.LittleEndian.Uint32(buf[4:]))
	s.ProgramStepIdx = binary.LittleEndian.Uint16(buf[8:])
	s.State = buf[10]
	s.ReagentValvePos = buf[11]
	s.ReagentValveState = buf[12]
	s.ColumnValvePos = buf[13]
	s.ColumnValveState = buf[14]
	s.Running = buf[15]
	s.ProgramStepProgress = buf[16]
	return true
}

// DeviceConfig aggregates the static wiring of the whole device.
type DeviceConfig struct {
	Pump         PumpConfig
	ReagentValve ValveConfig
	ColumnValve  ValveConfig
}

// Device owns the pump and both valves and sequences them so the fluid
// path never changes while the pump is moving: a valve request forces
// the FSM through Stopping (flow ramps to zero) and SettingValves (both
// valves travel) before the latched pump setpoint is applied again.
//
// All mutation happens under one mutex. Tick and the step entry points
// are called from the control task and the step timers; SetPump and
// SetValves may be called from any goroutine and take effect on the
// next tick. The published snapshot is replaced as a whole, so readers
// never see a torn state.
type Device struct {
	mu sync.Mutex

	Pump         *Pump
	ReagentValve *Valve
	ColumnValve  *Valve

	fsm          FSMState
	pumpCmd      PumpCommand
	reagentID    uint8
	columnID     uint8
	stepIdx      uint16
	running      bool
	stepProgress uint8

	published atomic.Pointer[DeviceState]
}

// NewDevice wires the three controllers from one config.
func NewDevice(cfg DeviceConfig, gpio GPIODriver) *Device {
	d := &Device{
		Pump:         NewPump(cfg.Pump, gpio),
		ReagentValve: NewValve(cfg.ReagentValve, gpio),
		ColumnValve:  NewValve(cfg.ColumnValve, gpio),
		fsm:          FSMPumping,
	}
	d.published.Store(&DeviceState{
		State:             uint8(FSMInitializing),
		ReagentValvePos:   PortUnknown,
		ColumnValvePos:    PortUnknown,
		ReagentValveState: uint8(ValveReset),
		ColumnValveState:  uint8(ValveReset),
	})
	return d
}

// Initialize configures all pins.
func (d *Device) Initialize() error {
	if err := d.Pump.Initialize(); err != nil {
		return err
	}
	if err := d.ReagentValve.Initialize(); err != nil {
		return err
	}
	return d.ColumnValve.Initialize()
}

// SetValves latches the requested ports and forces the FSM into
// Stopping. Ports above the last valve port are clamped.
func (d *Device) SetValves(reagentID, columnID uint8) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.reagentID = clampPort(reagentID)
	d.columnID = clampPort(columnID)
	d.fsm = FSMStopping
}

// SetPump latches a pump setpoint; it is applied each tick while the
// FSM is in Pumping, and re-applied automatically after a valve move.
func (d *Device) SetPump(cmd PumpCommand) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.pumpCmd = cmd
}

// Tick runs one 10 ms control step: advance the FSM, then publish a
// fresh snapshot.
func (d *Device) Tick() {
	d.mu.Lock()
	defer d.mu.Unlock()

	switch d.fsm {
	case FSMPumping:
		d.Pump.SetPump(d.pumpCmd)
	case FSMStopping:
		d.Pump.SetPump(PumpCommand{FlowRate: 0, Acceleration: stoppingDecel})
		if d.Pump.IsStopped() {
			d.fsm = FSMSettingValves
			d.ReagentValve.RequestPosition(d.reagentID)
			d.ColumnValve.RequestPosition(d.columnID)
		}
	case FSMSettingValves:
		if d.ReagentValve.ReachedTarget() && d.ColumnValve.ReachedTarget() {
			d.fsm = FSMPumping
		}
	}
	d.Pump.TickSpeed()

	d.published.Store(&DeviceState{
		PumpSpeed:           d.Pump.CurrentSpeed(),
		PumpVolume:          d.Pump.Volume(),
		ProgramStepIdx:      d.stepIdx,
		State:               uint8(d.fsm),
		ReagentValvePos:     d.ReagentValve.Position(),
		ReagentValveState:   uint8(d.ReagentValve.State()),
		ColumnValvePos:      d.ColumnValve.Position(),
		ColumnValveState:    uint8(d.ColumnValve.State()),
		Running:             boolByte(d.running),
		ProgramStepProgress: d.stepProgress,
	})
}

// PumpStep is the pump step-timer entry point.
func (d *Device) PumpStep() uint32 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.Pump.Step()
}

// ReagentValveTick is the reagent-valve step-timer entry point.
func (d *Device) ReagentValveTick() uint32 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.ReagentValve.Tick()
}

// ColumnValveTick is the column-valve step-timer entry point.
func (d *Device) ColumnValveTick() uint32 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.ColumnValve.Tick()
}

// State returns the last published snapshot. The pointer is never
// written through; callers copy if they mutate.
func (d *Device) State() DeviceState {
	return *d.published.Load()
}

// FSM returns the current state-machine state.
func (d *Device) FSM() FSMState {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.fsm
}

// PumpVolume reads the delivered-volume accumulator, in uL.
func (d *Device) PumpVolume() float32 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.Pump.Volume()
}

// ResetPumpVolume clears the accumulator at a step boundary.
func (d *Device) ResetPumpVolume() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.Pump.ResetVolume()
}

// setExecution is the executor's write path into the published snapshot.
func (d *Device) setExecution(stepIdx uint16, running bool, progress uint8) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stepIdx = stepIdx
	d.running = running
	d.stepProgress = progress
	state := *d.published.Load()
	state.ProgramStepIdx = stepIdx
	state.Running = boolByte(running)
	state.ProgramStepProgress = progress
	d.published.Store(&state)
}

func clampPort(id uint8) uint8 {
	if id >= NumValvePorts {
		return NumValvePorts - 1
	}
	return id
}

func boolByte(b bool) uint8 {
	if b {
		return 1
	}
	return 0
}
