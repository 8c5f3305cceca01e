package sim

import (
	"go.uber.org/zap"

	"github.com/WroblewskiAdam/column-stripper/core"
)

// Default wiring for the simulated device; pin numbers match the
// reference hardware so traces read the same.
var (
	DefaultPumpConfig = core.PumpConfig{
		EnablePin:       25,
		DirectionPin:    32,
		StepPin:         33,
		Dt:              0.01,
		InvertDirection: true,
		VolumePerStep:   0.0752192,
	}
	DefaultReagentValveConfig = core.ValveConfig{
		EnablePin:          14,
		DirectionPin:       26,
		StepPin:            27,
		LimitSwitchPin:     15,
		StepsPerRevolution: 200 * 8,
		InvertDirection:    true,
		HomeOffset:         365,
		PositionMapping:    [core.NumValvePorts]uint8{0, 5, 4, 3, 2, 1},
	}
	DefaultColumnValveConfig = core.ValveConfig{
		EnablePin:          4,
		DirectionPin:       17,
		StepPin:            16,
		LimitSwitchPin:     2,
		StepsPerRevolution: 200 * 8,
		InvertDirection:    true,
		HomeOffset:         365,
		PositionMapping:    [core.NumValvePorts]uint8{3, 2, 1, 0, 5, 4},
	}
)

// DefaultDeviceConfig assembles the reference wiring.
func DefaultDeviceConfig() core.DeviceConfig {
	return core.DeviceConfig{
		Pump:         DefaultPumpConfig,
		ReagentValve: DefaultReagentValveConfig,
		ColumnValve:  DefaultColumnValveConfig,
	}
}

const controlTickMicros = 10000

// Rig is a whole simulated controller on a virtual clock: device,
// program, executor and the four timers the firmware runs (the 10 ms
// control tick and the three one-shot step timers). Tests drive it with
// Run* and inspect the core directly.
type Rig struct {
	Sched      *Scheduler
	GPIO       *GPIO
	Device     *core.Device
	Program    *core.Program
	Loader     *core.Loader
	Executor   *core.Executor
	Dispatcher *core.Dispatcher
}

// NewRig builds and initializes a simulated controller. Valve limit
// switches trip automatically after a short stretch of homing travel
// so homing always converges.
func NewRig(logger *zap.Logger) *Rig {
	if logger == nil {
		logger = zap.NewNop()
	}
	sched := NewScheduler()
	gpio := NewGPIO()
	cfg := DefaultDeviceConfig()
	device := core.NewDevice(cfg, gpio)
	program := core.NewProgram()
	loader := core.NewLoader(program)
	executor := core.NewExecutor(device, program, sched, logger)
	dispatcher := core.NewDispatcher(device, program, loader, executor, nil, logger)

	r := &Rig{
		Sched:      sched,
		GPIO:       gpio,
		Device:     device,
		Program:    program,
		Loader:     loader,
		Executor:   executor,
		Dispatcher: dispatcher,
	}
	if err := device.Initialize(); err != nil {
		logger.Fatal("initializing simulated device", zap.Error(err))
	}
	r.autoHome(device.ReagentValve, cfg.ReagentValve)
	r.autoHome(device.ColumnValve, cfg.ColumnValve)
	r.startTimers()
	return r
}

// autoHome trips a valve's limit switch after ~50 homing steps and
// releases it as soon as the valve steps while not homing. The hook
// runs on the valve's own step path, so reading the state is safe.
func (r *Rig) autoHome(v *core.Valve, cfg core.ValveConfig) {
	steps := 0
	r.GPIO.OnRising(cfg.StepPin, func() {
		if v.State() != core.ValveHoming {
			r.GPIO.SetInput(cfg.LimitSwitchPin, false)
			steps = 0
			return
		}
		steps++
		if steps >= 50 {
			r.GPIO.SetInput(cfg.LimitSwitchPin, true)
			steps = 0
		}
	})
}

func (r *Rig) startTimers() {
	// 10 ms control tick: ramp, FSM, executor
	r.Sched.ScheduleFunc(controlTickMicros, func(t *Timer) int {
		r.Device.Tick()
		r.Executor.Tick()
		t.WakeTime += controlTickMicros
		return Reschedule
	})
	// three one-shot step timers, each rearmed with the returned delay
	r.Sched.ScheduleFunc(controlTickMicros, func(t *Timer) int {
		t.WakeTime = r.Sched.Now() + int64(r.Device.PumpStep())
		return Reschedule
	})
	r.Sched.ScheduleFunc(controlTickMicros, func(t *Timer) int {
		t.WakeTime = r.Sched.Now() + int64(r.Device.ReagentValveTick())
		return Reschedule
	})
	r.Sched.ScheduleFunc(controlTickMicros, func(t *Timer) int {
		t.WakeTime = r.Sched.Now() + int64(r.Device.ColumnValveTick())
		return Reschedule
	})
}

// RunMillis advances the simulation by ms of virtual time.
func (r *Rig) RunMillis(ms int64) {
	r.Sched.RunFor(ms * 1000)
}

// RunSeconds advances the simulation by s of virtual time.
func (r *Rig) RunSeconds(s float64) {
	r.Sched.RunFor(int64(s * 1e6))
}
