package core

import (
	"math"
	"sync"

	"go.uber.org/zap"
)

// Executor advances through the program one step at a time, terminating
// each step on elapsed time or delivered volume, whichever comes first.
// Tick runs on the control task; Execute and Abort arrive from the
// communication task and take effect under the same lock.
type Executor struct {
	mu      sync.Mutex
	device  *Device
	program *Program
	clock   Clock
	logger  *zap.Logger

	running       bool
	stepIdx       uint16
	current       ProgramStep
	progress      uint8
	stepEndTimeMs int64
	stepEndVolUL  float32
}

// NewExecutor creates an executor over program and device.
func NewExecutor(device *Device, program *Program, clock Clock, logger *zap.Logger) *Executor {
	return &Executor{
		device:  device,
		program: program,
		clock:   clock,
		logger:  logger,
	}
}

// Execute (re)starts the program from step 0. An empty program finishes
// on the next tick.
func (e *Executor) Execute() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.running = true
	e.stepIdx = 0
	e.progress = 0
	e.current = e.program.ReadAt(0)
	if e.program.Length() == 0 {
		// nothing to run: the deadline is already due, so the next tick
		// takes the finish path
		e.stepEndTimeMs = e.clock.Millis()
		return
	}
	e.enterStep(e.current)
}

// Abort stops execution; the pump ramps down at the default
// acceleration while any valve motion completes on its own.
func (e *Executor) Abort() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.running = false
	e.device.SetPump(PumpCommand{FlowRate: 0, Acceleration: DefaultPumpAcceleration})
}

// IsRunning reports whether a program is executing.
func (e *Executor) IsRunning() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

// Tick publishes progress and, when running, checks the current step
// for termination, advancing to the next step or finishing.
func (e *Executor) Tick() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.device.setExecution(e.stepIdx, e.running, e.progress)
	if !e.running {
		return
	}
	if !e.checkTermination(e.current) {
		return
	}
	e.stepIdx++
	if e.stepIdx >= e.program.Length() {
		e.running = false
		e.logger.Info("program finished", zap.Uint16("steps", e.stepIdx))
		e.device.SetPump(PumpCommand{FlowRate: 0, Acceleration: DefaultPumpAcceleration})
		return
	}
	e.current = e.program.ReadAt(e.stepIdx)
	e.enterStep(e.current)
}

func (e *Executor) enterStep(s ProgramStep) {
	e.device.ResetPumpVolume()
	if s.ReagentValveID != PortKeep && s.ColumnValveID != PortKeep {
		e.device.SetValves(s.ReagentValveID, s.ColumnValveID)
	}
	e.device.SetPump(PumpCommand{FlowRate: s.FlowRate, Acceleration: DefaultPumpAcceleration})
	if math.IsInf(float64(s.Duration), 1) {
		e.stepEndTimeMs = math.MaxInt64
	} else {
		e.stepEndTimeMs = e.clock.Millis() + int64(s.Duration*1000)
	}
	e.stepEndVolUL = s.Volume * 1000 // mL to uL

	e.logger.Info("entered step",
		zap.Uint16("idx", e.stepIdx),
		zap.Uint8("reagent", s.ReagentValveID),
		zap.Uint8("column", s.ColumnValveID),
		zap.Float32("flow_rate", s.FlowRate),
		zap.Float32("volume", s.Volume),
		zap.Float32("duration", s.Duration),
	)
}

// checkTermination reports whether the current step is done and updates
// the progress byte: the dominant of the time and volume fractions,
// scaled to 0..255, or 255 on termination. The time comparison is a
// strict less-than, so a deadline landing exactly on a tick terminates
// on the following tick.
func (e *Executor) checkTermination(s ProgramStep) bool {
	now := e.clock.Millis()
	if e.stepEndTimeMs < now {
		e.progress = 255
		return true
	}
	var timeProgress uint8
	if !math.IsInf(float64(s.Duration), 1) {
		timeProgress = uint8(255 * (1 - float32(e.stepEndTimeMs-now)/(s.Duration*1000)))
	}
	vol := e.device.PumpVolume()
	if vol >= e.stepEndVolUL {
		e.progress = 255
		return true
	}
	volumeProgress := uint8(255 * vol / e.stepEndVolUL)
	if timeProgress > volumeProgress {
		e.progress = timeProgress
	} else {
		e.progress = volumeProgress
	}
	return false
}
