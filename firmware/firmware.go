// Package firmware assembles the controller runtime: the 10 ms control
// task, the communication task on the framed link, and the three step
// timers, one per stepper. On hardware these are two pinned RTOS tasks
// and three one-shot hardware timers; here each is a goroutine.
package firmware

import (
	"context"
	"io"
	"time"

	"go.uber.org/zap"

	"github.com/WroblewskiAdam/column-stripper/core"
)

const controlTick = 10 * time.Millisecond

// Controller owns the whole device stack.
type Controller struct {
	Device     *core.Device
	Program    *core.Program
	Loader     *core.Loader
	Executor   *core.Executor
	Dispatcher *core.Dispatcher

	logger *zap.Logger
}

// New builds the stack over the given hardware. persist may be nil.
func New(cfg core.DeviceConfig, gpio core.GPIODriver, clock core.Clock, persist core.Persister, logger *zap.Logger) (*Controller, error) {
	device := core.NewDevice(cfg, gpio)
	if err := device.Initialize(); err != nil {
		return nil, err
	}
	program := core.NewProgram()
	loader := core.NewLoader(program)
	executor := core.NewExecutor(device, program, clock, logger)
	dispatcher := core.NewDispatcher(device, program, loader, executor, persist, logger)
	return &Controller{
		Device:     device,
		Program:    program,
		Loader:     loader,
		Executor:   executor,
		Dispatcher: dispatcher,
		logger:     logger,
	}, nil
}

// Run starts every task and blocks until the context ends. transport
// may be nil when the command link is not wired (HTTP-only bench use).
func (c *Controller) Run(ctx context.Context, transport io.ReadWriter) {
	go c.stepLoop(ctx, c.Device.PumpStep)
	go c.stepLoop(ctx, c.Device.ReagentValveTick)
	go c.stepLoop(ctx, c.Device.ColumnValveTick)

	if transport != nil {
		link := core.NewLink(transport, c.Dispatcher, c.logger)
		go func() {
			if err := link.Run(ctx); err != nil && ctx.Err() == nil {
				c.logger.Error("communication task stopped", zap.Error(err))
			}
		}()
	}

	c.logger.Info("control task running", zap.Duration("tick", controlTick))
	ticker := time.NewTicker(controlTick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Device.Tick()
			c.Executor.Tick()
		}
	}
}

// stepLoop is one step timer: call the controller, sleep the returned
// delay, repeat. The controllers return their idle cadence when there
// is nothing to do, so the loop never spins.
func (c *Controller) stepLoop(ctx context.Context, step func() uint32) {
	for {
		delay := time.Duration(step()) * time.Microsecond
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}
