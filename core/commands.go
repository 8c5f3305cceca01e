package core

import (
	"encoding/binary"
	"errors"
	"math"

	"go.uber.org/zap"

	"github.com/WroblewskiAdam/column-stripper/protocol"
)

// Command ids on the framed link.
const (
	CmdPing             = 0
	CmdSetValves        = 1
	CmdSetPump          = 2
	CmdGetWeight        = 3
	CmdInitProgramWrite = 4
	CmdWriteProgram     = 5
	CmdExecuteProgram   = 6
	CmdReadProgram      = 7
	CmdGetProgramLength = 8
	CmdGetReagents      = 9
	CmdGetColumns       = 10
	CmdSetReagents      = 11
	CmdSetColumns       = 12
	CmdAbortProgram     = 13
	CmdGetDeviceState   = 14
	CmdTareWeight       = 15 // reserved, acked but inactive
)

// Ack codes.
const (
	AckOK       = 0
	AckUnknown  = 1
	AckOverflow = 2
)

// PumpCommandSize is the wire size of a PumpCommand argument.
const PumpCommandSize = 8

// EncodePumpCommand writes the 8-byte little-endian wire image.
func EncodePumpCommand(cmd PumpCommand) []byte {
	buf := make([]byte, PumpCommandSize)
	binary.LittleEndian.PutUint32(buf[0:], math.Float32bits(cmd.FlowRate))
	binary.LittleEndian.PutUint32(buf[4:], math.Float32bits(cmd.Acceleration))
	return buf
}

// DecodePumpCommand reads an 8-byte wire image.
func DecodePumpCommand(buf []byte) (PumpCommand, error) {
	if len(buf) < PumpCommandSize {
		return PumpCommand{}, errors.New("core: short pump command")
	}
	return PumpCommand{
		FlowRate:     math.Float32frombits(binary.LittleEndian.Uint32(buf[0:])),
		Acceleration: math.Float32frombits(binary.LittleEndian.Uint32(buf[4:])),
	}, nil
}

// Persister is notified when the dispatcher mutates state worth keeping
// across reboots. The flash package implements it; tests plug a no-op.
type Persister interface {
	SaveProgram(p *Program) error
	SaveNames(p *Program) error
}

// NopPersister discards every save.
type NopPersister struct{}

func (NopPersister) SaveProgram(*Program) error { return nil }
func (NopPersister) SaveNames(*Program) error   { return nil }

// Dispatcher decodes command payloads from the link and routes them to
// the device, the program store and the executor. One request produces
// exactly one response payload; frame-level errors never reach it.
type Dispatcher struct {
	device   *Device
	program  *Program
	loader   *Loader
	executor *Executor
	persist  Persister
	logger   *zap.Logger
}

// NewDispatcher wires the dispatcher. persist may be nil.
func NewDispatcher(device *Device, program *Program, loader *Loader, executor *Executor, persist Persister, logger *zap.Logger) *Dispatcher {
	if persist == nil {
		persist = NopPersister{}
	}
	return &Dispatcher{
		device:   device,
		program:  program,
		loader:   loader,
		executor: executor,
		persist:  persist,
		logger:   logger,
	}
}

func ack(code uint8) []byte {
	return []byte{code}
}

// Dispatch handles one decoded frame payload (command id followed by
// arguments) and returns the response payload to frame back. A nil or
// empty payload yields no response.
func (d *Dispatcher) Dispatch(payload []byte) []byte {
	if len(payload) == 0 {
		return nil
	}
	id := payload[0]
	args := payload[1:]

	switch id {
	case CmdPing:
		return ack(AckOK)

	case CmdSetValves:
		if len(args) < 2 {
			return ack(AckUnknown)
		}
		d.device.SetValves(args[0], args[1])
		return ack(AckOK)

	case CmdSetPump:
		cmd, err := DecodePumpCommand(args)
		if err != nil {
			return ack(AckUnknown)
		}
		d.device.SetPump(cmd)
		return ack(AckOK)

	case CmdGetWeight:
		// reserved for the weight-sensor data path
		return ack(AckOK)

	case CmdInitProgramWrite:
		d.executor.Abort()
		d.loader.Reset()
		return ack(AckOK)

	case CmdWriteProgram:
		if err := d.loader.LoadFromBuffer(args); err != nil {
			d.logger.Warn("program write overflow", zap.Uint16("capacity", ProgramMaxLen))
			return ack(AckOverflow)
		}
		return ack(AckOK)

	case CmdExecuteProgram:
		d.executor.Execute()
		return ack(AckOK)

	case CmdReadProgram:
		if len(args) < 4 {
			return ack(AckUnknown)
		}
		start := binary.BigEndian.Uint16(args[0:])
		count := binary.BigEndian.Uint16(args[2:])
		if int(count)*ProgramStepSize > protocol.PayloadMax {
			count = protocol.PayloadMax / ProgramStepSize
		}
		return d.program.ReadBlock(start, count)

	case CmdGetProgramLength:
		buf := make([]byte, 4)
		binary.BigEndian.PutUint16(buf[0:], d.program.Length())
		binary.BigEndian.PutUint16(buf[2:], ProgramMaxLen)
		return buf

	case CmdGetReagents:
		return d.program.Reagents()

	case CmdGetColumns:
		return d.program.Columns()

	case CmdSetReagents:
		d.program.SetReagents(args)
		d.saveNames()
		return ack(AckOK)

	case CmdSetColumns:
		d.program.SetColumns(args)
		d.saveNames()
		return ack(AckOK)

	case CmdAbortProgram:
		d.executor.Abort()
		return ack(AckOK)

	case CmdGetDeviceState:
		state := d.device.State()
		return state.MarshalBinary()

	case CmdTareWeight:
		return ack(AckOK)

	default:
		d.logger.Debug("unknown command", zap.Uint8("id", id))
		return ack(AckUnknown)
	}
}

func (d *Dispatcher) saveNames() {
	if err := d.persist.SaveNames(d.program); err != nil {
		d.logger.Error("saving name tables", zap.Error(err))
	}
}
