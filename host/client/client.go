// Package client implements the host side of the framed command link:
// request/response plumbing plus typed wrappers for every command the
// controller understands.
package client

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/WroblewskiAdam/column-stripper/core"
	"github.com/WroblewskiAdam/column-stripper/host/serial"
	"github.com/WroblewskiAdam/column-stripper/protocol"
)

// ErrTimeout is returned when the controller does not answer in time.
var ErrTimeout = errors.New("client: response timeout")

// ErrNak is returned when the controller acks with a non-zero code.
type ErrNak struct {
	Code uint8
}

func (e ErrNak) Error() string {
	return fmt.Sprintf("client: device nak (code %d)", e.Code)
}

// StepsPerBlock is how many program steps fit one write_program_block
// frame: the payload byte budget minus the command id.
const StepsPerBlock = (protocol.PayloadMax - 1) / core.ProgramStepSize

// Client speaks the framed protocol over a serial.Port.
type Client struct {
	port    serial.Port
	reader  *protocol.FrameReader
	timeout time.Duration
	logger  *zap.Logger
}

// New wraps an open port. timeout bounds each request round trip.
func New(port serial.Port, timeout time.Duration, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		port:    port,
		reader:  protocol.NewFrameReader(port),
		timeout: timeout,
		logger:  logger,
	}
}

// Connect opens a native serial port and wraps it.
func Connect(device string, logger *zap.Logger) (*Client, error) {
	port, err := serial.Open(serial.DefaultConfig(device))
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", device, err)
	}
	return New(port, 2*time.Second, logger), nil
}

// Close closes the underlying port.
func (c *Client) Close() error {
	return c.port.Close()
}

// roundTrip frames payload, sends it and waits for one response frame.
func (c *Client) roundTrip(payload []byte) ([]byte, error) {
	frame, err := protocol.Encode(payload)
	if err != nil {
		return nil, err
	}
	if _, err := c.port.Write(frame); err != nil {
		return nil, fmt.Errorf("writing frame: %w", err)
	}
	resp, err := c.reader.ReadFrame(c.timeout)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	if resp == nil {
		return nil, ErrTimeout
	}
	return resp, nil
}

// command sends an ack-style command and checks the ack code.
func (c *Client) command(payload []byte) error {
	resp, err := c.roundTrip(payload)
	if err != nil {
		return err
	}
	if len(resp) != 1 {
		return fmt.Errorf("client: unexpected %d-byte ack", len(resp))
	}
	if resp[0] != core.AckOK {
		return ErrNak{Code: resp[0]}
	}
	return nil
}

// Ping checks the link end to end.
func (c *Client) Ping() error {
	return c.command([]byte{core.CmdPing})
}

// SetValves requests both valve positions; the controller sequences the
// pump stop around the move.
func (c *Client) SetValves(reagent, column uint8) error {
	return c.command([]byte{core.CmdSetValves, reagent, column})
}

// SetPump sends a manual pump setpoint.
func (c *Client) SetPump(cmd core.PumpCommand) error {
	payload := append([]byte{core.CmdSetPump}, core.EncodePumpCommand(cmd)...)
	return c.command(payload)
}

// UploadProgram clears the stored program and uploads steps in blocks
// of at most StepsPerBlock.
func (c *Client) UploadProgram(steps []core.ProgramStep) error {
	if err := c.command([]byte{core.CmdInitProgramWrite}); err != nil {
		return fmt.Errorf("init program write: %w", err)
	}
	for start := 0; start < len(steps); start += StepsPerBlock {
		end := start + StepsPerBlock
		if end > len(steps) {
			end = len(steps)
		}
		block := steps[start:end]
		payload := make([]byte, 1+len(block)*core.ProgramStepSize)
		payload[0] = core.CmdWriteProgram
		for i, s := range block {
			core.EncodeStep(s, payload[1+i*core.ProgramStepSize:])
		}
		if err := c.command(payload); err != nil {
			return fmt.Errorf("write block at %d: %w", start, err)
		}
	}
	c.logger.Info("program uploaded", zap.Int("steps", len(steps)))
	return nil
}

// ProgramLength reads the stored length and the capacity.
func (c *Client) ProgramLength() (length, capacity uint16, err error) {
	resp, err := c.roundTrip([]byte{core.CmdGetProgramLength})
	if err != nil {
		return 0, 0, err
	}
	if len(resp) < 4 {
		return 0, 0, fmt.Errorf("client: short program-length response")
	}
	return uint16(resp[0])<<8 | uint16(resp[1]), uint16(resp[2])<<8 | uint16(resp[3]), nil
}

// ReadProgram fetches the whole stored program block by block.
func (c *Client) ReadProgram() ([]core.ProgramStep, error) {
	length, _, err := c.ProgramLength()
	if err != nil {
		return nil, err
	}
	steps := make([]core.ProgramStep, 0, length)
	for start := uint16(0); start < length; start += StepsPerBlock {
		count := uint16(StepsPerBlock)
		if start+count > length {
			count = length - start
		}
		payload := []byte{core.CmdReadProgram,
			byte(start >> 8), byte(start),
			byte(count >> 8), byte(count)}
		resp, err := c.roundTrip(payload)
		if err != nil {
			return nil, fmt.Errorf("read block at %d: %w", start, err)
		}
		if len(resp) < int(count)*core.ProgramStepSize {
			return nil, fmt.Errorf("client: short program block (%d bytes)", len(resp))
		}
		for i := 0; i < int(count); i++ {
			steps = append(steps, core.DecodeStep(resp[i*core.ProgramStepSize:]))
		}
	}
	return steps, nil
}

// ExecuteProgram starts execution of whatever has been uploaded.
func (c *Client) ExecuteProgram() error {
	return c.command([]byte{core.CmdExecuteProgram})
}

// AbortProgram stops execution; the pump ramps down on the controller.
func (c *Client) AbortProgram() error {
	return c.command([]byte{core.CmdAbortProgram})
}

// DeviceState reads the current snapshot.
func (c *Client) DeviceState() (core.DeviceState, error) {
	resp, err := c.roundTrip([]byte{core.CmdGetDeviceState})
	if err != nil {
		return core.DeviceState{}, err
	}
	var state core.DeviceState
	if !state.UnmarshalBinary(resp) {
		return core.DeviceState{}, fmt.Errorf("client: short device state (%d bytes)", len(resp))
	}
	return state, nil
}

// Reagents reads the reagent name table.
func (c *Client) Reagents() ([]string, error) {
	return c.nameTable(core.CmdGetReagents)
}

// Columns reads the column name table.
func (c *Client) Columns() ([]string, error) {
	return c.nameTable(core.CmdGetColumns)
}

// SetReagents writes the reagent name table.
func (c *Client) SetReagents(names []string) error {
	return c.command(append([]byte{core.CmdSetReagents}, packNames(names)...))
}

// SetColumns writes the column name table.
func (c *Client) SetColumns(names []string) error {
	return c.command(append([]byte{core.CmdSetColumns}, packNames(names)...))
}

func (c *Client) nameTable(id uint8) ([]string, error) {
	resp, err := c.roundTrip([]byte{id})
	if err != nil {
		return nil, err
	}
	if len(resp) < core.NameTableSize {
		return nil, fmt.Errorf("client: short name table (%d bytes)", len(resp))
	}
	names := make([]string, core.NameTableEntries)
	for i := range names {
		entry := resp[i*core.NameEntrySize : (i+1)*core.NameEntrySize]
		end := 0
		for end < len(entry) && entry[end] != 0 {
			end++
		}
		names[i] = string(entry[:end])
	}
	return names, nil
}

func packNames(names []string) []byte {
	buf := make([]byte, core.NameTableSize)
	for i, name := range names {
		if i >= core.NameTableEntries {
			break
		}
		entry := buf[i*core.NameEntrySize : (i+1)*core.NameEntrySize]
		copy(entry[:len(entry)-1], name) // keep a terminating NUL
	}
	return buf
}
