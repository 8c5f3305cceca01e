package core

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sync"
)

const (
	// ProgramStepSize is the fixed wire size of one step: two port
	// bytes, two alignment bytes, three IEEE-754 floats.
	ProgramStepSize = 16

	// ProgramMaxMemory bounds the step store.
	ProgramMaxMemory = 65536

	// ProgramMaxLen is the step capacity.
	ProgramMaxLen = ProgramMaxMemory / ProgramStepSize

	// NameTableEntries and NameEntrySize shape the reagent/column name
	// tables: 6 fixed 40-byte ASCII slots.
	NameTableEntries = 6
	NameEntrySize    = 40
	NameTableSize    = NameTableEntries * NameEntrySize
)

// DefaultPumpAcceleration is applied to every program step and to the
// ramp-down after an abort, in mL/min per second.
const DefaultPumpAcceleration = 5.0

var ErrProgramFull = errors.New("program: capacity exceeded")

// ProgramStep is one program instruction. A port of PortKeep (0xFF)
// leaves the valves where they are. Volume and Duration use +Inf for
// "no limit".
type ProgramStep struct {
	ReagentValveID uint8
	ColumnValveID  uint8
	FlowRate       float32 // mL/min, signed
	Volume         float32 // mL, +Inf for unlimited
	Duration       float32 // seconds, +Inf for unlimited
}

// EncodeStep writes the 16-byte little-endian wire image. The two
// bytes after the ports are an alignment hole in the wire layout; they
// stay zero so persisted programs remain readable across firmware
// revisions.
func EncodeStep(s ProgramStep, buf []byte) {
	buf[0] = s.ReagentValveID
	buf[1] = s.ColumnValveID
	buf[2] = 0
	buf[3] = 0
	binary.LittleEndian.PutUint32(buf[4:], math.Float32bits(s.FlowRate))
	binary.LittleEndian.PutUint32(buf[8:], math.Float32bits(s.Volume))
	binary.LittleEndian.PutUint32(buf[12:], math.Float32bits(s.Duration))
}

// DecodeStep reads a 16-byte wire image.
func DecodeStep(buf []byte) ProgramStep {
	return ProgramStep{
		ReagentValveID: buf[0],
		ColumnValveID:  buf[1],
		FlowRate:       math.Float32frombits(binary.LittleEndian.Uint32(buf[4:])),
		Volume:         math.Float32frombits(binary.LittleEndian.Uint32(buf[8:])),
		Duration:       math.Float32frombits(binary.LittleEndian.Uint32(buf[12:])),
	}
}

// Program is the step store plus the reagent and column name tables.
// The dispatcher is the only writer while no execution is in progress;
// the executor is the only reader during execution.
type Program struct {
	mu       sync.RWMutex
	steps    [ProgramMaxLen]ProgramStep
	nSteps   uint16
	reagents [NameTableSize]byte
	columns  [NameTableSize]byte
}

// NewProgram starts empty with default names.
func NewProgram() *Program {
	p := &Program{}
	p.setDefaultNames()
	return p
}

// WriteAt stores a step, growing the length when writing past the end.
func (p *Program) WriteAt(idx uint16, s ProgramStep) error {
	if idx >= ProgramMaxLen {
		return ErrProgramFull
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.steps[idx] = s
	if idx >= p.nSteps {
		p.nSteps = idx + 1
	}
	return nil
}

// ReadAt returns the step at idx. Steps past the length are unspecified
// but in-range reads never fail.
func (p *Program) ReadAt(idx uint16) ProgramStep {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if idx >= ProgramMaxLen {
		return ProgramStep{}
	}
	return p.steps[idx]
}

// Length returns the number of stored steps.
func (p *Program) Length() uint16 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.nSteps
}

// Clear drops all steps.
func (p *Program) Clear() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.nSteps = 0
}

// ReadBlock copies count raw-encoded steps starting at start. Requests
// past the capacity are truncated.
func (p *Program) ReadBlock(start, count uint16) []byte {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if start >= ProgramMaxLen {
		return nil
	}
	if int(start)+int(count) > ProgramMaxLen {
		count = ProgramMaxLen - start
	}
	buf := make([]byte, int(count)*ProgramStepSize)
	for i := uint16(0); i < count; i++ {
		EncodeStep(p.steps[start+i], buf[int(i)*ProgramStepSize:])
	}
	return buf
}

// Reagents returns a copy of the 240-byte reagent name table.
func (p *Program) Reagents() []byte {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]byte, NameTableSize)
	copy(out, p.reagents[:])
	return out
}

// Columns returns a copy of the 240-byte column name table.
func (p *Program) Columns() []byte {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]byte, NameTableSize)
	copy(out, p.columns[:])
	return out
}

// SetReagents overwrites the reagent name table. Short buffers only
// overwrite their prefix.
func (p *Program) SetReagents(buf []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	copy(p.reagents[:], buf)
}

// SetColumns overwrites the column name table.
func (p *Program) SetColumns(buf []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	copy(p.columns[:], buf)
}

func (p *Program) setDefaultNames() {
	for i := 0; i < NameTableEntries; i++ {
		copy(p.reagents[i*NameEntrySize:(i+1)*NameEntrySize], fmt.Sprintf("Reagent_%d", i+1))
		copy(p.columns[i*NameEntrySize:(i+1)*NameEntrySize], fmt.Sprintf("Column_%d", i+1))
	}
}

// ResetNames restores the default name tables.
func (p *Program) ResetNames() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reagents = [NameTableSize]byte{}
	p.columns = [NameTableSize]byte{}
	p.setDefaultNames()
}

// Loader appends steps decoded from raw command-link blocks. A block
// carries at most 15 steps, so uploads arrive in many blocks; the
// cursor survives between blocks and Reset marks the upload boundary.
type Loader struct {
	program *Program
	cursor  uint16
}

// NewLoader creates a loader over program.
func NewLoader(program *Program) *Loader {
	return &Loader{program: program}
}

// LoadFromBuffer decodes len(buf)/16 steps and appends them at the
// cursor. Steps that would not fit are dropped and ErrProgramFull is
// returned so the dispatcher can signal the overflow.
func (l *Loader) LoadFromBuffer(buf []byte) error {
	n := len(buf) / ProgramStepSize
	for i := 0; i < n; i++ {
		step := DecodeStep(buf[i*ProgramStepSize:])
		if err := l.program.WriteAt(l.cursor, step); err != nil {
			return err
		}
		l.cursor++
	}
	return nil
}

// Reset clears the program and rewinds the cursor.
func (l *Loader) Reset() {
	l.cursor = 0
	l.program.Clear()
}
