package core

import (
	"bytes"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStepWireLayout(t *testing.T) {
	s := ProgramStep{
		ReagentValveID: 1,
		ColumnValveID:  4,
		FlowRate:       2.5,
		Volume:         float32(math.Inf(1)),
		Duration:       30,
	}
	buf := make([]byte, ProgramStepSize)
	EncodeStep(s, buf)

	want := []byte{
		0x01, 0x04, 0x00, 0x00, // ports + alignment hole
		0x00, 0x00, 0x20, 0x40, // 2.5
		0x00, 0x00, 0x80, 0x7F, // +Inf
		0x00, 0x00, 0xF0, 0x41, // 30.0
	}
	assert.True(t, bytes.Equal(buf, want), "layout = % X, want % X", buf, want)

	out := DecodeStep(buf)
	assert.Equal(t, s.ReagentValveID, out.ReagentValveID)
	assert.Equal(t, s.ColumnValveID, out.ColumnValveID)
	assert.Equal(t, s.FlowRate, out.FlowRate)
	assert.True(t, math.IsInf(float64(out.Volume), 1))
	assert.Equal(t, s.Duration, out.Duration)
}

func TestProgramWriteReadClear(t *testing.T) {
	p := NewProgram()
	assert.Zero(t, p.Length())

	require.NoError(t, p.WriteAt(0, ProgramStep{FlowRate: 1}))
	require.NoError(t, p.WriteAt(1, ProgramStep{FlowRate: 2}))
	assert.Equal(t, uint16(2), p.Length())
	assert.Equal(t, float32(2), p.ReadAt(1).FlowRate)

	// writing past the end grows the length to cover the gap
	require.NoError(t, p.WriteAt(10, ProgramStep{FlowRate: 3}))
	assert.Equal(t, uint16(11), p.Length())

	p.Clear()
	assert.Zero(t, p.Length())
}

func TestProgramCapacity(t *testing.T) {
	p := NewProgram()
	assert.Error(t, p.WriteAt(ProgramMaxLen, ProgramStep{}))
	require.NoError(t, p.WriteAt(ProgramMaxLen-1, ProgramStep{}))
	assert.Equal(t, uint16(ProgramMaxLen), p.Length())
}

func TestLoaderMultiBlock(t *testing.T) {
	p := NewProgram()
	l := NewLoader(p)

	// two blocks of two steps, as the link would deliver them
	block := make([]byte, 2*ProgramStepSize)
	EncodeStep(ProgramStep{ReagentValveID: 1, ColumnValveID: 2, FlowRate: 1}, block[0:])
	EncodeStep(ProgramStep{ReagentValveID: 3, ColumnValveID: 4, FlowRate: 2}, block[ProgramStepSize:])
	require.NoError(t, l.LoadFromBuffer(block))
	require.NoError(t, l.LoadFromBuffer(block))

	assert.Equal(t, uint16(4), p.Length())
	assert.Equal(t, uint8(1), p.ReadAt(2).ReagentValveID)

	l.Reset()
	assert.Zero(t, p.Length())
	require.NoError(t, l.LoadFromBuffer(block))
	assert.Equal(t, uint16(2), p.Length())
}

func TestProgramSerializeRoundTrip(t *testing.T) {
	p := NewProgram()
	steps := []ProgramStep{
		{ReagentValveID: 0, ColumnValveID: 1, FlowRate: 1.5, Volume: 2, Duration: float32(math.Inf(1))},
		{ReagentValveID: PortKeep, ColumnValveID: PortKeep, Volume: float32(math.Inf(1)), Duration: 5},
		{ReagentValveID: 5, ColumnValveID: 0, FlowRate: -3, Volume: 0.5, Duration: 60},
	}
	for i, s := range steps {
		require.NoError(t, p.WriteAt(uint16(i), s))
	}

	raw := p.ReadBlock(0, p.Length())
	q := NewProgram()
	l := NewLoader(q)
	require.NoError(t, l.LoadFromBuffer(raw))

	require.Equal(t, p.Length(), q.Length())
	for i := uint16(0); i < p.Length(); i++ {
		a, b := p.ReadAt(i), q.ReadAt(i)
		assert.Equal(t, a.ReagentValveID, b.ReagentValveID, "step %d", i)
		assert.Equal(t, a.ColumnValveID, b.ColumnValveID, "step %d", i)
		assert.Equal(t, a.FlowRate, b.FlowRate, "step %d", i)
		assert.Equal(t, a.Volume, b.Volume, "step %d", i)
		assert.Equal(t, a.Duration, b.Duration, "step %d", i)
	}
}

func TestNameTables(t *testing.T) {
	p := NewProgram()
	reagents := p.Reagents()
	require.Len(t, reagents, NameTableSize)
	assert.Equal(t, "Reagent_1", string(bytes.TrimRight(reagents[:NameEntrySize], "\x00")))
	assert.Equal(t, "Column_6", string(bytes.TrimRight(p.Columns()[5*NameEntrySize:], "\x00")))

	table := make([]byte, NameTableSize)
	copy(table, "Acetonitrile")
	p.SetReagents(table)
	assert.Equal(t, "Acetonitrile", string(bytes.TrimRight(p.Reagents()[:NameEntrySize], "\x00")))

	p.ResetNames()
	assert.Equal(t, "Reagent_1", string(bytes.TrimRight(p.Reagents()[:NameEntrySize], "\x00")))
}
