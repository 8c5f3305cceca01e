package client

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/WroblewskiAdam/column-stripper/core"
	"github.com/WroblewskiAdam/column-stripper/protocol"
	"github.com/WroblewskiAdam/column-stripper/sim"
)

// newLinkedClient wires a client to a simulated controller through the
// in-memory loopback, with the firmware comm task running.
func newLinkedClient(t *testing.T) (*Client, *sim.Rig) {
	t.Helper()
	rig := sim.NewRig(nil)
	loop := sim.NewLoopback()
	t.Cleanup(loop.Close)

	link := core.NewLink(loop.Device(), rig.Dispatcher, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go link.Run(ctx)

	return New(loop.Host(), 2*time.Second, zap.NewNop()), rig
}

func TestPing(t *testing.T) {
	c, _ := newLinkedClient(t)
	require.NoError(t, c.Ping())
}

func TestCorruptFrameIsIgnored(t *testing.T) {
	c, _ := newLinkedClient(t)

	// a ping frame with its last CRC byte flipped must produce no ack
	frame, err := protocol.Encode([]byte{core.CmdPing})
	require.NoError(t, err)
	frame[len(frame)-1] ^= 0xFF
	_, err = c.port.Write(frame)
	require.NoError(t, err)

	resp, err := c.reader.ReadFrame(100 * time.Millisecond)
	require.NoError(t, err)
	assert.Nil(t, resp, "corrupted frame must not be acknowledged")

	// the link still works afterward
	require.NoError(t, c.Ping())
}

func TestProgramUploadReadBack(t *testing.T) {
	c, rig := newLinkedClient(t)

	steps := make([]core.ProgramStep, 40) // three blocks on the wire
	for i := range steps {
		steps[i] = core.ProgramStep{
			ReagentValveID: uint8(i % 6),
			ColumnValveID:  uint8((i + 1) % 6),
			FlowRate:       float32(i) / 4,
			Volume:         float32(math.Inf(1)),
			Duration:       float32(i),
		}
	}
	require.NoError(t, c.UploadProgram(steps))

	length, capacity, err := c.ProgramLength()
	require.NoError(t, err)
	assert.Equal(t, uint16(40), length)
	assert.Equal(t, uint16(core.ProgramMaxLen), capacity)
	assert.Equal(t, uint16(40), rig.Program.Length())

	got, err := c.ReadProgram()
	require.NoError(t, err)
	require.Len(t, got, 40)
	for i := range steps {
		assert.Equal(t, steps[i].ReagentValveID, got[i].ReagentValveID, "step %d", i)
		assert.Equal(t, steps[i].FlowRate, got[i].FlowRate, "step %d", i)
		assert.True(t, math.IsInf(float64(got[i].Volume), 1), "step %d", i)
	}
}

func TestManualControl(t *testing.T) {
	c, rig := newLinkedClient(t)

	require.NoError(t, c.SetPump(core.PumpCommand{FlowRate: 2, Acceleration: 100}))
	require.NoError(t, c.SetValves(1, 4))
	assert.Equal(t, core.FSMStopping, rig.Device.FSM())
}

func TestExecuteAndState(t *testing.T) {
	c, rig := newLinkedClient(t)
	require.NoError(t, rig.Program.WriteAt(0, core.ProgramStep{
		ReagentValveID: core.PortKeep, ColumnValveID: core.PortKeep,
		FlowRate: 1, Volume: float32(math.Inf(1)), Duration: float32(math.Inf(1)),
	}))

	require.NoError(t, c.ExecuteProgram())
	assert.True(t, rig.Executor.IsRunning())

	rig.RunMillis(50)
	state, err := c.DeviceState()
	require.NoError(t, err)
	assert.Equal(t, uint8(1), state.Running)

	require.NoError(t, c.AbortProgram())
	assert.False(t, rig.Executor.IsRunning())
}

func TestNameTables(t *testing.T) {
	c, _ := newLinkedClient(t)

	require.NoError(t, c.SetReagents([]string{"Water", "Methanol"}))
	reagents, err := c.Reagents()
	require.NoError(t, err)
	assert.Equal(t, "Water", reagents[0])
	assert.Equal(t, "Methanol", reagents[1])
	assert.Equal(t, "", reagents[2], "unset entries come back empty")

	columns, err := c.Columns()
	require.NoError(t, err)
	assert.Equal(t, "Column_1", columns[0])
}
