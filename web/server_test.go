package web

import (
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/WroblewskiAdam/column-stripper/core"
	"github.com/WroblewskiAdam/column-stripper/sim"
)

func newTestServer(t *testing.T) (*httptest.Server, *sim.Rig) {
	t.Helper()
	rig := sim.NewRig(nil)
	srv := New(rig.Device, rig.Program, rig.Loader, rig.Executor, nil, zap.NewNop())
	ts := httptest.NewServer(srv.Routes())
	t.Cleanup(ts.Close)
	return ts, rig
}

func TestStatusEndpoint(t *testing.T) {
	ts, rig := newTestServer(t)
	rig.RunMillis(20)

	resp, err := http.Get(ts.URL + "/api/status")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var status map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&status))
	for _, key := range []string{
		"pump_speed", "pump_volume", "program_step_idx", "device_state",
		"reagent_valve_position", "reagent_valve_state",
		"column_valve_position", "column_valve_state",
		"running", "program_step_progress",
	} {
		assert.Contains(t, status, key)
	}
	assert.Equal(t, float64(core.FSMPumping), status["device_state"])
}

func TestManualEndpoints(t *testing.T) {
	ts, rig := newTestServer(t)

	resp, err := http.PostForm(ts.URL+"/api/manual/pump", url.Values{
		"pump_cmd":     {"2.5"},
		"acceleration": {"100"},
	})
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	rig.RunMillis(10)
	assert.Greater(t, float64(rig.Device.State().PumpSpeed), 0.0)

	resp, err = http.PostForm(ts.URL+"/api/manual/valves", url.Values{
		"reagent_valve_id": {"2"},
		"column_valve_id":  {"3"},
	})
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, core.FSMStopping, rig.Device.FSM())

	resp, err = http.PostForm(ts.URL+"/api/manual/pump", url.Values{"pump_cmd": {"1"}})
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode, "missing acceleration")
}

func TestProgramUploadRunStop(t *testing.T) {
	ts, rig := newTestServer(t)

	body := `[
		{"type":"flush","reagent":1,"column":0,"pump_speed":2.0,"duration_ms":30000},
		{"type":"wait","duration_ms":5000}
	]`
	resp, err := http.Post(ts.URL+"/api/program/upload", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, uint16(2), rig.Program.Length())

	step := rig.Program.ReadAt(0)
	assert.Equal(t, uint8(1), step.ReagentValveID)
	assert.Equal(t, float32(2.0), step.FlowRate)
	assert.True(t, math.IsInf(float64(step.Volume), 1), "web uploads are always time-terminated")
	assert.Equal(t, float32(30), step.Duration)

	wait := rig.Program.ReadAt(1)
	assert.Equal(t, uint8(core.PortKeep), wait.ReagentValveID)
	assert.Zero(t, wait.FlowRate)

	resp, err = http.Post(ts.URL+"/api/program/run", "", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.True(t, rig.Executor.IsRunning())

	resp, err = http.Post(ts.URL+"/api/program/stop", "", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.False(t, rig.Executor.IsRunning())
}

func TestProgramGetRoundTrip(t *testing.T) {
	ts, _ := newTestServer(t)

	body := `[
		{"type":"flush","reagent":4,"column":2,"pump_speed":1.5,"duration_ms":1000},
		{"type":"wait","duration_ms":2000}
	]`
	resp, err := http.Post(ts.URL+"/api/program/upload", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	resp.Body.Close()

	resp, err = http.Get(ts.URL + "/api/program/get")
	require.NoError(t, err)
	defer resp.Body.Close()

	var steps []map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&steps))
	require.Len(t, steps, 2)
	assert.Equal(t, "flush", steps[0]["type"])
	assert.Equal(t, float64(4), steps[0]["reagent"])
	assert.Equal(t, float64(1000), steps[0]["duration_ms"])
	assert.Equal(t, "wait", steps[1]["type"])
	assert.Equal(t, float64(2000), steps[1]["duration_ms"])
}

func TestUploadRejectsBadJSON(t *testing.T) {
	ts, _ := newTestServer(t)
	resp, err := http.Post(ts.URL+"/api/program/upload", "application/json", strings.NewReader("{not json"))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
