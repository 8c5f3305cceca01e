// Package web serves the browser-facing JSON API: live status, manual
// control, and program upload/run/stop, plus a websocket pushing the
// device snapshot to connected UIs.
package web

import (
	"encoding/json"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/WroblewskiAdam/column-stripper/core"
)

// statusInterval is the websocket push cadence.
const statusInterval = time.Second

// Server exposes the HTTP interface over the device stack.
type Server struct {
	device   *core.Device
	program  *core.Program
	loader   *core.Loader
	executor *core.Executor
	persist  core.Persister
	logger   *zap.Logger
	upgrader websocket.Upgrader
}

// New wires the server. persist may be nil.
func New(device *core.Device, program *core.Program, loader *core.Loader, executor *core.Executor, persist core.Persister, logger *zap.Logger) *Server {
	if persist == nil {
		persist = core.NopPersister{}
	}
	return &Server{
		device:   device,
		program:  program,
		loader:   loader,
		executor: executor,
		persist:  persist,
		logger:   logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// Routes registers every endpoint on a fresh mux.
func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("POST /api/manual/valves", s.handleSetValves)
	mux.HandleFunc("POST /api/manual/pump", s.handleSetPump)
	mux.HandleFunc("POST /api/program/upload", s.handleProgramUpload)
	mux.HandleFunc("POST /api/program/run", s.handleProgramRun)
	mux.HandleFunc("POST /api/program/stop", s.handleProgramStop)
	mux.HandleFunc("GET /api/program/get", s.handleProgramGet)
	mux.HandleFunc("GET /api/ws", s.handleWebsocket)
	return mux
}

// ListenAndServe blocks serving the API on addr.
func (s *Server) ListenAndServe(addr string) error {
	s.logger.Info("web server listening", zap.String("addr", addr))
	return http.ListenAndServe(addr, s.Routes())
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, s.device.State())
}

func (s *Server) handleSetValves(w http.ResponseWriter, r *http.Request) {
	reagent, err1 := formUint8(r, "reagent_valve_id")
	column, err2 := formUint8(r, "column_valve_id")
	if err1 != nil || err2 != nil {
		http.Error(w, "Error: Missing parameters.", http.StatusBadRequest)
		return
	}
	s.device.SetValves(reagent, column)
	w.Write([]byte("OK: Valve position set."))
}

func (s *Server) handleSetPump(w http.ResponseWriter, r *http.Request) {
	flow, err1 := formFloat(r, "pump_cmd")
	accel, err2 := formFloat(r, "acceleration")
	if err1 != nil || err2 != nil {
		http.Error(w, "Error: Missing parameters.", http.StatusBadRequest)
		return
	}
	s.device.SetPump(core.PumpCommand{FlowRate: flow, Acceleration: accel})
	w.Write([]byte("OK: Pump command sent."))
}

// jsonStep is the browser-side step encoding: a flush runs the pump
// through chosen ports, a wait holds everything for a duration. Both
// are stored time-terminated with unlimited volume.
type jsonStep struct {
	Type       string  `json:"type"`
	Reagent    uint8   `json:"reagent,omitempty"`
	Column     uint8   `json:"column,omitempty"`
	PumpSpeed  float32 `json:"pump_speed,omitempty"`
	DurationMs uint32  `json:"duration_ms"`
}

func (s *Server) handleProgramUpload(w http.ResponseWriter, r *http.Request) {
	var steps []jsonStep
	if err := json.NewDecoder(r.Body).Decode(&steps); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}
	s.executor.Abort()
	s.loader.Reset()
	length := uint16(0)
	for _, js := range steps {
		step := core.ProgramStep{
			Volume:   float32(math.Inf(1)),
			Duration: float32(js.DurationMs) / 1000,
		}
		switch js.Type {
		case "flush":
			step.ReagentValveID = js.Reagent
			step.ColumnValveID = js.Column
			step.FlowRate = js.PumpSpeed
		case "wait":
			step.ReagentValveID = core.PortKeep
			step.ColumnValveID = core.PortKeep
		default:
			continue
		}
		if err := s.program.WriteAt(length, step); err != nil {
			http.Error(w, "Program too long", http.StatusBadRequest)
			return
		}
		length++
	}
	if err := s.persist.SaveProgram(s.program); err != nil {
		s.logger.Error("persisting program", zap.Error(err))
	}
	w.Write([]byte("Program uploaded and saved successfully"))
}

func (s *Server) handleProgramRun(w http.ResponseWriter, r *http.Request) {
	s.executor.Execute()
	w.Write([]byte("Program started"))
}

func (s *Server) handleProgramStop(w http.ResponseWriter, r *http.Request) {
	s.executor.Abort()
	w.Write([]byte("Program stopped"))
}

func (s *Server) handleProgramGet(w http.ResponseWriter, r *http.Request) {
	length := s.program.Length()
	steps := make([]jsonStep, 0, length)
	for i := uint16(0); i < length; i++ {
		st := s.program.ReadAt(i)
		js := jsonStep{DurationMs: uint32(st.Duration * 1000)}
		if st.FlowRate == 0 && st.ReagentValveID == core.PortKeep {
			js.Type = "wait"
		} else {
			js.Type = "flush"
			js.Reagent = st.ReagentValveID
			js.Column = st.ColumnValveID
			js.PumpSpeed = st.FlowRate
		}
		steps = append(steps, js)
	}
	s.writeJSON(w, steps)
}

// handleWebsocket pushes a status snapshot every second until the
// client goes away.
func (s *Server) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()
	ticker := time.NewTicker(statusInterval)
	defer ticker.Stop()
	for {
		if err := conn.WriteJSON(s.device.State()); err != nil {
			return
		}
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("encoding response", zap.Error(err))
	}
}

func formUint8(r *http.Request, key string) (uint8, error) {
	v, err := strconv.ParseUint(r.FormValue(key), 10, 8)
	return uint8(v), err
}

func formFloat(r *http.Request, key string) (float32, error) {
	v, err := strconv.ParseFloat(r.FormValue(key), 32)
	return float32(v), err
}
