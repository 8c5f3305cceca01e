// stripperctl is the operator CLI for the chromatography controller:
// link checks, manual pump and valve control, program upload and
// execution, all over the framed serial protocol.
package main

import (
	"encoding/json"
	"fmt"
	"math"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/WroblewskiAdam/column-stripper/core"
	"github.com/WroblewskiAdam/column-stripper/host/client"
	"github.com/WroblewskiAdam/column-stripper/host/serial"
)

var (
	device  string
	tcpAddr string
	logger  *zap.Logger
)

func connect() (*client.Client, error) {
	if tcpAddr != "" {
		conn, err := net.DialTimeout("tcp", tcpAddr, 2*time.Second)
		if err != nil {
			return nil, fmt.Errorf("dialing %s: %w", tcpAddr, err)
		}
		return client.New(conn, 2*time.Second, logger), nil
	}
	return client.Connect(device, logger)
}

func withClient(fn func(*client.Client) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		c, err := connect()
		if err != nil {
			return err
		}
		defer c.Close()
		return fn(c)
	}
}

func main() {
	var err error
	logger, err = zap.NewDevelopment()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	root := &cobra.Command{
		Use:           "stripperctl",
		Short:         "Control the column-stripper chromatography device",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&device, "device", "d", "/dev/ttyUSB0", "serial device path")
	root.PersistentFlags().StringVar(&tcpAddr, "tcp", "", "connect over TCP instead of serial (host:port)")

	root.AddCommand(
		pingCmd(),
		statusCmd(),
		pumpCmd(),
		valvesCmd(),
		uploadCmd(),
		programCmd(),
		runCmd(),
		abortCmd(),
		portsCmd(),
		namesCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func pingCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ping",
		Short: "Check the command link",
		RunE: withClient(func(c *client.Client) error {
			start := time.Now()
			if err := c.Ping(); err != nil {
				return err
			}
			fmt.Printf("pong in %s\n", time.Since(start).Round(time.Microsecond))
			return nil
		}),
	}
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Read the device state",
		RunE: withClient(func(c *client.Client) error {
			state, err := c.DeviceState()
			if err != nil {
				return err
			}
			out, err := json.MarshalIndent(state, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(out))
			return nil
		}),
	}
}

func pumpCmd() *cobra.Command {
	accel := float32(core.DefaultPumpAcceleration)
	cmd := &cobra.Command{
		Use:   "pump <flow mL/min>",
		Short: "Set the pump flow rate",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			flow, err := strconv.ParseFloat(args[0], 32)
			if err != nil {
				return fmt.Errorf("parsing flow rate: %w", err)
			}
			c, err := connect()
			if err != nil {
				return err
			}
			defer c.Close()
			return c.SetPump(core.PumpCommand{FlowRate: float32(flow), Acceleration: accel})
		},
	}
	cmd.Flags().Float32VarP(&accel, "accel", "a", accel, "acceleration in mL/min per second")
	return cmd
}

func valvesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "valves <reagent 0-5> <column 0-5>",
		Short: "Move both selector valves",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			reagent, err := strconv.ParseUint(args[0], 10, 8)
			if err != nil {
				return fmt.Errorf("parsing reagent port: %w", err)
			}
			column, err := strconv.ParseUint(args[1], 10, 8)
			if err != nil {
				return fmt.Errorf("parsing column port: %w", err)
			}
			c, err := connect()
			if err != nil {
				return err
			}
			defer c.Close()
			return c.SetValves(uint8(reagent), uint8(column))
		},
	}
}

// fileStep is the upload file format: one JSON object per step, the
// same shape the web UI posts.
type fileStep struct {
	Type       string  `json:"type"`
	Reagent    uint8   `json:"reagent"`
	Column     uint8   `json:"column"`
	PumpSpeed  float32 `json:"pump_speed"`
	DurationMs uint32  `json:"duration_ms"`
}

func uploadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "upload <program.json>",
		Short: "Upload a program file to the device",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			buf, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			var fileSteps []fileStep
			if err := json.Unmarshal(buf, &fileSteps); err != nil {
				return fmt.Errorf("parsing %s: %w", args[0], err)
			}
			steps := make([]core.ProgramStep, 0, len(fileSteps))
			for _, fs := range fileSteps {
				step := core.ProgramStep{
					Volume:   float32(math.Inf(1)),
					Duration: float32(fs.DurationMs) / 1000,
				}
				switch fs.Type {
				case "flush":
					step.ReagentValveID = fs.Reagent
					step.ColumnValveID = fs.Column
					step.FlowRate = fs.PumpSpeed
				case "wait":
					step.ReagentValveID = core.PortKeep
					step.ColumnValveID = core.PortKeep
				default:
					return fmt.Errorf("unknown step type %q", fs.Type)
				}
				steps = append(steps, step)
			}
			c, err := connect()
			if err != nil {
				return err
			}
			defer c.Close()
			if err := c.UploadProgram(steps); err != nil {
				return err
			}
			fmt.Printf("uploaded %d steps\n", len(steps))
			return nil
		},
	}
}

func programCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "program",
		Short: "Read back the stored program",
		RunE: withClient(func(c *client.Client) error {
			steps, err := c.ReadProgram()
			if err != nil {
				return err
			}
			for i, s := range steps {
				fmt.Printf("%3d: reagent=%s column=%s flow=%.3f mL/min volume=%v mL duration=%v s\n",
					i, portString(s.ReagentValveID), portString(s.ColumnValveID),
					s.FlowRate, s.Volume, s.Duration)
			}
			return nil
		}),
	}
}

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Execute the stored program",
		RunE: withClient(func(c *client.Client) error {
			return c.ExecuteProgram()
		}),
	}
}

func abortCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "abort",
		Short: "Abort the running program",
		RunE: withClient(func(c *client.Client) error {
			return c.AbortProgram()
		}),
	}
}

func portsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ports",
		Short: "List serial ports on this machine",
		RunE: func(cmd *cobra.Command, args []string) error {
			ports, err := serial.ListPorts()
			if err != nil {
				return err
			}
			for _, p := range ports {
				fmt.Println(p)
			}
			return nil
		},
	}
}

func namesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "names",
		Short: "Show the reagent and column name tables",
		RunE: withClient(func(c *client.Client) error {
			reagents, err := c.Reagents()
			if err != nil {
				return err
			}
			columns, err := c.Columns()
			if err != nil {
				return err
			}
			for i := 0; i < core.NameTableEntries; i++ {
				fmt.Printf("port %d: reagent=%-20s column=%s\n", i, reagents[i], columns[i])
			}
			return nil
		}),
	}
}

func portString(p uint8) string {
	if p == core.PortKeep {
		return "keep"
	}
	return strconv.Itoa(int(p))
}
