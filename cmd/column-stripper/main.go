// The column-stripper binary runs the controller firmware on a host:
// the full device stack against simulated pins, the framed command link
// on a serial device or a TCP listener, and the browser-facing HTTP
// API. Configuration comes from the environment (.env supported).
package main

import (
	"context"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/WroblewskiAdam/column-stripper/core"
	"github.com/WroblewskiAdam/column-stripper/firmware"
	"github.com/WroblewskiAdam/column-stripper/flash"
	"github.com/WroblewskiAdam/column-stripper/host/serial"
	"github.com/WroblewskiAdam/column-stripper/sim"
	"github.com/WroblewskiAdam/column-stripper/web"
)

type environment struct {
	SerialPort string
	SerialBaud int
	Listen     string
	HTTPAddr   string
	DataDir    string
}

func loadEnv(logger *zap.Logger) environment {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		logger.Warn("loading .env", zap.Error(err))
	}
	env := environment{
		SerialBaud: 115200,
		HTTPAddr:   ":8080",
		DataDir:    "data",
	}
	if v, ok := os.LookupEnv("SERIAL_PORT"); ok {
		env.SerialPort = v
	}
	if v, ok := os.LookupEnv("SERIAL_BAUD"); ok {
		baud, err := strconv.Atoi(v)
		if err != nil {
			logger.Fatal("parsing SERIAL_BAUD", zap.Error(err))
		}
		env.SerialBaud = baud
	}
	if v, ok := os.LookupEnv("LISTEN"); ok {
		env.Listen = v
	}
	if v, ok := os.LookupEnv("HTTP_ADDR"); ok {
		env.HTTPAddr = v
	}
	if v, ok := os.LookupEnv("DATA_DIR"); ok {
		env.DataDir = v
	}
	return env
}

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	env := loadEnv(logger)

	store, err := flash.NewStore(env.DataDir, logger)
	if err != nil {
		logger.Fatal("opening data dir", zap.Error(err))
	}

	ctrl, err := firmware.New(sim.DefaultDeviceConfig(), sim.NewGPIO(), core.NewWallClock(), store, logger)
	if err != nil {
		logger.Fatal("initializing device", zap.Error(err))
	}
	store.LoadProgram(ctrl.Program)
	store.LoadNames(ctrl.Program)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		server := web.New(ctrl.Device, ctrl.Program, ctrl.Loader, ctrl.Executor, store, logger)
		if err := server.ListenAndServe(env.HTTPAddr); err != nil {
			logger.Fatal("web server", zap.Error(err))
		}
	}()

	switch {
	case env.SerialPort != "":
		cfg := serial.DefaultConfig(env.SerialPort)
		cfg.Baud = env.SerialBaud
		port, err := serial.Open(cfg)
		if err != nil {
			logger.Fatal("opening serial port", zap.Error(err))
		}
		defer port.Close()
		logger.Info("command link on serial", zap.String("port", env.SerialPort), zap.Int("baud", env.SerialBaud))
		ctrl.Run(ctx, port)

	case env.Listen != "":
		ln, err := net.Listen("tcp", env.Listen)
		if err != nil {
			logger.Fatal("listening", zap.Error(err))
		}
		defer ln.Close()
		logger.Info("command link on tcp", zap.String("addr", env.Listen))
		go acceptLoop(ctx, ln, ctrl, logger)
		ctrl.Run(ctx, nil)

	default:
		logger.Info("no command link configured, HTTP only")
		ctrl.Run(ctx, nil)
	}
}

// acceptLoop serves the framed protocol to one client at a time.
func acceptLoop(ctx context.Context, ln net.Listener, ctrl *firmware.Controller, logger *zap.Logger) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Error("accepting connection", zap.Error(err))
			continue
		}
		logger.Info("client connected", zap.String("remote", conn.RemoteAddr().String()))
		link := core.NewLink(conn, ctrl.Dispatcher, logger)
		if err := link.Run(ctx); err != nil && ctx.Err() == nil {
			logger.Warn("client link ended", zap.Error(err))
		}
		conn.Close()
	}
}
