// cmd/accel-hald/main.go

// accel-hald runs the accelerometer stack as a host daemon: process bus,
// embedded config, HAL service, heartbeat and the MQTT bridge. The rig is
// either the in-process simulation or real hardware through periph.io.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"accelcode-go/bus"
	"accelcode-go/services/bridge"
	"accelcode-go/services/config"
	"accelcode-go/services/hal"
	"accelcode-go/services/heartbeat"
)

func main() {
	var (
		board  = flag.String("board", "sim", "embedded board config to load (sim, rpi-devkit)")
		i2cBus = flag.String("i2c", "1", "host I2C bus name for the periph run mode")
		sim    = flag.Bool("sim", false, "force the simulated rig regardless of board")
		addr   = flag.Uint("addr", 0x18, "accelerometer address for the simulated rig")
		intPin = flag.Int("int-pin", 6, "INT1 pin number for the simulated rig")
	)
	flag.Parse()

	log.SetFlags(log.LstdFlags | log.Lmsgprefix)
	log.SetPrefix("accel-hald ")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	b := bus.NewBus(16)

	go bridge.Start(ctx, b.NewConnection("bridge"))

	hb := &heartbeat.Service{}
	if err := hb.Start(ctx, b.NewConnection("heartbeat")); err != nil {
		log.Fatalf("heartbeat: %v", err)
	}

	halConn := b.NewConnection("hal")
	halDone := make(chan struct{})
	useSim := *sim || *board == "sim"
	go func() {
		defer close(halDone)
		if useSim {
			log.Printf("hal: simulated rig (addr 0x%02X, INT1 pin %d)", *addr, *intPin)
			hal.RunSim(ctx, halConn, uint16(*addr), *intPin)
			return
		}
		log.Printf("hal: periph.io rig (bus %s)", *i2cBus)
		if err := hal.RunPeriph(ctx, halConn, map[string]string{"i2c0": *i2cBus}); err != nil {
			log.Printf("hal: %v", err)
			stop()
		}
	}()

	// Config last; retained replay covers services either way.
	cfgCtx := context.WithValue(ctx, config.CtxBoardKey, *board)
	config.NewConfigService().Start(cfgCtx, b.NewConnection("config"))

	log.Printf("running (board %s)", *board)
	<-ctx.Done()
	<-halDone
	log.Print("stopped")
}
