// services/hal/hal.go

// Package hal runs the hardware abstraction service over the process bus.
// It owns device construction, measurement scheduling and the capability
// topic tree; run modes differ only in where the I2C bus and the interrupt
// pins come from.
package hal

import (
	"context"
	"time"

	"accelcode-go/bus"
	"accelcode-go/services/hal/internal/platform"
	"accelcode-go/services/hal/internal/service"

	_ "accelcode-go/services/hal/internal/devices/lsm303dlx" // register device builders
)

// RunSim runs the service against the in-process simulated rig: one
// accelerometer at addr on bus "i2c0" with INT1 on intPin. A background
// stimulus keeps the part producing data. Blocks until ctx ends.
func RunSim(ctx context.Context, conn *bus.Connection, addr uint16, intPin int) {
	board := platform.NewSimBoard(addr, intPin)
	go animate(ctx, board)
	service.New(conn, board.Buses, board.Pins).Run(ctx)
}

// RunPeriph runs the service on real hardware through periph.io. buses maps
// logical bus ids (the config's bus_ref values) to host bus names, e.g.
// {"i2c0": "1"} or {"i2c0": "/dev/i2c-1"}. Blocks until ctx ends.
func RunPeriph(ctx context.Context, conn *bus.Connection, buses map[string]string) error {
	board, err := platform.NewPeriphBoard(buses)
	if err != nil {
		return err
	}
	defer board.Close()
	service.New(conn, board, board).Run(ctx)
	return nil
}

// animate drives the simulated part: a slow triangle wave on the output
// registers and a motion pulse roughly every 15 seconds.
func animate(ctx context.Context, board *platform.SimBoard) {
	tick := time.NewTicker(100 * time.Millisecond)
	defer tick.Stop()
	n := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
			n++
			p := int16(n % 200)
			if p > 100 {
				p = 200 - p
			}
			board.Accel.SetSample(p*10, -p*10, 980+p)
			if n%150 == 0 {
				board.Accel.TriggerMotion(0x02)
			}
		}
	}
}
