// services/hal/internal/drvshim/i2cshim.go
package drvshim

import (
	"sync"

	"periph.io/x/conn/v3/i2c"
)

// I2C adapts a periph bus to the tinygo driver Tx shape. Measurement cycles
// run on the bus worker goroutine while control verbs arrive on the service
// goroutine, so Tx serialises the underlying bus.
type I2C struct {
	mu  *sync.Mutex
	bus i2c.Bus
}

func NewI2C(bus i2c.Bus) I2C {
	return I2C{mu: &sync.Mutex{}, bus: bus}
}

func (s I2C) Tx(addr uint16, w, r []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bus.Tx(addr, w, r)
}
