// services/hal/internal/platform/sim.go
package platform

import (
	"fmt"
	"sync"

	"accelcode-go/services/hal/internal/halcore"

	"tinygo.org/x/drivers"
)

// SimAccel emulates an LSM303-class accelerometer as the sole device on its
// bus. It keeps an 8-bit register file and decodes the same Tx shapes the
// driver issues: {reg,val} writes, {reg} one-byte reads, and {reg|0x80}
// six-byte auto-increment bursts. Feed it samples and motion with SetSample
// and TriggerMotion; bind an INT pin with BindINT1 to exercise the wake path
// end to end.
type SimAccel struct {
	mu   sync.Mutex
	addr uint16
	regs [0x40]uint8
	int1 *SimPin // optional, follows the wake latch

	writes int // register writes observed, for tests
}

const (
	simRegCtrl4   = 0x23
	simRegStatus  = 0x27
	simRegOutXL   = 0x28
	simRegInt1Src = 0x31

	simAutoInc   = 0x80
	simStatusNew = 0x0F
	simCtrl4BLE  = 0x40
)

func NewSimAccel(addr uint16) *SimAccel {
	if addr == 0 {
		addr = 0x18
	}
	return &SimAccel{addr: addr}
}

// BindINT1 wires a pin that follows the wake latch: high while INT1_SRC
// holds an unread event, low once it is read.
func (s *SimAccel) BindINT1(p *SimPin) {
	s.mu.Lock()
	s.int1 = p
	s.mu.Unlock()
}

// SetSample loads one output sample and flags fresh data in STATUS. Byte
// order follows CTRL_REG4.BLE, matching whatever the driver configured.
func (s *SimAccel) SetSample(x, y, z int16) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, v := range []int16{x, y, z} {
		hi, lo := uint8(uint16(v)>>8), uint8(uint16(v))
		if s.regs[simRegCtrl4]&simCtrl4BLE != 0 {
			s.regs[simRegOutXL+2*i] = hi
			s.regs[simRegOutXL+2*i+1] = lo
		} else {
			s.regs[simRegOutXL+2*i] = lo
			s.regs[simRegOutXL+2*i+1] = hi
		}
	}
	s.regs[simRegStatus] |= simStatusNew
}

// TriggerMotion latches a wake event. src uses the INT1_SRC bit layout
// (per-axis high/low bits); the IA bit is forced on.
func (s *SimAccel) TriggerMotion(src uint8) {
	s.mu.Lock()
	s.regs[simRegInt1Src] = src | 0x40
	pin := s.int1
	s.mu.Unlock()
	if pin != nil {
		pin.Set(true)
	}
}

// Reg returns the current value of a register, for assertions.
func (s *SimAccel) Reg(reg uint8) uint8 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.regs[reg&^uint8(simAutoInc)]
}

// Writes reports how many register writes the device has seen.
func (s *SimAccel) Writes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes
}

func (s *SimAccel) Tx(addr uint16, w, r []byte) error {
	s.mu.Lock()
	dropINT, err := s.tx(addr, w, r)
	pin := s.int1
	s.mu.Unlock()
	// Pin work happens outside the lock; Set may run an ISR callback.
	if dropINT && pin != nil {
		pin.Set(false)
	}
	return err
}

func (s *SimAccel) tx(addr uint16, w, r []byte) (dropINT bool, err error) {
	if addr != s.addr {
		return false, fmt.Errorf("sim i2c: no device at 0x%02X", addr)
	}
	if len(w) == 0 {
		return false, fmt.Errorf("sim i2c: empty write")
	}
	reg := w[0] &^ uint8(simAutoInc)
	inc := w[0]&simAutoInc != 0

	switch {
	case len(w) == 2 && len(r) == 0:
		if int(reg) >= len(s.regs) {
			return false, fmt.Errorf("sim i2c: write to 0x%02X out of range", reg)
		}
		s.regs[reg] = w[1]
		s.writes++
		return false, nil

	case len(w) == 1 && len(r) > 0:
		for i := range r {
			idx := int(reg)
			if inc {
				idx += i
			}
			if idx >= len(s.regs) {
				return false, fmt.Errorf("sim i2c: read past 0x%02X", idx)
			}
			r[i] = s.regs[idx]
		}
		// Read side effects: a data burst consumes the fresh-data flags,
		// an INT1_SRC read clears the wake latch.
		switch {
		case reg == simRegOutXL && len(r) >= 6:
			s.regs[simRegStatus] &^= uint8(simStatusNew)
		case reg == simRegInt1Src:
			s.regs[simRegInt1Src] = 0
			dropINT = true
		}
		return dropINT, nil
	}
	return false, fmt.Errorf("sim i2c: unsupported transfer w=%d r=%d", len(w), len(r))
}

// SimBusFactory serves SimAccel instances as named buses.
type SimBusFactory struct {
	buses map[string]drivers.I2C
}

func NewSimBusFactory() *SimBusFactory {
	return &SimBusFactory{buses: map[string]drivers.I2C{}}
}

func (f *SimBusFactory) Add(id string, dev *SimAccel) { f.buses[id] = dev }

func (f *SimBusFactory) ByID(id string) (drivers.I2C, bool) {
	b, ok := f.buses[id]
	return b, ok
}

var _ halcore.I2CBusFactory = (*SimBusFactory)(nil)
