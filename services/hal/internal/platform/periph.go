// services/hal/internal/platform/periph.go
package platform

import (
	"fmt"
	"strconv"
	"sync"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"
	"tinygo.org/x/drivers"

	"accelcode-go/services/hal/internal/drvshim"
	"accelcode-go/services/hal/internal/halcore"
)

// PeriphBoard provides the bus and pin factories on a Linux host through
// periph. It owns the opened buses; Close releases them.
type PeriphBoard struct {
	mu      sync.Mutex
	buses   map[string]drivers.I2C
	closers []i2c.BusCloser
	pins    map[int]*PeriphPin
}

// NewPeriphBoard initialises the periph host and opens each named bus.
// The map keys are the bus ids used in config ("i2c0"); the values are
// periph bus names ("1", "/dev/i2c-1", or "" for the first available).
func NewPeriphBoard(buses map[string]string) (*PeriphBoard, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("periph host init: %w", err)
	}
	b := &PeriphBoard{
		buses: map[string]drivers.I2C{},
		pins:  map[int]*PeriphPin{},
	}
	for id, name := range buses {
		bus, err := i2creg.Open(name)
		if err != nil {
			_ = b.Close()
			return nil, fmt.Errorf("open i2c %s (%q): %w", id, name, err)
		}
		b.closers = append(b.closers, bus)
		b.buses[id] = drvshim.NewI2C(bus)
	}
	return b, nil
}

func (b *PeriphBoard) ByID(id string) (drivers.I2C, bool) {
	bus, ok := b.buses[id]
	return bus, ok
}

// ByNumber resolves a GPIO by its kernel number, trying the bare number
// first and the "GPIOn" alias second.
func (b *PeriphBoard) ByNumber(n int) (halcore.GPIOPin, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if p, ok := b.pins[n]; ok {
		return p, true
	}
	pin := gpioreg.ByName(strconv.Itoa(n))
	if pin == nil {
		pin = gpioreg.ByName("GPIO" + strconv.Itoa(n))
	}
	if pin == nil {
		return nil, false
	}
	p := &PeriphPin{pin: pin}
	b.pins[n] = p
	return p, true
}

func (b *PeriphBoard) Close() error {
	var first error
	for _, c := range b.closers {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	b.closers = nil
	return first
}

var (
	_ halcore.I2CBusFactory = (*PeriphBoard)(nil)
	_ halcore.PinFactory    = (*PeriphBoard)(nil)
)

// PeriphPin adapts a periph PinIO to the halcore pin interfaces. Edge
// interrupts are emulated with a WaitForEdge goroutine since sysfs/cdev
// GPIO has no user-space ISR.
type PeriphPin struct {
	mu   sync.Mutex
	pin  gpio.PinIO
	stop chan struct{} // non-nil while an edge watcher runs
}

func (p *PeriphPin) ConfigureInput(pull halcore.Pull) error {
	return p.pin.In(toGPIOPull(pull), gpio.NoEdge)
}

func (p *PeriphPin) ConfigureOutput(initial bool) error {
	return p.pin.Out(gpio.Level(initial))
}

func (p *PeriphPin) Set(level bool) { _ = p.pin.Out(gpio.Level(level)) }

func (p *PeriphPin) Get() bool { return bool(p.pin.Read()) }

func (p *PeriphPin) Toggle() { p.Set(!p.Get()) }

func (p *PeriphPin) Number() int { return p.pin.Number() }

func (p *PeriphPin) SetIRQ(edge halcore.Edge, handler func()) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stop != nil {
		return fmt.Errorf("gpio %d: irq already armed", p.pin.Number())
	}
	if err := p.pin.In(gpio.PullNoChange, toGPIOEdge(edge)); err != nil {
		return err
	}
	stop := make(chan struct{})
	p.stop = stop
	go func() {
		for {
			select {
			case <-stop:
				return
			default:
			}
			// Short timeout so cancellation is observed promptly.
			if p.pin.WaitForEdge(500 * time.Millisecond) {
				handler()
			}
		}
	}()
	return nil
}

func (p *PeriphPin) ClearIRQ() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stop != nil {
		close(p.stop)
		p.stop = nil
	}
	return p.pin.In(gpio.PullNoChange, gpio.NoEdge)
}

func toGPIOPull(pull halcore.Pull) gpio.Pull {
	switch pull {
	case halcore.PullUp:
		return gpio.PullUp
	case halcore.PullDown:
		return gpio.PullDown
	default:
		return gpio.Float
	}
}

func toGPIOEdge(edge halcore.Edge) gpio.Edge {
	switch edge {
	case halcore.EdgeRising:
		return gpio.RisingEdge
	case halcore.EdgeFalling:
		return gpio.FallingEdge
	case halcore.EdgeBoth:
		return gpio.BothEdges
	default:
		return gpio.NoEdge
	}
}
