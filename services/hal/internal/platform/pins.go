// services/hal/internal/platform/pins.go
package platform

import (
	"sync"

	"accelcode-go/services/hal/internal/halcore"
)

// SimPin implements GPIOPin and IRQPin in memory. Set runs the registered
// IRQ handler synchronously when the level change matches the configured
// edge, which lets tests and the sim board drive INT lines.
type SimPin struct {
	mu      sync.RWMutex
	number  int
	level   bool
	modeOut bool
	irqEdge halcore.Edge
	irqFunc func()
}

func (p *SimPin) ConfigureInput(_ halcore.Pull) error {
	p.mu.Lock()
	p.modeOut = false
	p.mu.Unlock()
	return nil
}

func (p *SimPin) ConfigureOutput(initial bool) error {
	p.mu.Lock()
	p.modeOut = true
	p.level = initial
	p.mu.Unlock()
	return nil
}

func (p *SimPin) Set(level bool) {
	p.mu.Lock()
	old := p.level
	p.level = level
	irq := p.irqFunc
	fire := irq != nil && edgeWanted(p.irqEdge, edgeFrom(old, level))
	p.mu.Unlock()
	if fire {
		irq() // ISR-style callback consumed by motionirq.Watcher
	}
}

func (p *SimPin) Get() bool {
	p.mu.RLock()
	v := p.level
	p.mu.RUnlock()
	return v
}

func (p *SimPin) Toggle() { p.Set(!p.Get()) }

func (p *SimPin) Number() int { return p.number }

func (p *SimPin) SetIRQ(edge halcore.Edge, handler func()) error {
	p.mu.Lock()
	p.irqEdge = edge
	p.irqFunc = handler
	p.mu.Unlock()
	return nil
}

func (p *SimPin) ClearIRQ() error {
	p.mu.Lock()
	p.irqEdge = halcore.EdgeNone
	p.irqFunc = nil
	p.mu.Unlock()
	return nil
}

func edgeFrom(old, new bool) halcore.Edge {
	switch {
	case !old && new:
		return halcore.EdgeRising
	case old && !new:
		return halcore.EdgeFalling
	default:
		return halcore.EdgeNone
	}
}

func edgeWanted(cfg, seen halcore.Edge) bool {
	if seen == halcore.EdgeNone {
		return false
	}
	if cfg == halcore.EdgeBoth {
		return true
	}
	return cfg == seen
}

// SimPinFactory returns stable *SimPin instances per number.
type SimPinFactory struct {
	mu   sync.Mutex
	pins map[int]*SimPin
}

func NewSimPinFactory() *SimPinFactory {
	return &SimPinFactory{pins: make(map[int]*SimPin)}
}

func (f *SimPinFactory) ByNumber(n int) (halcore.GPIOPin, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.pins[n]
	if !ok {
		p = &SimPin{number: n}
		f.pins[n] = p
	}
	return p, true
}

// Pin exposes the underlying *SimPin, e.g. to drive IRQ edges in tests.
func (f *SimPinFactory) Pin(n int) *SimPin {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.pins[n]
	if !ok {
		p = &SimPin{number: n}
		f.pins[n] = p
	}
	return p
}

var _ halcore.PinFactory = (*SimPinFactory)(nil)
