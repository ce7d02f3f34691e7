// services/hal/internal/motionirq/watcher.go
package motionirq

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"accelcode-go/services/hal/internal/halcore"
	"accelcode-go/services/hal/internal/util"
)

// Event is delivered from the watcher to the HAL service when a device's
// interrupt line changes state. For latched wake interrupts the line stays
// asserted until the device's source register is read, so the service is
// expected to follow up with a wake_source control call.
type Event struct {
	DevID string
	Level int // 0/1 after inversion applied
	Edge  halcore.Edge
	TS    time.Time
}

// Watcher multiplexes the INT lines of registered devices onto one event
// channel. ISR handlers only capture the pin level and hand off; debounce
// and edge classification happen on the watcher goroutine.
type Watcher struct {
	// Written by ISR; MUST NOT block the ISR:
	isrQ chan isrEvent
	// Consumed by the HAL service:
	outQ    chan Event
	stopped chan struct{}

	mu     sync.RWMutex
	lines  map[string]*line // devID -> line
	drops  uint32           // ISR drop counter
}

type isrEvent struct {
	devID string
	level bool // captured in ISR
}

type line struct {
	devID     string
	pin       halcore.IRQPin
	edge      halcore.Edge
	debounce  time.Duration
	invert    bool
	lastLevel bool
	lastEvent time.Time
	cancelIRQ func()
}

func New(isrBuf, outBuf int) *Watcher {
	if isrBuf <= 0 {
		isrBuf = 64
	}
	if outBuf <= 0 {
		outBuf = 64
	}
	return &Watcher{
		isrQ:    make(chan isrEvent, isrBuf),
		outQ:    make(chan Event, outBuf),
		stopped: make(chan struct{}),
		lines:   map[string]*line{},
	}
}

func (w *Watcher) Start(ctx context.Context) {
	go func() {
		defer close(w.stopped)
		for {
			select {
			case <-ctx.Done():
				return
			case ev := <-w.isrQ:
				w.handleISR(ev)
			}
		}
	}()
}

func (w *Watcher) Events() <-chan Event { return w.outQ }

// Watch attaches an IRQ handler to a device's INT pin. The returned cancel
// func detaches the handler and forgets the device.
func (w *Watcher) Watch(devID string, pin halcore.IRQPin, edge halcore.Edge, debounceMS int, invert bool) (func(), error) {
	if edge == halcore.EdgeNone {
		return func() {}, nil
	}
	deb := time.Duration(debounceMS) * time.Millisecond

	// Take the initial *logical* level snapshot (after inversion),
	// so that subsequent edge detection compares like-for-like.
	init := pin.Get()
	if invert {
		init = !init
	}
	ln := &line{
		devID:     devID,
		pin:       pin,
		edge:      edge,
		debounce:  deb,
		invert:    invert,
		lastLevel: init,
	}

	// ISR handler: fast level read + non-blocking channel send.
	handler := func() {
		l := pin.Get()
		select {
		case w.isrQ <- isrEvent{devID: devID, level: l}:
		default:
			atomic.AddUint32(&w.drops, 1) // protect ISR path
		}
	}
	if err := pin.SetIRQ(edge, handler); err != nil {
		return nil, err
	}
	ln.cancelIRQ = func() { _ = pin.ClearIRQ() }

	w.mu.Lock()
	w.lines[devID] = ln
	w.mu.Unlock()

	return func() {
		w.mu.Lock()
		if cur, ok := w.lines[devID]; ok {
			if cur.cancelIRQ != nil {
				cur.cancelIRQ()
			}
			delete(w.lines, devID)
		}
		w.mu.Unlock()
	}, nil
}

func (w *Watcher) handleISR(ev isrEvent) {
	w.mu.RLock()
	ln := w.lines[ev.devID]
	w.mu.RUnlock()
	if ln == nil {
		return
	}
	raw := ev.level
	if ln.invert {
		raw = !raw
	}
	now := time.Now()

	// Debounce
	if !ln.lastEvent.IsZero() && now.Sub(ln.lastEvent) < ln.debounce {
		return
	}

	// Edge classification
	var e halcore.Edge
	if ln.edge == halcore.EdgeBoth {
		switch {
		case !ln.lastLevel && raw:
			e = halcore.EdgeRising
		case ln.lastLevel && !raw:
			e = halcore.EdgeFalling
		}
	} else {
		// The handler only fires on the configured edge; trust the
		// configuration for direction on first observation.
		switch ln.edge {
		case halcore.EdgeRising:
			e = halcore.EdgeRising
		case halcore.EdgeFalling:
			e = halcore.EdgeFalling
		}
	}

	if e != halcore.EdgeNone {
		select {
		case w.outQ <- Event{DevID: ev.devID, Level: util.BoolToInt(raw), Edge: e, TS: now}:
		default:
			// drop to protect the watcher if the consumer is slow
		}
	}

	// Always update snapshots
	ln.lastLevel = raw
	ln.lastEvent = now
}

func (w *Watcher) ISRDrops() uint32 { return atomic.LoadUint32(&w.drops) }
