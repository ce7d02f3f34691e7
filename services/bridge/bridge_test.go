// bridge/bridge_test.go
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"accelcode-go/bus"
	"accelcode-go/types"
)

// fakeTransport records uplink publishes and lets tests inject inbound
// control frames through the captured handler.
type fakeTransport struct {
	mu          sync.Mutex
	connectErrs int // fail this many Connect calls
	publishErr  error
	connects    int
	published   []pubRec
	control     func(topic string, payload []byte)
}

type pubRec struct {
	topic    string
	payload  []byte
	retained bool
}

func (f *fakeTransport) Connect(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connects++
	if f.connectErrs > 0 {
		f.connectErrs--
		return errors.New("dial refused")
	}
	return nil
}

func (f *fakeTransport) Publish(topic string, payload []byte, retained bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.publishErr != nil {
		err := f.publishErr
		f.publishErr = nil
		return err
	}
	cp := make([]byte, len(payload))
	copy(cp, payload)
	f.published = append(f.published, pubRec{topic: topic, payload: cp, retained: retained})
	return nil
}

func (f *fakeTransport) SubscribeControl(filter string, h func(string, []byte)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.control = h
	return nil
}

func (f *fakeTransport) Close() {}

func (f *fakeTransport) find(topic string) (pubRec, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.published {
		if r.topic == topic {
			return r, true
		}
	}
	return pubRec{}, false
}

func (f *fakeTransport) inject(topic string, payload []byte) bool {
	f.mu.Lock()
	h := f.control
	f.mu.Unlock()
	if h == nil {
		return false
	}
	h(topic, payload)
	return true
}

func useFake(t *testing.T, f *fakeTransport) {
	t.Helper()
	prev := Dial
	Dial = func(Config) Transport { return f }
	t.Cleanup(func() { Dial = prev })
}

func startBridge(t *testing.T, busLen int) (*bus.Connection, *bus.Subscription) {
	t.Helper()
	b := bus.NewBus(busLen)
	conn := b.NewConnection("bridge_test")

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go Start(ctx, conn)

	stateSub := conn.Subscribe(bus.Topic{"bridge", "state"})
	t.Cleanup(stateSub.Unsubscribe)
	return conn, stateSub
}

func nextState(t *testing.T, sub *bus.Subscription, d time.Duration) types.BridgeState {
	t.Helper()
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case m := <-sub.Channel():
		st, ok := m.Payload.(types.BridgeState)
		if !ok {
			t.Fatalf("state payload type: got %T, want types.BridgeState", m.Payload)
		}
		return st
	case <-timer.C:
		t.Fatal("timeout waiting for bridge/state")
		return types.BridgeState{}
	}
}

func waitState(t *testing.T, sub *bus.Subscription, level, status string, d time.Duration) types.BridgeState {
	t.Helper()
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		st := nextState(t, sub, time.Until(deadline))
		if st.Level == level && st.Status == status {
			return st
		}
	}
	t.Fatalf("timeout waiting for state %s/%s", level, status)
	return types.BridgeState{}
}

func TestBridgeForwardsHALTraffic(t *testing.T) {
	fake := &fakeTransport{}
	useFake(t, fake)

	conn, stateSub := startBridge(t, 16)
	st := nextState(t, stateSub, time.Second)
	if st.Level != "idle" || st.Status != "awaiting_config" {
		t.Fatalf("initial state = %+v", st)
	}

	conn.Publish(conn.NewMessage(bus.Topic{"config", "bridge"},
		map[string]any{"enabled": true, "broker": "tcp://unused:1883", "prefix": "rig"}, false))
	waitState(t, stateSub, "up", "link_established", time.Second)

	// Capability traffic loses the hal/capability stem.
	conn.Publish(conn.NewMessage(
		bus.Topic{"hal", "capability", "accel", 0, "value"},
		types.AccelValue{X: 12, Y: -3, Z: 980}, false))

	deadline := time.Now().Add(time.Second)
	var rec pubRec
	for {
		if r, ok := fake.find("rig/accel/0/value"); ok {
			rec = r
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("value never forwarded; got %+v", fake.published)
		}
		time.Sleep(5 * time.Millisecond)
	}
	var v types.AccelValue
	if err := json.Unmarshal(rec.payload, &v); err != nil || v.Z != 980 {
		t.Fatalf("forwarded payload %s (err %v)", rec.payload, err)
	}
	if rec.retained {
		t.Fatal("values must not be retained upstream")
	}

	// Other hal documents keep their path, retained flag intact.
	conn.Publish(conn.NewMessage(bus.Topic{"hal", "heartbeat"},
		types.Heartbeat{Seq: 7, TS: 1}, true))
	deadline = time.Now().Add(time.Second)
	for {
		if r, ok := fake.find("rig/hal/heartbeat"); ok {
			if !r.retained {
				t.Fatal("heartbeat should stay retained upstream")
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("heartbeat never forwarded")
		}
		time.Sleep(5 * time.Millisecond)
	}

	// Control requests never go upstream.
	conn.Publish(conn.NewMessage(
		bus.Topic{"hal", "capability", "accel", 0, "control", "read_now"}, nil, false))
	time.Sleep(50 * time.Millisecond)
	if _, ok := fake.find("rig/accel/0/control/read_now"); ok {
		t.Fatal("control topic was forwarded upstream")
	}
}

func TestBridgeInboundControl(t *testing.T) {
	fake := &fakeTransport{}
	useFake(t, fake)

	conn, stateSub := startBridge(t, 16)
	_ = nextState(t, stateSub, time.Second)

	ctrlSub := conn.Subscribe(bus.Topic{"hal", "capability", "accel", 0, "control", "suspend"})
	defer conn.Unsubscribe(ctrlSub)

	conn.Publish(conn.NewMessage(bus.Topic{"config", "bridge"},
		map[string]any{"enabled": true, "broker": "tcp://unused:1883", "prefix": "rig"}, false))
	waitState(t, stateSub, "up", "link_established", time.Second)

	if !fake.inject("rig/control/accel/0/suspend", []byte(`{}`)) {
		t.Fatal("control handler never registered")
	}

	select {
	case m := <-ctrlSub.Channel():
		if m.Topic[3] != 0 {
			t.Fatalf("control topic = %v", m.Topic)
		}
	case <-time.After(time.Second):
		t.Fatal("inbound control never reached the bus")
	}

	// Malformed frames are dropped, not republished.
	fake.inject("rig/control/accel/zero/suspend", []byte(`{}`))
	select {
	case m := <-ctrlSub.Channel():
		t.Fatalf("malformed control frame republished: %v", m.Topic)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestBridgeReconnectsWithBackoff(t *testing.T) {
	fake := &fakeTransport{connectErrs: 2}
	useFake(t, fake)

	conn, stateSub := startBridge(t, 16)
	_ = nextState(t, stateSub, time.Second)

	conn.Publish(conn.NewMessage(bus.Topic{"config", "bridge"},
		map[string]any{"enabled": true, "broker": "tcp://unused:1883", "prefix": "rig"}, false))

	waitState(t, stateSub, "degraded", "dial_failed_retrying", time.Second)
	waitState(t, stateSub, "up", "link_established", 3*time.Second)

	fake.mu.Lock()
	connects := fake.connects
	fake.mu.Unlock()
	if connects != 3 {
		t.Fatalf("connects = %d, want 3", connects)
	}
}

func TestBridgeLinkLossTriggersRedial(t *testing.T) {
	fake := &fakeTransport{}
	useFake(t, fake)

	conn, stateSub := startBridge(t, 16)
	_ = nextState(t, stateSub, time.Second)

	conn.Publish(conn.NewMessage(bus.Topic{"config", "bridge"},
		map[string]any{"enabled": true, "broker": "tcp://unused:1883", "prefix": "rig"}, false))
	waitState(t, stateSub, "up", "link_established", time.Second)

	fake.mu.Lock()
	fake.publishErr = errors.New("broken pipe")
	fake.mu.Unlock()

	// The next forwarded message trips the failure.
	conn.Publish(conn.NewMessage(bus.Topic{"hal", "state"},
		types.HALState{Level: "ready"}, false))

	waitState(t, stateSub, "degraded", "link_lost_retrying", time.Second)
	waitState(t, stateSub, "up", "link_established", 3*time.Second)
}

func TestBridgeDisabledConfig(t *testing.T) {
	fake := &fakeTransport{}
	useFake(t, fake)

	conn, stateSub := startBridge(t, 8)
	_ = nextState(t, stateSub, time.Second)

	conn.Publish(conn.NewMessage(bus.Topic{"config", "bridge"},
		map[string]any{"enabled": false, "broker": "tcp://unused:1883", "prefix": "rig"}, false))
	waitState(t, stateSub, "idle", "disabled", time.Second)

	fake.mu.Lock()
	connects := fake.connects
	fake.mu.Unlock()
	if connects != 0 {
		t.Fatalf("disabled bridge dialled %d times", connects)
	}
}

func TestDecodeConfigShapes(t *testing.T) {
	want := Config{Enabled: true, Broker: "tcp://b:1883", Prefix: "rig"}

	for _, payload := range []any{
		`{"enabled":true,"broker":"tcp://b:1883","prefix":"rig"}`,
		[]byte(`{"enabled":true,"broker":"tcp://b:1883","prefix":"rig"}`),
		map[string]any{"enabled": true, "broker": "tcp://b:1883", "prefix": "rig"},
	} {
		got, err := decodeConfig(payload)
		if err != nil {
			t.Fatalf("%T: %v", payload, err)
		}
		if got != want {
			t.Fatalf("%T: got %+v", payload, got)
		}
	}

	if _, err := decodeConfig(42); err == nil {
		t.Fatal("numeric payload accepted")
	}
}
