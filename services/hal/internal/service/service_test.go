// services/hal/internal/service/service_test.go
package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"accelcode-go/bus"
	"accelcode-go/services/hal/internal/consts"
	"accelcode-go/services/hal/internal/halcore"
	"accelcode-go/services/hal/internal/platform"
	"accelcode-go/services/hal/internal/registry"
	"accelcode-go/types"

	_ "accelcode-go/services/hal/internal/devices/lsm303dlx"

	"tinygo.org/x/drivers"
)

// ---- Test fakes ----

type nopBusFactory struct{}

func (nopBusFactory) ByID(id string) (drivers.I2C, bool) { return nil, false }

type nopPinFactory struct{}

func (nopPinFactory) ByNumber(int) (halcore.GPIOPin, bool) { return nil, false }

type svcTestAdaptor struct {
	id string
}

func (a *svcTestAdaptor) ID() string { return a.id }
func (a *svcTestAdaptor) Capabilities() []halcore.CapInfo {
	return []halcore.CapInfo{{Kind: "accel", Info: map[string]any{"sensor": "fake"}}}
}
func (a *svcTestAdaptor) Trigger(ctx context.Context) (time.Duration, error) {
	return 5 * time.Millisecond, nil
}
func (a *svcTestAdaptor) Collect(ctx context.Context) (halcore.Sample, error) {
	return halcore.Sample{{
		Kind:    "accel",
		Payload: types.AccelValue{X: 1, Y: 2, Z: 3},
		TsNs:    time.Now().UnixNano(),
	}}, nil
}
func (a *svcTestAdaptor) Control(kind, method string, payload any) (any, error) {
	return types.OKReply{OK: true}, nil
}

type svcBuilder struct{}

func (svcBuilder) Build(in registry.BuildInput) (registry.BuildOutput, error) {
	return registry.BuildOutput{
		Adaptor:     &svcTestAdaptor{id: in.DeviceID},
		BusID:       "bus0",
		SampleEvery: 50 * time.Millisecond,
	}, nil
}

type failBuilder struct{}

func (failBuilder) Build(in registry.BuildInput) (registry.BuildOutput, error) {
	return registry.BuildOutput{}, errors.New("probe failed")
}

func ensureRegistered(t *testing.T, typ string, b registry.Builder) {
	t.Helper()
	if _, ok := registry.Lookup(typ); !ok {
		registry.RegisterBuilder(typ, b)
	}
}

func recvWithin[T any](t *testing.T, ch <-chan T, d time.Duration) (T, bool) {
	t.Helper()
	var zero T
	select {
	case v := <-ch:
		return v, true
	case <-time.After(d):
		return zero, false
	}
}

func waitHALLevel(t *testing.T, conn *bus.Connection, level string, timeout time.Duration) types.HALState {
	t.Helper()
	sub := conn.Subscribe(bus.Topic{consts.TokHAL, consts.TokState})
	defer conn.Unsubscribe(sub)
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		select {
		case msg := <-sub.Channel():
			if st, ok := msg.Payload.(types.HALState); ok && st.Level == level {
				return st
			}
		case <-time.After(25 * time.Millisecond):
		}
	}
	t.Fatalf("timeout waiting for hal/state level=%q", level)
	return types.HALState{}
}

func request(t *testing.T, conn *bus.Connection, topic bus.Topic, payload any) *bus.Message {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	reply, err := conn.RequestWait(ctx, conn.NewMessage(topic, payload, false))
	if err != nil {
		t.Fatalf("request %v: %v", topic, err)
	}
	return reply
}

func ctrlTopic(kind string, id int, verb string) bus.Topic {
	return bus.Topic{consts.TokHAL, consts.TokCapability, kind, id, consts.TokControl, verb}
}

// ---- Tests against the fake adaptor ----

func TestServicePublishesStateAndValues(t *testing.T) {
	ensureRegistered(t, "svc_testdev", svcBuilder{})

	b := bus.NewBus(8)
	conn := b.NewConnection("test")
	s := New(conn, nopBusFactory{}, nopPinFactory{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	waitHALLevel(t, conn, "idle", time.Second)

	valSub := conn.Subscribe(bus.Topic{consts.TokHAL, consts.TokCapability, "accel", "+", consts.TokValue})
	defer conn.Unsubscribe(valSub)
	stSub := conn.Subscribe(bus.Topic{consts.TokHAL, consts.TokCapability, "accel", "+", consts.TokState})
	defer conn.Unsubscribe(stSub)

	conn.Publish(conn.NewMessage(bus.Topic{consts.TokConfig, consts.TokHAL},
		types.HALConfig{Devices: []types.Device{{ID: "d1", Type: "svc_testdev"}}}, false))

	waitHALLevel(t, conn, "ready", time.Second)

	// Capability comes up on configuration.
	if msg, ok := recvWithin(t, stSub.Channel(), time.Second); !ok {
		t.Fatal("no capability state")
	} else if st := msg.Payload.(types.CapabilityStatus); st.Link != types.LinkUp {
		t.Fatalf("state = %+v", st)
	}

	// The 50 ms builder period is clamped to the 200 ms floor; a value
	// should still land well within a second.
	msg, ok := recvWithin(t, valSub.Channel(), time.Second)
	if !ok {
		t.Fatal("timeout waiting for value")
	}
	v, isVal := msg.Payload.(types.AccelValue)
	if !isVal || v != (types.AccelValue{X: 1, Y: 2, Z: 3}) {
		t.Fatalf("value payload = %+v", msg.Payload)
	}

	// read_now acks and schedules a priority measure.
	reply := request(t, conn, ctrlTopic("accel", 0, consts.CtrlReadNow), nil)
	if okr, _ := reply.Payload.(types.OKReply); !okr.OK {
		t.Fatalf("read_now reply = %+v", reply.Payload)
	}

	// set_rate echoes the applied schedule, clamped to the floor.
	reply = request(t, conn, ctrlTopic("accel", 0, consts.CtrlSetRate), types.SetRate{IntervalMs: 50})
	if sr, _ := reply.Payload.(types.SetRate); sr.IntervalMs != 200 {
		t.Fatalf("set_rate reply = %+v", reply.Payload)
	}

	// A JSON-shaped payload decodes the same way.
	reply = request(t, conn, ctrlTopic("accel", 0, consts.CtrlSetRate), map[string]any{"interval_ms": 300})
	if sr, _ := reply.Payload.(types.SetRate); sr.IntervalMs != 300 {
		t.Fatalf("set_rate reply = %+v", reply.Payload)
	}

	// Unknown capability address.
	reply = request(t, conn, ctrlTopic("accel", 9, consts.CtrlReadNow), nil)
	if er, _ := reply.Payload.(types.ErrorReply); er.OK || er.Error == "" {
		t.Fatalf("expected error reply, got %+v", reply.Payload)
	}
}

func TestServiceApplyConfigRemovesDevices(t *testing.T) {
	ensureRegistered(t, "svc_testdev2", svcBuilder{})

	b := bus.NewBus(8)
	conn := b.NewConnection("test2")
	s := New(conn, nopBusFactory{}, nopPinFactory{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	waitHALLevel(t, conn, "idle", time.Second)

	stSub := conn.Subscribe(bus.Topic{consts.TokHAL, consts.TokCapability, "accel", "+", consts.TokState})
	defer conn.Unsubscribe(stSub)

	conn.Publish(conn.NewMessage(bus.Topic{consts.TokConfig, consts.TokHAL},
		types.HALConfig{Devices: []types.Device{{ID: "dX", Type: "svc_testdev2"}}}, false))

	var capID int
	deadline := time.Now().Add(2 * time.Second)
	up := false
	for !up && time.Now().Before(deadline) {
		if msg, ok := recvWithin(t, stSub.Channel(), 100*time.Millisecond); ok {
			if st, isSt := msg.Payload.(types.CapabilityStatus); isSt && st.Link == types.LinkUp {
				capID, _ = asInt(msg.Topic[3])
				up = true
			}
		}
	}
	if !up {
		t.Fatal("timeout waiting for capability link=up")
	}

	// Reconfigure with no devices: same id must go down and its info clear.
	conn.Publish(conn.NewMessage(bus.Topic{consts.TokConfig, consts.TokHAL},
		types.HALConfig{}, false))

	down := false
	deadline = time.Now().Add(2 * time.Second)
	for !down && time.Now().Before(deadline) {
		if msg, ok := recvWithin(t, stSub.Channel(), 100*time.Millisecond); ok {
			id, _ := asInt(msg.Topic[3])
			if id != capID {
				continue
			}
			if st, isSt := msg.Payload.(types.CapabilityStatus); isSt && st.Link == types.LinkDown {
				down = true
			}
		}
	}
	if !down {
		t.Fatal("timeout waiting for capability link=down after removal")
	}

	// Retained info slot was cleared: a fresh subscription replays nothing.
	checkSub := conn.Subscribe(bus.Topic{consts.TokHAL, consts.TokCapability, "accel", capID, consts.TokInfo})
	defer conn.Unsubscribe(checkSub)
	if msg, ok := recvWithin(t, checkSub.Channel(), 150*time.Millisecond); ok {
		t.Fatalf("retained info should be cleared, got %+v", msg.Payload)
	}
}

func TestServiceReportsBuildFailure(t *testing.T) {
	ensureRegistered(t, "svc_faildev", failBuilder{})

	b := bus.NewBus(8)
	conn := b.NewConnection("test3")
	s := New(conn, nopBusFactory{}, nopPinFactory{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	waitHALLevel(t, conn, "idle", time.Second)

	conn.Publish(conn.NewMessage(bus.Topic{consts.TokConfig, consts.TokHAL},
		types.HALConfig{Devices: []types.Device{{ID: "bad", Type: "svc_faildev"}}}, false))

	st := waitHALLevel(t, conn, "degraded", time.Second)
	if st.Status != "device_build_failed" || st.Error == "" {
		t.Fatalf("state = %+v", st)
	}
}

// ---- Integration against the simulated accelerometer ----

func startSimService(t *testing.T) (*platform.SimBoard, *bus.Connection, context.CancelFunc) {
	t.Helper()
	board := platform.NewSimBoard(0x18, 6)
	b := bus.NewBus(16)
	conn := b.NewConnection("test-sim")
	s := New(conn, board.Buses, board.Pins)

	ctx, cancel := context.WithCancel(context.Background())
	go s.Run(ctx)
	waitHALLevel(t, conn, "idle", time.Second)

	conn.Publish(conn.NewMessage(bus.Topic{consts.TokConfig, consts.TokHAL},
		types.HALConfig{Devices: []types.Device{{
			ID:   "accel1",
			Type: "lsm303dlx",
			Params: map[string]any{
				"addr":            0x18,
				"sample_every_ms": 250,
				"int1_pin":        6,
				"suspend":         map[string]any{"irq": 1}, // wake on motion
			},
			BusRef: types.BusRef{Type: "i2c", ID: "i2c0"},
		}}}, false))
	waitHALLevel(t, conn, "ready", 2*time.Second)
	return board, conn, cancel
}

func TestServiceSimEndToEnd(t *testing.T) {
	board, conn, cancel := startSimService(t)
	defer cancel()

	infoSub := conn.Subscribe(bus.Topic{consts.TokHAL, consts.TokCapability, "accel", 0, consts.TokInfo})
	defer conn.Unsubscribe(infoSub)
	msg, ok := recvWithin(t, infoSub.Channel(), time.Second)
	if !ok {
		t.Fatal("no retained accel info")
	}
	info := msg.Payload.(map[string]any)
	if info["sensor"] != "lsm303dlx_a" || info["bus"] != "i2c0" {
		t.Fatalf("info = %+v", info)
	}

	// Keep the part "moving" so every poll finds fresh data.
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		for {
			select {
			case <-stop:
				return
			case <-time.After(50 * time.Millisecond):
				board.Accel.SetSample(100, -100, 50)
			}
		}
	}()

	valSub := conn.Subscribe(bus.Topic{consts.TokHAL, consts.TokCapability, "accel", 0, consts.TokValue})
	defer conn.Unsubscribe(valSub)
	msg, ok = recvWithin(t, valSub.Channel(), 2*time.Second)
	if !ok {
		t.Fatal("timeout waiting for periodic sample")
	}
	if v := msg.Payload.(types.AccelValue); v.X != 100 || v.Y != -100 || v.Z != 50 {
		t.Fatalf("value = %+v", v)
	}
}

func TestServiceSimMotionEvent(t *testing.T) {
	board, conn, cancel := startSimService(t)
	defer cancel()

	evSub := conn.Subscribe(bus.Topic{consts.TokHAL, consts.TokCapability, "motion", 0, consts.TokEvent})
	defer conn.Unsubscribe(evSub)

	board.Accel.SetSample(500, 0, 0)
	board.Accel.TriggerMotion(0x02) // X high

	msg, ok := recvWithin(t, evSub.Channel(), 2*time.Second)
	if !ok {
		t.Fatal("timeout waiting for motion event")
	}
	ev := msg.Payload.(types.MotionEvent)
	if ev.Source != 0x42 {
		t.Fatalf("source = 0x%02X, want IA|XH", ev.Source)
	}

	// The service's source read released the latch; the line is idle again.
	if board.Pins.Pin(6).Get() {
		t.Fatal("INT1 still asserted after wake_source read")
	}
}

func TestServiceSimControlVerbs(t *testing.T) {
	board, conn, cancel := startSimService(t)
	defer cancel()

	// Suspend parks the sampling engine.
	reply := request(t, conn, ctrlTopic("accel", 0, consts.CtrlSuspend), nil)
	if okr, _ := reply.Payload.(types.OKReply); !okr.OK {
		t.Fatalf("suspend reply = %+v", reply.Payload)
	}
	if got := board.Accel.Reg(0x20); got != 0x07 {
		t.Fatalf("ctrl1 = 0x%02X after suspend", got)
	}

	// Resume restores the full-rate profile.
	reply = request(t, conn, ctrlTopic("accel", 0, consts.CtrlResume), nil)
	if okr, _ := reply.Payload.(types.OKReply); !okr.OK {
		t.Fatalf("resume reply = %+v", reply.Payload)
	}
	if got := board.Accel.Reg(0x20); got != 0x37 {
		t.Fatalf("ctrl1 = 0x%02X after resume", got)
	}

	// set_param with apply pushes the register and echoes the quantized value.
	reply = request(t, conn, ctrlTopic("accel", 0, consts.CtrlSetParam),
		types.SetParam{Key: "fsr_resume", Value: 5000, Apply: true})
	if pv, _ := reply.Payload.(types.ParamValue); pv.Value != 8192 {
		t.Fatalf("set_param reply = %+v", reply.Payload)
	}

	reply = request(t, conn, ctrlTopic("accel", 0, consts.CtrlGetParam),
		types.GetParam{Key: "fsr_resume"})
	if pv, _ := reply.Payload.(types.ParamValue); pv.Value != 8192 {
		t.Fatalf("get_param reply = %+v", reply.Payload)
	}

	reply = request(t, conn, ctrlTopic("accel", 0, consts.CtrlDescribe), nil)
	pf, isPf := reply.Payload.(types.AccelProfiles)
	if !isPf || pf.Suspend.IRQ != "motion" || pf.Resume.FSRmg != 8192 {
		t.Fatalf("describe reply = %+v", reply.Payload)
	}

	// Unknown params surface their code through the error reply.
	reply = request(t, conn, ctrlTopic("accel", 0, consts.CtrlSetParam),
		types.SetParam{Key: "bogus", Value: 1})
	if er, _ := reply.Payload.(types.ErrorReply); er.OK || er.Error != "unknown_param" {
		t.Fatalf("bogus set_param reply = %+v", reply.Payload)
	}
}
