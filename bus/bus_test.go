package bus_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"accelcode-go/bus"
)

// expectPayload reads one message from sub and checks its payload.
func expectPayload(t *testing.T, sub *bus.Subscription, want any) *bus.Message {
	t.Helper()
	select {
	case m, ok := <-sub.Channel():
		if !ok {
			t.Fatalf("subscription closed while waiting for %v", want)
		}
		if m.Payload != want {
			t.Fatalf("payload = %v, want %v", m.Payload, want)
		}
		return m
	case <-time.After(time.Second):
		t.Fatalf("no message within deadline, want %v", want)
	}
	return nil
}

// expectNone checks that nothing is pending on sub.
func expectNone(t *testing.T, sub *bus.Subscription) {
	t.Helper()
	select {
	case m := <-sub.Channel():
		t.Fatalf("unexpected message %v on %v", m.Payload, m.Topic)
	case <-time.After(20 * time.Millisecond):
	}
}

// drain pulls every message already queued on sub.
func drain(sub *bus.Subscription) []any {
	var out []any
	for {
		select {
		case m, ok := <-sub.Channel():
			if !ok {
				return out
			}
			out = append(out, m.Payload)
		default:
			return out
		}
	}
}

func TestTopicString(t *testing.T) {
	tp := bus.T("hal", "device", "accel1", 0)
	if got := tp.String(); got != "hal/device/accel1/0" {
		t.Fatalf("String() = %q", got)
	}
}

func TestTopicEqual(t *testing.T) {
	a := bus.T("hal", "device", 1)
	if !a.Equal(bus.T("hal", "device", 1)) {
		t.Fatal("equal topics reported unequal")
	}
	if a.Equal(bus.T("hal", "device")) {
		t.Fatal("prefix reported equal")
	}
	if a.Equal(bus.T("hal", "device", 2)) {
		t.Fatal("differing token reported equal")
	}
}

func TestTopicTokenValidation(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic for non-comparable token")
		}
	}()
	_ = bus.T("hal", []byte{1, 2})
}

func TestPublishSubscribeExact(t *testing.T) {
	b := bus.NewBus(8)
	conn := b.NewConnection("test")
	sub := conn.Subscribe(bus.T("hal", "device", "accel1", "value"))

	pub := b.NewConnection("hal")
	pub.Publish(pub.NewMessage(bus.T("hal", "device", "accel1", "value"), 42, false))
	pub.Publish(pub.NewMessage(bus.T("hal", "device", "accel2", "value"), 7, false))

	m := expectPayload(t, sub, 42)
	if m.Source != "hal" {
		t.Fatalf("Source = %q, want hal", m.Source)
	}
	expectNone(t, sub)
}

func TestSourceStamping(t *testing.T) {
	b := bus.NewBus(8)
	conn := b.NewConnection("rx")
	sub := conn.Subscribe(bus.T("x"))

	tx := b.NewConnection("tx")

	// Bus-built messages carry no source until published.
	anon := b.NewMessage(bus.T("x"), "a", false)
	if anon.Source != "" {
		t.Fatalf("bus message pre-stamped with %q", anon.Source)
	}
	tx.Publish(anon)
	if m := expectPayload(t, sub, "a"); m.Source != "tx" {
		t.Fatalf("Source = %q, want tx", m.Source)
	}

	// An explicit source survives publishing.
	relayed := &bus.Message{Topic: bus.T("x"), Payload: "b", Source: "uplink"}
	tx.Publish(relayed)
	if m := expectPayload(t, sub, "b"); m.Source != "uplink" {
		t.Fatalf("Source = %q, want uplink", m.Source)
	}
}

func TestWildcardMatching(t *testing.T) {
	b := bus.NewBus(8)
	conn := b.NewConnection("test")

	exact := conn.Subscribe(bus.T("hal", "device", "accel1"))
	plus := conn.Subscribe(bus.T("hal", "device", "+"))
	hash := conn.Subscribe(bus.T("hal", "#"))
	root := conn.Subscribe(bus.T("#"))

	pub := b.NewConnection("pub")
	pub.Publish(pub.NewMessage(bus.T("hal", "device", "accel1"), 1, false))

	expectPayload(t, exact, 1)
	expectPayload(t, plus, 1)
	expectPayload(t, hash, 1)
	expectPayload(t, root, 1)

	// Deeper topic: only the multi-level patterns match.
	pub.Publish(pub.NewMessage(bus.T("hal", "device", "accel1", "value"), 2, false))
	expectNone(t, exact)
	expectNone(t, plus)
	expectPayload(t, hash, 2)
	expectPayload(t, root, 2)

	// "#" also matches an empty remainder.
	pub.Publish(pub.NewMessage(bus.T("hal"), 3, false))
	expectPayload(t, hash, 3)
	expectPayload(t, root, 3)
	expectNone(t, exact)
	expectNone(t, plus)

	// "+" needs exactly one token in its position.
	pub.Publish(pub.NewMessage(bus.T("hal", "device"), 4, false))
	expectNone(t, plus)
}

func TestRetainedReplayOnSubscribe(t *testing.T) {
	b := bus.NewBus(8)
	pub := b.NewConnection("hal")
	pub.Publish(pub.NewMessage(bus.T("hal"), "p0", true))
	pub.Publish(pub.NewMessage(bus.T("hal", "accel1"), "p1", true))
	pub.Publish(pub.NewMessage(bus.T("hal", "accel2"), "p2", true))
	pub.Publish(pub.NewMessage(bus.T("hal", "accel1", "value"), "p3", true))

	conn := b.NewConnection("test")
	cases := []struct {
		topic bus.Topic
		want  int
	}{
		{bus.T("hal", "#"), 4},
		{bus.T("hal", "+"), 2},
		{bus.T("hal", "+", "#"), 3},
		{bus.T("hal", "accel1"), 1},
		{bus.T("hal", "accel1", "value"), 1},
		{bus.T("hal", "nothere"), 0},
	}
	for _, tc := range cases {
		sub := conn.Subscribe(tc.topic)
		got := drain(sub)
		if len(got) != tc.want {
			t.Errorf("subscribe %v replayed %d retained (%v), want %d", tc.topic, len(got), got, tc.want)
		}
		conn.Unsubscribe(sub)
	}
}

func TestRetainedClear(t *testing.T) {
	b := bus.NewBus(8)
	pub := b.NewConnection("hal")
	pub.Publish(pub.NewMessage(bus.T("hal", "accel1", "state"), "running", true))

	conn := b.NewConnection("test")
	sub := conn.Subscribe(bus.T("hal", "accel1", "state"))
	expectPayload(t, sub, "running")
	conn.Unsubscribe(sub)

	// A retained nil payload clears the stored copy.
	pub.Publish(pub.NewMessage(bus.T("hal", "accel1", "state"), nil, true))

	sub = conn.Subscribe(bus.T("hal", "accel1", "state"))
	expectNone(t, sub)
}

func TestRetainedOverwrite(t *testing.T) {
	b := bus.NewBus(8)
	pub := b.NewConnection("hal")
	pub.Publish(pub.NewMessage(bus.T("hal", "accel1", "state"), "idle", true))
	pub.Publish(pub.NewMessage(bus.T("hal", "accel1", "state"), "running", true))

	conn := b.NewConnection("test")
	sub := conn.Subscribe(bus.T("hal", "accel1", "state"))
	expectPayload(t, sub, "running")
	expectNone(t, sub)
}

func TestQueueShedsOldest(t *testing.T) {
	b := bus.NewBus(2)
	conn := b.NewConnection("slow")
	sub := conn.Subscribe(bus.T("burst"))

	pub := b.NewConnection("fast")
	for i := 1; i <= 4; i++ {
		pub.Publish(pub.NewMessage(bus.T("burst"), i, false))
	}

	got := drain(sub)
	if len(got) != 2 || got[0] != 3 || got[1] != 4 {
		t.Fatalf("queued = %v, want [3 4]", got)
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	b := bus.NewBus(8)
	conn := b.NewConnection("test")
	sub := conn.Subscribe(bus.T("hal", "accel1"))
	conn.Unsubscribe(sub)

	if _, ok := <-sub.Channel(); ok {
		t.Fatal("channel still open after unsubscribe")
	}
	// A second unsubscribe of the same subscription is a no-op.
	conn.Unsubscribe(sub)

	pub := b.NewConnection("pub")
	pub.Publish(pub.NewMessage(bus.T("hal", "accel1"), 1, false))
}

func TestDisconnectClosesAll(t *testing.T) {
	b := bus.NewBus(8)
	conn := b.NewConnection("test")
	s1 := conn.Subscribe(bus.T("a"))
	s2 := conn.Subscribe(bus.T("b", "#"))
	conn.Disconnect()

	if _, ok := <-s1.Channel(); ok {
		t.Fatal("s1 open after disconnect")
	}
	if _, ok := <-s2.Channel(); ok {
		t.Fatal("s2 open after disconnect")
	}
}

func TestRequestReply(t *testing.T) {
	b := bus.NewBus(8)

	svc := b.NewConnection("accel1")
	cmds := svc.Subscribe(bus.T("hal", "accel1", "control"))
	go func() {
		for m := range cmds.Channel() {
			svc.Reply(m, fmt.Sprintf("done:%v", m.Payload), false)
		}
	}()
	defer svc.Disconnect()

	cli := b.NewConnection("cli")
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	reply, err := cli.RequestWait(ctx, cli.NewMessage(bus.T("hal", "accel1", "control"), "suspend", false))
	if err != nil {
		t.Fatalf("RequestWait: %v", err)
	}
	if reply.Payload != "done:suspend" {
		t.Fatalf("reply = %v", reply.Payload)
	}
	if reply.Source != "accel1" {
		t.Fatalf("reply source = %q", reply.Source)
	}
}

func TestRequestManualSubscription(t *testing.T) {
	b := bus.NewBus(8)

	svc := b.NewConnection("accel1")
	cmds := svc.Subscribe(bus.T("hal", "accel1", "control"))
	go func() {
		for m := range cmds.Channel() {
			svc.Reply(m, "ok", false)
		}
	}()
	defer svc.Disconnect()

	cli := b.NewConnection("cli")
	req := cli.NewMessage(bus.T("hal", "accel1", "control"), "resume", false)
	sub := cli.Request(req)
	defer cli.Unsubscribe(sub)

	if len(req.ReplyTo) == 0 {
		t.Fatal("Request left ReplyTo empty")
	}
	expectPayload(t, sub, "ok")
}

func TestRequestWaitTimeout(t *testing.T) {
	b := bus.NewBus(8)
	cli := b.NewConnection("cli")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, err := cli.RequestWait(ctx, cli.NewMessage(bus.T("hal", "nobody", "control"), "ping", false))
	if err != context.DeadlineExceeded {
		t.Fatalf("err = %v, want context.DeadlineExceeded", err)
	}
}

func TestReplyWithoutReplyTo(t *testing.T) {
	b := bus.NewBus(8)
	conn := b.NewConnection("svc")
	sub := conn.Subscribe(bus.T("#"))

	// Fire-and-forget messages produce no reply traffic.
	conn.Reply(&bus.Message{Topic: bus.T("x"), Payload: "q"}, "noise", false)
	expectNone(t, sub)
}
