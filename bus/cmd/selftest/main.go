// bus/cmd/selftest/main.go

// selftest exercises the message bus end to end and exits nonzero on the
// first behavioural regression. Handy as a quick smoke check on a new
// build without pulling in the full test suite.
package main

import (
	"context"
	"log"
	"os"
	"sort"
	"time"

	"accelcode-go/bus"
)

func expectPayload(sub *bus.Subscription, want string, timeout time.Duration) bool {
	select {
	case m := <-sub.Channel():
		s, ok := m.Payload.(string)
		return ok && s == want
	case <-time.After(timeout):
		return false
	}
}

func expectSilence(sub *bus.Subscription, timeout time.Duration) bool {
	select {
	case <-sub.Channel():
		return false
	case <-time.After(timeout):
		return true
	}
}

func drain(sub *bus.Subscription, n int, deadline time.Time) ([]string, bool) {
	var out []string
	for len(out) < n && time.Now().Before(deadline) {
		select {
		case m := <-sub.Channel():
			s, ok := m.Payload.(string)
			if !ok {
				return nil, false
			}
			out = append(out, s)
		case <-time.After(10 * time.Millisecond):
		}
	}
	sort.Strings(out)
	return out, len(out) == n
}

func same(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func checkPubSub() bool {
	b := bus.NewBus(4)
	c := b.NewConnection("selftest")
	sub := c.Subscribe(bus.T("config", "hal"))
	c.Publish(c.NewMessage(bus.T("config", "hal"), "hello", false))
	return expectPayload(sub, "hello", 100*time.Millisecond)
}

func checkRetainedReplay() bool {
	b := bus.NewBus(4)
	c := b.NewConnection("selftest")
	c.Publish(c.NewMessage(bus.T("hal", "state"), "ready", true))
	sub := c.Subscribe(bus.T("hal", "state"))
	return expectPayload(sub, "ready", 100*time.Millisecond)
}

func checkRetainedClear() bool {
	b := bus.NewBus(8)
	c := b.NewConnection("selftest")
	c.Publish(c.NewMessage(bus.T("hal", "capability", "accel", 0, "info"), "doc", true))
	c.Publish(c.NewMessage(bus.T("hal", "capability", "motion", 0, "info"), "keep", true))
	c.Publish(c.NewMessage(bus.T("hal", "capability", "accel", 0, "info"), nil, true))
	sub := c.Subscribe(bus.T("hal", "capability", "#"))
	got, ok := drain(sub, 1, time.Now().Add(200*time.Millisecond))
	if !ok || !same(got, []string{"keep"}) {
		return false
	}
	return expectSilence(sub, 60*time.Millisecond)
}

func checkWildcards() bool {
	b := bus.NewBus(16)
	c := b.NewConnection("selftest")
	plus := c.Subscribe(bus.T("hal", "capability", "+", 0, "value"))
	hash := c.Subscribe(bus.T("hal", "#"))
	other := c.Subscribe(bus.T("hal", "capability", "+", 1, "value"))

	c.Publish(c.NewMessage(bus.T("hal", "capability", "accel", 0, "value"), "v", false))
	if !expectPayload(plus, "v", 200*time.Millisecond) {
		return false
	}
	if !expectPayload(hash, "v", 200*time.Millisecond) {
		return false
	}
	return expectSilence(other, 60*time.Millisecond)
}

func checkRetainedWildcardReplay() bool {
	b := bus.NewBus(16)
	c := b.NewConnection("selftest")
	c.Publish(c.NewMessage(bus.T("config", "hal"), "a", true))
	c.Publish(c.NewMessage(bus.T("config", "bridge"), "b", true))
	c.Publish(c.NewMessage(bus.T("config", "heartbeat"), "c", true))
	sub := c.Subscribe(bus.T("config", "+"))
	got, ok := drain(sub, 3, time.Now().Add(300*time.Millisecond))
	return ok && same(got, []string{"a", "b", "c"})
}

func checkRequestReply() bool {
	b := bus.NewBus(8)
	cli := b.NewConnection("client")
	srv := b.NewConnection("server")

	ctrl := bus.T("hal", "capability", "accel", 0, "control", "read_now")
	srvSub := srv.Subscribe(ctrl)
	done := make(chan struct{})
	go func() {
		defer close(done)
		if m, ok := <-srvSub.Channel(); ok {
			srv.Reply(m, "ok", false)
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	reply, err := cli.RequestWait(ctx, cli.NewMessage(ctrl, nil, false))
	srv.Unsubscribe(srvSub)
	<-done
	if err != nil {
		return false
	}
	s, ok := reply.Payload.(string)
	return ok && s == "ok"
}

func checkRequestTimeout() bool {
	b := bus.NewBus(8)
	cli := b.NewConnection("client")
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := cli.RequestWait(ctx, cli.NewMessage(bus.T("nobody", "home"), nil, false))
	return err != nil
}

func checkQueueSheds() bool {
	b := bus.NewBus(2)
	c := b.NewConnection("selftest")
	sub := c.Subscribe(bus.T("flood"))
	for i := 0; i < 5; i++ {
		c.Publish(c.NewMessage(bus.T("flood"), "x", false))
	}
	// Queue holds the most recent two; the rest were shed without
	// blocking the publisher.
	got, ok := drain(sub, 2, time.Now().Add(200*time.Millisecond))
	if !ok || !same(got, []string{"x", "x"}) {
		return false
	}
	return expectSilence(sub, 60*time.Millisecond)
}

func main() {
	log.SetFlags(0)
	log.SetPrefix("bus-selftest: ")

	checks := []struct {
		name string
		fn   func() bool
	}{
		{"pubsub", checkPubSub},
		{"retained_replay", checkRetainedReplay},
		{"retained_clear", checkRetainedClear},
		{"wildcards", checkWildcards},
		{"retained_wildcard_replay", checkRetainedWildcardReplay},
		{"request_reply", checkRequestReply},
		{"request_timeout", checkRequestTimeout},
		{"queue_sheds_oldest", checkQueueSheds},
	}

	failed := 0
	for _, tc := range checks {
		if tc.fn() {
			log.Printf("pass %s", tc.name)
		} else {
			log.Printf("FAIL %s", tc.name)
			failed++
		}
	}
	if failed > 0 {
		log.Printf("%d of %d checks failed", failed, len(checks))
		os.Exit(1)
	}
	log.Printf("all %d checks passed", len(checks))
}
