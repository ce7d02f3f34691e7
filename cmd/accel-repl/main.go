// cmd/accel-repl/main.go

// accel-repl drives a live accelerometer stack from an interactive prompt.
// It spins up the same bus + config + HAL wiring as accel-hald (simulated
// rig by default) and exposes the capability controls as commands.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/google/shlex"

	"accelcode-go/bus"
	"accelcode-go/services/config"
	"accelcode-go/services/hal"
	"accelcode-go/types"
	"accelcode-go/x/mathx"
)

// Single-device rig: the accel and motion capabilities are both id 0.
const capID = 0

func main() {
	var (
		board  = flag.String("board", "sim", "embedded board config to load")
		i2cBus = flag.String("i2c", "1", "host I2C bus name for the periph run mode")
		sim    = flag.Bool("sim", false, "force the simulated rig regardless of board")
		addr   = flag.Uint("addr", 0x18, "accelerometer address for the simulated rig")
		intPin = flag.Int("int-pin", 6, "INT1 pin number for the simulated rig")
	)
	flag.Parse()

	log.SetFlags(0)
	log.SetPrefix("accel-repl: ")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	b := bus.NewBus(16)
	halConn := b.NewConnection("hal")
	useSim := *sim || *board == "sim"
	go func() {
		if useSim {
			hal.RunSim(ctx, halConn, uint16(*addr), *intPin)
			return
		}
		if err := hal.RunPeriph(ctx, halConn, map[string]string{"i2c0": *i2cBus}); err != nil {
			log.Fatalf("hal: %v", err)
		}
	}()

	cfgCtx := context.WithValue(ctx, config.CtxBoardKey, *board)
	config.NewConfigService().Start(cfgCtx, b.NewConnection("config"))

	conn := b.NewConnection("repl")
	r := &repl{ctx: ctx, conn: conn}

	if st, ok := r.waitHALLevel("ready", 5*time.Second); !ok {
		log.Fatalf("hal never came up (last state %+v)", st)
	}
	r.loadInfo()

	// Motion events print asynchronously over the prompt.
	go r.watchMotion()

	fmt.Printf("connected: %s on %s, range %d mg (type 'help')\n",
		r.info.Sensor, r.info.Bus, r.info.RangeMg)

	sc := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("accel> ")
		if !sc.Scan() {
			fmt.Println()
			return
		}
		args, err := shlex.Split(sc.Text())
		if err != nil {
			fmt.Println("parse:", err)
			continue
		}
		if len(args) == 0 {
			continue
		}
		if !r.dispatch(args) {
			return
		}
	}
}

type repl struct {
	ctx  context.Context
	conn *bus.Connection
	info types.AccelInfo
}

func (r *repl) dispatch(args []string) bool {
	switch args[0] {
	case "quit", "exit":
		return false
	case "help":
		fmt.Print(helpText)
	case "status":
		r.status()
	case "read":
		r.read()
	case "suspend", "resume":
		r.simpleVerb(args[0])
	case "describe":
		r.describe()
	case "set":
		r.setParam(args[1:])
	case "get":
		r.getParam(args[1:])
	case "rate":
		r.rate(args[1:])
	default:
		fmt.Println("unknown command (try 'help')")
	}
	return true
}

const helpText = `commands:
  status                      service and capability state
  read                        force a measurement and print it
  suspend | resume            switch the operating profile
  set <param> <value> [apply] stage (or push) a tuning knob
  get <param>                 read back a tuning knob
  describe                    show both profiles as the device holds them
  rate <ms> [jitter_ms]       change the polling schedule
  quit
params: odr_suspend odr_resume fsr_suspend fsr_resume
        mot_ths nmot_ths mot_dur nmot_dur irq_suspend irq_resume
`

// ---- bus plumbing ----

func (r *repl) waitHALLevel(level string, timeout time.Duration) (types.HALState, bool) {
	sub := r.conn.Subscribe(bus.Topic{"hal", "state"})
	defer r.conn.Unsubscribe(sub)
	var last types.HALState
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		select {
		case m := <-sub.Channel():
			if st, ok := m.Payload.(types.HALState); ok {
				last = st
				if st.Level == level {
					return st, true
				}
			}
		case <-time.After(50 * time.Millisecond):
		}
	}
	return last, false
}

// loadInfo decodes the retained capability info document.
func (r *repl) loadInfo() {
	sub := r.conn.Subscribe(bus.Topic{"hal", "capability", "accel", capID, "info"})
	defer r.conn.Unsubscribe(sub)
	select {
	case m := <-sub.Channel():
		raw, err := json.Marshal(m.Payload)
		if err == nil {
			_ = json.Unmarshal(raw, &r.info)
		}
	case <-time.After(time.Second):
	}
	if r.info.RangeMg == 0 {
		r.info.RangeMg = 2480 // part default; keeps mg printing sane
	}
}

func (r *repl) request(verb string, payload any) (*bus.Message, error) {
	ctx, cancel := context.WithTimeout(r.ctx, 2*time.Second)
	defer cancel()
	topic := bus.Topic{"hal", "capability", "accel", capID, "control", verb}
	return r.conn.RequestWait(ctx, r.conn.NewMessage(topic, payload, false))
}

// printReply renders the common reply shapes.
func printReply(m *bus.Message) {
	switch v := m.Payload.(type) {
	case types.OKReply:
		fmt.Println("ok")
	case types.ErrorReply:
		fmt.Println("error:", v.Error)
	case types.ParamValue:
		fmt.Printf("%s = %d\n", v.Key, v.Value)
	case types.SetRate:
		fmt.Printf("applied: every %d ms (jitter %d ms)\n", v.IntervalMs, v.JitterMs)
	default:
		fmt.Printf("%+v\n", v)
	}
}

// ---- commands ----

func (r *repl) status() {
	halSub := r.conn.Subscribe(bus.Topic{"hal", "state"})
	select {
	case m := <-halSub.Channel():
		if st, ok := m.Payload.(types.HALState); ok {
			fmt.Printf("hal: %s (%s)\n", st.Level, st.Status)
		}
	case <-time.After(300 * time.Millisecond):
		fmt.Println("hal: no state")
	}
	r.conn.Unsubscribe(halSub)
	for _, kind := range []string{"accel", "motion"} {
		sub := r.conn.Subscribe(bus.Topic{"hal", "capability", kind, capID, "state"})
		select {
		case m := <-sub.Channel():
			if cs, ok := m.Payload.(types.CapabilityStatus); ok {
				if cs.Error != "" {
					fmt.Printf("%s/%d: %s (%s)\n", kind, capID, cs.Link, cs.Error)
				} else {
					fmt.Printf("%s/%d: %s\n", kind, capID, cs.Link)
				}
			}
		case <-time.After(300 * time.Millisecond):
			fmt.Printf("%s/%d: no state\n", kind, capID)
		}
		r.conn.Unsubscribe(sub)
	}
}

func (r *repl) read() {
	valSub := r.conn.Subscribe(bus.Topic{"hal", "capability", "accel", capID, "value"})
	defer r.conn.Unsubscribe(valSub)

	m, err := r.request("read_now", nil)
	if err != nil {
		fmt.Println("error:", err)
		return
	}
	if er, isErr := m.Payload.(types.ErrorReply); isErr {
		fmt.Println("error:", er.Error)
		return
	}

	select {
	case vm := <-valSub.Channel():
		if v, ok := vm.Payload.(types.AccelValue); ok {
			fmt.Printf("x %6d  y %6d  z %6d   (%d, %d, %d mg)\n",
				v.X, v.Y, v.Z,
				toMg(int64(v.X), r.info.RangeMg),
				toMg(int64(v.Y), r.info.RangeMg),
				toMg(int64(v.Z), r.info.RangeMg))
		}
	case <-time.After(2 * time.Second):
		fmt.Println("no sample arrived (device suspended or stale?)")
	}
}

func (r *repl) simpleVerb(verb string) {
	m, err := r.request(verb, nil)
	if err != nil {
		fmt.Println("error:", err)
		return
	}
	printReply(m)
}

func (r *repl) describe() {
	m, err := r.request("describe", nil)
	if err != nil {
		fmt.Println("error:", err)
		return
	}
	p, ok := m.Payload.(types.AccelProfiles)
	if !ok {
		printReply(m)
		return
	}
	printProfile("suspend", p.Suspend)
	printProfile("resume ", p.Resume)
}

func printProfile(name string, p types.ProfileView) {
	fmt.Printf("%s  odr %s Hz  fsr %d mg  ths %d mg  dur %d ms  irq %s\n",
		name, mHzString(p.ODRmHz), p.FSRmg, p.ThresholdMg, p.DurationMs, p.IRQ)
}

// mHzString renders a millihertz rate as a decimal Hz string.
func mHzString(mHz int64) string {
	whole := mHz / 1000
	frac := mHz % 1000
	if frac == 0 {
		return strconv.FormatInt(whole, 10)
	}
	return fmt.Sprintf("%d.%03d", whole, frac)
}

func (r *repl) setParam(args []string) {
	if len(args) < 2 {
		fmt.Println("usage: set <param> <value> [apply]")
		return
	}
	val, err := strconv.ParseInt(args[1], 10, 64)
	if err != nil {
		fmt.Println("bad value:", args[1])
		return
	}
	apply := len(args) > 2 && args[2] == "apply"
	m, err := r.request("set_param", types.SetParam{Key: args[0], Value: val, Apply: apply})
	if err != nil {
		fmt.Println("error:", err)
		return
	}
	printReply(m)
}

func (r *repl) getParam(args []string) {
	if len(args) != 1 {
		fmt.Println("usage: get <param>")
		return
	}
	m, err := r.request("get_param", types.GetParam{Key: args[0]})
	if err != nil {
		fmt.Println("error:", err)
		return
	}
	printReply(m)
}

func (r *repl) rate(args []string) {
	if len(args) < 1 {
		fmt.Println("usage: rate <ms> [jitter_ms]")
		return
	}
	ms, err := strconv.ParseUint(args[0], 10, 32)
	if err != nil {
		fmt.Println("bad interval:", args[0])
		return
	}
	var jitter uint64
	if len(args) > 1 {
		if jitter, err = strconv.ParseUint(args[1], 10, 16); err != nil {
			fmt.Println("bad jitter:", args[1])
			return
		}
	}
	m, err := r.request("set_rate", types.SetRate{IntervalMs: uint32(ms), JitterMs: uint16(jitter)})
	if err != nil {
		fmt.Println("error:", err)
		return
	}
	printReply(m)
}

// watchMotion prints wake events as they happen.
func (r *repl) watchMotion() {
	sub := r.conn.Subscribe(bus.Topic{"hal", "capability", "motion", capID, "event"})
	defer r.conn.Unsubscribe(sub)
	for {
		select {
		case <-r.ctx.Done():
			return
		case m := <-sub.Channel():
			ev, ok := m.Payload.(types.MotionEvent)
			if !ok {
				continue
			}
			fmt.Printf("\nmotion! source 0x%02X (%s)\naccel> ", ev.Source, sourceNames(ev.Source))
		}
	}
}

func sourceNames(src uint8) string {
	it := types.NewBitIter(types.MotionSourceBits(src), types.MotionSourceTable[:])
	out := ""
	for {
		name, ok := it.Next()
		if !ok {
			break
		}
		if out != "" {
			out += "|"
		}
		out += name
	}
	if out == "" {
		return "none"
	}
	return out
}

// toMg converts a raw left-justified sample to milli-g against the
// published full range.
func toMg(raw, rangeMg int64) int64 {
	mg := int64(mathx.RoundDiv(uint64(mathx.Abs(raw))*uint64(rangeMg), 32768))
	if raw < 0 {
		return -mg
	}
	return mg
}
