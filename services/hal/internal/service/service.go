// services/hal/internal/service/service.go
package service

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"accelcode-go/bus"
	"accelcode-go/services/hal/internal/consts"
	"accelcode-go/services/hal/internal/halcore"
	"accelcode-go/services/hal/internal/halerr"
	"accelcode-go/services/hal/internal/motionirq"
	"accelcode-go/services/hal/internal/registry"
	"accelcode-go/services/hal/internal/util"
	"accelcode-go/services/hal/internal/worker"
	"accelcode-go/types"
	"accelcode-go/x/timex"
)

type devEntry struct {
	adaptor halcore.Adaptor
	caps    map[string]int // kind -> numeric capability id
	busID   string
}

type capKey struct {
	kind string
	id   int
}

type Service struct {
	conn  *bus.Connection
	buses halcore.I2CBusFactory
	pins  halcore.PinFactory

	workers map[string]*worker.MeasureWorker // busID -> worker
	results chan halcore.Result

	devices   map[string]devEntry
	capToDev  map[capKey]string // (kind,id) -> devID
	nextCapID map[string]int

	devPeriod  map[string]time.Duration
	devJitter  map[string]time.Duration
	devNextDue map[string]time.Time

	timer *time.Timer

	// INT line support
	irqW      *motionirq.Watcher
	irqCancel map[string]func() // devID -> cancel
}

var (
	topicConfigHAL = bus.Topic{consts.TokConfig, consts.TokHAL}
	topicCtrl      = bus.Topic{consts.TokHAL, consts.TokCapability, "+", "+", consts.TokControl, "+"}
)

func New(conn *bus.Connection, buses halcore.I2CBusFactory, pins halcore.PinFactory) *Service {
	return &Service{
		conn:       conn,
		buses:      buses,
		pins:       pins,
		workers:    map[string]*worker.MeasureWorker{},
		results:    make(chan halcore.Result, 64),
		devices:    map[string]devEntry{},
		capToDev:   map[capKey]string{},
		nextCapID:  map[string]int{},
		devPeriod:  map[string]time.Duration{},
		devJitter:  map[string]time.Duration{},
		devNextDue: map[string]time.Time{},
		irqW:       motionirq.New(64, 64),
		irqCancel:  map[string]func(){},
	}
}

func (s *Service) Run(ctx context.Context) {
	s.irqW.Start(ctx)

	cfgSub := s.conn.Subscribe(topicConfigHAL)
	ctrlSub := s.conn.Subscribe(topicCtrl)
	defer s.conn.Unsubscribe(cfgSub)
	defer s.conn.Unsubscribe(ctrlSub)

	s.publishState("idle", "awaiting_config", nil)

	s.timer = time.NewTimer(time.Hour)
	if !s.timer.Stop() {
		util.DrainTimer(s.timer)
	}

	irqEv := s.irqW.Events()

	for {
		// arm timer
		if next := s.earliestDevDue(); next.IsZero() {
			util.ResetTimer(s.timer, time.Hour)
		} else {
			util.ResetTimer(s.timer, time.Until(next))
		}

		select {
		case <-ctx.Done():
			s.publishState("stopped", "context_cancelled", nil)
			for _, c := range s.irqCancel {
				c()
			}
			return

		case msg := <-cfgSub.Channel():
			cfg, ok := msg.Payload.(types.HALConfig)
			if !ok {
				// Config may arrive as a decoded JSON document.
				if err := util.DecodeJSON(msg.Payload, &cfg); err != nil {
					s.publishState("degraded", "config_invalid", err)
					continue
				}
			}
			if err := s.applyConfig(ctx, cfg); err != nil {
				s.publishState("degraded", "device_build_failed", err)
				continue
			}
			s.publishState("ready", "configured", nil)

		case msg := <-ctrlSub.Channel():
			s.handleControl(msg)

		case <-s.timer.C:
			now := time.Now()
			for devID, due := range s.devNextDue {
				if !now.Before(due) {
					s.submitMeasure(devID, false)
					s.bumpDevNext(devID, now)
				}
			}

		case r := <-s.results:
			s.handleResult(r)

		case ev := <-irqEv:
			s.handleIRQEvent(ev)
		}
	}
}

func (s *Service) handleControl(msg *bus.Message) {
	if len(msg.Topic) < 6 {
		return
	}
	kind, _ := msg.Topic[2].(string)
	idNum, ok := asInt(msg.Topic[3])
	if !ok || kind == "" {
		s.replyErr(msg, halerr.ErrInvalidCapAddr.Error())
		return
	}
	devID, ok := s.capToDev[capKey{kind: kind, id: idNum}]
	if !ok {
		s.replyErr(msg, halerr.ErrUnknownCap.Error())
		return
	}
	method, _ := msg.Topic[5].(string)

	switch method {
	case consts.CtrlReadNow:
		if s.submitMeasure(devID, true) {
			s.bumpDevNext(devID, time.Now())
			s.conn.Reply(msg, types.OKReply{OK: true}, false)
		} else {
			s.replyErr(msg, halerr.ErrBusy.Error())
		}

	case consts.CtrlSetRate:
		sr, ok := msg.Payload.(types.SetRate)
		if !ok {
			if err := util.DecodeJSON(msg.Payload, &sr); err != nil {
				s.replyErr(msg, halerr.ErrInvalidPeriod.Error())
				return
			}
		}
		if sr.IntervalMs == 0 {
			delete(s.devPeriod, devID)
			delete(s.devJitter, devID)
			delete(s.devNextDue, devID)
			s.conn.Reply(msg, types.SetRate{}, false)
			return
		}
		p := timex.ClampDuration(timex.PeriodFromMs(sr.IntervalMs), 200*time.Millisecond, time.Hour)
		s.devPeriod[devID] = p
		s.devJitter[devID] = time.Duration(sr.JitterMs) * time.Millisecond
		s.bumpDevNext(devID, time.Now())
		// Echo the applied (clamped) schedule.
		s.conn.Reply(msg, types.SetRate{
			IntervalMs: uint32(p / time.Millisecond),
			JitterMs:   sr.JitterMs,
		}, false)

	default:
		ent := s.devices[devID]
		if ent.adaptor == nil {
			s.replyErr(msg, halerr.ErrNoAdaptor.Error())
			return
		}
		res, err := ent.adaptor.Control(kind, method, msg.Payload)
		if err == nil {
			s.conn.Reply(msg, res, false)
			return
		}
		if errors.Is(err, halcore.ErrUnsupported) {
			s.replyErr(msg, halerr.ErrUnsupported.Error())
		} else {
			s.replyErr(msg, err.Error())
		}
	}
}

func (s *Service) applyConfig(ctx context.Context, cfg types.HALConfig) error {
	seen := map[string]struct{}{}
	var buildErrs []error

	for i := range cfg.Devices {
		d := &cfg.Devices[i]
		seen[d.ID] = struct{}{}

		if _, exists := s.devices[d.ID]; exists {
			continue
		}

		b, ok := registry.Lookup(d.Type)
		if !ok {
			continue
		}

		out, err := b.Build(registry.BuildInput{
			Ctx:        ctx,
			Buses:      s.buses,
			Pins:       s.pins,
			DeviceID:   d.ID,
			Type:       d.Type,
			ParamsJSON: d.Params,
			BusRefType: d.BusRef.Type,
			BusRefID:   d.BusRef.ID,
		})
		if err != nil {
			buildErrs = append(buildErrs, err)
			continue
		}

		if out.BusID != "" {
			if _, ok := s.workers[out.BusID]; !ok {
				w := worker.New(halcore.WorkerConfig{}, s.results)
				w.Start(ctx)
				s.workers[out.BusID] = w
			}
		}

		entry := devEntry{adaptor: out.Adaptor, busID: out.BusID, caps: map[string]int{}}

		for _, ci := range out.Adaptor.Capabilities() {
			id := s.nextCapID[ci.Kind]
			s.nextCapID[ci.Kind]++

			entry.caps[ci.Kind] = id
			s.capToDev[capKey{kind: ci.Kind, id: id}] = d.ID

			s.pubRet(ci.Kind, id, consts.TokInfo, ci.Info)
			s.pubRet(ci.Kind, id, consts.TokState,
				types.CapabilityStatus{Link: types.LinkUp, TS: timex.NowNs()})
		}
		s.devices[d.ID] = entry

		if out.SampleEvery > 0 {
			s.devPeriod[d.ID] = timex.ClampDuration(out.SampleEvery, 200*time.Millisecond, time.Hour)
			// First reading shortly after configuration.
			s.devNextDue[d.ID] = time.Now().Add(200 * time.Millisecond)
		}

		if out.IRQ != nil && out.IRQ.Pin != nil {
			cancel, err := s.irqW.Watch(out.IRQ.DevID, out.IRQ.Pin, out.IRQ.Edge, out.IRQ.DebounceMS, out.IRQ.Invert)
			if err == nil {
				s.irqCancel[d.ID] = cancel
			} else {
				buildErrs = append(buildErrs, err)
			}
		}
	}

	// Declarative schedules override the builders' defaults.
	for _, ps := range cfg.Pollers {
		if _, ok := s.devices[ps.Name]; !ok {
			continue
		}
		if ps.Verb != "" && ps.Verb != "read" {
			continue
		}
		if ps.IntervalMs == 0 {
			delete(s.devPeriod, ps.Name)
			delete(s.devJitter, ps.Name)
			delete(s.devNextDue, ps.Name)
			continue
		}
		s.devPeriod[ps.Name] = timex.ClampDuration(timex.PeriodFromMs(ps.IntervalMs), 200*time.Millisecond, time.Hour)
		s.devJitter[ps.Name] = time.Duration(ps.JitterMs) * time.Millisecond
		s.devNextDue[ps.Name] = time.Now().Add(200 * time.Millisecond)
	}

	// Tidy-up devices not in config
	for devID, ent := range s.devices {
		if _, ok := seen[devID]; ok {
			continue
		}
		for kind, id := range ent.caps {
			s.pubRet(kind, id, consts.TokInfo, nil)
			s.pubRet(kind, id, consts.TokState,
				types.CapabilityStatus{Link: types.LinkDown, TS: timex.NowNs()})
			delete(s.capToDev, capKey{kind: kind, id: id})
		}
		if c, ok := s.irqCancel[devID]; ok {
			c()
			delete(s.irqCancel, devID)
		}
		delete(s.devices, devID)
		delete(s.devPeriod, devID)
		delete(s.devJitter, devID)
		delete(s.devNextDue, devID)
	}
	return errors.Join(buildErrs...)
}

// ---- measurement helpers ----

func (s *Service) submitMeasure(devID string, prio bool) bool {
	ent, ok := s.devices[devID]
	if !ok {
		return false
	}
	w := s.workers[ent.busID]
	if w == nil {
		return false
	}
	return w.Submit(halcore.MeasureReq{ID: devID, Adaptor: ent.adaptor, Prio: prio})
}

func (s *Service) bumpDevNext(devID string, from time.Time) {
	period := s.devPeriod[devID]
	if period <= 0 {
		period = 200 * time.Millisecond
	}
	period = timex.ClampDuration(period, 200*time.Millisecond, time.Hour)
	if j := s.devJitter[devID]; j > 0 {
		period += time.Duration(rand.Int63n(int64(j) + 1))
	}
	s.devNextDue[devID] = from.Add(period)
}

func (s *Service) earliestDevDue() time.Time {
	var min time.Time
	for _, t := range s.devNextDue {
		if !t.IsZero() && (min.IsZero() || t.Before(min)) {
			min = t
		}
	}
	return min
}

// ---- results & events ----

func (s *Service) handleResult(r halcore.Result) {
	ent, ok := s.devices[r.ID]
	if !ok {
		return
	}
	now := timex.NowNs()

	if r.Err != nil {
		for kind, id := range ent.caps {
			s.pubRet(kind, id, consts.TokState, types.CapabilityStatus{
				Link:  types.LinkDegraded,
				TS:    now,
				Error: r.Err.Error(),
			})
		}
		return
	}
	for _, rd := range r.Sample {
		id, ok := ent.caps[rd.Kind]
		if !ok {
			continue
		}
		s.conn.Publish(s.conn.NewMessage(
			capTopicInt(rd.Kind, id, consts.TokValue),
			rd.Payload,
			false,
		))
		s.pubRet(rd.Kind, id, consts.TokState,
			types.CapabilityStatus{Link: types.LinkUp, TS: now})
	}
}

// handleIRQEvent services a wake line assertion: read the source register
// through the adaptor (which clears the device latch), publish the motion
// event, and pull a fresh sample immediately.
func (s *Service) handleIRQEvent(ev motionirq.Event) {
	ent, ok := s.devices[ev.DevID]
	if !ok {
		return
	}
	if ev.Level != 1 {
		return // deassert, nothing to do
	}

	id, hasMotion := ent.caps[consts.KindMotion]

	res, err := ent.adaptor.Control(consts.KindMotion, consts.CtrlWakeSource, nil)
	if err != nil {
		if hasMotion {
			s.pubRet(consts.KindMotion, id, consts.TokState, types.CapabilityStatus{
				Link:  types.LinkDegraded,
				TS:    timex.NowNs(),
				Error: err.Error(),
			})
		}
		return
	}
	if hasMotion {
		if mev, ok := res.(types.MotionEvent); ok {
			s.conn.Publish(s.conn.NewMessage(
				capTopicInt(consts.KindMotion, id, consts.TokEvent), mev, false))
		}
		s.pubRet(consts.KindMotion, id, consts.TokState,
			types.CapabilityStatus{Link: types.LinkUp, TS: timex.NowNs()})
	}

	// Motion means the data just changed; jump the schedule.
	_ = s.submitMeasure(ev.DevID, true)
	s.bumpDevNext(ev.DevID, ev.TS)
}

// ---- bus helpers & utils ----

func (s *Service) publishState(level, status string, err error) {
	pl := types.HALState{Level: level, Status: status, TS: timex.NowNs()}
	if err != nil {
		pl.Error = err.Error()
	}
	s.conn.Publish(s.conn.NewMessage(bus.Topic{consts.TokHAL, consts.TokState}, pl, true))
}

func (s *Service) replyErr(req *bus.Message, code string) {
	if len(req.ReplyTo) == 0 {
		return
	}
	if code == "" {
		code = "error"
	}
	s.conn.Reply(req, types.ErrorReply{OK: false, Error: code}, false)
}

func capTopicInt(kind string, id int, suffix string) bus.Topic {
	return bus.Topic{consts.TokHAL, consts.TokCapability, kind, id, suffix}
}

func (s *Service) pubRet(kind string, id int, suffix string, p any) {
	s.conn.Publish(s.conn.NewMessage(capTopicInt(kind, id, suffix), p, true))
}

// asInt tolerates every numeric shape a topic id can arrive as once a
// message has crossed a JSON boundary.
func asInt(t any) (int, bool) {
	switch v := t.(type) {
	case int:
		return v, true
	case int8:
		return int(v), true
	case int16:
		return int(v), true
	case int32:
		return int(v), true
	case int64:
		return int(v), true
	case uint:
		return int(v), true
	case uint8:
		return int(v), true
	case uint16:
		return int(v), true
	case uint32:
		return int(v), true
	case uint64:
		return int(v), true
	case float32:
		return int(v), true
	case float64:
		return int(v), true
	default:
		return 0, false
	}
}
