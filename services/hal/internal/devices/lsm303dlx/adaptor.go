// services/hal/internal/devices/lsm303dlx/adaptor.go
package lsm303dlxdev

import (
	"context"
	"errors"
	"sync"
	"time"

	"accelcode-go/drivers/lsm303dlx"
	"accelcode-go/errcode"
	"accelcode-go/services/hal/internal/consts"
	"accelcode-go/services/hal/internal/halcore"
	"accelcode-go/services/hal/internal/halerr"
	"accelcode-go/services/hal/internal/registry"
	"accelcode-go/services/hal/internal/util"
	"accelcode-go/types"
	"accelcode-go/x/timex"
)

func init() {
	registry.RegisterBuilder("lsm303dlx", builder{})
}

// Params is the device's config shape. Profile overrides are staged before
// the initial resume so the first activation already carries them.
type Params struct {
	Addr          int            `json:"addr"`
	SampleEveryMS int            `json:"sample_every_ms"`
	Int1Pin       *int           `json:"int1_pin"` // nil: no wake line wired
	Int1Edge      string         `json:"int1_edge"`
	Int1Invert    bool           `json:"int1_invert"`
	IRQDebounceMS int            `json:"irq_debounce_ms"`
	ApplyOnBuild  *bool          `json:"apply_on_build"` // default true
	Suspend       *ProfileParams `json:"suspend"`
	Resume        *ProfileParams `json:"resume"`
}

// ProfileParams overrides individual knobs of one profile. Values follow
// the driver's units: mHz, mg, ms, and the IRQ mode ordinal.
type ProfileParams struct {
	ODRmHz *int64 `json:"odr_mhz"`
	FSRmg  *int64 `json:"fsr_mg"`
	ThsMg  *int64 `json:"ths_mg"`
	DurMs  *int64 `json:"dur_ms"`
	IRQ    *int64 `json:"irq"`
}

type builder struct{}

func (builder) Build(in registry.BuildInput) (registry.BuildOutput, error) {
	if in.BusRefType != "i2c" || in.BusRefID == "" {
		return registry.BuildOutput{}, halerr.ErrMissingBusRef
	}
	i2c, ok := in.Buses.ByID(in.BusRefID)
	if !ok {
		return registry.BuildOutput{}, halerr.ErrUnknownBus
	}
	var p Params
	if in.ParamsJSON != nil {
		if err := util.DecodeJSON(in.ParamsJSON, &p); err != nil {
			return registry.BuildOutput{}, halerr.ErrBadParams
		}
	}
	if p.Addr == 0 {
		p.Addr = lsm303dlx.AddressDefault
	}
	if p.SampleEveryMS <= 0 {
		p.SampleEveryMS = 1000
	}

	dev := lsm303dlx.New(i2c, uint16(p.Addr))
	stageProfile(dev, lsm303dlx.ProfileSuspend, p.Suspend)
	stageProfile(dev, lsm303dlx.ProfileResume, p.Resume)

	if p.ApplyOnBuild == nil || *p.ApplyOnBuild {
		if err := dev.Resume(); err != nil {
			return registry.BuildOutput{}, err
		}
	}

	ad := &adaptor{id: in.DeviceID, busID: in.BusRefID, dev: dev}
	out := registry.BuildOutput{
		Adaptor:     ad,
		BusID:       in.BusRefID,
		SampleEvery: time.Duration(p.SampleEveryMS) * time.Millisecond,
	}

	if p.Int1Pin != nil {
		gp, ok := in.Pins.ByNumber(*p.Int1Pin)
		if !ok {
			return registry.BuildOutput{}, halerr.ErrUnknownPin
		}
		irqPin, ok := gp.(halcore.IRQPin)
		if !ok {
			return registry.BuildOutput{}, halerr.ErrUnsupported
		}
		pull := halcore.PullDown
		if p.Int1Invert {
			pull = halcore.PullUp
		}
		if err := irqPin.ConfigureInput(pull); err != nil {
			return registry.BuildOutput{}, err
		}
		out.IRQ = &registry.IRQRequest{
			DevID:      in.DeviceID,
			Pin:        irqPin,
			Edge:       parseEdge(p.Int1Edge),
			DebounceMS: p.IRQDebounceMS,
			Invert:     p.Int1Invert,
		}
	}
	return out, nil
}

func stageProfile(dev *lsm303dlx.Device, id lsm303dlx.ProfileID, pp *ProfileParams) {
	if pp == nil {
		return
	}
	// Stage only; the next sequencer pass pushes the registers. Order
	// mirrors the driver's seeding: rate and range before their dependents.
	set := func(p lsm303dlx.Param, v *int64) {
		if v != nil {
			_ = dev.Set(p, false, v)
		}
	}
	if id == lsm303dlx.ProfileSuspend {
		set(lsm303dlx.ParamSuspendODR, pp.ODRmHz)
		set(lsm303dlx.ParamSuspendFSR, pp.FSRmg)
		set(lsm303dlx.ParamMotionThreshold, pp.ThsMg)
		set(lsm303dlx.ParamMotionDuration, pp.DurMs)
		set(lsm303dlx.ParamSuspendIRQ, pp.IRQ)
		return
	}
	set(lsm303dlx.ParamResumeODR, pp.ODRmHz)
	set(lsm303dlx.ParamResumeFSR, pp.FSRmg)
	set(lsm303dlx.ParamNoMotionThreshold, pp.ThsMg)
	set(lsm303dlx.ParamNoMotionDuration, pp.DurMs)
	set(lsm303dlx.ParamResumeIRQ, pp.IRQ)
}

func parseEdge(s string) halcore.Edge {
	switch s {
	case "falling":
		return halcore.EdgeFalling
	case "both":
		return halcore.EdgeBoth
	default:
		// INT1 is push-pull active-high out of reset.
		return halcore.EdgeRising
	}
}

// Collect runs on the bus worker goroutine while control verbs arrive on
// the service goroutine. The driver keeps scratch buffers, so every entry
// that touches it takes the adaptor mutex.
type adaptor struct {
	id    string
	busID string
	mu    sync.Mutex
	dev   *lsm303dlx.Device
}

func (a *adaptor) ID() string { return a.id }

func (a *adaptor) Capabilities() []halcore.CapInfo {
	d := lsm303dlx.Describe()
	return []halcore.CapInfo{
		{Kind: consts.KindAccel, Info: map[string]any{
			"sensor":         d.Name,
			"addr":           int(a.dev.Address()),
			"bus":            a.busID,
			"range_mg":       d.RangeMg,
			"schema_version": 1,
			"driver":         d.Name,
		}},
		{Kind: consts.KindMotion, Info: map[string]any{
			"sensor":         d.Name,
			"bus":            a.busID,
			"schema_version": 1,
			"driver":         d.Name,
		}},
	}
}

// Trigger is immediate: the part free-runs at the profile ODR, so there is
// no conversion to start. Collect's data gate does the pacing.
func (a *adaptor) Trigger(ctx context.Context) (time.Duration, error) {
	return 0, nil
}

func (a *adaptor) Collect(ctx context.Context) (halcore.Sample, error) {
	a.mu.Lock()
	s, err := a.dev.Read()
	a.mu.Unlock()
	if err != nil {
		if errors.Is(err, lsm303dlx.ErrNotReady) {
			return nil, halcore.ErrNotReady
		}
		return nil, err
	}
	return halcore.Sample{{
		Kind:    consts.KindAccel,
		Payload: types.AccelValue{X: s.X, Y: s.Y, Z: s.Z},
		TsNs:    timex.NowNs(),
	}}, nil
}

func (a *adaptor) Control(kind, method string, payload any) (any, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	switch method {
	case consts.CtrlSuspend:
		if err := a.dev.Suspend(); err != nil {
			return nil, err
		}
		return types.OKReply{OK: true}, nil

	case consts.CtrlResume:
		if err := a.dev.Resume(); err != nil {
			return nil, err
		}
		return types.OKReply{OK: true}, nil

	case consts.CtrlDescribe:
		return a.describe(), nil

	case consts.CtrlSetParam:
		var sp types.SetParam
		if err := util.DecodeJSON(payload, &sp); err != nil {
			return nil, errcode.InvalidPayload
		}
		p, ok := lsm303dlx.ParamByName(sp.Key)
		if !ok {
			return nil, errcode.UnknownParam
		}
		if err := a.dev.Set(p, sp.Apply, &sp.Value); err != nil {
			return nil, errcode.MapDriverErr(err)
		}
		v, err := a.dev.Get(p)
		if err != nil {
			return nil, errcode.MapDriverErr(err)
		}
		return types.ParamValue{Key: sp.Key, Value: v}, nil

	case consts.CtrlGetParam:
		var gp types.GetParam
		if err := util.DecodeJSON(payload, &gp); err != nil {
			return nil, errcode.InvalidPayload
		}
		p, ok := lsm303dlx.ParamByName(gp.Key)
		if !ok {
			return nil, errcode.UnknownParam
		}
		v, err := a.dev.Get(p)
		if err != nil {
			return nil, errcode.MapDriverErr(err)
		}
		return types.ParamValue{Key: gp.Key, Value: v}, nil

	case consts.CtrlWakeSource:
		src, err := a.dev.WakeSource()
		if err != nil {
			return nil, err
		}
		return types.MotionEvent{Source: src, TS: timex.NowNs()}, nil

	default:
		return nil, halcore.ErrUnsupported
	}
}

func (a *adaptor) describe() types.AccelProfiles {
	return types.AccelProfiles{
		Suspend: profileView(a.dev.Profile(lsm303dlx.ProfileSuspend)),
		Resume:  profileView(a.dev.Profile(lsm303dlx.ProfileResume)),
	}
}

func profileView(p lsm303dlx.Profile) types.ProfileView {
	return types.ProfileView{
		ODRmHz:      p.ODR,
		FSRmg:       p.FSR,
		ThresholdMg: p.Threshold,
		DurationMs:  p.Duration,
		IRQ:         irqName(p.IRQ),
	}
}

func irqName(m lsm303dlx.IRQMode) string {
	switch m {
	case lsm303dlx.IRQMotion:
		return "motion"
	case lsm303dlx.IRQDataReady:
		return "data_ready"
	default:
		return "none"
	}
}
