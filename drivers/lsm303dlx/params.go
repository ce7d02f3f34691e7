package lsm303dlx

// Param is the closed set of keyed configuration knobs. Each knob targets
// one profile; the unit is fixed per knob and noted on the constant.
type Param uint8

const (
	ParamSuspendODR        Param = iota // suspend rate, mHz
	ParamResumeODR                      // resume rate, mHz
	ParamSuspendFSR                     // suspend full-scale, mg
	ParamResumeFSR                      // resume full-scale, mg
	ParamMotionThreshold                // suspend wake threshold, mg
	ParamNoMotionThreshold              // resume stillness threshold, mg
	ParamMotionDuration                 // suspend wake duration, ms
	ParamNoMotionDuration               // resume stillness duration, ms
	ParamSuspendIRQ                     // suspend IRQ mode (0 none, 1 motion, 2 data-ready)
	ParamResumeIRQ                      // resume IRQ mode
)

var paramNames = map[Param]string{
	ParamSuspendODR:        "odr_suspend",
	ParamResumeODR:         "odr_resume",
	ParamSuspendFSR:        "fsr_suspend",
	ParamResumeFSR:         "fsr_resume",
	ParamMotionThreshold:   "mot_ths",
	ParamNoMotionThreshold: "nmot_ths",
	ParamMotionDuration:    "mot_dur",
	ParamNoMotionDuration:  "nmot_dur",
	ParamSuspendIRQ:        "irq_suspend",
	ParamResumeIRQ:         "irq_resume",
}

func (p Param) String() string {
	if s, ok := paramNames[p]; ok {
		return s
	}
	return "unknown"
}

// ParamByName resolves the wire/CLI spelling of a knob.
func ParamByName(name string) (Param, bool) {
	for p, s := range paramNames {
		if s == name {
			return p, true
		}
	}
	return 0, false
}

// Set stages (and with apply=true pushes) one knob. The value pointer must
// be non-nil; an unknown param reports ErrUnknownParam.
func (d *Device) Set(p Param, apply bool, v *int64) error {
	if v == nil {
		return ErrInvalidParam
	}
	switch p {
	case ParamSuspendODR:
		return d.SetODR_mHz(ProfileSuspend, apply, *v)
	case ParamResumeODR:
		return d.SetODR_mHz(ProfileResume, apply, *v)
	case ParamSuspendFSR:
		return d.SetFSR_mg(ProfileSuspend, apply, *v)
	case ParamResumeFSR:
		return d.SetFSR_mg(ProfileResume, apply, *v)
	case ParamMotionThreshold:
		return d.SetThreshold_mg(ProfileSuspend, apply, *v)
	case ParamNoMotionThreshold:
		return d.SetThreshold_mg(ProfileResume, apply, *v)
	case ParamMotionDuration:
		return d.SetDuration_ms(ProfileSuspend, apply, *v)
	case ParamNoMotionDuration:
		return d.SetDuration_ms(ProfileResume, apply, *v)
	case ParamSuspendIRQ:
		return d.SetIRQMode(ProfileSuspend, apply, IRQMode(*v))
	case ParamResumeIRQ:
		return d.SetIRQMode(ProfileResume, apply, IRQMode(*v))
	default:
		return ErrUnknownParam
	}
}

// Get returns the stored (already quantized) value of one knob.
func (d *Device) Get(p Param) (int64, error) {
	switch p {
	case ParamSuspendODR:
		return d.suspend.ODR, nil
	case ParamResumeODR:
		return d.resume.ODR, nil
	case ParamSuspendFSR:
		return d.suspend.FSR, nil
	case ParamResumeFSR:
		return d.resume.FSR, nil
	case ParamMotionThreshold:
		return d.suspend.Threshold, nil
	case ParamNoMotionThreshold:
		return d.resume.Threshold, nil
	case ParamMotionDuration:
		return d.suspend.Duration, nil
	case ParamNoMotionDuration:
		return d.resume.Duration, nil
	case ParamSuspendIRQ:
		return int64(d.suspend.IRQ), nil
	case ParamResumeIRQ:
		return int64(d.resume.IRQ), nil
	default:
		return 0, ErrUnknownParam
	}
}
