package lsm303dlx

// ProfileID addresses one of the device's two configuration banks.
type ProfileID uint8

const (
	ProfileSuspend ProfileID = iota
	ProfileResume
)

func (p ProfileID) String() string {
	if p == ProfileResume {
		return "resume"
	}
	return "suspend"
}

// IRQMode selects what drives the INT1 pin.
type IRQMode uint8

const (
	IRQNone IRQMode = iota
	IRQMotion
	IRQDataReady
)

// Profile is one staged register image plus the physical values it was
// computed from. Setters with apply=false only mutate the profile; the
// sequencers replay the stored registers, they never recompute.
type Profile struct {
	ODR       int64 // output data rate, mHz, quantized
	FSR       int64 // full-scale range, mg
	Threshold int64 // motion threshold, mg, clamped to [0, FSR)
	Duration  int64 // event duration, ms, as requested
	Ctrl      uint8 // CTRL_REG1 image
	RegThs    uint8 // INT1_THS image
	RegDur    uint8 // INT1_DURATION image
	IRQ       IRQMode
	MotionCfg uint8 // INT1_CFG byte routed in motion mode
}

// Profile returns a copy of the addressed bank.
func (d *Device) Profile(id ProfileID) Profile {
	return *d.profile(id)
}

func (d *Device) profile(id ProfileID) *Profile {
	if id == ProfileResume {
		return &d.resume
	}
	return &d.suspend
}

// SetODR_mHz stages a new output data rate. The rate snaps down onto the
// chip grid and the axis-enable bits of the stored control byte survive.
// The duration ticks are recomputed against the new rate; with apply=true
// the duration register and then CTRL_REG1 are written, and the rate
// write's result is the one reported.
func (d *Device) SetODR_mHz(id ProfileID, apply bool, mHz int64) error {
	pf := d.profile(id)
	odr, bits := odrSelect(mHz)
	pf.ODR = odr
	pf.Ctrl = bits | (pf.Ctrl & ctrlAxesMask)
	_ = d.SetDuration_ms(id, apply, pf.Duration)
	if !apply {
		return nil
	}
	return d.writeReg(regCtrl1, pf.Ctrl)
}

// SetFSR_mg stages a new full-scale range. The stored threshold is
// re-encoded against the new range; with apply=true the threshold register
// and then CTRL_REG4 are written, and the range write's result is the one
// reported.
func (d *Device) SetFSR_mg(id ProfileID, apply bool, mg int64) error {
	pf := d.profile(id)
	fsr, bits := fsrSelect(mg)
	pf.FSR = fsr
	_ = d.SetThreshold_mg(id, apply, pf.Threshold)
	if !apply {
		return nil
	}
	return d.writeReg(regCtrl4, bits)
}

// SetThreshold_mg stages a motion threshold in mg.
func (d *Device) SetThreshold_mg(id ProfileID, apply bool, mg int64) error {
	pf := d.profile(id)
	pf.Threshold, pf.RegThs = thsEncode(mg, pf.FSR)
	if !apply {
		return nil
	}
	return d.writeReg(regInt1Ths, pf.RegThs)
}

// SetDuration_ms stages a motion event duration in ms. The stored value
// keeps the requested milliseconds; only the tick image saturates.
func (d *Device) SetDuration_ms(id ProfileID, apply bool, ms int64) error {
	pf := d.profile(id)
	pf.Duration = ms
	pf.RegDur = durEncode(ms, pf.ODR)
	if !apply {
		return nil
	}
	return d.writeReg(regInt1Dur, pf.RegDur)
}

// SetIRQMode stages the INT1 routing mode. With apply=true both CTRL_REG3
// and INT1_CFG are written; the second write's result is the one reported.
func (d *Device) SetIRQMode(id ProfileID, apply bool, mode IRQMode) error {
	pf := d.profile(id)
	ctrl3, int1cfg, ok := irqSelect(mode, pf.MotionCfg)
	if !ok {
		return ErrInvalidParam
	}
	pf.IRQ = mode
	if !apply {
		return nil
	}
	_ = d.writeReg(regCtrl3, ctrl3)
	return d.writeReg(regInt1Cfg, int1cfg)
}
