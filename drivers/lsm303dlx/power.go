package lsm303dlx

import "time"

// Resume replays the resume profile and wakes the sampling engine. Every
// step is checked and the first failure aborts the sequence. After the rate
// register is written the chip needs a short settle before it accepts the
// rest of the configuration.
func (d *Device) Resume() error {
	pf := &d.resume
	if err := d.writeReg(regCtrl1, pf.Ctrl); err != nil {
		return err
	}
	d.sleep(6 * time.Millisecond)

	if err := d.writeReg(regCtrl4, seqFSBits(pf.FSR)); err != nil {
		return err
	}
	if err := d.writeReg(regCtrl2, ctrl2HPCoeff); err != nil {
		return err
	}
	ctrl3, int1cfg, _ := irqSelect(pf.IRQ, pf.MotionCfg)
	if err := d.writeReg(regCtrl3, ctrl3); err != nil {
		return err
	}
	if err := d.writeReg(regInt1Ths, pf.RegThs); err != nil {
		return err
	}
	if err := d.writeReg(regInt1Dur, pf.RegDur); err != nil {
		return err
	}
	if err := d.writeReg(regInt1Cfg, int1cfg); err != nil {
		return err
	}
	// Dummy read rebases the HP filter reference on the new configuration.
	_, err := d.readReg(regHPFilterReset)
	return err
}

// Suspend replays the suspend profile. The whole sequence always runs and
// only the final step's status is reported, so a mid-sequence bus fault can
// be masked by later successes. Callers that need certainty should verify
// via Read or a register poll.
func (d *Device) Suspend() error {
	pf := &d.suspend
	_ = d.writeReg(regCtrl1, pf.Ctrl)
	_ = d.writeReg(regCtrl2, ctrl2HPCoeff)
	_ = d.writeReg(regCtrl4, seqFSBits(pf.FSR))
	_ = d.writeReg(regInt1Ths, pf.RegThs)
	_ = d.writeReg(regInt1Dur, pf.RegDur)
	ctrl3, int1cfg, _ := irqSelect(pf.IRQ, pf.MotionCfg)
	_ = d.writeReg(regCtrl3, ctrl3)
	_ = d.writeReg(regInt1Cfg, int1cfg)
	_, err := d.readReg(regHPFilterReset)
	return err
}
